package indexer

import (
	"context"
	"encoding/hex"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/xitongsys/parquet-go-source/writerfile"
	"github.com/xitongsys/parquet-go/parquet"
	"github.com/xitongsys/parquet-go/writer"
	"lukechampine.com/blake3"
)

// DigestSuffix names the checksum file written next to every export.
const DigestSuffix = ".blake3"

type parquetPurchase struct {
	ID               string `parquet:"name=id, type=BYTE_ARRAY, convertedtype=UTF8"`
	TxHash           string `parquet:"name=tx_hash, type=BYTE_ARRAY, convertedtype=UTF8"`
	EventIndex       int32  `parquet:"name=event_index, type=INT32"`
	Buyer            string `parquet:"name=buyer, type=BYTE_ARRAY, convertedtype=UTF8"`
	ReceivingAccount string `parquet:"name=receiving_account, type=BYTE_ARRAY, convertedtype=UTF8"`
	Mint             string `parquet:"name=mint, type=BYTE_ARRAY, convertedtype=UTF8"`
	PayoutRecipient  string `parquet:"name=payout_recipient, type=BYTE_ARRAY, convertedtype=UTF8"`
	Units            string `parquet:"name=units, type=BYTE_ARRAY, convertedtype=UTF8"`
	PricePerUnit     string `parquet:"name=price_per_unit, type=BYTE_ARRAY, convertedtype=UTF8"`
	Payment          string `parquet:"name=payment, type=BYTE_ARRAY, convertedtype=UTF8"`
	Provisioned      bool   `parquet:"name=provisioned, type=BOOLEAN"`
	CreatedAt        string `parquet:"name=created_at, type=BYTE_ARRAY, convertedtype=UTF8"`
}

// ExportResult describes a finished export.
type ExportResult struct {
	Path   string `json:"path"`
	Rows   int    `json:"rows"`
	Digest string `json:"digest"`
}

// ExportParquet writes purchases, oldest first, to a snappy-compressed
// parquet file at path and a BLAKE3 checksum beside it. buyer optionally
// restricts the export.
func (s *Store) ExportParquet(ctx context.Context, path, buyer string) (*ExportResult, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("export path must be provided")
	}
	query := s.db.WithContext(ctx).Model(&Purchase{})
	if trimmed := strings.TrimSpace(buyer); trimmed != "" {
		query = query.Where("buyer = ?", trimmed)
	}
	rows, err := query.Order("created_at ASC").Order("event_index ASC").Rows()
	if err != nil {
		return nil, fmt.Errorf("query purchases: %w", err)
	}
	defer rows.Close()

	file, err := os.Create(path)
	if err != nil {
		return nil, fmt.Errorf("create parquet: %w", err)
	}
	fw := writerfile.NewWriterFile(file)
	pw, err := writer.NewParquetWriter(fw, new(parquetPurchase), 1)
	if err != nil {
		file.Close()
		return nil, fmt.Errorf("parquet schema: %w", err)
	}
	pw.CompressionType = parquet.CompressionCodec_SNAPPY

	count := 0
	for rows.Next() {
		var p Purchase
		if err := s.db.ScanRows(rows, &p); err != nil {
			pw.WriteStop()
			file.Close()
			return nil, fmt.Errorf("scan purchase: %w", err)
		}
		if err := pw.Write(toParquet(&p)); err != nil {
			pw.WriteStop()
			file.Close()
			return nil, fmt.Errorf("parquet write: %w", err)
		}
		count++
	}
	if err := rows.Err(); err != nil {
		pw.WriteStop()
		file.Close()
		return nil, fmt.Errorf("iterate purchases: %w", err)
	}
	if err := pw.WriteStop(); err != nil {
		file.Close()
		return nil, fmt.Errorf("parquet flush: %w", err)
	}
	if err := file.Close(); err != nil {
		return nil, fmt.Errorf("close parquet file: %w", err)
	}

	digest, err := fileDigest(path)
	if err != nil {
		return nil, err
	}
	line := fmt.Sprintf("%s  %s\n", digest, filepath.Base(path))
	if err := os.WriteFile(path+DigestSuffix, []byte(line), 0o644); err != nil {
		return nil, fmt.Errorf("write digest: %w", err)
	}
	s.logger.Info("indexer: exported purchases", "path", path, "rows", count, "blake3", digest)
	return &ExportResult{Path: path, Rows: count, Digest: digest}, nil
}

func toParquet(p *Purchase) *parquetPurchase {
	return &parquetPurchase{
		ID:               p.ID.String(),
		TxHash:           p.TxHash,
		EventIndex:       int32(p.EventIndex),
		Buyer:            p.Buyer,
		ReceivingAccount: p.ReceivingAccount,
		Mint:             p.Mint,
		PayoutRecipient:  p.PayoutRecipient,
		Units:            p.Units,
		PricePerUnit:     p.PricePerUnit,
		Payment:          p.Payment,
		Provisioned:      p.Provisioned,
		CreatedAt:        p.CreatedAt.UTC().Format(time.RFC3339Nano),
	}
}

// fileDigest returns the hex BLAKE3-256 digest of the file at path.
func fileDigest(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("open %s: %w", path, err)
	}
	defer f.Close()
	h := blake3.New(32, nil)
	if _, err := io.Copy(h, f); err != nil {
		return "", fmt.Errorf("hash %s: %w", path, err)
	}
	return hex.EncodeToString(h.Sum(nil)), nil
}
