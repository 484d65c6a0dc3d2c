package indexer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/metric/noop"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"salechain/core/events"
	"salechain/native/sale"
)

const (
	// DefaultListLimit applies when a listing does not ask for a size.
	DefaultListLimit = 50
	// MaxListLimit caps a single listing.
	MaxListLimit = 500
)

// ErrDSNRequired is returned when no database location was configured.
var ErrDSNRequired = errors.New("indexer: dsn must be configured")

// Totals aggregates every indexed purchase.
type Totals struct {
	Purchases int64  `json:"purchases"`
	Units     string `json:"units"`
	Payment   string `json:"payment"`
}

// Store persists purchases and implements events.Emitter so it can sit
// directly on the node's committed event stream.
type Store struct {
	db      *gorm.DB
	logger  *slog.Logger
	now     func() time.Time
	counter metric.Int64Counter
}

// Open connects to dsn and migrates the schema. postgres:// and
// postgresql:// URLs select PostgreSQL; anything else is a sqlite path.
func Open(dsn string, logger *slog.Logger) (*Store, error) {
	trimmed := strings.TrimSpace(dsn)
	if trimmed == "" {
		return nil, ErrDSNRequired
	}
	db, err := gorm.Open(dialectorFor(trimmed), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	return New(db, logger)
}

func dialectorFor(dsn string) gorm.Dialector {
	lower := strings.ToLower(dsn)
	if strings.HasPrefix(lower, "postgres://") || strings.HasPrefix(lower, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

// New wraps an existing gorm handle.
func New(db *gorm.DB, logger *slog.Logger) (*Store, error) {
	if db == nil {
		return nil, fmt.Errorf("indexer: database must not be nil")
	}
	if err := AutoMigrate(db); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	meter := otel.GetMeterProvider().Meter("salechain/indexer")
	counter, err := meter.Int64Counter("salechain.indexer.purchases")
	if err != nil {
		counter, _ = noop.NewMeterProvider().Meter("salechain/indexer").Int64Counter("salechain.indexer.purchases")
	}
	return &Store{db: db, logger: logger, now: time.Now, counter: counter}, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// Emit implements events.Emitter. Only committed purchase envelopes are
// indexed; anything else is ignored.
func (s *Store) Emit(evt events.Event) {
	env, ok := evt.(events.Envelope)
	if !ok || env.EventType() != sale.EventTypePurchase {
		return
	}
	flat := env.Event()
	purchase, err := purchaseFromAttributes(flat.Attributes)
	if err != nil {
		s.logger.Warn("indexer: malformed purchase event", "txHash", flat.Attributes["txHash"], "error", err)
		return
	}
	purchase.EventIndex = env.Index
	if err := s.Record(context.Background(), purchase); err != nil {
		s.logger.Error("indexer: record purchase", "txHash", purchase.TxHash, "error", err)
	}
}

// Record stores p. Re-recording the same transaction event is a no-op.
func (s *Store) Record(ctx context.Context, p *Purchase) error {
	if p == nil {
		return fmt.Errorf("purchase must not be nil")
	}
	if p.CreatedAt.IsZero() {
		p.CreatedAt = s.now().UTC()
	}
	res := s.db.WithContext(ctx).Clauses(clause.OnConflict{DoNothing: true}).Create(p)
	if res.Error != nil {
		return fmt.Errorf("insert purchase: %w", res.Error)
	}
	if res.RowsAffected > 0 {
		s.counter.Add(ctx, 1, metric.WithAttributes(attribute.String("mint", p.Mint)))
	}
	return nil
}

// ListPurchases returns the newest purchases first, optionally restricted to
// one buyer.
func (s *Store) ListPurchases(ctx context.Context, buyer string, limit int) ([]Purchase, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}
	if limit > MaxListLimit {
		limit = MaxListLimit
	}
	query := s.db.WithContext(ctx).Model(&Purchase{})
	if trimmed := strings.TrimSpace(buyer); trimmed != "" {
		query = query.Where("buyer = ?", trimmed)
	}
	var out []Purchase
	if err := query.Order("created_at DESC").Order("event_index DESC").Limit(limit).Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list purchases: %w", err)
	}
	return out, nil
}

// Totals sums units and payments over every indexed purchase.
func (s *Store) Totals(ctx context.Context) (*Totals, error) {
	var rows []Purchase
	if err := s.db.WithContext(ctx).Select("units", "payment").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("load purchases: %w", err)
	}
	units, payment := decimal.Zero, decimal.Zero
	for _, row := range rows {
		u, err := decimal.NewFromString(row.Units)
		if err != nil {
			return nil, fmt.Errorf("purchase units %q: %w", row.Units, err)
		}
		p, err := decimal.NewFromString(row.Payment)
		if err != nil {
			return nil, fmt.Errorf("purchase payment %q: %w", row.Payment, err)
		}
		units = units.Add(u)
		payment = payment.Add(p)
	}
	return &Totals{Purchases: int64(len(rows)), Units: units.String(), Payment: payment.String()}, nil
}

func purchaseFromAttributes(attrs map[string]string) (*Purchase, error) {
	txHash := strings.TrimSpace(attrs["txHash"])
	if txHash == "" {
		return nil, fmt.Errorf("missing txHash")
	}
	p := &Purchase{
		TxHash:           txHash,
		Buyer:            attrs["buyer"],
		ReceivingAccount: attrs["receivingAccount"],
		Mint:             attrs["mint"],
		PayoutRecipient:  attrs["payoutRecipient"],
	}
	for _, field := range []struct {
		name string
		dst  *string
	}{
		{"units", &p.Units},
		{"pricePerUnit", &p.PricePerUnit},
		{"payment", &p.Payment},
	} {
		raw := attrs[field.name]
		if _, err := strconv.ParseUint(raw, 10, 64); err != nil {
			return nil, fmt.Errorf("%s: %w", field.name, err)
		}
		*field.dst = raw
	}
	if raw, ok := attrs["provisioned"]; ok {
		provisioned, err := strconv.ParseBool(raw)
		if err != nil {
			return nil, fmt.Errorf("provisioned: %w", err)
		}
		p.Provisioned = provisioned
	}
	return p, nil
}
