package sale

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"salechain/crypto"
)

// ModuleName identifies the sale for pause checks.
const ModuleName = "sale"

// ConfigLen is the serialized size of a Config account.
const ConfigLen = 8 + 8 + crypto.AddressLength + crypto.AddressLength + 1

var configDiscriminator = ethcrypto.Keccak256([]byte("account:SaleConfig"))[:8]

// Config is the single mutable record describing a sale.
type Config struct {
	PricePerUnit    uint64         `json:"pricePerUnit"`
	Owner           crypto.Address `json:"owner"`
	PayoutRecipient crypto.Address `json:"payoutRecipient"`
	Paused          bool           `json:"paused"`
}

// IsPaused implements common.PauseView.
func (c *Config) IsPaused(module string) bool {
	return c != nil && module == ModuleName && c.Paused
}

// Encode serializes the config into its fixed account layout.
func (c *Config) Encode() []byte {
	out := make([]byte, ConfigLen)
	copy(out[0:8], configDiscriminator)
	binary.LittleEndian.PutUint64(out[8:16], c.PricePerUnit)
	copy(out[16:48], c.Owner[:])
	copy(out[48:80], c.PayoutRecipient[:])
	if c.Paused {
		out[80] = 1
	}
	return out
}

// DecodeConfig parses a config account's data.
func DecodeConfig(data []byte) (*Config, error) {
	if len(data) != ConfigLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidConfigData, len(data))
	}
	if !bytes.Equal(data[0:8], configDiscriminator) {
		return nil, fmt.Errorf("%w: discriminator mismatch", ErrInvalidConfigData)
	}
	if data[80] > 1 {
		return nil, fmt.Errorf("%w: paused flag %d", ErrInvalidConfigData, data[80])
	}
	cfg := &Config{
		PricePerUnit: binary.LittleEndian.Uint64(data[8:16]),
		Paused:       data[80] == 1,
	}
	copy(cfg.Owner[:], data[16:48])
	copy(cfg.PayoutRecipient[:], data[48:80])
	return cfg, nil
}

// Purchase describes a settled buy.
type Purchase struct {
	Buyer            crypto.Address `json:"buyer"`
	ReceivingAccount crypto.Address `json:"receivingAccount"`
	Custody          crypto.Address `json:"custody"`
	Mint             crypto.Address `json:"mint"`
	PayoutRecipient  crypto.Address `json:"payoutRecipient"`
	Units            uint64         `json:"units"`
	PricePerUnit     uint64         `json:"pricePerUnit"`
	Payment          uint64         `json:"payment"`
	Provisioned      bool           `json:"provisioned"`
}
