package genesis

import (
	"bytes"
	"fmt"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"

	"salechain/crypto"
)

// SaleAuthorityAlias may be used as a token account owner to mean the
// sale's derived authority.
const SaleAuthorityAlias = "sale-authority"

// GenesisSpec describes the state a fresh ledger starts from.
type GenesisSpec struct {
	GenesisTime   string             `yaml:"genesisTime"`
	Network       string             `yaml:"network"`
	Accounts      []AccountSpec      `yaml:"accounts"`
	Mints         []MintSpec         `yaml:"mints"`
	TokenAccounts []TokenAccountSpec `yaml:"tokenAccounts"`
	Sale          *SaleSpec          `yaml:"sale,omitempty"`

	genesisTimestamp time.Time
}

// AccountSpec funds a wallet with lamports.
type AccountSpec struct {
	Address  string `yaml:"address"`
	Lamports uint64 `yaml:"lamports"`

	addr crypto.Address
}

// MintSpec creates an initialized mint. Supply is the sum of the token
// accounts issued under it.
type MintSpec struct {
	Address   string `yaml:"address"`
	Decimals  uint8  `yaml:"decimals"`
	Authority string `yaml:"authority"`

	addr      crypto.Address
	authority crypto.Address
}

// TokenAccountSpec creates an initialized token account. Address defaults to
// the owner's associated account for the mint.
type TokenAccountSpec struct {
	Address string `yaml:"address,omitempty"`
	Owner   string `yaml:"owner"`
	Mint    string `yaml:"mint"`
	Amount  uint64 `yaml:"amount"`

	addr  crypto.Address
	mint  crypto.Address
	owner crypto.Address
	alias bool
}

// SaleSpec pre-creates the sale configuration record.
type SaleSpec struct {
	Owner           string `yaml:"owner"`
	PricePerUnit    uint64 `yaml:"pricePerUnit"`
	PayoutRecipient string `yaml:"payoutRecipient"`
	Paused          bool   `yaml:"paused"`

	owner     crypto.Address
	recipient crypto.Address
}

// LoadGenesisSpec reads and validates the YAML document at path.
func LoadGenesisSpec(path string) (*GenesisSpec, error) {
	if strings.TrimSpace(path) == "" {
		return nil, fmt.Errorf("genesis spec path must be provided")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read genesis spec %q: %w", path, err)
	}
	spec, err := ParseGenesisSpec(raw)
	if err != nil {
		return nil, fmt.Errorf("genesis spec %q: %w", path, err)
	}
	return spec, nil
}

// ParseGenesisSpec decodes and validates a YAML genesis document.
func ParseGenesisSpec(raw []byte) (*GenesisSpec, error) {
	var spec GenesisSpec
	dec := yaml.NewDecoder(bytes.NewReader(raw))
	dec.KnownFields(true)
	if err := dec.Decode(&spec); err != nil {
		return nil, fmt.Errorf("decode: %w", err)
	}
	if err := spec.validate(); err != nil {
		return nil, fmt.Errorf("invalid: %w", err)
	}
	return &spec, nil
}

// GenesisTimestamp returns the parsed genesisTime.
func (s *GenesisSpec) GenesisTimestamp() time.Time { return s.genesisTimestamp }

func (s *GenesisSpec) validate() error {
	parsedTime, err := parseGenesisTime(s.GenesisTime)
	if err != nil {
		return err
	}
	s.genesisTimestamp = parsedTime

	seen := make(map[crypto.Address]string)
	claim := func(addr crypto.Address, what string) error {
		if prev, ok := seen[addr]; ok {
			return fmt.Errorf("%s: address %s already used by %s", what, addr, prev)
		}
		seen[addr] = what
		return nil
	}

	for i := range s.Accounts {
		acc := &s.Accounts[i]
		addr, err := parseAddress(acc.Address)
		if err != nil {
			return fmt.Errorf("accounts[%d]: %w", i, err)
		}
		acc.addr = addr
		if err := claim(addr, fmt.Sprintf("accounts[%d]", i)); err != nil {
			return err
		}
	}

	mints := make(map[crypto.Address]struct{}, len(s.Mints))
	for i := range s.Mints {
		m := &s.Mints[i]
		addr, err := parseAddress(m.Address)
		if err != nil {
			return fmt.Errorf("mints[%d]: %w", i, err)
		}
		authority, err := parseAddress(m.Authority)
		if err != nil {
			return fmt.Errorf("mints[%d].authority: %w", i, err)
		}
		m.addr, m.authority = addr, authority
		if err := claim(addr, fmt.Sprintf("mints[%d]", i)); err != nil {
			return err
		}
		mints[addr] = struct{}{}
	}

	for i := range s.TokenAccounts {
		ta := &s.TokenAccounts[i]
		mint, err := parseAddress(ta.Mint)
		if err != nil {
			return fmt.Errorf("tokenAccounts[%d].mint: %w", i, err)
		}
		if _, ok := mints[mint]; !ok {
			return fmt.Errorf("tokenAccounts[%d]: mint %s is not declared", i, mint)
		}
		ta.mint = mint
		if strings.TrimSpace(ta.Owner) == SaleAuthorityAlias {
			ta.alias = true
		} else {
			owner, err := parseAddress(ta.Owner)
			if err != nil {
				return fmt.Errorf("tokenAccounts[%d].owner: %w", i, err)
			}
			ta.owner = owner
		}
		if strings.TrimSpace(ta.Address) != "" {
			addr, err := parseAddress(ta.Address)
			if err != nil {
				return fmt.Errorf("tokenAccounts[%d].address: %w", i, err)
			}
			ta.addr = addr
		}
	}

	if s.Sale != nil {
		owner, err := parseAddress(s.Sale.Owner)
		if err != nil {
			return fmt.Errorf("sale.owner: %w", err)
		}
		recipient, err := parseAddress(s.Sale.PayoutRecipient)
		if err != nil {
			return fmt.Errorf("sale.payoutRecipient: %w", err)
		}
		s.Sale.owner, s.Sale.recipient = owner, recipient
	}
	return nil
}

func parseAddress(raw string) (crypto.Address, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return crypto.Address{}, fmt.Errorf("address must be provided")
	}
	return crypto.DecodeAddress(trimmed)
}

func parseGenesisTime(value string) (time.Time, error) {
	if strings.TrimSpace(value) == "" {
		return time.Time{}, fmt.Errorf("genesisTime must be provided")
	}
	if ts, err := time.Parse(time.RFC3339Nano, value); err == nil {
		return ts, nil
	}
	if ts, err := time.Parse(time.RFC3339, value); err == nil {
		return ts, nil
	}
	return time.Time{}, fmt.Errorf("invalid genesisTime %q", value)
}
