package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"salechain/crypto"
)

const (
	// MintLen is the serialized size of a Mint.
	MintLen = 32 + 8 + 1 + 1
	// AccountLen is the serialized size of a token Account.
	AccountLen = 32 + 32 + 8 + 1
)

// AccountState tracks the lifecycle of a token account.
type AccountState uint8

const (
	StateUninitialized AccountState = 0
	StateInitialized   AccountState = 1
)

var (
	ErrInvalidMintData    = errors.New("token: invalid mint data")
	ErrInvalidAccountData = errors.New("token: invalid token account data")
)

// Mint describes a fungible asset.
type Mint struct {
	Authority   crypto.Address `json:"authority"`
	Supply      uint64         `json:"supply"`
	Decimals    uint8          `json:"decimals"`
	Initialized bool           `json:"initialized"`
}

// Encode serializes the mint into its fixed layout.
func (m *Mint) Encode() []byte {
	out := make([]byte, MintLen)
	copy(out[0:32], m.Authority[:])
	binary.LittleEndian.PutUint64(out[32:40], m.Supply)
	out[40] = m.Decimals
	if m.Initialized {
		out[41] = 1
	}
	return out
}

// DecodeMint parses the fixed mint layout.
func DecodeMint(data []byte) (*Mint, error) {
	if len(data) != MintLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidMintData, len(data))
	}
	m := &Mint{
		Supply:      binary.LittleEndian.Uint64(data[32:40]),
		Decimals:    data[40],
		Initialized: data[41] == 1,
	}
	copy(m.Authority[:], data[0:32])
	if data[41] > 1 {
		return nil, fmt.Errorf("%w: initialized flag %d", ErrInvalidMintData, data[41])
	}
	return m, nil
}

// Account is a balance of one mint held for one owner.
type Account struct {
	Mint   crypto.Address `json:"mint"`
	Owner  crypto.Address `json:"owner"`
	Amount uint64         `json:"amount"`
	State  AccountState   `json:"state"`
}

// Initialized reports whether the account has been set up for a mint.
func (a *Account) Initialized() bool {
	return a != nil && a.State == StateInitialized
}

// Encode serializes the account into its fixed layout.
func (a *Account) Encode() []byte {
	out := make([]byte, AccountLen)
	copy(out[0:32], a.Mint[:])
	copy(out[32:64], a.Owner[:])
	binary.LittleEndian.PutUint64(out[64:72], a.Amount)
	out[72] = byte(a.State)
	return out
}

// DecodeAccount parses the fixed token account layout.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) != AccountLen {
		return nil, fmt.Errorf("%w: length %d", ErrInvalidAccountData, len(data))
	}
	if data[72] > byte(StateInitialized) {
		return nil, fmt.Errorf("%w: state %d", ErrInvalidAccountData, data[72])
	}
	a := &Account{
		Amount: binary.LittleEndian.Uint64(data[64:72]),
		State:  AccountState(data[72]),
	}
	copy(a.Mint[:], data[0:32])
	copy(a.Owner[:], data[32:64])
	return a, nil
}
