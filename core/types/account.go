package types

import (
	"salechain/crypto"
)

// Account is the unit of state. Lamports are the native settlement balance;
// Data is opaque to everyone except the Owner program, which alone may
// rewrite it.
type Account struct {
	Lamports   uint64         `json:"lamports"`
	Owner      crypto.Address `json:"owner"`
	Executable bool           `json:"executable"`
	Data       []byte         `json:"data"`
}

// NewEmptyAccount returns the value read for an address with nothing stored:
// zero lamports, no data, owned by the system program.
func NewEmptyAccount() *Account {
	return &Account{Owner: crypto.ZeroAddress, Data: []byte{}}
}

// Clone returns a deep copy so callers can mutate without aliasing state.
func (a *Account) Clone() *Account {
	if a == nil {
		return NewEmptyAccount()
	}
	return &Account{
		Lamports:   a.Lamports,
		Owner:      a.Owner,
		Executable: a.Executable,
		Data:       append([]byte{}, a.Data...),
	}
}

// IsEmpty reports whether the account carries nothing worth persisting.
func (a *Account) IsEmpty() bool {
	return a == nil || (a.Lamports == 0 && len(a.Data) == 0 && a.Owner.IsZero() && !a.Executable)
}

// Equal compares two accounts field by field.
func (a *Account) Equal(other *Account) bool {
	if a == nil || other == nil {
		return a.IsEmpty() && other.IsEmpty()
	}
	if a.Lamports != other.Lamports || a.Owner != other.Owner || a.Executable != other.Executable {
		return false
	}
	if len(a.Data) != len(other.Data) {
		return false
	}
	for i := range a.Data {
		if a.Data[i] != other.Data[i] {
			return false
		}
	}
	return true
}
