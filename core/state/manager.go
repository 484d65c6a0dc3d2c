package state

import (
	"errors"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"
	"github.com/ethereum/go-ethereum/rlp"

	"salechain/core/types"
	"salechain/crypto"
	"salechain/storage"
)

// Manager reads and writes committed state. All mutation during transaction
// execution goes through an Overlay; the Manager itself is only written by
// Overlay.Commit and by genesis.
type Manager struct {
	db storage.Database
}

// NewManager creates a state manager operating on the provided database.
func NewManager(db storage.Database) *Manager {
	return &Manager{db: db}
}

var (
	accountPrefix = []byte("account:")
	txPrefix      = []byte("tx:")
	kvPrefix      = []byte("kv:")
)

func prefixedKey(prefix, body []byte) []byte {
	buf := make([]byte, len(prefix)+len(body))
	copy(buf, prefix)
	copy(buf[len(prefix):], body)
	return ethcrypto.Keccak256(buf)
}

func accountKey(addr crypto.Address) []byte { return prefixedKey(accountPrefix, addr[:]) }

func txKey(hash [32]byte) []byte { return prefixedKey(txPrefix, hash[:]) }

func kvKey(key []byte) []byte { return prefixedKey(kvPrefix, key) }

// Account returns the committed account at addr. Addresses with nothing
// stored read as an empty system-owned account.
func (m *Manager) Account(addr crypto.Address) (*types.Account, error) {
	data, err := m.db.Get(accountKey(addr))
	if errors.Is(err, storage.ErrNotFound) {
		return types.NewEmptyAccount(), nil
	}
	if err != nil {
		return nil, err
	}
	return decodeAccount(data)
}

// PutAccount writes an account directly. Empty accounts are deleted.
func (m *Manager) PutAccount(addr crypto.Address, acc *types.Account) error {
	if acc.IsEmpty() {
		return m.db.Delete(accountKey(addr))
	}
	encoded, err := rlp.EncodeToBytes(acc)
	if err != nil {
		return err
	}
	return m.db.Put(accountKey(addr), encoded)
}

// HasTransaction reports whether a transaction hash has already been committed.
func (m *Manager) HasTransaction(hash [32]byte) (bool, error) {
	return m.db.Has(txKey(hash))
}

// KVPut stores an RLP-encoded value under an arbitrary key.
func (m *Manager) KVPut(key []byte, value interface{}) error {
	if len(key) == 0 {
		return fmt.Errorf("kv: key must not be empty")
	}
	encoded, err := rlp.EncodeToBytes(value)
	if err != nil {
		return err
	}
	return m.db.Put(kvKey(key), encoded)
}

// KVGet retrieves the value stored under the supplied key and decodes it into
// the provided destination. The boolean return value indicates whether the key
// existed in state.
func (m *Manager) KVGet(key []byte, out interface{}) (bool, error) {
	if len(key) == 0 {
		return false, fmt.Errorf("kv: key must not be empty")
	}
	data, err := m.db.Get(kvKey(key))
	if errors.Is(err, storage.ErrNotFound) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	if out == nil {
		return true, nil
	}
	if err := rlp.DecodeBytes(data, out); err != nil {
		return false, err
	}
	return true, nil
}

// NewOverlay opens a write buffer over the committed state.
func (m *Manager) NewOverlay() *Overlay {
	return newOverlay(m)
}

func decodeAccount(data []byte) (*types.Account, error) {
	acc := new(types.Account)
	if err := rlp.DecodeBytes(data, acc); err != nil {
		return nil, fmt.Errorf("decode account: %w", err)
	}
	if acc.Data == nil {
		acc.Data = []byte{}
	}
	return acc, nil
}
