package state

import (
	"bytes"
	"sort"

	"github.com/ethereum/go-ethereum/rlp"

	"salechain/core/types"
	"salechain/crypto"
)

type journalEntry struct {
	addr    crypto.Address
	prev    *types.Account
	touched bool
}

// Overlay buffers account writes on top of a Manager. Every write is
// journaled so nested calls can roll back to a snapshot; nothing reaches the
// database until Commit, which flushes everything in one batch.
//
// Overlay is not safe for concurrent use.
type Overlay struct {
	base    *Manager
	dirty   map[crypto.Address]*types.Account
	journal []journalEntry
	txs     [][32]byte
}

func newOverlay(base *Manager) *Overlay {
	return &Overlay{
		base:  base,
		dirty: make(map[crypto.Address]*types.Account),
	}
}

// Account returns a copy of the current view of addr.
func (o *Overlay) Account(addr crypto.Address) (*types.Account, error) {
	if acc, ok := o.dirty[addr]; ok {
		return acc.Clone(), nil
	}
	return o.base.Account(addr)
}

// SetAccount records a new value for addr.
func (o *Overlay) SetAccount(addr crypto.Address, acc *types.Account) {
	prev, touched := o.dirty[addr]
	o.journal = append(o.journal, journalEntry{addr: addr, prev: prev, touched: touched})
	o.dirty[addr] = acc.Clone()
}

// Snapshot returns an identifier for the current journal position.
func (o *Overlay) Snapshot() int {
	return len(o.journal)
}

// RevertToSnapshot undoes every write made after the snapshot was taken.
func (o *Overlay) RevertToSnapshot(id int) {
	if id < 0 {
		id = 0
	}
	for i := len(o.journal) - 1; i >= id; i-- {
		entry := o.journal[i]
		if entry.touched {
			o.dirty[entry.addr] = entry.prev
		} else {
			delete(o.dirty, entry.addr)
		}
	}
	if id < len(o.journal) {
		o.journal = o.journal[:id]
	}
}

// MarkTransaction records a transaction hash to be persisted with the commit.
func (o *Overlay) MarkTransaction(hash [32]byte) {
	o.txs = append(o.txs, hash)
}

// HasTransaction checks both pending and committed transaction markers.
func (o *Overlay) HasTransaction(hash [32]byte) (bool, error) {
	for _, pending := range o.txs {
		if pending == hash {
			return true, nil
		}
	}
	return o.base.HasTransaction(hash)
}

// Dirty lists the addresses written so far in ascending byte order.
func (o *Overlay) Dirty() []crypto.Address {
	out := make([]crypto.Address, 0, len(o.dirty))
	for addr := range o.dirty {
		out = append(out, addr)
	}
	sort.Slice(out, func(i, j int) bool { return bytes.Compare(out[i][:], out[j][:]) < 0 })
	return out
}

// Commit flushes all buffered writes as a single storage batch and resets
// the overlay.
func (o *Overlay) Commit() error {
	batch := o.base.db.NewBatch()
	for _, addr := range o.Dirty() {
		acc := o.dirty[addr]
		if acc.IsEmpty() {
			batch.Delete(accountKey(addr))
			continue
		}
		encoded, err := rlp.EncodeToBytes(acc)
		if err != nil {
			return err
		}
		batch.Put(accountKey(addr), encoded)
	}
	for _, hash := range o.txs {
		batch.Put(txKey(hash), []byte{1})
	}
	if err := batch.Write(); err != nil {
		return err
	}
	o.Discard()
	return nil
}

// Discard drops all buffered writes.
func (o *Overlay) Discard() {
	o.dirty = make(map[crypto.Address]*types.Account)
	o.journal = nil
	o.txs = nil
}
