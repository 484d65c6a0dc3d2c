package genesis

import (
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"salechain/core/runtime"
	"salechain/core/state"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/sale"
	"salechain/native/token"
)

// ErrAlreadyApplied is returned when the ledger already holds a genesis.
var ErrAlreadyApplied = errors.New("genesis: already applied")

var markerKey = []byte("genesis")

// Record is persisted once genesis has been written.
type Record struct {
	Network       string
	Time          uint64
	Accounts      uint64
	Mints         uint64
	TokenAccounts uint64
}

// Applied returns the stored genesis record, if any.
func Applied(st *state.Manager) (*Record, bool, error) {
	var rec Record
	ok, err := st.KVGet(markerKey, &rec)
	if err != nil || !ok {
		return nil, ok, err
	}
	return &rec, true, nil
}

// Apply writes the accounts described by spec into st. Token accounts owned
// by the sale-authority alias resolve against programID.
func Apply(spec *GenesisSpec, st *state.Manager, programID crypto.Address, rent runtime.Rent) (*Record, error) {
	if spec == nil {
		return nil, fmt.Errorf("genesis spec must not be nil")
	}
	if st == nil {
		return nil, fmt.Errorf("state must not be nil")
	}
	if _, ok, err := Applied(st); err != nil {
		return nil, err
	} else if ok {
		return nil, ErrAlreadyApplied
	}

	authority, err := sale.DeriveAuthority(programID)
	if err != nil {
		return nil, fmt.Errorf("derive sale authority: %w", err)
	}

	overlay := st.NewOverlay()
	defer overlay.Discard()
	written := make(map[crypto.Address]struct{})
	put := func(addr crypto.Address, acc *types.Account) error {
		if _, ok := written[addr]; ok {
			return fmt.Errorf("genesis: address %s written twice", addr)
		}
		written[addr] = struct{}{}
		overlay.SetAccount(addr, acc)
		return nil
	}

	for _, acc := range spec.Accounts {
		if err := put(acc.addr, &types.Account{Lamports: acc.Lamports}); err != nil {
			return nil, err
		}
	}

	supply := make(map[crypto.Address]*uint256.Int, len(spec.Mints))
	for _, m := range spec.Mints {
		supply[m.addr] = new(uint256.Int)
	}
	for i, ta := range spec.TokenAccounts {
		owner := ta.owner
		if ta.alias {
			owner = authority.Address
		}
		addr := ta.addr
		if addr.IsZero() {
			derived, err := token.AssociatedAddress(owner, ta.mint)
			if err != nil {
				return nil, fmt.Errorf("tokenAccounts[%d]: %w", i, err)
			}
			addr = derived
		}
		total := supply[ta.mint]
		if _, overflow := total.AddOverflow(total, uint256.NewInt(ta.Amount)); overflow || !total.IsUint64() {
			return nil, fmt.Errorf("tokenAccounts[%d]: mint %s supply overflows", i, ta.mint)
		}
		state := &token.Account{Mint: ta.mint, Owner: owner, Amount: ta.Amount, State: token.StateInitialized}
		if err := put(addr, &types.Account{
			Lamports: rent.MinimumBalance(token.AccountLen),
			Owner:    token.ProgramID,
			Data:     state.Encode(),
		}); err != nil {
			return nil, err
		}
	}

	for _, m := range spec.Mints {
		mint := &token.Mint{Authority: m.authority, Supply: supply[m.addr].Uint64(), Decimals: m.Decimals, Initialized: true}
		if err := put(m.addr, &types.Account{
			Lamports: rent.MinimumBalance(token.MintLen),
			Owner:    token.ProgramID,
			Data:     mint.Encode(),
		}); err != nil {
			return nil, err
		}
	}

	if s := spec.Sale; s != nil {
		derived, err := sale.DeriveConfig(programID)
		if err != nil {
			return nil, fmt.Errorf("derive sale config: %w", err)
		}
		cfg := &sale.Config{PricePerUnit: s.PricePerUnit, Owner: s.owner, PayoutRecipient: s.recipient, Paused: s.Paused}
		if err := put(derived.Address, &types.Account{
			Lamports: rent.MinimumBalance(sale.ConfigLen),
			Owner:    programID,
			Data:     cfg.Encode(),
		}); err != nil {
			return nil, err
		}
	}

	if err := overlay.Commit(); err != nil {
		return nil, fmt.Errorf("commit genesis: %w", err)
	}
	rec := &Record{
		Network:       spec.Network,
		Time:          uint64(spec.GenesisTimestamp().Unix()),
		Accounts:      uint64(len(spec.Accounts)),
		Mints:         uint64(len(spec.Mints)),
		TokenAccounts: uint64(len(spec.TokenAccounts)),
	}
	if err := st.KVPut(markerKey, rec); err != nil {
		return nil, fmt.Errorf("record genesis: %w", err)
	}
	return rec, nil
}
