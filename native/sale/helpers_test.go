package sale

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"salechain/core/runtime"
	"salechain/core/state"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/system"
	"salechain/native/token"
	"salechain/storage"
)

const (
	startingLamports = uint64(1_000_000_000_000)
	custodySupply    = uint64(1_000_000_000_000_000)
	defaultPrice     = UnitScale
)

type fixture struct {
	t         *testing.T
	st        *state.Manager
	rt        *runtime.Runtime
	programID crypto.Address
	nonce     uint64

	owner     *crypto.PrivateKey
	buyer     *crypto.PrivateKey
	issuer    *crypto.PrivateKey
	recipient crypto.Address

	mint      crypto.Address
	authority Derived
	custody   crypto.Address
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := newUninitializedFixture(t)
	f.initialize(defaultPrice)
	return f
}

// newUninitializedFixture sets up the mint and custody without creating the
// sale config.
func newUninitializedFixture(t *testing.T) *fixture {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	rt := runtime.New(st)
	require.NoError(t, rt.Register(system.New(), token.New(), token.NewAssociated(), NewProgram(DefaultProgramID)))

	f := &fixture{
		t:         t,
		st:        st,
		rt:        rt,
		programID: DefaultProgramID,
		owner:     newKey(t),
		buyer:     newKey(t),
		issuer:    newKey(t),
		recipient: newKey(t).Address(),
	}
	for _, key := range []*crypto.PrivateKey{f.owner, f.buyer, f.issuer} {
		f.fund(key.Address(), startingLamports)
	}

	authority, err := DeriveAuthority(f.programID)
	require.NoError(t, err)
	f.authority = authority
	f.mint = f.createMint()
	f.custody = f.associated(authority.Address)
	f.mustSubmit([]*crypto.PrivateKey{f.issuer},
		f.createAssociated(authority.Address),
		token.MintTo(f.mint, f.custody, f.issuer.Address(), custodySupply),
	)
	return f
}

// associated returns wallet's canonical token account for the fixture mint.
func (f *fixture) associated(wallet crypto.Address) crypto.Address {
	f.t.Helper()
	addr, err := token.AssociatedAddress(wallet, f.mint)
	require.NoError(f.t, err)
	return addr
}

func (f *fixture) createAssociated(wallet crypto.Address) types.Instruction {
	f.t.Helper()
	ix, err := token.CreateAssociated(f.issuer.Address(), wallet, f.mint)
	require.NoError(f.t, err)
	return ix
}

func (f *fixture) fund(addr crypto.Address, lamports uint64) {
	f.t.Helper()
	require.NoError(f.t, f.st.PutAccount(addr, &types.Account{Lamports: lamports}))
}

func (f *fixture) createMint() crypto.Address {
	f.t.Helper()
	mintKey := newKey(f.t)
	mint := mintKey.Address()
	f.mustSubmit([]*crypto.PrivateKey{f.issuer, mintKey},
		system.CreateAccount(f.issuer.Address(), mint, f.rt.Rent().MinimumBalance(token.MintLen), token.MintLen, token.ProgramID),
		token.InitializeMint(mint, 9, f.issuer.Address()),
	)
	return mint
}

func (f *fixture) initialize(price uint64) {
	f.t.Helper()
	ix, err := NewInitializeConfig(f.programID, f.owner.Address(), price, f.recipient)
	require.NoError(f.t, err)
	f.mustSubmit([]*crypto.PrivateKey{f.owner}, ix)
}

func (f *fixture) submit(signers []*crypto.PrivateKey, ixs ...types.Instruction) (*runtime.Receipt, error) {
	f.t.Helper()
	f.nonce++
	tx := types.NewTransaction(types.NewMessage(f.nonce, ixs...))
	require.NoError(f.t, tx.Sign(signers...))
	return f.rt.Process(context.Background(), tx)
}

func (f *fixture) mustSubmit(signers []*crypto.PrivateKey, ixs ...types.Instruction) *runtime.Receipt {
	f.t.Helper()
	receipt, err := f.submit(signers, ixs...)
	require.NoError(f.t, err)
	require.True(f.t, receipt.Success)
	return receipt
}

func (f *fixture) buyInstruction(p BuyParams) types.Instruction {
	f.t.Helper()
	if p.Buyer.IsZero() {
		p.Buyer = f.buyer.Address()
	}
	if p.Custody.IsZero() {
		p.Custody = f.custody
	}
	if p.Mint.IsZero() {
		p.Mint = f.mint
	}
	if p.PayoutRecipient.IsZero() {
		p.PayoutRecipient = f.recipient
	}
	ix, err := NewBuy(f.programID, p)
	require.NoError(f.t, err)
	return ix
}

func (f *fixture) buy(units uint64) (*runtime.Receipt, error) {
	return f.submit([]*crypto.PrivateKey{f.buyer}, f.buyInstruction(BuyParams{Units: units}))
}

func (f *fixture) account(addr crypto.Address) *types.Account {
	f.t.Helper()
	acc, err := f.st.Account(addr)
	require.NoError(f.t, err)
	return acc
}

func (f *fixture) lamports(addr crypto.Address) uint64 {
	return f.account(addr).Lamports
}

func (f *fixture) tokenBalance(addr crypto.Address) uint64 {
	f.t.Helper()
	acc := f.account(addr)
	if acc.Owner != token.ProgramID {
		return 0
	}
	state, err := token.DecodeAccount(acc.Data)
	require.NoError(f.t, err)
	return state.Amount
}

func (f *fixture) config() *Config {
	f.t.Helper()
	cfg, err := LoadConfig(f.st, f.programID)
	require.NoError(f.t, err)
	return cfg
}

// snapshot captures the accounts a buy can touch so tests can assert that a
// rejected buy left them unchanged.
func (f *fixture) snapshot(extra ...crypto.Address) map[crypto.Address]*types.Account {
	f.t.Helper()
	cfg, err := DeriveConfig(f.programID)
	require.NoError(f.t, err)
	addrs := append([]crypto.Address{
		f.buyer.Address(),
		f.recipient,
		f.custody,
		cfg.Address,
		f.associated(f.buyer.Address()),
	}, extra...)
	out := make(map[crypto.Address]*types.Account, len(addrs))
	for _, addr := range addrs {
		out[addr] = f.account(addr)
	}
	return out
}

func (f *fixture) requireUnchanged(before map[crypto.Address]*types.Account) {
	f.t.Helper()
	for addr, acc := range before {
		require.True(f.t, acc.Equal(f.account(addr)), "account %s changed", addr)
	}
}
