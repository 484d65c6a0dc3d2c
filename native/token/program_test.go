package token

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"salechain/core/runtime"
	"salechain/core/state"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/system"
	"salechain/storage"
)

type harness struct {
	t      *testing.T
	st     *state.Manager
	rt     *runtime.Runtime
	nonce  uint64
	issuer *crypto.PrivateKey
	mint   crypto.Address
}

func newKey(t *testing.T) *crypto.PrivateKey {
	t.Helper()
	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	return key
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	rt := runtime.New(st)
	require.NoError(t, rt.Register(system.New(), New(), NewAssociated()))
	h := &harness{t: t, st: st, rt: rt, issuer: newKey(t)}
	h.fund(h.issuer.Address(), 1_000_000_000)
	h.mint = h.createMint(6)
	return h
}

func (h *harness) fund(addr crypto.Address, lamports uint64) {
	h.t.Helper()
	require.NoError(h.t, h.st.PutAccount(addr, &types.Account{Lamports: lamports}))
}

func (h *harness) submit(keys []*crypto.PrivateKey, ixs ...types.Instruction) (*runtime.Receipt, error) {
	h.t.Helper()
	h.nonce++
	tx := types.NewTransaction(types.NewMessage(h.nonce, ixs...))
	require.NoError(h.t, tx.Sign(keys...))
	return h.rt.Process(context.Background(), tx)
}

func (h *harness) createMint(decimals uint8) crypto.Address {
	h.t.Helper()
	mintKey := newKey(h.t)
	_, err := h.submit([]*crypto.PrivateKey{h.issuer, mintKey},
		system.CreateAccount(h.issuer.Address(), mintKey.Address(), h.rt.Rent().MinimumBalance(MintLen), MintLen, ProgramID),
		InitializeMint(mintKey.Address(), decimals, h.issuer.Address()),
	)
	require.NoError(h.t, err)
	return mintKey.Address()
}

func (h *harness) createAssociated(wallet, mint crypto.Address) crypto.Address {
	h.t.Helper()
	ix, err := CreateAssociated(h.issuer.Address(), wallet, mint)
	require.NoError(h.t, err)
	_, err = h.submit([]*crypto.PrivateKey{h.issuer}, ix)
	require.NoError(h.t, err)
	addr, err := AssociatedAddress(wallet, mint)
	require.NoError(h.t, err)
	return addr
}

func (h *harness) balance(addr crypto.Address) uint64 {
	h.t.Helper()
	acc, err := h.st.Account(addr)
	require.NoError(h.t, err)
	state, err := DecodeAccount(acc.Data)
	require.NoError(h.t, err)
	return state.Amount
}

func (h *harness) supply() uint64 {
	h.t.Helper()
	acc, err := h.st.Account(h.mint)
	require.NoError(h.t, err)
	mint, err := DecodeMint(acc.Data)
	require.NoError(h.t, err)
	return mint.Supply
}

func TestMintAndTransfer(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fund(alice.Address(), 1_000_000)
	bob := newKey(t).Address()

	aliceATA := h.createAssociated(alice.Address(), h.mint)
	bobATA := h.createAssociated(bob, h.mint)

	_, err := h.submit([]*crypto.PrivateKey{h.issuer}, MintTo(h.mint, aliceATA, h.issuer.Address(), 500))
	require.NoError(t, err)
	require.Equal(t, uint64(500), h.balance(aliceATA))
	require.Equal(t, uint64(500), h.supply())

	receipt, err := h.submit([]*crypto.PrivateKey{alice}, Transfer(aliceATA, bobATA, alice.Address(), 200))
	require.NoError(t, err)
	require.Equal(t, uint64(300), h.balance(aliceATA))
	require.Equal(t, uint64(200), h.balance(bobATA))
	require.Len(t, receipt.Events, 1)
	require.Equal(t, "transfer.token", receipt.Events[0].Type)
	require.Equal(t, "200", receipt.Events[0].Attributes["amount"])
}

func TestTransferRejections(t *testing.T) {
	h := newHarness(t)
	alice := newKey(t)
	h.fund(alice.Address(), 1_000_000)
	mallory := newKey(t)
	h.fund(mallory.Address(), 1_000_000)

	aliceATA := h.createAssociated(alice.Address(), h.mint)
	bobATA := h.createAssociated(newKey(t).Address(), h.mint)
	_, err := h.submit([]*crypto.PrivateKey{h.issuer}, MintTo(h.mint, aliceATA, h.issuer.Address(), 100))
	require.NoError(t, err)

	_, err = h.submit([]*crypto.PrivateKey{mallory}, Transfer(aliceATA, bobATA, mallory.Address(), 10))
	require.ErrorIs(t, err, ErrOwnerMismatch)

	_, err = h.submit([]*crypto.PrivateKey{alice}, Transfer(aliceATA, bobATA, alice.Address(), 101))
	require.ErrorIs(t, err, ErrInsufficientFunds)

	otherMint := h.createMint(0)
	otherATA := h.createAssociated(alice.Address(), otherMint)
	_, err = h.submit([]*crypto.PrivateKey{alice}, Transfer(aliceATA, otherATA, alice.Address(), 1))
	require.ErrorIs(t, err, ErrMintMismatch)

	_, err = h.submit([]*crypto.PrivateKey{mallory}, MintTo(h.mint, aliceATA, mallory.Address(), 1))
	require.ErrorIs(t, err, ErrOwnerMismatch)

	require.Equal(t, uint64(100), h.balance(aliceATA))
	require.Equal(t, uint64(0), h.balance(bobATA))
}

func TestMintOverflow(t *testing.T) {
	h := newHarness(t)
	ata := h.createAssociated(newKey(t).Address(), h.mint)
	_, err := h.submit([]*crypto.PrivateKey{h.issuer}, MintTo(h.mint, ata, h.issuer.Address(), ^uint64(0)))
	require.NoError(t, err)
	_, err = h.submit([]*crypto.PrivateKey{h.issuer}, MintTo(h.mint, ata, h.issuer.Address(), 1))
	require.ErrorIs(t, err, ErrOverflow)
}

func TestInitializeMintTwice(t *testing.T) {
	h := newHarness(t)
	_, err := h.submit([]*crypto.PrivateKey{h.issuer}, InitializeMint(h.mint, 2, h.issuer.Address()))
	require.ErrorIs(t, err, ErrAlreadyInitialized)
}

func TestInitializeAccountRequiresRentExemption(t *testing.T) {
	h := newHarness(t)
	accountKey := newKey(t)
	_, err := h.submit([]*crypto.PrivateKey{h.issuer, accountKey},
		system.CreateAccount(h.issuer.Address(), accountKey.Address(), 1, AccountLen, ProgramID),
		InitializeAccount(accountKey.Address(), h.mint, h.issuer.Address()),
	)
	require.ErrorIs(t, err, ErrNotRentExempt)

	acc, err := h.st.Account(accountKey.Address())
	require.NoError(t, err)
	require.True(t, acc.IsEmpty(), "failed transaction must not leave the allocation behind")
}

func TestAssociatedAccount(t *testing.T) {
	h := newHarness(t)
	wallet := newKey(t).Address()

	addr, bump, err := FindAssociatedAddress(wallet, h.mint)
	require.NoError(t, err)
	canonical, err := AssociatedAddress(wallet, h.mint)
	require.NoError(t, err)
	require.Equal(t, addr, canonical)
	require.False(t, crypto.IsOnCurve(addr))
	derived, err := crypto.CreateProgramAddress(AssociatedProgramID, append(associatedSeeds(wallet, h.mint), []byte{bump})...)
	require.NoError(t, err)
	require.Equal(t, addr, derived)

	ata := h.createAssociated(wallet, h.mint)
	acc, err := h.st.Account(ata)
	require.NoError(t, err)
	require.Equal(t, ProgramID, acc.Owner)
	require.Equal(t, h.rt.Rent().MinimumBalance(AccountLen), acc.Lamports)
	state, err := DecodeAccount(acc.Data)
	require.NoError(t, err)
	require.Equal(t, wallet, state.Owner)
	require.Equal(t, h.mint, state.Mint)
	require.True(t, state.Initialized())

	again, err := CreateAssociated(h.issuer.Address(), wallet, h.mint)
	require.NoError(t, err)
	_, err = h.submit([]*crypto.PrivateKey{h.issuer}, again)
	require.ErrorIs(t, err, system.ErrAccountInUse)

	wrong := CreateAssociatedAt(h.issuer.Address(), crypto.LabelAddress("not-derived"), wallet, h.mint)
	_, err = h.submit([]*crypto.PrivateKey{h.issuer}, wrong)
	require.ErrorIs(t, err, ErrInvalidAssociatedAddress)
}

func TestLayouts(t *testing.T) {
	mint := &Mint{Authority: crypto.LabelAddress("a"), Supply: 9, Decimals: 6, Initialized: true}
	data := mint.Encode()
	require.Len(t, data, MintLen)
	decoded, err := DecodeMint(data)
	require.NoError(t, err)
	require.Equal(t, mint, decoded)
	_, err = DecodeMint(data[:10])
	require.ErrorIs(t, err, ErrInvalidMintData)

	account := &Account{Mint: crypto.LabelAddress("m"), Owner: crypto.LabelAddress("o"), Amount: 77, State: StateInitialized}
	raw := account.Encode()
	require.Len(t, raw, AccountLen)
	back, err := DecodeAccount(raw)
	require.NoError(t, err)
	require.Equal(t, account, back)
	raw[72] = 9
	_, err = DecodeAccount(raw)
	require.ErrorIs(t, err, ErrInvalidAccountData)
}
