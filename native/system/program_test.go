package system

import (
	"context"
	"errors"
	"testing"

	"salechain/core/runtime"
	"salechain/core/state"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/storage"
)

type harness struct {
	t     *testing.T
	st    *state.Manager
	rt    *runtime.Runtime
	nonce uint64
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	st := state.NewManager(storage.NewMemDB())
	rt := runtime.New(st)
	if err := rt.Register(New()); err != nil {
		t.Fatalf("register: %v", err)
	}
	return &harness{t: t, st: st, rt: rt}
}

func (h *harness) key(lamports uint64) *crypto.PrivateKey {
	h.t.Helper()
	key, err := crypto.GeneratePrivateKey()
	if err != nil {
		h.t.Fatalf("generate key: %v", err)
	}
	if lamports > 0 {
		if err := h.st.PutAccount(key.Address(), &types.Account{Lamports: lamports}); err != nil {
			h.t.Fatalf("fund: %v", err)
		}
	}
	return key
}

func (h *harness) submit(keys []*crypto.PrivateKey, ixs ...types.Instruction) (*runtime.Receipt, error) {
	h.t.Helper()
	h.nonce++
	tx := types.NewTransaction(types.NewMessage(h.nonce, ixs...))
	if err := tx.Sign(keys...); err != nil {
		h.t.Fatalf("sign: %v", err)
	}
	return h.rt.Process(context.Background(), tx)
}

func (h *harness) account(addr crypto.Address) *types.Account {
	h.t.Helper()
	acc, err := h.st.Account(addr)
	if err != nil {
		h.t.Fatalf("account: %v", err)
	}
	return acc
}

func TestCreateAccount(t *testing.T) {
	h := newHarness(t)
	payer := h.key(10_000_000)
	target := h.key(0)
	owner := crypto.LabelAddress("some/program")

	receipt, err := h.submit([]*crypto.PrivateKey{payer, target}, CreateAccount(payer.Address(), target.Address(), 2_000_000, 16, owner))
	if err != nil {
		t.Fatalf("create account: %v", err)
	}
	created := h.account(target.Address())
	if created.Lamports != 2_000_000 || created.Owner != owner || len(created.Data) != 16 {
		t.Fatalf("unexpected account %+v", created)
	}
	if got := h.account(payer.Address()).Lamports; got != 8_000_000 {
		t.Fatalf("payer balance %d", got)
	}
	if len(receipt.Events) != 1 || receipt.Events[0].Type != "account.created" {
		t.Fatalf("unexpected events %+v", receipt.Events)
	}
}

func TestCreateAccountRejections(t *testing.T) {
	h := newHarness(t)
	payer := h.key(10_000_000)
	owner := crypto.LabelAddress("some/program")

	inUse := h.key(0)
	if err := h.st.PutAccount(inUse.Address(), &types.Account{Lamports: 1, Owner: owner}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err := h.submit([]*crypto.PrivateKey{payer, inUse}, CreateAccount(payer.Address(), inUse.Address(), 1, 0, owner))
	if !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("expected account in use, got %v", err)
	}

	withData := h.key(0)
	if err := h.st.PutAccount(withData.Address(), &types.Account{Lamports: 1, Data: []byte{1}}); err != nil {
		t.Fatalf("seed: %v", err)
	}
	_, err = h.submit([]*crypto.PrivateKey{payer, withData}, CreateAccount(payer.Address(), withData.Address(), 1, 0, owner))
	if !errors.Is(err, ErrAccountInUse) {
		t.Fatalf("expected account in use for data account, got %v", err)
	}

	target := h.key(0)
	_, err = h.submit([]*crypto.PrivateKey{payer, target}, CreateAccount(payer.Address(), target.Address(), 20_000_000, 0, owner))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	_, err = h.submit([]*crypto.PrivateKey{payer, target}, CreateAccount(payer.Address(), target.Address(), 1, MaxAccountDataLength+1, owner))
	if !errors.Is(err, ErrInvalidSpace) {
		t.Fatalf("expected invalid space, got %v", err)
	}

	_, err = h.submit([]*crypto.PrivateKey{payer, target}, CreateAccount(payer.Address(), target.Address(), 1, 8, ProgramID))
	if !errors.Is(err, ErrOwnerIsSystem) {
		t.Fatalf("expected owner is system, got %v", err)
	}

	if got := h.account(payer.Address()).Lamports; got != 10_000_000 {
		t.Fatalf("failed creations moved lamports: payer has %d", got)
	}
}

func TestCreateAccountTopsUpPrefundedTarget(t *testing.T) {
	h := newHarness(t)
	payer := h.key(10_000_000)
	owner := crypto.LabelAddress("some/program")

	partial := h.key(500)
	if _, err := h.submit([]*crypto.PrivateKey{payer, partial}, CreateAccount(payer.Address(), partial.Address(), 2_000_000, 16, owner)); err != nil {
		t.Fatalf("create over partial balance: %v", err)
	}
	created := h.account(partial.Address())
	if created.Lamports != 2_000_000 || created.Owner != owner || len(created.Data) != 16 {
		t.Fatalf("unexpected account %+v", created)
	}
	if got := h.account(payer.Address()).Lamports; got != 10_000_000-1_999_500 {
		t.Fatalf("payer charged more than the shortfall: %d", got)
	}

	rich := h.key(3_000_000)
	if _, err := h.submit([]*crypto.PrivateKey{payer, rich}, CreateAccount(payer.Address(), rich.Address(), 2_000_000, 8, owner)); err != nil {
		t.Fatalf("create over full balance: %v", err)
	}
	if got := h.account(rich.Address()).Lamports; got != 3_000_000 {
		t.Fatalf("existing lamports not kept: %d", got)
	}
	if got := h.account(payer.Address()).Lamports; got != 10_000_000-1_999_500 {
		t.Fatalf("payer charged for a funded target: %d", got)
	}
}

func TestTransfer(t *testing.T) {
	h := newHarness(t)
	from := h.key(1_000)
	to := crypto.LabelAddress("recipient")

	receipt, err := h.submit([]*crypto.PrivateKey{from}, Transfer(from.Address(), to, 400))
	if err != nil {
		t.Fatalf("transfer: %v", err)
	}
	if h.account(from.Address()).Lamports != 600 || h.account(to).Lamports != 400 {
		t.Fatalf("unexpected balances after transfer")
	}
	if receipt.Events[0].Attributes["amount"] != "400" {
		t.Fatalf("unexpected event %+v", receipt.Events[0])
	}

	_, err = h.submit([]*crypto.PrivateKey{from}, Transfer(from.Address(), to, 601))
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("expected insufficient funds, got %v", err)
	}

	// Zero and self transfers succeed without moving anything.
	if _, err := h.submit([]*crypto.PrivateKey{from}, Transfer(from.Address(), to, 0)); err != nil {
		t.Fatalf("zero transfer: %v", err)
	}
	if _, err := h.submit([]*crypto.PrivateKey{from}, Transfer(from.Address(), from.Address(), 100)); err != nil {
		t.Fatalf("self transfer: %v", err)
	}
	if h.account(from.Address()).Lamports != 600 {
		t.Fatalf("no-op transfers changed the balance")
	}
}

func TestTransferSourceRestrictions(t *testing.T) {
	h := newHarness(t)
	owned := h.key(0)
	if err := h.st.PutAccount(owned.Address(), &types.Account{Lamports: 100, Owner: crypto.LabelAddress("other")}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err := h.submit([]*crypto.PrivateKey{owned}, Transfer(owned.Address(), crypto.LabelAddress("x"), 1))
	if !errors.Is(err, ErrSourceNotSystemOwned) {
		t.Fatalf("expected source not system owned, got %v", err)
	}

	withData := h.key(0)
	if err := h.st.PutAccount(withData.Address(), &types.Account{Lamports: 100, Data: []byte{1}}); err != nil {
		t.Fatalf("put: %v", err)
	}
	_, err = h.submit([]*crypto.PrivateKey{withData}, Transfer(withData.Address(), crypto.LabelAddress("x"), 1))
	if !errors.Is(err, ErrTransferFromDataAccount) {
		t.Fatalf("expected transfer from data account, got %v", err)
	}
}

func TestInvalidInstruction(t *testing.T) {
	h := newHarness(t)
	from := h.key(1_000)
	ix := Transfer(from.Address(), crypto.LabelAddress("x"), 1)
	ix.Data = []byte{9}
	_, err := h.submit([]*crypto.PrivateKey{from}, ix)
	if !errors.Is(err, ErrInvalidInstruction) {
		t.Fatalf("expected invalid instruction, got %v", err)
	}
}
