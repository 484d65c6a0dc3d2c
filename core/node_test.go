package core

import (
	"context"
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/require"

	"salechain/core/events"
	"salechain/core/genesis"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/sale"
	"salechain/native/token"
	"salechain/storage"
)

type captureEmitter struct {
	mu     sync.Mutex
	events []*types.Event
}

func (c *captureEmitter) Emit(evt events.Event) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.events = append(c.events, events.Flatten(evt))
}

func (c *captureEmitter) ofType(eventType string) []*types.Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	var out []*types.Event
	for _, evt := range c.events {
		if evt.Type == eventType {
			out = append(out, evt)
		}
	}
	return out
}

type nodeFixture struct {
	node    *Node
	capture *captureEmitter
	owner   *crypto.PrivateKey
	buyer   *crypto.PrivateKey
	mint    crypto.Address
	payout  crypto.Address
}

func newNodeFixture(t *testing.T, paused bool) *nodeFixture {
	t.Helper()
	owner, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	buyer, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	mint := crypto.LabelAddress("node-test/mint")
	payout := crypto.LabelAddress("node-test/payout")

	doc := fmt.Sprintf(`genesisTime: "2024-06-01T00:00:00Z"
network: node-test
accounts:
  - address: %s
    lamports: 10000000000
  - address: %s
    lamports: 10000000000
mints:
  - address: %s
    decimals: 9
    authority: %s
tokenAccounts:
  - owner: sale-authority
    mint: %s
    amount: 1000000000000000
sale:
  owner: %s
  pricePerUnit: 2000000000
  payoutRecipient: %s
  paused: %t
`, owner.Address(), buyer.Address(), mint, owner.Address(), mint, owner.Address(), payout, paused)
	spec, err := genesis.ParseGenesisSpec([]byte(doc))
	require.NoError(t, err)

	capture := &captureEmitter{}
	node, err := NewNode(storage.NewMemDB(), Options{Emitters: []events.Emitter{capture}})
	require.NoError(t, err)
	_, err = node.ApplyGenesis(spec)
	require.NoError(t, err)
	// A second application is a no-op.
	rec, err := node.ApplyGenesis(spec)
	require.NoError(t, err)
	require.Equal(t, "node-test", rec.Network)

	return &nodeFixture{node: node, capture: capture, owner: owner, buyer: buyer, mint: mint, payout: payout}
}

func (f *nodeFixture) signedBuy(t *testing.T, nonce, units uint64) *types.Transaction {
	t.Helper()
	authority, err := f.node.Authority()
	require.NoError(t, err)
	custody, err := token.AssociatedAddress(authority.Address, f.mint)
	require.NoError(t, err)
	ix, err := sale.NewBuy(f.node.ProgramID(), sale.BuyParams{
		Buyer:           f.buyer.Address(),
		Custody:         custody,
		Mint:            f.mint,
		PayoutRecipient: f.payout,
		Units:           units,
	})
	require.NoError(t, err)
	tx := types.NewTransaction(types.NewMessage(nonce, ix))
	require.NoError(t, tx.Sign(f.buyer))
	return tx
}

func TestNodeBuyLifecycle(t *testing.T) {
	f := newNodeFixture(t, false)
	ctx := context.Background()

	quote, err := f.node.Quote(3_000_000_000)
	require.NoError(t, err)
	require.Equal(t, uint64(6_000_000_000), quote.Payment)

	sim, err := f.node.SimulateTransaction(ctx, f.signedBuy(t, 1, 3_000_000_000))
	require.NoError(t, err)
	require.True(t, sim.Success)
	_, balance, err := f.node.TokenBalance(f.buyer.Address(), f.mint)
	require.NoError(t, err)
	require.Zero(t, balance, "simulation must not commit")
	require.Empty(t, f.capture.ofType(sale.EventTypePurchase))

	receipt, err := f.node.SubmitTransaction(ctx, f.signedBuy(t, 2, 3_000_000_000))
	require.NoError(t, err)
	require.True(t, receipt.Success)

	ata, balance, err := f.node.TokenBalance(f.buyer.Address(), f.mint)
	require.NoError(t, err)
	require.Equal(t, uint64(3_000_000_000), balance)
	tokenAcc, err := f.node.TokenAccount(ata)
	require.NoError(t, err)
	require.Equal(t, f.buyer.Address(), tokenAcc.Owner)

	payout, err := f.node.Account(f.payout)
	require.NoError(t, err)
	require.Equal(t, uint64(6_000_000_000), payout.Lamports)

	purchases := f.capture.ofType(sale.EventTypePurchase)
	require.Len(t, purchases, 1)
	require.Equal(t, receipt.Hash, purchases[0].Attributes["txHash"])
	require.Equal(t, "6000000000", purchases[0].Attributes["payment"])

	mint, err := f.node.Mint(f.mint)
	require.NoError(t, err)
	require.Equal(t, uint8(9), mint.Decimals)
}

func TestNodeRejectsBuyWhilePaused(t *testing.T) {
	f := newNodeFixture(t, true)

	quote, err := f.node.Quote(1)
	require.NoError(t, err)
	require.True(t, quote.Paused)

	_, err = f.node.SubmitTransaction(context.Background(), f.signedBuy(t, 1, 1))
	require.ErrorIs(t, err, sale.ErrSalePaused)

	_, err = f.node.TokenAccount(crypto.LabelAddress("nothing"))
	require.ErrorIs(t, err, ErrNotTokenAccount)
}

func TestNodeWithoutSaleConfig(t *testing.T) {
	node, err := NewNode(storage.NewMemDB(), Options{})
	require.NoError(t, err)
	_, err = node.SaleConfig()
	require.ErrorIs(t, err, sale.ErrNotInitialized)
	_, err = node.Quote(1)
	require.ErrorIs(t, err, sale.ErrNotInitialized)
	require.Equal(t, sale.DefaultProgramID, node.ProgramID())
	_, ok, err := node.Genesis()
	require.NoError(t, err)
	require.False(t, ok)
}
