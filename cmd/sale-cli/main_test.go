package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"salechain/core"
	"salechain/core/events"
	"salechain/core/genesis"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/indexer"
	"salechain/native/sale"
	"salechain/rpc"
	"salechain/storage"
)

const (
	cliTestToken = "cli-token"
	cliTestPass  = "correct horse"
)

type cliFixture struct {
	url     string
	keyPath string
	dbPath  string
	broker  *events.Broker
	owner   crypto.Address
	mint    crypto.Address
	payout  crypto.Address
}

func newCLIFixture(t *testing.T) *cliFixture {
	t.Helper()
	t.Setenv(passphraseEnv, cliTestPass)

	key, err := crypto.GeneratePrivateKey()
	require.NoError(t, err)
	keyPath := filepath.Join(t.TempDir(), "owner.json")
	require.NoError(t, crypto.SaveToKeystore(keyPath, key, cliTestPass))

	mint := crypto.LabelAddress("cli-test/mint")
	payout := crypto.LabelAddress("cli-test/payout")
	doc := fmt.Sprintf(`genesisTime: "2024-06-01T00:00:00Z"
network: cli-test
accounts:
  - address: %s
    lamports: 10000000000
mints:
  - address: %s
    decimals: 9
    authority: %s
tokenAccounts:
  - owner: sale-authority
    mint: %s
    amount: 1000000000000
sale:
  owner: %s
  pricePerUnit: 1000000000
  payoutRecipient: %s
`, key.Address(), mint, key.Address(), mint, key.Address(), payout)
	spec, err := genesis.ParseGenesisSpec([]byte(doc))
	require.NoError(t, err)

	dbPath := filepath.Join(t.TempDir(), "purchases.db")
	store, err := indexer.Open(dbPath, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	broker := events.NewBroker()
	node, err := core.NewNode(storage.NewMemDB(), core.Options{Emitters: []events.Emitter{store, broker}})
	require.NoError(t, err)
	_, err = node.ApplyGenesis(spec)
	require.NoError(t, err)

	ts := httptest.NewServer(rpc.NewServer(node, store, rpc.ServerConfig{AuthToken: cliTestToken, Events: broker}).Handler())
	t.Cleanup(ts.Close)
	return &cliFixture{url: ts.URL, keyPath: keyPath, dbPath: dbPath, broker: broker, owner: key.Address(), mint: mint, payout: payout}
}

func (f *cliFixture) run(args ...string) (string, error) {
	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetErr(&out)
	cmd.SetArgs(append([]string{"--rpc", f.url, "--token", cliTestToken, "--key", f.keyPath}, args...))
	err := cmd.Execute()
	return out.String(), err
}

func decodeOutput(t *testing.T, out string, dst interface{}) {
	t.Helper()
	require.NoError(t, json.Unmarshal([]byte(out), dst), out)
}

func TestCLISaleLifecycle(t *testing.T) {
	f := newCLIFixture(t)

	out, err := f.run("config", "show")
	require.NoError(t, err)
	var cfg rpc.ConfigResult
	decodeOutput(t, out, &cfg)
	require.Equal(t, f.owner.String(), cfg.Owner)
	require.False(t, cfg.Paused)

	out, err = f.run("address")
	require.NoError(t, err)
	require.Contains(t, out, f.owner.String())

	_, err = f.run("config", "pause")
	require.NoError(t, err)

	_, err = f.run("buy", "1.5", "--mint", f.mint.String())
	require.ErrorContains(t, err, "SalePaused (6007)")

	_, err = f.run("buy", "1.5", "--mint", f.mint.String(), "--simulate")
	require.ErrorContains(t, err, "SalePaused (6007)")

	_, err = f.run("config", "unpause")
	require.NoError(t, err)

	out, err = f.run("buy", "1.5", "--mint", f.mint.String())
	require.NoError(t, err)
	var receipt rpc.ReceiptResult
	decodeOutput(t, out, &receipt)
	require.True(t, receipt.Success)

	out, err = f.run("balance", "--mint", f.mint.String())
	require.NoError(t, err)
	require.Contains(t, out, `"display": "1.5"`)

	out, err = f.run("purchases", "--buyer", f.owner.Hex())
	require.NoError(t, err)
	var list rpc.PurchaseListResult
	decodeOutput(t, out, &list)
	require.Len(t, list.Purchases, 1)
	require.Equal(t, "1500000000", list.Purchases[0].Payment)

	_, err = f.run("config", "set-price", "--price", "2000000000")
	require.NoError(t, err)
	out, err = f.run("quote", "0.25")
	require.NoError(t, err)
	var quote rpc.QuoteResult
	decodeOutput(t, out, &quote)
	require.Equal(t, uint64(500_000_000), quote.Payment)

	_, err = f.run("config", "reset", "--price", "7", "--recipient", f.payout.String())
	require.NoError(t, err)
	out, err = f.run("config", "show")
	require.NoError(t, err)
	decodeOutput(t, out, &cfg)
	require.Equal(t, uint64(7), cfg.PricePerUnit)
}

func TestCLIRejectsBadInput(t *testing.T) {
	f := newCLIFixture(t)

	_, err := f.run("buy", "1.0000000001", "--mint", f.mint.String())
	require.ErrorContains(t, err, "fractional digits")

	_, err = f.run("buy", "1")
	require.Error(t, err)

	_, err = f.run("config", "init", "--price", "1", "--recipient", "bogus")
	require.ErrorContains(t, err, "invalid recipient")

	_, err = f.run("quote", "0")
	require.Error(t, err)
}

func TestKeygenWritesKeystore(t *testing.T) {
	t.Setenv(passphraseEnv, cliTestPass)
	path := filepath.Join(t.TempDir(), "keys", "new.json")

	cmd := newRootCmd()
	var out bytes.Buffer
	cmd.SetOut(&out)
	cmd.SetArgs([]string{"keygen", "--out", path})
	require.NoError(t, cmd.Execute())

	var view map[string]string
	require.NoError(t, json.Unmarshal(out.Bytes(), &view))
	key, err := crypto.LoadFromKeystore(path, cliTestPass)
	require.NoError(t, err)
	require.Equal(t, key.Address().String(), view["address"])
}

func TestCLIEventsAndExport(t *testing.T) {
	f := newCLIFixture(t)

	type result struct {
		out string
		err error
	}
	streamed := make(chan result, 1)
	go func() {
		out, err := f.run("events", "--type", sale.EventTypePurchase, "--count", "1")
		streamed <- result{out, err}
	}()
	require.Eventually(t, func() bool { return f.broker.Subscribers() == 1 }, 5*time.Second, 10*time.Millisecond)

	_, err := f.run("buy", "2", "--mint", f.mint.String())
	require.NoError(t, err)

	var got result
	select {
	case got = <-streamed:
	case <-time.After(10 * time.Second):
		t.Fatal("events command did not finish")
	}
	require.NoError(t, got.err)
	var evt types.Event
	decodeOutput(t, strings.TrimSpace(got.out), &evt)
	require.Equal(t, sale.EventTypePurchase, evt.Type)
	require.Equal(t, "2000000000", evt.Attributes["units"])

	out := filepath.Join(t.TempDir(), "purchases.parquet")
	res, err := f.run("export", "--dsn", f.dbPath, "--out", out)
	require.NoError(t, err)
	var export indexer.ExportResult
	decodeOutput(t, res, &export)
	require.Equal(t, 1, export.Rows)
	require.FileExists(t, out+indexer.DigestSuffix)

	_, err = f.run("export", "--dsn", "")
	require.ErrorContains(t, err, "--dsn")
}
