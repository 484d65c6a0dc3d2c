package genesis

import (
	"fmt"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"salechain/core/runtime"
	"salechain/core/state"
	"salechain/crypto"
	"salechain/native/sale"
	"salechain/native/token"
	"salechain/storage"
)

var (
	testWallet    = crypto.LabelAddress("genesis/wallet")
	testMint      = crypto.LabelAddress("genesis/mint")
	testOwner     = crypto.LabelAddress("genesis/owner")
	testRecipient = crypto.LabelAddress("genesis/recipient")
)

func testDocument() string {
	return fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
network: sale-test
accounts:
  - address: %s
    lamports: 5000000000
  - address: "%s"
    lamports: 1000000000
mints:
  - address: %s
    decimals: 9
    authority: %s
tokenAccounts:
  - owner: sale-authority
    mint: %s
    amount: 1000000000000
  - owner: %s
    mint: %s
    amount: 25
sale:
  owner: %s
  pricePerUnit: 1000000000
  payoutRecipient: %s
`, testWallet, testOwner.Hex(), testMint, testOwner, testMint, testWallet, testMint, testOwner, testRecipient)
}

func TestParseGenesisSpec(t *testing.T) {
	spec, err := ParseGenesisSpec([]byte(testDocument()))
	require.NoError(t, err)
	require.Equal(t, "sale-test", spec.Network)
	require.Equal(t, int64(1704067200), spec.GenesisTimestamp().Unix())
	require.Len(t, spec.Accounts, 2)
	require.Equal(t, testOwner, spec.Accounts[1].addr)
	require.True(t, spec.TokenAccounts[0].alias)
}

func TestParseGenesisSpecRejections(t *testing.T) {
	cases := map[string]string{
		"missing time": "network: x\n",
		"unknown field": `genesisTime: "2024-01-01T00:00:00Z"
bogus: 1
`,
		"bad address": `genesisTime: "2024-01-01T00:00:00Z"
accounts:
  - address: nope
    lamports: 1
`,
		"undeclared mint": fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
tokenAccounts:
  - owner: %s
    mint: %s
    amount: 1
`, testWallet, testMint),
		"duplicate account": fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
accounts:
  - address: %s
    lamports: 1
  - address: %s
    lamports: 2
`, testWallet, testWallet),
	}
	for name, doc := range cases {
		if _, err := ParseGenesisSpec([]byte(doc)); err == nil {
			t.Fatalf("%s: expected error", name)
		}
	}
}

func TestApplyWritesState(t *testing.T) {
	path := filepath.Join(t.TempDir(), "genesis.yaml")
	require.NoError(t, os.WriteFile(path, []byte(testDocument()), 0o644))
	spec, err := LoadGenesisSpec(path)
	require.NoError(t, err)

	st := state.NewManager(storage.NewMemDB())
	rent := runtime.DefaultRent()
	rec, err := Apply(spec, st, sale.DefaultProgramID, rent)
	require.NoError(t, err)
	require.Equal(t, uint64(2), rec.TokenAccounts)

	wallet, err := st.Account(testWallet)
	require.NoError(t, err)
	require.Equal(t, uint64(5_000_000_000), wallet.Lamports)

	mintAcc, err := st.Account(testMint)
	require.NoError(t, err)
	mint, err := token.DecodeMint(mintAcc.Data)
	require.NoError(t, err)
	require.Equal(t, uint64(1_000_000_000_025), mint.Supply)
	require.Equal(t, testOwner, mint.Authority)
	require.Equal(t, rent.MinimumBalance(token.MintLen), mintAcc.Lamports)

	authority, err := sale.DeriveAuthority(sale.DefaultProgramID)
	require.NoError(t, err)
	custodyAddr, err := token.AssociatedAddress(authority.Address, testMint)
	require.NoError(t, err)
	custodyAcc, err := st.Account(custodyAddr)
	require.NoError(t, err)
	custody, err := token.DecodeAccount(custodyAcc.Data)
	require.NoError(t, err)
	require.Equal(t, authority.Address, custody.Owner)
	require.Equal(t, uint64(1_000_000_000_000), custody.Amount)

	cfg, err := sale.LoadConfig(st, sale.DefaultProgramID)
	require.NoError(t, err)
	require.Equal(t, testOwner, cfg.Owner)
	require.Equal(t, testRecipient, cfg.PayoutRecipient)
	require.False(t, cfg.Paused)

	stored, ok, err := Applied(st)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, rec, stored)

	_, err = Apply(spec, st, sale.DefaultProgramID, rent)
	require.ErrorIs(t, err, ErrAlreadyApplied)
}

func TestApplyRejectsCollidingTokenAccount(t *testing.T) {
	doc := fmt.Sprintf(`genesisTime: "2024-01-01T00:00:00Z"
accounts:
  - address: %s
    lamports: 1
mints:
  - address: %s
    decimals: 0
    authority: %s
tokenAccounts:
  - address: %s
    owner: %s
    mint: %s
    amount: 1
`, testWallet, testMint, testOwner, testWallet, testOwner, testMint)
	spec, err := ParseGenesisSpec([]byte(doc))
	require.NoError(t, err)
	st := state.NewManager(storage.NewMemDB())
	_, err = Apply(spec, st, sale.DefaultProgramID, runtime.DefaultRent())
	require.ErrorContains(t, err, "written twice")

	_, ok, err := Applied(st)
	require.NoError(t, err)
	require.False(t, ok)
}
