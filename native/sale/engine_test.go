package sale

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/system"
	"salechain/native/token"
)

func signers(keys ...*crypto.PrivateKey) []*crypto.PrivateKey { return keys }

func TestInitializeConfigCreatesRecord(t *testing.T) {
	f := newFixture(t)

	cfg := f.config()
	require.Equal(t, defaultPrice, cfg.PricePerUnit)
	require.Equal(t, f.owner.Address(), cfg.Owner)
	require.Equal(t, f.recipient, cfg.PayoutRecipient)
	require.False(t, cfg.Paused)

	derived, err := DeriveConfig(f.programID)
	require.NoError(t, err)
	acc := f.account(derived.Address)
	require.Equal(t, f.programID, acc.Owner)
	require.Equal(t, f.rt.Rent().MinimumBalance(ConfigLen), acc.Lamports)
	require.Len(t, acc.Data, ConfigLen)
}

func TestInitializeConfigOverPrefundedAddress(t *testing.T) {
	f := newUninitializedFixture(t)
	derived, err := DeriveConfig(f.programID)
	require.NoError(t, err)
	griefer := newKey(t)
	f.fund(griefer.Address(), startingLamports)
	f.mustSubmit(signers(griefer), system.Transfer(griefer.Address(), derived.Address, 1))

	ownerBefore := f.lamports(f.owner.Address())
	f.initialize(defaultPrice)

	cfg := f.config()
	require.Equal(t, f.owner.Address(), cfg.Owner)
	require.Equal(t, defaultPrice, cfg.PricePerUnit)
	rent := f.rt.Rent().MinimumBalance(ConfigLen)
	acc := f.account(derived.Address)
	require.Equal(t, f.programID, acc.Owner)
	require.Equal(t, rent, acc.Lamports)
	require.Equal(t, ownerBefore-(rent-1), f.lamports(f.owner.Address()))
}

func TestInitializeConfigReappliedByOwner(t *testing.T) {
	f := newFixture(t)
	pause, err := NewPause(f.programID, f.owner.Address())
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), pause)

	newRecipient := newKey(t).Address()
	ix, err := NewInitializeConfig(f.programID, f.owner.Address(), 42, newRecipient)
	require.NoError(t, err)
	receipt := f.mustSubmit(signers(f.owner), ix)

	cfg := f.config()
	require.Equal(t, uint64(42), cfg.PricePerUnit)
	require.Equal(t, newRecipient, cfg.PayoutRecipient)
	require.False(t, cfg.Paused)
	require.Len(t, receipt.Events, 1)
	require.Equal(t, EventTypeConfigInitialized, receipt.Events[0].Type)
	require.Equal(t, "false", receipt.Events[0].Attributes["created"])
}

func TestInitializeConfigRejectsStranger(t *testing.T) {
	f := newFixture(t)
	stranger := newKey(t)
	f.fund(stranger.Address(), startingLamports)

	ix, err := NewInitializeConfig(f.programID, stranger.Address(), 1, stranger.Address())
	require.NoError(t, err)
	_, err = f.submit(signers(stranger), ix)
	require.ErrorIs(t, err, ErrUnauthorized)
	require.Equal(t, f.owner.Address(), f.config().Owner)
	require.Equal(t, f.recipient, f.config().PayoutRecipient)
}

func TestAdminOperationsRequireOwner(t *testing.T) {
	f := newFixture(t)
	stranger := newKey(t)
	f.fund(stranger.Address(), startingLamports)
	before := f.config()

	build := map[string]func(owner crypto.Address) (types.Instruction, error){
		"reset": func(owner crypto.Address) (types.Instruction, error) {
			return NewResetConfig(f.programID, owner, 7, owner)
		},
		"price": func(owner crypto.Address) (types.Instruction, error) {
			return NewUpdatePrice(f.programID, owner, 7)
		},
		"pause": func(owner crypto.Address) (types.Instruction, error) {
			return NewPause(f.programID, owner)
		},
		"unpause": func(owner crypto.Address) (types.Instruction, error) {
			return NewUnpause(f.programID, owner)
		},
	}
	for name, fn := range build {
		ix, err := fn(stranger.Address())
		require.NoError(t, err)
		_, err = f.submit(signers(stranger), ix)
		require.ErrorIs(t, err, ErrUnauthorized, name)
	}
	require.Equal(t, before, f.config())
}

func TestUpdatePriceChangesOnlyPrice(t *testing.T) {
	f := newFixture(t)
	ix, err := NewUpdatePrice(f.programID, f.owner.Address(), 2*UnitScale)
	require.NoError(t, err)
	receipt := f.mustSubmit(signers(f.owner), ix)

	cfg := f.config()
	require.Equal(t, 2*UnitScale, cfg.PricePerUnit)
	require.Equal(t, f.recipient, cfg.PayoutRecipient)
	require.Equal(t, f.owner.Address(), cfg.Owner)
	require.Equal(t, EventTypePriceUpdated, receipt.Events[0].Type)
	require.Equal(t, "1000000000", receipt.Events[0].Attributes["previousPrice"])
}

func TestResetClearsPauseAndIsIdempotent(t *testing.T) {
	f := newFixture(t)
	pause, err := NewPause(f.programID, f.owner.Address())
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), pause)
	require.True(t, f.config().Paused)

	recipient := newKey(t).Address()
	for i := 0; i < 2; i++ {
		reset, err := NewResetConfig(f.programID, f.owner.Address(), 5, recipient)
		require.NoError(t, err)
		f.mustSubmit(signers(f.owner), reset)

		cfg := f.config()
		require.Equal(t, uint64(5), cfg.PricePerUnit)
		require.Equal(t, recipient, cfg.PayoutRecipient)
		require.False(t, cfg.Paused)
	}
}

func TestPauseAndUnpauseAreRepeatable(t *testing.T) {
	f := newFixture(t)
	for i := 0; i < 2; i++ {
		pause, err := NewPause(f.programID, f.owner.Address())
		require.NoError(t, err)
		f.mustSubmit(signers(f.owner), pause)
		require.True(t, f.config().Paused)
	}
	for i := 0; i < 2; i++ {
		unpause, err := NewUnpause(f.programID, f.owner.Address())
		require.NoError(t, err)
		f.mustSubmit(signers(f.owner), unpause)
		require.False(t, f.config().Paused)
	}
}

func TestBuySettlesBothLegs(t *testing.T) {
	f := newFixture(t)
	ata := f.associated(f.buyer.Address())
	units := uint64(5)

	receipt, err := f.buy(units)
	require.NoError(t, err)
	require.True(t, receipt.Success)

	payment := uint64(5)
	ataRent := f.rt.Rent().MinimumBalance(token.AccountLen)
	require.Equal(t, units, f.tokenBalance(ata))
	require.Equal(t, custodySupply-units, f.tokenBalance(f.custody))
	require.Equal(t, payment, f.lamports(f.recipient))
	require.Equal(t, startingLamports-payment-ataRent, f.lamports(f.buyer.Address()))

	var purchase map[string]string
	for _, evt := range receipt.Events {
		if evt.Type == EventTypePurchase {
			purchase = evt.Attributes
		}
	}
	require.NotNil(t, purchase)
	require.Equal(t, "5", purchase["units"])
	require.Equal(t, "5", purchase["payment"])
	require.Equal(t, "true", purchase["provisioned"])
}

func TestBuyProvisionsPrefundedReceivingAccount(t *testing.T) {
	f := newFixture(t)
	ata := f.associated(f.buyer.Address())
	griefer := newKey(t)
	f.fund(griefer.Address(), startingLamports)
	f.mustSubmit(signers(griefer), system.Transfer(griefer.Address(), ata, 1))

	receipt, err := f.buy(5)
	require.NoError(t, err)
	require.True(t, receipt.Success)

	ataRent := f.rt.Rent().MinimumBalance(token.AccountLen)
	require.Equal(t, uint64(5), f.tokenBalance(ata))
	require.Equal(t, token.ProgramID, f.account(ata).Owner)
	require.Equal(t, ataRent, f.lamports(ata))
	require.Equal(t, startingLamports-5-(ataRent-1), f.lamports(f.buyer.Address()))
}

func TestBuyReusesExistingReceivingAccount(t *testing.T) {
	f := newFixture(t)
	_, err := f.buy(1_000)
	require.NoError(t, err)
	buyerAfterFirst := f.lamports(f.buyer.Address())

	receipt, err := f.buy(2_000)
	require.NoError(t, err)
	ata := f.associated(f.buyer.Address())
	require.Equal(t, uint64(3_000), f.tokenBalance(ata))
	require.Equal(t, buyerAfterFirst-2_000, f.lamports(f.buyer.Address()))
	last := receipt.Events[len(receipt.Events)-1]
	require.Equal(t, EventTypePurchase, last.Type)
	require.Equal(t, "false", last.Attributes["provisioned"])
}

func TestBuyTruncatesFractionalPayment(t *testing.T) {
	f := newFixture(t)
	ix, err := NewUpdatePrice(f.programID, f.owner.Address(), 3)
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), ix)

	_, err = f.buy(1)
	require.NoError(t, err)
	require.Equal(t, uint64(1), f.tokenBalance(f.associated(f.buyer.Address())))
	require.Zero(t, f.lamports(f.recipient))
}

func TestBuyOverflowLeavesStateUntouched(t *testing.T) {
	f := newFixture(t)
	ix, err := NewUpdatePrice(f.programID, f.owner.Address(), 2)
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), ix)

	before := f.snapshot()
	_, err = f.buy(math.MaxUint64)
	require.ErrorIs(t, err, ErrOverflow)
	f.requireUnchanged(before)
}

func TestBuyWhilePaused(t *testing.T) {
	f := newFixture(t)
	pause, err := NewPause(f.programID, f.owner.Address())
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), pause)

	before := f.snapshot()
	_, err = f.buy(10)
	require.ErrorIs(t, err, ErrSalePaused)
	f.requireUnchanged(before)

	unpause, err := NewUnpause(f.programID, f.owner.Address())
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), unpause)
	_, err = f.buy(10)
	require.NoError(t, err)
}

func TestBuyRejectsMismatchedAccounts(t *testing.T) {
	f := newFixture(t)
	otherMint := f.createMint()

	// A token account of the right mint that the authority does not own.
	stranger := newKey(t)
	strangerATA := f.associated(stranger.Address())
	f.mustSubmit(signers(f.issuer),
		f.createAssociated(stranger.Address()),
		token.MintTo(f.mint, strangerATA, f.issuer.Address(), 1_000),
	)

	cases := []struct {
		name   string
		params BuyParams
		want   *Error
	}{
		{name: "mint", params: BuyParams{Mint: otherMint, Units: 1}, want: ErrInvalidMint},
		{name: "authority", params: BuyParams{Custody: strangerATA, Units: 1}, want: ErrInvalidAuthority},
		{name: "recipient", params: BuyParams{PayoutRecipient: stranger.Address(), Units: 1}, want: ErrInvalidSolRecipient},
		{name: "amount", params: BuyParams{Units: 0}, want: ErrInvalidAmount},
		{name: "receiving account", params: BuyParams{ReceivingAccount: newKey(t).Address(), Units: 1}, want: ErrInvalidATA},
	}
	for _, tc := range cases {
		before := f.snapshot(strangerATA, stranger.Address())
		_, err := f.submit(signers(f.buyer), f.buyInstruction(tc.params))
		require.ErrorIs(t, err, tc.want, tc.name)
		f.requireUnchanged(before)
	}
}

func TestBuyChecksPauseBeforeOtherPreconditions(t *testing.T) {
	f := newFixture(t)
	pause, err := NewPause(f.programID, f.owner.Address())
	require.NoError(t, err)
	f.mustSubmit(signers(f.owner), pause)

	_, err = f.submit(signers(f.buyer), f.buyInstruction(BuyParams{PayoutRecipient: newKey(t).Address(), Units: 0}))
	require.ErrorIs(t, err, ErrSalePaused)
}

func TestBuyRejectsForeignAuthority(t *testing.T) {
	f := newFixture(t)
	ix := f.buyInstruction(BuyParams{Units: 1})
	ix.Accounts[4].Address = newKey(t).Address()
	_, err := f.submit(signers(f.buyer), ix)
	require.ErrorIs(t, err, ErrAuthorityMismatch)
}

func TestBuyPaymentFailureRevertsDelivery(t *testing.T) {
	f := newFixture(t)
	ataRent := f.rt.Rent().MinimumBalance(token.AccountLen)
	poor := newKey(t)
	f.fund(poor.Address(), ataRent)
	poorATA := f.associated(poor.Address())

	before := f.snapshot(poor.Address(), poorATA)
	ix := f.buyInstruction(BuyParams{Buyer: poor.Address(), Units: 10 * UnitScale})
	receipt, err := f.submit(signers(poor), ix)
	require.ErrorIs(t, err, system.ErrInsufficientFunds)
	require.False(t, receipt.Success)
	require.Empty(t, receipt.Events)

	var ixErr *runtime.InstructionError
	require.ErrorAs(t, err, &ixErr)
	require.Equal(t, f.programID, ixErr.Program)

	f.requireUnchanged(before)
	require.Equal(t, custodySupply, f.tokenBalance(f.custody))
	require.Equal(t, ataRent, f.lamports(poor.Address()))
}

func TestBuyRequiresBuyerSignature(t *testing.T) {
	f := newFixture(t)
	ix := f.buyInstruction(BuyParams{Units: 1})
	ix.Accounts[1].Signer = false

	// The buyer is listed but only the payer signs.
	payer := newKey(t)
	f.fund(payer.Address(), startingLamports)
	_, err := f.submit(signers(payer), system.Transfer(payer.Address(), payer.Address(), 0), ix)
	require.ErrorIs(t, err, runtime.ErrMissingSignature)
}
