package sale

import (
	"errors"
	"fmt"

	"salechain/core/events"
	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/common"
	"salechain/native/system"
	"salechain/native/token"
)

// Host is the slice of the runtime the engine needs. *runtime.InvokeContext
// satisfies it.
type Host interface {
	ProgramID() crypto.Address
	Account(addr crypto.Address) (*types.Account, error)
	SetAccount(addr crypto.Address, acc *types.Account) error
	IsSigner(addr crypto.Address) bool
	MinimumBalance(space uint64) uint64
	Invoke(ix types.Instruction) error
	InvokeSigned(ix types.Instruction, signerSeeds ...[][]byte) error
	Emit(evt events.Event)
	Log(format string, args ...any)
}

// InitializeAccounts are the accounts of an initialize_config instruction.
type InitializeAccounts struct {
	Config crypto.Address
	Owner  crypto.Address
}

// AdminAccounts are the accounts of reset, price and pause instructions.
type AdminAccounts struct {
	Config crypto.Address
	Owner  crypto.Address
}

// BuyAccounts are the accounts of a buy instruction.
type BuyAccounts struct {
	Custody          crypto.Address
	Buyer            crypto.Address
	ReceivingAccount crypto.Address
	PayoutRecipient  crypto.Address
	Authority        crypto.Address
	Config           crypto.Address
	Mint             crypto.Address
}

// Engine implements the sale's configuration store and settlement.
type Engine struct{}

// NewEngine returns a sale engine.
func NewEngine() *Engine { return &Engine{} }

// InitializeConfig creates the configuration record when absent. When it
// already exists only the stored owner may re-apply price and recipient,
// which also clears the pause flag; the owner itself never changes.
func (e *Engine) InitializeConfig(h Host, accs InitializeAccounts, price uint64, recipient crypto.Address) error {
	if !h.IsSigner(accs.Owner) {
		return fmt.Errorf("%w: owner %s", runtime.ErrMissingSignature, accs.Owner)
	}
	derived, err := DeriveConfig(h.ProgramID())
	if err != nil {
		return err
	}
	if accs.Config != derived.Address {
		return fmt.Errorf("%w: got %s, want %s", ErrConfigAddress, accs.Config, derived.Address)
	}
	acc, err := h.Account(accs.Config)
	if err != nil {
		return err
	}

	switch acc.Owner {
	case system.ProgramID:
		create := system.CreateAccount(accs.Owner, accs.Config, h.MinimumBalance(ConfigLen), ConfigLen, h.ProgramID())
		if err := h.InvokeSigned(create, derived.SignerSeeds()); err != nil {
			return fmt.Errorf("create config account: %w", err)
		}
		cfg := &Config{PricePerUnit: price, Owner: accs.Owner, PayoutRecipient: recipient}
		if err := e.store(h, accs.Config, cfg); err != nil {
			return err
		}
		h.Emit(configInitializedEvent(accs.Config, cfg, true))
		h.Log("config initialized: price %d, recipient %s", price, recipient)
		return nil
	case h.ProgramID():
		cfg, err := DecodeConfig(acc.Data)
		if err != nil {
			return err
		}
		if cfg.Owner != accs.Owner {
			return ErrUnauthorized
		}
		cfg.PricePerUnit = price
		cfg.PayoutRecipient = recipient
		cfg.Paused = false
		if err := e.store(h, accs.Config, cfg); err != nil {
			return err
		}
		h.Emit(configInitializedEvent(accs.Config, cfg, false))
		h.Log("config re-initialized: price %d, recipient %s", price, recipient)
		return nil
	default:
		return fmt.Errorf("%w: owned by %s", ErrConfigNotOwned, acc.Owner)
	}
}

// ResetConfig overwrites price and recipient and returns the sale to the
// unpaused state.
func (e *Engine) ResetConfig(h Host, accs AdminAccounts, price uint64, recipient crypto.Address) error {
	cfg, err := e.authorize(h, accs)
	if err != nil {
		return err
	}
	cfg.PricePerUnit = price
	cfg.PayoutRecipient = recipient
	cfg.Paused = false
	if err := e.store(h, accs.Config, cfg); err != nil {
		return err
	}
	h.Emit(configResetEvent(accs.Config, cfg))
	return nil
}

// UpdatePrice changes only the price.
func (e *Engine) UpdatePrice(h Host, accs AdminAccounts, price uint64) error {
	cfg, err := e.authorize(h, accs)
	if err != nil {
		return err
	}
	previous := cfg.PricePerUnit
	cfg.PricePerUnit = price
	if err := e.store(h, accs.Config, cfg); err != nil {
		return err
	}
	h.Emit(priceUpdatedEvent(accs.Config, previous, price))
	return nil
}

// Pause halts settlement. Pausing a paused sale succeeds.
func (e *Engine) Pause(h Host, accs AdminAccounts) error {
	return e.setPaused(h, accs, true)
}

// Unpause resumes settlement. Unpausing a running sale succeeds.
func (e *Engine) Unpause(h Host, accs AdminAccounts) error {
	return e.setPaused(h, accs, false)
}

func (e *Engine) setPaused(h Host, accs AdminAccounts, paused bool) error {
	cfg, err := e.authorize(h, accs)
	if err != nil {
		return err
	}
	cfg.Paused = paused
	if err := e.store(h, accs.Config, cfg); err != nil {
		return err
	}
	eventType := EventTypeUnpaused
	if paused {
		eventType = EventTypePaused
	}
	h.Emit(pauseEvent(eventType, accs.Config, accs.Owner))
	return nil
}

// Buy settles a purchase of units: it checks the request against the
// configuration, provisions the buyer's receiving account if needed, moves
// the units out of custody under the derived authority and moves payment
// from the buyer to the payout recipient. Either every step lands or the
// runtime discards them all.
func (e *Engine) Buy(h Host, accs BuyAccounts, units uint64) (*Purchase, error) {
	cfg, err := e.load(h, accs.Config)
	if err != nil {
		return nil, err
	}
	authority, err := DeriveAuthority(h.ProgramID())
	if err != nil {
		return nil, err
	}
	if accs.Authority != authority.Address {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrAuthorityMismatch, accs.Authority, authority.Address)
	}
	custodyRaw, err := h.Account(accs.Custody)
	if err != nil {
		return nil, err
	}
	if custodyRaw.Owner != token.ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrCustodyNotTokenAccount, accs.Custody)
	}
	custody, err := token.DecodeAccount(custodyRaw.Data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrCustodyNotTokenAccount, err)
	}
	if !h.IsSigner(accs.Buyer) {
		return nil, fmt.Errorf("%w: buyer %s", runtime.ErrMissingSignature, accs.Buyer)
	}

	if err := common.Guard(cfg, ModuleName); err != nil {
		if errors.Is(err, common.ErrModulePaused) {
			return nil, ErrSalePaused
		}
		return nil, err
	}
	if custody.Mint != accs.Mint {
		return nil, ErrInvalidMint
	}
	if custody.Owner != authority.Address {
		return nil, ErrInvalidAuthority
	}
	if accs.PayoutRecipient != cfg.PayoutRecipient {
		return nil, ErrInvalidSolRecipient
	}
	if units == 0 {
		return nil, ErrInvalidAmount
	}
	payment, err := ComputePayment(units, cfg.PricePerUnit)
	if err != nil {
		return nil, err
	}

	receiving, err := h.Account(accs.ReceivingAccount)
	if err != nil {
		return nil, err
	}
	provisioned := false
	if receiving.Owner == system.ProgramID {
		canonical, err := token.AssociatedAddress(accs.Buyer, accs.Mint)
		if err != nil {
			return nil, err
		}
		if accs.ReceivingAccount != canonical {
			return nil, ErrInvalidATA
		}
		create := token.CreateAssociatedAt(accs.Buyer, accs.ReceivingAccount, accs.Buyer, accs.Mint)
		if err := h.Invoke(create); err != nil {
			return nil, fmt.Errorf("provision receiving account: %w", err)
		}
		provisioned = true
	}

	leg1 := token.Transfer(accs.Custody, accs.ReceivingAccount, authority.Address, units)
	if err := h.InvokeSigned(leg1, authority.SignerSeeds()); err != nil {
		return nil, fmt.Errorf("deliver units: %w", err)
	}
	leg2 := system.Transfer(accs.Buyer, accs.PayoutRecipient, payment)
	if err := h.Invoke(leg2); err != nil {
		return nil, fmt.Errorf("collect payment: %w", err)
	}

	purchase := &Purchase{
		Buyer:            accs.Buyer,
		ReceivingAccount: accs.ReceivingAccount,
		Custody:          accs.Custody,
		Mint:             accs.Mint,
		PayoutRecipient:  accs.PayoutRecipient,
		Units:            units,
		PricePerUnit:     cfg.PricePerUnit,
		Payment:          payment,
		Provisioned:      provisioned,
	}
	h.Emit(purchaseEvent(purchase))
	h.Log("purchase: %d units for %d lamports", units, payment)
	return purchase, nil
}

// authorize loads the config and checks that accs.Owner signed and is the
// stored owner.
func (e *Engine) authorize(h Host, accs AdminAccounts) (*Config, error) {
	if !h.IsSigner(accs.Owner) {
		return nil, fmt.Errorf("%w: owner %s", runtime.ErrMissingSignature, accs.Owner)
	}
	cfg, err := e.load(h, accs.Config)
	if err != nil {
		return nil, err
	}
	if cfg.Owner != accs.Owner {
		return nil, ErrUnauthorized
	}
	return cfg, nil
}

func (e *Engine) load(h Host, addr crypto.Address) (*Config, error) {
	derived, err := DeriveConfig(h.ProgramID())
	if err != nil {
		return nil, err
	}
	if addr != derived.Address {
		return nil, fmt.Errorf("%w: got %s, want %s", ErrConfigAddress, addr, derived.Address)
	}
	acc, err := h.Account(addr)
	if err != nil {
		return nil, err
	}
	if acc.Owner != h.ProgramID() {
		return nil, fmt.Errorf("%w: owned by %s", ErrConfigNotOwned, acc.Owner)
	}
	return DecodeConfig(acc.Data)
}

func (e *Engine) store(h Host, addr crypto.Address, cfg *Config) error {
	acc, err := h.Account(addr)
	if err != nil {
		return err
	}
	acc.Data = cfg.Encode()
	return h.SetAccount(addr, acc)
}
