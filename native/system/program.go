package system

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"

	"salechain/core/events"
	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
)

// ProgramID is the system program: the default owner of every account
// that has not been allocated.
var ProgramID = crypto.ZeroAddress

// MaxAccountDataLength bounds the space CreateAccount may allocate.
const MaxAccountDataLength = 10 << 20

const (
	opCreateAccount byte = 0
	opTransfer      byte = 1
)

var (
	ErrInvalidInstruction      = errors.New("system: invalid instruction")
	ErrAccountInUse            = errors.New("system: account already in use")
	ErrInsufficientFunds       = errors.New("system: insufficient lamports")
	ErrInvalidSpace            = errors.New("system: requested space too large")
	ErrTransferFromDataAccount = errors.New("system: transfer source carries data")
	ErrLamportOverflow         = errors.New("system: lamport balance overflow")
	ErrNotEnoughAccountKeys    = errors.New("system: not enough account keys")
	ErrOwnerIsSystem           = errors.New("system: new owner must not be the system program when allocating data")
	ErrSourceNotSystemOwned    = errors.New("system: transfer source is not system owned")
)

// Program implements runtime.Program for native lamport movements and
// account allocation.
type Program struct{}

// New returns the system program.
func New() *Program { return &Program{} }

// ID implements runtime.Program.
func (*Program) ID() crypto.Address { return ProgramID }

// CreateAccount builds an instruction that funds a new account up to lamports,
// allocates space and assigns it to owner. The target may already hold
// lamports as long as it is system owned and carries no data.
func CreateAccount(payer, newAccount crypto.Address, lamports, space uint64, owner crypto.Address) types.Instruction {
	data := make([]byte, 1+8+8+crypto.AddressLength)
	data[0] = opCreateAccount
	binary.LittleEndian.PutUint64(data[1:9], lamports)
	binary.LittleEndian.PutUint64(data[9:17], space)
	copy(data[17:], owner[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: payer, Signer: true, Writable: true},
			{Address: newAccount, Signer: true, Writable: true},
		},
		Data: data,
	}
}

// Transfer builds an instruction moving lamports between accounts.
func Transfer(from, to crypto.Address, lamports uint64) types.Instruction {
	data := make([]byte, 1+8)
	data[0] = opTransfer
	binary.LittleEndian.PutUint64(data[1:], lamports)
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: from, Signer: true, Writable: true},
			{Address: to, Writable: true},
		},
		Data: data,
	}
}

// Process implements runtime.Program.
func (p *Program) Process(ctx *runtime.InvokeContext, ix types.Instruction) error {
	if len(ix.Data) == 0 {
		return ErrInvalidInstruction
	}
	switch ix.Data[0] {
	case opCreateAccount:
		if len(ix.Data) != 1+8+8+crypto.AddressLength {
			return fmt.Errorf("%w: create account data length %d", ErrInvalidInstruction, len(ix.Data))
		}
		if len(ix.Accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		var owner crypto.Address
		copy(owner[:], ix.Data[17:])
		return p.createAccount(ctx,
			ix.Accounts[0].Address,
			ix.Accounts[1].Address,
			binary.LittleEndian.Uint64(ix.Data[1:9]),
			binary.LittleEndian.Uint64(ix.Data[9:17]),
			owner,
		)
	case opTransfer:
		if len(ix.Data) != 1+8 {
			return fmt.Errorf("%w: transfer data length %d", ErrInvalidInstruction, len(ix.Data))
		}
		if len(ix.Accounts) < 2 {
			return ErrNotEnoughAccountKeys
		}
		return p.transfer(ctx, ix.Accounts[0].Address, ix.Accounts[1].Address, binary.LittleEndian.Uint64(ix.Data[1:]))
	default:
		return fmt.Errorf("%w: unknown opcode %d", ErrInvalidInstruction, ix.Data[0])
	}
}

func (p *Program) createAccount(ctx *runtime.InvokeContext, payer, target crypto.Address, lamports, space uint64, owner crypto.Address) error {
	if !ctx.IsSigner(payer) {
		return fmt.Errorf("%w: payer %s", runtime.ErrMissingSignature, payer)
	}
	if !ctx.IsSigner(target) {
		return fmt.Errorf("%w: new account %s", runtime.ErrMissingSignature, target)
	}
	if space > MaxAccountDataLength {
		return fmt.Errorf("%w: %d bytes", ErrInvalidSpace, space)
	}
	if space > 0 && owner == ProgramID {
		return ErrOwnerIsSystem
	}
	if payer == target {
		return fmt.Errorf("%w: payer cannot fund itself", ErrAccountInUse)
	}
	existing, err := ctx.Account(target)
	if err != nil {
		return err
	}
	if len(existing.Data) > 0 || existing.Owner != ProgramID {
		return fmt.Errorf("%w: %s", ErrAccountInUse, target)
	}
	// Lamports sent to the address beforehand stay with it; the payer only
	// covers the shortfall.
	var shortfall uint64
	if existing.Lamports < lamports {
		shortfall = lamports - existing.Lamports
	}
	from, err := ctx.Account(payer)
	if err != nil {
		return err
	}
	if from.Lamports < shortfall {
		return fmt.Errorf("%w: payer has %d, needs %d", ErrInsufficientFunds, from.Lamports, shortfall)
	}
	if shortfall > 0 {
		from.Lamports -= shortfall
		if err := ctx.SetAccount(payer, from); err != nil {
			return err
		}
	}
	created := &types.Account{
		Lamports: existing.Lamports + shortfall,
		Owner:    owner,
		Data:     make([]byte, space),
	}
	if err := ctx.SetAccount(target, created); err != nil {
		return err
	}
	ctx.Emit(events.AccountCreated{Payer: payer, Account: target, Owner: owner, Lamports: shortfall, Space: space})
	return nil
}

func (p *Program) transfer(ctx *runtime.InvokeContext, fromAddr, toAddr crypto.Address, lamports uint64) error {
	if !ctx.IsSigner(fromAddr) {
		return fmt.Errorf("%w: transfer source %s", runtime.ErrMissingSignature, fromAddr)
	}
	from, err := ctx.Account(fromAddr)
	if err != nil {
		return err
	}
	if from.Owner != ProgramID {
		return fmt.Errorf("%w: %s", ErrSourceNotSystemOwned, fromAddr)
	}
	if len(from.Data) > 0 {
		return fmt.Errorf("%w: %s", ErrTransferFromDataAccount, fromAddr)
	}
	if from.Lamports < lamports {
		return fmt.Errorf("%w: has %d, needs %d", ErrInsufficientFunds, from.Lamports, lamports)
	}
	if fromAddr == toAddr || lamports == 0 {
		ctx.Emit(events.Transfer{From: fromAddr, To: toAddr, Amount: lamports})
		return nil
	}
	to, err := ctx.Account(toAddr)
	if err != nil {
		return err
	}
	if to.Lamports > math.MaxUint64-lamports {
		return ErrLamportOverflow
	}
	from.Lamports -= lamports
	to.Lamports += lamports
	if err := ctx.SetAccount(fromAddr, from); err != nil {
		return err
	}
	if err := ctx.SetAccount(toAddr, to); err != nil {
		return err
	}
	ctx.Emit(events.Transfer{From: fromAddr, To: toAddr, Amount: lamports})
	return nil
}
