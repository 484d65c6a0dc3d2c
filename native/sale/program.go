package sale

import (
	"encoding/binary"
	"fmt"

	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/observability"
)

// DefaultProgramID is the address the node registers the sale program at
// unless configured otherwise.
var DefaultProgramID = crypto.LabelAddress("salechain/sale")

// Program implements runtime.Program by decoding instructions and handing
// them to the Engine.
type Program struct {
	id     crypto.Address
	engine *Engine
}

// NewProgram returns the sale program addressed by id.
func NewProgram(id crypto.Address) *Program {
	return &Program{id: id, engine: NewEngine()}
}

// ID implements runtime.Program.
func (p *Program) ID() crypto.Address { return p.id }

// Process implements runtime.Program.
func (p *Program) Process(ctx *runtime.InvokeContext, ix types.Instruction) error {
	err := p.dispatch(ctx, ix)
	if saleErr, ok := AsError(err); ok {
		observability.Sale().RecordFailure(saleErr.Name)
	}
	return err
}

func (p *Program) dispatch(h Host, ix types.Instruction) error {
	name, err := instructionName(ix.Data)
	if err != nil {
		return err
	}
	args := ix.Data[8:]
	accounts := ix.Accounts

	switch name {
	case InstructionInitializeConfig:
		if err := need(accounts, 2); err != nil {
			return err
		}
		price, recipient, err := priceAndRecipient(args)
		if err != nil {
			return err
		}
		return p.engine.InitializeConfig(h, InitializeAccounts{
			Config: accounts[0].Address,
			Owner:  accounts[1].Address,
		}, price, recipient)
	case InstructionResetConfig:
		if err := need(accounts, 2); err != nil {
			return err
		}
		price, recipient, err := priceAndRecipient(args)
		if err != nil {
			return err
		}
		return p.engine.ResetConfig(h, admin(accounts), price, recipient)
	case InstructionUpdatePrice:
		if err := need(accounts, 2); err != nil {
			return err
		}
		price, err := uint64Arg(args)
		if err != nil {
			return err
		}
		return p.engine.UpdatePrice(h, admin(accounts), price)
	case InstructionPause, InstructionUnpause:
		if err := need(accounts, 2); err != nil {
			return err
		}
		if len(args) != 0 {
			return fmt.Errorf("%w: %s takes no arguments", ErrInvalidInstruction, name)
		}
		if name == InstructionPause {
			return p.engine.Pause(h, admin(accounts))
		}
		return p.engine.Unpause(h, admin(accounts))
	case InstructionBuy:
		if err := need(accounts, 10); err != nil {
			return err
		}
		units, err := uint64Arg(args)
		if err != nil {
			return err
		}
		_, err = p.engine.Buy(h, BuyAccounts{
			Custody:          accounts[0].Address,
			Buyer:            accounts[1].Address,
			ReceivingAccount: accounts[2].Address,
			PayoutRecipient:  accounts[3].Address,
			Authority:        accounts[4].Address,
			Config:           accounts[5].Address,
			Mint:             accounts[6].Address,
		}, units)
		return err
	default:
		return fmt.Errorf("%w: %s", ErrInvalidInstruction, name)
	}
}

func need(accounts []types.AccountMeta, n int) error {
	if len(accounts) < n {
		return fmt.Errorf("%w: have %d, need %d", ErrNotEnoughAccounts, len(accounts), n)
	}
	return nil
}

func admin(accounts []types.AccountMeta) AdminAccounts {
	return AdminAccounts{Config: accounts[0].Address, Owner: accounts[1].Address}
}

func uint64Arg(args []byte) (uint64, error) {
	if len(args) != 8 {
		return 0, fmt.Errorf("%w: expected 8 argument bytes, got %d", ErrInvalidInstruction, len(args))
	}
	return binary.LittleEndian.Uint64(args), nil
}

func priceAndRecipient(args []byte) (uint64, crypto.Address, error) {
	var recipient crypto.Address
	if len(args) != 8+crypto.AddressLength {
		return 0, recipient, fmt.Errorf("%w: expected %d argument bytes, got %d", ErrInvalidInstruction, 8+crypto.AddressLength, len(args))
	}
	copy(recipient[:], args[8:])
	return binary.LittleEndian.Uint64(args[:8]), recipient, nil
}
