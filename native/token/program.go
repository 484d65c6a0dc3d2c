package token

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/holiman/uint256"

	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
)

// ProgramID addresses the token program.
var ProgramID = crypto.LabelAddress("salechain/token")

const (
	opInitializeMint    byte = 0
	opInitializeAccount byte = 1
	opMintTo            byte = 2
	opTransfer          byte = 3
)

var (
	ErrInvalidInstruction    = errors.New("token: invalid instruction")
	ErrNotEnoughAccountKeys  = errors.New("token: not enough account keys")
	ErrIncorrectProgramOwner = errors.New("token: account not owned by token program")
	ErrAlreadyInitialized    = errors.New("token: account already initialized")
	ErrUninitialized         = errors.New("token: account not initialized")
	ErrNotRentExempt         = errors.New("token: account not rent exempt")
	ErrMintMismatch          = errors.New("token: account mint mismatch")
	ErrOwnerMismatch         = errors.New("token: authority does not own the source account")
	ErrInsufficientFunds     = errors.New("token: insufficient funds")
	ErrOverflow              = errors.New("token: amount overflow")
)

// Program implements runtime.Program for fungible token balances.
type Program struct{}

// New returns the token program.
func New() *Program { return &Program{} }

// ID implements runtime.Program.
func (*Program) ID() crypto.Address { return ProgramID }

// InitializeMint sets up an allocated mint account.
func InitializeMint(mint crypto.Address, decimals uint8, authority crypto.Address) types.Instruction {
	data := make([]byte, 1+1+crypto.AddressLength)
	data[0] = opInitializeMint
	data[1] = decimals
	copy(data[2:], authority[:])
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts:  []types.AccountMeta{{Address: mint, Writable: true}},
		Data:      data,
	}
}

// InitializeAccount sets up an allocated token account for owner.
func InitializeAccount(account, mint, owner crypto.Address) types.Instruction {
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: account, Writable: true},
			{Address: mint},
			{Address: owner},
		},
		Data: []byte{opInitializeAccount},
	}
}

// MintTo issues new units into dest, signed by the mint authority.
func MintTo(mint, dest, authority crypto.Address, amount uint64) types.Instruction {
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: mint, Writable: true},
			{Address: dest, Writable: true},
			{Address: authority, Signer: true},
		},
		Data: amountData(opMintTo, amount),
	}
}

// Transfer moves units between two accounts of the same mint, signed by
// the source account's owner.
func Transfer(source, dest, authority crypto.Address, amount uint64) types.Instruction {
	return types.Instruction{
		ProgramID: ProgramID,
		Accounts: []types.AccountMeta{
			{Address: source, Writable: true},
			{Address: dest, Writable: true},
			{Address: authority, Signer: true},
		},
		Data: amountData(opTransfer, amount),
	}
}

func amountData(op byte, amount uint64) []byte {
	data := make([]byte, 9)
	data[0] = op
	binary.LittleEndian.PutUint64(data[1:], amount)
	return data
}

// Process implements runtime.Program.
func (p *Program) Process(ctx *runtime.InvokeContext, ix types.Instruction) error {
	if len(ix.Data) == 0 {
		return ErrInvalidInstruction
	}
	accounts := ix.Accounts
	switch op := ix.Data[0]; op {
	case opInitializeMint:
		if len(ix.Data) != 2+crypto.AddressLength {
			return fmt.Errorf("%w: initialize mint data length %d", ErrInvalidInstruction, len(ix.Data))
		}
		if len(accounts) < 1 {
			return ErrNotEnoughAccountKeys
		}
		var authority crypto.Address
		copy(authority[:], ix.Data[2:])
		return p.initializeMint(ctx, accounts[0].Address, ix.Data[1], authority)
	case opInitializeAccount:
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		return p.initializeAccount(ctx, accounts[0].Address, accounts[1].Address, accounts[2].Address)
	case opMintTo, opTransfer:
		if len(ix.Data) != 9 {
			return fmt.Errorf("%w: amount data length %d", ErrInvalidInstruction, len(ix.Data))
		}
		if len(accounts) < 3 {
			return ErrNotEnoughAccountKeys
		}
		amount := binary.LittleEndian.Uint64(ix.Data[1:])
		if op == opMintTo {
			return p.mintTo(ctx, accounts[0].Address, accounts[1].Address, accounts[2].Address, amount)
		}
		return p.transfer(ctx, accounts[0].Address, accounts[1].Address, accounts[2].Address, amount)
	default:
		return fmt.Errorf("%w: unknown opcode %d", ErrInvalidInstruction, op)
	}
}

func (p *Program) initializeMint(ctx *runtime.InvokeContext, mintAddr crypto.Address, decimals uint8, authority crypto.Address) error {
	acc, err := ownedAccount(ctx, mintAddr)
	if err != nil {
		return err
	}
	if len(acc.Data) != MintLen {
		return fmt.Errorf("%w: length %d", ErrInvalidMintData, len(acc.Data))
	}
	if acc.Data[41] != 0 {
		return fmt.Errorf("%w: mint %s", ErrAlreadyInitialized, mintAddr)
	}
	if acc.Lamports < ctx.MinimumBalance(MintLen) {
		return fmt.Errorf("%w: mint %s", ErrNotRentExempt, mintAddr)
	}
	mint := &Mint{Authority: authority, Decimals: decimals, Initialized: true}
	acc.Data = mint.Encode()
	return ctx.SetAccount(mintAddr, acc)
}

func (p *Program) initializeAccount(ctx *runtime.InvokeContext, accountAddr, mintAddr, owner crypto.Address) error {
	acc, err := ownedAccount(ctx, accountAddr)
	if err != nil {
		return err
	}
	if len(acc.Data) != AccountLen {
		return fmt.Errorf("%w: length %d", ErrInvalidAccountData, len(acc.Data))
	}
	if acc.Data[72] != byte(StateUninitialized) {
		return fmt.Errorf("%w: account %s", ErrAlreadyInitialized, accountAddr)
	}
	if acc.Lamports < ctx.MinimumBalance(AccountLen) {
		return fmt.Errorf("%w: account %s", ErrNotRentExempt, accountAddr)
	}
	if _, err := loadMint(ctx, mintAddr); err != nil {
		return err
	}
	state := &Account{Mint: mintAddr, Owner: owner, State: StateInitialized}
	acc.Data = state.Encode()
	return ctx.SetAccount(accountAddr, acc)
}

func (p *Program) mintTo(ctx *runtime.InvokeContext, mintAddr, destAddr, authority crypto.Address, amount uint64) error {
	mint, err := loadMint(ctx, mintAddr)
	if err != nil {
		return err
	}
	if mint.Authority != authority {
		return fmt.Errorf("%w: mint authority", ErrOwnerMismatch)
	}
	if !ctx.IsSigner(authority) {
		return fmt.Errorf("%w: mint authority %s", runtime.ErrMissingSignature, authority)
	}
	destRaw, dest, err := loadTokenAccount(ctx, destAddr)
	if err != nil {
		return err
	}
	if dest.Mint != mintAddr {
		return ErrMintMismatch
	}
	supply, err := checkedAdd(mint.Supply, amount)
	if err != nil {
		return err
	}
	balance, err := checkedAdd(dest.Amount, amount)
	if err != nil {
		return err
	}
	mint.Supply = supply
	dest.Amount = balance

	mintRaw, err := ctx.Account(mintAddr)
	if err != nil {
		return err
	}
	mintRaw.Data = mint.Encode()
	if err := ctx.SetAccount(mintAddr, mintRaw); err != nil {
		return err
	}
	destRaw.Data = dest.Encode()
	if err := ctx.SetAccount(destAddr, destRaw); err != nil {
		return err
	}
	ctx.Emit(Minted{Mint: mintAddr, Dest: destAddr, Amount: amount})
	return nil
}

func (p *Program) transfer(ctx *runtime.InvokeContext, sourceAddr, destAddr, authority crypto.Address, amount uint64) error {
	sourceRaw, source, err := loadTokenAccount(ctx, sourceAddr)
	if err != nil {
		return err
	}
	destRaw, dest, err := loadTokenAccount(ctx, destAddr)
	if err != nil {
		return err
	}
	if source.Mint != dest.Mint {
		return ErrMintMismatch
	}
	if source.Owner != authority {
		return fmt.Errorf("%w: owner %s, authority %s", ErrOwnerMismatch, source.Owner, authority)
	}
	if !ctx.IsSigner(authority) {
		return fmt.Errorf("%w: authority %s", runtime.ErrMissingSignature, authority)
	}
	if source.Amount < amount {
		return fmt.Errorf("%w: has %d, needs %d", ErrInsufficientFunds, source.Amount, amount)
	}
	if sourceAddr != destAddr {
		balance, err := checkedAdd(dest.Amount, amount)
		if err != nil {
			return err
		}
		source.Amount -= amount
		dest.Amount = balance
		sourceRaw.Data = source.Encode()
		if err := ctx.SetAccount(sourceAddr, sourceRaw); err != nil {
			return err
		}
		destRaw.Data = dest.Encode()
		if err := ctx.SetAccount(destAddr, destRaw); err != nil {
			return err
		}
	}
	ctx.Emit(transferEvent(source.Mint, sourceAddr, destAddr, authority, amount))
	return nil
}

func ownedAccount(ctx *runtime.InvokeContext, addr crypto.Address) (*types.Account, error) {
	acc, err := ctx.Account(addr)
	if err != nil {
		return nil, err
	}
	if acc.Owner != ProgramID {
		return nil, fmt.Errorf("%w: %s", ErrIncorrectProgramOwner, addr)
	}
	return acc, nil
}

func loadMint(ctx *runtime.InvokeContext, addr crypto.Address) (*Mint, error) {
	acc, err := ownedAccount(ctx, addr)
	if err != nil {
		return nil, err
	}
	mint, err := DecodeMint(acc.Data)
	if err != nil {
		return nil, err
	}
	if !mint.Initialized {
		return nil, fmt.Errorf("%w: mint %s", ErrUninitialized, addr)
	}
	return mint, nil
}

func loadTokenAccount(ctx *runtime.InvokeContext, addr crypto.Address) (*types.Account, *Account, error) {
	acc, err := ownedAccount(ctx, addr)
	if err != nil {
		return nil, nil, err
	}
	state, err := DecodeAccount(acc.Data)
	if err != nil {
		return nil, nil, err
	}
	if !state.Initialized() {
		return nil, nil, fmt.Errorf("%w: account %s", ErrUninitialized, addr)
	}
	return acc, state, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum, overflow := new(uint256.Int).AddOverflow(uint256.NewInt(a), uint256.NewInt(b))
	if overflow || !sum.IsUint64() {
		return 0, ErrOverflow
	}
	return sum.Uint64(), nil
}
