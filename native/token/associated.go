package token

import (
	"errors"
	"fmt"

	"salechain/core/runtime"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/system"
)

// AssociatedProgramID addresses the associated token account program.
var AssociatedProgramID = crypto.LabelAddress("salechain/associated-token")

// ErrInvalidAssociatedAddress is returned when the target is not the canonical address.
var ErrInvalidAssociatedAddress = errors.New("token: associated account address mismatch")

func associatedSeeds(wallet, mint crypto.Address) [][]byte {
	return [][]byte{wallet[:], ProgramID[:], mint[:]}
}

// FindAssociatedAddress returns the canonical token account of wallet for
// mint together with its derivation bump.
func FindAssociatedAddress(wallet, mint crypto.Address) (crypto.Address, uint8, error) {
	return crypto.FindProgramAddress(AssociatedProgramID, associatedSeeds(wallet, mint)...)
}

// AssociatedAddress returns the canonical token account of wallet for mint.
func AssociatedAddress(wallet, mint crypto.Address) (crypto.Address, error) {
	addr, _, err := FindAssociatedAddress(wallet, mint)
	if err != nil {
		return crypto.Address{}, fmt.Errorf("token: derive associated address: %w", err)
	}
	return addr, nil
}

// CreateAssociated builds an instruction that allocates and initializes the
// canonical token account of wallet for mint, funded by payer.
func CreateAssociated(payer, wallet, mint crypto.Address) (types.Instruction, error) {
	addr, err := AssociatedAddress(wallet, mint)
	if err != nil {
		return types.Instruction{}, err
	}
	return CreateAssociatedAt(payer, addr, wallet, mint), nil
}

// CreateAssociatedAt is CreateAssociated with an explicit target address.
// The program rejects any address other than the canonical one.
func CreateAssociatedAt(payer, account, wallet, mint crypto.Address) types.Instruction {
	return types.Instruction{
		ProgramID: AssociatedProgramID,
		Accounts: []types.AccountMeta{
			{Address: payer, Signer: true, Writable: true},
			{Address: account, Writable: true},
			{Address: wallet},
			{Address: mint},
			{Address: system.ProgramID},
			{Address: ProgramID},
		},
	}
}

// AssociatedProgram implements runtime.Program for associated account creation.
type AssociatedProgram struct{}

// NewAssociated returns the associated token account program.
func NewAssociated() *AssociatedProgram { return &AssociatedProgram{} }

// ID implements runtime.Program.
func (*AssociatedProgram) ID() crypto.Address { return AssociatedProgramID }

// Process implements runtime.Program.
func (p *AssociatedProgram) Process(ctx *runtime.InvokeContext, ix types.Instruction) error {
	if len(ix.Accounts) < 4 {
		return ErrNotEnoughAccountKeys
	}
	payer := ix.Accounts[0].Address
	target := ix.Accounts[1].Address
	wallet := ix.Accounts[2].Address
	mint := ix.Accounts[3].Address

	expected, bump, err := FindAssociatedAddress(wallet, mint)
	if err != nil {
		return err
	}
	if target != expected {
		return fmt.Errorf("%w: got %s, want %s", ErrInvalidAssociatedAddress, target, expected)
	}

	seeds := append(associatedSeeds(wallet, mint), []byte{bump})
	create := system.CreateAccount(payer, target, ctx.MinimumBalance(AccountLen), AccountLen, ProgramID)
	if err := ctx.InvokeSigned(create, seeds); err != nil {
		return fmt.Errorf("create associated account: %w", err)
	}
	if err := ctx.Invoke(InitializeAccount(target, mint, wallet)); err != nil {
		return fmt.Errorf("initialize associated account: %w", err)
	}
	ctx.Log("created associated account %s for %s", target, wallet)
	return nil
}
