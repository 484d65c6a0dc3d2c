package sale

import (
	"bytes"
	"encoding/binary"
	"fmt"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/system"
	"salechain/native/token"
)

// Instruction names, hashed into 8-byte discriminators.
const (
	InstructionInitializeConfig = "initialize_config"
	InstructionResetConfig      = "reset_config"
	InstructionUpdatePrice      = "update_price"
	InstructionPause            = "pause"
	InstructionUnpause          = "unpause"
	InstructionBuy              = "buy"
)

// Discriminator returns the 8-byte prefix identifying an instruction.
func Discriminator(name string) []byte {
	return ethcrypto.Keccak256([]byte("global:" + name))[:8]
}

var discriminators = map[string][]byte{
	InstructionInitializeConfig: Discriminator(InstructionInitializeConfig),
	InstructionResetConfig:      Discriminator(InstructionResetConfig),
	InstructionUpdatePrice:      Discriminator(InstructionUpdatePrice),
	InstructionPause:            Discriminator(InstructionPause),
	InstructionUnpause:          Discriminator(InstructionUnpause),
	InstructionBuy:              Discriminator(InstructionBuy),
}

func instructionName(data []byte) (string, error) {
	if len(data) < 8 {
		return "", fmt.Errorf("%w: data shorter than discriminator", ErrInvalidInstruction)
	}
	for name, disc := range discriminators {
		if bytes.Equal(data[:8], disc) {
			return name, nil
		}
	}
	return "", fmt.Errorf("%w: unknown discriminator %x", ErrInvalidInstruction, data[:8])
}

func encode(name string, args ...any) []byte {
	buf := bytes.NewBuffer(append([]byte(nil), discriminators[name]...))
	for _, arg := range args {
		switch v := arg.(type) {
		case uint64:
			var word [8]byte
			binary.LittleEndian.PutUint64(word[:], v)
			buf.Write(word[:])
		case crypto.Address:
			buf.Write(v[:])
		default:
			panic(fmt.Sprintf("sale: unsupported instruction argument %T", arg))
		}
	}
	return buf.Bytes()
}

// NewInitializeConfig builds an initialize_config instruction signed by owner.
func NewInitializeConfig(programID, owner crypto.Address, price uint64, recipient crypto.Address) (types.Instruction, error) {
	cfg, err := DeriveConfig(programID)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts: []types.AccountMeta{
			{Address: cfg.Address, Writable: true},
			{Address: owner, Signer: true, Writable: true},
			{Address: system.ProgramID},
		},
		Data: encode(InstructionInitializeConfig, price, recipient),
	}, nil
}

func adminInstruction(programID, owner crypto.Address, data []byte) (types.Instruction, error) {
	cfg, err := DeriveConfig(programID)
	if err != nil {
		return types.Instruction{}, err
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts: []types.AccountMeta{
			{Address: cfg.Address, Writable: true},
			{Address: owner, Signer: true},
		},
		Data: data,
	}, nil
}

// NewResetConfig builds a reset_config instruction.
func NewResetConfig(programID, owner crypto.Address, price uint64, recipient crypto.Address) (types.Instruction, error) {
	return adminInstruction(programID, owner, encode(InstructionResetConfig, price, recipient))
}

// NewUpdatePrice builds an update_price instruction.
func NewUpdatePrice(programID, owner crypto.Address, price uint64) (types.Instruction, error) {
	return adminInstruction(programID, owner, encode(InstructionUpdatePrice, price))
}

// NewPause builds a pause instruction.
func NewPause(programID, owner crypto.Address) (types.Instruction, error) {
	return adminInstruction(programID, owner, encode(InstructionPause))
}

// NewUnpause builds an unpause instruction.
func NewUnpause(programID, owner crypto.Address) (types.Instruction, error) {
	return adminInstruction(programID, owner, encode(InstructionUnpause))
}

// BuyParams names the parties of a buy instruction. ReceivingAccount
// defaults to the buyer's associated token account.
type BuyParams struct {
	Buyer            crypto.Address
	Custody          crypto.Address
	Mint             crypto.Address
	PayoutRecipient  crypto.Address
	ReceivingAccount crypto.Address
	Units            uint64
}

// NewBuy builds a buy instruction.
func NewBuy(programID crypto.Address, p BuyParams) (types.Instruction, error) {
	cfg, err := DeriveConfig(programID)
	if err != nil {
		return types.Instruction{}, err
	}
	authority, err := DeriveAuthority(programID)
	if err != nil {
		return types.Instruction{}, err
	}
	receiving := p.ReceivingAccount
	if receiving.IsZero() {
		receiving, err = token.AssociatedAddress(p.Buyer, p.Mint)
		if err != nil {
			return types.Instruction{}, err
		}
	}
	return types.Instruction{
		ProgramID: programID,
		Accounts: []types.AccountMeta{
			{Address: p.Custody, Writable: true},
			{Address: p.Buyer, Signer: true, Writable: true},
			{Address: receiving, Writable: true},
			{Address: p.PayoutRecipient, Writable: true},
			{Address: authority.Address},
			{Address: cfg.Address},
			{Address: p.Mint},
			{Address: token.ProgramID},
			{Address: system.ProgramID},
			{Address: token.AssociatedProgramID},
		},
		Data: encode(InstructionBuy, p.Units),
	}, nil
}
