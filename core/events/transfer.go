package events

import (
	"strconv"

	"salechain/core/types"
	"salechain/crypto"
)

const (
	// TypeTransfer is emitted for native lamport movements.
	TypeTransfer = "transfer.native"
	// TypeTokenTransfer is emitted for fungible token movements.
	TypeTokenTransfer = "transfer.token"
	// TypeAccountCreated is emitted when the system program allocates an account.
	TypeAccountCreated = "account.created"
)

type Transfer struct {
	From   crypto.Address
	To     crypto.Address
	Amount uint64
}

func (Transfer) EventType() string { return TypeTransfer }

func (e Transfer) Event() *types.Event {
	return &types.Event{Type: TypeTransfer, Attributes: map[string]string{
		"from":   e.From.String(),
		"to":     e.To.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

type TokenTransfer struct {
	Mint      crypto.Address
	Source    crypto.Address
	Dest      crypto.Address
	Authority crypto.Address
	Amount    uint64
}

func (TokenTransfer) EventType() string { return TypeTokenTransfer }

func (e TokenTransfer) Event() *types.Event {
	return &types.Event{Type: TypeTokenTransfer, Attributes: map[string]string{
		"mint":      e.Mint.String(),
		"source":    e.Source.String(),
		"dest":      e.Dest.String(),
		"authority": e.Authority.String(),
		"amount":    strconv.FormatUint(e.Amount, 10),
	}}
}

type AccountCreated struct {
	Payer    crypto.Address
	Account  crypto.Address
	Owner    crypto.Address
	Lamports uint64
	Space    uint64
}

func (AccountCreated) EventType() string { return TypeAccountCreated }

func (e AccountCreated) Event() *types.Event {
	return &types.Event{Type: TypeAccountCreated, Attributes: map[string]string{
		"payer":    e.Payer.String(),
		"account":  e.Account.String(),
		"owner":    e.Owner.String(),
		"lamports": strconv.FormatUint(e.Lamports, 10),
		"space":    strconv.FormatUint(e.Space, 10),
	}}
}
