package token

import (
	"strconv"

	"salechain/core/events"
	"salechain/core/types"
	"salechain/crypto"
)

const (
	// EventTypeMinted is emitted when supply is issued.
	EventTypeMinted = "token.minted"
)

type Minted struct {
	Mint   crypto.Address
	Dest   crypto.Address
	Amount uint64
}

func (Minted) EventType() string { return EventTypeMinted }

func (e Minted) Event() *types.Event {
	return &types.Event{Type: EventTypeMinted, Attributes: map[string]string{
		"mint":   e.Mint.String(),
		"dest":   e.Dest.String(),
		"amount": strconv.FormatUint(e.Amount, 10),
	}}
}

func transferEvent(mint, source, dest, authority crypto.Address, amount uint64) events.TokenTransfer {
	return events.TokenTransfer{Mint: mint, Source: source, Dest: dest, Authority: authority, Amount: amount}
}
