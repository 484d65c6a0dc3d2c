package events

import (
	"testing"

	"github.com/stretchr/testify/require"

	"salechain/core/types"
	"salechain/crypto"
)

func TestBrokerFiltersByType(t *testing.T) {
	b := NewBroker()
	all := b.Subscribe(4)
	tokens := b.Subscribe(4, TypeTokenTransfer)
	require.Equal(t, 2, b.Subscribers())

	addr := crypto.LabelAddress("broker")
	b.Emit(Transfer{From: addr, To: addr, Amount: 1})
	b.Emit(Envelope{TxHash: [32]byte{1}, Payload: &types.Event{Type: TypeTokenTransfer, Attributes: map[string]string{"amount": "7"}}})

	first := <-all.C()
	require.Equal(t, TypeTransfer, first.Type)
	second := <-all.C()
	require.Equal(t, TypeTokenTransfer, second.Type)
	require.Equal(t, FormatHash([32]byte{1}), second.Attributes["txHash"])

	only := <-tokens.C()
	require.Equal(t, "7", only.Attributes["amount"])
	require.Empty(t, tokens.C())
}

func TestBrokerDropsWhenFull(t *testing.T) {
	b := NewBroker()
	sub := b.Subscribe(1)
	b.Emit(bareEvent{})
	b.Emit(bareEvent{})
	b.Emit(bareEvent{})
	require.Equal(t, uint64(2), sub.Dropped())

	sub.Cancel()
	sub.Cancel()
	require.Zero(t, b.Subscribers())
	_, open := <-sub.C()
	require.True(t, open, "buffered event survives cancel")
	_, open = <-sub.C()
	require.False(t, open)

	b.Emit(bareEvent{})
}
