package events

import (
	"encoding/hex"
	"strings"

	"salechain/core/types"
)

// Event represents a structured state change emitted by the chain.
type Event interface {
	EventType() string
}

// Flattener is implemented by events that can render themselves as a
// string-attributed record suitable for receipts and RPC.
type Flattener interface {
	Event
	Event() *types.Event
}

// Emitter broadcasts events to downstream subscribers (e.g. RPC, indexers).
type Emitter interface {
	Emit(Event)
}

// NoopEmitter is a helper that satisfies the Emitter interface while discarding
// all events. It is useful when a component wants to optionally expose events.
type NoopEmitter struct{}

// Emit implements the Emitter interface.
func (NoopEmitter) Emit(Event) {}

// Fanout delivers every event to each member in order.
type Fanout []Emitter

// Emit implements the Emitter interface.
func (f Fanout) Emit(evt Event) {
	for _, emitter := range f {
		if emitter != nil {
			emitter.Emit(evt)
		}
	}
}

// Flatten renders evt as a types.Event. Events that do not implement
// Flattener keep only their type.
func Flatten(evt Event) *types.Event {
	if evt == nil {
		return nil
	}
	if f, ok := evt.(Flattener); ok {
		if out := f.Event(); out != nil {
			return out
		}
	}
	return &types.Event{Type: evt.EventType(), Attributes: map[string]string{}}
}

// Envelope is a flattened event delivered after the transaction that
// produced it has been committed.
type Envelope struct {
	TxHash  [32]byte
	Index   int
	Payload *types.Event
}

// EventType implements Event.
func (e Envelope) EventType() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.Type
}

// Event returns the payload with the transaction hash attached.
func (e Envelope) Event() *types.Event {
	if e.Payload == nil {
		return nil
	}
	attrs := make(map[string]string, len(e.Payload.Attributes)+1)
	for k, v := range e.Payload.Attributes {
		attrs[k] = v
	}
	attrs["txHash"] = FormatHash(e.TxHash)
	return &types.Event{Type: e.Payload.Type, Attributes: attrs}
}

// FormatHash renders a 32-byte hash as lower-case 0x hex.
func FormatHash(h [32]byte) string {
	return "0x" + strings.ToLower(hex.EncodeToString(h[:]))
}
