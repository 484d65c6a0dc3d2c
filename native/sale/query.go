package sale

import (
	"errors"
	"fmt"
	"strconv"

	"salechain/core/events"
	"salechain/core/types"
	"salechain/crypto"
	"salechain/native/system"
	"salechain/observability"
)

// ErrNotInitialized is returned by LoadConfig when no record exists yet.
var ErrNotInitialized = errors.New("sale: config not initialized")

// AccountReader reads committed accounts. *state.Manager satisfies it.
type AccountReader interface {
	Account(addr crypto.Address) (*types.Account, error)
}

// LoadConfig reads the committed configuration of the sale run by programID.
func LoadConfig(reader AccountReader, programID crypto.Address) (*Config, error) {
	derived, err := DeriveConfig(programID)
	if err != nil {
		return nil, err
	}
	acc, err := reader.Account(derived.Address)
	if err != nil {
		return nil, err
	}
	if acc.Owner == system.ProgramID {
		return nil, ErrNotInitialized
	}
	if acc.Owner != programID {
		return nil, fmt.Errorf("%w: owned by %s", ErrConfigNotOwned, acc.Owner)
	}
	return DecodeConfig(acc.Data)
}

// MetricsEmitter turns committed sale events into Prometheus counters.
type MetricsEmitter struct{}

// Emit implements events.Emitter.
func (MetricsEmitter) Emit(evt events.Event) {
	if evt == nil {
		return
	}
	switch evt.EventType() {
	case EventTypePurchase:
		flat := events.Flatten(evt)
		units, _ := strconv.ParseUint(flat.Attributes["units"], 10, 64)
		payment, _ := strconv.ParseUint(flat.Attributes["payment"], 10, 64)
		provisioned, _ := strconv.ParseBool(flat.Attributes["provisioned"])
		observability.Sale().RecordPurchase(units, payment, provisioned)
	case EventTypeConfigInitialized:
		observability.Sale().RecordAdmin(InstructionInitializeConfig)
	case EventTypeConfigReset:
		observability.Sale().RecordAdmin(InstructionResetConfig)
	case EventTypePriceUpdated:
		observability.Sale().RecordAdmin(InstructionUpdatePrice)
	case EventTypePaused:
		observability.Sale().RecordAdmin(InstructionPause)
	case EventTypeUnpaused:
		observability.Sale().RecordAdmin(InstructionUnpause)
	}
}
