package sale

import (
	"strconv"

	"salechain/core/types"
	"salechain/crypto"
)

const (
	// EventTypeConfigInitialized is emitted when the configuration record is created or re-applied.
	EventTypeConfigInitialized = "sale.config.initialized"
	// EventTypeConfigReset is emitted when the owner resets price and recipient.
	EventTypeConfigReset = "sale.config.reset"
	// EventTypePriceUpdated is emitted when the owner changes the price.
	EventTypePriceUpdated = "sale.price.updated"
	// EventTypePaused is emitted when the owner halts settlement.
	EventTypePaused = "sale.paused"
	// EventTypeUnpaused is emitted when the owner resumes settlement.
	EventTypeUnpaused = "sale.unpaused"
	// EventTypePurchase is emitted for every settled buy.
	EventTypePurchase = "sale.purchase"
)

type saleEvent struct {
	evt *types.Event
}

func (e saleEvent) EventType() string {
	if e.evt == nil {
		return ""
	}
	return e.evt.Type
}

// Event implements events.Flattener.
func (e saleEvent) Event() *types.Event {
	return e.evt
}

func newEvent(eventType string, attrs map[string]string) saleEvent {
	return saleEvent{evt: &types.Event{Type: eventType, Attributes: attrs}}
}

func configAttributes(config crypto.Address, cfg *Config) map[string]string {
	return map[string]string{
		"config":          config.String(),
		"owner":           cfg.Owner.String(),
		"payoutRecipient": cfg.PayoutRecipient.String(),
		"pricePerUnit":    strconv.FormatUint(cfg.PricePerUnit, 10),
		"paused":          strconv.FormatBool(cfg.Paused),
	}
}

func configInitializedEvent(config crypto.Address, cfg *Config, created bool) saleEvent {
	attrs := configAttributes(config, cfg)
	attrs["created"] = strconv.FormatBool(created)
	return newEvent(EventTypeConfigInitialized, attrs)
}

func configResetEvent(config crypto.Address, cfg *Config) saleEvent {
	return newEvent(EventTypeConfigReset, configAttributes(config, cfg))
}

func priceUpdatedEvent(config crypto.Address, previous, next uint64) saleEvent {
	return newEvent(EventTypePriceUpdated, map[string]string{
		"config":        config.String(),
		"previousPrice": strconv.FormatUint(previous, 10),
		"pricePerUnit":  strconv.FormatUint(next, 10),
	})
}

func pauseEvent(eventType string, config, owner crypto.Address) saleEvent {
	return newEvent(eventType, map[string]string{
		"config": config.String(),
		"owner":  owner.String(),
	})
}

func purchaseEvent(p *Purchase) saleEvent {
	return newEvent(EventTypePurchase, map[string]string{
		"buyer":            p.Buyer.String(),
		"receivingAccount": p.ReceivingAccount.String(),
		"custody":          p.Custody.String(),
		"mint":             p.Mint.String(),
		"payoutRecipient":  p.PayoutRecipient.String(),
		"units":            strconv.FormatUint(p.Units, 10),
		"pricePerUnit":     strconv.FormatUint(p.PricePerUnit, 10),
		"payment":          strconv.FormatUint(p.Payment, 10),
		"provisioned":      strconv.FormatBool(p.Provisioned),
	})
}
