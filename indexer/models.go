package indexer

import (
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Purchase is one settled buy as observed on the committed event stream.
// Amounts are kept as base-10 strings since sqlite integers are signed.
type Purchase struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey" json:"id"`
	TxHash           string    `gorm:"size:66;uniqueIndex:idx_purchase_event" json:"txHash"`
	EventIndex       int       `gorm:"uniqueIndex:idx_purchase_event" json:"eventIndex"`
	Buyer            string    `gorm:"size:128;index" json:"buyer"`
	ReceivingAccount string    `gorm:"size:128" json:"receivingAccount"`
	Mint             string    `gorm:"size:128;index" json:"mint"`
	PayoutRecipient  string    `gorm:"size:128" json:"payoutRecipient"`
	Units            string    `gorm:"size:32;not null" json:"units"`
	PricePerUnit     string    `gorm:"size:32;not null" json:"pricePerUnit"`
	Payment          string    `gorm:"size:32;not null" json:"payment"`
	Provisioned      bool      `json:"provisioned"`
	CreatedAt        time.Time `json:"createdAt"`
}

// BeforeCreate assigns an identifier when the caller left it empty.
func (p *Purchase) BeforeCreate(*gorm.DB) error {
	if p.ID == uuid.Nil {
		p.ID = uuid.New()
	}
	return nil
}

// AutoMigrate performs all schema migrations for the indexer.
func AutoMigrate(db *gorm.DB) error {
	return db.AutoMigrate(&Purchase{})
}
