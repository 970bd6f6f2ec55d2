package models

import (
	"time"

	"github.com/google/uuid"

	"github.com/davidecorsi/beatstore-backend/pkg/enums"
)

// Order is the durable record of a settled payment. TransactionID is the
// provider-assigned capture id and the primary idempotency key: created exactly
// once per distinct transaction id, never mutated, never deleted.
type Order struct {
	ID               uuid.UUID       `gorm:"column:id;type:uuid;primaryKey"`
	TransactionID    string          `gorm:"column:transaction_id;not null;uniqueIndex:idx_orders_transaction_id"`
	BuyerID          int64           `gorm:"column:buyer_id;not null"`
	BeatTitle        string          `gorm:"column:beat_title;not null"`
	PayerEmail       string          `gorm:"column:payer_email;not null"`
	AmountCents      int             `gorm:"column:amount_cents;not null"`
	Currency         string          `gorm:"column:currency;not null"`
	FulfillmentToken *string         `gorm:"column:fulfillment_token"`
	BeatID           *uuid.UUID      `gorm:"column:beat_id;type:uuid"`
	BundleID         *uuid.UUID      `gorm:"column:bundle_id;type:uuid"`
	Kind             enums.OrderKind `gorm:"column:kind;not null;default:'item'"`
	CreatedAt        time.Time       `gorm:"column:created_at;autoCreateTime"`
}
