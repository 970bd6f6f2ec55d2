package models

import (
	"time"

	"github.com/google/uuid"
)

// WebhookFailure is a best-effort debug record persisted when a delivery
// carries correlation data we cannot resolve. It keeps the raw amount and ids
// around so a paid-but-unresolvable capture can be reconciled by hand.
type WebhookFailure struct {
	ID            uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	EventID       string    `gorm:"column:event_id;not null"`
	TransactionID string    `gorm:"column:transaction_id;not null"`
	RawAmount     string    `gorm:"column:raw_amount;not null;default:''"`
	Currency      string    `gorm:"column:currency;not null;default:''"`
	Reason        string    `gorm:"column:reason;not null"`
	CreatedAt     time.Time `gorm:"column:created_at;autoCreateTime"`
}
