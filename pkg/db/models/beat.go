package models

import (
	"time"

	"github.com/google/uuid"
)

// Beat is a sellable audio track. Exclusive beats can be sold to exactly one
// buyer and are removed from the catalog after confirmed fulfillment.
//
// Reservations are a transient annotation on the beat row itself: at most one
// active (non-expired) hold at a time, carried by the reserved_* columns.
type Beat struct {
	ID                 uuid.UUID `gorm:"column:id;type:uuid;primaryKey"`
	Title              string    `gorm:"column:title;not null;uniqueIndex:idx_beats_title"`
	Genre              string    `gorm:"column:genre;not null"`
	Mood               string    `gorm:"column:mood;not null"`
	Folder             string    `gorm:"column:folder;not null"`
	PreviewKey         string    `gorm:"column:preview_key;not null"`
	FileKey            string    `gorm:"column:file_key;not null"`
	ImageKey           string    `gorm:"column:image_key;not null"`
	PriceCents         int       `gorm:"column:price_cents;not null"`
	OriginalPriceCents *int      `gorm:"column:original_price_cents"`
	IsExclusive        bool      `gorm:"column:is_exclusive;not null;default:false"`
	IsAvailable        bool      `gorm:"column:is_available;not null;default:true"`
	IsDiscounted       bool      `gorm:"column:is_discounted;not null;default:false"`
	DiscountPercent    int       `gorm:"column:discount_percent;not null;default:0"`

	ReservedBy           *int64     `gorm:"column:reserved_by"`
	ReservedAt           *time.Time `gorm:"column:reserved_at"`
	ReservationExpiresAt *time.Time `gorm:"column:reservation_expires_at"`

	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// ReservedFor reports whether the beat currently holds a live reservation for
// the given buyer.
func (b *Beat) ReservedFor(buyerID int64, now time.Time) bool {
	if b == nil || b.ReservedBy == nil || b.ReservationExpiresAt == nil {
		return false
	}
	return *b.ReservedBy == buyerID && b.ReservationExpiresAt.After(now)
}
