package models

import (
	"time"

	"github.com/google/uuid"
)

// Bundle groups beats under a promotional price. The invariant
// bundle_price = individual_price * (1 - discount_percent/100) is recomputed
// whenever membership changes.
type Bundle struct {
	ID                   uuid.UUID      `gorm:"column:id;type:uuid;primaryKey"`
	Name                 string         `gorm:"column:name;not null;uniqueIndex:idx_bundles_name"`
	IndividualPriceCents int            `gorm:"column:individual_price_cents;not null"`
	BundlePriceCents     int            `gorm:"column:bundle_price_cents;not null"`
	DiscountPercent      int            `gorm:"column:discount_percent;not null;default:0"`
	IsActive             bool           `gorm:"column:is_active;not null;default:true"`
	Members              []BundleMember `gorm:"foreignKey:BundleID;constraint:OnDelete:CASCADE"`
	CreatedAt            time.Time      `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt            time.Time      `gorm:"column:updated_at;autoUpdateTime"`
}

// BundleMember links a beat into a bundle.
type BundleMember struct {
	BundleID  uuid.UUID `gorm:"column:bundle_id;type:uuid;primaryKey"`
	BeatID    uuid.UUID `gorm:"column:beat_id;type:uuid;primaryKey"`
	Beat      *Beat     `gorm:"foreignKey:BeatID"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}
