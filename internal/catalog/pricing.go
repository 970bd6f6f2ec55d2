package catalog

import (
	"github.com/shopspring/decimal"

	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
)

// minShrunkDiscountPercent is the discount floor applied when a bundle loses
// members: a shrunk bundle never advertises less than this discount.
const minShrunkDiscountPercent = 10

// BundlePricing is the recomputed price state for a bundle.
type BundlePricing struct {
	IndividualPriceCents int
	BundlePriceCents     int
	DiscountPercent      int
}

var oneHundred = decimal.NewFromInt(100)

// RepriceBundle recomputes bundle pricing from the surviving members:
// individual price is the plain sum, the discount keeps its original value but
// never drops below the floor, and the bundle price follows
// individual * (1 - discount/100), rounded to whole cents.
func RepriceBundle(members []models.Beat, originalDiscountPercent int) BundlePricing {
	individual := 0
	for _, beat := range members {
		individual += beat.PriceCents
	}

	discount := originalDiscountPercent
	if discount < minShrunkDiscountPercent {
		discount = minShrunkDiscountPercent
	}

	factor := oneHundred.Sub(decimal.NewFromInt(int64(discount))).Div(oneHundred)
	bundlePrice := decimal.NewFromInt(int64(individual)).Mul(factor).Round(0)

	return BundlePricing{
		IndividualPriceCents: individual,
		BundlePriceCents:     int(bundlePrice.IntPart()),
		DiscountPercent:      discount,
	}
}
