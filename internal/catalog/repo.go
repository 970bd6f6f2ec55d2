package catalog

import (
	"context"
	"errors"
	"strings"

	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository exposes catalog reads plus the post-sale mutations the
// settlement engine performs on beats and bundles.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	FindBeatByID(ctx context.Context, id uuid.UUID) (*models.Beat, error)
	FindBeatByTitle(ctx context.Context, title string) (*models.Beat, error)
	FindActiveBundleByName(ctx context.Context, name string) (*models.Bundle, error)
	FindBundleByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error)
	DeleteExclusiveBeat(ctx context.Context, beatID uuid.UUID) error
	RecomputeBundleAfterSale(ctx context.Context, bundleID uuid.UUID) error
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds a catalog repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

func (r *repository) FindBeatByID(ctx context.Context, id uuid.UUID) (*models.Beat, error) {
	var beat models.Beat
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&beat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "beat not found")
		}
		return nil, err
	}
	return &beat, nil
}

func (r *repository) FindBeatByTitle(ctx context.Context, title string) (*models.Beat, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "beat title is required")
	}
	var beat models.Beat
	err := r.db.WithContext(ctx).Where("title = ?", title).First(&beat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "beat not found")
		}
		return nil, err
	}
	return &beat, nil
}

func (r *repository) FindActiveBundleByName(ctx context.Context, name string) (*models.Bundle, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "bundle name is required")
	}
	var bundle models.Bundle
	err := r.db.WithContext(ctx).
		Preload("Members.Beat").
		Where("name = ? AND is_active = ?", name, true).
		First(&bundle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bundle not found")
		}
		return nil, err
	}
	return &bundle, nil
}

func (r *repository) FindBundleByID(ctx context.Context, id uuid.UUID) (*models.Bundle, error) {
	var bundle models.Bundle
	err := r.db.WithContext(ctx).
		Preload("Members.Beat").
		Where("id = ?", id).
		First(&bundle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "bundle not found")
		}
		return nil, err
	}
	return &bundle, nil
}

// DeleteExclusiveBeat removes a sold exclusive beat. Membership rows go first:
// the beat row cannot be deleted while bundle_members still references it.
func (r *repository) DeleteExclusiveBeat(ctx context.Context, beatID uuid.UUID) error {
	db := r.db.WithContext(ctx)
	if err := db.Where("beat_id = ?", beatID).Delete(&models.BundleMember{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete bundle memberships")
	}
	if err := db.Where("id = ? AND is_exclusive = ?", beatID, true).Delete(&models.Beat{}).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete exclusive beat")
	}
	return nil
}

// RecomputeBundleAfterSale repairs a bundle after its exclusive members were
// sold and removed. An emptied bundle is deleted outright; a shrunk bundle is
// repriced from its surviving members.
func (r *repository) RecomputeBundleAfterSale(ctx context.Context, bundleID uuid.UUID) error {
	db := r.db.WithContext(ctx)

	var bundle models.Bundle
	err := db.Preload("Members.Beat").Where("id = ?", bundleID).First(&bundle).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			// already cleaned up by an earlier pass
			return nil
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load bundle")
	}

	remaining := make([]models.Beat, 0, len(bundle.Members))
	for _, member := range bundle.Members {
		if member.Beat != nil {
			remaining = append(remaining, *member.Beat)
		}
	}

	if len(remaining) == 0 {
		if err := db.Where("bundle_id = ?", bundleID).Delete(&models.BundleMember{}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete emptied bundle members")
		}
		if err := db.Where("id = ?", bundleID).Delete(&models.Bundle{}).Error; err != nil {
			return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "delete emptied bundle")
		}
		return nil
	}

	pricing := RepriceBundle(remaining, bundle.DiscountPercent)
	updates := map[string]any{
		"individual_price_cents": pricing.IndividualPriceCents,
		"bundle_price_cents":     pricing.BundlePriceCents,
		"discount_percent":       pricing.DiscountPercent,
	}
	if err := db.Model(&models.Bundle{}).Where("id = ?", bundleID).Updates(updates).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "update bundle pricing")
	}
	return nil
}
