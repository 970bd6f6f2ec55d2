package reservation

import (
	"context"
	"errors"
	"time"

	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Reservation is a buyer's active hold on a beat.
type Reservation struct {
	BeatID     uuid.UUID
	BeatTitle  string
	BuyerID    int64
	ReservedAt time.Time
	ExpiresAt  time.Time
}

// Repository manages buyer holds on beats. Holds live as columns on the
// beats row itself, so every mutation is a single conditional UPDATE and
// two buyers can never end up holding the same beat.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	ActiveReservation(ctx context.Context, buyerID int64) (*Reservation, error)
	Acquire(ctx context.Context, beatID uuid.UUID, buyerID int64, ttl time.Duration) (bool, error)
	ConfirmHold(ctx context.Context, beatID uuid.UUID, buyerID int64) (bool, error)
	HeldBy(ctx context.Context, beatID uuid.UUID) (int64, bool, error)
	ReleaseBeat(ctx context.Context, beatID uuid.UUID, buyerID int64) (bool, error)
	ReleaseBundle(ctx context.Context, bundleID uuid.UUID, buyerID int64) (int, error)
	PruneExpired(ctx context.Context) (int64, error)
}

type repository struct {
	db  *gorm.DB
	now func() time.Time
}

// NewRepository builds a reservation repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db, now: func() time.Time { return time.Now().UTC() }}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx, now: r.now}
}

// ActiveReservation returns the buyer's current hold, pruning expired holds
// first so a lapsed reservation never reads as active.
func (r *repository) ActiveReservation(ctx context.Context, buyerID int64) (*Reservation, error) {
	if _, err := r.PruneExpired(ctx); err != nil {
		return nil, err
	}

	var beat models.Beat
	err := r.db.WithContext(ctx).
		Where("reserved_by = ?", buyerID).
		Order("reservation_expires_at DESC").
		First(&beat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load active reservation")
	}

	res := &Reservation{BeatID: beat.ID, BeatTitle: beat.Title, BuyerID: buyerID}
	if beat.ReservedAt != nil {
		res.ReservedAt = *beat.ReservedAt
	}
	if beat.ReservationExpiresAt != nil {
		res.ExpiresAt = *beat.ReservationExpiresAt
	}
	return res, nil
}

// Acquire places a hold on the beat for the buyer. The UPDATE only matches
// when the beat is available and either unreserved, expired, or already held
// by the same buyer (which extends the hold). Returns false when someone
// else holds it.
func (r *repository) Acquire(ctx context.Context, beatID uuid.UUID, buyerID int64, ttl time.Duration) (bool, error) {
	now := r.now()
	expires := now.Add(ttl)
	result := r.db.WithContext(ctx).
		Model(&models.Beat{}).
		Where("id = ? AND is_available = ?", beatID, true).
		Where("reserved_by IS NULL OR reservation_expires_at <= ? OR reserved_by = ?", now, buyerID).
		Updates(map[string]any{
			"reserved_by":            buyerID,
			"reserved_at":            now,
			"reservation_expires_at": expires,
		})
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "acquire reservation")
	}
	return result.RowsAffected == 1, nil
}

// ConfirmHold re-validates the buyer's hold with a write touch on the row.
// Run inside the settlement transaction, the touch takes the row's write
// lock, so the hold cannot be released or expire underneath the caller
// before the transaction commits.
func (r *repository) ConfirmHold(ctx context.Context, beatID uuid.UUID, buyerID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Beat{}).
		Where("id = ? AND reserved_by = ? AND reservation_expires_at > ?", beatID, buyerID, r.now()).
		Updates(map[string]any{"reserved_at": gorm.Expr("reserved_at")})
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "confirm reservation hold")
	}
	return result.RowsAffected == 1, nil
}

// HeldBy reports who currently holds the beat, treating lapsed holds as
// absent. Used for audit detail when a settlement is rejected.
func (r *repository) HeldBy(ctx context.Context, beatID uuid.UUID) (int64, bool, error) {
	var beat models.Beat
	err := r.db.WithContext(ctx).Where("id = ?", beatID).First(&beat).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return 0, false, nil
		}
		return 0, false, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load beat hold")
	}
	if beat.ReservedBy == nil || beat.ReservationExpiresAt == nil || !beat.ReservationExpiresAt.After(r.now()) {
		return 0, false, nil
	}
	return *beat.ReservedBy, true, nil
}

// ReleaseBeat clears the buyer's hold on the beat. Returns false when the
// buyer held nothing.
func (r *repository) ReleaseBeat(ctx context.Context, beatID uuid.UUID, buyerID int64) (bool, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Beat{}).
		Where("id = ? AND reserved_by = ?", beatID, buyerID).
		Updates(clearHold())
	if result.Error != nil {
		return false, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "release beat reservation")
	}
	return result.RowsAffected == 1, nil
}

// ReleaseBundle clears every hold the buyer has on beats belonging to the
// bundle and returns how many were released.
func (r *repository) ReleaseBundle(ctx context.Context, bundleID uuid.UUID, buyerID int64) (int, error) {
	members := r.db.Model(&models.BundleMember{}).
		Select("beat_id").
		Where("bundle_id = ?", bundleID)
	result := r.db.WithContext(ctx).
		Model(&models.Beat{}).
		Where("reserved_by = ? AND id IN (?)", buyerID, members).
		Updates(clearHold())
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "release bundle reservations")
	}
	return int(result.RowsAffected), nil
}

// PruneExpired clears every hold whose expiry has passed.
func (r *repository) PruneExpired(ctx context.Context) (int64, error) {
	result := r.db.WithContext(ctx).
		Model(&models.Beat{}).
		Where("reserved_by IS NOT NULL AND reservation_expires_at <= ?", r.now()).
		Updates(clearHold())
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "prune expired reservations")
	}
	return result.RowsAffected, nil
}

func clearHold() map[string]any {
	return map[string]any{
		"reserved_by":            nil,
		"reserved_at":            nil,
		"reservation_expires_at": nil,
	}
}
