package orders

import (
	"context"
	"errors"
	"strings"
	"time"

	pkgdb "github.com/davidecorsi/beatstore-backend/pkg/db"
	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/google/uuid"
	"gorm.io/gorm"
)

// Repository persists settled orders and the failure records kept for
// webhook debugging.
type Repository interface {
	WithTx(tx *gorm.DB) Repository
	Create(ctx context.Context, order *models.Order) error
	FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error)
	RecordFailure(ctx context.Context, failure *models.WebhookFailure) error
	PruneFailuresBefore(ctx context.Context, cutoffDays int) (int64, error)
}

type repository struct {
	db *gorm.DB
}

// NewRepository builds an order repository bound to the provided DB.
func NewRepository(db *gorm.DB) Repository {
	return &repository{db: db}
}

func (r *repository) WithTx(tx *gorm.DB) Repository {
	if tx == nil {
		return r
	}
	return &repository{db: tx}
}

// Create inserts the order. The unique constraint on transaction_id is the
// authoritative dedup: a violation maps to the duplicate code so callers can
// treat a concurrent replay as already settled.
func (r *repository) Create(ctx context.Context, order *models.Order) error {
	if order == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "order is required")
	}
	if strings.TrimSpace(order.TransactionID) == "" {
		return pkgerrors.New(pkgerrors.CodeValidation, "order transaction id is required")
	}
	if order.ID == uuid.Nil {
		order.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(order).Error; err != nil {
		if pkgdb.IsUniqueViolation(err, "idx_orders_transaction_id") {
			return pkgerrors.Wrap(pkgerrors.CodeDuplicate, err, "order already settled")
		}
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist order")
	}
	return nil
}

func (r *repository) FindByTransactionID(ctx context.Context, transactionID string) (*models.Order, error) {
	transactionID = strings.TrimSpace(transactionID)
	if transactionID == "" {
		return nil, pkgerrors.New(pkgerrors.CodeValidation, "transaction id is required")
	}
	var order models.Order
	err := r.db.WithContext(ctx).Where("transaction_id = ?", transactionID).First(&order).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, pkgerrors.New(pkgerrors.CodeNotFound, "order not found")
		}
		return nil, pkgerrors.Wrap(pkgerrors.CodeDependency, err, "load order")
	}
	return &order, nil
}

// RecordFailure keeps a debug record of a webhook we could not settle.
func (r *repository) RecordFailure(ctx context.Context, failure *models.WebhookFailure) error {
	if failure == nil {
		return pkgerrors.New(pkgerrors.CodeValidation, "failure record is required")
	}
	if failure.ID == uuid.Nil {
		failure.ID = uuid.New()
	}
	if err := r.db.WithContext(ctx).Create(failure).Error; err != nil {
		return pkgerrors.Wrap(pkgerrors.CodeDependency, err, "persist webhook failure")
	}
	return nil
}

// PruneFailuresBefore drops webhook failure records older than the retention
// window, in days.
func (r *repository) PruneFailuresBefore(ctx context.Context, cutoffDays int) (int64, error) {
	if cutoffDays <= 0 {
		return 0, pkgerrors.New(pkgerrors.CodeValidation, "retention days must be positive")
	}
	cutoff := time.Now().UTC().AddDate(0, 0, -cutoffDays)
	result := r.db.WithContext(ctx).
		Where("created_at < ?", cutoff).
		Delete(&models.WebhookFailure{})
	if result.Error != nil {
		return 0, pkgerrors.Wrap(pkgerrors.CodeDependency, result.Error, "prune webhook failures")
	}
	return result.RowsAffected, nil
}
