package orders

import (
	"context"
	"testing"
	"time"

	"github.com/davidecorsi/beatstore-backend/pkg/db/models"
	"github.com/davidecorsi/beatstore-backend/pkg/enums"
	pkgerrors "github.com/davidecorsi/beatstore-backend/pkg/errors"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := "file:orders_" + uuid.NewString() + "?mode=memory&cache=shared"
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.Order{}, &models.WebhookFailure{}))
	return db
}

func sampleOrder(txnID string) *models.Order {
	return &models.Order{
		TransactionID: txnID,
		BuyerID:       100,
		BeatTitle:     "Midnight Drive",
		PayerEmail:    "buyer@example.com",
		AmountCents:   2500,
		Currency:      "EUR",
		Kind:          enums.OrderKindItem,
	}
}

func TestCreateMapsUniqueViolationToDuplicate(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleOrder("TXN-1")))

	err := repo.Create(ctx, sampleOrder("TXN-1"))
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected a typed error, got %v", err)
	assert.Equal(t, pkgerrors.CodeDuplicate, typed.Code())
}

func TestCreateValidatesInput(t *testing.T) {
	t.Parallel()

	repo := NewRepository(newTestDB(t))
	ctx := context.Background()

	assert.Error(t, repo.Create(ctx, nil))
	assert.Error(t, repo.Create(ctx, sampleOrder("  ")))
}

func TestFindByTransactionID(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	require.NoError(t, repo.Create(ctx, sampleOrder("TXN-2")))

	order, err := repo.FindByTransactionID(ctx, "TXN-2")
	require.NoError(t, err)
	assert.Equal(t, "Midnight Drive", order.BeatTitle)
	assert.Equal(t, int64(100), order.BuyerID)

	_, err = repo.FindByTransactionID(ctx, "TXN-MISSING")
	typed := pkgerrors.As(err)
	require.NotNil(t, typed, "expected a typed error, got %v", err)
	assert.Equal(t, pkgerrors.CodeNotFound, typed.Code())
}

func TestRecordFailureAndPrune(t *testing.T) {
	t.Parallel()

	db := newTestDB(t)
	repo := NewRepository(db)
	ctx := context.Background()

	old := &models.WebhookFailure{
		EventID:       "WH-old",
		TransactionID: "TXN-old",
		RawAmount:     "12.00",
		Currency:      "EUR",
		Reason:        "unresolvable buyer",
	}
	require.NoError(t, repo.RecordFailure(ctx, old))
	stale := time.Now().UTC().AddDate(0, 0, -40)
	require.NoError(t, db.Model(&models.WebhookFailure{}).Where("id = ?", old.ID).Update("created_at", stale).Error)

	fresh := &models.WebhookFailure{EventID: "WH-new", Reason: "unresolvable buyer"}
	require.NoError(t, repo.RecordFailure(ctx, fresh))

	pruned, err := repo.PruneFailuresBefore(ctx, 30)
	require.NoError(t, err)
	assert.Equal(t, int64(1), pruned)

	var count int64
	db.Model(&models.WebhookFailure{}).Count(&count)
	assert.Equal(t, int64(1), count, "the fresh record must survive")

	_, err = repo.PruneFailuresBefore(ctx, 0)
	assert.Error(t, err, "non-positive retention should fail")
}
