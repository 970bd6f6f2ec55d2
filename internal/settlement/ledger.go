package settlement

import (
	"context"
	"errors"
	"time"

	"github.com/davidecorsi/beatstore-backend/pkg/logger"
	"github.com/davidecorsi/beatstore-backend/pkg/redis"
)

const ledgerScope = "paypal"

// Ledger is the fast-path duplicate-delivery guard in front of the durable
// order record. It is best effort: Redis being down never blocks settlement,
// the unique constraint on orders remains the authority.
type Ledger struct {
	store redis.IdempotencyStore
	log   *logger.Logger
	ttl   time.Duration
}

func NewLedger(store redis.IdempotencyStore, logg *logger.Logger, ttl time.Duration) (*Ledger, error) {
	if store == nil {
		return nil, errors.New("ledger store is required")
	}
	if logg == nil {
		return nil, errors.New("logger is required")
	}
	if ttl <= 0 {
		return nil, errors.New("ledger ttl must be positive")
	}
	return &Ledger{store: store, log: logg, ttl: ttl}, nil
}

// CheckAndMark records the event id and reports whether this delivery is a
// duplicate within the dedup window. Store failures are logged and treated
// as first delivery.
func (l *Ledger) CheckAndMark(ctx context.Context, eventID, transactionID string) bool {
	if eventID == "" {
		return false
	}
	key := l.store.IdempotencyKey(ledgerScope, eventID)
	set, err := l.store.SetNX(ctx, key, transactionID, l.ttl)
	if err != nil {
		ctx = l.log.WithFields(ctx, map[string]any{"event_id": eventID, "error": err.Error()})
		l.log.Warn(ctx, "idempotency ledger unavailable, proceeding without dedup")
		return false
	}
	return !set
}

// Forget drops the ledger entry so a failed settlement can be redelivered
// inside the dedup window. Best effort.
func (l *Ledger) Forget(ctx context.Context, eventID string) {
	if eventID == "" {
		return
	}
	key := l.store.IdempotencyKey(ledgerScope, eventID)
	if err := l.store.Del(ctx, key); err != nil {
		ctx = l.log.WithFields(ctx, map[string]any{"event_id": eventID, "error": err.Error()})
		l.log.Warn(ctx, "failed to drop ledger entry")
	}
}
