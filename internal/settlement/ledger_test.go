package settlement

import (
	"context"
	"errors"
	"testing"
	"time"
)

type stubLedgerStore struct {
	entries map[string]string
	failing bool
	deleted []string
}

func newStubLedgerStore() *stubLedgerStore {
	return &stubLedgerStore{entries: map[string]string{}}
}

func (s *stubLedgerStore) Get(ctx context.Context, key string) (string, error) {
	if s.failing {
		return "", errors.New("redis down")
	}
	return s.entries[key], nil
}

func (s *stubLedgerStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if s.failing {
		return false, errors.New("redis down")
	}
	if _, exists := s.entries[key]; exists {
		return false, nil
	}
	s.entries[key] = value.(string)
	return true, nil
}

func (s *stubLedgerStore) IdempotencyKey(scope, id string) string {
	return "bs:idempotency:" + scope + ":" + id
}

func (s *stubLedgerStore) Del(ctx context.Context, keys ...string) error {
	if s.failing {
		return errors.New("redis down")
	}
	for _, key := range keys {
		delete(s.entries, key)
		s.deleted = append(s.deleted, key)
	}
	return nil
}

func TestLedgerMarksFirstDeliveryOnly(t *testing.T) {
	t.Parallel()

	store := newStubLedgerStore()
	ledger, err := NewLedger(store, testLogger(), 5*time.Minute)
	if err != nil {
		t.Fatalf("ledger constructor: %v", err)
	}
	ctx := context.Background()

	if dup := ledger.CheckAndMark(ctx, "WH-1", "TXN-1"); dup {
		t.Fatalf("first delivery flagged duplicate")
	}
	if dup := ledger.CheckAndMark(ctx, "WH-1", "TXN-1"); !dup {
		t.Fatalf("second delivery not flagged duplicate")
	}
	if dup := ledger.CheckAndMark(ctx, "WH-2", "TXN-2"); dup {
		t.Fatalf("distinct event flagged duplicate")
	}
}

func TestLedgerSwallowsStoreFailures(t *testing.T) {
	t.Parallel()

	store := newStubLedgerStore()
	store.failing = true
	ledger, err := NewLedger(store, testLogger(), 5*time.Minute)
	if err != nil {
		t.Fatalf("ledger constructor: %v", err)
	}

	if dup := ledger.CheckAndMark(context.Background(), "WH-1", "TXN-1"); dup {
		t.Fatalf("store failure must read as first delivery")
	}
	// Forget on a failing store must not panic
	ledger.Forget(context.Background(), "WH-1")
}

func TestLedgerForgetDropsEntry(t *testing.T) {
	t.Parallel()

	store := newStubLedgerStore()
	ledger, err := NewLedger(store, testLogger(), 5*time.Minute)
	if err != nil {
		t.Fatalf("ledger constructor: %v", err)
	}
	ctx := context.Background()

	ledger.CheckAndMark(ctx, "WH-1", "TXN-1")
	ledger.Forget(ctx, "WH-1")
	if dup := ledger.CheckAndMark(ctx, "WH-1", "TXN-1"); dup {
		t.Fatalf("forgotten entry should allow redelivery")
	}
}

func TestLedgerConstructorValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewLedger(nil, testLogger(), time.Minute); err == nil {
		t.Fatalf("nil store should fail")
	}
	if _, err := NewLedger(newStubLedgerStore(), nil, time.Minute); err == nil {
		t.Fatalf("nil logger should fail")
	}
	if _, err := NewLedger(newStubLedgerStore(), testLogger(), 0); err == nil {
		t.Fatalf("zero ttl should fail")
	}
}
