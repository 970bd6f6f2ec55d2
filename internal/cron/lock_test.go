package cron

import (
	"context"
	"testing"
	"time"

	"github.com/redis/go-redis/v9"
)

type mapLockStore struct {
	values map[string]string
}

func newMapLockStore() *mapLockStore {
	return &mapLockStore{values: map[string]string{}}
}

func (s *mapLockStore) SetNX(ctx context.Context, key string, value any, ttl time.Duration) (bool, error) {
	if _, exists := s.values[key]; exists {
		return false, nil
	}
	s.values[key] = value.(string)
	return true, nil
}

func (s *mapLockStore) Get(ctx context.Context, key string) (string, error) {
	value, exists := s.values[key]
	if !exists {
		return "", redis.Nil
	}
	return value, nil
}

func (s *mapLockStore) Del(ctx context.Context, keys ...string) error {
	for _, key := range keys {
		delete(s.values, key)
	}
	return nil
}

func TestRedisLockAcquireRelease(t *testing.T) {
	t.Parallel()

	store := newMapLockStore()
	ctx := context.Background()

	lock, err := NewRedisLock(store, "bs:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}

	ok, err := lock.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire: ok=%v err=%v", ok, err)
	}

	other, err := NewRedisLock(store, "bs:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	ok, err = other.Acquire(ctx)
	if err != nil {
		t.Fatalf("second acquire: %v", err)
	}
	if ok {
		t.Fatalf("second worker must not acquire a held lock")
	}

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	ok, err = other.Acquire(ctx)
	if err != nil || !ok {
		t.Fatalf("acquire after release: ok=%v err=%v", ok, err)
	}
}

func TestRedisLockReleaseOnlyWhenOwned(t *testing.T) {
	t.Parallel()

	store := newMapLockStore()
	ctx := context.Background()

	lock, err := NewRedisLock(store, "bs:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if ok, _ := lock.Acquire(ctx); !ok {
		t.Fatalf("acquire failed")
	}

	// TTL lapsed and another worker took over
	store.values["bs:lock:cron"] = "someone-else"

	if err := lock.Release(ctx); err != nil {
		t.Fatalf("release: %v", err)
	}
	if store.values["bs:lock:cron"] != "someone-else" {
		t.Fatalf("release must not delete another worker's lock")
	}
}

func TestRedisLockReleaseWithoutAcquireIsNoop(t *testing.T) {
	t.Parallel()

	lock, err := NewRedisLock(newMapLockStore(), "bs:lock:cron", time.Minute)
	if err != nil {
		t.Fatalf("lock: %v", err)
	}
	if err := lock.Release(context.Background()); err != nil {
		t.Fatalf("release without acquire: %v", err)
	}
}

func TestNewRedisLockValidation(t *testing.T) {
	t.Parallel()

	if _, err := NewRedisLock(nil, "key", time.Minute); err == nil {
		t.Fatalf("nil store should fail")
	}
	if _, err := NewRedisLock(newMapLockStore(), "", time.Minute); err == nil {
		t.Fatalf("empty key should fail")
	}
}
