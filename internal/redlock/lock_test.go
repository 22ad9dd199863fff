package redlock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// unreachableClient returns a client whose every command fails with a
// transport error. Nothing listens on port 1.
func unreachableClient() *redis.Client {
	return redis.NewClient(&redis.Options{
		Addr:        "127.0.0.1:1",
		DialTimeout: 100 * time.Millisecond,
		MaxRetries:  -1,
	})
}

func TestWithBookingLockFallsBackWhenRedisDown(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	locker := NewRedisBookingLocker(client, time.Second)

	ran := false
	err := locker.WithBookingLock(context.Background(), uuid.New(), time.Now(), func(ctx context.Context) error {
		ran = true
		return nil
	})
	if err != nil {
		t.Fatalf("WithBookingLock with Redis down: %v", err)
	}
	if !ran {
		t.Fatal("critical section did not run without the lock")
	}
}

func TestWithBookingLockFallbackPropagatesFnError(t *testing.T) {
	client := unreachableClient()
	defer client.Close()

	locker := NewRedisBookingLocker(client, time.Second)

	want := errors.New("slot is not available")
	err := locker.WithBookingLock(context.Background(), uuid.New(), time.Now(), func(ctx context.Context) error {
		return want
	})
	if !errors.Is(err, want) {
		t.Fatalf("err = %v, want the critical section's error", err)
	}
}
