package lock_test

import (
	"context"
	"sync"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	redis "github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/facturio/facturio-api/internal/lock"
)

func newMutex(t *testing.T) lock.Mutex {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })

	return lock.Mutex{Client: client, TTL: time.Second, RetryBackoff: 5 * time.Millisecond}
}

func TestWithLockSerialisesCallers(t *testing.T) {
	mutex := newMutex(t)
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var mu sync.Mutex
	var order []string
	firstEntered := make(chan struct{})
	releaseFirst := make(chan struct{})
	var wg sync.WaitGroup

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mutex.WithLock(ctx, "recalc:inv-1", func(context.Context) error {
			mu.Lock()
			order = append(order, "first")
			mu.Unlock()
			close(firstEntered)
			<-releaseFirst
			return nil
		})
		require.NoError(t, err)
	}()

	<-firstEntered

	wg.Add(1)
	go func() {
		defer wg.Done()
		err := mutex.WithLock(ctx, "recalc:inv-1", func(context.Context) error {
			mu.Lock()
			order = append(order, "second")
			mu.Unlock()
			return nil
		})
		require.NoError(t, err)
	}()

	close(releaseFirst)
	wg.Wait()

	mu.Lock()
	defer mu.Unlock()
	require.Equal(t, []string{"first", "second"}, order)
}

func TestWithLockGivesUpOnCancelledContext(t *testing.T) {
	mutex := newMutex(t)

	held := make(chan struct{})
	release := make(chan struct{})
	go func() {
		_ = mutex.WithLock(context.Background(), "recalc:inv-2", func(context.Context) error {
			close(held)
			<-release
			return nil
		})
	}()
	<-held
	defer close(release)

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	err := mutex.WithLock(ctx, "recalc:inv-2", func(context.Context) error { return nil })
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestWithLockRequiresClient(t *testing.T) {
	err := lock.Mutex{}.WithLock(context.Background(), "x", func(context.Context) error { return nil })
	require.Error(t, err)
}
