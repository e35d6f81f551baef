package engine

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/store"
)

func TestLocksSerializePerKey(t *testing.T) {
	locks := NewLocks()
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	var mu sync.Mutex
	var active, maxActive int

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			release, ok := locks.Acquire(context.Background(), key, 0)
			require.True(t, ok)
			defer release()

			mu.Lock()
			active++
			if active > maxActive {
				maxActive = active
			}
			mu.Unlock()

			time.Sleep(time.Millisecond)

			mu.Lock()
			active--
			mu.Unlock()
		}()
	}
	wg.Wait()

	assert.Equal(t, 1, maxActive)
}

func TestLocksIndependentKeys(t *testing.T) {
	locks := NewLocks()

	release1, ok := locks.Acquire(context.Background(), store.Key{TenantID: "t1", StrategyID: "s1"}, 0)
	require.True(t, ok)
	defer release1()

	release2, ok := locks.Acquire(context.Background(), store.Key{TenantID: "t1", StrategyID: "s2"}, 0)
	require.True(t, ok)
	release2()
}

func TestLocksAcquireHonorsContext(t *testing.T) {
	locks := NewLocks()
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	release, ok := locks.Acquire(context.Background(), key, 0)
	require.True(t, ok)
	defer release()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()
	_, ok = locks.Acquire(ctx, key, 0)
	assert.False(t, ok)
}

func TestLocksPruneEntriesOnRelease(t *testing.T) {
	locks := NewLocks()

	for i := 0; i < 3; i++ {
		key := store.Key{TenantID: "t1", StrategyID: string(rune('a' + i))}
		release, ok := locks.Acquire(context.Background(), key, 0)
		require.True(t, ok)
		release()
		release() // idempotent, must not double-prune
	}
	assert.Equal(t, 0, locks.Len())

	// A waiter keeps the entry alive until the last holder lets go.
	key := store.Key{TenantID: "t1", StrategyID: "s1"}
	first, ok := locks.Acquire(context.Background(), key, 0)
	require.True(t, ok)

	done := make(chan struct{})
	go func() {
		defer close(done)
		second, ok := locks.Acquire(context.Background(), key, 0)
		require.True(t, ok)
		second()
	}()

	assert.Equal(t, 1, locks.Len())
	first()
	<-done
	assert.Equal(t, 0, locks.Len())
}

func TestLocksTTLReclaimsAbandonedHold(t *testing.T) {
	locks := NewLocks()
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	staleRelease, ok := locks.Acquire(context.Background(), key, 20*time.Millisecond)
	require.True(t, ok)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	release, ok := locks.Acquire(ctx, key, 0)
	require.True(t, ok)

	// The stale release must not free the lock from under the new holder.
	staleRelease()
	ctx2, cancel2 := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel2()
	_, ok = locks.Acquire(ctx2, key, 0)
	assert.False(t, ok)

	release()
}
