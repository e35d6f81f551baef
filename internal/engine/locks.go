package engine

import (
	"context"
	"sync"
	"time"

	"github.com/yanun0323/logs"

	"main/internal/store"
)

// Locks serializes intents per strategy. Holds are short-lived (transition
// decision + broker call) with a TTL safety net so a crashed holder cannot
// permanently wedge a strategy. The compare-and-set on the runtime store
// stays authoritative; the lock only avoids wasted broker calls on an
// already-lost race.
type Locks struct {
	mu      sync.Mutex
	entries map[store.Key]*lockEntry
}

type lockEntry struct {
	ch chan struct{}
	// gen invalidates stale releases after a TTL reclaim.
	gen uint64
	// refs counts goroutines holding or waiting on the entry; the entry
	// is pruned from the table when it drops to zero.
	refs int
}

// NewLocks allocates an empty lock table.
func NewLocks() *Locks {
	return &Locks{entries: make(map[store.Key]*lockEntry)}
}

func (l *Locks) entry(key store.Key) *lockEntry {
	l.mu.Lock()
	defer l.mu.Unlock()

	e, ok := l.entries[key]
	if !ok {
		e = &lockEntry{ch: make(chan struct{}, 1)}
		l.entries[key] = e
	}
	e.refs++
	return e
}

func (l *Locks) put(key store.Key, e *lockEntry) {
	l.mu.Lock()
	defer l.mu.Unlock()

	e.refs--
	if e.refs == 0 {
		delete(l.entries, key)
	}
}

// Acquire blocks until the strategy lock is free or the context is done.
// The returned release func is idempotent and safe to call after the TTL
// already reclaimed the hold.
func (l *Locks) Acquire(ctx context.Context, key store.Key, ttl time.Duration) (release func(), ok bool) {
	e := l.entry(key)

	select {
	case e.ch <- struct{}{}:
	case <-ctx.Done():
		l.put(key, e)
		return nil, false
	}

	l.mu.Lock()
	e.gen++
	gen := e.gen
	l.mu.Unlock()

	expire := func() bool {
		l.mu.Lock()
		if e.gen != gen {
			l.mu.Unlock()
			return false
		}
		e.gen++
		l.mu.Unlock()

		select {
		case <-e.ch:
		default:
		}
		return true
	}

	var timer *time.Timer
	if ttl > 0 {
		timer = time.AfterFunc(ttl, func() {
			if expire() {
				logs.Warnf("strategy lock expired after %s, tenant=%s strategy=%s", ttl, key.TenantID, key.StrategyID)
			}
		})
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			if timer != nil {
				timer.Stop()
			}
			expire()
			l.put(key, e)
		})
	}, true
}

// Len reports the number of live lock entries.
func (l *Locks) Len() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.entries)
}
