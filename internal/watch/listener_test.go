package watch

import (
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"
)

type captureSink struct {
	mu      sync.Mutex
	intents []model.Intent
	fail    bool
}

func (c *captureSink) Submit(intent model.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.fail {
		return errors.New("sink unavailable")
	}
	c.intents = append(c.intents, intent)
	return nil
}

func (c *captureSink) all() []model.Intent {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]model.Intent, len(c.intents))
	copy(out, c.intents)
	return out
}

func tick(symbol, price string) model.Tick {
	return model.Tick{Symbol: symbol, Price: decimal.RequireFromString(price), At: time.Now()}
}

func TestBreachEmitsSingleIntent(t *testing.T) {
	sink := &captureSink{}
	l := New(sink)
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	l.Subscribe(key, "INFY", decimal.RequireFromString("100"))

	l.evaluate(tick("INFY", "105"))
	assert.Empty(t, sink.all())

	l.evaluate(tick("INFY", "99"))
	// repeated breach ticks stay debounced
	l.evaluate(tick("INFY", "98"))

	intents := sink.all()
	require.Len(t, intents, 1)
	assert.Equal(t, enum.IntentStopLoss, intents[0].Kind)
	assert.Equal(t, "s1", intents[0].StrategyID)
	assert.True(t, intents[0].Price.Equal(decimal.RequireFromString("99")))
}

func TestBreachAtExactStopFires(t *testing.T) {
	sink := &captureSink{}
	l := New(sink)
	l.Subscribe(store.Key{TenantID: "t1", StrategyID: "s1"}, "INFY", decimal.RequireFromString("100"))

	l.evaluate(tick("INFY", "100"))
	assert.Len(t, sink.all(), 1)
}

func TestUnsubscribedStrategyIgnoresTicks(t *testing.T) {
	sink := &captureSink{}
	l := New(sink)
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	l.Subscribe(key, "INFY", decimal.RequireFromString("100"))
	l.Unsubscribe(key)
	assert.False(t, l.Watching(key))

	l.evaluate(tick("INFY", "50"))
	assert.Empty(t, sink.all())
}

func TestResubscribeRearmsTrigger(t *testing.T) {
	sink := &captureSink{}
	l := New(sink)
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	l.Subscribe(key, "INFY", decimal.RequireFromString("100"))
	l.evaluate(tick("INFY", "99"))
	require.Len(t, sink.all(), 1)

	l.Subscribe(key, "INFY", decimal.RequireFromString("100"))
	l.evaluate(tick("INFY", "99"))
	assert.Len(t, sink.all(), 2)
}

func TestUpdateStopLossReapplies(t *testing.T) {
	sink := &captureSink{}
	l := New(sink)
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	l.Subscribe(key, "INFY", decimal.RequireFromString("90"))
	l.evaluate(tick("INFY", "95"))
	assert.Empty(t, sink.all())

	l.UpdateStopLoss(key, decimal.RequireFromString("96"))
	l.evaluate(tick("INFY", "95"))
	assert.Len(t, sink.all(), 1)
}

func TestFailedDeliveryRearms(t *testing.T) {
	sink := &captureSink{fail: true}
	l := New(sink)
	key := store.Key{TenantID: "t1", StrategyID: "s1"}

	l.Subscribe(key, "INFY", decimal.RequireFromString("100"))
	l.evaluate(tick("INFY", "99"))
	assert.Empty(t, sink.all())

	sink.mu.Lock()
	sink.fail = false
	sink.mu.Unlock()

	l.evaluate(tick("INFY", "98"))
	assert.Len(t, sink.all(), 1)
}

func TestOnTickNeverBlocks(t *testing.T) {
	l := New(&captureSink{})
	for i := 0; i < defaultTickBuffer+10; i++ {
		l.OnTick(tick("INFY", "100"))
	}
	assert.Equal(t, uint64(10), l.Dropped())
}
