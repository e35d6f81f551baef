package sched

import (
	"context"
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
}

func (c *captureSink) Submit(intent model.Intent) error {
	c.mu.Lock()
	defer c.mu.Unlock()
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

// monday returns a fixed Monday at the given clock, UTC.
func monday(t *testing.T, clock string) time.Time {
	t.Helper()
	parsed, err := time.Parse("2006-01-02 15:04", "2026-03-02 "+clock)
	require.NoError(t, err)
	return parsed.UTC()
}

func testDef(id, buy, sell string) model.StrategyDefinition {
	return model.StrategyDefinition{
		ID:       id,
		TenantID: "t1",
		Symbol:   "INFY",
		BuyTime:  buy,
		SellTime: sell,
		StopLoss: decimal.RequireFromString("100"),
		Quantity: 5,
	}
}

func newTestScheduler(t *testing.T, hours MarketHours, sink Sink, now time.Time) *Scheduler {
	t.Helper()
	s, err := New(Config{Timezone: "UTC", Hours: hours}, sink)
	require.NoError(t, err)
	s.now = func() time.Time { return now }
	return s
}

func TestMarketHours(t *testing.T) {
	hours := MarketHours{Open: "09:15", Close: "15:30"}
	require.NoError(t, hours.Validate())

	assert.True(t, hours.Contains(monday(t, "09:15")))
	assert.True(t, hours.Contains(monday(t, "12:00")))
	assert.False(t, hours.Contains(monday(t, "09:14")))
	assert.False(t, hours.Contains(monday(t, "15:31")))

	saturday := monday(t, "12:00").AddDate(0, 0, 5)
	assert.False(t, hours.Contains(saturday))
	assert.True(t, MarketHours{Weekends: true}.Contains(saturday))

	assert.Error(t, MarketHours{Open: "15:30", Close: "09:15"}.Validate())
	assert.Error(t, MarketHours{Open: "late", Close: "09:15"}.Validate())
}

func TestRegisterClipsToMarketHours(t *testing.T) {
	sink := &captureSink{}
	s := newTestScheduler(t, MarketHours{Open: "09:15", Close: "15:30"}, sink, monday(t, "09:00"))

	// sell at 16:00 falls outside the window and must be dropped
	s.Register(testDef("s1", "09:20", "16:00"), enum.IntentBuyTime, enum.IntentSellTime)

	key := store.Key{TenantID: "t1", StrategyID: "s1"}
	assert.Equal(t, []enum.IntentKind{enum.IntentBuyTime}, s.Pending(key))
}

func TestRegisterDropsPastTriggers(t *testing.T) {
	sink := &captureSink{}
	s := newTestScheduler(t, MarketHours{Open: "09:15", Close: "15:30"}, sink, monday(t, "12:00"))

	s.Register(testDef("s1", "09:20", "15:00"), enum.IntentBuyTime, enum.IntentSellTime)

	key := store.Key{TenantID: "t1", StrategyID: "s1"}
	assert.Equal(t, []enum.IntentKind{enum.IntentSellTime}, s.Pending(key))
}

func TestFireDueSubmitsIntent(t *testing.T) {
	sink := &captureSink{}
	s := newTestScheduler(t, MarketHours{}, sink, monday(t, "12:00"))

	s.Register(testDef("s1", "12:00", "15:00"), enum.IntentBuyTime, enum.IntentSellTime)
	s.fireDue()

	intents := sink.all()
	require.Len(t, intents, 1)
	assert.Equal(t, enum.IntentBuyTime, intents[0].Kind)
	assert.Equal(t, "s1", intents[0].StrategyID)
	assert.Equal(t, "INFY", intents[0].Symbol)

	key := store.Key{TenantID: "t1", StrategyID: "s1"}
	assert.Equal(t, []enum.IntentKind{enum.IntentSellTime}, s.Pending(key))
}

func TestCancelStrategySilencesTriggers(t *testing.T) {
	sink := &captureSink{}
	s := newTestScheduler(t, MarketHours{}, sink, monday(t, "12:00"))

	s.Register(testDef("s1", "12:00", "12:00"), enum.IntentBuyTime, enum.IntentSellTime)
	s.CancelStrategy(store.Key{TenantID: "t1", StrategyID: "s1"})
	s.fireDue()

	assert.Empty(t, sink.all())
	assert.Empty(t, s.Pending(store.Key{TenantID: "t1", StrategyID: "s1"}))
}

type rejectingSink struct {
	captureSink
	rejections int
}

func (r *rejectingSink) Submit(intent model.Intent) error {
	r.mu.Lock()
	if r.rejections > 0 {
		r.rejections--
		r.mu.Unlock()
		return errors.New("intent queue full")
	}
	r.mu.Unlock()
	return r.captureSink.Submit(intent)
}

func TestFireDueRequeuesRefusedTrigger(t *testing.T) {
	sink := &rejectingSink{rejections: 1}
	now := monday(t, "15:00")
	s := newTestScheduler(t, MarketHours{}, sink, now)
	s.now = func() time.Time { return now }

	s.Register(testDef("s1", "09:20", "15:00"), enum.IntentSellTime)
	s.fireDue()

	// Refused by the queue: nothing delivered, but the trigger stays live.
	key := store.Key{TenantID: "t1", StrategyID: "s1"}
	assert.Empty(t, sink.all())
	require.Equal(t, []enum.IntentKind{enum.IntentSellTime}, s.Pending(key))

	// Not due again until the retry delay elapses.
	s.fireDue()
	assert.Empty(t, sink.all())

	now = now.Add(submitRetryDelay)
	s.fireDue()

	intents := sink.all()
	require.Len(t, intents, 1)
	assert.Equal(t, enum.IntentSellTime, intents[0].Kind)
	assert.Empty(t, s.Pending(key))
}

type defMap map[string]model.StrategyDefinition

func (d defMap) LoadStrategyDefinition(_ context.Context, id string) (model.StrategyDefinition, error) {
	def, ok := d[id]
	if !ok {
		return model.StrategyDefinition{}, store.ErrNotFound
	}
	return def, nil
}

func TestRebuildMatchesFreshRegistration(t *testing.T) {
	ctx := context.Background()
	now := monday(t, "09:00")
	hours := MarketHours{Open: "09:15", Close: "15:30"}

	defs := defMap{
		"s1": testDef("s1", "09:20", "15:00"),
		"s2": testDef("s2", "09:30", "14:45"),
		"s3": testDef("s3", "09:40", "15:10"),
	}

	st := store.NewMemory()
	mkState := func(id string, phase enum.Phase) model.ExecutionState {
		state := model.NewExecutionState(defs[id], now)
		state.Phase = phase
		return state
	}
	require.NoError(t, st.Create(ctx, mkState("s1", enum.PhaseWaiting)))
	require.NoError(t, st.Create(ctx, mkState("s2", enum.PhaseBought)))
	require.NoError(t, st.Create(ctx, mkState("s3", enum.PhaseSold)))

	rebuilt := newTestScheduler(t, hours, &captureSink{}, now)
	require.NoError(t, rebuilt.Rebuild(ctx, st, defs))

	fresh := newTestScheduler(t, hours, &captureSink{}, now)
	fresh.Register(defs["s1"], enum.IntentBuyTime, enum.IntentSellTime)
	fresh.Register(defs["s2"], enum.IntentSellTime)

	for _, id := range []string{"s1", "s2", "s3"} {
		key := store.Key{TenantID: "t1", StrategyID: id}
		assert.Equal(t, fresh.Pending(key), rebuilt.Pending(key), "strategy %s", id)
	}
}
