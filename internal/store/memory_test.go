package store

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"main/internal/model"
	"main/internal/model/enum"
)

func testState(tenant, id string, phase enum.Phase) model.ExecutionState {
	return model.ExecutionState{
		StrategyID: id,
		TenantID:   tenant,
		Phase:      phase,
		Position:   phase.Position(),
		Symbol:     "RELIANCE",
		StopLoss:   decimal.RequireFromString("100"),
		Quantity:   10,
	}
}

func TestCreateAndGet(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	st := testState("t1", "s1", enum.PhaseWaiting)
	require.NoError(t, m.Create(ctx, st))

	got, err := m.Get(ctx, Key{TenantID: "t1", StrategyID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, uint64(1), got.Version)
	assert.Equal(t, enum.PhaseWaiting, got.Phase)

	_, err = m.Get(ctx, Key{TenantID: "t1", StrategyID: "missing"})
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateRejectsLiveDuplicate(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Create(ctx, testState("t1", "s1", enum.PhaseWaiting)))
	assert.ErrorIs(t, m.Create(ctx, testState("t1", "s1", enum.PhaseWaiting)), ErrExists)
}

func TestCreateReplacesTerminalState(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Create(ctx, testState("t1", "s1", enum.PhaseSold)))
	require.NoError(t, m.Create(ctx, testState("t1", "s1", enum.PhaseWaiting)))

	got, err := m.Get(ctx, Key{TenantID: "t1", StrategyID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, enum.PhaseWaiting, got.Phase)
	assert.Equal(t, uint64(1), got.Version)
}

func TestCompareAndSetConflict(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Create(ctx, testState("t1", "s1", enum.PhaseWaiting)))

	first := testState("t1", "s1", enum.PhaseBuyPending)
	require.NoError(t, m.CompareAndSet(ctx, 1, first))

	// second writer still holds version 1
	second := testState("t1", "s1", enum.PhaseStoppedByUser)
	assert.ErrorIs(t, m.CompareAndSet(ctx, 1, second), ErrConflict)

	got, err := m.Get(ctx, Key{TenantID: "t1", StrategyID: "s1"})
	require.NoError(t, err)
	assert.Equal(t, enum.PhaseBuyPending, got.Phase)
	assert.Equal(t, uint64(2), got.Version)
}

func TestCompareAndSetOnlyOneConcurrentWinner(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()
	require.NoError(t, m.Create(ctx, testState("t1", "s1", enum.PhaseBought)))

	const racers = 16
	wins := make(chan struct{}, racers)
	done := make(chan struct{})
	for i := 0; i < racers; i++ {
		go func() {
			defer func() { done <- struct{}{} }()
			if m.CompareAndSet(ctx, 1, testState("t1", "s1", enum.PhaseSellPending)) == nil {
				wins <- struct{}{}
			}
		}()
	}
	for i := 0; i < racers; i++ {
		<-done
	}
	assert.Len(t, wins, 1)
}

func TestListFiltersTenantAndPhase(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	require.NoError(t, m.Create(ctx, testState("t1", "s1", enum.PhaseWaiting)))
	require.NoError(t, m.Create(ctx, testState("t1", "s2", enum.PhaseBought)))
	require.NoError(t, m.Create(ctx, testState("t2", "s3", enum.PhaseWaiting)))

	waiting, err := m.List(ctx, "", enum.PhaseWaiting)
	require.NoError(t, err)
	assert.Len(t, waiting, 2)

	t1, err := m.List(ctx, "t1", enum.PhaseWaiting, enum.PhaseBought)
	require.NoError(t, err)
	assert.Len(t, t1, 2)
}

func TestPubSubTenantIsolation(t *testing.T) {
	ctx := context.Background()
	m := NewMemory()

	chT1, cancelT1 := m.Subscribe(ctx, "t1")
	defer cancelT1()
	chAll, cancelAll := m.Subscribe(ctx, "")
	defer cancelAll()

	require.NoError(t, m.Publish(ctx, model.Event{TenantID: "t2", StrategyID: "s3", Phase: enum.PhaseBought}))
	require.NoError(t, m.Publish(ctx, model.Event{TenantID: "t1", StrategyID: "s1", Phase: enum.PhaseSold}))

	select {
	case ev := <-chT1:
		assert.Equal(t, "t1", ev.TenantID)
		assert.Equal(t, enum.PhaseSold, ev.Phase)
	case <-time.After(time.Second):
		t.Fatal("tenant subscriber received nothing")
	}

	assert.Len(t, chAll, 2)
}
