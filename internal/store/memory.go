package store

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
)

const defaultSubscriberBuffer = 256

// Memory is the in-process reference implementation of Store. The version
// check and the write happen under one mutex, which gives the same
// guarantee a scripted store-side transaction would.
type Memory struct {
	mu     sync.RWMutex
	states map[Key]model.ExecutionState

	subMu   sync.Mutex
	subs    map[uint64]*subscriber
	nextSub uint64

	dropped atomic.Uint64
}

type subscriber struct {
	tenantID string
	ch       chan model.Event
}

// NewMemory allocates an empty store.
func NewMemory() *Memory {
	return &Memory{
		states: make(map[Key]model.ExecutionState),
		subs:   make(map[uint64]*subscriber),
	}
}

func (m *Memory) Get(_ context.Context, key Key) (model.ExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	state, ok := m.states[key]
	if !ok {
		return model.ExecutionState{}, ErrNotFound
	}
	return state, nil
}

func (m *Memory) Create(_ context.Context, state model.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyOf(state)
	if existing, ok := m.states[key]; ok && !existing.Phase.IsTerminal() {
		return ErrExists
	}
	state.Version = 1
	m.states[key] = state
	return nil
}

func (m *Memory) CompareAndSet(_ context.Context, expected uint64, state model.ExecutionState) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := KeyOf(state)
	current, ok := m.states[key]
	if !ok {
		return ErrNotFound
	}
	if current.Version != expected {
		return ErrConflict
	}
	state.Version = expected + 1
	m.states[key] = state
	return nil
}

func (m *Memory) List(_ context.Context, tenantID string, phases ...enum.Phase) ([]model.ExecutionState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []model.ExecutionState
	for key, state := range m.states {
		if tenantID != "" && key.TenantID != tenantID {
			continue
		}
		if len(phases) == 0 {
			out = append(out, state)
			continue
		}
		for _, phase := range phases {
			if state.Phase == phase {
				out = append(out, state)
				break
			}
		}
	}
	return out, nil
}

func (m *Memory) Delete(_ context.Context, key Key) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.states, key)
	return nil
}

func (m *Memory) Publish(_ context.Context, event model.Event) error {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	for _, sub := range m.subs {
		if sub.tenantID != "" && sub.tenantID != event.TenantID {
			continue
		}
		select {
		case sub.ch <- event:
		default:
			// At-least-once is a contract with attentive consumers; a
			// full buffer sheds to keep publishers non-blocking.
			if m.dropped.Add(1)%100 == 1 {
				logs.Warnf("event subscriber buffer full, dropped=%d", m.dropped.Load())
			}
		}
	}
	return nil
}

func (m *Memory) Subscribe(_ context.Context, tenantID string) (<-chan model.Event, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	sub := &subscriber{
		tenantID: tenantID,
		ch:       make(chan model.Event, defaultSubscriberBuffer),
	}
	m.subs[id] = sub

	var once sync.Once
	cancel := func() {
		once.Do(func() {
			m.subMu.Lock()
			defer m.subMu.Unlock()
			delete(m.subs, id)
			close(sub.ch)
		})
	}
	return sub.ch, cancel
}

// Dropped reports how many events were shed on full subscriber buffers.
func (m *Memory) Dropped() uint64 {
	return m.dropped.Load()
}
