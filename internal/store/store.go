package store

import (
	"context"
	"errors"

	"main/internal/model"
	"main/internal/model/enum"
)

var (
	ErrNotFound = errors.New("execution state not found")
	ErrExists   = errors.New("execution state already exists")
	ErrConflict = errors.New("version conflict")
)

// Key namespaces one strategy's execution state per tenant.
type Key struct {
	TenantID   string
	StrategyID string
}

func KeyOf(state model.ExecutionState) Key {
	return Key{TenantID: state.TenantID, StrategyID: state.StrategyID}
}

// Store is the shared runtime state holder. CompareAndSet is the sole
// mutation path; two intents racing on the same strategy cannot both win.
// Implementations must make the version check and the write atomic.
type Store interface {
	// Get returns the current state, or ErrNotFound.
	Get(ctx context.Context, key Key) (model.ExecutionState, error)

	// Create inserts a fresh state at version 1, or returns ErrExists
	// when a live (non-terminal) state is already present.
	Create(ctx context.Context, state model.ExecutionState) error

	// CompareAndSet replaces the state only when the stored version still
	// equals expected; the accepted write is stored at expected+1. Returns
	// ErrConflict when another writer won the race.
	CompareAndSet(ctx context.Context, expected uint64, state model.ExecutionState) error

	// List returns states in any of the given phases, across all tenants
	// when tenantID is empty. Used by the scheduler's boot-time rebuild.
	List(ctx context.Context, tenantID string, phases ...enum.Phase) ([]model.ExecutionState, error)

	// Delete removes a state. Missing keys are not an error.
	Delete(ctx context.Context, key Key) error

	// Publish fans an event out to every subscriber of the event's tenant.
	Publish(ctx context.Context, event model.Event) error

	// Subscribe returns a stream of events for one tenant (empty for all).
	// The cancel func releases the subscription.
	Subscribe(ctx context.Context, tenantID string) (<-chan model.Event, func())
}
