package events

import (
	"context"

	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/store"
)

// Publisher forwards every lifecycle transition to the runtime store's
// pub/sub channel, tagged by tenant. Pure fan-out, no business logic;
// at-least-once delivery, consumers dedupe on order id + phase.
type Publisher struct {
	store store.Store
}

// NewPublisher creates a publisher over the given store.
func NewPublisher(st store.Store) *Publisher {
	return &Publisher{store: st}
}

// Publish forwards one event. Failures are logged, never propagated into
// control flow: event delivery must not affect execution decisions.
func (p *Publisher) Publish(ctx context.Context, event model.Event) {
	if event.Severity == model.SeverityCritical {
		logs.Errorf("critical event: tenant=%s strategy=%s phase=%s reason=%s",
			event.TenantID, event.StrategyID, event.Phase, event.Reason)
	}
	if err := p.store.Publish(ctx, event); err != nil {
		logs.Errorf("event publish for strategy %s failed, err: %+v", event.StrategyID, err)
	}
}
