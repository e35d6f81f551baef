package engine

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/broker"
	"main/internal/bus"
	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/obs"
	"main/internal/risk"
	"main/internal/store"
)

var ErrAlreadyRunning = errors.New("strategy already running")

// Triggers is the scheduler surface the coordinator drives.
type Triggers interface {
	Register(def model.StrategyDefinition, kinds ...enum.IntentKind)
	CancelStrategy(key store.Key)
	CancelKind(key store.Key, kind enum.IntentKind)
}

// Watcher is the market data listener surface the coordinator drives.
type Watcher interface {
	Subscribe(key store.Key, symbol string, stopLoss decimal.Decimal)
	Unsubscribe(key store.Key)
	UpdateStopLoss(key store.Key, stopLoss decimal.Decimal)
	LastPrice(symbol string) (decimal.Decimal, bool)
}

// Definitions resolves strategy configuration from the persistence
// collaborator. The engine never writes configuration back.
type Definitions interface {
	LoadStrategyDefinition(ctx context.Context, id string) (model.StrategyDefinition, error)
}

// Audit receives append-only order attempts and terminal outcomes. Both
// are best-effort from the coordinator's point of view: audit failures are
// logged, never allowed to affect control decisions.
type Audit interface {
	AppendOrderAttempt(ctx context.Context, attempt model.OrderAttempt) error
	RecordTerminalState(ctx context.Context, state model.ExecutionState) error
}

// Publisher fans out lifecycle events.
type Publisher interface {
	Publish(ctx context.Context, event model.Event)
}

// Config tunes the coordinator.
type Config struct {
	// MaxAttempts bounds broker retries within one intent invocation.
	MaxAttempts int `json:"maxAttempts"`
	// BackoffBase doubles per attempt: base, 2*base, 4*base...
	BackoffBase time.Duration `json:"backoffBase"`
	// FailureCeiling on ExecutionState.FailureCount forces ERROR.
	FailureCeiling int `json:"failureCeiling"`
	// LockTTL is the per-strategy lock expiry safety net.
	LockTTL time.Duration `json:"lockTTL"`
	// Workers is the number of concurrent intent handlers.
	Workers int `json:"workers"`
	// QueueCapacity bounds the intent queue.
	QueueCapacity int `json:"queueCapacity"`
}

func (cfg Config) withDefaults() Config {
	if cfg.MaxAttempts <= 0 {
		cfg.MaxAttempts = 3
	}
	if cfg.BackoffBase <= 0 {
		cfg.BackoffBase = time.Second
	}
	if cfg.FailureCeiling <= 0 {
		cfg.FailureCeiling = 3
	}
	if cfg.LockTTL <= 0 {
		cfg.LockTTL = 30 * time.Second
	}
	if cfg.Workers <= 0 {
		cfg.Workers = 8
	}
	if cfg.QueueCapacity <= 0 {
		cfg.QueueCapacity = 1024
	}
	return cfg
}

// Deps are the coordinator's collaborators. Broker, Store, Triggers,
// Watcher and Publisher are required; Risk, Definitions, Audit and
// Metrics may be nil.
type Deps struct {
	Store       store.Store
	Broker      broker.Adapter
	Risk        *risk.Engine
	Triggers    Triggers
	Watcher     Watcher
	Definitions Definitions
	Audit       Audit
	Publisher   Publisher
	Metrics     *obs.Metrics
}

// Coordinator is the single consumer of intents and the only writer of
// ExecutionState. Intents for different strategies run fully in parallel;
// intents for one strategy serialize behind its lock.
type Coordinator struct {
	cfg   Config
	deps  Deps
	queue *bus.Queue
	locks *Locks

	healthy atomic.Bool
	now     func() time.Time
}

// New creates a coordinator.
func New(cfg Config, deps Deps) *Coordinator {
	c := &Coordinator{
		cfg:   cfg.withDefaults(),
		deps:  deps,
		locks: NewLocks(),
		now:   time.Now,
	}
	c.queue = bus.NewQueue(c.cfg.QueueCapacity)
	c.healthy.Store(true)
	return c
}

// Submit enqueues an intent without blocking the producer.
func (c *Coordinator) Submit(intent model.Intent) error {
	err := c.queue.TryPublish(intent)
	if err != nil {
		c.deps.Metrics.IncQueueDrop()
		if intent.Kind == enum.IntentStopLoss {
			logs.Errorf("CRITICAL: stop-loss intent rejected by queue, strategy=%s, err: %+v", intent.StrategyID, err)
		}
	}
	return err
}

// Run processes intents on a worker pool until the context is done.
func (c *Coordinator) Run(ctx context.Context) {
	var wg sync.WaitGroup
	for i := 0; i < c.cfg.Workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.queue.Run(ctx, func(intent model.Intent) {
				c.Handle(ctx, intent)
			})
		}()
	}
	wg.Wait()
}

// Close stops the intent queue.
func (c *Coordinator) Close() {
	c.queue.Close()
}

// Healthy reports whether the coordinator can reach the runtime store.
func (c *Coordinator) Healthy() bool {
	return c.healthy.Load()
}

// StartStrategy copies a definition into a fresh WAITING state and arms
// its time triggers. Part of the engine's control surface.
func (c *Coordinator) StartStrategy(ctx context.Context, id string) error {
	if c.deps.Definitions == nil {
		return errors.New("no definition source configured")
	}
	def, err := c.deps.Definitions.LoadStrategyDefinition(ctx, id)
	if err != nil {
		return err
	}

	state := model.NewExecutionState(def, c.now())
	if err := c.deps.Store.Create(ctx, state); err != nil {
		if errors.Is(err, store.ErrExists) {
			return ErrAlreadyRunning
		}
		return err
	}

	c.deps.Triggers.Register(def, enum.IntentBuyTime, enum.IntentSellTime)
	c.publish(ctx, model.Event{
		TenantID:   def.TenantID,
		StrategyID: def.ID,
		Phase:      enum.PhaseWaiting,
		Reason:     "strategy started",
		At:         c.now(),
	})
	return nil
}

// StopStrategy submits a USER_STOP intent. The stop is serialized behind
// the strategy lock like any other intent; in-flight broker calls finish
// and record their outcome first.
func (c *Coordinator) StopStrategy(_ context.Context, tenantID, strategyID string) error {
	return c.Submit(model.Intent{
		Kind:       enum.IntentUserStop,
		TenantID:   tenantID,
		StrategyID: strategyID,
		At:         c.now(),
	})
}

// ExecutionState reads the current state. Part of the control surface.
func (c *Coordinator) ExecutionState(ctx context.Context, tenantID, strategyID string) (model.ExecutionState, error) {
	return c.deps.Store.Get(ctx, store.Key{TenantID: tenantID, StrategyID: strategyID})
}

// ReapplyDefinition re-applies a changed stop-loss / sell time to a live
// strategy. Other definition fields stay immutable while running.
func (c *Coordinator) ReapplyDefinition(ctx context.Context, def model.StrategyDefinition) error {
	key := store.Key{TenantID: def.TenantID, StrategyID: def.ID}
	release, ok := c.locks.Acquire(ctx, key, c.cfg.LockTTL)
	if !ok {
		return ctx.Err()
	}
	defer release()

	state, err := c.deps.Store.Get(ctx, key)
	if err != nil {
		return err
	}
	if state.Phase.IsTerminal() || state.Phase.IsPending() {
		return nil
	}

	next := state
	next.StopLoss = def.StopLoss
	next.LastAction = "definition reapplied"
	next.LastUpdatedAt = c.now()
	if err := c.deps.Store.CompareAndSet(ctx, state.Version, next); err != nil {
		return err
	}

	c.deps.Triggers.CancelKind(key, enum.IntentSellTime)
	c.deps.Triggers.Register(def, enum.IntentSellTime)
	if state.Phase == enum.PhaseBought {
		c.deps.Watcher.UpdateStopLoss(key, def.StopLoss)
	}
	return nil
}

// Handle runs the full transition algorithm for one intent. Exported so
// tests can drive it synchronously; Run's workers call it too.
func (c *Coordinator) Handle(ctx context.Context, intent model.Intent) {
	if !intent.Kind.IsAvailable() {
		return
	}
	c.deps.Metrics.IncIntent(intent.Kind)

	key := store.Key{TenantID: intent.TenantID, StrategyID: intent.StrategyID}
	lockStart := c.now()
	release, ok := c.locks.Acquire(ctx, key, c.cfg.LockTTL)
	if !ok {
		return
	}
	defer release()
	c.deps.Metrics.ObserveLockWait(c.now().Sub(lockStart))

	state, err := c.deps.Store.Get(ctx, key)
	if err != nil {
		if errors.Is(err, store.ErrNotFound) {
			c.moot(intent, "no execution state")
			return
		}
		// Fatal-to-system: refuse to act rather than guess state.
		c.healthy.Store(false)
		c.deps.Metrics.IncStoreRefusal()
		logs.Errorf("runtime store unreachable, refusing %s for strategy %s, err: %+v", intent.Kind, intent.StrategyID, err)
		return
	}
	c.healthy.Store(true)

	switch intent.Kind {
	case enum.IntentBuyTime:
		if state.Phase != enum.PhaseWaiting {
			c.moot(intent, string(state.Phase))
			return
		}
		c.execute(ctx, intent, state, enum.SideBuy)
	case enum.IntentSellTime, enum.IntentStopLoss:
		if state.Phase != enum.PhaseBought {
			c.moot(intent, string(state.Phase))
			return
		}
		c.execute(ctx, intent, state, enum.SideSell)
	case enum.IntentUserStop:
		if state.Phase.IsTerminal() {
			c.moot(intent, string(state.Phase))
			return
		}
		c.userStop(ctx, intent, state)
	}
}

// execute performs the pending transition, the broker call with retries,
// and the terminal (or rollback) transition.
func (c *Coordinator) execute(ctx context.Context, intent model.Intent, state model.ExecutionState, side enum.Side) {
	key := store.KeyOf(state)
	prev := state.Phase

	pendingPhase := enum.PhaseSellPending
	if side == enum.SideBuy {
		pendingPhase = enum.PhaseBuyPending
	}

	pending := state.WithPhase(pendingPhase, c.now())
	pending.LastAction = fmt.Sprintf("intent %s accepted", intent.Kind)
	if !intent.Price.IsZero() {
		pending.LastPrice = intent.Price
	}
	if err := c.deps.Store.CompareAndSet(ctx, state.Version, pending); err != nil {
		if errors.Is(err, store.ErrConflict) {
			// Another intent won the race to leave this phase.
			c.moot(intent, "version conflict")
			return
		}
		c.healthy.Store(false)
		logs.Errorf("pending transition for strategy %s failed, err: %+v", state.StrategyID, err)
		return
	}
	pending.Version = state.Version + 1
	c.publish(ctx, model.Event{
		TenantID:   state.TenantID,
		StrategyID: state.StrategyID,
		Phase:      pendingPhase,
		PrevPhase:  prev,
		At:         c.now(),
	})

	req := broker.OrderRequest{Symbol: state.Symbol, Side: side, Quantity: state.Quantity}

	if c.deps.Risk != nil {
		ref := intent.Price
		if ref.IsZero() && c.deps.Watcher != nil {
			ref, _ = c.deps.Watcher.LastPrice(state.Symbol)
		}
		if decision := c.deps.Risk.Evaluate(req, ref); !decision.Allow {
			c.failStrategy(ctx, pending, "risk denied: "+decision.Reason.String())
			return
		}
	}

	result, err := c.placeWithRetry(ctx, pending, req)
	if err == nil {
		c.complete(ctx, intent, pending, side, result)
		return
	}

	failures := pending.FailureCount + 1
	if failures >= c.cfg.FailureCeiling {
		c.failStrategy(ctx, pending, "retry ceiling reached: "+err.Error())
		return
	}

	// Below the ceiling: roll the phase back so a future trigger may retry.
	rolled := pending.WithPhase(prev, c.now())
	rolled.FailureCount = failures
	rolled.LastAction = fmt.Sprintf("order %s failed, attempt budget exhausted", side)
	if casErr := c.deps.Store.CompareAndSet(ctx, pending.Version, rolled); casErr != nil {
		logs.Errorf("rollback for strategy %s failed, err: %+v", state.StrategyID, casErr)
		return
	}
	if prev == enum.PhaseBought {
		// Re-arm the stop watch; the position is still open.
		c.deps.Watcher.Subscribe(key, state.Symbol, state.StopLoss)
	}

	severity := model.SeverityWarning
	if intent.Kind == enum.IntentStopLoss {
		severity = model.SeverityCritical
		logs.Errorf("CRITICAL: stop-loss order for strategy %s failed, position still open, err: %+v", state.StrategyID, err)
	}
	c.publish(ctx, model.Event{
		TenantID:   state.TenantID,
		StrategyID: state.StrategyID,
		Phase:      prev,
		PrevPhase:  pendingPhase,
		Reason:     err.Error(),
		Severity:   severity,
		At:         c.now(),
	})
}

func (c *Coordinator) placeWithRetry(ctx context.Context, state model.ExecutionState, req broker.OrderRequest) (broker.OrderResult, error) {
	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxAttempts; attempt++ {
		start := c.now()
		result, err := c.deps.Broker.PlaceOrder(ctx, req)
		c.deps.Metrics.ObserveOrder(c.now().Sub(start))
		c.appendAttempt(ctx, state, req.Side, attempt, result.OrderID, err)
		if err == nil {
			return result, nil
		}

		lastErr = err
		c.deps.Metrics.IncBrokerRetry()
		logs.Warnf("broker %s attempt %d/%d for strategy %s failed, err: %+v", req.Side, attempt, c.cfg.MaxAttempts, state.StrategyID, err)
		if attempt == c.cfg.MaxAttempts {
			break
		}

		backoff := c.cfg.BackoffBase << (attempt - 1)
		select {
		case <-ctx.Done():
			return broker.OrderResult{}, ctx.Err()
		case <-time.After(backoff):
		}
	}
	return broker.OrderResult{}, lastErr
}

func (c *Coordinator) complete(ctx context.Context, intent model.Intent, pending model.ExecutionState, side enum.Side, result broker.OrderResult) {
	key := store.KeyOf(pending)

	target := enum.PhaseBought
	if side == enum.SideSell {
		target = enum.PhaseSold
		if intent.Kind == enum.IntentStopLoss {
			target = enum.PhaseStoppedBySL
		}
	}

	next := pending.WithPhase(target, c.now())
	next.FailureCount = 0
	next.LastAction = fmt.Sprintf("order %s filled", result.OrderID)
	if side == enum.SideBuy {
		next.BuyOrderID = result.OrderID
	} else {
		next.SellOrderID = result.OrderID
	}
	if !result.Price.IsZero() {
		next.LastPrice = result.Price
	}

	if err := c.deps.Store.CompareAndSet(ctx, pending.Version, next); err != nil {
		// The lock is still held; only an expired hold can race us here.
		logs.Errorf("terminal transition for strategy %s failed, err: %+v", pending.StrategyID, err)
		return
	}

	switch target {
	case enum.PhaseBought:
		c.deps.Watcher.Subscribe(key, pending.Symbol, pending.StopLoss)
	default:
		c.deps.Watcher.Unsubscribe(key)
		c.deps.Triggers.CancelStrategy(key)
		next.Version = pending.Version + 1
		c.recordTerminal(ctx, next)
	}

	c.publish(ctx, model.Event{
		TenantID:   pending.TenantID,
		StrategyID: pending.StrategyID,
		Phase:      target,
		PrevPhase:  pending.Phase,
		OrderID:    result.OrderID,
		At:         c.now(),
	})
}

// userStop cancels pending triggers and the stop watch, then marks the
// strategy stopped. Open positions are left untouched: the contract is
// "no new action after stop", not "in-flight actions are aborted".
func (c *Coordinator) userStop(ctx context.Context, intent model.Intent, state model.ExecutionState) {
	key := store.KeyOf(state)

	c.deps.Triggers.CancelStrategy(key)
	c.deps.Watcher.Unsubscribe(key)

	next := state.WithPhase(enum.PhaseStoppedByUser, c.now())
	next.LastAction = "stopped by user"
	if err := c.deps.Store.CompareAndSet(ctx, state.Version, next); err != nil {
		if errors.Is(err, store.ErrConflict) {
			c.moot(intent, "version conflict")
			return
		}
		logs.Errorf("user stop for strategy %s failed, err: %+v", state.StrategyID, err)
		return
	}
	next.Version = state.Version + 1
	c.recordTerminal(ctx, next)
	c.publish(ctx, model.Event{
		TenantID:   state.TenantID,
		StrategyID: state.StrategyID,
		Phase:      enum.PhaseStoppedByUser,
		PrevPhase:  state.Phase,
		Reason:     "user stop",
		At:         c.now(),
	})
}

// failStrategy is the fail-safe shutdown: ERROR phase, all triggers
// cancelled, critical event. The strategy is inert until a human restarts it.
func (c *Coordinator) failStrategy(ctx context.Context, state model.ExecutionState, reason string) {
	key := store.KeyOf(state)

	c.deps.Triggers.CancelStrategy(key)
	c.deps.Watcher.Unsubscribe(key)

	next := state.WithPhase(enum.PhaseError, c.now())
	next.FailureCount = c.cfg.FailureCeiling
	next.LastAction = reason
	if err := c.deps.Store.CompareAndSet(ctx, state.Version, next); err != nil {
		logs.Errorf("fail-safe transition for strategy %s failed, err: %+v", state.StrategyID, err)
		return
	}
	next.Version = state.Version + 1
	c.recordTerminal(ctx, next)

	logs.Errorf("strategy %s moved to ERROR: %s", state.StrategyID, reason)
	c.publish(ctx, model.Event{
		TenantID:   state.TenantID,
		StrategyID: state.StrategyID,
		Phase:      enum.PhaseError,
		PrevPhase:  state.Phase,
		Reason:     reason,
		Severity:   model.SeverityCritical,
		At:         c.now(),
	})
}

func (c *Coordinator) appendAttempt(ctx context.Context, state model.ExecutionState, side enum.Side, attempt int, orderID string, err error) {
	if c.deps.Audit == nil {
		return
	}
	record := model.OrderAttempt{
		StrategyID:    state.StrategyID,
		TenantID:      state.TenantID,
		Side:          side,
		AttemptNumber: attempt,
		OrderID:       orderID,
		At:            c.now(),
	}
	if err != nil {
		record.Error = err.Error()
	}
	if auditErr := c.deps.Audit.AppendOrderAttempt(ctx, record); auditErr != nil {
		logs.Warnf("order attempt audit for strategy %s failed, err: %+v", state.StrategyID, auditErr)
	}
}

func (c *Coordinator) recordTerminal(ctx context.Context, state model.ExecutionState) {
	if c.deps.Audit == nil {
		return
	}
	if err := c.deps.Audit.RecordTerminalState(ctx, state); err != nil {
		logs.Warnf("terminal state record for strategy %s failed, err: %+v", state.StrategyID, err)
	}
}

func (c *Coordinator) moot(intent model.Intent, detail string) {
	c.deps.Metrics.IncMoot()
	logs.Debugf("moot %s for strategy %s (%s)", intent.Kind, intent.StrategyID, detail)
}

func (c *Coordinator) publish(ctx context.Context, event model.Event) {
	if c.deps.Publisher == nil {
		return
	}
	c.deps.Publisher.Publish(ctx, event)
}
