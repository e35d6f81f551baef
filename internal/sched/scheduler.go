package sched

import (
	"container/heap"
	"context"
	"sort"
	"sync"
	"time"

	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"
)

// Sink receives fired triggers as intents. The scheduler never calls the
// broker and never retries; both are the coordinator's job.
type Sink interface {
	Submit(intent model.Intent) error
}

// DefinitionSource resolves a strategy id to its current definition.
type DefinitionSource interface {
	LoadStrategyDefinition(ctx context.Context, id string) (model.StrategyDefinition, error)
}

// Config controls trigger derivation.
type Config struct {
	Timezone string      `json:"timezone"`
	Hours    MarketHours `json:"hours"`
}

// submitRetryDelay spaces out redelivery of a due trigger that the intent
// queue refused, so a transient full queue cannot drop a SELL_TIME leg.
const submitRetryDelay = 2 * time.Second

type trigger struct {
	at        time.Time
	kind      enum.IntentKind
	key       store.Key
	symbol    string
	seq       uint64
	cancelled bool
}

// Scheduler fires BUY_TIME and SELL_TIME triggers per running strategy.
// It keeps no durable state of its own: the in-memory queue is rebuilt
// from the runtime store on every boot.
type Scheduler struct {
	mu      sync.Mutex
	queue   triggerHeap
	byKey   map[store.Key][]*trigger
	nextSeq uint64

	sink  Sink
	loc   *time.Location
	hours MarketHours
	wake  chan struct{}
	now   func() time.Time
}

// New creates a scheduler for the given exchange timezone and hours.
func New(cfg Config, sink Sink) (*Scheduler, error) {
	tz := cfg.Timezone
	if tz == "" {
		tz = "UTC"
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		return nil, errors.Wrap(err, "load timezone").With("timezone", tz)
	}
	if err := cfg.Hours.Validate(); err != nil {
		return nil, err
	}
	return &Scheduler{
		byKey: make(map[store.Key][]*trigger),
		sink:  sink,
		loc:   loc,
		hours: cfg.Hours,
		wake:  make(chan struct{}, 1),
		now:   time.Now,
	}, nil
}

// Register derives today's instants for the given trigger kinds from the
// definition and queues them. Triggers falling outside market hours or
// already in the past are dropped with a warning, never fired early or late.
func (s *Scheduler) Register(def model.StrategyDefinition, kinds ...enum.IntentKind) {
	now := s.now().In(s.loc)
	key := store.Key{TenantID: def.TenantID, StrategyID: def.ID}

	s.mu.Lock()
	defer s.mu.Unlock()

	for _, kind := range kinds {
		var clock string
		switch kind {
		case enum.IntentBuyTime:
			clock = def.BuyTime
		case enum.IntentSellTime:
			clock = def.SellTime
		default:
			logs.Warnf("scheduler ignores trigger kind %s for strategy %s", kind, def.ID)
			continue
		}

		at, err := instantToday(clock, now, s.loc)
		if err != nil {
			logs.Warnf("strategy %s: bad %s clock %q: %v", def.ID, kind, clock, err)
			continue
		}
		if !s.hours.Contains(at) {
			logs.Warnf("strategy %s: %s at %s is outside market hours, dropped", def.ID, kind, at.Format("15:04"))
			continue
		}
		if at.Before(now) {
			logs.Warnf("strategy %s: %s at %s already passed, dropped", def.ID, kind, at.Format("15:04"))
			continue
		}

		s.nextSeq++
		tr := &trigger{at: at, kind: kind, key: key, symbol: def.Symbol, seq: s.nextSeq}
		heap.Push(&s.queue, tr)
		s.byKey[key] = append(s.byKey[key], tr)
	}
	s.notify()
}

// CancelStrategy removes every pending trigger for a strategy. Used on
// user-initiated stop and on fail-safe shutdown.
func (s *Scheduler) CancelStrategy(key store.Key) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for _, tr := range s.byKey[key] {
		tr.cancelled = true
	}
	delete(s.byKey, key)
	s.notify()
}

// CancelKind removes pending triggers of one kind for a strategy. Used
// when a definition's sell time changes while the strategy runs.
func (s *Scheduler) CancelKind(key store.Key, kind enum.IntentKind) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.byKey[key][:0]
	for _, tr := range s.byKey[key] {
		if tr.kind == kind {
			tr.cancelled = true
			continue
		}
		kept = append(kept, tr)
	}
	if len(kept) == 0 {
		delete(s.byKey, key)
	} else {
		s.byKey[key] = kept
	}
	s.notify()
}

// Pending returns the live trigger kinds for a strategy, soonest first.
func (s *Scheduler) Pending(key store.Key) []enum.IntentKind {
	s.mu.Lock()
	defer s.mu.Unlock()

	triggers := make([]*trigger, 0, len(s.byKey[key]))
	for _, tr := range s.byKey[key] {
		if !tr.cancelled {
			triggers = append(triggers, tr)
		}
	}
	sort.Slice(triggers, func(i, j int) bool { return triggers[i].at.Before(triggers[j].at) })

	kinds := make([]enum.IntentKind, 0, len(triggers))
	for _, tr := range triggers {
		kinds = append(kinds, tr.kind)
	}
	return kinds
}

// Rebuild reconstructs the trigger set from the runtime store: WAITING
// strategies get both triggers back, BOUGHT ones only the sell leg.
func (s *Scheduler) Rebuild(ctx context.Context, st store.Store, defs DefinitionSource) error {
	waiting, err := st.List(ctx, "", enum.PhaseWaiting)
	if err != nil {
		return errors.Wrap(err, "list waiting states")
	}
	bought, err := st.List(ctx, "", enum.PhaseBought)
	if err != nil {
		return errors.Wrap(err, "list bought states")
	}

	for _, state := range waiting {
		def, err := defs.LoadStrategyDefinition(ctx, state.StrategyID)
		if err != nil {
			logs.Errorf("rebuild: load definition %s, err: %+v", state.StrategyID, err)
			continue
		}
		s.Register(def, enum.IntentBuyTime, enum.IntentSellTime)
	}
	for _, state := range bought {
		def, err := defs.LoadStrategyDefinition(ctx, state.StrategyID)
		if err != nil {
			logs.Errorf("rebuild: load definition %s, err: %+v", state.StrategyID, err)
			continue
		}
		s.Register(def, enum.IntentSellTime)
	}

	logs.Infof("scheduler rebuilt: waiting=%d bought=%d", len(waiting), len(bought))
	return nil
}

// Run fires due triggers until the context is done.
func (s *Scheduler) Run(ctx context.Context) {
	timer := time.NewTimer(time.Hour)
	defer timer.Stop()

	for {
		s.fireDue()

		next, ok := s.peek()
		wait := time.Hour
		if ok {
			wait = time.Until(next)
			if wait < 0 {
				wait = 0
			}
		}
		if !timer.Stop() {
			select {
			case <-timer.C:
			default:
			}
		}
		timer.Reset(wait)

		select {
		case <-ctx.Done():
			return
		case <-s.wake:
		case <-timer.C:
		}
	}
}

func (s *Scheduler) fireDue() {
	now := s.now()
	for {
		s.mu.Lock()
		if s.queue.Len() == 0 || s.queue[0].at.After(now) {
			s.mu.Unlock()
			return
		}
		tr := heap.Pop(&s.queue).(*trigger)
		if !tr.cancelled {
			s.unlink(tr)
		}
		s.mu.Unlock()

		if tr.cancelled {
			continue
		}
		intent := model.Intent{
			Kind:       tr.kind,
			TenantID:   tr.key.TenantID,
			StrategyID: tr.key.StrategyID,
			Symbol:     tr.symbol,
			At:         tr.at,
		}
		if err := s.sink.Submit(intent); err != nil {
			logs.Errorf("submit %s for strategy %s, retrying in %s, err: %+v", tr.kind, tr.key.StrategyID, submitRetryDelay, err)
			s.requeue(tr)
		}
	}
}

// requeue puts a refused trigger back with a short delay. The original
// trigger was already unlinked; a cancel landing between unlink and here
// leaves the replacement live, and the coordinator moots it on arrival.
func (s *Scheduler) requeue(tr *trigger) {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.nextSeq++
	retry := &trigger{
		at:     s.now().Add(submitRetryDelay),
		kind:   tr.kind,
		key:    tr.key,
		symbol: tr.symbol,
		seq:    s.nextSeq,
	}
	heap.Push(&s.queue, retry)
	s.byKey[retry.key] = append(s.byKey[retry.key], retry)
}

func (s *Scheduler) unlink(tr *trigger) {
	kept := s.byKey[tr.key][:0]
	for _, other := range s.byKey[tr.key] {
		if other != tr {
			kept = append(kept, other)
		}
	}
	if len(kept) == 0 {
		delete(s.byKey, tr.key)
	} else {
		s.byKey[tr.key] = kept
	}
}

func (s *Scheduler) peek() (time.Time, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for s.queue.Len() > 0 && s.queue[0].cancelled {
		heap.Pop(&s.queue)
	}
	if s.queue.Len() == 0 {
		return time.Time{}, false
	}
	return s.queue[0].at, true
}

func (s *Scheduler) notify() {
	select {
	case s.wake <- struct{}{}:
	default:
	}
}

// instantToday anchors a "15:04" clock on now's date in the given zone.
func instantToday(clock string, now time.Time, loc *time.Location) (time.Time, error) {
	parsed, err := time.Parse("15:04", clock)
	if err != nil {
		return time.Time{}, err
	}
	return time.Date(now.Year(), now.Month(), now.Day(), parsed.Hour(), parsed.Minute(), 0, 0, loc), nil
}

type triggerHeap []*trigger

func (h triggerHeap) Len() int { return len(h) }

func (h triggerHeap) Less(i, j int) bool {
	if h[i].at.Equal(h[j].at) {
		return h[i].seq < h[j].seq
	}
	return h[i].at.Before(h[j].at)
}

func (h triggerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *triggerHeap) Push(x any) { *h = append(*h, x.(*trigger)) }

func (h *triggerHeap) Pop() any {
	old := *h
	n := len(old)
	tr := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return tr
}
