package watch

import (
	"context"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"
	"github.com/yanun0323/logs"

	"main/internal/model"
	"main/internal/model/enum"
	"main/internal/store"
)

const defaultTickBuffer = 4096

// Sink receives stop-loss breach intents.
type Sink interface {
	Submit(intent model.Intent) error
}

type entry struct {
	key      store.Key
	symbol   string
	stopLoss decimal.Decimal
	// fired debounces repeated breach ticks; re-arming happens via
	// Subscribe when the coordinator rolls a strategy back to BOUGHT.
	fired bool
}

// Listener keeps a last-traded-price view for every symbol with at least
// one BOUGHT strategy and raises STOP_LOSS intents on breach. Tick intake
// never blocks: evaluation runs on its own goroutine behind a bounded
// queue so the feed is never back-pressured.
type Listener struct {
	mu        sync.RWMutex
	bySymbol  map[string]map[store.Key]*entry
	lastPrice map[string]decimal.Decimal

	sink    Sink
	ticks   chan model.Tick
	dropped atomic.Uint64
}

// New allocates a listener.
func New(sink Sink) *Listener {
	return &Listener{
		bySymbol:  make(map[string]map[store.Key]*entry),
		lastPrice: make(map[string]decimal.Decimal),
		sink:      sink,
		ticks:     make(chan model.Tick, defaultTickBuffer),
	}
}

// Subscribe starts stop-loss evaluation for a strategy. Calling it again
// for the same key refreshes the stop and re-arms the breach trigger.
func (l *Listener) Subscribe(key store.Key, symbol string, stopLoss decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	entries, ok := l.bySymbol[symbol]
	if !ok {
		entries = make(map[store.Key]*entry)
		l.bySymbol[symbol] = entries
	}
	entries[key] = &entry{key: key, symbol: symbol, stopLoss: stopLoss}
}

// Unsubscribe stops evaluation for a strategy.
func (l *Listener) Unsubscribe(key store.Key) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for symbol, entries := range l.bySymbol {
		delete(entries, key)
		if len(entries) == 0 {
			delete(l.bySymbol, symbol)
		}
	}
}

// UpdateStopLoss re-applies a changed stop to a live subscription.
func (l *Listener) UpdateStopLoss(key store.Key, stopLoss decimal.Decimal) {
	l.mu.Lock()
	defer l.mu.Unlock()

	for _, entries := range l.bySymbol {
		if e, ok := entries[key]; ok {
			e.stopLoss = stopLoss
			e.fired = false
		}
	}
}

// Watching reports whether a strategy has a live subscription.
func (l *Listener) Watching(key store.Key) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()

	for _, entries := range l.bySymbol {
		if _, ok := entries[key]; ok {
			return true
		}
	}
	return false
}

// LastPrice returns the most recent tick price seen for a symbol.
func (l *Listener) LastPrice(symbol string) (decimal.Decimal, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()

	price, ok := l.lastPrice[symbol]
	return price, ok
}

// OnTick enqueues a tick without blocking. Full queues shed the tick;
// the next tick for the symbol carries the fresher price anyway.
func (l *Listener) OnTick(tick model.Tick) {
	select {
	case l.ticks <- tick:
	default:
		if l.dropped.Add(1)%1000 == 1 {
			logs.Warnf("tick queue full, dropped=%d", l.dropped.Load())
		}
	}
}

// Run evaluates ticks until the context is done.
func (l *Listener) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case tick := <-l.ticks:
			l.evaluate(tick)
		}
	}
}

func (l *Listener) evaluate(tick model.Tick) {
	l.mu.Lock()
	l.lastPrice[tick.Symbol] = tick.Price

	var breached []*entry
	for _, e := range l.bySymbol[tick.Symbol] {
		if e.fired {
			continue
		}
		if tick.Price.LessThanOrEqual(e.stopLoss) {
			e.fired = true
			breached = append(breached, e)
		}
	}
	l.mu.Unlock()

	for _, e := range breached {
		intent := model.Intent{
			Kind:       enum.IntentStopLoss,
			TenantID:   e.key.TenantID,
			StrategyID: e.key.StrategyID,
			Symbol:     tick.Symbol,
			Price:      tick.Price,
			At:         tick.At,
		}
		if err := l.sink.Submit(intent); err != nil {
			// Re-arm so the next tick retries delivery.
			logs.Errorf("CRITICAL: stop-loss intent for strategy %s not delivered, err: %+v", e.key.StrategyID, err)
			l.mu.Lock()
			e.fired = false
			l.mu.Unlock()
		}
	}
}

// Dropped reports how many ticks were shed on a full queue.
func (l *Listener) Dropped() uint64 {
	return l.dropped.Load()
}
