package obs

import (
	"sync/atomic"
	"time"

	"main/internal/model/enum"
)

const maxIntentKind = int(enum.IntentUserStop)

// Metrics collects lightweight counters and latency stats for the engine.
type Metrics struct {
	intentCounts   [maxIntentKind + 1]uint64
	mootIntents    uint64
	brokerRetries  uint64
	queueDrops     uint64
	storeRefusals  uint64

	orderLatency LatencyStats
	lockWait     LatencyStats
}

// LatencyStats aggregates duration samples in nanoseconds.
type LatencyStats struct {
	count uint64
	sum   uint64
	min   uint64
	max   uint64
}

// LatencySnapshot is a point-in-time view of latency stats.
type LatencySnapshot struct {
	Count uint64
	Min   time.Duration
	Max   time.Duration
	Avg   time.Duration
}

// Snapshot captures the current metrics values.
type Snapshot struct {
	IntentCounts  map[enum.IntentKind]uint64
	MootIntents   uint64
	BrokerRetries uint64
	QueueDrops    uint64
	StoreRefusals uint64
	OrderLatency  LatencySnapshot
	LockWait      LatencySnapshot
}

// NewMetrics allocates a metrics container.
func NewMetrics() *Metrics {
	return &Metrics{}
}

// IncIntent counts one processed intent by kind.
func (m *Metrics) IncIntent(kind enum.IntentKind) {
	if m == nil {
		return
	}
	idx := int(kind)
	if idx >= 0 && idx < len(m.intentCounts) {
		atomic.AddUint64(&m.intentCounts[idx], 1)
	}
}

// IncMoot counts an intent discarded as no longer applicable.
func (m *Metrics) IncMoot() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.mootIntents, 1)
}

// IncBrokerRetry counts one failed broker attempt.
func (m *Metrics) IncBrokerRetry() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.brokerRetries, 1)
}

// IncQueueDrop records a full intent queue.
func (m *Metrics) IncQueueDrop() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.queueDrops, 1)
}

// IncStoreRefusal records an intent refused because the store was unreachable.
func (m *Metrics) IncStoreRefusal() {
	if m == nil {
		return
	}
	atomic.AddUint64(&m.storeRefusals, 1)
}

// ObserveOrder tracks one broker round-trip duration.
func (m *Metrics) ObserveOrder(d time.Duration) {
	if m == nil {
		return
	}
	m.orderLatency.Observe(d)
}

// ObserveLockWait tracks time spent waiting on a strategy lock.
func (m *Metrics) ObserveLockWait(d time.Duration) {
	if m == nil {
		return
	}
	m.lockWait.Observe(d)
}

// Observe records one duration sample.
func (s *LatencyStats) Observe(d time.Duration) {
	if d < 0 {
		return
	}
	v := uint64(d)
	atomic.AddUint64(&s.count, 1)
	atomic.AddUint64(&s.sum, v)
	for {
		cur := atomic.LoadUint64(&s.min)
		if cur != 0 && cur <= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.min, cur, v) {
			break
		}
	}
	for {
		cur := atomic.LoadUint64(&s.max)
		if cur >= v {
			break
		}
		if atomic.CompareAndSwapUint64(&s.max, cur, v) {
			break
		}
	}
}

func (s *LatencyStats) snapshot() LatencySnapshot {
	count := atomic.LoadUint64(&s.count)
	out := LatencySnapshot{
		Count: count,
		Min:   time.Duration(atomic.LoadUint64(&s.min)),
		Max:   time.Duration(atomic.LoadUint64(&s.max)),
	}
	if count > 0 {
		out.Avg = time.Duration(atomic.LoadUint64(&s.sum) / count)
	}
	return out
}

// Snapshot captures current values.
func (m *Metrics) Snapshot() Snapshot {
	out := Snapshot{
		IntentCounts:  make(map[enum.IntentKind]uint64),
		MootIntents:   atomic.LoadUint64(&m.mootIntents),
		BrokerRetries: atomic.LoadUint64(&m.brokerRetries),
		QueueDrops:    atomic.LoadUint64(&m.queueDrops),
		StoreRefusals: atomic.LoadUint64(&m.storeRefusals),
		OrderLatency:  m.orderLatency.snapshot(),
		LockWait:      m.lockWait.snapshot(),
	}
	for i := range m.intentCounts {
		if count := atomic.LoadUint64(&m.intentCounts[i]); count > 0 {
			out.IntentCounts[enum.IntentKind(i)] = count
		}
	}
	return out
}
