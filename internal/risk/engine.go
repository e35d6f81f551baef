package risk

import (
	"sync"

	"github.com/shopspring/decimal"

	"main/internal/broker"
)

// Reason explains a deny decision.
type Reason uint8

const (
	ReasonNone Reason = iota
	ReasonKillSwitch
	ReasonMaxQty
	ReasonMaxNotional
)

func (r Reason) String() string {
	switch r {
	case ReasonNone:
		return "none"
	case ReasonKillSwitch:
		return "kill_switch"
	case ReasonMaxQty:
		return "max_qty"
	case ReasonMaxNotional:
		return "max_notional"
	default:
		return "unknown"
	}
}

// Config defines static pre-order limits.
type Config struct {
	KillSwitch       bool            `json:"killSwitch"`
	MaxOrderQty      int64           `json:"maxOrderQty"`
	MaxOrderNotional decimal.Decimal `json:"maxOrderNotional"`
}

// Decision is the outcome of one evaluation.
type Decision struct {
	Allow  bool
	Reason Reason
}

// Engine evaluates orders against static limits before they reach the
// broker. A deny is fatal to the strategy, never retried.
type Engine struct {
	mu  sync.RWMutex
	cfg Config
}

// NewEngine creates a risk engine with static limits.
func NewEngine(cfg Config) *Engine {
	return &Engine{cfg: cfg}
}

// Update swaps the limits, used by config hot reload.
func (e *Engine) Update(cfg Config) {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.cfg = cfg
}

// Evaluate applies simple checks to an order about to be placed.
// referencePrice may be zero when no recent tick exists; the notional
// check is skipped in that case.
func (e *Engine) Evaluate(req broker.OrderRequest, referencePrice decimal.Decimal) Decision {
	e.mu.RLock()
	defer e.mu.RUnlock()

	if e.cfg.KillSwitch {
		return Decision{Reason: ReasonKillSwitch}
	}

	if e.cfg.MaxOrderQty > 0 && req.Quantity > e.cfg.MaxOrderQty {
		return Decision{Reason: ReasonMaxQty}
	}

	if e.cfg.MaxOrderNotional.IsPositive() && referencePrice.IsPositive() {
		notional := referencePrice.Mul(decimal.NewFromInt(req.Quantity))
		if notional.GreaterThan(e.cfg.MaxOrderNotional) {
			return Decision{Reason: ReasonMaxNotional}
		}
	}

	return Decision{Allow: true, Reason: ReasonNone}
}
