package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Intent is a typed request submitted to the execution coordinator by the
// scheduler, the market data listener, or the control surface. Producers
// never call the broker themselves.
type Intent struct {
	Kind       enum.IntentKind
	TenantID   string
	StrategyID string
	Symbol     string
	// Price carries the breaching tick price for STOP_LOSS intents.
	Price decimal.Decimal
	At    time.Time
}
