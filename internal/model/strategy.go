package model

import (
	"github.com/shopspring/decimal"
)

// StrategyDefinition is the user-configured strategy, owned by the
// persistence collaborator. The engine treats it as read-only input;
// only StopLoss and SellTime may change while the strategy runs.
type StrategyDefinition struct {
	ID       string
	TenantID string
	Symbol   string
	// BuyTime and SellTime are wall-clock instants in the exchange's
	// local timezone, formatted "15:04".
	BuyTime  string
	SellTime string
	StopLoss decimal.Decimal
	Quantity int64
}
