package model

import (
	"time"

	"github.com/shopspring/decimal"
)

// Tick is one normalized last-traded-price update from the market data
// collaborator. The feed's connection lifecycle lives outside the engine.
type Tick struct {
	Symbol string
	Price  decimal.Decimal
	At     time.Time
}
