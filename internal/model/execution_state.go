package model

import (
	"time"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// ExecutionState is the authoritative runtime record of one strategy's
// progress. It is mutated exclusively by the execution coordinator through
// the runtime store's compare-and-set.
type ExecutionState struct {
	StrategyID string `json:"strategyId"`
	TenantID   string `json:"tenantId"`

	Phase    enum.Phase    `json:"phase"`
	Position enum.Position `json:"position"`

	Symbol   string          `json:"symbol"`
	StopLoss decimal.Decimal `json:"stopLoss"`
	Quantity int64           `json:"quantity"`

	BuyOrderID  string `json:"buyOrderId,omitempty"`
	SellOrderID string `json:"sellOrderId,omitempty"`

	LastPrice     decimal.Decimal `json:"lastPrice"`
	LastAction    string          `json:"lastAction,omitempty"`
	LastUpdatedAt time.Time       `json:"lastUpdatedAt"`

	// FailureCount resets on every successful phase transition. Reaching
	// the configured ceiling forces PhaseError.
	FailureCount int `json:"failureCount"`

	// Version increases by one on every accepted compare-and-set.
	Version uint64 `json:"version"`
}

// NewExecutionState copies a definition into a fresh WAITING state.
func NewExecutionState(def StrategyDefinition, now time.Time) ExecutionState {
	return ExecutionState{
		StrategyID:    def.ID,
		TenantID:      def.TenantID,
		Phase:         enum.PhaseWaiting,
		Position:      enum.PositionNone,
		Symbol:        def.Symbol,
		StopLoss:      def.StopLoss,
		Quantity:      def.Quantity,
		LastUpdatedAt: now,
	}
}

// WithPhase returns a copy transitioned to the given phase with the
// denormalized position refreshed.
func (s ExecutionState) WithPhase(phase enum.Phase, now time.Time) ExecutionState {
	s.Phase = phase
	s.Position = phase.Position()
	s.LastUpdatedAt = now
	return s
}
