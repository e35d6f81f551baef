package model

import (
	"time"

	"main/internal/model/enum"
)

// EventSeverity ranks lifecycle events for downstream delivery.
type EventSeverity uint8

const (
	SeverityInfo EventSeverity = iota
	SeverityWarning
	SeverityCritical
)

// Event is one state-change notification fanned out on the runtime store's
// pub/sub channel. Delivery is at-least-once; consumers dedupe on
// strategy id + phase + order id.
type Event struct {
	TenantID   string        `json:"tenantId"`
	StrategyID string        `json:"strategyId"`
	Phase      enum.Phase    `json:"phase"`
	PrevPhase  enum.Phase    `json:"prevPhase,omitempty"`
	OrderID    string        `json:"orderId,omitempty"`
	Reason     string        `json:"reason,omitempty"`
	Severity   EventSeverity `json:"severity"`
	At         time.Time     `json:"at"`
}

// OrderAttempt is one append-only audit row for a broker call attempt.
// It is never read back for control decisions.
type OrderAttempt struct {
	StrategyID    string
	TenantID      string
	Side          enum.Side
	AttemptNumber int
	OrderID       string
	Error         string
	At            time.Time
}
