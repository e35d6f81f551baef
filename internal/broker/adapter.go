package broker

import (
	"context"
	"errors"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

var (
	ErrNotConnected  = errors.New("broker not connected")
	ErrOrderRejected = errors.New("broker rejected order")
	ErrUnknownSymbol = errors.New("symbol unknown to broker")
	ErrBrokerTimeout = errors.New("broker call timed out")
)

// OrderRequest is a market order. The coordinator guarantees at most one
// request per strategy+side by construction; adapters need no dedupe.
type OrderRequest struct {
	Symbol   string
	Side     enum.Side
	Quantity int64
}

// OrderResult is the confirmed broker fill.
type OrderResult struct {
	OrderID string
	Price   decimal.Decimal
}

// Position is one open position reported by the broker.
type Position struct {
	Symbol   string
	Quantity int64
	AvgPrice decimal.Decimal
}

// Adapter is the uniform contract every concrete broker implements. The
// engine depends only on this interface; wire protocol quirks stay inside
// each implementation.
type Adapter interface {
	Connect(ctx context.Context, credentials map[string]string) error
	PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error)
	LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error)
	Positions(ctx context.Context) ([]Position, error)
}
