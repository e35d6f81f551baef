package risk

import (
	"testing"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"

	"main/internal/broker"
	"main/internal/model/enum"
)

func TestEvaluate(t *testing.T) {
	req := broker.OrderRequest{Symbol: "TCS", Side: enum.SideBuy, Quantity: 10}
	price := decimal.RequireFromString("3500")

	t.Run("allow within limits", func(t *testing.T) {
		e := NewEngine(Config{MaxOrderQty: 100, MaxOrderNotional: decimal.RequireFromString("50000")})
		d := e.Evaluate(req, price)
		assert.True(t, d.Allow)
		assert.Equal(t, ReasonNone, d.Reason)
	})

	t.Run("kill switch denies everything", func(t *testing.T) {
		e := NewEngine(Config{KillSwitch: true})
		d := e.Evaluate(req, price)
		assert.False(t, d.Allow)
		assert.Equal(t, ReasonKillSwitch, d.Reason)
	})

	t.Run("quantity over limit", func(t *testing.T) {
		e := NewEngine(Config{MaxOrderQty: 5})
		d := e.Evaluate(req, price)
		assert.False(t, d.Allow)
		assert.Equal(t, ReasonMaxQty, d.Reason)
	})

	t.Run("notional over limit", func(t *testing.T) {
		e := NewEngine(Config{MaxOrderNotional: decimal.RequireFromString("10000")})
		d := e.Evaluate(req, price)
		assert.False(t, d.Allow)
		assert.Equal(t, ReasonMaxNotional, d.Reason)
	})

	t.Run("notional skipped without reference price", func(t *testing.T) {
		e := NewEngine(Config{MaxOrderNotional: decimal.RequireFromString("10000")})
		d := e.Evaluate(req, decimal.Zero)
		assert.True(t, d.Allow)
	})
}
