package broker

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/shopspring/decimal"

	"main/internal/model/enum"
)

// Paper is an in-memory broker used for simulation and tests. Failures can
// be scripted per side to exercise the coordinator's retry path.
type Paper struct {
	mu        sync.Mutex
	connected bool
	prices    map[string]decimal.Decimal
	positions map[string]int64
	orders    []OrderRequest

	failNext map[string]int // side -> remaining scripted failures
	failAll  bool
	block    chan struct{} // when set, PlaceOrder waits on it

	orderSeq atomic.Uint64
}

// NewPaper allocates a connected paper broker.
func NewPaper() *Paper {
	return &Paper{
		connected: true,
		prices:    make(map[string]decimal.Decimal),
		positions: make(map[string]int64),
		failNext:  make(map[string]int),
	}
}

func (p *Paper) Connect(_ context.Context, _ map[string]string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.connected = true
	return nil
}

// SetPrice sets the simulated last-traded price for a symbol.
func (p *Paper) SetPrice(symbol string, price decimal.Decimal) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

// FailNext scripts the next n PlaceOrder calls for a side to fail.
func (p *Paper) FailNext(side string, n int) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failNext[side] = n
}

// FailAll makes every PlaceOrder call fail until cleared.
func (p *Paper) FailAll(fail bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.failAll = fail
}

// BlockOrders makes PlaceOrder wait until the returned release func runs.
func (p *Paper) BlockOrders() (release func()) {
	p.mu.Lock()
	defer p.mu.Unlock()
	ch := make(chan struct{})
	p.block = ch
	var once sync.Once
	return func() {
		once.Do(func() {
			close(ch)
			p.mu.Lock()
			p.block = nil
			p.mu.Unlock()
		})
	}
}

func (p *Paper) PlaceOrder(ctx context.Context, req OrderRequest) (OrderResult, error) {
	p.mu.Lock()
	if !p.connected {
		p.mu.Unlock()
		return OrderResult{}, ErrNotConnected
	}
	block := p.block
	p.mu.Unlock()

	if block != nil {
		select {
		case <-block:
		case <-ctx.Done():
			return OrderResult{}, ctx.Err()
		}
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	if p.failAll {
		return OrderResult{}, ErrBrokerTimeout
	}
	if remaining := p.failNext[string(req.Side)]; remaining > 0 {
		p.failNext[string(req.Side)] = remaining - 1
		return OrderResult{}, ErrBrokerTimeout
	}

	price, ok := p.prices[req.Symbol]
	if !ok {
		return OrderResult{}, ErrUnknownSymbol
	}

	qty := req.Quantity
	if req.Side == enum.SideSell {
		qty = -qty
	}
	p.positions[req.Symbol] += qty
	p.orders = append(p.orders, req)

	return OrderResult{
		OrderID: fmt.Sprintf("paper-%d", p.orderSeq.Add(1)),
		Price:   price,
	}, nil
}

func (p *Paper) LastPrice(_ context.Context, symbol string) (decimal.Decimal, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	price, ok := p.prices[symbol]
	if !ok {
		return decimal.Decimal{}, ErrUnknownSymbol
	}
	return price, nil
}

func (p *Paper) Positions(_ context.Context) ([]Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]Position, 0, len(p.positions))
	for symbol, qty := range p.positions {
		if qty == 0 {
			continue
		}
		out = append(out, Position{Symbol: symbol, Quantity: qty, AvgPrice: p.prices[symbol]})
	}
	return out, nil
}

// Orders returns every accepted order, in placement order.
func (p *Paper) Orders() []OrderRequest {
	p.mu.Lock()
	defer p.mu.Unlock()

	out := make([]OrderRequest, len(p.orders))
	copy(out, p.orders)
	return out
}
