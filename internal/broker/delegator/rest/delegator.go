package rest

import (
	"context"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/shopspring/decimal"
	"github.com/yanun0323/errors"

	"main/internal/broker"
)

const _defaultTimeout = 15 * time.Second

// Config points the delegator at one broker's REST gateway.
type Config struct {
	BaseURL string
	APIKey  string
	Secret  string
	Timeout time.Duration
}

// Delegator implements broker.Adapter over a plain REST gateway, for
// brokers exposing an order/quote HTTP API. Wire-level quirks (auth
// headers, field names) stay in here.
type Delegator struct {
	client *resty.Client
}

var _ broker.Adapter = (*Delegator)(nil)

// NewDelegator creates a REST adapter.
func NewDelegator(cfg Config) *Delegator {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = _defaultTimeout
	}

	client := resty.New()
	client.SetBaseURL(cfg.BaseURL)
	client.SetTimeout(timeout)
	client.SetHeader("X-API-Key", cfg.APIKey)
	client.SetHeader("X-API-Secret", cfg.Secret)

	return &Delegator{client: client}
}

func (d *Delegator) Connect(ctx context.Context, credentials map[string]string) error {
	if key, ok := credentials["api_key"]; ok && key != "" {
		d.client.SetHeader("X-API-Key", key)
	}
	if secret, ok := credentials["api_secret"]; ok && secret != "" {
		d.client.SetHeader("X-API-Secret", secret)
	}

	var out profileResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/profile")
	if err != nil {
		return errors.Wrap(err, "get profile")
	}
	if resp.IsError() {
		return errors.Errorf("get profile, status: %s", resp.Status())
	}
	return nil
}

func (d *Delegator) PlaceOrder(ctx context.Context, req broker.OrderRequest) (broker.OrderResult, error) {
	body := placeOrderRequest{
		Symbol:    req.Symbol,
		Side:      string(req.Side),
		Quantity:  req.Quantity,
		OrderType: "MARKET",
		Product:   "INTRADAY",
	}

	var out placeOrderResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetBody(body).
		SetResult(&out).
		Post("/orders")
	if err != nil {
		return broker.OrderResult{}, errors.Wrap(err, "place order").With("symbol", req.Symbol)
	}
	if resp.IsError() {
		return broker.OrderResult{}, errors.Errorf("place order, status: %s, message: %s", resp.Status(), out.Message)
	}
	if out.OrderID == "" {
		return broker.OrderResult{}, broker.ErrOrderRejected
	}

	price, err := decimal.NewFromString(out.AveragePrice)
	if err != nil {
		price = decimal.Zero
	}
	return broker.OrderResult{OrderID: out.OrderID, Price: price}, nil
}

func (d *Delegator) LastPrice(ctx context.Context, symbol string) (decimal.Decimal, error) {
	var out quoteResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetQueryParam("symbol", symbol).
		SetResult(&out).
		Get("/quotes/ltp")
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "get last price").With("symbol", symbol)
	}
	if resp.IsError() {
		return decimal.Decimal{}, errors.Errorf("get last price, status: %s", resp.Status())
	}

	price, err := decimal.NewFromString(out.LastPrice)
	if err != nil {
		return decimal.Decimal{}, errors.Wrap(err, "parse last price")
	}
	return price, nil
}

func (d *Delegator) Positions(ctx context.Context) ([]broker.Position, error) {
	var out positionsResponse
	resp, err := d.client.R().
		SetContext(ctx).
		SetResult(&out).
		Get("/positions")
	if err != nil {
		return nil, errors.Wrap(err, "get positions")
	}
	if resp.IsError() {
		return nil, errors.Errorf("get positions, status: %s", resp.Status())
	}

	positions := make([]broker.Position, 0, len(out.Positions))
	for _, p := range out.Positions {
		avg, err := decimal.NewFromString(p.AveragePrice)
		if err != nil {
			avg = decimal.Zero
		}
		positions = append(positions, broker.Position{
			Symbol:   p.Symbol,
			Quantity: p.Quantity,
			AvgPrice: avg,
		})
	}
	return positions, nil
}
