package ingest

import (
	"context"
	"fmt"
	"strings"
	"time"

	sdecimal "github.com/shopspring/decimal"
	"github.com/yanun0323/decimal"
	"github.com/yanun0323/errors"
	"github.com/yanun0323/logs"
	"github.com/yanun0323/pkg/sys"
	"github.com/yanun0323/pkg/ws"

	"main/internal/model"
)

// Feed consumes a market data websocket and turns trade messages into
// price ticks for the stop-loss listener. One connection, many symbols.
type Feed struct {
	wss *ws.WebSocket
}

// NewFeed creates a feed against the given websocket endpoint.
func NewFeed(ctx context.Context, url string) *Feed {
	return &Feed{
		wss: ws.New(ctx, url),
	}
}

func (repo *Feed) Len() int {
	return repo.wss.Len()
}

func (repo *Feed) Close() {
	repo.wss.Close()
}

func (repo *Feed) Start(ctx context.Context) error {
	if err := repo.wss.Start(ctx); err != nil {
		return errors.Wrap(err, "start wss")
	}

	return nil
}

type subscribeRequest struct {
	Method string   `json:"method"`
	Params []string `json:"params"`
	ID     int64    `json:"id"`
}

type subscribeResponse struct {
	ID     int64 `json:"id"`
	Result any   `json:"result"`
}

func subscribeResponseParser(m ws.Message) (subscribeResponse, bool) {
	var resp subscribeResponse
	err := m.Unmarshal(&resp)
	return resp, err == nil
}

// SubscribeTrades subscribes the trade stream for every given symbol.
func (repo *Feed) SubscribeTrades(ctx context.Context, symbols ...string) error {
	params := make([]string, 0, len(symbols))
	for _, symbol := range symbols {
		params = append(params, fmt.Sprintf("%s@trade", strings.ToLower(symbol)))
	}

	appendIntoRegister := true
	if err := repo.wss.SendAndWait(ctx, ws.Sidecar{
		Sender: func(ctx context.Context, ws *ws.WebSocket) error {
			payload := subscribeRequest{
				Method: "SUBSCRIBE",
				Params: params,
				ID:     1,
			}

			if err := ws.WriteJSON(payload); err != nil {
				return errors.Wrap(err, "write subscribe payload").With("payload", payload)
			}

			return nil
		},
		Waiter: func(ctx context.Context, m ws.Message) (bool, error) {
			resp, ok := subscribeResponseParser(m)
			if !ok || resp.ID != 1 {
				return false, nil
			}

			if resp.Result != nil {
				return false, errors.Errorf("subscribe and wait, err: %+v", resp.Result)
			}
			return true, nil
		},
	}, appendIntoRegister); err != nil {
		return errors.Wrap(err, "send and wait")
	}

	return nil
}

type tradeEvent struct {
	EventType string          `json:"e"`
	EventTime int64           `json:"E"`
	Symbol    string          `json:"s"`
	Price     decimal.Decimal `json:"p"`
	Quantity  decimal.Decimal `json:"q"`
}

// ObserveTicks fans incoming trades into the handler as ticks. Malformed
// prices are logged and skipped, never forwarded.
func (repo *Feed) ObserveTicks(ctx context.Context, handler func(t model.Tick)) (unsubscribe func()) {
	ch, cancel := repo.wss.Subscribe()

	go func() {
		defer cancel()
		for {
			select {
			case <-sys.Shutdown():
				return
			case <-ctx.Done():
				return
			case m, ok := <-ch:
				if !ok {
					return
				}

				resp, ok := ws.ReadMessage[tradeEvent](m)
				if !ok || resp.EventType != "trade" {
					continue
				}

				price, err := sdecimal.NewFromString(resp.Price.String())
				if err != nil {
					logs.Errorf("parse trade price for %s, err: %+v", resp.Symbol, err)
					continue
				}

				handler(model.Tick{
					Symbol: resp.Symbol,
					Price:  price,
					At:     time.UnixMilli(resp.EventTime),
				})
			}
		}
	}()

	return cancel
}
