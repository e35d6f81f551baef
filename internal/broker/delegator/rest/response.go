package rest

type profileResponse struct {
	ClientID string `json:"client_id"`
	Name     string `json:"name"`
}

type placeOrderRequest struct {
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	Quantity  int64  `json:"quantity"`
	OrderType string `json:"order_type"`
	Product   string `json:"product_type"`
}

type placeOrderResponse struct {
	OrderID      string `json:"order_id"`
	Status       string `json:"status"`
	AveragePrice string `json:"average_price"`
	Message      string `json:"message"`
}

type quoteResponse struct {
	Symbol    string `json:"symbol"`
	LastPrice string `json:"last_price"`
	Timestamp int64  `json:"timestamp"`
}

type positionsResponse struct {
	Positions []struct {
		Symbol       string `json:"symbol"`
		Quantity     int64  `json:"quantity"`
		AveragePrice string `json:"average_price"`
	} `json:"positions"`
}
