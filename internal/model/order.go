package model

// OrderSide is the direction of an order.
type OrderSide string

const (
	SideBuy  OrderSide = "buy"
	SideSell OrderSide = "sell"
)

// Order is a request submitted to a brokerage gateway. The engine only
// issues day market orders; limit/stop fields exist for venue parity.
type Order struct {
	Symbol      string    `json:"symbol"`
	Qty         int64     `json:"qty"`
	Side        OrderSide `json:"side"`
	Type        string    `json:"type"`          // market, limit, stop, stop_limit
	TimeInForce string    `json:"time_in_force"` // day, gtc, ioc, fok
	LimitPrice  float64   `json:"limit_price,omitempty"`
	StopPrice   float64   `json:"stop_price,omitempty"`
}

// MarketOrder builds a day market order.
func MarketOrder(symbol string, qty int64, side OrderSide) Order {
	return Order{
		Symbol:      symbol,
		Qty:         qty,
		Side:        side,
		Type:        "market",
		TimeInForce: "day",
	}
}

// OrderResult is the venue's acknowledgement of a submitted order. Fills are
// asynchronous, so FilledQty/AvgFillPrice are usually zero at submission.
type OrderResult struct {
	ID           string  `json:"id"`
	Status       string  `json:"status"`
	Symbol       string  `json:"symbol"`
	Qty          int64   `json:"qty"`
	Side         string  `json:"side"`
	FilledQty    int64   `json:"filled_qty,omitempty"`
	AvgFillPrice float64 `json:"avg_fill_price,omitempty"`
}
