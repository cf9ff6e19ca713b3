package model

import "time"

// Position is a single open holding in one symbol, owned by exactly one
// strategy. A symbol may be held concurrently by several strategies as
// separate Position records; ownership never changes after creation.
type Position struct {
	PositionID    string    `json:"position_id"`
	Symbol        string    `json:"symbol"`
	Qty           int64     `json:"qty"`
	EntryPrice    float64   `json:"entry_price"`   // decision-time mid quote, not fill price
	CurrentPrice  float64   `json:"current_price"` // refreshed each tick
	StrategyID    string    `json:"strategy_id"`
	StrategyName  string    `json:"strategy_name"`
	AccountID     string    `json:"account_id"`
	OpenReason    string    `json:"open_reason"` // oracle reasoning at entry
	OpenTimestamp time.Time `json:"open_timestamp"`
	Signals       []string  `json:"signals"` // sources that backed the entry
	StopLossPct   float64   `json:"stop_loss_pct"`
	TakeProfitPct float64   `json:"take_profit_pct"`
	UnrealizedPL  float64   `json:"unrealized_pl"`
}

// MarkPrice refreshes the current price and recomputes unrealized PL.
func (p *Position) MarkPrice(price float64) {
	p.CurrentPrice = price
	p.UnrealizedPL = (price - p.EntryPrice) * float64(p.Qty)
}

// ClosedPosition is a Position after close. Immutable once created.
type ClosedPosition struct {
	Position
	CloseTimestamp time.Time `json:"close_timestamp"`
	CloseReason    string    `json:"close_reason"`
	RealizedPL     float64   `json:"realized_pl"`
}

// SavedPosition is a shutdown snapshot of an open position, kept as a
// resumption candidate. Resumption is re-validated against current
// conditions, not automatic.
type SavedPosition struct {
	Position
	SavedAt time.Time `json:"saved_at"`
}
