// Package model defines the core domain types shared across the engine:
// strategies, accounts, positions, orders, and oracle decisions.
package model

import "time"

// DecisionAction is the oracle's recommended action.
type DecisionAction string

const (
	ActionBuy  DecisionAction = "buy"
	ActionSell DecisionAction = "sell"
	ActionHold DecisionAction = "hold"
)

// Decision is a validated, normalized oracle response. Hold implies Qty 0.
type Decision struct {
	Action      DecisionAction `json:"action"`
	Symbol      string         `json:"symbol"`
	Qty         int64          `json:"quantity"`
	Reasoning   string         `json:"reasoning"`
	Confidence  float64        `json:"confidence"` // 0-100
	SignalsUsed []string       `json:"signals_used"`
	DecidedAt   time.Time      `json:"decided_at"`
	StrategyID  string         `json:"strategy_id"`
	FailSafe    bool           `json:"fail_safe,omitempty"` // degraded hold, not an oracle opinion
}

// FailSafeHold is the decision the pipeline degrades to when the oracle
// response is malformed, missing, or times out.
func FailSafeHold(symbol, strategyID, reason string) Decision {
	return Decision{
		Action:     ActionHold,
		Symbol:     symbol,
		Qty:        0,
		Reasoning:  reason,
		Confidence: 0,
		StrategyID: strategyID,
		DecidedAt:  time.Now().UTC(),
		FailSafe:   true,
	}
}

// Signal is one external data-source reading for a symbol.
type Signal struct {
	Source    string    `json:"source"`
	Symbol    string    `json:"symbol"`
	Direction string    `json:"signal"`   // buy, sell, hold
	Strength  float64   `json:"strength"` // 0-100
	Timestamp time.Time `json:"timestamp"`
}

// DecisionRequest is the full context handed to the decision oracle.
// AllSymbolPositions carries other strategies' holdings for isolation
// awareness: the oracle is told about them but must never act on them.
type DecisionRequest struct {
	StrategyID         string     `json:"strategyId"`
	StrategyName       string     `json:"strategyName"`
	StrategyType       string     `json:"strategyType"`
	Symbol             string     `json:"symbol"`
	CurrentPrice       float64    `json:"currentPrice"`
	AccountBalance     float64    `json:"accountBalance"` // strategy's allocated capital
	Allocation         float64    `json:"allocation"`     // percent
	OwnedPositions     []Position `json:"ownedPositions"`
	AllSymbolPositions []Position `json:"allSymbolPositions"`
	AvailableSignals   []Signal   `json:"availableSignals"`
}
