package model

import "time"

// StrategyCategory classifies a strategy's risk profile. The category drives
// shutdown disposition: high-volatility positions are closed on shutdown,
// everything else is snapshotted for resume.
type StrategyCategory string

const (
	CategoryHighVolatility   StrategyCategory = "high-volatility"
	CategoryMediumVolatility StrategyCategory = "medium-volatility"
	CategoryProfitTaking     StrategyCategory = "profit-taking"
)

// AllocationMode selects a positional redistribution of allocation
// percentages across the registry's strategies.
type AllocationMode string

const (
	AllocationThreeWay AllocationMode = "three-way" // 25/25/50
	AllocationTwoWay   AllocationMode = "two-way"   // 60/40/0
	AllocationSingle   AllocationMode = "single"    // 100/0/0
)

// Strategy is an independently schedulable trading policy with its own
// capital share, risk parameters, and run state.
type Strategy struct {
	ID              string           `json:"id"`
	Name            string           `json:"name"`
	Category        StrategyCategory `json:"category"`
	AccountID       string           `json:"account_id"`
	Allocation      float64          `json:"allocation"` // percent of locked capital, 0-100
	Running         bool             `json:"running"`
	StopLossPct     float64          `json:"stop_loss_pct"`
	TakeProfitPct   float64          `json:"take_profit_pct"`
	MaxPositionSize float64          `json:"max_position_size"` // dollars
	MinProfit       float64          `json:"min_profit"`        // dollars, profit-taking only
	PLToday         float64          `json:"pl_today"`
	PLTotal         float64          `json:"pl_total"`
	WinRate         float64          `json:"win_rate"` // percent of closed trades with positive PL
	LastRun         time.Time        `json:"last_run,omitempty"`
}

// AllocatedCapital returns the dollar amount this strategy may deploy
// given the account's locked trading capital.
func (s *Strategy) AllocatedCapital(lockedCapital float64) float64 {
	return s.Allocation / 100 * lockedCapital
}
