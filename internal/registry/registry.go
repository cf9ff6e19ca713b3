// Package registry owns the strategy set and their tick schedulers.
// The strategy roster is fixed; operators start and stop strategies and
// move allocation between them, they do not define new ones.
package registry

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sync"
	"time"

	"trading-botv1/internal/capital"
	"trading-botv1/internal/model"
)

const defaultTickInterval = 30 * time.Second

var (
	ErrStrategyNotFound  = errors.New("strategy not found")
	ErrInvalidAllocation = errors.New("invalid allocation")
)

// TickFunc runs one strategy cycle. The registry passes a snapshot of
// the strategy so allocation changes are picked up on the next tick.
type TickFunc func(ctx context.Context, st model.Strategy)

// Defaults returns the fixed strategy roster for an account.
func Defaults(accountID string) []model.Strategy {
	return []model.Strategy{
		{
			ID: "high-vol-1", Name: "High Volatility 1",
			Category: model.CategoryHighVolatility, AccountID: accountID,
			Allocation: 25, StopLossPct: 5, TakeProfitPct: 10,
		},
		{
			ID: "high-vol-2", Name: "High Volatility 2",
			Category: model.CategoryHighVolatility, AccountID: accountID,
			Allocation: 25, StopLossPct: 5, TakeProfitPct: 10,
		},
		{
			ID: "medium-vol-1", Name: "Medium Volatility 1",
			Category: model.CategoryMediumVolatility, AccountID: accountID,
			Allocation: 50, StopLossPct: 3, TakeProfitPct: 6,
		},
		{
			ID: "profit-taking-5", Name: "Profit Taking $5",
			Category: model.CategoryProfitTaking, AccountID: accountID,
			Allocation: 0, MinProfit: 5,
		},
	}
}

// allocationModes maps each mode onto the roster positionally. The
// profit-taking strategy always stays at zero.
var allocationModes = map[model.AllocationMode][]float64{
	model.AllocationThreeWay: {25, 25, 50, 0},
	model.AllocationTwoWay:   {60, 40, 0, 0},
	model.AllocationSingle:   {100, 0, 0, 0},
}

type job struct {
	cancel context.CancelFunc
}

// Registry holds the strategies and runs one ticker goroutine per
// running strategy.
type Registry struct {
	capital      *capital.Ledger
	tick         TickFunc
	tickInterval time.Duration

	mu         sync.RWMutex
	strategies map[string]*model.Strategy
	order      []string
	jobs       map[string]*job
	wins       map[string]int
	trades     map[string]int

	wg sync.WaitGroup
}

func New(capLedger *capital.Ledger, tick TickFunc, tickInterval time.Duration) *Registry {
	if tickInterval <= 0 {
		tickInterval = defaultTickInterval
	}
	return &Registry{
		capital:      capLedger,
		tick:         tick,
		tickInterval: tickInterval,
		strategies:   make(map[string]*model.Strategy),
		jobs:         make(map[string]*job),
		wins:         make(map[string]int),
		trades:       make(map[string]int),
	}
}

// Register adds a strategy to the roster. Typically called once at
// startup with Defaults().
func (r *Registry) Register(st model.Strategy) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.strategies[st.ID]; !exists {
		r.order = append(r.order, st.ID)
	}
	stCopy := st
	r.strategies[st.ID] = &stCopy
}

// Get returns a snapshot of one strategy.
func (r *Registry) Get(id string) (model.Strategy, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	st, ok := r.strategies[id]
	if !ok {
		return model.Strategy{}, fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	return *st, nil
}

// List returns roster snapshots in registration order.
func (r *Registry) List() []model.Strategy {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]model.Strategy, 0, len(r.order))
	for _, id := range r.order {
		out = append(out, *r.strategies[id])
	}
	return out
}

// Start begins ticking a strategy. Starting a running strategy is a
// logged no-op. If the account has no locked capital yet, a default
// amount is locked first.
func (r *Registry) Start(ctx context.Context, id string) error {
	r.mu.Lock()
	st, ok := r.strategies[id]
	if !ok {
		r.mu.Unlock()
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if st.Running {
		r.mu.Unlock()
		log.Printf("[registry] strategy %s already running", id)
		return nil
	}

	acct, err := r.capital.Get(st.AccountID)
	if err != nil {
		r.mu.Unlock()
		return fmt.Errorf("start %s: %w", id, err)
	}
	if acct.LockedTradingCapital == 0 {
		if locked, err := r.capital.AutoLock(st.AccountID); err != nil {
			r.mu.Unlock()
			return fmt.Errorf("start %s: auto-lock: %w", id, err)
		} else {
			log.Printf("[registry] auto-locked %.2f for account %s before starting %s", locked, st.AccountID, id)
		}
	}

	jobCtx, cancel := context.WithCancel(ctx)
	st.Running = true
	r.jobs[id] = &job{cancel: cancel}
	r.mu.Unlock()

	r.wg.Add(1)
	go r.run(jobCtx, id)
	log.Printf("[registry] started strategy %s (every %s)", id, r.tickInterval)
	return nil
}

// run is the per-strategy ticker loop. The first tick fires immediately.
func (r *Registry) run(ctx context.Context, id string) {
	defer r.wg.Done()

	ticker := time.NewTicker(r.tickInterval)
	defer ticker.Stop()

	r.runTick(ctx, id)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			r.runTick(ctx, id)
		}
	}
}

func (r *Registry) runTick(ctx context.Context, id string) {
	r.mu.Lock()
	st, ok := r.strategies[id]
	if !ok || !st.Running {
		r.mu.Unlock()
		return
	}
	st.LastRun = time.Now()
	snapshot := *st
	r.mu.Unlock()

	r.tick(ctx, snapshot)
}

// Stop cancels a strategy's ticker. An in-flight tick runs to
// completion; no new tick starts.
func (r *Registry) Stop(id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}
	if !st.Running {
		log.Printf("[registry] strategy %s already stopped", id)
		return nil
	}
	if j, ok := r.jobs[id]; ok {
		j.cancel()
		delete(r.jobs, id)
	}
	st.Running = false
	log.Printf("[registry] stopped strategy %s", id)
	return nil
}

// StopAll stops every running strategy and waits for in-flight ticks.
func (r *Registry) StopAll() {
	r.mu.Lock()
	for id, j := range r.jobs {
		j.cancel()
		delete(r.jobs, id)
		if st, ok := r.strategies[id]; ok {
			st.Running = false
		}
	}
	r.mu.Unlock()
	r.wg.Wait()
}

// HasRunningStrategies reports whether any strategy on the account is
// running. Satisfies the capital ledger's RunningChecker.
func (r *Registry) HasRunningStrategies(accountID string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	for _, st := range r.strategies {
		if st.Running && st.AccountID == accountID {
			return true
		}
	}
	return false
}

// SetAllocation sets one strategy's share of locked capital, in percent.
// Shares are bounded per strategy; the sum across strategies may exceed
// 100%, which overcommits locked capital and is logged but allowed.
func (r *Registry) SetAllocation(id string, pct float64) error {
	if pct < 0 || pct > 100 {
		return fmt.Errorf("%w: %.2f", ErrInvalidAllocation, pct)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.strategies[id]
	if !ok {
		return fmt.Errorf("%w: %s", ErrStrategyNotFound, id)
	}

	st.Allocation = pct
	total := 0.0
	for _, other := range r.strategies {
		total += other.Allocation
	}
	if total > 100 {
		log.Printf("[registry] total allocation %.0f%% exceeds 100%%, locked capital is overcommitted", total)
	}
	log.Printf("[registry] strategy %s allocation set to %.0f%%", id, pct)
	return nil
}

// SetAllocationMode applies a preset allocation split across the roster
// in registration order.
func (r *Registry) SetAllocationMode(mode model.AllocationMode) error {
	split, ok := allocationModes[mode]
	if !ok {
		return fmt.Errorf("%w: unknown mode %q", ErrInvalidAllocation, mode)
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	for i, id := range r.order {
		pct := 0.0
		if i < len(split) {
			pct = split[i]
		}
		r.strategies[id].Allocation = pct
	}
	log.Printf("[registry] allocation mode set to %s", mode)
	return nil
}

// RecordTrade rolls a realized PL into the strategy's running stats.
func (r *Registry) RecordTrade(id string, realizedPL float64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	st, ok := r.strategies[id]
	if !ok {
		return
	}
	st.PLToday += realizedPL
	st.PLTotal += realizedPL
	r.trades[id]++
	if realizedPL > 0 {
		r.wins[id]++
	}
	st.WinRate = float64(r.wins[id]) / float64(r.trades[id]) * 100
}

// ResetDailyPL zeroes PLToday across the roster. Called at session open.
func (r *Registry) ResetDailyPL() {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, st := range r.strategies {
		st.PLToday = 0
	}
}
