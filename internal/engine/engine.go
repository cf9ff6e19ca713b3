// Package engine is the composition root of the trading bot: it owns
// the capital and position ledgers, the strategy registry, the decision
// pipeline, and the execution gateway, and exposes the operations the
// API layer calls.
package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"trading-botv1/internal/broker"
	"trading-botv1/internal/capital"
	"trading-botv1/internal/events"
	"trading-botv1/internal/execution"
	"trading-botv1/internal/ledger"
	"trading-botv1/internal/model"
	"trading-botv1/internal/pipeline"
	"trading-botv1/internal/registry"
)

const defaultSyncInterval = 60 * time.Second

// SnapshotStore persists the shutdown snapshot, satisfied by the SQLite
// store.
type SnapshotStore interface {
	SaveSnapshot([]model.SavedPosition) error
	LoadSnapshot() ([]model.SavedPosition, error)
	ClearSnapshot() error
}

// Config wires the engine's collaborators.
type Config struct {
	Capital      *capital.Ledger
	Positions    *ledger.Ledger
	Registry     *registry.Registry
	Executor     *execution.Gateway
	Oracle       pipeline.Oracle
	Snapshots    SnapshotStore
	Bus          *events.Bus
	SyncInterval time.Duration
}

// Engine coordinates the trading bot's moving parts.
type Engine struct {
	capital      *capital.Ledger
	positions    *ledger.Ledger
	registry     *registry.Registry
	exec         *execution.Gateway
	oracle       pipeline.Oracle
	snapshots    SnapshotStore
	bus          *events.Bus
	syncInterval time.Duration
}

func New(cfg Config) *Engine {
	e := &Engine{
		capital:      cfg.Capital,
		positions:    cfg.Positions,
		registry:     cfg.Registry,
		exec:         cfg.Executor,
		oracle:       cfg.Oracle,
		snapshots:    cfg.Snapshots,
		bus:          cfg.Bus,
		syncInterval: cfg.SyncInterval,
	}
	if e.syncInterval <= 0 {
		e.syncInterval = defaultSyncInterval
	}
	if e.bus == nil {
		e.bus = events.NewBus()
	}

	e.capital.Bind(e.registry, func(w *capital.RiskWarning) {
		e.bus.Emit(events.TypeCapitalWarning, w.String(), w)
	})
	e.exec.Breaker().OnTrip = func(accountID string) {
		e.capital.SetConnected(accountID, false)
		e.bus.Emit(events.TypeAuthBreaker,
			fmt.Sprintf("sync and order placement suspended for account %s until credentials are updated", accountID), nil)
	}
	return e
}

// Bus returns the audit event bus.
func (e *Engine) Bus() *events.Bus { return e.bus }

// StartStrategy starts one strategy's scheduler.
func (e *Engine) StartStrategy(ctx context.Context, id string) error {
	if err := e.registry.Start(ctx, id); err != nil {
		return err
	}
	e.bus.Emit(events.TypeStrategyStarted, "strategy "+id+" started", nil)
	return nil
}

// StopStrategy stops one strategy's scheduler.
func (e *Engine) StopStrategy(id string) error {
	if err := e.registry.Stop(id); err != nil {
		return err
	}
	e.bus.Emit(events.TypeStrategyStopped, "strategy "+id+" stopped", nil)
	return nil
}

// SetAllocationMode applies a preset allocation split.
func (e *Engine) SetAllocationMode(mode model.AllocationMode) error {
	return e.registry.SetAllocationMode(mode)
}

// SetStrategyAllocation sets one strategy's capital share.
func (e *Engine) SetStrategyAllocation(id string, pct float64) error {
	return e.registry.SetAllocation(id, pct)
}

// SetLockedCapital sets an account's locked trading capital. A non-nil
// warning means the amount was accepted but exceeds the risk ceiling.
func (e *Engine) SetLockedCapital(accountID string, amount float64) (*capital.RiskWarning, error) {
	return e.capital.SetLockedCapital(accountID, amount)
}

// UpdateCredentials swaps an account's venue credentials, resets its
// auth breaker, and syncs it immediately.
func (e *Engine) UpdateCredentials(ctx context.Context, accountID string, creds model.Credentials) error {
	if err := e.capital.UpdateCredentials(accountID, creds); err != nil {
		return err
	}
	e.exec.InvalidateVenue(accountID)
	log.Printf("[engine] credentials updated for account %s, auth breaker reset", accountID)
	e.SyncAccount(ctx, accountID)
	return nil
}

// SyncAccount refreshes one account from its venue. Transient failures
// mark the account disconnected and the next sync retries; auth failures
// feed the breaker, and a tripped account is not synced again until its
// credentials are updated.
func (e *Engine) SyncAccount(ctx context.Context, accountID string) {
	if e.exec.Breaker().Tripped(accountID) {
		log.Printf("[engine] sync %s: skipped, auth breaker open", accountID)
		return
	}
	acct, err := e.capital.Get(accountID)
	if err != nil {
		log.Printf("[engine] sync %s: %v", accountID, err)
		return
	}
	if acct.Venue != "paper" && !acct.Credentials.Configured() {
		return
	}

	venue, err := e.exec.Venue(acct)
	if err != nil {
		log.Printf("[engine] sync %s: venue: %v", accountID, err)
		e.capital.SetConnected(accountID, false)
		return
	}
	state, err := venue.GetAccount(ctx)
	if err != nil {
		log.Printf("[engine] sync %s: %v", accountID, err)
		e.capital.SetConnected(accountID, false)
		if broker.IsAuthError(err) {
			e.exec.Breaker().RecordFailure(accountID)
		}
		return
	}
	e.exec.Breaker().RecordSuccess(accountID)
	if err := e.capital.Reconcile(accountID, state); err != nil {
		log.Printf("[engine] sync %s: reconcile: %v", accountID, err)
		return
	}
	e.capital.SetConnected(accountID, true)
}

// SyncAccounts refreshes every registered account.
func (e *Engine) SyncAccounts(ctx context.Context) {
	for _, acct := range e.capital.Accounts() {
		e.SyncAccount(ctx, acct.ID)
	}
}

// RunAccountSync syncs all accounts on a fixed interval until ctx is
// cancelled. The first sync fires immediately.
func (e *Engine) RunAccountSync(ctx context.Context) {
	ticker := time.NewTicker(e.syncInterval)
	defer ticker.Stop()

	e.SyncAccounts(ctx)
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			e.SyncAccounts(ctx)
		}
	}
}

// Snapshot is the dashboard view of the whole engine.
type Snapshot struct {
	Accounts   []model.Account        `json:"accounts"`
	Strategies []model.Strategy       `json:"strategies"`
	Positions  []model.Position       `json:"positions"`
	History    []model.ClosedPosition `json:"history"`
}

// Snapshot returns a consistent read of accounts, strategies, and
// positions.
func (e *Engine) Snapshot() Snapshot {
	return Snapshot{
		Accounts:   e.capital.Accounts(),
		Strategies: e.registry.List(),
		Positions:  e.positions.All(),
		History:    e.positions.History(),
	}
}
