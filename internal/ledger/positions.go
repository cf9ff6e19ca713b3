// Package ledger tracks open positions and the closed-position history.
//
// The ledger is shared by all strategies but partitioned by strategy ID for
// isolation: no operation initiated by one strategy may close or mutate a
// position owned by another. Reads are snapshot copies; mutations are applied
// atomically per position ID under the ledger lock.
package ledger

import (
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"time"

	"trading-botv1/internal/model"
)

var (
	ErrPositionNotFound = errors.New("position not found")
	ErrNotOwner         = errors.New("position owned by another strategy")
)

// HistorySink receives closed positions for durable storage. Persistence
// failures are logged, never allowed to block the close itself.
type HistorySink interface {
	AppendClosed(pos model.ClosedPosition) error
}

// Ledger is the in-memory position ledger.
type Ledger struct {
	mu        sync.RWMutex
	positions map[string]*model.Position
	history   []model.ClosedPosition

	// realized PL attributed to profit-taking closes, and how many there were
	profitTakingPL     float64
	profitTakingTrades int

	sink HistorySink
}

// New creates an empty ledger. sink may be nil.
func New(sink HistorySink) *Ledger {
	return &Ledger{
		positions: make(map[string]*model.Position),
		sink:      sink,
	}
}

// Record inserts a newly opened position.
func (l *Ledger) Record(pos model.Position) {
	l.mu.Lock()
	defer l.mu.Unlock()
	cp := pos
	l.positions[pos.PositionID] = &cp
	log.Printf("[ledger] recorded %s %s qty=%d entry=%.2f strategy=%s",
		pos.PositionID, pos.Symbol, pos.Qty, pos.EntryPrice, pos.StrategyID)
}

// MarkPrice refreshes the price and unrealized PL of one position. Only the
// owning strategy may mark its positions.
func (l *Ledger) MarkPrice(positionID, strategyID string, price float64) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[positionID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if pos.StrategyID != strategyID {
		return fmt.Errorf("%w: %s belongs to %s", ErrNotOwner, positionID, pos.StrategyID)
	}
	pos.MarkPrice(price)
	return nil
}

// Close removes a position and appends it to the closed history. strategyID
// must match the owner; realizedPL is the unrealized PL at decision time.
func (l *Ledger) Close(positionID, strategyID, reason string, realizedPL float64) (model.ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.closeLocked(positionID, strategyID, reason, realizedPL)
}

// ForceClose closes a position regardless of caller identity. Reserved for
// engine-level operations (graceful shutdown, emergency stop).
func (l *Ledger) ForceClose(positionID, reason string) (model.ClosedPosition, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	pos, ok := l.positions[positionID]
	if !ok {
		return model.ClosedPosition{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	return l.closeLocked(positionID, pos.StrategyID, reason, pos.UnrealizedPL)
}

func (l *Ledger) closeLocked(positionID, strategyID, reason string, realizedPL float64) (model.ClosedPosition, error) {
	pos, ok := l.positions[positionID]
	if !ok {
		return model.ClosedPosition{}, fmt.Errorf("%w: %s", ErrPositionNotFound, positionID)
	}
	if pos.StrategyID != strategyID {
		return model.ClosedPosition{}, fmt.Errorf("%w: %s belongs to %s", ErrNotOwner, positionID, pos.StrategyID)
	}

	closed := model.ClosedPosition{
		Position:       *pos,
		CloseTimestamp: time.Now().UTC(),
		CloseReason:    reason,
		RealizedPL:     realizedPL,
	}
	delete(l.positions, positionID)
	l.history = append(l.history, closed)

	if strings.Contains(reason, "profit-taking") || strings.Contains(reason, "Profit target") {
		l.profitTakingPL += realizedPL
		l.profitTakingTrades++
	}

	log.Printf("[ledger] closed %s %s pl=%.2f reason=%q", positionID, pos.Symbol, realizedPL, reason)

	if l.sink != nil {
		if err := l.sink.AppendClosed(closed); err != nil {
			log.Printf("[ledger] history persist failed for %s: %v", positionID, err)
		}
	}
	return closed, nil
}

// Get returns a copy of one position.
func (l *Ledger) Get(positionID string) (model.Position, bool) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	pos, ok := l.positions[positionID]
	if !ok {
		return model.Position{}, false
	}
	return *pos, true
}

// ByStrategy returns copies of all positions owned by a strategy.
func (l *Ledger) ByStrategy(strategyID string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, p := range l.positions {
		if p.StrategyID == strategyID {
			out = append(out, *p)
		}
	}
	return out
}

// BySymbol returns all positions on a symbol across every strategy. This is
// the cross-strategy context handed to the oracle.
func (l *Ledger) BySymbol(symbol string) []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	var out []model.Position
	for _, p := range l.positions {
		if p.Symbol == symbol {
			out = append(out, *p)
		}
	}
	return out
}

// Has reports whether the strategy already holds the symbol.
func (l *Ledger) Has(symbol, strategyID string) bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	for _, p := range l.positions {
		if p.Symbol == symbol && p.StrategyID == strategyID {
			return true
		}
	}
	return false
}

// All returns a snapshot of every open position.
func (l *Ledger) All() []model.Position {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Position, 0, len(l.positions))
	for _, p := range l.positions {
		out = append(out, *p)
	}
	return out
}

// History returns a copy of the closed-position history.
func (l *Ledger) History() []model.ClosedPosition {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.ClosedPosition, len(l.history))
	copy(out, l.history)
	return out
}

// ProfitTakingStats returns accumulated profit-taking realized PL and the
// number of profit-taking closes.
func (l *Ledger) ProfitTakingStats() (pl float64, trades int) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.profitTakingPL, l.profitTakingTrades
}
