package engine

import (
	"context"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"trading-botv1/internal/events"
	"trading-botv1/internal/model"
)

// Saved positions are only reopened when the oracle re-confirms the
// entry with at least this much confidence.
const restoreConfidenceThreshold = 60

// GracefulShutdown stops every strategy, closes high-volatility
// positions at the venue, and snapshots the rest for resume. Close
// failures are logged and do not abort the snapshot.
func (e *Engine) GracefulShutdown(ctx context.Context) error {
	log.Printf("[engine] graceful shutdown starting")
	e.registry.StopAll()

	var saved []model.SavedPosition
	now := time.Now()

	for _, pos := range e.positions.All() {
		st, err := e.registry.Get(pos.StrategyID)
		if err != nil {
			log.Printf("[engine] shutdown: position %s has unknown strategy %s, snapshotting", pos.PositionID, pos.StrategyID)
			saved = append(saved, model.SavedPosition{Position: pos, SavedAt: now})
			continue
		}

		if st.Category != model.CategoryHighVolatility {
			saved = append(saved, model.SavedPosition{Position: pos, SavedAt: now})
			continue
		}

		e.closeAtVenue(ctx, pos)
		cp, err := e.positions.ForceClose(pos.PositionID, "graceful shutdown")
		if err != nil {
			log.Printf("[engine] shutdown: force close %s: %v", pos.PositionID, err)
			continue
		}
		e.registry.RecordTrade(pos.StrategyID, cp.RealizedPL)
		log.Printf("[engine] shutdown: closed %s %s x%d (PL %.2f)", pos.StrategyID, pos.Symbol, pos.Qty, cp.RealizedPL)
	}

	if e.snapshots != nil {
		if err := e.snapshots.SaveSnapshot(saved); err != nil {
			return fmt.Errorf("shutdown: save snapshot: %w", err)
		}
	}
	e.bus.Emit(events.TypeShutdown, fmt.Sprintf("shutdown complete: %d positions snapshotted", len(saved)), nil)
	log.Printf("[engine] graceful shutdown complete, %d positions snapshotted", len(saved))
	return nil
}

// closeAtVenue flattens one position at the venue, best effort.
func (e *Engine) closeAtVenue(ctx context.Context, pos model.Position) {
	acct, err := e.capital.Get(pos.AccountID)
	if err != nil {
		log.Printf("[engine] shutdown: close %s: %v", pos.Symbol, err)
		return
	}
	venue, err := e.exec.Venue(acct)
	if err != nil {
		log.Printf("[engine] shutdown: close %s: venue: %v", pos.Symbol, err)
		return
	}
	if err := venue.ClosePosition(ctx, pos.Symbol); err != nil {
		log.Printf("[engine] shutdown: venue close %s: %v", pos.Symbol, err)
	}
}

// RestoreSavedState re-validates each saved position against current
// conditions: the oracle must re-confirm the entry with high confidence
// before a position is reopened under a fresh identity. The snapshot is
// cleared either way.
func (e *Engine) RestoreSavedState(ctx context.Context) error {
	if e.snapshots == nil {
		return nil
	}
	saved, err := e.snapshots.LoadSnapshot()
	if err != nil {
		return fmt.Errorf("restore: load snapshot: %w", err)
	}
	if len(saved) == 0 {
		return nil
	}
	log.Printf("[engine] restoring %d saved positions", len(saved))

	restored := 0
	for _, sp := range saved {
		if e.restoreOne(ctx, sp) {
			restored++
		}
	}

	if err := e.snapshots.ClearSnapshot(); err != nil {
		return fmt.Errorf("restore: clear snapshot: %w", err)
	}
	e.bus.Emit(events.TypeRestore, fmt.Sprintf("restore complete: %d of %d positions reopened", restored, len(saved)), nil)
	log.Printf("[engine] restore complete: %d of %d positions reopened", restored, len(saved))
	return nil
}

// restoreOne re-validates one saved position with the price context it
// was snapshotted at. The shares are still held at the venue (only
// high-volatility positions were flattened on shutdown), so a confirmed
// entry is re-recorded in the ledger with its saved qty under a fresh
// ID; no new order is placed.
func (e *Engine) restoreOne(ctx context.Context, sp model.SavedPosition) bool {
	st, err := e.registry.Get(sp.StrategyID)
	if err != nil {
		log.Printf("[engine] restore: dropping %s, unknown strategy %s", sp.PositionID, sp.StrategyID)
		return false
	}
	acct, err := e.capital.Get(sp.AccountID)
	if err != nil {
		log.Printf("[engine] restore: dropping %s: %v", sp.PositionID, err)
		return false
	}

	req := model.DecisionRequest{
		StrategyID:         st.ID,
		StrategyName:       st.Name,
		StrategyType:       string(st.Category),
		Symbol:             sp.Symbol,
		CurrentPrice:       sp.CurrentPrice,
		AccountBalance:     st.AllocatedCapital(acct.LockedTradingCapital),
		Allocation:         st.Allocation,
		OwnedPositions:     []model.Position{sp.Position},
		AllSymbolPositions: e.positions.BySymbol(sp.Symbol),
	}
	d := e.oracle.Decide(ctx, req)
	if d.Action != model.ActionBuy || d.Confidence <= restoreConfidenceThreshold {
		log.Printf("[engine] restore: dropping %s %s (action=%s confidence=%.0f)", st.ID, sp.Symbol, d.Action, d.Confidence)
		return false
	}

	pos := sp.Position
	pos.PositionID = uuid.NewString()
	e.positions.Record(pos)
	log.Printf("[engine] restore: reopened %s %s x%d as %s", st.ID, sp.Symbol, pos.Qty, pos.PositionID)
	return true
}
