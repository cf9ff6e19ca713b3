package engine

import (
	"context"
	"fmt"
	"log"

	"trading-botv1/internal/broker"
	"trading-botv1/internal/events"
)

// EmergencyAction is an operator-triggered kill switch.
type EmergencyAction string

const (
	EmergencyCancelAllOrders   EmergencyAction = "cancel_all_orders"
	EmergencyClosePosition     EmergencyAction = "close_position"
	EmergencyCloseAllPositions EmergencyAction = "close_all_positions"
	EmergencyStop              EmergencyAction = "emergency_stop"
)

// EmergencyStep is one sub-step of an emergency action.
type EmergencyStep struct {
	Name  string `json:"name"`
	OK    bool   `json:"ok"`
	Error string `json:"error,omitempty"`
}

// EmergencyReport captures per-step outcomes. An emergency action keeps
// going after a failed step; the report carries what worked and what
// did not.
type EmergencyReport struct {
	Action EmergencyAction `json:"action"`
	Steps  []EmergencyStep `json:"steps"`
}

// Failed reports whether any step failed.
func (r *EmergencyReport) Failed() bool {
	for _, s := range r.Steps {
		if !s.OK {
			return true
		}
	}
	return false
}

func (r *EmergencyReport) add(name string, err error) {
	step := EmergencyStep{Name: name, OK: err == nil}
	if err != nil {
		step.Error = err.Error()
		log.Printf("[engine] emergency %s: step %s failed: %v", r.Action, name, err)
	}
	r.Steps = append(r.Steps, step)
}

// Emergency executes an emergency action against one account. symbol is
// only used by close_position.
func (e *Engine) Emergency(ctx context.Context, action EmergencyAction, accountID, symbol string) (EmergencyReport, error) {
	rep := EmergencyReport{Action: action}

	acct, err := e.capital.Get(accountID)
	if err != nil {
		return rep, fmt.Errorf("emergency %s: %w", action, err)
	}
	venue, err := e.exec.Venue(acct)
	if err != nil {
		return rep, fmt.Errorf("emergency %s: venue: %w", action, err)
	}

	switch action {
	case EmergencyCancelAllOrders:
		rep.add("cancel all orders", venue.CancelAllOrders(ctx))

	case EmergencyClosePosition:
		if symbol == "" {
			return rep, fmt.Errorf("emergency %s: symbol required", action)
		}
		e.closePositionEverywhere(ctx, venue, symbol, &rep)

	case EmergencyCloseAllPositions:
		e.closeAllEverywhere(ctx, venue, accountID, &rep)

	case EmergencyStop:
		// Full stop: no new decisions, no resting orders, no exposure.
		e.registry.StopAll()
		rep.add("stop all strategies", nil)
		rep.add("cancel all orders", venue.CancelAllOrders(ctx))
		e.closeAllEverywhere(ctx, venue, accountID, &rep)

	default:
		return rep, fmt.Errorf("unknown emergency action %q", action)
	}

	e.bus.Emit(events.TypeEmergency, fmt.Sprintf("emergency %s on account %s", action, accountID), rep)
	return rep, nil
}

// closePositionEverywhere flattens a symbol at the venue and closes the
// matching local positions across all strategies.
func (e *Engine) closePositionEverywhere(ctx context.Context, venue broker.Gateway, symbol string, rep *EmergencyReport) {
	rep.add("venue close "+symbol, venue.ClosePosition(ctx, symbol))
	for _, pos := range e.positions.BySymbol(symbol) {
		_, err := e.positions.ForceClose(pos.PositionID, "emergency close")
		rep.add("ledger close "+pos.PositionID, err)
	}
}

func (e *Engine) closeAllEverywhere(ctx context.Context, venue broker.Gateway, accountID string, rep *EmergencyReport) {
	rep.add("venue close all positions", venue.CloseAllPositions(ctx))
	for _, pos := range e.positions.All() {
		if pos.AccountID != accountID {
			continue
		}
		_, err := e.positions.ForceClose(pos.PositionID, "emergency close")
		rep.add("ledger close "+pos.PositionID, err)
	}
}
