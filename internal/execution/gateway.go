// Package execution turns validated oracle decisions into venue orders.
// It owns the pre-trade checks, the auth circuit breaker, and the
// bookkeeping that keeps the position ledger consistent with what was
// actually sent to the venue.
package execution

import (
	"context"
	"fmt"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"trading-botv1/internal/broker"
	"trading-botv1/internal/capital"
	"trading-botv1/internal/ledger"
	"trading-botv1/internal/model"
)

// Outcome classifies what happened to a decision.
type Outcome string

const (
	OutcomeExecuted Outcome = "executed"
	OutcomeSkipped  Outcome = "skipped" // pre-trade check declined, not an error
	OutcomeRejected Outcome = "rejected"
)

// Result reports how a decision was handled.
type Result struct {
	Outcome Outcome
	Reason  string
	Order   *model.OrderResult
	Opened  *model.Position
	Closed  []model.ClosedPosition
}

// Journal is the order audit sink, satisfied by the SQLite store.
type Journal interface {
	RecordOrder(accountID, strategyID string, order model.Order, result model.OrderResult, errMsg string) error
}

// VenueResolver builds a venue gateway for an account. Production use
// is broker.NewGateway; tests substitute a fake.
type VenueResolver func(acct model.Account) (broker.Gateway, error)

// Gateway executes decisions against the account's venue.
type Gateway struct {
	capital   *capital.Ledger
	positions *ledger.Ledger
	journal   Journal
	breaker   *AuthBreaker
	resolve   VenueResolver

	mu     sync.Mutex
	venues map[string]broker.Gateway
}

func NewGateway(capLedger *capital.Ledger, positions *ledger.Ledger, journal Journal, resolve VenueResolver) *Gateway {
	if resolve == nil {
		resolve = broker.NewGateway
	}
	return &Gateway{
		capital:   capLedger,
		positions: positions,
		journal:   journal,
		breaker:   NewAuthBreaker(),
		resolve:   resolve,
		venues:    make(map[string]broker.Gateway),
	}
}

// Breaker exposes the auth breaker for credential-update resets and
// metrics.
func (g *Gateway) Breaker() *AuthBreaker { return g.breaker }

// InvalidateVenue drops the cached venue client for an account. Called
// on credential update so the next order authenticates fresh.
func (g *Gateway) InvalidateVenue(accountID string) {
	g.mu.Lock()
	delete(g.venues, accountID)
	g.mu.Unlock()
	g.breaker.Reset(accountID)
}

// Venue returns the (cached) venue gateway for an account.
func (g *Gateway) Venue(acct model.Account) (broker.Gateway, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if v, ok := g.venues[acct.ID]; ok {
		return v, nil
	}
	v, err := g.resolve(acct)
	if err != nil {
		return nil, err
	}
	g.venues[acct.ID] = v
	return v, nil
}

// Execute runs one decision through the pre-trade checks and, when they
// pass, places the order. A skipped decision is not an error; a venue
// rejection is returned to the caller and never retried within the
// same tick.
func (g *Gateway) Execute(ctx context.Context, st model.Strategy, d model.Decision, price float64) (Result, error) {
	if d.Action == model.ActionHold || d.Qty == 0 {
		return Result{Outcome: OutcomeSkipped, Reason: "hold"}, nil
	}

	acct, err := g.capital.Get(st.AccountID)
	if err != nil {
		return Result{}, fmt.Errorf("execute %s/%s: %w", st.ID, d.Symbol, err)
	}

	if g.breaker.Tripped(acct.ID) {
		return Result{Outcome: OutcomeSkipped, Reason: "auth circuit open"}, nil
	}

	venue, err := g.Venue(acct)
	if err != nil {
		return Result{}, fmt.Errorf("execute %s/%s: venue: %w", st.ID, d.Symbol, err)
	}

	open, err := venue.IsMarketOpen(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("execute %s/%s: market clock: %w", st.ID, d.Symbol, err)
	}
	if !open {
		return Result{Outcome: OutcomeSkipped, Reason: "market closed"}, nil
	}

	if acct.TradingBlocked {
		return Result{Outcome: OutcomeSkipped, Reason: "account restricted"}, nil
	}

	switch d.Action {
	case model.ActionBuy:
		return g.executeBuy(ctx, venue, acct, st, d, price)
	case model.ActionSell:
		return g.executeSell(ctx, venue, acct, st, d, price)
	default:
		return Result{Outcome: OutcomeSkipped, Reason: "unknown action " + string(d.Action)}, nil
	}
}

func (g *Gateway) executeBuy(ctx context.Context, venue broker.Gateway, acct model.Account, st model.Strategy, d model.Decision, price float64) (Result, error) {
	if acct.BuyingPower <= 0 {
		return Result{Outcome: OutcomeSkipped, Reason: "insufficient buying power"}, nil
	}

	qty := d.Qty
	if st.MaxPositionSize > 0 && price > 0 && float64(qty)*price > st.MaxPositionSize {
		clamped := int64(st.MaxPositionSize / price)
		if clamped <= 0 {
			return Result{Outcome: OutcomeSkipped, Reason: "position size limit"}, nil
		}
		log.Printf("[execution] %s/%s: clamping qty %d to %d (max position $%.2f)", st.ID, d.Symbol, qty, clamped, st.MaxPositionSize)
		qty = clamped
	}

	order := model.MarketOrder(d.Symbol, qty, model.SideBuy)
	res, err := g.placeOrder(ctx, venue, acct, st, order)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Reason: err.Error()}, err
	}

	pos := model.Position{
		PositionID:    uuid.NewString(),
		Symbol:        d.Symbol,
		Qty:           qty,
		EntryPrice:    price,
		CurrentPrice:  price,
		StrategyID:    st.ID,
		StrategyName:  st.Name,
		AccountID:     acct.ID,
		OpenReason:    d.Reasoning,
		OpenTimestamp: time.Now(),
		Signals:       d.SignalsUsed,
		StopLossPct:   st.StopLossPct,
		TakeProfitPct: st.TakeProfitPct,
	}
	g.positions.Record(pos)
	log.Printf("[execution] %s: opened %s x%d @ %.2f (order %s)", st.ID, d.Symbol, qty, price, res.ID)
	return Result{Outcome: OutcomeExecuted, Order: &res, Opened: &pos}, nil
}

func (g *Gateway) executeSell(ctx context.Context, venue broker.Gateway, acct model.Account, st model.Strategy, d model.Decision, price float64) (Result, error) {
	owned := g.positions.BySymbol(d.Symbol)
	var mine []model.Position
	for _, p := range owned {
		if p.StrategyID == st.ID {
			mine = append(mine, p)
		}
	}
	if len(mine) == 0 {
		return Result{Outcome: OutcomeSkipped, Reason: "no position to sell"}, nil
	}

	var totalQty int64
	for _, p := range mine {
		totalQty += p.Qty
	}

	order := model.MarketOrder(d.Symbol, totalQty, model.SideSell)
	res, err := g.placeOrder(ctx, venue, acct, st, order)
	if err != nil {
		return Result{Outcome: OutcomeRejected, Reason: err.Error()}, err
	}

	closed := make([]model.ClosedPosition, 0, len(mine))
	for _, p := range mine {
		p.MarkPrice(price)
		g.positions.MarkPrice(p.PositionID, st.ID, price)
		cp, cerr := g.positions.Close(p.PositionID, st.ID, d.Reasoning, p.UnrealizedPL)
		if cerr != nil {
			log.Printf("[execution] %s: close %s after sell: %v", st.ID, p.PositionID, cerr)
			continue
		}
		closed = append(closed, cp)
	}
	log.Printf("[execution] %s: sold %s x%d @ %.2f (order %s, %d positions closed)", st.ID, d.Symbol, totalQty, price, res.ID, len(closed))
	return Result{Outcome: OutcomeExecuted, Order: &res, Closed: closed}, nil
}

func (g *Gateway) placeOrder(ctx context.Context, venue broker.Gateway, acct model.Account, st model.Strategy, order model.Order) (model.OrderResult, error) {
	res, err := venue.PlaceOrder(ctx, order)
	if g.journal != nil {
		msg := ""
		if err != nil {
			msg = err.Error()
		}
		if jerr := g.journal.RecordOrder(acct.ID, st.ID, order, res, msg); jerr != nil {
			log.Printf("[execution] journal write failed: %v", jerr)
		}
	}
	if err != nil {
		if broker.IsAuthError(err) {
			g.breaker.RecordFailure(acct.ID)
		}
		return res, fmt.Errorf("place %s %s x%d: %w", order.Side, order.Symbol, order.Qty, err)
	}
	g.breaker.RecordSuccess(acct.ID)
	return res, nil
}
