package execution

import (
	"context"
	"errors"
	"sync"
	"testing"

	"trading-botv1/internal/broker"
	"trading-botv1/internal/capital"
	"trading-botv1/internal/ledger"
	"trading-botv1/internal/model"
)

// fakeVenue is a scriptable broker.Gateway.
type fakeVenue struct {
	mu         sync.Mutex
	marketOpen bool
	orderErr   error
	placed     []model.Order
	nextID     int
}

func (f *fakeVenue) GetAccount(ctx context.Context) (model.AccountState, error) {
	return model.AccountState{}, nil
}
func (f *fakeVenue) GetPositions(ctx context.Context) ([]model.Position, error) { return nil, nil }
func (f *fakeVenue) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	return 100, nil
}
func (f *fakeVenue) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.orderErr != nil {
		return model.OrderResult{}, f.orderErr
	}
	f.placed = append(f.placed, order)
	f.nextID++
	return model.OrderResult{ID: "FAKE-1", Status: "accepted", Symbol: order.Symbol, Qty: order.Qty, Side: string(order.Side)}, nil
}
func (f *fakeVenue) CancelOrder(ctx context.Context, orderID string) error { return nil }
func (f *fakeVenue) CancelAllOrders(ctx context.Context) error             { return nil }
func (f *fakeVenue) ClosePosition(ctx context.Context, symbol string) error {
	return nil
}
func (f *fakeVenue) CloseAllPositions(ctx context.Context) error { return nil }
func (f *fakeVenue) IsMarketOpen(ctx context.Context) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.marketOpen, nil
}

type memJournal struct {
	mu      sync.Mutex
	entries []string
}

func (j *memJournal) RecordOrder(accountID, strategyID string, order model.Order, result model.OrderResult, errMsg string) error {
	j.mu.Lock()
	defer j.mu.Unlock()
	status := result.Status
	if errMsg != "" {
		status = "error"
	}
	j.entries = append(j.entries, order.Symbol+":"+status)
	return nil
}

func testGateway(t *testing.T, venue *fakeVenue, acct model.Account) (*Gateway, *capital.Ledger, *ledger.Ledger, *memJournal) {
	t.Helper()
	capLedger := capital.NewLedger()
	capLedger.Register(acct)
	positions := ledger.New(nil)
	journal := &memJournal{}
	g := NewGateway(capLedger, positions, journal, func(model.Account) (broker.Gateway, error) {
		return venue, nil
	})
	return g, capLedger, positions, journal
}

func baseAccount() model.Account {
	return model.Account{ID: "acct-1", Venue: "paper", Connected: true, Equity: 100000, BuyingPower: 100000}
}

func buyDecision(qty int64) model.Decision {
	return model.Decision{Action: model.ActionBuy, Symbol: "AAPL", Qty: qty, Reasoning: "momentum", Confidence: 80, StrategyID: "high-vol-1"}
}

var testStrategy = model.Strategy{ID: "high-vol-1", Name: "High Volatility 1", AccountID: "acct-1"}

func TestExecute_HoldIsSkipped(t *testing.T) {
	venue := &fakeVenue{marketOpen: true}
	g, _, _, _ := testGateway(t, venue, baseAccount())

	res, err := g.Execute(context.Background(), testStrategy, model.FailSafeHold("AAPL", "high-vol-1", "no data"), 100)
	if err != nil {
		t.Fatalf("hold should not error: %v", err)
	}
	if res.Outcome != OutcomeSkipped || len(venue.placed) != 0 {
		t.Errorf("hold should skip without orders: %+v", res)
	}
}

func TestExecute_MarketClosedSkips(t *testing.T) {
	venue := &fakeVenue{marketOpen: false}
	g, _, _, _ := testGateway(t, venue, baseAccount())

	res, err := g.Execute(context.Background(), testStrategy, buyDecision(10), 100)
	if err != nil {
		t.Fatalf("market closed should not error: %v", err)
	}
	if res.Outcome != OutcomeSkipped || res.Reason != "market closed" {
		t.Errorf("expected market closed skip, got %+v", res)
	}
}

func TestExecute_BlockedAccountSkips(t *testing.T) {
	acct := baseAccount()
	acct.TradingBlocked = true
	venue := &fakeVenue{marketOpen: true}
	g, _, _, _ := testGateway(t, venue, acct)

	res, err := g.Execute(context.Background(), testStrategy, buyDecision(10), 100)
	if err != nil {
		t.Fatalf("blocked account should not error: %v", err)
	}
	if res.Outcome != OutcomeSkipped || res.Reason != "account restricted" {
		t.Errorf("expected account restricted skip, got %+v", res)
	}
}

func TestExecute_NoBuyingPowerSkipsBuy(t *testing.T) {
	acct := baseAccount()
	acct.BuyingPower = 0
	venue := &fakeVenue{marketOpen: true}
	g, _, _, _ := testGateway(t, venue, acct)

	res, err := g.Execute(context.Background(), testStrategy, buyDecision(10), 100)
	if err != nil {
		t.Fatalf("no buying power should not error: %v", err)
	}
	if res.Outcome != OutcomeSkipped || res.Reason != "insufficient buying power" {
		t.Errorf("expected buying power skip, got %+v", res)
	}
}

func TestExecute_BuyRecordsPositionAtDecisionPrice(t *testing.T) {
	venue := &fakeVenue{marketOpen: true}
	g, _, positions, journal := testGateway(t, venue, baseAccount())

	res, err := g.Execute(context.Background(), testStrategy, buyDecision(10), 150.25)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if res.Outcome != OutcomeExecuted || res.Opened == nil {
		t.Fatalf("expected executed buy, got %+v", res)
	}
	if res.Opened.EntryPrice != 150.25 {
		t.Errorf("entry price should be decision-time price, got %.2f", res.Opened.EntryPrice)
	}
	if res.Opened.PositionID == "" {
		t.Error("position should get a fresh id")
	}
	if !positions.Has("AAPL", "high-vol-1") {
		t.Error("position not recorded in ledger")
	}
	if len(journal.entries) != 1 {
		t.Errorf("expected 1 journal entry, got %d", len(journal.entries))
	}
}

func TestExecute_BuyClampsToMaxPositionSize(t *testing.T) {
	venue := &fakeVenue{marketOpen: true}
	g, _, _, _ := testGateway(t, venue, baseAccount())

	st := testStrategy
	st.MaxPositionSize = 500 // dollars
	res, err := g.Execute(context.Background(), st, buyDecision(50), 100)
	if err != nil {
		t.Fatalf("buy failed: %v", err)
	}
	if res.Opened.Qty != 5 || venue.placed[0].Qty != 5 {
		t.Errorf("qty should be clamped to 5 shares ($500 at $100), got position %d order %d", res.Opened.Qty, venue.placed[0].Qty)
	}
}

func TestExecute_SellClosesOwnedPositionsOnly(t *testing.T) {
	venue := &fakeVenue{marketOpen: true}
	g, _, positions, _ := testGateway(t, venue, baseAccount())

	positions.Record(model.Position{PositionID: "p1", Symbol: "AAPL", Qty: 10, EntryPrice: 100, CurrentPrice: 100, StrategyID: "high-vol-1", AccountID: "acct-1"})
	positions.Record(model.Position{PositionID: "p2", Symbol: "AAPL", Qty: 5, EntryPrice: 100, CurrentPrice: 100, StrategyID: "medium-vol-1", AccountID: "acct-1"})

	d := model.Decision{Action: model.ActionSell, Symbol: "AAPL", Qty: 10, Reasoning: "exit", StrategyID: "high-vol-1"}
	res, err := g.Execute(context.Background(), testStrategy, d, 110)
	if err != nil {
		t.Fatalf("sell failed: %v", err)
	}
	if res.Outcome != OutcomeExecuted || len(res.Closed) != 1 {
		t.Fatalf("expected 1 closed position, got %+v", res)
	}
	if res.Closed[0].RealizedPL != 100 {
		t.Errorf("realized PL = %.2f, want 100", res.Closed[0].RealizedPL)
	}
	// The other strategy's position survives.
	if !positions.Has("AAPL", "medium-vol-1") {
		t.Error("sell must not touch another strategy's position")
	}
	if positions.Has("AAPL", "high-vol-1") {
		t.Error("owned position should be closed")
	}
}

func TestExecute_SellWithoutPositionSkips(t *testing.T) {
	venue := &fakeVenue{marketOpen: true}
	g, _, _, _ := testGateway(t, venue, baseAccount())

	d := model.Decision{Action: model.ActionSell, Symbol: "AAPL", Qty: 10, StrategyID: "high-vol-1"}
	res, err := g.Execute(context.Background(), testStrategy, d, 100)
	if err != nil {
		t.Fatalf("sell without position should not error: %v", err)
	}
	if res.Outcome != OutcomeSkipped || len(venue.placed) != 0 {
		t.Errorf("expected skip, got %+v", res)
	}
}

func TestExecute_AuthFailuresTripBreaker(t *testing.T) {
	venue := &fakeVenue{marketOpen: true, orderErr: &broker.GatewayError{StatusCode: 401, Message: "bad key"}}
	g, _, _, _ := testGateway(t, venue, baseAccount())

	for i := 0; i < authFailureThreshold; i++ {
		if _, err := g.Execute(context.Background(), testStrategy, buyDecision(1), 100); err == nil {
			t.Fatalf("attempt %d should fail", i)
		}
	}
	if !g.Breaker().Tripped("acct-1") {
		t.Fatal("breaker should be tripped after consecutive auth failures")
	}

	// Tripped breaker suppresses before reaching the venue.
	venue.mu.Lock()
	venue.orderErr = nil
	venue.mu.Unlock()
	res, err := g.Execute(context.Background(), testStrategy, buyDecision(1), 100)
	if err != nil {
		t.Fatalf("suppressed attempt should not error: %v", err)
	}
	if res.Outcome != OutcomeSkipped || res.Reason != "auth circuit open" {
		t.Errorf("expected auth circuit skip, got %+v", res)
	}
	if len(venue.placed) != 0 {
		t.Error("suppressed order must not reach the venue")
	}

	// Credential update resets the breaker.
	g.InvalidateVenue("acct-1")
	res, err = g.Execute(context.Background(), testStrategy, buyDecision(1), 100)
	if err != nil {
		t.Fatalf("post-reset order failed: %v", err)
	}
	if res.Outcome != OutcomeExecuted {
		t.Errorf("expected executed after reset, got %+v", res)
	}
}

func TestExecute_NonAuthErrorDoesNotTrip(t *testing.T) {
	venue := &fakeVenue{marketOpen: true, orderErr: errors.New("network timeout")}
	g, _, _, _ := testGateway(t, venue, baseAccount())

	for i := 0; i < authFailureThreshold+2; i++ {
		g.Execute(context.Background(), testStrategy, buyDecision(1), 100)
	}
	if g.Breaker().Tripped("acct-1") {
		t.Error("non-auth errors must not trip the auth breaker")
	}
}

func TestAuthBreaker_SuccessResetsCounter(t *testing.T) {
	b := NewAuthBreaker()
	b.RecordFailure("a")
	b.RecordFailure("a")
	b.RecordSuccess("a")
	b.RecordFailure("a")
	b.RecordFailure("a")
	if b.Tripped("a") {
		t.Error("counter should have reset on success")
	}
	if tripped := b.RecordFailure("a"); !tripped {
		t.Error("third consecutive failure should trip")
	}
}
