package ledger

import (
	"errors"
	"sync"
	"testing"
	"time"

	"trading-botv1/internal/model"
)

func openPosition(id, symbol, strategyID string, qty int64, entry float64) model.Position {
	return model.Position{
		PositionID:    id,
		Symbol:        symbol,
		Qty:           qty,
		EntryPrice:    entry,
		CurrentPrice:  entry,
		StrategyID:    strategyID,
		AccountID:     "acct-1",
		OpenTimestamp: time.Now().UTC(),
	}
}

func TestClose_OwnerOnly(t *testing.T) {
	l := New(nil)
	l.Record(openPosition("p1", "AAPL", "high-vol-1", 10, 150))

	if _, err := l.Close("p1", "medium-vol-1", "sell signal", 0); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if _, ok := l.Get("p1"); !ok {
		t.Fatal("position should still be open after rejected close")
	}

	closed, err := l.Close("p1", "high-vol-1", "sell signal", 25.5)
	if err != nil {
		t.Fatalf("owner close failed: %v", err)
	}
	if closed.RealizedPL != 25.5 {
		t.Errorf("realized PL = %.2f, want 25.5", closed.RealizedPL)
	}
	if _, ok := l.Get("p1"); ok {
		t.Error("position still open after close")
	}
}

func TestMarkPrice_OwnerOnly(t *testing.T) {
	l := New(nil)
	l.Record(openPosition("p1", "AAPL", "high-vol-1", 10, 150))

	if err := l.MarkPrice("p1", "medium-vol-1", 155); !errors.Is(err, ErrNotOwner) {
		t.Fatalf("expected ErrNotOwner, got %v", err)
	}
	if err := l.MarkPrice("p1", "high-vol-1", 155); err != nil {
		t.Fatalf("owner mark failed: %v", err)
	}
	pos, _ := l.Get("p1")
	if pos.UnrealizedPL != 50 {
		t.Errorf("unrealized PL = %.2f, want 50", pos.UnrealizedPL)
	}
}

func TestBySymbol_CrossStrategyContext(t *testing.T) {
	l := New(nil)
	l.Record(openPosition("p1", "AAPL", "high-vol-1", 10, 150))
	l.Record(openPosition("p2", "AAPL", "medium-vol-1", 5, 151))
	l.Record(openPosition("p3", "TSLA", "high-vol-1", 2, 250))

	if got := len(l.BySymbol("AAPL")); got != 2 {
		t.Errorf("BySymbol(AAPL) = %d positions, want 2", got)
	}
	if !l.Has("AAPL", "medium-vol-1") {
		t.Error("Has(AAPL, medium-vol-1) = false, want true")
	}
	if l.Has("TSLA", "medium-vol-1") {
		t.Error("Has(TSLA, medium-vol-1) = true, want false")
	}
}

func TestClose_ProfitTakingStats(t *testing.T) {
	l := New(nil)
	l.Record(openPosition("p1", "AAPL", "profit-taking-5", 10, 150))
	l.Record(openPosition("p2", "MSFT", "profit-taking-5", 5, 300))

	l.Close("p1", "profit-taking-5", "Profit target reached: $5.20 >= $5.00", 5.2)
	l.Close("p2", "profit-taking-5", "sell signal", 3.0)

	pl, trades := l.ProfitTakingStats()
	if pl != 5.2 || trades != 1 {
		t.Errorf("profit-taking stats = (%.2f, %d), want (5.20, 1)", pl, trades)
	}
}

func TestForceClose_IgnoresOwnership(t *testing.T) {
	l := New(nil)
	pos := openPosition("p1", "AAPL", "high-vol-1", 10, 150)
	l.Record(pos)
	l.MarkPrice("p1", "high-vol-1", 145)

	closed, err := l.ForceClose("p1", "graceful shutdown")
	if err != nil {
		t.Fatalf("force close failed: %v", err)
	}
	if closed.RealizedPL != -50 {
		t.Errorf("realized PL = %.2f, want -50", closed.RealizedPL)
	}
	if closed.CloseReason != "graceful shutdown" {
		t.Errorf("close reason = %q", closed.CloseReason)
	}
}

type countingSink struct {
	mu    sync.Mutex
	count int
}

func (s *countingSink) AppendClosed(model.ClosedPosition) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.count++
	return nil
}

func TestClose_PersistsToSink(t *testing.T) {
	sink := &countingSink{}
	l := New(sink)
	l.Record(openPosition("p1", "AAPL", "high-vol-1", 10, 150))
	l.Close("p1", "high-vol-1", "sell signal", 0)

	if sink.count != 1 {
		t.Errorf("sink received %d closes, want 1", sink.count)
	}
}

func TestConcurrentMarkAndRead(t *testing.T) {
	l := New(nil)
	l.Record(openPosition("p1", "AAPL", "high-vol-1", 10, 150))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(2)
		go func(px float64) {
			defer wg.Done()
			l.MarkPrice("p1", "high-vol-1", px)
		}(150 + float64(i))
		go func() {
			defer wg.Done()
			l.BySymbol("AAPL")
		}()
	}
	wg.Wait()

	pos, ok := l.Get("p1")
	if !ok {
		t.Fatal("position lost during concurrent access")
	}
	if pos.UnrealizedPL != (pos.CurrentPrice-pos.EntryPrice)*float64(pos.Qty) {
		t.Error("unrealized PL inconsistent with current price")
	}
}
