package registry

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"trading-botv1/internal/capital"
	"trading-botv1/internal/model"
)

func testRegistry(t *testing.T, tick TickFunc, interval time.Duration) (*Registry, *capital.Ledger) {
	t.Helper()
	capLedger := capital.NewLedger()
	capLedger.Register(model.Account{ID: "acct-1", Equity: 100000, BuyingPower: 100000})
	if tick == nil {
		tick = func(ctx context.Context, st model.Strategy) {}
	}
	r := New(capLedger, tick, interval)
	for _, st := range Defaults("acct-1") {
		r.Register(st)
	}
	capLedger.Bind(r, nil)
	t.Cleanup(r.StopAll)
	return r, capLedger
}

func TestDefaults(t *testing.T) {
	roster := Defaults("acct-1")
	if len(roster) != 4 {
		t.Fatalf("expected 4 strategies, got %d", len(roster))
	}
	wantAlloc := map[string]float64{
		"high-vol-1": 25, "high-vol-2": 25, "medium-vol-1": 50, "profit-taking-5": 0,
	}
	var total float64
	for _, st := range roster {
		if st.Allocation != wantAlloc[st.ID] {
			t.Errorf("%s allocation = %.0f, want %.0f", st.ID, st.Allocation, wantAlloc[st.ID])
		}
		total += st.Allocation
	}
	if total != 100 {
		t.Errorf("default allocations sum to %.0f, want 100", total)
	}

	pt := roster[3]
	if pt.ID != "profit-taking-5" || pt.MinProfit != 5 {
		t.Errorf("profit-taking strategy misconfigured: %+v", pt)
	}
}

func TestStart_UnknownStrategy(t *testing.T) {
	r, _ := testRegistry(t, nil, time.Hour)
	err := r.Start(context.Background(), "no-such")
	if !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}
}

func TestStart_TicksImmediatelyAndMarksRunning(t *testing.T) {
	var ticks atomic.Int64
	var gotID atomic.Value
	tick := func(ctx context.Context, st model.Strategy) {
		ticks.Add(1)
		gotID.Store(st.ID)
	}
	r, _ := testRegistry(t, tick, time.Hour)

	if err := r.Start(context.Background(), "high-vol-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	deadline := time.After(2 * time.Second)
	for ticks.Load() == 0 {
		select {
		case <-deadline:
			t.Fatal("first tick did not fire")
		case <-time.After(10 * time.Millisecond):
		}
	}
	if gotID.Load() != "high-vol-1" {
		t.Errorf("tick got strategy %v", gotID.Load())
	}

	st, _ := r.Get("high-vol-1")
	if !st.Running || st.LastRun.IsZero() {
		t.Errorf("strategy should be running with LastRun set: %+v", st)
	}
	if !r.HasRunningStrategies("acct-1") {
		t.Error("HasRunningStrategies should report true")
	}
}

func TestStart_AlreadyRunningIsNoOp(t *testing.T) {
	r, _ := testRegistry(t, nil, time.Hour)
	ctx := context.Background()
	if err := r.Start(ctx, "high-vol-1"); err != nil {
		t.Fatalf("first start: %v", err)
	}
	if err := r.Start(ctx, "high-vol-1"); err != nil {
		t.Fatalf("second start should be a no-op, got %v", err)
	}
}

func TestStart_AutoLocksWhenNoCapitalLocked(t *testing.T) {
	r, capLedger := testRegistry(t, nil, time.Hour)

	acct, _ := capLedger.Get("acct-1")
	if acct.LockedTradingCapital != 0 {
		t.Fatal("setup: expected no locked capital")
	}

	if err := r.Start(context.Background(), "medium-vol-1"); err != nil {
		t.Fatalf("start: %v", err)
	}

	acct, _ = capLedger.Get("acct-1")
	if acct.LockedTradingCapital != 45000 {
		t.Errorf("expected auto-lock of 45000, got %.2f", acct.LockedTradingCapital)
	}
}

func TestStop(t *testing.T) {
	var ticks atomic.Int64
	r, _ := testRegistry(t, func(ctx context.Context, st model.Strategy) { ticks.Add(1) }, 20*time.Millisecond)

	if err := r.Stop("high-vol-1"); err != nil {
		t.Fatalf("stopping a stopped strategy should be a no-op, got %v", err)
	}
	if err := r.Stop("no-such"); !errors.Is(err, ErrStrategyNotFound) {
		t.Fatalf("expected ErrStrategyNotFound, got %v", err)
	}

	if err := r.Start(context.Background(), "high-vol-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	time.Sleep(50 * time.Millisecond)
	if err := r.Stop("high-vol-1"); err != nil {
		t.Fatalf("stop: %v", err)
	}

	st, _ := r.Get("high-vol-1")
	if st.Running {
		t.Error("strategy should not be running after Stop")
	}
	if r.HasRunningStrategies("acct-1") {
		t.Error("no strategies should be running")
	}

	// Ticker must actually be cancelled.
	n := ticks.Load()
	time.Sleep(80 * time.Millisecond)
	if ticks.Load() != n {
		t.Errorf("ticks continued after Stop: %d -> %d", n, ticks.Load())
	}
}

func TestSetAllocationMode(t *testing.T) {
	r, _ := testRegistry(t, nil, time.Hour)

	cases := []struct {
		mode model.AllocationMode
		want []float64
	}{
		{model.AllocationTwoWay, []float64{60, 40, 0, 0}},
		{model.AllocationSingle, []float64{100, 0, 0, 0}},
		{model.AllocationThreeWay, []float64{25, 25, 50, 0}},
	}
	for _, tc := range cases {
		if err := r.SetAllocationMode(tc.mode); err != nil {
			t.Fatalf("mode %s: %v", tc.mode, err)
		}
		for i, st := range r.List() {
			if st.Allocation != tc.want[i] {
				t.Errorf("mode %s: strategy %s allocation = %.0f, want %.0f", tc.mode, st.ID, st.Allocation, tc.want[i])
			}
		}
	}

	if err := r.SetAllocationMode("five-way"); !errors.Is(err, ErrInvalidAllocation) {
		t.Errorf("unknown mode should fail, got %v", err)
	}
}

func TestSetAllocation(t *testing.T) {
	r, _ := testRegistry(t, nil, time.Hour)

	if err := r.SetAllocation("high-vol-1", -5); !errors.Is(err, ErrInvalidAllocation) {
		t.Errorf("negative allocation should fail, got %v", err)
	}
	if err := r.SetAllocation("high-vol-1", 101); !errors.Is(err, ErrInvalidAllocation) {
		t.Errorf("allocation above 100 should fail, got %v", err)
	}
	// 26 + 25 + 50 + 0 = 101: overcommitting across strategies is
	// allowed, only the per-strategy bound is enforced.
	if err := r.SetAllocation("high-vol-1", 26); err != nil {
		t.Errorf("overcommitted total should be accepted, got %v", err)
	}
	if err := r.SetAllocation("high-vol-1", 20); err != nil {
		t.Fatalf("valid allocation failed: %v", err)
	}
	st, _ := r.Get("high-vol-1")
	if st.Allocation != 20 {
		t.Errorf("allocation = %.0f, want 20", st.Allocation)
	}
}

func TestRecordTrade(t *testing.T) {
	r, _ := testRegistry(t, nil, time.Hour)

	r.RecordTrade("high-vol-1", 100)
	r.RecordTrade("high-vol-1", -40)
	r.RecordTrade("high-vol-1", 20)

	st, _ := r.Get("high-vol-1")
	if st.PLToday != 80 || st.PLTotal != 80 {
		t.Errorf("PL rollup wrong: today=%.2f total=%.2f", st.PLToday, st.PLTotal)
	}
	if st.WinRate < 66.6 || st.WinRate > 66.7 {
		t.Errorf("win rate = %.2f, want ~66.67", st.WinRate)
	}

	r.ResetDailyPL()
	st, _ = r.Get("high-vol-1")
	if st.PLToday != 0 || st.PLTotal != 80 {
		t.Errorf("daily reset wrong: today=%.2f total=%.2f", st.PLToday, st.PLTotal)
	}
}

func TestZeroCapitalBlockedWhileRunning(t *testing.T) {
	r, capLedger := testRegistry(t, nil, time.Hour)

	if err := r.Start(context.Background(), "high-vol-1"); err != nil {
		t.Fatalf("start: %v", err)
	}
	if _, err := capLedger.SetLockedCapital("acct-1", 0); !errors.Is(err, capital.ErrZeroCapitalNotAllowed) {
		t.Fatalf("zeroing capital with running strategies should fail, got %v", err)
	}

	r.Stop("high-vol-1")
	if _, err := capLedger.SetLockedCapital("acct-1", 0); err != nil {
		t.Fatalf("zeroing capital with all strategies stopped should pass, got %v", err)
	}
}
