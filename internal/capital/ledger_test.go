package capital

import (
	"errors"
	"math"
	"testing"

	"trading-botv1/internal/model"
)

const tolerance = 1e-9

type stubRunning struct{ running bool }

func (s stubRunning) HasRunningStrategies(string) bool { return s.running }

func newTestLedger(equity, buyingPower, locked float64, running bool) *Ledger {
	l := NewLedger()
	l.Bind(stubRunning{running}, nil)
	l.Register(model.Account{
		ID:                   "acct-1",
		Venue:                "paper",
		Equity:               equity,
		BuyingPower:          buyingPower,
		LockedTradingCapital: locked,
	})
	return l
}

func TestSetLockedCapital_NegativeRejected(t *testing.T) {
	l := newTestLedger(100000, 100000, 0, false)
	if _, err := l.SetLockedCapital("acct-1", -1); !errors.Is(err, ErrInvalidAmount) {
		t.Fatalf("expected ErrInvalidAmount, got %v", err)
	}
}

func TestSetLockedCapital_ZeroWhileRunningRejected(t *testing.T) {
	l := newTestLedger(100000, 100000, 45000, true)
	if _, err := l.SetLockedCapital("acct-1", 0); !errors.Is(err, ErrZeroCapitalNotAllowed) {
		t.Fatalf("expected ErrZeroCapitalNotAllowed, got %v", err)
	}
}

func TestSetLockedCapital_ZeroWhileStoppedAllowed(t *testing.T) {
	l := newTestLedger(100000, 100000, 45000, false)
	if _, err := l.SetLockedCapital("acct-1", 0); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	acct, _ := l.Get("acct-1")
	if acct.ReserveCapital != 100000 {
		t.Errorf("reserve = %.2f, want 100000", acct.ReserveCapital)
	}
}

func TestSetLockedCapital_WarnsAbove45Percent(t *testing.T) {
	var hooked *RiskWarning
	l := newTestLedger(100000, 100000, 0, false)
	l.Bind(stubRunning{}, func(w *RiskWarning) { hooked = w })

	warn, err := l.SetLockedCapital("acct-1", 50000)
	if err != nil {
		t.Fatalf("set should succeed despite warning: %v", err)
	}
	if warn == nil {
		t.Fatal("expected a RiskWarning for 50% usage")
	}
	if warn.UsagePct != 50 {
		t.Errorf("usage = %.1f, want 50", warn.UsagePct)
	}
	if hooked == nil {
		t.Error("warning hook not invoked")
	}

	acct, _ := l.Get("acct-1")
	if acct.ReserveCapital != 50000 {
		t.Errorf("reserve = %.2f, want 50000", acct.ReserveCapital)
	}
}

func TestSetLockedCapital_NoWarningAtCeiling(t *testing.T) {
	l := newTestLedger(100000, 100000, 0, false)
	warn, err := l.SetLockedCapital("acct-1", 45000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if warn != nil {
		t.Errorf("45%% exactly should not warn, got %v", warn)
	}
}

func TestAutoLock(t *testing.T) {
	cases := []struct {
		name        string
		equity      float64
		buyingPower float64
		want        float64
	}{
		{"equity dominates", 100000, 100000, 45000},
		{"margin buying power dominates", 100000, 400000, 90000},
		{"empty account", 0, 0, 0},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			l := newTestLedger(tc.equity, tc.buyingPower, 0, false)
			got, err := l.AutoLock("acct-1")
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if math.Abs(got-tc.want) > tolerance {
				t.Errorf("AutoLock = %.2f, want %.2f", got, tc.want)
			}
			acct, _ := l.Get("acct-1")
			if math.Abs(acct.ReserveCapital-(tc.equity-tc.want)) > tolerance {
				t.Errorf("reserve = %.2f, want %.2f", acct.ReserveCapital, tc.equity-tc.want)
			}
		})
	}
}

func TestReconcile_KeepsReserveInvariant(t *testing.T) {
	l := newTestLedger(100000, 100000, 45000, true)

	err := l.Reconcile("acct-1", model.AccountState{Equity: 103500, BuyingPower: 110000, Cash: 55000})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	acct, _ := l.Get("acct-1")
	if math.Abs(acct.ReserveCapital-(acct.Equity-acct.LockedTradingCapital)) > tolerance {
		t.Errorf("invariant broken: reserve=%.2f equity=%.2f locked=%.2f",
			acct.ReserveCapital, acct.Equity, acct.LockedTradingCapital)
	}
	if acct.LockedTradingCapital != 45000 {
		t.Errorf("locked capital changed during reconcile: %.2f", acct.LockedTradingCapital)
	}
}

func TestSetLockedCapital_UnknownAccount(t *testing.T) {
	l := NewLedger()
	if _, err := l.SetLockedCapital("nope", 100); !errors.Is(err, ErrAccountNotFound) {
		t.Fatalf("expected ErrAccountNotFound, got %v", err)
	}
}
