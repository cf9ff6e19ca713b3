// Package capital tracks per-account equity, locked trading capital, and
// reserve capital, and enforces the capital-safety rules.
//
// Locked trading capital is the slice of equity committed to running
// strategies; reserve capital is everything else and absorbs profit/loss.
// The ledger maintains reserve == equity - locked at all times.
package capital

import (
	"errors"
	"fmt"
	"log"
	"sync"

	"trading-botv1/internal/model"
)

// MaxEquityUsage is the recommended ceiling for locked capital as a share of
// equity. Exceeding it raises a warning, not a hard block.
const MaxEquityUsage = 0.45

var (
	ErrAccountNotFound      = errors.New("account not found")
	ErrInvalidAmount        = errors.New("locked capital must be non-negative")
	ErrZeroCapitalNotAllowed = errors.New("cannot set locked capital to zero while strategies are running")
)

// RiskWarning is returned (non-fatally) when a capital change exceeds the
// recommended equity-usage ceiling. Surfaced to the caller for confirmation.
type RiskWarning struct {
	AccountID string  `json:"account_id"`
	Locked    float64 `json:"locked"`
	Equity    float64 `json:"equity"`
	UsagePct  float64 `json:"usage_pct"`
}

func (w *RiskWarning) String() string {
	return fmt.Sprintf("locked capital %.2f is %.1f%% of equity %.2f (recommended max %.0f%%)",
		w.Locked, w.UsagePct, w.Equity, MaxEquityUsage*100)
}

// RunningChecker reports whether any strategy bound to the account is
// currently running. Implemented by the strategy registry.
type RunningChecker interface {
	HasRunningStrategies(accountID string) bool
}

// WarningHook receives risk warnings as they are raised (metrics, audit).
type WarningHook func(w *RiskWarning)

// Ledger is the capital ledger for all registered accounts.
type Ledger struct {
	mu       sync.RWMutex
	accounts map[string]*model.Account

	running RunningChecker
	onWarn  WarningHook
}

// NewLedger creates an empty capital ledger. The RunningChecker is attached
// later via Bind because the registry and ledger reference each other.
func NewLedger() *Ledger {
	return &Ledger{accounts: make(map[string]*model.Account)}
}

// Bind attaches the strategy-running checker and optional warning hook.
func (l *Ledger) Bind(rc RunningChecker, onWarn WarningHook) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.running = rc
	l.onWarn = onWarn
}

// Register adds an account to the ledger. Reserve capital is normalized
// against equity on entry.
func (l *Ledger) Register(acct model.Account) {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct.ReserveCapital = acct.Equity - acct.LockedTradingCapital
	cp := acct
	l.accounts[acct.ID] = &cp
	log.Printf("[capital] registered account %s (%s) equity=%.2f locked=%.2f",
		acct.ID, acct.Venue, acct.Equity, acct.LockedTradingCapital)
}

// Deregister removes an account.
func (l *Ledger) Deregister(accountID string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	delete(l.accounts, accountID)
}

// Get returns a copy of the account, or an error if unknown.
func (l *Ledger) Get(accountID string) (model.Account, error) {
	l.mu.RLock()
	defer l.mu.RUnlock()
	acct, ok := l.accounts[accountID]
	if !ok {
		return model.Account{}, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	return *acct, nil
}

// Accounts returns a snapshot of all accounts.
func (l *Ledger) Accounts() []model.Account {
	l.mu.RLock()
	defer l.mu.RUnlock()
	out := make([]model.Account, 0, len(l.accounts))
	for _, a := range l.accounts {
		out = append(out, *a)
	}
	return out
}

// SetLockedCapital sets the locked trading capital for an account.
//
// amount < 0 fails with ErrInvalidAmount. amount == 0 is rejected with
// ErrZeroCapitalNotAllowed while the account has running strategies.
// Exceeding MaxEquityUsage still succeeds but returns a RiskWarning the
// caller should surface for confirmation. Reserve capital is recomputed on
// every successful set.
func (l *Ledger) SetLockedCapital(accountID string, amount float64) (*RiskWarning, error) {
	if amount < 0 {
		return nil, fmt.Errorf("%w: %.2f", ErrInvalidAmount, amount)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[accountID]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	if amount == 0 && l.running != nil && l.running.HasRunningStrategies(accountID) {
		return nil, ErrZeroCapitalNotAllowed
	}

	acct.LockedTradingCapital = amount
	acct.ReserveCapital = acct.Equity - amount

	var warn *RiskWarning
	if acct.Equity > 0 && amount > MaxEquityUsage*acct.Equity {
		warn = &RiskWarning{
			AccountID: accountID,
			Locked:    amount,
			Equity:    acct.Equity,
			UsagePct:  amount / acct.Equity * 100,
		}
		log.Printf("[capital] WARNING account %s: %s", accountID, warn)
		if l.onWarn != nil {
			l.onWarn(warn)
		}
	}

	log.Printf("[capital] account %s locked=%.2f reserve=%.2f", accountID,
		acct.LockedTradingCapital, acct.ReserveCapital)
	return warn, nil
}

// AutoLock derives a default locked amount when a strategy starts and no
// capital has been locked yet: max(equity, buyingPower*0.5) * 0.45.
func (l *Ledger) AutoLock(accountID string) (float64, error) {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[accountID]
	if !ok {
		return 0, fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	base := acct.Equity
	if half := acct.BuyingPower * 0.5; half > base {
		base = half
	}
	acct.LockedTradingCapital = base * MaxEquityUsage
	acct.ReserveCapital = acct.Equity - acct.LockedTradingCapital

	log.Printf("[capital] auto-locked account %s: base=%.2f locked=%.2f reserve=%.2f",
		accountID, base, acct.LockedTradingCapital, acct.ReserveCapital)
	return acct.LockedTradingCapital, nil
}

// Reconcile refreshes venue-reported figures after a sync and recomputes
// reserve capital when equity moved. Locked capital is operator-controlled
// and never changes here.
func (l *Ledger) Reconcile(accountID string, state model.AccountState) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	acct, ok := l.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}

	oldEquity := acct.Equity
	acct.Equity = state.Equity
	acct.BuyingPower = state.BuyingPower
	acct.Cash = state.Cash
	acct.TradingBlocked = state.TradingBlocked
	if oldEquity != state.Equity {
		acct.ReserveCapital = acct.Equity - acct.LockedTradingCapital
	}
	return nil
}

// SetConnected flips the account's connection flag (sync / auth breaker).
func (l *Ledger) SetConnected(accountID string, connected bool) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if acct, ok := l.accounts[accountID]; ok {
		acct.Connected = connected
	}
}

// UpdateCredentials replaces the account's credentials.
func (l *Ledger) UpdateCredentials(accountID string, creds model.Credentials) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	acct, ok := l.accounts[accountID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrAccountNotFound, accountID)
	}
	acct.Credentials = creds
	return nil
}
