package execution

import (
	"log"
	"sync"
)

// An account's orders are suppressed after this many consecutive
// authentication failures. Only a credential update resets the breaker;
// retrying with known-bad credentials just gets the account locked out
// at the venue.
const authFailureThreshold = 3

// AuthBreaker tracks consecutive auth failures per account and trips
// order placement once the threshold is reached.
type AuthBreaker struct {
	mu       sync.Mutex
	failures map[string]int
	tripped  map[string]bool

	OnTrip func(accountID string)
}

func NewAuthBreaker() *AuthBreaker {
	return &AuthBreaker{
		failures: make(map[string]int),
		tripped:  make(map[string]bool),
	}
}

// RecordFailure counts an auth failure. Returns true when this failure
// trips the breaker.
func (b *AuthBreaker) RecordFailure(accountID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tripped[accountID] {
		return false
	}
	b.failures[accountID]++
	if b.failures[accountID] >= authFailureThreshold {
		b.tripped[accountID] = true
		log.Printf("[execution] auth breaker tripped for account %s after %d failures", accountID, b.failures[accountID])
		if b.OnTrip != nil {
			b.OnTrip(accountID)
		}
		return true
	}
	return false
}

// RecordSuccess clears the failure count for an account that is not
// tripped. A tripped account stays tripped until Reset.
func (b *AuthBreaker) RecordSuccess(accountID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if !b.tripped[accountID] {
		b.failures[accountID] = 0
	}
}

// Tripped reports whether orders are suppressed for the account.
func (b *AuthBreaker) Tripped(accountID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.tripped[accountID]
}

// Failures returns the consecutive failure count for metrics.
func (b *AuthBreaker) Failures(accountID string) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failures[accountID]
}

// Reset clears the breaker for an account. Called when its credentials
// are updated.
func (b *AuthBreaker) Reset(accountID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.failures, accountID)
	delete(b.tripped, accountID)
}
