// Package broker defines the brokerage gateway abstraction and its venue
// implementations (Alpaca, SmartAPI-style TOTP venues, and an in-memory
// paper venue for development and tests).
//
// Every method is context-bound and fails with *GatewayError so callers can
// tell authentication failures (401/403) apart from transient ones; the
// distinction drives the per-account auth circuit breaker.
package broker

import (
	"context"
	"errors"
	"fmt"

	"trading-botv1/internal/model"
)

// Gateway is the capability interface to one venue for one account.
type Gateway interface {
	GetAccount(ctx context.Context) (model.AccountState, error)
	GetPositions(ctx context.Context) ([]model.Position, error)
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
	PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error)
	CancelOrder(ctx context.Context, orderID string) error
	CancelAllOrders(ctx context.Context) error
	ClosePosition(ctx context.Context, symbol string) error
	CloseAllPositions(ctx context.Context) error
	IsMarketOpen(ctx context.Context) (bool, error)
}

// GatewayError is a venue failure with enough shape to classify it.
type GatewayError struct {
	StatusCode int
	Message    string
}

func (e *GatewayError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("gateway error (%d): %s", e.StatusCode, e.Message)
	}
	return "gateway error: " + e.Message
}

// IsAuthError reports whether err is a 401/403-class gateway failure.
// These feed the auth circuit breaker; everything else is transient.
func IsAuthError(err error) bool {
	var ge *GatewayError
	if errors.As(err, &ge) {
		return ge.StatusCode == 401 || ge.StatusCode == 403
	}
	return false
}

// ErrUnsupportedVenue is returned by the factory for unknown venue types.
var ErrUnsupportedVenue = errors.New("unsupported venue type")

// NewGateway builds the Gateway implementation for an account's venue.
func NewGateway(acct model.Account) (Gateway, error) {
	switch acct.Venue {
	case "alpaca":
		return NewAlpaca(acct.Credentials, acct.Mode), nil
	case "smartapi":
		return NewSmartAPI(acct.Credentials), nil
	case "paper":
		return NewPaper(acct.Equity), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedVenue, acct.Venue)
	}
}

// SupportedVenues lists the venue types the factory accepts.
func SupportedVenues() []string {
	return []string{"alpaca", "smartapi", "paper"}
}
