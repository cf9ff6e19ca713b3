package signals

import (
	"context"
	"math"
	"sync"
	"time"

	"trading-botv1/internal/model"
)

// PriceFetcher returns the current market price for a symbol. The broker
// gateway satisfies this.
type PriceFetcher interface {
	GetMarketPrice(ctx context.Context, symbol string) (float64, error)
}

// Momentum is a built-in source that tracks the price change between
// consecutive fetches. Strength scales with the percent move, capped
// at 100.
type Momentum struct {
	prices PriceFetcher

	mu   sync.Mutex
	last map[string]float64
}

func NewMomentum(prices PriceFetcher) *Momentum {
	return &Momentum{prices: prices, last: make(map[string]float64)}
}

func (m *Momentum) Name() string { return "momentum" }

func (m *Momentum) Fetch(ctx context.Context, symbol string) (model.Signal, error) {
	price, err := m.prices.GetMarketPrice(ctx, symbol)
	if err != nil {
		return model.Signal{}, err
	}

	m.mu.Lock()
	prev, seen := m.last[symbol]
	m.last[symbol] = price
	m.mu.Unlock()

	sig := model.Signal{
		Source:    m.Name(),
		Symbol:    symbol,
		Direction: "hold",
		Timestamp: time.Now(),
	}
	if !seen || prev == 0 {
		return sig, nil
	}

	changePct := (price - prev) / prev * 100
	// 1% move between fetches saturates the signal.
	sig.Strength = math.Min(math.Abs(changePct)*100, 100)
	switch {
	case changePct > 0:
		sig.Direction = "buy"
	case changePct < 0:
		sig.Direction = "sell"
	}
	return sig, nil
}
