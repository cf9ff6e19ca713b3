package broker

import (
	"context"
	"fmt"
	"log"
	"math/rand"
	"sync"
	"time"

	"trading-botv1/internal/markethours"
	"trading-botv1/internal/model"
)

// Paper is an in-memory simulated venue. It accepts every order, tracks net
// quantities per symbol, and serves a random-walk price per symbol. Used for
// development and tests; no real money moves.
type Paper struct {
	mu       sync.Mutex
	equity   float64
	cash     float64
	prices   map[string]float64
	holdings map[string]*paperHolding
	orders   map[string]model.Order
	orderSeq int64

	// test hooks
	ForceMarketOpen bool // report the market as open regardless of clock
	TradingBlocked  bool
	FailNextOrder   error // returned by the next PlaceOrder, then cleared
}

type paperHolding struct {
	qty      int64
	avgPrice float64
}

// NewPaper creates a paper venue with the given starting equity.
func NewPaper(startingEquity float64) *Paper {
	if startingEquity <= 0 {
		startingEquity = 100000
	}
	return &Paper{
		equity:   startingEquity,
		cash:     startingEquity,
		prices:   make(map[string]float64),
		holdings: make(map[string]*paperHolding),
		orders:   make(map[string]model.Order),
	}
}

// SetPrice pins a symbol's price (tests and the oracle simulator).
func (p *Paper) SetPrice(symbol string, price float64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.prices[symbol] = price
}

func (p *Paper) GetAccount(_ context.Context) (model.AccountState, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return model.AccountState{
		Equity:         p.equity,
		BuyingPower:    p.cash,
		Cash:           p.cash,
		Status:         "ACTIVE",
		TradingBlocked: p.TradingBlocked,
	}, nil
}

func (p *Paper) GetPositions(_ context.Context) ([]model.Position, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var out []model.Position
	for sym, h := range p.holdings {
		if h.qty == 0 {
			continue
		}
		px := p.priceLocked(sym)
		out = append(out, model.Position{
			Symbol:       sym,
			Qty:          h.qty,
			EntryPrice:   h.avgPrice,
			CurrentPrice: px,
			UnrealizedPL: (px - h.avgPrice) * float64(h.qty),
		})
	}
	return out, nil
}

func (p *Paper) GetMarketPrice(_ context.Context, symbol string) (float64, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.priceLocked(symbol), nil
}

// priceLocked returns the pinned price, or seeds a random-walk one.
func (p *Paper) priceLocked(symbol string) float64 {
	px, ok := p.prices[symbol]
	if !ok {
		px = 50 + rand.Float64()*450
	} else {
		px *= 1 + (rand.Float64()-0.5)*0.002
	}
	p.prices[symbol] = px
	return px
}

func (p *Paper) PlaceOrder(_ context.Context, order model.Order) (model.OrderResult, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.FailNextOrder != nil {
		err := p.FailNextOrder
		p.FailNextOrder = nil
		return model.OrderResult{}, err
	}
	if order.Qty <= 0 {
		return model.OrderResult{}, &GatewayError{StatusCode: 422, Message: "quantity must be positive"}
	}

	p.orderSeq++
	id := fmt.Sprintf("PAPER-%d", p.orderSeq)
	px := p.priceLocked(order.Symbol)

	h, ok := p.holdings[order.Symbol]
	if !ok {
		h = &paperHolding{}
		p.holdings[order.Symbol] = h
	}
	switch order.Side {
	case model.SideBuy:
		cost := px * float64(order.Qty)
		if cost > p.cash {
			return model.OrderResult{}, &GatewayError{StatusCode: 403, Message: "insufficient buying power"}
		}
		total := h.avgPrice*float64(h.qty) + cost
		h.qty += order.Qty
		h.avgPrice = total / float64(h.qty)
		p.cash -= cost
	case model.SideSell:
		h.qty -= order.Qty
		p.cash += px * float64(order.Qty)
		if h.qty == 0 {
			h.avgPrice = 0
		}
	}
	p.orders[id] = order

	log.Printf("[paper] %s %s qty=%d @ %.2f order=%s", order.Side, order.Symbol, order.Qty, px, id)
	return model.OrderResult{
		ID:           id,
		Status:       "filled",
		Symbol:       order.Symbol,
		Qty:          order.Qty,
		Side:         string(order.Side),
		FilledQty:    order.Qty,
		AvgFillPrice: px,
	}, nil
}

func (p *Paper) CancelOrder(_ context.Context, orderID string) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if _, ok := p.orders[orderID]; !ok {
		return &GatewayError{StatusCode: 404, Message: "order not found: " + orderID}
	}
	delete(p.orders, orderID)
	return nil
}

func (p *Paper) CancelAllOrders(_ context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.orders = make(map[string]model.Order)
	return nil
}

func (p *Paper) ClosePosition(ctx context.Context, symbol string) error {
	p.mu.Lock()
	h, ok := p.holdings[symbol]
	if !ok || h.qty == 0 {
		p.mu.Unlock()
		return &GatewayError{StatusCode: 404, Message: "no open position: " + symbol}
	}
	qty := h.qty
	p.mu.Unlock()

	side := model.SideSell
	if qty < 0 {
		side = model.SideBuy
		qty = -qty
	}
	_, err := p.PlaceOrder(ctx, model.MarketOrder(symbol, qty, side))
	return err
}

func (p *Paper) CloseAllPositions(ctx context.Context) error {
	p.mu.Lock()
	symbols := make([]string, 0, len(p.holdings))
	for sym, h := range p.holdings {
		if h.qty != 0 {
			symbols = append(symbols, sym)
		}
	}
	p.mu.Unlock()

	var firstErr error
	for _, sym := range symbols {
		if err := p.ClosePosition(ctx, sym); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

func (p *Paper) IsMarketOpen(_ context.Context) (bool, error) {
	if p.ForceMarketOpen {
		return true, nil
	}
	return markethours.IsMarketOpen(time.Now()), nil
}
