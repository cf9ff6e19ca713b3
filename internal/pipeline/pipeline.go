// Package pipeline runs one strategy tick: gather context, consult the
// decision oracle, and hand the result to execution. Each symbol is
// processed independently so one bad quote cannot poison the tick.
package pipeline

import (
	"context"
	"log"
	"log/slog"
	"time"

	"trading-botv1/internal/broker"
	"trading-botv1/internal/capital"
	"trading-botv1/internal/execution"
	"trading-botv1/internal/ledger"
	"trading-botv1/internal/logger"
	"trading-botv1/internal/model"
	"trading-botv1/internal/signals"
)

// Profit-taking entries require this much oracle confidence.
const profitTakingEntryConfidence = 70

// Oracle produces decisions. The HTTP client satisfies this; tests use
// a scripted stub.
type Oracle interface {
	Decide(ctx context.Context, req model.DecisionRequest) model.Decision
}

// Executor runs decisions through pre-trade checks and the venue.
type Executor interface {
	Execute(ctx context.Context, st model.Strategy, d model.Decision, price float64) (execution.Result, error)
	Venue(acct model.Account) (broker.Gateway, error)
}

// DecisionSink records decision history, satisfied by the Redis store.
type DecisionSink interface {
	AppendDecision(ctx context.Context, d model.Decision) error
}

// TradeHook is called with realized PL for every position the tick
// closes. The registry uses it to roll up strategy stats.
type TradeHook func(strategyID string, realizedPL float64)

// Report summarizes one tick for logging and metrics.
type Report struct {
	Skipped   string // non-empty when the whole tick was skipped
	Decisions int
	Executed  int
	Errors    int
}

// Pipeline wires the per-tick decision flow for all strategies.
type Pipeline struct {
	capital   *capital.Ledger
	positions *ledger.Ledger
	signals   *signals.Registry
	oracle    Oracle
	exec      Executor
	history   DecisionSink
	watchlist []string
	onTrade   TradeHook

	// Observer hooks for metrics. Optional.
	OnDecision func(d model.Decision)
	OnResult   func(res execution.Result)
}

type Config struct {
	Capital   *capital.Ledger
	Positions *ledger.Ledger
	Signals   *signals.Registry
	Oracle    Oracle
	Executor  Executor
	History   DecisionSink
	Watchlist []string
	OnTrade   TradeHook
}

func New(cfg Config) *Pipeline {
	return &Pipeline{
		capital:   cfg.Capital,
		positions: cfg.Positions,
		signals:   cfg.Signals,
		oracle:    cfg.Oracle,
		exec:      cfg.Executor,
		history:   cfg.History,
		watchlist: cfg.Watchlist,
		onTrade:   cfg.OnTrade,
	}
}

// Tick runs one full cycle for a strategy: skip checks, then the
// position scan (exits), then the entry scan.
func (p *Pipeline) Tick(ctx context.Context, st model.Strategy) Report {
	ctx = logger.WithCycleID(ctx, logger.NewCycleID(st.ID, time.Now()))

	acct, err := p.capital.Get(st.AccountID)
	if err != nil {
		log.Printf("[pipeline] %s: %v", st.ID, err)
		return Report{Skipped: "account not found", Errors: 1}
	}

	// Skip conditions are normal operation, not errors. Each gets its
	// own log line so a stalled strategy is diagnosable.
	if !acct.Connected {
		log.Printf("[pipeline] %s: skipping tick, account %s disconnected", st.ID, acct.ID)
		return Report{Skipped: "account disconnected"}
	}
	if acct.Venue != "paper" && !acct.Credentials.Configured() {
		log.Printf("[pipeline] %s: skipping tick, account %s has no credentials", st.ID, acct.ID)
		return Report{Skipped: "credentials not configured"}
	}
	if acct.LockedTradingCapital == 0 {
		log.Printf("[pipeline] %s: skipping tick, account %s has no locked capital", st.ID, acct.ID)
		return Report{Skipped: "no locked capital"}
	}

	venue, err := p.exec.Venue(acct)
	if err != nil {
		log.Printf("[pipeline] %s: venue: %v", st.ID, err)
		return Report{Skipped: "venue unavailable", Errors: 1}
	}
	open, err := venue.IsMarketOpen(ctx)
	if err != nil {
		log.Printf("[pipeline] %s: market clock: %v", st.ID, err)
		return Report{Skipped: "market clock unavailable", Errors: 1}
	}
	if !open {
		log.Printf("[pipeline] %s: skipping tick, market closed", st.ID)
		return Report{Skipped: "market closed"}
	}

	var rep Report
	p.scanPositions(ctx, st, venue, &rep)
	p.scanEntries(ctx, st, acct, venue, &rep)
	return rep
}

// scanPositions refreshes prices on owned positions and decides exits.
// Profit-taking strategies exit on the PL threshold without consulting
// the oracle; everything else asks.
func (p *Pipeline) scanPositions(ctx context.Context, st model.Strategy, venue broker.Gateway, rep *Report) {
	for _, pos := range p.positions.ByStrategy(st.ID) {
		price, err := venue.GetMarketPrice(ctx, pos.Symbol)
		if err != nil {
			log.Printf("[pipeline] %s/%s: quote: %v", st.ID, pos.Symbol, err)
			rep.Errors++
			continue
		}
		if err := p.positions.MarkPrice(pos.PositionID, st.ID, price); err != nil {
			log.Printf("[pipeline] %s/%s: mark: %v", st.ID, pos.Symbol, err)
			rep.Errors++
			continue
		}
		pos.MarkPrice(price)

		if st.Category == model.CategoryProfitTaking {
			if pos.UnrealizedPL >= st.MinProfit {
				d := model.Decision{
					Action:     model.ActionSell,
					Symbol:     pos.Symbol,
					Qty:        pos.Qty,
					Reasoning:  "Profit target reached",
					Confidence: 100,
					StrategyID: st.ID,
				}
				p.dispatch(ctx, st, d, price, rep)
			}
			continue
		}

		d := p.decide(ctx, st, pos.Symbol, price)
		rep.Decisions++
		if d.Action == model.ActionSell {
			p.dispatch(ctx, st, d, price, rep)
		}
	}
}

// scanEntries asks the oracle about watchlist symbols the strategy does
// not already hold.
func (p *Pipeline) scanEntries(ctx context.Context, st model.Strategy, acct model.Account, venue broker.Gateway, rep *Report) {
	for _, symbol := range p.watchlist {
		if p.positions.Has(symbol, st.ID) {
			continue
		}

		price, err := venue.GetMarketPrice(ctx, symbol)
		if err != nil {
			log.Printf("[pipeline] %s/%s: quote: %v", st.ID, symbol, err)
			rep.Errors++
			continue
		}

		d := p.decide(ctx, st, symbol, price)
		rep.Decisions++
		if d.Action != model.ActionBuy {
			continue
		}
		if st.Category == model.CategoryProfitTaking && d.Confidence <= profitTakingEntryConfidence {
			log.Printf("[pipeline] %s/%s: entry confidence %.0f below threshold, holding", st.ID, symbol, d.Confidence)
			continue
		}
		p.dispatch(ctx, st, d, price, rep)
	}
}

// decide builds the oracle request, appends the decision to history, and
// returns it. The request always carries every position the strategy
// holds, not just the symbol under consideration, so the oracle sees the
// strategy's whole book.
func (p *Pipeline) decide(ctx context.Context, st model.Strategy, symbol string, price float64) model.Decision {
	acct, err := p.capital.Get(st.AccountID)
	if err != nil {
		return model.FailSafeHold(symbol, st.ID, err.Error())
	}

	var sigs []model.Signal
	if p.signals != nil {
		sigs = p.signals.Collect(ctx, symbol)
	}

	req := model.DecisionRequest{
		StrategyID:         st.ID,
		StrategyName:       st.Name,
		StrategyType:       string(st.Category),
		Symbol:             symbol,
		CurrentPrice:       price,
		AccountBalance:     st.AllocatedCapital(acct.LockedTradingCapital),
		Allocation:         st.Allocation,
		OwnedPositions:     p.positions.ByStrategy(st.ID),
		AllSymbolPositions: p.positions.BySymbol(symbol),
		AvailableSignals:   sigs,
	}

	d := p.oracle.Decide(ctx, req)
	if p.OnDecision != nil {
		p.OnDecision(d)
	}
	if p.history != nil {
		if err := p.history.AppendDecision(ctx, d); err != nil {
			log.Printf("[pipeline] %s/%s: decision history: %v", st.ID, symbol, err)
		}
	}
	return d
}

func (p *Pipeline) dispatch(ctx context.Context, st model.Strategy, d model.Decision, price float64, rep *Report) {
	res, err := p.exec.Execute(ctx, st, d, price)
	if err != nil {
		log.Printf("[pipeline] %s/%s: execute: %v", st.ID, d.Symbol, err)
		rep.Errors++
		return
	}
	if p.OnResult != nil {
		p.OnResult(res)
	}
	switch res.Outcome {
	case execution.OutcomeExecuted:
		rep.Executed++
		slog.Info("decision executed", append([]any{
			slog.String("strategy", st.ID),
			slog.String("symbol", d.Symbol),
			slog.String("action", string(d.Action)),
		}, logger.LogWithCycle(ctx)...)...)
		if p.onTrade != nil {
			for _, cp := range res.Closed {
				p.onTrade(st.ID, cp.RealizedPL)
			}
		}
	case execution.OutcomeSkipped:
		if res.Reason != "hold" {
			log.Printf("[pipeline] %s/%s: %s skipped: %s", st.ID, d.Symbol, d.Action, res.Reason)
		}
	}
}
