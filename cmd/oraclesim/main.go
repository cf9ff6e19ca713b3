// cmd/oraclesim — Demo decision oracle.
// Answers POST /decide with simulated trade decisions so the bot can run
// end-to-end without a real decision service.
//
// Responses optionally embed the decision JSON in surrounding prose to
// exercise the client's extraction path, the way real language-model
// oracles answer.
//
// Config (env vars):
//
//	ORACLESIM_ADDR      — listen address          (default: ":8090")
//	ORACLESIM_PROSE     — wrap JSON in prose      (default: "true")
//	ORACLESIM_BUY_BIAS  — buy probability 0..1    (default: "0.3")
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"math/rand"
	"net/http"
	"os"
	"strconv"
	"strings"
	"time"

	"trading-botv1/internal/model"
)

type simulator struct {
	prose   bool
	buyBias float64
	rng     *rand.Rand
}

// decide produces a plausible decision for the request. Strategies that
// already own the symbol mostly get hold, sometimes sell; fresh symbols
// get buy with probability buyBias.
func (s *simulator) decide(req model.DecisionRequest) model.Decision {
	d := model.Decision{
		Action:     model.ActionHold,
		Symbol:     req.Symbol,
		Reasoning:  "No clear signal, holding.",
		Confidence: 40 + s.rng.Float64()*20,
		StrategyID: req.StrategyID,
		DecidedAt:  time.Now().UTC(),
	}

	owned := int64(0)
	for _, p := range req.OwnedPositions {
		owned += p.Qty
	}

	roll := s.rng.Float64()
	switch {
	case owned > 0 && roll < 0.2:
		d.Action = model.ActionSell
		d.Qty = owned
		d.Reasoning = "Momentum fading, taking the exit."
		d.Confidence = 60 + s.rng.Float64()*35
	case owned == 0 && roll < s.buyBias && req.CurrentPrice > 0 && req.AccountBalance > 0:
		// Spend about a tenth of the strategy's allocation per entry.
		qty := int64(req.AccountBalance * 0.1 / req.CurrentPrice)
		if qty > 0 {
			d.Action = model.ActionBuy
			d.Qty = qty
			d.Reasoning = "Upward momentum with room in the allocation."
			d.Confidence = 55 + s.rng.Float64()*45
		}
	}

	for _, sig := range req.AvailableSignals {
		d.SignalsUsed = append(d.SignalsUsed, sig.Source)
	}
	return d
}

// render writes the decision either as bare JSON or embedded in prose.
func (s *simulator) render(d model.Decision) (string, error) {
	raw, err := json.Marshal(map[string]interface{}{
		"action":       string(d.Action),
		"quantity":     d.Qty,
		"reasoning":    d.Reasoning,
		"confidence":   d.Confidence,
		"signals_used": d.SignalsUsed,
	})
	if err != nil {
		return "", err
	}
	if !s.prose {
		return string(raw), nil
	}
	return fmt.Sprintf(
		"Looking at %s for strategy %s, here is my assessment.\n\n```json\n%s\n```\n\nProceed accordingly.",
		d.Symbol, d.StrategyID, raw), nil
}

func (s *simulator) handleDecide(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, `{"error":"POST required"}`, http.StatusMethodNotAllowed)
		return
	}

	var req model.DecisionRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		http.Error(w, `{"error":"invalid JSON"}`, http.StatusBadRequest)
		return
	}

	d := s.decide(req)
	body, err := s.render(d)
	if err != nil {
		http.Error(w, `{"error":"render failed"}`, http.StatusInternalServerError)
		return
	}

	log.Printf("[oraclesim] %s/%s -> %s qty=%d conf=%.0f (cycle=%s)",
		req.StrategyID, req.Symbol, d.Action, d.Qty, d.Confidence, r.Header.Get("X-Cycle-ID"))

	w.Header().Set("Content-Type", "text/plain")
	fmt.Fprint(w, body)
}

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[oraclesim] starting demo decision oracle...")

	addr := envOrDefault("ORACLESIM_ADDR", ":8090")
	prose := !strings.EqualFold(envOrDefault("ORACLESIM_PROSE", "true"), "false")
	buyBias := envFloatOrDefault("ORACLESIM_BUY_BIAS", 0.3)

	sim := &simulator{
		prose:   prose,
		buyBias: buyBias,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}

	http.HandleFunc("/decide", sim.handleDecide)
	http.HandleFunc("/health", func(w http.ResponseWriter, _ *http.Request) {
		fmt.Fprintln(w, `{"status":"ok","service":"oraclesim"}`)
	})

	log.Printf("[oraclesim] listening on %s (prose=%v buyBias=%.2f)", addr, prose, buyBias)
	if err := http.ListenAndServe(addr, nil); err != nil {
		log.Fatalf("[oraclesim] server error: %v", err)
	}
}

func envOrDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func envFloatOrDefault(key string, def float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil && f >= 0 && f <= 1 {
			return f
		}
	}
	return def
}
