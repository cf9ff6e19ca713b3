// Package api exposes the operator-facing HTTP surface: engine control
// endpoints, history queries, and the live event stream WebSocket.
package api

import (
	"context"
	"encoding/json"
	"log"
	"net/http"
	"strconv"

	"trading-botv1/internal/capital"
	"trading-botv1/internal/engine"
	"trading-botv1/internal/model"
	"trading-botv1/internal/signals"
	"trading-botv1/internal/store/sqlite"
)

// Engine is the control surface the API drives, satisfied by
// *engine.Engine.
type Engine interface {
	Snapshot() engine.Snapshot
	StartStrategy(ctx context.Context, id string) error
	StopStrategy(id string) error
	SetAllocationMode(mode model.AllocationMode) error
	SetStrategyAllocation(id string, pct float64) error
	SetLockedCapital(accountID string, amount float64) (*capital.RiskWarning, error)
	UpdateCredentials(ctx context.Context, accountID string, creds model.Credentials) error
	Emergency(ctx context.Context, action engine.EmergencyAction, accountID, symbol string) (engine.EmergencyReport, error)
}

// DecisionStore serves the bounded decision history, satisfied by the
// Redis store.
type DecisionStore interface {
	DecisionHistory(ctx context.Context, strategyID string, limit int) ([]model.Decision, error)
}

// TradeStore serves closed-position history and the order journal,
// satisfied by the SQLite store.
type TradeStore interface {
	ClosedHistory(strategyID string, limit int) ([]model.ClosedPosition, error)
	Journal(limit int) ([]sqlite.JournalEntry, error)
}

// SignalSources reports and controls signal source health, satisfied by
// signals.Registry.
type SignalSources interface {
	Status() []signals.SourceStatus
	Enable(name string) bool
}

// Server holds the handler dependencies.
type Server struct {
	engine    Engine
	decisions DecisionStore
	trades    TradeStore
	sources   SignalSources
	stream    *StreamHub

	// OnShutdown, if set, is invoked after the shutdown endpoint responds.
	// The process owner wires it to its stop signal.
	OnShutdown func()
}

// NewServer builds the API server. decisions, trades, sources, and
// stream may be nil; their endpoints then return empty results or 404.
func NewServer(eng Engine, decisions DecisionStore, trades TradeStore, sources SignalSources, stream *StreamHub) *Server {
	return &Server{
		engine:    eng,
		decisions: decisions,
		trades:    trades,
		sources:   sources,
		stream:    stream,
	}
}

// SetCORS sets CORS headers for REST endpoints.
func SetCORS(w http.ResponseWriter) {
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type")
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	SetCORS(w)
	w.Header().Set("Content-Type", "application/json")
	if code != http.StatusOK {
		w.WriteHeader(code)
	}
	json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// decodeBody decodes a JSON request body, rejecting non-POST methods.
func decodeBody(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	SetCORS(w)
	if r.Method == http.MethodOptions {
		w.WriteHeader(http.StatusOK)
		return false
	}
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return false
	}
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return false
	}
	return true
}

// queryLimit parses ?limit= with a default and a hard cap.
func queryLimit(r *http.Request, def, max int) int {
	limit := def
	if s := r.URL.Query().Get("limit"); s != "" {
		if l, err := strconv.Atoi(s); err == nil && l > 0 && l <= max {
			limit = l
		}
	}
	return limit
}

// Router builds the HTTP mux with all API routes registered.
func (s *Server) Router() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("/api/v1/health", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("/api/v1/snapshot", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.Snapshot())
	})

	mux.HandleFunc("/api/v1/strategies", func(w http.ResponseWriter, r *http.Request) {
		writeJSON(w, http.StatusOK, s.engine.Snapshot().Strategies)
	})

	mux.HandleFunc("/api/v1/strategies/start", s.handleStrategyStart)
	mux.HandleFunc("/api/v1/strategies/stop", s.handleStrategyStop)
	mux.HandleFunc("/api/v1/allocation/mode", s.handleAllocationMode)
	mux.HandleFunc("/api/v1/allocation", s.handleAllocation)
	mux.HandleFunc("/api/v1/capital/lock", s.handleLockCapital)
	mux.HandleFunc("/api/v1/credentials", s.handleCredentials)
	mux.HandleFunc("/api/v1/emergency", s.handleEmergency)
	mux.HandleFunc("/api/v1/decisions", s.handleDecisions)
	mux.HandleFunc("/api/v1/trades", s.handleTrades)
	mux.HandleFunc("/api/v1/journal", s.handleJournal)
	mux.HandleFunc("/api/v1/signals/sources", s.handleSignalSources)
	mux.HandleFunc("/api/v1/signals/sources/enable", s.handleSignalEnable)
	mux.HandleFunc("/api/v1/shutdown", s.handleShutdown)

	if s.stream != nil {
		mux.HandleFunc("/api/v1/stream", s.stream.HandleWS)
	}

	return mux
}

func (s *Server) handleStrategyStart(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.StartStrategy(context.Background(), req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("[api] strategy %s started", req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "started", "id": req.ID})
}

func (s *Server) handleStrategyStop(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID string `json:"id"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.StopStrategy(req.ID); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("[api] strategy %s stopped", req.ID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "stopped", "id": req.ID})
}

func (s *Server) handleAllocationMode(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Mode string `json:"mode"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.SetAllocationMode(model.AllocationMode(req.Mode)); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok", "mode": req.Mode})
}

func (s *Server) handleAllocation(w http.ResponseWriter, r *http.Request) {
	var req struct {
		ID  string  `json:"id"`
		Pct float64 `json:"pct"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.SetStrategyAllocation(req.ID, req.Pct); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleLockCapital(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID string  `json:"account_id"`
		Amount    float64 `json:"amount"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	warn, err := s.engine.SetLockedCapital(req.AccountID, req.Amount)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	resp := map[string]interface{}{"status": "ok", "locked": req.Amount}
	if warn != nil {
		resp["warning"] = warn
	}
	writeJSON(w, http.StatusOK, resp)
}

func (s *Server) handleCredentials(w http.ResponseWriter, r *http.Request) {
	var req struct {
		AccountID   string            `json:"account_id"`
		Credentials model.Credentials `json:"credentials"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if err := s.engine.UpdateCredentials(r.Context(), req.AccountID, req.Credentials); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	log.Printf("[api] credentials updated for account %s", req.AccountID)
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleEmergency(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Action    string `json:"action"`
		AccountID string `json:"account_id"`
		Symbol    string `json:"symbol,omitempty"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	report, err := s.engine.Emergency(r.Context(), engine.EmergencyAction(req.Action), req.AccountID, req.Symbol)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	code := http.StatusOK
	if report.Failed() {
		// Partial failure: the report says which steps need manual follow-up.
		code = http.StatusMultiStatus
	}
	writeJSON(w, code, report)
}

func (s *Server) handleDecisions(w http.ResponseWriter, r *http.Request) {
	if s.decisions == nil {
		writeJSON(w, http.StatusOK, []model.Decision{})
		return
	}
	strategyID := r.URL.Query().Get("strategy")
	if strategyID == "" {
		writeError(w, http.StatusBadRequest, "strategy query parameter required")
		return
	}
	limit := queryLimit(r, 50, 100)
	history, err := s.decisions.DecisionHistory(r.Context(), strategyID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []model.Decision{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleTrades(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeJSON(w, http.StatusOK, []model.ClosedPosition{})
		return
	}
	strategyID := r.URL.Query().Get("strategy")
	limit := queryLimit(r, 100, 1000)
	history, err := s.trades.ClosedHistory(strategyID, limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if history == nil {
		history = []model.ClosedPosition{}
	}
	writeJSON(w, http.StatusOK, history)
}

func (s *Server) handleJournal(w http.ResponseWriter, r *http.Request) {
	if s.trades == nil {
		writeJSON(w, http.StatusOK, []sqlite.JournalEntry{})
		return
	}
	limit := queryLimit(r, 100, 1000)
	entries, err := s.trades.Journal(limit)
	if err != nil {
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	if entries == nil {
		entries = []sqlite.JournalEntry{}
	}
	writeJSON(w, http.StatusOK, entries)
}

func (s *Server) handleShutdown(w http.ResponseWriter, r *http.Request) {
	SetCORS(w)
	if r.Method != http.MethodPost {
		writeError(w, http.StatusMethodNotAllowed, "POST required")
		return
	}
	if s.OnShutdown == nil {
		writeError(w, http.StatusServiceUnavailable, "shutdown not available")
		return
	}
	log.Printf("[api] shutdown requested")
	writeJSON(w, http.StatusOK, map[string]string{"status": "shutting_down"})
	go s.OnShutdown()
}

func (s *Server) handleSignalSources(w http.ResponseWriter, r *http.Request) {
	if s.sources == nil {
		writeJSON(w, http.StatusOK, []signals.SourceStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.sources.Status())
}

func (s *Server) handleSignalEnable(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Name string `json:"name"`
	}
	if !decodeBody(w, r, &req) {
		return
	}
	if s.sources == nil || !s.sources.Enable(req.Name) {
		writeError(w, http.StatusNotFound, "unknown signal source: "+req.Name)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"status": "enabled", "name": req.Name})
}
