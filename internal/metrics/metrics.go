package metrics

import (
	"context"
	"database/sql"
	"encoding/json"
	"log"
	"net/http"
	"sync"
	"time"

	goredis "github.com/go-redis/redis/v8"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Metrics holds all Prometheus metrics for the trading engine.
type Metrics struct {
	StrategyTicks  prometheus.Counter
	DecisionsTotal *prometheus.CounterVec // labels: action
	OracleLatency  prometheus.Histogram
	OracleHolds    prometheus.Counter // fail-safe holds from unusable responses

	OrdersPlaced   prometheus.Counter
	OrdersRejected prometheus.Counter
	OpenPositions  prometheus.Gauge

	AuthBreakerTrips prometheus.Counter

	// Redis circuit breaker
	RedisCircuitBreakerState prometheus.Gauge // 0=closed, 1=open, 2=half-open
	RedisCircuitBreakerTrips prometheus.Counter

	CapitalWarnings  prometheus.Counter
	EmergencyActions *prometheus.CounterVec // labels: action
	SignalFetchFails *prometheus.CounterVec // labels: source

	WSClients prometheus.Gauge
}

// NewMetrics registers and returns all Prometheus metrics.
func NewMetrics() *Metrics {
	m := &Metrics{
		StrategyTicks: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_strategy_ticks_total",
			Help: "Total strategy evaluation cycles executed",
		}),
		DecisionsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botserver_decisions_total",
			Help: "Trading decisions by action (buy, sell, hold)",
		}, []string{"action"}),
		OracleLatency: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:    "botserver_oracle_latency_seconds",
			Help:    "Decision oracle round-trip latency",
			Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 25},
		}),
		OracleHolds: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_oracle_failsafe_holds_total",
			Help: "Decisions degraded to hold because the oracle response was unusable",
		}),

		OrdersPlaced: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_orders_placed_total",
			Help: "Orders accepted by a brokerage",
		}),
		OrdersRejected: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_orders_rejected_total",
			Help: "Orders rejected or failed at a brokerage",
		}),
		OpenPositions: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botserver_open_positions",
			Help: "Currently open positions across all strategies",
		}),

		AuthBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_auth_breaker_trips_total",
			Help: "Times an account's auth circuit breaker tripped open",
		}),

		RedisCircuitBreakerState: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botserver_redis_circuit_breaker_state",
			Help: "Redis circuit breaker state (0=closed, 1=open, 2=half-open)",
		}),
		RedisCircuitBreakerTrips: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_redis_circuit_breaker_trips_total",
			Help: "Times the Redis circuit breaker tripped open",
		}),

		CapitalWarnings: prometheus.NewCounter(prometheus.CounterOpts{
			Name: "botserver_capital_warnings_total",
			Help: "Locked-capital allocations above the recommended equity ceiling",
		}),
		EmergencyActions: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botserver_emergency_actions_total",
			Help: "Emergency actions invoked (by action)",
		}, []string{"action"}),
		SignalFetchFails: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name: "botserver_signal_fetch_failures_total",
			Help: "Signal source fetch failures per source",
		}, []string{"source"}),

		WSClients: prometheus.NewGauge(prometheus.GaugeOpts{
			Name: "botserver_ws_clients",
			Help: "Connected event stream WebSocket clients",
		}),
	}

	prometheus.MustRegister(
		m.StrategyTicks,
		m.DecisionsTotal,
		m.OracleLatency,
		m.OracleHolds,
		m.OrdersPlaced,
		m.OrdersRejected,
		m.OpenPositions,
		m.AuthBreakerTrips,
		m.RedisCircuitBreakerState,
		m.RedisCircuitBreakerTrips,
		m.CapitalWarnings,
		m.EmergencyActions,
		m.SignalFetchFails,
		m.WSClients,
	)

	return m
}

// HealthStatus represents the system health.
type HealthStatus struct {
	mu sync.RWMutex

	RedisConnected    bool
	SQLiteOK          bool
	OracleReachable   bool
	AccountsConnected int
	RunningStrategies int

	LastTickTime time.Time

	// Liveness probe results
	RedisLatencyMs  float64
	SQLiteLatencyMs float64
	LastCheckAt     time.Time
	StartedAt       time.Time
}

// NewHealthStatus returns a default health status.
func NewHealthStatus() *HealthStatus {
	return &HealthStatus{
		StartedAt: time.Now(),
	}
}

func (h *HealthStatus) SetRedisConnected(v bool) {
	h.mu.Lock()
	h.RedisConnected = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetSQLiteOK(v bool) {
	h.mu.Lock()
	h.SQLiteOK = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetOracleReachable(v bool) {
	h.mu.Lock()
	h.OracleReachable = v
	h.mu.Unlock()
}

func (h *HealthStatus) SetAccountsConnected(n int) {
	h.mu.Lock()
	h.AccountsConnected = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetRunningStrategies(n int) {
	h.mu.Lock()
	h.RunningStrategies = n
	h.mu.Unlock()
}

func (h *HealthStatus) SetLastTickTime(t time.Time) {
	h.mu.Lock()
	h.LastTickTime = t
	h.mu.Unlock()
}

// CheckRedis pings Redis and records latency + connectivity.
func (h *HealthStatus) CheckRedis(ctx context.Context, rdb *goredis.Client) {
	start := time.Now()
	err := rdb.Ping(ctx).Err()
	latency := time.Since(start)

	h.mu.Lock()
	h.RedisConnected = err == nil
	h.RedisLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// CheckSQLite runs a trivial query and records latency + health.
func (h *HealthStatus) CheckSQLite(ctx context.Context, db *sql.DB) {
	start := time.Now()
	err := db.PingContext(ctx)
	latency := time.Since(start)

	h.mu.Lock()
	h.SQLiteOK = err == nil
	h.SQLiteLatencyMs = float64(latency.Microseconds()) / 1000.0
	h.LastCheckAt = time.Now()
	h.mu.Unlock()
}

// StartLivenessChecker runs periodic dependency checks.
func (h *HealthStatus) StartLivenessChecker(ctx context.Context, rdb *goredis.Client, sqlDB *sql.DB, interval time.Duration) {
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				return
			case <-ticker.C:
				probeCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				if rdb != nil {
					h.CheckRedis(probeCtx, rdb)
				}
				if sqlDB != nil {
					h.CheckSQLite(probeCtx, sqlDB)
				}
				cancel()
			}
		}
	}()
}

// ServeHTTP handles the /healthz endpoint.
func (h *HealthStatus) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	// Determine overall status
	overallStatus := "healthy"
	httpCode := http.StatusOK

	if !h.RedisConnected || !h.SQLiteOK || !h.OracleReachable {
		overallStatus = "degraded"
		httpCode = http.StatusServiceUnavailable
	}
	if !h.RedisConnected && !h.SQLiteOK {
		overallStatus = "unhealthy"
	}

	// Age of the last strategy evaluation
	tickAge := ""
	if !h.LastTickTime.IsZero() {
		tickAge = time.Since(h.LastTickTime).Round(time.Millisecond).String()
	}

	status := struct {
		Status            string  `json:"status"`
		Uptime            string  `json:"uptime"`
		LastTickTime      string  `json:"last_tick_time"`
		TickAge           string  `json:"tick_age"`
		RedisConnected    bool    `json:"redis_connected"`
		RedisLatencyMs    float64 `json:"redis_latency_ms"`
		SQLiteOK          bool    `json:"sqlite_ok"`
		SQLiteLatencyMs   float64 `json:"sqlite_latency_ms"`
		OracleReachable   bool    `json:"oracle_reachable"`
		AccountsConnected int     `json:"accounts_connected"`
		RunningStrategies int     `json:"running_strategies"`
		LastCheckAt       string  `json:"last_check_at"`
	}{
		Status:            overallStatus,
		Uptime:            time.Since(h.StartedAt).Round(time.Second).String(),
		LastTickTime:      h.LastTickTime.Format(time.RFC3339),
		TickAge:           tickAge,
		RedisConnected:    h.RedisConnected,
		RedisLatencyMs:    h.RedisLatencyMs,
		SQLiteOK:          h.SQLiteOK,
		SQLiteLatencyMs:   h.SQLiteLatencyMs,
		OracleReachable:   h.OracleReachable,
		AccountsConnected: h.AccountsConnected,
		RunningStrategies: h.RunningStrategies,
		LastCheckAt:       h.LastCheckAt.Format(time.RFC3339),
	}

	w.Header().Set("Content-Type", "application/json")
	if httpCode != http.StatusOK {
		w.WriteHeader(httpCode)
	}
	json.NewEncoder(w).Encode(status)
}

// Server runs an HTTP server exposing /metrics and /healthz.
type Server struct {
	health *HealthStatus
	addr   string
	srv    *http.Server
}

// NewServer creates a metrics and health server.
func NewServer(addr string, health *HealthStatus) *Server {
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	mux.HandleFunc("/healthz", health.ServeHTTP)

	return &Server{
		health: health,
		addr:   addr,
		srv: &http.Server{
			Addr:    addr,
			Handler: mux,
		},
	}
}

// Start launches the HTTP server in a goroutine.
func (s *Server) Start() {
	go func() {
		log.Printf("[metrics] server listening on %s", s.addr)
		if err := s.srv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[metrics] server error: %v", err)
		}
	}()
}

// Stop gracefully shuts down the metrics server.
func (s *Server) Stop(ctx context.Context) {
	s.srv.Shutdown(ctx)
}
