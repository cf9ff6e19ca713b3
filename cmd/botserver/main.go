package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"trading-botv1/config"
	"trading-botv1/internal/api"
	"trading-botv1/internal/capital"
	"trading-botv1/internal/engine"
	"trading-botv1/internal/events"
	"trading-botv1/internal/execution"
	"trading-botv1/internal/ledger"
	"trading-botv1/internal/logger"
	"trading-botv1/internal/metrics"
	"trading-botv1/internal/model"
	"trading-botv1/internal/notification"
	"trading-botv1/internal/oracle"
	"trading-botv1/internal/pipeline"
	"trading-botv1/internal/registry"
	"trading-botv1/internal/signals"
	redisstore "trading-botv1/internal/store/redis"
	sqlitestore "trading-botv1/internal/store/sqlite"
)

func main() {
	log.SetFlags(log.LstdFlags | log.Lmicroseconds | log.Lshortfile)
	log.Println("[botserver] starting...")

	cfg := config.Load()
	logger.Init("botserver", slog.LevelInfo)

	// ---- Metrics & health ----
	prom := metrics.NewMetrics()
	health := metrics.NewHealthStatus()
	metricsSrv := metrics.NewServer(cfg.MetricsAddr, health)
	metricsSrv.Start()

	// ---- Context and shutdown signal ----
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	// ---- SQLite store (trade history, snapshots, order journal) ----
	os.MkdirAll(filepath.Dir(cfg.SQLitePath), 0o755)
	sqlStore, err := sqlitestore.New(sqlitestore.StoreConfig{DBPath: cfg.SQLitePath})
	if err != nil {
		log.Fatalf("[botserver] sqlite init failed: %v", err)
	}
	defer sqlStore.Close()
	health.SetSQLiteOK(true)
	log.Println("[botserver] sqlite store ready")

	// ---- Redis store (decision history, signal cache) ----
	redisStore, err := redisstore.New(redisstore.StoreConfig{
		Addr:     cfg.RedisAddr,
		Password: cfg.RedisPassword,
	})
	if err != nil {
		log.Printf("[botserver] WARNING: redis init failed: %v (continuing without decision history)", err)
		health.SetRedisConnected(false)
	} else {
		defer redisStore.Close()
		health.SetRedisConnected(true)
		log.Println("[botserver] redis store ready")
	}

	if redisStore != nil {
		health.StartLivenessChecker(ctx, redisStore.Client(), sqlStore.DB(), 10*time.Second)

		breaker := redisStore.Breaker()
		logState := breaker.OnStateChange
		breaker.OnStateChange = func(from, to redisstore.State) {
			if logState != nil {
				logState(from, to)
			}
			prom.RedisCircuitBreakerState.Set(float64(to))
			if to == redisstore.StateOpen {
				prom.RedisCircuitBreakerTrips.Inc()
			}
		}
	} else {
		health.StartLivenessChecker(ctx, nil, sqlStore.DB(), 10*time.Second)
	}

	// ---- Event bus, notifications, WS stream ----
	bus := events.NewBus()

	var backends []notification.Notifier
	backends = append(backends, notification.NewLogNotifier())
	if cfg.TelegramToken != "" && cfg.TelegramChatID != "" {
		backends = append(backends, notification.NewTelegramNotifier(cfg.TelegramToken, cfg.TelegramChatID))
	}
	if cfg.WebhookURL != "" {
		backends = append(backends, notification.NewWebhookNotifier(cfg.WebhookURL))
	}
	events.ForwardAlerts(ctx, bus, notification.NewMultiNotifier(backends...))

	stream := api.NewStreamHub(bus)
	stream.OnClientCount = func(n int) { prom.WSClients.Set(float64(n)) }
	go stream.Run(ctx)

	// Audit events drive the alert-class metrics.
	go func() {
		ch, cancelSub := bus.Subscribe()
		defer cancelSub()
		for {
			select {
			case <-ctx.Done():
				return
			case evt, ok := <-ch:
				if !ok {
					return
				}
				switch evt.Type {
				case events.TypeCapitalWarning:
					prom.CapitalWarnings.Inc()
				case events.TypeAuthBreaker:
					prom.AuthBreakerTrips.Inc()
				case events.TypeEmergency:
					action := "unknown"
					if rep, ok := evt.Payload.(engine.EmergencyReport); ok {
						action = string(rep.Action)
					}
					prom.EmergencyActions.WithLabelValues(action).Inc()
				}
			}
		}
	}()

	// ---- Capital ledger and accounts ----
	capLedger := capital.NewLedger()

	primary := model.Account{
		ID:    "alpaca-main",
		Name:  "Alpaca",
		Venue: "alpaca",
		Mode:  model.TradeMode(cfg.AlpacaMode),
		Credentials: model.Credentials{
			APIKey:    cfg.AlpacaAPIKey,
			APISecret: cfg.AlpacaAPISecret,
		},
	}
	capLedger.Register(primary)

	if cfg.SmartAPIKey != "" {
		capLedger.Register(model.Account{
			ID:    "smartapi-main",
			Name:  "SmartAPI",
			Venue: "smartapi",
			Mode:  model.ModeLive,
			Credentials: model.Credentials{
				APIKey:     cfg.SmartAPIKey,
				APISecret:  cfg.SmartAPISecret,
				ClientCode: cfg.SmartAPIClientCode,
				TOTPSecret: cfg.SmartAPITOTPSecret,
			},
		})
	}

	capLedger.Register(model.Account{
		ID:          "paper-main",
		Name:        "Paper",
		Venue:       "paper",
		Mode:        model.ModePaper,
		Connected:   true,
		Equity:      cfg.PaperEquity,
		BuyingPower: cfg.PaperEquity,
		Cash:        cfg.PaperEquity,
	})

	// ---- Position ledger, execution, oracle ----
	positions := ledger.New(sqlStore)
	execGw := execution.NewGateway(capLedger, positions, sqlStore, nil)
	oracleClient := &meteredOracle{
		inner: oracle.NewClient(cfg.OracleEndpoint, cfg.OracleTimeout),
		prom:  prom,
	}
	health.SetOracleReachable(true)

	// ---- Signal sources ----
	var cache signals.Cache
	if redisStore != nil {
		cache = redisStore
	}
	signalReg := signals.NewRegistry(cache)
	signalReg.OnFetchError = func(source string) {
		prom.SignalFetchFails.WithLabelValues(source).Inc()
	}
	if venue, err := execGw.Venue(primary); err == nil {
		signalReg.Register(signals.NewMomentum(venue))
	} else {
		log.Printf("[botserver] momentum source disabled: %v", err)
	}

	// ---- Strategy registry and decision pipeline ----
	// The registry ticks the pipeline; the pipeline reports trades back
	// to the registry. The closure breaks the construction cycle.
	var (
		pl  *pipeline.Pipeline
		reg *registry.Registry
	)
	reg = registry.New(capLedger, func(tickCtx context.Context, st model.Strategy) {
		pl.Tick(tickCtx, st)
		prom.StrategyTicks.Inc()
		health.SetLastTickTime(time.Now())
		running := 0
		for _, s := range reg.List() {
			if s.Running {
				running++
			}
		}
		health.SetRunningStrategies(running)
		prom.OpenPositions.Set(float64(len(positions.All())))
	}, cfg.TickInterval)

	for _, st := range registry.Defaults(primary.ID) {
		reg.Register(st)
	}

	var history pipeline.DecisionSink
	if redisStore != nil {
		history = redisStore
	}
	pl = pipeline.New(pipeline.Config{
		Capital:   capLedger,
		Positions: positions,
		Signals:   signalReg,
		Oracle:    oracleClient,
		Executor:  execGw,
		History:   history,
		Watchlist: cfg.ParseWatchlist(),
		OnTrade:   reg.RecordTrade,
	})
	pl.OnDecision = func(d model.Decision) {
		prom.DecisionsTotal.WithLabelValues(string(d.Action)).Inc()
	}
	pl.OnResult = func(res execution.Result) {
		switch res.Outcome {
		case execution.OutcomeExecuted:
			prom.OrdersPlaced.Inc()
		case execution.OutcomeRejected:
			prom.OrdersRejected.Inc()
		}
	}

	// ---- Engine ----
	eng := engine.New(engine.Config{
		Capital:      capLedger,
		Positions:    positions,
		Registry:     reg,
		Executor:     execGw,
		Oracle:       oracleClient,
		Snapshots:    sqlStore,
		Bus:          bus,
		SyncInterval: cfg.SyncInterval,
	})

	// Pull venue state before restoring so entry checks see fresh equity.
	eng.SyncAccounts(ctx)
	if err := eng.RestoreSavedState(ctx); err != nil {
		log.Printf("[botserver] WARNING: restore failed: %v", err)
	}
	go eng.RunAccountSync(ctx)

	// ---- HTTP API ----
	var decisions api.DecisionStore
	if redisStore != nil {
		decisions = redisStore
	}
	apiSrv := api.NewServer(eng, decisions, sqlStore, signalReg, stream)
	apiSrv.OnShutdown = func() { sigCh <- syscall.SIGTERM }
	httpSrv := &http.Server{
		Addr:    cfg.APIAddr,
		Handler: apiSrv.Router(),
	}
	go func() {
		log.Printf("[botserver] API listening on %s", cfg.APIAddr)
		if err := httpSrv.ListenAndServe(); err != http.ErrServerClosed {
			log.Printf("[botserver] API server error: %v", err)
		}
	}()

	log.Printf("[botserver] ready: watchlist=%v tick=%v sync=%v oracle=%s",
		cfg.ParseWatchlist(), cfg.TickInterval, cfg.SyncInterval, cfg.OracleEndpoint)

	// ---- Wait for shutdown signal ----
	<-sigCh
	log.Println("[botserver] shutdown signal received...")

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := eng.GracefulShutdown(shutdownCtx); err != nil {
		log.Printf("[botserver] graceful shutdown: %v", err)
	}

	cancel()
	httpSrv.Shutdown(shutdownCtx)
	metricsSrv.Stop(shutdownCtx)

	log.Println("[botserver] shutdown complete.")
}

// meteredOracle wraps the oracle client with latency and fail-safe
// counters.
type meteredOracle struct {
	inner *oracle.Client
	prom  *metrics.Metrics
}

func (m *meteredOracle) Decide(ctx context.Context, req model.DecisionRequest) model.Decision {
	start := time.Now()
	d := m.inner.Decide(ctx, req)
	m.prom.OracleLatency.Observe(time.Since(start).Seconds())
	if d.FailSafe {
		m.prom.OracleHolds.Inc()
	}
	return d
}
