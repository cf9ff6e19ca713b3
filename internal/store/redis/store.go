// Package redis provides the hot-path store: per-strategy decision
// history (bounded lists) and a short-TTL cache for external signal
// readings. All calls go through a circuit breaker so a dead Redis
// degrades the engine instead of stalling it.
package redis

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"time"

	goredis "github.com/go-redis/redis/v8"

	"trading-botv1/internal/model"
)

const (
	// Keep the last N decisions per strategy.
	decisionHistoryMax = 100

	signalCacheTTL = 60 * time.Second
)

// StoreConfig configures the Redis store.
type StoreConfig struct {
	Addr     string // Redis address, e.g. "localhost:6379"
	Password string
	DB       int
}

// Store writes decision history and signal cache entries to Redis.
type Store struct {
	client  *goredis.Client
	breaker *CircuitBreaker
}

// Client returns the underlying Redis client for health checks.
func (s *Store) Client() *goredis.Client { return s.client }

// Breaker exposes the circuit breaker for metrics.
func (s *Store) Breaker() *CircuitBreaker { return s.breaker }

// New creates a Redis Store and pings the server.
func New(cfg StoreConfig) (*Store, error) {
	client := goredis.NewClient(&goredis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("redis ping: %w", err)
	}

	log.Printf("[redis] connected to %s", cfg.Addr)
	breaker := NewCircuitBreaker(5, 10*time.Second)
	breaker.OnStateChange = func(from, to State) {
		log.Printf("[redis] circuit breaker %s -> %s", from, to)
	}
	return &Store{client: client, breaker: breaker}, nil
}

func decisionKey(strategyID string) string {
	return "decisions:" + strategyID
}

// AppendDecision pushes a decision onto the strategy's history list and
// trims it to the last decisionHistoryMax entries.
func (s *Store) AppendDecision(ctx context.Context, d model.Decision) error {
	data, err := json.Marshal(d)
	if err != nil {
		return fmt.Errorf("marshal decision: %w", err)
	}
	key := decisionKey(d.StrategyID)
	return s.breaker.Execute(func() error {
		pipe := s.client.Pipeline()
		pipe.LPush(ctx, key, data)
		pipe.LTrim(ctx, key, 0, decisionHistoryMax-1)
		_, err := pipe.Exec(ctx)
		if err != nil {
			return fmt.Errorf("redis decision append %s: %w", key, err)
		}
		return nil
	})
}

// DecisionHistory returns up to limit most-recent decisions for a
// strategy, newest first. limit <= 0 means the full retained window.
func (s *Store) DecisionHistory(ctx context.Context, strategyID string, limit int) ([]model.Decision, error) {
	if limit <= 0 || limit > decisionHistoryMax {
		limit = decisionHistoryMax
	}
	var raw []string
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.client.LRange(ctx, decisionKey(strategyID), 0, int64(limit-1)).Result()
		if err != nil && err != goredis.Nil {
			return fmt.Errorf("redis decision history %s: %w", strategyID, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	out := make([]model.Decision, 0, len(raw))
	for _, item := range raw {
		var d model.Decision
		if err := json.Unmarshal([]byte(item), &d); err != nil {
			log.Printf("[redis] skipping corrupt decision entry for %s: %v", strategyID, err)
			continue
		}
		out = append(out, d)
	}
	return out, nil
}

func signalKey(source, symbol string) string {
	return "signal:" + source + ":" + symbol
}

// CacheSignal stores a signal reading with a short TTL. Stale readings
// expire on their own; the pipeline treats a cache miss as "no signal".
func (s *Store) CacheSignal(ctx context.Context, sig model.Signal) error {
	data, err := json.Marshal(sig)
	if err != nil {
		return fmt.Errorf("marshal signal: %w", err)
	}
	return s.breaker.Execute(func() error {
		if err := s.client.Set(ctx, signalKey(sig.Source, sig.Symbol), data, signalCacheTTL).Err(); err != nil {
			return fmt.Errorf("redis signal cache %s/%s: %w", sig.Source, sig.Symbol, err)
		}
		return nil
	})
}

// CachedSignal returns the cached reading for a source/symbol pair, or
// (nil, nil) on a miss.
func (s *Store) CachedSignal(ctx context.Context, source, symbol string) (*model.Signal, error) {
	var raw string
	err := s.breaker.Execute(func() error {
		var err error
		raw, err = s.client.Get(ctx, signalKey(source, symbol)).Result()
		if err == goredis.Nil {
			raw = ""
			return nil
		}
		if err != nil {
			return fmt.Errorf("redis signal get %s/%s: %w", source, symbol, err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	if raw == "" {
		return nil, nil
	}
	var sig model.Signal
	if err := json.Unmarshal([]byte(raw), &sig); err != nil {
		return nil, fmt.Errorf("unmarshal cached signal: %w", err)
	}
	return &sig, nil
}

// ClearDecisions drops a strategy's history list. Used when a strategy
// is reset from the dashboard.
func (s *Store) ClearDecisions(ctx context.Context, strategyID string) error {
	return s.breaker.Execute(func() error {
		return s.client.Del(ctx, decisionKey(strategyID)).Err()
	})
}

// Close closes the Redis client.
func (s *Store) Close() error {
	return s.client.Close()
}
