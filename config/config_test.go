package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()

	if cfg.AlpacaAPIKey != "your-api-key" {
		t.Errorf("AlpacaAPIKey = %q, want placeholder", cfg.AlpacaAPIKey)
	}
	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want 30s", cfg.TickInterval)
	}
	if cfg.SyncInterval != 60*time.Second {
		t.Errorf("SyncInterval = %v, want 60s", cfg.SyncInterval)
	}
	if cfg.OracleTimeout != 25*time.Second {
		t.Errorf("OracleTimeout = %v, want 25s", cfg.OracleTimeout)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "5s")
	t.Setenv("PAPER_EQUITY", "50000")
	t.Setenv("WATCHLIST", "aapl, msft ,")

	cfg := Load()

	if cfg.TickInterval != 5*time.Second {
		t.Errorf("TickInterval = %v, want 5s", cfg.TickInterval)
	}
	if cfg.PaperEquity != 50000 {
		t.Errorf("PaperEquity = %v, want 50000", cfg.PaperEquity)
	}
	symbols := cfg.ParseWatchlist()
	if len(symbols) != 2 || symbols[0] != "AAPL" || symbols[1] != "MSFT" {
		t.Errorf("watchlist = %v, want [AAPL MSFT]", symbols)
	}
}

func TestInvalidValuesFallBack(t *testing.T) {
	t.Setenv("TICK_INTERVAL", "not-a-duration")
	t.Setenv("PAPER_EQUITY", "lots")

	cfg := Load()

	if cfg.TickInterval != 30*time.Second {
		t.Errorf("TickInterval = %v, want default 30s", cfg.TickInterval)
	}
	if cfg.PaperEquity != 100000 {
		t.Errorf("PaperEquity = %v, want default 100000", cfg.PaperEquity)
	}
}
