package config

import (
	"log"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration loaded from environment variables.
type Config struct {
	// Alpaca credentials (primary account). The placeholder default keeps
	// the account registered but unconfigured until real keys arrive.
	AlpacaAPIKey    string
	AlpacaAPISecret string
	AlpacaMode      string // paper | live

	// SmartAPI credentials (optional second account)
	SmartAPIKey        string
	SmartAPISecret     string
	SmartAPIClientCode string
	SmartAPITOTPSecret string

	// Paper trading account
	PaperEquity float64

	// Decision oracle
	OracleEndpoint string
	OracleTimeout  time.Duration

	// Strategy scheduling
	Watchlist    string // comma-separated symbols
	TickInterval time.Duration
	SyncInterval time.Duration

	// Infrastructure
	RedisAddr     string
	RedisPassword string
	SQLitePath    string
	APIAddr       string
	MetricsAddr   string

	// Notifications (optional)
	TelegramToken  string
	TelegramChatID string
	WebhookURL     string
}

// Load reads configuration from a .env file (if present) and environment
// variables with sensible defaults.
func Load() *Config {
	if err := godotenv.Load(); err == nil {
		log.Printf("[config] loaded .env")
	}

	return &Config{
		AlpacaAPIKey:    getEnv("ALPACA_API_KEY", "your-api-key"),
		AlpacaAPISecret: getEnv("ALPACA_API_SECRET", ""),
		AlpacaMode:      getEnv("ALPACA_MODE", "paper"),

		SmartAPIKey:        getEnv("SMARTAPI_KEY", ""),
		SmartAPISecret:     getEnv("SMARTAPI_SECRET", ""),
		SmartAPIClientCode: getEnv("SMARTAPI_CLIENT_CODE", ""),
		SmartAPITOTPSecret: getEnv("SMARTAPI_TOTP_SECRET", ""),

		PaperEquity: getEnvFloat("PAPER_EQUITY", 100000),

		OracleEndpoint: getEnv("ORACLE_ENDPOINT", "http://localhost:8090/decide"),
		OracleTimeout:  getEnvDuration("ORACLE_TIMEOUT", 25*time.Second),

		Watchlist:    getEnv("WATCHLIST", "AAPL,TSLA,NVDA,SPY"),
		TickInterval: getEnvDuration("TICK_INTERVAL", 30*time.Second),
		SyncInterval: getEnvDuration("SYNC_INTERVAL", 60*time.Second),

		RedisAddr:     getEnv("REDIS_ADDR", "localhost:6379"),
		RedisPassword: getEnv("REDIS_PASSWORD", ""),
		SQLitePath:    getEnv("SQLITE_PATH", "data/trading.db"),
		APIAddr:       getEnv("API_ADDR", ":8080"),
		MetricsAddr:   getEnv("METRICS_ADDR", ":9090"),

		TelegramToken:  getEnv("TELEGRAM_BOT_TOKEN", ""),
		TelegramChatID: getEnv("TELEGRAM_CHAT_ID", ""),
		WebhookURL:     getEnv("ALERT_WEBHOOK_URL", ""),
	}
}

// ParseWatchlist splits the watchlist into symbols, dropping empties.
func (c *Config) ParseWatchlist() []string {
	parts := strings.Split(c.Watchlist, ",")
	symbols := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(strings.ToUpper(p))
		if p == "" {
			continue
		}
		symbols = append(symbols, p)
	}
	return symbols
}

func getEnv(key, fallback string) string {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	return v
}

func getEnvFloat(key string, fallback float64) float64 {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		log.Printf("[config] invalid float for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return f
}

func getEnvDuration(key string, fallback time.Duration) time.Duration {
	v := os.Getenv(key)
	if v == "" {
		return fallback
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		log.Printf("[config] invalid duration for %s: %q, using %v", key, v, fallback)
		return fallback
	}
	return d
}
