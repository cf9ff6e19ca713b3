package model

// PlaceholderAPIKey is the value shipped in default configs before the
// operator enters real credentials. Accounts carrying it are skipped by the
// sync and decision loops rather than treated as errors.
const PlaceholderAPIKey = "your-api-key"

// TradeMode selects the venue environment.
type TradeMode string

const (
	ModePaper TradeMode = "paper"
	ModeLive  TradeMode = "live"
)

// Credentials holds opaque venue credentials. TOTPSecret is only used by
// venues that require a time-based one-time password at login.
type Credentials struct {
	APIKey     string `json:"api_key"`
	APISecret  string `json:"api_secret"`
	ClientCode string `json:"client_code,omitempty"`
	TOTPSecret string `json:"totp_secret,omitempty"`
}

// Configured reports whether real credentials are present.
func (c Credentials) Configured() bool {
	return c.APIKey != "" && c.APIKey != PlaceholderAPIKey && c.APISecret != ""
}

// Account is a brokerage account: the unit of capital bookkeeping and of
// connection/auth state. Equity and buying power are refreshed by the
// periodic sync; locked/reserve capital are operator-controlled.
type Account struct {
	ID                   string      `json:"id"`
	Name                 string      `json:"name"`
	Venue                string      `json:"venue"` // alpaca, smartapi, paper
	Mode                 TradeMode   `json:"mode"`
	Connected            bool        `json:"connected"`
	Equity               float64     `json:"equity"`
	BuyingPower          float64     `json:"buying_power"`
	Cash                 float64     `json:"cash"`
	LockedTradingCapital float64     `json:"locked_trading_capital"`
	ReserveCapital       float64     `json:"reserve_capital"`
	TradingBlocked       bool        `json:"trading_blocked"`
	Credentials          Credentials `json:"-"`
}

// AccountState is the venue's view of an account, as returned by a
// brokerage gateway.
type AccountState struct {
	Equity         float64 `json:"equity"`
	BuyingPower    float64 `json:"buying_power"`
	Cash           float64 `json:"cash"`
	Status         string  `json:"status"`
	TradingBlocked bool    `json:"trading_blocked"`
}
