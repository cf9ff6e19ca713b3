package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"time"

	"trading-botv1/internal/model"
)

const (
	alpacaPaperURL = "https://paper-api.alpaca.markets"
	alpacaLiveURL  = "https://api.alpaca.markets"
	alpacaDataURL  = "https://data.alpaca.markets"

	alpacaTimeout = 7 * time.Second
)

// Alpaca is a Gateway over the Alpaca v2 REST API.
type Alpaca struct {
	baseURL string
	dataURL string
	creds   model.Credentials
	client  *http.Client
}

// NewAlpaca creates an Alpaca gateway for the given credentials and mode.
func NewAlpaca(creds model.Credentials, mode model.TradeMode) *Alpaca {
	base := alpacaPaperURL
	if mode == model.ModeLive {
		base = alpacaLiveURL
	}
	return &Alpaca{
		baseURL: base,
		dataURL: alpacaDataURL,
		creds:   creds,
		client:  &http.Client{Timeout: alpacaTimeout},
	}
}

// request performs an authenticated call and decodes the JSON body into out
// (out may be nil for calls whose body is irrelevant).
func (a *Alpaca) request(ctx context.Context, method, url string, body, out any) error {
	var rdr io.Reader
	if body != nil {
		buf, err := json.Marshal(body)
		if err != nil {
			return &GatewayError{Message: "marshal request: " + err.Error()}
		}
		rdr = bytes.NewReader(buf)
	}

	req, err := http.NewRequestWithContext(ctx, method, url, rdr)
	if err != nil {
		return &GatewayError{Message: "build request: " + err.Error()}
	}
	req.Header.Set("APCA-API-KEY-ID", a.creds.APIKey)
	req.Header.Set("APCA-API-SECRET-KEY", a.creds.APISecret)
	req.Header.Set("Content-Type", "application/json")

	resp, err := a.client.Do(req)
	if err != nil {
		return &GatewayError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		return &GatewayError{StatusCode: resp.StatusCode, Message: string(raw)}
	}
	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return &GatewayError{Message: "decode response: " + err.Error()}
	}
	return nil
}

// alpacaAccount mirrors the /v2/account payload; numeric fields arrive as
// strings on the wire.
type alpacaAccount struct {
	Status         string `json:"status"`
	Equity         string `json:"equity"`
	PortfolioValue string `json:"portfolio_value"`
	BuyingPower    string `json:"buying_power"`
	Cash           string `json:"cash"`
	TradingBlocked bool   `json:"trading_blocked"`
}

func (a *Alpaca) GetAccount(ctx context.Context) (model.AccountState, error) {
	var acct alpacaAccount
	if err := a.request(ctx, http.MethodGet, a.baseURL+"/v2/account", nil, &acct); err != nil {
		return model.AccountState{}, err
	}
	equity := parseFloat(acct.Equity)
	if equity == 0 {
		equity = parseFloat(acct.PortfolioValue)
	}
	return model.AccountState{
		Equity:         equity,
		BuyingPower:    parseFloat(acct.BuyingPower),
		Cash:           parseFloat(acct.Cash),
		Status:         acct.Status,
		TradingBlocked: acct.TradingBlocked,
	}, nil
}

type alpacaPosition struct {
	Symbol        string `json:"symbol"`
	Qty           string `json:"qty"`
	AvgEntryPrice string `json:"avg_entry_price"`
	CurrentPrice  string `json:"current_price"`
	UnrealizedPL  string `json:"unrealized_pl"`
}

func (a *Alpaca) GetPositions(ctx context.Context) ([]model.Position, error) {
	var raw []alpacaPosition
	if err := a.request(ctx, http.MethodGet, a.baseURL+"/v2/positions", nil, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, model.Position{
			Symbol:       p.Symbol,
			Qty:          int64(parseFloat(p.Qty)),
			EntryPrice:   parseFloat(p.AvgEntryPrice),
			CurrentPrice: parseFloat(p.CurrentPrice),
			UnrealizedPL: parseFloat(p.UnrealizedPL),
		})
	}
	return out, nil
}

type alpacaQuote struct {
	Quote struct {
		AskPrice float64 `json:"ap"`
		BidPrice float64 `json:"bp"`
	} `json:"quote"`
}

// GetMarketPrice returns the bid/ask midpoint from the latest IEX quote.
func (a *Alpaca) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	var q alpacaQuote
	url := fmt.Sprintf("%s/v2/stocks/%s/quotes/latest?feed=iex", a.dataURL, symbol)
	if err := a.request(ctx, http.MethodGet, url, nil, &q); err != nil {
		return 0, err
	}
	mid := (q.Quote.AskPrice + q.Quote.BidPrice) / 2
	if mid <= 0 {
		return 0, &GatewayError{Message: "no quote data for " + symbol}
	}
	return mid, nil
}

type alpacaOrderReq struct {
	Symbol      string `json:"symbol"`
	Qty         string `json:"qty"`
	Side        string `json:"side"`
	Type        string `json:"type"`
	TimeInForce string `json:"time_in_force"`
	LimitPrice  string `json:"limit_price,omitempty"`
}

type alpacaOrderResp struct {
	ID             string `json:"id"`
	Status         string `json:"status"`
	Symbol         string `json:"symbol"`
	Qty            string `json:"qty"`
	Side           string `json:"side"`
	FilledQty      string `json:"filled_qty"`
	FilledAvgPrice string `json:"filled_avg_price"`
}

func (a *Alpaca) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	req := alpacaOrderReq{
		Symbol:      order.Symbol,
		Qty:         strconv.FormatInt(order.Qty, 10),
		Side:        string(order.Side),
		Type:        order.Type,
		TimeInForce: order.TimeInForce,
	}
	if order.LimitPrice > 0 {
		req.LimitPrice = strconv.FormatFloat(order.LimitPrice, 'f', 2, 64)
	}

	var resp alpacaOrderResp
	if err := a.request(ctx, http.MethodPost, a.baseURL+"/v2/orders", req, &resp); err != nil {
		return model.OrderResult{}, err
	}
	return model.OrderResult{
		ID:           resp.ID,
		Status:       resp.Status,
		Symbol:       resp.Symbol,
		Qty:          int64(parseFloat(resp.Qty)),
		Side:         resp.Side,
		FilledQty:    int64(parseFloat(resp.FilledQty)),
		AvgFillPrice: parseFloat(resp.FilledAvgPrice),
	}, nil
}

func (a *Alpaca) CancelOrder(ctx context.Context, orderID string) error {
	return a.request(ctx, http.MethodDelete, a.baseURL+"/v2/orders/"+orderID, nil, nil)
}

func (a *Alpaca) CancelAllOrders(ctx context.Context) error {
	return a.request(ctx, http.MethodDelete, a.baseURL+"/v2/orders", nil, nil)
}

func (a *Alpaca) ClosePosition(ctx context.Context, symbol string) error {
	return a.request(ctx, http.MethodDelete, a.baseURL+"/v2/positions/"+symbol, nil, nil)
}

func (a *Alpaca) CloseAllPositions(ctx context.Context) error {
	return a.request(ctx, http.MethodDelete, a.baseURL+"/v2/positions", nil, nil)
}

type alpacaClock struct {
	IsOpen    bool   `json:"is_open"`
	NextOpen  string `json:"next_open"`
	NextClose string `json:"next_close"`
}

// IsMarketOpen consults the venue clock rather than a local calendar.
func (a *Alpaca) IsMarketOpen(ctx context.Context) (bool, error) {
	var clock alpacaClock
	if err := a.request(ctx, http.MethodGet, a.baseURL+"/v2/clock", nil, &clock); err != nil {
		return false, err
	}
	return clock.IsOpen, nil
}

func parseFloat(s string) float64 {
	if s == "" {
		return 0
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return 0
	}
	return f
}
