package broker

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/pquerna/otp/totp"

	"trading-botv1/internal/model"
)

const (
	smartAPIRoot    = "https://apiconnect.angelone.in"
	smartAPITimeout = 7 * time.Second
)

var smartAPIRoutes = map[string]string{
	"login":        "/rest/auth/angelbroking/user/v1/loginByPassword",
	"rms.limit":    "/rest/secure/angelbroking/user/v1/getRMS",
	"position":     "/rest/secure/angelbroking/order/v1/getPosition",
	"ltp.data":     "/rest/secure/angelbroking/order/v1/getLtpData",
	"order.place":  "/rest/secure/angelbroking/order/v1/placeOrder",
	"order.cancel": "/rest/secure/angelbroking/order/v1/cancelOrder",
	"order.book":   "/rest/secure/angelbroking/order/v1/getOrderBook",
}

// SmartAPI is a Gateway over an Angel One SmartAPI-style venue. Login
// requires a TOTP generated from the account's shared secret; the session
// token is cached and regenerated lazily on expiry.
type SmartAPI struct {
	root   string
	creds  model.Credentials
	client *http.Client

	mu          sync.Mutex
	accessToken string
}

// NewSmartAPI creates a SmartAPI gateway for the given credentials.
func NewSmartAPI(creds model.Credentials) *SmartAPI {
	return &SmartAPI{
		root:   smartAPIRoot,
		creds:  creds,
		client: &http.Client{Timeout: smartAPITimeout},
	}
}

type smartAPIEnvelope struct {
	Status  bool            `json:"status"`
	Message string          `json:"message"`
	Errcode string          `json:"errorcode"`
	Data    json.RawMessage `json:"data"`
}

// ensureSession logs in (once) using password + freshly generated TOTP.
func (s *SmartAPI) ensureSession(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.accessToken != "" {
		return nil
	}

	code, err := totp.GenerateCode(s.creds.TOTPSecret, time.Now())
	if err != nil {
		return &GatewayError{StatusCode: 401, Message: "totp generation failed: " + err.Error()}
	}

	payload := map[string]string{
		"clientcode": s.creds.ClientCode,
		"password":   s.creds.APISecret,
		"totp":       code,
	}
	var data struct {
		JWTToken string `json:"jwtToken"`
	}
	if err := s.post(ctx, smartAPIRoutes["login"], "", payload, &data); err != nil {
		return err
	}
	if data.JWTToken == "" {
		return &GatewayError{StatusCode: 401, Message: "login succeeded but no session token returned"}
	}
	s.accessToken = data.JWTToken
	return nil
}

// resetSession drops the cached token so the next call logs in again.
func (s *SmartAPI) resetSession() {
	s.mu.Lock()
	s.accessToken = ""
	s.mu.Unlock()
}

func (s *SmartAPI) token() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.accessToken
}

func (s *SmartAPI) post(ctx context.Context, route, token string, body, out any) error {
	buf, err := json.Marshal(body)
	if err != nil {
		return &GatewayError{Message: "marshal request: " + err.Error()}
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.root+route, bytes.NewReader(buf))
	if err != nil {
		return &GatewayError{Message: "build request: " + err.Error()}
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("X-PrivateKey", s.creds.APIKey)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return &GatewayError{Message: err.Error()}
	}
	defer resp.Body.Close()

	raw, _ := io.ReadAll(resp.Body)
	if resp.StatusCode >= 400 {
		if resp.StatusCode == 401 || resp.StatusCode == 403 {
			s.resetSession()
		}
		return &GatewayError{StatusCode: resp.StatusCode, Message: string(raw)}
	}

	var env smartAPIEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return &GatewayError{Message: "decode response: " + err.Error()}
	}
	if !env.Status {
		// the venue reports auth problems in-band with a 200
		if env.Errcode == "AG8001" || env.Errcode == "AG8002" {
			s.resetSession()
			return &GatewayError{StatusCode: 401, Message: env.Message}
		}
		return &GatewayError{Message: env.Message}
	}
	if out != nil && len(env.Data) > 0 {
		if err := json.Unmarshal(env.Data, out); err != nil {
			return &GatewayError{Message: "decode data: " + err.Error()}
		}
	}
	return nil
}

func (s *SmartAPI) secured(ctx context.Context, route string, body, out any) error {
	if err := s.ensureSession(ctx); err != nil {
		return err
	}
	return s.post(ctx, route, s.token(), body, out)
}

func (s *SmartAPI) GetAccount(ctx context.Context) (model.AccountState, error) {
	var rms struct {
		Net            string `json:"net"`
		AvailableCash  string `json:"availablecash"`
		UtilisedMargin string `json:"utiliseddebits"`
	}
	if err := s.secured(ctx, smartAPIRoutes["rms.limit"], map[string]string{}, &rms); err != nil {
		return model.AccountState{}, err
	}
	equity := parseFloat(rms.Net)
	cash := parseFloat(rms.AvailableCash)
	return model.AccountState{
		Equity:      equity,
		BuyingPower: cash,
		Cash:        cash,
		Status:      "ACTIVE",
	}, nil
}

type smartAPIPosition struct {
	TradingSymbol string `json:"tradingsymbol"`
	NetQty        string `json:"netqty"`
	AvgNetPrice   string `json:"avgnetprice"`
	LTP           string `json:"ltp"`
	UnrealisedPL  string `json:"unrealised"`
}

func (s *SmartAPI) GetPositions(ctx context.Context) ([]model.Position, error) {
	var raw []smartAPIPosition
	if err := s.secured(ctx, smartAPIRoutes["position"], map[string]string{}, &raw); err != nil {
		return nil, err
	}
	out := make([]model.Position, 0, len(raw))
	for _, p := range raw {
		out = append(out, model.Position{
			Symbol:       p.TradingSymbol,
			Qty:          int64(parseFloat(p.NetQty)),
			EntryPrice:   parseFloat(p.AvgNetPrice),
			CurrentPrice: parseFloat(p.LTP),
			UnrealizedPL: parseFloat(p.UnrealisedPL),
		})
	}
	return out, nil
}

func (s *SmartAPI) GetMarketPrice(ctx context.Context, symbol string) (float64, error) {
	var data struct {
		LTP float64 `json:"ltp"`
	}
	payload := map[string]string{"tradingsymbol": symbol}
	if err := s.secured(ctx, smartAPIRoutes["ltp.data"], payload, &data); err != nil {
		return 0, err
	}
	if data.LTP <= 0 {
		return 0, &GatewayError{Message: "no price data for " + symbol}
	}
	return data.LTP, nil
}

func (s *SmartAPI) PlaceOrder(ctx context.Context, order model.Order) (model.OrderResult, error) {
	side := "BUY"
	if order.Side == model.SideSell {
		side = "SELL"
	}
	payload := map[string]any{
		"variety":         "NORMAL",
		"tradingsymbol":   order.Symbol,
		"transactiontype": side,
		"ordertype":       "MARKET",
		"producttype":     "INTRADAY",
		"duration":        "DAY",
		"quantity":        order.Qty,
	}
	var data struct {
		OrderID string `json:"orderid"`
	}
	if err := s.secured(ctx, smartAPIRoutes["order.place"], payload, &data); err != nil {
		return model.OrderResult{}, err
	}
	return model.OrderResult{
		ID:     data.OrderID,
		Status: "PLACED",
		Symbol: order.Symbol,
		Qty:    order.Qty,
		Side:   string(order.Side),
	}, nil
}

func (s *SmartAPI) CancelOrder(ctx context.Context, orderID string) error {
	payload := map[string]string{"variety": "NORMAL", "orderid": orderID}
	return s.secured(ctx, smartAPIRoutes["order.cancel"], payload, nil)
}

// CancelAllOrders walks the order book cancelling every open order; the
// venue has no bulk-cancel endpoint.
func (s *SmartAPI) CancelAllOrders(ctx context.Context) error {
	var book []struct {
		OrderID string `json:"orderid"`
		Status  string `json:"status"`
	}
	if err := s.secured(ctx, smartAPIRoutes["order.book"], map[string]string{}, &book); err != nil {
		return err
	}
	var firstErr error
	for _, o := range book {
		if o.Status != "open" && o.Status != "pending" {
			continue
		}
		if err := s.CancelOrder(ctx, o.OrderID); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// ClosePosition flattens the net quantity of one symbol with a market order.
func (s *SmartAPI) ClosePosition(ctx context.Context, symbol string) error {
	positions, err := s.GetPositions(ctx)
	if err != nil {
		return err
	}
	for _, p := range positions {
		if p.Symbol != symbol || p.Qty == 0 {
			continue
		}
		side := model.SideSell
		qty := p.Qty
		if qty < 0 {
			side = model.SideBuy
			qty = -qty
		}
		_, err := s.PlaceOrder(ctx, model.MarketOrder(symbol, qty, side))
		return err
	}
	return fmt.Errorf("close %s: %w", symbol, &GatewayError{StatusCode: 404, Message: "no open position"})
}

func (s *SmartAPI) CloseAllPositions(ctx context.Context) error {
	positions, err := s.GetPositions(ctx)
	if err != nil {
		return err
	}
	var firstErr error
	for _, p := range positions {
		if p.Qty == 0 {
			continue
		}
		if err := s.ClosePosition(ctx, p.Symbol); err != nil && firstErr == nil {
			firstErr = err
		}
	}
	return firstErr
}

// NSE regular session, IST. The venue exposes no clock endpoint, so the
// session is computed locally; exchange holidays are not tracked here and
// order placement on a holiday fails at the venue instead.
var istZone = func() *time.Location {
	loc, err := time.LoadLocation("Asia/Kolkata")
	if err != nil {
		return time.FixedZone("IST", 5*3600+1800)
	}
	return loc
}()

func (s *SmartAPI) IsMarketOpen(_ context.Context) (bool, error) {
	now := time.Now().In(istZone)
	wd := now.Weekday()
	if wd == time.Saturday || wd == time.Sunday {
		return false, nil
	}
	hm := now.Hour()*60 + now.Minute()
	return hm >= 9*60+15 && hm < 15*60+30, nil
}
