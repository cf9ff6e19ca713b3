// Package oracle talks to the external decision service. Every strategy
// tick sends the full context (strategy, symbol, price, owned positions,
// available signals) and receives back a trade decision. The service is
// untrusted input: anything malformed degrades to a hold, never an error
// that could stall the tick loop.
package oracle

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"trading-botv1/internal/logger"
	"trading-botv1/internal/model"
)

const defaultTimeout = 25 * time.Second

// Client requests trade decisions over HTTP.
type Client struct {
	http     *resty.Client
	endpoint string
}

func NewClient(endpoint string, timeout time.Duration) *Client {
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	c := resty.New()
	c.SetTimeout(timeout)
	c.SetHeader("Content-Type", "application/json")
	return &Client{http: c, endpoint: endpoint}
}

// wire format of the decision service response. The body may arrive as
// bare JSON or embedded in prose, so decoding goes through extractJSON.
type decisionResp struct {
	Action      string   `json:"action"`
	Quantity    *int64   `json:"quantity"`
	Reasoning   string   `json:"reasoning"`
	Confidence  *float64 `json:"confidence"`
	SignalsUsed []string `json:"signals_used"`
}

// Decide requests a decision for the given context. It never returns an
// error for a malformed response body; those degrade to a fail-safe hold
// with the reason recorded in the reasoning field. Transport failures
// (timeout, connection refused) also degrade to a hold so a flaky oracle
// cannot break the tick loop.
func (c *Client) Decide(ctx context.Context, req model.DecisionRequest) model.Decision {
	r := c.http.R().
		SetContext(ctx).
		SetBody(req)
	if cid := logger.CycleID(ctx); cid != "" {
		r.SetHeader("X-Cycle-ID", cid)
	}
	resp, err := r.Post(c.endpoint)
	if err != nil {
		log.Printf("[oracle] request failed for %s/%s: %v", req.StrategyID, req.Symbol, err)
		return model.FailSafeHold(req.Symbol, req.StrategyID, fmt.Sprintf("oracle unreachable: %v", err))
	}
	if resp.StatusCode() >= 400 {
		log.Printf("[oracle] HTTP %d for %s/%s", resp.StatusCode(), req.StrategyID, req.Symbol)
		return model.FailSafeHold(req.Symbol, req.StrategyID, fmt.Sprintf("oracle returned HTTP %d", resp.StatusCode()))
	}
	return Parse(resp.Body(), req.Symbol, req.StrategyID)
}

// Parse decodes a decision body, degrading to a fail-safe hold when the
// payload is unusable. Exposed so tests and the simulator share the
// exact validation rules.
func Parse(body []byte, symbol, strategyID string) model.Decision {
	raw := extractJSON(string(body))
	if raw == "" {
		return model.FailSafeHold(symbol, strategyID, "oracle response contained no JSON object")
	}

	var dr decisionResp
	if err := json.Unmarshal([]byte(raw), &dr); err != nil {
		return model.FailSafeHold(symbol, strategyID, "oracle response malformed: "+err.Error())
	}

	action := model.DecisionAction(strings.ToLower(strings.TrimSpace(dr.Action)))
	switch action {
	case model.ActionBuy, model.ActionSell, model.ActionHold:
	default:
		return model.FailSafeHold(symbol, strategyID, fmt.Sprintf("oracle returned unknown action %q", dr.Action))
	}

	var qty int64
	if dr.Quantity != nil {
		qty = *dr.Quantity
	}
	if qty < 0 {
		return model.FailSafeHold(symbol, strategyID, fmt.Sprintf("oracle returned negative quantity %d", qty))
	}
	if action == model.ActionHold {
		qty = 0
	}

	var confidence float64
	if dr.Confidence != nil {
		confidence = *dr.Confidence
	}

	return model.Decision{
		Action:      action,
		Symbol:      symbol,
		Qty:         qty,
		Reasoning:   dr.Reasoning,
		Confidence:  confidence,
		SignalsUsed: dr.SignalsUsed,
		DecidedAt:   time.Now(),
		StrategyID:  strategyID,
	}
}

// extractJSON pulls the outermost {...} object out of a string. Decision
// services wrap their JSON in prose often enough that this is the normal
// path, not the exception.
func extractJSON(s string) string {
	start := strings.IndexByte(s, '{')
	if start < 0 {
		return ""
	}
	depth := 0
	inString := false
	escaped := false
	for i := start; i < len(s); i++ {
		ch := s[i]
		if escaped {
			escaped = false
			continue
		}
		switch ch {
		case '\\':
			if inString {
				escaped = true
			}
		case '"':
			inString = !inString
		case '{':
			if !inString {
				depth++
			}
		case '}':
			if !inString {
				depth--
				if depth == 0 {
					return s[start : i+1]
				}
			}
		}
	}
	return ""
}
