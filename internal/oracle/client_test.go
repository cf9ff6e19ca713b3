package oracle

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"trading-botv1/internal/model"
)

func TestParse(t *testing.T) {
	cases := []struct {
		name       string
		body       string
		wantAction model.DecisionAction
		wantQty    int64
		failSafe   bool
	}{
		{
			name:       "clean buy",
			body:       `{"action":"buy","quantity":10,"reasoning":"momentum","confidence":82,"signals_used":["rsi"]}`,
			wantAction: model.ActionBuy,
			wantQty:    10,
		},
		{
			name:       "json embedded in prose",
			body:       "Here is my decision:\n```json\n{\"action\":\"sell\",\"quantity\":5,\"confidence\":70}\n```\nGood luck!",
			wantAction: model.ActionSell,
			wantQty:    5,
		},
		{
			name:       "hold normalizes quantity to zero",
			body:       `{"action":"hold","quantity":99,"confidence":55}`,
			wantAction: model.ActionHold,
			wantQty:    0,
		},
		{
			name:       "uppercase action accepted",
			body:       `{"action":"BUY","quantity":3,"confidence":75}`,
			wantAction: model.ActionBuy,
			wantQty:    3,
		},
		{
			name:     "unknown action",
			body:     `{"action":"short","quantity":10,"confidence":90}`,
			failSafe: true,
		},
		{
			name:     "negative quantity",
			body:     `{"action":"buy","quantity":-5,"confidence":90}`,
			failSafe: true,
		},
		{
			name:     "missing action",
			body:     `{"quantity":10,"confidence":90}`,
			failSafe: true,
		},
		{
			name:     "no json at all",
			body:     "I cannot decide right now.",
			failSafe: true,
		},
		{
			name:     "truncated json",
			body:     `{"action":"buy","quantity":1`,
			failSafe: true,
		},
		{
			name:       "nested object inside reasoning",
			body:       `{"action":"buy","quantity":2,"reasoning":"saw {spike} in volume","confidence":71,"signals_used":[]}`,
			wantAction: model.ActionBuy,
			wantQty:    2,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := Parse([]byte(tc.body), "AAPL", "high-vol-1")
			if tc.failSafe {
				if d.Action != model.ActionHold || d.Qty != 0 || d.Confidence != 0 {
					t.Fatalf("expected fail-safe hold, got %+v", d)
				}
				return
			}
			if d.Action != tc.wantAction || d.Qty != tc.wantQty {
				t.Fatalf("got action=%s qty=%d, want action=%s qty=%d", d.Action, d.Qty, tc.wantAction, tc.wantQty)
			}
			if d.Symbol != "AAPL" || d.StrategyID != "high-vol-1" {
				t.Errorf("decision not tagged with request context: %+v", d)
			}
		})
	}
}

func TestExtractJSON(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{`{"a":1}`, `{"a":1}`},
		{`prefix {"a":{"b":2}} suffix`, `{"a":{"b":2}}`},
		{`{"s":"brace } in string","n":1}`, `{"s":"brace } in string","n":1}`},
		{`{"s":"escaped \" quote }","n":1}`, `{"s":"escaped \" quote }","n":1}`},
		{`no object here`, ""},
		{`{"unclosed":`, ""},
	}
	for _, tc := range cases {
		if got := extractJSON(tc.in); got != tc.want {
			t.Errorf("extractJSON(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestClientDecide(t *testing.T) {
	var gotReq model.DecisionRequest
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := json.NewDecoder(r.Body).Decode(&gotReq); err != nil {
			t.Errorf("bad request body: %v", err)
		}
		w.Write([]byte(`{"action":"buy","quantity":4,"reasoning":"ok","confidence":80}`))
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	req := model.DecisionRequest{
		StrategyID:     "high-vol-1",
		StrategyName:   "High Volatility 1",
		Symbol:         "TSLA",
		CurrentPrice:   240.5,
		AccountBalance: 45000,
	}
	d := c.Decide(context.Background(), req)
	if d.Action != model.ActionBuy || d.Qty != 4 {
		t.Fatalf("unexpected decision: %+v", d)
	}
	if gotReq.Symbol != "TSLA" || gotReq.StrategyID != "high-vol-1" {
		t.Errorf("request not forwarded: %+v", gotReq)
	}
}

func TestClientDecide_ServerErrorIsHold(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "overloaded", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	c := NewClient(srv.URL, 5*time.Second)
	d := c.Decide(context.Background(), model.DecisionRequest{StrategyID: "s", Symbol: "AAPL"})
	if d.Action != model.ActionHold || d.Qty != 0 {
		t.Fatalf("expected hold on server error, got %+v", d)
	}
}

func TestClientDecide_UnreachableIsHold(t *testing.T) {
	c := NewClient("http://127.0.0.1:1", 500*time.Millisecond)
	d := c.Decide(context.Background(), model.DecisionRequest{StrategyID: "s", Symbol: "AAPL"})
	if d.Action != model.ActionHold {
		t.Fatalf("expected hold when oracle unreachable, got %+v", d)
	}
}
