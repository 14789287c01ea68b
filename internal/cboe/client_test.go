package cboe

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"

	"github.com/navid-fn/optionsradar/internal/faulttolerance"
	"github.com/navid-fn/optionsradar/internal/logger"
)

const sampleChain = `{
	"timestamp": "2025-07-01 20:16:40",
	"symbol": "BXMT",
	"data": {
		"options": [
			{"option": "BXMT250815C00011000", "bid": 0.42, "ask": 0.55},
			{"option": "BXMT250815P00011000", "bid": 0.10, "ask": 0.20},
			{"option": "BXMT250919C00012000", "bid": 0, "ask": 0.05}
		]
	}
}`

func testClient(url string) *Client {
	return NewClient(Config{
		BaseURL:           url,
		Timeout:           2 * time.Second,
		RequestsPerSecond: 1000,
		Burst:             10,
		MaxAttempts:       3,
		RetryBaseDelay:    time.Millisecond,
		BreakerFailures:   2,
		BreakerCooldown:   time.Hour,
	}, nil, logger.Discard())
}

func TestFetchSuccess(t *testing.T) {
	var gotPath, gotAgent string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotPath = r.URL.Path
		gotAgent = r.Header.Get("User-Agent")
		w.Write([]byte(sampleChain))
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	resp, err := c.Fetch(context.Background(), "bxmt")
	if err != nil {
		t.Fatalf("Expected success, got %v", err)
	}

	if gotPath != "/BXMT.json" {
		t.Errorf("Expected path /BXMT.json, got %s", gotPath)
	}
	if gotAgent != DefaultUserAgent {
		t.Errorf("Expected User-Agent %q, got %q", DefaultUserAgent, gotAgent)
	}
	if !c.Validate(resp) {
		t.Error("Expected payload to validate")
	}
	if ts, ok := c.Timestamp(resp); !ok || ts != "2025-07-01 20:16:40" {
		t.Errorf("Expected snapshot timestamp, got %q %v", ts, ok)
	}
	entries, _ := resp.Options()
	if len(entries) != 3 {
		t.Errorf("Expected 3 entries, got %d", len(entries))
	}
	dates := resp.ExpirationDates()
	if len(dates) != 2 || dates[0] != "250815" || dates[1] != "250919" {
		t.Errorf("Unexpected expirations %v", dates)
	}
}

func TestFetchErrors(t *testing.T) {
	tests := []struct {
		name    string
		status  int
		body    string
		check   func(error) bool
		maxHits int32
	}{
		{
			name:   "not found",
			status: http.StatusNotFound,
			check: func(err error) bool {
				var e *UpstreamStatusError
				return errors.As(err, &e) && e.Code == 404
			},
			maxHits: 1,
		},
		{
			name:   "null body",
			status: http.StatusOK,
			body:   "null",
			check: func(err error) bool {
				var e *DecodeError
				return errors.As(err, &e)
			},
			maxHits: 1,
		},
		{
			name:   "truncated body",
			status: http.StatusOK,
			body:   `{"data": {"options": [`,
			check: func(err error) bool {
				var e *DecodeError
				return errors.As(err, &e)
			},
			maxHits: 1,
		},
		{
			name:   "rate limited exhausts retries",
			status: http.StatusTooManyRequests,
			check: func(err error) bool {
				return errors.Is(err, ErrRateLimited)
			},
			maxHits: 3,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var hits atomic.Int32
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				hits.Add(1)
				w.WriteHeader(tt.status)
				w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := testClient(srv.URL).Fetch(context.Background(), "LMT")
			if !tt.check(err) {
				t.Errorf("Unexpected error %v", err)
			}
			if hits.Load() != tt.maxHits {
				t.Errorf("Expected %d requests, got %d", tt.maxHits, hits.Load())
			}
		})
	}
}

func TestFetchRetriesRateLimit(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if hits.Add(1) == 1 {
			w.WriteHeader(http.StatusTooManyRequests)
			return
		}
		w.Write([]byte(sampleChain))
	}))
	defer srv.Close()

	if _, err := testClient(srv.URL).Fetch(context.Background(), "BXMT"); err != nil {
		t.Fatalf("Expected retry to succeed, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected 2 requests, got %d", hits.Load())
	}
}

func TestFetchTransportError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := srv.URL
	srv.Close()

	_, err := testClient(url).Fetch(context.Background(), "LMT")
	var e *TransportError
	if !errors.As(err, &e) {
		t.Errorf("Expected TransportError, got %v", err)
	}
}

func TestFetchOpensCircuitOnServerErrors(t *testing.T) {
	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	for i := 0; i < 2; i++ {
		_, _ = c.Fetch(context.Background(), "LMT")
	}
	if c.BreakerState() != "OPEN" {
		t.Fatalf("Expected OPEN breaker, got %s", c.BreakerState())
	}

	_, err := c.Fetch(context.Background(), "LMT")
	var e *TransportError
	if !errors.As(err, &e) || !errors.Is(err, faulttolerance.ErrCircuitBreakerOpen) {
		t.Errorf("Expected TransportError wrapping open circuit, got %v", err)
	}
	if hits.Load() != 2 {
		t.Errorf("Expected breaker to stop requests at 2, got %d", hits.Load())
	}
}

func TestFetchRejectsInvalidSymbol(t *testing.T) {
	c := testClient("http://127.0.0.1:1")
	if _, err := c.Fetch(context.Background(), "BRK.B"); err == nil {
		t.Error("Expected invalid symbol error")
	}
}

func TestSymbolExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/LMT.json":
			w.Write([]byte(sampleChain))
		case "/EMPTY.json":
			w.Write([]byte(`{"data":{"options":[]}}`))
		default:
			w.WriteHeader(http.StatusForbidden)
		}
	}))
	defer srv.Close()

	c := testClient(srv.URL)
	tests := map[string]bool{"LMT": true, "EMPTY": false, "NOPE": false}
	for symbol, want := range tests {
		got, err := c.SymbolExists(context.Background(), symbol)
		if err != nil {
			t.Fatalf("%s: unexpected error %v", symbol, err)
		}
		if got != want {
			t.Errorf("%s: expected %v, got %v", symbol, want, got)
		}
	}

	if err := c.TestConnectivity(context.Background()); err != nil {
		t.Errorf("Expected connectivity check to pass, got %v", err)
	}
}

func TestValidate(t *testing.T) {
	ts := "t"
	tests := []struct {
		name  string
		resp  *ChainResponse
		valid bool
	}{
		{"nil", nil, false},
		{"no data", &ChainResponse{Timestamp: &ts}, false},
		{"null data", &ChainResponse{Data: json.RawMessage(`null`)}, false},
		{"data array", &ChainResponse{Data: json.RawMessage(`[]`)}, false},
		{"options object", &ChainResponse{Data: json.RawMessage(`{"options":{}}`)}, false},
		{"options missing", &ChainResponse{Data: json.RawMessage(`{"current_price":1}`)}, false},
		{"empty options", &ChainResponse{Data: json.RawMessage(`{"options":[]}`)}, true},
		{"options", &ChainResponse{Data: json.RawMessage(`{"options":[{"option":"X"}]}`)}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.resp.Validate(); got != tt.valid {
				t.Errorf("Expected %v, got %v", tt.valid, got)
			}
		})
	}
}
