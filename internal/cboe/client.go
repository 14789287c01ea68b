// Package cboe fetches delayed option chains from the CBOE CDN.
// The client is a pure I/O boundary: it throttles, retries rate-limited
// calls and classifies failures, but never interprets the chain.
package cboe

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
	"golang.org/x/time/rate"

	"github.com/navid-fn/optionsradar/internal/faulttolerance"
	"github.com/navid-fn/optionsradar/internal/options"
)

const (
	DefaultBaseURL   = "https://cdn.cboe.com/api/global/delayed_quotes/options/"
	RequestTimeout   = 30 * time.Second
	DefaultUserAgent = "optionsradar/1.0"

	// ConnectivitySymbol is fetched by TestConnectivity.
	ConnectivitySymbol = "LMT"

	maxBodyBytes = 64 << 20
)

// Config holds client settings. Zero values fall back to defaults.
type Config struct {
	BaseURL           string
	Timeout           time.Duration
	RequestsPerSecond float64
	Burst             int
	MaxAttempts       int
	RetryBaseDelay    time.Duration
	BreakerFailures   int
	BreakerCooldown   time.Duration
	UserAgent         string
}

// DefaultConfig returns settings suitable for the public CDN.
func DefaultConfig() Config {
	return Config{
		BaseURL:           DefaultBaseURL,
		Timeout:           RequestTimeout,
		RequestsPerSecond: 2,
		Burst:             1,
		MaxAttempts:       3,
		RetryBaseDelay:    5 * time.Second,
		BreakerFailures:   5,
		BreakerCooldown:   time.Minute,
		UserAgent:         DefaultUserAgent,
	}
}

// Client fetches option chains one symbol at a time.
type Client struct {
	cfg        Config
	httpClient *http.Client
	limiter    *rate.Limiter
	retryer    *faulttolerance.Retryer
	breaker    *faulttolerance.CircuitBreaker
	logger     *logrus.Logger
}

// NewClient builds a client. A nil httpClient gets one bounded by cfg.Timeout.
func NewClient(cfg Config, httpClient *http.Client, logger *logrus.Logger) *Client {
	def := DefaultConfig()
	if cfg.BaseURL == "" {
		cfg.BaseURL = def.BaseURL
	}
	if !strings.HasSuffix(cfg.BaseURL, "/") {
		cfg.BaseURL += "/"
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = def.Timeout
	}
	if cfg.RequestsPerSecond <= 0 {
		cfg.RequestsPerSecond = def.RequestsPerSecond
	}
	if cfg.Burst <= 0 {
		cfg.Burst = def.Burst
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if httpClient == nil {
		httpClient = &http.Client{Timeout: cfg.Timeout}
	}

	return &Client{
		cfg:        cfg,
		httpClient: httpClient,
		limiter:    rate.NewLimiter(rate.Limit(cfg.RequestsPerSecond), cfg.Burst),
		retryer: faulttolerance.NewRetryer(faulttolerance.RetryConfig{
			MaxAttempts: cfg.MaxAttempts,
			BaseDelay:   cfg.RetryBaseDelay,
			MaxDelay:    time.Minute,
			Name:        "cboe",
			RetryIf:     faulttolerance.RetryOn(ErrRateLimited),
		}, logger),
		breaker: faulttolerance.NewCircuitBreaker(faulttolerance.CircuitBreakerConfig{
			MaxFailures: cfg.BreakerFailures,
			Timeout:     cfg.BreakerCooldown,
			Name:        "cboe",
			IsFailure:   isUpstreamOutage,
		}, logger),
		logger: logger,
	}
}

// isUpstreamOutage counts only failures that say CBOE itself is unwell.
// Unknown symbols (403/404), bad bodies and 429s (left to the retryer) do not
// open the circuit.
func isUpstreamOutage(err error) bool {
	var transport *TransportError
	if errors.As(err, &transport) {
		return true
	}
	var status *UpstreamStatusError
	if errors.As(err, &status) {
		return status.Code >= 500
	}
	return false
}

func (c *Client) chainURL(symbol string) string {
	return c.cfg.BaseURL + symbol + ".json"
}

// Fetch downloads the chain for symbol.
func (c *Client) Fetch(ctx context.Context, symbol string) (*ChainResponse, error) {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))
	if !options.ValidTicker(symbol) {
		return nil, fmt.Errorf("invalid symbol %q", symbol)
	}

	var (
		chain   *ChainResponse
		lastErr error
	)
	err := c.retryer.Execute(ctx, func(ctx context.Context) error {
		lastErr = c.breaker.Execute(ctx, func(ctx context.Context) error {
			resp, err := c.fetchOnce(ctx, symbol)
			if err != nil {
				return err
			}
			chain = resp
			return nil
		})
		return lastErr
	})
	if err == nil {
		return chain, nil
	}

	if lastErr == nil || errors.Is(lastErr, faulttolerance.ErrCircuitBreakerOpen) {
		return nil, &TransportError{Symbol: symbol, Err: err}
	}
	return nil, lastErr
}

func (c *Client) fetchOnce(ctx context.Context, symbol string) (*ChainResponse, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, &TransportError{Symbol: symbol, Err: err}
	}

	reqCtx, cancel := context.WithTimeout(ctx, c.cfg.Timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, c.chainURL(symbol), nil)
	if err != nil {
		return nil, &TransportError{Symbol: symbol, Err: err}
	}
	req.Header.Set("User-Agent", c.cfg.UserAgent)
	req.Header.Set("Accept", "application/json")

	res, err := c.httpClient.Do(req)
	if err != nil {
		return nil, &TransportError{Symbol: symbol, Err: err}
	}
	defer res.Body.Close()

	if res.StatusCode != http.StatusOK {
		_, _ = io.Copy(io.Discard, io.LimitReader(res.Body, 4096))
		if res.StatusCode == http.StatusTooManyRequests {
			c.logger.Warnf("Rate limited fetching %s", symbol)
		}
		return nil, &UpstreamStatusError{Symbol: symbol, Code: res.StatusCode}
	}

	body, err := io.ReadAll(io.LimitReader(res.Body, maxBodyBytes))
	if err != nil {
		return nil, &TransportError{Symbol: symbol, Err: err}
	}

	trimmed := bytes.TrimSpace(body)
	if len(trimmed) == 0 || trimmed[0] != '{' {
		return nil, &DecodeError{Symbol: symbol, Err: errors.New("body is not a JSON object")}
	}

	var chain ChainResponse
	if err := json.Unmarshal(trimmed, &chain); err != nil {
		return nil, &DecodeError{Symbol: symbol, Err: err}
	}
	return &chain, nil
}

// Validate reports whether resp carries a data.options array.
func (c *Client) Validate(resp *ChainResponse) bool {
	return resp.Validate()
}

// Timestamp returns the vendor snapshot time, if any.
func (c *Client) Timestamp(resp *ChainResponse) (string, bool) {
	return resp.SnapshotTime()
}

// SymbolExists reports whether CBOE publishes a non-empty chain for symbol.
// Forbidden and not-found answers mean "no"; other failures are errors.
func (c *Client) SymbolExists(ctx context.Context, symbol string) (bool, error) {
	resp, err := c.Fetch(ctx, symbol)
	if err != nil {
		var status *UpstreamStatusError
		if errors.As(err, &status) && (status.Code == http.StatusNotFound || status.Code == http.StatusForbidden) {
			return false, nil
		}
		return false, err
	}
	entries, err := resp.Options()
	if err != nil {
		return false, nil
	}
	return len(entries) > 0, nil
}

// TestConnectivity fetches a well-known chain and validates it.
func (c *Client) TestConnectivity(ctx context.Context) error {
	resp, err := c.Fetch(ctx, ConnectivitySymbol)
	if err != nil {
		return err
	}
	if _, err := resp.Options(); err != nil {
		return err
	}
	return nil
}

// BreakerState exposes the circuit state for status pages.
func (c *Client) BreakerState() string {
	return c.breaker.GetState().String()
}
