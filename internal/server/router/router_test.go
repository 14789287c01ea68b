package router

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/navid-fn/optionsradar/internal/buffer"
	"github.com/navid-fn/optionsradar/internal/cboe"
	"github.com/navid-fn/optionsradar/internal/cleaner"
	"github.com/navid-fn/optionsradar/internal/faulttolerance"
	"github.com/navid-fn/optionsradar/internal/logger"
	"github.com/navid-fn/optionsradar/internal/options"
	"github.com/navid-fn/optionsradar/internal/scheduler"
	"github.com/navid-fn/optionsradar/internal/server/handler"
	"github.com/navid-fn/optionsradar/internal/service"
	"github.com/navid-fn/optionsradar/internal/state"
	"github.com/navid-fn/optionsradar/internal/storage"
	"github.com/navid-fn/optionsradar/internal/syncer"
)

const testToken = "s3cret"

type fakeCBOE struct{}

const bxmtChain = `{
	"timestamp": "2025-07-01 20:16:40",
	"data": {"options": [
		{"option": "BXMT250815C00011000", "expiration": "2025-08-15", "bid": 0.42, "ask": 0.55},
		{"option": "BXMT250815P00011000", "expiration": "2025-08-15", "bid": 0.3, "ask": 0.4}
	]}
}`

func (fakeCBOE) Fetch(_ context.Context, symbol string) (*cboe.ChainResponse, error) {
	if symbol != "BXMT" {
		return nil, &cboe.UpstreamStatusError{Symbol: symbol, Code: http.StatusInternalServerError}
	}
	var resp cboe.ChainResponse
	if err := json.Unmarshal([]byte(bxmtChain), &resp); err != nil {
		return nil, err
	}
	return &resp, nil
}

func (fakeCBOE) SymbolExists(_ context.Context, symbol string) (bool, error) {
	return symbol == "BXMT" || symbol == "AAPL", nil
}

func newTestRouter(t *testing.T) *gin.Engine {
	t.Helper()
	gin.SetMode(gin.TestMode)

	ctx := context.Background()
	log := logger.Discard()
	now := func() time.Time { return time.Date(2025, 7, 1, 20, 20, 0, 0, time.UTC) }

	registry := storage.NewMemoryRegistry("LMT", "BXMT")
	store := storage.NewOptionStore(storage.NewMemoryBackend(), log)
	require.NoError(t, store.UpsertStrike(ctx, "LMT", "250815", options.Call, "00450000",
		options.StrikeQuote{Option: "LMT250815C00450000", Date: "2025-08-15", Bid: 12.1}))
	require.NoError(t, store.UpsertStrike(ctx, "LMT", "250815", options.Put, "00450000",
		options.StrikeQuote{Option: "LMT250815P00450000", Date: "2025-08-15", Bid: 0}))

	st := state.NewMemoryStore(now)
	coordinator := syncer.NewCoordinator(fakeCBOE{}, registry, store, log, syncer.Options{Now: now})
	buf := buffer.New(st, coordinator, registry, store, log, buffer.Config{Now: now})
	gc := cleaner.New(registry, store, log, cleaner.Config{Location: time.UTC, Now: now})
	sched := scheduler.New(st, buf, registry, gc, log, scheduler.Config{})

	optionsService := service.NewOptionsService(registry, store)
	adminService := service.NewAdminService(registry, fakeCBOE{}, coordinator, buf, sched, gc, log)

	return NewRouter(&Config{
		OptionsHandler: handler.NewOptionsHandler(optionsService, log),
		AdminHandler:   handler.NewAdminHandler(adminService, log),
		Health:         faulttolerance.NewHealthMonitor(log, time.Minute),
		Gatherer:       prometheus.NewRegistry(),
		AdminToken:     testToken,
		Logger:         log,
	})
}

func do(r *gin.Engine, method, path, body string, admin bool) *httptest.ResponseRecorder {
	var req *http.Request
	if body != "" {
		req = httptest.NewRequest(method, path, strings.NewReader(body))
		req.Header.Set("Content-Type", "application/json")
	} else {
		req = httptest.NewRequest(method, path, nil)
	}
	if admin {
		req.Header.Set("Authorization", "Bearer "+testToken)
	}
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestReadRoutes(t *testing.T) {
	r := newTestRouter(t)

	tests := []struct {
		name       string
		path       string
		wantStatus int
		wantBody   string
	}{
		{"field value", "/v1/options/lmt?date=250815&strike=4500&field=bid", http.StatusOK, `12.1`},
		{"put field", "/v1/options/LMT?date=250815&strike=4500&type=put&field=option", http.StatusOK, `"LMT250815P00450000"`},
		{"excluded zero bid", "/v1/options/LMT?date=250815&strike=4500&type=put&exclude_bid_0=1", http.StatusNotFound,
			`{"code":"option_not_found","message":"Option not found for date 250815 and strike 4500"}`},
		{"bad bool", "/v1/options/LMT?exclude_bid_0=maybe", http.StatusBadRequest,
			`{"code":"invalid_bool","message":"Invalid boolean for exclude_bid_0: maybe"}`},
		{"bad date", "/v1/options/LMT?date=25", http.StatusBadRequest,
			`{"code":"invalid_date","message":"Invalid date: 25 (expected YYMMDD)"}`},
		{"unknown stock", "/v1/options/AAPL", http.StatusNotFound,
			`{"code":"stock_not_found","message":"Stock AAPL not found"}`},
		{"expirations", "/v1/options/LMT/expirations", http.StatusOK, `{"symbol":"LMT","expirations":["250815"]}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			w := do(r, http.MethodGet, tt.path, "", false)
			assert.Equal(t, tt.wantStatus, w.Code)
			assert.JSONEq(t, tt.wantBody, w.Body.String())
		})
	}
}

func TestExcludeBidZeroOverRecords(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodGet, "/v1/options/LMT?date=250815&exclude_bid_0=true", "", false)
	require.Equal(t, http.StatusOK, w.Code)

	var body map[string]map[string]options.StrikeQuote
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Len(t, body, 1)
	assert.Contains(t, body, "LMT250815C")
}

func TestSyncRoute(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/v1/sync?symbol=BXMT", "", false)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = do(r, http.MethodPost, "/v1/sync", `{"symbol":"bxmt"}`, true)
	require.Equal(t, http.StatusOK, w.Code)
	var res syncer.SyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &res))
	assert.True(t, res.Success)
	assert.Equal(t, 2, res.Processed)
	assert.Equal(t, "Successfully processed 2 options for BXMT", res.Message)

	w = do(r, http.MethodPost, "/v1/sync?symbol=AAPL", "", true)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Contains(t, w.Body.String(), "Stock AAPL not registered")

	w = do(r, http.MethodPost, "/v1/sync?symbol=LMT", "", true)
	assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
	var failed syncer.SyncResult
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &failed))
	assert.False(t, failed.Success)
	assert.Equal(t, "LMT", failed.Symbol)
	assert.Contains(t, failed.Message, "CBOE API returned status code 500")
	assert.NotContains(t, w.Body.String(), `"code"`)

	w = do(r, http.MethodPost, "/v1/sync?symbol=L1", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestAdminRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodPost, "/v1/admin/symbols", `{"symbol":"BXMT"}`, true)
	assert.Equal(t, http.StatusConflict, w.Code)
	assert.JSONEq(t, `{"code":"stock_exists","message":"Stock BXMT already exists"}`, w.Body.String())

	w = do(r, http.MethodPost, "/v1/admin/symbols", `{"symbol":"ZZZ"}`, true)
	assert.Equal(t, http.StatusNotFound, w.Code)

	w = do(r, http.MethodPost, "/v1/admin/symbols", `{"symbol":"aapl","enqueue":true}`, true)
	require.Equal(t, http.StatusCreated, w.Code)
	assert.JSONEq(t, `{"symbol":"AAPL","enqueued":true}`, w.Body.String())

	w = do(r, http.MethodGet, "/v1/admin/buffer/contents", "", true)
	assert.JSONEq(t, `{"symbols":["AAPL"],"count":1}`, w.Body.String())

	w = do(r, http.MethodPut, "/v1/admin/batch-size", `{"batch_size":0}`, true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), `"invalid_batch_size"`)

	w = do(r, http.MethodPut, "/v1/admin/schedule", `{"schedule":"daily"}`, true)
	assert.JSONEq(t, `{"refill_schedule":"daily"}`, w.Body.String())

	w = do(r, http.MethodDelete, "/v1/admin/buffer", "", true)
	assert.Equal(t, http.StatusNoContent, w.Code)

	w = do(r, http.MethodGet, "/v1/admin/logs?limit=1", "", true)
	require.Equal(t, http.StatusOK, w.Code)
	var logs []state.LogEntry
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &logs))
	require.Len(t, logs, 1)
	assert.Equal(t, scheduler.TriggerSettings, logs[0].Trigger)

	w = do(r, http.MethodPost, "/v1/admin/cleanup?start=250901&end=250801", "", true)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestOperationalRoutes(t *testing.T) {
	r := newTestRouter(t)

	w := do(r, http.MethodGet, "/health/live", "", false)
	assert.Equal(t, http.StatusOK, w.Code)

	w = do(r, http.MethodGet, "/metrics", "", false)
	assert.Equal(t, http.StatusOK, w.Code)
}
