package main

import (
	"bytes"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recorded struct {
	method string
	path   string
	query  string
	auth   string
	body   string
}

func newServer(t *testing.T, status int, response string, got *recorded) *httptest.Server {
	t.Helper()
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		body, _ := io.ReadAll(r.Body)
		*got = recorded{
			method: r.Method,
			path:   r.URL.Path,
			query:  r.URL.RawQuery,
			auth:   r.Header.Get("Authorization"),
			body:   string(body),
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, response)
	}))
	t.Cleanup(srv.Close)
	return srv
}

func run(t *testing.T, srv *httptest.Server, args ...string) (string, error) {
	t.Helper()
	root := newRootCmd()
	var out bytes.Buffer
	root.SetOut(&out)
	root.SetErr(io.Discard)
	root.SetArgs(append([]string{"--url", srv.URL, "--token", "s3cret"}, args...))
	err := root.Execute()
	return out.String(), err
}

func TestCommandsHitAdminRoutes(t *testing.T) {
	tests := []struct {
		name       string
		args       []string
		wantMethod string
		wantPath   string
		wantQuery  string
		wantBody   string
	}{
		{"sync", []string{"sync", "BXMT"}, http.MethodPost, "/v1/sync", "symbol=BXMT", ""},
		{"sync status", []string{"sync-status", "BXMT"}, http.MethodGet, "/v1/admin/sync/BXMT", "", ""},
		{"add symbol", []string{"add-symbol", "aapl", "--enqueue=false"}, http.MethodPost, "/v1/admin/symbols", "", `{"enqueue":false,"symbol":"aapl"}`},
		{"force drain", []string{"force-drain"}, http.MethodPost, "/v1/admin/drain/force", "", ""},
		{"cancel refill", []string{"cancel-refill"}, http.MethodDelete, "/v1/admin/refill", "", ""},
		{"set schedule", []string{"set-schedule", "daily"}, http.MethodPut, "/v1/admin/schedule", "", `{"schedule":"daily"}`},
		{"batch size", []string{"batch-size", "10"}, http.MethodPut, "/v1/admin/batch-size", "", `{"batch_size":10}`},
		{"logs", []string{"logs", "--limit", "5"}, http.MethodGet, "/v1/admin/logs", "limit=5", ""},
		{"cleanup range", []string{"cleanup", "--start", "250801", "--end", "250901"}, http.MethodPost, "/v1/admin/cleanup", "end=250901&start=250801", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var got recorded
			srv := newServer(t, http.StatusOK, `{"ok":true}`, &got)

			out, err := run(t, srv, tt.args...)
			require.NoError(t, err)

			assert.Equal(t, tt.wantMethod, got.method)
			assert.Equal(t, tt.wantPath, got.path)
			assert.Equal(t, tt.wantQuery, got.query)
			assert.Equal(t, "Bearer s3cret", got.auth)
			if tt.wantBody != "" {
				assert.JSONEq(t, tt.wantBody, got.body)
			} else {
				assert.Empty(t, got.body)
			}
			assert.JSONEq(t, `{"ok":true}`, out)
		})
	}
}

func TestEmptyResponsePrintsOK(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusNoContent, "", &got)

	out, err := run(t, srv, "clear-buffer")
	require.NoError(t, err)
	assert.Equal(t, "OK\n", out)
}

func TestErrorResponseIsReturned(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusConflict, `{"code":"stock_exists","message":"Stock BXMT already exists"}`, &got)

	_, err := run(t, srv, "add-symbol", "BXMT")
	require.Error(t, err)

	var apiErr *apiError
	require.ErrorAs(t, err, &apiErr)
	assert.Equal(t, http.StatusConflict, apiErr.Status)
	assert.Equal(t, "stock_exists", apiErr.Code)
	assert.Equal(t, "stock_exists: Stock BXMT already exists (status 409)", err.Error())
}

func TestBatchSizeRejectsNonNumber(t *testing.T) {
	var got recorded
	srv := newServer(t, http.StatusOK, `{}`, &got)

	_, err := run(t, srv, "batch-size", "many")
	require.Error(t, err)
	assert.Empty(t, got.method)
}

func TestPrintJSONFallsBackToRaw(t *testing.T) {
	var out bytes.Buffer
	require.NoError(t, printJSON(&out, []byte("not json")))
	assert.Equal(t, "not json\n", out.String())

	out.Reset()
	require.NoError(t, printJSON(&out, []byte(`{"a":1}`)))
	var v map[string]int
	require.NoError(t, json.Unmarshal(out.Bytes(), &v))
	assert.Equal(t, 1, v["a"])
}
