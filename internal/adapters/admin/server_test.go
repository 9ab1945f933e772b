package admin

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"solana-mcp/go-backend/internal/lifecycle"
	"solana-mcp/go-backend/internal/metrics"

	"github.com/prometheus/client_golang/prometheus"
)

type fixedState lifecycle.State

func (f fixedState) State() lifecycle.State { return lifecycle.State(f) }

func TestHealthReportsLifecycleState(t *testing.T) {
	cases := []struct {
		state  lifecycle.State
		code   int
		status string
	}{
		{lifecycle.Uninitialized, http.StatusOK, "ok"},
		{lifecycle.Ready, http.StatusOK, "ok"},
		{lifecycle.Stopped, http.StatusServiceUnavailable, "unavailable"},
	}
	for _, tc := range cases {
		srv := NewServer("", fixedState(tc.state), prometheus.NewRegistry(), nil)
		rec := httptest.NewRecorder()
		srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
		if rec.Code != tc.code {
			t.Fatalf("%s: expected %d, got %d", tc.state, tc.code, rec.Code)
		}
		var body healthResponse
		if err := json.Unmarshal(rec.Body.Bytes(), &body); err != nil {
			t.Fatalf("decode health: %v", err)
		}
		if body.Status != tc.status || body.State != tc.state.String() {
			t.Fatalf("%s: unexpected body %+v", tc.state, body)
		}
	}
}

func TestHealthRejectsPost(t *testing.T) {
	srv := NewServer("", fixedState(lifecycle.Ready), prometheus.NewRegistry(), nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/healthz", nil))
	if rec.Code != http.StatusMethodNotAllowed {
		t.Fatalf("expected 405, got %d", rec.Code)
	}
}

func TestMetricsEndpointServesRegistry(t *testing.T) {
	reg := prometheus.NewRegistry()
	rec := metrics.New(reg)
	rec.ObserveNotification("initialized")

	ts := httptest.NewServer(NewServer("", fixedState(lifecycle.Ready), reg, nil).Handler())
	defer ts.Close()
	resp, err := http.Get(ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("get metrics: %v", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("read metrics: %v", err)
	}
	if !strings.Contains(string(body), `solana_mcp_rpc_notifications_total{method="initialized"} 1`) {
		t.Fatalf("expected notification counter in scrape:\n%s", body)
	}
}
