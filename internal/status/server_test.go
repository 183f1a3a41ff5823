package status

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/shopspring/decimal"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/rates"
)

func newTestServer(t *testing.T) (*Server, *rates.Cache, *alerts.Store) {
	t.Helper()
	cache := rates.NewCache()
	store := alerts.NewStore(nil, zerolog.Nop())
	srv := New(Options{Addr: "127.0.0.1:0", Cache: cache, Alerts: store}, zerolog.Nop())
	return srv, cache, store
}

func get(t *testing.T, srv *Server, path string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodGet, path, nil)
	rec := httptest.NewRecorder()
	srv.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthEndpoint(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/healthz")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
}

func TestRatesEndpointReturnsCachedSnapshots(t *testing.T) {
	srv, cache, _ := newTestServer(t)

	snap := rates.NewSnapshot("Mumbai", rates.Gold, decimal.NewFromInt(15804), time.Now().UTC())
	snap.Source = "retail-board"
	cache.Replace(snap)

	rec := get(t, srv, "/rates/mumbai")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	var views []struct {
		City  string            `json:"city"`
		Metal string            `json:"metal"`
		Base  string            `json:"base"`
		Tiers map[string]string `json:"tiers"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 {
		t.Fatalf("expected 1 snapshot, got %d", len(views))
	}
	if views[0].City != "Mumbai" || views[0].Base != "15804" {
		t.Fatalf("unexpected view: %+v", views[0])
	}
	if views[0].Tiers["22k"] == "" {
		t.Fatalf("expected derived 22k tier in response")
	}
}

func TestRatesEndpointUnknownCity(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/rates/pune")
	if rec.Code != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", rec.Code)
	}
}

func TestAlertsEndpointFiltersByOwner(t *testing.T) {
	srv, _, store := newTestServer(t)

	ctx := context.Background()
	for _, owner := range []string{"priya", "rahul"} {
		_, err := store.Create(ctx, alerts.Alert{
			Owner:     owner,
			City:      "Mumbai",
			Metal:     rates.Gold,
			Condition: alerts.Below,
			Target:    decimal.NewFromInt(15500),
		})
		if err != nil {
			t.Fatalf("create alert: %v", err)
		}
	}

	rec := get(t, srv, "/alerts?owner=priya")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	var views []struct {
		Owner string `json:"owner"`
		State string `json:"state"`
	}
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 1 || views[0].Owner != "priya" {
		t.Fatalf("expected only priya's alert, got %+v", views)
	}

	rec = get(t, srv, "/alerts")
	if err := json.Unmarshal(rec.Body.Bytes(), &views); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if len(views) != 2 {
		t.Fatalf("expected 2 alerts, got %d", len(views))
	}
}

func TestJobsEndpointWithoutRegistry(t *testing.T) {
	srv, _, _ := newTestServer(t)

	rec := get(t, srv, "/status/jobs")
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if body := rec.Body.String(); body == "" {
		t.Fatalf("expected JSON body")
	}
}
