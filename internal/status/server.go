// Package status exposes the read-only diagnostic HTTP surface: job
// schedules, cached rates, alert listings, and Prometheus metrics.
package status

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/zerolog"

	"gold-rate-alerts/internal/alerts"
	"gold-rate-alerts/internal/rates"
	"gold-rate-alerts/internal/scheduler"
)

// Server serves the diagnostic endpoints. It never mutates state.
type Server struct {
	router   *chi.Mux
	server   *http.Server
	cache    *rates.Cache
	alerts   *alerts.Store
	registry *scheduler.Registry
	logger   zerolog.Logger
}

// Options configure the status server.
type Options struct {
	Addr     string
	Cache    *rates.Cache
	Alerts   *alerts.Store
	Registry *scheduler.Registry
}

// New builds the server but does not start listening.
func New(opts Options, logger zerolog.Logger) *Server {
	s := &Server{
		router:   chi.NewRouter(),
		cache:    opts.Cache,
		alerts:   opts.Alerts,
		registry: opts.Registry,
		logger:   logger.With().Str("component", "status").Logger(),
	}

	s.router.Use(middleware.Recoverer)
	s.router.Use(middleware.RequestID)
	s.router.Use(middleware.Timeout(30 * time.Second))
	s.setupRoutes()

	s.server = &http.Server{
		Addr:         opts.Addr,
		Handler:      s.router,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}
	return s
}

// Handler exposes the router for tests.
func (s *Server) Handler() http.Handler {
	return s.router
}

// Start blocks serving until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info().Str("addr", s.server.Addr).Msg("status server listening")
	err := s.server.ListenAndServe()
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.server.Shutdown(ctx)
}

func (s *Server) setupRoutes() {
	s.router.Get("/healthz", s.handleHealth)
	s.router.Get("/status/jobs", s.handleJobs)
	s.router.Get("/rates", s.handleRates)
	s.router.Get("/rates/{city}", s.handleCityRates)
	s.router.Get("/alerts", s.handleAlerts)
	s.router.Handle("/metrics", promhttp.Handler())
}

type snapshotView struct {
	City       string            `json:"city"`
	Metal      string            `json:"metal"`
	Base       string            `json:"base"`
	Tiers      map[string]string `json:"tiers"`
	Source     string            `json:"source"`
	CapturedAt time.Time         `json:"captured_at"`
	Cycle      uint64            `json:"cycle"`
	Stale      bool              `json:"stale"`
}

type alertView struct {
	ID              string     `json:"id"`
	Owner           string     `json:"owner"`
	City            string     `json:"city"`
	Metal           string     `json:"metal"`
	Tier            string     `json:"tier,omitempty"`
	Condition       string     `json:"condition"`
	Target          string     `json:"target"`
	State           string     `json:"state"`
	Rearm           string     `json:"rearm"`
	CreatedAt       time.Time  `json:"created_at"`
	LastTriggeredAt *time.Time `json:"last_triggered_at,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleJobs(w http.ResponseWriter, r *http.Request) {
	if s.registry == nil {
		writeJSON(w, http.StatusOK, []scheduler.JobStatus{})
		return
	}
	writeJSON(w, http.StatusOK, s.registry.Status())
}

func (s *Server) handleRates(w http.ResponseWriter, r *http.Request) {
	views := make([]snapshotView, 0)
	if s.cache != nil {
		for _, snap := range s.cache.All() {
			views = append(views, viewSnapshot(snap))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleCityRates(w http.ResponseWriter, r *http.Request) {
	city := chi.URLParam(r, "city")
	views := make([]snapshotView, 0, 2)
	if s.cache != nil {
		for _, snap := range s.cache.All() {
			if strings.EqualFold(snap.City, city) {
				views = append(views, viewSnapshot(snap))
			}
		}
	}
	if len(views) == 0 {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "no rates for city"})
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (s *Server) handleAlerts(w http.ResponseWriter, r *http.Request) {
	views := make([]alertView, 0)
	if s.alerts != nil {
		owner := r.URL.Query().Get("owner")
		var list []alerts.Alert
		if owner != "" {
			list = s.alerts.ActiveForOwner(owner)
		} else {
			list = s.alerts.All()
		}
		for _, alert := range list {
			views = append(views, viewAlert(alert))
		}
	}
	writeJSON(w, http.StatusOK, views)
}

func viewSnapshot(snap rates.Snapshot) snapshotView {
	tiers := make(map[string]string, len(snap.Tiers))
	for tier, value := range snap.Tiers {
		tiers[string(tier)] = value.String()
	}
	return snapshotView{
		City:       snap.City,
		Metal:      string(snap.Metal),
		Base:       snap.Base.String(),
		Tiers:      tiers,
		Source:     snap.Source,
		CapturedAt: snap.CapturedAt,
		Cycle:      snap.Cycle,
		Stale:      snap.Stale,
	}
}

func viewAlert(alert alerts.Alert) alertView {
	return alertView{
		ID:              alert.ID.String(),
		Owner:           alert.Owner,
		City:            alert.City,
		Metal:           string(alert.Metal),
		Tier:            string(alert.Tier),
		Condition:       string(alert.Condition),
		Target:          alert.Target.String(),
		State:           string(alert.State),
		Rearm:           string(alert.Rearm),
		CreatedAt:       alert.CreatedAt,
		LastTriggeredAt: alert.LastTriggeredAt,
	}
}

func writeJSON(w http.ResponseWriter, code int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(payload)
}
