package api

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"reflect"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-playground/validator/v10"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/time/rate"

	"github.com/samijaber1/cellguard/internal/broadcast"
	"github.com/samijaber1/cellguard/internal/controlplane"
	"github.com/samijaber1/cellguard/internal/scheduler"
	"github.com/samijaber1/cellguard/internal/scorecard"
)

// Deps are the services behind the HTTP surface.
type Deps struct {
	ControlPlane *controlplane.ControlPlane
	Scheduler    *scheduler.Scheduler
	Scorecards   *scorecard.Service
	// Hub serves /ws/activity; nil disables the route.
	Hub *broadcast.Hub
	// Broadcaster receives toggle events raised over HTTP.
	Broadcaster broadcast.Broadcaster
	// Gatherer backs /metrics; nil uses the default registry.
	Gatherer prometheus.Gatherer
	Logger   *slog.Logger
}

// Options tunes the listener and the trigger throttle.
type Options struct {
	Addr           string
	RequestTimeout time.Duration
	// TriggerRPS and TriggerBurst throttle the agent trigger endpoints. A
	// zero rate disables throttling.
	TriggerRPS   float64
	TriggerBurst int
}

// Server is the HTTP API server
type Server struct {
	deps     Deps
	opts     Options
	logger   *slog.Logger
	validate *validator.Validate
	limiter  *rate.Limiter
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(deps Deps, opts Options) *Server {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Broadcaster == nil {
		deps.Broadcaster = broadcast.Noop{}
	}
	if deps.Gatherer == nil {
		deps.Gatherer = prometheus.DefaultGatherer
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = 30 * time.Second
	}

	s := &Server{
		deps:     deps,
		opts:     opts,
		logger:   deps.Logger.With("component", "api"),
		validate: newValidator(),
	}
	if opts.TriggerRPS > 0 {
		burst := opts.TriggerBurst
		if burst <= 0 {
			burst = 1
		}
		s.limiter = rate.NewLimiter(rate.Limit(opts.TriggerRPS), burst)
	}

	s.server = &http.Server{
		Addr:              opts.Addr,
		Handler:           s.Routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	return s
}

// newValidator reports fields by their JSON names.
func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// Routes builds the router.
func (s *Server) Routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(s.logRequests)
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/readyz", s.handleReady)
	r.Method(http.MethodGet, "/metrics", promhttp.HandlerFor(s.deps.Gatherer, promhttp.HandlerOpts{}))
	if s.deps.Hub != nil {
		r.Method(http.MethodGet, "/ws/activity", s.deps.Hub)
	}

	r.Route("/api", func(r chi.Router) {
		r.Use(middleware.Timeout(s.opts.RequestTimeout))

		r.Get("/services", s.handleServices)

		r.Get("/release-gate/check", s.handleGateCheck)
		r.Post("/release-gate/override", s.handleGateOverride)

		r.Post("/ingest/job-stat", s.handleIngest)
		r.Post("/evaluate", s.handleEvaluate)
		r.Post("/inject-failures", s.handleInject)

		r.Route("/chaos", func(r chi.Router) {
			r.Post("/partition", s.handleChaosPartition)
			r.Post("/heal", s.handleChaosHeal)
			r.Post("/schedule", s.handleChaosSchedule)
		})

		r.Get("/audit-logs", s.handleAuditLogs)

		r.Get("/incidents", s.handleIncidents)
		r.Post("/incidents/{id}/status", s.handleIncidentStatus)

		r.Get("/scorecard", s.handleScorecard)

		r.Route("/agents", func(r chi.Router) {
			r.Get("/status", s.handleAgentStatus)
			r.Get("/activity", s.handleAgentActivity)
			r.Group(func(r chi.Router) {
				r.Use(s.throttle)
				r.Post("/run-all", s.handleRunAll)
				r.Post("/{name}/run", s.handleRunAgent)
				r.Post("/{name}/toggle", s.handleToggleAgent)
			})
		})
	})

	return r
}

// Start starts the HTTP server
func (s *Server) Start() error {
	s.logger.Info("starting API server", "addr", s.server.Addr)
	if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

// Shutdown gracefully shuts down the server
func (s *Server) Shutdown(ctx context.Context) error {
	s.logger.Info("shutting down API server")
	return s.server.Shutdown(ctx)
}

// handleHealth handles GET /healthz
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	respondJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
}

// handleReady handles GET /readyz. The server is ready once at least one
// service is known.
func (s *Server) handleReady(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.ControlPlane.Services(r.Context())
	reasons := []string{}
	switch {
	case err != nil:
		reasons = append(reasons, "store unavailable: "+err.Error())
	case len(services) == 0:
		reasons = append(reasons, "no services seeded")
	}

	ready := len(reasons) == 0
	status := http.StatusOK
	if !ready {
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, ReadyResponse{
		Ready:          ready,
		ServicesLoaded: len(services),
		BudgetsCached:  s.deps.ControlPlane.CachedBudgets(),
		Reasons:        reasons,
	})
}

func (s *Server) handleServices(w http.ResponseWriter, r *http.Request) {
	services, err := s.deps.ControlPlane.Services(r.Context())
	if err != nil {
		s.respondErr(w, r, err)
		return
	}
	respondJSON(w, http.StatusOK, ServicesResponse{Services: services})
}

// throttle rejects trigger requests over the configured rate with 429.
func (s *Server) throttle(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.limiter != nil && !s.limiter.Allow() {
			w.Header().Set("Retry-After", "1")
			respondError(w, http.StatusTooManyRequests, "rate_limited", "Too many agent triggers, retry shortly")
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (s *Server) logRequests(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", middleware.GetReqID(r.Context()))
	})
}
