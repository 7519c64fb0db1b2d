// Package server exposes the pipeline over HTTP.
//
// Responsibilities:
//   - Serve the REST API the frontend and fleet tooling consume
//   - Mount the websocket event feed and the Prometheus endpoint
//   - Run the optional gRPC health listener for platform probes
//   - Own the HTTP lifecycle: start, graceful shutdown
//
// The server composes components it is handed; it constructs nothing
// but listeners. Wiring lives in cmd/server.
package server

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"sync"
	"time"

	"github.com/rs/cors"
	"go.uber.org/zap"

	"github.com/stackwatch/stackwatch-ai/internal/broadcast"
	"github.com/stackwatch/stackwatch-ai/internal/config"
	"github.com/stackwatch/stackwatch-ai/internal/middleware"
	"github.com/stackwatch/stackwatch-ai/internal/models"
	"github.com/stackwatch/stackwatch-ai/internal/monitor"
	"github.com/stackwatch/stackwatch-ai/internal/store"
)

// CycleRunner is the scheduler surface the API needs: run a cycle on
// demand and report diagnostics.
type CycleRunner interface {
	RunCycleNow(ctx context.Context) error
	LastCycle() monitor.CycleStats
	CooldownEntries(ctx context.Context) ([]monitor.CooldownEntry, error)
}

// IncidentResolver closes an incident on operator request.
type IncidentResolver interface {
	Resolve(ctx context.Context, incidentID string) (*models.Incident, error)
}

// ActionGate drives the human-approval side of the action state
// machine.
type ActionGate interface {
	Approve(ctx context.Context, id, approver string) (*models.Action, error)
	Reject(ctx context.Context, id, rejecter, reason string) (*models.Action, error)
	Execute(ctx context.Context, id string) (*models.Action, error)
}

// Backlog reports the investigation load for diagnostics.
type Backlog interface {
	InFlight() int64
}

// Pinger is anything whose liveness feeds the readiness probe.
type Pinger interface {
	Ping(ctx context.Context) error
}

// Deps carries the server's collaborators. Scheduler, Correlator,
// Actions and Investigations may be nil when the corresponding stage is
// disabled; their endpoints then answer 503.
type Deps struct {
	Store          store.Store
	Hub            *broadcast.Hub
	Scheduler      CycleRunner
	Correlator     IncidentResolver
	Actions        ActionGate
	Investigations Backlog
	Platform       Pinger
	Limiter        *middleware.RateLimiter
	Logger         *zap.Logger
}

// Server is the HTTP front of the pipeline.
type Server struct {
	cfg    *config.Config
	logger *zap.Logger

	store          store.Store
	hub            *broadcast.Hub
	scheduler      CycleRunner
	correlator     IncidentResolver
	actions        ActionGate
	investigations Backlog
	platform       Pinger
	limiter        *middleware.RateLimiter

	httpServer *http.Server
	health     *healthServer

	mu      sync.Mutex
	running bool
}

// New assembles the server around already-constructed components.
func New(cfg *config.Config, deps Deps) *Server {
	s := &Server{
		cfg:            cfg,
		logger:         deps.Logger,
		store:          deps.Store,
		hub:            deps.Hub,
		scheduler:      deps.Scheduler,
		correlator:     deps.Correlator,
		actions:        deps.Actions,
		investigations: deps.Investigations,
		platform:       deps.Platform,
		limiter:        deps.Limiter,
	}

	handler := s.buildHandler()
	s.httpServer = &http.Server{
		Addr:         ":" + strconv.Itoa(cfg.Server.Port),
		Handler:      handler,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}
	return s
}

// buildHandler mounts every route and wraps the chain in CORS and the
// rate limiter. The websocket and metrics endpoints sit outside the
// rate limiter: one is long-lived, the other is scraped.
func (s *Server) buildHandler() http.Handler {
	api := http.NewServeMux()
	s.registerHandlers(api)

	var apiHandler http.Handler = api
	if s.limiter != nil {
		apiHandler = s.limiter.Wrap(apiHandler)
	}

	root := http.NewServeMux()
	root.Handle("/", apiHandler)
	root.Handle("/metrics", metricsHandler())
	if s.hub != nil {
		root.Handle("/ws/events", s.hub)
	}

	c := cors.New(cors.Options{
		AllowedOrigins: s.allowedOrigins(),
		AllowedMethods: []string{http.MethodGet, http.MethodPost},
		AllowedHeaders: []string{"Content-Type"},
		MaxAge:         300,
	})
	return c.Handler(instrument(root))
}

func (s *Server) allowedOrigins() []string {
	if len(s.cfg.Server.AllowedOrigins) == 0 {
		return []string{"http://localhost:3000", "http://localhost:5173"}
	}
	return s.cfg.Server.AllowedOrigins
}

// registerHandlers registers the REST routes.
func (s *Server) registerHandlers(mux *http.ServeMux) {
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/ready", s.handleReady)
	mux.HandleFunc("/info", s.handleInfo)

	mux.HandleFunc("/api/v1/insights", s.handleInsights)
	mux.HandleFunc("/api/v1/insights/", s.handleInsightByID)

	mux.HandleFunc("/api/v1/incidents", s.handleIncidents)
	mux.HandleFunc("/api/v1/incidents/", s.handleIncidentByID)

	mux.HandleFunc("/api/v1/investigations", s.handleInvestigations)
	mux.HandleFunc("/api/v1/investigations/", s.handleInvestigationByID)

	mux.HandleFunc("/api/v1/actions", s.handleActions)
	mux.HandleFunc("/api/v1/actions/", s.handleActionByID)

	mux.HandleFunc("/api/v1/monitor/cycle", s.handleRunCycle)
	mux.HandleFunc("/api/v1/monitor/status", s.handleMonitorStatus)
}

// Start opens the listeners. It returns once both are accepting.
func (s *Server) Start() error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return errors.New("server already running")
	}
	s.running = true
	s.mu.Unlock()

	if port := s.cfg.Server.GRPCHealthPort; port > 0 {
		h, err := startHealthServer(port, s.logger)
		if err != nil {
			return fmt.Errorf("grpc health listener: %w", err)
		}
		s.health = h
	}

	go func() {
		s.logger.Info("http server listening", zap.String("addr", s.httpServer.Addr))
		var err error
		if s.cfg.Server.TLSEnabled {
			err = s.httpServer.ListenAndServeTLS(s.cfg.Server.TLSCertPath, s.cfg.Server.TLSKeyPath)
		} else {
			err = s.httpServer.ListenAndServe()
		}
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.logger.Error("http server exited", zap.Error(err))
		}
	}()
	return nil
}

// Stop drains in-flight requests and closes the listeners.
func (s *Server) Stop(ctx context.Context) error {
	s.mu.Lock()
	if !s.running {
		s.mu.Unlock()
		return nil
	}
	s.running = false
	s.mu.Unlock()

	if s.health != nil {
		s.health.stop()
	}
	return s.httpServer.Shutdown(ctx)
}
