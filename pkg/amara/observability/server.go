package observability

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"

	"github.com/jholhewres/amara/pkg/amara/channels"
	"github.com/jholhewres/amara/pkg/amara/scheduler"
)

// HealthChecker reports transport health.
type HealthChecker interface {
	Name() string
	Health() channels.HealthStatus
}

// ServerConfig wires the ops endpoints to the running bot. Nil hooks make
// the matching fields disappear from /stats.
type ServerConfig struct {
	Address string

	Channel HealthChecker
	Metrics *Metrics

	ActiveUsers func(ctx context.Context) (int, error)
	Sessions    func() int
	Jobs        func() []scheduler.Status
}

// Server is the operations HTTP endpoint: /healthz, /metrics and /stats.
type Server struct {
	cfg    ServerConfig
	server *http.Server
	logger *slog.Logger
}

// NewServer creates an ops server.
func NewServer(cfg ServerConfig, logger *slog.Logger) *Server {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Server{cfg: cfg, logger: logger.With("component", "ops")}
	s.server = &http.Server{
		Addr:              cfg.Address,
		Handler:           s.Router(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Router builds the route table.
func (s *Server) Router() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)

	r.Get("/healthz", s.handleHealth)
	r.Get("/stats", s.handleStats)
	if s.cfg.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", s.cfg.Metrics.Handler())
	}
	return r
}

// Run serves until ctx ends, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("ops server started", "address", s.cfg.Address)
		if err := s.server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	s.logger.Info("ops server stopping")
	return s.server.Shutdown(shutdownCtx)
}

type healthResponse struct {
	Status  string                `json:"status"`
	Channel string                `json:"channel,omitempty"`
	Health  *channels.HealthStatus `json:"health,omitempty"`
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if s.cfg.Channel == nil {
		respondJSON(w, http.StatusOK, healthResponse{Status: "ok"})
		return
	}

	h := s.cfg.Channel.Health()
	resp := healthResponse{Status: "ok", Channel: s.cfg.Channel.Name(), Health: &h}
	status := http.StatusOK
	if !h.Connected {
		resp.Status = "degraded"
		status = http.StatusServiceUnavailable
	}
	respondJSON(w, status, resp)
}

type statsResponse struct {
	ActiveUsers *int               `json:"active_users_24h,omitempty"`
	Sessions    *int               `json:"sessions,omitempty"`
	Jobs        []scheduler.Status `json:"jobs,omitempty"`
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	var resp statsResponse
	if s.cfg.ActiveUsers != nil {
		n, err := s.cfg.ActiveUsers(r.Context())
		if err != nil {
			s.logger.Error("counting active users failed", "error", err)
			respondJSON(w, http.StatusInternalServerError, map[string]string{"error": "store unavailable"})
			return
		}
		resp.ActiveUsers = &n
	}
	if s.cfg.Sessions != nil {
		n := s.cfg.Sessions()
		resp.Sessions = &n
	}
	if s.cfg.Jobs != nil {
		resp.Jobs = s.cfg.Jobs()
	}
	respondJSON(w, http.StatusOK, resp)
}

func respondJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
