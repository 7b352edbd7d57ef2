package observability

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/nexus-trading/poolwatch/internal/pipeline"
)

// Screener runs a manual screen and returns its outcome.
type Screener interface {
	ScreenOutcome(ctx context.Context, mint string) (pipeline.Outcome, error)
}

// Server exposes /health, /stats, /metrics and POST /screen.
type Server struct {
	health   *HealthMonitor
	metrics  *Metrics
	stats    func() any
	screener Screener
	timeout  time.Duration

	httpServer *http.Server
}

// NewServer wires the handlers. screener may be nil to disable /screen.
func NewServer(addr string, health *HealthMonitor, metrics *Metrics, stats func() any, screener Screener) *Server {
	s := &Server{
		health:   health,
		metrics:  metrics,
		stats:    stats,
		screener: screener,
		timeout:  5 * time.Minute,
	}
	s.httpServer = &http.Server{
		Addr:              addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	return s
}

// Handler returns the route mux.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", s.handleHealth)
	mux.HandleFunc("/stats", s.handleStats)
	mux.Handle("/metrics", s.metrics.Handler())
	mux.HandleFunc("/screen", s.handleScreen)
	return mux
}

// Start serves until Shutdown; it returns nil on a clean shutdown.
func (s *Server) Start() error {
	log.Info().Str("addr", s.httpServer.Addr).Msg("observability: http server listening")
	if err := s.httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	h := s.health.Check(r.Context())
	status := http.StatusOK
	if h.Status == StatusUnhealthy {
		status = http.StatusServiceUnavailable
	}
	writeJSON(w, status, h)
}

func (s *Server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.stats())
}

func (s *Server) handleScreen(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		w.Header().Set("Allow", http.MethodPost)
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "use POST"})
		return
	}
	if s.screener == nil {
		writeJSON(w, http.StatusNotFound, map[string]string{"error": "manual screening disabled"})
		return
	}

	mint := r.URL.Query().Get("mint")
	ctx, cancel := context.WithTimeout(r.Context(), s.timeout)
	defer cancel()

	out, err := s.screener.ScreenOutcome(ctx, mint)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, out)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Warn().Err(err).Msg("observability: encode response")
	}
}
