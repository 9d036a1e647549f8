package broker

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"time"

	"github.com/aria-bridge/bridge-host/internal/config"
)

// Server is the composition root tying together the session registry, the
// filter & routing engine, the control correlator, and every transport that
// feeds them, per §5's "single Broker value owned by the reactor" model.
// The registry, correlator, and overload guard each hold their own mutex
// (§5's "a single mutex or a message-passing reactor suffice" — here, one
// mutex per concern rather than one global lock, matching the teacher's
// Hub's internal sync.RWMutex-per-struct style).
type Server struct {
	secret string

	registry *Registry
	guard    *OverloadGuard
	ratel    *RateLimiter
	router   *Router
	control  *ControlCorrelator
	metrics  *Metrics

	httpBridges *HTTPBridgeManager

	mux *http.ServeMux

	wsLog   *log.Logger
	httpLog *log.Logger

	startedAt time.Time
}

// NewServer wires every component from cfg and the workspace secret chosen
// by the lock manager.
func NewServer(cfg *config.Config, secret string, metrics *Metrics) *Server {
	registry := NewRegistry()
	guard := NewOverloadGuard(
		time.Duration(cfg.RateLimit.OverloadWindowMs)*time.Millisecond,
		cfg.RateLimit.OverloadLimit,
	)
	ratel := NewRateLimiter(time.Duration(cfg.RateLimit.ScreenshotMinIntervalMs) * time.Millisecond)
	router := NewRouter(registry, guard, ratel, metrics)
	control := NewControlCorrelator(registry, guard, metrics)

	s := &Server{
		secret:    secret,
		registry:  registry,
		guard:     guard,
		ratel:     ratel,
		router:    router,
		control:   control,
		metrics:   metrics,
		wsLog:     log.New(log.Writer(), "[ws] ", log.LstdFlags),
		httpLog:   log.New(log.Writer(), "[http] ", log.LstdFlags),
		startedAt: time.Now(),
	}
	s.httpBridges = NewHTTPBridgeManager(secret, router, control, registry)
	s.mux = s.buildMux(cfg)
	return s
}

func (s *Server) Mux() http.Handler { return s.mux }

// Shutdown releases per-connection resources tracked outside the session
// registry (currently just the HTTP bridge staleness sweep goroutine).
func (s *Server) Shutdown(ctx context.Context) {
	s.httpBridges.StopSweep()
	slog.Info("broker: server shutdown complete")
	_ = ctx
}

func (s *Server) healthz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ok",
		"uptimeSec": int(time.Since(s.startedAt).Seconds()),
	})
}

func (s *Server) readyz(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":    "ready",
		"bridges":   len(s.registry.Bridges()),
		"consumers": len(s.registry.Consumers()),
	})
}
