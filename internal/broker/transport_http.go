package broker

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/aria-bridge/bridge-host/internal/config"
)

// buildMux assembles the WebSocket upgrade route, the HTTP bridge-session
// JSON endpoints of §4.6/§6, and the supplemented operational endpoints
// (/healthz, /readyz, /metrics), all on one gorilla/mux router — the same
// single-port layout the teacher's infra handlers used.
func (s *Server) buildMux(cfg *config.Config) *http.ServeMux {
	r := mux.NewRouter()

	r.HandleFunc("/ws", s.HandleWS)
	// The discovery file's URL (ws://host:port) carries no path.
	r.HandleFunc("/", s.HandleWS)

	bridge := r.PathPrefix("/bridge").Subrouter()
	bridge.HandleFunc("/connect", s.httpBridges.HandleConnect).Methods(http.MethodPost)
	bridge.HandleFunc("/hello", s.httpBridges.HandleHello).Methods(http.MethodPost)
	bridge.HandleFunc("/events", s.httpBridges.HandleEvents).Methods(http.MethodPost)
	bridge.HandleFunc("/control/result", s.httpBridges.HandleControlResult).Methods(http.MethodPost)
	bridge.HandleFunc("/control/poll", s.httpBridges.HandleControlPoll).Methods(http.MethodPost)
	bridge.HandleFunc("/heartbeat", s.httpBridges.HandleHeartbeat).Methods(http.MethodPost)
	bridge.HandleFunc("/disconnect", s.httpBridges.HandleDisconnect).Methods(http.MethodPost)

	r.HandleFunc("/healthz", s.healthz).Methods(http.MethodGet)
	r.HandleFunc("/readyz", s.readyz).Methods(http.MethodGet)
	r.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	if cfg.Transport.EnableSocketIO {
		r.PathPrefix(cfg.Transport.SocketIOPath).Handler(s.socketIOHandler())
	}

	r.NotFoundHandler = http.HandlerFunc(notFound)

	handler := corsMiddleware(cfg.Server.CORSAllowOrigins)(r)

	mux := http.NewServeMux()
	mux.Handle("/", handler)
	return mux
}

func notFound(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// corsMiddleware allows the configured origins for the HTTP bridge and
// dashboard routes; "*" (the default) allows everything, matching the
// teacher's dev-friendly infra.go CORS handling.
func corsMiddleware(allowOrigins []string) func(http.Handler) http.Handler {
	allowed := make(map[string]bool, len(allowOrigins))
	allowAll := false
	for _, o := range allowOrigins {
		if o == "*" {
			allowAll = true
		}
		allowed[o] = true
	}
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			origin := r.Header.Get("Origin")
			if allowAll {
				w.Header().Set("Access-Control-Allow-Origin", "*")
			} else if origin != "" && allowed[origin] {
				w.Header().Set("Access-Control-Allow-Origin", origin)
			}
			w.Header().Set("Access-Control-Allow-Methods", "GET, POST, OPTIONS")
			w.Header().Set("Access-Control-Allow-Headers", "Content-Type, X-Bridge-Secret")
			if r.Method == http.MethodOptions {
				w.WriteHeader(http.StatusNoContent)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}
