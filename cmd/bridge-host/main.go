// Command bridge-host is the per-workspace observability broker: it
// acquires the workspace lock, publishes discovery metadata, and serves
// the WebSocket/HTTP/Socket.IO transports until SIGINT/SIGTERM.
package main

import (
	"context"
	"fmt"
	"log"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/aria-bridge/bridge-host/internal/broker"
	"github.com/aria-bridge/bridge-host/internal/config"
	"github.com/aria-bridge/bridge-host/internal/lock"
)

const shutdownWatchdog = 5 * time.Second

func main() {
	cfg := config.Get()

	mgr := lock.NewManager(cfg.Workspace.Path)
	if err := mgr.Acquire(); err != nil {
		var already *lock.ErrAlreadyRunning
		if asErrAlreadyRunning(err, &already) {
			log.Fatalf("aria-bridge host already running (pid=%d, lock=%s)", already.PID, already.Path)
		}
		log.Fatalf("failed to acquire workspace lock: %v", err)
	}

	listener, port, err := listenPreferred(cfg.Server.Host, cfg.Server.PreferredPort)
	if err != nil {
		log.Fatalf("failed to bind a listening port: %v", err)
	}

	disc, err := mgr.Publish(cfg.Server.Host, port, cfg.Workspace.Secret)
	if err != nil {
		log.Fatalf("failed to publish discovery metadata: %v", err)
	}
	mgr.StartHeartbeat()

	metrics := broker.NewMetrics(prometheus.DefaultRegisterer)
	srv := broker.NewServer(cfg, disc.Secret, metrics)

	httpServer := &http.Server{
		Handler:      srv.Mux(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	go func() {
		<-ctx.Done()
		slog.Info("aria-bridge: shutdown signal received, closing sessions")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownWatchdog)
		defer cancel()

		srv.Shutdown(shutdownCtx)
		if err := httpServer.Shutdown(shutdownCtx); err != nil {
			slog.Error("aria-bridge: http shutdown error", "error", err)
		}
		mgr.Release()
	}()

	slog.Info("aria-bridge: host listening",
		"url", disc.URL,
		"workspace", cfg.Workspace.Path,
		"env", cfg.Server.Env,
	)

	if err := httpServer.Serve(listener); err != nil && err != http.ErrServerClosed {
		log.Fatalf("aria-bridge: server failed: %v", err)
	}

	slog.Info("aria-bridge: host stopped")
}

// listenPreferred binds preferredPort if free, otherwise binds port 0 and
// lets the OS assign an ephemeral port; ports adjacent to preferredPort are
// not tried.
func listenPreferred(host string, preferredPort int) (net.Listener, int, error) {
	addr := fmt.Sprintf("%s:%d", host, preferredPort)
	ln, err := net.Listen("tcp", addr)
	if err != nil {
		ln, err = net.Listen("tcp", fmt.Sprintf("%s:0", host))
		if err != nil {
			return nil, 0, err
		}
	}
	return ln, ln.Addr().(*net.TCPAddr).Port, nil
}

func asErrAlreadyRunning(err error, target **lock.ErrAlreadyRunning) bool {
	already, ok := err.(*lock.ErrAlreadyRunning)
	if ok {
		*target = already
	}
	return ok
}
