// Package main runs the peerwall core headless against a live backend. It
// loads every container, logs toasts, and optionally serves health and
// metrics on a loopback address until interrupted.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kimhsiao/peerwall/core/internal/client"
	"github.com/kimhsiao/peerwall/core/internal/config"
	"github.com/kimhsiao/peerwall/core/internal/logging"
	"github.com/kimhsiao/peerwall/core/internal/notify"
	"github.com/kimhsiao/peerwall/core/internal/telemetry"
)

// Version is set at build time
var Version = "0.1.0"

const configPath = "peerwall.yaml"

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "peerwall core: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	out, closeLog, err := openLog(cfg.Log.File)
	if err != nil {
		return err
	}
	defer closeLog()
	logging.Init(out, logging.ParseLevel(cfg.Log.Level))
	logging.Info("peerwall core starting", logging.Fields{"version": Version, "backend": cfg.Backend.URL})

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	c, err := client.Connect(ctx, cfg, nil)
	if err != nil {
		return err
	}
	defer c.Close()

	c.Toasts.OnToast(func(t notify.Toast) {
		logging.Info("toast", logging.Fields{"level": string(t.Level), "title": t.Title, "body": t.Body})
	})

	if cfg.DebugAddr != "" {
		srv := &http.Server{
			Addr:              cfg.DebugAddr,
			Handler:           debugHandler(c.Metrics, func() bool { return c.Network.Status().Running }),
			ReadHeaderTimeout: 5 * time.Second,
		}
		c.Guard.Go("debug server", func() error {
			if err := srv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = srv.Shutdown(shutdownCtx)
		}()
	}

	if err := c.Start(ctx); err != nil {
		logging.Warn("started with errors", logging.Fields{"error": err.Error()})
	}

	select {
	case <-ctx.Done():
		logging.Info("shutting down")
		return nil
	case <-c.Done():
		return errors.New("backend connection lost")
	}
}

// openLog returns the log sink: stderr, or the file at path.
func openLog(path string) (io.Writer, func(), error) {
	if path == "" {
		return os.Stderr, func() {}, nil
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return nil, nil, fmt.Errorf("failed to create log directory: %w", err)
	}
	f, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open log file: %w", err)
	}
	return f, func() { f.Close() }, nil
}

// debugHandler serves /api/health and /metrics.
func debugHandler(metrics *telemetry.Metrics, networkRunning func() bool) http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/api/health", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_ = json.NewEncoder(w).Encode(map[string]any{
			"status":  "ok",
			"service": "peerwall-core",
			"version": Version,
			"network": networkRunning(),
		})
	})
	mux.Handle("/metrics", metrics.Handler())
	return mux
}
