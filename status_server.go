package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/gorilla/mux"

	"inventariagent/internal/model"
)

// newStatusRouter serves agent metrics, liveness and a policy dry-run.
func newStatusRouter(app *AppContext) *mux.Router {
	r := mux.NewRouter()
	r.Handle("/metrics", app.Telemetry.Handler()).Methods(http.MethodGet)
	r.HandleFunc("/healthz", healthHandler(app)).Methods(http.MethodGet)
	r.HandleFunc("/policy/classify", classifyHandler(app)).Methods(http.MethodGet)
	return r
}

// healthHandler reports 503 once the metrics loop has missed three cycles.
func healthHandler(app *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		view := app.State.view(app.Config.DeviceID)
		stale := 3 * app.Config.metricsInterval()
		last := view.LastCycle
		if last.IsZero() {
			last = view.StartTime
		}

		status := "healthy"
		code := http.StatusOK
		if app.Clock.Now().Sub(last) > stale {
			status = "stalled"
			code = http.StatusServiceUnavailable
		}
		writeJSON(w, code, map[string]interface{}{
			"status": status,
			"agent":  view,
		})
	}
}

func classifyHandler(app *AppContext) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		exe := r.URL.Query().Get("exe")
		if exe == "" {
			http.Error(w, "exe is required", http.StatusBadRequest)
			return
		}
		d := app.Policy.Classify(model.ProcessObservation{Name: exe, Cmdline: r.URL.Query().Get("cmdline")})
		writeJSON(w, http.StatusOK, d)
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Debug("Status response write failed", "err", err)
	}
}

// serveStatus runs the status server until ctx is done.
func serveStatus(ctx context.Context, app *AppContext) error {
	srv := &http.Server{
		Addr:              app.Config.MetricsServer.Listen,
		Handler:           newStatusRouter(app),
		ReadHeaderTimeout: 5 * time.Second,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      10 * time.Second,
		IdleTimeout:       30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		slog.Info("Status server listening", "addr", srv.Addr)
		errCh <- srv.ListenAndServe()
	}()

	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("status server on %s: %w", srv.Addr, err)
		}
		return nil
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	srv.SetKeepAlivesEnabled(false)
	if err := srv.Shutdown(shutdownCtx); err != nil {
		slog.Warn("Status server shutdown", "err", err)
	}
	slog.Info("Status server stopped")
	return nil
}
