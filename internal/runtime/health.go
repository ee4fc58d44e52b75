package runtime

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// healthBody is the fixed liveness response.
const healthBody = `{"message":"ok"}`

func healthHandler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, req *http.Request) {
		if req.Method != http.MethodGet {
			w.Header().Set("Allow", http.MethodGet)
			http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(healthBody))
	})
	return mux
}

func (r *Runtime) startHealth() *http.Server {
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", r.cfg.HealthPort),
		Handler: healthHandler(),
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error().Err(err).Msg("health server failed")
		}
	}()
	return srv
}

func (r *Runtime) startMetrics() *http.Server {
	if r.cfg.MetricsPort <= 0 {
		return nil
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", r.cfg.MetricsPort),
		Handler: mux,
	}
	go func() {
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			r.log.Error().Err(err).Msg("metrics server failed")
		}
	}()
	return srv
}

func (r *Runtime) stopServer(srv *http.Server) {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Shutdown(ctx); err != nil {
		r.log.Warn().Err(err).Msg("server shutdown")
	}
}
