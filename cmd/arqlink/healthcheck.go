package main

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/irctrakz/arqlink/pkg/logging"
	"github.com/irctrakz/arqlink/pkg/transport"
)

// metricsSource yields the current endpoint view for the HTTP handlers and
// the periodic reporter.
type metricsSource func() transport.DetailedMetrics

func listenerSource(l *transport.Listener) metricsSource {
	return l.DetailedMetrics
}

func sessionSource(s *transport.Session) metricsSource {
	return func() transport.DetailedMetrics {
		active := uint64(1)
		if s.Dead() {
			active = 0
		}
		return transport.DetailedMetrics{
			Total:          s.Metrics(),
			ActiveSessions: active,
			Sessions: []transport.SessionMetrics{{
				Conv:   s.Conv(),
				Remote: s.RemoteAddr().String(),
				Engine: s.Stats(),
			}},
		}
	}
}

// healthy is false once every session of the endpoint has a dead link.
func healthy(dm transport.DetailedMetrics) bool {
	if len(dm.Sessions) == 0 {
		return true
	}
	for _, s := range dm.Sessions {
		if !s.Engine.Dead {
			return true
		}
	}
	return false
}

func newHealthMux(src metricsSource) *http.ServeMux {
	mux := http.NewServeMux()
	mux.HandleFunc("/health", func(w http.ResponseWriter, r *http.Request) {
		if !healthy(src()) {
			w.WriteHeader(http.StatusServiceUnavailable)
			w.Write([]byte("dead link"))
			return
		}
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/metrics", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(src()); err != nil {
			logging.Warnf("metrics: encode failed: %v", err)
		}
	})
	return mux
}

func runHealthServer(ctx context.Context, addr string, src metricsSource) {
	srv := &http.Server{
		Addr:              addr,
		Handler:           newHealthMux(src),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()
	logging.Infof("health endpoint on http://%s/health", addr)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		logging.Warnf("health server: %v", err)
	}
}
