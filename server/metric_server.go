package server

import (
	"context"
	"errors"
	"expvar"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/http/pprof"
	"sync"
	"time"

	"github.com/INLOpen/nexuswal/config"
	"github.com/arl/statsviz"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// MetricsServer manages the HTTP server for metrics and debugging.
type MetricsServer struct {
	server  *http.Server
	logger  *slog.Logger
	started bool
	mu      sync.Mutex
}

// NewMetricsServer creates the debug HTTP server. gatherer backs the
// Prometheus endpoint; nil disables it.
func NewMetricsServer(cfg *config.DebugConfig, gatherer prometheus.Gatherer, logger *slog.Logger) *MetricsServer {
	mux := http.NewServeMux()
	logger = logger.With("component", "MetricsServer")

	if cfg.PProfEnabled {
		mux.HandleFunc("/debug/pprof/", pprof.Index)
		mux.HandleFunc("/debug/pprof/cmdline", pprof.Cmdline)
		mux.HandleFunc("/debug/pprof/profile", pprof.Profile)
		mux.HandleFunc("/debug/pprof/symbol", pprof.Symbol)
		mux.HandleFunc("/debug/pprof/trace", pprof.Trace)
		logger.Info("pprof profiling endpoints enabled on /debug/pprof")
	}
	if cfg.MetricsEnabled {
		mux.Handle("/metrics", expvar.Handler())
		mux.Handle("/debug/vars", expvar.Handler())
		logger.Info("expvar metrics endpoint enabled on /metrics")
	}
	if cfg.PrometheusEnabled && gatherer != nil {
		mux.Handle("/metrics/prom", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
		logger.Info("Prometheus metrics endpoint enabled on /metrics/prom")
	}
	if cfg.MonitorUIEnabled {
		if err := statsviz.Register(mux,
			statsviz.Root("/viz"),
			statsviz.SendFrequency(250*time.Millisecond),
		); err != nil {
			logger.Warn("Failed to register statsviz", "error", err)
		} else {
			logger.Info("Runtime monitoring UI is available at /viz")
		}
	}

	addr := cfg.ListenAddress
	if addr == "" {
		addr = ":6060"
	}

	return &MetricsServer{
		server: &http.Server{
			Addr:              addr,
			Handler:           mux,
			ReadHeaderTimeout: 10 * time.Second,
		},
		logger: logger,
	}
}

// Handler exposes the routing table, mainly for tests.
func (s *MetricsServer) Handler() http.Handler { return s.server.Handler }

// Start serves on lis until Stop is called. It's a blocking call.
func (s *MetricsServer) Start(lis net.Listener) error {
	s.mu.Lock()
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	s.logger.Info("Metrics server listening", "address", lis.Addr().String())
	if err := s.server.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("Metrics server failed", "error", err)
		return fmt.Errorf("metrics server failed: %w", err)
	}
	return nil
}

// Stop gracefully shuts down the Metrics server.
func (s *MetricsServer) Stop() {
	s.mu.Lock()
	if !s.started {
		s.mu.Unlock()
		return
	}
	s.started = false
	s.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.server.Shutdown(ctx); err != nil {
		s.logger.Error("Metrics server shutdown failed", "error", err)
	} else {
		s.logger.Info("Metrics server stopped gracefully.")
	}
}
