package server

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"sync"

	"github.com/INLOpen/nexuswal/config"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
)

// AppServer manages the network-facing servers: the gRPC health server, the
// debug/metrics HTTP server and the system collector.
type AppServer struct {
	grpcLis       net.Listener
	metricsLis    net.Listener
	healthServer  *HealthServer
	metricsServer *MetricsServer
	collector     *SystemCollector
	logger        *slog.Logger

	mu     sync.Mutex
	cancel context.CancelFunc
}

// NewAppServer binds the configured listeners. A zero gRPC port or a disabled
// debug section leaves the corresponding server out.
func NewAppServer(source WALSource, cfg *config.Config, logger *slog.Logger) (*AppServer, error) {
	appSrv := &AppServer{logger: logger.With("component", "AppServer")}

	if cfg.Server.GRPCPort > 0 {
		grpcAddr := fmt.Sprintf(":%d", cfg.Server.GRPCPort)
		grpcLis, err := net.Listen("tcp", grpcAddr)
		if err != nil {
			return nil, fmt.Errorf("failed to listen on gRPC port %s: %w", grpcAddr, err)
		}
		interval := config.ParseDuration(cfg.Server.HealthCheckInterval, 0, logger)
		appSrv.grpcLis = grpcLis
		appSrv.healthServer = NewHealthServer(source, interval, logger)
	} else {
		logger.Info("gRPC server is disabled (port is 0 or not configured).")
	}

	if cfg.Debug.Enabled {
		metricsLis, err := net.Listen("tcp", cfg.Debug.ListenAddress)
		if err != nil {
			appSrv.closeListeners()
			return nil, fmt.Errorf("failed to listen on debug address %s: %w", cfg.Debug.ListenAddress, err)
		}
		appSrv.metricsLis = metricsLis
		appSrv.metricsServer = NewMetricsServer(&cfg.Debug, NewRegistry(source), logger)
	}

	if cfg.SelfMonitoring.Enabled {
		interval := config.ParseDuration(cfg.SelfMonitoring.Interval, 0, logger)
		appSrv.collector = NewSystemCollector(cfg.Engine.DataDir, interval, logger)
	}
	return appSrv, nil
}

func (s *AppServer) closeListeners() {
	for _, lis := range []net.Listener{s.grpcLis, s.metricsLis} {
		if lis != nil {
			_ = lis.Close()
		}
	}
}

// GRPCAddr returns the bound gRPC address, or nil when disabled.
func (s *AppServer) GRPCAddr() net.Addr {
	if s.grpcLis == nil {
		return nil
	}
	return s.grpcLis.Addr()
}

// MetricsAddr returns the bound debug HTTP address, or nil when disabled.
func (s *AppServer) MetricsAddr() net.Addr {
	if s.metricsLis == nil {
		return nil
	}
	return s.metricsLis.Addr()
}

// Start runs all configured servers in parallel. It blocks until Stop is
// called or one of them fails.
func (s *AppServer) Start() error {
	if s.healthServer == nil && s.metricsServer == nil {
		s.logger.Error("No servers to start.")
		return nil
	}

	g, ctx := errgroup.WithContext(context.Background())
	appCtx, cancel := context.WithCancel(ctx)
	s.mu.Lock()
	s.cancel = cancel
	s.mu.Unlock()
	defer cancel()

	if s.collector != nil {
		s.collector.Start()
		defer s.collector.Stop()
	}

	if s.healthServer != nil {
		g.Go(func() error {
			go func() {
				<-appCtx.Done()
				s.logger.Info("Context cancelled, stopping gRPC health server...")
				s.healthServer.Stop()
			}()
			go s.healthServer.Watch(appCtx)
			return s.healthServer.Start(s.grpcLis)
		})
	}

	if s.metricsServer != nil {
		g.Go(func() error {
			go func() {
				<-appCtx.Done()
				s.logger.Info("Context cancelled, stopping metrics server...")
				s.metricsServer.Stop()
			}()
			return s.metricsServer.Start(s.metricsLis)
		})
	}

	s.logger.Info("Application server started. Waiting for servers to exit.")
	err := g.Wait()
	if err != nil && !errors.Is(err, grpc.ErrServerStopped) && !errors.Is(err, net.ErrClosed) && !errors.Is(err, http.ErrServerClosed) {
		s.logger.Error("A server has failed, initiating shutdown.", "error", err)
		return fmt.Errorf("server group failed: %w", err)
	}
	s.logger.Info("All servers have stopped gracefully.")
	return nil
}

// Stop gracefully shuts down all servers.
func (s *AppServer) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	} else {
		s.closeListeners()
	}
}
