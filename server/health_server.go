package server

import (
	"context"
	"log/slog"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// WALServiceName is the health service reporting write availability. The
// empty service name reports the process as a whole.
const WALServiceName = "nexuswal.WAL"

// HealthServer exposes the standard gRPC health service. It reports
// NOT_SERVING for WALServiceName once the engine turned read-only.
type HealthServer struct {
	server    *grpc.Server
	healthSrv *health.Server
	source    WALSource
	interval  time.Duration
	logger    *slog.Logger
}

func NewHealthServer(source WALSource, interval time.Duration, logger *slog.Logger) *HealthServer {
	if interval <= 0 {
		interval = 5 * time.Second
	}
	s := &HealthServer{
		server:    grpc.NewServer(),
		healthSrv: health.NewServer(),
		source:    source,
		interval:  interval,
		logger:    logger.With("component", "HealthServer"),
	}
	grpc_health_v1.RegisterHealthServer(s.server, s.healthSrv)
	reflection.Register(s.server)
	s.refresh()
	return s
}

// refresh publishes the current status and reports whether writes are accepted.
func (s *HealthServer) refresh() bool {
	status := grpc_health_v1.HealthCheckResponse_SERVING
	if s.source.IsReadOnly() {
		status = grpc_health_v1.HealthCheckResponse_NOT_SERVING
	}
	s.healthSrv.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)
	s.healthSrv.SetServingStatus(WALServiceName, status)
	return status == grpc_health_v1.HealthCheckResponse_SERVING
}

// Watch re-evaluates the status every interval until ctx is done.
func (s *HealthServer) Watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	serving := true
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			now := s.refresh()
			if serving && !now {
				s.logger.Error("WAL service is no longer serving: storage is read-only")
			}
			serving = now
		}
	}
}

// Start begins listening for gRPC requests.
func (s *HealthServer) Start(lis net.Listener) error {
	s.logger.Info("gRPC health server listening", "address", lis.Addr().String())
	return s.server.Serve(lis)
}

// Stop marks every service NOT_SERVING and stops the gRPC server gracefully.
func (s *HealthServer) Stop() {
	s.healthSrv.Shutdown()
	s.server.GracefulStop()
	s.logger.Info("gRPC health server stopped.")
}
