package observability

import (
	"context"
	"fmt"
	"net"
	"sort"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// GRPCHealthServer exposes the standard grpc.health.v1 service, mirroring the
// readiness checks so gRPC-native probes see the same answer as /ready.
type GRPCHealthServer struct {
	server   *grpc.Server
	health   *health.Server
	checks   map[string]HealthCheckFunc
	names    []string
	interval time.Duration
	logger   zerolog.Logger
}

// NewGRPCHealthServer creates a health server that re-evaluates checks every interval.
func NewGRPCHealthServer(checks map[string]HealthCheckFunc, interval time.Duration, logger zerolog.Logger) *GRPCHealthServer {
	names := make([]string, 0, len(checks))
	for name := range checks {
		names = append(names, name)
	}
	sort.Strings(names)

	if interval <= 0 {
		interval = 10 * time.Second
	}

	s := &GRPCHealthServer{
		server:   grpc.NewServer(),
		health:   health.NewServer(),
		checks:   checks,
		names:    names,
		interval: interval,
		logger:   logger,
	}
	healthpb.RegisterHealthServer(s.server, s.health)
	return s
}

// Serve listens on addr and blocks until ctx is done or the server fails.
func (s *GRPCHealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on %s: %w", addr, err)
	}

	s.refresh(ctx)
	go s.watch(ctx)

	go func() {
		<-ctx.Done()
		s.health.Shutdown()
		s.server.GracefulStop()
	}()

	s.logger.Info().Str("addr", addr).Msg("gRPC health server listening")
	if err := s.server.Serve(lis); err != nil {
		return fmt.Errorf("gRPC health server failed: %w", err)
	}
	return nil
}

// Health returns the underlying health service, for tests and in-process use.
func (s *GRPCHealthServer) Health() *health.Server {
	return s.health
}

func (s *GRPCHealthServer) watch(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			s.refresh(ctx)
		}
	}
}

func (s *GRPCHealthServer) refresh(ctx context.Context) {
	checkCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	deps, ok := RunChecks(checkCtx, s.names, s.checks)
	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
		s.logger.Warn().Interface("dependencies", deps).Msg("readiness checks failing")
	}
	s.health.SetServingStatus("", status)
	s.health.SetServingStatus(serviceName, status)
}
