// Package server exposes the dispatch core's only network surface: a bare
// gRPC health-check + reflection listener. No business RPCs are registered
// here — the core's actual work (matrix fetches, assignment, batching,
// reassignment scans) runs as internal engine goroutines owned by
// internal/supervisor, not as served RPCs. This package exists purely so an
// orchestrator (k8s liveness/readiness probe, systemd watchdog) has
// something to dial.
package server

import (
	"context"
	"fmt"
	"net"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/grpc/reflection"

	"dispatch/pkg/config"
	"dispatch/pkg/logger"
)

// HealthServer wraps a grpc.Server exposing only health and reflection.
type HealthServer struct {
	server      *grpc.Server
	health      *health.Server
	serviceName string
	config      *config.Config
}

// New builds a health-only gRPC server from configuration.
func New(cfg *config.Config) *HealthServer {
	kaParams := keepalive.ServerParameters{
		MaxConnectionIdle:     cfg.GRPC.KeepAlive.MaxConnectionIdle,
		MaxConnectionAge:      cfg.GRPC.KeepAlive.MaxConnectionAge,
		MaxConnectionAgeGrace: cfg.GRPC.KeepAlive.MaxConnectionAgeGrace,
		Time:                  cfg.GRPC.KeepAlive.Time,
		Timeout:               cfg.GRPC.KeepAlive.Timeout,
	}

	kaPolicy := keepalive.EnforcementPolicy{
		MinTime:             5 * time.Second,
		PermitWithoutStream: true,
	}

	serverOpts := []grpc.ServerOption{
		grpc.MaxRecvMsgSize(cfg.GRPC.MaxRecvMsgSize),
		grpc.MaxSendMsgSize(cfg.GRPC.MaxSendMsgSize),
		grpc.MaxConcurrentStreams(uint32(cfg.GRPC.MaxConcurrentConn)),
		grpc.KeepaliveParams(kaParams),
		grpc.KeepaliveEnforcementPolicy(kaPolicy),
	}

	s := grpc.NewServer(serverOpts...)

	h := health.NewServer()
	grpc_health_v1.RegisterHealthServer(s, h)

	if cfg.IsDevelopment() {
		reflection.Register(s)
		logger.Log.Debug("gRPC reflection enabled")
	}

	return &HealthServer{
		server:      s,
		health:      h,
		serviceName: cfg.App.Name,
		config:      cfg,
	}
}

// Start begins serving health checks on cfg.GRPC.Port. It does not block;
// callers own the listener's lifetime via Stop/GracefulStop.
func (s *HealthServer) Start(ctx context.Context) error {
	lc := net.ListenConfig{}
	lis, err := lc.Listen(ctx, "tcp", fmt.Sprintf(":%d", s.config.GRPC.Port))
	if err != nil {
		return fmt.Errorf("failed to listen: %w", err)
	}

	s.health.SetServingStatus(s.serviceName, grpc_health_v1.HealthCheckResponse_SERVING)

	errCh := make(chan error, 1)
	go func() {
		logger.Log.Info("starting health server",
			"service", s.serviceName,
			"port", s.config.GRPC.Port,
		)
		if err := s.server.Serve(lis); err != nil {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	default:
		return nil
	}
}

// SetServingStatus updates the reported serving status for this service.
func (s *HealthServer) SetServingStatus(status grpc_health_v1.HealthCheckResponse_ServingStatus) {
	s.health.SetServingStatus(s.serviceName, status)
}

// GracefulStop drains in-flight health checks before stopping.
func (s *HealthServer) GracefulStop() {
	s.server.GracefulStop()
}

// Stop stops the server immediately.
func (s *HealthServer) Stop() {
	s.server.Stop()
}
