// Package grpc exposes the standard gRPC health service for macaria.
//
// Orchestrators that probe over gRPC see SERVING while the session loop is
// running. Server reflection is enabled so grpcurl and grpc_cli work
// without local protos.
package grpc

import (
	"context"
	"fmt"
	"log/slog"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health service name reported alongside the overall
// server status.
const ServiceName = "macaria.Session"

// Server wraps a gRPC server carrying the health and reflection services.
type Server struct {
	port   int
	server *grpc.Server
	health *health.Server
}

// New creates a gRPC health server on the given port. It starts out
// NOT_SERVING.
func New(port int) *Server {
	s := grpc.NewServer()
	hs := health.NewServer()
	healthpb.RegisterHealthServer(s, hs)
	reflection.Register(s)

	srv := &Server{port: port, server: s, health: hs}
	srv.SetServing(false)
	return srv
}

// SetServing flips both the overall and the session service status.
func (s *Server) SetServing(serving bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		st = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus("", st)
	s.health.SetServingStatus(ServiceName, st)
}

// Start listens on the configured port and serves until ctx is cancelled.
func (s *Server) Start(ctx context.Context) error {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", s.port))
	if err != nil {
		return fmt.Errorf("grpc listen: %w", err)
	}
	slog.Info("grpc health server listening", "port", s.port)
	return s.Serve(ctx, lis)
}

// Serve runs on an existing listener until ctx is cancelled.
func (s *Server) Serve(ctx context.Context, lis net.Listener) error {
	errCh := make(chan error, 1)
	go func() {
		errCh <- s.server.Serve(lis)
	}()

	select {
	case err := <-errCh:
		return fmt.Errorf("grpc serve: %w", err)
	case <-ctx.Done():
		slog.Info("grpc health server shutting down")
		s.health.Shutdown()
		s.server.GracefulStop()
		return nil
	}
}
