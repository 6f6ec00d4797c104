// Package grpcserver hosts the standard grpc.health.v1.Health service over
// a storage.Storage, for orchestrators (Kubernetes liveness/readiness
// probes, etc.) that expect a gRPC health check rather than an HTTP one.
// Mirrors the teacher's server construction/ListenAndServe/GracefulStop
// shape; unlike the teacher there is no application-specific RPC surface
// here (see DESIGN.md for why).
package grpcserver

import (
	"context"
	"net"

	"github.com/nesdb/nesdb/storage"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// Server owns the gRPC server instance and the engine it fronts.
type Server struct {
	store *storage.Storage
	grpc  *grpc.Server
	lis   net.Listener
	hsrv  *health.Server
}

// New constructs a gRPC server and registers the health service, reporting
// SERVING for "" (overall) immediately; store is not checked.
func New(store *storage.Storage, opts ...grpc.ServerOption) *Server {
	hsrv := health.NewServer()
	s := &Server{store: store, grpc: grpc.NewServer(opts...), hsrv: hsrv}
	healthpb.RegisterHealthServer(s.grpc, hsrv)
	hsrv.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	return s
}

// ListenAndServe binds to addr and serves until ctx is done.
func (s *Server) ListenAndServe(ctx context.Context, addr string) error {
	l, err := net.Listen("tcp", addr)
	if err != nil {
		return err
	}
	s.lis = l
	errCh := make(chan error, 1)
	go func() { errCh <- s.grpc.Serve(l) }()
	select {
	case <-ctx.Done():
		s.hsrv.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
		s.grpc.GracefulStop()
		return nil
	case err := <-errCh:
		return err
	}
}

// Close stops the server and closes the listener.
func (s *Server) Close() {
	if s.grpc != nil {
		s.grpc.GracefulStop()
	}
	if s.lis != nil {
		_ = s.lis.Close()
	}
}
