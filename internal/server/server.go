// Package server wraps a peer.Peer in a gRPC server hosting the single
// multiplexed Dispatch service (component C10's transport half), grounded
// on the teacher's internal/server package.
package server

import (
	"fmt"
	"net"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"

	"overlay/internal/logger"
	"overlay/internal/telemetry/searchtrace"
	"overlay/internal/wire"
)

// Server wraps a gRPC server hosting the Dispatch service on top of a
// wire.DispatchServer implementation (in practice, a *peer.Peer).
type Server struct {
	grpcServer *grpc.Server
	listener   net.Listener
	lgr        logger.Logger
}

// New creates a gRPC server bound to lis and registers srv's Dispatch
// method. A server-side otelgrpc stats handler is always installed so
// every Dispatch call is traced the same way regardless of the caller, and
// searchtrace.ServerInterceptor adds the finer-grained SearchExact/FindQuery
// spans on top of it.
func New(lis net.Listener, srv wire.DispatchServer, grpcOpts []grpc.ServerOption, srvOpts ...Option) (*Server, error) {
	opts := append([]grpc.ServerOption{
		grpc.StatsHandler(otelgrpc.NewServerHandler()),
		grpc.ChainUnaryInterceptor(searchtrace.ServerInterceptor()),
	}, grpcOpts...)
	s := &Server{
		grpcServer: grpc.NewServer(opts...),
		listener:   lis,
		lgr:        logger.NopLogger{},
	}
	for _, opt := range srvOpts {
		opt(s)
	}
	wire.RegisterDispatchServer(s.grpcServer, srv)
	return s, nil
}

// Start runs the gRPC server and blocks until it stops.
func (s *Server) Start() error {
	s.lgr.Info("dispatch server listening", logger.F("addr", s.listener.Addr().String()))
	if err := s.grpcServer.Serve(s.listener); err != nil {
		return fmt.Errorf("gRPC server stopped: %w", err)
	}
	return nil
}

// Stop immediately stops the server and closes all active connections.
func (s *Server) Stop() {
	s.grpcServer.Stop()
}

// GracefulStop waits for in-flight RPCs to complete before stopping.
func (s *Server) GracefulStop() {
	s.grpcServer.GracefulStop()
}
