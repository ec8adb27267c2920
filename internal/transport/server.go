package transport

import (
	"fmt"
	"net"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"txpub/internal/logging"
)

// Service is the health service name the publisher reports under. The empty
// name reports whether the process itself is up.
const Service = "txpub.Publisher"

type Server struct {
	grpc   *grpc.Server
	health *health.Server
	lis    net.Listener
}

func StartServer(port int) (*Server, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}
	return NewServer(lis), nil
}

// NewServer registers the health service on lis. The publisher starts out
// NOT_SERVING until SetServing(true).
func NewServer(lis net.Listener) *Server {
	s := &Server{
		grpc:   grpc.NewServer(),
		health: health.NewServer(),
		lis:    lis,
	}
	healthpb.RegisterHealthServer(s.grpc, s.health)
	s.health.SetServingStatus(Service, healthpb.HealthCheckResponse_NOT_SERVING)
	return s
}

func (s *Server) SetServing(ok bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		status = healthpb.HealthCheckResponse_SERVING
	}
	s.health.SetServingStatus(Service, status)
}

func (s *Server) Addr() net.Addr { return s.lis.Addr() }

func (s *Server) Serve() error {
	logging.L().Info("grpc health server listening", "addr", s.lis.Addr().String())
	return s.grpc.Serve(s.lis)
}

func (s *Server) Stop() {
	s.health.Shutdown()
	s.grpc.GracefulStop()
}
