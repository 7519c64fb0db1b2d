package server

import (
	"fmt"
	"net"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
)

// healthServer runs the standard gRPC health service so fleet probes
// that speak grpc_health_v1 can watch this instance without touching
// the REST surface.
type healthServer struct {
	grpcServer *grpc.Server
	hs         *health.Server
	addr       string
	logger     *zap.Logger
}

func startHealthServer(port int, logger *zap.Logger) (*healthServer, error) {
	lis, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
	if err != nil {
		return nil, err
	}

	srv := grpc.NewServer()
	hs := health.NewServer()
	grpc_health_v1.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_SERVING)

	go func() {
		logger.Info("grpc health listener started", zap.String("addr", lis.Addr().String()))
		if err := srv.Serve(lis); err != nil {
			logger.Warn("grpc health listener exited", zap.Error(err))
		}
	}()

	return &healthServer{grpcServer: srv, hs: hs, addr: lis.Addr().String(), logger: logger}, nil
}

// stop flips the status to NOT_SERVING before closing so watchers see
// the transition instead of a dropped stream.
func (h *healthServer) stop() {
	h.hs.SetServingStatus("", grpc_health_v1.HealthCheckResponse_NOT_SERVING)
	h.grpcServer.GracefulStop()
}
