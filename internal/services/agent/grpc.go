package agent

import (
	"context"
	"net"

	"github.com/pkg/errors"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/LeonardoBeccarini/autogrow-agent/pkg/logging"
)

// HealthService is the gRPC service name reported by the health server.
const HealthService = "autogrow.Agent"

// HealthServer exposes the standard gRPC health protocol.
type HealthServer struct {
	srv    *grpc.Server
	health *health.Server
	log    logging.Logger
}

func NewHealthServer(log logging.Logger) *HealthServer {
	hs := health.NewServer()
	hs.SetServingStatus(HealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	srv := grpc.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	return &HealthServer{srv: srv, health: hs, log: log}
}

func (h *HealthServer) SetServing(ok bool) {
	st := healthpb.HealthCheckResponse_NOT_SERVING
	if ok {
		st = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(HealthService, st)
}

// Serve listens on addr until ctx ends.
func (h *HealthServer) Serve(ctx context.Context, addr string) error {
	lis, err := net.Listen("tcp", addr)
	if err != nil {
		return errors.Wrapf(err, "grpc: listen %s", addr)
	}
	return h.ServeListener(ctx, lis)
}

func (h *HealthServer) ServeListener(ctx context.Context, lis net.Listener) error {
	go func() {
		<-ctx.Done()
		h.SetServing(false)
		h.health.Shutdown()
		h.srv.GracefulStop()
	}()
	h.log.Infof("grpc: health listening on %s", lis.Addr())
	if err := h.srv.Serve(lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
		return errors.Wrap(err, "grpc: serve")
	}
	return nil
}
