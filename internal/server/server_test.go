package server

import (
	"context"
	"testing"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/health/grpc_health_v1"

	"github.com/stackwatch/stackwatch-ai/internal/config"
)

func TestStartStop(t *testing.T) {
	cfg := config.DefaultConfig()
	cfg.Server.Port = 0           // ephemeral
	cfg.Server.GRPCHealthPort = 0 // disabled

	srv := New(cfg, Deps{Store: newFakeStore(), Logger: zap.NewNop()})
	if err := srv.Start(); err != nil {
		t.Fatalf("start: %v", err)
	}
	if err := srv.Start(); err == nil {
		t.Errorf("second start should fail")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("stop: %v", err)
	}
	// Stopping twice is a no-op.
	if err := srv.Stop(ctx); err != nil {
		t.Fatalf("second stop: %v", err)
	}
}

func TestGRPCHealth(t *testing.T) {
	h, err := startHealthServer(0, zap.NewNop())
	if err != nil {
		t.Fatalf("start health server: %v", err)
	}
	defer h.stop()

	conn, err := grpc.NewClient(h.addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	resp, err := grpc_health_v1.NewHealthClient(conn).Check(ctx, &grpc_health_v1.HealthCheckRequest{})
	if err != nil {
		t.Fatalf("health check: %v", err)
	}
	if resp.Status != grpc_health_v1.HealthCheckResponse_SERVING {
		t.Errorf("status = %v, want SERVING", resp.Status)
	}
}
