package main

import (
	"net"
	"strconv"

	"go.opentelemetry.io/contrib/instrumentation/google.golang.org/grpc/otelgrpc"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"salechain/core"
	"salechain/core/events"
	"salechain/native/sale"
)

// saleHealthService reports NOT_SERVING while settlement is paused or the
// sale is not configured. The empty service name tracks the process.
const saleHealthService = "salechain.Sale"

type healthServer struct {
	grpc   *grpc.Server
	health *health.Server
}

func newHealthServer() *healthServer {
	srv := grpc.NewServer(
		grpc.ChainUnaryInterceptor(otelgrpc.UnaryServerInterceptor()),
		grpc.ChainStreamInterceptor(otelgrpc.StreamServerInterceptor()),
	)
	hs := health.NewServer()
	healthpb.RegisterHealthServer(srv, hs)
	hs.SetServingStatus("", healthpb.HealthCheckResponse_NOT_SERVING)
	hs.SetServingStatus(saleHealthService, healthpb.HealthCheckResponse_NOT_SERVING)
	return &healthServer{grpc: srv, health: hs}
}

// markReady flips the process to SERVING and seeds the sale status from the
// committed configuration.
func (h *healthServer) markReady(node *core.Node) {
	h.health.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	cfg, err := node.SaleConfig()
	h.setSale(err == nil && !cfg.Paused)
}

// Emit implements events.Emitter, following pause and configuration changes.
func (h *healthServer) Emit(evt events.Event) {
	flat := events.Flatten(evt)
	if flat == nil {
		return
	}
	switch flat.Type {
	case sale.EventTypePaused:
		h.setSale(false)
	case sale.EventTypeUnpaused:
		h.setSale(true)
	case sale.EventTypeConfigInitialized, sale.EventTypeConfigReset:
		paused, err := strconv.ParseBool(flat.Attributes["paused"])
		if err == nil {
			h.setSale(!paused)
		}
	}
}

func (h *healthServer) setSale(serving bool) {
	status := healthpb.HealthCheckResponse_NOT_SERVING
	if serving {
		status = healthpb.HealthCheckResponse_SERVING
	}
	h.health.SetServingStatus(saleHealthService, status)
}

func (h *healthServer) serve(listener net.Listener) error {
	return h.grpc.Serve(listener)
}

func (h *healthServer) stop() {
	h.health.Shutdown()
	h.grpc.GracefulStop()
}
