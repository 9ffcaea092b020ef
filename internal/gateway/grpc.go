// ABOUTME: gRPC health service for load balancers and the CLI health probe
// ABOUTME: Serves grpc.health.v1 with the overall status tracking gateway lifecycle

package gateway

import (
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/keepalive"
)

// ChatService is the service name reported by the health server for the
// framed chat listener.
const ChatService = "petchat.Chat"

// newHealthServer creates a gRPC server exposing only the standard health
// service. Both the overall ("") and ChatService statuses start SERVING;
// Shutdown flips them to NOT_SERVING.
func newHealthServer() (*grpc.Server, *health.Server) {
	server := grpc.NewServer(
		grpc.KeepaliveParams(keepalive.ServerParameters{
			Time:    15 * time.Second,
			Timeout: 5 * time.Second,
		}),
		grpc.KeepaliveEnforcementPolicy(keepalive.EnforcementPolicy{
			MinTime:             5 * time.Second,
			PermitWithoutStream: true,
		}),
	)

	hs := health.NewServer()
	hs.SetServingStatus("", healthpb.HealthCheckResponse_SERVING)
	hs.SetServingStatus(ChatService, healthpb.HealthCheckResponse_SERVING)
	healthpb.RegisterHealthServer(server, hs)

	return server, hs
}
