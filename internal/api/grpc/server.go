// Package grpcapi registers the gRPC surface of the transcription core:
// standard health checking and server reflection.
package grpcapi

import (
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"
)

// ServiceName is the health-checked service name.
const ServiceName = "lecture.transcriber.v1.Transcriber"

// Health reports serving status for the whole server and for ServiceName.
type Health struct {
	server *health.Server
	logger zerolog.Logger
}

// Register installs health checking and reflection on g. The server starts
// as NOT_SERVING until SetServing(true).
func Register(g *grpc.Server, logger zerolog.Logger) *Health {
	h := &Health{
		server: health.NewServer(),
		logger: logger.With().Str("component", "grpc-health").Logger(),
	}
	grpc_health_v1.RegisterHealthServer(g, h.server)
	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(g)
	h.SetServing(false)
	return h
}

// SetServing flips both the server-wide and the named service status.
func (h *Health) SetServing(serving bool) {
	st := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if serving {
		st = grpc_health_v1.HealthCheckResponse_SERVING
	}
	h.server.SetServingStatus("", st)
	h.server.SetServingStatus(ServiceName, st)
	h.logger.Info().Str("status", st.String()).Msg("Health status updated")
}

// Shutdown marks every service NOT_SERVING and ignores later updates.
func (h *Health) Shutdown() {
	h.server.Shutdown()
}
