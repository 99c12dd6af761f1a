// Package grpcapi exposes the standard gRPC health service for the gateway.
// Serving status follows the transcription engine state.
package grpcapi

import (
	"context"
	"errors"
	"net"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/health"
	"google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"chat-stt-gateway/internal/engine"
	"chat-stt-gateway/internal/observability"
	"chat-stt-gateway/internal/observability/metrics"
)

// Service names reported by the health server.
const (
	ServiceTranscription = "stt.Transcription"
	ServiceChatRelay     = "chat.Relay"
)

// Server wraps a grpc.Server carrying health and reflection.
type Server struct {
	addr     string
	server   *grpc.Server
	health   *health.Server
	services []string
	logger   zerolog.Logger
	lis      net.Listener
}

// New creates the server. services are the named services whose status
// tracks the engine; the overall ("") service is always included.
func New(addr string, services []string, m *metrics.Metrics, logger zerolog.Logger) *Server {
	if m == nil {
		m = metrics.DefaultMetrics
	}
	logger = logger.With().Str("component", "grpc").Logger()
	server := grpc.NewServer(
		grpc.ChainUnaryInterceptor(observability.UnaryServerInterceptor(m, logger)),
		grpc.ChainStreamInterceptor(observability.StreamServerInterceptor(m, logger)),
	)

	// Register gRPC health check service
	healthServer := health.NewServer()
	grpc_health_v1.RegisterHealthServer(server, healthServer)

	// Enable gRPC reflection for debugging tools like grpcurl
	reflection.Register(server)

	s := &Server{
		addr:     addr,
		server:   server,
		health:   healthServer,
		services: append([]string{""}, services...),
		logger:   logger,
	}
	s.SetEngineState(engine.StateUninitialized)
	return s
}

// SetEngineState maps an engine state to serving status for every service.
func (s *Server) SetEngineState(state engine.State) {
	status := grpc_health_v1.HealthCheckResponse_NOT_SERVING
	if state == engine.StateReady {
		status = grpc_health_v1.HealthCheckResponse_SERVING
	}
	for _, name := range s.services {
		s.health.SetServingStatus(name, status)
	}
}

// Listen binds the listen address. Start calls it when needed.
func (s *Server) Listen() (net.Addr, error) {
	lis, err := net.Listen("tcp", s.addr)
	if err != nil {
		return nil, err
	}
	s.lis = lis
	return lis.Addr(), nil
}

// Start serves in a goroutine.
func (s *Server) Start() error {
	if s.lis == nil {
		if _, err := s.Listen(); err != nil {
			return err
		}
	}
	go func() {
		s.logger.Info().Str("addr", s.lis.Addr().String()).Msg("gRPC health server started")
		if err := s.server.Serve(s.lis); err != nil && !errors.Is(err, grpc.ErrServerStopped) {
			s.logger.Error().Err(err).Msg("gRPC serve failed")
		}
	}()
	return nil
}

// Shutdown marks every service NOT_SERVING and stops gracefully, forcing a
// stop when ctx ends first.
func (s *Server) Shutdown(ctx context.Context) {
	s.logger.Info().Msg("Shutting down gRPC server")
	s.health.Shutdown()

	done := make(chan struct{})
	go func() {
		s.server.GracefulStop()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		s.server.Stop()
	}
}
