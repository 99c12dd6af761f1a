// Package observability provides gRPC interceptors and the metrics HTTP server.
package observability

import (
	"context"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chat-stt-gateway/internal/observability/metrics"
)

const healthPrefix = "/grpc.health.v1.Health/"

// UnaryServerInterceptor records every unary call and turns handler panics
// into codes.Internal. Health checks are logged at trace level since load
// balancers poll them constantly.
func UnaryServerInterceptor(m *metrics.Metrics, logger zerolog.Logger) grpc.UnaryServerInterceptor {
	return func(ctx context.Context, req any, info *grpc.UnaryServerInfo, handler grpc.UnaryHandler) (resp any, err error) {
		start := time.Now()
		defer func() {
			if p := recover(); p != nil {
				logger.Error().Str("method", info.FullMethod).Interface("panic", p).Msg("gRPC handler panicked")
				resp, err = nil, status.Errorf(codes.Internal, "internal error")
			}
			code := status.Code(err)
			m.RecordGRPCCall(info.FullMethod, code.String())
			callEvent(logger, info.FullMethod, code).
				Dur("duration", time.Since(start)).
				Msg("gRPC call")
		}()
		return handler(ctx, req)
	}
}

// StreamServerInterceptor tracks open streams (health Watch is the only
// streaming method today) and records each one when it ends.
func StreamServerInterceptor(m *metrics.Metrics, logger zerolog.Logger) grpc.StreamServerInterceptor {
	return func(srv any, ss grpc.ServerStream, info *grpc.StreamServerInfo, handler grpc.StreamHandler) (err error) {
		start := time.Now()
		m.GRPCStreamsActive.Inc()
		defer func() {
			m.GRPCStreamsActive.Dec()
			if p := recover(); p != nil {
				logger.Error().Str("method", info.FullMethod).Interface("panic", p).Msg("gRPC stream panicked")
				err = status.Errorf(codes.Internal, "internal error")
			}
			code := status.Code(err)
			m.RecordGRPCCall(info.FullMethod, code.String())
			logger.Info().
				Str("method", info.FullMethod).
				Str("code", code.String()).
				Dur("duration", time.Since(start)).
				Msg("gRPC stream closed")
		}()
		return handler(srv, ss)
	}
}

func callEvent(logger zerolog.Logger, method string, code codes.Code) *zerolog.Event {
	ev := logger.Debug()
	switch {
	case code != codes.OK && code != codes.NotFound:
		ev = logger.Warn()
	case strings.HasPrefix(method, healthPrefix):
		ev = logger.Trace()
	}
	return ev.Str("method", method).Str("code", code.String())
}
