package observability

import (
	"context"
	"errors"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/rs/zerolog"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"chat-stt-gateway/internal/observability/metrics"
)

func TestUnaryServerInterceptor(t *testing.T) {
	tests := []struct {
		name     string
		method   string
		handler  grpc.UnaryHandler
		wantCode codes.Code
	}{
		{
			name:     "ok",
			method:   "/grpc.health.v1.Health/Check",
			handler:  func(ctx context.Context, req any) (any, error) { return "pong", nil },
			wantCode: codes.OK,
		},
		{
			name:   "status error",
			method: "/grpc.health.v1.Health/Check",
			handler: func(ctx context.Context, req any) (any, error) {
				return nil, status.Error(codes.NotFound, "unknown service")
			},
			wantCode: codes.NotFound,
		},
		{
			name:     "plain error",
			method:   "/stt.Transcription/Other",
			handler:  func(ctx context.Context, req any) (any, error) { return nil, errors.New("boom") },
			wantCode: codes.Unknown,
		},
		{
			name:     "panic",
			method:   "/stt.Transcription/Other",
			handler:  func(ctx context.Context, req any) (any, error) { panic("engine exploded") },
			wantCode: codes.Internal,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := metrics.NewMetricsWith(prometheus.NewRegistry())
			ic := UnaryServerInterceptor(m, zerolog.Nop())

			_, err := ic(context.Background(), nil, &grpc.UnaryServerInfo{FullMethod: tt.method}, tt.handler)
			if got := status.Code(err); got != tt.wantCode {
				t.Errorf("expected code %s, got %s (%v)", tt.wantCode, got, err)
			}
			if n := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(tt.method, tt.wantCode.String())); n != 1 {
				t.Errorf("expected one recorded call, got %v", n)
			}
		})
	}
}

type nopStream struct{ grpc.ServerStream }

func TestStreamServerInterceptor_TracksActiveStreams(t *testing.T) {
	m := metrics.NewMetricsWith(prometheus.NewRegistry())
	ic := StreamServerInterceptor(m, zerolog.Nop())
	info := &grpc.StreamServerInfo{FullMethod: "/grpc.health.v1.Health/Watch"}

	err := ic(nil, nopStream{}, info, func(srv any, ss grpc.ServerStream) error {
		if n := testutil.ToFloat64(m.GRPCStreamsActive); n != 1 {
			t.Errorf("expected one active stream inside the handler, got %v", n)
		}
		panic("watch exploded")
	})
	if status.Code(err) != codes.Internal {
		t.Errorf("expected Internal after panic, got %v", err)
	}
	if n := testutil.ToFloat64(m.GRPCStreamsActive); n != 0 {
		t.Errorf("expected no active streams after return, got %v", n)
	}
	if n := testutil.ToFloat64(m.GRPCCalls.WithLabelValues(info.FullMethod, codes.Internal.String())); n != 1 {
		t.Errorf("expected the stream recorded once, got %v", n)
	}
}
