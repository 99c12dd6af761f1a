package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"chat-stt-gateway/internal/config"
	"chat-stt-gateway/internal/engine"
	"chat-stt-gateway/internal/engine/mock"
	"chat-stt-gateway/internal/observability/metrics"
)

func testConfig(t *testing.T) *config.Configuration {
	t.Helper()
	return &config.Configuration{
		Service: config.ServiceConfig{Principal: "test-svc"},
		STT: config.STTConfig{
			Engine:      "mock",
			TempDir:     t.TempDir(),
			Workers:     1,
			InitTimeout: time.Second,
		},
		Chat: config.ChatConfig{BaseURL: "http://127.0.0.1:1"},
	}
}

func newTestApp(t *testing.T, cfg *config.Configuration, opts ...Option) *Application {
	t.Helper()
	opts = append([]Option{WithMetrics(metrics.NewMetricsWith(prometheus.NewRegistry()))}, opts...)
	a, err := New(cfg, opts...)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return a
}

func waitDone(t *testing.T, h *engine.Holder) {
	t.Helper()
	select {
	case <-h.Done():
	case <-time.After(2 * time.Second):
		t.Fatal("engine initialization did not finish")
	}
}

func TestNew_UnknownEngine(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.Engine = "whisper.cpp"

	_, err := New(cfg, WithMetrics(metrics.NewMetricsWith(prometheus.NewRegistry())))
	if !errors.Is(err, ErrUnknownEngine) {
		t.Fatalf("expected ErrUnknownEngine, got %v", err)
	}
}

func TestLoaderFor(t *testing.T) {
	for _, name := range []string{"mock", "google", "openai", "command"} {
		l, err := LoaderFor(config.STTConfig{Engine: name})
		if err != nil || l == nil {
			t.Errorf("LoaderFor(%q) = %v, %v", name, l, err)
		}
	}
}

func TestStart_InitializesInBackground(t *testing.T) {
	a := newTestApp(t, testConfig(t), WithLoader(mock.Loader(20*time.Millisecond, nil)))

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	if a.Engine.Ready() {
		t.Error("engine should not be ready before the loader returns")
	}
	waitDone(t, a.Engine)
	if !a.Engine.Ready() {
		t.Fatalf("expected ready, got %s (%v)", a.Engine.State(), a.Engine.Err())
	}
	if a.ModelPath() != "mock://sensevoice" {
		t.Errorf("unexpected model path %q", a.ModelPath())
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.Shutdown(ctx)
	if _, err := a.Engine.Engine(); !errors.Is(err, engine.ErrNotReady) {
		t.Errorf("expected engine closed after shutdown, got %v", err)
	}
}

func TestStart_FailureIsNotFatal(t *testing.T) {
	a := newTestApp(t, testConfig(t), WithLoader(mock.Loader(0, errors.New("no model"))))

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, a.Engine)
	if a.Engine.State() != engine.StateFailed {
		t.Errorf("expected FAILED, got %s", a.Engine.State())
	}
	if a.ModelPath() != a.Cfg.STT.ModelDir {
		t.Errorf("expected configured model dir fallback, got %q", a.ModelPath())
	}
}

func TestStart_InitTimeout(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.InitTimeout = 20 * time.Millisecond
	a := newTestApp(t, cfg, WithLoader(mock.Loader(time.Minute, nil)))

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	waitDone(t, a.Engine)
	if !errors.Is(a.Engine.Err(), context.DeadlineExceeded) {
		t.Errorf("expected deadline exceeded, got %v", a.Engine.Err())
	}
}

func TestShutdown_CancelsInitialization(t *testing.T) {
	cfg := testConfig(t)
	cfg.STT.InitTimeout = 0
	a := newTestApp(t, cfg, WithLoader(mock.Loader(time.Minute, nil)))

	if err := a.Start(context.Background()); err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	a.Shutdown(ctx)

	waitDone(t, a.Engine)
	if a.Engine.State() != engine.StateFailed {
		t.Errorf("expected FAILED after canceled init, got %s", a.Engine.State())
	}
}
