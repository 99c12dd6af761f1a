package app

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"chat-stt-gateway/internal/config"
	"chat-stt-gateway/internal/engine"
	"chat-stt-gateway/internal/engine/command"
	"chat-stt-gateway/internal/engine/google"
	"chat-stt-gateway/internal/engine/mock"
	"chat-stt-gateway/internal/engine/openai"
	"chat-stt-gateway/internal/events"
	"chat-stt-gateway/internal/observability/logging"
	"chat-stt-gateway/internal/observability/metrics"
	"chat-stt-gateway/internal/service/chat"
	"chat-stt-gateway/internal/service/transcription"
	"chat-stt-gateway/internal/worker"
)

// ErrUnknownEngine is returned by New for an unrecognized stt.engine value.
var ErrUnknownEngine = errors.New("unknown stt engine")

// Application holds process-wide state for the service.
type Application struct {
	StartupTime time.Time
	Logger      zerolog.Logger
	Cfg         *config.Configuration

	Metrics   *metrics.Metrics
	Engine    *engine.Holder
	Pool      *worker.Pool
	Publisher *events.Publisher
	Gateway   *transcription.Gateway
	Chat      *chat.Client

	loader     engine.Loader
	initCancel context.CancelFunc
	bg         sync.WaitGroup
}

// Option customizes New.
type Option func(*Application)

// WithLoader replaces the engine loader selected from configuration.
func WithLoader(l engine.Loader) Option {
	return func(a *Application) { a.loader = l }
}

// WithMetrics replaces the global metrics instance.
func WithMetrics(m *metrics.Metrics) Option {
	return func(a *Application) { a.Metrics = m }
}

// New constructs a new Application from the provided configuration. Nothing
// is loaded or connected to the engine until Start.
func New(cfg *config.Configuration, opts ...Option) (*Application, error) {
	a := &Application{
		Cfg:     cfg,
		Metrics: metrics.DefaultMetrics,
	}
	for _, opt := range opts {
		opt(a)
	}
	a.setupLogger()

	if a.loader == nil {
		l, err := LoaderFor(cfg.STT)
		if err != nil {
			return nil, err
		}
		a.loader = l
	}

	a.Engine = engine.NewHolder()
	a.Engine.OnTransition(func(from, to engine.State) {
		a.Metrics.RecordEngineState(to.String())
		a.Logger.Info().
			Str("from", from.String()).
			Str("to", to.String()).
			Msg("Engine state changed")
	})
	a.Metrics.RecordEngineState(a.Engine.State().String())

	a.Pool = worker.NewPool(cfg.STT.Workers, logging.WithComponent("worker"), a.Metrics)
	a.Publisher = events.New(&events.Config{
		Enabled:         cfg.Events.Enabled,
		Backend:         cfg.Events.Backend,
		Brokers:         cfg.Events.Brokers,
		NATSURL:         cfg.Events.NATSURL,
		TopicTranscript: cfg.Events.TopicTranscript,
		TopicChat:       cfg.Events.TopicChat,
		Principal:       cfg.Events.Principal,
	})
	a.Gateway = transcription.NewGateway(
		transcription.Config{EngineName: cfg.STT.Engine, TempDir: cfg.STT.TempDir},
		a.Engine, a.Pool, a.Publisher, a.Logger, a.Metrics,
	)
	a.Chat = chat.NewClient(chat.Config{
		BaseURL:               cfg.Chat.BaseURL,
		APIKey:                cfg.Chat.APIKey,
		User:                  cfg.Chat.User,
		InsecureSkipVerify:    cfg.Chat.InsecureSkipVerify,
		HealthTimeout:         cfg.Chat.HealthTimeout,
		ResponseHeaderTimeout: cfg.Chat.ResponseHeaderTimeout,
	}, a.Logger)

	a.Logger.Info().
		Str("method", "New").
		Str("engine", cfg.STT.Engine).
		Int("workers", a.Pool.Size()).
		Str("events", a.Publisher.Backend()).
		Msg("Chat STT gateway application created")
	return a, nil
}

// LoaderFor picks the engine implementation named by cfg.Engine.
func LoaderFor(cfg config.STTConfig) (engine.Loader, error) {
	switch cfg.Engine {
	case "mock":
		return mock.Loader(0, nil), nil
	case "google":
		return google.Loader(google.Config{
			LanguageCode:  cfg.Google.LanguageCode,
			SampleRateHz:  cfg.Google.SampleRateHz,
			AudioEncoding: cfg.Google.AudioEncoding,
			Model:         cfg.Google.Model,
		}), nil
	case "openai":
		return openai.Loader(openai.Config{
			APIKey:  cfg.OpenAI.APIKey,
			BaseURL: cfg.OpenAI.BaseURL,
			Model:   cfg.OpenAI.Model,
		}), nil
	case "command":
		return command.Loader(command.Config{
			Program:  cfg.Command.Program,
			Args:     cfg.Command.Args,
			ModelDir: cfg.ModelDir,
			Device:   cfg.Command.Device,
		}), nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownEngine, cfg.Engine)
	}
}

func (a *Application) setupLogger() {
	a.Logger = logging.Logger().With().
		Str("service", a.Cfg.Service.Principal).
		Str("component", "application").
		Logger()
}

// Start begins engine initialization in the background and returns
// immediately so status endpoints can answer while the model loads.
func (a *Application) Start(ctx context.Context) error {
	startLogger := a.Logger.With().
		Str("method", "Start").
		Logger()

	a.StartupTime = time.Now().UTC()
	startLogger.Info().
		Time("startupTime", a.StartupTime).
		Dur("initTimeout", a.Cfg.STT.InitTimeout).
		Msg("Chat STT gateway starting")

	var (
		initCtx context.Context
		cancel  context.CancelFunc
	)
	if a.Cfg.STT.InitTimeout > 0 {
		initCtx, cancel = context.WithTimeout(context.WithoutCancel(ctx), a.Cfg.STT.InitTimeout)
	} else {
		initCtx, cancel = context.WithCancel(context.WithoutCancel(ctx))
	}
	a.initCancel = cancel

	a.Go(func() {
		defer cancel()
		start := time.Now()
		err := a.Engine.Initialize(initCtx, a.loader)
		a.Metrics.RecordEngineInit(time.Since(start).Seconds())
		if err != nil {
			startLogger.Error().Err(err).Msg("Engine initialization failed, transcription disabled")
			return
		}
		info := a.Engine.Info()
		startLogger.Info().
			Str("model", info.Name).
			Str("modelPath", info.ModelPath).
			Dur("took", time.Since(start)).
			Msg("Engine ready")
	})
	return nil
}

// Go runs fn in the background. Shutdown waits for it.
func (a *Application) Go(fn func()) {
	a.bg.Add(1)
	go func() {
		defer a.bg.Done()
		fn()
	}()
}

// ModelPath reports the loaded model location, falling back to the
// configured model directory.
func (a *Application) ModelPath() string {
	if p := a.Engine.Info().ModelPath; p != "" {
		return p
	}
	return a.Cfg.STT.ModelDir
}

// Shutdown performs a best-effort cleanup before process exit.
func (a *Application) Shutdown(ctx context.Context) {
	shutdownLogger := a.Logger.With().
		Str("method", "Shutdown").
		Logger()

	shutdownLogger.Info().Msg("Chat STT gateway shutting down")
	if a.initCancel != nil {
		a.initCancel()
	}

	done := make(chan struct{})
	go func() {
		a.bg.Wait()
		a.Gateway.Wait()
		close(done)
	}()
	select {
	case <-done:
	case <-ctx.Done():
		shutdownLogger.Warn().Err(ctx.Err()).Msg("Background work still running at shutdown")
	}

	if err := a.Publisher.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close event publisher")
	}
	if err := a.Engine.Close(); err != nil {
		shutdownLogger.Warn().Err(err).Msg("Failed to close engine")
	}
}
