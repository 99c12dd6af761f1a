// Package cli defines the gateway's command line.
package cli

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"os/signal"
	"strconv"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	grpcapi "chat-stt-gateway/internal/api/grpc"
	"chat-stt-gateway/internal/app"
	"chat-stt-gateway/internal/config"
	"chat-stt-gateway/internal/engine"
	"chat-stt-gateway/internal/eventviewer"
	httpapi "chat-stt-gateway/internal/http"
	"chat-stt-gateway/internal/modelfetch"
	"chat-stt-gateway/internal/observability"
	"chat-stt-gateway/internal/observability/logging"
)

// NewRootCommand builds the command tree.
func NewRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:          "chat-stt-gateway",
		Short:        "Speech-to-text gateway and conversational stream relay",
		SilenceUsage: true,
	}
	root.PersistentFlags().String("config", "", "YAML config file (default "+config.DefaultFile+" when present)")
	root.PersistentFlags().String("log-level", "", "Log level override (debug, info, warn, error)")
	root.PersistentFlags().String("engine", "", "STT engine override (mock, google, openai, command)")

	root.AddCommand(
		serveCommand("serve", "Start the integrated chat + transcription API", httpapi.ModeIntegrated),
		serveCommand("serve-stt", "Start the transcription-only API", httpapi.ModeSTT),
		fetchModelCommand(),
		viewEventsCommand(),
	)
	return root
}

func loadConfig(cmd *cobra.Command) (*config.Configuration, error) {
	file, _ := cmd.Flags().GetString("config")
	cfg, err := config.Load(file)
	if err != nil {
		return nil, err
	}
	if lvl, _ := cmd.Flags().GetString("log-level"); lvl != "" {
		cfg.Observability.LogLevel = lvl
	}
	if eng, _ := cmd.Flags().GetString("engine"); eng != "" {
		cfg.STT.Engine = eng
	}
	logging.Init(logging.Config{
		Level:  cfg.Observability.LogLevel,
		Format: cfg.Observability.LogFormat,
	})
	return cfg, nil
}

func serveCommand(use, short string, mode httpapi.Mode) *cobra.Command {
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if cmd.Flags().Changed("port") {
				port, _ := cmd.Flags().GetInt("port")
				if mode == httpapi.ModeIntegrated {
					cfg.HTTP.Port = port
				} else {
					cfg.HTTP.STTPort = port
				}
			}
			if host, _ := cmd.Flags().GetString("host"); host != "" {
				cfg.HTTP.Host = host
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return Serve(ctx, cfg, mode)
		},
	}
	def := 8000
	if mode == httpapi.ModeSTT {
		def = 8001
	}
	cmd.Flags().IntP("port", "p", def, "HTTP port")
	cmd.Flags().String("host", "", "HTTP bind host")
	return cmd
}

// Serve runs the API until ctx ends, then shuts everything down.
func Serve(ctx context.Context, cfg *config.Configuration, mode httpapi.Mode) error {
	application, err := app.New(cfg)
	if err != nil {
		return err
	}
	logger := application.Logger.With().Str("api", mode.String()).Logger()

	var grpcSrv *grpcapi.Server
	if cfg.GRPC.Enabled {
		services := []string{grpcapi.ServiceTranscription}
		if mode == httpapi.ModeIntegrated {
			services = append(services, grpcapi.ServiceChatRelay)
		}
		grpcSrv = grpcapi.New(":"+cfg.GRPC.Port, services, application.Metrics, application.Logger)
		application.Engine.OnTransition(func(_, to engine.State) {
			grpcSrv.SetEngineState(to)
		})
		if err := grpcSrv.Start(); err != nil {
			return fmt.Errorf("grpc listen: %w", err)
		}
	}

	var obsSrv *observability.Server
	if cfg.Observability.MetricsEnabled {
		obsSrv = observability.NewServer(cfg.Observability.MetricsAddr, application.Engine.Ready)
		obsSrv.Start()
	}

	port := cfg.HTTP.Port
	if mode == httpapi.ModeSTT {
		port = cfg.HTTP.STTPort
	}
	srv := &http.Server{
		Addr:              net.JoinHostPort(cfg.HTTP.Host, strconv.Itoa(port)),
		Handler:           httpapi.NewRouter(application, mode),
		ReadHeaderTimeout: cfg.HTTP.ReadHeaderTimeout,
	}
	lis, err := net.Listen("tcp", srv.Addr)
	if err != nil {
		return fmt.Errorf("http listen: %w", err)
	}

	if err := application.Start(ctx); err != nil {
		_ = lis.Close()
		return err
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info().Str("addr", lis.Addr().String()).Msg("HTTP API started")
		if err := srv.Serve(lis); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	var serveErr error
	select {
	case <-ctx.Done():
		logger.Info().Msg("Shutdown signal received")
	case serveErr = <-errCh:
		logger.Error().Err(serveErr).Msg("HTTP server failed")
	}

	shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), cfg.HTTP.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Warn().Err(err).Msg("HTTP shutdown incomplete")
	}
	if grpcSrv != nil {
		grpcSrv.Shutdown(shutdownCtx)
	}
	if obsSrv != nil {
		_ = obsSrv.Shutdown(shutdownCtx)
	}
	application.Shutdown(shutdownCtx)
	return serveErr
}

func fetchModelCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "fetch-model",
		Short: "Download model weights into the local cache",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			mc := cfg.Model
			if v, _ := cmd.Flags().GetString("model"); v != "" {
				mc.ID = v
			}
			if v, _ := cmd.Flags().GetString("revision"); v != "" {
				mc.Revision = v
			}
			if v, _ := cmd.Flags().GetString("cache-dir"); v != "" {
				mc.CacheDir = v
			}
			if v, _ := cmd.Flags().GetString("endpoint"); v != "" {
				mc.Endpoint = v
			}
			if v, _ := cmd.Flags().GetInt("concurrency"); v > 0 {
				mc.Concurrency = v
			}

			f := modelfetch.New(modelfetch.Config{
				Endpoint:    mc.Endpoint,
				ModelID:     mc.ID,
				Revision:    mc.Revision,
				CacheDir:    mc.CacheDir,
				Concurrency: mc.Concurrency,
			}, nil, logging.WithComponent("fetch-model"))

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			res, err := f.Fetch(ctx)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Model downloaded to: %s\n", res.Dir)
			return nil
		},
	}
	cmd.Flags().String("model", "", "Model id on the hub (default from config)")
	cmd.Flags().String("revision", "", "Model revision")
	cmd.Flags().String("cache-dir", "", "Local cache directory")
	cmd.Flags().String("endpoint", "", "Hub endpoint")
	cmd.Flags().Int("concurrency", 0, "Parallel downloads")
	return cmd
}

func viewEventsCommand() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "view-events",
		Short: "Tail published gateway events in a browser",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(cmd)
			if err != nil {
				return err
			}
			if len(cfg.Events.Brokers) == 0 {
				return errors.New("view-events: events.brokers is empty")
			}
			addr, _ := cmd.Flags().GetString("addr")
			since, _ := cmd.Flags().GetDuration("since")
			logger := logging.WithComponent("event-viewer")

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			hub := eventviewer.NewHub(logger)
			for _, topic := range []string{cfg.Events.TopicTranscript, cfg.Events.TopicChat} {
				r := eventviewer.NewReader(ctx, cfg.Events.Brokers, topic, time.Now().Add(-since))
				defer r.Close()
				go eventviewer.Consume(ctx, r, hub, logger.With().Str("topic", topic).Logger())
			}

			srv := &http.Server{Addr: addr, Handler: eventviewer.Handler(hub), ReadHeaderTimeout: 5 * time.Second}
			go func() {
				<-ctx.Done()
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			}()
			logger.Info().Str("addr", addr).Msg("Event viewer started")
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		},
	}
	cmd.Flags().String("addr", ":8081", "HTTP listen address")
	cmd.Flags().Duration("since", time.Hour, "Replay events newer than this")
	return cmd
}
