package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"golang.org/x/sync/errgroup"

	"github.com/agent-web/agent-web-server/internal/api"
	"github.com/agent-web/agent-web-server/internal/auth"
	"github.com/agent-web/agent-web-server/internal/config"
	"github.com/agent-web/agent-web-server/internal/core"
	"github.com/agent-web/agent-web-server/internal/store"
)

const shutdownTimeout = 30 * time.Second

type flags struct {
	port    int
	debug   bool
	dataDir string
}

func main() {
	if err := newRootCommand().ExecuteContext(context.Background()); err != nil {
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	f := &flags{}
	cmd := &cobra.Command{
		Use:           "agent-web-server",
		Short:         "Chat relay between browser sessions and a language model provider",
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			logger := newLogger(f.debug)
			if err := run(cmd.Context(), f, logger); err != nil {
				logger.Error("server stopped with error", "error", err)
				return err
			}
			return nil
		},
	}
	cmd.Flags().IntVarP(&f.port, "port", "p", 0, "port to listen on")
	cmd.Flags().BoolVarP(&f.debug, "debug", "d", false, "enable debug logging")
	cmd.Flags().StringVar(&f.dataDir, "data-dir", "./server_data", "directory holding config.toml, the signing key and the SQLite database")
	cmd.MarkFlagRequired("port")
	return cmd
}

func newLogger(debug bool) *slog.Logger {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level}))
	slog.SetDefault(logger)
	return logger
}

func run(ctx context.Context, f *flags, logger *slog.Logger) error {
	if f.port <= 0 || f.port > 65535 {
		return fmt.Errorf("invalid port %d", f.port)
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger.Warn("failed to load .env file", "error", err)
	}

	cfg, err := config.Load(f.dataDir)
	if err != nil {
		if errors.Is(err, config.ErrTemplateCreated) {
			logger.Info("config template created, fill it in and restart", "data_dir", f.dataDir)
		}
		return err
	}
	if f.debug {
		logger.Debug("service starting in debug mode")
	}

	key, err := auth.LoadOrCreateKey(cfg.DataDir, logger)
	if err != nil {
		return fmt.Errorf("failed to load signing key: %w", err)
	}
	codec := auth.NewCodec(key, cfg.TokenTTL())

	driver, err := store.Open(ctx, store.Options{
		Driver:   cfg.DBDriver,
		DSN:      cfg.DatabaseDSN(),
		PoolSize: cfg.DBPoolSize,
	})
	if err != nil {
		return fmt.Errorf("failed to initialize database: %w", err)
	}
	defer driver.Close()
	transcript := store.NewTranscript(driver, logger)

	provider, err := core.NewProvider(ctx, cfg, logger)
	if err != nil {
		return fmt.Errorf("failed to initialize completion provider: %w", err)
	}
	defer provider.Close()

	chatService := core.NewChatService(transcript, provider, core.ChatOptions{
		SystemPrompt: cfg.SysPrompt,
		MaxTokens:    cfg.MaxTokens,
		HistoryLimit: cfg.HistoryLimit,
	}, logger)
	sweeper := core.NewRetentionSweeper(transcript, cfg.SweepInterval(), cfg.ChatMaxAge(), logger)

	apiHandler := api.NewAPIHandler(codec, chatService, logger)
	srv := &http.Server{
		Addr:              fmt.Sprintf(":%d", f.port),
		Handler:           api.NewRouter(apiHandler, cfg.AllowedOrigins),
		ReadHeaderTimeout: 15 * time.Second,
		IdleTimeout:       120 * time.Second,
	}

	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("starting server", "addr", srv.Addr, "provider", cfg.Provider, "model", cfg.Model)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("could not listen on %s: %w", srv.Addr, err)
		}
		return nil
	})
	g.Go(func() error {
		return sweeper.Run(gctx)
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("shutting down server")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("server forced to shutdown: %w", err)
		}
		return nil
	})

	if err := g.Wait(); err != nil {
		return err
	}
	logger.Info("server exiting gracefully")
	return nil
}
