package cmd

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Saga6569/agui-demo/internal/agent"
	"github.com/Saga6569/agui-demo/internal/api"
	"github.com/Saga6569/agui-demo/internal/config"
	"github.com/Saga6569/agui-demo/internal/log"
	"github.com/Saga6569/agui-demo/internal/run"
	"github.com/Saga6569/agui-demo/internal/tools"
)

// Server timeout configuration.
const (
	readHeaderTimeout = 10 * time.Second
	readTimeout       = 30 * time.Second
	writeTimeout      = 2 * time.Minute // SSE streaming needs longer timeout
	idleTimeout       = 2 * time.Minute
	shutdownTimeout   = 30 * time.Second
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the HTTP chat backend",
	RunE: func(cmd *cobra.Command, _ []string) error {
		return runServe(cmd.Context())
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

// runServe initializes the application stack and starts the HTTP server.
func runServe(parent context.Context) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	ctx, cancel := signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	logger := log.New(log.Config{Level: cfg.LogLevelValue(), JSON: cfg.LogJSON})
	logger.Info("starting chat backend", "version", appVersion, "model", cfg.ModelName)

	registry, err := tools.NewRegistry(logger)
	if err != nil {
		return fmt.Errorf("initializing tool registry: %w", err)
	}
	catalogs := tools.NewClientCatalogs()

	gateway := agent.NewGateway(ctx, agent.Config{
		ModelName:     cfg.ModelName,
		Timeout:       cfg.ModelTimeout(),
		HasCredential: config.HasModelCredential(),
		Logger:        logger,
	})
	selector := agent.NewSelector(gateway, logger)

	orchestrator, err := run.New(run.Config{
		Registry:  registry,
		Selector:  selector,
		Generator: gateway,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("initializing orchestrator: %w", err)
	}

	apiServer, err := api.NewServer(api.ServerConfig{
		Logger:       logger,
		Orchestrator: orchestrator,
		Generator:    gateway,
		Registry:     registry,
		Catalogs:     catalogs,
		CORSOrigins:  cfg.CORSOrigins,
		TrustProxy:   cfg.TrustProxy,
		RateBurst:    cfg.RateBurst,
	})
	if err != nil {
		return fmt.Errorf("creating API server: %w", err)
	}

	srv := &http.Server{
		Addr:              cfg.Addr,
		Handler:           apiServer.Handler(),
		ReadHeaderTimeout: readHeaderTimeout,
		ReadTimeout:       readTimeout,
		WriteTimeout:      writeTimeout,
		IdleTimeout:       idleTimeout,
	}

	logger.Info("HTTP server ready", "addr", cfg.Addr, "api", "/api/*")

	errCh := make(chan error, 1)
	go func() {
		errCh <- srv.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		logger.Info("shutting down HTTP server")
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), shutdownTimeout)
		defer shutdownCancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("shutting down server: %w", err)
		}
		<-errCh
		return nil
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return fmt.Errorf("HTTP server: %w", err)
	}
}
