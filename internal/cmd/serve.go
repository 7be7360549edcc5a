package cmd

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/nhalm/ratecount/internal/observability"
	"github.com/nhalm/ratecount/internal/server"
)

func newServeCmd(a *app) *cobra.Command {
	var addr string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP server",
		Long: `Start the HTTP server with graceful shutdown support.

Endpoints:
  POST /v1/counters/{key}/increase?ttl=60&step=1
  GET  /v1/buckets/{day}      (redis driver only)
  GET  /healthz

Ctrl+C (SIGINT) or SIGTERM shuts the server down gracefully.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if addr != "" {
				a.cfg.Server.Addr = addr
			}
			return a.serve(cmd.Context())
		},
	}

	cmd.Flags().StringVar(&addr, "addr", "", "listen address (overrides server.addr)")
	return cmd
}

func (a *app) serve(ctx context.Context) error {
	if err := observability.InitServerLogger("ratecount", a.cfg.Logging.Level); err != nil {
		return err
	}
	logger := observability.ServerLogger
	defer func() {
		// Sync errors are often benign (stdout/stderr already closed)
		_ = logger.Sync()
	}()

	counter, err := a.openCounter()
	if err != nil {
		logger.Error("Failed to open counter", zap.Error(err))
		return err
	}
	defer counter.Close()

	srv := server.New(counter, a.cfg.Server, server.WithLogger(logger))

	logger.Info("Initializing server",
		zap.String("version", versionInfo.Version),
		zap.String("driver", a.cfg.Counter.Driver),
		zap.String("addr", a.cfg.Server.Addr))

	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	errChan := make(chan error, 1)
	go func() {
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errChan <- err
		}
		close(errChan)
	}()

	select {
	case err := <-errChan:
		if err != nil {
			logger.Error("HTTP server failed", zap.Error(err))
			return err
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("Shutting down HTTP server...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("HTTP server shutdown failed", zap.Error(err))
		return err
	}
	logger.Info("HTTP server stopped gracefully")
	return nil
}
