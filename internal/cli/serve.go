package cli

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/rpattn/formview/internal/middleware"
)

const shutdownTimeout = 30 * time.Second

// NewServeCommand creates the serve command.
func NewServeCommand(rootOpts *RootOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve views over HTTP",
		Long: `Serve view listings and single entries as JSON.

  GET /views                          view ids
  GET /views/{view}/entries           one page, with totals and ranks
  GET /views/{view}/entries/{id}      one entry, if the viewer may see it
  GET /metrics                        prometheus metrics`,
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, rootOpts)
		},
	}

	cmd.Flags().String("addr", ":8080", "listen address")
	mustBindPFlag(rootOpts.viper, "http.addr", cmd.Flags().Lookup("addr"))

	return cmd
}

func runServe(cmd *cobra.Command, opts *RootOptions) error {
	out := opts.formatter(cmd)
	cfg, log, err := opts.setup(out)
	if err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg, log)
	if err != nil {
		if errors.Is(err, errStoreSetup) {
			return out.fail(ExitCommandError, ErrCodeStore, "failed to open record store", err)
		}
		return out.fail(ExitCommandError, ErrCodeConfig, "failed to load views", err)
	}
	defer a.Close()

	server := &http.Server{
		Addr:         cfg.HTTP.Addr,
		Handler:      a.handler(),
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  60 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		log.Info("starting HTTP server",
			zap.String("addr", cfg.HTTP.Addr),
			zap.Strings("views", a.views.IDs()),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return out.fail(ExitCommandError, ErrCodeConfig, "failed to start server", err)
		}
	case <-ctx.Done():
	}

	log.Info("shutting down server")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Error("server forced to shutdown", zap.Error(err))
		return WrapExitError(ExitFailure, "server forced to shutdown", err)
	}
	log.Info("server exited")
	return nil
}

// handler assembles the middleware chain around the view API and metrics.
func (a *app) handler() http.Handler {
	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   a.cfg.HTTP.AllowedOrigins,
		AllowCredentials: true,
		AllowedMethods:   []string{http.MethodGet, http.MethodOptions},
		AllowedHeaders:   []string{"*"},
	})

	mux := http.NewServeMux()
	mux.Handle("GET /metrics", promhttp.Handler())
	mux.Handle("/", middleware.ViewerMiddleware(middleware.DataLoaderMiddleware(a.store)(a.api)))

	return middleware.RequestIDMiddleware(
		middleware.LoggingMiddleware(a.logger)(corsHandler.Handler(mux)),
	)
}
