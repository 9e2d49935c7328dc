// Command insighttrackd runs an insighttrack service behind an HTTP ingest
// API.
//
//	insighttrackd serve --config insighttrack.yaml
//	insighttrackd validate --config insighttrack.yaml
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/randalmurphal/insighttrack/internal/app"
	"github.com/randalmurphal/insighttrack/internal/httpapi"
	"github.com/randalmurphal/insighttrack/pkg/insighttrack/config"
)

// shutdownTimeout bounds how long in-flight requests may take on shutdown.
const shutdownTimeout = 5 * time.Second

func main() {
	if err := newRootCmd().ExecuteContext(context.Background()); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "insighttrackd",
		Short:         "Analytics event dispatcher daemon",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringP("config", "c", "insighttrack.yaml", "Service configuration file (.yaml, .yml or .json)")

	root.AddCommand(newServeCmd(), newValidateCmd())
	return root
}

func newServeCmd() *cobra.Command {
	var listen string
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Initialize adapters and serve the ingest API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}
			if listen != "" {
				settings.Listen = listen
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, newLogger(cmd.ErrOrStderr(), settings.LogLevel))
		},
	}
	cmd.Flags().StringVar(&listen, "listen", "", "Listen address (overrides the config file)")
	return cmd
}

func newValidateCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "validate",
		Short: "Check a configuration file and the adapters it describes",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(cmd)
			if err != nil {
				return err
			}

			// Building the app resolves every adapter type and event file
			// without initializing anything.
			a, err := app.New(settings, newLogger(io.Discard, settings.LogLevel))
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "config OK: delivery=%s init_policy=%s listen=%s\n",
				settings.Mode, settings.InitPolicy, settings.Listen)
			for _, as := range settings.Adapters {
				fmt.Fprintf(out, "  adapter %s type=%s priority=%d\n", as.Name, as.Type, as.Priority)
			}
			return nil
		},
	}
}

func loadSettings(cmd *cobra.Command) (config.Settings, error) {
	path, err := cmd.Flags().GetString("config")
	if err != nil {
		return config.Settings{}, err
	}
	settings, err := config.LoadService(path)
	if err != nil {
		return config.Settings{}, fmt.Errorf("load %s: %w", path, err)
	}
	return settings, nil
}

func newLogger(w io.Writer, level slog.Level) *slog.Logger {
	return slog.New(slog.NewJSONHandler(w, &slog.HandlerOptions{Level: level}))
}

// serve runs the HTTP server and the service until ctx is cancelled.
// The server starts before initialization so health checks answer while
// adapters come up.
func serve(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	a, err := app.New(settings, logger)
	if err != nil {
		return err
	}

	handler, err := httpapi.NewRouter(a.Service(),
		httpapi.WithLogger(logger),
		httpapi.WithMetrics(a.Metrics()),
	)
	if err != nil {
		_ = a.Close()
		return err
	}

	srv := &http.Server{
		Addr:              settings.Listen,
		Handler:           handler,
		ReadHeaderTimeout: 10 * time.Second,
	}

	serveErr := make(chan error, 1)
	go func() {
		logger.Info("insighttrackd listening", slog.String("addr", settings.Listen))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serveErr <- err
		}
		close(serveErr)
	}()

	runErr := a.Start(ctx)
	if runErr != nil && ctx.Err() != nil {
		logger.Info("initialization interrupted by shutdown")
		runErr = nil
	} else if runErr == nil {
		select {
		case <-ctx.Done():
			logger.Info("shutting down")
		case err, ok := <-serveErr:
			if ok {
				runErr = fmt.Errorf("http server: %w", err)
			}
		}
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", slog.String("error", err.Error()))
	}

	if err := a.Close(); err != nil {
		logger.Error("dispose failed", slog.String("error", err.Error()))
	}
	logger.Info("stopped")
	return runErr
}
