package main

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/wilhg/snapstore/pkg/api"
	"github.com/wilhg/snapstore/pkg/config"
	otto "github.com/wilhg/snapstore/pkg/otel"
	"github.com/wilhg/snapstore/pkg/store"
)

const shutdownTimeout = 10 * time.Second

func newServeCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP service (default)",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, err := loadConfig(opts)
			if err != nil {
				return err
			}
			return serve(cmd.Context(), cfg, newLogger(cfg))
		},
	}
}

func serve(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	slog.SetDefault(logger)

	shutdownTracing, err := otto.Init(ctx, otto.Config{
		ServiceVersion: version,
		UseStdout:      cfg.TraceStdout,
		SampleRatio:    cfg.TraceSample,
	})
	if err != nil {
		return fmt.Errorf("init tracing: %w", err)
	}
	defer func() { _ = shutdownTracing(context.Background()) }()

	st, err := openStore(ctx, cfg)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := st.Migrate(ctx); err != nil {
		return fmt.Errorf("init database: %w", err)
	}
	logger.Info("database initialized", "dialect", st.Dialect(), "retain", cfg.Retain, "atomic_append", cfg.AtomicAppend)

	mux, err := buildMux(cfg, st, logger)
	if err != nil {
		return err
	}
	server := &http.Server{
		Addr:              cfg.Addr(),
		Handler:           mux,
		ReadHeaderTimeout: 10 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("server running", "addr", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err := <-errCh:
		if err != nil {
			return fmt.Errorf("server error: %w", err)
		}
		return nil
	case <-ctx.Done():
	}

	logger.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	return server.Shutdown(shutdownCtx)
}

// buildMux wires the API handler for st according to cfg.
func buildMux(cfg *config.Config, st store.Store, logger *slog.Logger) (http.Handler, error) {
	opts := []api.Option{
		api.WithLogger(logger),
		api.WithBodyLimit(cfg.BodyLimitBytes),
	}
	if cfg.StaticDir != "" {
		info, err := os.Stat(cfg.StaticDir)
		if err != nil {
			return nil, fmt.Errorf("static dir: %w", err)
		}
		if !info.IsDir() {
			return nil, fmt.Errorf("static dir %s is not a directory", cfg.StaticDir)
		}
		opts = append(opts, api.WithStatic(os.DirFS(cfg.StaticDir)))
	}
	return api.New(st, opts...).Routes(), nil
}
