package main

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/eringen/spacetraveling"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the web server",
	RunE:  serveAction,
}

func serveAction(cmd *cobra.Command, _ []string) error {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	log := initLogger(cfg, os.Stdout)
	log.Info("starting spacetraveling", "version", Version, "backend", cfg.Backend, "addr", cfg.Site.Addr)

	ctx, cancel := context.WithCancel(cmd.Context())
	defer cancel()

	tp, err := initTracer(ctx, cfg)
	if err != nil {
		log.Error("failed to init tracer", "error", err)
	} else if tp != nil {
		defer func() { _ = tp.Shutdown(context.Background()) }()
	}

	b, err := openBackend(ctx, cfg, log)
	if err != nil {
		return err
	}
	defer b.Close()

	app := spacetraveling.New(cfg.Site, spacetraveling.DefaultViews(), b.opts...)
	if err := app.Setup(); err != nil {
		return err
	}
	defer app.Close()

	srv := &http.Server{
		Addr:              app.Config.Addr,
		Handler:           otelhttp.NewHandler(app.Handler(), serviceName),
		ReadHeaderTimeout: 10 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)

	select {
	case err := <-errCh:
		return err
	case sig := <-quit:
		log.Info("shutting down", "signal", sig.String())
	}

	shutdownCtx, done := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer done()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return err
	}
	log.Info("server exited")
	return nil
}
