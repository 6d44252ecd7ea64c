package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/rotisserie/eris"
	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/sells-group/lead-intake/internal/delivery"
	"github.com/sells-group/lead-intake/internal/intake"
	"github.com/sells-group/lead-intake/internal/monitoring"
)

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the lead intake server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
		defer stop()

		env, err := initEnv(ctx)
		if err != nil {
			return err
		}
		defer env.Close()

		dispatcher := delivery.NewDispatcher(cfg.Delivery)
		svc := intake.NewService(env.Store, dispatcher, env.Forwarders...)
		handler := intake.NewHandler(svc, env.Diagnoser, env.Store, env.Breakers)

		if cfg.Monitoring.Enabled {
			checker := monitoring.NewChecker(
				monitoring.NewCollector(env.Store),
				monitoring.NewAlerter(cfg.Monitoring),
				cfg.Monitoring,
			)
			go func() {
				if err := checker.Run(ctx); err != nil {
					zap.L().Error("alert checker failed", zap.Error(err))
				}
			}()
		}

		port := servePort
		if port == 0 {
			port = cfg.Server.Port
		}

		srv := &http.Server{
			Addr:              fmt.Sprintf(":%d", port),
			Handler:           handler.Router(cfg.CORS),
			ReadHeaderTimeout: 10 * time.Second,
		}

		errCh := make(chan error, 1)
		go func() {
			zap.L().Info("starting server",
				zap.Int("port", port),
				zap.Strings("forwarders", svc.Targets()),
			)
			errCh <- srv.ListenAndServe()
		}()

		select {
		case err := <-errCh:
			dispatcher.Close()
			if err != nil && !errors.Is(err, http.ErrServerClosed) {
				return eris.Wrap(err, "server listen")
			}
			return nil
		case <-ctx.Done():
		}

		return shutdown(srv, dispatcher, time.Duration(cfg.Server.ShutdownTimeoutSecs)*time.Second)
	},
}

// shutdown stops accepting requests, then waits for in-flight forwarding
// within the same timeout.
func shutdown(srv *http.Server, d *delivery.Dispatcher, timeout time.Duration) error {
	zap.L().Info("shutting down server", zap.Duration("timeout", timeout))

	ctx, cancel := context.WithTimeout(context.Background(), timeout)
	defer cancel()
	defer d.Close()

	if err := srv.Shutdown(ctx); err != nil {
		return eris.Wrap(err, "server shutdown")
	}
	if err := d.Drain(ctx); err != nil {
		zap.L().Warn("forwarding still in flight at shutdown", zap.Error(err))
	}

	stats := d.Stats()
	zap.L().Info("server stopped",
		zap.Int64("deliveries_completed", stats.Completed),
		zap.Int64("deliveries_failed", stats.Failed),
	)
	return nil
}

func init() {
	serveCmd.Flags().IntVar(&servePort, "port", 0, "server port (default from config)")
	rootCmd.AddCommand(serveCmd)
}
