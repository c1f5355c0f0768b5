package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/goliatone/go-console-auth/logging"
	"github.com/goliatone/go-print"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/cobra"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the console web server",
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx := cmd.Context()
		if ctx == nil {
			ctx = context.Background()
		}

		app := &App{
			opts:   opts,
			logger: logging.New("console", opts.Debug),
		}

		if opts.Debug {
			fmt.Println(print.MaybeHighlightJSON(opts))
		}

		for _, step := range []func(context.Context, *App) error{
			WithPersistence,
			WithGateway,
			WithSession,
			WithHTTPServer,
		} {
			if err := step(ctx, app); err != nil {
				app.Close(ctx)
				return err
			}
		}

		// resolve the stored credential before the first request arrives
		app.sessions.Start("/")

		serverErrors := make(chan error, 2)
		go func() {
			app.logger.Info("listening on %s, api %s", opts.Server.Address, opts.APIBaseURL)
			serverErrors <- app.srv.Serve(opts.Server.Address)
		}()

		var metricsSrv *http.Server
		if opts.Server.MetricsAddress != "" {
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{}))
			metricsSrv = &http.Server{
				Addr:              opts.Server.MetricsAddress,
				Handler:           mux,
				ReadHeaderTimeout: 5 * time.Second,
			}
			go func() {
				app.logger.Info("metrics on %s/metrics", opts.Server.MetricsAddress)
				if err := metricsSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					serverErrors <- err
				}
			}()
		}

		shutdown := make(chan os.Signal, 1)
		signal.Notify(shutdown, os.Interrupt, syscall.SIGTERM)

		// SIGHUP drops the cached role catalog
		refresh := make(chan os.Signal, 1)
		signal.Notify(refresh, syscall.SIGHUP)

		for {
			select {
			case err := <-serverErrors:
				app.Close(ctx)
				return fmt.Errorf("server error: %w", err)

			case sig := <-refresh:
				app.logger.Info("received %v, invalidating role catalog", sig)
				app.catalog.Invalidate()

			case sig := <-shutdown:
				app.logger.Info("received %v, shutting down", sig)

				shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
				defer cancel()

				if metricsSrv != nil {
					_ = metricsSrv.Shutdown(shutdownCtx)
				}
				if err := app.srv.Shutdown(shutdownCtx); err != nil {
					app.logger.Warn("http shutdown: %v", err)
				}
				app.Close(shutdownCtx)
				return nil
			}
		}
	},
}

func init() {
	rootCmd.AddCommand(serveCmd)
}
