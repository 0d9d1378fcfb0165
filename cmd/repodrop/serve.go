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
	"go.uber.org/zap"

	"github.com/repodrop/repodrop/internal/api"
	"github.com/repodrop/repodrop/internal/app"
	"github.com/repodrop/repodrop/internal/events"
	"github.com/repodrop/repodrop/internal/logging"
	"github.com/repodrop/repodrop/internal/metrics"
	"github.com/repodrop/repodrop/internal/ratelimit"
)

func serveCmd() *cobra.Command {
	var listen string

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the upload page",
		Long:  `Serve the upload page and its JSON API. Sign-in happens in the browser through /login.`,
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, cancel := context.WithCancel(cmd.Context())
			defer cancel()

			rt, err := setup(ctx)
			if err != nil {
				return err
			}
			defer rt.close()
			if listen != "" {
				rt.cfg.ListenAddr = listen
			}

			logging.Info("repodrop server starting...",
				zap.String("listen", rt.cfg.ListenAddr),
				zap.String("metrics", rt.cfg.MetricsAddr))

			store, err := rt.openJournal(ctx)
			if err != nil {
				logging.Fatal("journal init failed", zap.Error(err))
			}

			broadcaster := events.NewBroadcaster()
			logging.Info("SSE broadcaster initialized")

			opts := app.Options{
				Auth:          rt.sess,
				Repo:          rt.repo,
				Notifier:      broadcaster,
				Locale:        rt.cfg.Locale,
				ViewDocuments: rt.cfg.ViewDocuments,
			}
			if store != nil {
				opts.Journal = store
			}
			ctrl := app.New(opts)

			if rt.sess.IsLoggedIn() {
				if err := ctrl.OnLoginCompleted(ctx); err != nil {
					logging.Warn("restoring browser failed", zap.Error(err))
				}
			}
			rt.sess.OnInvalidate(func() {
				broadcaster.Publish(events.Event{Type: events.EventState})
			})

			limiter := ratelimit.New(rt.cfg.RateLimitRPS, rt.cfg.RateLimitBurst)

			srvOpts := api.Options{
				Controller:    ctrl,
				Auth:          rt.sess,
				Files:         rt.files(),
				Broadcaster:   broadcaster,
				Limiter:       limiter,
				MaxUploadSize: rt.cfg.MaxUploadSize,
			}
			if store != nil {
				srvOpts.History = store
			}
			srv := api.NewServer(srvOpts)

			// Start metrics server
			var metricsServer *http.Server
			if rt.cfg.MetricsAddr != "" {
				metricsServer = &http.Server{
					Addr:    rt.cfg.MetricsAddr,
					Handler: metrics.Handler(),
				}
				go func() {
					logging.Info("metrics server listening", zap.String("addr", rt.cfg.MetricsAddr))
					if err := metricsServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
						logging.Error("metrics server error", zap.Error(err))
					}
				}()
			}

			httpServer := &http.Server{
				Addr:              rt.cfg.ListenAddr,
				Handler:           srv.Handler(),
				ReadHeaderTimeout: 10 * time.Second,
			}

			// Graceful shutdown
			go func() {
				sigCh := make(chan os.Signal, 1)
				signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
				select {
				case <-sigCh:
				case <-ctx.Done():
				}
				logging.Info("shutting down...")
				cancel()
				shutdownCtx, done := context.WithTimeout(context.Background(), 5*time.Second)
				defer done()
				httpServer.Shutdown(shutdownCtx)
				if metricsServer != nil {
					metricsServer.Close()
				}
			}()

			// Forget idle rate limit buckets
			go func() {
				ticker := time.NewTicker(5 * time.Minute)
				defer ticker.Stop()
				for {
					select {
					case <-ctx.Done():
						return
					case <-ticker.C:
						if n := limiter.Cleanup(10 * time.Minute); n > 0 {
							logging.Debug("rate limit buckets cleaned", zap.Int("count", n))
						}
					}
				}
			}()

			logging.Info("server listening", zap.String("addr", rt.cfg.ListenAddr))
			if err := httpServer.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			logging.Info("server stopped")
			return nil
		},
	}

	cmd.Flags().StringVarP(&listen, "listen", "l", "", "Listen address (overrides LISTEN_ADDR)")
	return cmd
}
