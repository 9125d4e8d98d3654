package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"defisync/internal/api"
)

const (
	defaultGracefulTimeout = 30 * time.Second
	serverReadTimeout      = 10 * time.Second
	serverIdleTimeout      = 60 * time.Second
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP control surface and keep the data refreshed",
		Long: `Serve starts the HTTP control surface. When refresh_interval is set, every
DeFi section and the configured prices are refreshed periodically. Triggers
that arrive while a section is already being fetched are declined.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := newApp(ctx, v)
			if err != nil {
				return err
			}

			if address, _ := cmd.Flags().GetString("address"); address != "" {
				a.cfg.ListenAddress = address
			}

			err = a.serve(ctx)

			shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), defaultGracefulTimeout)
			defer cancel()
			return errors.Join(err, a.Close(shutdownCtx))
		},
	}

	cmd.Flags().String("address", "", "Address to listen on (overrides listen_address)")
	return cmd
}

// serve runs the HTTP server and the refresher until ctx is cancelled
func (a *app) serve(ctx context.Context) error {
	opts := []api.ServerOption{
		api.WithMiddlewares(api.LoggingMiddleware),
		api.WithPrices(a.prices),
		api.WithVersion(Version),
	}
	if a.telemetry.Handler != nil {
		opts = append(opts, api.WithMetricsHandler(a.telemetry.Handler))
	}

	server := &http.Server{
		Addr:              a.cfg.ListenAddress,
		Handler:           api.NewServer(a.defi, a.registry, a.client, a.notifications, opts...),
		ReadHeaderTimeout: serverReadTimeout,
		ReadTimeout:       serverReadTimeout,
		IdleTimeout:       serverIdleTimeout,
	}

	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		slog.Info("Starting HTTP server", "address", server.Addr)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return fmt.Errorf("HTTP server failed: %w", err)
		}
		return nil
	})

	g.Go(func() error {
		<-gctx.Done()
		slog.Info("Shutting down HTTP server")
		shutdownCtx, cancel := context.WithTimeout(context.WithoutCancel(gctx), defaultGracefulTimeout)
		defer cancel()
		if err := server.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("HTTP server shutdown failed: %w", err)
		}
		return nil
	})

	if a.cfg.RefreshInterval > 0 {
		g.Go(func() error {
			a.refreshLoop(gctx, a.cfg.RefreshInterval)
			return nil
		})
	}

	return g.Wait()
}

// refreshLoop refreshes every section once immediately and then on every
// tick until ctx is cancelled
func (a *app) refreshLoop(ctx context.Context, interval time.Duration) {
	slog.Info("Starting periodic refresh", "interval", interval)

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	refresh := false
	for {
		a.refreshOnce(ctx, refresh)
		refresh = true

		select {
		case <-ctx.Done():
			slog.Info("Periodic refresh stopped")
			return
		case <-ticker.C:
		}
	}
}

// refreshOnce triggers every top-level fetch concurrently. Each one is
// declined on its own when its section is still in flight.
func (a *app) refreshOnce(ctx context.Context, refresh bool) {
	start := time.Now()

	var g errgroup.Group
	g.Go(func() error { a.defi.FetchAllDefi(ctx, refresh); return nil })
	g.Go(func() error { a.defi.FetchLending(ctx, refresh); return nil })
	g.Go(func() error { a.defi.FetchBorrowing(ctx, refresh); return nil })
	g.Go(func() error { a.defi.FetchAirdrops(ctx, refresh); return nil })
	if len(a.cfg.PriceAssets) > 0 {
		g.Go(func() error {
			a.prices.FetchLatest(ctx, a.cfg.PriceAssets, a.cfg.TargetAsset, refresh)
			return nil
		})
	}
	_ = g.Wait()

	slog.Debug("Refresh round completed", "duration", time.Since(start))
}
