package cli

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/spf13/viper"
	"golang.org/x/time/rate"

	"defisync/internal/backend"
	"defisync/internal/config"
	"defisync/internal/defi"
	"defisync/internal/notify"
	"defisync/internal/orchestrator"
	"defisync/internal/prices"
	"defisync/internal/ratelimit"
	"defisync/internal/status"
	"defisync/internal/telemetry"
)

// app holds every component of a running defisync
type app struct {
	cfg           *config.Config
	client        *backend.Client
	registry      *status.Registry
	notifications *notify.Center
	telemetry     *telemetry.Provider
	defi          *defi.Service
	prices        *prices.Service

	stopObserving func()
}

// newApp loads the configuration selected by the flags and wires the
// components together
func newApp(ctx context.Context, v *viper.Viper) (*app, error) {
	cfg, err := config.Load(v.GetString("config"))
	if err != nil {
		return nil, fmt.Errorf("failed to load configuration: %w", err)
	}
	return newAppFromConfig(ctx, cfg)
}

// newLimiter builds the backend rate limiter from the configured budgets
func newLimiter(cfg *config.Config) *ratelimit.Limiter {
	limiter := ratelimit.New(cfg.RequestsPerSecond)
	if cfg.PollRequestsPerSecond > 0 {
		limiter.SetLimit(ratelimit.RouteTaskPoll, rate.Limit(cfg.PollRequestsPerSecond), max(1, int(cfg.PollRequestsPerSecond)))
	}
	return limiter
}

func newAppFromConfig(ctx context.Context, cfg *config.Config) (*app, error) {
	logger := slog.Default()

	client := backend.NewClient(cfg.BackendURL,
		backend.WithLimiter(newLimiter(cfg)),
		backend.WithPollConfig(backend.PollConfig{
			Interval:    cfg.PollInterval,
			MaxInterval: cfg.PollMaxInterval,
			Timeout:     cfg.TaskTimeout,
		}),
		backend.WithHTTPClient(backend.NewHTTPClient(cfg.BackendURL, backend.DefaultRetryConfig())),
	)

	provider, err := telemetry.NewProvider(ctx, cfg.MetricsEnabled, Version)
	if err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to initialize metrics: %w", err)
	}
	metrics, err := telemetry.NewFetchMetrics(provider.MeterProvider)
	if err != nil {
		_ = client.Close()
		_ = provider.Shutdown(ctx)
		return nil, fmt.Errorf("failed to create fetch metrics: %w", err)
	}

	registry := status.NewRegistry()
	center := notify.NewCenter(notify.DefaultCapacity, logger)

	orch := orchestrator.New(registry, center,
		orchestrator.WithMetrics(metrics),
		orchestrator.WithMaxConcurrency(cfg.MaxConcurrency),
		orchestrator.WithLogger(logger),
	)

	premium := cfg.Premium
	return &app{
		cfg:           cfg,
		client:        client,
		registry:      registry,
		notifications: center,
		telemetry:     provider,
		defi: defi.NewService(orch, client,
			defi.WithPremium(func() bool { return premium }),
			defi.WithLogger(logger),
		),
		prices:        prices.NewService(orch, client),
		stopObserving: metrics.ObserveRegistry(registry),
	}, nil
}

// Close releases the HTTP and metrics resources
func (a *app) Close(ctx context.Context) error {
	a.stopObserving()
	return errors.Join(a.client.Close(), a.telemetry.Shutdown(ctx))
}
