// Package orchestrator coordinates status-gated fetches of named sections.
//
// Every guarded fetch follows the same contract: read the section status,
// decline when a fetch is in flight (or the section is loaded and no refresh
// was asked for), otherwise mark the section LOADING or REFRESHING before the
// first blocking call, fetch, and finally mark it LOADED whatever the outcome.
// Groups of independent sub-fetches run under the best-effort settle-all
// policy: every sub-fetch runs to completion, a failing one never cancels or
// fails its siblings, and the group section still reaches LOADED.
package orchestrator

import (
	"context"
	"log/slog"
	"strings"
	"time"

	"defisync/internal/backend"
	"defisync/internal/notify"
	"defisync/internal/status"
	"defisync/internal/telemetry"
)

// DefaultMaxConcurrency bounds how many sub-fetches of one group run at once
const DefaultMaxConcurrency = 8

// Failure describes the notification sent when a standalone fetch fails.
// Description may contain an {error} placeholder that is replaced with the
// failure cause.
type Failure struct {
	Title       string
	Description string
}

// Notification renders the notification for err
func (f Failure) Notification(err error) notify.Notification {
	message := f.Description
	if message == "" {
		message = "{error}"
	}
	return notify.Notification{
		Title:    f.Title,
		Message:  strings.ReplaceAll(message, "{error}", backend.Message(err)),
		Severity: notify.SeverityError,
		Display:  true,
	}
}

// Orchestrator runs guarded fetches against a status registry
type Orchestrator struct {
	registry       *status.Registry
	notifier       notify.Notifier
	metrics        *telemetry.FetchMetrics
	maxConcurrency int
	logger         *slog.Logger
}

// Option is a function that configures the orchestrator
type Option func(*Orchestrator)

// WithMetrics sets the fetch metrics for the orchestrator
func WithMetrics(metrics *telemetry.FetchMetrics) Option {
	return func(o *Orchestrator) {
		o.metrics = metrics
	}
}

// WithMaxConcurrency bounds the number of concurrently running sub-fetches
// per group. Zero or less means unbounded.
func WithMaxConcurrency(n int) Option {
	return func(o *Orchestrator) {
		o.maxConcurrency = n
	}
}

// WithLogger sets the logger used for declined fetches and sub-fetch failures
func WithLogger(logger *slog.Logger) Option {
	return func(o *Orchestrator) {
		o.logger = logger
	}
}

// New creates an orchestrator over the given registry and notifier
func New(registry *status.Registry, notifier notify.Notifier, opts ...Option) *Orchestrator {
	o := &Orchestrator{
		registry:       registry,
		notifier:       notifier,
		maxConcurrency: DefaultMaxConcurrency,
		logger:         slog.Default(),
	}

	for _, opt := range opts {
		opt(o)
	}

	if o.notifier == nil {
		o.notifier = notify.Discard{}
	}

	return o
}

// Registry returns the status registry the orchestrator guards
func (o *Orchestrator) Registry() *status.Registry {
	return o.registry
}

// Begin applies the re-entrancy guard to section and reports whether the
// caller may fetch. A declined call changes nothing.
func (o *Orchestrator) Begin(ctx context.Context, section status.Section, refresh bool) bool {
	current, ok := o.registry.Begin(section, refresh)
	if !ok {
		o.logger.Debug("Fetch declined", "section", section, "status", current, "refresh", refresh)
		o.metrics.RecordDeclined(ctx, section, current)
	}
	return ok
}

// Load runs a standalone guarded fetch. On failure the user is notified with
// the rendered Failure; the section is marked LOADED either way. A panic in
// fetch counts as a failure. It reports whether fetch ran.
func (o *Orchestrator) Load(ctx context.Context, section status.Section, refresh bool, failure Failure, fetch func(ctx context.Context) error) bool {
	if !o.Begin(ctx, section, refresh) {
		return false
	}

	start := time.Now()
	err := run(ctx, fetch)
	o.metrics.RecordFetch(ctx, section, time.Since(start), err == nil)

	if err != nil {
		o.logger.Error("Fetch failed", "section", section, "error", err)
		o.notifier.Notify(failure.Notification(err))
	}

	o.registry.Set(status.StatusLoaded, section)
	return true
}

// Guarded runs a guarded fetch that reports its error to the caller instead
// of notifying. It is the building block of per-protocol fetches that are
// themselves fanned out by a group. The section is marked LOADED either way.
func (o *Orchestrator) Guarded(ctx context.Context, section status.Section, refresh bool, fetch func(ctx context.Context) error) error {
	if !o.Begin(ctx, section, refresh) {
		return nil
	}

	start := time.Now()
	err := run(ctx, fetch)
	o.metrics.RecordFetch(ctx, section, time.Since(start), err == nil)

	o.registry.Set(status.StatusLoaded, section)
	return err
}

// Group runs subs under the guard of section using the best-effort
// settle-all policy and reports whether the group ran.
func (o *Orchestrator) Group(ctx context.Context, section status.Section, refresh bool, subs []SubFetch) bool {
	if !o.Begin(ctx, section, refresh) {
		return false
	}

	start := time.Now()
	errs := o.Fanout(ctx, section, subs)
	o.metrics.RecordFetch(ctx, section, time.Since(start), countErrors(errs) == 0)

	o.registry.Set(status.StatusLoaded, section)
	return true
}

// Fanout runs subs with the best-effort settle-all policy for a section the
// caller has already begun. Each successful sub-fetch advances the section to
// PARTIALLY_LOADED. Failures are logged and counted, never notified, and are
// returned only for inspection.
func (o *Orchestrator) Fanout(ctx context.Context, section status.Section, subs []SubFetch) []error {
	errs := SettleAll(ctx, o.maxConcurrency, subs, func(sub SubFetch, err error) {
		o.metrics.RecordSubFetch(ctx, section, sub.Name, err == nil)
		if err != nil {
			o.logger.Warn("Sub-fetch failed", "section", section, "sub_fetch", sub.Name, "error", err)
			return
		}
		o.registry.Set(status.StatusPartiallyLoaded, section)
	})

	if failed := countErrors(errs); failed > 0 {
		o.logger.Info("Group settled with failures", "section", section, "failed", failed, "total", len(subs))
	}
	return errs
}

func countErrors(errs []error) int {
	n := 0
	for _, err := range errs {
		if err != nil {
			n++
		}
	}
	return n
}
