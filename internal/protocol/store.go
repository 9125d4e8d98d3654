// Package protocol holds the per-protocol stores of the DeFi view.
//
// A Store is built from a Definition that lists the resources the protocol
// exposes. Each resource is fetched under the guard of its own section and
// cached as the raw backend payload. Store fetches return their errors to
// the caller; they are meant to be fanned out by a group that decides what
// to report.
package protocol

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"

	"defisync/internal/backend"
	"defisync/internal/orchestrator"
	"defisync/internal/status"
)

// ErrUnknownResource is returned when a store has no endpoint for a resource
var ErrUnknownResource = errors.New("unknown protocol resource")

// Kind names a resource of a protocol
type Kind string

const (
	KindBalances     Kind = "balances"
	KindHistory      Kind = "history"
	KindEvents       Kind = "events"
	KindVaults       Kind = "vaults"
	KindVaultDetails Kind = "vault_details"
)

// Endpoint describes how one resource of a protocol is fetched
type Endpoint struct {
	Kind    Kind
	Version Version
	Section status.Section
	Task    backend.TaskType
	Path    string
	Title   string
	// Premium resources are silently skipped without the premium entitlement
	Premium bool
}

// Definition describes a protocol and its resources
type Definition struct {
	Name      string
	Endpoints []Endpoint
}

// Endpoint returns the endpoint of a resource
func (d Definition) Endpoint(kind Kind, version Version) (Endpoint, bool) {
	for _, ep := range d.Endpoints {
		if ep.Kind == kind && ep.Version == version {
			return ep, true
		}
	}
	return Endpoint{}, false
}

// Sections returns the sections of every resource of the protocol
func (d Definition) Sections() []status.Section {
	out := make([]status.Section, 0, len(d.Endpoints))
	for _, ep := range d.Endpoints {
		out = append(out, ep.Section)
	}
	return out
}

// Scope selects resources for Reset. A zero Kind matches every kind and
// VersionNone matches every version.
type Scope struct {
	Kind    Kind
	Version Version
}

func (s Scope) matches(ep Endpoint) bool {
	if s.Kind != "" && s.Kind != ep.Kind {
		return false
	}
	return s.Version == VersionNone || s.Version == ep.Version
}

// HistoryParams controls a history fetch
type HistoryParams struct {
	Refresh bool
	// Reset asks the backend to drop its cached history before querying
	Reset   bool
	Version Version
}

type resource struct {
	kind    Kind
	version Version
}

// Store fetches and caches the resources of one protocol
type Store struct {
	def     Definition
	orch    *orchestrator.Orchestrator
	runner  backend.TaskRunner
	premium func() bool
	logger  *slog.Logger

	mu          sync.RWMutex
	payloads    map[resource]json.RawMessage
	generations map[resource]uint64 // resets per resource
}

// StoreOption configures a Store
type StoreOption func(*Store)

// WithPremium sets how the store learns about the premium entitlement
func WithPremium(premium func() bool) StoreOption {
	return func(s *Store) {
		s.premium = premium
	}
}

// WithLogger sets the store logger
func WithLogger(logger *slog.Logger) StoreOption {
	return func(s *Store) {
		s.logger = logger
	}
}

// NewStore creates a store for the protocol described by def
func NewStore(def Definition, orch *orchestrator.Orchestrator, runner backend.TaskRunner, opts ...StoreOption) *Store {
	s := &Store{
		def:         def,
		orch:        orch,
		runner:      runner,
		premium:     func() bool { return false },
		logger:      slog.Default(),
		payloads:    make(map[resource]json.RawMessage),
		generations: make(map[resource]uint64),
	}

	for _, opt := range opts {
		opt(s)
	}

	return s
}

// Name returns the protocol name
func (s *Store) Name() string {
	return s.def.Name
}

// Definition returns the protocol definition
func (s *Store) Definition() Definition {
	return s.def
}

// FetchBalances fetches the balances of an unversioned protocol
func (s *Store) FetchBalances(ctx context.Context, refresh bool) error {
	return s.FetchBalancesVersion(ctx, VersionNone, refresh)
}

// FetchBalancesVersion fetches the balances of one protocol version
func (s *Store) FetchBalancesVersion(ctx context.Context, version Version, refresh bool) error {
	return s.Fetch(ctx, KindBalances, version, refresh)
}

// FetchHistory fetches the history of the protocol. With Reset set the
// fetch always runs, as a refresh.
func (s *Store) FetchHistory(ctx context.Context, params HistoryParams) error {
	ep, ok := s.def.Endpoint(KindHistory, params.Version)
	if !ok {
		return s.unknown(KindHistory, params.Version)
	}
	return s.fetch(ctx, ep, params.Refresh || params.Reset, params.Reset)
}

// Fetch fetches any resource of the protocol
func (s *Store) Fetch(ctx context.Context, kind Kind, version Version, refresh bool) error {
	ep, ok := s.def.Endpoint(kind, version)
	if !ok {
		return s.unknown(kind, version)
	}
	return s.fetch(ctx, ep, refresh, false)
}

func (s *Store) fetch(ctx context.Context, ep Endpoint, refresh, reset bool) error {
	if ep.Premium && !s.premium() {
		s.logger.Debug("Skipping premium resource", "protocol", s.def.Name, "resource", ep.Kind)
		return nil
	}

	res := resource{kind: ep.Kind, version: ep.Version}

	return s.orch.Guarded(ctx, ep.Section, refresh, func(ctx context.Context) error {
		s.mu.RLock()
		generation := s.generations[res]
		s.mu.RUnlock()

		req := backend.Request{Method: http.MethodGet, Path: ep.Path}
		if reset {
			req.Query = map[string]string{"reset_db_data": "true"}
		}

		raw, err := backend.Run[json.RawMessage](ctx, s.runner, req, ep.Task, backend.Meta{Title: ep.Title})
		if err != nil {
			return fmt.Errorf("fetching %s %s: %w", s.def.Name, ep.Kind, err)
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		// a reset while the task ran wins over its result
		if s.generations[res] != generation {
			s.logger.Debug("Dropping result of a reset resource", "protocol", s.def.Name, "resource", ep.Kind)
			return nil
		}
		s.payloads[res] = raw
		return nil
	})
}

// Payload returns the last fetched payload of a resource
func (s *Store) Payload(kind Kind, version Version) (json.RawMessage, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	raw, ok := s.payloads[resource{kind: kind, version: version}]
	return raw, ok
}

// Reset clears the resources selected by scopes and puts their sections back
// to StatusNone. Without scopes every resource is reset.
func (s *Store) Reset(scopes ...Scope) {
	if len(scopes) == 0 {
		scopes = []Scope{{}}
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	registry := s.orch.Registry()
	for _, ep := range s.def.Endpoints {
		for _, scope := range scopes {
			if scope.matches(ep) {
				res := resource{kind: ep.Kind, version: ep.Version}
				delete(s.payloads, res)
				s.generations[res]++
				registry.Reset(ep.Section)
				break
			}
		}
	}

	s.logger.Debug("Protocol reset", "protocol", s.def.Name, "scopes", len(scopes))
}

// Empty reports whether the store holds no payload
func (s *Store) Empty() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.payloads) == 0
}

func (s *Store) unknown(kind Kind, version Version) error {
	return fmt.Errorf("%s %s (%s): %w", s.def.Name, kind, version, ErrUnknownResource)
}
