// Package defi implements the top-level DeFi operations of the portfolio
// view: the all-protocol overview, lending, borrowing, airdrops, the uniswap
// caches and the purge of module data.
//
// Standalone fetches notify the user when they fail. Groups fan out to the
// protocol stores with the best-effort settle-all policy and only log the
// failures of their sub-fetches.
package defi

import (
	"context"
	"encoding/json"
	"log/slog"
	"maps"
	"net/http"
	"sync"

	"defisync/internal/backend"
	"defisync/internal/orchestrator"
	"defisync/internal/protocol"
	"defisync/internal/status"
)

const (
	defiPath     = "/blockchains/ETH/defi"
	airdropsPath = "/blockchains/ETH/airdrops"
	uniswapPath  = "/blockchains/ETH/modules/uniswap"
)

// Service owns the DeFi caches and the per-protocol stores
type Service struct {
	orch    *orchestrator.Orchestrator
	runner  backend.TaskRunner
	premium func() bool
	logger  *slog.Logger

	MakerDAO  *protocol.Store
	Aave      *protocol.Store
	Compound  *protocol.Store
	Yearn     *protocol.Store
	Balancer  *protocol.Store
	Sushiswap *protocol.Store
	Liquity   *protocol.Store

	mu       sync.RWMutex
	balances AllBalances
	airdrops Airdrops
	uniswap  Uniswap
}

// Option configures a Service
type Option func(*Service)

// WithPremium sets how the service learns about the premium entitlement
func WithPremium(premium func() bool) Option {
	return func(s *Service) {
		s.premium = premium
	}
}

// WithLogger sets the service logger
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

// NewService creates the DeFi service and its protocol stores
func NewService(orch *orchestrator.Orchestrator, runner backend.TaskRunner, opts ...Option) *Service {
	s := &Service{
		orch:    orch,
		runner:  runner,
		premium: func() bool { return false },
		logger:  slog.Default(),
	}

	for _, opt := range opts {
		opt(s)
	}

	storeOpts := []protocol.StoreOption{
		protocol.WithPremium(s.premium),
		protocol.WithLogger(s.logger),
	}
	s.MakerDAO = protocol.NewStore(protocol.MakerDAODefinition, orch, runner, storeOpts...)
	s.Aave = protocol.NewStore(protocol.AaveDefinition, orch, runner, storeOpts...)
	s.Compound = protocol.NewStore(protocol.CompoundDefinition, orch, runner, storeOpts...)
	s.Yearn = protocol.NewStore(protocol.YearnDefinition, orch, runner, storeOpts...)
	s.Balancer = protocol.NewStore(protocol.BalancerDefinition, orch, runner, storeOpts...)
	s.Sushiswap = protocol.NewStore(protocol.SushiswapDefinition, orch, runner, storeOpts...)
	s.Liquity = protocol.NewStore(protocol.LiquityDefinition, orch, runner, storeOpts...)

	return s
}

// Stores returns every protocol store
func (s *Service) Stores() []*protocol.Store {
	return []*protocol.Store{s.MakerDAO, s.Aave, s.Compound, s.Yearn, s.Balancer, s.Sushiswap, s.Liquity}
}

// Premium reports the current premium entitlement
func (s *Service) Premium() bool {
	return s.premium()
}

// FetchDefiBalances fetches the balances of every account in every protocol
func (s *Service) FetchDefiBalances(ctx context.Context, refresh bool) bool {
	failure := orchestrator.Failure{
		Title:       "DeFi balances",
		Description: "Failed to fetch DeFi balances: {error}",
	}

	return s.orch.Load(ctx, status.SectionDefiBalances, refresh, failure, func(ctx context.Context) error {
		balances, err := backend.Run[AllBalances](ctx, s.runner,
			backend.Request{Method: http.MethodGet, Path: defiPath},
			backend.TaskDefiBalances,
			backend.Meta{Title: "Fetching DeFi balances"},
		)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.balances = balances
		s.mu.Unlock()
		return nil
	})
}

// FetchAllDefi fetches the all-protocol balances and then the balances of
// every protocol store. The overview section is partially loaded once the
// all-protocol balances are in.
func (s *Service) FetchAllDefi(ctx context.Context, refresh bool) bool {
	section := status.SectionDefiOverview
	if !s.orch.Begin(ctx, section, refresh) {
		return false
	}

	registry := s.orch.Registry()

	s.FetchDefiBalances(ctx, refresh)
	registry.Set(status.StatusPartiallyLoaded, section)

	s.orch.Fanout(ctx, section, []orchestrator.SubFetch{
		s.balancesOf(protocol.Aave, s.Aave, protocol.VersionNone, refresh),
		s.balancesOf(protocol.MakerDAODSR, s.MakerDAO, protocol.VersionNone, refresh),
		s.resourceOf(protocol.MakerDAOVaults, s.MakerDAO, protocol.KindVaults, refresh),
		s.balancesOf(protocol.Compound, s.Compound, protocol.VersionNone, refresh),
		s.balancesOf(protocol.YearnVaults, s.Yearn, protocol.V1, refresh),
		s.balancesOf(protocol.YearnVaultsV2, s.Yearn, protocol.V2, refresh),
		s.balancesOf(protocol.Liquity, s.Liquity, protocol.VersionNone, refresh),
	})

	registry.Set(status.StatusLoaded, section)
	return true
}

// FetchLending fetches the lending balances and, with the premium
// entitlement, the lending history. It reports whether any group ran.
func (s *Service) FetchLending(ctx context.Context, refresh bool) bool {
	ran := s.orch.Group(ctx, status.SectionDefiLending, refresh, []orchestrator.SubFetch{
		s.balancesOf(protocol.MakerDAODSR, s.MakerDAO, protocol.VersionNone, refresh),
		s.balancesOf(protocol.Aave, s.Aave, protocol.VersionNone, refresh),
		s.balancesOf(protocol.Compound, s.Compound, protocol.VersionNone, refresh),
		s.balancesOf(protocol.YearnVaults, s.Yearn, protocol.V1, refresh),
		s.balancesOf(protocol.YearnVaultsV2, s.Yearn, protocol.V2, refresh),
	})

	if !s.premium() {
		return ran
	}

	premiumRan := s.orch.Group(ctx, status.SectionDefiLendingHistory, refresh, []orchestrator.SubFetch{
		s.historyOf(protocol.MakerDAODSR, s.MakerDAO, protocol.HistoryParams{Refresh: refresh}),
		s.historyOf(protocol.Aave, s.Aave, protocol.HistoryParams{Refresh: refresh}),
		s.historyOf(protocol.Compound, s.Compound, protocol.HistoryParams{Refresh: refresh}),
		s.historyOf(protocol.YearnVaults, s.Yearn, protocol.HistoryParams{Refresh: refresh, Version: protocol.V1}),
		s.historyOf(protocol.YearnVaultsV2, s.Yearn, protocol.HistoryParams{Refresh: refresh, Version: protocol.V2}),
	})

	return ran || premiumRan
}

// FetchBorrowing fetches the borrowing positions and, with the premium
// entitlement, their history. It reports whether any group ran.
func (s *Service) FetchBorrowing(ctx context.Context, refresh bool) bool {
	ran := s.orch.Group(ctx, status.SectionDefiBorrowing, refresh, []orchestrator.SubFetch{
		s.resourceOf(protocol.MakerDAOVaults, s.MakerDAO, protocol.KindVaults, refresh),
		s.balancesOf(protocol.Compound, s.Compound, protocol.VersionNone, refresh),
		s.balancesOf(protocol.Aave, s.Aave, protocol.VersionNone, refresh),
		s.balancesOf(protocol.Liquity, s.Liquity, protocol.VersionNone, refresh),
	})

	if !s.premium() {
		return ran
	}

	premiumRan := s.orch.Group(ctx, status.SectionDefiBorrowingHistory, refresh, []orchestrator.SubFetch{
		s.resourceOf(protocol.MakerDAOVaults, s.MakerDAO, protocol.KindVaultDetails, refresh),
		s.historyOf(protocol.Compound, s.Compound, protocol.HistoryParams{Refresh: refresh}),
		s.historyOf(protocol.Aave, s.Aave, protocol.HistoryParams{Refresh: refresh}),
		s.resourceOf(protocol.Liquity, s.Liquity, protocol.KindEvents, refresh),
	})

	return ran || premiumRan
}

// ResetDB makes the backend drop and re-query the history of the selected
// modules. Only yearn vaults (both versions) and aave keep a resettable
// history; other modules are ignored. It requires the premium entitlement
// and declines while the lending history is in flight.
func (s *Service) ResetDB(ctx context.Context, modules []protocol.Module) bool {
	if !s.premium() {
		return false
	}

	section := status.SectionDefiLendingHistory
	if !s.orch.Begin(ctx, section, true) {
		return false
	}

	var subs []orchestrator.SubFetch
	for _, m := range modules {
		switch m {
		case protocol.YearnVaults:
			subs = append(subs, s.historyOf(m, s.Yearn, protocol.HistoryParams{Refresh: true, Reset: true, Version: protocol.V1}))
		case protocol.YearnVaultsV2:
			subs = append(subs, s.historyOf(m, s.Yearn, protocol.HistoryParams{Refresh: true, Reset: true, Version: protocol.V2}))
		case protocol.Aave:
			subs = append(subs, s.historyOf(m, s.Aave, protocol.HistoryParams{Refresh: true, Reset: true}))
		}
	}

	s.orch.Fanout(ctx, section, subs)
	s.orch.Registry().Set(status.StatusLoaded, section)
	return true
}

// FetchAirdrops fetches the airdrops every account is eligible for
func (s *Service) FetchAirdrops(ctx context.Context, refresh bool) bool {
	failure := orchestrator.Failure{
		Title:       "Airdrops",
		Description: "Failed to fetch airdrops: {error}",
	}

	return s.orch.Load(ctx, status.SectionDefiAirdrops, refresh, failure, func(ctx context.Context) error {
		airdrops, err := backend.Run[Airdrops](ctx, s.runner,
			backend.Request{Method: http.MethodGet, Path: airdropsPath},
			backend.TaskDefiAirdrops,
			backend.Meta{Title: "Fetching airdrops"},
		)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.airdrops = airdrops
		s.mu.Unlock()
		return nil
	})
}

// FetchUniswapBalances fetches the uniswap liquidity pool balances
func (s *Service) FetchUniswapBalances(ctx context.Context, refresh bool) bool {
	return s.loadUniswap(ctx, status.SectionUniswapBalances, refresh, false,
		uniswapPath+"/balances", backend.TaskUniswapBalances, "Uniswap balances",
		func(u *Uniswap, raw json.RawMessage) { u.Balances = raw })
}

// FetchUniswapTrades fetches the uniswap trades. It requires the premium
// entitlement.
func (s *Service) FetchUniswapTrades(ctx context.Context, refresh bool) bool {
	return s.loadUniswap(ctx, status.SectionUniswapTrades, refresh, true,
		uniswapPath+"/history/trades", backend.TaskUniswapTrades, "Uniswap trades",
		func(u *Uniswap, raw json.RawMessage) { u.Trades = raw })
}

// FetchUniswapEvents fetches the uniswap pool events. It requires the
// premium entitlement.
func (s *Service) FetchUniswapEvents(ctx context.Context, refresh bool) bool {
	return s.loadUniswap(ctx, status.SectionUniswapEvents, refresh, true,
		uniswapPath+"/history/events", backend.TaskUniswapEvents, "Uniswap events",
		func(u *Uniswap, raw json.RawMessage) { u.Events = raw })
}

func (s *Service) loadUniswap(ctx context.Context, section status.Section, refresh, premium bool, path string, task backend.TaskType, title string, store func(*Uniswap, json.RawMessage)) bool {
	if premium && !s.premium() {
		return false
	}

	failure := orchestrator.Failure{
		Title:       title,
		Description: "Failed to fetch " + title + ": {error}",
	}

	return s.orch.Load(ctx, section, refresh, failure, func(ctx context.Context) error {
		raw, err := backend.Run[json.RawMessage](ctx, s.runner,
			backend.Request{Method: http.MethodGet, Path: path},
			task,
			backend.Meta{Title: "Fetching " + title},
		)
		if err != nil {
			return err
		}

		s.mu.Lock()
		store(&s.uniswap, raw)
		s.mu.Unlock()
		return nil
	})
}

// Balances returns the all-protocol balances
func (s *Service) Balances() AllBalances {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.balances)
}

// Airdrops returns the fetched airdrops
func (s *Service) Airdrops() Airdrops {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.airdrops)
}

// Uniswap returns the uniswap caches
func (s *Service) Uniswap() Uniswap {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.uniswap
}

func (s *Service) balancesOf(m protocol.Module, store *protocol.Store, version protocol.Version, refresh bool) orchestrator.SubFetch {
	return orchestrator.Sub(m.String(), func(ctx context.Context) error {
		return store.FetchBalancesVersion(ctx, version, refresh)
	})
}

func (s *Service) historyOf(m protocol.Module, store *protocol.Store, params protocol.HistoryParams) orchestrator.SubFetch {
	return orchestrator.Sub(m.String()+"_history", func(ctx context.Context) error {
		return store.FetchHistory(ctx, params)
	})
}

func (s *Service) resourceOf(m protocol.Module, store *protocol.Store, kind protocol.Kind, refresh bool) orchestrator.SubFetch {
	return orchestrator.Sub(m.String()+"_"+string(kind), func(ctx context.Context) error {
		return store.Fetch(ctx, kind, protocol.VersionNone, refresh)
	})
}
