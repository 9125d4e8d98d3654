package prices

import (
	"context"
	"maps"
	"net/http"
	"sync"

	"github.com/shopspring/decimal"

	"defisync/internal/backend"
	"defisync/internal/orchestrator"
	"defisync/internal/status"
)

const (
	latestPricesPath     = "/assets/prices/latest"
	manualPricesPath     = "/assets/prices/latest/all"
	historicalPricesPath = "/assets/prices/historical"
)

// Backend runs price tasks and queries
type Backend interface {
	backend.TaskRunner
	backend.Querier
}

// Service keeps the latest and historic prices
type Service struct {
	orch    *orchestrator.Orchestrator
	backend Backend

	mu       sync.RWMutex
	latest   AssetPrices
	target   string
	historic HistoricPrices
}

// NewService creates a price service
func NewService(orch *orchestrator.Orchestrator, b Backend) *Service {
	return &Service{
		orch:    orch,
		backend: b,
		latest:  make(AssetPrices),
	}
}

type latestPricesRequest struct {
	FromAssets  []string `json:"from_assets"`
	ToAsset     string   `json:"to_asset"`
	IgnoreCache bool     `json:"ignore_cache"`
}

// FetchLatest fetches the latest prices of assets in the target asset. A
// refresh bypasses the backend price cache.
func (s *Service) FetchLatest(ctx context.Context, assets []string, target string, refresh bool) bool {
	failure := orchestrator.Failure{
		Title:       "Price query",
		Description: "Failed to fetch the latest prices: {error}",
	}

	return s.orch.Load(ctx, status.SectionPrices, refresh, failure, func(ctx context.Context) error {
		req := backend.Request{
			Method: http.MethodPost,
			Path:   latestPricesPath,
			Body:   latestPricesRequest{FromAssets: assets, ToAsset: target, IgnoreCache: refresh},
		}

		id, err := s.backend.Submit(ctx, req)
		if err != nil {
			return err
		}

		raw, err := s.backend.AwaitRaw(ctx, id, backend.TaskUpdatePrices, backend.Meta{Title: "Updating prices"})
		if err != nil {
			return err
		}

		resp, err := Decode[AssetPriceResponse](SchemaAssetPriceResponse, raw)
		if err != nil {
			return err
		}

		s.mu.Lock()
		defer s.mu.Unlock()
		// prices in another target asset are not comparable
		if resp.TargetAsset != s.target {
			s.latest = make(AssetPrices)
			s.target = resp.TargetAsset
		}
		maps.Copy(s.latest, resp.Prices())
		return nil
	})
}

// FetchHistoric fetches the prices of assets at the requested timestamps.
// Every request for a new payload is a refresh of the historic prices.
func (s *Service) FetchHistoric(ctx context.Context, payload HistoricPricesPayload) bool {
	failure := orchestrator.Failure{
		Title:       "Historic price query",
		Description: "Failed to fetch historic prices: {error}",
	}

	return s.orch.Load(ctx, status.SectionHistoricPrices, true, failure, func(ctx context.Context) error {
		id, err := s.backend.Submit(ctx, backend.Request{
			Method: http.MethodPost,
			Path:   historicalPricesPath,
			Body:   payload,
		})
		if err != nil {
			return err
		}

		raw, err := s.backend.AwaitRaw(ctx, id, backend.TaskFetchHistoricPrice, backend.Meta{Title: "Fetching historic prices"})
		if err != nil {
			return err
		}

		historic, err := Decode[HistoricPrices](SchemaHistoricPrices, raw)
		if err != nil {
			return err
		}

		s.mu.Lock()
		s.historic = historic
		s.mu.Unlock()
		return nil
	})
}

// ManualPrices lists the manually set current prices matching filter
func (s *Service) ManualPrices(ctx context.Context, filter ManualPricePayload) (ManualPrices, error) {
	raw, err := s.backend.QueryRaw(ctx, backend.Request{
		Method: http.MethodPost,
		Path:   manualPricesPath,
		Body:   filter,
	})
	if err != nil {
		return nil, err
	}
	return Decode[ManualPrices](SchemaManualPrices, raw)
}

// SetManualPrice sets the current price of a pair by hand
func (s *Service) SetManualPrice(ctx context.Context, payload ManualPriceFormPayload) error {
	if _, err := decimal.NewFromString(payload.Price); err != nil {
		return backend.NewValidationError("invalid manual price", err)
	}
	return s.change(ctx, http.MethodPut, latestPricesPath, payload)
}

// AddHistoricalPrice sets the price of a pair at a timestamp by hand
func (s *Service) AddHistoricalPrice(ctx context.Context, payload HistoricalPriceFormPayload) error {
	if _, err := decimal.NewFromString(payload.Price); err != nil {
		return backend.NewValidationError("invalid historical price", err)
	}
	return s.change(ctx, http.MethodPut, historicalPricesPath, payload)
}

// DeleteHistoricalPrice removes a manually set historical price
func (s *Service) DeleteHistoricalPrice(ctx context.Context, payload HistoricalPriceDeletePayload) error {
	return s.change(ctx, http.MethodDelete, historicalPricesPath, payload)
}

func (s *Service) change(ctx context.Context, method, path string, payload any) error {
	applied, err := backend.Query[bool](ctx, s.backend, backend.Request{
		Method: method,
		Path:   path,
		Body:   payload,
	})
	if err != nil {
		return err
	}
	if !applied {
		return backend.NewValidationError("price change was not applied", nil)
	}
	return nil
}

// Latest returns the latest prices and their target asset
func (s *Service) Latest() (AssetPrices, string) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return maps.Clone(s.latest), s.target
}

// Historic returns the last fetched historic prices
func (s *Service) Historic() HistoricPrices {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.historic
}

// Reset forgets every price and puts the price sections back to StatusNone
func (s *Service) Reset() {
	s.mu.Lock()
	s.latest = make(AssetPrices)
	s.target = ""
	s.historic = HistoricPrices{}
	s.mu.Unlock()

	registry := s.orch.Registry()
	registry.Reset(status.SectionPrices)
	registry.Reset(status.SectionHistoricPrices)
}
