package api

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"defisync/internal/backend"
	"defisync/internal/prices"
)

// LatestPricesRequest selects the assets whose latest price is fetched
type LatestPricesRequest struct {
	Assets      []string `json:"assets"`
	TargetAsset string   `json:"target_asset"`
}

func (rt *routes) latestPrices(w http.ResponseWriter, _ *http.Request) {
	latest, target := rt.cfg.prices.Latest()
	writeJSON(w, http.StatusOK, PricesResponse{TargetAsset: target, Prices: latest})
}

func (rt *routes) fetchLatestPrices(w http.ResponseWriter, r *http.Request) {
	refresh, err := parseRefresh(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	var req LatestPricesRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(req.Assets) == 0 || req.TargetAsset == "" {
		writeError(w, http.StatusBadRequest, "assets and target_asset are required")
		return
	}

	ran := rt.cfg.prices.FetchLatest(context.WithoutCancel(r.Context()), req.Assets, req.TargetAsset, refresh)
	writeJSON(w, http.StatusOK, OperationResponse{Operation: "latest_prices", Ran: ran})
}

func (rt *routes) resetPrices(w http.ResponseWriter, _ *http.Request) {
	rt.cfg.prices.Reset()
	w.WriteHeader(http.StatusNoContent)
}

func (rt *routes) historicPrices(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, rt.cfg.prices.Historic())
}

func (rt *routes) fetchHistoricPrices(w http.ResponseWriter, r *http.Request) {
	var payload prices.HistoricPricesPayload
	if err := json.NewDecoder(r.Body).Decode(&payload); err != nil {
		writeError(w, http.StatusBadRequest, "invalid request body: "+err.Error())
		return
	}
	if len(payload.AssetsTimestamp) == 0 || payload.TargetAsset == "" {
		writeError(w, http.StatusBadRequest, "assets_timestamp and target_asset are required")
		return
	}

	ran := rt.cfg.prices.FetchHistoric(context.WithoutCancel(r.Context()), payload)
	writeJSON(w, http.StatusOK, OperationResponse{Operation: "historic_prices", Ran: ran})
}

func (rt *routes) manualPrices(w http.ResponseWriter, r *http.Request) {
	var filter prices.ManualPricePayload
	if from := r.URL.Query().Get("from_asset"); from != "" {
		filter.FromAsset = &from
	}
	if to := r.URL.Query().Get("to_asset"); to != "" {
		filter.ToAsset = &to
	}

	manual, err := rt.cfg.prices.ManualPrices(r.Context(), filter)
	if err != nil {
		writePriceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, manual)
}

func (rt *routes) setManualPrice(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeBody[prices.ManualPriceFormPayload](w, r, prices.SchemaManualPriceFormPayload)
	if !ok {
		return
	}
	if err := rt.cfg.prices.SetManualPrice(r.Context(), payload); err != nil {
		writePriceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *routes) addHistoricalPrice(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeBody[prices.HistoricalPriceFormPayload](w, r, prices.SchemaHistoricalPriceFormPayload)
	if !ok {
		return
	}
	if err := rt.cfg.prices.AddHistoricalPrice(r.Context(), payload); err != nil {
		writePriceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (rt *routes) deleteHistoricalPrice(w http.ResponseWriter, r *http.Request) {
	payload, ok := decodeBody[prices.HistoricalPriceDeletePayload](w, r, prices.SchemaHistoricalPriceDeletePayload)
	if !ok {
		return
	}
	if err := rt.cfg.prices.DeleteHistoricalPrice(r.Context(), payload); err != nil {
		writePriceError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// decodeBody validates the request body against schema and decodes it. On
// failure the error response is already written.
func decodeBody[T any](w http.ResponseWriter, r *http.Request, schema prices.Schema) (T, bool) {
	var zero T

	raw, err := io.ReadAll(r.Body)
	if err != nil {
		writeError(w, http.StatusBadRequest, "reading request body: "+err.Error())
		return zero, false
	}

	payload, err := prices.Decode[T](schema, raw)
	if err != nil {
		writeError(w, http.StatusBadRequest, backend.Message(err))
		return zero, false
	}
	return payload, true
}

func writePriceError(w http.ResponseWriter, err error) {
	var be *backend.Error
	if errors.As(err, &be) && be.Type == backend.ErrorTypeValidation {
		writeError(w, http.StatusBadRequest, backend.Message(err))
		return
	}
	writeError(w, http.StatusBadGateway, backend.Message(err))
}
