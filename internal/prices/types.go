// Package prices decodes and validates the price data exchanged with the
// backend and keeps the latest and historic prices of the portfolio.
package prices

import (
	"encoding/json"
	"fmt"

	"github.com/shopspring/decimal"
)

// Oracle names a price source
type Oracle string

// OracleManualCurrent is the oracle of manually set current prices
const OracleManualCurrent Oracle = "manualcurrent"

// AssetPriceInput is the [price, oracle, is current currency] tuple the
// backend returns for every asset
type AssetPriceInput struct {
	Value             decimal.Decimal
	Oracle            int
	IsCurrentCurrency bool
}

// UnmarshalJSON implements json.Unmarshaler
func (a *AssetPriceInput) UnmarshalJSON(data []byte) error {
	var tuple []json.RawMessage
	if err := json.Unmarshal(data, &tuple); err != nil {
		return err
	}
	if len(tuple) != 3 {
		return fmt.Errorf("asset price: want 3 elements, got %d", len(tuple))
	}
	if err := json.Unmarshal(tuple[0], &a.Value); err != nil {
		return fmt.Errorf("asset price value: %w", err)
	}
	if err := json.Unmarshal(tuple[1], &a.Oracle); err != nil {
		return fmt.Errorf("asset price oracle: %w", err)
	}
	if err := json.Unmarshal(tuple[2], &a.IsCurrentCurrency); err != nil {
		return fmt.Errorf("asset price currency flag: %w", err)
	}
	return nil
}

// MarshalJSON implements json.Marshaler
func (a AssetPriceInput) MarshalJSON() ([]byte, error) {
	return json.Marshal([]any{a.Value, a.Oracle, a.IsCurrentCurrency})
}

// AssetPriceResponse is the backend answer to a latest prices query
type AssetPriceResponse struct {
	Assets      map[string]AssetPriceInput `json:"assets"`
	TargetAsset string                     `json:"target_asset"`
	Oracles     map[Oracle]int             `json:"oracles"`
}

// AssetPrice is the price of an asset in the target asset
type AssetPrice struct {
	Value             decimal.Decimal     `json:"value"`
	USDPrice          decimal.NullDecimal `json:"usd_price"`
	IsManualPrice     bool                `json:"is_manual_price"`
	IsCurrentCurrency bool                `json:"is_current_currency"`
}

// AssetPrices maps an asset identifier to its price
type AssetPrices map[string]AssetPrice

// Prices maps the response to asset prices. A price is manual when its
// oracle is the manual current price oracle.
func (r AssetPriceResponse) Prices() AssetPrices {
	manual, hasManual := r.Oracles[OracleManualCurrent]

	out := make(AssetPrices, len(r.Assets))
	for asset, in := range r.Assets {
		out[asset] = AssetPrice{
			Value:             in.Value,
			IsManualPrice:     hasManual && in.Oracle == manual,
			IsCurrentCurrency: in.IsCurrentCurrency,
		}
	}
	return out
}

// AssetPair is a conversion from one asset to another
type AssetPair struct {
	FromAsset string `json:"from_asset"`
	ToAsset   string `json:"to_asset"`
}

// OracleCachePayload asks the backend to cache the prices of a pair
type OracleCachePayload struct {
	AssetPair
	Source   Oracle `json:"source"`
	PurgeOld bool   `json:"purge_old"`
}

// HistoricPrices maps asset to timestamp to price in the target asset
type HistoricPrices struct {
	Assets      map[string]map[string]decimal.Decimal `json:"assets"`
	TargetAsset string                                `json:"target_asset"`
}

// HistoricPricePayload asks for the price of a pair at one timestamp
type HistoricPricePayload struct {
	AssetPair
	Timestamp int64 `json:"timestamp"`
}

// HistoricPricesPayload asks for the prices of many [asset, timestamp] pairs
type HistoricPricesPayload struct {
	AssetsTimestamp [][]string `json:"assets_timestamp"`
	TargetAsset     string     `json:"target_asset"`
}

// ManualPrice is a manually set current price
type ManualPrice struct {
	AssetPair
	Price decimal.Decimal `json:"price"`
}

// ManualPrices is a list of manual prices
type ManualPrices []ManualPrice

// HistoricalPrice is a manually set price at a timestamp
type HistoricalPrice struct {
	ManualPrice
	Timestamp int64 `json:"timestamp"`
}

// HistoricalPrices is a list of historical prices
type HistoricalPrices []HistoricalPrice

// ManualPriceFormPayload sets a manual price
type ManualPriceFormPayload struct {
	AssetPair
	Price string `json:"price"`
}

// HistoricalPriceFormPayload sets a historical price
type HistoricalPriceFormPayload struct {
	ManualPriceFormPayload
	Timestamp int64 `json:"timestamp"`
}

// HistoricalPriceDeletePayload deletes a historical price
type HistoricalPriceDeletePayload struct {
	AssetPair
	Timestamp int64 `json:"timestamp"`
}

// ManualPricePayload filters manual prices. Nil members match everything.
type ManualPricePayload struct {
	FromAsset *string `json:"from_asset"`
	ToAsset   *string `json:"to_asset"`
}

// PriceInformation is the price of an asset as known by the backend
type PriceInformation struct {
	USDPrice      decimal.Decimal `json:"usd_price"`
	ManuallyInput bool            `json:"manually_input"`
	PriceAsset    string          `json:"price_asset"`
	PriceInAsset  decimal.Decimal `json:"price_in_asset"`
}

// NftPrice is the price of an NFT
type NftPrice struct {
	PriceInformation
	Asset string `json:"asset"`
	Name  string `json:"name,omitempty"`
}

// NftPrices is a list of NFT prices
type NftPrices []NftPrice
