package defi

import (
	"encoding/json"

	"github.com/shopspring/decimal"
)

// Balance is an amount of an asset and its value in USD
type Balance struct {
	Amount   decimal.Decimal `json:"amount"`
	USDValue decimal.Decimal `json:"usd_value"`
}

// TokenBalance is a balance of one token
type TokenBalance struct {
	TokenAddress string  `json:"token_address"`
	TokenName    string  `json:"token_name"`
	TokenSymbol  string  `json:"token_symbol"`
	Balance      Balance `json:"balance"`
}

// Protocol identifies a DeFi protocol in the all-protocol balances
type Protocol struct {
	Name string `json:"name"`
	Icon string `json:"icon,omitempty"`
}

// BalanceType tells whether a position is an asset or a debt
type BalanceType string

const (
	BalanceTypeAsset BalanceType = "Asset"
	BalanceTypeDebt  BalanceType = "Debt"
)

// ProtocolBalance is one position of an account in a protocol
type ProtocolBalance struct {
	Protocol           Protocol       `json:"protocol"`
	BalanceType        BalanceType    `json:"balance_type"`
	BaseBalance        TokenBalance   `json:"base_balance"`
	UnderlyingBalances []TokenBalance `json:"underlying_balances"`
}

// AllBalances maps an account address to its positions in every protocol
type AllBalances map[string][]ProtocolBalance

// Totals sums the USD value of every asset and every debt position
func (b AllBalances) Totals() (assets, debt decimal.Decimal) {
	for _, positions := range b {
		for _, p := range positions {
			value := p.BaseBalance.Balance.USDValue
			if p.BalanceType == BalanceTypeDebt {
				debt = debt.Add(value)
			} else {
				assets = assets.Add(value)
			}
		}
	}
	return assets, debt
}

// Protocols lists the distinct protocol names with at least one position
func (b AllBalances) Protocols() []string {
	seen := make(map[string]struct{})
	var out []string
	for _, positions := range b {
		for _, p := range positions {
			if _, ok := seen[p.Protocol.Name]; ok {
				continue
			}
			seen[p.Protocol.Name] = struct{}{}
			out = append(out, p.Protocol.Name)
		}
	}
	return out
}

// Airdrop is an airdrop an account is eligible for
type Airdrop struct {
	Amount decimal.Decimal `json:"amount"`
	Asset  string          `json:"asset"`
	Link   string          `json:"link,omitempty"`
}

// Airdrops maps an account address to its airdrops by source
type Airdrops map[string]map[string]Airdrop

// Count returns the number of airdrops over every account
func (a Airdrops) Count() int {
	n := 0
	for _, sources := range a {
		n += len(sources)
	}
	return n
}

// Uniswap is the service-owned uniswap state
type Uniswap struct {
	Balances json.RawMessage `json:"balances,omitempty"`
	Trades   json.RawMessage `json:"trades,omitempty"`
	Events   json.RawMessage `json:"events,omitempty"`
}

// Empty reports whether nothing is cached
func (u Uniswap) Empty() bool {
	return len(u.Balances) == 0 && len(u.Trades) == 0 && len(u.Events) == 0
}
