package status

// Status is the loading state of a Section.
type Status string

const (
	// StatusNone means the section was never fetched or has been reset
	StatusNone Status = "none"
	// StatusLoading means a first fetch is in flight
	StatusLoading Status = "loading"
	// StatusPartiallyLoaded means some sub-fetches of a group have completed
	StatusPartiallyLoaded Status = "partially_loaded"
	// StatusRefreshing means a forced re-fetch is in flight
	StatusRefreshing Status = "refreshing"
	// StatusLoaded means the last fetch settled, successfully or not
	StatusLoaded Status = "loaded"
)

// InFlight reports whether a fetch for the section is currently running.
func (s Status) InFlight() bool {
	switch s {
	case StatusLoading, StatusRefreshing, StatusPartiallyLoaded:
		return true
	default:
		return false
	}
}

// String implements fmt.Stringer
func (s Status) String() string {
	if s == "" {
		return string(StatusNone)
	}
	return string(s)
}

// Section names a logical resource group tracked by one Status value.
type Section string

const (
	SectionDefiOverview          Section = "defi_overview"
	SectionDefiBalances          Section = "defi_balances"
	SectionDefiLending           Section = "defi_lending"
	SectionDefiLendingHistory    Section = "defi_lending_history"
	SectionDefiBorrowing         Section = "defi_borrowing"
	SectionDefiBorrowingHistory  Section = "defi_borrowing_history"
	SectionDefiAirdrops          Section = "defi_airdrops"
	SectionDSRBalances           Section = "defi_dsr_balances"
	SectionDSRHistory            Section = "defi_dsr_history"
	SectionMakerDAOVaults        Section = "defi_makerdao_vaults"
	SectionMakerDAOVaultDetails  Section = "defi_makerdao_vault_details"
	SectionAaveBalances          Section = "defi_aave_balances"
	SectionAaveHistory           Section = "defi_aave_history"
	SectionCompoundBalances      Section = "defi_compound_balances"
	SectionCompoundHistory       Section = "defi_compound_history"
	SectionYearnVaultsBalances   Section = "defi_yearn_vaults_balances"
	SectionYearnVaultsHistory    Section = "defi_yearn_vaults_history"
	SectionYearnVaultsV2Balances Section = "defi_yearn_vaults_v2_balances"
	SectionYearnVaultsV2History  Section = "defi_yearn_vaults_v2_history"
	SectionUniswapBalances       Section = "defi_uniswap_balances"
	SectionUniswapTrades         Section = "defi_uniswap_trades"
	SectionUniswapEvents         Section = "defi_uniswap_events"
	SectionBalancerBalances      Section = "defi_balancer_balances"
	SectionBalancerEvents        Section = "defi_balancer_events"
	SectionSushiswapBalances     Section = "defi_sushiswap_balances"
	SectionSushiswapEvents       Section = "defi_sushiswap_events"
	SectionLiquityBalances       Section = "defi_liquity_balances"
	SectionLiquityEvents         Section = "defi_liquity_events"
	SectionPrices                Section = "prices"
	SectionHistoricPrices        Section = "historic_prices"
)
