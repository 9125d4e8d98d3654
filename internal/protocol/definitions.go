package protocol

import (
	"defisync/internal/backend"
	"defisync/internal/status"
)

const modulesPath = "/blockchains/ETH/modules"

// MakerDAODefinition covers both the DSR and the vaults modules
var MakerDAODefinition = Definition{
	Name: "makerdao",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Section: status.SectionDSRBalances,
			Task:    backend.TaskDSRBalance,
			Path:    modulesPath + "/makerdao/dsrbalance",
			Title:   "Fetching DSR balances",
		},
		{
			Kind:    KindHistory,
			Section: status.SectionDSRHistory,
			Task:    backend.TaskDSRHistory,
			Path:    modulesPath + "/makerdao/dsrhistory",
			Title:   "Fetching DSR history",
			Premium: true,
		},
		{
			Kind:    KindVaults,
			Section: status.SectionMakerDAOVaults,
			Task:    backend.TaskMakerDAOVaults,
			Path:    modulesPath + "/makerdao/vaults",
			Title:   "Fetching MakerDAO vaults",
		},
		{
			Kind:    KindVaultDetails,
			Section: status.SectionMakerDAOVaultDetails,
			Task:    backend.TaskMakerDAOVaultDetails,
			Path:    modulesPath + "/makerdao/vaultdetails",
			Title:   "Fetching MakerDAO vault details",
			Premium: true,
		},
	},
}

// DSRScopes select the DSR resources of the MakerDAO store
var DSRScopes = []Scope{{Kind: KindBalances}, {Kind: KindHistory}}

// VaultScopes select the vault resources of the MakerDAO store
var VaultScopes = []Scope{{Kind: KindVaults}, {Kind: KindVaultDetails}}

var AaveDefinition = Definition{
	Name: "aave",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Section: status.SectionAaveBalances,
			Task:    backend.TaskAaveBalances,
			Path:    modulesPath + "/aave/balances",
			Title:   "Fetching Aave balances",
		},
		{
			Kind:    KindHistory,
			Section: status.SectionAaveHistory,
			Task:    backend.TaskAaveHistory,
			Path:    modulesPath + "/aave/history",
			Title:   "Fetching Aave history",
			Premium: true,
		},
	},
}

var CompoundDefinition = Definition{
	Name: "compound",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Section: status.SectionCompoundBalances,
			Task:    backend.TaskCompoundBalances,
			Path:    modulesPath + "/compound/balances",
			Title:   "Fetching Compound balances",
		},
		{
			Kind:    KindHistory,
			Section: status.SectionCompoundHistory,
			Task:    backend.TaskCompoundHistory,
			Path:    modulesPath + "/compound/history",
			Title:   "Fetching Compound history",
			Premium: true,
		},
	},
}

// YearnDefinition has two incompatible vault implementations
var YearnDefinition = Definition{
	Name: "yearn",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Version: V1,
			Section: status.SectionYearnVaultsBalances,
			Task:    backend.TaskYearnVaultsBalances,
			Path:    modulesPath + "/yearn/vaults/balances",
			Title:   "Fetching yearn.finance vault balances",
		},
		{
			Kind:    KindHistory,
			Version: V1,
			Section: status.SectionYearnVaultsHistory,
			Task:    backend.TaskYearnVaultsHistory,
			Path:    modulesPath + "/yearn/vaults/history",
			Title:   "Fetching yearn.finance vault history",
			Premium: true,
		},
		{
			Kind:    KindBalances,
			Version: V2,
			Section: status.SectionYearnVaultsV2Balances,
			Task:    backend.TaskYearnVaultsV2Balances,
			Path:    modulesPath + "/yearn/vaultsv2/balances",
			Title:   "Fetching yearn.finance v2 vault balances",
		},
		{
			Kind:    KindHistory,
			Version: V2,
			Section: status.SectionYearnVaultsV2History,
			Task:    backend.TaskYearnVaultsV2History,
			Path:    modulesPath + "/yearn/vaultsv2/history",
			Title:   "Fetching yearn.finance v2 vault history",
			Premium: true,
		},
	},
}

var BalancerDefinition = Definition{
	Name: "balancer",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Section: status.SectionBalancerBalances,
			Task:    backend.TaskBalancerBalances,
			Path:    modulesPath + "/balancer/balances",
			Title:   "Fetching Balancer balances",
		},
		{
			Kind:    KindEvents,
			Section: status.SectionBalancerEvents,
			Task:    backend.TaskBalancerEvents,
			Path:    modulesPath + "/balancer/history/events",
			Title:   "Fetching Balancer events",
			Premium: true,
		},
	},
}

var SushiswapDefinition = Definition{
	Name: "sushiswap",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Section: status.SectionSushiswapBalances,
			Task:    backend.TaskSushiswapBalances,
			Path:    modulesPath + "/sushiswap/balances",
			Title:   "Fetching SushiSwap balances",
		},
		{
			Kind:    KindEvents,
			Section: status.SectionSushiswapEvents,
			Task:    backend.TaskSushiswapEvents,
			Path:    modulesPath + "/sushiswap/history/events",
			Title:   "Fetching SushiSwap events",
			Premium: true,
		},
	},
}

var LiquityDefinition = Definition{
	Name: "liquity",
	Endpoints: []Endpoint{
		{
			Kind:    KindBalances,
			Section: status.SectionLiquityBalances,
			Task:    backend.TaskLiquityBalances,
			Path:    modulesPath + "/liquity/balances",
			Title:   "Fetching Liquity balances",
		},
		{
			Kind:    KindEvents,
			Section: status.SectionLiquityEvents,
			Task:    backend.TaskLiquityEvents,
			Path:    modulesPath + "/liquity/events",
			Title:   "Fetching Liquity events",
			Premium: true,
		},
	},
}
