package protocol

import (
	"fmt"
	"strings"
)

// Module selects a single DeFi module, or every module with AllModules
type Module int

const (
	MakerDAODSR Module = iota
	MakerDAOVaults
	Aave
	Compound
	YearnVaults
	YearnVaultsV2
	Uniswap
	Balancer
	Sushiswap
	Liquity

	// ModuleCount is the number of modules. It is not a module itself.
	ModuleCount
)

// AllModules is the sentinel selecting every module
const AllModules Module = -1

var moduleNames = [...]string{
	MakerDAODSR:    "makerdao_dsr",
	MakerDAOVaults: "makerdao_vaults",
	Aave:           "aave",
	Compound:       "compound",
	YearnVaults:    "yearn_vaults",
	YearnVaultsV2:  "yearn_vaults_v2",
	Uniswap:        "uniswap",
	Balancer:       "balancer",
	Sushiswap:      "sushiswap",
	Liquity:        "liquity",
}

var (
	_ [int(ModuleCount) - len(moduleNames)]struct{}
	_ [len(moduleNames) - int(ModuleCount)]struct{}
)

const allModulesName = "all"

// String implements fmt.Stringer
func (m Module) String() string {
	if m == AllModules {
		return allModulesName
	}
	if m.Valid() {
		return moduleNames[m]
	}
	return fmt.Sprintf("module(%d)", int(m))
}

// Valid reports whether m names a single module
func (m Module) Valid() bool {
	return m >= 0 && m < ModuleCount
}

// Modules returns every single module in declaration order
func Modules() []Module {
	out := make([]Module, 0, ModuleCount)
	for m := Module(0); m < ModuleCount; m++ {
		out = append(out, m)
	}
	return out
}

// ParseModule parses a module name as used by the backend, or "all"
func ParseModule(name string) (Module, error) {
	name = strings.ToLower(strings.TrimSpace(name))
	if name == allModulesName {
		return AllModules, nil
	}
	for m, n := range moduleNames {
		if n == name {
			return Module(m), nil
		}
	}
	return 0, fmt.Errorf("unknown module %q", name)
}

// Version discriminates incompatible implementations of one protocol
type Version int

const (
	// VersionNone marks resources of unversioned protocols
	VersionNone Version = iota
	V1
	V2
)

// String implements fmt.Stringer
func (v Version) String() string {
	switch v {
	case VersionNone:
		return "none"
	case V1:
		return "v1"
	case V2:
		return "v2"
	default:
		return fmt.Sprintf("v%d", int(v))
	}
}
