package defi

import (
	"errors"
	"fmt"

	"defisync/internal/protocol"
	"defisync/internal/status"
)

// ErrUnknownModule is returned when purging a module that does not exist
var ErrUnknownModule = errors.New("unknown module")

// purgers holds the reset of every single module. The service lock is held
// while they run.
var purgers = [...]func(*Service){
	protocol.MakerDAODSR:    (*Service).purgeDSR,
	protocol.MakerDAOVaults: (*Service).purgeVaults,
	protocol.Aave:           (*Service).purgeAave,
	protocol.Compound:       (*Service).purgeCompound,
	protocol.YearnVaults:    (*Service).purgeYearnV1,
	protocol.YearnVaultsV2:  (*Service).purgeYearnV2,
	protocol.Uniswap:        (*Service).clearUniswap,
	protocol.Balancer:       (*Service).purgeBalancer,
	protocol.Sushiswap:      (*Service).purgeSushiswap,
	protocol.Liquity:        (*Service).purgeLiquity,
}

// A module without a purger does not build.
var (
	_ [len(purgers) - int(protocol.ModuleCount)]struct{}
	_ [int(protocol.ModuleCount) - len(purgers)]struct{}
)

// Purge clears the data owned by module m and puts its sections back to
// StatusNone. protocol.AllModules clears every module.
func (s *Service) Purge(m protocol.Module) error {
	if m != protocol.AllModules && !m.Valid() {
		return fmt.Errorf("purging %s: %w", m, ErrUnknownModule)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if m == protocol.AllModules {
		s.purgeAll()
	} else {
		purgers[m](s)
	}

	s.logger.Info("Module data purged", "module", m)
	return nil
}

func (s *Service) purgeAll() {
	for _, store := range s.Stores() {
		store.Reset()
	}
	s.clearUniswap()
}

func (s *Service) purgeDSR()       { s.MakerDAO.Reset(protocol.DSRScopes...) }
func (s *Service) purgeVaults()    { s.MakerDAO.Reset(protocol.VaultScopes...) }
func (s *Service) purgeAave()      { s.Aave.Reset() }
func (s *Service) purgeCompound()  { s.Compound.Reset() }
func (s *Service) purgeYearnV1()   { s.Yearn.Reset(protocol.Scope{Version: protocol.V1}) }
func (s *Service) purgeYearnV2()   { s.Yearn.Reset(protocol.Scope{Version: protocol.V2}) }
func (s *Service) purgeBalancer()  { s.Balancer.Reset() }
func (s *Service) purgeSushiswap() { s.Sushiswap.Reset() }
func (s *Service) purgeLiquity()   { s.Liquity.Reset() }

// clearUniswap expects the service lock to be held
func (s *Service) clearUniswap() {
	s.uniswap = Uniswap{}

	registry := s.orch.Registry()
	registry.Reset(status.SectionUniswapBalances)
	registry.Reset(status.SectionUniswapTrades)
	registry.Reset(status.SectionUniswapEvents)
}
