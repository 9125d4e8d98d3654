package defi

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"strings"
)

// Operation names a top-level DeFi operation that can be triggered by name
type Operation string

const (
	OperationAll       Operation = "all"
	OperationBalances  Operation = "balances"
	OperationLending   Operation = "lending"
	OperationBorrowing Operation = "borrowing"
	OperationAirdrops  Operation = "airdrops"
	OperationUniswap   Operation = "uniswap"
)

// ErrUnknownOperation is returned for an operation name that does not exist
var ErrUnknownOperation = errors.New("unknown operation")

var operations = map[Operation]func(*Service, context.Context, bool) bool{
	OperationAll:       (*Service).FetchAllDefi,
	OperationBalances:  (*Service).FetchDefiBalances,
	OperationLending:   (*Service).FetchLending,
	OperationBorrowing: (*Service).FetchBorrowing,
	OperationAirdrops:  (*Service).FetchAirdrops,
	OperationUniswap:   (*Service).fetchUniswap,
}

// Operations lists the operation names, sorted
func Operations() []Operation {
	out := make([]Operation, 0, len(operations))
	for op := range operations {
		out = append(out, op)
	}
	slices.Sort(out)
	return out
}

// ParseOperation parses an operation name
func ParseOperation(name string) (Operation, error) {
	op := Operation(strings.ToLower(strings.TrimSpace(name)))
	if _, ok := operations[op]; !ok {
		return "", fmt.Errorf("%w %q", ErrUnknownOperation, name)
	}
	return op, nil
}

// Run runs an operation by name and reports whether it ran or was declined
func (s *Service) Run(ctx context.Context, op Operation, refresh bool) (bool, error) {
	run, ok := operations[op]
	if !ok {
		return false, fmt.Errorf("%w %q", ErrUnknownOperation, op)
	}
	return run(s, ctx, refresh), nil
}

func (s *Service) fetchUniswap(ctx context.Context, refresh bool) bool {
	ran := s.FetchUniswapBalances(ctx, refresh)
	if s.FetchUniswapTrades(ctx, refresh) {
		ran = true
	}
	if s.FetchUniswapEvents(ctx, refresh) {
		ran = true
	}
	return ran
}
