// Package health provides a minimal /healthz endpoint pinging the database
// and every chain's sync adapter. RPCChecker works over an arbitrary list
// of chainsync adapters, since chains are configured dynamically rather
// than hardcoded to two fixed chain types.
package health

import (
	"context"
	"fmt"
)

// Pinger is satisfied by any chainsync adapter that can report RPC
// liveness — evm.Adapter and algorand.Adapter both implement it.
type Pinger interface {
	Ping(ctx context.Context) error
}

// RPCChecker combines health checks across every configured chain.
type RPCChecker struct {
	adapters map[uint64]Pinger
}

// NewRPCChecker creates a checker for multiple chain adapters, keyed by
// chain ID.
func NewRPCChecker(adapters map[uint64]Pinger) *RPCChecker {
	return &RPCChecker{adapters: adapters}
}

// Ping checks every configured chain's adapter, returning the last error
// encountered (if any) after checking all of them.
func (c *RPCChecker) Ping(ctx context.Context) error {
	var lastErr error
	for chainID, p := range c.adapters {
		if err := p.Ping(ctx); err != nil {
			lastErr = fmt.Errorf("chain %d: %w", chainID, err)
		}
	}
	return lastErr
}
