package evm

import (
	"context"
	"fmt"
	"math/big"

	ethereum "github.com/ethereum/go-ethereum"
	"github.com/ethereum/go-ethereum/accounts/abi"
	"github.com/ethereum/go-ethereum/common"

	"github.com/ponderengine/core/internal/chainsync"
	"github.com/ponderengine/core/internal/event"
)

// Adapter polls an EVM node block by block, feeds each block through a
// chainsync.Ring to detect reorgs and finality, and decodes matched logs
// into event.RawItems.
type Adapter struct {
	client    BlockClient
	chainID   uint64
	ring      *chainsync.Ring
	matchers  []*RuleMatcher
	addresses []common.Address
	next      uint64
}

// ChainID returns the chain ID this adapter was built for.
func (a *Adapter) ChainID() uint64 { return a.chainID }

// Ping checks RPC liveness by fetching the latest header.
func (a *Adapter) Ping(ctx context.Context) error {
	_, err := a.client.HeaderByNumber(ctx, nil)
	return err
}

// NewAdapter builds an adapter for one chain's contract log sources.
func NewAdapter(client BlockClient, chainID uint64, finalityDepth uint64, abis map[string]*abi.Event, sources []event.Source) (*Adapter, error) {
	var matchers []*RuleMatcher
	addrSet := map[common.Address]struct{}{}
	for _, s := range sources {
		if s.ChainID != chainID || s.Variant != event.SourceContract {
			continue
		}
		m, err := NewRuleMatcher(s, abis)
		if err != nil {
			return nil, err
		}
		matchers = append(matchers, m)
		addrSet[m.address] = struct{}{}
	}

	addresses := make([]common.Address, 0, len(addrSet))
	for a := range addrSet {
		addresses = append(addresses, a)
	}

	return &Adapter{
		client:    client,
		chainID:   chainID,
		ring:      chainsync.NewRing(finalityDepth, nil),
		matchers:  matchers,
		addresses: addresses,
	}, nil
}

// Start sets the next block height to fetch (the indexer's stored cursor).
func (a *Adapter) Start(height uint64) { a.next = height }

// PollOnce fetches the next eligible block (if the chain has advanced past
// it), reconciles it against the finality ring, and decodes any matched
// logs. It returns no updates, no error when the chain hasn't produced a
// new block yet.
func (a *Adapter) PollOnce(ctx context.Context) ([]chainsync.Update, []event.RawItem, error) {
	latest, err := a.client.HeaderByNumber(ctx, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("evm: latest header: %w", err)
	}
	if a.next > latest.Number.Uint64() {
		return nil, nil, nil
	}

	header, err := a.client.HeaderByNumber(ctx, big.NewInt(int64(a.next)))
	if err != nil {
		return nil, nil, fmt.Errorf("evm: header %d: %w", a.next, err)
	}

	blk := chainsync.Block{
		Number:     a.next,
		Hash:       header.Hash().Hex(),
		ParentHash: header.ParentHash.Hex(),
		Timestamp:  header.Time,
	}

	updates, err := a.ring.Reconcile(blk)
	if err != nil {
		return nil, nil, err
	}

	if len(updates) == 1 && updates[0].Kind == chainsync.UpdateReorg {
		a.next = updates[0].AncestorBlock.Number + 1
		return updates, nil, nil
	}

	items, err := a.decodeBlock(ctx, blk, header.Hash())
	if err != nil {
		return nil, nil, err
	}
	a.next++
	return updates, items, nil
}

func (a *Adapter) decodeBlock(ctx context.Context, blk chainsync.Block, hash common.Hash) ([]event.RawItem, error) {
	if len(a.addresses) == 0 {
		return nil, nil
	}

	logs, err := a.client.FilterLogs(ctx, ethereum.FilterQuery{
		FromBlock: big.NewInt(int64(blk.Number)),
		ToBlock:   big.NewInt(int64(blk.Number)),
		Addresses: a.addresses,
	})
	if err != nil {
		return nil, fmt.Errorf("evm: filter logs %d: %w", blk.Number, err)
	}

	var items []event.RawItem
	for _, lg := range logs {
		for _, m := range a.matchers {
			_, args, ok, err := m.Match(lg)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
			handlerName := m.source.Name
			items = append(items, event.RawItem{
				Kind:             event.KindLog,
				ChainID:          a.chainID,
				BlockNumber:      blk.Number,
				BlockHash:        hash.Hex(),
				BlockTimestamp:   blk.Timestamp,
				TransactionHash:  lg.TxHash.Hex(),
				TransactionIndex: uint64(lg.TxIndex),
				LogIndex:         uint64(lg.Index),
				Contract:         lg.Address.Hex(),
				Matches: func(s event.Source) bool {
					return s.Variant == event.SourceContract &&
						s.ChainID == a.chainID &&
						s.Name == handlerName
				},
				Decode: func(s event.Source) (string, map[string]any, error) {
					return handlerName, args, nil
				},
			})
		}
	}
	return items, nil
}
