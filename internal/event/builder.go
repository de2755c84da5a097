package event

import (
	"log/slog"
	"sort"
)

// RawItem is a chain-normalized candidate the Builder decides whether to
// turn into an Event. Chain adapters (internal/chainsync/evm,
// internal/chainsync/algorand) populate RawItems from a RawBlockBundle;
// Builder itself never looks at go-ethereum or algorand-sdk types, keeping
// C2 chain-agnostic as SPEC_FULL.md §4.2 intends.
type RawItem struct {
	Kind             Kind
	ChainID          uint64
	BlockNumber      uint64
	BlockHash        string
	BlockTimestamp   uint64
	TransactionHash  string
	TransactionIndex uint64
	LogIndex         uint64
	Contract         string

	// Matches reports whether s selects this item at all (address/signature/
	// interval filter). Decode is only invoked for items that match.
	Matches func(s Source) bool

	// Decode extracts the event's Name and Args for a matching source.
	// Decode failures are non-fatal (§4.2): the item is dropped and logged
	// at debug level.
	Decode func(s Source) (name string, args map[string]any, err error)
}

// Build turns a batch of RawItems from one chain into checkpoint-ordered
// Events, applying the chain's declared Sources and dropping per-item
// decode failures non-fatally. Setup events are the caller's
// responsibility (they are emitted once per chain×handler, independent of
// any particular block — see BuildSetupEvents).
func Build(items []RawItem, sources []Source, logger *slog.Logger) []Event {
	if logger == nil {
		logger = slog.Default()
	}

	var out []Event
	for _, item := range items {
		for _, src := range sources {
			if src.ChainID != item.ChainID {
				continue
			}
			if !item.Matches(src) {
				continue
			}
			name, args, err := item.Decode(src)
			if err != nil {
				logger.Debug("dropping undecodable item",
					"chain", item.ChainID, "block", item.BlockNumber,
					"tx", item.TransactionHash, "source", src.Name, "error", err)
				continue
			}
			ev := Event{
				Kind:             item.Kind,
				ChainID:          item.ChainID,
				Name:             name,
				BlockNumber:      item.BlockNumber,
				BlockHash:        item.BlockHash,
				BlockTimestamp:   item.BlockTimestamp,
				TransactionHash:  item.TransactionHash,
				TransactionIndex: item.TransactionIndex,
				LogIndex:         item.LogIndex,
				Contract:         item.Contract,
				Args:             args,
			}.WithCheckpoint()
			out = append(out, ev)
		}
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Checkpoint < out[j].Checkpoint })
	return out
}

// BuildSetupEvents returns one Setup event per (chain, handler name) in
// sources, deduplicated, at ZERO_CHECKPOINT — emitted once before any real
// event for that chain (scenario 5).
func BuildSetupEvents(chainID uint64, sources []Source) []Event {
	seen := map[string]struct{}{}
	var out []Event
	for _, src := range sources {
		if src.ChainID != chainID {
			continue
		}
		if _, ok := seen[src.Name]; ok {
			continue
		}
		seen[src.Name] = struct{}{}
		out = append(out, NewSetupEvent(chainID, src.Name))
	}
	return out
}
