// Package chainsync is C3: it normalizes a per-chain block stream into
// Block/Reorg/Finalize Updates, tracking a finality ring and running the
// reconcile algorithm from SPEC_FULL.md §4.3. The reconcile/ring logic here
// is chain-agnostic; internal/chainsync/evm and internal/chainsync/algorand
// each feed it typed blocks via the same "poll, compare parent hash, detect
// reorg" shape, maintaining an in-memory finality ring and emitting control
// events.
package chainsync

import (
	"container/list"
	"errors"
	"fmt"
)

// Block is the minimal chain-agnostic shape the ring needs to reconcile.
type Block struct {
	Number     uint64
	Hash       string
	ParentHash string
	Timestamp  uint64
}

// ReorgedBlock pairs a rolled-back block with the factory-discovered child
// addresses that must be forgotten because of it.
type ReorgedBlock struct {
	Block                 Block
	RemovedChildAddresses []string
}

// UpdateKind discriminates the Update union.
type UpdateKind uint8

const (
	UpdateBlock UpdateKind = iota
	UpdateReorg
	UpdateFinalize
)

// Update is what a sync source adapter emits: a new block, a reorg back to
// an ancestor, or a finalize of an old block.
type Update struct {
	Kind UpdateKind

	// UpdateBlock
	Block Block

	// UpdateReorg
	AncestorBlock Block
	Reorged       []ReorgedBlock

	// UpdateFinalize
	FinalizedBlock Block
}

// ErrDeepReorg is Unrecoverable (§7): the incoming block's ancestor is older
// than anything left in the finality ring.
var ErrDeepReorg = errors.New("chainsync: deep reorg exceeds finality depth")

// ChildAddressLookup answers, for a given block number, which
// factory-discovered child addresses were created at or after it — used to
// populate ReorgedBlock.RemovedChildAddresses.
type ChildAddressLookup func(atOrAfterBlock uint64) []string

// Ring tracks the unfinalized suffix of a chain, up to finalityDepth blocks,
// and implements the reconcile algorithm (§4.3).
type Ring struct {
	finalityDepth uint64
	blocks        *list.List // front = oldest, back = newest
	lookupChild   ChildAddressLookup
}

// NewRing creates an empty finality ring for one chain.
func NewRing(finalityDepth uint64, lookupChild ChildAddressLookup) *Ring {
	if lookupChild == nil {
		lookupChild = func(uint64) []string { return nil }
	}
	return &Ring{finalityDepth: finalityDepth, blocks: list.New(), lookupChild: lookupChild}
}

// Latest returns the newest block in the ring, or the zero Block and false if
// the ring is empty (no blocks seen yet).
func (r *Ring) Latest() (Block, bool) {
	if r.blocks.Len() == 0 {
		return Block{}, false
	}
	return r.blocks.Back().Value.(Block), true
}

// Reconcile feeds one incoming block through the ring, returning the Updates
// it produces: zero or more Finalize updates (append+prune path), or exactly
// one Reorg update (rollback path). incoming.number <= latest.number is
// itself treated as a (possibly zero-depth) reorg, per §4.3 step 1.
func (r *Ring) Reconcile(incoming Block) ([]Update, error) {
	latest, ok := r.Latest()
	if !ok {
		r.blocks.PushBack(incoming)
		return []Update{{Kind: UpdateBlock, Block: incoming}}, nil
	}

	if incoming.Number <= latest.Number || incoming.ParentHash != latest.Hash {
		return r.handleReorg(incoming)
	}

	r.blocks.PushBack(incoming)
	updates := []Update{{Kind: UpdateBlock, Block: incoming}}

	for uint64(r.blocks.Len()) > r.finalityDepth && r.finalityDepth > 0 {
		front := r.blocks.Remove(r.blocks.Front()).(Block)
		updates = append(updates, Update{Kind: UpdateFinalize, FinalizedBlock: front})
	}
	return updates, nil
}

func (r *Ring) handleReorg(incoming Block) ([]Update, error) {
	var reorged []ReorgedBlock
	var ancestor Block
	found := false

	for e := r.blocks.Back(); e != nil; e = e.Prev() {
		b := e.Value.(Block)
		if b.Hash == incoming.ParentHash {
			ancestor = b
			found = true
			break
		}
		reorged = append(reorged, ReorgedBlock{
			Block:                 b,
			RemovedChildAddresses: r.lookupChild(b.Number),
		})
	}

	if !found {
		return nil, fmt.Errorf("%w: incoming parent %s not found within depth %d", ErrDeepReorg, incoming.ParentHash, r.finalityDepth)
	}

	// Truncate the ring back to (and including) the ancestor.
	for {
		back := r.blocks.Back()
		if back == nil || back.Value.(Block).Hash == ancestor.Hash {
			break
		}
		r.blocks.Remove(back)
	}

	return []Update{{Kind: UpdateReorg, AncestorBlock: ancestor, Reorged: reorged}}, nil
}

// Len reports how many blocks are currently tracked (for tests/metrics).
func (r *Ring) Len() int { return r.blocks.Len() }

// FinalityDepth returns the table in SPEC_FULL.md §6.
func FinalityDepth(chainID uint64) uint64 {
	switch chainID {
	case 1, 11155111:
		return 65
	case 137, 80001:
		return 200
	case 42161:
		return 240
	default:
		return 30
	}
}
