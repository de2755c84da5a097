// Package merge is C4: it combines the per-chain chainsync.Update streams
// into a single checkpoint-ordered stream of event.Event plus passthrough
// control Updates, using the minimum-frontier k-way merge described in
// SPEC_FULL.md §4.4, implemented over container/heap.
package merge

import (
	"container/heap"
	"context"

	"github.com/ponderengine/core/internal/chainsync"
	ckpt "github.com/ponderengine/core/internal/checkpoint"
	"github.com/ponderengine/core/internal/event"
)

// Policy selects how chains are ordered relative to each other.
type Policy uint8

const (
	// Omnichain interleaves events from every chain by global checkpoint
	// order (cross-chain timestamp comparison).
	Omnichain Policy = iota
	// Multichain processes each chain independently in its own order;
	// cross-chain interleaving is undefined, only per-chain order matters.
	Multichain
)

// Source is one chain's pull side: the merge driver calls Next to obtain
// the next batch of events (already checkpoint-sorted within the chain)
// together with any control Updates (Reorg/Finalize) that must be applied
// before those events are committed.
type Source interface {
	ChainID() uint64
	// Next blocks until the chain has produced its next unit of work, or
	// ctx is done. ok is false once the source is exhausted (historical
	// mode only; realtime sources never exhaust).
	Next(ctx context.Context) (updates []chainsync.Update, events []event.Event, ok bool, err error)
}

// Item is one element of the merged output: a control Update to reconcile
// storage, or a batch of Events to index, tagged with the chain that
// produced it.
type Item struct {
	ChainID uint64
	Updates []chainsync.Update
	Events  []event.Event
}

// frontierEntry tracks one chain's current head item and its heap position.
type frontierEntry struct {
	source Source
	item   Item
}

type frontierHeap []*frontierEntry

func (h frontierHeap) Len() int { return len(h) }
func (h frontierHeap) Less(i, j int) bool {
	ci, cj := checkpointOf(h[i].item), checkpointOf(h[j].item)
	return ci < cj
}
func (h frontierHeap) Swap(i, j int)      { h[i], h[j] = h[j], h[i] }
func (h *frontierHeap) Push(x any)        { *h = append(*h, x.(*frontierEntry)) }
func (h *frontierHeap) Pop() any {
	old := *h
	n := len(old)
	x := old[n-1]
	*h = old[:n-1]
	return x
}

// checkpointOf gives each Item a sort key: a real event's own checkpoint, or
// for a control-only item (Reorg/Finalize with no decoded events) a
// synthetic checkpoint built from the triggering block so it still slots
// into the merged stream at the right position relative to other chains.
func checkpointOf(it Item) string {
	if len(it.Events) > 0 {
		return it.Events[0].Checkpoint
	}
	if len(it.Updates) == 0 {
		return ckpt.MaxCheckpoint
	}
	blk := blockOf(it.Updates[0])
	return ckpt.Encode(ckpt.Fields{
		BlockTimestamp: blk.Timestamp,
		ChainID:        it.ChainID,
		BlockNumber:    blk.Number,
	})
}

func blockOf(u chainsync.Update) chainsync.Block {
	switch u.Kind {
	case chainsync.UpdateReorg:
		return u.AncestorBlock
	case chainsync.UpdateFinalize:
		return u.FinalizedBlock
	default:
		return u.Block
	}
}

// Merge drains every Source in minimum-frontier order and calls emit for
// each resulting Item, stopping on the first error from a source or from
// emit, or when ctx is cancelled. Under Multichain, sources are drained one
// at a time in the order given (no cross-chain interleave comparison);
// under Omnichain, every source's current head is compared by checkpoint
// and the globally earliest is emitted next.
func Merge(ctx context.Context, policy Policy, sources []Source, emit func(Item) error) error {
	if policy == Multichain {
		for _, s := range sources {
			for {
				updates, events, ok, err := s.Next(ctx)
				if err != nil {
					return err
				}
				if !ok && len(updates) == 0 && len(events) == 0 {
					break
				}
				if err := emit(Item{ChainID: s.ChainID(), Updates: updates, Events: events}); err != nil {
					return err
				}
				if !ok {
					break
				}
			}
		}
		return nil
	}

	h := &frontierHeap{}
	heap.Init(h)
	for _, s := range sources {
		if err := fill(ctx, h, s); err != nil {
			return err
		}
	}

	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		entry := heap.Pop(h).(*frontierEntry)
		if err := emit(entry.item); err != nil {
			return err
		}
		if err := fill(ctx, h, entry.source); err != nil {
			return err
		}
	}
	return nil
}

// MergeOnce polls every Source exactly once and emits the resulting Items in
// minimum-checkpoint order (Omnichain) or source order (Multichain), then
// returns. Unlike Merge, it never re-polls a source after emitting its
// item, so it terminates in one bounded round regardless of whether sources
// ever report exhaustion — the shape realtime polling sources need (they
// never set ok=false), where Merge's refill-until-exhausted loop would spin
// forever.
func MergeOnce(ctx context.Context, policy Policy, sources []Source, emit func(Item) error) error {
	if policy == Multichain {
		for _, s := range sources {
			updates, events, _, err := s.Next(ctx)
			if err != nil {
				return err
			}
			if len(updates) == 0 && len(events) == 0 {
				continue
			}
			if err := emit(Item{ChainID: s.ChainID(), Updates: updates, Events: events}); err != nil {
				return err
			}
		}
		return nil
	}

	h := &frontierHeap{}
	heap.Init(h)
	for _, s := range sources {
		if err := fill(ctx, h, s); err != nil {
			return err
		}
	}

	for h.Len() > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}
		entry := heap.Pop(h).(*frontierEntry)
		if err := emit(entry.item); err != nil {
			return err
		}
	}
	return nil
}

func fill(ctx context.Context, h *frontierHeap, s Source) error {
	updates, events, ok, err := s.Next(ctx)
	if err != nil {
		return err
	}
	if !ok && len(updates) == 0 && len(events) == 0 {
		return nil
	}
	heap.Push(h, &frontierEntry{
		source: s,
		item:   Item{ChainID: s.ChainID(), Updates: updates, Events: events},
	})
	return nil
}
