package merge

import (
	"context"
	"testing"

	"github.com/ponderengine/core/internal/chainsync"
	ckpt "github.com/ponderengine/core/internal/checkpoint"
	"github.com/ponderengine/core/internal/event"
)

// queueSource replays a fixed slice of items then reports exhausted.
type queueSource struct {
	chainID uint64
	items   []Item
	pos     int
}

func (q *queueSource) ChainID() uint64 { return q.chainID }
func (q *queueSource) Next(ctx context.Context) ([]chainsync.Update, []event.Event, bool, error) {
	if q.pos >= len(q.items) {
		return nil, nil, false, nil
	}
	it := q.items[q.pos]
	q.pos++
	return it.Updates, it.Events, true, nil
}

func evAt(chainID, blockNumber, ts uint64) event.Event {
	return event.Event{
		Kind: event.KindLog, ChainID: chainID, Name: "X",
		BlockNumber: blockNumber, BlockTimestamp: ts,
	}.WithCheckpoint()
}

func TestMergeOmnichainInterleavesByCheckpoint(t *testing.T) {
	chainA := &queueSource{chainID: 1, items: []Item{
		{Events: []event.Event{evAt(1, 1, 100)}},
		{Events: []event.Event{evAt(1, 2, 300)}},
	}}
	chainB := &queueSource{chainID: 2, items: []Item{
		{Events: []event.Event{evAt(2, 1, 200)}},
	}}

	var order []uint64
	err := Merge(context.Background(), Omnichain, []Source{chainA, chainB}, func(it Item) error {
		order = append(order, it.ChainID)
		return nil
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 2 || order[2] != 1 {
		t.Fatalf("expected interleave [1,2,1] by timestamp, got %v", order)
	}
}

func TestMergeMultichainPreservesPerChainOrderWithoutInterleave(t *testing.T) {
	chainA := &queueSource{chainID: 1, items: []Item{
		{Events: []event.Event{evAt(1, 1, 500)}},
		{Events: []event.Event{evAt(1, 2, 600)}},
	}}
	chainB := &queueSource{chainID: 2, items: []Item{
		{Events: []event.Event{evAt(2, 1, 1)}},
	}}

	var order []uint64
	err := Merge(context.Background(), Multichain, []Source{chainA, chainB}, func(it Item) error {
		order = append(order, it.ChainID)
		return nil
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	if len(order) != 3 || order[0] != 1 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected chain A drained fully before chain B, got %v", order)
	}
}

func TestMergeControlOnlyItemSortsByTriggeringBlock(t *testing.T) {
	reorgItem := Item{Updates: []chainsync.Update{{
		Kind:          chainsync.UpdateReorg,
		AncestorBlock: chainsync.Block{Number: 1, Timestamp: 150},
	}}}

	chainA := &queueSource{chainID: 1, items: []Item{reorgItem}}
	chainB := &queueSource{chainID: 2, items: []Item{
		{Events: []event.Event{evAt(2, 1, 50)}},
		{Events: []event.Event{evAt(2, 2, 999)}},
	}}

	var order []uint64
	err := Merge(context.Background(), Omnichain, []Source{chainA, chainB}, func(it Item) error {
		order = append(order, it.ChainID)
		return nil
	})
	if err != nil {
		t.Fatalf("merge: %v", err)
	}
	// chain B's ts=50 event first, then chain A's reorg (synthetic ts=150),
	// then chain B's ts=999 event.
	if len(order) != 3 || order[0] != 2 || order[1] != 1 || order[2] != 2 {
		t.Fatalf("expected [2,1,2], got %v", order)
	}
}

// neverExhaustingSource mimics a realtime polling source: ok is always
// true, matching the doc comment on Source.Next ("realtime sources never
// exhaust").
type neverExhaustingSource struct {
	chainID uint64
	items   []Item
	pos     int
}

func (s *neverExhaustingSource) ChainID() uint64 { return s.chainID }
func (s *neverExhaustingSource) Next(ctx context.Context) ([]chainsync.Update, []event.Event, bool, error) {
	if s.pos >= len(s.items) {
		return nil, nil, true, nil
	}
	it := s.items[s.pos]
	s.pos++
	return it.Updates, it.Events, true, nil
}

func TestMergeOnceReturnsForSourcesThatNeverExhaust(t *testing.T) {
	chainA := &neverExhaustingSource{chainID: 1, items: []Item{
		{Events: []event.Event{evAt(1, 1, 100)}},
	}}
	chainB := &neverExhaustingSource{chainID: 2, items: []Item{
		{Events: []event.Event{evAt(2, 1, 50)}},
	}}

	var order []uint64
	err := MergeOnce(context.Background(), Omnichain, []Source{chainA, chainB}, func(it Item) error {
		order = append(order, it.ChainID)
		return nil
	})
	if err != nil {
		t.Fatalf("merge once: %v", err)
	}
	if len(order) != 2 || order[0] != 2 || order[1] != 1 {
		t.Fatalf("expected one round ordered [2,1] by timestamp, got %v", order)
	}
}

func TestCheckpointOfControlOnlyUsesSyntheticFields(t *testing.T) {
	it := Item{ChainID: 7, Updates: []chainsync.Update{{
		Kind:           chainsync.UpdateFinalize,
		FinalizedBlock: chainsync.Block{Number: 42, Timestamp: 9},
	}}}
	cp := checkpointOf(it)
	f, err := ckpt.Decode(cp)
	if err != nil {
		t.Fatalf("decode synthetic checkpoint: %v", err)
	}
	if f.ChainID != 7 || f.BlockNumber != 42 || f.BlockTimestamp != 9 {
		t.Fatalf("unexpected fields: %+v", f)
	}
}
