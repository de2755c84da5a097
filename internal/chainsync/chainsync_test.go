package chainsync

import (
	"errors"
	"testing"
)

func b(n uint64, hash, parent string) Block {
	return Block{Number: n, Hash: hash, ParentHash: parent, Timestamp: n * 12}
}

func TestReconcileAppendsAndFinalizes(t *testing.T) {
	r := NewRing(2, nil)

	upd, err := r.Reconcile(b(1, "h1", "h0"))
	if err != nil || len(upd) != 1 || upd[0].Kind != UpdateBlock {
		t.Fatalf("unexpected first update: %+v err=%v", upd, err)
	}

	if _, err := r.Reconcile(b(2, "h2", "h1")); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	upd, err = r.Reconcile(b(3, "h3", "h2"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(upd) != 2 || upd[0].Kind != UpdateBlock || upd[1].Kind != UpdateFinalize {
		t.Fatalf("expected a block update plus one finalize prune, got %+v", upd)
	}
	if upd[1].FinalizedBlock.Number != 1 {
		t.Fatalf("expected block 1 finalized, got %d", upd[1].FinalizedBlock.Number)
	}
	if r.Len() != 2 {
		t.Fatalf("expected ring to hold 2 blocks after prune, got %d", r.Len())
	}
}

func TestReconcileShallowReorg(t *testing.T) {
	r := NewRing(10, nil)
	mustReconcile(t, r, b(1, "h1", "h0"))
	mustReconcile(t, r, b(2, "h2a", "h1"))
	mustReconcile(t, r, b(3, "h3a", "h2a"))

	upd, err := r.Reconcile(b(2, "h2b", "h1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(upd) != 1 || upd[0].Kind != UpdateReorg {
		t.Fatalf("expected a single reorg update, got %+v", upd)
	}
	if upd[0].AncestorBlock.Hash != "h1" {
		t.Fatalf("expected ancestor h1, got %s", upd[0].AncestorBlock.Hash)
	}
	if len(upd[0].Reorged) != 2 {
		t.Fatalf("expected 2 reorged blocks (h3a, h2a), got %d", len(upd[0].Reorged))
	}
	if r.Len() != 1 {
		t.Fatalf("expected ring truncated back to ancestor only, got len %d", r.Len())
	}
}

func TestReconcileDeepReorgIsUnrecoverable(t *testing.T) {
	r := NewRing(2, nil)
	mustReconcile(t, r, b(1, "h1", "h0"))
	mustReconcile(t, r, b(2, "h2", "h1"))
	mustReconcile(t, r, b(3, "h3", "h2")) // prunes h1

	_, err := r.Reconcile(b(2, "h2b", "h1"))
	if err == nil {
		t.Fatal("expected deep reorg error")
	}
	if !errors.Is(err, ErrDeepReorg) {
		t.Fatalf("expected ErrDeepReorg, got %v", err)
	}
}

func TestReorgedChildAddressLookup(t *testing.T) {
	lookup := func(atOrAfter uint64) []string {
		if atOrAfter == 2 {
			return []string{"0xchild"}
		}
		return nil
	}
	r := NewRing(10, lookup)
	mustReconcile(t, r, b(1, "h1", "h0"))
	mustReconcile(t, r, b(2, "h2a", "h1"))

	upd, err := r.Reconcile(b(2, "h2b", "h1"))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(upd[0].Reorged) != 1 || upd[0].Reorged[0].RemovedChildAddresses[0] != "0xchild" {
		t.Fatalf("expected factory address removal on reorged block, got %+v", upd[0].Reorged)
	}
}

func mustReconcile(t *testing.T, r *Ring, blk Block) {
	t.Helper()
	if _, err := r.Reconcile(blk); err != nil {
		t.Fatalf("unexpected reconcile error for block %d: %v", blk.Number, err)
	}
}
