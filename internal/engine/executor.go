// Package engine is C6: the dual-mode indexing executor. Historical mode
// batches many events into one transaction with a buffered, deferred
// write set stamped once at the end of the batch; realtime mode commits
// one event per transaction with direct writes stamped before commit
// (SPEC_FULL.md §4.6): dispatch to a registered handler against a
// checkpoint-aware storage transaction.
package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ponderengine/core/internal/chainsync"
	ckpt "github.com/ponderengine/core/internal/checkpoint"
	"github.com/ponderengine/core/internal/client"
	"github.com/ponderengine/core/internal/event"
	"github.com/ponderengine/core/internal/reorgstore"
	pschema "github.com/ponderengine/core/internal/schema"
)

// Executor dispatches Events to registered Handlers against a reorgstore.
type Executor struct {
	store    *reorgstore.Store
	registry *Registry
	tables   map[string]pschema.Table
	clients  map[uint64]*client.Client
}

// NewExecutor builds an Executor. clients maps chain ID to that chain's
// cached RPC client (may be nil/omitted for chains with no user-code RPC
// access configured).
func NewExecutor(store *reorgstore.Store, registry *Registry, clients map[uint64]*client.Client) *Executor {
	tables := make(map[string]pschema.Table)
	for _, t := range store.Tables() {
		tables[t.Name] = t
	}
	return &Executor{store: store, registry: registry, tables: tables, clients: clients}
}

// ApplyHistoricalBatch runs every event in events against one transaction,
// buffering writes and flushing once at the end, then stamps the shadow
// tables with the batch's final checkpoint before committing.
func (e *Executor) ApplyHistoricalBatch(ctx context.Context, namespace string, events []event.Event) error {
	if len(events) == 0 {
		return nil
	}

	return e.store.WithTx(ctx, reorgstore.Historical, func(tx *sql.Tx) error {
		buf := newWriteBuffer(e.store.Tables())

		for _, ev := range events {
			if err := e.dispatch(ctx, tx, buf, ev); err != nil {
				return err
			}
		}

		if err := buf.Flush(ctx, tx); err != nil {
			return err
		}

		final := events[len(events)-1].Checkpoint
		if err := e.store.Stamp(ctx, tx, final); err != nil {
			return fmt.Errorf("stamp batch: %w", err)
		}
		safe, _, _, err := e.store.GetCheckpoints(ctx, namespace)
		if err != nil {
			return fmt.Errorf("load checkpoints: %w", err)
		}
		if safe == "" {
			safe = ckpt.ZeroCheckpoint
		}
		return e.store.SetCheckpoints(ctx, tx, namespace, safe, final)
	})
}

// ApplyRealtimeEvent runs one event in its own transaction: writes are
// applied directly (a single-event write buffer is still used internally
// so handler code has one Insert/Update/Delete/Get surface regardless of
// mode), then the shadow tables are stamped before commit.
func (e *Executor) ApplyRealtimeEvent(ctx context.Context, namespace string, ev event.Event) error {
	return e.store.WithTx(ctx, reorgstore.Realtime, func(tx *sql.Tx) error {
		buf := newWriteBuffer(e.store.Tables())

		if err := e.dispatch(ctx, tx, buf, ev); err != nil {
			return err
		}
		if err := buf.Flush(ctx, tx); err != nil {
			return err
		}
		if err := e.store.Stamp(ctx, tx, ev.Checkpoint); err != nil {
			return fmt.Errorf("stamp event: %w", err)
		}
		safe, _, _, err := e.store.GetCheckpoints(ctx, namespace)
		if err != nil {
			return fmt.Errorf("load checkpoints: %w", err)
		}
		if safe == "" {
			safe = ckpt.ZeroCheckpoint
		}
		return e.store.SetCheckpoints(ctx, tx, namespace, safe, ev.Checkpoint)
	})
}

func (e *Executor) dispatch(ctx context.Context, tx *sql.Tx, buf *writeBuffer, ev event.Event) error {
	handler, ok := e.registry.lookup(ev.Name)
	if !ok {
		return nil
	}

	hc := &Context{
		ctx:    ctx,
		tx:     tx,
		buf:    buf,
		tables: e.tables,
		event:  ev,
		client: e.clients[ev.ChainID],
	}

	if err := handler(hc, ev); err != nil {
		if typed, ok := err.(*Error); ok {
			return typed
		}
		return NewError(Retryable, ev.Name, ev.Checkpoint, err)
	}
	return nil
}

// ApplyControlUpdate reconciles storage for a Reorg or Finalize update
// ahead of resuming normal event dispatch. Callers must have already
// committed any pending batch before calling this, per SPEC_FULL.md §4.3:
// control events never interleave with a still-open batch transaction.
// chainID identifies which chain produced u, used to encode the
// ancestor/finalized block into a checkpoint. namespace identifies the
// PONDER_CHECKPOINT row to update: Reorg rolls latestCheckpoint back to the
// ancestor checkpoint; Finalize advances safeCheckpoint to the finalized
// checkpoint (SPEC_FULL.md §4.6).
func (e *Executor) ApplyControlUpdate(ctx context.Context, namespace string, chainID uint64, u chainsync.Update) (rowsAffected int64, err error) {
	switch u.Kind {
	case chainsync.UpdateReorg:
		return e.revertTo(ctx, namespace, BlockCheckpoint(chainID, u.AncestorBlock))
	case chainsync.UpdateFinalize:
		return e.finalizeUpTo(ctx, namespace, BlockCheckpoint(chainID, u.FinalizedBlock))
	default:
		return 0, nil
	}
}

// maxField16 is the largest value a 16-digit fixed-width checkpoint field
// can hold (10^16 - 1).
const maxField16 = 9_999_999_999_999_999

// BlockCheckpoint encodes a chainsync.Block as the checkpoint of its last
// possible event, so reverting/finalizing "up to this checkpoint" keeps
// (or drops) the whole block rather than splitting it mid-event. Exported
// so callers outside the package (the run loop's historical/realtime mode
// switch, SPEC_FULL.md §4.6) can compare a chain's latest applied event
// checkpoint against its latest finalized block without re-deriving the
// encoding.
func BlockCheckpoint(chainID uint64, b chainsync.Block) string {
	return ckpt.Encode(ckpt.Fields{
		BlockTimestamp:   b.Timestamp,
		ChainID:          chainID,
		BlockNumber:      b.Number,
		TransactionIndex: maxField16,
		EventType:        9,
		EventIndex:       maxField16,
	})
}

// RevertTo manually reverts every table to the state as of checkpoint,
// without a chainsync.Update driving it (the `ponderd revert` operator
// command, SPEC_FULL.md §6).
func (e *Executor) RevertTo(ctx context.Context, namespace, checkpoint string) (int64, error) {
	return e.revertTo(ctx, namespace, checkpoint)
}

func (e *Executor) revertTo(ctx context.Context, namespace, checkpoint string) (int64, error) {
	var total int64
	err := e.store.WithTx(ctx, reorgstore.Historical, func(tx *sql.Tx) error {
		if err := e.store.DropTriggers(ctx, tx); err != nil {
			return err
		}
		for _, t := range e.store.Tables() {
			n, err := reorgstore.Revert(ctx, tx, t, checkpoint)
			if err != nil {
				return err
			}
			total += n
		}
		if err := e.store.RecreateTriggers(ctx, tx); err != nil {
			return err
		}
		safe, _, _, err := e.store.GetCheckpoints(ctx, namespace)
		if err != nil {
			return fmt.Errorf("load checkpoints: %w", err)
		}
		if safe == "" {
			safe = ckpt.ZeroCheckpoint
		}
		return e.store.SetCheckpoints(ctx, tx, namespace, safe, checkpoint)
	})
	return total, err
}

func (e *Executor) finalizeUpTo(ctx context.Context, namespace, checkpoint string) (int64, error) {
	var total int64
	err := e.store.WithTx(ctx, reorgstore.Historical, func(tx *sql.Tx) error {
		for _, t := range e.store.Tables() {
			n, err := reorgstore.Finalize(ctx, tx, t, checkpoint)
			if err != nil {
				return err
			}
			total += n
		}
		_, latest, _, err := e.store.GetCheckpoints(ctx, namespace)
		if err != nil {
			return fmt.Errorf("load checkpoints: %w", err)
		}
		if latest == "" {
			latest = ckpt.ZeroCheckpoint
		}
		return e.store.SetCheckpoints(ctx, tx, namespace, checkpoint, latest)
	})
	return total, err
}
