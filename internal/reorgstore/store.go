// Package reorgstore is C5: the reorg-tracking store. It owns the user
// tables' shadow tables and triggers and exposes the revert/finalize/stamp
// primitives the indexing executor (C6) drives transactions with.
//
// It uses the modernc.org/sqlite driver with connection pragmas and a WithTx
// helper, over an arbitrary schema.Descriptor plus per-table shadow/trigger
// DDL (SPEC_FULL.md §4.5).
package reorgstore

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/adlio/schema"
	_ "modernc.org/sqlite"

	ckpt "github.com/ponderengine/core/internal/checkpoint"
	pschema "github.com/ponderengine/core/internal/schema"
)

// Mode selects how the executor is driving the current transaction.
type Mode int

const (
	Historical Mode = iota
	Realtime
)

// ErrBuildMismatch is a NonRetryableEngine error (§7): the schema on disk was
// compiled from a different build than the one now running.
var ErrBuildMismatch = errors.New("reorgstore: build hash mismatch")

// Store wraps the SQLite-backed reorg-tracking database.
type Store struct {
	db     *sql.DB
	schema pschema.Descriptor
}

// Open initializes the database, applies ambient migrations (PONDER_CHECKPOINT,
// PONDER_META) and the per-table shadow/trigger DDL, and checks the build-hash
// compatibility contract.
func Open(path string, desc pschema.Descriptor) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if err := configure(db); err != nil {
		db.Close()
		return nil, err
	}
	s := &Store{db: db, schema: desc}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.checkBuild(desc.BuildID); err != nil {
		db.Close()
		return nil, err
	}
	if err := s.createShadowTablesAndTriggers(context.Background()); err != nil {
		db.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the underlying database handle.
func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Ping checks database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	if s == nil || s.db == nil {
		return errors.New("store not initialized")
	}
	return s.db.PingContext(ctx)
}

func configure(db *sql.DB) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	pragmas := []string{
		"PRAGMA foreign_keys = OFF;", // triggers manage shadow consistency, not FKs
		"PRAGMA journal_mode = WAL;",
		"PRAGMA busy_timeout = 5000;",
	}
	for _, p := range pragmas {
		if _, err := db.ExecContext(ctx, p); err != nil {
			return fmt.Errorf("set pragma %q: %w", p, err)
		}
	}
	return nil
}

// migrate applies the ambient PONDER_CHECKPOINT/PONDER_META tables plus each
// user table's own CreateDDL through adlio/schema's tracked migrator — the
// migration set grows with every new user table, so versioned, idempotent
// tracking is worth the dependency.
func (s *Store) migrate() error {
	migrations := []*schema.Migration{
		{
			ID: "0001_ponder_checkpoint",
			Script: `CREATE TABLE IF NOT EXISTS PONDER_CHECKPOINT (
				namespace TEXT PRIMARY KEY,
				safe_checkpoint TEXT NOT NULL,
				latest_checkpoint TEXT NOT NULL
			);`,
		},
		{
			ID: "0002_ponder_meta",
			Script: `CREATE TABLE IF NOT EXISTS PONDER_META (
				build_id TEXT PRIMARY KEY
			);`,
		},
	}
	for i, t := range s.schema.Tables {
		migrations = append(migrations, &schema.Migration{
			ID:     fmt.Sprintf("1%03d_table_%s", i, t.Name),
			Script: t.CreateDDL,
		})
	}

	migrator := schema.NewMigrator(schema.WithDialect(schema.SQLite))
	return migrator.Apply(s.db, migrations)
}

func (s *Store) checkBuild(buildID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	var existing string
	err := s.db.QueryRowContext(ctx, `SELECT build_id FROM PONDER_META LIMIT 1`).Scan(&existing)
	switch {
	case errors.Is(err, sql.ErrNoRows):
		_, err := s.db.ExecContext(ctx, `INSERT INTO PONDER_META (build_id) VALUES (?)`, buildID)
		return err
	case err != nil:
		return fmt.Errorf("read build meta: %w", err)
	case existing != buildID:
		return fmt.Errorf("%w: stored build %q, running build %q", ErrBuildMismatch, existing, buildID)
	default:
		return nil
	}
}

func (s *Store) createShadowTablesAndTriggers(ctx context.Context) error {
	for _, t := range s.schema.Tables {
		if _, err := s.db.ExecContext(ctx, t.ShadowDDL()); err != nil {
			return fmt.Errorf("create shadow table %s: %w", t.ShadowName(), err)
		}
		for _, ddl := range t.TriggerDDL(ckpt.MaxCheckpoint) {
			if _, err := s.db.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("create trigger on %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// DropTriggers drops every table's capture triggers within tx, so that the
// restorative writes performed by Revert do not themselves populate the
// shadow tables (§4.5, scenario 6).
func (s *Store) DropTriggers(ctx context.Context, tx *sql.Tx) error {
	for _, t := range s.schema.Tables {
		for _, ddl := range t.DropTriggerDDL() {
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("drop trigger on %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// RecreateTriggers restores every table's capture triggers within tx.
func (s *Store) RecreateTriggers(ctx context.Context, tx *sql.Tx) error {
	for _, t := range s.schema.Tables {
		for _, ddl := range t.TriggerDDL(ckpt.MaxCheckpoint) {
			if _, err := tx.ExecContext(ctx, ddl); err != nil {
				return fmt.Errorf("recreate trigger on %s: %w", t.Name, err)
			}
		}
	}
	return nil
}

// Begin opens a transaction. Mode only affects how the caller (C6) structures
// its batching; the SQL semantics of the transaction are identical either way.
func (s *Store) Begin(ctx context.Context, mode Mode) (*sql.Tx, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin tx (mode %d): %w", mode, err)
	}
	return tx, nil
}

// Stamp rewrites every shadow table's MAX_CHECKPOINT rows to the real
// checkpoint, within tx.
func (s *Store) Stamp(ctx context.Context, tx *sql.Tx, checkpoint string) error {
	for _, t := range s.schema.Tables {
		q := fmt.Sprintf(`UPDATE %s SET checkpoint = ? WHERE checkpoint = ?`, t.ShadowName())
		if _, err := tx.ExecContext(ctx, q, checkpoint, ckpt.MaxCheckpoint); err != nil {
			return fmt.Errorf("stamp %s: %w", t.ShadowName(), err)
		}
	}
	return nil
}

// Tables exposes the descriptor's tables for callers that need to iterate
// (e.g. the executor's Revert/Finalize loop).
func (s *Store) Tables() []pschema.Table {
	return s.schema.Tables
}

// WithTx runs fn inside a fresh transaction, committing on success.
func (s *Store) WithTx(ctx context.Context, mode Mode, fn func(tx *sql.Tx) error) error {
	tx, err := s.Begin(ctx, mode)
	if err != nil {
		return err
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit tx: %w", err)
	}
	return nil
}

// SetCheckpoints upserts PONDER_CHECKPOINT's single row for this namespace.
func (s *Store) SetCheckpoints(ctx context.Context, tx *sql.Tx, namespace, safe, latest string) error {
	_, err := tx.ExecContext(ctx, `
INSERT INTO PONDER_CHECKPOINT (namespace, safe_checkpoint, latest_checkpoint)
VALUES (?, ?, ?)
ON CONFLICT(namespace) DO UPDATE SET
  safe_checkpoint = excluded.safe_checkpoint,
  latest_checkpoint = excluded.latest_checkpoint;
`, namespace, safe, latest)
	if err != nil {
		return fmt.Errorf("set checkpoints: %w", err)
	}
	return nil
}

// GetCheckpoints reads PONDER_CHECKPOINT for namespace. ok is false if no row
// exists yet (first run).
func (s *Store) GetCheckpoints(ctx context.Context, namespace string) (safe, latest string, ok bool, err error) {
	row := s.db.QueryRowContext(ctx, `
SELECT safe_checkpoint, latest_checkpoint FROM PONDER_CHECKPOINT WHERE namespace = ?;
`, namespace)
	switch err = row.Scan(&safe, &latest); {
	case err == nil:
		return safe, latest, true, nil
	case errors.Is(err, sql.ErrNoRows):
		return "", "", false, nil
	default:
		return "", "", false, fmt.Errorf("get checkpoints: %w", err)
	}
}
