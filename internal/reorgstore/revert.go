package reorgstore

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	pschema "github.com/ponderengine/core/internal/schema"
)

// Revert restores table t to the state it had immediately after committing
// the last event with checkpoint <= c (I4). It MUST be called with triggers
// already dropped (DropTriggers) so the restorative writes below don't
// themselves populate the shadow table.
//
// The stage shape follows SPEC_FULL.md §4.5, adapted for SQLite:
//
//  1. reverted: the shadow rows captured after c, keeping only the earliest
//     operation per primary key (smallest operation_id) — its OLD/NEW image
//     is the authoritative pre-c state for that key; later operations on
//     the same key overwrote T but their images are intermediate and must
//     be discarded, not applied. Materialized into a temp table by a plain
//     SELECT, since SQLite does not allow a data-modifying statement
//     (DELETE/UPDATE/INSERT) inside a CTE body — only PostgreSQL does.
//  2. the shadow rows captured after c are then deleted directly (not via
//     RETURNING, for the same reason).
//  3. inserted: keys whose earliest post-c op was an INSERT (0) did not
//     exist before c — delete them from T.
//  4. updated_or_deleted: keys whose earliest post-c op was an UPDATE (1) or
//     DELETE (2) existed before c with the captured OLD values — upsert them
//     back into T by primary key.
//
// All four stages run inside the same transaction as the
// DropTriggers/RecreateTriggers bracket, which is what makes the whole
// revert atomic from the caller's perspective (§4.5).
func Revert(ctx context.Context, tx *sql.Tx, t pschema.Table, checkpoint string) (rowsReverted int64, err error) {
	shadow := t.ShadowName()
	pk := t.PrimaryKey
	cols := t.ColumnNames()

	pkList := strings.Join(quoteIdents(pk), ", ")
	colList := strings.Join(quoteIdents(cols), ", ")

	tmp := "_revert_" + t.Name
	dropTmp := fmt.Sprintf(`DROP TABLE IF EXISTS %s;`, tmp)
	if _, err := tx.ExecContext(ctx, dropTmp); err != nil {
		return 0, fmt.Errorf("revert %s: drop scratch: %w", t.Name, err)
	}

	// Stage 1: materialize the earliest (smallest operation_id) post-checkpoint
	// row per primary key into a temp table. Plain SELECT, no DML in the CTE.
	createScratch := fmt.Sprintf(`
CREATE TEMP TABLE %s AS
SELECT %s, operation FROM (
  SELECT *, ROW_NUMBER() OVER (PARTITION BY %s ORDER BY operation_id ASC) AS rn
  FROM %s WHERE checkpoint > ?
) WHERE rn = 1;
`, tmp, colList, pkList, shadow)

	res, err := tx.ExecContext(ctx, createScratch, checkpoint)
	if err != nil {
		return 0, fmt.Errorf("revert %s: stage 1: %w", t.Name, err)
	}
	rowsReverted, _ = res.RowsAffected()

	// Stage 2: delete the captured rows from the shadow table, as a plain
	// DELETE statement (not RETURNING — SQLite only allows RETURNING on a
	// statement executed directly, not folded into a further DML chain).
	deleteShadow := fmt.Sprintf(`DELETE FROM %s WHERE checkpoint > ?;`, shadow)
	if _, err := tx.ExecContext(ctx, deleteShadow, checkpoint); err != nil {
		return 0, fmt.Errorf("revert %s: stage 2: %w", t.Name, err)
	}

	// Stage 3 (inserted): rows whose earliest post-c op was INSERT (0) did
	// not exist at c; remove them.
	deleteInserted := fmt.Sprintf(`
DELETE FROM %s WHERE (%s) IN (
  SELECT %s FROM %s WHERE operation = 0
);
`, t.Name, pkList, pkList, tmp)
	if _, err := tx.ExecContext(ctx, deleteInserted); err != nil {
		return 0, fmt.Errorf("revert %s: stage inserted: %w", t.Name, err)
	}

	// Stage 4 (updated_or_deleted): rows whose earliest post-c op was UPDATE
	// (1) or DELETE (2) existed at c with the captured OLD image; upsert it
	// back by primary key.
	insertCols := strings.Join(quoteIdents(cols), ", ")
	selectCols := strings.Join(quoteIdents(cols), ", ")
	updateSet := make([]string, 0, len(cols))
	for _, c := range cols {
		if containsStr(pk, c) {
			continue
		}
		updateSet = append(updateSet, fmt.Sprintf("%s = excluded.%s", quoteIdent(c), quoteIdent(c)))
	}
	conflictAction := "DO NOTHING"
	if len(updateSet) > 0 {
		conflictAction = "DO UPDATE SET " + strings.Join(updateSet, ", ")
	}
	upsert := fmt.Sprintf(`
INSERT INTO %s (%s)
SELECT %s FROM %s WHERE operation IN (1, 2)
ON CONFLICT (%s) %s;
`, t.Name, insertCols, selectCols, tmp, pkList, conflictAction)
	if _, err := tx.ExecContext(ctx, upsert); err != nil {
		return 0, fmt.Errorf("revert %s: stage updated_or_deleted: %w", t.Name, err)
	}

	if _, err := tx.ExecContext(ctx, dropTmp); err != nil {
		return 0, fmt.Errorf("revert %s: cleanup scratch: %w", t.Name, err)
	}

	return rowsReverted, nil
}

// Finalize deletes every shadow row at or before checkpoint for table t
// (I5).
func Finalize(ctx context.Context, tx *sql.Tx, t pschema.Table, checkpoint string) (rowsDeleted int64, err error) {
	res, err := tx.ExecContext(ctx, fmt.Sprintf(`DELETE FROM %s WHERE checkpoint <= ?;`, t.ShadowName()), checkpoint)
	if err != nil {
		return 0, fmt.Errorf("finalize %s: %w", t.Name, err)
	}
	n, _ := res.RowsAffected()
	return n, nil
}

func quoteIdent(s string) string {
	return `"` + strings.ReplaceAll(s, `"`, `""`) + `"`
}

func quoteIdents(in []string) []string {
	out := make([]string, len(in))
	for i, s := range in {
		out[i] = quoteIdent(s)
	}
	return out
}

func containsStr(haystack []string, needle string) bool {
	for _, s := range haystack {
		if s == needle {
			return true
		}
	}
	return false
}
