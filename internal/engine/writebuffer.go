package engine

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	pschema "github.com/ponderengine/core/internal/schema"
)

type rowOp uint8

const (
	opUpsert rowOp = iota
	opDelete
)

type bufferedRow struct {
	op  rowOp
	row map[string]any
}

// writeBuffer accumulates pending writes across a historical batch, keyed
// by (table, encoded primary key), so that a handler reading back a row it
// just wrote sees its own write before the batch is flushed (SPEC_FULL.md
// §4.6). flush applies tables in the order the schema.Descriptor declares
// them, so foreign-key-dependent tables flush after what they depend on.
type writeBuffer struct {
	tables map[string]pschema.Table
	order  []string
	rows   map[string]map[string]bufferedRow // table -> pk key -> row
}

func newWriteBuffer(tables []pschema.Table) *writeBuffer {
	wb := &writeBuffer{
		tables: make(map[string]pschema.Table, len(tables)),
		rows:   make(map[string]map[string]bufferedRow, len(tables)),
	}
	for _, t := range tables {
		wb.tables[t.Name] = t
		wb.order = append(wb.order, t.Name)
		wb.rows[t.Name] = make(map[string]bufferedRow)
	}
	return wb
}

func (wb *writeBuffer) Put(table string, pk map[string]any, row map[string]any) {
	key := pkKey(pk)
	wb.rows[table][key] = bufferedRow{op: opUpsert, row: row}
}

func (wb *writeBuffer) Delete(table string, pk map[string]any) {
	key := pkKey(pk)
	wb.rows[table][key] = bufferedRow{op: opDelete, row: pk}
}

// Get returns a buffered row for (table, pk), if one was written earlier in
// this batch (read-your-writes).
func (wb *writeBuffer) Get(table string, pk map[string]any) (map[string]any, bool) {
	key := pkKey(pk)
	br, ok := wb.rows[table][key]
	if !ok || br.op == opDelete {
		return nil, false
	}
	return br.row, true
}

// Flush applies every buffered write against tx, table by table in
// declaration order, then clears the buffer.
func (wb *writeBuffer) Flush(ctx context.Context, tx *sql.Tx) error {
	for _, tableName := range wb.order {
		table := wb.tables[tableName]
		rows := wb.rows[tableName]
		if len(rows) == 0 {
			continue
		}

		keys := make([]string, 0, len(rows))
		for k := range rows {
			keys = append(keys, k)
		}
		sort.Strings(keys)

		for _, k := range keys {
			br := rows[k]
			switch br.op {
			case opUpsert:
				if err := upsertRow(ctx, tx, table, br.row); err != nil {
					return fmt.Errorf("flush %s: %w", tableName, err)
				}
			case opDelete:
				if err := deleteRow(ctx, tx, table, br.row); err != nil {
					return fmt.Errorf("flush %s: %w", tableName, err)
				}
			}
		}
		wb.rows[tableName] = make(map[string]bufferedRow)
	}
	return nil
}

func upsertRow(ctx context.Context, tx *sql.Tx, table pschema.Table, row map[string]any) error {
	cols := make([]string, 0, len(row))
	for c := range row {
		cols = append(cols, c)
	}
	sort.Strings(cols)

	placeholders := make([]string, len(cols))
	args := make([]any, len(cols))
	for i, c := range cols {
		placeholders[i] = "?"
		args[i] = row[c]
	}

	setClauses := make([]string, 0, len(cols))
	for _, c := range cols {
		if containsStr(table.PrimaryKey, c) {
			continue
		}
		setClauses = append(setClauses, fmt.Sprintf("%s = excluded.%s", c, c))
	}

	conflictAction := "DO NOTHING"
	if len(setClauses) > 0 {
		conflictAction = "DO UPDATE SET " + strings.Join(setClauses, ", ")
	}
	stmt := fmt.Sprintf(
		"INSERT INTO %s (%s) VALUES (%s) ON CONFLICT (%s) %s",
		table.Name, strings.Join(cols, ", "), strings.Join(placeholders, ", "),
		strings.Join(table.PrimaryKey, ", "), conflictAction,
	)
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}

func deleteRow(ctx context.Context, tx *sql.Tx, table pschema.Table, pk map[string]any) error {
	where := make([]string, 0, len(table.PrimaryKey))
	args := make([]any, 0, len(table.PrimaryKey))
	for _, c := range table.PrimaryKey {
		where = append(where, fmt.Sprintf("%s = ?", c))
		args = append(args, pk[c])
	}
	stmt := fmt.Sprintf("DELETE FROM %s WHERE %s", table.Name, strings.Join(where, " AND "))
	_, err := tx.ExecContext(ctx, stmt, args...)
	return err
}

func pkKey(pk map[string]any) string {
	keys := make([]string, 0, len(pk))
	for k := range pk {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	var b strings.Builder
	for _, k := range keys {
		fmt.Fprintf(&b, "%s=%v|", k, pk[k])
	}
	return b.String()
}

func containsStr(list []string, v string) bool {
	for _, s := range list {
		if s == v {
			return true
		}
	}
	return false
}
