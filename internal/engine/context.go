package engine

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/ponderengine/core/internal/client"
	"github.com/ponderengine/core/internal/event"
	pschema "github.com/ponderengine/core/internal/schema"
)

// Context is the non-owning handle handler code receives for one Event. It
// borrows the batch's transaction and write buffer; handlers never hold a
// reference to it past their own call (SPEC_FULL.md §4.6, §5).
type Context struct {
	ctx    context.Context
	tx     *sql.Tx
	buf    *writeBuffer
	tables map[string]pschema.Table
	event  event.Event
	client *client.Client
}

// Event returns the event this Context was constructed for.
func (c *Context) Event() event.Event { return c.event }

// Client returns the shared, cached read-only RPC client (nil if the chain
// has none configured).
func (c *Context) Client() *client.Client { return c.client }

// Insert buffers a row for insertion/upsert into table.
func (c *Context) Insert(table string, row map[string]any) error {
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("engine: unknown table %q", table)
	}
	c.buf.Put(table, pkOf(t, row), row)
	return nil
}

// Update buffers a row update, merging pk into row if absent.
func (c *Context) Update(table string, pk map[string]any, fields map[string]any) error {
	t, ok := c.tables[table]
	if !ok {
		return fmt.Errorf("engine: unknown table %q", table)
	}
	row, ok, err := c.Get(table, pk)
	if err != nil {
		return err
	}
	merged := map[string]any{}
	if ok {
		for k, v := range row {
			merged[k] = v
		}
	}
	for k, v := range pk {
		merged[k] = v
	}
	for k, v := range fields {
		merged[k] = v
	}
	c.buf.Put(table, pkOf(t, merged), merged)
	return nil
}

// Delete buffers a row deletion.
func (c *Context) Delete(table string, pk map[string]any) error {
	if _, ok := c.tables[table]; !ok {
		return fmt.Errorf("engine: unknown table %q", table)
	}
	c.buf.Delete(table, pk)
	return nil
}

// Get reads a row, checking the write buffer first (read-your-writes) and
// falling back to the database.
func (c *Context) Get(table string, pk map[string]any) (map[string]any, bool, error) {
	t, ok := c.tables[table]
	if !ok {
		return nil, false, fmt.Errorf("engine: unknown table %q", table)
	}
	if row, ok := c.buf.Get(table, pk); ok {
		return row, true, nil
	}

	cols := t.ColumnNames()
	where := make([]string, 0, len(t.PrimaryKey))
	args := make([]any, 0, len(t.PrimaryKey))
	for _, col := range t.PrimaryKey {
		where = append(where, col+" = ?")
		args = append(args, pk[col])
	}
	query := "SELECT " + joinCols(cols) + " FROM " + t.Name + " WHERE " + joinAnd(where)
	rows, err := c.tx.QueryContext(c.ctx, query, args...)
	if err != nil {
		return nil, false, err
	}
	defer rows.Close()
	if !rows.Next() {
		return nil, false, rows.Err()
	}

	scanTargets := make([]any, len(cols))
	scanValues := make([]any, len(cols))
	for i := range cols {
		scanTargets[i] = &scanValues[i]
	}
	if err := rows.Scan(scanTargets...); err != nil {
		return nil, false, err
	}
	out := make(map[string]any, len(cols))
	for i, c := range cols {
		out[c] = scanValues[i]
	}
	return out, true, nil
}

func pkOf(t pschema.Table, row map[string]any) map[string]any {
	pk := make(map[string]any, len(t.PrimaryKey))
	for _, c := range t.PrimaryKey {
		pk[c] = row[c]
	}
	return pk
}

func joinCols(cols []string) string {
	out := ""
	for i, c := range cols {
		if i > 0 {
			out += ", "
		}
		out += c
	}
	return out
}

func joinAnd(clauses []string) string {
	out := ""
	for i, c := range clauses {
		if i > 0 {
			out += " AND "
		}
		out += c
	}
	return out
}
