// Package schema defines the compiled table descriptor the engine consumes.
// Compiling user table declarations into this descriptor is explicitly out
// of scope for the engine (see SPEC_FULL.md §3) — this package only models
// the descriptor shape and derives shadow-table/trigger DDL from it.
package schema

import (
	"encoding/json"
	"fmt"
	"os"
	"strings"
)

// Column describes one column of a user table.
type Column struct {
	Name   string
	SQL    string // SQL type, e.g. "TEXT", "INTEGER", "BLOB"
	NotNull bool
}

// Table is a compiled user table: its columns, primary key, and the DDL that
// creates it. The engine never generates this DDL itself — it is handed one
// already-compiled descriptor per table.
type Table struct {
	Name       string
	Columns    []Column
	PrimaryKey []string
	CreateDDL  string
}

// ShadowName returns the name of T's shadow table, `_reorg_T`.
func (t Table) ShadowName() string {
	return "_reorg_" + t.Name
}

// ColumnNames returns the user table's column names in declared order.
func (t Table) ColumnNames() []string {
	out := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		out[i] = c.Name
	}
	return out
}

// ShadowDDL renders the `CREATE TABLE IF NOT EXISTS _reorg_T (...)` statement:
// all of T's columns, plus operation_id/operation/checkpoint (§4.5).
func (t Table) ShadowDDL() string {
	var b strings.Builder
	fmt.Fprintf(&b, "CREATE TABLE IF NOT EXISTS %s (\n", t.ShadowName())
	fmt.Fprintf(&b, "  operation_id INTEGER PRIMARY KEY AUTOINCREMENT,\n")
	for _, c := range t.Columns {
		fmt.Fprintf(&b, "  %s %s,\n", c.Name, c.SQL)
	}
	fmt.Fprintf(&b, "  operation INTEGER NOT NULL,\n")
	fmt.Fprintf(&b, "  checkpoint TEXT NOT NULL\n")
	b.WriteString(");")
	return b.String()
}

// TriggerDDL renders the three AFTER INSERT/UPDATE/DELETE triggers that
// capture row images into the shadow table with checkpoint = MAX_CHECKPOINT
// (the real checkpoint is filled in later by Stamp, §4.5).
func (t Table) TriggerDDL(maxCheckpoint string) []string {
	cols := t.ColumnNames()
	newCols := prefixed("NEW", cols)
	oldCols := prefixed("OLD", cols)
	colList := strings.Join(cols, ", ")

	insertTrig := fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS %s AFTER INSERT ON %s BEGIN\n"+
			"  INSERT INTO %s (%s, operation, checkpoint) VALUES (%s, 0, '%s');\n"+
			"END;",
		triggerName(t.Name, "insert"), t.Name, t.ShadowName(), colList, strings.Join(newCols, ", "), maxCheckpoint,
	)
	updateTrig := fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS %s AFTER UPDATE ON %s BEGIN\n"+
			"  INSERT INTO %s (%s, operation, checkpoint) VALUES (%s, 1, '%s');\n"+
			"END;",
		triggerName(t.Name, "update"), t.Name, t.ShadowName(), colList, strings.Join(oldCols, ", "), maxCheckpoint,
	)
	deleteTrig := fmt.Sprintf(
		"CREATE TRIGGER IF NOT EXISTS %s AFTER DELETE ON %s BEGIN\n"+
			"  INSERT INTO %s (%s, operation, checkpoint) VALUES (%s, 2, '%s');\n"+
			"END;",
		triggerName(t.Name, "delete"), t.Name, t.ShadowName(), colList, strings.Join(oldCols, ", "), maxCheckpoint,
	)
	return []string{insertTrig, updateTrig, deleteTrig}
}

// DropTriggerDDL renders the DROP TRIGGER statements matching TriggerDDL.
func (t Table) DropTriggerDDL() []string {
	return []string{
		"DROP TRIGGER IF EXISTS " + triggerName(t.Name, "insert") + ";",
		"DROP TRIGGER IF EXISTS " + triggerName(t.Name, "update") + ";",
		"DROP TRIGGER IF EXISTS " + triggerName(t.Name, "delete") + ";",
	}
}

func triggerName(table, op string) string {
	return fmt.Sprintf("_reorg_%s_%s", table, op)
}

func prefixed(alias string, cols []string) []string {
	out := make([]string, len(cols))
	for i, c := range cols {
		out[i] = alias + "." + c
	}
	return out
}

// Descriptor is the full compiled schema the engine is handed at startup.
type Descriptor struct {
	Tables  []Table
	BuildID string
}

// Table looks up a table by name.
func (d Descriptor) Table(name string) (Table, bool) {
	for _, t := range d.Tables {
		if t.Name == name {
			return t, true
		}
	}
	return Table{}, false
}

// LoadDescriptor reads an already-compiled Descriptor from a JSON file on
// disk. Compiling a Descriptor from user table declarations is out of scope
// for this engine (§3) — this only deserializes the output of that external
// compilation step so the CLI has a Descriptor to hand the engine.
func LoadDescriptor(path string) (Descriptor, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return Descriptor{}, fmt.Errorf("read schema %s: %w", path, err)
	}
	var d Descriptor
	if err := json.Unmarshal(raw, &d); err != nil {
		return Descriptor{}, fmt.Errorf("parse schema %s: %w", path, err)
	}
	return d, nil
}
