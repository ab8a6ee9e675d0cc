// Package source describes the tracked table a vectorizer observes: its
// columns, primary keys, and row snapshots.
package source

import (
	"context"
	"fmt"
	"strings"
)

// keySeparator joins primary-key values in a Key's canonical form. It is a
// control character that never appears in formatted numbers or uuids.
const keySeparator = "\x1f"

// Key identifies one source row by its primary-key values, ordered like the
// table's primary-key columns.
type Key struct {
	values    []any
	canonical string
}

// NewKey creates a Key. Byte slices are normalized to strings so that keys
// scanned from different tables compare equal.
func NewKey(values ...any) Key {
	normalized := make([]any, len(values))
	parts := make([]string, len(values))
	for i, v := range values {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		normalized[i] = v
		parts[i] = fmt.Sprint(v)
	}
	return Key{values: normalized, canonical: strings.Join(parts, keySeparator)}
}

// Values returns the primary-key values.
func (k Key) Values() []any {
	out := make([]any, len(k.values))
	copy(out, k.values)
	return out
}

// Len returns the number of key columns.
func (k Key) Len() int { return len(k.values) }

// String returns the canonical form, usable as a map key.
func (k Key) String() string { return k.canonical }

// Equal reports whether both keys identify the same row.
func (k Key) Equal(other Key) bool { return k.canonical == other.canonical }

// Column describes one column of a source table.
type Column struct {
	name         string
	databaseType string
	primaryKey   bool
}

// NewColumn creates a Column.
func NewColumn(name, databaseType string, primaryKey bool) Column {
	return Column{name: name, databaseType: databaseType, primaryKey: primaryKey}
}

// Name returns the column name.
func (c Column) Name() string { return c.name }

// DatabaseType returns the column type as reported by the database.
func (c Column) DatabaseType() string { return c.databaseType }

// PrimaryKey reports whether the column is part of the primary key.
func (c Column) PrimaryKey() bool { return c.primaryKey }

// PrimaryKeyColumns returns the primary-key columns in table order.
func PrimaryKeyColumns(columns []Column) []Column {
	var pk []Column
	for _, c := range columns {
		if c.primaryKey {
			pk = append(pk, c)
		}
	}
	return pk
}

// ColumnNames returns the names of the given columns.
func ColumnNames(columns []Column) []string {
	names := make([]string, len(columns))
	for i, c := range columns {
		names[i] = c.name
	}
	return names
}

// Row is a snapshot of one source row.
type Row struct {
	key    Key
	values map[string]any
}

// NewRow creates a Row. Byte slices are normalized to strings.
func NewRow(key Key, values map[string]any) Row {
	copied := make(map[string]any, len(values))
	for k, v := range values {
		if b, ok := v.([]byte); ok {
			v = string(b)
		}
		copied[k] = v
	}
	return Row{key: key, values: copied}
}

// Key returns the row's primary key.
func (r Row) Key() Key { return r.key }

// Value returns a column value and whether the column exists.
func (r Row) Value(column string) (any, bool) {
	v, ok := r.values[column]
	return v, ok
}

// Values returns a copy of all column values.
func (r Row) Values() map[string]any {
	out := make(map[string]any, len(r.values))
	for k, v := range r.values {
		out[k] = v
	}
	return out
}

// Text returns the text to chunk: the non-empty values of columns, in order,
// joined by a blank line. NULL values are skipped.
func (r Row) Text(columns []string) string {
	parts := make([]string, 0, len(columns))
	for _, c := range columns {
		v, ok := r.values[c]
		if !ok || v == nil {
			continue
		}
		s := fmt.Sprint(v)
		if s == "" {
			continue
		}
		parts = append(parts, s)
	}
	return strings.Join(parts, "\n\n")
}

// Reader fetches current snapshots of source rows.
type Reader interface {
	// Fetch returns the rows that still exist, keyed by Key.String().
	Fetch(ctx context.Context, keys []Key) (map[string]Row, error)
}

// Inspector describes source tables.
type Inspector interface {
	// Columns returns the table's columns in table order.
	Columns(ctx context.Context, table string) ([]Column, error)
}
