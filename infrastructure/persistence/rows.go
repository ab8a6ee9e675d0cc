package persistence

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/internal/database"
)

// scanMaps reads every row into a column-name keyed map.
func scanMaps(rows *sql.Rows) ([]map[string]any, error) {
	defer func() { _ = rows.Close() }()

	columns, err := rows.Columns()
	if err != nil {
		return nil, fmt.Errorf("read columns: %w", err)
	}

	var out []map[string]any
	for rows.Next() {
		values := make([]any, len(columns))
		dest := make([]any, len(columns))
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		row := make(map[string]any, len(columns))
		for i, c := range columns {
			row[c] = values[i]
		}
		out = append(out, row)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate rows: %w", err)
	}
	return out, nil
}

// scanKeys reads rows whose columns are exactly the key columns and returns
// the distinct keys in first-seen order.
func scanKeys(rows *sql.Rows, width int) ([]source.Key, error) {
	defer func() { _ = rows.Close() }()

	seen := make(map[string]bool)
	var keys []source.Key
	for rows.Next() {
		values := make([]any, width)
		dest := make([]any, width)
		for i := range values {
			dest[i] = &values[i]
		}
		if err := rows.Scan(dest...); err != nil {
			return nil, fmt.Errorf("scan key: %w", err)
		}
		key := source.NewKey(values...)
		if seen[key.String()] {
			continue
		}
		seen[key.String()] = true
		keys = append(keys, key)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate keys: %w", err)
	}
	return keys, nil
}

// keyMatch renders `alias."a" = ? AND alias."b" = ?` for the key columns.
// An empty alias leaves the columns unqualified.
func keyMatch(columns []string, alias string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		col := database.QuoteIdent(c)
		if alias != "" {
			col = alias + "." + col
		}
		parts[i] = col + " = ?"
	}
	return strings.Join(parts, " AND ")
}

// keyJoin renders `a."x" = b."x" AND ...` for the key columns.
func keyJoin(columns []string, a, b string) string {
	parts := make([]string, len(columns))
	for i, c := range columns {
		col := database.QuoteIdent(c)
		parts[i] = fmt.Sprintf("%s.%s = %s.%s", a, col, b, col)
	}
	return strings.Join(parts, " AND ")
}

// insertKeysSQL renders a multi-row INSERT of keys into table and its
// arguments.
func insertKeysSQL(table string, columns []string, keys []source.Key) (string, []any) {
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?, ", len(columns)), ", ") + ")"
	tuples := make([]string, len(keys))
	args := make([]any, 0, len(keys)*len(columns))
	for i, k := range keys {
		tuples[i] = tuple
		args = append(args, k.Values()...)
	}
	return fmt.Sprintf("INSERT INTO %s (%s) VALUES %s",
		database.QuoteIdent(table), database.QuoteIdents(columns), strings.Join(tuples, ", ")), args
}

// emptyClaim is returned when nothing was claimable.
type emptyClaim struct{}

func (emptyClaim) Keys() []source.Key { return nil }

func (emptyClaim) Complete(context.Context, source.Key, func(context.Context) error) error {
	return queue.ErrNotClaimed
}

func (emptyClaim) Release(context.Context, source.Key) error { return queue.ErrNotClaimed }

func (emptyClaim) Close(context.Context) error { return nil }
