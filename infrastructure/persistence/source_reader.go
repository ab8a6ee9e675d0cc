package persistence

import (
	"context"
	"fmt"
	"slices"
	"strings"

	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/internal/database"
)

// SourceReader implements source.Reader for one source table.
type SourceReader struct {
	db    database.Database
	table string
	pk    []string
}

// NewSourceReader creates a reader over table keyed by pk.
func NewSourceReader(db database.Database, table string, pk []string) SourceReader {
	return SourceReader{db: db, table: table, pk: slices.Clone(pk)}
}

// Fetch loads the current rows for keys. Keys whose rows no longer exist are
// absent from the result.
func (r SourceReader) Fetch(ctx context.Context, keys []source.Key) (map[string]source.Row, error) {
	out := make(map[string]source.Row, len(keys))
	if len(keys) == 0 {
		return out, nil
	}

	query := r.db.Session(ctx).Table(r.table)
	if len(r.pk) == 1 {
		values := make([]any, len(keys))
		for i, k := range keys {
			values[i] = k.Values()[0]
		}
		query = query.Where(database.QuoteIdent(r.pk[0])+" IN ?", values)
	} else {
		tuples := make([][]any, len(keys))
		for i, k := range keys {
			tuples[i] = k.Values()
		}
		query = query.Where("("+database.QuoteIdents(r.pk)+") IN ?", tuples)
	}

	rows, err := query.Rows()
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.table, err)
	}
	maps, err := scanMaps(rows)
	if err != nil {
		return nil, fmt.Errorf("fetch %s: %w", r.table, err)
	}

	for _, m := range maps {
		values := make([]any, len(r.pk))
		for i, c := range r.pk {
			v, ok := m[c]
			if !ok {
				return nil, fmt.Errorf("fetch %s: primary key column %s missing from result (columns: %s)",
					r.table, c, strings.Join(mapKeys(m), ", "))
			}
			values[i] = v
		}
		key := source.NewKey(values...)
		out[key.String()] = source.NewRow(key, m)
	}
	return out, nil
}

func mapKeys(m map[string]any) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys
}
