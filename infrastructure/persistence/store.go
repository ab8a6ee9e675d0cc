package persistence

import (
	"context"
	"fmt"
	"slices"

	"github.com/google/uuid"
	"github.com/pgvector/pgvector-go"
	"gorm.io/gorm/clause"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/internal/database"
)

// EmbeddingStore implements embedding.Store over one vectorizer's store
// table. Vectors use the pgvector text format, which is the vector column's
// input format on PostgreSQL and plain TEXT on SQLite.
type EmbeddingStore struct {
	db    database.Database
	table string
	pk    []string
}

// NewEmbeddingStore creates a store over table keyed by pk.
func NewEmbeddingStore(db database.Database, table string, pk []string) EmbeddingStore {
	return EmbeddingStore{db: db, table: table, pk: slices.Clone(pk)}
}

// Replace upserts records by (key, seq), keeping existing record ids, and
// deletes any record of key beyond the new chunk count. Call it inside a
// transaction to make both steps atomic.
func (s EmbeddingStore) Replace(ctx context.Context, key source.Key, records []embedding.Record) error {
	session := s.db.Session(ctx)

	if len(records) > 0 {
		rows := make([]map[string]any, len(records))
		for i, r := range records {
			row := map[string]any{
				embedding.ColumnID:        uuid.NewString(),
				embedding.ColumnSeq:       r.Seq(),
				embedding.ColumnChunk:     r.Chunk(),
				embedding.ColumnEmbedding: pgvector.NewVector(r.Vector()),
			}
			for j, v := range key.Values() {
				row[s.pk[j]] = v
			}
			rows[i] = row
		}

		conflict := make([]clause.Column, 0, len(s.pk)+1)
		for _, c := range s.pk {
			conflict = append(conflict, clause.Column{Name: c})
		}
		conflict = append(conflict, clause.Column{Name: embedding.ColumnSeq})

		err := session.Table(s.table).Clauses(clause.OnConflict{
			Columns:   conflict,
			DoUpdates: clause.AssignmentColumns([]string{embedding.ColumnChunk, embedding.ColumnEmbedding}),
		}).Create(&rows).Error
		if err != nil {
			return fmt.Errorf("upsert records for %s: %w", key, err)
		}
	}

	trim := fmt.Sprintf(`DELETE FROM %s WHERE %s AND %s >= ?`,
		database.QuoteIdent(s.table), keyMatch(s.pk, ""), embedding.ColumnSeq)
	args := append(key.Values(), len(records))
	if err := session.Exec(trim, args...).Error; err != nil {
		return fmt.Errorf("trim records for %s: %w", key, err)
	}
	return nil
}

// Remove deletes every record for key.
func (s EmbeddingStore) Remove(ctx context.Context, key source.Key) error {
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE %s`, database.QuoteIdent(s.table), keyMatch(s.pk, ""))
	if err := s.db.Session(ctx).Exec(stmt, key.Values()...).Error; err != nil {
		return fmt.Errorf("remove records for %s: %w", key, err)
	}
	return nil
}

// Records returns the records for key ordered by seq.
func (s EmbeddingStore) Records(ctx context.Context, key source.Key) ([]embedding.Record, error) {
	stmt := fmt.Sprintf(`SELECT %s, %s, %s, %s FROM %s WHERE %s ORDER BY %s`,
		embedding.ColumnID, embedding.ColumnSeq, embedding.ColumnChunk, embedding.ColumnEmbedding,
		database.QuoteIdent(s.table), keyMatch(s.pk, ""), embedding.ColumnSeq)

	rows, err := s.db.Session(ctx).Raw(stmt, key.Values()...).Rows()
	if err != nil {
		return nil, fmt.Errorf("load records for %s: %w", key, err)
	}
	defer func() { _ = rows.Close() }()

	var records []embedding.Record
	for rows.Next() {
		var (
			id     string
			seq    int
			chunk  string
			vector pgvector.Vector
		)
		if err := rows.Scan(&id, &seq, &chunk, &vector); err != nil {
			return nil, fmt.Errorf("scan record for %s: %w", key, err)
		}
		records = append(records, embedding.ReconstructRecord(id, key, seq, chunk, vector.Slice()))
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("load records for %s: %w", key, err)
	}
	return records, nil
}

// Count returns the number of stored records.
func (s EmbeddingStore) Count(ctx context.Context) (int64, error) {
	return countEntries(ctx, s.db, s.table)
}
