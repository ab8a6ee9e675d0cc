// Package embedding defines embedding records, their store, and the provider
// contract used to compute vectors.
package embedding

import (
	"context"

	"github.com/helixml/vecsync/domain/source"
)

// Store column names. Source columns with these names cannot be exposed by
// the joined view.
const (
	ColumnID        = "embedding_uuid"
	ColumnSeq       = "chunk_seq"
	ColumnChunk     = "chunk"
	ColumnEmbedding = "embedding"
)

// Columns returns the store's own column names.
func Columns() []string {
	return []string{ColumnID, ColumnSeq, ColumnChunk, ColumnEmbedding}
}

// Record is one embedded chunk of a source row.
type Record struct {
	id     string
	key    source.Key
	seq    int
	chunk  string
	vector []float32
}

// NewRecord creates a Record for the chunk at position seq of key's chunk list.
func NewRecord(key source.Key, seq int, chunk string, vector []float32) Record {
	return Record{key: key, seq: seq, chunk: chunk, vector: vector}
}

// ReconstructRecord recreates a stored Record including its id.
func ReconstructRecord(id string, key source.Key, seq int, chunk string, vector []float32) Record {
	return Record{id: id, key: key, seq: seq, chunk: chunk, vector: vector}
}

// ID returns the synthetic record id (empty until stored).
func (r Record) ID() string { return r.id }

// Key returns the source key.
func (r Record) Key() source.Key { return r.key }

// Seq returns the 0-based chunk sequence number.
func (r Record) Seq() int { return r.seq }

// Chunk returns the chunk text.
func (r Record) Chunk() string { return r.chunk }

// Vector returns the embedding.
func (r Record) Vector() []float32 {
	out := make([]float32, len(r.vector))
	copy(out, r.vector)
	return out
}

// Store persists embedding records for one vectorizer.
type Store interface {
	// Replace makes records the complete chunk set for key: it upserts by
	// (key, seq) and deletes every record with seq >= len(records).
	Replace(ctx context.Context, key source.Key, records []Record) error

	// Remove deletes every record for key.
	Remove(ctx context.Context, key source.Key) error

	// Records returns the stored records for key ordered by seq.
	Records(ctx context.Context, key source.Key) ([]Record, error)

	// Count returns the number of stored records.
	Count(ctx context.Context) (int64, error)
}

// Embedder computes one vector per input text, in input order.
type Embedder interface {
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}
