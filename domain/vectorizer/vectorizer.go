// Package vectorizer holds the vectorizer configuration entity and its
// validated pipeline settings.
package vectorizer

import (
	"context"
	"fmt"
	"slices"
	"time"

	"github.com/helixml/vecsync/domain/repository"
)

// Vectorizer binds a source table to a queue, a store and a pipeline config.
type Vectorizer struct {
	id         int64
	definition Definition
	config     Config
	disabled   bool
	failedAt   *time.Time
	failure    string
	cronJobID  int64
	createdAt  time.Time
	updatedAt  time.Time
}

// NewVectorizer creates a vectorizer from a definition. The definition is
// normalized and must carry the source primary key.
func NewVectorizer(def Definition) (Vectorizer, error) {
	def, err := def.Normalize()
	if err != nil {
		return Vectorizer{}, err
	}
	if len(def.Source.PrimaryKey) == 0 {
		return Vectorizer{}, fmt.Errorf("%w: source table %s has no primary key", ErrInvalidConfig, def.Source.Table)
	}
	cfg, err := def.Config()
	if err != nil {
		return Vectorizer{}, err
	}
	now := time.Now()
	return Vectorizer{
		definition: def,
		config:     cfg,
		createdAt:  now,
		updatedAt:  now,
	}, nil
}

// Reconstruct recreates a vectorizer from persistence.
func Reconstruct(
	id int64,
	def Definition,
	disabled bool,
	failedAt *time.Time,
	failure string,
	cronJobID int64,
	createdAt, updatedAt time.Time,
) (Vectorizer, error) {
	cfg, err := def.Config()
	if err != nil {
		return Vectorizer{}, fmt.Errorf("vectorizer %d: %w", id, err)
	}
	return Vectorizer{
		id:         id,
		definition: def,
		config:     cfg,
		disabled:   disabled,
		failedAt:   failedAt,
		failure:    failure,
		cronJobID:  cronJobID,
		createdAt:  createdAt,
		updatedAt:  updatedAt,
	}, nil
}

// ID returns the catalog id.
func (v Vectorizer) ID() int64 { return v.id }

// Name returns the unique name.
func (v Vectorizer) Name() string { return v.definition.Name }

// SourceTable returns the watched table.
func (v Vectorizer) SourceTable() string { return v.definition.Source.Table }

// PrimaryKey returns the source primary key columns in order.
func (v Vectorizer) PrimaryKey() []string { return slices.Clone(v.definition.Source.PrimaryKey) }

// TextColumns returns the columns whose values are chunked.
func (v Vectorizer) TextColumns() []string { return v.definition.TextColumns() }

// QueueTable returns the work queue table.
func (v Vectorizer) QueueTable() string { return v.definition.QueueTable }

// StoreTable returns the embedding store table.
func (v Vectorizer) StoreTable() string { return v.definition.Destination.StoreTable }

// ViewName returns the view joining store and source.
func (v Vectorizer) ViewName() string { return v.definition.Destination.View }

// IndexName returns the deterministic name of the store's ANN index.
func (v Vectorizer) IndexName() string { return v.definition.Destination.StoreTable + "_embedding_idx" }

// Definition returns the normalized definition.
func (v Vectorizer) Definition() Definition { return v.definition }

// Config returns the pipeline configuration.
func (v Vectorizer) Config() Config { return v.config }

// Dimensions returns the vector dimensionality.
func (v Vectorizer) Dimensions() int { return v.config.Embedding.Settings().Dimensions }

// Disabled reports whether scheduling is turned off.
func (v Vectorizer) Disabled() bool { return v.disabled }

// FailedAt returns when the vectorizer was marked failed, or nil.
func (v Vectorizer) FailedAt() *time.Time { return v.failedAt }

// Failure returns the failure message.
func (v Vectorizer) Failure() string { return v.failure }

// Failed reports whether a configuration error stopped the vectorizer.
func (v Vectorizer) Failed() bool { return v.failedAt != nil }

// Active reports whether workers should process the vectorizer.
func (v Vectorizer) Active() bool { return !v.disabled && !v.Failed() }

// CronJobID returns the database job id, or zero.
func (v Vectorizer) CronJobID() int64 { return v.cronJobID }

// CreatedAt returns the creation time.
func (v Vectorizer) CreatedAt() time.Time { return v.createdAt }

// UpdatedAt returns the last modification time.
func (v Vectorizer) UpdatedAt() time.Time { return v.updatedAt }

// TrackedColumns returns every source column whose change must enqueue the
// row: the primary key, the text columns and the template's extra columns.
func (v Vectorizer) TrackedColumns(templateColumns []string) []string {
	cols := v.PrimaryKey()
	for _, group := range [][]string{v.TextColumns(), templateColumns} {
		for _, c := range group {
			if !slices.Contains(cols, c) {
				cols = append(cols, c)
			}
		}
	}
	return cols
}

// WithID returns a copy with the catalog id set.
func (v Vectorizer) WithID(id int64) Vectorizer {
	v.id = id
	return v
}

// WithDisabled returns a copy with the schedule flag set.
func (v Vectorizer) WithDisabled(disabled bool) Vectorizer {
	v.disabled = disabled
	v.updatedAt = time.Now()
	return v
}

// WithFailure returns a copy marked failed.
func (v Vectorizer) WithFailure(message string, at time.Time) Vectorizer {
	v.failedAt = &at
	v.failure = message
	v.updatedAt = at
	return v
}

// WithoutFailure returns a copy with the failure mark cleared.
func (v Vectorizer) WithoutFailure() Vectorizer {
	v.failedAt = nil
	v.failure = ""
	v.updatedAt = time.Now()
	return v
}

// WithCronJobID returns a copy with the database job id set.
func (v Vectorizer) WithCronJobID(id int64) Vectorizer {
	v.cronJobID = id
	v.updatedAt = time.Now()
	return v
}

// Store persists vectorizers.
type Store interface {
	Save(ctx context.Context, v Vectorizer) (Vectorizer, error)
	Get(ctx context.Context, id int64) (Vectorizer, error)
	Find(ctx context.Context, options ...repository.Option) ([]Vectorizer, error)
	FindOne(ctx context.Context, options ...repository.Option) (Vectorizer, error)
	Delete(ctx context.Context, v Vectorizer) error
}

// ErrorRecord is one entry of the per-vectorizer error log.
type ErrorRecord struct {
	id           int64
	vectorizerID int64
	message      string
	details      map[string]any
	recordedAt   time.Time
}

// NewErrorRecord creates an error record.
func NewErrorRecord(vectorizerID int64, message string, details map[string]any) ErrorRecord {
	return ErrorRecord{
		vectorizerID: vectorizerID,
		message:      message,
		details:      details,
		recordedAt:   time.Now(),
	}
}

// ReconstructErrorRecord recreates an error record from persistence.
func ReconstructErrorRecord(id, vectorizerID int64, message string, details map[string]any, recordedAt time.Time) ErrorRecord {
	return ErrorRecord{
		id:           id,
		vectorizerID: vectorizerID,
		message:      message,
		details:      details,
		recordedAt:   recordedAt,
	}
}

// ID returns the record id.
func (e ErrorRecord) ID() int64 { return e.id }

// VectorizerID returns the owning vectorizer.
func (e ErrorRecord) VectorizerID() int64 { return e.vectorizerID }

// Message returns the error message.
func (e ErrorRecord) Message() string { return e.message }

// Details returns structured context, such as the failing keys.
func (e ErrorRecord) Details() map[string]any { return e.details }

// RecordedAt returns when the error was recorded.
func (e ErrorRecord) RecordedAt() time.Time { return e.recordedAt }

// ErrorLog is the queryable per-vectorizer error log.
type ErrorLog interface {
	Record(ctx context.Context, record ErrorRecord) error
	Find(ctx context.Context, vectorizerID int64, limit int) ([]ErrorRecord, error)
	DeleteFor(ctx context.Context, vectorizerID int64) error
}
