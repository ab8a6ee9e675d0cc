package vectorizer

import (
	"context"

	"github.com/helixml/vecsync/domain/source"
)

// Provisioner creates and removes the database objects a vectorizer owns.
type Provisioner interface {
	// Create builds the queue, store, view and capture triggers. tracked
	// lists the source columns whose updates enqueue work.
	Create(ctx context.Context, v Vectorizer, columns []source.Column, tracked []string) error

	// Backfill enqueues every existing source key.
	Backfill(ctx context.Context, v Vectorizer) error

	// Drop removes the triggers and queue, and the store and view when
	// dropAll is set.
	Drop(ctx context.Context, v Vectorizer, dropAll bool) error
}

// IndexBuilder creates the ANN index over a vectorizer's store.
type IndexBuilder interface {
	Exists(ctx context.Context, v Vectorizer) (bool, error)

	// Create reports false when the index already existed.
	Create(ctx context.Context, v Vectorizer, rows int64) (bool, error)
}

// JobScheduler manages database-native jobs that signal workers.
type JobScheduler interface {
	Schedule(ctx context.Context, v Vectorizer) (int64, error)
	SetActive(ctx context.Context, jobID int64, active bool) error
	Unschedule(ctx context.Context, jobID int64) error
}
