package service

import (
	"context"
	"fmt"
	"log/slog"

	"golang.org/x/sync/singleflight"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/vectorizer"
)

// Indexer creates a vectorizer's ANN index once its policy threshold is
// met. Concurrent checks for the same index share one database round.
type Indexer struct {
	builder vectorizer.IndexBuilder
	logger  *slog.Logger
	group   singleflight.Group
}

// NewIndexer creates a new Indexer.
func NewIndexer(builder vectorizer.IndexBuilder, logger *slog.Logger) *Indexer {
	if logger == nil {
		logger = slog.Default()
	}
	return &Indexer{builder: builder, logger: logger}
}

// Check creates the index if the policy asks for one and it does not exist
// yet. It reports whether this call created it: exactly one of several
// concurrent callers sees true.
func (i *Indexer) Check(ctx context.Context, v vectorizer.Vectorizer, q queue.Queue, store embedding.Store) (bool, error) {
	threshold, ok := v.Config().Indexing.Threshold()
	if !ok {
		return false, nil
	}

	// Do runs fn on the first caller's goroutine only; callers that joined
	// the flight share its result but did not create anything themselves.
	leader := false
	result, err, _ := i.group.Do(v.IndexName(), func() (any, error) {
		leader = true
		return i.check(ctx, v, threshold, q, store)
	})
	if err != nil {
		return false, err
	}
	return leader && result.(bool), nil
}

func (i *Indexer) check(ctx context.Context, v vectorizer.Vectorizer, threshold vectorizer.IndexThreshold, q queue.Queue, store embedding.Store) (bool, error) {
	exists, err := i.builder.Exists(ctx, v)
	if err != nil {
		return false, fmt.Errorf("check index %s: %w", v.IndexName(), err)
	}
	if exists {
		return false, nil
	}

	rows, err := store.Count(ctx)
	if err != nil {
		return false, err
	}
	if rows < threshold.MinRows {
		return false, nil
	}
	if threshold.CreateWhenQueueEmpty {
		depth, err := q.DepthCapped(ctx, 1)
		if err != nil {
			return false, err
		}
		if depth > 0 {
			return false, nil
		}
	}

	created, err := i.builder.Create(ctx, v, rows)
	if err != nil {
		return false, fmt.Errorf("create index %s: %w", v.IndexName(), err)
	}
	if created {
		i.logger.Info("vector index created",
			slog.Int64("vectorizer_id", v.ID()),
			slog.String("index", v.IndexName()),
			slog.String("kind", v.Config().Indexing.Implementation()),
			slog.Int64("rows", rows),
		)
	}
	return created, nil
}
