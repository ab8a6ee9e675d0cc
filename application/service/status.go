package service

import (
	"context"
	"fmt"

	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/vectorizer"
)

// VectorizerStatus summarizes the progress of one vectorizer.
type VectorizerStatus struct {
	Vectorizer vectorizer.Vectorizer
	// Pending counts queue entries; with Capped set it stopped counting at
	// queue.DefaultDepthCap.
	Pending int64
	Capped  bool
	Records int64
}

// Status reports queue depths and store sizes.
type Status struct {
	vectorizers vectorizer.Store
	backend     Backend
}

// NewStatus creates a new Status.
func NewStatus(vectorizers vectorizer.Store, backend Backend) Status {
	return Status{vectorizers: vectorizers, backend: backend}
}

// Pending returns the number of queued changes. Without exact the count is
// capped at queue.DefaultDepthCap so large queues stay cheap to inspect.
func (s Status) Pending(ctx context.Context, id int64, exact bool) (int64, error) {
	v, err := s.vectorizers.Get(ctx, id)
	if err != nil {
		return 0, err
	}
	return s.pending(ctx, v, exact)
}

func (s Status) pending(ctx context.Context, v vectorizer.Vectorizer, exact bool) (int64, error) {
	q := s.backend.Queue(v)
	if exact {
		return q.Depth(ctx)
	}
	return q.DepthCapped(ctx, queue.DefaultDepthCap)
}

// Describe returns the status of one vectorizer.
func (s Status) Describe(ctx context.Context, id int64, exact bool) (VectorizerStatus, error) {
	v, err := s.vectorizers.Get(ctx, id)
	if err != nil {
		return VectorizerStatus{}, err
	}
	return s.describe(ctx, v, exact)
}

// All returns the status of every vectorizer.
func (s Status) All(ctx context.Context, exact bool) ([]VectorizerStatus, error) {
	vs, err := s.vectorizers.Find(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]VectorizerStatus, 0, len(vs))
	for _, v := range vs {
		st, err := s.describe(ctx, v, exact)
		if err != nil {
			return nil, err
		}
		out = append(out, st)
	}
	return out, nil
}

func (s Status) describe(ctx context.Context, v vectorizer.Vectorizer, exact bool) (VectorizerStatus, error) {
	pending, err := s.pending(ctx, v, exact)
	if err != nil {
		return VectorizerStatus{}, fmt.Errorf("pending for %s: %w", v.Name(), err)
	}
	records, err := s.backend.Store(v).Count(ctx)
	if err != nil {
		return VectorizerStatus{}, fmt.Errorf("records for %s: %w", v.Name(), err)
	}
	return VectorizerStatus{
		Vectorizer: v,
		Pending:    pending,
		Capped:     !exact && pending >= queue.DefaultDepthCap,
		Records:    records,
	}, nil
}
