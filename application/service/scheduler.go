package service

import (
	"context"
	"errors"
	"log/slog"
	"slices"
	"sync"
	"time"

	"github.com/helixml/vecsync/domain/repository"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/config"
)

// Notifier delivers the ids of vectorizers that have new work.
type Notifier interface {
	Listen(ctx context.Context, out chan<- int64) error
}

// Scheduler runs worker passes on a poll interval and, when a Notifier is
// set, whenever the database signals work for a vectorizer.
type Scheduler struct {
	worker      *Worker
	vectorizers vectorizer.Store
	logger      *slog.Logger
	interval    time.Duration
	ids         []int64
	notifier    Notifier

	cancel context.CancelFunc
	wg     sync.WaitGroup
	mu     sync.Mutex
}

// SchedulerOption configures a Scheduler.
type SchedulerOption func(*Scheduler)

// WithVectorizerIDs restricts the scheduler to the given vectorizers.
func WithVectorizerIDs(ids ...int64) SchedulerOption {
	return func(s *Scheduler) { s.ids = append(s.ids, ids...) }
}

// WithNotifier enables wake-ups from database notifications.
func WithNotifier(n Notifier) SchedulerOption {
	return func(s *Scheduler) { s.notifier = n }
}

// NewScheduler creates a new Scheduler from config and dependencies.
func NewScheduler(
	cfg config.WorkerConfig,
	worker *Worker,
	vectorizers vectorizer.Store,
	logger *slog.Logger,
	opts ...SchedulerOption,
) *Scheduler {
	if logger == nil {
		logger = slog.Default()
	}
	s := &Scheduler{
		worker:      worker,
		vectorizers: vectorizers,
		logger:      logger,
		interval:    cfg.PollInterval(),
	}
	for _, opt := range opts {
		opt(s)
	}
	if s.interval <= 0 {
		s.interval = config.DefaultPollInterval
	}
	return s
}

// Start begins scheduling in background goroutines.
func (s *Scheduler) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()

	ctx, s.cancel = context.WithCancel(ctx)

	var wake chan int64
	if s.notifier != nil {
		wake = make(chan int64, 64)
		s.wg.Go(func() {
			if err := s.notifier.Listen(ctx, wake); err != nil {
				s.logger.Error("notification listener stopped", slog.Any("error", err))
			}
		})
	}
	s.wg.Go(func() {
		s.run(ctx, wake)
	})

	s.logger.Info("scheduler started",
		slog.Duration("interval", s.interval),
		slog.Bool("listen", s.notifier != nil),
		slog.Any("vectorizer_ids", s.ids),
	)
}

// Stop cancels the background goroutines and waits for in-flight passes
// to finish.
func (s *Scheduler) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	s.cancel = nil
	s.mu.Unlock()

	if cancel != nil {
		cancel()
	}
	s.wg.Wait()
	s.logger.Info("scheduler stopped")
}

func (s *Scheduler) run(ctx context.Context, wake <-chan int64) {
	// Drain immediately on startup
	_ = s.RunOnce(ctx)

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = s.RunOnce(ctx)
		case id := <-wake:
			if len(s.ids) > 0 && !slices.Contains(s.ids, id) {
				continue
			}
			s.pass(ctx, id)
		}
	}
}

// RunOnce runs one pass for every selected active vectorizer. Failures of
// a single vectorizer are logged and recorded, not returned; only failing to
// read the catalog is an error.
func (s *Scheduler) RunOnce(ctx context.Context) error {
	targets, err := s.targets(ctx)
	if err != nil {
		if ctx.Err() == nil {
			s.logger.Error("failed to list vectorizers", slog.Any("error", err))
		}
		return err
	}
	for _, id := range targets {
		if ctx.Err() != nil {
			return nil
		}
		s.pass(ctx, id)
	}
	return nil
}

func (s *Scheduler) targets(ctx context.Context) ([]int64, error) {
	if len(s.ids) > 0 {
		return s.ids, nil
	}
	vs, err := s.vectorizers.Find(ctx, repository.WithActive())
	if err != nil {
		return nil, err
	}
	ids := make([]int64, len(vs))
	for i, v := range vs {
		ids[i] = v.ID()
	}
	return ids, nil
}

func (s *Scheduler) pass(ctx context.Context, id int64) {
	result, err := s.worker.Run(ctx, id)
	switch {
	case err == nil:
		if result.Processed > 0 || result.Released > 0 {
			s.logger.Debug("scheduled pass complete",
				slog.Int64("vectorizer_id", id),
				slog.Int64("processed", result.Processed),
			)
		}
	case ctx.Err() != nil:
	case errors.Is(err, vectorizer.ErrNotFound):
		s.logger.Warn("vectorizer not found", slog.Int64("vectorizer_id", id))
	default:
		s.logger.Error("worker pass failed",
			slog.Int64("vectorizer_id", id),
			slog.Any("error", err),
		)
	}
}
