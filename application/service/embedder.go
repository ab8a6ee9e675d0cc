package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"math/rand/v2"
	"time"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/internal/config"
)

// RetryingEmbedder wraps a provider with the retry policy and checks the
// dimensionality of every vector it returns. Transient failures and rate
// limits are retried on separate budgets; permanent failures are returned
// immediately.
type RetryingEmbedder struct {
	inner      embedding.Embedder
	retry      config.RetryConfig
	dimensions int
	logger     *slog.Logger
	sleep      func(ctx context.Context, d time.Duration) error
	jitter     func() float64
}

// RetryOption configures a RetryingEmbedder.
type RetryOption func(*RetryingEmbedder)

// WithSleep replaces the wait between attempts.
func WithSleep(fn func(ctx context.Context, d time.Duration) error) RetryOption {
	return func(e *RetryingEmbedder) { e.sleep = fn }
}

// WithJitter replaces the random source used for full jitter. fn returns a
// value in [0, 1).
func WithJitter(fn func() float64) RetryOption {
	return func(e *RetryingEmbedder) { e.jitter = fn }
}

// NewRetryingEmbedder creates a RetryingEmbedder. dimensions of zero skips
// the dimensionality check.
func NewRetryingEmbedder(inner embedding.Embedder, retry config.RetryConfig, dimensions int, logger *slog.Logger, opts ...RetryOption) RetryingEmbedder {
	if logger == nil {
		logger = slog.Default()
	}
	e := RetryingEmbedder{
		inner:      inner,
		retry:      retry,
		dimensions: dimensions,
		logger:     logger,
		sleep:      sleepContext,
		jitter:     rand.Float64,
	}
	for _, opt := range opts {
		opt(&e)
	}
	return e
}

// Embed computes one vector per text.
func (e RetryingEmbedder) Embed(ctx context.Context, texts []string) ([][]float32, error) {
	if len(texts) == 0 {
		return nil, nil
	}

	var transient, limited int
	for {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		vectors, err := e.inner.Embed(ctx, texts)
		if err == nil && len(vectors) != len(texts) {
			err = embedding.NewProviderError(embedding.Transient, "embedder", 0,
				fmt.Sprintf("partial response: %d vectors for %d texts", len(vectors), len(texts)), nil)
		}
		if err == nil {
			if err := e.check(vectors); err != nil {
				return nil, err
			}
			return vectors, nil
		}
		if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
			if ctxErr := ctx.Err(); ctxErr != nil {
				return nil, ctxErr
			}
		}

		var delay time.Duration
		switch embedding.KindOf(err) {
		case embedding.Permanent:
			return nil, err
		case embedding.RateLimited:
			limited++
			if limited >= e.retry.MaxRateLimitAttempts() {
				return nil, fmt.Errorf("rate limited after %d attempts: %w", limited, err)
			}
			delay = retryAfter(err)
			if delay == 0 {
				delay = e.backoff(limited)
			}
		default:
			transient++
			if transient >= e.retry.MaxAttempts() {
				return nil, fmt.Errorf("max retries exceeded after %d attempts: %w", transient, err)
			}
			delay = e.backoff(transient)
		}

		e.logger.Warn("embedding call failed, retrying",
			slog.String("kind", embedding.KindOf(err).String()),
			slog.Duration("delay", delay),
			slog.Any("error", err),
		)
		if err := e.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// check validates vector dimensionality.
func (e RetryingEmbedder) check(vectors [][]float32) error {
	if e.dimensions == 0 {
		return nil
	}
	for i, v := range vectors {
		if len(v) != e.dimensions {
			return fmt.Errorf("%w: vector %d has %d dimensions, configured %d", embedding.ErrDimensionMismatch, i, len(v), e.dimensions)
		}
	}
	return nil
}

// backoff returns a full-jitter delay for the nth failure: a random value
// between zero and initial*factor^(n-1), capped at the maximum delay.
func (e RetryingEmbedder) backoff(n int) time.Duration {
	ceiling := float64(e.retry.InitialDelay()) * math.Pow(e.retry.BackoffFactor(), float64(n-1))
	if limit := float64(e.retry.MaxDelay()); ceiling > limit {
		ceiling = limit
	}
	return time.Duration(e.jitter() * ceiling)
}

func retryAfter(err error) time.Duration {
	var pe *embedding.ProviderError
	if errors.As(err, &pe) {
		return pe.RetryAfter()
	}
	return 0
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}
