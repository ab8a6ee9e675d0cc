package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/chunking"
	"github.com/helixml/vecsync/infrastructure/formatting"
	"github.com/helixml/vecsync/infrastructure/provider"
	"github.com/helixml/vecsync/internal/config"
	"github.com/helixml/vecsync/internal/log"
)

// EmbedderFactory creates the embedding provider for a vectorizer.
type EmbedderFactory func(ctx context.Context, v vectorizer.Vectorizer) (provider.Provider, error)

// ProviderFactory returns an EmbedderFactory backed by provider.New.
func ProviderFactory(opts ...provider.Option) EmbedderFactory {
	return func(ctx context.Context, v vectorizer.Vectorizer) (provider.Provider, error) {
		return provider.New(ctx, v.Config().Embedding, opts...)
	}
}

// PassResult summarizes one worker pass.
type PassResult struct {
	// Processed counts keys whose records were written or removed.
	Processed int64
	// Released counts keys returned to the queue after a failure.
	Released int64
	// Skipped is set when the vectorizer was inactive or could not start.
	Skipped bool
	// IndexCreated is set when the pass created the vector index.
	IndexCreated bool
}

// Worker drains vectorizer queues: it claims changed keys, re-reads their
// rows, chunks, formats and embeds them, and replaces their records.
type Worker struct {
	vectorizers vectorizer.Store
	errors      vectorizer.ErrorLog
	backend     Backend
	indexer     *Indexer
	embedders   EmbedderFactory
	retry       config.RetryConfig
	retryOpts   []RetryOption
	concurrency int
	logger      *slog.Logger
}

// WorkerOption configures a Worker.
type WorkerOption func(*Worker)

// WithEmbedderFactory sets how providers are created.
func WithEmbedderFactory(f EmbedderFactory) WorkerOption {
	return func(w *Worker) { w.embedders = f }
}

// WithRetryConfig sets the embedding retry policy.
func WithRetryConfig(r config.RetryConfig) WorkerOption {
	return func(w *Worker) { w.retry = r }
}

// WithRetryOptions passes options to every RetryingEmbedder the worker builds.
func WithRetryOptions(opts ...RetryOption) WorkerOption {
	return func(w *Worker) { w.retryOpts = append(w.retryOpts, opts...) }
}

// WithConcurrency overrides the configured number of paths when n > 0.
func WithConcurrency(n int) WorkerOption {
	return func(w *Worker) { w.concurrency = n }
}

// NewWorker creates a new Worker.
func NewWorker(
	vectorizers vectorizer.Store,
	errorLog vectorizer.ErrorLog,
	backend Backend,
	logger *slog.Logger,
	opts ...WorkerOption,
) *Worker {
	if logger == nil {
		logger = slog.Default()
	}
	w := &Worker{
		vectorizers: vectorizers,
		errors:      errorLog,
		backend:     backend,
		embedders:   ProviderFactory(),
		retry:       config.NewRetryConfig(),
		logger:      logger,
	}
	for _, opt := range opts {
		opt(w)
	}
	w.indexer = NewIndexer(backend.Indexes(), logger)
	return w
}

// Run performs one pass over a vectorizer's queue. It returns when the
// queue is empty, ctx is cancelled, or the vectorizer cannot make progress.
// A pass that stopped the vectorizer returns an error wrapping
// vectorizer.ErrFailed; a pass ended by a permanent provider error returns
// one wrapping ErrPassAborted.
func (w *Worker) Run(ctx context.Context, id int64) (PassResult, error) {
	v, err := w.vectorizers.Get(ctx, id)
	if err != nil {
		return PassResult{}, err
	}
	if !v.Active() {
		w.logger.Debug("vectorizer inactive, skipping",
			slog.Int64("vectorizer_id", id),
			slog.Bool("disabled", v.Disabled()),
			slog.Bool("failed", v.Failed()),
		)
		return PassResult{Skipped: true}, nil
	}

	ctx = log.WithPassID(ctx, uuid.NewString())
	logger := w.logger.With(
		slog.Int64("vectorizer_id", v.ID()),
		slog.String("pass_id", log.PassID(ctx)),
	)

	p, err := w.prepare(ctx, v, logger)
	if err != nil {
		switch {
		case errors.Is(err, provider.ErrMissingAPIKey):
			logger.Warn("embedding credentials missing, skipping pass", slog.Any("error", err))
			w.record(ctx, v, err, nil)
			return PassResult{Skipped: true}, nil
		case isConfigError(err):
			return PassResult{}, w.fail(ctx, v, err)
		default:
			return PassResult{}, err
		}
	}
	defer func() {
		if err := p.provider.Close(); err != nil {
			logger.Warn("failed to close provider", slog.Any("error", err))
		}
	}()

	start := time.Now()
	g, gctx := errgroup.WithContext(ctx)
	for range p.paths {
		g.Go(func() error {
			return p.drain(gctx)
		})
	}
	err = g.Wait()

	result := PassResult{
		Processed: p.processed.Load(),
		Released:  p.released.Load(),
	}
	logger.Info("worker pass finished",
		slog.Int64("processed", result.Processed),
		slog.Int64("released", result.Released),
		slog.Int("paths", p.paths),
		slog.Duration("duration", time.Since(start)),
	)
	if err != nil {
		return result, err
	}
	if ctx.Err() != nil {
		return result, nil
	}

	created, err := w.indexer.Check(ctx, v, p.queue, p.store)
	if err != nil {
		logger.Warn("index check failed", slog.Any("error", err))
		w.record(ctx, v, err, nil)
		return result, nil
	}
	result.IndexCreated = created
	return result, nil
}

// prepare builds the pipeline stages for one pass.
func (w *Worker) prepare(ctx context.Context, v vectorizer.Vectorizer, logger *slog.Logger) (*pass, error) {
	cfg := v.Config()
	splitter, err := chunking.New(cfg.Chunking)
	if err != nil {
		return nil, err
	}
	columns, err := w.backend.Inspector().Columns(ctx, v.SourceTable())
	if err != nil {
		return nil, err
	}
	tmpl, err := formatting.New(cfg.Formatting, source.ColumnNames(columns))
	if err != nil {
		return nil, err
	}
	prov, err := w.embedders(ctx, v)
	if err != nil {
		return nil, err
	}

	paths := cfg.Processing.Concurrency
	if w.concurrency > 0 {
		paths = w.concurrency
	}
	return &pass{
		worker:      w,
		vectorizer:  v,
		logger:      logger,
		queue:       w.backend.Queue(v),
		store:       w.backend.Store(v),
		source:      w.backend.Source(v),
		splitter:    splitter,
		template:    tmpl,
		provider:    prov,
		embedder:    NewRetryingEmbedder(prov, w.retry, v.Dimensions(), logger, w.retryOpts...),
		textColumns: v.TextColumns(),
		claimSize:   max(cfg.Processing.BatchSize, 1),
		embedBatch:  max(cfg.Embedding.Settings().BatchSize, 1),
		paths:       max(paths, 1),
	}, nil
}

// fail marks the vectorizer failed so no further passes claim its keys.
func (w *Worker) fail(ctx context.Context, v vectorizer.Vectorizer, cause error) error {
	ctx = context.WithoutCancel(ctx)
	w.logger.Error("vectorizer failed, halting until recovered",
		slog.Int64("vectorizer_id", v.ID()),
		slog.String("name", v.Name()),
		slog.Any("error", cause),
	)
	w.record(ctx, v, cause, map[string]any{"fatal": true})

	current, err := w.vectorizers.Get(ctx, v.ID())
	if err != nil {
		current = v
	}
	if _, err := w.vectorizers.Save(ctx, current.WithFailure(cause.Error(), time.Now())); err != nil {
		return errors.Join(fmt.Errorf("%w: %w", vectorizer.ErrFailed, cause), fmt.Errorf("mark failed: %w", err))
	}
	return fmt.Errorf("%w: %w", vectorizer.ErrFailed, cause)
}

// record appends to the vectorizer's error log. Recording is best effort.
func (w *Worker) record(ctx context.Context, v vectorizer.Vectorizer, cause error, details map[string]any) {
	if w.errors == nil {
		return
	}
	if details == nil {
		details = map[string]any{}
	}
	if id := log.PassID(ctx); id != "" {
		details["pass_id"] = id
	}
	var pe *embedding.ProviderError
	if errors.As(cause, &pe) {
		details["provider"] = pe.Provider()
		details["kind"] = pe.Kind().String()
		if pe.StatusCode() != 0 {
			details["status_code"] = pe.StatusCode()
		}
	}
	record := vectorizer.NewErrorRecord(v.ID(), cause.Error(), details)
	if err := w.errors.Record(context.WithoutCancel(ctx), record); err != nil {
		w.logger.Warn("failed to record vectorizer error",
			slog.Int64("vectorizer_id", v.ID()),
			slog.Any("error", err),
		)
	}
}

// pass holds the stages shared by the paths of one Run.
type pass struct {
	worker      *Worker
	vectorizer  vectorizer.Vectorizer
	logger      *slog.Logger
	queue       queue.Queue
	store       embedding.Store
	source      source.Reader
	splitter    chunking.Splitter
	template    formatting.Template
	provider    provider.Provider
	embedder    embedding.Embedder
	textColumns []string
	claimSize   int
	embedBatch  int
	paths       int

	processed atomic.Int64
	released  atomic.Int64
	failOnce  sync.Once
	failErr   error
}

// drain runs cycles until the queue is empty or the pass must stop.
// Cancellation is checked between cycles only. A cycle that released keys
// ends the path so they are retried by a later pass, not immediately.
func (p *pass) drain(ctx context.Context) error {
	for {
		if ctx.Err() != nil {
			return nil
		}
		more, err := p.cycle(ctx)
		if err != nil || !more {
			return err
		}
	}
}

// cycle claims a batch of keys, processes them and closes the claim. It
// reports whether the path should claim again.
func (p *pass) cycle(ctx context.Context) (bool, error) {
	claim, err := p.queue.Claim(ctx, p.claimSize)
	if err != nil {
		if ctx.Err() != nil {
			return false, nil
		}
		return false, fmt.Errorf("claim: %w", err)
	}
	keys := claim.Keys()
	released := p.released.Load()

	err = p.process(ctx, claim, keys)
	if closeErr := claim.Close(context.WithoutCancel(ctx)); closeErr != nil {
		err = errors.Join(err, fmt.Errorf("close claim: %w", closeErr))
	}
	return len(keys) > 0 && p.released.Load() == released, err
}

// work is one key moving through the pipeline.
type work struct {
	key       source.Key
	chunks    []string
	formatted []string
	vectors   [][]float32
	err       error
}

func (p *pass) process(ctx context.Context, claim queue.Claim, keys []source.Key) error {
	if len(keys) == 0 {
		return nil
	}

	rows, err := p.source.Fetch(ctx, keys)
	if err != nil {
		p.released.Add(int64(len(keys)))
		p.worker.record(ctx, p.vectorizer, err, map[string]any{"keys": keyStrings(keys)})
		return fmt.Errorf("fetch rows: %w", err)
	}

	items := make([]*work, 0, len(keys))
	for _, key := range keys {
		row, ok := rows[key.String()]
		if !ok {
			// The row is gone; drop any records left behind.
			p.complete(ctx, claim, key, func(ctx context.Context) error {
				return p.store.Remove(ctx, key)
			})
			continue
		}
		item, err := p.prepare(row)
		if err != nil {
			return p.abort(ctx, err)
		}
		items = append(items, item)
	}

	if err := p.embed(ctx, items); err != nil {
		// Close returns every unwritten key to the queue.
		p.released.Add(int64(len(items)))
		return err
	}

	for _, item := range items {
		if item.err != nil {
			if err := claim.Release(context.WithoutCancel(ctx), item.key); err != nil {
				p.logger.Warn("failed to release key", slog.String("key", item.key.String()), slog.Any("error", err))
			}
			p.released.Add(1)
			continue
		}
		records := make([]embedding.Record, len(item.chunks))
		for i, chunk := range item.chunks {
			records[i] = embedding.NewRecord(item.key, i, chunk, item.vectors[i])
		}
		p.complete(ctx, claim, item.key, func(ctx context.Context) error {
			return p.store.Replace(ctx, item.key, records)
		})
	}
	return nil
}

// prepare chunks and formats one row.
func (p *pass) prepare(row source.Row) (*work, error) {
	chunks := p.splitter.Split(row.Text(p.textColumns)).Texts()
	item := &work{key: row.Key(), chunks: chunks, formatted: make([]string, len(chunks))}
	for i, chunk := range chunks {
		text, err := p.template.Format(chunk, row)
		if err != nil {
			return nil, err
		}
		item.formatted[i] = text
	}
	return item, nil
}

// slot locates one formatted chunk.
type slot struct {
	item *work
	seq  int
}

// embed computes vectors for every item across batches of the provider's
// batch size. A failing batch marks the items with a chunk in it.
func (p *pass) embed(ctx context.Context, items []*work) error {
	var slots []slot
	for _, item := range items {
		item.vectors = make([][]float32, len(item.chunks))
		for i := range item.formatted {
			slots = append(slots, slot{item: item, seq: i})
		}
	}

	for start := 0; start < len(slots); start += p.embedBatch {
		batch := slots[start:min(start+p.embedBatch, len(slots))]
		if allFailed(batch) {
			continue
		}

		texts := make([]string, len(batch))
		for i, s := range batch {
			texts[i] = s.item.formatted[s.seq]
		}
		vectors, err := p.embedder.Embed(ctx, texts)
		if err == nil {
			for i, s := range batch {
				s.item.vectors[s.seq] = vectors[i]
			}
			continue
		}

		failed := failItems(batch, err)
		switch {
		case ctx.Err() != nil:
			failRemaining(items, ctx.Err())
			return nil
		case isConfigError(err):
			failRemaining(items, err)
			return p.abort(ctx, err)
		case embedding.IsPermanent(err):
			failRemaining(items, err)
			p.logger.Error("permanent embedding failure, ending pass",
				slog.Int("keys", len(failed)),
				slog.Any("error", err),
			)
			p.worker.record(ctx, p.vectorizer, err, map[string]any{"keys": failed})
			return fmt.Errorf("%w: %w", ErrPassAborted, err)
		default:
			p.logger.Warn("embedding batch failed, releasing keys",
				slog.Int("keys", len(failed)),
				slog.Any("error", err),
			)
			p.worker.record(ctx, p.vectorizer, err, map[string]any{"keys": failed})
		}
	}
	return nil
}

// complete writes one key and acknowledges its queue entries atomically.
// The write ignores cancellation so a started cycle finishes.
func (p *pass) complete(ctx context.Context, claim queue.Claim, key source.Key, write func(ctx context.Context) error) {
	ctx = context.WithoutCancel(ctx)
	if err := claim.Complete(ctx, key, write); err != nil {
		p.logger.Warn("failed to store records, releasing key",
			slog.String("key", key.String()),
			slog.Any("error", err),
		)
		p.worker.record(ctx, p.vectorizer, err, map[string]any{"keys": []string{key.String()}})
		if err := claim.Release(ctx, key); err != nil && !errors.Is(err, queue.ErrNotClaimed) {
			p.logger.Warn("failed to release key", slog.String("key", key.String()), slog.Any("error", err))
		}
		p.released.Add(1)
		return
	}
	p.processed.Add(1)
}

// abort marks the vectorizer failed once per pass and returns the error
// that stops every path.
func (p *pass) abort(ctx context.Context, cause error) error {
	p.failOnce.Do(func() {
		p.failErr = p.worker.fail(ctx, p.vectorizer, cause)
	})
	return p.failErr
}

func allFailed(batch []slot) bool {
	for _, s := range batch {
		if s.item.err == nil {
			return false
		}
	}
	return true
}

// failItems marks the batch's items failed and returns their keys.
func failItems(batch []slot, err error) []string {
	var keys []string
	for _, s := range batch {
		if s.item.err == nil {
			s.item.err = err
			keys = append(keys, s.item.key.String())
		}
	}
	return keys
}

func failRemaining(items []*work, err error) {
	for _, item := range items {
		if item.err == nil && !embedded(item) {
			item.err = err
		}
	}
}

// embedded reports whether every chunk of item has a vector.
func embedded(item *work) bool {
	for _, v := range item.vectors {
		if v == nil {
			return false
		}
	}
	return true
}

func keyStrings(keys []source.Key) []string {
	out := make([]string, len(keys))
	for i, k := range keys {
		out[i] = k.String()
	}
	return out
}
