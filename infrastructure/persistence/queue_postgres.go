package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"

	"gorm.io/gorm"

	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/internal/database"
)

// PostgresQueue implements queue.Queue with row locks and transaction-scoped
// advisory locks. A claim holds its transaction open until Close: deleted
// entries reappear and locks are released if the process dies first.
type PostgresQueue struct {
	db    database.Database
	table string
	pk    []string
}

// NewPostgresQueue creates a queue over table keyed by pk.
func NewPostgresQueue(db database.Database, table string, pk []string) PostgresQueue {
	return PostgresQueue{db: db, table: table, pk: slices.Clone(pk)}
}

// Claim takes up to limit distinct keys no other transaction holds.
func (q PostgresQueue) Claim(ctx context.Context, limit int) (queue.Claim, error) {
	// The claim outlives the caller's cancellation; Close ends it.
	tx, err := database.NewTransaction(context.WithoutCancel(ctx), q.db)
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.table, err)
	}

	keys, err := q.lockKeys(ctx, tx.Session(ctx), limit)
	if err != nil {
		_ = tx.Rollback()
		return nil, fmt.Errorf("claim %s: %w", q.table, err)
	}
	if len(keys) == 0 {
		if err := tx.Commit(); err != nil {
			return nil, err
		}
		return emptyClaim{}, nil
	}
	return &postgresClaim{queue: q, tx: tx, tracker: queue.NewTracker(keys)}, nil
}

func (q PostgresQueue) lockKeys(ctx context.Context, session *gorm.DB, limit int) ([]source.Key, error) {
	cols := database.QuoteIdents(q.pk)
	table := database.QuoteIdent(q.table)

	rows, err := session.Raw(
		fmt.Sprintf(`SELECT %s FROM %s ORDER BY queue_id LIMIT ? FOR UPDATE SKIP LOCKED`, cols, table),
		limit,
	).Rows()
	if err != nil {
		return nil, fmt.Errorf("select entries: %w", err)
	}
	candidates, err := scanKeys(rows, len(q.pk))
	if err != nil {
		return nil, err
	}
	if len(candidates) == 0 {
		return nil, nil
	}
	slices.SortFunc(candidates, func(a, b source.Key) int {
		switch {
		case a.String() < b.String():
			return -1
		case a.String() > b.String():
			return 1
		}
		return 0
	})

	var oid int32
	if err := session.Raw(`SELECT ?::regclass::oid::int`, table).Scan(&oid).Error; err != nil {
		return nil, fmt.Errorf("resolve queue oid: %w", err)
	}

	deleteSQL := fmt.Sprintf(
		`DELETE FROM %[1]s WHERE queue_id IN (SELECT queue_id FROM %[1]s WHERE %[2]s FOR UPDATE SKIP LOCKED)`,
		table, keyMatch(q.pk, ""),
	)

	var won []source.Key
	for _, key := range candidates {
		var locked bool
		err := session.Raw(`SELECT pg_try_advisory_xact_lock(?, hashtext(?))`, oid, key.String()).Scan(&locked).Error
		if err != nil {
			return nil, fmt.Errorf("lock key %s: %w", key, err)
		}
		if !locked {
			continue
		}
		// Entries another claimer has row-locked are skipped; they stay
		// queued and the key is simply processed again later.
		if err := session.Exec(deleteSQL, key.Values()...).Error; err != nil {
			return nil, fmt.Errorf("delete entries for %s: %w", key, err)
		}
		won = append(won, key)
	}
	return won, nil
}

// Enqueue appends entries for keys.
func (q PostgresQueue) Enqueue(ctx context.Context, keys []source.Key) error {
	if len(keys) == 0 {
		return nil
	}
	stmt, args := insertKeysSQL(q.table, q.pk, keys)
	if err := q.db.Session(ctx).Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("enqueue %s: %w", q.table, err)
	}
	return nil
}

// Depth returns the exact number of queued entries.
func (q PostgresQueue) Depth(ctx context.Context) (int64, error) {
	return countEntries(ctx, q.db, q.table)
}

// DepthCapped counts entries up to limit.
func (q PostgresQueue) DepthCapped(ctx context.Context, limit int64) (int64, error) {
	return countEntriesCapped(ctx, q.db, q.table, limit)
}

type postgresClaim struct {
	mu      sync.Mutex
	queue   PostgresQueue
	tx      *database.Transaction
	tracker *queue.Tracker
}

func (c *postgresClaim) Keys() []source.Key {
	return c.tracker.Keys()
}

// Complete runs write in a savepoint of the claim transaction. The entries
// were deleted at claim time, so committing the claim acknowledges the key.
func (c *postgresClaim) Complete(ctx context.Context, key source.Key, write func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tracker.Check(key); err != nil {
		return err
	}
	txCtx := database.ContextWithTx(ctx, c.tx.Session(ctx))
	err := database.WithTransaction(txCtx, c.queue.db, func(ctx context.Context, _ *gorm.DB) error {
		return write(ctx)
	})
	if err != nil {
		return err
	}
	c.tracker.Resolve(key)
	return nil
}

// Release re-inserts the key inside the claim transaction.
func (c *postgresClaim) Release(ctx context.Context, key source.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release(ctx, key)
}

func (c *postgresClaim) release(ctx context.Context, key source.Key) error {
	if err := c.tracker.Check(key); err != nil {
		return err
	}
	stmt, args := insertKeysSQL(c.queue.table, c.queue.pk, []source.Key{key})
	if err := c.tx.Session(ctx).Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	c.tracker.Resolve(key)
	return nil
}

// Close releases unresolved keys and commits. If that fails the whole claim
// rolls back, which restores every entry.
func (c *postgresClaim) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.tx.Finished() {
		return nil
	}
	ctx = context.WithoutCancel(ctx)
	for _, key := range c.tracker.Unresolved() {
		if err := c.release(ctx, key); err != nil {
			return errors.Join(err, c.tx.Rollback())
		}
	}
	if err := c.tx.Commit(); err != nil {
		return errors.Join(err, c.tx.Rollback())
	}
	return nil
}

func countEntries(ctx context.Context, db database.Database, table string) (int64, error) {
	var n int64
	err := db.Session(ctx).Raw(fmt.Sprintf(`SELECT count(*) FROM %s`, database.QuoteIdent(table))).Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}

func countEntriesCapped(ctx context.Context, db database.Database, table string, limit int64) (int64, error) {
	var n int64
	err := db.Session(ctx).Raw(
		fmt.Sprintf(`SELECT count(*) FROM (SELECT 1 FROM %s LIMIT ?) AS capped`, database.QuoteIdent(table)),
		limit,
	).Scan(&n).Error
	if err != nil {
		return 0, fmt.Errorf("count %s: %w", table, err)
	}
	return n, nil
}
