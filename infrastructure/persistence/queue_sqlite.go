package persistence

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sync"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/helixml/vecsync/domain/queue"
	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/internal/database"
)

// DefaultLeaseTTL bounds how long a crashed SQLite worker keeps its keys.
const DefaultLeaseTTL = 10 * time.Minute

// SQLiteQueue implements queue.Queue with leases: a claim stamps entries with
// a token and an expiry instead of holding locks. Expired leases are
// claimable again.
type SQLiteQueue struct {
	db    database.Database
	table string
	pk    []string
	lease time.Duration
	now   func() time.Time
}

// SQLiteQueueOption configures a SQLiteQueue.
type SQLiteQueueOption func(*SQLiteQueue)

// WithLeaseTTL sets the lease duration.
func WithLeaseTTL(d time.Duration) SQLiteQueueOption {
	return func(q *SQLiteQueue) {
		if d > 0 {
			q.lease = d
		}
	}
}

// WithClock sets the time source used for lease stamps.
func WithClock(now func() time.Time) SQLiteQueueOption {
	return func(q *SQLiteQueue) {
		if now != nil {
			q.now = now
		}
	}
}

// NewSQLiteQueue creates a queue over table keyed by pk.
func NewSQLiteQueue(db database.Database, table string, pk []string, opts ...SQLiteQueueOption) SQLiteQueue {
	q := SQLiteQueue{db: db, table: table, pk: slices.Clone(pk), lease: DefaultLeaseTTL, now: time.Now}
	for _, opt := range opts {
		opt(&q)
	}
	return q
}

// Claim leases up to limit distinct keys that carry no live lease.
func (q SQLiteQueue) Claim(ctx context.Context, limit int) (queue.Claim, error) {
	token := uuid.NewString()
	now := q.now().UnixMilli()
	until := q.now().Add(q.lease).UnixMilli()

	table := database.QuoteIdent(q.table)
	cols := database.QuoteIdents(q.pk)
	stmt := fmt.Sprintf(`UPDATE %[1]s SET claimed_by = ?, claimed_until = ?
WHERE (claimed_until IS NULL OR claimed_until < ?)
  AND (%[2]s) IN (
    SELECT %[2]s FROM %[1]s AS c
    WHERE (c.claimed_until IS NULL OR c.claimed_until < ?)
      AND NOT EXISTS (
        SELECT 1 FROM %[1]s AS o WHERE %[3]s AND o.claimed_until >= ?
      )
    GROUP BY %[2]s
    ORDER BY min(c.queue_id)
    LIMIT ?
  )
RETURNING %[2]s`, table, cols, keyJoin(q.pk, "o", "c"))

	rows, err := q.db.Session(ctx).Raw(stmt, token, until, now, now, now, limit).Rows()
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.table, err)
	}
	keys, err := scanKeys(rows, len(q.pk))
	if err != nil {
		return nil, fmt.Errorf("claim %s: %w", q.table, err)
	}
	if len(keys) == 0 {
		return emptyClaim{}, nil
	}
	return &sqliteClaim{queue: q, token: token, tracker: queue.NewTracker(keys)}, nil
}

// Enqueue appends entries for keys.
func (q SQLiteQueue) Enqueue(ctx context.Context, keys []source.Key) error {
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
func (q SQLiteQueue) Depth(ctx context.Context) (int64, error) {
	return countEntries(ctx, q.db, q.table)
}

// DepthCapped counts entries up to limit.
func (q SQLiteQueue) DepthCapped(ctx context.Context, limit int64) (int64, error) {
	return countEntriesCapped(ctx, q.db, q.table, limit)
}

type sqliteClaim struct {
	mu      sync.Mutex
	queue   SQLiteQueue
	token   string
	tracker *queue.Tracker
}

func (c *sqliteClaim) Keys() []source.Key {
	return c.tracker.Keys()
}

// Complete runs write and deletes the leased entries in one transaction.
// Entries enqueued after the claim carry no token and survive.
func (c *sqliteClaim) Complete(ctx context.Context, key source.Key, write func(ctx context.Context) error) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.tracker.Check(key); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`DELETE FROM %s WHERE claimed_by = ? AND %s`,
		database.QuoteIdent(c.queue.table), keyMatch(c.queue.pk, ""))
	args := append([]any{c.token}, key.Values()...)

	err := database.WithTransaction(ctx, c.queue.db, func(ctx context.Context, tx *gorm.DB) error {
		if err := write(ctx); err != nil {
			return err
		}
		return tx.Exec(stmt, args...).Error
	})
	if err != nil {
		return err
	}
	c.tracker.Resolve(key)
	return nil
}

// Release clears the lease so the key is claimable immediately.
func (c *sqliteClaim) Release(ctx context.Context, key source.Key) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.release(ctx, key)
}

func (c *sqliteClaim) release(ctx context.Context, key source.Key) error {
	if err := c.tracker.Check(key); err != nil {
		return err
	}
	stmt := fmt.Sprintf(`UPDATE %s SET claimed_by = NULL, claimed_until = NULL WHERE claimed_by = ? AND %s`,
		database.QuoteIdent(c.queue.table), keyMatch(c.queue.pk, ""))
	args := append([]any{c.token}, key.Values()...)
	if err := c.queue.db.Session(ctx).Exec(stmt, args...).Error; err != nil {
		return fmt.Errorf("release %s: %w", key, err)
	}
	c.tracker.Resolve(key)
	return nil
}

// Close releases unresolved keys. Keys it cannot release stay leased until
// the lease expires.
func (c *sqliteClaim) Close(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	ctx = context.WithoutCancel(ctx)
	var errs []error
	for _, key := range c.tracker.Unresolved() {
		if err := c.release(ctx, key); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
