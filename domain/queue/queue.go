// Package queue defines the change-capture work queue: a durable backlog of
// source keys whose embeddings may be stale.
package queue

import (
	"context"
	"errors"

	"github.com/helixml/vecsync/domain/source"
)

// DefaultDepthCap bounds cheap pending-count checks.
const DefaultDepthCap = 10000

// Queue table bookkeeping columns. Source key columns are mirrored next to
// them, so no key column may use these names.
const (
	ColumnID           = "queue_id"
	ColumnQueuedAt     = "queued_at"
	ColumnClaimedBy    = "claimed_by"
	ColumnClaimedUntil = "claimed_until"
)

// Columns returns the queue's own column names.
func Columns() []string {
	return []string{ColumnID, ColumnQueuedAt, ColumnClaimedBy, ColumnClaimedUntil}
}

// ErrNotClaimed is returned when completing or releasing a key the claim
// does not hold, or one that was already resolved.
var ErrNotClaimed = errors.New("key not held by claim")

// Queue is one vectorizer's work queue.
type Queue interface {
	// Claim atomically takes up to limit distinct keys that no other worker
	// holds. An empty claim means the backlog is drained.
	Claim(ctx context.Context, limit int) (Claim, error)

	// Enqueue appends entries for keys, as the capture triggers do.
	Enqueue(ctx context.Context, keys []source.Key) error

	// Depth returns the exact number of queued entries.
	Depth(ctx context.Context) (int64, error)

	// DepthCapped counts entries up to limit.
	DepthCapped(ctx context.Context, limit int64) (int64, error)
}

// Claim is exclusive ownership of a set of keys. Every key must end up
// completed or released; Close releases whatever is left.
type Claim interface {
	// Keys returns the claimed keys.
	Keys() []source.Key

	// Complete runs write in a transaction together with removal of the
	// key's claimed entries. If write fails nothing is committed and the key
	// stays claimed until released.
	Complete(ctx context.Context, key source.Key, write func(ctx context.Context) error) error

	// Release returns the key to the queue for a later pass.
	Release(ctx context.Context, key source.Key) error

	// Close releases unresolved keys and ends the claim.
	Close(ctx context.Context) error
}

// Tracker records per-key resolution so claim implementations can reject
// double completion and find unresolved keys on Close.
type Tracker struct {
	keys     []source.Key
	resolved map[string]bool
}

// NewTracker creates a Tracker for keys.
func NewTracker(keys []source.Key) *Tracker {
	resolved := make(map[string]bool, len(keys))
	for _, k := range keys {
		resolved[k.String()] = false
	}
	return &Tracker{keys: keys, resolved: resolved}
}

// Keys returns the tracked keys.
func (t *Tracker) Keys() []source.Key {
	out := make([]source.Key, len(t.keys))
	copy(out, t.keys)
	return out
}

// Check returns ErrNotClaimed unless key is held and unresolved.
func (t *Tracker) Check(key source.Key) error {
	done, ok := t.resolved[key.String()]
	if !ok || done {
		return ErrNotClaimed
	}
	return nil
}

// Resolve marks key as completed or released.
func (t *Tracker) Resolve(key source.Key) {
	t.resolved[key.String()] = true
}

// Unresolved returns keys neither completed nor released.
func (t *Tracker) Unresolved() []source.Key {
	var out []source.Key
	for _, k := range t.keys {
		if !t.resolved[k.String()] {
			out = append(out, k)
		}
	}
	return out
}
