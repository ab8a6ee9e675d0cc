package database

import (
	"context"
	"fmt"

	"gorm.io/gorm"
)

type txKey struct{}

// ContextWithTx returns a context whose Database.Session calls join tx.
func ContextWithTx(ctx context.Context, tx *gorm.DB) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

func txFromContext(ctx context.Context) (*gorm.DB, bool) {
	tx, ok := ctx.Value(txKey{}).(*gorm.DB)
	return tx, ok && tx != nil
}

// Transaction wraps a GORM transaction that outlives a single function call,
// such as a queue claim held open until its keys are acknowledged.
type Transaction struct {
	tx       *gorm.DB
	finished bool
}

// NewTransaction starts a new database transaction.
func NewTransaction(ctx context.Context, db Database) (*Transaction, error) {
	tx := db.Session(ctx).Begin()
	if tx.Error != nil {
		return nil, fmt.Errorf("begin transaction: %w", tx.Error)
	}
	return &Transaction{tx: tx}, nil
}

// Session returns the transaction session bound to ctx.
func (t *Transaction) Session(ctx context.Context) *gorm.DB {
	return t.tx.WithContext(ctx)
}

// Finished reports whether the transaction was committed or rolled back.
func (t *Transaction) Finished() bool {
	return t.finished
}

// Commit commits the transaction.
func (t *Transaction) Commit() error {
	if t.finished {
		return nil
	}
	t.finished = true
	if err := t.tx.Commit().Error; err != nil {
		return fmt.Errorf("commit transaction: %w", err)
	}
	return nil
}

// Rollback rolls back the transaction if not already finished.
func (t *Transaction) Rollback() error {
	if t.finished {
		return nil
	}
	t.finished = true
	if err := t.tx.Rollback().Error; err != nil {
		return fmt.Errorf("rollback transaction: %w", err)
	}
	return nil
}

// WithTransaction executes fn within a transaction, committing on success or
// rolling back on error. Inside an existing transaction (ctx carries one) it
// runs in a savepoint instead.
func WithTransaction(ctx context.Context, db Database, fn func(ctx context.Context, tx *gorm.DB) error) error {
	return db.Session(ctx).Transaction(func(tx *gorm.DB) error {
		return fn(ContextWithTx(ctx, tx), tx)
	})
}

// WithTransactionResult executes fn within a transaction, returning the result on success.
func WithTransactionResult[T any](ctx context.Context, db Database, fn func(ctx context.Context, tx *gorm.DB) (T, error)) (T, error) {
	var result T
	err := WithTransaction(ctx, db, func(ctx context.Context, tx *gorm.DB) error {
		var err error
		result, err = fn(ctx, tx)
		return err
	})
	return result, err
}
