package persistence

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
	"gorm.io/gorm"

	"github.com/helixml/vecsync/domain/repository"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// PostgreSQL SQLSTATE codes.
const (
	pgUniqueViolation = "23505"
	pgDuplicateTable  = "42P07"
)

// VectorizerStore implements vectorizer.Store using GORM.
type VectorizerStore struct {
	database.Repository[vectorizer.Vectorizer, VectorizerModel]
}

// NewVectorizerStore creates a new VectorizerStore.
func NewVectorizerStore(db database.Database) VectorizerStore {
	return VectorizerStore{
		Repository: database.NewRepository[vectorizer.Vectorizer, VectorizerModel](db, VectorizerMapper{}, "vectorizer"),
	}
}

// Save creates or updates a vectorizer. A duplicate name fails with
// vectorizer.ErrExists.
func (s VectorizerStore) Save(ctx context.Context, v vectorizer.Vectorizer) (vectorizer.Vectorizer, error) {
	model, err := s.Mapper().ToModel(v)
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}

	var result *gorm.DB
	if v.ID() == 0 {
		result = s.DB(ctx).Create(&model)
	} else {
		result = s.DB(ctx).Save(&model)
	}
	if result.Error != nil {
		if isUniqueViolation(result.Error) {
			return vectorizer.Vectorizer{}, fmt.Errorf("%w: %s", vectorizer.ErrExists, v.Name())
		}
		return vectorizer.Vectorizer{}, fmt.Errorf("save vectorizer: %w", result.Error)
	}
	return s.Mapper().ToDomain(model)
}

// Get returns the vectorizer with id.
func (s VectorizerStore) Get(ctx context.Context, id int64) (vectorizer.Vectorizer, error) {
	v, err := s.FindOne(ctx, repository.WithID(id))
	if err != nil {
		return vectorizer.Vectorizer{}, err
	}
	return v, nil
}

// FindOne returns the first matching vectorizer or vectorizer.ErrNotFound.
func (s VectorizerStore) FindOne(ctx context.Context, options ...repository.Option) (vectorizer.Vectorizer, error) {
	v, err := s.Repository.FindOne(ctx, options...)
	if errors.Is(err, database.ErrNotFound) {
		return vectorizer.Vectorizer{}, fmt.Errorf("%w: %w", vectorizer.ErrNotFound, err)
	}
	return v, err
}

// Delete removes a vectorizer.
func (s VectorizerStore) Delete(ctx context.Context, v vectorizer.Vectorizer) error {
	result := s.DB(ctx).Delete(&VectorizerModel{}, v.ID())
	if result.Error != nil {
		return fmt.Errorf("delete vectorizer: %w", result.Error)
	}
	return nil
}

// ErrorLogStore implements vectorizer.ErrorLog using GORM.
type ErrorLogStore struct {
	database.Repository[vectorizer.ErrorRecord, VectorizerErrorModel]
}

// NewErrorLogStore creates a new ErrorLogStore.
func NewErrorLogStore(db database.Database) ErrorLogStore {
	return ErrorLogStore{
		Repository: database.NewRepository[vectorizer.ErrorRecord, VectorizerErrorModel](db, ErrorRecordMapper{}, "vectorizer error"),
	}
}

// Record appends an error record.
func (s ErrorLogStore) Record(ctx context.Context, record vectorizer.ErrorRecord) error {
	model, err := s.Mapper().ToModel(record)
	if err != nil {
		return err
	}
	if err := s.DB(ctx).Create(&model).Error; err != nil {
		return fmt.Errorf("record vectorizer error: %w", err)
	}
	return nil
}

// Find returns the newest records for a vectorizer, newest first.
func (s ErrorLogStore) Find(ctx context.Context, vectorizerID int64, limit int) ([]vectorizer.ErrorRecord, error) {
	options := []repository.Option{
		repository.WithVectorizerID(vectorizerID),
		repository.WithOrderDesc("recorded_at"),
		repository.WithOrderDesc("id"),
	}
	if limit > 0 {
		options = append(options, repository.WithLimit(limit))
	}
	return s.Repository.Find(ctx, options...)
}

// DeleteFor removes every record of a vectorizer.
func (s ErrorLogStore) DeleteFor(ctx context.Context, vectorizerID int64) error {
	return s.DeleteBy(ctx, repository.WithVectorizerID(vectorizerID))
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == pgUniqueViolation
	}
	return errors.Is(err, gorm.ErrDuplicatedKey) ||
		strings.Contains(err.Error(), "UNIQUE constraint failed")
}
