package persistence

import (
	"context"
	"fmt"

	"github.com/helixml/vecsync/domain/source"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/internal/database"
)

// SourceInspector implements source.Inspector with the GORM migrator.
type SourceInspector struct {
	db database.Database
}

// NewSourceInspector creates a new SourceInspector.
func NewSourceInspector(db database.Database) SourceInspector {
	return SourceInspector{db: db}
}

// Columns returns the table's columns in table order. A missing table is a
// configuration error.
func (i SourceInspector) Columns(ctx context.Context, table string) ([]source.Column, error) {
	migrator := i.db.Session(ctx).Migrator()
	if !migrator.HasTable(table) {
		return nil, fmt.Errorf("%w: source table %s does not exist", vectorizer.ErrInvalidConfig, table)
	}

	types, err := migrator.ColumnTypes(table)
	if err != nil {
		return nil, fmt.Errorf("inspect %s: %w", table, err)
	}

	columns := make([]source.Column, 0, len(types))
	for _, ct := range types {
		dbType, ok := ct.ColumnType()
		if !ok || dbType == "" {
			dbType = ct.DatabaseTypeName()
		}
		pk, _ := ct.PrimaryKey()
		columns = append(columns, source.NewColumn(ct.Name(), dbType, pk))
	}
	return columns, nil
}
