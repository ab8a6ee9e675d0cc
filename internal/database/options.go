package database

import (
	"gorm.io/gorm"

	"github.com/helixml/vecsync/domain/repository"
)

// ApplyOptions applies filters, ordering and limit to a GORM session.
func ApplyOptions(db *gorm.DB, options ...repository.Option) *gorm.DB {
	q := repository.Build(options...)
	db = applyFilters(db, q)
	for _, term := range q.Orders() {
		db = db.Order(term)
	}
	if q.Limit() > 0 {
		db = db.Limit(q.Limit())
	}
	return db
}

// ApplyConditions applies only the filters, for COUNT and DELETE.
func ApplyConditions(db *gorm.DB, options ...repository.Option) *gorm.DB {
	return applyFilters(db, repository.Build(options...))
}

func applyFilters(db *gorm.DB, q repository.Query) *gorm.DB {
	for _, f := range q.Filters() {
		db = db.Where(f.Expr(), f.Args()...)
	}
	return db
}
