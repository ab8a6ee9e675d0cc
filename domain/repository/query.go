// Package repository defines the query options shared by the catalog stores.
package repository

// Option narrows or orders a catalog lookup.
type Option func(Query) Query

// Query collects filters, ordering and a row limit.
type Query struct {
	filters []Filter
	orders  []string
	limit   int
}

// Build folds options into a Query.
func Build(options ...Option) Query {
	var q Query
	for _, opt := range options {
		q = opt(q)
	}
	return q
}

// Filters returns a copy of the query's filters.
func (q Query) Filters() []Filter {
	return append([]Filter(nil), q.filters...)
}

// Orders returns the ORDER BY terms in priority order.
func (q Query) Orders() []string {
	return append([]string(nil), q.orders...)
}

// Limit returns the row limit, 0 for none.
func (q Query) Limit() int { return q.limit }

// Filter is a WHERE expression with its bind arguments.
type Filter struct {
	expr string
	args []any
}

// Expr returns the SQL expression.
func (f Filter) Expr() string { return f.expr }

// Args returns the bind arguments.
func (f Filter) Args() []any { return f.args }

// WithWhere adds a SQL expression with bind arguments.
func WithWhere(expr string, args ...any) Option {
	return func(q Query) Query {
		q.filters = append(q.filters, Filter{expr: expr, args: args})
		return q
	}
}

// WithCondition adds a column = value filter.
func WithCondition(column string, value any) Option {
	return WithWhere(column+" = ?", value)
}

// WithID filters by primary key.
func WithID(id int64) Option {
	return WithCondition("id", id)
}

// WithLimit caps the number of rows returned.
func WithLimit(n int) Option {
	return func(q Query) Query {
		q.limit = n
		return q
	}
}

// WithOrderAsc sorts ascending on a column.
func WithOrderAsc(column string) Option {
	return withOrder(column + " ASC")
}

// WithOrderDesc sorts descending on a column.
func WithOrderDesc(column string) Option {
	return withOrder(column + " DESC")
}

func withOrder(term string) Option {
	return func(q Query) Query {
		q.orders = append(q.orders, term)
		return q
	}
}
