package repository

// WithName filters by the "name" column.
func WithName(name string) Option {
	return WithCondition("name", name)
}

// WithVectorizerID filters by the "vectorizer_id" column.
func WithVectorizerID(id int64) Option {
	return WithCondition("vectorizer_id", id)
}

// WithActive filters for rows that are neither disabled nor failed.
func WithActive() Option {
	return WithWhere("disabled = ? AND failed_at IS NULL", false)
}
