package vectorizer

import "errors"

var (
	// ErrInvalidConfig indicates a definition that cannot be turned into a pipeline.
	ErrInvalidConfig = errors.New("invalid vectorizer configuration")

	// ErrExists indicates a vectorizer with the same name is already registered.
	ErrExists = errors.New("vectorizer already exists")

	// ErrNotFound indicates no vectorizer matched the lookup.
	ErrNotFound = errors.New("vectorizer not found")

	// ErrFailed indicates the vectorizer was stopped by a configuration error
	// and must be recovered before it is processed again.
	ErrFailed = errors.New("vectorizer failed")
)
