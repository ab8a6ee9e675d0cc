package service

import (
	"errors"

	"github.com/helixml/vecsync/domain/embedding"
	"github.com/helixml/vecsync/domain/vectorizer"
	"github.com/helixml/vecsync/infrastructure/formatting"
)

// ErrClientClosed indicates the client has been closed.
var ErrClientClosed = errors.New("vecsync: client is closed")

// ErrPassAborted indicates a worker pass stopped early because the
// vectorizer cannot make progress, for example after a permanent provider
// error. The affected keys were released.
var ErrPassAborted = errors.New("worker pass aborted")

// isConfigError reports whether err is a per-vectorizer configuration error
// that must mark the vectorizer failed instead of being retried.
func isConfigError(err error) bool {
	return errors.Is(err, vectorizer.ErrInvalidConfig) ||
		errors.Is(err, embedding.ErrDimensionMismatch) ||
		errors.Is(err, formatting.ErrUnknownPlaceholder) ||
		errors.Is(err, formatting.ErrEmptyOutput)
}
