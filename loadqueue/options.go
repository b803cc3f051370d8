package loadqueue

import (
	"log/slog"

	"github.com/meigma/arcext/internal/arctype"
)

// Option configures a Queue.
type Option func(*Queue)

// WithMaxFileSize limits how many bytes a single request may read.
// Larger files are reported as fatal errors. Zero disables the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(q *Queue) {
		q.maxFileSize = limit
	}
}

// WithFatalHandler sets the handler that receives fatal read errors. When
// the handler returns, the failed request is dropped and the worker moves
// on. Defaults to logging the error and panicking.
func WithFatalHandler(h arctype.FatalHandler) Option {
	return func(q *Queue) {
		q.fatal = h
	}
}

// WithLogger sets the logger for queue events.
func WithLogger(logger *slog.Logger) Option {
	return func(q *Queue) {
		q.logger = logger
	}
}
