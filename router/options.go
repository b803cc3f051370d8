package router

import (
	"log/slog"
	"strings"

	"github.com/meigma/arcext/internal/arctype"
)

// Option configures a Router.
type Option func(*Router)

// WithRegistrationExtensions replaces the set of file extensions whose
// paths are added to the archive on attach. Extensions are matched
// case-insensitively and may be given with or without the leading dot.
func WithRegistrationExtensions(exts ...string) Option {
	return func(r *Router) {
		r.regExts = make(map[string]struct{}, len(exts))
		for _, ext := range exts {
			ext = strings.ToLower(strings.TrimSpace(ext))
			if ext == "" {
				continue
			}
			if !strings.HasPrefix(ext, ".") {
				ext = "." + ext
			}
			r.regExts[ext] = struct{}{}
		}
	}
}

// WithPreregisterOn makes attaching module register the registration paths
// of every manifest module in one batch.
func WithPreregisterOn(module string) Option {
	return func(r *Router) {
		r.preregisterOn = module
	}
}

// WithPlainConsumer sets the consumer for completed reads the archive does
// not know. Without one such reads are fatal configuration errors.
func WithPlainConsumer(fn PlainConsumer) Option {
	return func(r *Router) {
		r.plain = fn
	}
}

// WithFatalHandler sets the handler for fatal errors raised while routing
// completions on the queue worker. Defaults to logging and panicking.
func WithFatalHandler(h arctype.FatalHandler) Option {
	return func(r *Router) {
		r.fatal = h
	}
}

// WithLogger sets the logger for lifecycle events.
func WithLogger(logger *slog.Logger) Option {
	return func(r *Router) {
		r.logger = logger
	}
}
