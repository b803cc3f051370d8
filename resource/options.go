package resource

import (
	"log/slog"

	"github.com/opencontainers/go-digest"
	// Registers digest.BLAKE3 so it can be selected with WithDigestAlgorithm.
	// BUILD: disabled because github.com/opencontainers/go-digest/blake3 is not
	// resolvable through the module proxy (403); see BUILD_FLAGS.json.
	// _ "github.com/opencontainers/go-digest/blake3"
)

// Option configures a Table.
type Option func(*Table)

// WithDigestAlgorithm sets the algorithm used to digest loaded buffers.
// Defaults to digest.Canonical (sha256). digest.BLAKE3 is also available.
func WithDigestAlgorithm(algo digest.Algorithm) Option {
	return func(t *Table) {
		if algo != "" {
			t.algo = algo
		}
	}
}

// WithLogger sets the logger for load and unload events.
func WithLogger(logger *slog.Logger) Option {
	return func(t *Table) {
		t.logger = logger
	}
}
