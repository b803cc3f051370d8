package archive

import (
	"fmt"
	"log/slog"
	"os"
)

// defaultProbeWorkers bounds concurrent size probes during Extend.
const defaultProbeWorkers = 8

// Sizer measures the byte length of a source file named by an archive path.
type Sizer interface {
	Size(path string) (uint64, error)
}

// SizerFunc adapts a function to the Sizer interface.
type SizerFunc func(path string) (uint64, error)

// Size calls f(path).
func (f SizerFunc) Size(path string) (uint64, error) { return f(path) }

// OSSizer measures paths directly on the local filesystem.
var OSSizer Sizer = SizerFunc(func(path string) (uint64, error) {
	info, err := os.Stat(path)
	if err != nil {
		return 0, err
	}
	if !info.Mode().IsRegular() {
		return 0, fmt.Errorf("%s is not a regular file", path)
	}
	return uint64(info.Size()), nil //nolint:gosec // regular file sizes are non-negative
})

// Option configures an Index.
type Option func(*Index)

// WithSizer sets how Extend measures new source files. Defaults to OSSizer.
func WithSizer(s Sizer) Option {
	return func(idx *Index) {
		if s != nil {
			idx.sizer = s
		}
	}
}

// WithProbeConcurrency bounds how many sources Extend measures at once.
// Values <= 0 measure serially.
func WithProbeConcurrency(n int) Option {
	return func(idx *Index) {
		idx.probeWorkers = n
	}
}

// WithLogger sets the logger for extension events.
func WithLogger(logger *slog.Logger) Option {
	return func(idx *Index) {
		idx.logger = logger
	}
}
