// Package testutil provides shared helpers for arcext tests.
package testutil

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/meigma/arcext/internal/hash40"
)

// WriteFiles creates each file under root, creating parent directories.
// Keys are slash-separated paths relative to root.
func WriteFiles(tb testing.TB, root string, files map[string]string) {
	tb.Helper()
	for rel, content := range files {
		full := filepath.Join(root, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(full), 0o755); err != nil {
			tb.Fatalf("mkdir %s: %v", filepath.Dir(full), err)
		}
		if err := os.WriteFile(full, []byte(content), 0o644); err != nil { //nolint:gosec // test fixture
			tb.Fatalf("write %s: %v", full, err)
		}
	}
}

// SeedHashes returns n distinct path hashes for pre-existing host entries.
func SeedHashes(n int) []uint64 {
	out := make([]uint64, n)
	for i := range out {
		out[i] = hash40.Of(fmt.Sprintf("rom:/host/seed_%04d.bin", i))
	}
	return out
}

// FatalRecorder collects errors passed to a fatal handler instead of
// terminating the process. It is safe for concurrent use.
type FatalRecorder struct {
	mu   sync.Mutex
	errs []error
}

// Handle records err.
func (r *FatalRecorder) Handle(err error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.errs = append(r.errs, err)
}

// Errors returns a copy of the recorded errors.
func (r *FatalRecorder) Errors() []error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]error(nil), r.errs...)
}

// Len returns the number of recorded errors.
func (r *FatalRecorder) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.errs)
}

// Collector records handler invocations in order. It is safe for
// concurrent use.
type Collector struct {
	mu    sync.Mutex
	paths []string
	data  map[string][]byte
}

// NewCollector returns an empty Collector.
func NewCollector() *Collector {
	return &Collector{data: make(map[string][]byte)}
}

// Handle records one completion.
func (c *Collector) Handle(path string, data []byte) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.paths = append(c.paths, path)
	c.data[path] = data
}

// Paths returns the completed paths in invocation order.
func (c *Collector) Paths() []string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.paths...)
}

// Data returns the bytes delivered for path.
func (c *Collector) Data(path string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	d, ok := c.data[path]
	return d, ok
}
