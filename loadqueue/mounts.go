package loadqueue

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/meigma/arcext/internal/arctype"
)

// schemeSep separates the mount scheme from the mount-relative path.
const schemeSep = ":/"

// Mounts maps path schemes such as "rom" or "sd" to host directories.
type Mounts struct {
	dirs map[string]string
}

// NewMounts builds a mount table from scheme → directory pairs. Schemes are
// given without the ":/" suffix. Directories are made absolute.
func NewMounts(dirs map[string]string) (*Mounts, error) {
	m := &Mounts{dirs: make(map[string]string, len(dirs))}
	for scheme, dir := range dirs {
		if scheme == "" || strings.ContainsAny(scheme, ":/\\") {
			return nil, fmt.Errorf("loadqueue: invalid mount scheme %q", scheme)
		}
		if dir == "" {
			return nil, fmt.Errorf("loadqueue: mount %q has no directory", scheme)
		}
		abs, err := filepath.Abs(dir)
		if err != nil {
			return nil, fmt.Errorf("loadqueue: mount %q: %w", scheme, err)
		}
		m.dirs[scheme] = abs
	}
	return m, nil
}

// Schemes returns the configured schemes in sorted order.
func (m *Mounts) Schemes() []string {
	out := make([]string, 0, len(m.dirs))
	for s := range m.dirs {
		out = append(out, s)
	}
	slices.Sort(out)
	return out
}

// SplitPath splits "scheme:/rel/path" into its scheme and a normalized
// slash-separated relative path. ok is false if path has no scheme.
func SplitPath(path string) (scheme, rel string, ok bool) {
	i := strings.Index(path, schemeSep)
	if i <= 0 {
		return "", "", false
	}
	return path[:i], normalize(path[i+len(schemeSep):]), true
}

// normalize trims leading and trailing slashes and collapses repeated ones.
// "." and ".." elements are kept so fs.ValidPath can reject them.
func normalize(p string) string {
	p = strings.Trim(p, "/")
	if p == "" {
		return "."
	}
	parts := strings.Split(p, "/")
	kept := parts[:0]
	for _, part := range parts {
		if part != "" {
			kept = append(kept, part)
		}
	}
	return strings.Join(kept, "/")
}

// Resolve maps an archive path to a host filesystem path.
//
// Unknown schemes and paths that would escape the mount directory return a
// fatal configuration error wrapping ErrInvalidMount.
func (m *Mounts) Resolve(path string) (string, error) {
	scheme, rel, ok := SplitPath(path)
	if !ok {
		return "", arctype.Fatal(arctype.KindConfig, "resolve", path, arctype.ErrInvalidMount)
	}
	dir, ok := m.dirs[scheme]
	if !ok {
		return "", arctype.Fatal(arctype.KindConfig, "resolve", path,
			fmt.Errorf("%w: unknown scheme %q", arctype.ErrInvalidMount, scheme))
	}
	if !fs.ValidPath(rel) {
		return "", arctype.Fatal(arctype.KindConfig, "resolve", path,
			fmt.Errorf("%w: path escapes mount root", arctype.ErrInvalidMount))
	}
	return filepath.Join(dir, filepath.FromSlash(rel)), nil
}

// Size returns the byte length of the regular file behind path. It lets a
// Mounts serve as the archive's size probe.
func (m *Mounts) Size(path string) (uint64, error) {
	full, err := m.Resolve(path)
	if err != nil {
		return 0, err
	}
	info, err := statRegular(path, full)
	if err != nil {
		return 0, err
	}
	return uint64(info.Size()), nil //nolint:gosec // regular file sizes are non-negative
}

// statRegular stats full and requires a regular file.
func statRegular(path, full string) (os.FileInfo, error) {
	info, err := os.Stat(full)
	switch {
	case errors.Is(err, fs.ErrNotExist):
		return nil, arctype.Fatal(arctype.KindIO, "stat", path, fmt.Errorf("%w: %w", arctype.ErrFileNotFound, err))
	case err != nil:
		return nil, arctype.Fatal(arctype.KindIO, "stat", path, err)
	case !info.Mode().IsRegular():
		return nil, arctype.Fatal(arctype.KindIO, "stat", path,
			fmt.Errorf("%w: not a regular file", arctype.ErrFileNotFound))
	}
	return info, nil
}
