package loadqueue

import "github.com/meigma/arcext/internal/arctype"

// Sentinel errors re-exported from internal/arctype.
var (
	// ErrInvalidMount is returned when a path names an unknown scheme or
	// escapes its mount directory.
	ErrInvalidMount = arctype.ErrInvalidMount

	// ErrFileNotFound is returned when a path does not name a regular file.
	ErrFileNotFound = arctype.ErrFileNotFound

	// ErrSizeOverflow is returned when a file exceeds the configured limit.
	ErrSizeOverflow = arctype.ErrSizeOverflow
)
