package arcext

import "github.com/meigma/arcext/internal/arctype"

// Failure kinds re-exported from internal/arctype. Every fatal error matches
// ErrFatal and exactly one of ErrConfig, ErrIO, or ErrInvariant.
var (
	// ErrFatal matches every fatal error.
	ErrFatal = arctype.ErrFatal

	// ErrConfig matches packaging defects such as unknown mounts.
	ErrConfig = arctype.ErrConfig

	// ErrIO matches sources that cannot be measured or read.
	ErrIO = arctype.ErrIO

	// ErrInvariant matches table and lifecycle protocol violations.
	ErrInvariant = arctype.ErrInvariant
)

// Specific conditions re-exported from internal/arctype.
var (
	// ErrDoubleLoad is returned when a resource is loaded while still loaded.
	ErrDoubleLoad = arctype.ErrDoubleLoad

	// ErrDoubleUnload is returned when an empty resource is unloaded.
	ErrDoubleUnload = arctype.ErrDoubleUnload

	// ErrStillInUse is returned when a resource with other references is unloaded.
	ErrStillInUse = arctype.ErrStillInUse

	// ErrCrossReference is returned when table entries do not point at each other.
	ErrCrossReference = arctype.ErrCrossReference

	// ErrUnknownSlot is returned when a slot is outside its table.
	ErrUnknownSlot = arctype.ErrUnknownSlot

	// ErrEmptyExtend is returned when an extension names no paths.
	ErrEmptyExtend = arctype.ErrEmptyExtend

	// ErrDuplicatePath is returned when an extension names a path twice.
	ErrDuplicatePath = arctype.ErrDuplicatePath

	// ErrInvalidMount is returned when a path uses an unknown mount scheme.
	ErrInvalidMount = arctype.ErrInvalidMount

	// ErrFileNotFound is returned when a source is not a regular file.
	ErrFileNotFound = arctype.ErrFileNotFound

	// ErrSizeOverflow is returned when a size exceeds the table layout or limit.
	ErrSizeOverflow = arctype.ErrSizeOverflow

	// ErrMalformedManifest is returned when a manifest is not an object of string lists.
	ErrMalformedManifest = arctype.ErrMalformedManifest

	// ErrUnregisteredPath is returned when a plain load has no destination.
	ErrUnregisteredPath = arctype.ErrUnregisteredPath
)

// FatalError carries the kind, operation, and offending path or slot of a
// fatal failure.
type FatalError = arctype.FatalError

// FatalHandler receives fatal errors.
type FatalHandler = arctype.FatalHandler

// IsFatal reports whether err is a fatal error.
func IsFatal(err error) bool { return arctype.IsFatal(err) }
