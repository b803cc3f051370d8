package archive

import "github.com/meigma/arcext/internal/arctype"

// Sentinel errors re-exported from internal/arctype.
var (
	// ErrFatal matches every fatal error.
	ErrFatal = arctype.ErrFatal

	// ErrInvariant matches fatal invariant violations.
	ErrInvariant = arctype.ErrInvariant

	// ErrCrossReference is returned when a table entry points outside the next table.
	ErrCrossReference = arctype.ErrCrossReference

	// ErrUnknownSlot is returned when a slot handle is outside its table.
	ErrUnknownSlot = arctype.ErrUnknownSlot

	// ErrEmptyExtend is returned when Extend is called with no paths.
	ErrEmptyExtend = arctype.ErrEmptyExtend

	// ErrDuplicatePath is returned when one Extend batch names a path twice.
	ErrDuplicatePath = arctype.ErrDuplicatePath

	// ErrSizeOverflow is returned when a size or slot count exceeds the table layout.
	ErrSizeOverflow = arctype.ErrSizeOverflow
)
