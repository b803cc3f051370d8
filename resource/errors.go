package resource

import "github.com/meigma/arcext/internal/arctype"

// Sentinel errors re-exported from internal/arctype.
var (
	// ErrFatal matches every fatal error.
	ErrFatal = arctype.ErrFatal

	// ErrInvariant matches fatal invariant violations.
	ErrInvariant = arctype.ErrInvariant

	// ErrDoubleLoad is returned by Load when the resource still holds data.
	ErrDoubleLoad = arctype.ErrDoubleLoad

	// ErrDoubleUnload is returned by Unload when the resource is already empty.
	ErrDoubleUnload = arctype.ErrDoubleUnload

	// ErrStillInUse is returned by Unload when other references remain.
	ErrStillInUse = arctype.ErrStillInUse

	// ErrCrossReference is returned when a LoadedSlot does not lead to a resource.
	ErrCrossReference = arctype.ErrCrossReference

	// ErrUnknownSlot is returned when a slot is outside the Loaded table.
	ErrUnknownSlot = arctype.ErrUnknownSlot
)
