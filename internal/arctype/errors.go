package arctype

import (
	"errors"
	"strconv"
	"strings"
)

// Kind classifies a fatal failure.
type Kind uint8

const (
	// KindConfig marks packaging defects: bad mount schemes, malformed
	// manifests, sizes that do not fit the table layout.
	KindConfig Kind = iota + 1
	// KindIO marks sources that cannot be opened, measured, or read.
	KindIO
	// KindInvariant marks protocol violations such as double loads.
	KindInvariant
)

// String returns the human-readable name of the kind.
func (k Kind) String() string {
	switch k {
	case KindConfig:
		return "configuration error"
	case KindIO:
		return "i/o error"
	case KindInvariant:
		return "invariant violation"
	default:
		return "unknown"
	}
}

// Sentinel errors for failure kinds. A *FatalError matches ErrFatal and the
// sentinel of its kind via errors.Is.
var (
	// ErrFatal matches every fatal error regardless of kind.
	ErrFatal = errors.New("arcext: fatal")

	// ErrConfig matches fatal configuration errors.
	ErrConfig = errors.New("arcext: configuration error")

	// ErrIO matches fatal I/O errors.
	ErrIO = errors.New("arcext: i/o error")

	// ErrInvariant matches fatal invariant violations.
	ErrInvariant = errors.New("arcext: invariant violation")
)

// Sentinel errors naming the specific violated condition.
var (
	// ErrDoubleLoad is returned when a slot is loaded while it still holds data.
	ErrDoubleLoad = errors.New("reloaded while previous still loaded")

	// ErrDoubleUnload is returned when an empty slot is unloaded.
	ErrDoubleUnload = errors.New("unloading previously unloaded data")

	// ErrStillInUse is returned when a slot with more than one reference is unloaded.
	ErrStillInUse = errors.New("unloading data still in use")

	// ErrCrossReference is returned when a loaded slot does not point at a
	// valid resource slot, or a forward-chain index is out of range.
	ErrCrossReference = errors.New("table cross-reference inconsistency")

	// ErrUnknownSlot is returned when a slot handle is outside its table.
	ErrUnknownSlot = errors.New("slot out of range")

	// ErrEmptyExtend is returned when an extension is requested with no paths.
	ErrEmptyExtend = errors.New("extension with no paths")

	// ErrDuplicatePath is returned when one extension batch names a path twice.
	ErrDuplicatePath = errors.New("duplicate path in extension batch")

	// ErrInvalidMount is returned when a path does not start with a known scheme.
	ErrInvalidMount = errors.New("mount name is invalid")

	// ErrFileNotFound is returned when a listed source is not a regular file.
	ErrFileNotFound = errors.New("unable to find file")

	// ErrSizeOverflow is returned when byte counts or slot counts exceed
	// what the table layout can hold.
	ErrSizeOverflow = errors.New("size overflow")

	// ErrMalformedManifest is returned when a manifest is not an object of
	// string lists.
	ErrMalformedManifest = errors.New("malformed manifest")

	// ErrUnregisteredPath is returned when a plain load names a path the
	// archive does not know and no consumer is configured.
	ErrUnregisteredPath = errors.New("path not registered in archive")
)

// NoSlot marks a FatalError that is not tied to a slot.
const NoSlot = -1

// FatalError describes a failure that must stop the host. Err holds the
// specific condition (one of the sentinels above, possibly wrapping an
// underlying error).
type FatalError struct {
	Kind Kind
	Op   string
	Path string
	Slot int64
	Err  error
}

// Fatal builds a FatalError with no slot.
func Fatal(kind Kind, op, path string, err error) *FatalError {
	return &FatalError{Kind: kind, Op: op, Path: path, Slot: NoSlot, Err: err}
}

// FatalSlot builds a FatalError tied to a slot.
func FatalSlot(kind Kind, op string, slot uint32, err error) *FatalError {
	return &FatalError{Kind: kind, Op: op, Slot: int64(slot), Err: err}
}

func (e *FatalError) Error() string {
	var b strings.Builder
	b.WriteString("arcext: fatal ")
	b.WriteString(e.Kind.String())
	if e.Op != "" {
		b.WriteString(": ")
		b.WriteString(e.Op)
	}
	if e.Slot != NoSlot {
		b.WriteString(" slot ")
		b.WriteString(strconv.FormatInt(e.Slot, 10))
	}
	if e.Path != "" {
		b.WriteString(" \"")
		b.WriteString(e.Path)
		b.WriteString("\"")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *FatalError) Unwrap() error { return e.Err }

// Is reports whether target is ErrFatal or the sentinel for e's kind.
func (e *FatalError) Is(target error) bool {
	switch target {
	case ErrFatal:
		return true
	case ErrConfig:
		return e.Kind == KindConfig
	case ErrIO:
		return e.Kind == KindIO
	case ErrInvariant:
		return e.Kind == KindInvariant
	}
	return false
}

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	return errors.Is(err, ErrFatal)
}

// AsFatal extracts the FatalError from err, if any.
func AsFatal(err error) (*FatalError, bool) {
	var fe *FatalError
	if errors.As(err, &fe) {
		return fe, true
	}
	return nil, false
}
