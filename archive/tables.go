package archive

import (
	"github.com/opencontainers/go-digest"
)

// Slot is a stable position in one of the archive tables. Slots are assigned
// once and never reused or moved.
type Slot = uint32

// Table identifies one of the seven archive tables.
type Table uint8

const (
	TablePaths Table = iota
	TableIndexes
	TableInfos
	TableInfoToDatas
	TableDatas
	TableLoaded
	TableResources

	numTables
)

// AllTables lists every table in forward-chain order followed by the two
// loaded-resource tables.
var AllTables = [numTables]Table{
	TablePaths,
	TableIndexes,
	TableInfos,
	TableInfoToDatas,
	TableDatas,
	TableLoaded,
	TableResources,
}

// String returns the table name used in diagnostics.
func (t Table) String() string {
	switch t {
	case TablePaths:
		return "paths"
	case TableIndexes:
		return "indexes"
	case TableInfos:
		return "infos"
	case TableInfoToDatas:
		return "info_to_datas"
	case TableDatas:
		return "datas"
	case TableLoaded:
		return "loaded"
	case TableResources:
		return "resources"
	default:
		return "unknown"
	}
}

// Lengths holds the logical length of every table, indexed by Table.
type Lengths [numTables]int

// PathEntry maps a path hash to its IndexEntry.
type PathEntry struct {
	Hash  uint64 `cbor:"h"`
	Index Slot   `cbor:"i"`
}

// IndexEntry maps to an InfoEntry.
type IndexEntry struct {
	Info Slot `cbor:"i"`
}

// InfoEntry maps to an InfoToDataEntry.
type InfoEntry struct {
	InfoToData Slot `cbor:"i"`
}

// InfoToDataEntry maps to a DataEntry.
type InfoToDataEntry struct {
	Data Slot `cbor:"d"`
}

// DataFlags describes how a DataEntry's content is stored.
type DataFlags uint32

const (
	// DataCompressed marks content stored compressed in the host archive.
	DataCompressed DataFlags = 1 << iota
)

// DataEntry records the stored sizes of one file's content. Entries created
// by Extend are always uncompressed.
type DataEntry struct {
	CompSize   uint32    `cbor:"c"`
	DecompSize uint32    `cbor:"u"`
	Flags      DataFlags `cbor:"f"`
}

// LoadedSlot pairs the "present in the resource table" marker with the
// ResourceSlot it refers to. It is addressed by the same slot as its PathEntry.
type LoadedSlot struct {
	Resource Slot `cbor:"r"`
	Present  bool `cbor:"p"`
}

// Status is the load state of a ResourceSlot.
type Status uint8

const (
	StatusEmpty Status = iota
	StatusLoaded
)

// String returns the human-readable name of the status.
func (s Status) String() string {
	switch s {
	case StatusEmpty:
		return "empty"
	case StatusLoaded:
		return "loaded"
	default:
		return "unknown"
	}
}

// ResourceSlot is the in-memory state backing one archive slot.
//
// RefCount is 0 while Empty and exactly 1 while Loaded.
type ResourceSlot struct {
	Data     []byte        `cbor:"-"`
	RefCount uint32        `cbor:"n"`
	Status   Status        `cbor:"s"`
	InUse    bool          `cbor:"u"`
	Version  uint32        `cbor:"v"`
	Digest   digest.Digest `cbor:"d,omitempty"`
}

// Tables is the full set of archive tables. Indexes into one table are
// stored in the entries of the previous table in the forward chain.
type Tables struct {
	Paths       []PathEntry       `cbor:"paths"`
	Indexes     []IndexEntry      `cbor:"indexes"`
	Infos       []InfoEntry       `cbor:"infos"`
	InfoToDatas []InfoToDataEntry `cbor:"info_to_datas"`
	Datas       []DataEntry       `cbor:"datas"`
	Loaded      []LoadedSlot      `cbor:"loaded"`
	Resources   []ResourceSlot    `cbor:"resources"`
}

// Lengths returns the logical length of every table.
func (t *Tables) Lengths() Lengths {
	return Lengths{
		TablePaths:       len(t.Paths),
		TableIndexes:     len(t.Indexes),
		TableInfos:       len(t.Infos),
		TableInfoToDatas: len(t.InfoToDatas),
		TableDatas:       len(t.Datas),
		TableLoaded:      len(t.Loaded),
		TableResources:   len(t.Resources),
	}
}

// Clone returns a deep copy of t. Resource buffers are dropped unless
// withData is set.
func (t *Tables) Clone(withData bool) Tables {
	out := Tables{
		Paths:       clone(t.Paths),
		Indexes:     clone(t.Indexes),
		Infos:       clone(t.Infos),
		InfoToDatas: clone(t.InfoToDatas),
		Datas:       clone(t.Datas),
		Loaded:      clone(t.Loaded),
		Resources:   clone(t.Resources),
	}
	for i := range out.Resources {
		if withData && out.Resources[i].Data != nil {
			out.Resources[i].Data = append([]byte(nil), out.Resources[i].Data...)
		} else {
			out.Resources[i].Data = nil
		}
	}
	return out
}

// ResetResources returns every resource slot to Empty and reports how many
// were Loaded. Versions are kept. Images carry no buffers, so tables decoded
// from one must be reset before they seed an Index.
func (t *Tables) ResetResources() int {
	n := 0
	for i := range t.Resources {
		r := &t.Resources[i]
		if r.Status == StatusLoaded {
			n++
		}
		*r = ResourceSlot{Version: r.Version}
	}
	return n
}

// Seed returns tables holding n fully wired, uncompressed, empty entries.
// Entry i of every table points at slot i of the next one. Sizes are taken
// from sizes when provided (missing sizes are zero).
func Seed(hashes []uint64, sizes []uint32) Tables {
	n := len(hashes)
	t := Tables{
		Paths:       make([]PathEntry, n),
		Indexes:     make([]IndexEntry, n),
		Infos:       make([]InfoEntry, n),
		InfoToDatas: make([]InfoToDataEntry, n),
		Datas:       make([]DataEntry, n),
		Loaded:      make([]LoadedSlot, n),
		Resources:   make([]ResourceSlot, n),
	}
	for i := range n {
		slot := Slot(i) //nolint:gosec // seed sizes are small
		var size uint32
		if i < len(sizes) {
			size = sizes[i]
		}
		t.Paths[i] = PathEntry{Hash: hashes[i], Index: slot}
		t.Indexes[i] = IndexEntry{Info: slot}
		t.Infos[i] = InfoEntry{InfoToData: slot}
		t.InfoToDatas[i] = InfoToDataEntry{Data: slot}
		t.Datas[i] = DataEntry{CompSize: size, DecompSize: size}
		t.Loaded[i] = LoadedSlot{Resource: slot, Present: true}
	}
	return t
}

func clone[T any](s []T) []T {
	if s == nil {
		return nil
	}
	out := make([]T, len(s))
	copy(out, s)
	return out
}

// grow replaces s with a new backing array of exactly len(s)+n entries,
// copying the existing entries positionally.
func grow[T any](s []T, n int) []T {
	out := make([]T, len(s)+n)
	copy(out, s)
	return out
}
