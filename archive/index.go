package archive

import (
	"fmt"
	"log/slog"
	"sync"

	"github.com/google/btree"

	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/internal/hash40"
	"github.com/meigma/arcext/internal/sizing"
)

const lookupDegree = 32

// pathKey orders the hash lookup index. Hash uniqueness is not enforced, so
// the slot breaks ties.
type pathKey struct {
	hash uint64
	slot Slot
}

func lessPathKey(a, b pathKey) bool {
	if a.hash != b.hash {
		return a.hash < b.hash
	}
	return a.slot < b.slot
}

// Index owns the archive tables.
//
// A single mutex guards every table, the hash lookup index, and all
// resource transitions made through Update. Accessors return copies; no
// caller ever holds a reference into a live table.
type Index struct {
	mu           sync.Mutex
	tables       Tables
	byHash       *btree.BTreeG[pathKey]
	generation   uint64
	sizer        Sizer
	probeWorkers int
	logger       *slog.Logger
}

// log returns the logger, falling back to a discard logger if nil.
func (idx *Index) log() *slog.Logger {
	if idx.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return idx.logger
}

// New creates an Index over a copy of seed.
//
// Every cross-reference in seed is validated; an inconsistent seed returns a
// fatal invariant error.
func New(seed Tables, opts ...Option) (*Index, error) {
	if err := validate(&seed); err != nil {
		return nil, err
	}
	idx := &Index{
		tables:       seed.Clone(true),
		byHash:       btree.NewG(lookupDegree, lessPathKey),
		sizer:        OSSizer,
		probeWorkers: defaultProbeWorkers,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(idx)
	}
	for i, p := range idx.tables.Paths {
		idx.byHash.ReplaceOrInsert(pathKey{hash: p.Hash, slot: Slot(i)}) //nolint:gosec // validated length
	}
	return idx, nil
}

// validate checks the forward chain and the loaded-resource cross-references.
func validate(t *Tables) error {
	if _, ok := fitsSlots(t.Lengths()); !ok {
		return arctype.Fatal(arctype.KindConfig, "seed", "", arctype.ErrSizeOverflow)
	}
	for i, p := range t.Paths {
		if int(p.Index) >= len(t.Indexes) {
			return crossRef(TablePaths, i, TableIndexes, p.Index)
		}
	}
	for i, e := range t.Indexes {
		if int(e.Info) >= len(t.Infos) {
			return crossRef(TableIndexes, i, TableInfos, e.Info)
		}
	}
	for i, e := range t.Infos {
		if int(e.InfoToData) >= len(t.InfoToDatas) {
			return crossRef(TableInfos, i, TableInfoToDatas, e.InfoToData)
		}
	}
	for i, e := range t.InfoToDatas {
		if int(e.Data) >= len(t.Datas) {
			return crossRef(TableInfoToDatas, i, TableDatas, e.Data)
		}
	}
	for i, l := range t.Loaded {
		if l.Present && int(l.Resource) >= len(t.Resources) {
			return crossRef(TableLoaded, i, TableResources, l.Resource)
		}
	}
	for i, r := range t.Resources {
		ok := (r.Status == StatusEmpty && r.RefCount == 0 && r.Data == nil) ||
			(r.Status == StatusLoaded && r.RefCount == 1)
		if !ok {
			return arctype.FatalSlot(arctype.KindInvariant, "seed", uint32(i), //nolint:gosec // validated length
				fmt.Errorf("%w: resource status %s with ref count %d", arctype.ErrCrossReference, r.Status, r.RefCount))
		}
		if r.Status == StatusLoaded && r.Data == nil {
			return arctype.FatalSlot(arctype.KindInvariant, "seed", uint32(i), //nolint:gosec // validated length
				fmt.Errorf("%w: loaded resource has no buffer", arctype.ErrCrossReference))
		}
	}
	return nil
}

func crossRef(from Table, slot int, to Table, target Slot) error {
	return arctype.FatalSlot(arctype.KindInvariant, "seed", uint32(slot), //nolint:gosec // validated length
		fmt.Errorf("%w: %s entry points at %s slot %d", arctype.ErrCrossReference, from, to, target))
}

// fitsSlots reports the largest table length and whether every table is
// addressable with a Slot.
func fitsSlots(l Lengths) (int, bool) {
	largest := 0
	for _, n := range l {
		if n > largest {
			largest = n
		}
	}
	_, ok := sizing.GrowSlots(largest, 0)
	return largest, ok
}

// HashPath returns the hash under which path is stored in the Paths table.
func HashPath(path string) uint64 {
	return hash40.Of(path)
}

// Generation counts completed extensions. It starts at zero.
func (idx *Index) Generation() uint64 {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.generation
}

// Lengths returns the current length of every table.
func (idx *Index) Lengths() Lengths {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tables.Lengths()
}

// Len returns the current length of one table.
func (idx *Index) Len(t Table) int {
	return idx.Lengths()[t]
}

// Snapshot returns a deep copy of the tables without resource buffers.
func (idx *Index) Snapshot() Tables {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return idx.tables.Clone(false)
}

// Path returns the PathEntry at slot.
func (idx *Index) Path(slot Slot) (PathEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.Paths, slot, TablePaths)
}

// IndexEntry returns the IndexEntry at slot.
func (idx *Index) IndexEntry(slot Slot) (IndexEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.Indexes, slot, TableIndexes)
}

// Info returns the InfoEntry at slot.
func (idx *Index) Info(slot Slot) (InfoEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.Infos, slot, TableInfos)
}

// InfoToData returns the InfoToDataEntry at slot.
func (idx *Index) InfoToData(slot Slot) (InfoToDataEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.InfoToDatas, slot, TableInfoToDatas)
}

// Data returns the DataEntry at slot.
func (idx *Index) Data(slot Slot) (DataEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.Datas, slot, TableDatas)
}

// Loaded returns the LoadedSlot at slot.
func (idx *Index) Loaded(slot Slot) (LoadedSlot, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.Loaded, slot, TableLoaded)
}

// Resource returns a copy of the ResourceSlot at slot. The copy shares the
// resource buffer; callers must not modify it.
func (idx *Index) Resource(slot Slot) (ResourceSlot, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return at(idx.tables.Resources, slot, TableResources)
}

// Chain lists the slots visited while walking the forward chain of a path.
type Chain struct {
	Path       Slot
	Index      Slot
	Info       Slot
	InfoToData Slot
	Data       Slot
}

// Resolve walks the forward chain starting at a Paths slot and returns the
// visited slots together with the DataEntry at the end of the chain.
func (idx *Index) Resolve(slot Slot) (Chain, DataEntry, error) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	c := Chain{Path: slot}
	p, err := at(idx.tables.Paths, slot, TablePaths)
	if err != nil {
		return c, DataEntry{}, err
	}
	c.Index = p.Index
	ie, err := at(idx.tables.Indexes, c.Index, TableIndexes)
	if err != nil {
		return c, DataEntry{}, err
	}
	c.Info = ie.Info
	info, err := at(idx.tables.Infos, c.Info, TableInfos)
	if err != nil {
		return c, DataEntry{}, err
	}
	c.InfoToData = info.InfoToData
	itd, err := at(idx.tables.InfoToDatas, c.InfoToData, TableInfoToDatas)
	if err != nil {
		return c, DataEntry{}, err
	}
	c.Data = itd.Data
	d, err := at(idx.tables.Datas, c.Data, TableDatas)
	return c, d, err
}

// Lookup returns the lowest Paths slot whose entry carries hash.
func (idx *Index) Lookup(hash uint64) (Slot, bool) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var (
		slot  Slot
		found bool
	)
	idx.byHash.AscendGreaterOrEqual(pathKey{hash: hash}, func(k pathKey) bool {
		if k.hash == hash {
			slot, found = k.slot, true
		}
		return false
	})
	return slot, found
}

// HostSlot returns the Loaded slot of a host entry carrying hash.
//
// Host tables pair Paths slot i with Loaded slot i, so this is the Paths
// slot from Lookup. Hashes whose Paths slot has no Loaded counterpart
// report false. Entries added by Extend may sit elsewhere in the Loaded
// table; use the Assignment returned by Extend for those.
func (idx *Index) HostSlot(hash uint64) (Slot, bool) {
	slot, ok := idx.Lookup(hash)
	if !ok {
		return 0, false
	}
	idx.mu.Lock()
	defer idx.mu.Unlock()
	if int(slot) >= len(idx.tables.Loaded) {
		return 0, false
	}
	return slot, true
}

// LookupAll returns every Paths slot whose entry carries hash, in slot order.
func (idx *Index) LookupAll(hash uint64) []Slot {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	var slots []Slot
	idx.byHash.AscendGreaterOrEqual(pathKey{hash: hash}, func(k pathKey) bool {
		if k.hash != hash {
			return false
		}
		slots = append(slots, k.slot)
		return true
	})
	return slots
}

// Tx gives mutable access to the loaded-resource tables for the duration of
// an Update callback.
type Tx struct {
	t *Tables
}

// Loaded returns the LoadedSlot at slot.
func (tx *Tx) Loaded(slot Slot) (LoadedSlot, error) {
	return at(tx.t.Loaded, slot, TableLoaded)
}

// Resource returns a pointer to the live ResourceSlot at slot. The pointer
// is only valid until the Update callback returns.
func (tx *Tx) Resource(slot Slot) (*ResourceSlot, error) {
	if int(slot) >= len(tx.t.Resources) {
		return nil, outOfRange(TableResources, slot)
	}
	return &tx.t.Resources[slot], nil
}

// Lengths returns the current length of every table.
func (tx *Tx) Lengths() Lengths {
	return tx.t.Lengths()
}

// Update runs fn with exclusive access to the tables. Extensions and other
// updates wait until fn returns.
func (idx *Index) Update(fn func(tx *Tx) error) error {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	return fn(&Tx{t: &idx.tables})
}

func at[T any](table []T, slot Slot, name Table) (T, error) {
	if int(slot) >= len(table) {
		var zero T
		return zero, outOfRange(name, slot)
	}
	return table[slot], nil
}

func outOfRange(name Table, slot Slot) error {
	return arctype.FatalSlot(arctype.KindInvariant, "access "+name.String(), slot, arctype.ErrUnknownSlot)
}
