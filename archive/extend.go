package archive

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/internal/sizing"
)

// Assignment records where Extend placed one new path.
type Assignment struct {
	// Path is the archive path as passed to Extend.
	Path string

	// Hash is the path hash stored in the Paths table.
	Hash uint64

	// Slot is the LoadedSlot assigned to the path; resource loads address it.
	Slot Slot

	// PathSlot is the slot of the new PathEntry. It equals Slot whenever the
	// Paths and Loaded tables had the same length before the extension.
	PathSlot Slot

	// Size is the uncompressed byte length recorded in the DataEntry.
	Size uint64
}

// Extend appends one fully wired entry per path to every table and returns
// the assignments keyed by path hash.
//
// Every source is measured before any table changes, so a missing or
// unreadable source leaves the archive untouched. Each table is then
// replaced by a new backing array of its old length plus len(paths); existing
// entries keep their positions, so previously issued slots stay valid. The
// path at input position k receives slot oldLen+k in every table.
//
// Extend always creates new slots, even for a hash already present in the
// archive. Paths repeated within one batch are rejected.
func (idx *Index) Extend(ctx context.Context, paths []string) (map[uint64]Assignment, error) {
	if len(paths) == 0 {
		return nil, arctype.Fatal(arctype.KindInvariant, "extend", "", arctype.ErrEmptyExtend)
	}

	hashes := make([]uint64, len(paths))
	seen := make(map[uint64]string, len(paths))
	for i, p := range paths {
		h := HashPath(p)
		if prev, dup := seen[h]; dup {
			return nil, arctype.Fatal(arctype.KindInvariant, "extend", p,
				fmt.Errorf("%w: collides with %q", arctype.ErrDuplicatePath, prev))
		}
		seen[h] = p
		hashes[i] = h
	}

	sizes, err := idx.probe(ctx, paths)
	if err != nil {
		return nil, err
	}

	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := len(paths)
	before := idx.tables.Lengths()
	for _, t := range AllTables {
		if _, ok := sizing.GrowSlots(before[t], n); !ok {
			return nil, arctype.Fatal(arctype.KindConfig, "extend "+t.String(), "", arctype.ErrSizeOverflow)
		}
	}

	t := &idx.tables
	pathTable := grow(t.Paths, n)
	indexes := grow(t.Indexes, n)
	infos := grow(t.Infos, n)
	infoToDatas := grow(t.InfoToDatas, n)
	datas := grow(t.Datas, n)
	loaded := grow(t.Loaded, n)
	resources := grow(t.Resources, n)

	out := make(map[uint64]Assignment, n)
	for k := range n {
		pathSlot := tail(before, TablePaths, k)
		indexSlot := tail(before, TableIndexes, k)
		infoSlot := tail(before, TableInfos, k)
		itdSlot := tail(before, TableInfoToDatas, k)
		dataSlot := tail(before, TableDatas, k)
		loadedSlot := tail(before, TableLoaded, k)
		resourceSlot := tail(before, TableResources, k)

		datas[dataSlot] = DataEntry{CompSize: sizes[k], DecompSize: sizes[k]}
		infoToDatas[itdSlot] = InfoToDataEntry{Data: dataSlot}
		infos[infoSlot] = InfoEntry{InfoToData: itdSlot}
		indexes[indexSlot] = IndexEntry{Info: infoSlot}
		pathTable[pathSlot] = PathEntry{Hash: hashes[k], Index: indexSlot}
		loaded[loadedSlot] = LoadedSlot{Resource: resourceSlot, Present: true}

		out[hashes[k]] = Assignment{
			Path:     paths[k],
			Hash:     hashes[k],
			Slot:     loadedSlot,
			PathSlot: pathSlot,
			Size:     uint64(sizes[k]),
		}
	}

	t.Paths = pathTable
	t.Indexes = indexes
	t.Infos = infos
	t.InfoToDatas = infoToDatas
	t.Datas = datas
	t.Loaded = loaded
	t.Resources = resources
	for _, a := range out {
		idx.byHash.ReplaceOrInsert(pathKey{hash: a.Hash, slot: a.PathSlot})
	}
	idx.generation++

	idx.log().Info("archive extended",
		"count", n,
		"paths", len(t.Paths),
		"resources", len(t.Resources),
		"generation", idx.generation,
	)
	return out, nil
}

// tail returns the k-th new slot of table t given the pre-extension lengths.
func tail(before Lengths, t Table, k int) Slot {
	return Slot(before[t] + k) //nolint:gosec // bounded by GrowSlots
}

// probe measures every source concurrently, before any table is touched.
func (idx *Index) probe(ctx context.Context, paths []string) ([]uint32, error) {
	sizes := make([]uint32, len(paths))

	g, gctx := errgroup.WithContext(ctx)
	limit := idx.probeWorkers
	if limit <= 0 {
		limit = 1
	}
	g.SetLimit(limit)

	for i, p := range paths {
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}
			size, err := idx.sizer.Size(p)
			if err != nil {
				if _, ok := arctype.AsFatal(err); ok {
					return err
				}
				return arctype.Fatal(arctype.KindIO, "extend", p, err)
			}
			s32, err := sizing.ToUint32(size, arctype.ErrSizeOverflow)
			if err != nil {
				return arctype.Fatal(arctype.KindConfig, "extend", p, err)
			}
			sizes[i] = s32
			idx.log().Debug("measured source", "path", p, "size", size)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return sizes, nil
}
