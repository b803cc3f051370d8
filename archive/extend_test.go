package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/internal/testutil"
)

// mustIndex creates an index seeded with n wired entries or fails the test.
func mustIndex(tb testing.TB, n int, opts ...Option) *Index {
	tb.Helper()
	sizes := make([]uint32, n)
	for i := range sizes {
		sizes[i] = uint32(100 + i) //nolint:gosec // small test sizes
	}
	idx, err := New(Seed(testutil.SeedHashes(n), sizes), opts...)
	require.NoError(tb, err, "New failed")
	return idx
}

// sourceFiles writes files under a temp dir and returns their absolute paths.
func sourceFiles(tb testing.TB, files map[string]string) map[string]string {
	tb.Helper()
	dir := tb.TempDir()
	testutil.WriteFiles(tb, dir, files)
	out := make(map[string]string, len(files))
	for rel := range files {
		out[rel] = filepath.Join(dir, filepath.FromSlash(rel))
	}
	return out
}

func TestExtendAssignsTailSlots(t *testing.T) {
	t.Parallel()

	idx := mustIndex(t, 10)
	src := sourceFiles(t, map[string]string{
		"a.ext": "aaaa",
		"b.ext": "bbbbbbbb",
	})

	got, err := idx.Extend(context.Background(), []string{src["a.ext"], src["b.ext"]})
	require.NoError(t, err)
	require.Len(t, got, 2)

	a := got[HashPath(src["a.ext"])]
	b := got[HashPath(src["b.ext"])]
	assert.Equal(t, Slot(10), a.Slot)
	assert.Equal(t, uint64(4), a.Size)
	assert.Equal(t, Slot(11), b.Slot)
	assert.Equal(t, uint64(8), b.Size)

	for _, slot := range []Slot{10, 11} {
		loaded, err := idx.Loaded(slot)
		require.NoError(t, err)
		assert.True(t, loaded.Present, "slot %d must be present", slot)
		assert.Equal(t, slot, loaded.Resource)

		res, err := idx.Resource(loaded.Resource)
		require.NoError(t, err)
		assert.Equal(t, StatusEmpty, res.Status)
		assert.Zero(t, res.RefCount)
	}
	assert.Equal(t, uint64(1), idx.Generation())
}

func TestExtendPreservesExistingEntries(t *testing.T) {
	t.Parallel()

	for _, tc := range []struct{ size, add int }{{0, 1}, {1, 1}, {10, 3}, {64, 17}} {
		t.Run(fmt.Sprintf("S=%d/N=%d", tc.size, tc.add), func(t *testing.T) {
			t.Parallel()

			idx := mustIndex(t, tc.size)
			before := idx.Snapshot()

			files := make(map[string]string, tc.add)
			for i := range tc.add {
				files[fmt.Sprintf("new/%03d.bin", i)] = fmt.Sprintf("payload-%d", i)
			}
			src := sourceFiles(t, files)
			paths := make([]string, 0, tc.add)
			for i := range tc.add {
				paths = append(paths, src[fmt.Sprintf("new/%03d.bin", i)])
			}

			_, err := idx.Extend(context.Background(), paths)
			require.NoError(t, err)

			after := idx.Snapshot()
			lengths := idx.Lengths()
			for _, table := range AllTables {
				assert.Equal(t, tc.size+tc.add, lengths[table], "table %s", table)
			}
			assert.Equal(t, before.Paths, after.Paths[:tc.size])
			assert.Equal(t, before.Indexes, after.Indexes[:tc.size])
			assert.Equal(t, before.Infos, after.Infos[:tc.size])
			assert.Equal(t, before.InfoToDatas, after.InfoToDatas[:tc.size])
			assert.Equal(t, before.Datas, after.Datas[:tc.size])
			assert.Equal(t, before.Loaded, after.Loaded[:tc.size])
			assert.Equal(t, before.Resources, after.Resources[:tc.size])
		})
	}
}

func TestExtendWiresForwardChain(t *testing.T) {
	t.Parallel()

	idx := mustIndex(t, 3)
	src := sourceFiles(t, map[string]string{"x.bin": "0123456789"})

	got, err := idx.Extend(context.Background(), []string{src["x.bin"]})
	require.NoError(t, err)

	a := got[HashPath(src["x.bin"])]
	chain, data, err := idx.Resolve(a.PathSlot)
	require.NoError(t, err)
	assert.Equal(t, Chain{Path: 3, Index: 3, Info: 3, InfoToData: 3, Data: 3}, chain)
	assert.Equal(t, DataEntry{CompSize: 10, DecompSize: 10}, data)

	slot, ok := idx.Lookup(a.Hash)
	require.True(t, ok)
	assert.Equal(t, a.PathSlot, slot)
}

func TestExtendUnevenTables(t *testing.T) {
	t.Parallel()

	// Two paths share one info entry, so the info chain is shorter than Paths.
	seed := Tables{
		Paths:       []PathEntry{{Hash: 1, Index: 0}, {Hash: 2, Index: 1}},
		Indexes:     []IndexEntry{{Info: 0}, {Info: 0}},
		Infos:       []InfoEntry{{InfoToData: 0}},
		InfoToDatas: []InfoToDataEntry{{Data: 0}},
		Datas:       []DataEntry{{CompSize: 5, DecompSize: 9, Flags: DataCompressed}},
		Loaded:      []LoadedSlot{{Resource: 0, Present: true}, {Resource: 0, Present: true}},
		Resources:   []ResourceSlot{{}},
	}
	idx, err := New(seed)
	require.NoError(t, err)

	src := sourceFiles(t, map[string]string{"n.bin": "abc"})
	got, err := idx.Extend(context.Background(), []string{src["n.bin"]})
	require.NoError(t, err)

	a := got[HashPath(src["n.bin"])]
	assert.Equal(t, Slot(2), a.PathSlot)
	assert.Equal(t, Slot(2), a.Slot)

	chain, data, err := idx.Resolve(a.PathSlot)
	require.NoError(t, err)
	assert.Equal(t, Chain{Path: 2, Index: 2, Info: 1, InfoToData: 1, Data: 1}, chain)
	assert.Equal(t, uint32(3), data.DecompSize)

	loaded, err := idx.Loaded(a.Slot)
	require.NoError(t, err)
	assert.Equal(t, Slot(1), loaded.Resource)
}

func TestExtendMissingSourceLeavesTablesUntouched(t *testing.T) {
	t.Parallel()

	idx := mustIndex(t, 5)
	before := idx.Snapshot()
	src := sourceFiles(t, map[string]string{"ok.bin": "ok"})
	missing := filepath.Join(t.TempDir(), "missing.bin")

	_, err := idx.Extend(context.Background(), []string{src["ok.bin"], missing})
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFatal)
	assert.ErrorIs(t, err, arctype.ErrIO)
	assert.ErrorIs(t, err, os.ErrNotExist)

	fe, ok := arctype.AsFatal(err)
	require.True(t, ok)
	assert.Equal(t, missing, fe.Path)

	assert.Equal(t, before, idx.Snapshot())
	assert.Zero(t, idx.Generation())
	_, found := idx.Lookup(HashPath(src["ok.bin"]))
	assert.False(t, found)
}

func TestExtendRejectsBadBatches(t *testing.T) {
	t.Parallel()

	t.Run("empty", func(t *testing.T) {
		t.Parallel()
		idx := mustIndex(t, 1)
		_, err := idx.Extend(context.Background(), nil)
		assert.ErrorIs(t, err, ErrEmptyExtend)
		assert.ErrorIs(t, err, ErrInvariant)
	})

	t.Run("duplicate", func(t *testing.T) {
		t.Parallel()
		idx := mustIndex(t, 1)
		src := sourceFiles(t, map[string]string{"d.bin": "d"})
		_, err := idx.Extend(context.Background(), []string{src["d.bin"], src["d.bin"]})
		assert.ErrorIs(t, err, ErrDuplicatePath)
		assert.Equal(t, 1, idx.Len(TablePaths))
	})
}

func TestExtendSameHashTwiceCreatesNewSlot(t *testing.T) {
	t.Parallel()

	idx := mustIndex(t, 2)
	src := sourceFiles(t, map[string]string{"r.bin": "r"})

	first, err := idx.Extend(context.Background(), []string{src["r.bin"]})
	require.NoError(t, err)
	second, err := idx.Extend(context.Background(), []string{src["r.bin"]})
	require.NoError(t, err)

	h := HashPath(src["r.bin"])
	assert.Equal(t, Slot(2), first[h].Slot)
	assert.Equal(t, Slot(3), second[h].Slot)
	assert.Equal(t, []Slot{2, 3}, idx.LookupAll(h))

	slot, ok := idx.Lookup(h)
	require.True(t, ok)
	assert.Equal(t, Slot(2), slot)
}

func TestExtendUsesSizer(t *testing.T) {
	t.Parallel()

	var calls atomic.Int32
	sizer := SizerFunc(func(path string) (uint64, error) {
		calls.Add(1)
		if path == "sd:/bad" {
			return 0, errors.New("unreadable")
		}
		return 42, nil
	})
	idx := mustIndex(t, 0, WithSizer(sizer), WithProbeConcurrency(2))

	got, err := idx.Extend(context.Background(), []string{"sd:/one", "sd:/two"})
	require.NoError(t, err)
	assert.Equal(t, uint64(42), got[HashPath("sd:/one")].Size)
	assert.Equal(t, int32(2), calls.Load())

	_, err = idx.Extend(context.Background(), []string{"sd:/three", "sd:/bad"})
	assert.ErrorIs(t, err, arctype.ErrIO)
	assert.Equal(t, 2, idx.Len(TableDatas))
}

func TestExtendSizeOverflow(t *testing.T) {
	t.Parallel()

	idx := mustIndex(t, 0, WithSizer(SizerFunc(func(string) (uint64, error) {
		return 1 << 33, nil
	})))
	_, err := idx.Extend(context.Background(), []string{"rom:/huge.bin"})
	assert.ErrorIs(t, err, ErrSizeOverflow)
	assert.ErrorIs(t, err, arctype.ErrConfig)
}

func TestExtendCanceledContext(t *testing.T) {
	t.Parallel()

	idx := mustIndex(t, 0, WithSizer(SizerFunc(func(string) (uint64, error) { return 1, nil })))
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := idx.Extend(ctx, []string{"rom:/a"})
	assert.ErrorIs(t, err, context.Canceled)
	assert.False(t, arctype.IsFatal(err))
	assert.Zero(t, idx.Len(TablePaths))
}
