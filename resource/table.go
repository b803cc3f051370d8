// Package resource implements the load/unload lifecycle of the archive's
// loaded-resource tables.
//
// A Table addresses resources by Loaded slot: the slot returned by
// archive.Index.Extend (or found through Lookup for host entries). Each
// transition validates the LoadedSlot → ResourceSlot cross-reference and the
// slot's current state under the archive lock, so loads, unloads, and
// extensions never interleave.
package resource

import (
	"fmt"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/internal/arctype"
)

// Table performs resource transitions against an archive.Index.
type Table struct {
	idx    *archive.Index
	algo   digest.Algorithm
	logger *slog.Logger
}

// Resource is a point-in-time view of one loaded-resource slot.
type Resource struct {
	// Slot is the Loaded-table slot the view was requested for.
	Slot archive.Slot
	// Resource is the ResourceSlot the LoadedSlot points at.
	Resource archive.Slot
	Present  bool
	Status   archive.Status
	RefCount uint32
	InUse    bool
	Version  uint32
	Size     int
	Digest   digest.Digest
}

// Stats summarizes the loaded-resource table.
type Stats struct {
	Slots  int
	Loaded int
	Bytes  uint64
}

// New creates a Table over idx.
func New(idx *archive.Index, opts ...Option) (*Table, error) {
	if idx == nil {
		return nil, fmt.Errorf("resource: index is required")
	}
	t := &Table{
		idx:  idx,
		algo: digest.Canonical,
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(t)
	}
	if !t.algo.Available() {
		return nil, fmt.Errorf("resource: digest algorithm %q is not available", t.algo)
	}
	return t, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (t *Table) log() *slog.Logger {
	if t.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return t.logger
}

// Algorithm returns the digest algorithm recorded for loaded buffers.
func (t *Table) Algorithm() digest.Algorithm {
	return t.algo
}

// Load stores data in the resource behind slot. The Table takes ownership
// of data; callers must not modify it afterwards.
//
// The LoadedSlot must be present and point inside the resource table, and
// the resource must be empty. Violations return a fatal invariant error and
// leave the slot unchanged.
func (t *Table) Load(slot archive.Slot, data []byte) error {
	if data == nil {
		data = []byte{}
	}
	d := t.algo.FromBytes(data)

	var version uint32
	err := t.idx.Update(func(tx *archive.Tx) error {
		res, err := resolve(tx, "load", slot)
		if err != nil {
			return err
		}
		if res.Status != archive.StatusEmpty || res.Data != nil || res.RefCount != 0 {
			return arctype.FatalSlot(arctype.KindInvariant, "load", slot, arctype.ErrDoubleLoad)
		}
		res.Data = data
		res.RefCount = 1
		res.Status = archive.StatusLoaded
		res.InUse = true
		res.Version++
		res.Digest = d
		version = res.Version
		return nil
	})
	if err != nil {
		return err
	}
	t.log().Debug("resource loaded", "slot", slot, "size", len(data), "version", version, "digest", d.String())
	return nil
}

// Unload releases the buffer held by the resource behind slot and returns
// it to the empty state.
//
// Unloading an empty resource, or one that still has other references,
// returns a fatal invariant error.
func (t *Table) Unload(slot archive.Slot) error {
	var size int
	err := t.idx.Update(func(tx *archive.Tx) error {
		res, err := resolve(tx, "unload", slot)
		if err != nil {
			return err
		}
		switch {
		case res.RefCount == 0:
			return arctype.FatalSlot(arctype.KindInvariant, "unload", slot, arctype.ErrDoubleUnload)
		case res.RefCount > 1:
			return arctype.FatalSlot(arctype.KindInvariant, "unload", slot,
				fmt.Errorf("%w: %d references", arctype.ErrStillInUse, res.RefCount))
		}
		size = len(res.Data)
		res.Data = nil
		res.RefCount = 0
		res.Status = archive.StatusEmpty
		res.InUse = false
		return nil
	})
	if err != nil {
		return err
	}
	t.log().Debug("resource unloaded", "slot", slot, "size", size)
	return nil
}

// State returns a view of the resource behind slot.
func (t *Table) State(slot archive.Slot) (Resource, error) {
	var out Resource
	err := t.idx.Update(func(tx *archive.Tx) error {
		loaded, err := tx.Loaded(slot)
		if err != nil {
			return err
		}
		out = Resource{Slot: slot, Resource: loaded.Resource, Present: loaded.Present}
		if !loaded.Present {
			return nil
		}
		res, err := tx.Resource(loaded.Resource)
		if err != nil {
			return err
		}
		out.Status = res.Status
		out.RefCount = res.RefCount
		out.InUse = res.InUse
		out.Version = res.Version
		out.Size = len(res.Data)
		out.Digest = res.Digest
		return nil
	})
	return out, err
}

// Data returns the buffer held by the resource behind slot, or nil if the
// resource is empty. The returned slice must not be modified.
func (t *Table) Data(slot archive.Slot) ([]byte, error) {
	var data []byte
	err := t.idx.Update(func(tx *archive.Tx) error {
		res, err := resolve(tx, "read", slot)
		if err != nil {
			return err
		}
		data = res.Data
		return nil
	})
	return data, err
}

// Stats counts loaded resources and the bytes they hold.
func (t *Table) Stats() Stats {
	var s Stats
	_ = t.idx.Update(func(tx *archive.Tx) error {
		s.Slots = tx.Lengths()[archive.TableResources]
		for i := range s.Slots {
			res, err := tx.Resource(archive.Slot(i)) //nolint:gosec // bounded by table length
			if err != nil {
				return err
			}
			if res.Status == archive.StatusLoaded {
				s.Loaded++
				s.Bytes += uint64(len(res.Data))
			}
		}
		return nil
	})
	return s
}

// resolve follows the LoadedSlot at slot to its live ResourceSlot.
func resolve(tx *archive.Tx, op string, slot archive.Slot) (*archive.ResourceSlot, error) {
	loaded, err := tx.Loaded(slot)
	if err != nil {
		return nil, err
	}
	if !loaded.Present {
		return nil, arctype.FatalSlot(arctype.KindInvariant, op, slot,
			fmt.Errorf("%w: loaded slot is not present", arctype.ErrCrossReference))
	}
	if int(loaded.Resource) >= tx.Lengths()[archive.TableResources] {
		return nil, arctype.FatalSlot(arctype.KindInvariant, op, slot,
			fmt.Errorf("%w: resource slot %d out of range", arctype.ErrCrossReference, loaded.Resource))
	}
	return tx.Resource(loaded.Resource)
}
