// Package archive owns the tables of a packed virtual file archive and grows
// them in place.
//
// The archive is seven parallel tables. Five form a forward chain that
// resolves a path hash to the stored size of its content:
//
//	Paths → Indexes → Infos → InfoToDatas → Datas
//
// The remaining two track loaded resources: Loaded (table 1) pairs each
// path slot with a Resources (table 2) slot holding the in-memory buffer,
// reference count, and status.
//
// # Extension
//
// [Index.Extend] appends one wired entry per new path to every table in a
// single step. Tables are only ever appended to, so every slot handed out
// before an extension keeps addressing the same entry afterwards:
//
//	assignments, err := idx.Extend(ctx, []string{"rom:/a.nuanmb", "rom:/b.nuanmb"})
//	if err != nil {
//	    return err
//	}
//	a := assignments[archive.HashPath("rom:/a.nuanmb")]
//	// a.Slot addresses the Loaded table; a.Size is the source length.
//
// All sources are measured before any table changes, so a missing source
// fails the extension without side effects.
//
// # Locking
//
// One mutex guards all tables. Resource transitions run through
// [Index.Update] so they serialize with extensions; see package resource.
//
// # Images
//
// [EncodeImage] and [DecodeImage] move tables in and out of a compact
// CBOR image, used to seed an Index with a host's tables and to inspect
// tables after extension.
package archive
