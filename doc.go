// Package arcext extends a host's packed virtual file archive with new files
// while the host keeps running.
//
// The archive is seven parallel tables: a forward chain from path hash to
// stored sizes, plus two loaded-resource tables. [Service] wires the pieces
// that grow and fill those tables:
//
//   - archive: the tables and their atomic, copy-and-replace extension
//   - resource: load and unload transitions of resource slots
//   - loadqueue: a single-worker FIFO that reads source files
//   - router: module attach and detach events
//
// # Quick Start
//
//	svc, err := arcext.New(ctx,
//	    arcext.WithMounts(map[string]string{"rom": "/srv/rom", "sd": "/srv/sd"}),
//	    arcext.WithManifestPath("rom:/hdr/file_map.json"),
//	    arcext.WithPreregisterOn("common"),
//	)
//	if err != nil {
//	    return err
//	}
//	defer svc.Close()
//
//	if err := svc.Attach(ctx, "fighter/mario"); err != nil {
//	    return err
//	}
//	if err := svc.WaitIdle(ctx); err != nil {
//	    return err
//	}
//
// # Fatal errors
//
// Table corruption, unknown mounts, missing sources, and double loads or
// unloads are fatal: they match [ErrFatal] and are passed to the configured
// fatal handler. The default handler logs the error and panics. Use
// [WithFatalHandler] to observe them instead.
package arcext
