// Package router connects module lifecycle events to the archive, the
// load queue, and the resource table.
//
// Attaching a module registers the paths the archive does not know yet,
// queues every path for reading, and loads each completed read into its
// resource slot. Detaching cancels whatever is still queued and unloads
// everything the module loaded.
package router

import (
	"context"
	"fmt"
	"log/slog"
	pathpkg "path"
	"slices"
	"strings"
	"sync"

	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/loadqueue"
	"github.com/meigma/arcext/manifest"
	"github.com/meigma/arcext/resource"
)

// DefaultRegistrationExtension selects the paths that are added to the
// archive when first attached.
const DefaultRegistrationExtension = ".nuanmb"

// PlainConsumer receives the bytes of a completed read whose path the
// archive does not know. It runs on the queue worker with no router lock
// held and may call back into the router.
type PlainConsumer func(path string, data []byte)

// Router tracks attached modules and routes queue completions.
type Router struct {
	idx      *archive.Index
	res      *resource.Table
	queue    *loadqueue.Queue
	provider manifest.Provider

	regExts       map[string]struct{}
	preregisterOn string
	plain         PlainConsumer
	fatal         arctype.FatalHandler
	logger        *slog.Logger

	// lifecycle serializes Attach and Detach. It is taken before mu and is
	// the only lock held while Extend probes sources, so completions keep
	// flowing during registration.
	lifecycle sync.Mutex

	mu         sync.Mutex
	registered map[uint64]archive.Assignment
	scopes     map[string]*scope
	generation uint64
}

// scope is one attachment of a module. A detached scope stays reachable
// from its queued handlers but no longer accepts completions.
type scope struct {
	module     string
	generation uint64
	queued     []string
	loaded     map[archive.Slot]string
	detached   bool
}

// New creates a Router. All collaborators are required.
func New(idx *archive.Index, res *resource.Table, queue *loadqueue.Queue, provider manifest.Provider, opts ...Option) (*Router, error) {
	switch {
	case idx == nil:
		return nil, fmt.Errorf("router: archive index is required")
	case res == nil:
		return nil, fmt.Errorf("router: resource table is required")
	case queue == nil:
		return nil, fmt.Errorf("router: load queue is required")
	case provider == nil:
		return nil, fmt.Errorf("router: manifest provider is required")
	}
	r := &Router{
		idx:        idx,
		res:        res,
		queue:      queue,
		provider:   provider,
		regExts:    map[string]struct{}{DefaultRegistrationExtension: {}},
		registered: make(map[uint64]archive.Assignment),
		scopes:     make(map[string]*scope),
	}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(r)
	}
	if r.fatal == nil {
		r.fatal = arctype.PanicOnFatal(r.log())
	}
	return r, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (r *Router) log() *slog.Logger {
	if r.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return r.logger
}

// NeedsRegistration reports whether p is added to the archive on attach.
func (r *Router) NeedsRegistration(p string) bool {
	_, ok := r.regExts[strings.ToLower(pathpkg.Ext(p))]
	return ok
}

// Attach registers and queues the paths of module.
//
// A module the manifest does not list, or one that is already attached, is
// a no-op. Errors are fatal and leave the module unattached.
func (r *Router) Attach(ctx context.Context, module string) error {
	paths, ok := r.provider.Paths(module)
	if !ok {
		r.log().Debug("module not in manifest", "module", module)
		return nil
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()

	r.mu.Lock()
	_, attached := r.scopes[module]
	var batch []string
	if !attached {
		batch = r.pendingRegistrations(module, paths)
	}
	r.mu.Unlock()
	if attached {
		r.log().Debug("module already attached", "module", module)
		return nil
	}

	var assigned map[uint64]archive.Assignment
	if len(batch) > 0 {
		var err error
		assigned, err = r.idx.Extend(ctx, batch)
		if err != nil {
			return err
		}
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	for hash, a := range assigned {
		r.registered[hash] = a
	}
	if len(batch) > 0 {
		r.log().Info("paths registered", "module", module, "count", len(batch))
	}

	r.generation++
	sc := &scope{
		module:     module,
		generation: r.generation,
		loaded:     make(map[archive.Slot]string),
	}
	r.scopes[module] = sc

	handler := r.completion(sc)
	for _, p := range paths {
		if r.queue.Enqueue(loadqueue.Request{Path: p, Handler: handler}) == 1 {
			sc.queued = append(sc.queued, p)
		}
	}
	r.log().Info("module attached", "module", module, "count", len(paths),
		"queued", len(sc.queued), "generation", sc.generation)
	return nil
}

// pendingRegistrations returns the registration paths of module (and of
// every module when module triggers preregistration) that the router has
// not registered yet, without duplicates. Callers hold mu.
func (r *Router) pendingRegistrations(module string, paths []string) []string {
	lists := [][]string{paths}
	if r.preregisterOn != "" && module == r.preregisterOn {
		for _, m := range r.provider.Modules() {
			if m == module {
				continue
			}
			if other, ok := r.provider.Paths(m); ok {
				lists = append(lists, other)
			}
		}
	}

	seen := make(map[uint64]struct{})
	var batch []string
	for _, list := range lists {
		for _, p := range list {
			if !r.NeedsRegistration(p) {
				continue
			}
			h := archive.HashPath(p)
			if _, ok := r.registered[h]; ok {
				continue
			}
			if _, ok := seen[h]; ok {
				continue
			}
			seen[h] = struct{}{}
			batch = append(batch, p)
		}
	}
	return batch
}

// completion returns the queue handler for reads requested by sc.
//
// The plain consumer and the fatal handler run after mu is released, so
// either may call back into the router.
func (r *Router) completion(sc *scope) loadqueue.Handler {
	return func(p string, data []byte) {
		plain, err := r.route(sc, p, data)
		if err != nil {
			r.fatal(err)
			return
		}
		if plain {
			r.plain(p, data)
			r.log().Debug("plain load delivered", "module", sc.module, "path", p, "size", len(data))
		}
	}
}

// route loads data into the slot known for p. It reports true when p has
// no slot and belongs to the plain consumer instead.
func (r *Router) route(sc *scope, p string, data []byte) (bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if sc.detached || r.scopes[sc.module] != sc {
		r.log().Debug("dropping completion for detached module",
			"module", sc.module, "path", p, "generation", sc.generation)
		return false, nil
	}

	slot, ok := r.slotFor(p)
	if !ok {
		if r.plain == nil {
			return false, arctype.Fatal(arctype.KindConfig, "route", p, arctype.ErrUnregisteredPath)
		}
		return true, nil
	}
	if err := r.res.Load(slot, data); err != nil {
		return false, err
	}
	sc.loaded[slot] = p
	r.log().Debug("resource routed", "module", sc.module, "path", p, "slot", slot)
	return false, nil
}

// slotFor returns the Loaded slot for p: the assignment recorded at
// registration, or the host entry carrying p's hash (see
// [archive.Index.HostSlot]). Callers hold mu.
func (r *Router) slotFor(p string) (archive.Slot, bool) {
	h := archive.HashPath(p)
	if a, ok := r.registered[h]; ok {
		return a.Slot, true
	}
	return r.idx.HostSlot(h)
}

// Detach cancels the queued reads of module and unloads every slot it
// loaded. Completions of reads already popped by the worker are dropped.
// Detaching a module that is not attached is a no-op.
func (r *Router) Detach(ctx context.Context, module string) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	r.lifecycle.Lock()
	defer r.lifecycle.Unlock()
	r.mu.Lock()
	defer r.mu.Unlock()

	sc, ok := r.scopes[module]
	if !ok {
		r.log().Debug("module not attached", "module", module)
		return nil
	}
	sc.detached = true
	delete(r.scopes, module)

	cancelled := r.queue.CancelPaths(sc.queued...)

	slots := make([]archive.Slot, 0, len(sc.loaded))
	for slot := range sc.loaded {
		slots = append(slots, slot)
	}
	slices.Sort(slots)
	for _, slot := range slots {
		if err := r.res.Unload(slot); err != nil {
			return err
		}
		delete(sc.loaded, slot)
	}
	r.log().Info("module detached", "module", module, "cancelled", cancelled,
		"count", len(slots), "generation", sc.generation)
	return nil
}

// Attached returns the attached modules in sorted order.
func (r *Router) Attached() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]string, 0, len(r.scopes))
	for m := range r.scopes {
		out = append(out, m)
	}
	slices.Sort(out)
	return out
}

// Loaded returns the slots currently loaded under module, in slot order.
func (r *Router) Loaded(module string) []archive.Slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	sc, ok := r.scopes[module]
	if !ok {
		return nil
	}
	out := make([]archive.Slot, 0, len(sc.loaded))
	for slot := range sc.loaded {
		out = append(out, slot)
	}
	slices.Sort(out)
	return out
}

// Assignment returns the archive assignment recorded for p, if p was
// registered by this router.
func (r *Router) Assignment(p string) (archive.Assignment, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.registered[archive.HashPath(p)]
	return a, ok
}

// Registered returns how many paths this router has added to the archive.
func (r *Router) Registered() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.registered)
}
