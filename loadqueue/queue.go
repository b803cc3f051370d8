// Package loadqueue reads archive source files on a single background
// worker.
//
// Requests are served in FIFO order. A path is queued at most once at a
// time; enqueueing a path that is already waiting is a no-op. Queued
// requests can be cancelled until the worker pops them. Completion handlers
// run synchronously on the worker goroutine, one at a time.
package loadqueue

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/internal/sizing"
)

// Handler receives the bytes of a completed request. It runs on the worker
// goroutine and must not call Stop.
type Handler func(path string, data []byte)

// Request asks the worker to read Path and pass its bytes to Handler.
type Request struct {
	Path    string
	Handler Handler
}

// Queue is a FIFO of read requests drained by one worker goroutine.
type Queue struct {
	mounts      *Mounts
	maxFileSize uint64
	fatal       arctype.FatalHandler
	logger      *slog.Logger

	mu       sync.Mutex
	cond     *sync.Cond
	pending  []Request
	queued   map[string]struct{}
	inFlight string
	busy     bool
	stopped  bool
	idle     chan struct{}
	idleDone bool

	done     chan struct{}
	stopOnce sync.Once
}

// New creates a Queue that resolves paths through mounts and starts its
// worker. Call Stop to release the worker.
func New(mounts *Mounts, opts ...Option) (*Queue, error) {
	if mounts == nil {
		return nil, fmt.Errorf("loadqueue: mounts are required")
	}
	q := &Queue{
		mounts:   mounts,
		queued:   make(map[string]struct{}),
		idle:     make(chan struct{}),
		idleDone: true,
		done:     make(chan struct{}),
	}
	close(q.idle)
	q.cond = sync.NewCond(&q.mu)
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		opt(q)
	}
	if q.fatal == nil {
		q.fatal = arctype.PanicOnFatal(q.log())
	}
	go q.run()
	return q, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (q *Queue) log() *slog.Logger {
	if q.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return q.logger
}

// Mounts returns the mount table used to resolve request paths.
func (q *Queue) Mounts() *Mounts {
	return q.mounts
}

// Enqueue appends reqs in order, skipping any whose path is already queued.
// It returns how many requests were appended. A stopped queue accepts none.
func (q *Queue) Enqueue(reqs ...Request) int {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.stopped {
		return 0
	}
	added := 0
	for _, req := range reqs {
		if _, dup := q.queued[req.Path]; dup {
			continue
		}
		q.queued[req.Path] = struct{}{}
		q.pending = append(q.pending, req)
		added++
	}
	if added > 0 {
		q.markBusy()
		q.cond.Signal()
	}
	q.log().Debug("requests enqueued", "count", added, "skipped", len(reqs)-added)
	return added
}

// Cancel removes queued requests with the same paths as reqs. Requests the
// worker has already popped are unaffected. It returns how many requests
// were removed.
func (q *Queue) Cancel(reqs ...Request) int {
	paths := make([]string, len(reqs))
	for i, req := range reqs {
		paths[i] = req.Path
	}
	return q.CancelPaths(paths...)
}

// CancelPaths removes queued requests for paths.
func (q *Queue) CancelPaths(paths ...string) int {
	q.mu.Lock()
	defer q.mu.Unlock()

	drop := make(map[string]struct{}, len(paths))
	for _, p := range paths {
		if _, ok := q.queued[p]; ok {
			drop[p] = struct{}{}
		}
	}
	if len(drop) == 0 {
		return 0
	}
	kept := q.pending[:0]
	for _, req := range q.pending {
		if _, ok := drop[req.Path]; ok {
			delete(q.queued, req.Path)
			continue
		}
		kept = append(kept, req)
	}
	clear(q.pending[len(kept):])
	q.pending = kept
	q.markIdle()
	q.log().Debug("requests cancelled", "count", len(drop))
	return len(drop)
}

// Len returns the number of queued requests, excluding one in flight.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.pending)
}

// Queued reports whether a request for path is waiting to be popped.
func (q *Queue) Queued(path string) bool {
	q.mu.Lock()
	defer q.mu.Unlock()
	_, ok := q.queued[path]
	return ok
}

// InFlight returns the path the worker is currently reading, if any.
func (q *Queue) InFlight() (string, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	return q.inFlight, q.busy
}

// WaitIdle blocks until no request is queued or in flight, or ctx is done.
func (q *Queue) WaitIdle(ctx context.Context) error {
	for {
		q.mu.Lock()
		if len(q.pending) == 0 && !q.busy {
			q.mu.Unlock()
			return nil
		}
		ch := q.idle
		q.mu.Unlock()

		select {
		case <-ch:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

// Stop discards queued requests and waits for the worker to finish its
// current request. In-flight reads are not interrupted. Stop is idempotent.
func (q *Queue) Stop() {
	q.stopOnce.Do(func() {
		q.mu.Lock()
		q.stopped = true
		q.cond.Broadcast()
		q.mu.Unlock()
	})
	<-q.done
}

// markBusy re-arms the idle channel. Callers hold mu.
func (q *Queue) markBusy() {
	if q.idleDone {
		q.idle = make(chan struct{})
		q.idleDone = false
	}
}

// markIdle releases WaitIdle callers once nothing is queued or in flight.
// Callers hold mu.
func (q *Queue) markIdle() {
	if len(q.pending) == 0 && !q.busy && !q.idleDone {
		close(q.idle)
		q.idleDone = true
	}
}

func (q *Queue) run() {
	defer close(q.done)
	for {
		q.mu.Lock()
		for len(q.pending) == 0 && !q.stopped {
			q.cond.Wait()
		}
		if q.stopped {
			if n := len(q.pending); n > 0 {
				q.log().Debug("discarding queued requests", "count", n)
			}
			clear(q.pending)
			q.pending = nil
			clear(q.queued)
			q.markIdle()
			q.mu.Unlock()
			return
		}
		req := q.pending[0]
		q.pending[0] = Request{}
		q.pending = q.pending[1:]
		delete(q.queued, req.Path)
		q.busy = true
		q.inFlight = req.Path
		q.mu.Unlock()

		q.dispatch(req)

		q.mu.Lock()
		q.busy = false
		q.inFlight = ""
		q.markIdle()
		q.mu.Unlock()
	}
}

// dispatch reads one request and hands the bytes to its handler.
func (q *Queue) dispatch(req Request) {
	data, err := q.read(req.Path)
	if err != nil {
		q.log().Debug("request failed", "path", req.Path, "error", err)
		q.fatal(err)
		return
	}
	q.log().Debug("file read", "path", req.Path, "size", len(data))
	if req.Handler != nil {
		req.Handler(req.Path, data)
	}
}

// read resolves path and reads the whole file.
func (q *Queue) read(path string) ([]byte, error) {
	full, err := q.mounts.Resolve(path)
	if err != nil {
		return nil, err
	}
	info, err := statRegular(path, full)
	if err != nil {
		return nil, err
	}
	f, err := os.Open(full)
	if err != nil {
		return nil, arctype.Fatal(arctype.KindIO, "open", path, err)
	}
	defer f.Close()

	overflow := arctype.Fatal(arctype.KindConfig, "read", path,
		fmt.Errorf("%w: file exceeds %d bytes", arctype.ErrSizeOverflow, q.maxFileSize))
	data, err := sizing.ReadBounded(f, info.Size(), q.maxFileSize, overflow)
	if err != nil {
		if arctype.IsFatal(err) {
			return nil, err
		}
		return nil, arctype.Fatal(arctype.KindIO, "read", path, err)
	}
	return data, nil
}
