package arcext

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sync"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/internal/arctype"
	"github.com/meigma/arcext/loadqueue"
	"github.com/meigma/arcext/manifest"
	"github.com/meigma/arcext/resource"
	"github.com/meigma/arcext/router"
)

// Service owns an extended archive and everything that fills it.
//
// Create one with [New] and release it with [Close]. All methods are safe
// for concurrent use.
type Service struct {
	mounts *loadqueue.Mounts
	index  *archive.Index
	res    *resource.Table
	queue  *loadqueue.Queue
	router *router.Router
	store  *manifest.Store

	// Collected by options.
	mountDirs     map[string]string
	seed          *archive.Tables
	seedImage     string
	provider      manifest.Provider
	manifestFile  string
	manifestPath  string
	watch         bool
	regExts       []string
	preregisterOn string
	plain         router.PlainConsumer
	maxFileSize   uint64
	probeWorkers  int
	digestAlgo    digest.Algorithm
	fatal         arctype.FatalHandler
	logger        *slog.Logger

	stopWatch context.CancelFunc
	watchDone chan struct{}
	closeOnce sync.Once
}

// Stats summarizes the service state.
type Stats struct {
	Tables     archive.Lengths
	Generation uint64
	Loaded     int
	Bytes      uint64
	Queued     int
	Registered int
	Attached   []string
}

// New builds a Service.
//
// At least one mount is required. When a manifest is configured through
// [WithManifestPath], New reads it through the load queue and waits for it,
// bounded by ctx.
func New(ctx context.Context, opts ...Option) (*Service, error) {
	s := &Service{}
	for _, opt := range opts {
		if opt == nil {
			continue
		}
		if err := opt(s); err != nil {
			return nil, err
		}
	}
	if s.fatal == nil {
		s.fatal = arctype.PanicOnFatal(s.log())
	}

	if len(s.mountDirs) == 0 {
		return nil, errors.New("arcext: at least one mount is required")
	}
	mounts, err := loadqueue.NewMounts(s.mountDirs)
	if err != nil {
		return nil, err
	}
	s.mounts = mounts

	seed, err := s.loadSeed()
	if err != nil {
		return nil, s.escalate(err)
	}
	archiveOpts := []archive.Option{
		archive.WithSizer(mounts),
		archive.WithLogger(s.component("archive")),
	}
	if s.probeWorkers > 0 {
		archiveOpts = append(archiveOpts, archive.WithProbeConcurrency(s.probeWorkers))
	}
	s.index, err = archive.New(seed, archiveOpts...)
	if err != nil {
		return nil, s.escalate(err)
	}

	resOpts := []resource.Option{resource.WithLogger(s.component("resource"))}
	if s.digestAlgo != "" {
		resOpts = append(resOpts, resource.WithDigestAlgorithm(s.digestAlgo))
	}
	s.res, err = resource.New(s.index, resOpts...)
	if err != nil {
		return nil, err
	}

	s.queue, err = loadqueue.New(mounts,
		loadqueue.WithMaxFileSize(s.maxFileSize),
		loadqueue.WithFatalHandler(s.fatal),
		loadqueue.WithLogger(s.component("loadqueue")),
	)
	if err != nil {
		return nil, err
	}

	if err := s.loadManifest(ctx); err != nil {
		s.queue.Stop()
		return nil, err
	}

	routerOpts := []router.Option{
		router.WithPreregisterOn(s.preregisterOn),
		router.WithPlainConsumer(s.plain),
		router.WithFatalHandler(s.fatal),
		router.WithLogger(s.component("router")),
	}
	if s.regExts != nil {
		routerOpts = append(routerOpts, router.WithRegistrationExtensions(s.regExts...))
	}
	s.router, err = router.New(s.index, s.res, s.queue, s.provider, routerOpts...)
	if err != nil {
		s.queue.Stop()
		return nil, err
	}

	if s.watch && s.manifestFile != "" {
		s.startWatch()
	}
	s.log().Info("service ready", "mounts", mounts.Schemes(), "count", s.index.Len(archive.TablePaths))
	return s, nil
}

// log returns the logger, falling back to a discard logger if nil.
func (s *Service) log() *slog.Logger {
	if s.logger == nil {
		return slog.New(slog.DiscardHandler)
	}
	return s.logger
}

func (s *Service) component(name string) *slog.Logger {
	return s.log().With("component", name)
}

// escalate passes fatal errors to the fatal handler and returns err.
func (s *Service) escalate(err error) error {
	if err != nil && arctype.IsFatal(err) {
		s.fatal(err)
	}
	return err
}

// loadSeed returns the host tables from the seed image, the explicit seed,
// or empty tables.
func (s *Service) loadSeed() (archive.Tables, error) {
	switch {
	case s.seedImage != "":
		f, err := os.Open(s.seedImage)
		if err != nil {
			return archive.Tables{}, fmt.Errorf("arcext: open seed image: %w", err)
		}
		defer f.Close()
		t, err := archive.DecodeImage(f)
		if err != nil {
			return archive.Tables{}, fmt.Errorf("arcext: seed image %s: %w", s.seedImage, err)
		}
		if n := t.ResetResources(); n > 0 {
			s.log().Info("seed image resources reset", "path", s.seedImage, "count", n)
		}
		return t, nil
	case s.seed != nil:
		return *s.seed, nil
	default:
		return archive.Tables{}, nil
	}
}

// loadManifest resolves the manifest provider. A manifest named by an
// archive path is read through the queue like any other file.
func (s *Service) loadManifest(ctx context.Context) error {
	switch {
	case s.provider != nil:
		return nil
	case s.manifestFile != "":
		m, err := manifest.Load(s.manifestFile)
		if err != nil {
			return s.escalate(err)
		}
		s.store = manifest.NewStore(m)
	case s.manifestPath != "":
		s.store = manifest.NewStore(nil)
		var parseErr error
		s.queue.Enqueue(loadqueue.Request{Path: s.manifestPath, Handler: func(p string, data []byte) {
			m, err := manifest.ParseFile(p, data)
			if err != nil {
				parseErr = err
				return
			}
			s.store.Set(m)
		}})
		if err := s.queue.WaitIdle(ctx); err != nil {
			return fmt.Errorf("arcext: load manifest %s: %w", s.manifestPath, err)
		}
		if parseErr != nil {
			return s.escalate(parseErr)
		}
		if s.store.Current() == nil {
			return fmt.Errorf("arcext: manifest %s was not loaded", s.manifestPath)
		}
	default:
		s.store = manifest.NewStore(manifest.New(nil))
	}
	s.provider = s.store
	s.log().Info("manifest loaded", "count", len(s.provider.Modules()))
	return nil
}

func (s *Service) startWatch() {
	ctx, cancel := context.WithCancel(context.Background())
	s.stopWatch = cancel
	s.watchDone = make(chan struct{})
	go func() {
		defer close(s.watchDone)
		err := manifest.Watch(ctx, s.manifestFile, s.store, manifest.WithLogger(s.component("manifest")))
		if err != nil && !errors.Is(err, context.Canceled) {
			s.log().Error("manifest watch stopped", "path", s.manifestFile, "error", err)
		}
	}()
}

// Attach registers and queues the paths of module. Fatal errors are passed
// to the fatal handler before being returned.
func (s *Service) Attach(ctx context.Context, module string) error {
	return s.escalate(s.router.Attach(ctx, module))
}

// Detach cancels queued reads of module and unloads its resources. Fatal
// errors are passed to the fatal handler before being returned.
func (s *Service) Detach(ctx context.Context, module string) error {
	return s.escalate(s.router.Detach(ctx, module))
}

// WaitIdle blocks until every queued read has completed or ctx is done.
func (s *Service) WaitIdle(ctx context.Context) error {
	return s.queue.WaitIdle(ctx)
}

// Lookup returns the Loaded slot for an archive path. Paths this service
// registered resolve to their assignment. Other paths resolve as host
// entries, whose Loaded slot is their Paths slot; a host path whose Paths
// slot lies beyond the Loaded table is not found.
func (s *Service) Lookup(p string) (archive.Slot, bool) {
	if a, ok := s.router.Assignment(p); ok {
		return a.Slot, true
	}
	return s.index.HostSlot(archive.HashPath(p))
}

// Stats returns a summary of the tables, resources, and queue.
func (s *Service) Stats() Stats {
	rs := s.res.Stats()
	return Stats{
		Tables:     s.index.Lengths(),
		Generation: s.index.Generation(),
		Loaded:     rs.Loaded,
		Bytes:      rs.Bytes,
		Queued:     s.queue.Len(),
		Registered: s.router.Registered(),
		Attached:   s.router.Attached(),
	}
}

// Index returns the archive index.
func (s *Service) Index() *archive.Index { return s.index }

// Resources returns the resource table.
func (s *Service) Resources() *resource.Table { return s.res }

// Queue returns the load queue.
func (s *Service) Queue() *loadqueue.Queue { return s.queue }

// Router returns the lifecycle router.
func (s *Service) Router() *router.Router { return s.router }

// Manifest returns the manifest provider.
func (s *Service) Manifest() manifest.Provider { return s.provider }

// Close stops the manifest watcher and the load queue worker. Queued reads
// are discarded. Close is idempotent.
func (s *Service) Close() error {
	s.closeOnce.Do(func() {
		if s.stopWatch != nil {
			s.stopWatch()
			<-s.watchDone
		}
		s.queue.Stop()
		s.log().Info("service closed")
	})
	return nil
}
