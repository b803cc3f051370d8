package arcext

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/opencontainers/go-digest"

	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/manifest"
	"github.com/meigma/arcext/router"
)

// Option configures a Service.
type Option func(*Service) error

// --- Sources ---

// WithMounts adds scheme → directory mounts. Paths such as "rom:/a/b"
// resolve against the directory mounted for "rom".
func WithMounts(mounts map[string]string) Option {
	return func(s *Service) error {
		for scheme, dir := range mounts {
			if err := WithMount(scheme, dir)(s); err != nil {
				return err
			}
		}
		return nil
	}
}

// WithMount adds a single mount.
func WithMount(scheme, dir string) Option {
	return func(s *Service) error {
		if s.mountDirs == nil {
			s.mountDirs = make(map[string]string)
		}
		if _, dup := s.mountDirs[scheme]; dup {
			return fmt.Errorf("arcext: mount %q configured twice", scheme)
		}
		s.mountDirs[scheme] = dir
		return nil
	}
}

// --- Host tables ---

// WithSeed sets the host tables the service starts from.
func WithSeed(t archive.Tables) Option {
	return func(s *Service) error {
		s.seed = &t
		return nil
	}
}

// WithSeedImage reads the host tables from an image written by
// archive.EncodeImage. It takes precedence over WithSeed.
func WithSeedImage(path string) Option {
	return func(s *Service) error {
		s.seedImage = path
		return nil
	}
}

// WithProbeConcurrency bounds concurrent size probes during extension.
func WithProbeConcurrency(n int) Option {
	return func(s *Service) error {
		if n < 0 {
			return errors.New("arcext: probe concurrency must not be negative")
		}
		s.probeWorkers = n
		return nil
	}
}

// --- Manifest ---

// WithManifest uses p as the module → paths provider.
func WithManifest(p manifest.Provider) Option {
	return func(s *Service) error {
		if p == nil {
			return errors.New("arcext: manifest provider is nil")
		}
		s.provider = p
		return nil
	}
}

// WithManifestFile reads the manifest from a host filesystem path.
func WithManifestFile(path string) Option {
	return func(s *Service) error {
		s.manifestFile = path
		return nil
	}
}

// WithManifestPath reads the manifest from an archive path (for example
// "rom:/hdr/file_map.json") through the load queue.
func WithManifestPath(path string) Option {
	return func(s *Service) error {
		s.manifestPath = path
		return nil
	}
}

// WithManifestWatch reloads a manifest configured with WithManifestFile
// whenever the file changes.
func WithManifestWatch() Option {
	return func(s *Service) error {
		s.watch = true
		return nil
	}
}

// --- Routing ---

// WithRegistrationExtensions sets the file extensions added to the archive
// on attach. Defaults to ".nuanmb".
func WithRegistrationExtensions(exts ...string) Option {
	return func(s *Service) error {
		s.regExts = append([]string{}, exts...)
		return nil
	}
}

// WithPreregisterOn registers the paths of every manifest module when module
// attaches.
func WithPreregisterOn(module string) Option {
	return func(s *Service) error {
		s.preregisterOn = module
		return nil
	}
}

// WithPlainConsumer receives reads whose paths the archive does not know.
// fn runs on the load queue worker and may call back into the Service, but
// must not wait for the queue to go idle.
func WithPlainConsumer(fn router.PlainConsumer) Option {
	return func(s *Service) error {
		s.plain = fn
		return nil
	}
}

// --- Limits and integrity ---

// WithMaxFileSize limits the size of a single source file. Zero disables
// the limit.
func WithMaxFileSize(limit uint64) Option {
	return func(s *Service) error {
		s.maxFileSize = limit
		return nil
	}
}

// WithDigestAlgorithm selects the digest recorded for loaded resources.
func WithDigestAlgorithm(algo digest.Algorithm) Option {
	return func(s *Service) error {
		if !algo.Available() {
			return fmt.Errorf("arcext: digest algorithm %q is not available", algo)
		}
		s.digestAlgo = algo
		return nil
	}
}

// --- Diagnostics ---

// WithFatalHandler sets the handler for fatal errors. The default handler
// logs the error and panics.
func WithFatalHandler(h FatalHandler) Option {
	return func(s *Service) error {
		s.fatal = h
		return nil
	}
}

// WithLogger sets the logger. Each component logs with a "component"
// attribute.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) error {
		s.logger = logger
		return nil
	}
}
