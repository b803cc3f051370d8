package arcext

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/opencontainers/go-digest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/meigma/arcext/archive"
	"github.com/meigma/arcext/internal/testutil"
)

const fileMap = `{
	"common": [
		"rom:/param/fighter_param.prc",
	],
	"fighter/mario": [
		"sd:/mods/mario/a00wait1.nuanmb",
		"sd:/mods/mario/a00walk.nuanmb",
	],
	"fighter/luigi": [
		"sd:/mods/luigi/a00wait1.nuanmb",
	],
	// shares an animation with mario
	"fighter/mario_alt": [
		"sd:/mods/mario/a00wait1.nuanmb",
	],
}`

type serviceFixture struct {
	root  string
	rec   *testutil.FatalRecorder
	plain *testutil.Collector
}

func newServiceFixture(tb testing.TB) *serviceFixture {
	tb.Helper()
	root := tb.TempDir()
	testutil.WriteFiles(tb, root, map[string]string{
		"rom/hdr/file_map.json":         fileMap,
		"rom/param/fighter_param.prc":   "params",
		"sd/mods/mario/a00wait1.nuanmb": "mario-wait",
		"sd/mods/mario/a00walk.nuanmb":  "mario-walk",
		"sd/mods/luigi/a00wait1.nuanmb": "luigi-wait",
	})
	return &serviceFixture{root: root, rec: &testutil.FatalRecorder{}, plain: testutil.NewCollector()}
}

func (f *serviceFixture) options(extra ...Option) []Option {
	return append([]Option{
		WithMounts(map[string]string{
			"rom": filepath.Join(f.root, "rom"),
			"sd":  filepath.Join(f.root, "sd"),
		}),
		WithSeed(archive.Seed(testutil.SeedHashes(10), nil)),
		WithManifestPath("rom:/hdr/file_map.json"),
		WithPlainConsumer(f.plain.Handle),
		WithFatalHandler(f.rec.Handle),
	}, extra...)
}

func (f *serviceFixture) service(tb testing.TB, extra ...Option) *Service {
	tb.Helper()
	svc, err := New(context.Background(), f.options(extra...)...)
	require.NoError(tb, err)
	tb.Cleanup(func() { _ = svc.Close() })
	return svc
}

func waitIdle(tb testing.TB, svc *Service) {
	tb.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(tb, svc.WaitIdle(ctx))
}

func TestNewRequiresMount(t *testing.T) {
	t.Parallel()
	_, err := New(context.Background())
	assert.Error(t, err)
}

func TestNewRejectsBadOptions(t *testing.T) {
	t.Parallel()

	_, err := New(context.Background(), WithMount("rom", "/a"), WithMount("rom", "/b"))
	assert.Error(t, err)
	_, err = New(context.Background(), WithDigestAlgorithm(digest.Algorithm("md5")))
	assert.Error(t, err)
	_, err = New(context.Background(), WithProbeConcurrency(-1))
	assert.Error(t, err)
	_, err = New(context.Background(), WithManifest(nil))
	assert.Error(t, err)
}

func TestServiceLifecycle(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	svc := f.service(t, WithPreregisterOn("common"), WithDigestAlgorithm(digest.BLAKE3))
	ctx := context.Background()

	assert.Equal(t, []string{"common", "fighter/luigi", "fighter/mario", "fighter/mario_alt"}, svc.Manifest().Modules())

	require.NoError(t, svc.Attach(ctx, "common"))
	waitIdle(t, svc)

	stats := svc.Stats()
	assert.Equal(t, 3, stats.Registered, "preregistration covers every module")
	assert.Equal(t, 13, stats.Tables[archive.TablePaths])
	assert.Equal(t, uint64(1), stats.Generation)
	assert.Equal(t, []string{"rom:/param/fighter_param.prc"}, f.plain.Paths())

	require.NoError(t, svc.Attach(ctx, "fighter/mario"))
	waitIdle(t, svc)

	stats = svc.Stats()
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, uint64(len("mario-wait")+len("mario-walk")), stats.Bytes)
	assert.Equal(t, []string{"common", "fighter/mario"}, stats.Attached)
	assert.Equal(t, uint64(1), stats.Generation, "no second extension")

	slot, ok := svc.Lookup("sd:/mods/mario/a00walk.nuanmb")
	require.True(t, ok)
	st, err := svc.Resources().State(slot)
	require.NoError(t, err)
	assert.Equal(t, archive.StatusLoaded, st.Status)
	assert.Equal(t, digest.BLAKE3, st.Digest.Algorithm())

	require.NoError(t, svc.Detach(ctx, "fighter/mario"))
	stats = svc.Stats()
	assert.Zero(t, stats.Loaded)
	assert.Equal(t, []string{"common"}, stats.Attached)
	assert.Zero(t, f.rec.Len())

	_, ok = svc.Lookup("sd:/unknown.nuanmb")
	assert.False(t, ok)
}

func TestServiceSharedPathDoubleLoadIsFatal(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	svc := f.service(t)
	ctx := context.Background()

	require.NoError(t, svc.Attach(ctx, "fighter/mario"))
	waitIdle(t, svc)
	require.NoError(t, svc.Attach(ctx, "fighter/mario_alt"))
	waitIdle(t, svc)

	errs := f.rec.Errors()
	require.Len(t, errs, 1)
	assert.ErrorIs(t, errs[0], ErrDoubleLoad)
	assert.ErrorIs(t, errs[0], ErrInvariant)
}

func TestServiceAttachFatalIsEscalated(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	require.NoError(t, os.Remove(filepath.Join(f.root, "sd/mods/luigi/a00wait1.nuanmb")))
	svc := f.service(t)

	err := svc.Attach(context.Background(), "fighter/luigi")
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrFileNotFound)

	errs := f.rec.Errors()
	require.Len(t, errs, 1)
	assert.Equal(t, err, errs[0])
	assert.Equal(t, 10, svc.Stats().Tables[archive.TablePaths])
}

func TestServiceManifestThroughQueueFailures(t *testing.T) {
	t.Parallel()

	t.Run("missing", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		_, err := New(context.Background(), f.options(WithManifestPath("rom:/hdr/missing.json"))...)
		require.Error(t, err)
		errs := f.rec.Errors()
		require.Len(t, errs, 1)
		assert.ErrorIs(t, errs[0], ErrFileNotFound)
	})

	t.Run("malformed", func(t *testing.T) {
		t.Parallel()
		f := newServiceFixture(t)
		testutil.WriteFiles(t, f.root, map[string]string{"rom/hdr/bad.json": `["not", "an", "object"]`})
		_, err := New(context.Background(), f.options(WithManifestPath("rom:/hdr/bad.json"))...)
		assert.ErrorIs(t, err, ErrMalformedManifest)
		assert.Equal(t, 1, f.rec.Len())
	})
}

func TestServiceSeedImageAndManifestFile(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	var buf bytes.Buffer
	require.NoError(t, archive.EncodeImage(&buf, archive.Seed(testutil.SeedHashes(4), nil), archive.CompressionZstd))
	image := filepath.Join(f.root, "host.img")
	require.NoError(t, os.WriteFile(image, buf.Bytes(), 0o600))

	svc := f.service(t,
		WithSeedImage(image),
		WithManifestFile(filepath.Join(f.root, "rom/hdr/file_map.json")),
		WithManifestWatch(),
	)
	assert.Equal(t, 4, svc.Stats().Tables[archive.TableResources])
	assert.Len(t, svc.Manifest().Modules(), 4)

	require.NoError(t, svc.Attach(context.Background(), "fighter/luigi"))
	waitIdle(t, svc)
	slot, ok := svc.Lookup("sd:/mods/luigi/a00wait1.nuanmb")
	require.True(t, ok)
	assert.Equal(t, archive.Slot(4), slot)

	require.NoError(t, svc.Close())
	require.NoError(t, svc.Close())
}

func TestServiceSeedFromDumpedImage(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	ctx := context.Background()
	first := f.service(t)
	require.NoError(t, first.Attach(ctx, "fighter/mario"))
	waitIdle(t, first)
	require.Equal(t, 2, first.Stats().Loaded)

	var buf bytes.Buffer
	require.NoError(t, archive.EncodeImage(&buf, first.Index().Snapshot(), archive.CompressionLZ4))
	image := filepath.Join(f.root, "dump.img")
	require.NoError(t, os.WriteFile(image, buf.Bytes(), 0o600))

	second := f.service(t, WithSeedImage(image))
	stats := second.Stats()
	assert.Equal(t, first.Stats().Tables, stats.Tables)
	assert.Zero(t, stats.Loaded, "image buffers are not restored")

	require.NoError(t, second.Attach(ctx, "fighter/mario"))
	waitIdle(t, second)
	assert.Equal(t, 2, second.Stats().Loaded)
	assert.Zero(t, f.rec.Len())
}

func TestPlainConsumerCanCallService(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	seen := make(chan Stats, 1)
	var svc *Service
	svc = f.service(t, WithPlainConsumer(func(p string, _ []byte) {
		_, _ = svc.Lookup(p)
		seen <- svc.Stats()
	}))

	require.NoError(t, svc.Attach(context.Background(), "common"))
	waitIdle(t, svc)

	select {
	case stats := <-seen:
		assert.Equal(t, []string{"common"}, stats.Attached)
	default:
		t.Fatal("plain consumer did not run")
	}
	assert.Zero(t, f.rec.Len())
}

func TestServiceBadSeedImage(t *testing.T) {
	t.Parallel()

	f := newServiceFixture(t)
	image := filepath.Join(f.root, "bad.img")
	require.NoError(t, os.WriteFile(image, []byte("garbage"), 0o600))

	_, err := New(context.Background(), f.options(WithSeedImage(image))...)
	assert.ErrorIs(t, err, archive.ErrBadImage)
}
