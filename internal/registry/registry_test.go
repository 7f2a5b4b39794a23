package registry_test

import (
	"context"
	"path/filepath"
	"sort"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentx-labs/modkit/internal/mods"
	"github.com/agentx-labs/modkit/internal/qmod"
	"github.com/agentx-labs/modkit/internal/qmod/qmodtest"
	"github.com/agentx-labs/modkit/internal/registry"
)

const packagesDir = "/data/packages"

var layout = qmod.Layout{ModsDir: "/game/mods", LibsDir: "/game/libs"}

type fixture struct {
	fs       afero.Fs
	reg      *registry.Registry
	provider *qmod.Provider
	events   []mods.Event
}

func newFixture(t *testing.T, fs afero.Fs, regOpts []registry.Option, qmodOpts ...qmod.Option) *fixture {
	t.Helper()
	f := &fixture{fs: fs}
	regOpts = append([]registry.Option{registry.WithLogger(zerolog.Nop())}, regOpts...)
	f.reg = registry.New(fs, packagesDir, regOpts...)
	qmodOpts = append([]qmod.Option{qmod.WithLogger(zerolog.Nop())}, qmodOpts...)
	f.provider = qmod.NewProvider(f.reg, fs, layout, qmodOpts...)
	f.reg.Register(f.provider)
	f.reg.Subscribe(func(ev mods.Event) { f.events = append(f.events, ev) })
	return f
}

func (f *fixture) importBytes(t *testing.T, data []byte, filename string) *registry.ImportResult {
	t.Helper()
	res, err := f.reg.TryImport(context.Background(), mods.BytesSource(data), filename)
	require.NoError(t, err)
	require.NotNil(t, res)
	return res
}

func (f *fixture) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(f.fs, path)
	require.NoError(t, err)
	return ok
}

func (f *fixture) kinds(id string) []mods.EventKind {
	var kinds []mods.EventKind
	for _, ev := range f.events {
		if ev.ID == id {
			kinds = append(kinds, ev.Kind)
		}
	}
	return kinds
}

func packageFiles(t *testing.T, fs afero.Fs) []string {
	t.Helper()
	infos, err := afero.ReadDir(fs, packagesDir)
	require.NoError(t, err)
	var names []string
	for _, info := range infos {
		names = append(names, info.Name())
	}
	sort.Strings(names)
	return names
}

func TestTryImport(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)

	res := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), "/downloads/a.qmod")
	assert.Equal(t, "a", res.Mod.ID())
	assert.Equal(t, filepath.Join(packagesDir, "a.qmod"), res.Path)
	assert.Equal(t, qmod.ProviderName, res.Provider)
	assert.False(t, res.Mod.IsInstalled())

	entry, ok, err := f.reg.Get(context.Background(), "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, res.Mod, entry.Mod)
	assert.Equal(t, []mods.EventKind{mods.EventModAdded}, f.kinds("a"))
}

func TestTryImport_CollisionAvoidingNames(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)

	first := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), "pack.qmod")
	second := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("b", "1.0.0")), "pack.qmod")
	third := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("c", "1.0.0")), "pack.qmod")

	assert.Equal(t, filepath.Join(packagesDir, "pack.qmod"), first.Path)
	assert.Equal(t, filepath.Join(packagesDir, "pack_1.qmod"), second.Path)
	assert.Equal(t, filepath.Join(packagesDir, "pack_2.qmod"), third.Path)
}

func TestTryImport_NotRecognized(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)
	ctx := context.Background()

	res, err := f.reg.TryImport(ctx, mods.BytesSource(qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0"))), "a.zip")
	require.NoError(t, err)
	assert.Nil(t, res, "extension not claimed by any provider")

	res, err = f.reg.TryImport(ctx, mods.BytesSource([]byte("plain text")), "notes.qmod")
	require.NoError(t, err)
	assert.Nil(t, res, "content is not a qmod")

	assert.Empty(t, packageFiles(t, f.fs))
}

func TestTryImport_InvalidLeavesNothingBehind(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil, qmod.WithTarget(qmod.Target{PackageID: "com.example.game"}))
	ctx := context.Background()

	man := qmodtest.Mod("a", "1.0.0")
	man.PackageID = "com.example.other"
	_, err := f.reg.TryImport(ctx, mods.BytesSource(qmodtest.MustBuild(t, man)), "a.qmod")
	require.ErrorIs(t, err, mods.ErrWrongTarget)

	var ie *mods.InstallationError
	require.ErrorAs(t, err, &ie)

	all, err := f.reg.GetAll(ctx)
	require.NoError(t, err)
	assert.Empty(t, all)
	assert.Empty(t, packageFiles(t, f.fs))
}

func TestTryImport_ReplacesSameID(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)
	ctx := context.Background()

	old := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), "a-1.0.0.qmod")
	require.NoError(t, f.reg.Install(ctx, "a"))

	res := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "2.0.0")), "a-2.0.0.qmod")
	assert.False(t, f.exists(t, old.Path), "the replaced package file is deleted")
	assert.Equal(t, []string{"a-2.0.0.qmod"}, packageFiles(t, f.fs))

	all, err := f.reg.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Same(t, res.Mod, all["a"].Mod)
	assert.False(t, old.Mod.IsInstalled())

	assert.Equal(t, []mods.EventKind{
		mods.EventModAdded,
		mods.EventModStatusChanged,
		mods.EventModStatusChanged,
		mods.EventModRemoved,
		mods.EventModAdded,
	}, f.kinds("a"))
}

func TestInstallUninstallByID(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)
	ctx := context.Background()

	f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Library("core-lib", "1.0.0")), "core-lib.qmod")
	f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("feature", "1.0.0", qmodtest.Dep("core-lib", "^1.0.0"))), "feature.qmod")

	require.NoError(t, f.reg.Install(ctx, "feature"))
	all, err := f.reg.GetAll(ctx)
	require.NoError(t, err)
	assert.True(t, all["feature"].Mod.IsInstalled())
	assert.True(t, all["core-lib"].Mod.IsInstalled())
	assert.True(t, f.exists(t, "/game/libs/libcore-lib.so"))

	require.NoError(t, f.reg.Uninstall(ctx, "feature"))
	assert.False(t, all["feature"].Mod.IsInstalled())
	assert.False(t, all["core-lib"].Mod.IsInstalled())
	assert.False(t, f.exists(t, "/game/libs/libcore-lib.so"))

	err = f.reg.Install(ctx, "missing")
	require.ErrorIs(t, err, mods.ErrNotFound)
	err = f.reg.Uninstall(ctx, "missing")
	require.ErrorIs(t, err, mods.ErrNotFound)
}

func TestColdStartRebuildsFromModsDir(t *testing.T) {
	fs := afero.NewMemMapFs()
	ctx := context.Background()

	first := newFixture(t, fs, nil)
	first.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), "a.qmod")
	first.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("b", "1.0.0")), "b.qmod")
	require.NoError(t, first.reg.Install(ctx, "a"))

	second := newFixture(t, fs, nil)
	all, err := second.reg.GetAll(ctx)
	require.NoError(t, err)
	require.Len(t, all, 2)
	assert.True(t, all["a"].Mod.IsInstalled(), "installed state comes from the filesystem")
	assert.False(t, all["b"].Mod.IsInstalled())
	assert.Equal(t, filepath.Join(packagesDir, "a.qmod"), all["a"].Path)
}

func TestLoadNewMods(t *testing.T) {
	ctx := context.Background()

	seed := func(t *testing.T, fs afero.Fs) {
		t.Helper()
		require.NoError(t, fs.MkdirAll(packagesDir, 0o755))
		write := func(name string, data []byte) {
			require.NoError(t, afero.WriteFile(fs, filepath.Join(packagesDir, name), data, 0o644))
		}
		write("good.qmod", qmodtest.MustBuild(t, qmodtest.Mod("good", "1.0.0")))
		write("bad.qmod", qmodtest.MustBuild(t, qmodtest.Mod("bad", "x.y.z")))
		write("notes.txt", []byte("keep me"))
	}

	t.Run("keeps invalid files by default", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		seed(t, fs)
		f := newFixture(t, fs, nil)

		require.NoError(t, f.reg.LoadNewMods(ctx))
		all, err := f.reg.GetAll(ctx)
		require.NoError(t, err)
		assert.Len(t, all, 1)
		assert.Contains(t, all, "good")
		assert.Equal(t, []string{"bad.qmod", "good.qmod", "notes.txt"}, packageFiles(t, fs))
	})

	t.Run("deletes invalid files when configured", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		seed(t, fs)
		f := newFixture(t, fs, []registry.Option{registry.WithDeleteInvalid(true)})

		require.NoError(t, f.reg.LoadNewMods(ctx))
		assert.Equal(t, []string{"good.qmod", "notes.txt"}, packageFiles(t, fs))
	})

	t.Run("picks up files added later", func(t *testing.T) {
		fs := afero.NewMemMapFs()
		f := newFixture(t, fs, nil)
		all, err := f.reg.GetAll(ctx)
		require.NoError(t, err)
		assert.Empty(t, all)

		require.NoError(t, afero.WriteFile(fs, filepath.Join(packagesDir, "late.qmod"),
			qmodtest.MustBuild(t, qmodtest.Mod("late", "1.0.0")), 0o644))
		require.NoError(t, f.reg.LoadNewMods(ctx))

		_, ok, err := f.reg.Get(ctx, "late")
		require.NoError(t, err)
		assert.True(t, ok)
	})
}

func TestRemove(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)
	ctx := context.Background()

	res := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), "a.qmod")
	require.NoError(t, f.reg.Install(ctx, "a"))

	require.NoError(t, f.reg.Remove(ctx, "a"))
	assert.False(t, res.Mod.IsInstalled())
	assert.False(t, f.exists(t, res.Path))
	assert.False(t, f.exists(t, "/game/mods/liba.so"))
	_, ok, err := f.reg.Get(ctx, "a")
	require.NoError(t, err)
	assert.False(t, ok)

	err = f.reg.Unload(ctx, res.Mod)
	require.ErrorIs(t, err, mods.ErrNotFound)
	err = f.reg.Remove(ctx, "a")
	require.ErrorIs(t, err, mods.ErrNotFound)
}

func TestInstall_DownloadsThroughRegistry(t *testing.T) {
	const uri = "https://mods.example.com/core-lib.qmod"
	core := qmodtest.MustBuild(t, qmodtest.Library("core-lib", "1.1.0"))
	fetcher := mods.FetcherFunc(func(_ context.Context, u string) ([]byte, error) {
		require.Equal(t, uri, u)
		return core, nil
	})
	f := newFixture(t, afero.NewMemMapFs(), nil, qmod.WithFetcher(fetcher))
	ctx := context.Background()

	feature := qmodtest.Mod("feature", "1.0.0", qmod.DependencyRef{ID: "core-lib", Version: "^1.0.0", DownloadIfMissing: uri})
	f.importBytes(t, qmodtest.MustBuild(t, feature), "feature.qmod")

	require.NoError(t, f.reg.Install(ctx, "feature"))
	entry, ok, err := f.reg.Get(ctx, "core-lib")
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, entry.Mod.IsInstalled())
	assert.Equal(t, filepath.Join(packagesDir, "core-lib.qmod"), entry.Path)
	assert.True(t, f.exists(t, entry.Path))
}

func TestCopyFile(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)
	ctx := context.Background()

	man := qmodtest.Mod("sabres", "1.0.0")
	man.CopyExtensions = []qmod.CopyExtension{{Extension: "sabre", Destination: "/game/sabres"}}
	f.importBytes(t, qmodtest.MustBuild(t, man), "sabres.qmod")

	_, err := f.reg.CopyFile(ctx, strings.NewReader("blade"), "/downloads/red.sabre")
	require.ErrorIs(t, err, mods.ErrNoCopyDestination, "destinations only count once the mod is installed")

	require.NoError(t, f.reg.Install(ctx, "sabres"))
	dests, err := f.reg.CopyDestinations(ctx, ".SABRE")
	require.NoError(t, err)
	assert.Equal(t, []string{"/game/sabres"}, dests)

	written, err := f.reg.CopyFile(ctx, strings.NewReader("blade"), "/downloads/red.sabre")
	require.NoError(t, err)
	assert.Equal(t, []string{"/game/sabres/red.sabre"}, written)
	data, err := afero.ReadFile(f.fs, "/game/sabres/red.sabre")
	require.NoError(t, err)
	assert.Equal(t, "blade", string(data))

	_, err = f.reg.CopyFile(ctx, strings.NewReader("x"), "song.wav")
	require.ErrorIs(t, err, mods.ErrNoCopyDestination)
}

func TestTryImport_SameIDFromAnotherProvider(t *testing.T) {
	f := newFixture(t, afero.NewMemMapFs(), nil)
	fake := newFakeProvider()
	f.reg.Register(fake)
	ctx := context.Background()

	old := f.importBytes(t, qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), "a.qmod")
	require.NoError(t, f.reg.Install(ctx, "a"))

	res := f.importBytes(t, []byte("a@2.0.0"), "a.fake")
	assert.Equal(t, "fake", res.Provider)

	assert.Empty(t, f.provider.Mods(), "the qmod provider gave up a")
	assert.Len(t, fake.Mods(), 1)
	assert.False(t, old.Mod.IsInstalled())
	assert.False(t, f.exists(t, "/game/mods/liba.so"))
	assert.Equal(t, []string{"a.fake"}, packageFiles(t, f.fs))

	entry, ok, err := f.reg.Get(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Same(t, res.Mod, entry.Mod)

	assert.Equal(t, []mods.EventKind{
		mods.EventModAdded,
		mods.EventModStatusChanged,
		mods.EventModStatusChanged,
		mods.EventModRemoved,
		mods.EventModAdded,
	}, f.kinds("a"))
}

func TestLoadNewMods_SameIDFromAnotherProvider(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll(packagesDir, 0o755))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(packagesDir, "a.fake"), []byte("a@2.0.0"), 0o644))
	require.NoError(t, afero.WriteFile(fs, filepath.Join(packagesDir, "a.qmod"),
		qmodtest.MustBuild(t, qmodtest.Mod("a", "1.0.0")), 0o644))

	f := newFixture(t, fs, nil)
	fake := newFakeProvider()
	f.reg.Register(fake)

	all, err := f.reg.GetAll(context.Background())
	require.NoError(t, err)
	require.Len(t, all, 1)
	assert.Equal(t, qmod.ProviderName, all["a"].Mod.Provider().Name(), "the later file in name order wins")
	assert.Empty(t, fake.Mods())
	assert.Equal(t, []string{"a.qmod"}, packageFiles(t, fs))
}
