package qmod

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"sync"
	"testing"

	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/require"

	"github.com/agentx-labs/modkit/internal/mods"
)

var testLayout = Layout{ModsDir: "/game/mods", LibsDir: "/game/libs"}

// fakeHost stands in for the registry: it imports validated bytes straight
// into the provider.
type fakeHost struct {
	mu       sync.Mutex
	imported []string
}

func (h *fakeHost) InstallLock() sync.Locker { return &h.mu }

func (h *fakeHost) ImportValidated(ctx context.Context, p mods.Provider, data []byte, filename string) (mods.Mod, error) {
	h.imported = append(h.imported, filename)
	m, err := p.TryParseMod(mods.BytesSource(data), true)
	if err != nil {
		return nil, err
	}
	if m == nil {
		return nil, errors.New("not a mod")
	}
	if err := p.AddMod(ctx, m); err != nil {
		_ = m.Close()
		return nil, err
	}
	return m, nil
}

type testEnv struct {
	fs       afero.Fs
	host     *fakeHost
	provider *Provider
	events   []mods.Event
}

func newTestEnv(t *testing.T, opts ...Option) *testEnv {
	t.Helper()
	return newTestEnvWithFs(t, afero.NewMemMapFs(), opts...)
}

func newTestEnvWithFs(t *testing.T, fs afero.Fs, opts ...Option) *testEnv {
	t.Helper()
	env := &testEnv{fs: fs, host: &fakeHost{}}
	opts = append([]Option{WithLogger(zerolog.Nop())}, opts...)
	env.provider = NewProvider(env.host, fs, testLayout, opts...)
	env.provider.Subscribe(func(ev mods.Event) { env.events = append(env.events, ev) })
	return env
}

// add parses data as an owned mod and hands it to the provider.
func (e *testEnv) add(t *testing.T, data []byte) *Mod {
	t.Helper()
	m, err := e.provider.TryParseMod(mods.BytesSource(data), true)
	require.NoError(t, err)
	require.NotNil(t, m)
	require.NoError(t, e.provider.AddMod(context.Background(), m))
	return m.(*Mod)
}

// installOrder returns the IDs of mods that became installed, in order.
func (e *testEnv) installOrder() []string {
	var ids []string
	for _, ev := range e.events {
		if ev.Kind == mods.EventModStatusChanged && ev.Mod.IsInstalled() {
			ids = append(ids, ev.ID)
		}
	}
	return ids
}

func (e *testEnv) exists(t *testing.T, path string) bool {
	t.Helper()
	ok, err := afero.Exists(e.fs, path)
	require.NoError(t, err)
	return ok
}

func modManifest(id, version string, deps ...DependencyRef) Manifest {
	return Manifest{
		ID:           id,
		Name:         id,
		Version:      version,
		ModFiles:     []string{"lib" + id + ".so"},
		Dependencies: deps,
	}
}

func libraryManifest(id, version string, deps ...DependencyRef) Manifest {
	return Manifest{
		ID:           id,
		Name:         id,
		Version:      version,
		IsLibrary:    true,
		LibraryFiles: []string{"lib" + id + ".so"},
		Dependencies: deps,
	}
}

func dependsOn(id, rng string) DependencyRef {
	return DependencyRef{ID: id, Version: rng}
}

// buildQmod zips m as mod.json together with generated content for every
// entry it references.
func buildQmod(t *testing.T, m Manifest) []byte {
	t.Helper()
	files := make(map[string][]byte)
	for _, name := range m.ArchiveEntries() {
		files[name] = []byte(m.ID + "@" + m.Version + ":" + name)
	}
	raw, err := json.Marshal(m)
	require.NoError(t, err)
	files[ManifestJSON] = raw
	return buildArchive(t, files)
}

func buildArchive(t *testing.T, files map[string][]byte) []byte {
	t.Helper()
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	// Manifest first so the archive reads like a packaged qmod.
	names := make([]string, 0, len(files))
	for _, name := range []string{ManifestJSON, ManifestYAML} {
		if _, ok := files[name]; ok {
			names = append(names, name)
		}
	}
	for name := range files {
		if name != ManifestJSON && name != ManifestYAML {
			names = append(names, name)
		}
	}
	for _, name := range names {
		w, err := zw.Create(name)
		require.NoError(t, err)
		_, err = w.Write(files[name])
		require.NoError(t, err)
	}
	require.NoError(t, zw.Close())
	return buf.Bytes()
}

// countingSource records how often it was closed.
type countingSource struct {
	mods.Source
	closes int
}

func (s *countingSource) Close() error {
	s.closes++
	return nil
}

// failingFs refuses to open one path for writing.
type failingFs struct {
	afero.Fs
	fail string
}

func (f failingFs) OpenFile(name string, flag int, perm os.FileMode) (afero.File, error) {
	if name == f.fail && flag&(os.O_WRONLY|os.O_RDWR) != 0 {
		return nil, &os.PathError{Op: "open", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.OpenFile(name, flag, perm)
}

// stuckFs refuses to remove one path.
type stuckFs struct {
	afero.Fs
	stuck string
}

func (f stuckFs) Remove(name string) error {
	if name == f.stuck {
		return &os.PathError{Op: "remove", Path: name, Err: os.ErrPermission}
	}
	return f.Fs.Remove(name)
}
