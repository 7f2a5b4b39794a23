package qmod

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"sync"
	"sync/atomic"

	"github.com/Masterminds/semver/v3"
	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"

	"github.com/agentx-labs/modkit/internal/mods"
)

// Mod is a parsed qmod.
type Mod struct {
	provider *Provider
	manifest *Manifest
	version  *semver.Version
	deps     []mods.Dependency

	// src is set only when the mod owns its source.
	src     mods.Source
	entries map[string]*zip.File

	// installed is written only under the install lock but read without it
	// through IsInstalled.
	installed atomic.Bool

	closeOnce sync.Once
	closeErr  error
}

var (
	_ mods.Mod                   = (*Mod)(nil)
	_ mods.CopyExtensionProvider = (*Mod)(nil)
)

func (m *Mod) ID() string { return m.manifest.ID }
func (m *Mod) Name() string { return m.manifest.Name }
func (m *Mod) Author() string { return m.manifest.Author }
func (m *Mod) Description() string { return m.manifest.Description }
func (m *Mod) Version() *semver.Version { return m.version }
func (m *Mod) IsLibrary() bool { return m.manifest.IsLibrary }
func (m *Mod) IsInstalled() bool { return m.installed.Load() }
func (m *Mod) Provider() mods.Provider { return m.provider }
func (m *Mod) Manifest() Manifest { return *m.manifest }
func (m *Mod) PackageID() string { return m.manifest.PackageID }
func (m *Mod) PackageVersion() string { return m.manifest.PackageVersion }

// Dependencies returns a copy of the declared dependencies.
func (m *Mod) Dependencies() []mods.Dependency {
	out := make([]mods.Dependency, len(m.deps))
	copy(out, m.deps)
	return out
}

// CopyExtensions returns the file types this mod accepts once installed.
func (m *Mod) CopyExtensions() []mods.CopyExtension {
	out := make([]mods.CopyExtension, 0, len(m.manifest.CopyExtensions))
	for _, ce := range m.manifest.CopyExtensions {
		out = append(out, mods.CopyExtension{Extension: ce.Extension, Destination: ce.Destination})
	}
	return out
}

// Install installs the mod and its dependency graph.
func (m *Mod) Install(ctx context.Context) error {
	lock := m.provider.host.InstallLock()
	lock.Lock()
	defer lock.Unlock()

	if err := m.provider.checkRegistered(m); err != nil {
		return err
	}
	return m.provider.install(ctx, m, make(map[string]struct{}))
}

// Uninstall removes the mod's files, uninstalls its dependents and collects
// libraries that are no longer needed.
func (m *Mod) Uninstall(ctx context.Context) error {
	lock := m.provider.host.InstallLock()
	lock.Lock()
	defer lock.Unlock()

	if err := m.provider.checkRegistered(m); err != nil {
		return err
	}
	return m.provider.uninstall(ctx, m)
}

// Close releases the archive and, if the mod owns it, the source.
func (m *Mod) Close() error {
	m.closeOnce.Do(func() {
		m.entries = nil
		if m.src != nil {
			m.closeErr = m.src.Close()
			m.src = nil
		}
	})
	return m.closeErr
}

// Cover returns the cover image and its detected MIME type. It returns
// (nil, "", nil) when the mod declares no cover.
func (m *Mod) Cover() ([]byte, string, error) {
	if m.manifest.CoverImage == "" {
		return nil, "", nil
	}
	data, err := m.readEntry(m.manifest.CoverImage)
	if err != nil {
		return nil, "", err
	}
	return data, mimetype.Detect(data).String(), nil
}

// dependsOn reports whether m declares a dependency on id.
func (m *Mod) dependsOn(id string) bool {
	for _, d := range m.deps {
		if d.ID == id {
			return true
		}
	}
	return false
}

func (m *Mod) dependency(id string) (mods.Dependency, bool) {
	for _, d := range m.deps {
		if d.ID == id {
			return d, true
		}
	}
	return mods.Dependency{}, false
}

// declaresLibrary reports whether m installs a library file named base.
func (m *Mod) declaresLibrary(base string) bool {
	for _, name := range m.manifest.LibraryFiles {
		if entryBase(name) == base {
			return true
		}
	}
	return false
}

func (m *Mod) readEntry(name string) ([]byte, error) {
	if m.entries == nil {
		return nil, mods.NewError(mods.ErrIO, m.ID(), "archive is not open")
	}
	f, ok := m.entries[name]
	if !ok {
		return nil, mods.NewError(mods.ErrInvalidPackage, m.ID(), "archive has no entry %q", name)
	}
	rc, err := f.Open()
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrIO, m.ID(), "opening %s", name)
	}
	defer rc.Close()

	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrIO, m.ID(), "reading %s", name)
	}
	return data, nil
}

type fileKind int

const (
	kindModFile fileKind = iota
	kindLibraryFile
	kindFileCopy
)

// placement is one archive entry and where install puts it.
type placement struct {
	entry string
	dest  string
	kind  fileKind
}

// placements lists where install puts each entry. A destination named more
// than once is only written for its first entry.
func (m *Mod) placements() []placement {
	layout := m.provider.layout
	var out []placement
	seen := make(map[string]bool)
	add := func(entry, dest string, kind fileKind) {
		if seen[dest] {
			return
		}
		seen[dest] = true
		out = append(out, placement{entry: entry, dest: dest, kind: kind})
	}
	for _, name := range m.manifest.ModFiles {
		add(name, filepath.Join(layout.ModsDir, entryBase(name)), kindModFile)
	}
	for _, name := range m.manifest.LibraryFiles {
		add(name, filepath.Join(layout.LibsDir, entryBase(name)), kindLibraryFile)
	}
	for _, fc := range m.manifest.FileCopies {
		add(fc.Name, filepath.Clean(fc.Destination), kindFileCopy)
	}
	return out
}

func (m *Mod) String() string {
	return fmt.Sprintf("%s@%s", m.ID(), m.manifest.Version)
}
