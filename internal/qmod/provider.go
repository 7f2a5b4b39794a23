package qmod

import (
	"context"
	"io"
	"path/filepath"
	"sort"
	"strings"

	"github.com/gabriel-vasile/mimetype"
	"github.com/klauspost/compress/zip"
	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/agentx-labs/modkit/internal/logging"
	"github.com/agentx-labs/modkit/internal/mods"
)

// ProviderName is the name the qmod provider registers under.
const ProviderName = "qmod"

// Extension is the file extension of qmod packages.
const Extension = ".qmod"

// sniffLen is how much of a source is read for signature detection.
const sniffLen = 3072

// Layout names the directories mod and library files are installed into.
type Layout struct {
	ModsDir string
	LibsDir string
}

// Target identifies the application qmods must be built for. Empty fields
// are not checked.
type Target struct {
	PackageID string
	Version   string
}

// Option configures a Provider.
type Option func(*Provider)

// WithTarget restricts accepted mods to those built for t.
func WithTarget(t Target) Option {
	return func(p *Provider) { p.target = t }
}

// WithFetcher sets the collaborator used to download missing dependencies.
func WithFetcher(f mods.Fetcher) Option {
	return func(p *Provider) { p.fetcher = f }
}

// WithLogger overrides the provider's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(p *Provider) { p.log = l }
}

// Provider parses, owns and installs qmods. Every method except Name,
// CanAttemptImport and TryParseMod expects the host's install lock to be
// held; Mod.Install and Mod.Uninstall take it themselves.
type Provider struct {
	host    mods.Host
	fs      afero.Fs
	layout  Layout
	target  Target
	fetcher mods.Fetcher
	log     zerolog.Logger

	mods   map[string]*Mod
	events mods.Emitter
}

var _ mods.Provider = (*Provider)(nil)

// NewProvider creates a qmod provider installing into layout on fs.
func NewProvider(host mods.Host, fs afero.Fs, layout Layout, opts ...Option) *Provider {
	p := &Provider{
		host:   host,
		fs:     fs,
		layout: layout,
		log:    logging.GetLogger("qmod"),
		mods:   make(map[string]*Mod),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

func (p *Provider) Name() string { return ProviderName }

// Layout returns the install layout.
func (p *Provider) Layout() Layout { return p.layout }

func (p *Provider) CanAttemptImport(filename string) bool {
	return strings.EqualFold(filepath.Ext(filename), Extension)
}

// Subscribe registers fn for ModUnloaded and ModStatusChanged events.
func (p *Provider) Subscribe(fn func(mods.Event)) { p.events.Subscribe(fn) }

// Mods returns the registered qmods sorted by ID.
func (p *Provider) Mods() []mods.Mod {
	sorted := p.sortedMods()
	out := make([]mods.Mod, len(sorted))
	for i, m := range sorted {
		out[i] = m
	}
	return out
}

// TryParseMod parses src as a qmod. Sources that are not zip archives or
// carry no manifest are not qmods and yield (nil, nil).
func (p *Provider) TryParseMod(src mods.Source, keepSourceOpen bool) (mods.Mod, error) {
	m, err := p.parse(src, keepSourceOpen)
	if m == nil || err != nil {
		return nil, err
	}
	return m, nil
}

func (p *Provider) parse(src mods.Source, keepSourceOpen bool) (*Mod, error) {
	size, err := mods.SourceSize(src)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrIO, "", "reading package")
	}

	head := make([]byte, sniffLen)
	n, err := src.ReadAt(head, 0)
	if n == 0 && err != nil {
		return nil, nil
	}
	if !isZip(mimetype.Detect(head[:n])) {
		return nil, nil
	}

	zr, err := zip.NewReader(src, size)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrInvalidPackage, "", "corrupt archive")
	}
	entries := make(map[string]*zip.File, len(zr.File))
	for _, f := range zr.File {
		entries[f.Name] = f
	}

	var manifestFile *zip.File
	for _, name := range []string{ManifestJSON, ManifestYAML} {
		if f, ok := entries[name]; ok {
			manifestFile = f
			break
		}
	}
	if manifestFile == nil {
		return nil, nil
	}

	m := &Mod{provider: p, entries: entries}
	data, err := m.readEntryFile(manifestFile)
	if err != nil {
		return nil, err
	}
	manifest, err := ParseManifest(data)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrInvalidPackage, "", "invalid %s", manifestFile.Name)
	}
	m.manifest = manifest
	m.version = manifest.ParsedVersion()
	m.deps = manifest.ParsedDependencies()

	var missing []string
	for _, name := range manifest.ArchiveEntries() {
		if _, ok := entries[name]; !ok {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, mods.NewError(mods.ErrInvalidPackage, manifest.ID,
			"archive is missing declared files: %s", strings.Join(missing, ", "))
	}

	if err := p.checkTarget(manifest); err != nil {
		return nil, err
	}

	if keepSourceOpen {
		m.src = src
	} else {
		// The trial mod can still be inspected but not installed.
		m.entries = nil
	}
	return m, nil
}

func (p *Provider) checkTarget(m *Manifest) error {
	if p.target.PackageID != "" && m.PackageID != "" && m.PackageID != p.target.PackageID {
		return mods.NewError(mods.ErrWrongTarget, m.ID,
			"built for %s, not %s", m.PackageID, p.target.PackageID)
	}
	if p.target.Version != "" && m.PackageVersion != "" && m.PackageVersion != p.target.Version {
		p.log.Warn().
			Str("mod", m.ID).
			Str("built_for", m.PackageVersion).
			Str("target", p.target.Version).
			Msg("mod was built for a different application version")
	}
	return nil
}

func isZip(mt *mimetype.MIME) bool {
	for ; mt != nil; mt = mt.Parent() {
		if mt.Is("application/zip") {
			return true
		}
	}
	return false
}

// AddMod takes ownership of m. A registered mod with the same ID is
// uninstalled and unloaded first. Every mod that lost its install through
// that cascade gets one reinstall attempt: direct dependents only when the
// new version satisfies them, the rest through normal dependency resolution.
func (p *Provider) AddMod(ctx context.Context, m mods.Mod) error {
	qm, ok := m.(*Mod)
	if !ok || qm.provider != p {
		return mods.NewError(mods.ErrInvalidPackage, m.ID(), "not a %s mod", ProviderName)
	}
	if qm.entries == nil {
		return mods.NewError(mods.ErrIO, qm.ID(), "mod was parsed without keeping its source open")
	}

	id := qm.ID()
	var lost []*Mod
	if old := p.mods[id]; old != nil && old != qm {
		p.log.Info().
			Str("mod", id).
			Str("old", old.manifest.Version).
			Str("new", qm.manifest.Version).
			Msg("replacing registered mod")

		if old.installed.Load() {
			before := p.installedSet()
			if err := p.uninstall(ctx, old); err != nil {
				return err
			}
			for _, other := range p.sortedMods() {
				if other != old && before[other] && !other.installed.Load() {
					lost = append(lost, other)
				}
			}
		}
		p.unload(old)
	}

	p.mods[id] = qm
	qm.installed.Store(p.filesPresent(qm))
	p.log.Debug().Str("mod", id).Bool("installed", qm.installed.Load()).Msg("mod added")

	p.reinstall(ctx, qm, lost)
	return nil
}

// reinstall gives every mod in lost one install attempt after replacement
// installed. Direct dependents of replacement go first and only when its
// version is in their range. A mod depending, directly or not, on one left
// out stays uninstalled too, as do libraries nothing reinstalled pulls in.
func (p *Provider) reinstall(ctx context.Context, replacement *Mod, lost []*Mod) {
	if len(lost) == 0 {
		return
	}
	id := replacement.ID()

	blocked := make(map[string]bool)
	var direct, transitive []*Mod
	for _, other := range lost {
		dep, ok := other.dependency(id)
		switch {
		case ok && !dep.Satisfied(replacement.version):
			p.log.Info().
				Str("mod", other.ID()).
				Str("requires", dep.RangeText).
				Str("available", replacement.manifest.Version).
				Msg("dependent left uninstalled after upgrade")
			blocked[other.ID()] = true
		case ok:
			direct = append(direct, other)
		case !other.IsLibrary():
			transitive = append(transitive, other)
		}
	}

	for changed := true; changed; {
		changed = false
		for _, other := range transitive {
			if blocked[other.ID()] {
				continue
			}
			for _, dep := range other.deps {
				if blocked[dep.ID] {
					p.log.Info().Str("mod", other.ID()).Str("dependency", dep.ID).Msg("dependent left uninstalled after upgrade")
					blocked[other.ID()] = true
					changed = true
					break
				}
			}
		}
	}

	for _, other := range append(direct, transitive...) {
		if blocked[other.ID()] || other.installed.Load() {
			continue
		}
		if err := p.install(ctx, other, make(map[string]struct{})); err != nil {
			p.log.Warn().Err(err).Str("mod", other.ID()).Msg("reinstalling dependent failed")
		}
	}
}

// UnloadMod uninstalls m if needed, then unregisters and closes it.
func (p *Provider) UnloadMod(ctx context.Context, m mods.Mod) (bool, error) {
	qm, ok := m.(*Mod)
	if !ok || p.mods[qm.ID()] != qm {
		return false, nil
	}
	if qm.installed.Load() {
		if err := p.uninstall(ctx, qm); err != nil {
			return false, err
		}
	}
	p.unload(qm)
	return true, nil
}

func (p *Provider) unload(m *Mod) {
	delete(p.mods, m.ID())
	if err := m.Close(); err != nil {
		p.log.Warn().Err(err).Str("mod", m.ID()).Msg("closing mod source")
	}
	p.events.Emit(mods.Event{Kind: mods.EventModUnloaded, ID: m.ID(), Mod: m})
}

func (p *Provider) checkRegistered(m *Mod) error {
	if p.mods[m.ID()] != m {
		return mods.NewError(mods.ErrNotFound, m.ID(), "mod is not registered")
	}
	return nil
}

func (p *Provider) sortedMods() []*Mod {
	out := make([]*Mod, 0, len(p.mods))
	for _, m := range p.mods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *Provider) installedSet() map[*Mod]bool {
	set := make(map[*Mod]bool)
	for _, m := range p.mods {
		if m.installed.Load() {
			set[m] = true
		}
	}
	return set
}

// filesPresent reports whether m declares at least one file and every
// declared file exists at its destination.
func (p *Provider) filesPresent(m *Mod) bool {
	placements := m.placements()
	if len(placements) == 0 {
		return false
	}
	for _, pl := range placements {
		exists, err := afero.Exists(p.fs, pl.dest)
		if err != nil || !exists {
			return false
		}
	}
	return true
}

func (m *Mod) readEntryFile(f *zip.File) ([]byte, error) {
	rc, err := f.Open()
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrInvalidPackage, "", "opening %s", f.Name)
	}
	defer rc.Close()
	data, err := io.ReadAll(rc)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrInvalidPackage, "", "reading %s", f.Name)
	}
	return data, nil
}
