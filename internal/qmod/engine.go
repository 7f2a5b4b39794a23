package qmod

import (
	"context"
	"errors"
	"fmt"

	"github.com/agentx-labs/modkit/internal/mods"
)

// install installs m after its dependencies. seen holds the IDs already
// visited in this install; a dependency found in it is skipped, which stops
// cycles. The install lock must be held.
func (p *Provider) install(ctx context.Context, m *Mod, seen map[string]struct{}) error {
	if m.installed.Load() {
		return nil
	}
	seen[m.ID()] = struct{}{}

	for _, dep := range m.deps {
		if _, ok := seen[dep.ID]; ok {
			p.log.Debug().Str("mod", m.ID()).Str("dependency", dep.ID).Msg("dependency already being installed")
			continue
		}
		if err := p.installDependency(ctx, m, dep, seen); err != nil {
			return err
		}
	}

	if err := p.extract(m); err != nil {
		return err
	}
	m.installed.Store(true)
	p.log.Info().Str("mod", m.ID()).Str("version", m.manifest.Version).Msg("mod installed")
	p.events.Emit(mods.Event{Kind: mods.EventModStatusChanged, ID: m.ID(), Mod: m})
	return nil
}

func (p *Provider) installDependency(ctx context.Context, owner *Mod, dep mods.Dependency, seen map[string]struct{}) error {
	existing := p.mods[dep.ID]
	if existing != nil && dep.Satisfied(existing.version) {
		return p.install(ctx, existing, seen)
	}

	if dep.DownloadURI == "" {
		if existing == nil {
			return mods.NewError(mods.ErrMissingDependency, owner.ID(),
				"dependency %s %s is not registered and has no download link", dep.ID, dep.RangeText)
		}
		return mods.NewError(mods.ErrMissingDependency, owner.ID(),
			"dependency %s is at %s, which does not satisfy %s, and has no download link",
			dep.ID, existing.manifest.Version, dep.RangeText)
	}

	downloaded, err := p.download(ctx, owner, dep)
	if err != nil {
		return err
	}
	if !dep.Satisfied(downloaded.version) {
		return mods.NewError(mods.ErrMissingDependency, owner.ID(),
			"downloaded %s is at %s, which does not satisfy %s",
			dep.ID, downloaded.manifest.Version, dep.RangeText)
	}
	return p.install(ctx, downloaded, seen)
}

// download fetches dep, checks it is the qmod it claims to be and imports it
// through the host.
func (p *Provider) download(ctx context.Context, owner *Mod, dep mods.Dependency) (*Mod, error) {
	if p.fetcher == nil {
		return nil, mods.NewError(mods.ErrAcquisition, owner.ID(),
			"cannot download %s: no fetcher configured", dep.ID)
	}

	p.log.Info().Str("mod", owner.ID()).Str("dependency", dep.ID).Str("uri", dep.DownloadURI).Msg("downloading dependency")
	data, err := p.fetcher.Fetch(ctx, dep.DownloadURI)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrAcquisition, owner.ID(),
			"downloading %s from %s", dep.ID, dep.DownloadURI)
	}

	trial, err := p.parse(mods.BytesSource(data), false)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrInvalidPackage, owner.ID(),
			"download for %s", dep.ID)
	}
	if trial == nil {
		return nil, mods.NewError(mods.ErrInvalidPackage, owner.ID(),
			"download for %s from %s is not a %s", dep.ID, dep.DownloadURI, ProviderName)
	}
	gotID := trial.ID()
	_ = trial.Close()
	if gotID != dep.ID {
		return nil, mods.NewError(mods.ErrMissingDependency, owner.ID(),
			"download for %s contains mod %s", dep.ID, gotID)
	}

	imported, err := p.host.ImportValidated(ctx, p, data, dep.ID+Extension)
	if err != nil {
		return nil, mods.AsInstallationError(err, mods.ErrIO, dep.ID)
	}
	qm, ok := imported.(*Mod)
	if !ok || p.mods[dep.ID] != qm {
		return nil, mods.NewError(mods.ErrIO, dep.ID, "imported dependency was not registered")
	}
	return qm, nil
}

// extract copies every declared file of m to its destination. Every entry is
// read before anything is written. When a write fails, every destination
// written so far gets its previous content back.
func (p *Provider) extract(m *Mod) error {
	placements := m.placements()
	contents := make([][]byte, len(placements))
	for i, pl := range placements {
		data, err := m.readEntry(pl.entry)
		if err != nil {
			return err
		}
		contents[i] = data
	}

	placed := make([]placedFile, 0, len(placements))
	for i, pl := range placements {
		pf, err := p.placeFile(pl.dest, contents[i])
		if err != nil {
			for j := len(placed) - 1; j >= 0; j-- {
				p.restore(placed[j])
			}
			return mods.WrapError(err, mods.ErrIO, m.ID(), "installing %s", pl.entry)
		}
		placed = append(placed, pf)
	}
	for _, pf := range placed {
		p.commit(pf)
	}
	return nil
}

// uninstall removes m's files, then uninstalls every installed mod that
// depends on m and every installed library nothing depends on any more.
// A file that cannot be removed does not stop the rest: m counts as
// uninstalled once any of its files may be gone, and the removal errors are
// returned after the cascade. The install lock must be held.
func (p *Provider) uninstall(ctx context.Context, m *Mod) error {
	if !m.installed.Load() {
		return nil
	}

	var removeErrs []error
	for _, pl := range m.placements() {
		if pl.kind == kindLibraryFile && p.libraryInUse(entryBase(pl.entry), m) {
			p.log.Debug().Str("mod", m.ID()).Str("library", pl.dest).Msg("library file still in use")
			continue
		}
		if err := p.removeFile(pl.dest); err != nil {
			p.log.Warn().Err(err).Str("mod", m.ID()).Str("path", pl.dest).Msg("removing file")
			removeErrs = append(removeErrs, fmt.Errorf("removing %s: %w", pl.dest, err))
		}
	}
	m.installed.Store(false)
	p.log.Info().Str("mod", m.ID()).Msg("mod uninstalled")

	for _, other := range p.sortedMods() {
		if other != m && other.installed.Load() && other.dependsOn(m.ID()) {
			if err := p.uninstall(ctx, other); err != nil {
				return err
			}
		}
	}
	if err := p.collectLibraries(ctx); err != nil {
		return err
	}

	p.events.Emit(mods.Event{Kind: mods.EventModStatusChanged, ID: m.ID(), Mod: m})
	if len(removeErrs) > 0 {
		return mods.WrapError(errors.Join(removeErrs...), mods.ErrIO, m.ID(), "uninstalling")
	}
	return nil
}

// collectLibraries uninstalls installed libraries no installed mod depends on.
func (p *Provider) collectLibraries(ctx context.Context) error {
	for _, lib := range p.sortedMods() {
		if !lib.installed.Load() || !lib.IsLibrary() || p.isDependedOn(lib.ID()) {
			continue
		}
		p.log.Debug().Str("mod", lib.ID()).Msg("removing unused library")
		if err := p.uninstall(ctx, lib); err != nil {
			return err
		}
	}
	return nil
}

func (p *Provider) isDependedOn(id string) bool {
	for _, m := range p.mods {
		if m.installed.Load() && m.dependsOn(id) {
			return true
		}
	}
	return false
}

// libraryInUse reports whether an installed mod other than except declares
// the library file base.
func (p *Provider) libraryInUse(base string, except *Mod) bool {
	for _, m := range p.mods {
		if m != except && m.installed.Load() && m.declaresLibrary(base) {
			return true
		}
	}
	return false
}
