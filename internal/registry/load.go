package registry

import (
	"context"
	"path/filepath"

	"github.com/spf13/afero"

	"github.com/agentx-labs/modkit/internal/mods"
)

// LoadNewMods offers every file in the mods directory that is not
// registered yet to the providers. Failures are logged per file and never
// stop the scan. Files no provider recognizes are left alone.
func (r *Registry) LoadNewMods(ctx context.Context) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.scan(ctx)
}

func (r *Registry) ensureLoaded(ctx context.Context) error {
	r.mu.RLock()
	loaded := r.loaded
	r.mu.RUnlock()
	if loaded {
		return nil
	}
	return r.scan(ctx)
}

func (r *Registry) scan(ctx context.Context) error {
	if err := r.fs.MkdirAll(r.modsDir, 0o755); err != nil {
		return mods.WrapError(err, mods.ErrIO, "", "creating %s", r.modsDir)
	}
	infos, err := afero.ReadDir(r.fs, r.modsDir)
	if err != nil {
		return mods.WrapError(err, mods.ErrIO, "", "reading %s", r.modsDir)
	}

	var added int
	for _, info := range infos {
		if info.IsDir() {
			continue
		}
		path := filepath.Join(r.modsDir, info.Name())
		r.mu.RLock()
		_, known := r.paths[path]
		r.mu.RUnlock()
		if known {
			continue
		}
		if r.loadFile(ctx, path) {
			added++
		}
	}

	r.mu.Lock()
	r.loaded = true
	r.mu.Unlock()
	r.log.Debug().Int("added", added).Str("dir", r.modsDir).Msg("mods directory scanned")
	return nil
}

// loadFile registers the package at path with the first provider that
// parses it and reports whether one did.
func (r *Registry) loadFile(ctx context.Context, path string) bool {
	name := filepath.Base(path)
	for _, p := range r.providers {
		if !p.CanAttemptImport(name) {
			continue
		}

		f, err := r.fs.Open(path)
		if err != nil {
			r.log.Warn().Err(err).Str("path", path).Msg("opening package")
			return false
		}
		m, err := p.TryParseMod(f, true)
		if err != nil {
			_ = f.Close()
			r.log.Warn().Err(err).Str("path", path).Str("provider", p.Name()).Msg("invalid package")
			if r.deleteInvalid {
				r.log.Info().Str("path", path).Msg("deleting invalid package")
				r.discard(path)
			}
			return false
		}
		if m == nil {
			_ = f.Close()
			continue
		}

		if err := r.evictOtherProvider(ctx, p, m.ID()); err != nil {
			_ = m.Close()
			r.log.Warn().Err(err).Str("path", path).Str("mod", m.ID()).Msg("replacing registered mod")
			return false
		}
		if err := p.AddMod(ctx, m); err != nil {
			_ = m.Close()
			r.log.Warn().Err(err).Str("path", path).Msg("registering package")
			return false
		}
		r.setEntry(Entry{Mod: m, Path: path})
		r.events.Emit(mods.Event{Kind: mods.EventModAdded, ID: m.ID(), Mod: m})
		return true
	}

	r.log.Debug().Str("path", path).Msg("no provider recognizes file")
	return false
}
