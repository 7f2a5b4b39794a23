package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"

	"github.com/agentx-labs/modkit/internal/mods"
)

// TryImport offers src to every provider whose CanAttemptImport accepts
// filename. The first provider that parses it wins: the package is copied
// into the mods directory, reparsed from there and handed to the provider.
// TryImport returns (nil, nil) when no provider recognizes the package; the
// caller owns src in every case.
func (r *Registry) TryImport(ctx context.Context, src mods.Source, filename string) (*ImportResult, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	res, err := r.tryImport(ctx, src, filename)
	if err != nil {
		return nil, mods.AsInstallationError(err, mods.ErrIO, "")
	}
	return res, nil
}

func (r *Registry) tryImport(ctx context.Context, src mods.Source, filename string) (*ImportResult, error) {
	var accepted mods.Provider
	for _, p := range r.providers {
		if !p.CanAttemptImport(filename) {
			continue
		}
		if _, err := src.Seek(0, io.SeekStart); err != nil {
			return nil, fmt.Errorf("rewinding %s: %w", filename, err)
		}
		trial, err := p.TryParseMod(src, false)
		if err != nil {
			return nil, err
		}
		if trial == nil {
			continue
		}
		if err := trial.Close(); err != nil {
			r.log.Debug().Err(err).Str("file", filename).Msg("closing trial parse")
		}
		accepted = p
		break
	}
	if accepted == nil {
		r.log.Debug().Str("file", filename).Msg("no provider recognizes file")
		return nil, nil
	}

	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return nil, fmt.Errorf("rewinding %s: %w", filename, err)
	}
	e, err := r.persistAndAdd(ctx, accepted, src, filename)
	if err != nil {
		return nil, err
	}
	return &ImportResult{Mod: e.Mod, Path: e.Path, Provider: accepted.Name()}, nil
}

// ImportValidated persists data and hands it to p without a trial parse. It
// is the re-entrant import used by providers while they hold the install
// lock, so it never takes the lock itself.
func (r *Registry) ImportValidated(ctx context.Context, p mods.Provider, data []byte, filename string) (mods.Mod, error) {
	e, err := r.persistAndAdd(ctx, p, bytes.NewReader(data), filename)
	if err != nil {
		return nil, err
	}
	return e.Mod, nil
}

// persistAndAdd copies the package into the mods directory, parses the copy
// with the provider owning it and registers the result. On failure the copy
// is deleted and nothing stays registered.
func (r *Registry) persistAndAdd(ctx context.Context, p mods.Provider, src io.Reader, filename string) (Entry, error) {
	path, err := r.writePackage(src, filename)
	if err != nil {
		return Entry{}, mods.WrapError(err, mods.ErrIO, "", "copying %s into %s", filename, r.modsDir)
	}

	f, err := r.fs.Open(path)
	if err != nil {
		r.discard(path)
		return Entry{}, mods.WrapError(err, mods.ErrIO, "", "opening %s", path)
	}
	m, err := p.TryParseMod(f, true)
	if err != nil || m == nil {
		_ = f.Close()
		r.discard(path)
		if err == nil {
			err = mods.NewError(mods.ErrInvalidPackage, "", "%s no longer parses as a %s package", path, p.Name())
		}
		return Entry{}, err
	}

	if err := r.evictOtherProvider(ctx, p, m.ID()); err != nil {
		_ = m.Close()
		r.discard(path)
		return Entry{}, err
	}
	if err := p.AddMod(ctx, m); err != nil {
		_ = m.Close()
		r.discard(path)
		return Entry{}, err
	}

	e := Entry{Mod: m, Path: path}
	r.setEntry(e)
	r.log.Info().Str("mod", m.ID()).Str("version", m.Version().String()).Str("path", path).Msg("mod imported")
	r.events.Emit(mods.Event{Kind: mods.EventModAdded, ID: m.ID(), Mod: m})
	return e, nil
}

func (r *Registry) writePackage(src io.Reader, filename string) (string, error) {
	if err := r.fs.MkdirAll(r.modsDir, 0o755); err != nil {
		return "", err
	}
	path, err := r.uniquePath(filename)
	if err != nil {
		return "", err
	}

	f, err := r.fs.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
	if err != nil {
		return "", err
	}
	if _, err := io.Copy(f, src); err != nil {
		_ = f.Close()
		r.discard(path)
		return "", err
	}
	if err := f.Close(); err != nil {
		r.discard(path)
		return "", err
	}
	return path, nil
}

// uniquePath returns a path in the mods directory for filename that does
// not exist yet, appending _1, _2, ... to the stem on collision.
func (r *Registry) uniquePath(filename string) (string, error) {
	base := filepath.Base(filename)
	if base == "." || base == string(filepath.Separator) {
		base = "package"
	}
	ext := filepath.Ext(base)
	stem := strings.TrimSuffix(base, ext)

	candidate := filepath.Join(r.modsDir, base)
	for i := 1; ; i++ {
		_, err := r.fs.Stat(candidate)
		if os.IsNotExist(err) {
			return candidate, nil
		}
		if err != nil {
			return "", err
		}
		candidate = filepath.Join(r.modsDir, fmt.Sprintf("%s_%d%s", stem, i, ext))
	}
}

func (r *Registry) discard(path string) {
	if err := r.fs.Remove(path); err != nil && !os.IsNotExist(err) {
		r.log.Warn().Err(err).Str("path", path).Msg("deleting package file")
	}
}
