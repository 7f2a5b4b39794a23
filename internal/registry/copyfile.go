package registry

import (
	"context"
	"io"
	"path/filepath"
	"strings"

	"github.com/spf13/afero"

	"github.com/agentx-labs/modkit/internal/mods"
)

// CopyDestinations returns the directories installed mods advertise for
// files with extension ext, ordered by mod ID and without duplicates.
func (r *Registry) CopyDestinations(ctx context.Context, ext string) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	return r.copyDestinations(ext), nil
}

func (r *Registry) copyDestinations(ext string) []string {
	want := normalizeExt(ext)
	if want == "" {
		return nil
	}

	r.mu.RLock()
	entries := make(map[string]Entry, len(r.entries))
	for id, e := range r.entries {
		entries[id] = e
	}
	r.mu.RUnlock()

	seen := make(map[string]bool)
	var dests []string
	for _, e := range Sorted(entries) {
		cp, ok := e.Mod.(mods.CopyExtensionProvider)
		if !ok || !e.Mod.IsInstalled() {
			continue
		}
		for _, ce := range cp.CopyExtensions() {
			if normalizeExt(ce.Extension) != want || seen[ce.Destination] {
				continue
			}
			seen[ce.Destination] = true
			dests = append(dests, ce.Destination)
		}
	}
	return dests
}

// CopyFile copies a file that is not a package into every destination an
// installed mod advertises for its extension. It returns the paths written.
func (r *Registry) CopyFile(ctx context.Context, src io.Reader, filename string) ([]string, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	dests := r.copyDestinations(filepath.Ext(filename))
	if len(dests) == 0 {
		return nil, mods.NewError(mods.ErrNoCopyDestination, "",
			"no installed mod accepts %s files", filepath.Ext(filename))
	}

	data, err := io.ReadAll(src)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrIO, "", "reading %s", filename)
	}

	base := filepath.Base(filename)
	written := make([]string, 0, len(dests))
	for _, dir := range dests {
		if err := r.fs.MkdirAll(dir, 0o755); err != nil {
			return written, mods.WrapError(err, mods.ErrIO, "", "creating %s", dir)
		}
		path := filepath.Join(dir, base)
		if err := afero.WriteFile(r.fs, path, data, 0o644); err != nil {
			return written, mods.WrapError(err, mods.ErrIO, "", "writing %s", path)
		}
		r.log.Info().Str("file", base).Str("path", path).Msg("file copied")
		written = append(written, path)
	}
	return written, nil
}

func normalizeExt(ext string) string {
	return strings.ToLower(strings.TrimPrefix(ext, "."))
}
