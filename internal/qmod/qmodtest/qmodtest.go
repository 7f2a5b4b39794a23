// Package qmodtest builds qmod archives for tests.
package qmodtest

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/klauspost/compress/zip"

	"github.com/agentx-labs/modkit/internal/qmod"
)

// Build zips m as mod.json. Every archive entry m refers to gets generated
// content of the form "<id>@<version>:<entry>", unless files supplies it.
func Build(m qmod.Manifest, files map[string][]byte) ([]byte, error) {
	raw, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	write := func(name string, data []byte) error {
		w, err := zw.Create(name)
		if err != nil {
			return err
		}
		_, err = w.Write(data)
		return err
	}

	if err := write(qmod.ManifestJSON, raw); err != nil {
		return nil, err
	}
	written := map[string]bool{qmod.ManifestJSON: true}
	for _, name := range m.ArchiveEntries() {
		if written[name] {
			continue
		}
		data, ok := files[name]
		if !ok {
			data = []byte(m.ID + "@" + m.Version + ":" + name)
		}
		if err := write(name, data); err != nil {
			return nil, err
		}
		written[name] = true
	}
	for name, data := range files {
		if written[name] {
			continue
		}
		if err := write(name, data); err != nil {
			return nil, err
		}
	}

	if err := zw.Close(); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// MustBuild is Build for tests.
func MustBuild(tb testing.TB, m qmod.Manifest) []byte {
	tb.Helper()
	data, err := Build(m, nil)
	if err != nil {
		tb.Fatalf("building qmod %s: %v", m.ID, err)
	}
	return data
}

// Mod returns the manifest of a plain mod installing lib<id>.so.
func Mod(id, version string, deps ...qmod.DependencyRef) qmod.Manifest {
	return qmod.Manifest{
		ID:           id,
		Name:         id,
		Version:      version,
		ModFiles:     []string{"lib" + id + ".so"},
		Dependencies: deps,
	}
}

// Library returns the manifest of a library mod installing lib<id>.so.
func Library(id, version string, deps ...qmod.DependencyRef) qmod.Manifest {
	return qmod.Manifest{
		ID:           id,
		Name:         id,
		Version:      version,
		IsLibrary:    true,
		LibraryFiles: []string{"lib" + id + ".so"},
		Dependencies: deps,
	}
}

// Dep returns a dependency on id within rng.
func Dep(id, rng string) qmod.DependencyRef {
	return qmod.DependencyRef{ID: id, Version: rng}
}
