package registry_test

import (
	"context"
	"io"
	"sort"
	"strings"

	"github.com/Masterminds/semver/v3"

	"github.com/agentx-labs/modkit/internal/mods"
)

// fakeProvider owns ".fake" packages whose whole content is "id@version".
type fakeProvider struct {
	mods   map[string]*fakeMod
	events mods.Emitter
}

func newFakeProvider() *fakeProvider {
	return &fakeProvider{mods: make(map[string]*fakeMod)}
}

func (p *fakeProvider) Name() string { return "fake" }

func (p *fakeProvider) CanAttemptImport(filename string) bool {
	return strings.HasSuffix(strings.ToLower(filename), ".fake")
}

func (p *fakeProvider) TryParseMod(src mods.Source, keepSourceOpen bool) (mods.Mod, error) {
	data, err := io.ReadAll(src)
	if err != nil {
		return nil, err
	}
	id, ver, ok := strings.Cut(strings.TrimSpace(string(data)), "@")
	if !ok {
		return nil, nil
	}
	v, err := semver.NewVersion(ver)
	if err != nil {
		return nil, mods.WrapError(err, mods.ErrInvalidPackage, id, "parsing version")
	}
	m := &fakeMod{provider: p, id: id, version: v}
	if keepSourceOpen {
		m.src = src
	}
	return m, nil
}

func (p *fakeProvider) AddMod(_ context.Context, m mods.Mod) error {
	fm := m.(*fakeMod)
	if old := p.mods[fm.id]; old != nil && old != fm {
		p.unload(old)
	}
	p.mods[fm.id] = fm
	return nil
}

func (p *fakeProvider) UnloadMod(_ context.Context, m mods.Mod) (bool, error) {
	fm, ok := m.(*fakeMod)
	if !ok || p.mods[fm.id] != fm {
		return false, nil
	}
	p.unload(fm)
	return true, nil
}

func (p *fakeProvider) unload(m *fakeMod) {
	delete(p.mods, m.id)
	_ = m.Close()
	p.events.Emit(mods.Event{Kind: mods.EventModUnloaded, ID: m.id, Mod: m})
}

func (p *fakeProvider) Mods() []mods.Mod {
	out := make([]mods.Mod, 0, len(p.mods))
	for _, m := range p.mods {
		out = append(out, m)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID() < out[j].ID() })
	return out
}

func (p *fakeProvider) Subscribe(fn func(mods.Event)) { p.events.Subscribe(fn) }

type fakeMod struct {
	provider *fakeProvider
	id       string
	version  *semver.Version
	src      io.Closer
}

func (m *fakeMod) ID() string { return m.id }
func (m *fakeMod) Name() string { return m.id }
func (m *fakeMod) Version() *semver.Version { return m.version }
func (m *fakeMod) IsLibrary() bool { return false }
func (m *fakeMod) IsInstalled() bool { return false }
func (m *fakeMod) Dependencies() []mods.Dependency { return nil }
func (m *fakeMod) Provider() mods.Provider { return m.provider }
func (m *fakeMod) Install(context.Context) error { return nil }
func (m *fakeMod) Uninstall(context.Context) error { return nil }

func (m *fakeMod) Close() error {
	if m.src == nil {
		return nil
	}
	err := m.src.Close()
	m.src = nil
	return err
}
