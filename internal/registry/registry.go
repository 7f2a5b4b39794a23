package registry

import (
	"context"
	"os"
	"sort"
	"sync"

	"github.com/rs/zerolog"
	"github.com/spf13/afero"

	"github.com/agentx-labs/modkit/internal/logging"
	"github.com/agentx-labs/modkit/internal/mods"
)

// Entry is a registered mod and the file backing it.
type Entry struct {
	Mod  mods.Mod
	Path string
}

// ImportResult describes a successful import.
type ImportResult struct {
	Mod  mods.Mod
	Path string
	// Provider is the name of the provider that accepted the package.
	Provider string
}

// Option configures a Registry.
type Option func(*Registry)

// WithDeleteInvalid makes LoadNewMods delete files a provider accepted by
// name but failed to parse.
func WithDeleteInvalid(enabled bool) Option {
	return func(r *Registry) { r.deleteInvalid = enabled }
}

// WithLogger overrides the registry's logger.
func WithLogger(l zerolog.Logger) Option {
	return func(r *Registry) { r.log = l }
}

// Registry tracks every imported mod across all providers.
type Registry struct {
	fs            afero.Fs
	modsDir       string
	deleteInvalid bool
	log           zerolog.Logger

	providers []mods.Provider

	// lock serializes every mutating operation, including provider
	// recursion. It is handed to providers through InstallLock.
	lock sync.Mutex

	// mu guards entries, paths and loaded.
	mu      sync.RWMutex
	entries map[string]Entry
	paths   map[string]string
	loaded  bool

	events mods.Emitter
}

var _ mods.Host = (*Registry)(nil)

// New creates a registry persisting packages under modsDir on fs.
func New(fs afero.Fs, modsDir string, opts ...Option) *Registry {
	r := &Registry{
		fs:      fs,
		modsDir: modsDir,
		log:     logging.GetLogger("registry"),
		entries: make(map[string]Entry),
		paths:   make(map[string]string),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// ModsDir returns the directory packages are persisted in.
func (r *Registry) ModsDir() string { return r.modsDir }

// InstallLock returns the lock shared by the registry and its providers.
func (r *Registry) InstallLock() sync.Locker { return &r.lock }

// Register appends p to the providers consulted on import. Providers are
// tried in registration order. Register must be called before the registry
// is used.
func (r *Registry) Register(p mods.Provider) {
	r.providers = append(r.providers, p)
	p.Subscribe(r.handleProviderEvent)
}

// Providers returns the registered providers in order.
func (r *Registry) Providers() []mods.Provider {
	out := make([]mods.Provider, len(r.providers))
	copy(out, r.providers)
	return out
}

// Subscribe registers fn for ModAdded and ModRemoved events, and for
// ModStatusChanged events forwarded from providers. Subscribe must be called
// before the registry is used.
func (r *Registry) Subscribe(fn func(mods.Event)) { r.events.Subscribe(fn) }

// GetAll returns a snapshot of every registered mod keyed by ID. The mods
// directory is scanned on the first call.
func (r *Registry) GetAll(ctx context.Context) (map[string]Entry, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}

	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make(map[string]Entry, len(r.entries))
	for id, e := range r.entries {
		out[id] = e
	}
	return out, nil
}

// Get returns the entry registered under id.
func (r *Registry) Get(ctx context.Context, id string) (Entry, bool, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return Entry{}, false, err
	}
	e, ok := r.lookup(id)
	return e, ok, nil
}

// Sorted returns the entries of m ordered by ID.
func Sorted(m map[string]Entry) []Entry {
	out := make([]Entry, 0, len(m))
	for _, e := range m {
		out = append(out, e)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Mod.ID() < out[j].Mod.ID() })
	return out
}

// Install installs the mod registered under id, with its dependencies.
func (r *Registry) Install(ctx context.Context, id string) error {
	m, err := r.find(ctx, id)
	if err != nil {
		return err
	}
	return m.Install(ctx)
}

// Uninstall uninstalls the mod registered under id.
func (r *Registry) Uninstall(ctx context.Context, id string) error {
	m, err := r.find(ctx, id)
	if err != nil {
		return err
	}
	return m.Uninstall(ctx)
}

// Unload uninstalls m if needed, unregisters it and deletes its file.
func (r *Registry) Unload(ctx context.Context, m mods.Mod) error {
	r.lock.Lock()
	defer r.lock.Unlock()
	return r.unloadLocked(ctx, m)
}

// Remove unloads the mod registered under id.
func (r *Registry) Remove(ctx context.Context, id string) error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return err
	}
	e, ok := r.lookup(id)
	if !ok {
		return mods.NewError(mods.ErrNotFound, id, "no such mod")
	}
	return r.unloadLocked(ctx, e.Mod)
}

// evictOtherProvider unloads the mod registered under id when a provider
// other than p owns it, so an ID stays unique across providers. Replacing a
// mod within one provider is left to its AddMod. The install lock must be
// held.
func (r *Registry) evictOtherProvider(ctx context.Context, p mods.Provider, id string) error {
	e, ok := r.lookup(id)
	if !ok || e.Mod.Provider() == p {
		return nil
	}
	r.log.Info().
		Str("mod", id).
		Str("old_provider", e.Mod.Provider().Name()).
		Str("new_provider", p.Name()).
		Msg("replacing mod owned by another provider")
	return r.unloadLocked(ctx, e.Mod)
}

func (r *Registry) unloadLocked(ctx context.Context, m mods.Mod) error {
	ok, err := m.Provider().UnloadMod(ctx, m)
	if err != nil {
		return mods.AsInstallationError(err, mods.ErrIO, m.ID())
	}
	if !ok {
		return mods.NewError(mods.ErrNotFound, m.ID(), "mod is not registered with %s", m.Provider().Name())
	}
	return nil
}

// find looks id up under the install lock and releases it, so the mod can
// take the lock itself.
func (r *Registry) find(ctx context.Context, id string) (mods.Mod, error) {
	r.lock.Lock()
	defer r.lock.Unlock()

	if err := r.ensureLoaded(ctx); err != nil {
		return nil, err
	}
	e, ok := r.lookup(id)
	if !ok {
		return nil, mods.NewError(mods.ErrNotFound, id, "no such mod")
	}
	return e.Mod, nil
}

func (r *Registry) lookup(id string) (Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) setEntry(e Entry) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.entries[e.Mod.ID()] = e
	r.paths[e.Path] = e.Mod.ID()
}

func (r *Registry) handleProviderEvent(ev mods.Event) {
	switch ev.Kind {
	case mods.EventModUnloaded:
		r.mu.Lock()
		e, ok := r.entries[ev.ID]
		if ok && e.Mod == ev.Mod {
			delete(r.entries, ev.ID)
			delete(r.paths, e.Path)
		}
		r.mu.Unlock()
		if !ok || e.Mod != ev.Mod {
			return
		}

		if err := r.fs.Remove(e.Path); err != nil && !os.IsNotExist(err) {
			r.log.Warn().Err(err).Str("mod", ev.ID).Str("path", e.Path).Msg("deleting package file")
		}
		r.log.Debug().Str("mod", ev.ID).Str("path", e.Path).Msg("mod removed")
		r.events.Emit(mods.Event{Kind: mods.EventModRemoved, ID: ev.ID, Mod: ev.Mod})
	case mods.EventModStatusChanged:
		r.events.Emit(ev)
	}
}
