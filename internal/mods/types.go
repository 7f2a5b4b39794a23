package mods

import (
	"bytes"
	"context"
	"io"
	"sync"

	"github.com/Masterminds/semver/v3"
)

// Mod is a package owned by a Provider.
type Mod interface {
	// ID is the unique key of the mod across the registry.
	ID() string
	Name() string
	Version() *semver.Version
	IsLibrary() bool
	IsInstalled() bool

	// Dependencies returns the declared dependencies in declaration order.
	Dependencies() []Dependency

	// Provider returns the provider that parsed this mod.
	Provider() Provider

	// Install installs the mod and, recursively, its dependencies. It takes
	// the shared install lock.
	Install(ctx context.Context) error

	// Uninstall removes the mod's files and cascades to dependents and to
	// libraries nothing depends on any more. It takes the shared install lock.
	Uninstall(ctx context.Context) error

	// Close releases the mod's source. Calling it more than once is a no-op.
	io.Closer
}

// Dependency is a declared dependency of a mod.
type Dependency struct {
	ID string
	// Range is the parsed form of RangeText.
	Range     *semver.Constraints
	RangeText string
	// DownloadURI is where the dependency can be fetched from when it is
	// missing or incompatible. Empty means no acquisition link.
	DownloadURI string
}

// Satisfied reports whether v is within the dependency's version range.
func (d Dependency) Satisfied(v *semver.Version) bool {
	if v == nil {
		return false
	}
	if d.Range == nil {
		return true
	}
	return d.Range.Check(v)
}

// CopyExtension advertises a destination for arbitrary files by extension.
type CopyExtension struct {
	Extension   string
	Destination string
}

// CopyExtensionProvider is implemented by mods that accept arbitrary files
// with the advertised extensions once installed.
type CopyExtensionProvider interface {
	CopyExtensions() []CopyExtension
}

// Provider recognizes, parses and owns mods of one package format.
type Provider interface {
	Name() string

	// CanAttemptImport is a cheap check on the file name only.
	CanAttemptImport(filename string) bool

	// TryParseMod parses src without persisting anything. It returns
	// (nil, nil) when src is not in this provider's format. With
	// keepSourceOpen the returned mod owns src and closes it on Close;
	// otherwise src stays owned by the caller.
	TryParseMod(src Source, keepSourceOpen bool) (Mod, error)

	// AddMod transfers ownership of m to the provider. A registered mod with
	// the same ID is uninstalled and unloaded first.
	AddMod(ctx context.Context, m Mod) error

	// UnloadMod uninstalls m if needed, unregisters and closes it. It
	// returns false when m is not owned by this provider.
	UnloadMod(ctx context.Context, m Mod) (bool, error)

	// Mods returns the registered mods sorted by ID.
	Mods() []Mod

	// Subscribe registers fn for ModUnloaded and ModStatusChanged events.
	Subscribe(fn func(Event))
}

// Host is the registry side of the contract, handed to every provider.
type Host interface {
	// InstallLock returns the single lock serializing every mutating
	// operation across the registry and all providers.
	InstallLock() sync.Locker

	// ImportValidated persists data under the mods directory and hands the
	// reparsed mod to p.AddMod. The caller must already hold InstallLock and
	// must have validated data itself; no trial parse is performed.
	ImportValidated(ctx context.Context, p Provider, data []byte, filename string) (Mod, error)
}

// Fetcher is the acquisition collaborator used to download dependencies.
type Fetcher interface {
	Fetch(ctx context.Context, uri string) ([]byte, error)
}

// FetcherFunc adapts a function to the Fetcher interface.
type FetcherFunc func(ctx context.Context, uri string) ([]byte, error)

// Fetch calls f(ctx, uri).
func (f FetcherFunc) Fetch(ctx context.Context, uri string) ([]byte, error) {
	return f(ctx, uri)
}

// Source is an opened package. afero.File satisfies it.
type Source interface {
	io.Reader
	io.ReaderAt
	io.Seeker
	io.Closer
}

type bytesSource struct {
	*bytes.Reader
}

func (bytesSource) Close() error { return nil }

// BytesSource wraps an in-memory package as a Source.
func BytesSource(data []byte) Source {
	return bytesSource{bytes.NewReader(data)}
}

// SourceSize returns the size of src and rewinds it to the start.
func SourceSize(src Source) (int64, error) {
	size, err := src.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := src.Seek(0, io.SeekStart); err != nil {
		return 0, err
	}
	return size, nil
}
