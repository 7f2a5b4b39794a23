package qmod

import (
	"fmt"
	"path"
	"path/filepath"
	"strings"

	"github.com/Masterminds/semver/v3"
	"go.yaml.in/yaml/v3"

	"github.com/agentx-labs/modkit/internal/mods"
)

// Manifest file names, in lookup order.
const (
	ManifestJSON = "mod.json"
	ManifestYAML = "mod.yaml"
)

// Manifest is the decoded mod.json of a qmod.
type Manifest struct {
	SchemaVersion  string          `yaml:"_QPVersion,omitempty" json:"_QPVersion,omitempty"`
	ID             string          `yaml:"id" json:"id"`
	Name           string          `yaml:"name" json:"name"`
	Author         string          `yaml:"author,omitempty" json:"author,omitempty"`
	Description    string          `yaml:"description,omitempty" json:"description,omitempty"`
	Version        string          `yaml:"version" json:"version"`
	PackageID      string          `yaml:"packageId,omitempty" json:"packageId,omitempty"`
	PackageVersion string          `yaml:"packageVersion,omitempty" json:"packageVersion,omitempty"`
	IsLibrary      bool            `yaml:"isLibrary,omitempty" json:"isLibrary,omitempty"`
	ModFiles       []string        `yaml:"modFiles,omitempty" json:"modFiles,omitempty"`
	LibraryFiles   []string        `yaml:"libraryFiles,omitempty" json:"libraryFiles,omitempty"`
	FileCopies     []FileCopy      `yaml:"fileCopies,omitempty" json:"fileCopies,omitempty"`
	CopyExtensions []CopyExtension `yaml:"copyExtensions,omitempty" json:"copyExtensions,omitempty"`
	Dependencies   []DependencyRef `yaml:"dependencies,omitempty" json:"dependencies,omitempty"`
	CoverImage     string          `yaml:"coverImage,omitempty" json:"coverImage,omitempty"`
}

// FileCopy copies an archive entry to an absolute destination on install.
type FileCopy struct {
	Name        string `yaml:"name" json:"name"`
	Destination string `yaml:"destination" json:"destination"`
}

// CopyExtension advertises a destination for arbitrary files with Extension.
type CopyExtension struct {
	Extension   string `yaml:"extension" json:"extension"`
	Destination string `yaml:"destination" json:"destination"`
}

// DependencyRef is a dependency as written in the manifest.
type DependencyRef struct {
	ID                string `yaml:"id" json:"id"`
	Version           string `yaml:"version" json:"version"`
	DownloadIfMissing string `yaml:"downloadIfMissing,omitempty" json:"downloadIfMissing,omitempty"`
}

// ManifestError describes why manifest bytes could not be accepted.
type ManifestError struct {
	Issues []string
}

func (e *ManifestError) Error() string {
	if len(e.Issues) == 1 {
		return e.Issues[0]
	}
	return fmt.Sprintf("%d manifest issues: %s", len(e.Issues), strings.Join(e.Issues, "; "))
}

// ParseManifest validates data against the manifest schema and decodes it.
// Version strings and dependency ranges must parse as semver, and file copy
// destinations must be absolute.
func ParseManifest(data []byte) (*Manifest, error) {
	result, err := Validate(data)
	if err != nil {
		return nil, err
	}
	if !result.Valid {
		issues := make([]string, 0, len(result.Issues))
		for _, issue := range result.Issues {
			issues = append(issues, issue.String())
		}
		return nil, &ManifestError{Issues: issues}
	}

	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("decoding manifest: %w", err)
	}

	var issues []string
	if _, err := semver.NewVersion(m.Version); err != nil {
		issues = append(issues, fmt.Sprintf("/version: %q is not a semantic version", m.Version))
	}
	seen := make(map[string]bool, len(m.Dependencies))
	for i, dep := range m.Dependencies {
		if dep.ID == m.ID {
			issues = append(issues, fmt.Sprintf("/dependencies/%d: mod depends on itself", i))
		}
		if seen[dep.ID] {
			issues = append(issues, fmt.Sprintf("/dependencies/%d: duplicate dependency %q", i, dep.ID))
		}
		seen[dep.ID] = true
		if _, err := semver.NewConstraint(dep.Version); err != nil {
			issues = append(issues, fmt.Sprintf("/dependencies/%d/version: %q is not a version range", i, dep.Version))
		}
	}
	for i, fc := range m.FileCopies {
		if !filepath.IsAbs(fc.Destination) {
			issues = append(issues, fmt.Sprintf("/fileCopies/%d/destination: %q is not an absolute path", i, fc.Destination))
		}
	}
	if len(issues) > 0 {
		return nil, &ManifestError{Issues: issues}
	}
	return &m, nil
}

// ParsedVersion returns the mod version. Only valid on manifests returned by
// ParseManifest.
func (m *Manifest) ParsedVersion() *semver.Version {
	v, _ := semver.NewVersion(m.Version)
	return v
}

// ParsedDependencies converts the manifest's dependency references.
func (m *Manifest) ParsedDependencies() []mods.Dependency {
	deps := make([]mods.Dependency, 0, len(m.Dependencies))
	for _, ref := range m.Dependencies {
		c, _ := semver.NewConstraint(ref.Version)
		deps = append(deps, mods.Dependency{
			ID:          ref.ID,
			Range:       c,
			RangeText:   ref.Version,
			DownloadURI: ref.DownloadIfMissing,
		})
	}
	return deps
}

// ArchiveEntries returns every archive entry the manifest refers to.
func (m *Manifest) ArchiveEntries() []string {
	var names []string
	names = append(names, m.ModFiles...)
	names = append(names, m.LibraryFiles...)
	for _, fc := range m.FileCopies {
		names = append(names, fc.Name)
	}
	if m.CoverImage != "" {
		names = append(names, m.CoverImage)
	}
	return names
}

// entryBase is the file name an archive entry is installed under.
func entryBase(name string) string {
	return path.Base(filepath.ToSlash(name))
}
