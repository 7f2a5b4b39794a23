// Package registry is the format-agnostic package registry.
//
// It keeps one file per imported package in the mods directory, delegates
// parsing and installation to registered providers, and owns the single
// install lock every mutating operation serializes on. The in-memory index
// is rebuilt from the mods directory on first use.
package registry
