// Package mods defines the capability contract between the format-agnostic
// registry and format-specific providers: the Mod and Provider interfaces,
// the Host callbacks a provider uses to reach back into the registry, the
// acquisition collaborator, lifecycle events, and the installation error
// taxonomy shared by every layer.
package mods
