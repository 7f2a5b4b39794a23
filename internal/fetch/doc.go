// Package fetch implements the acquisition collaborator: it downloads the
// bytes of a missing dependency given its URI. http and https URIs go
// through a retrying HTTP client; file URIs are read from the configured
// filesystem. Callers bound the whole fetch with their context.
package fetch
