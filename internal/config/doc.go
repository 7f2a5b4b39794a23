// Package config manages user-level settings stored at ~/.modkit/config.yaml.
// Values resolve in the order environment (MODKIT_*), config file, defaults.
// Load returns the typed Config used to wire the registry, providers, fetch
// client and logger; Get and Set back the `config` command.
package config
