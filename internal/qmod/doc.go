// Package qmod is the provider for .qmod packages: zip archives carrying a
// mod.json (or mod.yaml) manifest next to the files the mod installs.
//
// The provider owns every registered qmod and implements the dependency
// resolving install/uninstall engine over them. Mod files are copied into
// Layout.ModsDir, library files into Layout.LibsDir, and file copies to the
// absolute destinations named in the manifest. Whether a mod is installed is
// derived from the filesystem when it is added and tracked in memory after
// that.
package qmod
