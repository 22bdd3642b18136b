// Package phases ships the built-in deployment phase catalog.
//
// # Catalog
//
// The ten phases and their ordering live in an embedded YAML manifest
// (manifest.yaml). Catalog parses and validates the manifest, binds each
// descriptor to its implementation by name, and returns the resulting
// engine.Registry together with the ordinal-keyed implementation table.
// A manifest entry without an implementation, or an implementation
// missing from the manifest, fails Catalog immediately.
//
// # Artifacts
//
// Phases communicate through workspace artifacts rather than shared
// state: hardware-scan writes hardware-profile.yaml, package-manifest
// derives packages.yaml from it, system-config renders system.conf, and
// the install phases consume packages.yaml. Each artifact names the
// phase to re-run when it is missing.
//
// # Host access
//
// All host interaction goes through hostrun.Runner from the
// engine.ExecContext, so tests substitute a fake and nothing in this
// package shells out directly.
package phases
