// Package version holds the build version string.
package version

// Version is the semantic version of the comicgen binary.
// Overridden at build time via -ldflags "-X comicgen/pkg/version.Version=...".
var Version = "0.3.1"
