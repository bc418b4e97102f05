// Package buildinfo exposes version metadata injected at build time via ldflags.
package buildinfo

var (
	// Version is the semantic version of the binary, or "dev" for local builds.
	Version = "dev"
	// Commit is the VCS revision the binary was built from.
	Commit = "none"
)

// IsDev reports whether this is an unversioned development build.
func IsDev() bool {
	return Version == "dev" || Version == ""
}
