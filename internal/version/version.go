// Package version provides a single source of truth for the aiond version.
// Version can be set at build time via ldflags: -ldflags '-X github.com/invisible-tech/aion/internal/version.Version=1.2.3'
package version

// Version is set at build time; default for local builds.
var Version = "0.1.0"

// Banner is printed when the interactive shell starts.
func Banner() string {
	return "AION organism supervisor v" + Version
}
