package version

import "fmt"

var (
	// Version is the semantic version of the binary. Overridden at build time
	// with -ldflags "-X mortality-alerts/internal/version.Version=...".
	Version = "dev"
	// Commit is the git commit hash.
	Commit = "unknown"
	// BuildDate is the build timestamp.
	BuildDate = "unknown"
)

// UserAgent identifies outbound requests, e.g. "mortalitywatch/1.2.0".
func UserAgent() string {
	return "mortalitywatch/" + Version
}

// Summary is the multi-line output of the version command.
func Summary() string {
	return fmt.Sprintf("version: %s\ncommit: %s\nbuilt: %s\n", Version, Commit, BuildDate)
}
