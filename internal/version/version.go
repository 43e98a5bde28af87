// Package version holds the build version, overridable with
// -ldflags "-X github.com/brasilcep/cepbench/internal/version.Version=...".
package version

// Version is the cepbench release version.
var Version = "0.1.0"

// UserAgent returns the default User-Agent sent by virtual users.
func UserAgent() string {
	return "cepbench/" + Version
}
