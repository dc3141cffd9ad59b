// Package version carries build information stamped in by the linker.
package version

import (
	"fmt"
	"runtime"
	"strings"
)

// These variables are populated by the Go linker during the build process.
var (
	Version   = "dev"     // Overridden by the Git tag or dev version string
	Commit    = "none"    // Overridden by the Git commit hash
	Branch    = "unknown" // Overridden by the Git branch name
	BuildDate = "unknown" // Overridden by the build timestamp
)

// Channels lists the release channels in order of stability.
var Channels = []string{"stable", "rc", "beta", "alpha"}

// Info holds all the versioning information.
type Info struct {
	Version   string `json:"version"`
	Channel   string `json:"channel"`
	Commit    string `json:"commit"`
	Branch    string `json:"branch"`
	BuildDate string `json:"buildDate"`
	GoVersion string `json:"goVersion"`
	Platform  string `json:"platform"`
}

// GetInfo returns a struct populated with the version information.
func GetInfo() Info {
	return Info{
		Version:   Version,
		Channel:   DefaultChannel(Version, Channels),
		Commit:    Commit,
		Branch:    Branch,
		BuildDate: BuildDate,
		GoVersion: runtime.Version(),
		Platform:  Platform(),
	}
}

// Platform returns os_arch, the segment used in update feed URLs.
func Platform() string {
	return runtime.GOOS + "_" + runtime.GOARCH
}

// DefaultChannel returns the first channel named in version, so that a
// user running an alpha build keeps receiving alpha builds. It falls back
// to the first channel.
func DefaultChannel(version string, channels []string) string {
	for _, c := range channels {
		if strings.Contains(version, c) {
			return c
		}
	}
	if len(channels) == 0 {
		return ""
	}
	return channels[0]
}

// String returns a formatted string of the version information.
func (i Info) String() string {
	return fmt.Sprintf(
		"Channel:\t%s\nCommit:\t\t%s\nBranch:\t\t%s\nBuild Date:\t%s\nGo Version:\t%s\nPlatform:\t%s",
		i.Channel, i.Commit, i.Branch, i.BuildDate, i.GoVersion, i.Platform,
	)
}
