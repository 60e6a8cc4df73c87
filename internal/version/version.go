// Package version reports the build of the infinigram binary.
package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// Set at link time, e.g.
// -ldflags "-X github.com/allenai/infinigram-api/internal/version.Commit=$(git rev-parse HEAD)".
// Empty values fall back to the VCS stamp Go records in the binary.
var (
	Version   = "1.3.0"
	Commit    = ""
	BuildDate = ""
)

// Build describes the running binary.
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit,omitempty"`
	Modified  bool   `json:"modified,omitempty"`
	BuildDate string `json:"buildDate,omitempty"`
	GoVersion string `json:"goVersion"`
}

// Current returns the running build.
func Current() Build {
	b := Build{Version: Version, Commit: Commit, BuildDate: BuildDate, GoVersion: runtime.Version()}
	if info, ok := debug.ReadBuildInfo(); ok {
		b = b.withSettings(info.Settings)
	}
	return b
}

func (b Build) withSettings(settings []debug.BuildSetting) Build {
	for _, s := range settings {
		switch s.Key {
		case "vcs.revision":
			if b.Commit == "" {
				b.Commit = s.Value
			}
		case "vcs.time":
			if b.BuildDate == "" {
				b.BuildDate = s.Value
			}
		case "vcs.modified":
			b.Modified = s.Value == "true"
		}
	}
	return b
}

// ShortCommit returns the first 12 characters of the commit.
func (b Build) ShortCommit() string {
	if len(b.Commit) > 12 {
		return b.Commit[:12]
	}
	return b.Commit
}

// String is the output of `infinigram version`.
func (b Build) String() string {
	commit := b.ShortCommit()
	if commit == "" {
		commit = "unknown"
	} else if b.Modified {
		commit += "-dirty"
	}
	built := b.BuildDate
	if built == "" {
		built = "unknown"
	}
	return fmt.Sprintf("infinigram %s (commit %s, built %s, %s)", b.Version, commit, built, b.GoVersion)
}
