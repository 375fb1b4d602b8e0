// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time, for example:
//
//	go build -ldflags "-X github.com/bureau-foundation/sealdrop/lib/version.GitCommit=$(git rev-parse --short HEAD)"
var (
	// GitCommit is the short git SHA of the build.
	GitCommit = "unknown"

	// GitDirty indicates whether there were uncommitted changes.
	GitDirty = "false"

	// BuildTime is the UTC timestamp of the build.
	BuildTime = "unknown"

	// Version is the semantic version. This is set manually for releases.
	Version = "0.1.0-dev"
)

type stamp struct {
	commit string
	dirty  bool
	time   string
}

// current merges the ldflags values with the toolchain's VCS stamp.
// Injected values win.
func current(settings []debug.BuildSetting) stamp {
	s := stamp{commit: GitCommit, dirty: GitDirty == "true", time: BuildTime}
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			if s.commit == "unknown" && setting.Value != "" {
				s.commit = setting.Value
				if len(s.commit) > 12 {
					s.commit = s.commit[:12]
				}
			}
		case "vcs.modified":
			if GitDirty == "false" && setting.Value == "true" {
				s.dirty = true
			}
		case "vcs.time":
			if s.time == "unknown" && setting.Value != "" {
				s.time = setting.Value
			}
		}
	}
	return s
}

func buildSettings() []debug.BuildSetting {
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return nil
	}
	return info.Settings
}

func (s stamp) info() string {
	dirty := ""
	if s.dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", Version, s.commit, dirty, s.time)
}

// Info returns a formatted version string suitable for version output.
func Info() string {
	return current(buildSettings()).info()
}

// Full returns detailed version information including Go version.
func Full() string {
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s/%s",
		Info(), runtime.Version(), runtime.GOOS, runtime.GOARCH)
}

// Short returns just the version number.
func Short() string {
	return Version
}
