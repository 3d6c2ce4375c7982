// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

package version

import (
	"fmt"
	"runtime"
	"runtime/debug"
)

// These variables are set via -ldflags at build time.
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

// Build is the version record printed by "rattrap version --json".
type Build struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	Dirty     bool   `json:"dirty"`
	BuildTime string `json:"build_time"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
	// ArchiveFormat is the format tag this binary writes.
	ArchiveFormat string `json:"archive_format"`
}

// Current returns the running binary's version record. When the
// ldflags were not injected it falls back to the VCS stamp the Go
// toolchain embeds in module builds.
func Current(archiveFormat string) Build {
	build := Build{
		Version:       Version,
		Commit:        GitCommit,
		Dirty:         GitDirty == "true",
		BuildTime:     BuildTime,
		GoVersion:     runtime.Version(),
		Platform:      runtime.GOOS + "/" + runtime.GOARCH,
		ArchiveFormat: archiveFormat,
	}
	if build.Commit != "unknown" {
		return build
	}
	info, ok := debug.ReadBuildInfo()
	if !ok {
		return build
	}
	applyBuildSettings(&build, info.Settings)
	return build
}

func applyBuildSettings(build *Build, settings []debug.BuildSetting) {
	for _, setting := range settings {
		switch setting.Key {
		case "vcs.revision":
			build.Commit = setting.Value
			if len(build.Commit) > 12 {
				build.Commit = build.Commit[:12]
			}
		case "vcs.modified":
			build.Dirty = setting.Value == "true"
		case "vcs.time":
			if build.BuildTime == "unknown" {
				build.BuildTime = setting.Value
			}
		}
	}
}

// Info returns a formatted version string suitable for --version output.
func Info() string {
	return Current("").String()
}

// String formats the record as "0.1.0-dev (abc1234-dirty, 2026-...)".
func (b Build) String() string {
	dirty := ""
	if b.Dirty {
		dirty = "-dirty"
	}
	return fmt.Sprintf("%s (%s%s, %s)", b.Version, b.Commit, dirty, b.BuildTime)
}

// Full returns detailed version information including Go version.
func Full(archiveFormat string) string {
	build := Current(archiveFormat)
	return fmt.Sprintf("%s\n  Go: %s\n  Platform: %s\n  Archive format: %s",
		build, build.GoVersion, build.Platform, build.ArchiveFormat)
}

// Short returns just the version number.
func Short() string {
	return Version
}
