// SPDX-FileCopyrightText: Copyright 2025 The vmcpd Authors
// SPDX-License-Identifier: Apache-2.0

// Package versions reports build version information for vmcpd binaries.
package versions

import (
	"fmt"
	"runtime"
	"time"
)

const unknownStr = "unknown"

// Injected at build time via ldflags.
var (
	// Version is the release version, e.g. "v0.3.1". "dev" for local builds.
	Version = "dev"

	// Commit is the git commit hash the binary was built from.
	Commit = unknownStr

	// BuildDate is the RFC 3339 build timestamp.
	BuildDate = unknownStr
)

// VersionInfo describes one binary's build provenance.
type VersionInfo struct {
	Version   string `json:"version"`
	Commit    string `json:"commit"`
	BuildDate string `json:"build_date"`
	GoVersion string `json:"go_version"`
	Platform  string `json:"platform"`
}

// GetVersionInfo assembles the version information for this binary. Local
// builds without ldflags report "build-<shortcommit>" when a commit is
// known and "build-unknown" otherwise.
func GetVersionInfo() VersionInfo {
	version := Version
	commit := Commit
	buildDate := BuildDate

	if version == "dev" {
		switch {
		case commit == unknownStr:
			version = "build-" + unknownStr
		case len(commit) > 8:
			version = "build-" + commit[:8]
		default:
			version = "build-" + commit
		}
	}

	if buildDate != unknownStr {
		if t, err := time.Parse(time.RFC3339, buildDate); err == nil {
			buildDate = t.UTC().Format("2006-01-02 15:04:05 UTC")
		}
	}

	return VersionInfo{
		Version:   version,
		Commit:    commit,
		BuildDate: buildDate,
		GoVersion: runtime.Version(),
		Platform:  fmt.Sprintf("%s/%s", runtime.GOOS, runtime.GOARCH),
	}
}
