/*
Copyright (C) 2026 Friends Incode

SPDX-License-Identifier: AGPL-3.0-or-later
*/

// Package version exposes build metadata for the vakt binary.
package version

import "fmt"

// Version is the current version of Vakt.
// This is set at build time via ldflags:
//
//	-X github.com/friendsincode/vakt/internal/version.Version=X.Y.Z
var Version = "0.3.1"

// Commit is the git commit the binary was built from, set via ldflags.
var Commit = "unknown"

// BuildDate is the build timestamp, set via ldflags.
var BuildDate = "unknown"

// String returns a single-line human-readable version string.
func String() string {
	return fmt.Sprintf("vakt %s (commit %s, built %s)", Version, Commit, BuildDate)
}
