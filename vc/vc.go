// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package vc provides buildtime information.
package vc // import "go.opentelemetry.io/crashtracker/vc"

import "fmt"

var (
	// The following variables are going to be set at link time using ldflags
	// and can be referenced later in the program.

	// revision of the receiver
	revision = ""
	// buildTimestamp, timestamp of the build
	buildTimestamp = ""
	// version in vX.Y.Z{-N-abbrev} format (via git-describe --tags)
	version = ""
)

// devVersion is reported for binaries built without ldflags.
const devVersion = "v0.0.0-dev"

// Revision of the receiver.
func Revision() string {
	return revision
}

// BuildTimestamp returns the timestamp of the build.
func BuildTimestamp() string {
	return buildTimestamp
}

// Version in vX.Y.Z{-N-abbrev} format.
func Version() string {
	if version == "" {
		return devVersion
	}
	return version
}

// UserAgent returns the User-Agent header value for component.
func UserAgent(component string) string {
	return component + "/" + Version()
}

// Summary is printed by -version.
func Summary() string {
	return fmt.Sprintf("Version: %s\nRevision: %s\nBuild timestamp: %s",
		Version(), Revision(), BuildTimestamp())
}
