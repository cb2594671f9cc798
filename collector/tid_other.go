// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package collector // import "go.opentelemetry.io/crashtracker/collector"

// gettid is unknown outside Linux; zero is left out of the report.
func gettid() int {
	return 0
}
