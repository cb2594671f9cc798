// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import "golang.org/x/sys/unix"

func gettid() int {
	return unix.Gettid()
}
