// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times // import "go.opentelemetry.io/crashtracker/times"

import (
	"time"
	_ "unsafe" // required to use //go:linkname for runtime.nanotime
)

// KTime stores a time value, retrieved from a monotonic clock, in nanoseconds.
type KTime int64

// GetKTime returns the current CLOCK_MONOTONIC time in nanoseconds.
// runtime.nanotime reads the clock through the vDSO without allocating or
// taking locks, which keeps it usable on the crash path.
//
//go:noescape
//go:linkname GetKTime runtime.nanotime
func GetKTime() KTime

// Sub returns the duration t-u.
func (t KTime) Sub(u KTime) time.Duration {
	return time.Duration(t - u)
}

// Add returns t+d.
func (t KTime) Add(d time.Duration) KTime {
	return t + KTime(d)
}
