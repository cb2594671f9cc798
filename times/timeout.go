// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times // import "go.opentelemetry.io/crashtracker/times"

import (
	"time"
)

// TimeoutManager tracks one overall budget that is shared by a sequence of
// blocking operations. Each operation asks for Remaining() and uses that as
// its own timeout, so the sequence as a whole never exceeds the budget.
//
// TimeoutManager does not allocate and only reads the monotonic clock, which
// makes it safe to use while handling a crash.
type TimeoutManager struct {
	start   KTime
	timeout time.Duration
}

// NewTimeoutManager starts a budget of the given duration. A negative
// duration is treated as zero.
func NewTimeoutManager(timeout time.Duration) TimeoutManager {
	return TimeoutManager{
		start:   GetKTime(),
		timeout: max(timeout, 0),
	}
}

// Elapsed returns the time spent since the budget started.
func (tm *TimeoutManager) Elapsed() time.Duration {
	return GetKTime().Sub(tm.start)
}

// Remaining returns what is left of the budget. It is monotonically
// non-increasing and never negative.
func (tm *TimeoutManager) Remaining() time.Duration {
	return max(tm.timeout-tm.Elapsed(), 0)
}

// Expired reports whether the budget is used up.
func (tm *TimeoutManager) Expired() bool {
	return tm.Remaining() == 0
}

// Timeout returns the total budget.
func (tm *TimeoutManager) Timeout() time.Duration {
	return tm.timeout
}
