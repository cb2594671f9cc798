// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// successfailurecounter accounts for the outcome of operations, such as
// crash report uploads, that must be counted exactly once.
//
// A single SuccessFailureCounter is **not** thread safe; the Counters it
// reports into are.
package successfailurecounter // import "go.opentelemetry.io/crashtracker/successfailurecounter"

import (
	"sync/atomic"

	log "github.com/sirupsen/logrus"
)

// Counters holds the totals shared by many SuccessFailureCounter instances.
type Counters struct {
	success, fail atomic.Uint64
}

// Success returns the number of successful operations.
func (c *Counters) Success() uint64 {
	return c.success.Load()
}

// Failure returns the number of failed operations.
func (c *Counters) Failure() uint64 {
	return c.fail.Load()
}

// Track returns a SuccessFailureCounter for one operation.
func (c *Counters) Track() SuccessFailureCounter {
	return SuccessFailureCounter{counters: c}
}

// SuccessFailureCounter records the outcome of a single operation exactly
// once.
type SuccessFailureCounter struct {
	counters *Counters
	sealed   bool
}

// ReportSuccess increments the success counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportSuccess() {
	if sfc.sealed {
		log.Errorf("Attempted to report success/failure status more than once.")
		return
	}
	sfc.counters.success.Add(1)
	sfc.sealed = true
}

// ReportFailure increments the failure counter or logs an error otherwise.
func (sfc *SuccessFailureCounter) ReportFailure() {
	if sfc.sealed {
		log.Errorf("Attempted to report failure/success status more than once.")
		return
	}
	sfc.counters.fail.Add(1)
	sfc.sealed = true
}

// DefaultToFailure increments the failure counter if no outcome was
// reported before. It is meant to be deferred.
func (sfc *SuccessFailureCounter) DefaultToFailure() {
	if !sfc.sealed {
		sfc.counters.fail.Add(1)
		sfc.sealed = true
	}
}
