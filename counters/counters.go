// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package counters tracks how many operations of each well-known kind are in
// flight. A crash report includes a snapshot so that a crash inside, say,
// stack unwinding can be told apart from a crash in application code.
package counters // import "go.opentelemetry.io/crashtracker/counters"

import (
	"fmt"
	"sync/atomic"
)

// Op identifies a kind of risky operation.
type Op int

const (
	ProfilerInactive Op = iota
	ProfilerCollectingSample
	ProfilerUnwinding
	ProfilerSerializing

	// NumOps is the number of Op values.
	NumOps
)

var opNames = [NumOps]string{
	ProfilerInactive:         "profiler_inactive",
	ProfilerCollectingSample: "profiler_collecting_sample",
	ProfilerUnwinding:        "profiler_unwinding",
	ProfilerSerializing:      "profiler_serializing",
}

// String returns the name used on the wire.
func (op Op) String() string {
	if op < 0 || op >= NumOps {
		return fmt.Sprintf("op_%d", int(op))
	}
	return opNames[op]
}

// OpFromName is the inverse of Op.String.
func OpFromName(name string) (Op, bool) {
	for op, n := range opNames {
		if n == name {
			return Op(op), true
		}
	}
	return 0, false
}

// Counters holds one atomic counter per Op.
type Counters struct {
	counts [NumOps]atomic.Int64
}

// Snapshot is a point in time copy of all counters.
type Snapshot [NumOps]int64

// Global is the process wide counter set read by the crash collector.
var Global Counters

// Begin marks the start of an op.
func (c *Counters) Begin(op Op) error {
	if op < 0 || op >= NumOps {
		return fmt.Errorf("invalid op %d", int(op))
	}
	c.counts[op].Add(1)
	return nil
}

// End marks the end of an op started with Begin.
func (c *Counters) End(op Op) error {
	if op < 0 || op >= NumOps {
		return fmt.Errorf("invalid op %d", int(op))
	}
	c.counts[op].Add(-1)
	return nil
}

// Snapshot reads every counter. Each slot is read atomically; the snapshot
// as a whole is not a transaction.
func (c *Counters) Snapshot() Snapshot {
	var s Snapshot
	for i := range c.counts {
		s[i] = c.counts[i].Load()
	}
	return s
}

// ResetAll zeroes every counter. It must not race with Begin or End, which
// in practice means it is only called right after fork before the child
// resumes normal work.
func (c *Counters) ResetAll() {
	for i := range c.counts {
		c.counts[i].Store(0)
	}
}

// Begin marks the start of op on the global counters.
func Begin(op Op) error { return Global.Begin(op) }

// End marks the end of op on the global counters.
func End(op Op) error { return Global.End(op) }
