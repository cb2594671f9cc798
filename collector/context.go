// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"go.opentelemetry.io/crashtracker/contextset"
)

// ContextCapacity is the number of entries each context set holds.
const ContextCapacity = 2048

// Context recorded with every crash report. The sets are process wide, so
// that the crash path can reach them without any argument.
var (
	additionalTags = contextset.NewStringSet(ContextCapacity)
	activeSpans    = contextset.NewIDSet(ContextCapacity)
	activeTraces   = contextset.NewIDSet(ContextCapacity)
)

// InsertAdditionalTag records a tag, e.g. "key:value", for the next report.
func InsertAdditionalTag(tag string) (contextset.Index, error) {
	return additionalTags.Insert(tag)
}

// RemoveAdditionalTag removes a tag. Removing twice is a no-op.
func RemoveAdditionalTag(idx contextset.Index) error {
	return additionalTags.Remove(idx)
}

// ClearAdditionalTags drops all recorded tags; outstanding indices become
// no-ops.
func ClearAdditionalTags() {
	additionalTags.Clear()
}

// InsertSpanID records an active span.
func InsertSpanID(id contextset.ID) (contextset.Index, error) {
	return activeSpans.Insert(id)
}

// RemoveSpanID removes a span recorded with InsertSpanID.
func RemoveSpanID(idx contextset.Index) error {
	return activeSpans.Remove(idx)
}

// ClearSpanIDs drops all recorded spans.
func ClearSpanIDs() {
	activeSpans.Clear()
}

// InsertTraceID records an active trace.
func InsertTraceID(id contextset.ID) (contextset.Index, error) {
	return activeTraces.Insert(id)
}

// RemoveTraceID removes a trace recorded with InsertTraceID.
func RemoveTraceID(idx contextset.Index) error {
	return activeTraces.Remove(idx)
}

// ClearTraceIDs drops all recorded traces.
func ClearTraceIDs() {
	activeTraces.Clear()
}
