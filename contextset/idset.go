// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package contextset // import "go.opentelemetry.io/crashtracker/contextset"

import (
	"go.opentelemetry.io/crashtracker/protocol"
)

// ID is a 128-bit span or trace id.
type ID struct {
	Hi, Lo uint64
}

// IDFromUint64 returns the ID of a 64-bit id.
func IDFromUint64(v uint64) ID {
	return ID{Lo: v}
}

// String returns the decimal representation.
func (id ID) String() string {
	return string(protocol.AppendUint128(nil, id.Hi, id.Lo))
}

func (id *ID) emit(w *protocol.Writer) {
	w.Uint128(id.Hi, id.Lo)
	_ = w.WriteByte('\n')
}

// IDSet is a set of 128-bit ids, e.g. the currently active spans.
type IDSet struct {
	set[ID]
}

// NewIDSet returns an IDSet with the given number of slots.
func NewIDSet(capacity int) *IDSet {
	return &IDSet{set: newSet[ID](capacity)}
}

// Insert stores id and returns the index to remove it with.
func (s *IDSet) Insert(id ID) (Index, error) {
	return s.insert(func(v *ID) { *v = id })
}

// ConsumeAndEmit writes every id as one decimal line to w and frees its slot.
func (s *IDSet) ConsumeAndEmit(w *protocol.Writer) error {
	return consumeAndEmit(&s.set, w, true)
}

// emitAll writes every id as one decimal line to w, leaving the set unchanged.
func (s *IDSet) emitAll(w *protocol.Writer) error {
	return consumeAndEmit(&s.set, w, false)
}

// values returns a copy of the stored ids.
func (s *IDSet) values() []ID {
	var out []ID
	s.each(false, func(v *ID) {
		out = append(out, *v)
	})
	return out
}
