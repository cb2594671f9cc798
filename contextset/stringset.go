// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package contextset // import "go.opentelemetry.io/crashtracker/contextset"

import (
	"unicode/utf8"

	"go.opentelemetry.io/crashtracker/protocol"
)

// MaxStringLen is the longest value a StringSet stores. Longer values are
// truncated at a rune boundary.
const MaxStringLen = 255

type fixedString struct {
	n uint8
	b [MaxStringLen]byte
}

func (f *fixedString) set(s string) {
	if len(s) > MaxStringLen {
		cut := MaxStringLen
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		s = s[:cut]
	}
	n := copy(f.b[:], s)
	// Values travel as single protocol lines.
	for i := range n {
		if f.b[i] == '\n' || f.b[i] == '\r' {
			f.b[i] = ' '
		}
	}
	f.n = uint8(n)
}

func (f *fixedString) bytes() []byte {
	return f.b[:f.n]
}

func (f *fixedString) emit(w *protocol.Writer) {
	w.LineBytes(f.bytes())
}

// StringSet is a set of short strings, e.g. additional tags.
type StringSet struct {
	set[fixedString]
}

// NewStringSet returns a StringSet with the given number of slots.
func NewStringSet(capacity int) *StringSet {
	return &StringSet{set: newSet[fixedString](capacity)}
}

// Insert stores v and returns the index to remove it with.
func (s *StringSet) Insert(v string) (Index, error) {
	return s.insert(func(f *fixedString) { f.set(v) })
}

// ConsumeAndEmit writes every value as one line to w and frees its slot.
func (s *StringSet) ConsumeAndEmit(w *protocol.Writer) error {
	return consumeAndEmit(&s.set, w, true)
}

// emitAll writes every value as one line to w, leaving the set unchanged.
func (s *StringSet) emitAll(w *protocol.Writer) error {
	return consumeAndEmit(&s.set, w, false)
}

// values returns a copy of the stored values.
func (s *StringSet) values() []string {
	var out []string
	s.each(false, func(f *fixedString) {
		out = append(out, string(f.bytes()))
	})
	return out
}
