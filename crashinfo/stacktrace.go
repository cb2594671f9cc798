// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"errors"
	"strings"

	"github.com/ianlancetaylor/demangle"
)

// StackFormat identifies the frame layout of a StackTrace.
const StackFormat = "Datadog Crashtracker 1.0"

// ErrStackComplete is returned when pushing onto a completed stack.
var ErrStackComplete = errors.New("can't push a new frame onto a complete stack")

// StackFrame is one frame. Addresses are 0x prefixed hex strings.
type StackFrame struct {
	IP                string `json:"ip,omitempty"`
	SP                string `json:"sp,omitempty"`
	SymbolAddress     string `json:"symbol_address,omitempty"`
	ModuleBaseAddress string `json:"module_base_address,omitempty"`

	BuildID string `json:"build_id,omitempty"`
	Path    string `json:"path,omitempty"`

	Function    string `json:"function,omitempty"`
	MangledName string `json:"mangled_name,omitempty"`
	File        string `json:"file,omitempty"`
	Line        uint32 `json:"line,omitempty"`
	Column      uint32 `json:"column,omitempty"`
}

// StackTrace is an ordered list of frames, innermost first.
type StackTrace struct {
	Format     string       `json:"format"`
	Frames     []StackFrame `json:"frames"`
	Incomplete bool         `json:"incomplete"`
}

// NewIncompleteStack returns an empty stack that still accepts frames.
func NewIncompleteStack() StackTrace {
	return StackTrace{Format: StackFormat, Frames: []StackFrame{}, Incomplete: true}
}

// MissingStack is used when no stack was received at all.
func MissingStack() StackTrace {
	return NewIncompleteStack()
}

// StackFromFrames returns a completed stack.
func StackFromFrames(frames []StackFrame) StackTrace {
	if frames == nil {
		frames = []StackFrame{}
	}
	return StackTrace{Format: StackFormat, Frames: frames}
}

// PushFrame appends frame. incomplete tells whether more frames follow.
func (s *StackTrace) PushFrame(frame StackFrame, incomplete bool) error {
	if !s.Incomplete {
		return ErrStackComplete
	}
	s.Frames = append(s.Frames, frame)
	s.Incomplete = incomplete
	return nil
}

// SetComplete marks the stack as fully received.
func (s *StackTrace) SetComplete() {
	s.Incomplete = false
}

// DemangleNames rewrites mangled C++ and Rust function names into their
// readable form, keeping the original in MangledName. It returns the number
// of names that looked mangled but failed to demangle.
func (s *StackTrace) DemangleNames() int {
	failed := 0
	for i := range s.Frames {
		f := &s.Frames[i]
		if !looksMangled(f.Function) {
			continue
		}
		name, err := demangle.ToString(f.Function, demangle.NoClones)
		if err != nil {
			failed++
			continue
		}
		f.MangledName = f.Function
		f.Function = name
	}
	return failed
}

func looksMangled(name string) bool {
	return strings.HasPrefix(name, "_Z") || strings.HasPrefix(name, "_R")
}

// ThreadData is the stack of one thread (goroutine) of the crashed process.
type ThreadData struct {
	Crashed bool       `json:"crashed"`
	Name    string     `json:"name"`
	Stack   StackTrace `json:"stack"`
	State   string     `json:"state,omitempty"`
}
