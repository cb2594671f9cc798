// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package crashinfo holds the structured crash report produced by the
// receiver, the builder that assembles it from a partially received stream,
// and the sinks that ship it.
package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"encoding/json"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/protocol"
)

// SchemaVersion is the data_schema_version of reports built by this package.
const SchemaVersion = "1.0"

// UnknownValue is substituted for anything the receiver never learned.
const UnknownValue = "unknown"

// ErrorKind classifies what terminated the process.
type ErrorKind string

const (
	KindPanic              ErrorKind = "Panic"
	KindUnhandledException ErrorKind = "UnhandledException"
	KindUnixSignal         ErrorKind = "UnixSignal"
)

// Valid reports whether k is one of the known kinds.
func (k ErrorKind) Valid() bool {
	switch k {
	case KindPanic, KindUnhandledException, KindUnixSignal:
		return true
	}
	return false
}

// ErrorData describes the crash itself.
type ErrorData struct {
	IsCrash    bool         `json:"is_crash"`
	Kind       ErrorKind    `json:"kind"`
	Message    string       `json:"message,omitempty"`
	SourceType string       `json:"source_type"`
	Stack      StackTrace   `json:"stack"`
	Threads    []ThreadData `json:"threads,omitempty"`
}

// Experimental carries data whose schema is not settled yet.
type Experimental struct {
	AdditionalTags []string `json:"additional_tags,omitempty"`
	Ucontext       string   `json:"ucontext,omitempty"`
	GoTraceback    string   `json:"go_traceback,omitempty"`
}

func (e *Experimental) empty() bool {
	return len(e.AdditionalTags) == 0 && e.Ucontext == "" && e.GoTraceback == ""
}

// ProcInfo identifies the crashed process and, when known, the crashing
// thread.
type ProcInfo struct {
	PID uint32 `json:"pid"`
	TID uint32 `json:"tid,omitempty"`
}

// Span is an active span or trace id at the time of the crash.
type Span struct {
	ID         string `json:"id"`
	ThreadName string `json:"thread_name,omitempty"`
}

// CrashInfo is the finalized crash report.
type CrashInfo struct {
	Counters          map[string]int64    `json:"counters,omitempty"`
	DataSchemaVersion string              `json:"data_schema_version"`
	Error             ErrorData           `json:"error"`
	Experimental      *Experimental       `json:"experimental,omitempty"`
	Files             map[string][]string `json:"files,omitempty"`
	Fingerprint       string              `json:"fingerprint,omitempty"`
	Incomplete        bool                `json:"incomplete"`
	LogMessages       []string            `json:"log_messages,omitempty"`
	Metadata          config.Metadata     `json:"metadata"`
	OsInfo            OsInfo              `json:"os_info"`
	ProcInfo          *ProcInfo           `json:"proc_info,omitempty"`
	SigInfo           *protocol.SigInfo   `json:"sig_info,omitempty"`
	SpanIDs           []Span              `json:"span_ids,omitempty"`
	Timestamp         string              `json:"timestamp"`
	TraceIDs          []Span              `json:"trace_ids,omitempty"`
	UUID              string              `json:"uuid"`
}

// MarshalIndent returns the pretty printed JSON form of c.
func (c *CrashInfo) MarshalIndent() ([]byte, error) {
	return json.MarshalIndent(c, "", "  ")
}

// CrashedThread returns the thread flagged as crashed, if any.
func (c *CrashInfo) CrashedThread() *ThreadData {
	for i := range c.Error.Threads {
		if c.Error.Threads[i].Crashed {
			return &c.Error.Threads[i]
		}
	}
	return nil
}

// DemangleNames demangles native function names in every stack. It returns
// the number of names that could not be demangled.
func (c *CrashInfo) DemangleNames() int {
	failed := c.Error.Stack.DemangleNames()
	for i := range c.Error.Threads {
		failed += c.Error.Threads[i].Stack.DemangleNames()
	}
	return failed
}
