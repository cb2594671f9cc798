// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"bufio"
	"errors"
	"fmt"
	"os"
	"slices"
	"time"

	"github.com/google/uuid"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/protocol"
)

// Builder accumulates whatever part of a crash report was received. Every
// field is optional; Build substitutes defaults for what is missing, so a
// truncated stream still yields a report.
type Builder struct {
	counters       map[string]int64
	kind           ErrorKind
	message        *string
	stack          *StackTrace
	threads        []ThreadData
	additionalTags []string
	ucontext       string
	goTraceback    string
	files          map[string][]string
	incomplete     bool
	logMessages    []string
	metadata       *config.Metadata
	osInfo         *OsInfo
	procInfo       *ProcInfo
	sigInfo        *protocol.SigInfo
	spanIDs        []Span
	traceIDs       []Span
	timestamp      time.Time

	uuid uuid.UUID
}

// NewBuilder returns an empty builder. The report UUID is allocated right
// away so it identifies the report even if the stream never completes.
func NewBuilder() *Builder {
	return &Builder{uuid: uuid.New()}
}

// UUID returns the identifier the report will carry.
func (b *Builder) UUID() uuid.UUID {
	return b.uuid
}

// HasData reports whether anything was added to b.
func (b *Builder) HasData() bool {
	return b.counters != nil || b.kind != "" || b.message != nil ||
		b.stack != nil || b.threads != nil || b.additionalTags != nil ||
		b.ucontext != "" || b.goTraceback != "" || b.files != nil ||
		b.incomplete || b.logMessages != nil || b.metadata != nil ||
		b.osInfo != nil || b.procInfo != nil || b.sigInfo != nil ||
		b.spanIDs != nil || b.traceIDs != nil || !b.timestamp.IsZero()
}

// WithCounter records the value of one op counter.
func (b *Builder) WithCounter(name string, value int64) error {
	if name == "" {
		return errors.New("empty counter name not allowed")
	}
	if b.counters == nil {
		b.counters = make(map[string]int64)
	}
	b.counters[name] = value
	return nil
}

func (b *Builder) WithKind(kind ErrorKind) error {
	if !kind.Valid() {
		return fmt.Errorf("unknown error kind %q", kind)
	}
	b.kind = kind
	return nil
}

func (b *Builder) Kind() ErrorKind {
	return b.kind
}

func (b *Builder) WithMessage(message string) {
	b.message = &message
}

// HasMessage reports whether a message was set.
func (b *Builder) HasMessage() bool {
	return b.message != nil
}

func (b *Builder) WithSigInfo(si protocol.SigInfo) {
	b.sigInfo = &si
}

func (b *Builder) SigInfo() *protocol.SigInfo {
	return b.sigInfo
}

func (b *Builder) WithProcInfo(pi ProcInfo) {
	b.procInfo = &pi
}

func (b *Builder) ProcInfo() *ProcInfo {
	return b.procInfo
}

func (b *Builder) WithMetadata(md config.Metadata) {
	b.metadata = &md
}

func (b *Builder) Metadata() *config.Metadata {
	return b.metadata
}

func (b *Builder) WithOsInfo(info OsInfo) {
	b.osInfo = &info
}

// WithOsInfoThisMachine queries the local OS. On failure the OS info stays
// unknown and the error is recorded as a log message.
func (b *Builder) WithOsInfoThisMachine() {
	info, err := OsInfoThisMachine()
	if err != nil {
		b.WithLogMessage(fmt.Sprintf("failed to query os info: %v", err))
	}
	b.osInfo = &info
}

func (b *Builder) WithTimestamp(ts time.Time) {
	b.timestamp = ts
}

func (b *Builder) WithTimestampNow() {
	b.timestamp = time.Now()
}

// WithStack replaces the crashing stack.
func (b *Builder) WithStack(stack StackTrace) {
	b.stack = &stack
}

// WithStackFrame appends frame to the crashing stack, creating it on first
// use.
func (b *Builder) WithStackFrame(frame StackFrame, incomplete bool) error {
	if b.stack == nil {
		s := NewIncompleteStack()
		b.stack = &s
	}
	return b.stack.PushFrame(frame, incomplete)
}

// WithStackSetComplete marks the crashing stack as fully received. An empty
// stack section still yields an (empty) complete stack.
func (b *Builder) WithStackSetComplete() {
	if b.stack == nil {
		s := StackFromFrames(nil)
		b.stack = &s
		return
	}
	b.stack.SetComplete()
}

// Stack returns the crashing stack for in place modification, or nil.
func (b *Builder) Stack() *StackTrace {
	return b.stack
}

func (b *Builder) HasStack() bool {
	return b.stack != nil
}

func (b *Builder) WithThread(t ThreadData) {
	b.threads = append(b.threads, t)
}

func (b *Builder) WithAdditionalTag(tag string) {
	b.additionalTags = append(b.additionalTags, tag)
}

func (b *Builder) WithUcontext(text string) {
	b.ucontext = text
}

func (b *Builder) WithGoTraceback(text string) {
	b.goTraceback = text
}

func (b *Builder) GoTraceback() string {
	return b.goTraceback
}

// WithFileContents attaches a file. A repeated name replaces the contents.
func (b *Builder) WithFileContents(name string, lines []string) {
	if b.files == nil {
		b.files = make(map[string][]string)
	}
	if lines == nil {
		lines = []string{}
	}
	b.files[name] = lines
}

// FileContents returns the lines of an attached file.
func (b *Builder) FileContents(name string) ([]string, bool) {
	lines, ok := b.files[name]
	return lines, ok
}

// WithFile reads name from the local file system and attaches it.
func (b *Builder) WithFile(name string) error {
	f, err := os.Open(name)
	if err != nil {
		return fmt.Errorf("failed to open %s: %w", name, err)
	}
	defer f.Close()

	var lines []string
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("failed to read %s: %w", name, err)
	}
	b.WithFileContents(name, lines)
	return nil
}

// WithIncomplete flags the capture as truncated.
func (b *Builder) WithIncomplete(incomplete bool) {
	b.incomplete = incomplete
}

func (b *Builder) WithLogMessage(msg string) {
	b.logMessages = append(b.logMessages, msg)
}

func (b *Builder) WithSpanID(s Span) {
	b.spanIDs = append(b.spanIDs, s)
}

func (b *Builder) WithTraceID(s Span) {
	b.traceIDs = append(b.traceIDs, s)
}

// Build finalizes the report. Build does not fail: missing fields are
// defaulted and the fingerprint is computed from whatever was received.
func (b *Builder) Build() *CrashInfo {
	kind := b.kind
	logMessages := b.logMessages
	if kind == "" {
		kind = KindUnixSignal
		if b.sigInfo == nil {
			logMessages = append(slices.Clip(logMessages), "required field 'kind' missing")
		}
	}

	stack := MissingStack()
	if b.stack != nil {
		stack = *b.stack
	}

	ts := b.timestamp
	if ts.IsZero() {
		ts = time.Now()
	}

	ci := &CrashInfo{
		Counters:          b.counters,
		DataSchemaVersion: SchemaVersion,
		Error: ErrorData{
			IsCrash:    true,
			Kind:       kind,
			SourceType: "Crashtracking",
			Stack:      stack,
			Threads:    b.threads,
		},
		Files:       b.files,
		Incomplete:  b.incomplete || (b.stack != nil && b.stack.Incomplete),
		LogMessages: logMessages,
		OsInfo:      UnknownOsInfo(),
		ProcInfo:    b.procInfo,
		SigInfo:     b.sigInfo,
		SpanIDs:     b.spanIDs,
		Timestamp:   ts.UTC().Format(time.RFC3339Nano),
		TraceIDs:    b.traceIDs,
		UUID:        b.uuid.String(),
	}
	if b.message != nil {
		ci.Error.Message = *b.message
	}
	if b.metadata != nil {
		ci.Metadata = *b.metadata
	} else {
		ci.Metadata = config.Metadata{
			LibraryName:    UnknownValue,
			LibraryVersion: UnknownValue,
			Family:         UnknownValue,
			Tags:           []string{},
		}
	}
	if b.osInfo != nil {
		ci.OsInfo = *b.osInfo
	}
	exp := &Experimental{
		AdditionalTags: b.additionalTags,
		Ucontext:       b.ucontext,
		GoTraceback:    b.goTraceback,
	}
	if !exp.empty() {
		ci.Experimental = exp
	}
	ci.Fingerprint = ComputeFingerprint(ci)
	return ci
}

// SignalMessage is the error message used for crashes caused by a signal.
func SignalMessage(si *protocol.SigInfo) string {
	return fmt.Sprintf("Process terminated with %s (%s)", si.CodeHumanReadable, si.SignoHumanReadable)
}
