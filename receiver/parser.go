// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package receiver // import "go.opentelemetry.io/crashtracker/receiver"

import (
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/protocol"
)

// maxLoggedLineLen bounds how much of an offending line ends up in the
// report's log messages.
const maxLoggedLineLen = 256

// parser is the receiving state machine. It consumes one line at a time and
// moves every completed section into the builder.
type parser struct {
	b   *crashinfo.Builder
	cfg *config.Configuration
	md  *config.Metadata

	section protocol.Section
	// sawData is set once any line was received.
	sawData bool
	// sawCrash is set once anything beyond the preamble (config, metadata
	// and proc info) was received.
	sawCrash bool

	fileName  string
	fileLines []string
	message   []string
	ucontext  []string
	traceback []string
	// implicitTraceback is set when the Go runtime wrote its crash output
	// directly, without GO_TRACEBACK markers.
	implicitTraceback bool
}

func newParser() *parser {
	return &parser{b: crashinfo.NewBuilder()}
}

func (p *parser) done() bool {
	return p.section == protocol.SectionDone
}

// processLine feeds one line, without its line terminator, to the parser.
// A returned error describes a line that could not be used; the parser
// state stays valid and parsing may continue.
func (p *parser) processLine(line string) error {
	p.sawData = true

	switch p.section {
	case protocol.SectionDone:
		return fmt.Errorf("unexpected line after crash report is done: %s", truncate(line))
	case protocol.SectionNone:
		return p.processOutside(line)
	}

	if m, ok := protocol.ParseMarker(line); ok {
		if m.Begin {
			// The previous section was cut short.
			unterminated := p.section
			p.abandonSection()
			return errors.Join(fmt.Errorf("section %s not terminated", unterminated),
				p.processOutside(line))
		}
		if m.Section != p.section {
			return fmt.Errorf("unexpected end marker for %s inside %s: %s",
				m.Section, p.section, truncate(line))
		}
		p.endSection()
		return nil
	}
	return p.processInside(line)
}

// abandonSection keeps what was received of the current section. A stack
// cut short stays incomplete.
func (p *parser) abandonSection() {
	if p.section == protocol.SectionStackTrace {
		p.section = protocol.SectionNone
		return
	}
	p.endSection()
}

func (p *parser) processOutside(line string) error {
	m, ok := protocol.ParseMarker(line)
	if !ok {
		if p.implicitTraceback || isGoCrashOutput(line) {
			p.implicitTraceback = true
			p.sawCrash = true
			p.traceback = append(p.traceback, line)
			return nil
		}
		return fmt.Errorf("unexpected line while receiving crash report: %s", truncate(line))
	}
	if !m.Begin {
		return fmt.Errorf("unexpected end marker outside of a section: %s", truncate(line))
	}
	p.section = m.Section
	switch m.Section {
	case protocol.SectionConfig, protocol.SectionMetadata, protocol.SectionProcInfo:
	default:
		p.sawCrash = true
	}
	switch m.Section {
	case protocol.SectionFile:
		p.fileName, p.fileLines = m.Arg, nil
	case protocol.SectionStackTrace:
		// An empty stack section still yields an empty stack.
		if !p.b.HasStack() {
			p.b.WithStack(crashinfo.NewIncompleteStack())
		}
	case protocol.SectionDone:
		p.finishImplicitTraceback()
	}
	return nil
}

func (p *parser) processInside(line string) error {
	switch p.section {
	case protocol.SectionConfig:
		if p.cfg != nil {
			// The config may contain secrets; never log it.
			return errors.New("unexpected double config")
		}
		cfg, err := config.Unmarshal([]byte(line))
		if err != nil {
			return err
		}
		p.cfg = cfg
	case protocol.SectionKind:
		kind := crashinfo.ErrorKind(unquote(line))
		if err := p.b.WithKind(kind); err != nil {
			return err
		}
	case protocol.SectionMessage:
		p.message = append(p.message, unquote(line))
	case protocol.SectionSigInfo:
		var si protocol.SigInfo
		if err := json.Unmarshal([]byte(line), &si); err != nil {
			return fmt.Errorf("failed to parse siginfo: %w", err)
		}
		p.b.WithSigInfo(si)
		p.b.WithTimestampNow()
	case protocol.SectionProcInfo:
		var pi crashinfo.ProcInfo
		if err := json.Unmarshal([]byte(line), &pi); err != nil {
			return fmt.Errorf("failed to parse procinfo: %w", err)
		}
		p.b.WithProcInfo(pi)
	case protocol.SectionStackTrace:
		var frame crashinfo.StackFrame
		if err := json.Unmarshal([]byte(line), &frame); err != nil {
			return fmt.Errorf("failed to parse stack frame: %w", err)
		}
		return p.b.WithStackFrame(frame, true)
	case protocol.SectionGoTraceback:
		p.traceback = append(p.traceback, line)
	case protocol.SectionCounters:
		return p.processCounter(line)
	case protocol.SectionAdditionalTags:
		if line != "" {
			p.b.WithAdditionalTag(line)
		}
	case protocol.SectionSpanIDs:
		return p.processIDs(line, p.b.WithSpanID)
	case protocol.SectionTraceIDs:
		return p.processIDs(line, p.b.WithTraceID)
	case protocol.SectionFile:
		p.fileLines = append(p.fileLines, line)
	case protocol.SectionMetadata:
		md, err := config.UnmarshalMetadata([]byte(line))
		if err != nil {
			return err
		}
		p.md = md
		p.b.WithMetadata(*md)
	case protocol.SectionUcontext:
		p.ucontext = append(p.ucontext, line)
	}
	return nil
}

func (p *parser) endSection() {
	switch p.section {
	case protocol.SectionMessage:
		p.b.WithMessage(strings.Join(p.message, "\n"))
		p.message = nil
	case protocol.SectionStackTrace:
		p.b.WithStackSetComplete()
	case protocol.SectionGoTraceback:
		p.b.WithGoTraceback(strings.Join(p.traceback, "\n"))
	case protocol.SectionFile:
		p.b.WithFileContents(p.fileName, p.fileLines)
		p.fileName, p.fileLines = "", nil
	case protocol.SectionUcontext:
		p.b.WithUcontext(strings.Join(p.ucontext, "\n"))
		p.ucontext = nil
	}
	p.section = protocol.SectionNone
}

// processCounter accepts "name value" as well as {"name": value}.
func (p *parser) processCounter(line string) error {
	if strings.HasPrefix(line, "{") {
		var m map[string]int64
		if err := json.Unmarshal([]byte(line), &m); err != nil {
			return fmt.Errorf("failed to parse counter: %w", err)
		}
		if len(m) != 1 {
			return fmt.Errorf("expected exactly one counter: %s", truncate(line))
		}
		for name, v := range m {
			return p.b.WithCounter(name, v)
		}
	}
	name, value, ok := strings.Cut(line, " ")
	if !ok {
		return fmt.Errorf("malformed counter: %s", truncate(line))
	}
	v, err := strconv.ParseInt(strings.TrimSpace(value), 10, 64)
	if err != nil {
		return fmt.Errorf("malformed counter value: %w", err)
	}
	return p.b.WithCounter(name, v)
}

// processIDs accepts one decimal id per line, or a JSON array of spans.
func (p *parser) processIDs(line string, add func(crashinfo.Span)) error {
	if strings.HasPrefix(line, "[") {
		var spans []crashinfo.Span
		if err := json.Unmarshal([]byte(line), &spans); err != nil {
			return fmt.Errorf("failed to parse ids: %w", err)
		}
		for _, s := range spans {
			add(s)
		}
		return nil
	}
	hi, lo, err := protocol.ParseUint128(line)
	if err != nil {
		return fmt.Errorf("%w: %s", err, truncate(line))
	}
	var tmp [40]byte
	add(crashinfo.Span{ID: string(protocol.AppendUint128(tmp[:0], hi, lo))})
	return nil
}

func (p *parser) finishImplicitTraceback() {
	if p.implicitTraceback && p.b.GoTraceback() == "" {
		p.b.WithGoTraceback(strings.Join(p.traceback, "\n"))
	}
}

// finish moves data of a section left open by a truncated stream into the
// builder and reports whether the stream ended properly.
func (p *parser) finish() (complete bool) {
	switch p.section {
	case protocol.SectionDone:
		return true
	case protocol.SectionNone:
		if p.implicitTraceback {
			// The Go runtime never terminates its crash output with DONE.
			p.finishImplicitTraceback()
			return true
		}
	default:
		p.abandonSection()
	}
	p.b.WithIncomplete(true)
	return false
}

// isGoCrashOutput reports whether line starts the crash output the Go
// runtime writes to the file set with debug.SetCrashOutput.
func isGoCrashOutput(line string) bool {
	for _, prefix := range []string{"panic: ", "fatal error: ", "fatal: morestack", "runtime: ",
		"SIGABRT: ", "SIGBUS: ", "SIGFPE: ", "SIGILL: ", "SIGSEGV: ", "SIGSYS: ", "SIGTRAP: "} {
		if strings.HasPrefix(line, prefix) {
			return true
		}
	}
	return false
}

func unquote(line string) string {
	if len(line) >= 2 && line[0] == '"' {
		var s string
		if err := json.Unmarshal([]byte(line), &s); err == nil {
			return s
		}
	}
	return line
}

func truncate(line string) string {
	if len(line) <= maxLoggedLineLen {
		return line
	}
	return line[:maxLoggedLineLen] + "..."
}
