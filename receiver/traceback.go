// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package receiver // import "go.opentelemetry.io/crashtracker/receiver"

import (
	"strconv"
	"strings"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/protocol"
)

// goTraceback is a parsed goroutine dump as written by runtime.Stack or by
// the runtime when the process dies.
type goTraceback struct {
	// header holds the lines preceding the first stack, e.g. "panic: ...".
	header  []string
	threads []crashinfo.ThreadData
}

// parseGoTraceback never fails; lines it does not understand are skipped.
func parseGoTraceback(text string) *goTraceback {
	tb := &goTraceback{}
	var cur *crashinfo.ThreadData
	var pending *crashinfo.StackFrame

	flush := func() {
		if pending != nil && cur != nil {
			cur.Stack.Frames = append(cur.Stack.Frames, *pending)
		}
		pending = nil
	}
	endThread := func() {
		flush()
		if cur != nil {
			tb.threads = append(tb.threads, *cur)
		}
		cur = nil
	}

	for _, line := range strings.Split(text, "\n") {
		line = strings.TrimRight(line, "\r")
		switch {
		case line == "":
			endThread()
		case cur == nil:
			if name, state, ok := parseGoroutineHeader(line); ok {
				cur = &crashinfo.ThreadData{
					Name:  name,
					State: state,
					Stack: crashinfo.StackFromFrames(nil),
				}
				continue
			}
			tb.header = append(tb.header, line)
		case strings.HasPrefix(line, "\t"):
			if pending != nil {
				parseFileLine(strings.TrimPrefix(line, "\t"), pending)
				flush()
			}
		case strings.HasPrefix(line, "...") && strings.HasSuffix(line, "elided..."):
			flush()
			cur.Stack.Incomplete = true
		default:
			flush()
			pending = &crashinfo.StackFrame{Function: functionName(line)}
		}
	}
	endThread()
	return tb
}

// parseGoroutineHeader matches "goroutine 7 [chan receive, 2 minutes]:" and
// the "goroutine 1 gp=0x.. m=0 mp=0x.. [running]:" form used with
// GOTRACEBACK=crash. The runtime also prints "runtime stack:" for the
// system stack of the crashing thread.
func parseGoroutineHeader(line string) (name, state string, ok bool) {
	if line == "runtime stack:" {
		return "runtime stack", "", true
	}
	rest, ok := strings.CutPrefix(line, "goroutine ")
	if !ok || !strings.HasSuffix(rest, "]:") {
		return "", "", false
	}
	id, _, _ := strings.Cut(rest, " ")
	if _, err := strconv.ParseUint(id, 10, 64); err != nil {
		return "", "", false
	}
	open := strings.LastIndexByte(rest, '[')
	if open < 0 {
		return "", "", false
	}
	return "goroutine " + id, rest[open+1 : len(rest)-2], true
}

// functionName strips the argument list from lines like
// "main.(*T).run(0xc000010000, {0x4b2f00, 0x5})" and the "created by"
// prefix of goroutine creation frames.
func functionName(line string) string {
	if rest, ok := strings.CutPrefix(line, "created by "); ok {
		// "created by main.main in goroutine 1"
		fn, _, _ := strings.Cut(rest, " in goroutine ")
		return fn
	}
	if !strings.HasSuffix(line, ")") {
		return line
	}
	depth := 0
	for i := len(line) - 1; i >= 0; i-- {
		switch line[i] {
		case ')':
			depth++
		case '(':
			depth--
			if depth == 0 {
				return line[:i]
			}
		}
	}
	return line
}

// parseFileLine parses "/src/main.go:12 +0x1d fp=0x.. sp=0x.. pc=0x..".
func parseFileLine(line string, frame *crashinfo.StackFrame) {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return
	}
	if i := strings.LastIndexByte(fields[0], ':'); i > 0 {
		frame.File = fields[0][:i]
		if n, err := strconv.ParseUint(fields[0][i+1:], 10, 32); err == nil {
			frame.Line = uint32(n)
		}
	} else {
		frame.File = fields[0]
	}
	for _, f := range fields[1:] {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "pc":
			frame.IP = value
		case "sp":
			frame.SP = value
		}
	}
}

// panicMessage extracts the message of "panic: ..." or "fatal error: ...".
func (tb *goTraceback) panicMessage() (msg string, isPanic, ok bool) {
	for i, line := range tb.header {
		if rest, found := strings.CutPrefix(line, "panic: "); found {
			// Multi line panic values continue until the next empty line,
			// which ended the header already.
			lines := []string{stripRecovered(rest)}
			for _, l := range tb.header[i+1:] {
				if strings.HasPrefix(l, "[signal ") || strings.HasPrefix(l, "\tpanic: ") {
					break
				}
				lines = append(lines, l)
			}
			return strings.Join(lines, "\n"), true, true
		}
		if strings.HasPrefix(line, "fatal error: ") {
			return line, false, true
		}
	}
	return "", false, false
}

func stripRecovered(msg string) string {
	if i := strings.LastIndex(msg, " [recovered"); i >= 0 && strings.HasSuffix(msg, "]") {
		return msg[:i]
	}
	return msg
}

// sigInfo parses the signal description of the runtime crash output. A
// recovered fault reads
//
//	[signal SIGSEGV: segmentation violation code=0x1 addr=0x0 pc=0x47c4b2]
//
// while a signal the runtime could not turn into a panic reads
//
//	SIGSEGV: segmentation violation
//	PC=0x47c4b2 m=0 sigcode=1 addr=0x0
func (tb *goTraceback) sigInfo() (*protocol.SigInfo, bool) {
	for i, line := range tb.header {
		var name, details string
		if rest, ok := strings.CutPrefix(line, "[signal "); ok {
			n, d, found := strings.Cut(strings.TrimSuffix(rest, "]"), ":")
			if !found {
				continue
			}
			name, details = n, d
		} else if n, _, found := strings.Cut(line, ": "); found && strings.HasPrefix(n, "SIG") &&
			i+1 < len(tb.header) && strings.HasPrefix(tb.header[i+1], "PC=") {
			name, details = n, tb.header[i+1]
		} else {
			continue
		}
		signo := int(unix.SignalNum(name))
		if signo == 0 {
			continue
		}
		return newSigInfo(signo, details), true
	}
	return nil, false
}

func newSigInfo(signo int, details string) *protocol.SigInfo {
	code, addr := 0, ""
	for _, f := range strings.Fields(details) {
		key, value, ok := strings.Cut(f, "=")
		if !ok {
			continue
		}
		switch key {
		case "code", "sigcode":
			if v, err := strconv.ParseInt(value, 0, 32); err == nil {
				code = int(v)
			}
		case "addr":
			if v, err := strconv.ParseUint(value, 0, 64); err == nil {
				addr = protocol.FormatAddr(uintptr(v))
			}
		}
	}
	si := protocol.NewSigInfo(signo, code)
	if protocol.HasFaultAddress(signo) {
		si.Addr = addr
	}
	return &si
}
