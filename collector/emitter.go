// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"encoding/json"
	"runtime"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/contextset"
	"go.opentelemetry.io/crashtracker/counters"
	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/protocol"
)

// procSelfMaps is attached to every report so the receiver can relate
// instruction pointers to mappings.
const procSelfMaps = "/proc/self/maps"

// maxFrames is the deepest crashing stack that is reported.
const maxFrames = 128

// trigger describes what caused a report.
type trigger struct {
	kind    crashinfo.ErrorKind
	message string
	sigInfo *protocol.SigInfo
	// pcs are program counters of the crashing goroutine.
	pcs []uintptr
	// frames are caller supplied frames, e.g. of a foreign runtime.
	frames []crashinfo.StackFrame
	tid    int
}

// emitter writes one crash report. All buffers are allocated ahead of the
// crash.
type emitter struct {
	w         *protocol.Writer
	cfg       *config.Configuration
	cfgJSON   []byte
	mdJSON    []byte
	traceback []byte
	fileBuf   [4096]byte

	additionalTags *contextset.StringSet
	spanIDs        *contextset.IDSet
	traceIDs       *contextset.IDSet
	counters       *counters.Counters
}

// emit writes the full report followed by DONE and flushes.
func (e *emitter) emit(t *trigger) error {
	w := e.w

	e.section(protocol.BeginConfig, e.cfgJSON, protocol.EndConfig)

	w.Line(protocol.BeginKind)
	w.JSONString(string(t.kind))
	_ = w.WriteByte('\n')
	w.Line(protocol.EndKind)

	if t.message != "" {
		w.Line(protocol.BeginMessage)
		w.JSONString(t.message)
		_ = w.WriteByte('\n')
		w.Line(protocol.EndMessage)
	}

	if t.sigInfo != nil {
		w.Line(protocol.BeginSigInfo)
		w.WriteSigInfo(t.sigInfo)
		w.Line(protocol.EndSigInfo)
	}

	e.emitProcInfo(t.tid)
	// Push what we have so far in case collecting the stacks goes wrong.
	_ = w.Flush()

	if e.cfg.ResolveFrames != config.StacktraceDisabled && (len(t.pcs) > 0 || len(t.frames) > 0) {
		w.Line(protocol.BeginStackTrace)
		e.emitFrames(t)
		w.Line(protocol.EndStackTrace)
	}

	if len(e.traceback) > 0 {
		w.Line(protocol.BeginGoTraceback)
		n := runtime.Stack(e.traceback, true)
		_, _ = w.Write(e.traceback[:n])
		if n > 0 && e.traceback[n-1] != '\n' {
			_ = w.WriteByte('\n')
		}
		w.Line(protocol.EndGoTraceback)
	}

	w.Line(protocol.BeginCounters)
	snap := e.counters.Snapshot()
	for op, count := range snap {
		_, _ = w.WriteString(counters.Op(op).String())
		_ = w.WriteByte(' ')
		w.Int(count)
		_ = w.WriteByte('\n')
	}
	w.Line(protocol.EndCounters)

	w.Line(protocol.BeginAdditionalTags)
	_ = e.additionalTags.ConsumeAndEmit(w)
	w.Line(protocol.EndAdditionalTags)

	w.Line(protocol.BeginSpanIDs)
	_ = e.spanIDs.ConsumeAndEmit(w)
	w.Line(protocol.EndSpanIDs)

	w.Line(protocol.BeginTraceIDs)
	_ = e.traceIDs.ConsumeAndEmit(w)
	w.Line(protocol.EndTraceIDs)

	e.emitFile(procSelfMaps)

	e.section(protocol.BeginMetadata, e.mdJSON, protocol.EndMetadata)

	w.Line(protocol.Done)
	return w.Flush()
}

func (e *emitter) section(begin string, body []byte, end string) {
	writeSection(e.w, begin, body, end)
}

func (e *emitter) emitProcInfo(tid int) {
	writeProcInfo(e.w, tid)
}

func writeSection(w *protocol.Writer, begin string, body []byte, end string) {
	w.Line(begin)
	w.LineBytes(body)
	w.Line(end)
}

func writeProcInfo(w *protocol.Writer, tid int) {
	w.Line(protocol.BeginProcInfo)
	_, _ = w.WriteString(`{"pid":`)
	w.Int(int64(unix.Getpid()))
	if tid > 0 {
		_, _ = w.WriteString(`,"tid":`)
		w.Int(int64(tid))
	}
	w.Line("}")
	w.Line(protocol.EndProcInfo)
}

func (e *emitter) emitFrames(t *trigger) {
	w := e.w
	if len(t.frames) > 0 {
		// Caller supplied frames come from outside the crash path.
		for i := range t.frames {
			if data, err := json.Marshal(&t.frames[i]); err == nil {
				w.LineBytes(data)
			}
		}
		return
	}
	if e.cfg.ResolveFrames != config.StacktraceInprocessSymbols {
		for _, pc := range t.pcs {
			_, _ = w.WriteString(`{"ip":"`)
			w.Hex(uint64(pc))
			w.Line(`"}`)
		}
		return
	}
	frames := runtime.CallersFrames(t.pcs)
	for {
		f, more := frames.Next()
		_, _ = w.WriteString(`{"ip":"`)
		w.Hex(uint64(f.PC))
		_, _ = w.WriteString(`","symbol_address":"`)
		w.Hex(uint64(f.Entry))
		_, _ = w.WriteString(`","function":`)
		w.JSONString(f.Function)
		_, _ = w.WriteString(`,"file":`)
		w.JSONString(f.File)
		_, _ = w.WriteString(`,"line":`)
		w.Int(int64(f.Line))
		w.Line("}")
		if !more {
			break
		}
	}
}

// emitFile copies name into a FILE section. Files that cannot be opened are
// skipped; the receiver notices their absence.
func (e *emitter) emitFile(name string) {
	fd, err := unix.Open(name, unix.O_RDONLY|unix.O_CLOEXEC, 0)
	if err != nil {
		return
	}
	defer unix.Close(fd)

	w := e.w
	_, _ = w.WriteString(protocol.BeginFile)
	_ = w.WriteByte(' ')
	w.Line(name)
	last := byte('\n')
	for {
		n, err := unix.Read(fd, e.fileBuf[:])
		if err == unix.EINTR {
			continue
		}
		if err != nil || n <= 0 {
			break
		}
		_, _ = w.Write(e.fileBuf[:n])
		last = e.fileBuf[n-1]
	}
	if last != '\n' {
		_ = w.WriteByte('\n')
	}
	_, _ = w.WriteString(protocol.EndFile)
	_, _ = w.WriteString(` "`)
	_, _ = w.WriteString(name)
	w.Line(`"`)
}
