// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"fmt"
	"runtime"
	"strconv"

	"go.opentelemetry.io/crashtracker/crashinfo"
)

// faultAddr is implemented by runtime errors raised for memory faults while
// debug.SetPanicOnFault is in effect.
type faultAddr interface {
	Addr() uintptr
}

// HandlePanic reports a panic and re-panics with the same value. Use it as
//
//	defer collector.HandlePanic()
//
// at the top of a goroutine.
func HandlePanic() {
	r := recover()
	if r == nil {
		return
	}
	reportPanic(r)
	panic(r)
}

func reportPanic(r any) bool {
	var pcs [maxFrames]uintptr
	// Skip runtime.Callers, reportPanic and HandlePanic.
	n := runtime.Callers(3, pcs[:])

	t := trigger{
		kind:    crashinfo.KindPanic,
		message: fmt.Sprintf("Process panicked with message \"%s\"", panicValueString(r)),
		pcs:     trimPanicFrames(pcs[:n]),
		tid:     gettid(),
	}
	if !handleCrash(&t) {
		return false
	}
	// The runtime would report the re-panic a second time.
	setupMu.Lock()
	disarmWatchdog()
	setupMu.Unlock()
	return true
}

func panicValueString(r any) string {
	var msg string
	switch v := r.(type) {
	case error:
		msg = v.Error()
	case fmt.Stringer:
		msg = v.String()
	case string:
		msg = v
	default:
		msg = fmt.Sprint(v)
	}
	if fa, ok := r.(faultAddr); ok {
		msg += " (addr 0x" + strconv.FormatUint(uint64(fa.Addr()), 16) + ")"
	}
	return msg
}

// trimPanicFrames drops the frames of the panic machinery so the stack starts
// at the function that panicked.
func trimPanicFrames(pcs []uintptr) []uintptr {
	cut := 0
	for i, pc := range pcs {
		fn := runtime.FuncForPC(pc - 1)
		if fn == nil {
			continue
		}
		switch fn.Name() {
		case "runtime.gopanic", "runtime.sigpanic", "runtime.panicmem":
			cut = i + 1
		}
	}
	if cut >= len(pcs) {
		return pcs
	}
	return pcs[cut:]
}

// ReportUnhandledException reports an exception a host runtime could not
// handle. frames describes the throwing stack; if empty, the caller's Go
// stack is used.
func ReportUnhandledException(typeName, message string, frames []crashinfo.StackFrame) error {
	if CurrentState() == StateUninstalled {
		return ErrNotInstalled
	}
	t := trigger{
		kind: crashinfo.KindUnhandledException,
		message: fmt.Sprintf(
			"Process was terminated due to an unhandled exception of type '%s'. Message: \"%s\"",
			typeName, message),
		frames: frames,
		tid:    gettid(),
	}
	if len(frames) == 0 {
		var pcs [maxFrames]uintptr
		n := runtime.Callers(2, pcs[:])
		t.pcs = pcs[:n]
	}
	if !handleCrash(&t) {
		return ErrNotReported
	}
	return nil
}
