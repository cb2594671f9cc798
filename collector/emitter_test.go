// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector

import (
	"bytes"
	"context"
	"os/signal"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/contextset"
	"go.opentelemetry.io/crashtracker/counters"
	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/protocol"
	"go.opentelemetry.io/crashtracker/receiver"
)

func newTestEmitter(t *testing.T, out *bytes.Buffer, resolve config.StacktraceCollection) *emitter {
	t.Helper()
	cfg := &config.Configuration{ResolveFrames: resolve, TracebackBufferSize: 64 * 1024}
	require.NoError(t, cfg.Validate())
	cfgJSON, err := cfg.Marshal()
	require.NoError(t, err)
	md := config.Metadata{LibraryName: "emitter-test", LibraryVersion: "0.1", Family: "go",
		Tags: []string{"env:test"}}
	mdJSON, err := md.Marshal()
	require.NoError(t, err)

	return &emitter{
		w:              protocol.NewWriter(out),
		cfg:            cfg,
		cfgJSON:        cfgJSON,
		mdJSON:         mdJSON,
		traceback:      make([]byte, cfg.TracebackBufferSize),
		additionalTags: contextset.NewStringSet(8),
		spanIDs:        contextset.NewIDSet(8),
		traceIDs:       contextset.NewIDSet(8),
		counters:       &counters.Counters{},
	}
}

func receive(t *testing.T, stream []byte) *receiver.Report {
	t.Helper()
	rep, err := receiver.ReceiveReport(context.Background(), bytes.NewReader(stream), time.Second)
	require.NoError(t, err)
	require.NotNil(t, rep)
	return rep
}

func TestEmitRoundTrip(t *testing.T) {
	tests := map[string]struct {
		resolve      config.StacktraceCollection
		wantFunction bool
		wantStack    bool
	}{
		"in-process symbols": {resolve: config.StacktraceInprocessSymbols, wantFunction: true,
			wantStack: true},
		"without symbols": {resolve: config.StacktraceWithoutSymbols, wantStack: true},
		"disabled":        {resolve: config.StacktraceDisabled},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			e := newTestEmitter(t, &out, tc.resolve)
			_, err := e.additionalTags.Insert("region:eu")
			require.NoError(t, err)
			_, err = e.spanIDs.Insert(contextset.IDFromUint64(7))
			require.NoError(t, err)
			_, err = e.traceIDs.Insert(contextset.ID{Hi: 1, Lo: 2})
			require.NoError(t, err)
			require.NoError(t, e.counters.Begin(counters.ProfilerUnwinding))

			var pcs [maxFrames]uintptr
			n := runtime.Callers(1, pcs[:])
			si := protocol.NewSigInfo(int(unix.SIGBUS), 0)
			require.NoError(t, e.emit(&trigger{
				kind:    crashinfo.KindUnixSignal,
				sigInfo: &si,
				pcs:     pcs[:n],
				tid:     gettid(),
			}))
			assert.True(t, strings.HasSuffix(out.String(), protocol.Done+"\n"))

			rep := receive(t, out.Bytes())
			require.True(t, rep.Complete)
			require.NotNil(t, rep.Config)
			assert.Equal(t, tc.resolve, rep.Config.ResolveFrames)

			ci := rep.Finalize(&receiver.Options{})
			assert.Equal(t, crashinfo.KindUnixSignal, ci.Error.Kind)
			require.NotNil(t, ci.SigInfo)
			assert.Equal(t, protocol.SignalName("SIGBUS"), ci.SigInfo.SignoHumanReadable)
			assert.Equal(t, "Process terminated with SI_USER (SIGBUS)", ci.Error.Message)
			assert.Equal(t, "emitter-test", ci.Metadata.LibraryName)
			assert.Equal(t, int64(1), ci.Counters["profiler_unwinding"])
			assert.Equal(t, int64(0), ci.Counters["profiler_serializing"])
			require.NotNil(t, ci.Experimental)
			assert.Contains(t, ci.Experimental.AdditionalTags, "region:eu")
			assert.NotEmpty(t, ci.Experimental.GoTraceback)
			require.Len(t, ci.SpanIDs, 1)
			assert.Equal(t, "7", ci.SpanIDs[0].ID)
			require.Len(t, ci.TraceIDs, 1)
			assert.Equal(t, "18446744073709551618", ci.TraceIDs[0].ID)
			require.NotNil(t, ci.ProcInfo)
			assert.Equal(t, uint32(unix.Getpid()), ci.ProcInfo.PID)
			assert.NotEmpty(t, ci.Files[procSelfMaps])
			assert.NotEmpty(t, ci.Error.Threads)
			assert.False(t, ci.Incomplete)

			if !tc.wantStack {
				assert.Empty(t, ci.Error.Stack.Frames)
				return
			}
			require.NotEmpty(t, ci.Error.Stack.Frames)
			top := ci.Error.Stack.Frames[0]
			assert.NotEmpty(t, top.IP)
			if tc.wantFunction {
				assert.Equal(t, "go.opentelemetry.io/crashtracker/collector.TestEmitRoundTrip.func1",
					top.Function)
				assert.Contains(t, top.File, "emitter_test.go")
				assert.Positive(t, top.Line)
			} else {
				assert.Empty(t, top.Function)
			}
		})
	}
}

func TestEmitDrainsContext(t *testing.T) {
	var out bytes.Buffer
	e := newTestEmitter(t, &out, config.StacktraceDisabled)
	_, err := e.additionalTags.Insert("a:b")
	require.NoError(t, err)

	require.NoError(t, e.emit(&trigger{kind: crashinfo.KindPanic, message: "first"}))
	assert.Zero(t, e.additionalTags.Len())

	out.Reset()
	e.w.Reset(&out)
	require.NoError(t, e.emit(&trigger{kind: crashinfo.KindPanic, message: "second"}))
	ci := receive(t, out.Bytes()).Finalize(&receiver.Options{})
	assert.Equal(t, "second", ci.Error.Message)
	if ci.Experimental != nil {
		assert.NotContains(t, ci.Experimental.AdditionalTags, "a:b")
	}
}

func TestTruncatedStream(t *testing.T) {
	var out bytes.Buffer
	e := newTestEmitter(t, &out, config.StacktraceWithoutSymbols)
	var pcs [maxFrames]uintptr
	n := runtime.Callers(1, pcs[:])
	require.NoError(t, e.emit(&trigger{
		kind:    crashinfo.KindPanic,
		message: "cut short",
		pcs:     pcs[:n],
	}))

	stream := out.String()
	// Cut in the middle of the stack trace section.
	end := strings.Index(stream, protocol.EndStackTrace)
	require.Positive(t, end)

	rep := receive(t, []byte(stream[:end]))
	assert.False(t, rep.Complete)
	ci := rep.Finalize(&receiver.Options{})
	assert.True(t, ci.Incomplete)
	assert.Equal(t, crashinfo.KindPanic, ci.Error.Kind)
	assert.Equal(t, "cut short", ci.Error.Message)
	assert.NotEmpty(t, ci.Error.Stack.Frames)
	assert.True(t, ci.Error.Stack.Incomplete)
}

func TestWritePreambleIsNoReport(t *testing.T) {
	var out bytes.Buffer
	e := newTestEmitter(t, &out, config.StacktraceDisabled)
	w := protocol.NewWriter(&out)
	writePreamble(w, e.cfgJSON, e.mdJSON)
	require.NoError(t, w.Flush())

	rep, err := receiver.ReceiveReport(context.Background(), &out, time.Second)
	require.NoError(t, err)
	assert.Nil(t, rep)
}

func TestTrimPanicFrames(t *testing.T) {
	var pcs []uintptr
	func() {
		defer func() {
			_ = recover()
			buf := make([]uintptr, maxFrames)
			n := runtime.Callers(1, buf)
			pcs = trimPanicFrames(buf[:n])
		}()
		panic("trim")
	}()
	require.NotEmpty(t, pcs)
	f, _ := runtime.CallersFrames(pcs).Next()
	assert.Equal(t, "go.opentelemetry.io/crashtracker/collector.TestTrimPanicFrames.func1", f.Function)
}

type faultError struct{ addr uintptr }

func (f faultError) Error() string { return "unexpected fault address" }
func (f faultError) Addr() uintptr  { return f.addr }

func TestPanicValueString(t *testing.T) {
	tests := map[string]struct {
		value any
		want  string
	}{
		"string":   {value: "boom", want: "boom"},
		"int":      {value: 42, want: "42"},
		"error":    {value: assert.AnError, want: assert.AnError.Error()},
		"fault":    {value: faultError{addr: 0xdead}, want: "unexpected fault address (addr 0xdead)"},
		"stringer": {value: time.Second, want: "1s"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.want, panicValueString(tc.value))
		})
	}
}

func TestSignalChains(t *testing.T) {
	ignored := unix.SIGUSR1
	signal.Ignore(ignored)
	t.Cleanup(func() { signal.Reset(ignored) })

	h := installSignals([]int{int(unix.SIGUSR2), int(ignored)})
	t.Cleanup(h.uninstall)

	assert.Equal(t, defaultChain, h.chain(unix.SIGUSR2))
	assert.Equal(t, ChainIgnore, h.chain(ignored))
	assert.Equal(t, ChainNone, h.chain(unix.SIGHUP))
	assert.Equal(t, "ignore", ChainIgnore.String())
}
