// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/protocol"
)

func TestBuilderEmpty(t *testing.T) {
	b := NewBuilder()
	assert.False(t, b.HasData())

	ci := b.Build()
	assert.Equal(t, SchemaVersion, ci.DataSchemaVersion)
	assert.Equal(t, b.UUID().String(), ci.UUID)
	assert.Equal(t, KindUnixSignal, ci.Error.Kind)
	assert.True(t, ci.Error.IsCrash)
	assert.Equal(t, "Crashtracking", ci.Error.SourceType)
	assert.Equal(t, UnknownValue, ci.Metadata.LibraryName)
	assert.Equal(t, UnknownOsInfo(), ci.OsInfo)
	assert.Contains(t, ci.LogMessages, "required field 'kind' missing")
	assert.Nil(t, ci.Experimental)
	assert.NotEmpty(t, ci.Fingerprint)
	// A missing stack alone does not make the report incomplete.
	assert.False(t, ci.Incomplete)
}

func TestBuilderIncomplete(t *testing.T) {
	tests := map[string]struct {
		build      func(b *Builder)
		incomplete bool
	}{
		"complete stack": {
			build: func(b *Builder) {
				require.NoError(t, b.WithStackFrame(StackFrame{IP: "0x1"}, true))
				b.WithStackSetComplete()
			},
		},
		"partial stack": {
			build: func(b *Builder) {
				require.NoError(t, b.WithStackFrame(StackFrame{IP: "0x1"}, true))
			},
			incomplete: true,
		},
		"truncated stream": {
			build: func(b *Builder) {
				b.WithStackSetComplete()
				b.WithIncomplete(true)
			},
			incomplete: true,
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			b := NewBuilder()
			tc.build(b)
			assert.True(t, b.HasData())
			assert.Equal(t, tc.incomplete, b.Build().Incomplete)
		})
	}
}

func TestBuilderFields(t *testing.T) {
	b := NewBuilder()
	require.NoError(t, b.WithKind(KindUnixSignal))
	require.Error(t, b.WithKind("Bogus"))
	si := protocol.NewSigInfo(11, 1)
	b.WithSigInfo(si)
	b.WithMessage(SignalMessage(&si))
	b.WithProcInfo(ProcInfo{PID: 42, TID: 43})
	b.WithMetadata(config.Metadata{LibraryName: "lib", LibraryVersion: "1.0", Family: "go"})
	require.NoError(t, b.WithCounter("profiler_unwinding", 1))
	require.Error(t, b.WithCounter("", 1))
	b.WithAdditionalTag("tag:1")
	b.WithSpanID(Span{ID: "12"})
	b.WithTraceID(Span{ID: "34"})
	b.WithFileContents("/proc/self/maps", []string{"line"})
	b.WithTimestamp(time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC))
	require.NoError(t, b.WithStackFrame(StackFrame{IP: "0x10", Function: "main.crash"}, true))
	b.WithStackSetComplete()
	require.ErrorIs(t, b.WithStackFrame(StackFrame{IP: "0x20"}, false), ErrStackComplete)

	ci := b.Build()
	assert.Equal(t, "Process terminated with SEGV_MAPERR (SIGSEGV)", ci.Error.Message)
	assert.Equal(t, &ProcInfo{PID: 42, TID: 43}, ci.ProcInfo)
	assert.Equal(t, "lib", ci.Metadata.LibraryName)
	assert.Equal(t, map[string]int64{"profiler_unwinding": 1}, ci.Counters)
	assert.Equal(t, []string{"tag:1"}, ci.Experimental.AdditionalTags)
	assert.Equal(t, []Span{{ID: "12"}}, ci.SpanIDs)
	assert.Equal(t, []Span{{ID: "34"}}, ci.TraceIDs)
	assert.Equal(t, "2024-01-02T03:04:05Z", ci.Timestamp)
	assert.Len(t, ci.Error.Stack.Frames, 1)
	assert.False(t, ci.Incomplete)
	assert.Empty(t, ci.LogMessages)

	data, err := json.Marshal(ci)
	require.NoError(t, err)
	var decoded map[string]any
	require.NoError(t, json.Unmarshal(data, &decoded))
	sig := decoded["sig_info"].(map[string]any)
	assert.Equal(t, "SIGSEGV", sig["si_signo_human_readable"])
	assert.Equal(t, true, decoded["error"].(map[string]any)["is_crash"])
}

func TestBuilderWithFile(t *testing.T) {
	name := filepath.Join(t.TempDir(), "extra.txt")
	require.NoError(t, os.WriteFile(name, []byte("a\nb\n"), 0o600))

	b := NewBuilder()
	require.NoError(t, b.WithFile(name))
	require.Error(t, b.WithFile(name+".missing"))

	lines, ok := b.FileContents(name)
	require.True(t, ok)
	assert.Equal(t, []string{"a", "b"}, lines)
}

func TestFingerprint(t *testing.T) {
	newInfo := func(fn string) *CrashInfo {
		b := NewBuilder()
		require.NoError(t, b.WithKind(KindUnixSignal))
		b.WithSigInfo(protocol.NewSigInfo(11, 0))
		require.NoError(t, b.WithStackFrame(StackFrame{IP: "0xdead", Function: fn}, false))
		return b.Build()
	}
	a := newInfo("main.a")
	assert.Len(t, a.Fingerprint, 16)
	assert.Equal(t, a.Fingerprint, newInfo("main.a").Fingerprint)
	assert.NotEqual(t, a.Fingerprint, newInfo("main.b").Fingerprint)
	assert.True(t, a.HasCrashSite())
}

func TestFingerprintWithoutFrames(t *testing.T) {
	newInfo := func(library string) *CrashInfo {
		b := NewBuilder()
		require.NoError(t, b.WithKind(KindUnixSignal))
		b.WithSigInfo(protocol.NewSigInfo(11, 0))
		b.WithMetadata(config.Metadata{LibraryName: library, LibraryVersion: "1.0"})
		return b.Build()
	}
	a, b := newInfo("liba"), newInfo("libb")
	assert.NotEqual(t, a.Fingerprint, b.Fingerprint)
	assert.False(t, a.HasCrashSite())
	assert.False(t, b.HasCrashSite())
}

func TestDemangleNames(t *testing.T) {
	stack := StackFromFrames([]StackFrame{
		{Function: "_ZN3foo3barEv"},
		{Function: "main.main"},
		{Function: "_Z!"},
	})
	failed := stack.DemangleNames()
	assert.Equal(t, 1, failed)
	assert.Equal(t, "foo::bar()", stack.Frames[0].Function)
	assert.Equal(t, "_ZN3foo3barEv", stack.Frames[0].MangledName)
	assert.Equal(t, "main.main", stack.Frames[1].Function)
	assert.Equal(t, "_Z!", stack.Frames[2].Function)
}

func TestOsInfoThisMachine(t *testing.T) {
	info, err := OsInfoThisMachine()
	require.NoError(t, err)
	assert.NotEmpty(t, info.OsType)
	assert.NotEmpty(t, info.Architecture)
	assert.NotContains(t, info.Version, "\x00")
}
