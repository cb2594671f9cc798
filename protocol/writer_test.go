// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package protocol

import (
	"bytes"
	"encoding/json"
	"errors"
	"math"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type failingWriter struct{ calls int }

func (f *failingWriter) Write(p []byte) (int, error) {
	f.calls++
	return 0, errors.New("broken pipe")
}

func TestWriterBuffersAndFlushes(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)

	w.Line(BeginCounters)
	_, _ = w.WriteString("profiler_unwinding ")
	w.Int(-3)
	_ = w.WriteByte('\n')
	w.Line(EndCounters)
	assert.Zero(t, out.Len(), "nothing must reach the sink before Flush")

	require.NoError(t, w.Flush())
	assert.Equal(t, BeginCounters+"\nprofiler_unwinding -3\n"+EndCounters+"\n", out.String())
}

func TestWriterLargerThanBuffer(t *testing.T) {
	var out bytes.Buffer
	w := NewWriter(&out)
	payload := strings.Repeat("abcdefgh", 3*bufferSize/8+5)
	w.Line(payload)
	require.NoError(t, w.Flush())
	assert.Equal(t, payload+"\n", out.String())
}

func TestWriterStickyError(t *testing.T) {
	sink := &failingWriter{}
	w := NewWriter(sink)
	w.Line("hello")
	require.Error(t, w.Flush())
	w.Line("world")
	require.Error(t, w.Flush())
	assert.Equal(t, 1, sink.calls)
	assert.Error(t, w.Err())

	var out bytes.Buffer
	w.Reset(&out)
	require.NoError(t, w.Err())
	w.Line("again")
	require.NoError(t, w.Flush())
	assert.Equal(t, "again\n", out.String())
}

func TestWriterFD(t *testing.T) {
	r, wf, err := os.Pipe()
	require.NoError(t, err)
	defer r.Close()

	w := NewWriter(FD(wf.Fd()))
	w.Section(BeginKind, "Panic", EndKind)
	require.NoError(t, w.Flush())
	require.NoError(t, wf.Close())

	var got bytes.Buffer
	_, err = got.ReadFrom(r)
	require.NoError(t, err)
	assert.Equal(t, BeginKind+"\nPanic\n"+EndKind+"\n", got.String())
}

func TestWriterHex(t *testing.T) {
	tests := map[string]struct {
		value    uint64
		expected string
	}{
		"zero":  {value: 0, expected: "0x0000000000000000"},
		"small": {value: 0x1234, expected: "0x0000000000001234"},
		"max":   {value: math.MaxUint64, expected: "0xffffffffffffffff"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			var out bytes.Buffer
			w := NewWriter(&out)
			w.Hex(tc.value)
			require.NoError(t, w.Flush())
			assert.Equal(t, tc.expected, out.String())
		})
	}
}

func TestUint128(t *testing.T) {
	tests := map[string]struct {
		hi, lo  uint64
		decimal string
	}{
		"zero":      {decimal: "0"},
		"64-bit":    {lo: 1234567890123, decimal: "1234567890123"},
		"2^64":      {hi: 1, decimal: "18446744073709551616"},
		"2^64+10^19": {hi: 1, lo: 10_000_000_000_000_000_000, decimal: "28446744073709551616"},
		"max": {
			hi:      math.MaxUint64,
			lo:      math.MaxUint64,
			decimal: "340282366920938463463374607431768211455",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			assert.Equal(t, tc.decimal, string(AppendUint128(nil, tc.hi, tc.lo)))
			hi, lo, err := ParseUint128(tc.decimal)
			require.NoError(t, err)
			assert.Equal(t, tc.hi, hi)
			assert.Equal(t, tc.lo, lo)
		})
	}
}

func TestParseUint128Invalid(t *testing.T) {
	for _, s := range []string{
		"",
		"12a",
		"-1",
		"340282366920938463463374607431768211456",
		"1000000000000000000000000000000000000000",
	} {
		_, _, err := ParseUint128(s)
		assert.ErrorIs(t, err, ErrInvalidID, s)
	}
}

func TestJSONString(t *testing.T) {
	for _, s := range []string{
		"plain",
		`quote " and \ backslash`,
		"line\nbreak\ttab\rreturn",
		"control \x01\x1f",
		"unicode äöü 日本",
		"invalid \xff byte",
	} {
		var out bytes.Buffer
		w := NewWriter(&out)
		w.JSONString(s)
		require.NoError(t, w.Flush())

		var decoded string
		require.NoError(t, json.Unmarshal(out.Bytes(), &decoded), out.String())
		assert.Equal(t, strings.ToValidUTF8(s, "�"), decoded)
	}
}

func TestWriteSigInfo(t *testing.T) {
	si := NewSigInfo(11, 1)
	si.Addr = FormatAddr(0xdead)

	var out bytes.Buffer
	w := NewWriter(&out)
	w.WriteSigInfo(&si)
	require.NoError(t, w.Flush())

	var decoded SigInfo
	require.NoError(t, json.Unmarshal(out.Bytes(), &decoded))
	assert.Equal(t, si, decoded)
	assert.Equal(t, SignalName("SIGSEGV"), decoded.SignoHumanReadable)
	assert.Equal(t, "0x000000000000dead", decoded.Addr)
}

func TestParseMarker(t *testing.T) {
	tests := map[string]struct {
		line     string
		ok       bool
		expected Marker
	}{
		"begin config": {
			line:     BeginConfig,
			ok:       true,
			expected: Marker{Section: SectionConfig, Begin: true},
		},
		"end stacktrace": {
			line:     EndStackTrace,
			ok:       true,
			expected: Marker{Section: SectionStackTrace},
		},
		"done": {
			line:     Done,
			ok:       true,
			expected: Marker{Section: SectionDone, Begin: true},
		},
		"begin file": {
			line:     BeginFile + " /proc/self/maps",
			ok:       true,
			expected: Marker{Section: SectionFile, Begin: true, Arg: "/proc/self/maps"},
		},
		"begin file without name": {
			line:     BeginFile,
			ok:       true,
			expected: Marker{Section: SectionFile, Begin: true, Arg: "MISSING_FILENAME"},
		},
		"end file quoted": {
			line:     EndFile + ` "/proc/self/maps"`,
			ok:       true,
			expected: Marker{Section: SectionFile, Arg: "/proc/self/maps"},
		},
		"trailing garbage": {line: BeginConfig + "X"},
		"trailing space":   {line: Done + " "},
		"prefix only":      {line: "DD_CRASHTRACK_"},
		"unrelated":        {line: "hello world"},
		"glued file":       {line: BeginFile + "x"},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			m, ok := ParseMarker(tc.line)
			assert.Equal(t, tc.ok, ok)
			assert.Equal(t, tc.expected, m)
		})
	}
}
