// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package receiver

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const fatalSignalOutput = `SIGSEGV: segmentation violation
PC=0x7f3a1c2b4d10 m=3 sigcode=128 addr=0x0
signal arrived during cgo execution

goroutine 5 gp=0xc000007a40 m=3 mp=0xc00006c008 [syscall]:
runtime.cgocall(0x4a1b20, 0xc00004af30)
	/usr/local/go/src/runtime/cgocall.go:167 +0x4b fp=0xc00004af08 sp=0xc00004aed0 pc=0x4028eb
main._Cfunc_crash()
	_cgo_gotypes.go:39 +0x3f
...additional frames elided...

goroutine 1 [chan receive, 2 minutes]:
main.main()
	/src/main.go:30 +0x85
created by main.start in goroutine 1
	/src/main.go:10 +0x2e
`

func TestParseGoTraceback(t *testing.T) {
	tb := parseGoTraceback(fatalSignalOutput)
	require.Len(t, tb.threads, 2)

	first := tb.threads[0]
	assert.Equal(t, "goroutine 5", first.Name)
	assert.Equal(t, "syscall", first.State)
	assert.True(t, first.Stack.Incomplete)
	require.Len(t, first.Stack.Frames, 2)
	assert.Equal(t, "runtime.cgocall", first.Stack.Frames[0].Function)
	assert.Equal(t, "/usr/local/go/src/runtime/cgocall.go", first.Stack.Frames[0].File)
	assert.Equal(t, uint32(167), first.Stack.Frames[0].Line)
	assert.Equal(t, "0x4028eb", first.Stack.Frames[0].IP)
	assert.Equal(t, "0xc00004aed0", first.Stack.Frames[0].SP)
	assert.Equal(t, "main._Cfunc_crash", first.Stack.Frames[1].Function)

	second := tb.threads[1]
	assert.Equal(t, "chan receive, 2 minutes", second.State)
	assert.False(t, second.Stack.Incomplete)
	require.Len(t, second.Stack.Frames, 2)
	assert.Equal(t, "main.start", second.Stack.Frames[1].Function)

	si, ok := tb.sigInfo()
	require.True(t, ok)
	assert.Equal(t, 11, si.Signo)
	assert.Equal(t, 128, si.Code)

	_, _, hasMsg := tb.panicMessage()
	assert.False(t, hasMsg)
}

func TestPanicMessage(t *testing.T) {
	tests := map[string]struct {
		header  []string
		msg     string
		isPanic bool
		ok      bool
	}{
		"panic": {
			header:  []string{"panic: boom"},
			msg:     "boom",
			isPanic: true,
			ok:      true,
		},
		"recovered and repanicked": {
			header:  []string{"panic: boom [recovered]"},
			msg:     "boom",
			isPanic: true,
			ok:      true,
		},
		"fault": {
			header: []string{
				"panic: runtime error: index out of range [3] with length 2",
				"[signal SIGSEGV: segmentation violation code=0x1 addr=0x0 pc=0x1]",
			},
			msg:     "runtime error: index out of range [3] with length 2",
			isPanic: true,
			ok:      true,
		},
		"fatal error": {
			header: []string{"fatal error: concurrent map writes"},
			msg:    "fatal error: concurrent map writes",
			ok:     true,
		},
		"none": {
			header: []string{"SIGABRT: abort"},
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			tb := &goTraceback{header: tc.header}
			msg, isPanic, ok := tb.panicMessage()
			assert.Equal(t, tc.msg, msg)
			assert.Equal(t, tc.isPanic, isPanic)
			assert.Equal(t, tc.ok, ok)
		})
	}
}

func TestFunctionName(t *testing.T) {
	tests := map[string]string{
		"main.(*T).run(0xc000010000, {0x4b2f00, 0x5})": "main.(*T).run",
		"main.main()":                                  "main.main",
		"main.crash(...)":                              "main.crash",
		"created by main.start in goroutine 1":         "main.start",
		"created by main.start":                        "main.start",
		"main.func1":                                   "main.func1",
	}
	for line, want := range tests {
		t.Run(line, func(t *testing.T) {
			assert.Equal(t, want, functionName(line))
		})
	}
}
