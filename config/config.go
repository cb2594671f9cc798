// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package config holds the configuration records shared by the crash
// collector and the receiver. The collector serializes its Configuration
// into every crash report, which is how the receiver learns where to upload.
package config // import "go.opentelemetry.io/crashtracker/config"

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"slices"
	"time"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/times"
)

var (
	// ErrAltStack is returned when an alternate stack is created but not used.
	ErrAltStack = errors.New("cannot create an altstack without using it")
	// ErrDuplicateSignal is returned for a signal list with repeated entries.
	ErrDuplicateSignal = errors.New("signals contain duplicate elements")
	// ErrTimeout is returned for a timeout that does not fit the wire format.
	ErrTimeout = errors.New("timeout out of range")
)

// StacktraceCollection selects how the stack of the crashing goroutine is
// collected.
type StacktraceCollection int

const (
	// StacktraceDisabled emits no STACKTRACE section.
	StacktraceDisabled StacktraceCollection = iota
	// StacktraceWithoutSymbols emits raw program counters only.
	StacktraceWithoutSymbols
	// StacktraceInprocessSymbols resolves function, file and line in the
	// crashing process.
	StacktraceInprocessSymbols
	// StacktraceSymbolsInReceiver emits raw program counters which the
	// receiver resolves from the executable of the crashed process.
	StacktraceSymbolsInReceiver
)

var stacktraceNames = []string{
	StacktraceDisabled:          "Disabled",
	StacktraceWithoutSymbols:    "WithoutSymbols",
	StacktraceInprocessSymbols:  "EnabledWithInprocessSymbols",
	StacktraceSymbolsInReceiver: "EnabledWithSymbolsInReceiver",
}

func (s StacktraceCollection) String() string {
	if s < 0 || int(s) >= len(stacktraceNames) {
		return fmt.Sprintf("StacktraceCollection(%d)", int(s))
	}
	return stacktraceNames[s]
}

// ParseStacktraceCollection is the inverse of StacktraceCollection.String.
func ParseStacktraceCollection(name string) (StacktraceCollection, error) {
	if i := slices.Index(stacktraceNames, name); i >= 0 {
		return StacktraceCollection(i), nil
	}
	return 0, fmt.Errorf("unknown stacktrace collection %q", name)
}

func (s StacktraceCollection) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

func (s *StacktraceCollection) UnmarshalText(text []byte) error {
	v, err := ParseStacktraceCollection(string(text))
	if err != nil {
		return err
	}
	*s = v
	return nil
}

// DefaultSignals are the signals considered fatal crashes.
var DefaultSignals = []int{
	int(unix.SIGABRT),
	int(unix.SIGBUS),
	int(unix.SIGFPE),
	int(unix.SIGILL),
	int(unix.SIGSEGV),
	int(unix.SIGSYS),
	int(unix.SIGTRAP),
}

// Configuration controls the crash collector. It is immutable once handed
// to the collector; use collector.UpdateConfig to replace it.
type Configuration struct {
	// AdditionalFiles are read by the receiver and attached to the report.
	AdditionalFiles []string `json:"additional_files,omitempty"`
	CreateAltStack  bool     `json:"create_alt_stack"`
	UseAltStack     bool     `json:"use_alt_stack"`
	// DemangleNames asks the receiver to demangle native function names.
	DemangleNames bool                 `json:"demangle_names"`
	Endpoint      *Endpoint            `json:"endpoint,omitempty"`
	ResolveFrames StacktraceCollection `json:"resolve_frames"`
	Signals       []int                `json:"signals"`
	TimeoutMs     uint32               `json:"timeout_ms"`
	// UnixSocketPath selects a long-lived receiver instead of spawning one.
	UnixSocketPath string `json:"unix_socket_path,omitempty"`
	// WatchRuntimeCrashes routes fatal Go runtime errors to a pre-spawned
	// receiver through runtime/debug.SetCrashOutput.
	WatchRuntimeCrashes bool `json:"watch_runtime_crashes,omitempty"`
	// TracebackBufferSize is the size of the buffer reserved for the
	// goroutine dump. Zero selects DefaultTracebackBufferSize.
	TracebackBufferSize int `json:"-"`
}

// DefaultTracebackBufferSize is the default size of the goroutine dump buffer.
const DefaultTracebackBufferSize = 256 * 1024

// Validate checks c and fills in defaults.
func (c *Configuration) Validate() error {
	if c.CreateAltStack && !c.UseAltStack {
		return ErrAltStack
	}
	if c.TimeoutMs == 0 {
		c.TimeoutMs = uint32(times.DefaultCollectorTimeout.Milliseconds())
	} else if c.TimeoutMs > math.MaxInt32 {
		return fmt.Errorf("%w: %d ms", ErrTimeout, c.TimeoutMs)
	}
	if len(c.Signals) == 0 {
		c.Signals = slices.Clone(DefaultSignals)
	} else {
		sorted := slices.Clone(c.Signals)
		slices.Sort(sorted)
		if len(slices.Compact(sorted)) != len(c.Signals) {
			return ErrDuplicateSignal
		}
		for _, sig := range c.Signals {
			if sig <= 0 || unix.SignalName(unix.Signal(sig)) == "" {
				return fmt.Errorf("unexpected signal number %d", sig)
			}
			if sig == int(unix.SIGKILL) || sig == int(unix.SIGSTOP) {
				return fmt.Errorf("signal %d cannot be caught", sig)
			}
		}
	}
	if c.ResolveFrames < StacktraceDisabled || c.ResolveFrames > StacktraceSymbolsInReceiver {
		return fmt.Errorf("invalid stacktrace collection %d", int(c.ResolveFrames))
	}
	if c.Endpoint != nil {
		if err := c.Endpoint.Validate(); err != nil {
			return err
		}
	}
	if c.TracebackBufferSize <= 0 {
		c.TracebackBufferSize = DefaultTracebackBufferSize
	}
	return nil
}

// Timeout returns the per report time budget.
func (c *Configuration) Timeout() time.Duration {
	if c.TimeoutMs == 0 {
		return times.DefaultCollectorTimeout
	}
	return time.Duration(c.TimeoutMs) * time.Millisecond
}

// Marshal returns the single line JSON form sent in the CONFIG section.
func (c *Configuration) Marshal() ([]byte, error) {
	return json.Marshal(c)
}

// Unmarshal parses the CONFIG section payload.
func Unmarshal(data []byte) (*Configuration, error) {
	var c Configuration
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, fmt.Errorf("failed to parse configuration: %w", err)
	}
	return &c, nil
}
