// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package collector is the in-process side of the crash tracker. It turns
// fatal signals, panics and unhandled exceptions of a host runtime into a
// crash report that is streamed to a receiver process.
//
// The Go runtime owns the real signal handlers, so no Go code runs in
// signal context here. The crash path still avoids locks and keeps its
// buffers allocated ahead of time, since it runs while the process is
// already in an undefined state.
package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/counters"
	"go.opentelemetry.io/crashtracker/protocol"
	"go.opentelemetry.io/crashtracker/reentrancy"
	"go.opentelemetry.io/crashtracker/times"
)

// State is the lifecycle state of the collector.
type State int32

const (
	StateUninstalled State = iota
	StateInstalled
	StateTriggered
	StateEmitting
	StateAwaitingReceiver
	StateCompleted
	StateTimedOut
	StateAborted
)

var stateNames = [...]string{
	StateUninstalled:      "uninstalled",
	StateInstalled:        "installed",
	StateTriggered:        "triggered",
	StateEmitting:         "emitting",
	StateAwaitingReceiver: "awaiting_receiver",
	StateCompleted:        "completed",
	StateTimedOut:         "timed_out",
	StateAborted:          "aborted",
}

func (s State) String() string {
	if s < 0 || int(s) >= len(stateNames) {
		return fmt.Sprintf("State(%d)", int32(s))
	}
	return stateNames[s]
}

var (
	// ErrNotInstalled is returned by operations that need Init first.
	ErrNotInstalled = errors.New("crash tracker not initialized")
	// ErrAlreadyInstalled is returned by a second Init.
	ErrAlreadyInstalled = errors.New("crash tracker already initialized")
	// ErrNotReported is returned when a report could not be delivered.
	ErrNotReported = errors.New("crash report not delivered")
)

// installedConfig is the configuration together with its serialized form,
// which is what the crash path sends.
type installedConfig struct {
	cfg     *config.Configuration
	cfgJSON []byte
	// rcfg is nil for a long-lived receiver.
	rcfg *config.ReceiverConfig
}

var (
	// setupMu serializes the setup operations. The crash path never takes it.
	setupMu sync.Mutex

	state   atomic.Int32
	enabled atomic.Bool
	// guardCounter admits one crash report, or configuration swap, at a time.
	guardCounter atomic.Int64

	current  atomic.Pointer[installedConfig]
	metadata atomic.Pointer[[]byte]
	// eager is a receiver spawned ahead of the crash.
	eager atomic.Pointer[ProcessHandle]

	handler  *signalHandler
	watchdog *ProcessHandle

	crashWriter  = protocol.NewWriter(nil)
	crashEmitter = emitter{
		w:              crashWriter,
		additionalTags: additionalTags,
		spanIDs:        activeSpans,
		traceIDs:       activeTraces,
		counters:       &counters.Global,
	}
	tracebackBuf []byte
)

// CurrentState returns the lifecycle state.
func CurrentState() State {
	return State(state.Load())
}

func setState(s State) {
	state.Store(int32(s))
}

// Init installs the crash tracker. A receiver described by rcfg is spawned
// for every crash, or once at Init if rcfg.Eager is set.
func Init(cfg config.Configuration, rcfg config.ReceiverConfig, md config.Metadata) error {
	if cfg.UnixSocketPath != "" {
		return errors.New("configuration names a unix socket; use InitWithUnixSocket")
	}
	if err := rcfg.Validate(); err != nil {
		return fmt.Errorf("invalid receiver configuration: %w", err)
	}
	return install(&cfg, &rcfg, &md)
}

// InitWithUnixSocket installs the crash tracker and sends reports to the
// long-lived receiver listening on socketPath.
func InitWithUnixSocket(socketPath string, cfg config.Configuration, md config.Metadata) error {
	if socketPath == "" {
		return errors.New("empty unix socket path")
	}
	cfg.UnixSocketPath = socketPath
	return install(&cfg, nil, &md)
}

func install(cfg *config.Configuration, rcfg *config.ReceiverConfig, md *config.Metadata) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if CurrentState() != StateUninstalled {
		return ErrAlreadyInstalled
	}
	ic, err := newInstalledConfig(cfg, rcfg)
	if err != nil {
		return err
	}
	mdJSON, err := md.Marshal()
	if err != nil {
		return err
	}
	current.Store(ic)
	metadata.Store(&mdJSON)
	tracebackBuf = make([]byte, cfg.TracebackBufferSize)

	if err = startReceivers(ic); err != nil {
		stopReceivers()
		current.Store(nil)
		metadata.Store(nil)
		tracebackBuf = nil
		return err
	}
	handler = installSignals(cfg.Signals)
	enabled.Store(true)
	setState(StateInstalled)
	log.Debugf("Crash tracker installed for signals %v", cfg.Signals)
	return nil
}

func newInstalledConfig(cfg *config.Configuration, rcfg *config.ReceiverConfig) (*installedConfig, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	cfgJSON, err := cfg.Marshal()
	if err != nil {
		return nil, err
	}
	return &installedConfig{cfg: cfg, cfgJSON: cfgJSON, rcfg: rcfg}, nil
}

// startReceivers spawns the eager receiver and arms the watchdog as
// configured. Called with setupMu held.
func startReceivers(ic *installedConfig) error {
	if ic.rcfg != nil && ic.rcfg.Eager {
		h, err := spawnReceiver(ic.rcfg)
		if err != nil {
			return err
		}
		replaceEager(h)
	}
	if ic.cfg.WatchRuntimeCrashes {
		return armWatchdog(ic)
	}
	return nil
}

// stopReceivers finishes the eager receiver and the watchdog. Called with
// setupMu held.
func stopReceivers() {
	disarmWatchdog()
	replaceEager(nil)
}

func replaceEager(h *ProcessHandle) {
	if old := eager.Swap(h); old != nil {
		tm := times.NewTimeoutManager(0)
		_ = old.Finish(&tm)
	}
}

// Enable lets triggers produce reports again.
func Enable() {
	enabled.Store(true)
}

// Disable makes triggers fall through to the chained disposition.
func Disable() {
	enabled.Store(false)
}

// UpdateConfig replaces the configuration. It fails while a crash is being
// reported.
func UpdateConfig(cfg config.Configuration) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	old := current.Load()
	if old == nil {
		return ErrNotInstalled
	}
	if cfg.UnixSocketPath == "" && old.rcfg == nil {
		cfg.UnixSocketPath = old.cfg.UnixSocketPath
	}
	if cfg.UnixSocketPath != "" && old.rcfg != nil {
		return errors.New("cannot switch to a unix socket receiver")
	}
	ic, err := newInstalledConfig(&cfg, old.rcfg)
	if err != nil {
		return err
	}
	buf := tracebackBuf
	if len(buf) != cfg.TracebackBufferSize {
		buf = make([]byte, cfg.TracebackBufferSize)
	}
	err = swapUnderGuard(func() {
		current.Store(ic)
		tracebackBuf = buf
	})
	if err != nil {
		return err
	}
	return rearmWatchdog(ic)
}

// UpdateMetadata replaces the metadata. It fails while a crash is being
// reported.
func UpdateMetadata(md config.Metadata) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	ic := current.Load()
	if ic == nil {
		return ErrNotInstalled
	}
	mdJSON, err := md.Marshal()
	if err != nil {
		return err
	}
	if err = swapUnderGuard(func() { metadata.Store(&mdJSON) }); err != nil {
		return err
	}
	return rearmWatchdog(ic)
}

func swapUnderGuard(swap func()) error {
	guard, err := reentrancy.Acquire(&guardCounter)
	if err != nil {
		return fmt.Errorf("crash report in progress: %w", err)
	}
	defer guard.Release()
	swap()
	return nil
}

// ResetAfterFork prepares a child process that continues with its own
// identity: context and counters inherited from the parent are dropped, the
// new configuration is installed and an eager receiver is spawned anew.
// Signal subscriptions are kept.
func ResetAfterFork(cfg config.Configuration, rcfg config.ReceiverConfig, md config.Metadata) error {
	setupMu.Lock()
	defer setupMu.Unlock()

	if CurrentState() == StateUninstalled {
		return ErrNotInstalled
	}
	counters.Global.ResetAll()
	ClearAdditionalTags()
	ClearSpanIDs()
	ClearTraceIDs()
	guardCounter.Store(0)

	if err := rcfg.Validate(); err != nil {
		return fmt.Errorf("invalid receiver configuration: %w", err)
	}
	ic, err := newInstalledConfig(&cfg, &rcfg)
	if err != nil {
		return err
	}
	mdJSON, err := md.Marshal()
	if err != nil {
		return err
	}
	current.Store(ic)
	metadata.Store(&mdJSON)
	tracebackBuf = make([]byte, cfg.TracebackBufferSize)

	// Receivers of the parent are not ours to finish.
	eager.Store(nil)
	watchdog = nil
	return startReceivers(ic)
}

// Shutdown removes the signal subscriptions and stops all receivers.
func Shutdown() {
	setupMu.Lock()
	defer setupMu.Unlock()

	if handler != nil {
		handler.uninstall()
		handler = nil
	}
	enabled.Store(false)
	stopReceivers()
	current.Store(nil)
	metadata.Store(nil)
	setState(StateUninstalled)
}

// handleCrash streams one report and waits for the receiver. It reports
// whether the report was delivered.
func handleCrash(t *trigger) bool {
	if !enabled.Load() {
		return false
	}
	guard, err := reentrancy.Acquire(&guardCounter)
	if err != nil {
		return false
	}
	defer guard.Release()

	setState(StateTriggered)
	ic := current.Load()
	md := metadata.Load()
	if ic == nil || md == nil {
		setState(StateAborted)
		return false
	}
	tm := times.NewTimeoutManager(ic.cfg.Timeout())

	h, err := openReceiver(ic)
	if err != nil {
		setState(StateAborted)
		return false
	}
	_ = h.setSendTimeout(tm.Remaining())

	setState(StateEmitting)
	e := &crashEmitter
	e.w.Reset(protocol.FD(h.FD()))
	e.cfg = ic.cfg
	e.cfgJSON = ic.cfgJSON
	e.mdJSON = *md
	e.traceback = tracebackBuf
	emitErr := e.emit(t)
	_ = h.closeWrite()

	setState(StateAwaitingReceiver)
	finishErr := h.Finish(&tm)
	switch {
	case emitErr != nil:
		setState(StateAborted)
	case errors.Is(finishErr, ErrReceiverTimeout):
		setState(StateTimedOut)
	default:
		setState(StateCompleted)
	}
	return emitErr == nil
}

func openReceiver(ic *installedConfig) (*ProcessHandle, error) {
	if ic.cfg.UnixSocketPath != "" {
		return connectReceiver(ic.cfg.UnixSocketPath)
	}
	if h := eager.Swap(nil); h != nil {
		return h, nil
	}
	if ic.rcfg == nil {
		return nil, errors.New("no receiver configured")
	}
	return spawnReceiver(ic.rcfg)
}
