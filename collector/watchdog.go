// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"fmt"
	"os"
	"runtime/debug"

	log "github.com/sirupsen/logrus"

	"go.opentelemetry.io/crashtracker/protocol"
	"go.opentelemetry.io/crashtracker/times"
)

// armWatchdog connects a dedicated receiver to the runtime's crash output.
// The receiver gets the report preamble now; if the process later dies from
// an unrecovered panic or a fatal runtime error, the runtime appends its
// traceback. On a normal exit the receiver sees EOF after the preamble and
// produces no report. Called with setupMu held.
func armWatchdog(ic *installedConfig) error {
	var (
		h   *ProcessHandle
		err error
	)
	if ic.cfg.UnixSocketPath != "" {
		h, err = connectReceiver(ic.cfg.UnixSocketPath)
	} else {
		h, err = spawnReceiver(ic.rcfg)
	}
	if err != nil {
		return fmt.Errorf("failed to start the runtime crash receiver: %w", err)
	}

	w := protocol.NewWriter(protocol.FD(h.FD()))
	writePreamble(w, ic.cfgJSON, *metadata.Load())
	if err = w.Flush(); err != nil {
		finishWatchdog(h)
		return fmt.Errorf("failed to write the runtime crash preamble: %w", err)
	}

	f := os.NewFile(uintptr(h.FD()), "crashtracker-runtime-crash-output")
	// The runtime keeps its own duplicate of the descriptor.
	err = debug.SetCrashOutput(f, debug.CrashOptions{})
	f.Close()
	h.fd = -1
	if err != nil {
		finishWatchdog(h)
		return fmt.Errorf("failed to set the runtime crash output: %w", err)
	}
	watchdog = h
	return nil
}

// disarmWatchdog detaches the receiver from the runtime crash output. The
// runtime closes its descriptor, so the receiver exits without a report.
func disarmWatchdog() {
	if watchdog == nil {
		return
	}
	if err := debug.SetCrashOutput(nil, debug.CrashOptions{}); err != nil {
		log.Warnf("Failed to reset the runtime crash output: %v", err)
	}
	finishWatchdog(watchdog)
	watchdog = nil
}

// rearmWatchdog refreshes the preamble after a configuration or metadata
// change.
func rearmWatchdog(ic *installedConfig) error {
	if watchdog == nil && !ic.cfg.WatchRuntimeCrashes {
		return nil
	}
	disarmWatchdog()
	if !ic.cfg.WatchRuntimeCrashes {
		return nil
	}
	return armWatchdog(ic)
}

func finishWatchdog(h *ProcessHandle) {
	tm := times.NewTimeoutManager(times.MinimumReapTime)
	if err := h.Finish(&tm); err != nil {
		log.Debugf("Runtime crash receiver: %v", err)
	}
}

// writePreamble writes the sections a pre-spawned receiver needs to make
// sense of the runtime's crash output.
func writePreamble(w *protocol.Writer, cfgJSON, mdJSON []byte) {
	writeSection(w, protocol.BeginConfig, cfgJSON, protocol.EndConfig)
	writeSection(w, protocol.BeginMetadata, mdJSON, protocol.EndMetadata)
	writeProcInfo(w, 0)
}
