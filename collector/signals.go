// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"os"
	"os/signal"
	"runtime"
	"syscall"
	"time"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/crashinfo"
	"go.opentelemetry.io/crashtracker/protocol"
)

// Chain tells what happens to a signal once the collector is done with it.
type Chain int

const (
	// ChainNone marks a signal the collector does not handle.
	ChainNone Chain = iota
	// ChainDefault terminates the process with the kernel default
	// disposition of the signal.
	ChainDefault
	// ChainIgnore marks a signal that was ignored before installation. It
	// stays ignored and is not handled.
	ChainIgnore
	// ChainPrevious hands the signal back to the handler that was in place
	// before, the Go runtime's own fatal signal handling.
	ChainPrevious
)

func (c Chain) String() string {
	switch c {
	case ChainNone:
		return "none"
	case ChainDefault:
		return "default"
	case ChainIgnore:
		return "ignore"
	case ChainPrevious:
		return "previous"
	}
	return "unknown"
}

// fatalExitCode is what the Go runtime exits with on a fatal signal.
const fatalExitCode = 2

// raiseGrace is how long a re-raised signal gets to terminate the process
// before falling back to exiting.
const raiseGrace = time.Second

// signalHandler subscribes to the fatal signals and turns each delivery
// into a report.
type signalHandler struct {
	ch     chan os.Signal
	chains map[unix.Signal]Chain
	done   chan struct{}
}

// installSignals records the chain of every signal and subscribes to the
// ones that are not ignored.
func installSignals(signals []int) *signalHandler {
	h := &signalHandler{
		ch:     make(chan os.Signal, len(signals)),
		chains: make(map[unix.Signal]Chain, len(signals)),
		done:   make(chan struct{}),
	}
	var subscribe []os.Signal
	for _, s := range signals {
		sig := unix.Signal(s)
		if signal.Ignored(sig) {
			h.chains[sig] = ChainIgnore
			continue
		}
		h.chains[sig] = defaultChain
		subscribe = append(subscribe, sig)
	}
	if len(subscribe) > 0 {
		// Notify without signals would subscribe to all of them.
		signal.Notify(h.ch, subscribe...)
	}
	go h.loop()
	return h
}

func (h *signalHandler) chain(sig unix.Signal) Chain {
	if c, ok := h.chains[sig]; ok {
		return c
	}
	return ChainNone
}

// uninstall stops the subscription. Signals already queued are dropped.
func (h *signalHandler) uninstall() {
	signal.Stop(h.ch)
	close(h.done)
}

func (h *signalHandler) loop() {
	// Re-raising targets this very thread.
	runtime.LockOSThread()
	defer runtime.UnlockOSThread()

	for {
		select {
		case <-h.done:
			return
		case s := <-h.ch:
			sig, ok := s.(syscall.Signal)
			if !ok {
				continue
			}
			// The runtime does not expose the kernel siginfo to subscribers.
			// Anything delivered here was sent by kill(2) or a relative.
			si := protocol.NewSigInfo(int(sig), 0)
			handleCrash(&trigger{
				kind:    crashinfo.KindUnixSignal,
				sigInfo: &si,
			})
			h.reraise(sig)
		}
	}
}

// reraise applies the recorded chain so the process still dies from sig.
func (h *signalHandler) reraise(sig unix.Signal) {
	switch h.chain(sig) {
	case ChainIgnore, ChainNone:
		return
	case ChainDefault:
		if err := raiseDefault(sig); err == nil {
			time.Sleep(raiseGrace)
		}
	}
	signal.Reset(sig)
	_ = unix.Kill(unix.Getpid(), sig)
	time.Sleep(raiseGrace)
	os.Exit(fatalExitCode)
}
