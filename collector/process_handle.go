// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"errors"
	"fmt"
	"time"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/times"
)

// ErrReceiverTimeout is returned when the receiver did not hang up within
// the time budget.
var ErrReceiverTimeout = errors.New("receiver did not finish in time")

// ProcessHandle owns the connection to a receiver and, if the receiver was
// spawned by this process, its pid.
type ProcessHandle struct {
	fd  int
	pid int
}

// NewProcessHandle wraps an already connected descriptor. pid is zero for a
// receiver this process did not spawn.
func NewProcessHandle(fd, pid int) *ProcessHandle {
	return &ProcessHandle{fd: fd, pid: pid}
}

// FD returns the descriptor the report is written to.
func (h *ProcessHandle) FD() int {
	return h.fd
}

// PID returns the receiver's pid, or zero.
func (h *ProcessHandle) PID() int {
	return h.pid
}

// setSendTimeout bounds every blocking write on the connection.
func (h *ProcessHandle) setSendTimeout(d time.Duration) error {
	if d <= 0 {
		d = time.Millisecond
	}
	tv := unix.NsecToTimeval(d.Nanoseconds())
	return unix.SetsockoptTimeval(h.fd, unix.SOL_SOCKET, unix.SO_SNDTIMEO, &tv)
}

// closeWrite tells the receiver that the report is complete.
func (h *ProcessHandle) closeWrite() error {
	return unix.Shutdown(h.fd, unix.SHUT_WR)
}

// Finish waits for the receiver to hang up within tm's remaining budget,
// closes the connection and, for a spawned receiver, kills and reaps it.
// The reap is granted at least times.MinimumReapTime so that no zombie is
// left behind even when the budget is exhausted.
func (h *ProcessHandle) Finish(tm *times.TimeoutManager) error {
	var errs []error
	if h.fd >= 0 {
		if err := waitForPollhup(h.fd, tm); err != nil {
			errs = append(errs, err)
		}
		if err := unix.Close(h.fd); err != nil {
			errs = append(errs, fmt.Errorf("close: %w", err))
		}
		h.fd = -1
	}
	if h.pid > 0 {
		// Whether or not it hung up, the receiver has nothing left to do.
		if err := unix.Kill(h.pid, unix.SIGKILL); err != nil && err != unix.ESRCH {
			errs = append(errs, fmt.Errorf("kill receiver %d: %w", h.pid, err))
		}
		reapBudget := max(tm.Remaining(), times.MinimumReapTime)
		if err := reap(h.pid, times.NewTimeoutManager(reapBudget)); err != nil {
			errs = append(errs, err)
		}
		h.pid = 0
	}
	return errors.Join(errs...)
}

func waitForPollhup(fd int, tm *times.TimeoutManager) error {
	fds := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLHUP}}
	for {
		remaining := tm.Remaining()
		if remaining <= 0 {
			return ErrReceiverTimeout
		}
		// Round up so a sub-millisecond budget still polls once.
		ms := int((remaining + time.Millisecond - 1) / time.Millisecond)
		n, err := unix.Poll(fds, ms)
		if err == unix.EINTR {
			continue
		}
		if err != nil {
			return fmt.Errorf("poll: %w", err)
		}
		if n == 0 {
			return ErrReceiverTimeout
		}
		if fds[0].Revents&(unix.POLLHUP|unix.POLLERR|unix.POLLNVAL) != 0 {
			return nil
		}
	}
}

// reap collects the exit status of pid without blocking past tm.
func reap(pid int, tm times.TimeoutManager) error {
	for {
		var ws unix.WaitStatus
		wpid, err := unix.Wait4(pid, &ws, unix.WNOHANG, nil)
		switch {
		case err == unix.EINTR:
			continue
		case err == unix.ECHILD:
			// Already reaped elsewhere.
			return nil
		case err != nil:
			return fmt.Errorf("wait4 %d: %w", pid, err)
		case wpid == pid:
			return nil
		}
		if tm.Expired() {
			return fmt.Errorf("receiver %d not reaped within %v", pid, tm.Timeout())
		}
		time.Sleep(times.ReapPollInterval)
	}
}
