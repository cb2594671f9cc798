// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build linux && (amd64 || arm64)

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"unsafe"

	"golang.org/x/sys/unix"
)

// sigactiont is the kernel's struct sigaction on amd64 and arm64.
type sigactiont struct {
	handler  uintptr
	flags    uint64
	restorer uintptr
	mask     uint64
}

// defaultChain restores the kernel default disposition on these
// platforms, which keeps the exit status and the core dump of the
// original signal.
const defaultChain = ChainDefault

// resetToDefault installs SIG_DFL behind the Go runtime's back. It is only
// used right before the process terminates itself.
func resetToDefault(sig unix.Signal) error {
	var sa sigactiont // zero handler is SIG_DFL
	_, _, errno := unix.RawSyscall6(unix.SYS_RT_SIGACTION, uintptr(sig),
		uintptr(unsafe.Pointer(&sa)), 0, unsafe.Sizeof(sa.mask), 0, 0)
	if errno != 0 {
		return errno
	}
	return nil
}

func unblock(sig unix.Signal) error {
	var set unix.Sigset_t
	set.Val[0] = 1 << (uint(sig) - 1)
	return unix.PthreadSigmask(unix.SIG_UNBLOCK, &set, nil)
}

// raiseDefault terminates the process by sig with the default disposition.
// The caller must be locked to its OS thread.
func raiseDefault(sig unix.Signal) error {
	if err := resetToDefault(sig); err != nil {
		return err
	}
	if err := unblock(sig); err != nil {
		return err
	}
	return unix.Tgkill(unix.Getpid(), unix.Gettid(), sig)
}
