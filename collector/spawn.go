// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"fmt"
	"os"
	"syscall"

	"golang.org/x/sys/unix"

	"go.opentelemetry.io/crashtracker/config"
)

// openRedirect opens the file a receiver's stdout or stderr goes to.
func openRedirect(name string) (int, error) {
	if name == "" {
		name = os.DevNull
	}
	fd, err := unix.Open(name, unix.O_WRONLY|unix.O_CREAT|unix.O_APPEND|unix.O_CLOEXEC, 0o644)
	if err != nil {
		return -1, fmt.Errorf("failed to open %s: %w", name, err)
	}
	return fd, nil
}

// spawnReceiver starts the receiver binary with one end of a socket pair as
// its stdin.
func spawnReceiver(rc *config.ReceiverConfig) (*ProcessHandle, error) {
	// Hold ForkLock so no concurrent fork inherits the pair before it is
	// marked close-on-exec.
	syscall.ForkLock.RLock()
	fds, err := unix.Socketpair(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err == nil {
		unix.CloseOnExec(fds[0])
		unix.CloseOnExec(fds[1])
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return nil, fmt.Errorf("socketpair: %w", err)
	}
	child := fds[1]
	defer unix.Close(child)

	stdout, err := openRedirect(rc.StdoutFilename)
	if err != nil {
		unix.Close(fds[0])
		return nil, err
	}
	defer unix.Close(stdout)
	stderr, err := openRedirect(rc.StderrFilename)
	if err != nil {
		unix.Close(fds[0])
		return nil, err
	}
	defer unix.Close(stderr)

	env := rc.Env
	if env == nil {
		env = []string{}
	}
	pid, err := syscall.ForkExec(rc.Path, rc.Argv(), &syscall.ProcAttr{
		Env:   env,
		Files: []uintptr{uintptr(child), uintptr(stdout), uintptr(stderr)},
		Sys:   &syscall.SysProcAttr{Setpgid: true},
	})
	if err != nil {
		unix.Close(fds[0])
		return nil, fmt.Errorf("failed to start receiver %s: %w", rc.Path, err)
	}
	return NewProcessHandle(fds[0], pid), nil
}

// connectReceiver connects to a long-lived receiver. A path starting with
// '@' names an abstract socket.
func connectReceiver(path string) (*ProcessHandle, error) {
	fd, err := unix.Socket(unix.AF_UNIX, unix.SOCK_STREAM, 0)
	if err != nil {
		return nil, fmt.Errorf("socket: %w", err)
	}
	unix.CloseOnExec(fd)
	for {
		err = unix.Connect(fd, &unix.SockaddrUnix{Name: path})
		if err != unix.EINTR {
			break
		}
	}
	if err != nil {
		unix.Close(fd)
		return nil, fmt.Errorf("failed to connect to receiver at %s: %w", path, err)
	}
	return NewProcessHandle(fd, 0), nil
}
