// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !(linux && (amd64 || arm64))

package collector // import "go.opentelemetry.io/crashtracker/collector"

import (
	"errors"

	"golang.org/x/sys/unix"
)

// defaultChain hands the signal back to the Go runtime, which terminates
// the process with its own fatal signal handling.
const defaultChain = ChainPrevious

func raiseDefault(unix.Signal) error {
	return errors.New("raising with the default disposition is not supported")
}
