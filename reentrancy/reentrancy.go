// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package reentrancy provides a compare-and-swap guard that admits at most
// one holder per guarded counter.
package reentrancy // import "go.opentelemetry.io/crashtracker/reentrancy"

import (
	"errors"
	"sync/atomic"
)

// ErrAlreadyInUse is returned by Acquire when the counter is already held.
var ErrAlreadyInUse = errors.New("reentrancy guard already in use")

// Guard is the token of a successful Acquire.
type Guard struct {
	counter *atomic.Int64
}

// Acquire takes the guard by moving counter from 0 to 1.
func Acquire(counter *atomic.Int64) (Guard, error) {
	if !counter.CompareAndSwap(0, 1) {
		return Guard{}, ErrAlreadyInUse
	}
	return Guard{counter: counter}, nil
}

// Release gives the guard back. Releasing twice, or releasing the zero
// Guard, is a no-op.
func (g *Guard) Release() {
	if g.counter == nil {
		return
	}
	g.counter.Add(-1)
	g.counter = nil
}

// Held reports whether g still holds its counter.
func (g *Guard) Held() bool {
	return g.counter != nil
}
