// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package periodiccaller

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPeriodicCaller(t *testing.T) {
	interval := 10 * time.Millisecond
	trigger := make(chan bool)

	tests := map[string]func(context.Context, func()) func(){
		"Start": func(ctx context.Context, cb func()) func() {
			return Start(ctx, interval, cb)
		},
		"StartWithManualTrigger": func(ctx context.Context, cb func()) func() {
			return StartWithManualTrigger(ctx, interval, trigger, func(bool) { cb() })
		},
	}

	for name, testFunc := range tests {
		t.Run(name, func(t *testing.T) {
			ctx, cancel := context.WithTimeout(context.Background(), 1*time.Second)
			defer cancel()

			done := make(chan bool, 1)
			var counter atomic.Int32

			stop := testFunc(ctx, func() {
				if counter.Load() < 2 && counter.Add(1) == 2 {
					done <- true
				}
			})
			defer stop()

			select {
			case <-done:
				assert.Equal(t, int32(2), counter.Load())
			case <-ctx.Done():
				assert.Failf(t, "timeout", "%s: periodiccaller not working", name)
			}
		})
	}
}

func TestPeriodicCallerCancellation(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Millisecond)
	defer cancel()

	executions := make(chan struct{}, 20)
	stop := Start(ctx, time.Millisecond, func() {
		executions <- struct{}{}
	})
	defer stop()

	<-ctx.Done()
	// Give the callback time to execute if cancellation did not work.
	time.Sleep(10 * time.Millisecond)

	assert.NotEmpty(t, executions)
	assert.Less(t, len(executions), 12)
}

func TestPeriodicCallerManualTrigger(t *testing.T) {
	const numTrigger = 5
	// Larger than the time taken to execute the triggers.
	interval := 10 * time.Second
	ctx, cancel := context.WithTimeout(context.Background(), interval)
	defer cancel()

	var counter atomic.Int32
	trigger := make(chan bool)
	done := make(chan bool)

	stop := StartWithManualTrigger(ctx, interval, trigger, func(manualTrigger bool) {
		require.True(t, manualTrigger)
		if counter.Add(1) == numTrigger {
			done <- true
		}
	})
	defer stop()

	for range numTrigger {
		trigger <- true
	}
	<-done
	assert.Equal(t, int32(numTrigger), counter.Load())
}
