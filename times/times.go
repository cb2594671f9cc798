// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package times // import "go.opentelemetry.io/crashtracker/times"

import (
	"time"
)

const (
	// DefaultCollectorTimeout bounds a full crash report on the collector side
	// when the configuration leaves the timeout unset.
	DefaultCollectorTimeout = 5 * time.Second
	// DefaultReceiverTimeout bounds how long the receiver reads a report,
	// counted from the first line it receives.
	DefaultReceiverTimeout = 4 * time.Second
	// MinimumReapTime is the grace period granted to reap a killed receiver
	// even when the overall budget is already exhausted.
	MinimumReapTime = 160 * time.Millisecond
	// ReapPollInterval is the sleep between two non-blocking reap attempts.
	ReapPollInterval = 1 * time.Millisecond
	// DedupLifetime defines how long a fingerprint suppresses duplicate
	// uploads in the long-lived receiver.
	DedupLifetime = 10 * time.Minute
	// DefaultStatsInterval defines how often the long-lived receiver logs
	// its upload statistics.
	DefaultStatsInterval = 5 * time.Minute
)

// Compile time check for interface adherence
var _ IntervalsAndTimers = (*Times)(nil)

// Times hold all the intervals and timeouts that are used across the receiver
// in a central place and comes with Getters to read them.
type Times struct {
	receiverTimeout time.Duration
	statsInterval   time.Duration
	dedupLifetime   time.Duration
	uploadTimeout   time.Duration
}

// IntervalsAndTimers is a meta-interface that exists purely to document its functionality.
type IntervalsAndTimers interface {
	// ReceiverTimeout bounds reading a single crash report.
	ReceiverTimeout() time.Duration
	// StatsInterval defines the interval at which upload statistics are logged.
	StatsInterval() time.Duration
	// DedupLifetime defines how long an uploaded fingerprint is remembered.
	DedupLifetime() time.Duration
	// UploadTimeout bounds a single upload to the endpoint.
	UploadTimeout() time.Duration
}

func (t *Times) ReceiverTimeout() time.Duration { return t.receiverTimeout }

func (t *Times) StatsInterval() time.Duration { return t.statsInterval }

func (t *Times) DedupLifetime() time.Duration { return t.dedupLifetime }

func (t *Times) UploadTimeout() time.Duration { return t.uploadTimeout }

// New returns a new Times instance. Zero durations select the defaults.
func New(receiverTimeout, statsInterval, uploadTimeout time.Duration) *Times {
	if receiverTimeout <= 0 {
		receiverTimeout = DefaultReceiverTimeout
	}
	if statsInterval <= 0 {
		statsInterval = DefaultStatsInterval
	}
	if uploadTimeout <= 0 {
		uploadTimeout = receiverTimeout
	}
	return &Times{
		receiverTimeout: receiverTimeout,
		statsInterval:   statsInterval,
		dedupLifetime:   DedupLifetime,
		uploadTimeout:   uploadTimeout,
	}
}
