// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"encoding/json"
	"time"

	"go.opentelemetry.io/crashtracker/config"
	"go.opentelemetry.io/crashtracker/protocol"
)

// PingKind is the kind of every crash ping.
const PingKind = "Crash ping"

// CrashPing announces that a crash is being processed. It is sent as soon
// as the receiver knows who crashed and why, so the crash is on record even
// if the full report never arrives. It shares the UUID of the report.
type CrashPing struct {
	CrashUUID string            `json:"crash_uuid"`
	Kind      string            `json:"kind"`
	Message   string            `json:"message"`
	Metadata  config.Metadata   `json:"metadata"`
	SigInfo   *protocol.SigInfo `json:"siginfo,omitempty"`
	Timestamp string            `json:"timestamp"`
	Version   string            `json:"version"`
}

// NewCrashPing creates the ping for the report identified by uuid.
func NewCrashPing(uuid string, md config.Metadata, si *protocol.SigInfo) *CrashPing {
	p := &CrashPing{
		CrashUUID: uuid,
		Kind:      PingKind,
		Message:   "Crashtracker crash ping: crash processing started",
		Metadata:  md,
		Timestamp: time.Now().UTC().Format(time.RFC3339Nano),
		Version:   SchemaVersion,
	}
	if si != nil {
		sic := *si
		p.SigInfo = &sic
		p.Message += " - " + SignalMessage(si)
	}
	return p
}

func (p *CrashPing) marshal() ([]byte, error) {
	return json.MarshalIndent(p, "", "  ")
}
