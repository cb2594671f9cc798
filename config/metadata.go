// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config // import "go.opentelemetry.io/crashtracker/config"

import (
	"encoding/json"
	"fmt"
)

// Metadata identifies the library that installed the crash tracker.
type Metadata struct {
	LibraryName    string   `json:"library_name"`
	LibraryVersion string   `json:"library_version"`
	Family         string   `json:"family"`
	Tags           []string `json:"tags"`
}

// Marshal returns the single line JSON form sent in the METADATA section.
func (m *Metadata) Marshal() ([]byte, error) {
	if m.Tags == nil {
		cp := *m
		cp.Tags = []string{}
		return json.Marshal(&cp)
	}
	return json.Marshal(m)
}

// UnmarshalMetadata parses the METADATA section payload.
func UnmarshalMetadata(data []byte) (*Metadata, error) {
	var m Metadata
	if err := json.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("failed to parse metadata: %w", err)
	}
	return &m, nil
}
