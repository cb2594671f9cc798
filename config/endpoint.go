// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config // import "go.opentelemetry.io/crashtracker/config"

import (
	"fmt"
	"net/url"
	"time"
)

// Endpoint is where the receiver ships finished reports.
//
// Supported schemes:
//   - file:///path/report.json writes the JSON report to a local file
//   - http(s)://host/path posts the zstd compressed JSON report
//   - s3://bucket/prefix stores the report as an object
type Endpoint struct {
	URL       string `json:"url"`
	APIKey    string `json:"api_key,omitempty"`
	TimeoutMs uint64 `json:"timeout_ms,omitempty"`
}

// Validate checks that the URL parses and uses a supported scheme.
func (e *Endpoint) Validate() error {
	u, err := url.Parse(e.URL)
	if err != nil {
		return fmt.Errorf("invalid endpoint url: %w", err)
	}
	switch u.Scheme {
	case "file", "http", "https", "s3":
	default:
		return fmt.Errorf("unsupported endpoint scheme %q", u.Scheme)
	}
	if u.Scheme == "s3" && u.Host == "" {
		return fmt.Errorf("s3 endpoint %q lacks a bucket", e.URL)
	}
	return nil
}

// Timeout returns the upload timeout or fallback when none is set.
func (e *Endpoint) Timeout(fallback time.Duration) time.Duration {
	if e.TimeoutMs == 0 {
		return fallback
	}
	return time.Duration(e.TimeoutMs) * time.Millisecond
}

// FileEndpoint returns an Endpoint writing to path.
func FileEndpoint(path string) *Endpoint {
	return &Endpoint{URL: (&url.URL{Scheme: "file", Path: path}).String()}
}
