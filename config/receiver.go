// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package config // import "go.opentelemetry.io/crashtracker/config"

import (
	"errors"
	"fmt"
	"os/exec"
)

// ReceiverConfig describes how the collector starts a receiver process.
type ReceiverConfig struct {
	Args []string `json:"args"`
	// Env entries are KEY=VALUE strings. The receiver inherits nothing else.
	Env            []string `json:"env"`
	Path           string   `json:"path_to_receiver_binary"`
	StderrFilename string   `json:"stderr_filename,omitempty"`
	StdoutFilename string   `json:"stdout_filename,omitempty"`
	// Eager spawns the receiver at init time instead of at crash time.
	Eager bool `json:"eager,omitempty"`
}

// Validate checks r and resolves Path through PATH if it is a bare name.
func (r *ReceiverConfig) Validate() error {
	if r.Path == "" {
		return errors.New("empty receiver path")
	}
	if r.StdoutFilename != "" && r.StdoutFilename == r.StderrFilename {
		return fmt.Errorf("can't give the same filename for stderr and stdout (%q), "+
			"they will conflict with each other", r.StdoutFilename)
	}
	path, err := exec.LookPath(r.Path)
	if err != nil {
		return fmt.Errorf("receiver binary: %w", err)
	}
	r.Path = path
	return nil
}

// Argv returns the argument vector, starting with the binary path.
func (r *ReceiverConfig) Argv() []string {
	return append([]string{r.Path}, r.Args...)
}
