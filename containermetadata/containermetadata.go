// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package containermetadata finds the container a crashed process ran in
// from its /proc/PID/cgroup file.
package containermetadata // import "go.opentelemetry.io/crashtracker/containermetadata"

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"regexp"
)

var (
	kubePattern       = regexp.MustCompile(`\d+:.*:/.*/*kubepods/[^/]+/pod[^/]+/([0-9a-f]{64})`)
	dockerKubePattern = regexp.MustCompile(`\d+:.*:/.*/*docker/pod[^/]+/([0-9a-f]{64})`)
	altKubePattern    = regexp.MustCompile(
		`\d+:.*:/.*/*kubepods.*?/[^/]+/docker-([0-9a-f]{64})`)
	// The systemd cgroupDriver needs a different regex pattern:
	systemdKubePattern    = regexp.MustCompile(`\d+:.*:/.*/*kubepods-.*([0-9a-f]{64})`)
	dockerPattern         = regexp.MustCompile(`\d+:.*:/.*/*docker[-|/]([0-9a-f]{64})`)
	dockerBuildkitPattern = regexp.MustCompile(`\d+:.*:/.*/*docker/buildkit/([0-9a-z]+)`)
	lxcPattern            = regexp.MustCompile(`\d+::/lxc\.(monitor|payload)\.([a-zA-Z]+)/`)

	cgroup = "/proc/%d/cgroup"
)

// Environment is a set of container technologies.
type Environment uint16

// List of known container technologies we can handle.
const (
	EnvUndefined  Environment = 0
	EnvKubernetes Environment = 1 << iota
	EnvDocker
	EnvLxc
	EnvDockerBuildkit
)

// Is tests if env includes target.
func (env Environment) Is(target Environment) bool {
	return target != EnvUndefined && target&env == target
}

// String names the outermost technology, which is what a crash is filed
// under.
func (env Environment) String() string {
	switch {
	case env.Is(EnvKubernetes):
		return "kubernetes"
	case env.Is(EnvDockerBuildkit):
		return "buildkit"
	case env.Is(EnvDocker):
		return "docker"
	case env.Is(EnvLxc):
		return "lxc"
	}
	return "none"
}

// Container identifies a container.
type Container struct {
	ID          string
	Environment Environment
}

// Tags returns the additional crash report tags describing c, or nothing if
// the process did not run in a container.
func (c Container) Tags() []string {
	if c.ID == "" {
		return nil
	}
	return []string{"container_id:" + c.ID, "container_runtime:" + c.Environment.String()}
}

// LookupPID returns the container of pid. A process that is gone or not
// containerized yields the zero Container.
func LookupPID(pid uint32) (Container, error) {
	cgroupFilePath := fmt.Sprintf(cgroup, pid)
	f, err := os.Open(cgroupFilePath)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return Container{}, nil
		}
		return Container{}, fmt.Errorf("failed to get container id from %s: %v",
			cgroupFilePath, err)
	}
	defer f.Close()
	return Extract(f)
}

// Extract parses the contents of a /proc/PID/cgroup file.
func Extract(r io.Reader) (Container, error) {
	scanner := bufio.NewScanner(r)
	buf := make([]byte, 512)
	// With a maximum of 4096 characters path in the kernel, 8192 should be
	// fine here.
	scanner.Buffer(buf, 8192)

	for scanner.Scan() {
		if c, ok := matchLine(scanner.Text()); ok {
			return c, nil
		}
	}
	return Container{}, scanner.Err()
}

func matchLine(line string) (Container, bool) {
	for _, m := range []struct {
		pattern *regexp.Regexp
		group   int
		env     Environment
	}{
		{dockerKubePattern, 1, EnvKubernetes | EnvDocker},
		{kubePattern, 1, EnvKubernetes},
		{altKubePattern, 1, EnvKubernetes},
		{systemdKubePattern, 1, EnvKubernetes},
		{dockerPattern, 1, EnvDocker},
		{dockerBuildkitPattern, 1, EnvDockerBuildkit},
		{lxcPattern, 2, EnvLxc},
	} {
		if parts := m.pattern.FindStringSubmatch(line); parts != nil {
			return Container{ID: parts[m.group], Environment: m.env}, true
		}
	}
	return Container{}, false
}
