// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

//go:build !linux

package protocol // import "go.opentelemetry.io/crashtracker/protocol"

// TranslateSiCode maps a si_code of signal signo to its name. Only the Linux
// numbering is known.
func TranslateSiCode(_, code int) SiCode {
	if code == 0 {
		return SiUser
	}
	return SiUnknown
}
