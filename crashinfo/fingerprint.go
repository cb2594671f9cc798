// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"fmt"
	"strings"

	"github.com/zeebo/xxh3"
)

// fingerprintFrames is the number of innermost frames that contribute to
// the fingerprint.
const fingerprintFrames = 8

// ComputeFingerprint hashes what identifies a crash site: the reporting
// library, the error kind, the signal and the innermost frames of the
// crashing stack. Addresses are only used for frames without a function
// name, since they vary with ASLR.
func ComputeFingerprint(c *CrashInfo) string {
	var sb strings.Builder
	sb.WriteString(c.Metadata.LibraryName)
	sb.WriteByte('@')
	sb.WriteString(c.Metadata.LibraryVersion)
	sb.WriteByte('|')
	sb.WriteString(string(c.Error.Kind))
	sb.WriteByte('|')
	if c.SigInfo != nil {
		sb.WriteString(string(c.SigInfo.SignoHumanReadable))
		sb.WriteByte('/')
		sb.WriteString(string(c.SigInfo.CodeHumanReadable))
	}
	sb.WriteByte('|')

	frames := c.crashSiteFrames()
	for i, f := range frames {
		if i == fingerprintFrames {
			break
		}
		switch {
		case f.Function != "":
			sb.WriteString(f.Function)
		case f.IP != "":
			sb.WriteString(f.IP)
		default:
			sb.WriteByte('?')
		}
		sb.WriteByte(';')
	}
	if len(frames) == 0 {
		// Nothing better than the message is available.
		sb.WriteString(c.Error.Message)
	}
	return fmt.Sprintf("%016x", xxh3.HashString(sb.String()))
}

// crashSiteFrames returns the stack of the crash site: the error stack, or
// the stack of the thread flagged as crashed.
func (c *CrashInfo) crashSiteFrames() []StackFrame {
	if len(c.Error.Stack.Frames) != 0 {
		return c.Error.Stack.Frames
	}
	if t := c.CrashedThread(); t != nil {
		return t.Stack.Frames
	}
	return nil
}

// HasCrashSite reports whether the fingerprint was computed from frames.
// Without them it only tells the library and the signal apart, which is too
// coarse to treat two reports as the same crash.
func (c *CrashInfo) HasCrashSite() bool {
	return len(c.crashSiteFrames()) != 0
}
