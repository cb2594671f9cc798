// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

// Package protocol defines the line oriented wire format spoken between the
// in-process crash collector and the out-of-process receiver.
//
// A report is a sequence of sections. Every section starts with a begin
// marker line and ends with the matching end marker line; the report ends
// with the DONE marker. Marker lines are compared for exact equality, with
// the exception of the FILE markers which carry the file name as argument.
package protocol // import "go.opentelemetry.io/crashtracker/protocol"

import "strings"

// Marker line constants. Both sides of the pipe compare these verbatim.
const (
	BeginAdditionalTags = "DD_CRASHTRACK_BEGIN_ADDITIONAL_TAGS"
	EndAdditionalTags   = "DD_CRASHTRACK_END_ADDITIONAL_TAGS"
	BeginConfig         = "DD_CRASHTRACK_BEGIN_CONFIG"
	EndConfig           = "DD_CRASHTRACK_END_CONFIG"
	BeginCounters       = "DD_CRASHTRACK_BEGIN_COUNTERS"
	EndCounters         = "DD_CRASHTRACK_END_COUNTERS"
	BeginFile           = "DD_CRASHTRACK_BEGIN_FILE"
	EndFile             = "DD_CRASHTRACK_END_FILE"
	BeginGoTraceback    = "DD_CRASHTRACK_BEGIN_GO_TRACEBACK"
	EndGoTraceback      = "DD_CRASHTRACK_END_GO_TRACEBACK"
	BeginKind           = "DD_CRASHTRACK_BEGIN_KIND"
	EndKind             = "DD_CRASHTRACK_END_KIND"
	BeginMessage        = "DD_CRASHTRACK_BEGIN_MESSAGE"
	EndMessage          = "DD_CRASHTRACK_END_MESSAGE"
	BeginMetadata       = "DD_CRASHTRACK_BEGIN_METADATA"
	EndMetadata         = "DD_CRASHTRACK_END_METADATA"
	BeginProcInfo       = "DD_CRASHTRACK_BEGIN_PROCINFO"
	EndProcInfo         = "DD_CRASHTRACK_END_PROCINFO"
	BeginSigInfo        = "DD_CRASHTRACK_BEGIN_SIGINFO"
	EndSigInfo          = "DD_CRASHTRACK_END_SIGINFO"
	BeginSpanIDs        = "DD_CRASHTRACK_BEGIN_SPAN_IDS"
	EndSpanIDs          = "DD_CRASHTRACK_END_SPAN_IDS"
	BeginStackTrace     = "DD_CRASHTRACK_BEGIN_STACKTRACE"
	EndStackTrace       = "DD_CRASHTRACK_END_STACKTRACE"
	BeginTraceIDs       = "DD_CRASHTRACK_BEGIN_TRACE_IDS"
	EndTraceIDs         = "DD_CRASHTRACK_END_TRACE_IDS"
	BeginUcontext       = "DD_CRASHTRACK_BEGIN_UCONTEXT"
	EndUcontext         = "DD_CRASHTRACK_END_UCONTEXT"
	Done                = "DD_CRASHTRACK_DONE"
)

// Section identifies one block of a crash report.
type Section int

const (
	SectionNone Section = iota
	SectionAdditionalTags
	SectionConfig
	SectionCounters
	SectionFile
	SectionGoTraceback
	SectionKind
	SectionMessage
	SectionMetadata
	SectionProcInfo
	SectionSigInfo
	SectionSpanIDs
	SectionStackTrace
	SectionTraceIDs
	SectionUcontext
	// SectionDone is the terminal DONE marker. It has no end marker.
	SectionDone
)

var sectionNames = map[Section]string{
	SectionNone:           "none",
	SectionAdditionalTags: "additional_tags",
	SectionConfig:         "config",
	SectionCounters:       "counters",
	SectionFile:           "file",
	SectionGoTraceback:    "go_traceback",
	SectionKind:           "kind",
	SectionMessage:        "message",
	SectionMetadata:       "metadata",
	SectionProcInfo:       "procinfo",
	SectionSigInfo:        "siginfo",
	SectionSpanIDs:        "span_ids",
	SectionStackTrace:     "stacktrace",
	SectionTraceIDs:       "trace_ids",
	SectionUcontext:       "ucontext",
	SectionDone:           "done",
}

func (s Section) String() string {
	if name, ok := sectionNames[s]; ok {
		return name
	}
	return "unknown"
}

// Marker is a parsed marker line.
type Marker struct {
	Section Section
	// Begin is false for end markers.
	Begin bool
	// Arg holds the file name of FILE markers.
	Arg string
}

var exactMarkers = map[string]Marker{
	BeginAdditionalTags: {Section: SectionAdditionalTags, Begin: true},
	EndAdditionalTags:   {Section: SectionAdditionalTags},
	BeginConfig:         {Section: SectionConfig, Begin: true},
	EndConfig:           {Section: SectionConfig},
	BeginCounters:       {Section: SectionCounters, Begin: true},
	EndCounters:         {Section: SectionCounters},
	BeginGoTraceback:    {Section: SectionGoTraceback, Begin: true},
	EndGoTraceback:      {Section: SectionGoTraceback},
	BeginKind:           {Section: SectionKind, Begin: true},
	EndKind:             {Section: SectionKind},
	BeginMessage:        {Section: SectionMessage, Begin: true},
	EndMessage:          {Section: SectionMessage},
	BeginMetadata:       {Section: SectionMetadata, Begin: true},
	EndMetadata:         {Section: SectionMetadata},
	BeginProcInfo:       {Section: SectionProcInfo, Begin: true},
	EndProcInfo:         {Section: SectionProcInfo},
	BeginSigInfo:        {Section: SectionSigInfo, Begin: true},
	EndSigInfo:          {Section: SectionSigInfo},
	BeginSpanIDs:        {Section: SectionSpanIDs, Begin: true},
	EndSpanIDs:          {Section: SectionSpanIDs},
	BeginStackTrace:     {Section: SectionStackTrace, Begin: true},
	EndStackTrace:       {Section: SectionStackTrace},
	BeginTraceIDs:       {Section: SectionTraceIDs, Begin: true},
	EndTraceIDs:         {Section: SectionTraceIDs},
	BeginUcontext:       {Section: SectionUcontext, Begin: true},
	EndUcontext:         {Section: SectionUcontext},
	Done:                {Section: SectionDone, Begin: true},
}

// ParseMarker classifies line. It returns false if line is not a marker.
func ParseMarker(line string) (Marker, bool) {
	if !strings.HasPrefix(line, "DD_CRASHTRACK_") {
		return Marker{}, false
	}
	if m, ok := exactMarkers[line]; ok {
		return m, true
	}
	if arg, ok := markerArg(line, BeginFile); ok {
		if arg == "" {
			arg = "MISSING_FILENAME"
		}
		return Marker{Section: SectionFile, Begin: true, Arg: arg}, true
	}
	if arg, ok := markerArg(line, EndFile); ok {
		return Marker{Section: SectionFile, Arg: strings.Trim(arg, `"`)}, true
	}
	return Marker{}, false
}

// markerArg matches "<marker>" and "<marker> <arg>".
func markerArg(line, marker string) (string, bool) {
	rest, ok := strings.CutPrefix(line, marker)
	if !ok {
		return "", false
	}
	if rest == "" {
		return "", true
	}
	if rest[0] != ' ' {
		return "", false
	}
	return strings.TrimSpace(rest[1:]), true
}
