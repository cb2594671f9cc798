// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"bytes"
	"strconv"

	"golang.org/x/sys/unix"
)

// OsInfo describes the machine the receiver runs on, which is the machine
// of the crashed process.
type OsInfo struct {
	Architecture string `json:"architecture"`
	Bitness      string `json:"bitness"`
	OsType       string `json:"os_type"`
	Version      string `json:"version"`
}

// UnknownOsInfo is used when the OS could not be queried.
func UnknownOsInfo() OsInfo {
	return OsInfo{
		Architecture: UnknownValue,
		Bitness:      UnknownValue,
		OsType:       UnknownValue,
		Version:      UnknownValue,
	}
}

// OsInfoThisMachine queries uname(2).
func OsInfoThisMachine() (OsInfo, error) {
	uname := &unix.Utsname{}
	if err := unix.Uname(uname); err != nil {
		return UnknownOsInfo(), err
	}
	return OsInfo{
		Architecture: sanitizeString(uname.Machine[:]),
		Bitness:      strconv.Itoa(strconv.IntSize) + "-bit",
		OsType:       sanitizeString(uname.Sysname[:]),
		Version:      sanitizeString(uname.Release[:]),
	}, nil
}

func sanitizeString(str []byte) string {
	// Trim byte array from 0x00 bytes
	return string(bytes.Trim(str, "\x00"))
}
