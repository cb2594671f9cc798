// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package protocol // import "go.opentelemetry.io/crashtracker/protocol"

import (
	"golang.org/x/sys/unix"
)

// SignalName is the human readable name of a signal, e.g. "SIGSEGV".
type SignalName string

// SignalUnknown is reported for signal numbers without a name.
const SignalUnknown SignalName = "UNKNOWN"

// SignalNameOf returns the name of sig.
func SignalNameOf(sig unix.Signal) SignalName {
	if name := unix.SignalName(sig); name != "" {
		return SignalName(name)
	}
	return SignalUnknown
}

// SiCode is the human readable name of a siginfo si_code value.
type SiCode string

// See sigaction(2).
const (
	BusAdraln   SiCode = "BUS_ADRALN"
	BusAdrerr   SiCode = "BUS_ADRERR"
	BusMceerrAO SiCode = "BUS_MCEERR_AO"
	BusMceerrAR SiCode = "BUS_MCEERR_AR"
	BusObjerr   SiCode = "BUS_OBJERR"
	IllBadstk   SiCode = "ILL_BADSTK"
	IllCoproc   SiCode = "ILL_COPROC"
	IllIlladr   SiCode = "ILL_ILLADR"
	IllIllopc   SiCode = "ILL_ILLOPC"
	IllIllopn   SiCode = "ILL_ILLOPN"
	IllIlltrp   SiCode = "ILL_ILLTRP"
	IllPrvopc   SiCode = "ILL_PRVOPC"
	IllPrvreg   SiCode = "ILL_PRVREG"
	SegvAccerr  SiCode = "SEGV_ACCERR"
	SegvBnderr  SiCode = "SEGV_BNDERR"
	SegvMaperr  SiCode = "SEGV_MAPERR"
	SegvPkuerr  SiCode = "SEGV_PKUERR"
	SiAsyncio   SiCode = "SI_ASYNCIO"
	SiKernel    SiCode = "SI_KERNEL"
	SiMesgq     SiCode = "SI_MESGQ"
	SiQueue     SiCode = "SI_QUEUE"
	SiSigio     SiCode = "SI_SIGIO"
	SiTimer     SiCode = "SI_TIMER"
	SiTkill     SiCode = "SI_TKILL"
	SiUser      SiCode = "SI_USER"
	SysSeccomp  SiCode = "SYS_SECCOMP"
	SiUnknown   SiCode = "UNKNOWN"
)

// SigInfo describes the signal that terminated the process.
type SigInfo struct {
	Addr               string     `json:"si_addr,omitempty"`
	Code               int        `json:"si_code"`
	CodeHumanReadable  SiCode     `json:"si_code_human_readable"`
	Signo              int        `json:"si_signo"`
	SignoHumanReadable SignalName `json:"si_signo_human_readable"`
}

// NewSigInfo fills in the human readable names for signo and code.
func NewSigInfo(signo, code int) SigInfo {
	return SigInfo{
		Code:               code,
		CodeHumanReadable:  TranslateSiCode(signo, code),
		Signo:              signo,
		SignoHumanReadable: SignalNameOf(unix.Signal(signo)),
	}
}

// HasFaultAddress reports whether the kernel fills in si_addr for signo.
func HasFaultAddress(signo int) bool {
	switch unix.Signal(signo) {
	case unix.SIGILL, unix.SIGFPE, unix.SIGSEGV, unix.SIGBUS, unix.SIGTRAP:
		return true
	}
	return false
}

// FormatAddr formats a fault address the way it appears in si_addr.
func FormatAddr(addr uintptr) string {
	var tmp [18]byte
	return string(appendHex(tmp[:0], uint64(addr)))
}

// WriteSigInfo emits si as one JSON object line without allocating.
func (w *Writer) WriteSigInfo(si *SigInfo) {
	_, _ = w.WriteString(`{"si_code":`)
	w.Int(int64(si.Code))
	_, _ = w.WriteString(`,"si_code_human_readable":`)
	w.JSONString(string(si.CodeHumanReadable))
	_, _ = w.WriteString(`,"si_signo":`)
	w.Int(int64(si.Signo))
	_, _ = w.WriteString(`,"si_signo_human_readable":`)
	w.JSONString(string(si.SignoHumanReadable))
	if si.Addr != "" {
		_, _ = w.WriteString(`,"si_addr":`)
		w.JSONString(si.Addr)
	}
	w.Line("}")
}

func appendHex(dst []byte, v uint64) []byte {
	const digits = "0123456789abcdef"
	dst = append(dst, '0', 'x')
	for shift := 60; shift >= 0; shift -= 4 {
		dst = append(dst, digits[(v>>uint(shift))&0xf])
	}
	return dst
}
