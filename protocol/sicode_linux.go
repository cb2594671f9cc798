// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package protocol // import "go.opentelemetry.io/crashtracker/protocol"

import "golang.org/x/sys/unix"

// Values from include/uapi/asm-generic/siginfo.h.
var genericSiCodes = map[int]SiCode{
	0:    SiUser,
	0x80: SiKernel,
	-1:   SiQueue,
	-2:   SiTimer,
	-3:   SiMesgq,
	-4:   SiAsyncio,
	-5:   SiSigio,
	-6:   SiTkill,
}

var signalSiCodes = map[unix.Signal]map[int]SiCode{
	unix.SIGSEGV: {
		1: SegvMaperr,
		2: SegvAccerr,
		3: SegvBnderr,
		4: SegvPkuerr,
	},
	unix.SIGBUS: {
		1: BusAdraln,
		2: BusAdrerr,
		3: BusObjerr,
		4: BusMceerrAR,
		5: BusMceerrAO,
	},
	unix.SIGILL: {
		1: IllIllopc,
		2: IllIllopn,
		3: IllIlladr,
		4: IllIlltrp,
		5: IllPrvopc,
		6: IllPrvreg,
		7: IllCoproc,
		8: IllBadstk,
	},
	unix.SIGSYS: {
		1: SysSeccomp,
	},
}

// TranslateSiCode maps a si_code of signal signo to its name.
func TranslateSiCode(signo, code int) SiCode {
	if name, ok := genericSiCodes[code]; ok {
		return name
	}
	if codes, ok := signalSiCodes[unix.Signal(signo)]; ok {
		if name, ok := codes[code]; ok {
			return name
		}
	}
	return SiUnknown
}
