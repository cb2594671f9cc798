// Copyright The OpenTelemetry Authors
// SPDX-License-Identifier: Apache-2.0

package crashinfo // import "go.opentelemetry.io/crashtracker/crashinfo"

import (
	"debug/elf"
	"debug/gosym"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
)

// GoSymbolizer resolves program counters of a Go executable using its
// embedded pclntab.
type GoSymbolizer struct {
	exe   *elf.File
	table *gosym.Table
	// bias is subtracted from runtime addresses to get link time addresses.
	bias uint64
}

// NewGoSymbolizer loads the symbol tables of the ELF executable in r.
func NewGoSymbolizer(r io.ReaderAt) (*GoSymbolizer, error) {
	exe, err := elf.NewFile(r)
	if err != nil {
		return nil, err
	}

	pclntab := exe.Section(".gopclntab")
	text := exe.Section(".text")
	if pclntab == nil || text == nil {
		return nil, errors.New("not a Go executable: missing .gopclntab or .text")
	}
	lineTableData, err := pclntab.Data()
	if err != nil {
		return nil, err
	}
	lineTable := gosym.NewLineTable(lineTableData, text.Addr)

	var symTableData []byte
	if symtab := exe.Section(".gosymtab"); symtab != nil {
		if symTableData, err = symtab.Data(); err != nil {
			return nil, err
		}
	}
	symTable, err := gosym.NewTable(symTableData, lineTable)
	if err != nil {
		return nil, err
	}
	return &GoSymbolizer{exe: exe, table: symTable}, nil
}

// OpenProcessSymbolizer opens the executable of the still running process
// pid. maps are the lines of its /proc/<pid>/maps and are used to compute
// the load bias of position independent executables.
func OpenProcessSymbolizer(pid uint32, maps []string) (*GoSymbolizer, io.Closer, error) {
	exeLink := fmt.Sprintf("/proc/%d/exe", pid)
	f, err := os.Open(exeLink)
	if err != nil {
		return nil, nil, err
	}
	sym, err := NewGoSymbolizer(f)
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	if sym.exe.Type == elf.ET_DYN {
		exePath, err := os.Readlink(exeLink)
		if err != nil {
			f.Close()
			return nil, nil, err
		}
		if sym.bias, err = sym.loadBias(maps, exePath); err != nil {
			f.Close()
			return nil, nil, err
		}
	}
	return sym, f, nil
}

// loadBias finds the first mapping of exePath and relates it to the
// PT_LOAD segment covering its file offset.
func (g *GoSymbolizer) loadBias(maps []string, exePath string) (uint64, error) {
	for _, line := range maps {
		fields := strings.Fields(line)
		if len(fields) < 6 || strings.Join(fields[5:], " ") != exePath {
			continue
		}
		start, _, ok := strings.Cut(fields[0], "-")
		if !ok {
			continue
		}
		mapStart, err := strconv.ParseUint(start, 16, 64)
		if err != nil {
			continue
		}
		mapOffset, err := strconv.ParseUint(fields[2], 16, 64)
		if err != nil {
			continue
		}
		for _, prog := range g.exe.Progs {
			if prog.Type != elf.PT_LOAD {
				continue
			}
			if mapOffset >= prog.Off && mapOffset < prog.Off+prog.Filesz {
				return mapStart - (prog.Vaddr + (mapOffset - prog.Off)), nil
			}
		}
	}
	return 0, fmt.Errorf("no mapping of %s found", exePath)
}

// Symbolize fills function, file and line of every frame with an ip that
// falls into the executable. It returns the number of resolved frames.
func (g *GoSymbolizer) Symbolize(stack *StackTrace) int {
	resolved := 0
	for i := range stack.Frames {
		f := &stack.Frames[i]
		if f.Function != "" || f.IP == "" {
			continue
		}
		pc, err := strconv.ParseUint(strings.TrimPrefix(f.IP, "0x"), 16, 64)
		if err != nil || pc <= g.bias {
			continue
		}
		// Program counters are return addresses; look up the call instruction.
		file, line, fn := g.table.PCToLine(pc - g.bias - 1)
		if fn == nil {
			continue
		}
		f.Function = fn.Name
		f.File = file
		f.Line = uint32(line)
		f.SymbolAddress = "0x" + strconv.FormatUint(fn.Entry+g.bias, 16)
		resolved++
	}
	return resolved
}
