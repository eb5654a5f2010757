// Package syscalltable loads the compile-time Linux x86-64 syscall table:
// a mapping from syscall number (the rax value at a syscall instruction) to
// its name and per-register parameter descriptors. The CSV is embedded with
// go:embed and parsed once at package init.
package syscalltable

import (
	"embed"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
)

//go:embed syscalls.csv
var embedded embed.FS

// SyscallEntry describes one argument register's declared C parameter.
type SyscallEntry struct {
	FieldType string
	FieldName string
	IsString  bool
	IsPointer bool
	IsArray   bool
}

// Syscall describes one entry in the table: its name and the (up to six)
// argument registers it actually uses, in ABI order.
type Syscall struct {
	Name string
	Rdi  *SyscallEntry
	Rsi  *SyscallEntry
	Rdx  *SyscallEntry
	R10  *SyscallEntry
	R8   *SyscallEntry
	R9   *SyscallEntry
}

// paramRe matches a C-style parameter declaration: "<type> <*>*<name>[]?".
var paramRe = regexp.MustCompile(`^(.*?) (\**)([A-Za-z0-9_-]*)(\[\])?$`)

// Table is an immutable, read-only map from syscall number to Syscall,
// loaded once at process start. No mutation is exposed after Load returns.
type Table map[uint64]Syscall

// Default is the table loaded from the embedded syscalls.csv. It panics at
// package init if the embedded CSV is malformed: a broken compile-time
// table is a build-time bug, not a runtime condition callers should have to
// handle.
var Default Table = mustLoadEmbedded()

func mustLoadEmbedded() Table {
	f, err := embedded.Open("syscalls.csv")
	if err != nil {
		panic(fmt.Sprintf("syscalltable: open embedded syscalls.csv: %v", err))
	}
	defer f.Close()

	t, err := Load(f)
	if err != nil {
		panic(fmt.Sprintf("syscalltable: %v", err))
	}
	return t
}

// Load parses a syscall CSV from r: comma-separated, no header, flexible
// record width (rax,name,rdi,rsi,rdx,r10,r8,r9). Duplicate rax values abort
// loading with an error, since a duplicate indicates a broken table.
func Load(r io.Reader) (Table, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1 // flexible width: trailing empty fields may be omitted

	out := make(Table)

	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("read CSV record: %w", err)
		}
		if len(record) == 0 {
			continue
		}

		rax, err := strconv.ParseUint(strings.TrimSpace(record[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("parse syscall number %q: %w", record[0], err)
		}

		if _, exists := out[rax]; exists {
			return nil, fmt.Errorf("duplicate syscall number in table: %d", rax)
		}

		out[rax] = Syscall{
			Name: field(record, 1),
			Rdi:  parseEntry(field(record, 2)),
			Rsi:  parseEntry(field(record, 3)),
			Rdx:  parseEntry(field(record, 4)),
			R10:  parseEntry(field(record, 5)),
			R8:   parseEntry(field(record, 6)),
			R9:   parseEntry(field(record, 7)),
		}
	}

	return out, nil
}

// field returns record[i], or "" if the flexible-width record is shorter
// than i+1 columns.
func field(record []string, i int) string {
	if i >= len(record) {
		return ""
	}
	return record[i]
}

// parseEntry parses a single parameter declaration cell. An empty cell means
// this syscall does not use that argument register, and yields nil.
func parseEntry(decl string) *SyscallEntry {
	if decl == "" {
		return nil
	}

	m := paramRe.FindStringSubmatch(decl)
	if m == nil {
		// A cell that doesn't match the expected shape is treated as an
		// opaque, non-pointer, non-array parameter rather than aborting the
		// whole table load over one malformed declaration.
		return &SyscallEntry{FieldType: decl, FieldName: decl}
	}

	fieldType, stars, name, brackets := m[1], m[2], m[3], m[4]

	return &SyscallEntry{
		FieldType: fieldType,
		FieldName: name,
		IsString:  strings.Contains(fieldType, "char"),
		IsPointer: strings.Contains(stars, "*"),
		IsArray:   brackets == "[]",
	}
}
