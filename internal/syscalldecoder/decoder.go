// Package syscalldecoder formats a human-readable argument list for a
// syscall instruction: given the seven syscall-ABI registers as
// already-analyzed values, it looks up rax in the syscall table and walks
// the declared parameter slots in ABI order.
package syscalldecoder

import (
	"fmt"

	"github.com/counterhack/mandrake/internal/memio"
	"github.com/counterhack/mandrake/internal/syscalltable"
	"github.com/counterhack/mandrake/internal/trace"
)

// MemReader abstracts the pointer-array walk needed for array arguments
// (e.g. execve's argv/envp), matching analyzer.MemReader's shape so the
// engine can supply the same underlying reader to both.
type MemReader func(pid int, addr uint64, n int) ([]byte, error)

// AnalyzeFunc analyzes one non-instruction-pointer value, used to classify
// entries discovered while walking an array argument. The caller bakes its
// configured snippet length and minimum string threshold into the closure,
// so array entries are classified with exactly the same settings as every
// other value in the trace.
type AnalyzeFunc func(pid int, value uint64) trace.AnalyzedValue

// Decode renders one line naming the syscall plus one line per argument
// register its table entry declares. rax, rdi, rsi, rdx, r10, r8, r9 are the
// already-analyzed register values at a syscall instruction; pid is the
// live tracee, needed for deep reads on array/string arguments.
//
// Decode never returns an error: an unrecognized syscall number yields a
// single diagnostic line rather than failing the trace.
func Decode(table syscalltable.Table, read MemReader, analyze AnalyzeFunc, pid int, rax, rdi, rsi, rdx, r10, r8, r9 trace.AnalyzedValue) []string {
	sys, ok := table[rax.Value]
	if !ok {
		return []string{fmt.Sprintf("Unknown syscall: %d", rax.Value)}
	}

	lines := []string{fmt.Sprintf("Syscall: `%s`", sys.Name)}

	type slot struct {
		reg   string
		entry *syscalltable.SyscallEntry
		value trace.AnalyzedValue
	}
	slots := []slot{
		{"rdi", sys.Rdi, rdi},
		{"rsi", sys.Rsi, rsi},
		{"rdx", sys.Rdx, rdx},
		{"r10", sys.R10, r10},
		{"r8", sys.R8, r8},
		{"r9", sys.R9, r9},
	}

	for _, s := range slots {
		if s.entry == nil {
			continue
		}
		lines = append(lines, fmt.Sprintf("%s (%s) = %s", s.entry.FieldName, s.reg, formatArg(s.entry, s.value, read, analyze, pid)))
	}

	return lines
}

// formatArg picks a rendering by the parameter's declared shape, first
// match wins.
func formatArg(entry *syscalltable.SyscallEntry, v trace.AnalyzedValue, read MemReader, analyze AnalyzeFunc, pid int) string {
	switch {
	case entry.IsArray && v.Value == 0:
		return "(Empty array)"

	case entry.IsArray:
		return formatArray(v.Value, read, analyze, pid)

	case entry.IsString && v.AsString != nil:
		return fmt.Sprintf("`%s`", *v.AsString)

	case entry.IsString:
		return fmt.Sprintf("Invalid string: 0x%08x", v.Value)

	case entry.IsPointer && v.Value == 0:
		return "(nil)"

	case entry.IsPointer && len(v.Memory) > 0:
		return fmt.Sprintf("`%s...`", hexPrefix(v.Memory, 8))

	case entry.IsPointer:
		return fmt.Sprintf("Invalid memory pointer: 0x%08x", v.Value)

	default:
		return fmt.Sprintf("`0x%08x`", v.Value)
	}
}

// formatArray walks a NULL-terminated array of pointers (e.g. argv/envp),
// reading 8 bytes at value+8*i until an unreadable or NULL entry, analyzing
// each non-NULL entry and using its as_string if present, else stopping.
func formatArray(value uint64, read MemReader, analyze AnalyzeFunc, pid int) string {
	var items []string

	for i := uint64(0); ; i++ {
		wordBuf, err := read(pid, value+8*i, 8)
		if err != nil || len(wordBuf) < 8 {
			break
		}
		entryAddr := leU64(wordBuf)
		if entryAddr == 0 {
			break
		}

		analyzed := analyze(pid, entryAddr)
		if analyzed.AsString == nil {
			break
		}
		items = append(items, fmt.Sprintf("%q", *analyzed.AsString))
	}

	result := "["
	for i, item := range items {
		if i > 0 {
			result += ", "
		}
		result += item
	}
	result += "]"
	return result
}

func leU64(b []byte) uint64 {
	var v uint64
	for i := 0; i < 8 && i < len(b); i++ {
		v |= uint64(b[i]) << (8 * uint(i))
	}
	return v
}

func hexPrefix(b []byte, n int) string {
	if len(b) < n {
		n = len(b)
	}
	out := make([]byte, 0, n*2)
	const hex = "0123456789abcdef"
	for _, c := range b[:n] {
		out = append(out, hex[c>>4], hex[c&0xf])
	}
	return string(out)
}

// ensure memio.ReadBytes satisfies MemReader's shape for callers wiring the
// live reader directly.
var _ MemReader = memio.ReadBytes
