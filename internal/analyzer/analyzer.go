// Package analyzer turns a raw register value into a trace.AnalyzedValue by
// reading the tracee's memory and attempting to classify what the value
// points at: a decoded instruction, a UTF-8 string, or just opaque bytes.
package analyzer

import (
	"bytes"
	"strings"
	"unicode/utf8"

	"golang.org/x/arch/x86/x86asm"

	"github.com/counterhack/mandrake/internal/memio"
	"github.com/counterhack/mandrake/internal/trace"
)

// probeFloor is the minimum number of bytes always requested from memory,
// regardless of the caller's requested snippet length, so there is enough
// context for both string scanning and instruction decoding.
const probeFloor = 128

// badSentinel is the renderer output treated as "no instruction".
const badSentinel = "(bad)"

// MemReader abstracts the word-granular memory read so tests can supply a
// fake tracee without a live ptrace session. The production default is
// memio.ReadBytes.
type MemReader func(pid int, addr uint64, n int) ([]byte, error)

// DefaultReader reads directly from the live tracee via memio.
var DefaultReader MemReader = memio.ReadBytes

// Analyze reads max(probeFloor, snippetLength) bytes at value in pid's
// address space and classifies them, returning an AnalyzedValue that carries only the value
// itself when the address is unreadable.
//
// isIP must be true only for the rip slot; it controls whether the stored
// Memory is truncated to the exact decoded-instruction length (so the
// snapshot reflects precisely "the bytes of this instruction") or to the
// caller's requested snippetLength.
func Analyze(pid int, value uint64, isIP bool, snippetLength, minimumViableString int) trace.AnalyzedValue {
	return AnalyzeWith(DefaultReader, pid, value, isIP, snippetLength, minimumViableString)
}

// AnalyzeWith is Analyze with an injectable memory reader, used by tests.
func AnalyzeWith(read MemReader, pid int, value uint64, isIP bool, snippetLength, minimumViableString int) trace.AnalyzedValue {
	probeLength := probeFloor
	if snippetLength > probeLength {
		probeLength = snippetLength
	}

	data, err := read(pid, value, probeLength)
	if err != nil {
		return trace.AnalyzedValue{Value: value}
	}

	truncatedByDecode := false

	var asInstruction *string
	if inst, ok := decode(data, value); ok {
		text := formatInstruction(inst, value)
		if text != badSentinel {
			asInstruction = &text
			if isIP {
				data = data[:min(inst.Len, len(data))]
				truncatedByDecode = true
			}
		}
	}

	asString := extractString(data, minimumViableString)

	if !truncatedByDecode {
		data = data[:min(snippetLength, len(data))]
	}

	return trace.AnalyzedValue{
		Value:         value,
		Memory:        data,
		AsInstruction: asInstruction,
		AsString:      asString,
	}
}

// decode asks x86asm whether at least one 64-bit-mode instruction can be
// decoded from data. value is not used by the decode itself; the instruction
// pointer matters only for RIP-relative operand formatting, which
// formatInstruction receives separately.
func decode(data []byte, value uint64) (x86asm.Inst, bool) {
	inst, err := x86asm.Decode(data, 64)
	if err != nil {
		return x86asm.Inst{}, false
	}
	return inst, true
}

// formatInstruction renders inst in Intel syntax, lowercased so literal
// comparisons against instruction text ("syscall", "int3") stay stable.
func formatInstruction(inst x86asm.Inst, pc uint64) string {
	text := x86asm.IntelSyntax(inst, pc, nil)
	if text == "" {
		return badSentinel
	}
	return strings.ToLower(text)
}

// extractString takes bytes up to (excluding) the first NUL and accepts the
// result as a string only if decoding as UTF-8 succeeds and its length
// strictly exceeds minimumViableString.
func extractString(data []byte, minimumViableString int) *string {
	if idx := bytes.IndexByte(data, 0x00); idx >= 0 {
		data = data[:idx]
	}
	if !utf8.Valid(data) {
		return nil
	}
	if len(data) <= minimumViableString {
		return nil
	}
	s := string(data)
	return &s
}
