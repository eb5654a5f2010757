// Package trace defines the in-memory data model produced by the trace
// engine: AnalyzedValue, RegisterSnapshot, and the top-level Output record.
// Nothing in this package reads memory or drives ptrace; it is a pure value
// layer shared by the engine, the archive, and the API.
package trace

// RegisterNames lists the nine register slots captured at every step, in
// their conventional order (the engine fills the snapshot map directly and
// does not iterate this list). "rip" must always be present in a
// RegisterSnapshot; the rest are the general-purpose registers relevant to
// the x86-64 System V calling convention and syscall ABI.
var RegisterNames = [...]string{"rip", "rax", "rbx", "rcx", "rdx", "rsi", "rdi", "rbp", "rsp"}

// AnalyzedValue is the atom of the trace: a 64-bit register value together
// with a best-effort interpretation of what it points at.
//
// Invariant: Memory == nil implies AsInstruction, AsString, and Extra are all
// nil. The analyzer that constructs these never violates this; callers that
// build AnalyzedValue by hand (tests) must preserve it too.
type AnalyzedValue struct {
	// Value is the 64-bit number as seen in the register. Immutable after
	// construction.
	Value uint64 `json:"value" yaml:"value"`

	// Memory is the byte buffer read starting at Value, truncated to the
	// caller's requested snippet length (on the rip slot, to the length of
	// the decoded instruction when one was decoded). Nil when Value's address was
	// unreadable; a non-nil empty slice is a valid, distinct "read
	// succeeded, zero bytes requested" result, so this field intentionally
	// omits `omitempty`.
	Memory []byte `json:"memory" yaml:"memory"`

	// AsInstruction is the decoded x86-64 instruction text (Intel syntax) at
	// Value, when the decoder produced one.
	AsInstruction *string `json:"as_instruction,omitempty" yaml:"as_instruction,omitempty"`

	// AsString is the UTF-8 string read from Memory up to the first NUL,
	// present only when its length strictly exceeds the configured minimum.
	AsString *string `json:"as_string,omitempty" yaml:"as_string,omitempty"`

	// Extra holds syscall-decoder output lines. Populated only on the rip
	// slot, and only when AsInstruction == "syscall".
	Extra []string `json:"extra,omitempty" yaml:"extra,omitempty"`
}

// RegisterSnapshot maps each of RegisterNames to its AnalyzedValue at one
// ptrace stop. Snapshots are treated as immutable once appended to an
// Output's History.
type RegisterSnapshot map[string]AnalyzedValue

// Output is the result of a single analyze_code or analyze_elf run.
type Output struct {
	Success bool `json:"success" yaml:"success"`
	PID     int  `json:"pid" yaml:"pid"`

	// History is the ordered, visibility-filtered sequence of snapshots.
	// len(History) <= InstructionsExecuted always holds.
	History []RegisterSnapshot `json:"history" yaml:"history"`

	// StartingAddress is set exactly once: the rip of the first snapshot
	// that passed the visibility filter. Nil until that happens.
	StartingAddress *uint64 `json:"starting_address,omitempty" yaml:"starting_address,omitempty"`

	// InstructionsExecuted counts every SIGTRAP stop that was neither an
	// int3 escape nor the implicit initial stop, regardless of visibility.
	InstructionsExecuted int `json:"instructions_executed" yaml:"instructions_executed"`

	Stdout *string `json:"stdout,omitempty" yaml:"stdout,omitempty"`
	Stderr *string `json:"stderr,omitempty" yaml:"stderr,omitempty"`

	// ExitReason is a human-readable description of how the run ended
	// (clean exit, fatal signal, instruction cap, unexpected signal).
	ExitReason *string `json:"exit_reason,omitempty" yaml:"exit_reason,omitempty"`
	ExitCode   *int    `json:"exit_code,omitempty" yaml:"exit_code,omitempty"`
}

// RIP returns the rip slot of snapshot, and false if it is somehow absent
// (an engine bug; RegisterSnapshot always carries rip in practice).
func (s RegisterSnapshot) RIP() (AnalyzedValue, bool) {
	v, ok := s["rip"]
	return v, ok
}

// StrPtr, IntPtr, and U64Ptr are small helpers for populating Output's and
// AnalyzedValue's pointer-based optional fields.
func StrPtr(s string) *string { return &s }
func IntPtr(i int) *int       { return &i }
func U64Ptr(v uint64) *uint64 { return &v }
