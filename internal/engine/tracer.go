package engine

import "syscall"

// Regs is the subset of general-purpose registers mandrake inspects at each
// single-step, named the way golang.org/x/sys/unix.PtraceRegs names them.
type Regs struct {
	Rip, Rax, Rbx, Rcx, Rdx, Rsi, Rdi, Rbp, Rsp uint64

	// R10, R8, R9 are not part of the nine named snapshot slots, but the
	// x86-64 syscall ABI uses them for a syscall's 4th-6th arguments, so
	// they're captured alongside the rest purely to feed the syscall
	// decoder.
	R10, R8, R9 uint64
}

// Stop describes the outcome of one Tracer.Wait call, collapsed to the two
// cases the trace loop cares about: the tracee exited, or it stopped on a
// signal. Any other wait() outcome (a signal-terminated process, a continued
// job-control notification, ...) is surfaced as an error by the Tracer
// implementation rather than represented here.
type Stop struct {
	Exited        bool
	ExitCode      int
	StoppedSignal syscall.Signal
}

// Tracer abstracts the raw ptrace operations the trace loop drives, so the
// loop itself can be exercised with a fake tracee in tests. The production
// implementation is in ptrace_linux.go.
type Tracer interface {
	Wait(pid int) (Stop, error)
	Step(pid int) error
	Cont(pid int) error
	GetRegs(pid int) (Regs, error)
	Kill(pid int) error
}
