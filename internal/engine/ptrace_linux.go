//go:build linux

package engine

import (
	"fmt"
	"syscall"

	"golang.org/x/sys/unix"
)

// unixTracer drives ptrace through golang.org/x/sys/unix. A single unixTracer
// must be used from a single OS thread for its entire lifetime: ptrace state
// is per-thread in the kernel, so the caller is required to have pinned the
// calling goroutine with runtime.LockOSThread before spawning the tracee and
// to keep driving that tracee from the same goroutine thereafter.
type unixTracer struct{}

func newTracer() Tracer { return unixTracer{} }

func (unixTracer) Wait(pid int) (Stop, error) {
	var status syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &status, 0, nil); err != nil {
		return Stop{}, fmt.Errorf("wait4: %w", err)
	}

	switch {
	case status.Exited():
		return Stop{Exited: true, ExitCode: status.ExitStatus()}, nil
	case status.Stopped():
		return Stop{StoppedSignal: status.StopSignal()}, nil
	default:
		return Stop{}, fmt.Errorf("unexpected stop reason: %v", status)
	}
}

func (unixTracer) Step(pid int) error {
	return unix.PtraceSingleStep(pid)
}

func (unixTracer) Cont(pid int) error {
	return unix.PtraceCont(pid, 0)
}

func (unixTracer) GetRegs(pid int) (Regs, error) {
	var r unix.PtraceRegs
	if err := unix.PtraceGetRegs(pid, &r); err != nil {
		return Regs{}, err
	}
	return Regs{
		Rip: r.Rip, Rax: r.Rax, Rbx: r.Rbx, Rcx: r.Rcx, Rdx: r.Rdx,
		Rsi: r.Rsi, Rdi: r.Rdi, Rbp: r.Rbp, Rsp: r.Rsp,
		R10: r.R10, R8: r.R8, R9: r.R9,
	}, nil
}

func (unixTracer) Kill(pid int) error {
	return syscall.Kill(pid, syscall.SIGKILL)
}
