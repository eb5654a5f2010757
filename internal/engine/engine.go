// Package engine implements the ptrace-driven single-step loop that turns a
// running tracee into a trace.Output. The raw ptrace calls live behind the
// Tracer interface (ptrace_linux.go); the loop itself is platform-neutral so
// it can run against a fake tracee in tests.
package engine

import (
	"fmt"
	"syscall"

	"github.com/counterhack/mandrake/internal/analyzer"
	"github.com/counterhack/mandrake/internal/syscalldecoder"
	"github.com/counterhack/mandrake/internal/syscalltable"
	"github.com/counterhack/mandrake/internal/trace"
	"github.com/counterhack/mandrake/internal/visibility"
)

// Engine holds the tunables that shape a trace: how much memory context to
// keep per value, the instruction cap, and which streams to capture.
type Engine struct {
	SnippetLength       int
	MinimumViableString int
	MaxInstructions     int // 0 means unbounded
	CaptureStdout       bool
	CaptureStderr       bool
	Table               syscalltable.Table
}

// New builds an Engine with the embedded default syscall table.
func New(snippetLength, minimumViableString, maxInstructions int, captureStdout, captureStderr bool) *Engine {
	return &Engine{
		SnippetLength:       snippetLength,
		MinimumViableString: minimumViableString,
		MaxInstructions:     maxInstructions,
		CaptureStdout:       captureStdout,
		CaptureStderr:       captureStderr,
		Table:               syscalltable.Default,
	}
}

// run drives the single-step loop for pid using tracer, reading tracee
// memory through read, until the tracee exits or hits a fatal condition.
// SIGTRAP always steps past the current instruction; an int3 is a silent
// breakpoint used purely to resume free-running execution; any other signal
// ends the trace with a descriptive reason.
func (e *Engine) run(pid int, tracer Tracer, read analyzer.MemReader, vis visibility.Configuration) (trace.Output, error) {
	// Success defaults true and is never flipped; exit_reason/exit_code
	// carry the actual outcome.
	out := trace.Output{PID: pid, Success: true}

	// Array entries found by the syscall decoder are classified with the
	// same configured settings as every other value in the trace.
	analyzeFn := func(p int, value uint64) trace.AnalyzedValue {
		return analyzer.AnalyzeWith(read, p, value, false, e.SnippetLength, e.MinimumViableString)
	}

steploop:
	for {
		stop, err := tracer.Wait(pid)
		if err != nil {
			return out, fmt.Errorf("unexpected wait() error: %w", err)
		}

		if stop.Exited {
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Process exited cleanly with exit code %d", stop.ExitCode))
			out.ExitCode = trace.IntPtr(stop.ExitCode)
			break
		}

		regs, err := tracer.GetRegs(pid)
		if err != nil {
			return out, fmt.Errorf("couldn't read registers: %w", err)
		}

		snapshot := e.analyzeRegisters(pid, regs, read, analyzeFn)
		rip, ok := snapshot.RIP()
		if !ok {
			return out, fmt.Errorf("rip is missing from the register list")
		}

		switch stop.StoppedSignal {
		case syscall.SIGTRAP:
			if err := tracer.Step(pid); err != nil {
				return out, fmt.Errorf("couldn't step through code: %w", err)
			}

			if rip.AsInstruction != nil && *rip.AsInstruction == "int3" {
				if _, err := tracer.Wait(pid); err != nil {
					return out, fmt.Errorf("couldn't step over breakpoint: %w", err)
				}
				if err := tracer.Cont(pid); err != nil {
					return out, fmt.Errorf("couldn't resume execution after breakpoint: %w", err)
				}
				continue steploop
			}

			out.InstructionsExecuted++
			if e.MaxInstructions > 0 && out.InstructionsExecuted >= e.MaxInstructions {
				out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution stopped at instruction cap (max instructions: %d)", e.MaxInstructions))
				break steploop
			}

			if !vis.IsVisible(rip.Value) {
				continue steploop
			}

			if out.StartingAddress == nil {
				out.StartingAddress = trace.U64Ptr(rip.Value)
			}

			out.History = append(out.History, snapshot)
			continue steploop

		case syscall.SIGALRM:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution timed out (SIGALRM) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGABRT:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution crashed with an abort (SIGABRT) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGBUS:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution crashed with a bus error (bad memory access) (SIGBUS) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGFPE:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution crashed with a floating point error (SIGFPE) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGILL:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution crashed with an illegal instruction (SIGILL) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGKILL:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution was killed (SIGKILL) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGSEGV:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution crashed with a segmentation fault (SIGSEGV) @ %s", fmtAddr(rip.Value)))
			break steploop
		case syscall.SIGTERM:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution was terminated (SIGTERM) @ %s", fmtAddr(rip.Value)))
			break steploop
		default:
			out.ExitReason = trace.StrPtr(fmt.Sprintf("Execution stopped by unexpected signal: %s", stop.StoppedSignal))
			break steploop
		}
	}

	// Whatever situation we ended up in, make sure the tracee is dead. Errors
	// are discarded: it may already be gone.
	_ = tracer.Kill(pid)

	return out, nil
}

// analyzeRegisters builds a full RegisterSnapshot from raw register values,
// then attaches decoded syscall argument info to the rip slot whenever the
// current instruction is "syscall".
func (e *Engine) analyzeRegisters(pid int, regs Regs, read analyzer.MemReader, analyzeFn syscalldecoder.AnalyzeFunc) trace.RegisterSnapshot {
	snap := trace.RegisterSnapshot{
		"rip": analyzer.AnalyzeWith(read, pid, regs.Rip, true, e.SnippetLength, e.MinimumViableString),
		"rax": analyzer.AnalyzeWith(read, pid, regs.Rax, false, e.SnippetLength, e.MinimumViableString),
		"rbx": analyzer.AnalyzeWith(read, pid, regs.Rbx, false, e.SnippetLength, e.MinimumViableString),
		"rcx": analyzer.AnalyzeWith(read, pid, regs.Rcx, false, e.SnippetLength, e.MinimumViableString),
		"rdx": analyzer.AnalyzeWith(read, pid, regs.Rdx, false, e.SnippetLength, e.MinimumViableString),
		"rsi": analyzer.AnalyzeWith(read, pid, regs.Rsi, false, e.SnippetLength, e.MinimumViableString),
		"rdi": analyzer.AnalyzeWith(read, pid, regs.Rdi, false, e.SnippetLength, e.MinimumViableString),
		"rbp": analyzer.AnalyzeWith(read, pid, regs.Rbp, false, e.SnippetLength, e.MinimumViableString),
		"rsp": analyzer.AnalyzeWith(read, pid, regs.Rsp, false, e.SnippetLength, e.MinimumViableString),
	}

	rip := snap["rip"]
	if rip.AsInstruction != nil && *rip.AsInstruction == "syscall" {
		r10 := analyzer.AnalyzeWith(read, pid, regs.R10, false, e.SnippetLength, e.MinimumViableString)
		r8 := analyzer.AnalyzeWith(read, pid, regs.R8, false, e.SnippetLength, e.MinimumViableString)
		r9 := analyzer.AnalyzeWith(read, pid, regs.R9, false, e.SnippetLength, e.MinimumViableString)

		lines := syscalldecoder.Decode(e.Table, syscalldecoder.MemReader(read), analyzeFn, pid,
			snap["rax"], snap["rdi"], snap["rsi"], snap["rdx"], r10, r8, r9)
		rip.Extra = lines
		snap["rip"] = rip
	}

	return snap
}

// fmtAddr renders a register value as a zero-padded, at-least-8-digit hex
// address, the same form used for addresses everywhere in exit reasons.
func fmtAddr(v uint64) string {
	return fmt.Sprintf("0x%08x", v)
}
