package engine

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"io"
	"os/exec"
	"runtime"
	"syscall"

	"github.com/counterhack/mandrake/internal/analyzer"
	"github.com/counterhack/mandrake/internal/harness"
	"github.com/counterhack/mandrake/internal/memio"
	"github.com/counterhack/mandrake/internal/trace"
	"github.com/counterhack/mandrake/internal/visibility"
)

// spawned bundles a started, ptrace-attached child together with the pipes
// used to drain its output once the trace completes.
type spawned struct {
	cmd    *exec.Cmd
	pid    int
	stdout io.ReadCloser
	stderr io.ReadCloser
}

// startPtraced starts cmd with ptrace enabled and reaps the automatic
// execve-time SIGTRAP every traced child stops on before running a single
// instruction of the target program.
//
// ptrace is a per-thread kernel facility: the calling goroutine must stay
// pinned to its OS thread (via runtime.LockOSThread) for as long as it keeps
// driving this tracee, which is why AnalyzeCode/AnalyzeElf lock the thread
// before calling this and never unlock it.
func startPtraced(cmd *exec.Cmd) (spawned, error) {
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return spawned{}, fmt.Errorf("couldn't get a handle to stdout: %w", err)
	}
	stderr, err := cmd.StderrPipe()
	if err != nil {
		return spawned{}, fmt.Errorf("couldn't get a handle to stderr: %w", err)
	}

	cmd.SysProcAttr = &syscall.SysProcAttr{Ptrace: true}

	if err := cmd.Start(); err != nil {
		return spawned{}, fmt.Errorf("could not execute testing harness: %w", err)
	}

	pid := cmd.Process.Pid

	var status syscall.WaitStatus
	if _, err := syscall.Wait4(pid, &status, 0, nil); err != nil {
		return spawned{}, fmt.Errorf("failed while waiting for process to resume: %w", err)
	}

	return spawned{cmd: cmd, pid: pid, stdout: stdout, stderr: stderr}, nil
}

// finish drains stdout/stderr (if requested) and fills them into out. It
// assumes the tracee has already exited or been killed, so both pipes are
// at EOF or about to be.
func (e *Engine) finish(out *trace.Output, sp spawned) {
	if e.CaptureStdout {
		data, _ := io.ReadAll(sp.stdout)
		out.Stdout = trace.StrPtr(string(bytes.ToValidUTF8(data, []byte("�"))))
	}
	if e.CaptureStderr {
		data, _ := io.ReadAll(sp.stderr)
		out.Stderr = trace.StrPtr(string(bytes.ToValidUTF8(data, []byte("�"))))
	}
}

// AnalyzeCode loads codeBytes into the configured harness, single-steps
// through it, and returns the resulting trace.
//
// showEverything selects between the two visibility presets: false (the
// default) restricts the trace to the harness's own fixed load address
// (visibility.Harness()); true lifts that restriction and shows the whole
// process (visibility.Full()).
func (e *Engine) AnalyzeCode(codeBytes []byte, harnessPath string, showEverything bool) (trace.Output, error) {
	resolved := harness.Locate(harnessPath)
	if err := harness.Validate(resolved); err != nil {
		return trace.Output{}, err
	}

	runtime.LockOSThread()

	cmd := exec.Command(resolved, hex.EncodeToString(codeBytes))
	sp, err := startPtraced(cmd)
	if err != nil {
		return trace.Output{}, err
	}

	tracer := newTracer()

	// Resume to the harness's own breakpoint after it loads the shellcode...
	if err := tracer.Cont(sp.pid); err != nil {
		return trace.Output{}, fmt.Errorf("couldn't resume execution: %w", err)
	}
	if _, err := tracer.Wait(sp.pid); err != nil {
		return trace.Output{}, fmt.Errorf("failed while waiting for process to resume: %w", err)
	}

	// ...then step once more, past that breakpoint, landing on the first
	// instruction of the injected code.
	if err := tracer.Step(sp.pid); err != nil {
		return trace.Output{}, fmt.Errorf("failed to stop into the shellcode: %w", err)
	}

	vis := visibility.Harness()
	if showEverything {
		vis = visibility.Full()
	}

	out, err := e.run(sp.pid, tracer, analyzer.MemReader(memio.ReadBytes), vis)
	if err != nil {
		return out, err
	}
	e.finish(&out, sp)
	return out, nil
}

// AnalyzeElf runs binary directly under ptrace with the given stdin and
// argv, using the caller-selected visibility configuration.
func (e *Engine) AnalyzeElf(binary string, stdinData []byte, args []string, vis visibility.Configuration) (trace.Output, error) {
	runtime.LockOSThread()

	cmd := exec.Command(binary, args...)

	var stdinPipe io.WriteCloser
	if stdinData != nil {
		p, err := cmd.StdinPipe()
		if err != nil {
			return trace.Output{}, fmt.Errorf("couldn't get a handle to stdin: %w", err)
		}
		stdinPipe = p
	}

	sp, err := startPtraced(cmd)
	if err != nil {
		return trace.Output{}, err
	}

	if stdinPipe != nil {
		if _, err := stdinPipe.Write(stdinData); err != nil {
			return trace.Output{}, fmt.Errorf("failed while trying to write to stdin: %w", err)
		}
		stdinPipe.Close()
	}

	tracer := newTracer()

	if err := tracer.Cont(sp.pid); err != nil {
		return trace.Output{}, fmt.Errorf("couldn't resume execution: %w", err)
	}

	out, err := e.run(sp.pid, tracer, analyzer.MemReader(memio.ReadBytes), vis)
	if err != nil {
		return out, err
	}
	e.finish(&out, sp)
	return out, nil
}
