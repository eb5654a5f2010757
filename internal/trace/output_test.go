package trace_test

import (
	"encoding/json"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/counterhack/mandrake/internal/trace"
)

func sampleOutput() trace.Output {
	syscallText := "syscall"
	return trace.Output{
		Success:              true,
		PID:                  31337,
		StartingAddress:      trace.U64Ptr(0x13370000),
		InstructionsExecuted: 3,
		Stdout:               trace.StrPtr("hello\n"),
		ExitReason:           trace.StrPtr("Process exited cleanly with exit code 0"),
		ExitCode:             trace.IntPtr(0),
		History: []trace.RegisterSnapshot{
			{
				"rip": trace.AnalyzedValue{
					Value:         0x13370008,
					Memory:        []byte{0x0f, 0x05},
					AsInstruction: &syscallText,
					Extra:         []string{"Syscall: `exit`", "error_code (rdi) = `0x00000000`"},
				},
				"rax": trace.AnalyzedValue{Value: 60},
				"rsp": trace.AnalyzedValue{Value: 0x7ffc0000, Memory: []byte{}},
			},
		},
	}
}

func TestOutput_JSONRoundTrip(t *testing.T) {
	in := sampleOutput()

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out trace.Output
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.PID != in.PID || out.InstructionsExecuted != in.InstructionsExecuted {
		t.Fatalf("scalar fields diverged: %+v", out)
	}
	if out.StartingAddress == nil || *out.StartingAddress != 0x13370000 {
		t.Fatalf("starting_address diverged: %v", out.StartingAddress)
	}
	if out.ExitCode == nil || *out.ExitCode != 0 {
		t.Fatalf("exit_code diverged: %v", out.ExitCode)
	}

	rip, ok := out.History[0].RIP()
	if !ok {
		t.Fatal("rip slot lost in round-trip")
	}
	if rip.AsInstruction == nil || *rip.AsInstruction != "syscall" {
		t.Fatalf("as_instruction diverged: %v", rip.AsInstruction)
	}
	if len(rip.Extra) != 2 {
		t.Fatalf("extra diverged: %v", rip.Extra)
	}
	if len(rip.Memory) != 2 || rip.Memory[0] != 0x0f {
		t.Fatalf("memory diverged: %v", rip.Memory)
	}
}

func TestOutput_JSONDistinguishesAbsentAndEmptyMemory(t *testing.T) {
	in := sampleOutput()

	data, err := json.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out trace.Output
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	rax := out.History[0]["rax"]
	if rax.Memory != nil {
		t.Fatalf("absent memory must stay absent, got %v", rax.Memory)
	}
	rsp := out.History[0]["rsp"]
	if rsp.Memory == nil || len(rsp.Memory) != 0 {
		t.Fatalf("empty memory must stay a present, zero-length buffer, got %v", rsp.Memory)
	}
}

func TestOutput_YAMLRoundTrip(t *testing.T) {
	in := sampleOutput()

	data, err := yaml.Marshal(in)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	var out trace.Output
	if err := yaml.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}

	if out.ExitReason == nil || *out.ExitReason != *in.ExitReason {
		t.Fatalf("exit_reason diverged: %v", out.ExitReason)
	}
	rip, ok := out.History[0].RIP()
	if !ok {
		t.Fatal("rip slot lost in round-trip")
	}
	if rip.Value != 0x13370008 {
		t.Fatalf("rip value diverged: 0x%x", rip.Value)
	}
}
