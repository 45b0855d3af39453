package interpreter_test

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"blockjit/pkg/asm"
	"blockjit/pkg/bytecode"
	"blockjit/pkg/interpreter"
	"blockjit/pkg/jit"
)

func assemble(t *testing.T, code ...string) *bytecode.ISeq {
	t.Helper()
	iseq, err := bytecode.Assemble(bytecode.Source{Name: t.Name(), Path: "test.rb", Line: 1, Code: code})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	return iseq
}

var programs = []struct {
	description string
	code        []string
	expected    uint64
}{
	{"constant", []string{"putobject 42", "leave"}, bytecode.Fix(42)},
	{"nil", []string{"putnil", "leave"}, bytecode.Qnil},
	{"addition", []string{"putobject 1", "putobject 2", "opt_plus", "leave"}, bytecode.Fix(3)},
	{"dup and pop", []string{"putobject 5", "dup", "pop", "leave"}, bytecode.Fix(5)},
	{"branch taken", []string{
		"putobject true", "branchif yes",
		"putobject 1", "leave",
		"label yes", "putobject 2", "leave",
	}, bytecode.Fix(2)},
	{"branch not taken", []string{
		"putnil", "branchif yes",
		"putobject 1", "leave",
		"label yes", "putobject 2", "leave",
	}, bytecode.Fix(1)},
	{"loop", []string{
		"putobject 3",
		"label top",
		"dup",
		"branchunless done",
		"pop",
		"putobject false",
		"jump top",
		"label done",
		"leave",
	}, bytecode.Qfalse},
	{"counting loop", []string{
		"putobject 0",
		"label top",
		"dup", "putobject 4", "opt_lt",
		"branchunless done",
		"putobject 1", "opt_plus",
		"jump top",
		"label done",
		"leave",
	}, bytecode.Fix(4)},
}

func TestInterpretedAndCompiledAgree(t *testing.T) {
	for _, test := range programs {
		iseq := assemble(t, test.code...)

		got, err := interpreter.Exec(iseq)
		if err != nil {
			t.Fatalf("%s: interpreted run failed: %v", test.description, err)
		}
		if got != test.expected {
			t.Errorf("%s: interpreted: expected %s, got %s", test.description, bytecode.Inspect(test.expected), bytecode.Inspect(got))
		}

		it, err := interpreter.NewInterpreter(interpreter.WithJIT(true), interpreter.WithMaxSteps(10000))
		if err != nil {
			t.Fatalf("NewInterpreter failed: %v", err)
		}
		got, err = it.Invoke(iseq)
		if err != nil {
			t.Fatalf("%s: compiled run failed: %v", test.description, err)
		}
		if got != test.expected {
			t.Errorf("%s: compiled: expected %s, got %s", test.description, bytecode.Inspect(test.expected), bytecode.Inspect(got))
		}
		if it.Machine().StackDepth() != 0 {
			t.Errorf("%s: expected an empty native stack, got %d words", test.description, it.Machine().StackDepth())
		}
	}
}

func TestAlternateConvention(t *testing.T) {
	cc := jit.CallingConvention{
		CFP:           asm.R14,
		EC:            asm.R15,
		SP:            asm.R12,
		Saved:         []asm.Reg{asm.R14, asm.R15, asm.R12},
		ArgRegs:       []asm.Reg{asm.RSI, asm.RDI, asm.RCX},
		RetReg:        asm.RDX,
		Scratch:       asm.R10,
		SlotSize:      8,
		FramePCOffset: 16,
		FrameSPOffset: 0,
	}

	for _, test := range programs {
		iseq := assemble(t, test.code...)

		it, err := interpreter.NewInterpreter(interpreter.WithJIT(true), interpreter.WithExitStats(true), interpreter.WithConvention(cc))
		if err != nil {
			t.Fatalf("NewInterpreter failed: %v", err)
		}
		got, err := it.Invoke(iseq)
		if err != nil {
			t.Fatalf("%s: compiled run failed: %v", test.description, err)
		}
		if got != test.expected {
			t.Errorf("%s: expected %s, got %s", test.description, bytecode.Inspect(test.expected), bytecode.Inspect(got))
		}

		entry := it.Resolver().CodeBlocks()[0].Instrs()
		for _, in := range entry {
			if in.Op == asm.OpPush && in.Dst != cc.Saved[0] {
				t.Errorf("%s: expected the prologue to start with push %s, got %s", test.description, cc.Saved[0], in)
			}
			if in.Op == asm.OpPush {
				break
			}
		}
	}

	bad := cc
	bad.FramePCOffset = 64
	if _, err := interpreter.NewInterpreter(interpreter.WithConvention(bad)); !errors.Is(err, jit.ErrConvention) {
		t.Errorf("expected ErrConvention for a pc field outside the frame, got %v", err)
	}
}

// seedCalleeSaved puts recognizable values into the registers the
// prologue saves so a test can check every exit restores them.
func seedCalleeSaved(it *interpreter.Interpreter) map[asm.Reg]uint64 {
	seeds := map[asm.Reg]uint64{}
	for n, r := range jit.SysV.Saved {
		seeds[r] = 0xc0de00 + uint64(n)
		it.Machine().SetReg(r, seeds[r])
	}
	return seeds
}

func checkCalleeSaved(t *testing.T, it *interpreter.Interpreter, seeds map[asm.Reg]uint64) {
	t.Helper()
	for r, v := range seeds {
		if got := it.Machine().Reg(r); got != v {
			t.Errorf("expected %s restored to 0x%x, got 0x%x", r, v, got)
		}
	}
}

func TestSideExitReconcilesFrame(t *testing.T) {
	iseq := assemble(t, "putobject 1", "putobject 2", "opt_plus", "leave")

	it, err := interpreter.NewInterpreter(interpreter.WithJIT(true), interpreter.WithExitStats(true))
	if err != nil {
		t.Fatalf("NewInterpreter failed: %v", err)
	}
	if _, err := it.PushFrame(iseq); err != nil {
		t.Fatalf("PushFrame failed: %v", err)
	}
	seeds := seedCalleeSaved(it)

	v, err := it.EnterCompiled()
	if err != nil {
		t.Fatalf("EnterCompiled failed: %v", err)
	}
	if v != bytecode.Qundef {
		t.Fatalf("expected Qundef from a side exit, got %s", bytecode.Inspect(v))
	}
	checkCalleeSaved(t, it, seeds)

	pc, _ := it.PC()
	if pc != 4 {
		t.Errorf("expected frame pc 4 (opt_plus), got %d", pc)
	}
	stack, err := it.Stack()
	if err != nil {
		t.Fatalf("Stack failed: %v", err)
	}
	if len(stack) != 2 || stack[0] != bytecode.Fix(1) || stack[1] != bytecode.Fix(2) {
		t.Errorf("expected stack [1 2], got %v", stack)
	}

	if got := it.ExitStats().Count(bytecode.OpPlus); got != 1 {
		t.Errorf("expected 1 opt_plus exit, got %d", got)
	}

	// The interpreter picks up exactly where compiled code stopped.
	for {
		halted, err := it.Step()
		if err != nil {
			t.Fatalf("Step failed: %v", err)
		}
		if halted {
			break
		}
	}
}

func TestInvalidatedEntryExit(t *testing.T) {
	iseq := assemble(t, "putobject 1", "putobject 2", "leave")
	iseq.Invalidated = true

	it, err := interpreter.NewInterpreter(interpreter.WithJIT(true), interpreter.WithExitStats(true))
	if err != nil {
		t.Fatalf("NewInterpreter failed: %v", err)
	}
	if _, err := it.PushFrame(iseq); err != nil {
		t.Fatalf("PushFrame failed: %v", err)
	}
	seeds := seedCalleeSaved(it)

	v, err := it.EnterCompiled()
	if err != nil {
		t.Fatalf("EnterCompiled failed: %v", err)
	}
	if v != bytecode.Qundef {
		t.Errorf("expected Qundef from an entry exit, got %s", bytecode.Inspect(v))
	}
	checkCalleeSaved(t, it, seeds)

	if pc, _ := it.PC(); pc != 0 {
		t.Errorf("expected untouched pc 0, got %d", pc)
	}
	if stack, _ := it.Stack(); len(stack) != 0 {
		t.Errorf("expected an empty stack, got %v", stack)
	}
	if got := it.ExitStats().Count(bytecode.OpPutObject); got != 1 {
		t.Errorf("expected 1 putobject exit, got %d", got)
	}
	it.PopFrame()

	got, err := it.Invoke(iseq)
	if err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if got != bytecode.Fix(2) {
		t.Errorf("expected 2, got %s", bytecode.Inspect(got))
	}
}

func TestLeaveKeepsReturnValue(t *testing.T) {
	iseq := assemble(t, "putobject 7", "leave")

	it, err := interpreter.NewInterpreter(interpreter.WithJIT(true))
	if err != nil {
		t.Fatalf("NewInterpreter failed: %v", err)
	}
	if _, err := it.PushFrame(iseq); err != nil {
		t.Fatalf("PushFrame failed: %v", err)
	}
	seeds := seedCalleeSaved(it)

	v, err := it.EnterCompiled()
	if err != nil {
		t.Fatalf("EnterCompiled failed: %v", err)
	}
	if v != bytecode.Fix(7) {
		t.Errorf("expected 7, got %s", bytecode.Inspect(v))
	}
	checkCalleeSaved(t, it, seeds)
}

func TestStubsCompileOnce(t *testing.T) {
	iseq := assemble(t,
		"putobject 3",
		"label top",
		"dup",
		"branchunless done",
		"pop",
		"putobject false",
		"jump top",
		"label done",
		"leave",
	)

	it, err := interpreter.NewInterpreter(interpreter.WithJIT(true))
	if err != nil {
		t.Fatalf("NewInterpreter failed: %v", err)
	}
	for n := 0; n < 3; n++ {
		if _, err := it.Invoke(iseq); err != nil {
			t.Fatalf("Invoke %d failed: %v", n, err)
		}
	}

	versions := it.Resolver().Versions(iseq)
	var starts []int
	for _, cb := range versions {
		starts = append(starts, cb.PC)
	}
	// loop head, fallthrough of the first branch, exit block
	expected := []int{2, 5, 10}
	if len(starts) != len(expected) {
		t.Fatalf("expected versions at %v, got %v", expected, starts)
	}
	for n := range expected {
		if starts[n] != expected[n] {
			t.Errorf("expected versions at %v, got %v", expected, starts)
		}
	}
	if got := len(it.Resolver().CodeBlocks()); got != 4 {
		t.Errorf("expected 4 installed code blocks (entry + 3), got %d", got)
	}
}

func TestTrace(t *testing.T) {
	var buf bytes.Buffer
	it, err := interpreter.NewInterpreter(interpreter.WithTrace(&buf))
	if err != nil {
		t.Fatalf("NewInterpreter failed: %v", err)
	}
	if _, err := it.Invoke(assemble(t, "putobject 1", "leave")); err != nil {
		t.Fatalf("Invoke failed: %v", err)
	}
	if !strings.Contains(buf.String(), "0000 putobject 1") {
		t.Errorf("expected a trace line for putobject, got %q", buf.String())
	}
}

func TestErrors(t *testing.T) {
	tests := []struct {
		description string
		code        []string
		expected    error
	}{
		{"underflow", []string{"pop", "leave"}, interpreter.ErrStackUnderflow},
		{"type error", []string{"putnil", "putobject 1", "opt_plus", "leave"}, interpreter.ErrType},
		{"falls off", []string{"nop"}, bytecode.ErrPCOutOfRange},
	}

	for _, test := range tests {
		if _, err := interpreter.Exec(assemble(t, test.code...)); !errors.Is(err, test.expected) {
			t.Errorf("%s: expected %v, got %v", test.description, test.expected, err)
		}
	}

	it, _ := interpreter.NewInterpreter(interpreter.WithMaxSteps(50))
	loop := assemble(t, "label top", "jump top")
	if _, err := it.Invoke(loop); !errors.Is(err, interpreter.ErrMaxStepsExceeded) {
		t.Errorf("expected ErrMaxStepsExceeded, got %v", err)
	}
}
