package bytecode_test

import (
	"errors"
	"strings"
	"testing"

	"blockjit/pkg/bytecode"
)

const countdown = `
name: countdown
path: countdown.rb
line: 3
code:
  - putobject 3
  - label top
  - dup
  - branchunless done
  - pop
  - putobject false
  - jump top
  - label done
  - leave
`

func TestLoadISeq(t *testing.T) {
	iseq, err := bytecode.LoadISeq(strings.NewReader(countdown))
	if err != nil {
		t.Fatalf("LoadISeq failed: %v", err)
	}

	if iseq.Location() != "countdown@countdown.rb:3" {
		t.Errorf("expected location countdown@countdown.rb:3, got %s", iseq.Location())
	}

	insns, err := iseq.Disassemble()
	if err != nil {
		t.Fatalf("Disassemble failed: %v", err)
	}

	expected := []string{
		"0000 putobject 3",
		"0002 dup",
		"0003 branchunless 10",
		"0005 pop",
		"0006 putobject false",
		"0008 jump 2",
		"0010 leave",
	}
	if len(insns) != len(expected) {
		t.Fatalf("expected %d instructions, got %d", len(expected), len(insns))
	}
	for i, in := range insns {
		if in.String() != expected[i] {
			t.Errorf("instruction %d: expected %q, got %q", i, expected[i], in.String())
		}
	}
}

func TestAssembleErrors(t *testing.T) {
	tests := []struct {
		code        []string
		description string
	}{
		{[]string{"frobnicate"}, "unknown mnemonic"},
		{[]string{"putobject"}, "missing operand"},
		{[]string{"pop 1"}, "extra operand"},
		{[]string{"jump nowhere"}, "undefined label"},
		{[]string{"label a", "label a"}, "duplicate label"},
		{[]string{"putobject 1.5"}, "non integer literal"},
	}

	for _, test := range tests {
		if _, err := bytecode.Assemble(bytecode.Source{Code: test.code}); err == nil {
			t.Errorf("%s: expected an error", test.description)
		}
	}
}

func TestDecode(t *testing.T) {
	iseq := &bytecode.ISeq{Name: "t", Code: []uint64{uint64(bytecode.OpPutObject), bytecode.Fix(7), uint64(bytecode.OpLeave), 99}}

	in, err := iseq.Decode(0)
	if err != nil {
		t.Fatalf("Decode(0) failed: %v", err)
	}
	if in.Name() != "putobject" || in.Next() != 2 || in.Operands[0] != bytecode.Fix(7) {
		t.Errorf("unexpected decode result %v", in)
	}

	if _, err := iseq.Decode(4); !errors.Is(err, bytecode.ErrPCOutOfRange) {
		t.Errorf("expected ErrPCOutOfRange, got %v", err)
	}
	if _, err := iseq.Decode(3); !errors.Is(err, bytecode.ErrUnknownOpcode) {
		t.Errorf("expected ErrUnknownOpcode, got %v", err)
	}

	short := &bytecode.ISeq{Name: "short", Code: []uint64{uint64(bytecode.OpJump)}}
	if _, err := short.Decode(0); !errors.Is(err, bytecode.ErrTruncated) {
		t.Errorf("expected ErrTruncated, got %v", err)
	}
}

func TestValues(t *testing.T) {
	tests := []struct {
		value  uint64
		truthy bool
		text   string
	}{
		{bytecode.Qfalse, false, "false"},
		{bytecode.Qnil, false, "nil"},
		{bytecode.Qtrue, true, "true"},
		{bytecode.Fix(0), true, "0"},
		{bytecode.Fix(-12), true, "-12"},
		{bytecode.Qundef, true, "undef"},
	}

	for _, test := range tests {
		if bytecode.Truthy(test.value) != test.truthy {
			t.Errorf("Truthy(%s): expected %v", test.text, test.truthy)
		}
		if bytecode.Inspect(test.value) != test.text {
			t.Errorf("Inspect: expected %s, got %s", test.text, bytecode.Inspect(test.value))
		}
	}

	if bytecode.FixValue(bytecode.Fix(-12)) != -12 {
		t.Errorf("expected fixnum round trip for -12")
	}
}
