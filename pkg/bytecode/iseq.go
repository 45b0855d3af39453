package bytecode

import (
	"errors"
	"fmt"
)

// ISeq is one compiled method body: a flat sequence of words where each
// instruction is its opcode followed by its operands.
type ISeq struct {
	Name string
	Path string
	Line int

	Code []uint64

	// Invalidated marks a body whose compiled code must not run. Entries
	// into it leave for the interpreter straight away.
	Invalidated bool
}

// Insn is a decoded instruction.
type Insn struct {
	Op       Opcode
	PC       int
	Operands []uint64
}

// Name returns the mnemonic of the instruction
func (in Insn) Name() string {
	return in.Op.String()
}

// ID returns the identity used to index per-instruction tables
func (in Insn) ID() int {
	return int(in.Op)
}

// Len returns the encoded length in words
func (in Insn) Len() int {
	return in.Op.Len()
}

// Next returns the PC of the following instruction
func (in Insn) Next() int {
	return in.PC + in.Len()
}

// Target returns the absolute PC a branch instruction jumps to
func (in Insn) Target() int {
	if !in.Op.IsBranch() {
		return -1
	}
	return in.Next() + int(int64(in.Operands[0]))
}

// String returns a disassembly line for the instruction
func (in Insn) String() string {
	switch {
	case in.Op.IsBranch():
		return fmt.Sprintf("%04d %s %d", in.PC, in.Op, in.Target())
	case in.Op == OpPutObject:
		return fmt.Sprintf("%04d %s %s", in.PC, in.Op, Inspect(in.Operands[0]))
	default:
		return fmt.Sprintf("%04d %s", in.PC, in.Op)
	}
}

// Decode returns the instruction starting at pc
func (s *ISeq) Decode(pc int) (Insn, error) {
	if pc < 0 || pc >= len(s.Code) {
		return Insn{}, fmt.Errorf("%w: %d in %s", ErrPCOutOfRange, pc, s.Name)
	}

	op := Opcode(s.Code[pc])
	if int(op) >= NumOpcodes {
		return Insn{}, fmt.Errorf("%w: %d at %d in %s", ErrUnknownOpcode, op, pc, s.Name)
	}
	if pc+op.Len() > len(s.Code) {
		return Insn{}, fmt.Errorf("%w: %s at %d in %s", ErrTruncated, op, pc, s.Name)
	}

	return Insn{Op: op, PC: pc, Operands: s.Code[pc+1 : pc+op.Len()]}, nil
}

// Location renders name@path:line for diagnostics
func (s *ISeq) Location() string {
	return fmt.Sprintf("%s@%s:%d", s.Name, s.Path, s.Line)
}

// Disassemble decodes the whole body
func (s *ISeq) Disassemble() ([]Insn, error) {
	out := make([]Insn, 0, len(s.Code))
	for pc := 0; pc < len(s.Code); {
		in, err := s.Decode(pc)
		if err != nil {
			return nil, err
		}
		out = append(out, in)
		pc = in.Next()
	}
	return out, nil
}

var (
	ErrPCOutOfRange  = errors.New("pc out of range")
	ErrUnknownOpcode = errors.New("unknown opcode")
	ErrTruncated     = errors.New("truncated instruction")
)
