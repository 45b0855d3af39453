package asm

import "strings"

type Mnemonic string

// List of emitted operations
const (
	OpMov     Mnemonic = "mov"
	OpAdd     Mnemonic = "add"
	OpSub     Mnemonic = "sub"
	OpInc     Mnemonic = "inc"
	OpTest    Mnemonic = "test"
	OpCmp     Mnemonic = "cmp"
	OpPush    Mnemonic = "push"
	OpPop     Mnemonic = "pop"
	OpCall    Mnemonic = "call"
	OpJmp     Mnemonic = "jmp"
	OpJz      Mnemonic = "jz"
	OpJnz     Mnemonic = "jnz"
	OpRet     Mnemonic = "ret"
	OpComment Mnemonic = ";"
	OpLabel   Mnemonic = "label"
)

// Instr is one emitted instruction. Dst and Src are nil when unused.
// Target holds the resolved index of a label operand once the code is
// sealed, -1 otherwise.
type Instr struct {
	Op     Mnemonic
	Dst    Operand
	Src    Operand
	Text   string
	Target int
}

// Writes reports whether the instruction overwrites register r
func (in Instr) Writes(r Reg) bool {
	switch in.Op {
	case OpMov, OpAdd, OpSub, OpPop, OpInc:
		reg, ok := in.Dst.(Reg)
		return ok && reg == r
	}
	return false
}

// String renders the instruction the way the listing prints it
func (in Instr) String() string {
	switch in.Op {
	case OpComment:
		return "; " + in.Text
	case OpLabel:
		return in.Dst.String() + ":"
	}

	var b strings.Builder
	b.WriteString(string(in.Op))
	if in.Dst != nil {
		b.WriteString(" ")
		b.WriteString(in.Dst.String())
	}
	if in.Src != nil {
		b.WriteString(", ")
		b.WriteString(in.Src.String())
	}
	return b.String()
}
