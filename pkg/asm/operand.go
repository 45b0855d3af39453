package asm

import (
	"fmt"
	"strconv"
)

// Operand is anything an instruction can name: a register, an
// immediate, a memory reference, a runtime symbol or a label.
type Operand interface {
	fmt.Stringer
	operand()
}

// Reg identifies a general-purpose 64-bit register.
type Reg uint8

const (
	RAX Reg = iota
	RCX
	RDX
	RBX
	RSP
	RBP
	RSI
	RDI
	R8
	R9
	R10
	R11
	R12
	R13
	R14
	R15

	NumRegs int = iota
)

var regNames = [NumRegs]string{
	"rax", "rcx", "rdx", "rbx", "rsp", "rbp", "rsi", "rdi",
	"r8", "r9", "r10", "r11", "r12", "r13", "r14", "r15",
}

func (r Reg) String() string {
	if int(r) < NumRegs {
		return regNames[r]
	}
	return "r?" + strconv.Itoa(int(r))
}

// Imm is an immediate 64-bit value.
type Imm int64

func (i Imm) String() string {
	if i < 0 || i > 0xffff {
		return fmt.Sprintf("0x%x", uint64(i))
	}
	return strconv.FormatInt(int64(i), 10)
}

// Mem describes the effective address [Base + Disp].
type Mem struct {
	Base Reg
	Disp int32
}

// At constructs a memory operand referencing [base].
func At(base Reg) Mem { return Mem{Base: base} }

// WithDisp returns a copy of the memory operand with the supplied displacement.
func (m Mem) WithDisp(disp int32) Mem {
	m.Disp = disp
	return m
}

func (m Mem) String() string {
	switch {
	case m.Disp > 0:
		return fmt.Sprintf("[%s+%d]", m.Base, m.Disp)
	case m.Disp < 0:
		return fmt.Sprintf("[%s-%d]", m.Base, -int64(m.Disp))
	default:
		return fmt.Sprintf("[%s]", m.Base)
	}
}

// Symbol names a runtime entry point resolved when the code is run.
type Symbol string

func (s Symbol) String() string { return string(s) }

// Label names a position inside one assembler.
type Label string

func (l Label) String() string { return "." + string(l) }

func (Reg) operand()    {}
func (Imm) operand()    {}
func (Mem) operand()    {}
func (Symbol) operand() {}
func (Label) operand()  {}

var (
	_ Operand = Reg(0)
	_ Operand = Imm(0)
	_ Operand = Mem{}
	_ Operand = Symbol("")
	_ Operand = Label("")
)
