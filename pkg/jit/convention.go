package jit

import (
	"fmt"

	"blockjit/pkg/asm"
)

// CallingConvention is the register contract shared by the prologue of
// every compiled method and by every exit that leaves it. Exits restore
// Saved in exactly the reverse order the prologue pushed it.
type CallingConvention struct {
	CFP asm.Reg // control frame pointer
	EC  asm.Reg // execution context pointer
	SP  asm.Reg // VM stack pointer tracked by compiled code

	Saved   []asm.Reg // callee-saved registers in push order
	ArgRegs []asm.Reg // argument registers (in order)
	RetReg  asm.Reg   // call result register
	Scratch asm.Reg   // clobbered freely by exit instrumentation

	SlotSize int // bytes per VM stack slot

	// Control frame layout
	FramePCOffset int32
	FrameSPOffset int32
}

// SysV is the System V AMD64 flavoured convention blockjit generates for.
var SysV = CallingConvention{
	CFP:           asm.R13,
	EC:            asm.R12,
	SP:            asm.RBX,
	Saved:         []asm.Reg{asm.R13, asm.R12, asm.RBX},
	ArgRegs:       []asm.Reg{asm.RDI, asm.RSI, asm.RDX, asm.RCX, asm.R8, asm.R9},
	RetReg:        asm.RAX,
	Scratch:       asm.R11,
	SlotSize:      8,
	FramePCOffset: 0,
	FrameSPOffset: 8,
}

// Arg returns the i-th argument register
func (cc CallingConvention) Arg(i int) asm.Reg {
	return cc.ArgRegs[i]
}

// FramePC is the memory operand of the frame's PC field
func (cc CallingConvention) FramePC() asm.Mem {
	return asm.At(cc.CFP).WithDisp(cc.FramePCOffset)
}

// FrameSP is the memory operand of the frame's SP field
func (cc CallingConvention) FrameSP() asm.Mem {
	return asm.At(cc.CFP).WithDisp(cc.FrameSPOffset)
}

// Validate checks that the convention is self-consistent
func (cc CallingConvention) Validate() error {
	if len(cc.Saved) != 3 {
		return fmt.Errorf("%w: expected 3 saved registers, got %d", ErrConvention, len(cc.Saved))
	}
	for _, r := range []asm.Reg{cc.CFP, cc.EC, cc.SP} {
		found := false
		for _, s := range cc.Saved {
			found = found || s == r
		}
		if !found {
			return fmt.Errorf("%w: %s is not callee-saved", ErrConvention, r)
		}
	}
	if len(cc.ArgRegs) < 3 {
		return fmt.Errorf("%w: need 3 argument registers, got %d", ErrConvention, len(cc.ArgRegs))
	}

	used := map[asm.Reg]string{cc.CFP: "cfp", cc.EC: "ec", cc.SP: "sp"}
	if len(used) != 3 {
		return fmt.Errorf("%w: cfp, ec and sp must differ", ErrConvention)
	}
	for _, r := range append([]asm.Reg{cc.RetReg, cc.Scratch}, cc.ArgRegs[:3]...) {
		if role, ok := used[r]; ok {
			return fmt.Errorf("%w: %s is already the %s register", ErrConvention, r, role)
		}
	}
	if cc.SlotSize <= 0 {
		return fmt.Errorf("%w: slot size %d", ErrConvention, cc.SlotSize)
	}
	return nil
}

// EmitPrologue saves the callee-saved registers and loads the
// interpreter state passed in the first two argument registers (ec, cfp).
func (cc CallingConvention) EmitPrologue(a *asm.Assembler) {
	a.Comment("prologue")
	for _, r := range cc.Saved {
		a.Push(r)
	}
	a.Mov(cc.EC, cc.Arg(0))
	a.Mov(cc.CFP, cc.Arg(1))
	a.Mov(cc.SP, cc.FrameSP())
}

// EmitRestore pops the callee-saved registers in reverse push order
func (cc CallingConvention) EmitRestore(a *asm.Assembler) {
	for i := len(cc.Saved) - 1; i >= 0; i-- {
		a.Pop(cc.Saved[i])
	}
}
