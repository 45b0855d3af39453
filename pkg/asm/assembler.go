package asm

import (
	"bytes"
	"errors"
	"fmt"
	"io"
)

// Assembler is an append-only instruction sequence builder. Emission
// methods never fail; misuse is recorded and reported by Err and Seal.
type Assembler struct {
	instrs []Instr
	labels map[Label]int
	sealed bool
	err    error
}

// NewAssembler creates an empty assembler
func NewAssembler() *Assembler {
	return &Assembler{labels: make(map[Label]int)}
}

func (a *Assembler) emit(in Instr) {
	if a.sealed {
		a.fail(fmt.Errorf("%w: %s", ErrSealed, in))
		return
	}
	in.Target = -1
	a.instrs = append(a.instrs, in)
}

func (a *Assembler) fail(err error) {
	if a.err == nil {
		a.err = err
	}
}

// Mov emits dst <- src
func (a *Assembler) Mov(dst, src Operand) { a.emit(Instr{Op: OpMov, Dst: dst, Src: src}) }

// Add emits dst <- dst + src
func (a *Assembler) Add(dst, src Operand) { a.emit(Instr{Op: OpAdd, Dst: dst, Src: src}) }

// Sub emits dst <- dst - src
func (a *Assembler) Sub(dst, src Operand) { a.emit(Instr{Op: OpSub, Dst: dst, Src: src}) }

// Inc emits dst <- dst + 1
func (a *Assembler) Inc(dst Operand) { a.emit(Instr{Op: OpInc, Dst: dst}) }

// Test sets the zero flag from dst & src
func (a *Assembler) Test(dst, src Operand) { a.emit(Instr{Op: OpTest, Dst: dst, Src: src}) }

// Cmp sets the zero flag from dst == src
func (a *Assembler) Cmp(dst, src Operand) { a.emit(Instr{Op: OpCmp, Dst: dst, Src: src}) }

// Push pushes src onto the native stack
func (a *Assembler) Push(src Operand) { a.emit(Instr{Op: OpPush, Dst: src}) }

// Pop pops the native stack into dst
func (a *Assembler) Pop(dst Reg) { a.emit(Instr{Op: OpPop, Dst: dst}) }

// Call calls a runtime entry point; the result lands in the return register
func (a *Assembler) Call(target Symbol) { a.emit(Instr{Op: OpCall, Dst: target}) }

// Jmp jumps to a label in the same sequence
func (a *Assembler) Jmp(target Label) { a.emit(Instr{Op: OpJmp, Dst: target}) }

// JmpReg jumps to the code address held in r
func (a *Assembler) JmpReg(r Reg) { a.emit(Instr{Op: OpJmp, Dst: r}) }

// Jz jumps to target when the zero flag is set
func (a *Assembler) Jz(target Label) { a.emit(Instr{Op: OpJz, Dst: target}) }

// Jnz jumps to target when the zero flag is clear
func (a *Assembler) Jnz(target Label) { a.emit(Instr{Op: OpJnz, Dst: target}) }

// Ret returns to the caller
func (a *Assembler) Ret() { a.emit(Instr{Op: OpRet}) }

// Comment attaches an annotation with no runtime effect
func (a *Assembler) Comment(format string, args ...any) {
	a.emit(Instr{Op: OpComment, Text: fmt.Sprintf(format, args...)})
}

// Bind marks the current position with label
func (a *Assembler) Bind(label Label) {
	if _, exists := a.labels[label]; exists {
		a.fail(fmt.Errorf("label %q already defined", label))
		return
	}
	a.labels[label] = len(a.instrs)
	a.emit(Instr{Op: OpLabel, Dst: label})
}

// Len returns the number of emitted instructions
func (a *Assembler) Len() int {
	return len(a.instrs)
}

// Instrs returns a copy of the emitted instructions
func (a *Assembler) Instrs() []Instr {
	return append([]Instr(nil), a.instrs...)
}

// Since returns a copy of the instructions emitted from index start on
func (a *Assembler) Since(start int) []Instr {
	if start >= len(a.instrs) {
		return nil
	}
	return append([]Instr(nil), a.instrs[start:]...)
}

// At returns the instruction at index i
func (a *Assembler) At(i int) Instr {
	return a.instrs[i]
}

// Sealed reports whether Seal has been called
func (a *Assembler) Sealed() bool {
	return a.sealed
}

// Err returns the first misuse recorded during emission
func (a *Assembler) Err() error {
	return a.err
}

// Seal resolves label operands and closes the sequence for emission
func (a *Assembler) Seal() error {
	if a.sealed {
		return ErrSealed
	}
	for i := range a.instrs {
		in := &a.instrs[i]
		if in.Op == OpLabel {
			continue
		}
		label, ok := in.Dst.(Label)
		if !ok {
			continue
		}
		target, ok := a.labels[label]
		if !ok {
			a.fail(fmt.Errorf("undefined label %q", label))
			continue
		}
		in.Target = target
	}
	a.sealed = true
	return a.err
}

// WriteTo writes the listing, one instruction per line
func (a *Assembler) WriteTo(w io.Writer) (int64, error) {
	return a.WriteListing(w, Instr.String)
}

// WriteListing writes the listing with each instruction rendered by render
func (a *Assembler) WriteListing(w io.Writer, render func(Instr) string) (int64, error) {
	var b bytes.Buffer
	for i, in := range a.instrs {
		switch in.Op {
		case OpComment, OpLabel:
			fmt.Fprintf(&b, "%4d  %s\n", i, render(in))
		default:
			fmt.Fprintf(&b, "%4d      %s\n", i, render(in))
		}
	}
	return b.WriteTo(w)
}

// String returns the listing
func (a *Assembler) String() string {
	var b bytes.Buffer
	a.WriteTo(&b)
	return b.String()
}

var ErrSealed = errors.New("code is sealed")
