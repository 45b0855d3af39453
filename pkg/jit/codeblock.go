package jit

import (
	"bytes"
	"fmt"
	"io"

	"blockjit/pkg/asm"
	"blockjit/pkg/bytecode"

	"github.com/google/uuid"
)

// CodeBlock is one unit of compiled code: a method entry or a block
// version, together with the objects its instructions refer to.
type CodeBlock struct {
	ID   uuid.UUID
	ISeq *bytecode.ISeq

	PC          int  // bytecode PC the block starts at
	StackOffset int  // stack offset the block was compiled for
	Entry       bool // method entry (carries the prologue)

	Asm  *asm.Assembler
	Pins *PinTable
}

// NewCodeBlock creates an empty code block for iseq at pc
func NewCodeBlock(iseq *bytecode.ISeq, pc int, ctx Context) *CodeBlock {
	return &CodeBlock{
		ID:          uuid.New(),
		ISeq:        iseq,
		PC:          pc,
		StackOffset: ctx.StackOffset,
		Asm:         asm.NewAssembler(),
		Pins:        NewPinTable(),
	}
}

// Name identifies the block in listings
func (cb *CodeBlock) Name() string {
	kind := "block"
	if cb.Entry {
		kind = "entry"
	}
	return fmt.Sprintf("%s %s pc=%d sp%+d", kind, cb.ISeq.Name, cb.PC, cb.StackOffset)
}

// Instrs returns the emitted instructions
func (cb *CodeBlock) Instrs() []asm.Instr {
	return cb.Asm.Instrs()
}

// Lookup resolves a handle embedded in the block's code
func (cb *CodeBlock) Lookup(h uint64) (any, bool) {
	return cb.Pins.Lookup(h)
}

// WriteTo writes the listing of the block with a header line
func (cb *CodeBlock) WriteTo(w io.Writer) (int64, error) {
	return cb.WriteListing(w, asm.Instr.String)
}

// WriteListing is WriteTo with each instruction rendered by render
func (cb *CodeBlock) WriteListing(w io.Writer, render func(asm.Instr) string) (int64, error) {
	var b bytes.Buffer
	fmt.Fprintf(&b, "== %s (%s, %d pinned)\n", cb.Name(), cb.ID, cb.Pins.Len())
	if _, err := cb.Asm.WriteListing(&b, render); err != nil {
		return 0, err
	}
	return b.WriteTo(w)
}
