package jit

import (
	"fmt"

	"blockjit/pkg/asm"
	"blockjit/pkg/bytecode"

	"github.com/charmbracelet/log"
)

// BlockCompiler translates one basic block at a time. It compiles the
// stack-shuffling instructions inline and hands everything else to the
// interpreter through side exits; control flow ends the block with stubs.
type BlockCompiler struct {
	cc   CallingConvention
	opts Options
}

// NewBlockCompiler creates a block compiler
func NewBlockCompiler(cc CallingConvention, opts Options) (*BlockCompiler, error) {
	if err := cc.Validate(); err != nil {
		return nil, err
	}
	return &BlockCompiler{cc: cc, opts: opts}, nil
}

// Convention returns the calling convention compiled code follows
func (c *BlockCompiler) Convention() CallingConvention {
	return c.cc
}

// CompileEntry compiles the method entry: the prologue followed by the
// first block. An invalidated iseq gets an entry exit instead.
func (c *BlockCompiler) CompileEntry(iseq *bytecode.ISeq) (*CodeBlock, error) {
	cb := NewCodeBlock(iseq, 0, Context{})
	cb.Entry = true
	x := NewExitCompiler(cb, c.cc, c.opts)

	c.cc.EmitPrologue(cb.Asm)

	var err error
	if iseq.Invalidated {
		err = x.EntryExit(0, CauseInvalidated)
	} else {
		err = c.compileBlock(cb, x, 0, Context{})
	}
	if err != nil {
		return nil, fmt.Errorf("compile entry of %s: %w", iseq.Location(), err)
	}

	return c.seal(cb)
}

// CompileBlock compiles the block version starting at pc with ctx
func (c *BlockCompiler) CompileBlock(iseq *bytecode.ISeq, pc int, ctx Context) (*CodeBlock, error) {
	cb := NewCodeBlock(iseq, pc, ctx)
	x := NewExitCompiler(cb, c.cc, c.opts)

	if err := c.compileBlock(cb, x, pc, ctx); err != nil {
		return nil, fmt.Errorf("compile block %s pc=%d: %w", iseq.Location(), pc, err)
	}

	return c.seal(cb)
}

// CompileExit compiles a block that only leaves for the interpreter at
// pc. The resolver falls back to it when a block cannot be compiled.
func (c *BlockCompiler) CompileExit(iseq *bytecode.ISeq, pc int, ctx Context) (*CodeBlock, error) {
	cb := NewCodeBlock(iseq, pc, ctx)
	x := NewExitCompiler(cb, c.cc, c.opts)

	if err := x.SideExit(pc, ctx); err != nil {
		return nil, fmt.Errorf("compile exit %s pc=%d: %w", iseq.Location(), pc, err)
	}

	return c.seal(cb)
}

func (c *BlockCompiler) seal(cb *CodeBlock) (*CodeBlock, error) {
	if err := cb.Asm.Seal(); err != nil {
		return nil, fmt.Errorf("seal %s: %w", cb.Name(), err)
	}

	log.Debug("Compiled", "block", cb.Name(), "instrs", cb.Asm.Len(), "pinned", cb.Pins.Len())
	return cb, nil
}

func (c *BlockCompiler) compileBlock(cb *CodeBlock, x *ExitCompiler, pc int, ctx Context) error {
	a := cb.Asm
	cc := c.cc

	for {
		in, err := cb.ISeq.Decode(pc)
		if err != nil {
			return err
		}
		a.Comment("%s", in)

		switch in.Op {
		case bytecode.OpNop:

		case bytecode.OpPutObject, bytecode.OpPutNil:
			v := bytecode.Qnil
			if in.Op == bytecode.OpPutObject {
				v = in.Operands[0]
			}
			a.Mov(cc.RetReg, asm.Imm(v))
			a.Mov(ctx.Slot(cc, -1), cc.RetReg)
			ctx.Push(1)

		case bytecode.OpPop:
			ctx.Pop(1)

		case bytecode.OpDup:
			a.Mov(cc.RetReg, ctx.Slot(cc, 0))
			a.Mov(ctx.Slot(cc, -1), cc.RetReg)
			ctx.Push(1)

		case bytecode.OpJump:
			return x.BlockStub(ctx, NewBlockStub(cb.ISeq, in.Target()))

		case bytecode.OpBranchIf, bytecode.OpBranchUnless:
			stub := NewBranchStub(cb.ISeq, in.Target(), in.Next())
			state := JITState{ISeq: cb.ISeq, PC: pc}
			taken := asm.Label(fmt.Sprintf("taken_%d", pc))

			a.Mov(cc.RetReg, ctx.Slot(cc, 0))
			ctx.Pop(1)
			a.Test(cc.RetReg, asm.Imm(^int64(bytecode.Qnil)))
			if in.Op == bytecode.OpBranchIf {
				a.Jnz(taken)
			} else {
				a.Jz(taken)
			}

			if err := x.BranchStub(state, ctx, stub, false); err != nil {
				return err
			}
			a.Bind(taken)
			return x.BranchStub(state, ctx, stub, true)

		case bytecode.OpLeave:
			a.Mov(cc.RetReg, ctx.Slot(cc, 0))
			return x.LeaveExit()

		default:
			return x.SideExit(pc, ctx)
		}

		pc = in.Next()
	}
}
