package jit

import (
	"errors"
	"fmt"

	"blockjit/pkg/asm"
	"blockjit/pkg/bytecode"
)

// Runtime entry points the stub trampolines call. Both take the pinned
// stub handle and the stack offset and return the address to jump to.
const (
	ResolveBlockStub  asm.Symbol = "resolve_block_stub"
	ResolveBranchStub asm.Symbol = "resolve_branch_stub"
)

// ExitCause says why control goes back to the interpreter. It only
// shows up in annotations.
type ExitCause int

const (
	CauseInvalidated ExitCause = iota
	CauseLeave
	CauseSideExit
)

func (c ExitCause) String() string {
	switch c {
	case CauseInvalidated:
		return "invalidated"
	case CauseLeave:
		return "leave"
	case CauseSideExit:
		return "side exit"
	default:
		return fmt.Sprintf("cause(%d)", int(c))
	}
}

// Options configures exit generation.
type Options struct {
	CollectStats bool   // emit per-instruction exit counters
	StatsAddr    uint64 // address of the ExitStats counter table
}

// JITState is the compilation position of the instruction being compiled.
type JITState struct {
	ISeq *bytecode.ISeq
	PC   int
}

func (s JITState) String() string {
	return fmt.Sprintf("%s pc=%d", s.ISeq.Location(), s.PC)
}

// ExitCompiler emits the code paths that leave compiled code: returns to
// the interpreter and trampolines into the lazy block compiler.
type ExitCompiler struct {
	cb   *CodeBlock
	cc   CallingConvention
	opts Options
}

// NewExitCompiler creates an exit compiler emitting into cb
func NewExitCompiler(cb *CodeBlock, cc CallingConvention, opts Options) *ExitCompiler {
	return &ExitCompiler{cb: cb, cc: cc, opts: opts}
}

func (x *ExitCompiler) code() *asm.Assembler {
	return x.cb.Asm
}

// EntryExit returns to the interpreter before the method has touched any
// interpreter state, so nothing is reconciled.
func (x *ExitCompiler) EntryExit(pc int, cause ExitCause) error {
	in, err := x.prepare(pc)
	if err != nil {
		return err
	}

	a := x.code()
	a.Comment("%s exit at %s", cause, in)
	x.countExit(in)
	x.cc.EmitRestore(a)
	a.Mov(x.cc.RetReg, asm.Imm(bytecode.Qundef))
	a.Ret()
	return nil
}

// LeaveExit returns from the method with the value already in RetReg.
func (x *ExitCompiler) LeaveExit() error {
	if err := x.check(); err != nil {
		return err
	}

	a := x.code()
	a.Comment("%s exit", CauseLeave)
	x.cc.EmitRestore(a)
	a.Ret()
	return nil
}

// SideExit abandons compiled code at pc and resumes in the interpreter
// there. ctx is passed by value; the caller's context is left untouched.
func (x *ExitCompiler) SideExit(pc int, ctx Context) error {
	in, err := x.prepare(pc)
	if err != nil {
		return err
	}

	a := x.code()
	a.Comment("%s at %s", CauseSideExit, in)
	x.countExit(in)
	snapshot := ctx.Dup()
	x.reconcile(pc, &snapshot)
	x.cc.EmitRestore(a)
	a.Mov(x.cc.RetReg, asm.Imm(bytecode.Qundef))
	a.Ret()
	return nil
}

// BlockStub emits a trampoline that compiles the stub's block on first
// use and jumps to it.
func (x *ExitCompiler) BlockStub(ctx Context, stub *BlockStub) error {
	if err := x.checkStub(stub.iseqOrNil()); err != nil {
		return err
	}
	if _, err := x.prepare(stub.pc); err != nil {
		return err
	}

	a := x.code()
	h := x.cb.Pins.Pin(stub)
	a.Comment("block stub to %s", stub.Location())
	a.Mov(x.cc.Arg(0), asm.Imm(h))
	a.Mov(x.cc.Arg(1), asm.Imm(ctx.StackOffset))
	a.Call(ResolveBlockStub)
	a.JmpReg(x.cc.RetReg)
	return nil
}

// BranchStub emits a trampoline for one successor of a conditional
// branch; taken selects which.
func (x *ExitCompiler) BranchStub(state JITState, ctx Context, stub *BranchStub, taken bool) error {
	if err := x.checkStub(stub.iseqOrNil()); err != nil {
		return err
	}
	if _, err := x.prepare(stub.Target(taken)); err != nil {
		return err
	}

	discriminator := asm.Imm(0)
	if taken {
		discriminator = 1
	}

	a := x.code()
	h := x.cb.Pins.Pin(stub)
	a.Comment("branch stub from %s to %s", state, stub.Location(taken))
	a.Mov(x.cc.Arg(0), asm.Imm(h))
	a.Mov(x.cc.Arg(1), asm.Imm(ctx.StackOffset))
	a.Mov(x.cc.Arg(2), discriminator)
	a.Call(ResolveBranchStub)
	a.JmpReg(x.cc.RetReg)
	return nil
}

// reconcile writes the compiled code's view of PC and SP into the
// interpreter's control frame and leaves ctx in sync.
func (x *ExitCompiler) reconcile(pc int, ctx *Context) {
	a := x.code()
	if ctx.StackOffset != 0 {
		a.Comment("save PC and SP to CFP")
	} else {
		a.Comment("save PC to CFP")
	}
	a.Mov(x.cc.FramePC(), asm.Imm(pc))

	if ctx.StackOffset != 0 {
		a.Add(x.cc.SP, asm.Imm(ctx.StackOffset*x.cc.SlotSize))
		a.Mov(x.cc.FrameSP(), x.cc.SP)
		ctx.StackOffset = 0
	}
}

// countExit bumps the exit counter of in. The increment is a plain
// read-modify-write.
func (x *ExitCompiler) countExit(in bytecode.Insn) {
	if !x.opts.CollectStats {
		return
	}

	a := x.code()
	a.Mov(x.cc.Scratch, asm.Imm(x.opts.StatsAddr))
	a.Inc(asm.At(x.cc.Scratch).WithDisp(int32(in.ID() * 8)))
}

func (x *ExitCompiler) check() error {
	if x.cb.Asm.Sealed() {
		return fmt.Errorf("%w: %s", ErrSealed, x.cb.Name())
	}
	return nil
}

// prepare checks the code block is open and decodes the instruction at pc.
func (x *ExitCompiler) prepare(pc int) (bytecode.Insn, error) {
	if err := x.check(); err != nil {
		return bytecode.Insn{}, err
	}
	in, err := x.cb.ISeq.Decode(pc)
	if err != nil {
		return bytecode.Insn{}, fmt.Errorf("%w: %w", ErrBadPC, err)
	}
	return in, nil
}

func (x *ExitCompiler) checkStub(iseq *bytecode.ISeq) error {
	if iseq == nil {
		return ErrNilStub
	}
	if iseq != x.cb.ISeq {
		return fmt.Errorf("%w: stub for %s in code for %s", ErrForeignStub, iseq.Name, x.cb.ISeq.Name)
	}
	return nil
}

func (s *BlockStub) iseqOrNil() *bytecode.ISeq {
	if s == nil {
		return nil
	}
	return s.iseq
}

func (s *BranchStub) iseqOrNil() *bytecode.ISeq {
	if s == nil {
		return nil
	}
	return s.iseq
}

var (
	ErrSealed      = errors.New("code block is sealed")
	ErrBadPC       = errors.New("bad exit pc")
	ErrNilStub     = errors.New("nil stub")
	ErrForeignStub = errors.New("stub belongs to another iseq")
	ErrConvention  = errors.New("invalid calling convention")
)
