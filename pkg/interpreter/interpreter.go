package interpreter

import (
	"errors"
	"fmt"
	"io"

	"blockjit/pkg/bytecode"
	"blockjit/pkg/jit"
	"blockjit/pkg/machine"

	"github.com/charmbracelet/log"
)

// Memory layout shared by the interpreter and compiled code
const (
	ECBase    uint64 = 0x0001_0000
	FrameBase uint64 = 0x0002_0000
	StatsBase uint64 = 0x0008_0000
	StackBase uint64 = 0x0010_0000

	maxFrames = 64
)

// Interpreter executes bytecode and, when the JIT is enabled, hands
// methods to compiled code that runs on the simulated machine. Both sides
// share the control frames and the VM stack in machine memory.
type Interpreter struct {
	m  *machine.Machine
	cc jit.CallingConvention

	jitEnabled    bool
	jitOpts       jit.Options
	callThreshold int
	compiler      *jit.BlockCompiler
	resolver      *jit.Resolver
	stats         *jit.ExitStats

	ec       []uint64 // execution context; word 0 is the current frame
	frameMem []uint64
	stackMem []uint64
	frames   []*Frame

	calls map[*bytecode.ISeq]int

	trace io.Writer // disassembly of interpreted instructions, if set

	maxSteps int    // maximum steps (0 = unlimited)
	steps    int    // steps executed
	result   uint64 // value of the last leave
}

type Option func(*Interpreter)

// WithJIT enables compiled execution of methods
func WithJIT(enabled bool) Option {
	return func(i *Interpreter) { i.jitEnabled = enabled }
}

// WithExitStats makes compiled code count its exits per instruction
func WithExitStats(enabled bool) Option {
	return func(i *Interpreter) { i.jitOpts.CollectStats = enabled }
}

// WithCallThreshold sets how many calls a method takes before it is compiled
func WithCallThreshold(n int) Option {
	return func(i *Interpreter) { i.callThreshold = n }
}

// WithStackSlots sets the size of the VM stack
func WithStackSlots(n int) Option {
	return func(i *Interpreter) { i.stackMem = make([]uint64, n) }
}

// WithMaxSteps bounds both interpreter steps and machine instructions per call
func WithMaxSteps(n int) Option {
	return func(i *Interpreter) { i.maxSteps = n }
}

// WithTrace writes every interpreted instruction to w
func WithTrace(w io.Writer) Option {
	return func(i *Interpreter) { i.trace = w }
}

// WithConvention overrides the calling convention compiled code follows
func WithConvention(cc jit.CallingConvention) Option {
	return func(i *Interpreter) { i.cc = cc }
}

// NewInterpreter creates a new Interpreter instance
func NewInterpreter(opts ...Option) (*Interpreter, error) {
	it := &Interpreter{
		cc:            jit.SysV,
		callThreshold: 1,
		stats:         &jit.ExitStats{},
		ec:            make([]uint64, 2),
		frameMem:      make([]uint64, maxFrames*frameWords),
		stackMem:      make([]uint64, 1024),
		calls:         make(map[*bytecode.ISeq]int),
	}
	for _, o := range opts {
		o(it)
	}

	if err := it.cc.Validate(); err != nil {
		return nil, err
	}
	if int(it.cc.FramePCOffset) >= frameWords*8 || int(it.cc.FrameSPOffset) >= frameWords*8 {
		return nil, fmt.Errorf("%w: frame fields outside a %d byte frame", jit.ErrConvention, frameWords*8)
	}
	it.jitOpts.StatsAddr = StatsBase

	it.m = machine.New(machine.ABI{Args: it.cc.ArgRegs, Ret: it.cc.RetReg}, machine.WithMaxSteps(it.maxSteps))
	for _, r := range []struct {
		name  string
		base  uint64
		words []uint64
	}{
		{"ec", ECBase, it.ec},
		{"frames", FrameBase, it.frameMem},
		{"stats", StatsBase, it.stats.Counters()},
		{"stack", StackBase, it.stackMem},
	} {
		if err := it.m.Map(r.name, r.base, r.words); err != nil {
			return nil, err
		}
	}

	compiler, err := jit.NewBlockCompiler(it.cc, it.jitOpts)
	if err != nil {
		return nil, err
	}
	it.compiler = compiler
	it.resolver = jit.NewResolver(compiler, func(cb *jit.CodeBlock) (uint64, error) {
		return it.m.Install(cb)
	})
	it.registerRuntime()

	return it, nil
}

// registerRuntime binds the stub resolution entry points
func (i *Interpreter) registerRuntime() {
	cc := i.cc
	i.m.Register(jit.ResolveBlockStub, func(m *machine.Machine) (uint64, error) {
		return i.resolver.ResolveBlockStub(m.Current(), m.Reg(cc.Arg(0)), int(int64(m.Reg(cc.Arg(1)))))
	})
	i.m.Register(jit.ResolveBranchStub, func(m *machine.Machine) (uint64, error) {
		return i.resolver.ResolveBranchStub(m.Current(), m.Reg(cc.Arg(0)), int(int64(m.Reg(cc.Arg(1)))), m.Reg(cc.Arg(2)) != 0)
	})
}

// Machine returns the machine compiled code runs on
func (i *Interpreter) Machine() *machine.Machine {
	return i.m
}

// Resolver returns the resolver holding every compiled code block
func (i *Interpreter) Resolver() *jit.Resolver {
	return i.resolver
}

// ExitStats returns the exit counters
func (i *Interpreter) ExitStats() *jit.ExitStats {
	return i.stats
}

// Invoke runs iseq to completion and returns the value it leaves with
func (i *Interpreter) Invoke(iseq *bytecode.ISeq) (uint64, error) {
	if _, err := i.PushFrame(iseq); err != nil {
		return 0, err
	}
	defer i.PopFrame()

	i.calls[iseq]++
	if i.jitEnabled && i.calls[iseq] >= i.callThreshold {
		v, err := i.EnterCompiled()
		if err != nil {
			return 0, err
		}
		if v != bytecode.Qundef {
			return v, nil
		}
		pc, _ := i.PC()
		log.Debug("Resuming in interpreter", "iseq", iseq.Location(), "pc", pc, "depth", i.Depth())
	}

	for {
		halted, err := i.Step()
		if err != nil {
			return 0, err
		}
		if halted {
			return i.result, nil
		}
	}
}

// EnterCompiled runs the compiled entry of the current frame's iseq. A
// Qundef result means compiled code left the method unfinished and the
// frame holds the PC and SP to resume interpreting from.
func (i *Interpreter) EnterCompiled() (uint64, error) {
	f := i.currentFrame()
	if f == nil {
		return 0, ErrNoFrame
	}

	entry, err := i.resolver.Entry(f.ISeq)
	if err != nil {
		return 0, err
	}
	i.ec[0] = f.Addr

	v, err := i.m.Call(entry, ECBase, f.Addr)
	if err != nil {
		return 0, fmt.Errorf("compiled %s: %w", f.ISeq.Location(), err)
	}
	return v, nil
}

// Step executes a single instruction, returning (halted, error)
func (i *Interpreter) Step() (bool, error) {
	if i.maxSteps > 0 && i.steps >= i.maxSteps {
		return false, ErrMaxStepsExceeded
	}

	halted, err := coreStep(i)
	i.steps++

	return halted, err
}

// currentFrame returns the current call frame, or nil if none
func (i *Interpreter) currentFrame() *Frame {
	if len(i.frames) == 0 {
		return nil
	}

	return i.frames[len(i.frames)-1]
}

// Depth returns the number of active frames
func (i *Interpreter) Depth() int {
	return len(i.frames)
}

// PushFrame pushes a control frame for iseq with an empty stack above the caller's
func (i *Interpreter) PushFrame(iseq *bytecode.ISeq) (*Frame, error) {
	if len(i.frames) >= maxFrames {
		return nil, ErrFrameOverflow
	}

	base := StackBase
	if f := i.currentFrame(); f != nil {
		sp, err := i.SP()
		if err != nil {
			return nil, err
		}
		base = sp
	}

	frame := &Frame{
		ISeq: iseq,
		Addr: FrameBase + uint64(len(i.frames)*frameWords*8),
		Base: base,
	}
	i.frames = append(i.frames, frame)

	if err := i.SetPC(0); err != nil {
		return nil, err
	}
	if err := i.SetSP(base); err != nil {
		return nil, err
	}
	return frame, nil
}

// PopFrame pops the current call frame
func (i *Interpreter) PopFrame() *Frame {
	if len(i.frames) == 0 {
		return nil
	}

	f := i.frames[len(i.frames)-1]
	i.frames = i.frames[:len(i.frames)-1]
	return f
}

// PC returns the program counter stored in the current control frame
func (i *Interpreter) PC() (int, error) {
	v, err := i.frameField(i.cc.FramePCOffset)
	return int(v), err
}

// SetPC stores pc in the current control frame
func (i *Interpreter) SetPC(pc int) error {
	return i.setFrameField(i.cc.FramePCOffset, uint64(pc))
}

// SP returns the stack pointer stored in the current control frame
func (i *Interpreter) SP() (uint64, error) {
	return i.frameField(i.cc.FrameSPOffset)
}

// SetSP stores sp in the current control frame
func (i *Interpreter) SetSP(sp uint64) error {
	return i.setFrameField(i.cc.FrameSPOffset, sp)
}

func (i *Interpreter) frameField(off int32) (uint64, error) {
	f := i.currentFrame()
	if f == nil {
		return 0, ErrNoFrame
	}
	return i.m.Load(f.Addr + uint64(off))
}

func (i *Interpreter) setFrameField(off int32, v uint64) error {
	f := i.currentFrame()
	if f == nil {
		return ErrNoFrame
	}
	return i.m.Store(f.Addr+uint64(off), v)
}

// Stack returns the values on the current frame's stack, bottom first
func (i *Interpreter) Stack() ([]uint64, error) {
	f := i.currentFrame()
	if f == nil {
		return nil, ErrNoFrame
	}
	sp, err := i.SP()
	if err != nil {
		return nil, err
	}

	var out []uint64
	for addr := f.Base; addr < sp; addr += 8 {
		v, err := i.m.Load(addr)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

var (
	ErrMaxStepsExceeded = errors.New("maximum steps exceeded")
	ErrNoFrame          = errors.New("no active frame")
	ErrFrameOverflow    = errors.New("too many frames")
	ErrStackOverflow    = errors.New("stack overflow")
	ErrStackUnderflow   = errors.New("stack underflow")
	ErrType             = errors.New("type error")
)
