package machine

import (
	"errors"
	"fmt"
	"sync"

	"blockjit/pkg/asm"
	"blockjit/pkg/stack"
)

// Code is an installable unit of sealed instructions together with the
// table resolving the handles its instructions embed.
type Code interface {
	Name() string
	Instrs() []asm.Instr
	Lookup(h uint64) (any, bool)
}

// RuntimeFunc implements a runtime entry point reached through call.
// Its result is written to the return register.
type RuntimeFunc func(m *Machine) (uint64, error)

// Address space layout. Code addresses encode the installed block in the
// upper bits and the instruction index in the lower ones.
const (
	CodeBase   uint64 = 0x4000_0000
	blockShift        = 16

	// HostReturn is the return address Call leaves on the native stack.
	HostReturn uint64 = 0xdead_0000
)

// ABI names the registers the host uses to pass arguments and receive results.
type ABI struct {
	Args []asm.Reg
	Ret  asm.Reg
}

type region struct {
	name  string
	base  uint64
	words []uint64
}

// Machine executes emitted instructions over simulated registers,
// a native stack and word-addressed memory regions.
type Machine struct {
	abi ABI

	regs  [asm.NumRegs]uint64
	zf    bool
	stack *stack.Stack[uint64]

	mu      sync.RWMutex
	regions []region
	code    []Code
	symbols map[asm.Symbol]RuntimeFunc

	cur    int // index of the executing code block
	ip     int // instruction index inside it
	instrs []asm.Instr

	maxSteps int
	steps    int
}

type Option func(*Machine)

// WithMaxSteps sets a maximum number of executed instructions per Call
func WithMaxSteps(n int) Option {
	return func(m *Machine) { m.maxSteps = n }
}

// New creates a machine using abi for host calls
func New(abi ABI, opts ...Option) *Machine {
	m := &Machine{
		abi:     abi,
		stack:   stack.NewStack[uint64](),
		symbols: make(map[asm.Symbol]RuntimeFunc),
	}
	for _, o := range opts {
		o(m)
	}
	return m
}

// Map makes words addressable at base. The slice is shared, not copied.
func (m *Machine) Map(name string, base uint64, words []uint64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	end := base + uint64(len(words))*8
	for _, r := range m.regions {
		rend := r.base + uint64(len(r.words))*8
		if base < rend && r.base < end {
			return fmt.Errorf("region %s overlaps %s", name, r.name)
		}
	}
	m.regions = append(m.regions, region{name: name, base: base, words: words})
	return nil
}

// Register binds a runtime entry point
func (m *Machine) Register(sym asm.Symbol, fn RuntimeFunc) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.symbols[sym] = fn
}

// Install adds code to the code space and returns its entry address
func (m *Machine) Install(code Code) (uint64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if len(code.Instrs()) >= 1<<blockShift {
		return 0, fmt.Errorf("%s: %d instructions do not fit a block", code.Name(), len(code.Instrs()))
	}
	m.code = append(m.code, code)
	return CodeBase + uint64(len(m.code)-1)<<blockShift, nil
}

// Reg returns the value of register r
func (m *Machine) Reg(r asm.Reg) uint64 {
	return m.regs[r]
}

// SetReg sets register r
func (m *Machine) SetReg(r asm.Reg, v uint64) {
	m.regs[r] = v
}

// Current returns the code block being executed
func (m *Machine) Current() Code {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.code[m.cur]
}

// StackDepth returns the number of words on the native stack
func (m *Machine) StackDepth() int {
	return m.stack.Size()
}

// Steps returns the instructions executed by the last Call
func (m *Machine) Steps() int {
	return m.steps
}

// Load reads the word at addr
func (m *Machine) Load(addr uint64) (uint64, error) {
	w, err := m.word(addr)
	if err != nil {
		return 0, err
	}
	return *w, nil
}

// Store writes the word at addr
func (m *Machine) Store(addr, v uint64) error {
	w, err := m.word(addr)
	if err != nil {
		return err
	}
	*w = v
	return nil
}

func (m *Machine) word(addr uint64) (*uint64, error) {
	if addr%8 != 0 {
		return nil, fmt.Errorf("%w: unaligned address 0x%x", ErrFault, addr)
	}

	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, r := range m.regions {
		if addr >= r.base && addr < r.base+uint64(len(r.words))*8 {
			return &r.words[(addr-r.base)/8], nil
		}
	}
	return nil, fmt.Errorf("%w: unmapped address 0x%x", ErrFault, addr)
}

// Call runs the code at entry with args in the ABI argument registers
// until it returns to the host, and returns the result register.
func (m *Machine) Call(entry uint64, args ...uint64) (uint64, error) {
	if len(args) > len(m.abi.Args) {
		return 0, fmt.Errorf("%d arguments, ABI passes %d", len(args), len(m.abi.Args))
	}
	for i, v := range args {
		m.regs[m.abi.Args[i]] = v
	}

	depth := m.stack.Size()
	m.stack.Push(HostReturn)
	m.steps = 0
	if err := m.jump(entry); err != nil {
		return 0, err
	}

	for {
		done, err := m.Step()
		if err != nil {
			return 0, fmt.Errorf("%s+%d: %w", m.code[m.cur].Name(), m.ip, err)
		}
		if done {
			break
		}
	}

	if m.stack.Size() != depth {
		return 0, fmt.Errorf("%w: %d words left behind", ErrStackImbalance, m.stack.Size()-depth)
	}
	return m.regs[m.abi.Ret], nil
}

// jump transfers control to a code address
func (m *Machine) jump(addr uint64) error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if addr < CodeBase {
		return fmt.Errorf("%w: 0x%x", ErrBadAddress, addr)
	}
	block := int((addr - CodeBase) >> blockShift)
	index := int((addr - CodeBase) & (1<<blockShift - 1))
	if block >= len(m.code) {
		return fmt.Errorf("%w: 0x%x", ErrBadAddress, addr)
	}

	m.cur = block
	m.instrs = m.code[block].Instrs()
	if index >= len(m.instrs) {
		return fmt.Errorf("%w: 0x%x", ErrBadAddress, addr)
	}
	m.ip = index
	return nil
}

var (
	ErrFault          = errors.New("memory fault")
	ErrBadAddress     = errors.New("bad code address")
	ErrMaxSteps       = errors.New("maximum steps exceeded")
	ErrStackImbalance = errors.New("native stack imbalance")
	ErrUnknownSymbol  = errors.New("unknown runtime symbol")
	ErrEmptyStack     = errors.New("pop from empty native stack")
)
