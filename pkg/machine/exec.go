package machine

import (
	"fmt"

	"blockjit/pkg/asm"
)

// Step executes one instruction, returning true once control returns to the host
func (m *Machine) Step() (bool, error) {
	if m.maxSteps > 0 && m.steps >= m.maxSteps {
		return false, ErrMaxSteps
	}
	if m.ip < 0 || m.ip >= len(m.instrs) {
		return false, fmt.Errorf("%w: fell off the end", ErrBadAddress)
	}

	in := m.instrs[m.ip]
	m.steps++
	m.ip++

	switch in.Op {
	case asm.OpComment, asm.OpLabel:
		return false, nil

	case asm.OpMov:
		v, err := m.read(in.Src)
		if err != nil {
			return false, err
		}
		return false, m.write(in.Dst, v)

	case asm.OpAdd, asm.OpSub:
		a, err := m.read(in.Dst)
		if err != nil {
			return false, err
		}
		b, err := m.read(in.Src)
		if err != nil {
			return false, err
		}
		if in.Op == asm.OpSub {
			b = -b
		}
		return false, m.write(in.Dst, a+b)

	case asm.OpInc:
		a, err := m.read(in.Dst)
		if err != nil {
			return false, err
		}
		return false, m.write(in.Dst, a+1)

	case asm.OpTest, asm.OpCmp:
		a, err := m.read(in.Dst)
		if err != nil {
			return false, err
		}
		b, err := m.read(in.Src)
		if err != nil {
			return false, err
		}
		if in.Op == asm.OpTest {
			m.zf = a&b == 0
		} else {
			m.zf = a == b
		}
		return false, nil

	case asm.OpPush:
		v, err := m.read(in.Dst)
		if err != nil {
			return false, err
		}
		m.stack.Push(v)
		return false, nil

	case asm.OpPop:
		v, ok := m.stack.Pop()
		if !ok {
			return false, ErrEmptyStack
		}
		return false, m.write(in.Dst, v)

	case asm.OpCall:
		sym, ok := in.Dst.(asm.Symbol)
		if !ok {
			return false, fmt.Errorf("call through %s is not supported", in.Dst)
		}
		m.mu.RLock()
		fn, ok := m.symbols[sym]
		m.mu.RUnlock()
		if !ok {
			return false, fmt.Errorf("%w: %s", ErrUnknownSymbol, sym)
		}
		v, err := fn(m)
		if err != nil {
			return false, fmt.Errorf("%s: %w", sym, err)
		}
		m.regs[m.abi.Ret] = v
		return false, nil

	case asm.OpJmp:
		if r, ok := in.Dst.(asm.Reg); ok {
			return false, m.jump(m.regs[r])
		}
		m.ip = in.Target
		return false, nil

	case asm.OpJz, asm.OpJnz:
		if m.zf == (in.Op == asm.OpJz) {
			m.ip = in.Target
		}
		return false, nil

	case asm.OpRet:
		addr, ok := m.stack.Pop()
		if !ok {
			return false, ErrEmptyStack
		}
		if addr == HostReturn {
			return true, nil
		}
		return false, m.jump(addr)
	}

	return false, fmt.Errorf("unsupported instruction %s", in)
}

// read evaluates a source operand
func (m *Machine) read(op asm.Operand) (uint64, error) {
	switch o := op.(type) {
	case asm.Reg:
		return m.regs[o], nil
	case asm.Imm:
		return uint64(o), nil
	case asm.Mem:
		return m.Load(m.regs[o.Base] + uint64(int64(o.Disp)))
	default:
		return 0, fmt.Errorf("cannot read operand %v", op)
	}
}

// write stores v into a destination operand
func (m *Machine) write(op asm.Operand, v uint64) error {
	switch o := op.(type) {
	case asm.Reg:
		m.regs[o] = v
		return nil
	case asm.Mem:
		return m.Store(m.regs[o.Base]+uint64(int64(o.Disp)), v)
	default:
		return fmt.Errorf("cannot write operand %v", op)
	}
}
