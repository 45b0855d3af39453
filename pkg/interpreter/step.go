package interpreter

import (
	"fmt"

	"blockjit/pkg/bytecode"
)

// Exec runs iseq in a fresh interpreter without the JIT
func Exec(iseq *bytecode.ISeq) (uint64, error) {
	it, err := NewInterpreter()
	if err != nil {
		return 0, err
	}
	return it.Invoke(iseq)
}

// coreStep is the main single-step execution function
// it returns (halted, error).
func coreStep(i *Interpreter) (bool, error) {
	f := i.currentFrame()
	if f == nil {
		return true, nil
	}

	pc, err := i.PC()
	if err != nil {
		return false, err
	}
	in, err := f.ISeq.Decode(pc)
	if err != nil {
		return false, err
	}
	if i.trace != nil {
		fmt.Fprintln(i.trace, in)
	}

	next := in.Next()

	switch in.Op {
	case bytecode.OpNop:

	case bytecode.OpPutObject:
		err = i.push(in.Operands[0])

	case bytecode.OpPutNil:
		err = i.push(bytecode.Qnil)

	case bytecode.OpPop:
		_, err = i.pop()

	case bytecode.OpDup:
		var v uint64
		if v, err = i.top(); err == nil {
			err = i.push(v)
		}

	case bytecode.OpPlus, bytecode.OpLt:
		var a, b uint64
		if b, err = i.pop(); err != nil {
			return false, err
		}
		if a, err = i.pop(); err != nil {
			return false, err
		}
		if !bytecode.IsFix(a) || !bytecode.IsFix(b) {
			return false, fmt.Errorf("%w: %s on %s and %s", ErrType, in.Op, bytecode.Inspect(a), bytecode.Inspect(b))
		}
		if in.Op == bytecode.OpPlus {
			err = i.push(bytecode.Fix(bytecode.FixValue(a) + bytecode.FixValue(b)))
		} else {
			err = i.push(bytecode.Bool(bytecode.FixValue(a) < bytecode.FixValue(b)))
		}

	case bytecode.OpJump:
		next = in.Target()

	case bytecode.OpBranchIf, bytecode.OpBranchUnless:
		var v uint64
		if v, err = i.pop(); err != nil {
			return false, err
		}
		if bytecode.Truthy(v) == (in.Op == bytecode.OpBranchIf) {
			next = in.Target()
		}

	case bytecode.OpLeave:
		v, err := i.pop()
		if err != nil {
			return false, err
		}
		i.result = v
		return true, nil

	default:
		return false, fmt.Errorf("%w: %s", bytecode.ErrUnknownOpcode, in.Op)
	}

	if err != nil {
		return false, fmt.Errorf("%s: %w", in, err)
	}
	return false, i.SetPC(next)
}

// push stores v at SP and advances SP
func (i *Interpreter) push(v uint64) error {
	sp, err := i.SP()
	if err != nil {
		return err
	}
	if sp >= StackBase+uint64(len(i.stackMem))*8 {
		return ErrStackOverflow
	}
	if err := i.m.Store(sp, v); err != nil {
		return err
	}
	return i.SetSP(sp + 8)
}

// pop removes and returns the top of the frame's stack
func (i *Interpreter) pop() (uint64, error) {
	v, err := i.top()
	if err != nil {
		return 0, err
	}
	sp, _ := i.SP()
	return v, i.SetSP(sp - 8)
}

// top returns the top of the frame's stack
func (i *Interpreter) top() (uint64, error) {
	sp, err := i.SP()
	if err != nil {
		return 0, err
	}
	if sp <= i.currentFrame().Base {
		return 0, ErrStackUnderflow
	}
	return i.m.Load(sp - 8)
}
