package bytecode

import (
	"fmt"
	"strconv"
)

type Opcode uint8

// List of bytecode instructions
const (
	OpNop Opcode = iota
	OpPutObject
	OpPutNil
	OpPop
	OpDup
	OpPlus
	OpLt
	OpJump
	OpBranchIf
	OpBranchUnless
	OpLeave

	NumOpcodes int = iota
)

type opInfo struct {
	name     string
	operands int
}

var opTable = [NumOpcodes]opInfo{
	OpNop:          {"nop", 0},
	OpPutObject:    {"putobject", 1},
	OpPutNil:       {"putnil", 0},
	OpPop:          {"pop", 0},
	OpDup:          {"dup", 0},
	OpPlus:         {"opt_plus", 0},
	OpLt:           {"opt_lt", 0},
	OpJump:         {"jump", 1},
	OpBranchIf:     {"branchif", 1},
	OpBranchUnless: {"branchunless", 1},
	OpLeave:        {"leave", 0},
}

// String returns the mnemonic of the opcode
func (o Opcode) String() string {
	if int(o) < NumOpcodes {
		return opTable[o].name
	}
	return "op" + strconv.Itoa(int(o))
}

// Len returns the encoded length of the instruction in words, opcode included
func (o Opcode) Len() int {
	return opTable[o].operands + 1
}

// IsBranch reports whether the instruction transfers control to a relative target
func (o Opcode) IsBranch() bool {
	switch o {
	case OpJump, OpBranchIf, OpBranchUnless:
		return true
	}
	return false
}

// LookupOpcode maps a mnemonic to its opcode
func LookupOpcode(name string) (Opcode, error) {
	for i, info := range opTable {
		if info.name == name {
			return Opcode(i), nil
		}
	}
	return 0, fmt.Errorf("%w: %q", ErrUnknownOpcode, name)
}
