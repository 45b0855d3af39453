package interpreter

import "blockjit/pkg/bytecode"

// Frame represents a method activation. Its PC and SP live in machine
// memory at Addr so that compiled code can update them.
type Frame struct {
	ISeq *bytecode.ISeq
	Addr uint64 // control frame address
	Base uint64 // VM stack address of the frame's first slot
}

// frameWords is the size of a control frame in memory
const frameWords = 4
