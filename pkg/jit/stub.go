package jit

import (
	"fmt"

	"blockjit/pkg/bytecode"
)

// BlockStub stands in for a basic block that has not been compiled yet.
type BlockStub struct {
	iseq *bytecode.ISeq
	pc   int
}

// NewBlockStub creates a stub for the block starting at pc
func NewBlockStub(iseq *bytecode.ISeq, pc int) *BlockStub {
	return &BlockStub{iseq: iseq, pc: pc}
}

func (s *BlockStub) ISeq() *bytecode.ISeq { return s.iseq }
func (s *BlockStub) PC() int              { return s.pc }

// Location renders the target for annotations
func (s *BlockStub) Location() string {
	return fmt.Sprintf("%s pc=%d", s.iseq.Location(), s.pc)
}

// BranchStub stands in for both successors of a conditional branch.
type BranchStub struct {
	iseq    *bytecode.ISeq
	targets [2]int // taken, fallthrough
}

// NewBranchStub creates a stub for a branch with the given successors
func NewBranchStub(iseq *bytecode.ISeq, taken, next int) *BranchStub {
	return &BranchStub{iseq: iseq, targets: [2]int{taken, next}}
}

func (s *BranchStub) ISeq() *bytecode.ISeq { return s.iseq }

// Target returns the successor PC selected by taken
func (s *BranchStub) Target(taken bool) int {
	if taken {
		return s.targets[0]
	}
	return s.targets[1]
}

// Location renders the selected successor for annotations
func (s *BranchStub) Location(taken bool) string {
	return fmt.Sprintf("%s pc=%d", s.iseq.Location(), s.Target(taken))
}
