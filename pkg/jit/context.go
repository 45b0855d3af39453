package jit

import "blockjit/pkg/asm"

// Context is the compile-time state of the block being compiled. It is a
// value type: exit paths receive copies so they never disturb the
// caller's live context.
type Context struct {
	// StackOffset counts the slots the SP register runs ahead of the SP
	// field in the interpreter's control frame. Zero means in sync.
	StackOffset int
}

// Dup returns an independent snapshot of the context
func (c Context) Dup() Context {
	return c
}

// Synced reports whether the interpreter frame agrees with the SP register
func (c Context) Synced() bool {
	return c.StackOffset == 0
}

// Push records n values pushed onto the VM stack
func (c *Context) Push(n int) {
	c.StackOffset += n
}

// Pop records n values popped off the VM stack
func (c *Context) Pop(n int) {
	c.StackOffset -= n
}

// Slot returns the memory operand of the VM stack slot n places below
// the top. Slot(cc, -1) is the first free slot.
func (c Context) Slot(cc CallingConvention, n int) asm.Mem {
	return asm.At(cc.SP).WithDisp(int32((c.StackOffset - 1 - n) * cc.SlotSize))
}
