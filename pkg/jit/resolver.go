package jit

import (
	"errors"
	"fmt"
	"sync"

	"blockjit/pkg/bytecode"

	"github.com/charmbracelet/log"
	"github.com/google/btree"
)

// Installer places a sealed code block where it can run and returns its
// entry address.
type Installer func(cb *CodeBlock) (uint64, error)

// PinLookup resolves handles embedded in the code block that made a call.
type PinLookup interface {
	Lookup(h uint64) (any, bool)
}

type version struct {
	pc     int
	offset int
	addr   uint64
	cb     *CodeBlock
}

func versionLess(a, b version) bool {
	if a.pc != b.pc {
		return a.pc < b.pc
	}
	return a.offset < b.offset
}

// Resolver implements the runtime side of the stub trampolines: it
// compiles the block a stub names the first time it is reached and
// returns the same address on every later call.
type Resolver struct {
	compiler *BlockCompiler
	install  Installer

	mu       sync.Mutex
	entries  map[*bytecode.ISeq]version
	versions map[*bytecode.ISeq]*btree.BTreeG[version]
	code     []*CodeBlock
}

// NewResolver creates a resolver compiling with c and installing with install
func NewResolver(c *BlockCompiler, install Installer) *Resolver {
	return &Resolver{
		compiler: c,
		install:  install,
		entries:  make(map[*bytecode.ISeq]version),
		versions: make(map[*bytecode.ISeq]*btree.BTreeG[version]),
	}
}

// Entry returns the address of the compiled entry of iseq, compiling it
// on first use.
func (r *Resolver) Entry(iseq *bytecode.ISeq) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if v, ok := r.entries[iseq]; ok {
		return v.addr, nil
	}

	cb, err := r.compiler.CompileEntry(iseq)
	if err != nil {
		return 0, err
	}
	addr, err := r.installLocked(cb)
	if err != nil {
		return 0, err
	}

	r.entries[iseq] = version{addr: addr, cb: cb}
	return addr, nil
}

// ResolveBlockStub returns the address of the block a BlockStub names,
// compiling it for the given stack offset if needed.
func (r *Resolver) ResolveBlockStub(pins PinLookup, handle uint64, offset int) (uint64, error) {
	v, ok := pins.Lookup(handle)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%x", ErrUnknownHandle, handle)
	}
	stub, ok := v.(*BlockStub)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%x is a %T", ErrUnknownHandle, handle, v)
	}

	return r.resolve(stub.iseq, stub.pc, offset)
}

// ResolveBranchStub returns the address of the successor a BranchStub
// names, selected by taken.
func (r *Resolver) ResolveBranchStub(pins PinLookup, handle uint64, offset int, taken bool) (uint64, error) {
	v, ok := pins.Lookup(handle)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%x", ErrUnknownHandle, handle)
	}
	stub, ok := v.(*BranchStub)
	if !ok {
		return 0, fmt.Errorf("%w: 0x%x is a %T", ErrUnknownHandle, handle, v)
	}

	return r.resolve(stub.iseq, stub.Target(taken), offset)
}

func (r *Resolver) resolve(iseq *bytecode.ISeq, pc, offset int) (uint64, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	tree, ok := r.versions[iseq]
	if !ok {
		tree = btree.NewG[version](8, versionLess)
		r.versions[iseq] = tree
	}
	if v, ok := tree.Get(version{pc: pc, offset: offset}); ok {
		return v.addr, nil
	}

	ctx := Context{StackOffset: offset}
	cb, err := r.compiler.CompileBlock(iseq, pc, ctx)
	if err != nil {
		// The trampoline still needs somewhere safe to go.
		log.Warn("Block compilation failed, exiting to interpreter", "iseq", iseq.Location(), "pc", pc, "offset", offset, "error", err)
		cb, err = r.compiler.CompileExit(iseq, pc, ctx)
		if err != nil {
			return 0, err
		}
	}

	addr, err := r.installLocked(cb)
	if err != nil {
		return 0, err
	}

	tree.ReplaceOrInsert(version{pc: pc, offset: offset, addr: addr, cb: cb})
	return addr, nil
}

func (r *Resolver) installLocked(cb *CodeBlock) (uint64, error) {
	addr, err := r.install(cb)
	if err != nil {
		return 0, fmt.Errorf("install %s: %w", cb.Name(), err)
	}
	r.code = append(r.code, cb)
	return addr, nil
}

// Versions returns the compiled block versions of iseq in PC order
func (r *Resolver) Versions(iseq *bytecode.ISeq) []*CodeBlock {
	r.mu.Lock()
	defer r.mu.Unlock()

	tree, ok := r.versions[iseq]
	if !ok {
		return nil
	}
	out := make([]*CodeBlock, 0, tree.Len())
	tree.Ascend(func(v version) bool {
		out = append(out, v.cb)
		return true
	})
	return out
}

// CodeBlocks returns every installed code block in installation order
func (r *Resolver) CodeBlocks() []*CodeBlock {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]*CodeBlock(nil), r.code...)
}

var ErrUnknownHandle = errors.New("unknown stub handle")
