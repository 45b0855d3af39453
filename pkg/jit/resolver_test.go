package jit

import (
	"errors"
	"strings"
	"testing"

	"blockjit/pkg/bytecode"
)

type fakeInstaller struct {
	installed []*CodeBlock
}

func (f *fakeInstaller) install(cb *CodeBlock) (uint64, error) {
	if !cb.Asm.Sealed() {
		return 0, errors.New("unsealed")
	}
	f.installed = append(f.installed, cb)
	return uint64(0x1000 * len(f.installed)), nil
}

func newTestResolver(t *testing.T) (*Resolver, *fakeInstaller) {
	t.Helper()
	c, err := NewBlockCompiler(SysV, Options{})
	if err != nil {
		t.Fatalf("NewBlockCompiler failed: %v", err)
	}
	f := &fakeInstaller{}
	return NewResolver(c, f.install), f
}

// stubHandle finds the handle of the only stub pinned in cb
func stubHandle(t *testing.T, cb *CodeBlock) uint64 {
	t.Helper()
	var handles []Handle
	cb.Pins.Ascend(func(h Handle, _ any) bool {
		handles = append(handles, h)
		return true
	})
	if len(handles) != 1 {
		t.Fatalf("expected one pinned stub, got %d", len(handles))
	}
	return uint64(handles[0])
}

func TestResolverCompilesEachVersionOnce(t *testing.T) {
	iseq, err := bytecode.Assemble(bytecode.Source{Name: "jumps", Code: []string{
		"putobject 1",
		"jump out",
		"label out",
		"leave",
	}})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	r, f := newTestResolver(t)

	entry, err := r.Entry(iseq)
	if err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	if again, _ := r.Entry(iseq); again != entry {
		t.Errorf("expected the cached entry 0x%x, got 0x%x", entry, again)
	}
	cb := f.installed[0]
	if !cb.Entry {
		t.Errorf("expected the first block to be the entry")
	}
	h := stubHandle(t, cb)

	first, err := r.ResolveBlockStub(cb, h, 1)
	if err != nil {
		t.Fatalf("ResolveBlockStub failed: %v", err)
	}
	second, err := r.ResolveBlockStub(cb, h, 1)
	if err != nil {
		t.Fatalf("ResolveBlockStub failed: %v", err)
	}
	if first != second {
		t.Errorf("expected the same address twice, got 0x%x and 0x%x", first, second)
	}
	if _, err := r.ResolveBlockStub(cb, h, 2); err != nil {
		t.Fatalf("ResolveBlockStub failed: %v", err)
	}

	if len(f.installed) != 3 {
		t.Errorf("expected entry + 2 versions installed, got %d", len(f.installed))
	}
	versions := r.Versions(iseq)
	if len(versions) != 2 || versions[0].StackOffset != 1 || versions[1].StackOffset != 2 {
		t.Errorf("expected versions at offsets 1 and 2, got %d versions", len(versions))
	}
	if len(r.CodeBlocks()) != 3 {
		t.Errorf("expected 3 code blocks, got %d", len(r.CodeBlocks()))
	}
}

func TestResolverBranchTargets(t *testing.T) {
	iseq, err := bytecode.Assemble(bytecode.Source{Name: "branch", Code: []string{
		"putnil",
		"branchunless out",
		"putobject 1",
		"leave",
		"label out",
		"putobject 2",
		"leave",
	}})
	if err != nil {
		t.Fatalf("Assemble failed: %v", err)
	}
	r, f := newTestResolver(t)
	if _, err := r.Entry(iseq); err != nil {
		t.Fatalf("Entry failed: %v", err)
	}
	cb := f.installed[0]
	h := stubHandle(t, cb)

	for _, taken := range []bool{true, false} {
		if _, err := r.ResolveBranchStub(cb, h, 0, taken); err != nil {
			t.Fatalf("ResolveBranchStub(%v) failed: %v", taken, err)
		}
	}

	var starts []int
	for _, v := range r.Versions(iseq) {
		starts = append(starts, v.PC)
	}
	if len(starts) != 2 || starts[0] != 3 || starts[1] != 6 {
		t.Errorf("expected versions at [3 6], got %v", starts)
	}

	if _, err := r.ResolveBlockStub(cb, h, 0); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle for a branch handle, got %v", err)
	}
	if _, err := r.ResolveBranchStub(cb, 42, 0, true); !errors.Is(err, ErrUnknownHandle) {
		t.Errorf("expected ErrUnknownHandle, got %v", err)
	}
}

func TestResolverFallsBackToExit(t *testing.T) {
	// The block at pc 0 runs off the end of the iseq.
	iseq := &bytecode.ISeq{Name: "truncated", Code: []uint64{uint64(bytecode.OpNop)}}
	r, f := newTestResolver(t)

	if _, err := r.resolve(iseq, 0, 1); err != nil {
		t.Fatalf("resolve failed: %v", err)
	}
	if len(f.installed) != 1 {
		t.Fatalf("expected one installed block, got %d", len(f.installed))
	}

	var listing strings.Builder
	for _, in := range f.installed[0].Instrs() {
		listing.WriteString(in.String() + "\n")
	}
	for _, expected := range []string{"side exit at 0000 nop", "add rbx, 8", "mov rax, 36", "ret"} {
		if !strings.Contains(listing.String(), expected) {
			t.Errorf("expected %q in the fallback exit, got:\n%s", expected, listing.String())
		}
	}
}
