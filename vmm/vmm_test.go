package vmm

import (
	"testing"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/pmm"
)

func setup(t *testing.T, npages int) *Manager {
	t.Helper()
	m := cpu.NewMachine(npages * mem.PGSIZE)
	p := pmm.Init([]pmm.Region{{Base: 0, Length: uint64(npages * mem.PGSIZE), Type: pmm.Usable}})
	pg := paging.New(m, p)
	kernel := pg.NewPML4()
	return NewManager(pg, p, kernel)
}

func TestMMMapRangeNonOverlapping(t *testing.T) {
	mgr := setup(t, 512)
	as := mgr.MMAlloc()
	if as == nil {
		t.Fatal("mm_alloc failed")
	}
	if !as.MMMapRange(0x400000, mem.PGSIZE*2, READ|WRITE) {
		t.Fatal("first map should succeed")
	}
	if as.MMMapRange(mem.Va_t(0x400000+mem.PGSIZE), mem.PGSIZE, READ) {
		t.Fatal("overlapping map must fail")
	}
	if !as.MMMapRange(0x500000, mem.PGSIZE, READ|WRITE|STACK) {
		t.Fatal("disjoint map should succeed")
	}
	if len(as.Vmas) != 2 {
		t.Fatalf("expected 2 VMAs, got %d", len(as.Vmas))
	}
}

func TestMMMapRangePermissionBits(t *testing.T) {
	mgr := setup(t, 512)
	as := mgr.MMAlloc()
	as.MMMapRange(0x400000, mem.PGSIZE, READ)
	pte, ok := mgr.pager.GetPTE(as.PML4, 0x400000)
	if !ok {
		t.Fatal("expected present mapping")
	}
	if *pte&mem.PTE_U == 0 {
		t.Fatal("user pages must carry PTE_U")
	}
	if *pte&mem.PTE_W != 0 {
		t.Fatal("read-only VMA must not be writable")
	}
	if *pte&mem.PTE_NX == 0 {
		t.Fatal("non-exec VMA must carry NX")
	}
}

func TestMMFreeUnmapsEverything(t *testing.T) {
	mgr := setup(t, 512)
	as := mgr.MMAlloc()
	as.MMMapRange(0x400000, mem.PGSIZE*3, READ|WRITE)
	as.MMFree()
	for a := mem.Va_t(0x400000); a < mem.Va_t(0x400000+3*mem.PGSIZE); a += mem.Va_t(mem.PGSIZE) {
		if _, ok := mgr.pager.GetPTE(as.PML4, a); ok {
			t.Fatalf("page at %#x should be unmapped after mm_free", a)
		}
	}
}

func TestMMCopyIsIndependent(t *testing.T) {
	mgr := setup(t, 512)
	src := mgr.MMAlloc()
	src.MMMapRange(0x400000, mem.PGSIZE, READ|WRITE)

	srcPte, _ := mgr.pager.GetPTE(src.PML4, 0x400000)
	srcFrame := mem.PteAddr(*srcPte)
	mgr.pager.WriteFrame(srcFrame, []byte{1, 2, 3, 4})

	dst := mgr.MMAlloc()
	if err := mgr.MMCopy(dst, src); err != 0 {
		t.Fatalf("mm_copy failed: %d", err)
	}

	dstPte, ok := mgr.pager.GetPTE(dst.PML4, 0x400000)
	if !ok {
		t.Fatal("copied range should be mapped in dst")
	}
	dstFrame := mem.PteAddr(*dstPte)
	if dstFrame == srcFrame {
		t.Fatal("mm_copy must use a distinct physical frame")
	}
	buf := make([]byte, 4)
	mgr.pager.ReadFrame(dstFrame, buf)
	want := []byte{1, 2, 3, 4}
	for i := range want {
		if buf[i] != want[i] {
			t.Fatalf("copied content mismatch at %d: got %d want %d", i, buf[i], want[i])
		}
	}

	// writes in one must be invisible to the other.
	mgr.pager.WriteFrame(srcFrame, []byte{9, 9, 9, 9})
	mgr.pager.ReadFrame(dstFrame, buf)
	for i := range want {
		if buf[i] != want[i] {
			t.Fatal("dst should not observe writes made to src after mm_copy")
		}
	}
}
