package paging

import (
	"testing"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/pmm"
)

func setup(t *testing.T, npages int) (*cpu.Machine, *pmm.PMM, *Pager) {
	t.Helper()
	m := cpu.NewMachine(npages * mem.PGSIZE)
	p := pmm.Init([]pmm.Region{{Base: 0, Length: uint64(npages * mem.PGSIZE), Type: pmm.Usable}})
	return m, p, New(m, p)
}

func TestMapAndGetPTE(t *testing.T) {
	_, _, pg := setup(t, 4096)
	pml4 := pg.NewPML4()
	va := mem.Va_t(0x400000)
	pa := mem.Pa_t(0x5000)
	flags := mem.PTE_P | mem.PTE_W

	if !pg.MapPage(pml4, va, pa, flags) {
		t.Fatal("MapPage failed")
	}
	pte, ok := pg.GetPTE(pml4, va)
	if !ok {
		t.Fatal("GetPTE should find the mapped page")
	}
	if mem.PteAddr(*pte) != pa {
		t.Fatalf("PTE address = %#x, want %#x", mem.PteAddr(*pte), pa)
	}
	if *pte&flags != flags {
		t.Fatalf("PTE flags missing: %#x does not contain %#x", *pte, flags)
	}
	if *pte&mem.PTE_P == 0 {
		t.Fatal("PTE must be present")
	}
}

func TestGetPTEAbsentIntermediate(t *testing.T) {
	_, _, pg := setup(t, 4096)
	pml4 := pg.NewPML4()
	_, ok := pg.GetPTE(pml4, mem.Va_t(0x123456000))
	if ok {
		t.Fatal("expected absent intermediate table to report not-found")
	}
}

func TestUnmapPage(t *testing.T) {
	_, _, pg := setup(t, 4096)
	pml4 := pg.NewPML4()
	va := mem.Va_t(0x1000)
	pg.MapPage(pml4, va, mem.Pa_t(0x2000), mem.PTE_P|mem.PTE_W)
	if !pg.UnmapPage(pml4, va) {
		t.Fatal("Unmap of a mapped page should succeed")
	}
	pte, ok := pg.GetPTE(pml4, va)
	if !ok {
		t.Fatal("intermediate tables remain after unmap")
	}
	if *pte&mem.PTE_P != 0 {
		t.Fatal("unmapped PTE must not be present")
	}
	if pg.UnmapPage(pml4, va) {
		t.Fatal("double unmap should report false")
	}
}

func TestClonePML4Upper(t *testing.T) {
	_, _, pg := setup(t, 4096)
	kernel := pg.NewPML4()
	ktbl := pg.m.Table(kernel)
	ktbl[300] = mem.Pa_t(0xabc000) | mem.PTE_P

	user := pg.NewPML4()
	pg.ClonePML4Upper(user, kernel)
	utbl := pg.m.Table(user)
	if utbl[300] != ktbl[300] {
		t.Fatal("upper half must be copied verbatim")
	}
	if utbl[10] == ktbl[300] {
		t.Fatal("lower half must remain distinct")
	}
}
