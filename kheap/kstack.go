package kheap

import "github.com/sudo666/gokern/mem"

// KStackArenaBase is the fixed virtual base of the kernel-stack arena.
const KStackArenaBase mem.Va_t = 0xFFFFB00000000000

// StackArena hands out guarded kernel stacks from a monotonically
// advancing virtual cursor.
type StackArena struct {
	h      *Heap
	cursor mem.Va_t
}

// NewStackArena returns a StackArena that draws frames through the same
// pager/pmm/pml4 as h.
func NewStackArena(h *Heap) *StackArena {
	return &StackArena{h: h, cursor: KStackArenaBase}
}

// Stack describes one allocated kernel stack: a guard page (left unmapped)
// below size bytes of mapped, usable stack space. Top is the initial stack
// pointer value (one past the last usable byte).
type Stack struct {
	Base mem.Va_t // first byte of the guard page
	Top  mem.Va_t // stack pointer at allocation time
	Size int
}

// KStackInit reserves one guard page (left unmapped), then maps size bytes
// of freshly allocated frames above it, and returns the resulting Stack
// whose Top is the region's top.
func (a *StackArena) KStackInit(size int) (*Stack, bool) {
	size = mem.Pgroundup(size)
	base := a.cursor
	guardEnd := base + mem.Va_t(mem.PGSIZE)

	mapped := 0
	for off := 0; off < size; off += mem.PGSIZE {
		frame := a.h.pmm.AllocPage()
		if frame == 0 {
			a.rollback(guardEnd, mapped)
			return nil, false
		}
		va := guardEnd + mem.Va_t(off)
		if !a.h.pager.MapPage(a.h.pml4, va, frame, mem.PTE_P|mem.PTE_W) {
			a.h.pmm.FreePage(frame)
			a.rollback(guardEnd, mapped)
			return nil, false
		}
		mapped += mem.PGSIZE
	}

	a.cursor = guardEnd + mem.Va_t(size) + mem.Va_t(mem.PGSIZE) // leave a gap guard page between stacks too
	return &Stack{Base: base, Top: guardEnd + mem.Va_t(size), Size: size}, true
}

func (a *StackArena) rollback(dataBase mem.Va_t, mapped int) {
	for off := 0; off < mapped; off += mem.PGSIZE {
		va := dataBase + mem.Va_t(off)
		if pte, ok := a.h.pager.GetPTE(a.h.pml4, va); ok && *pte&mem.PTE_P != 0 {
			pa := mem.PteAddr(*pte)
			a.h.pager.UnmapPage(a.h.pml4, va)
			a.h.pmm.FreePage(pa)
		}
	}
}

// KStackFree walks the stack's data range, unmaps each page, and frees its
// frame.
func (a *StackArena) KStackFree(s *Stack) {
	a.rollback(s.Base+mem.Va_t(mem.PGSIZE), s.Size)
}
