// Package paging implements the four-level x86_64 page table walk:
// mapping and unmapping virtual pages, walking to a leaf PTE, and
// building the kernel's own page table at boot (mapping the kernel image,
// then every usable/reclaimable/module/framebuffer region into the HHDM
// window). Table indexing goes through cpu.Machine's direct frame
// pointers rather than a CR3-recursive mapping slot.
package paging

import (
	"log"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/pmm"
)

// Pager walks and builds page tables against a Machine's simulated physical
// memory, drawing intermediate-table frames from a PMM.
type Pager struct {
	m   *cpu.Machine
	pmm *pmm.PMM
}

// New returns a Pager backed by m and p.
func New(m *cpu.Machine, p *pmm.PMM) *Pager {
	return &Pager{m: m, pmm: p}
}

// NewPML4 allocates and zeroes a fresh top-level table, returning its
// physical frame address, or 0 on OOM.
func (pg *Pager) NewPML4() mem.Pa_t {
	frame := pg.pmm.AllocPage()
	if frame == 0 {
		return 0
	}
	pg.m.ZeroPhys(frame, mem.PGSIZE)
	return frame
}

// walk finds the leaf PTE for va within pml4. If alloc is true, missing
// intermediate tables are created (allocated, zeroed, linked with
// PTE_P|PTE_W, plus PTE_U when the caller's leaf flags are user-accessible).
// It returns nil if an intermediate table is absent and alloc is false.
func (pg *Pager) walk(pml4 mem.Pa_t, va mem.Va_t, alloc bool, userTree bool) *mem.Pa_t {
	l4, l3, l2, l1 := mem.PageIndices(va)
	levels := []int{l4, l3, l2}
	table := pml4
	for _, idx := range levels {
		entry := pg.m.PTEAt(table, idx)
		if *entry&mem.PTE_P == 0 {
			if !alloc {
				return nil
			}
			frame := pg.pmm.AllocPage()
			if frame == 0 {
				return nil
			}
			pg.m.ZeroPhys(frame, mem.PGSIZE)
			flags := mem.PTE_P | mem.PTE_W
			if userTree {
				flags |= mem.PTE_U
			}
			*entry = frame | flags
		}
		table = mem.PteAddr(*entry)
	}
	return pg.m.PTEAt(table, l1)
}

// MapPage walks or creates each intermediate table, sets the leaf PTE to
// pa|flags|Present, and invalidates the TLB entry for va.
func (pg *Pager) MapPage(pml4 mem.Pa_t, va mem.Va_t, pa mem.Pa_t, flags mem.Pa_t) bool {
	userTree := flags&mem.PTE_U != 0
	pte := pg.walk(pml4, va, true, userTree)
	if pte == nil {
		return false
	}
	*pte = mem.PteAddr(pa) | flags | mem.PTE_P
	pg.m.InvalidatePage(va)
	return true
}

// GetPTE walks without allocating; it returns nil, false if any
// intermediate table is absent.
func (pg *Pager) GetPTE(pml4 mem.Pa_t, va mem.Va_t) (*mem.Pa_t, bool) {
	pte := pg.walk(pml4, va, false, false)
	if pte == nil {
		return nil, false
	}
	return pte, true
}

// UnmapPage clears the leaf PTE for va, if present, and invalidates the
// TLB. It logs and returns false (a no-op) if va was not mapped.
func (pg *Pager) UnmapPage(pml4 mem.Pa_t, va mem.Va_t) bool {
	pte, ok := pg.GetPTE(pml4, va)
	if !ok || *pte&mem.PTE_P == 0 {
		log.Printf("paging: unmap of unmapped va %#x ignored", va)
		return false
	}
	*pte = 0
	pg.m.InvalidatePage(va)
	return true
}

// ReadFrame and WriteFrame expose the underlying Machine's physical-memory
// access for callers (vmm's mm_copy) that need to move whole frames
// between physical addresses via their HHDM aliases.
func (pg *Pager) ReadFrame(pa mem.Pa_t, buf []byte) {
	pg.m.ReadPhys(pa, buf)
}

func (pg *Pager) WriteFrame(pa mem.Pa_t, buf []byte) {
	pg.m.WritePhys(pa, buf)
}

// HHDMOffset is the virtual offset at which the direct map of all physical
// memory begins.
const HHDMOffset mem.Va_t = 0xFFFF800000000000

// KernelVirtBase is the virtual base of the kernel image.
const KernelVirtBase mem.Va_t = 0xFFFFFFFF80000000

// InitKernel builds the kernel's own top-level page table: it maps the
// kernel image at its linker-determined virtual base to kernelPhysBase,
// and maps every Usable/BootloaderReclaimable/ExecutableAndModules/
// Framebuffer region of the memory map into the HHDM window at
// HHDMOffset. It returns the new pml4's frame.
func (pg *Pager) InitKernel(regions []pmm.Region, kernelPhysBase mem.Pa_t, kernelSize int) mem.Pa_t {
	pml4 := pg.NewPML4()
	if pml4 == 0 {
		panic("paging: cannot allocate kernel pml4")
	}

	for off := 0; off < kernelSize; off += mem.PGSIZE {
		va := KernelVirtBase + mem.Va_t(off)
		pa := kernelPhysBase + mem.Pa_t(off)
		flags := mem.PTE_P | mem.PTE_W | mem.PTE_G
		if !pg.MapPage(pml4, va, pa, flags) {
			panic("paging: failed to map kernel image")
		}
	}

	for _, r := range regions {
		switch r.Type {
		case pmm.Usable, pmm.BootloaderReclaimable, pmm.ExecutableAndModules, pmm.Framebuffer:
		default:
			continue
		}
		base := r.Base &^ mem.PGOFFSET
		end := (r.Base + mem.Pa_t(r.Length) + mem.PGOFFSET) &^ mem.PGOFFSET
		for pa := base; pa < end; pa += mem.Pa_t(mem.PGSIZE) {
			va := HHDMOffset + mem.Va_t(pa)
			flags := mem.PTE_P | mem.PTE_W | mem.PTE_G
			if !pg.MapPage(pml4, va, pa, flags) {
				panic("paging: failed to map HHDM window")
			}
		}
	}

	pg.m.LoadCR3(pml4)
	pg.m.EFER |= cpu.EFER_NXE
	pg.m.CR4 |= cpu.CR4_PGE
	return pml4
}

// ClonePML4Upper copies the upper-half (indices >= 256) entries of src
// into dst, so the kernel window is visible in every address space.
func (pg *Pager) ClonePML4Upper(dst, src mem.Pa_t) {
	srcTbl := pg.m.Table(src)
	dstTbl := pg.m.Table(dst)
	for i := 256; i < 512; i++ {
		dstTbl[i] = srcTbl[i]
	}
}

// FreeLowerHalf walks every present entry under pml4's lower half
// (indices 0..255, the user-mappable range) and frees every frame it
// finds: PDPT, PD and PT tables, and the leaf frames the PTs point to.
// It does not touch the upper half, which every address space shares
// with the kernel. Callers are responsible for freeing the pml4 frame
// itself afterward.
func (pg *Pager) FreeLowerHalf(pml4 mem.Pa_t) {
	top := pg.m.Table(pml4)
	for i := 0; i < 256; i++ {
		if top[i]&mem.PTE_P == 0 {
			continue
		}
		pdptFrame := mem.PteAddr(top[i])
		pdpt := pg.m.Table(pdptFrame)
		for j := 0; j < 512; j++ {
			if pdpt[j]&mem.PTE_P == 0 {
				continue
			}
			pdFrame := mem.PteAddr(pdpt[j])
			pd := pg.m.Table(pdFrame)
			for k := 0; k < 512; k++ {
				if pd[k]&mem.PTE_P == 0 {
					continue
				}
				ptFrame := mem.PteAddr(pd[k])
				pt := pg.m.Table(ptFrame)
				for l := 0; l < 512; l++ {
					if pt[l]&mem.PTE_P == 0 {
						continue
					}
					pg.pmm.FreePage(mem.PteAddr(pt[l]))
				}
				pg.pmm.FreePage(ptFrame)
			}
			pg.pmm.FreePage(pdFrame)
		}
		pg.pmm.FreePage(pdptFrame)
		top[i] = 0
	}
}
