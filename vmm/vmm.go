// Package vmm implements per-process address spaces and their virtual
// memory areas (VMAs): a locked top-level page table plus an ordered,
// non-overlapping VMA list. There is no demand paging or copy-on-write;
// every page named by a mapped range is backed eagerly.
package vmm

import (
	"sync"

	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/pmm"
)

// Flag is a VMA permission/kind bit.
type Flag int

const (
	READ Flag = 1 << iota
	WRITE
	EXEC
	SHARED
	STACK
	HEAP
)

// VMA is a half-open virtual range [Start, End) with a uniform flag set.
type VMA struct {
	Start mem.Va_t
	End   mem.Va_t
	Flags Flag
}

func (v *VMA) overlaps(start, end mem.Va_t) bool {
	return start < v.End && end > v.Start
}

// AddressSpace is one process's mm: a top-level page table plus an ordered,
// non-overlapping list of VMAs.
type AddressSpace struct {
	sync.Mutex

	pager *paging.Pager
	pmm   *pmm.PMM

	PML4   mem.Pa_t
	Vmas   []*VMA
	RefCnt int

	heapBase mem.Va_t // page-aligned; 0 until InitHeap is called
	brk      mem.Va_t // current logical break, >= heapBase
}

// Manager constructs and destroys address spaces against a shared
// pager/pmm and kernel pml4 (whose upper half every new mm inherits).
type Manager struct {
	pager      *paging.Pager
	pmm        *pmm.PMM
	kernelPML4 mem.Pa_t
}

// NewManager returns a Manager whose address spaces share pager/pmm and
// inherit kernelPML4's upper half.
func NewManager(pager *paging.Pager, p *pmm.PMM, kernelPML4 mem.Pa_t) *Manager {
	return &Manager{pager: pager, pmm: p, kernelPML4: kernelPML4}
}

// MMAlloc allocates a fresh top-level table, copies the kernel's upper-half
// entries into it, and returns a new, empty AddressSpace.
func (mgr *Manager) MMAlloc() *AddressSpace {
	pml4 := mgr.pager.NewPML4()
	if pml4 == 0 {
		return nil
	}
	mgr.pager.ClonePML4Upper(pml4, mgr.kernelPML4)
	return &AddressSpace{pager: mgr.pager, pmm: mgr.pmm, PML4: pml4, RefCnt: 1}
}

// flagsToPTE derives leaf PTE flags from VMA flags: User is always set,
// RW iff WRITE, NX iff !EXEC (NX only takes effect once EFER.NXE is set at
// boot).
func flagsToPTE(f Flag) mem.Pa_t {
	pte := mem.PTE_U
	if f&WRITE != 0 {
		pte |= mem.PTE_W
	}
	if f&EXEC == 0 {
		pte |= mem.PTE_NX
	}
	return pte
}

// MMMapRange page-aligns [va, va+size), allocates and maps one frame per
// page with PTE flags derived from flags, and appends a new VMA. On
// partial failure it rolls back every page mapped so far and does not add
// the VMA.
func (as *AddressSpace) MMMapRange(va mem.Va_t, size int, flags Flag) bool {
	as.Lock()
	defer as.Unlock()

	start := mem.Va_t(mem.Pgrounddown(int(va)))
	end := mem.Va_t(mem.Pgroundup(int(va) + size))
	for _, v := range as.Vmas {
		if v.overlaps(start, end) {
			return false
		}
	}

	pte := flagsToPTE(flags)
	zero := make([]byte, mem.PGSIZE)
	mapped := make([]mem.Va_t, 0, (int(end-start))/mem.PGSIZE)
	for a := start; a < end; a += mem.Va_t(mem.PGSIZE) {
		frame := as.pmm.AllocPage()
		if frame == 0 {
			as.rollback(mapped)
			return false
		}
		as.pager.WriteFrame(frame, zero)
		if !as.pager.MapPage(as.PML4, a, frame, pte) {
			as.pmm.FreePage(frame)
			as.rollback(mapped)
			return false
		}
		mapped = append(mapped, a)
	}

	as.Vmas = append(as.Vmas, &VMA{Start: start, End: end, Flags: flags})
	return true
}

// InitHeap fixes the heap's starting address at base, rounded up to a
// page boundary. It is a no-op once the heap has already been
// initialized, so a stray second call (e.g. a future execve against the
// same mm) cannot move the break out from under pages brk already
// mapped.
func (as *AddressSpace) InitHeap(base mem.Va_t) {
	as.Lock()
	defer as.Unlock()
	if as.heapBase != 0 {
		return
	}
	as.heapBase = mem.Va_t(mem.Pgroundup(int(base)))
	as.brk = as.heapBase
}

// Brk implements the BRK syscall's semantics: newBrk == 0 queries the
// current break without side effects; newBrk <= the current break lowers
// the logical break but leaves mapped pages in place (shrinking never
// unmaps); newBrk above the current break extends the heap by mapping
// whatever whole pages the new break now reaches and are not already
// mapped. A non-zero newBrk below the heap base is rejected with EINVAL.
// It returns the resulting break and 0, or the unchanged break and a
// non-zero errno if the request is rejected or growth fails.
func (as *AddressSpace) Brk(newBrk mem.Va_t) (mem.Va_t, defs.Err_t) {
	as.Lock()
	if as.heapBase == 0 {
		as.Unlock()
		return 0, defs.ENOMEM
	}
	cur := as.brk
	base := as.heapBase
	mappedEnd := base
	for _, v := range as.Vmas {
		if v.Flags&HEAP != 0 && v.End > mappedEnd {
			mappedEnd = v.End
		}
	}
	as.Unlock()

	if newBrk == 0 || newBrk <= cur {
		if newBrk != 0 {
			if newBrk < base {
				return cur, defs.EINVAL
			}
			as.Lock()
			as.brk = newBrk
			as.Unlock()
			return newBrk, 0
		}
		return cur, 0
	}

	newMappedEnd := mem.Va_t(mem.Pgroundup(int(newBrk)))
	if newMappedEnd > mappedEnd {
		if !as.MMMapRange(mappedEnd, int(newMappedEnd-mappedEnd), READ|WRITE|HEAP) {
			return cur, defs.ENOMEM
		}
	}

	as.Lock()
	as.brk = newBrk
	as.Unlock()
	return newBrk, 0
}

func (as *AddressSpace) rollback(mapped []mem.Va_t) {
	for _, a := range mapped {
		if pte, ok := as.pager.GetPTE(as.PML4, a); ok && *pte&mem.PTE_P != 0 {
			frame := mem.PteAddr(*pte)
			as.pager.UnmapPage(as.PML4, a)
			as.pmm.FreePage(frame)
		}
	}
}

// MMFree recursively frees every user-owned intermediate table and leaf
// frame reachable from the lower half, frees the pml4 frame itself, and
// releases every VMA.
func (as *AddressSpace) MMFree() {
	as.Lock()
	defer as.Unlock()
	as.pager.FreeLowerHalf(as.PML4)
	as.Vmas = nil
	as.pmm.FreePage(as.PML4)
}

// MMCopy deep-copies src into dst: for each VMA in src, the same range is
// mapped in dst and every present page is copied frame-to-frame. It aborts
// and frees dst on any failure.
func (mgr *Manager) MMCopy(dst, src *AddressSpace) defs.Err_t {
	src.Lock()
	defer src.Unlock()

	for _, v := range src.Vmas {
		if !dst.MMMapRange(v.Start, int(v.End-v.Start), v.Flags) {
			dst.MMFree()
			return defs.ENOMEM
		}
		for a := v.Start; a < v.End; a += mem.Va_t(mem.PGSIZE) {
			srcPte, ok := mgr.pager.GetPTE(src.PML4, a)
			if !ok || *srcPte&mem.PTE_P == 0 {
				continue
			}
			dstPte, ok := mgr.pager.GetPTE(dst.PML4, a)
			if !ok {
				dst.MMFree()
				return defs.ENOMEM
			}
			srcFrame := mem.PteAddr(*srcPte)
			dstFrame := mem.PteAddr(*dstPte)
			buf := make([]byte, mem.PGSIZE)
			mgr.pager.ReadFrame(srcFrame, buf)
			mgr.pager.WriteFrame(dstFrame, buf)
		}
	}
	dst.heapBase = src.heapBase
	dst.brk = src.brk
	return 0
}

// CopyOut copies data into the address space starting at va, walking page
// by page so a copy may cross page boundaries. It fails with EFAULT if any
// page in the range is unmapped.
func (as *AddressSpace) CopyOut(va mem.Va_t, data []byte) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < len(data) {
		page := mem.Va_t(mem.Pgrounddown(int(va)))
		pte, ok := as.pager.GetPTE(as.PML4, page)
		if !ok || *pte&mem.PTE_P == 0 {
			return defs.EFAULT
		}
		pageOff := int(va) - int(page)
		n := mem.PGSIZE - pageOff
		if n > len(data)-off {
			n = len(data) - off
		}
		buf := make([]byte, mem.PGSIZE)
		frame := mem.PteAddr(*pte)
		as.pager.ReadFrame(frame, buf)
		copy(buf[pageOff:pageOff+n], data[off:off+n])
		as.pager.WriteFrame(frame, buf)
		off += n
		va += mem.Va_t(n)
	}
	return 0
}

// CopyIn reads len(buf) bytes out of the address space starting at va,
// walking page by page. It fails with EFAULT if any page in the range is
// unmapped.
func (as *AddressSpace) CopyIn(va mem.Va_t, buf []byte) defs.Err_t {
	as.Lock()
	defer as.Unlock()
	off := 0
	for off < len(buf) {
		page := mem.Va_t(mem.Pgrounddown(int(va)))
		pte, ok := as.pager.GetPTE(as.PML4, page)
		if !ok || *pte&mem.PTE_P == 0 {
			return defs.EFAULT
		}
		pageOff := int(va) - int(page)
		n := mem.PGSIZE - pageOff
		if n > len(buf)-off {
			n = len(buf) - off
		}
		frame := mem.PteAddr(*pte)
		full := make([]byte, mem.PGSIZE)
		as.pager.ReadFrame(frame, full)
		copy(buf[off:off+n], full[pageOff:pageOff+n])
		off += n
		va += mem.Va_t(n)
	}
	return 0
}
