// Package pmm implements the physical frame allocator: a one-bit-per-frame
// bitmap with next-fit allocation. Init sizes the bitmap from the memory
// map's highest address, carves its storage out of the first usable
// region large enough to hold it, then clears bits for every usable
// region.
package pmm

import (
	"log"

	"github.com/sudo666/gokern/mem"
)

// RegionType classifies one entry of the boot-supplied physical memory map.
// The map itself is produced by the boot protocol; pmm only consumes the
// resulting slice of Region.
type RegionType int

const (
	Usable RegionType = iota
	Reserved
	AcpiReclaimable
	AcpiNvs
	Bad
	BootloaderReclaimable
	ExecutableAndModules
	Framebuffer
	AcpiTables
)

// Region is one entry of the physical memory map.
type Region struct {
	Base   mem.Pa_t
	Length uint64
	Type   RegionType
}

// PMM is the physical frame allocator: a used/free bitmap over the whole
// physical address space named by the memory map, plus a next-fit cursor.
type PMM struct {
	bitmap        []byte
	totalPages    int
	freePages     int
	lastFreeIndex int
}

// frameOf returns the frame index of a page-aligned physical address.
func frameOf(pa mem.Pa_t) int {
	return int(pa) >> int(mem.PGSHIFT)
}

func frameAddr(idx int) mem.Pa_t {
	return mem.Pa_t(idx) << mem.PGSHIFT
}

func (p *PMM) bitSet(idx int) bool {
	return p.bitmap[idx/8]&(1<<uint(idx%8)) != 0
}

func (p *PMM) bitMark(idx int) {
	p.bitmap[idx/8] |= 1 << uint(idx%8)
}

func (p *PMM) bitClear(idx int) {
	p.bitmap[idx/8] &^= 1 << uint(idx%8)
}

// Init scans the memory map, sizes the bitmap to cover the highest physical
// address, reserves page-aligned bitmap storage from the first usable
// region large enough to hold it, marks every frame used, then clears bits
// for every usable region (page-aligned inward). Finally it re-marks the
// bitmap's own backing frames and frame 0 as used.
func Init(regions []Region) *PMM {
	var highest mem.Pa_t
	for _, r := range regions {
		end := r.Base + mem.Pa_t(r.Length)
		if end > highest {
			highest = end
		}
	}
	totalPages := (int(highest) + mem.PGSIZE - 1) / mem.PGSIZE
	bitmapBytes := (totalPages + 7) / 8
	bitmapPages := (bitmapBytes + mem.PGSIZE - 1) / mem.PGSIZE
	bitmapSize := mem.Pa_t(bitmapPages * mem.PGSIZE)

	p := &PMM{
		bitmap:     make([]byte, bitmapPages*mem.PGSIZE),
		totalPages: totalPages,
	}
	// Mark everything used by default; usable regions are cleared below.
	for i := range p.bitmap {
		p.bitmap[i] = 0xff
	}

	var bitmapBase mem.Pa_t = ^mem.Pa_t(0)
	for _, r := range regions {
		if r.Type != Usable {
			continue
		}
		base := (r.Base + mem.PGOFFSET) &^ mem.PGOFFSET
		if mem.Pa_t(r.Length) >= bitmapSize && r.Base+mem.Pa_t(r.Length) >= base+bitmapSize {
			bitmapBase = base
			break
		}
	}
	if bitmapBase == ^mem.Pa_t(0) {
		log.Panicf("pmm: no usable region large enough for a %d-byte bitmap", bitmapSize)
	}

	for _, r := range regions {
		if r.Type != Usable {
			continue
		}
		start := (r.Base + mem.PGOFFSET) &^ mem.PGOFFSET
		end := (r.Base + mem.Pa_t(r.Length)) &^ mem.PGOFFSET
		for pa := start; pa+mem.Pa_t(mem.PGSIZE) <= end; pa += mem.Pa_t(mem.PGSIZE) {
			p.bitClear(frameOf(pa))
		}
	}

	for pa := bitmapBase; pa < bitmapBase+bitmapSize; pa += mem.Pa_t(mem.PGSIZE) {
		p.bitMark(frameOf(pa))
	}
	// Frame 0 is the permanent NULL guard.
	p.bitMark(0)

	free := 0
	for i := 0; i < totalPages; i++ {
		if !p.bitSet(i) {
			free++
		}
	}
	p.freePages = free
	p.lastFreeIndex = 0
	return p
}

// TotalPages returns the number of page frames tracked by the bitmap.
func (p *PMM) TotalPages() int { return p.totalPages }

// FreePages returns the number of currently-free frames.
func (p *PMM) FreePages() int { return p.freePages }

// AllocPage returns one free frame's physical address, or 0 if the machine
// is out of memory. It scans next-fit: from lastFreeIndex to totalPages,
// then wraps from 0 to lastFreeIndex.
func (p *PMM) AllocPage() mem.Pa_t {
	if p.freePages == 0 {
		return 0
	}
	idx := p.scan(p.lastFreeIndex, p.totalPages)
	if idx < 0 {
		idx = p.scan(0, p.lastFreeIndex)
	}
	if idx < 0 {
		return 0
	}
	p.bitMark(idx)
	p.freePages--
	p.lastFreeIndex = idx + 1
	if p.lastFreeIndex >= p.totalPages {
		p.lastFreeIndex = 0
	}
	return frameAddr(idx)
}

func (p *PMM) scan(from, to int) int {
	for i := from; i < to; i++ {
		if !p.bitSet(i) {
			return i
		}
	}
	return -1
}

// FreePage releases a previously allocated frame. A double-free is logged
// and ignored rather than corrupting allocator state. Freeing moves the
// next-fit cursor back to this index if it is lower, biasing future
// allocations toward low addresses.
func (p *PMM) FreePage(pa mem.Pa_t) {
	idx := frameOf(pa)
	if idx < 0 || idx >= p.totalPages {
		log.Printf("pmm: free of out-of-range address %#x ignored", pa)
		return
	}
	if !p.bitSet(idx) {
		log.Printf("pmm: double free of frame %#x ignored", pa)
		return
	}
	p.bitClear(idx)
	p.freePages++
	if idx < p.lastFreeIndex {
		p.lastFreeIndex = idx
	}
}

// SetFree marks n consecutive frames starting at pa as free.
func (p *PMM) SetFree(pa mem.Pa_t, n int) {
	idx := frameOf(pa)
	for i := 0; i < n; i++ {
		if p.bitSet(idx + i) {
			p.bitClear(idx + i)
			p.freePages++
		}
	}
}

// SetBusy marks n consecutive frames starting at pa as used.
func (p *PMM) SetBusy(pa mem.Pa_t, n int) {
	idx := frameOf(pa)
	for i := 0; i < n; i++ {
		if !p.bitSet(idx + i) {
			p.bitMark(idx + i)
			p.freePages--
		}
	}
}
