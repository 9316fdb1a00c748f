// Package kheap implements the kernel heap (a first-fit free-list
// allocator backed by page-granular expansion) and the kernel-stack
// arena.
package kheap

import (
	"log"

	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/pmm"
)

// HeapBase is the fixed virtual base of the kernel heap.
const HeapBase mem.Va_t = 0xFFFF900000000000

// MinSplit is the minimum leftover payload size that justifies splitting a
// block rather than handing the whole thing to the caller.
const MinSplit = 32

// headerSize is the size, in the virtual address space, a block header is
// modeled as occupying. Real header bytes are never serialized into
// simulated RAM; this constant only keeps the virtual address bookkeeping
// (used/free ranges, split arithmetic) faithful to a real C-style
// "header immediately followed by payload" layout.
const headerSize = 16

// block is one heap block: a header plus its payload, linked in address
// order. The list is circular and doubly linked, an intrusive-list idiom
// that avoids a separate free-block container.
type block struct {
	addr    mem.Va_t
	size    int // payload size only
	free    bool
	prev    *block
	next    *block
	payload []byte
}

// Heap is a first-fit free-list kernel allocator.
type Heap struct {
	pager *paging.Pager
	pmm   *pmm.PMM
	pml4  mem.Pa_t

	head *block // lowest-address block
	top  mem.Va_t
}

// New creates an empty heap that will draw pages from pmm/pager as needed,
// mapped into pml4 (the kernel's own top-level table).
func New(pager *paging.Pager, p *pmm.PMM, pml4 mem.Pa_t) *Heap {
	return &Heap{pager: pager, pmm: p, pml4: pml4, top: HeapBase}
}

// expand maps n fresh frames at the heap's growing top and inserts them as
// a single new free block, returning that block or nil on OOM.
func (h *Heap) expand(n int) *block {
	base := h.top
	for i := 0; i < n; i++ {
		frame := h.pmm.AllocPage()
		if frame == 0 {
			return nil
		}
		va := h.top
		if !h.pager.MapPage(h.pml4, va, frame, mem.PTE_P|mem.PTE_W) {
			h.pmm.FreePage(frame)
			return nil
		}
		h.top += mem.Va_t(mem.PGSIZE)
	}
	size := n*mem.PGSIZE - headerSize
	nb := &block{addr: base, size: size, free: true, payload: make([]byte, size)}
	h.insertSorted(nb)
	return nb
}

// insertSorted links nb into the address-ordered circular list.
func (h *Heap) insertSorted(nb *block) {
	if h.head == nil {
		nb.next, nb.prev = nb, nb
		h.head = nb
		return
	}
	cur := h.head
	for {
		if nb.addr < cur.addr {
			break
		}
		cur = cur.next
		if cur == h.head {
			break
		}
	}
	nb.next = cur
	nb.prev = cur.prev
	cur.prev.next = nb
	cur.prev = nb
	if cur == h.head && nb.addr < h.head.addr {
		h.head = nb
	}
}

func (h *Heap) unlink(b *block) {
	if b.next == b {
		h.head = nil
		return
	}
	b.prev.next = b.next
	b.next.prev = b.prev
	if h.head == b {
		h.head = b.next
	}
}

// adjacent reports whether a immediately precedes b in virtual memory
// (a's payload end equals b's header start).
func adjacent(a, b *block) bool {
	return a.addr+mem.Va_t(headerSize+a.size) == b.addr
}

// Alloc rounds size up to 8 bytes and returns a byte slice of at least that
// length plus the virtual address the block occupies (for Free). It
// returns nil, 0 on OOM.
func (h *Heap) Alloc(size int) ([]byte, mem.Va_t) {
	if size <= 0 {
		return nil, 0
	}
	size = (size + 7) &^ 7

	for {
		if b := h.firstFit(size); b != nil {
			h.allocateFrom(b, size)
			return b.payload[:size], b.addr
		}
		pages := (size + headerSize + mem.PGSIZE - 1) / mem.PGSIZE
		if h.expand(pages) == nil {
			return nil, 0
		}
	}
}

func (h *Heap) firstFit(size int) *block {
	if h.head == nil {
		return nil
	}
	cur := h.head
	for {
		if cur.free && cur.size >= size {
			return cur
		}
		cur = cur.next
		if cur == h.head {
			return nil
		}
	}
}

// allocateFrom marks b used, splitting off a trailing free block when the
// remainder (b's size minus size) exceeds headerSize+MinSplit.
func (h *Heap) allocateFrom(b *block, size int) {
	remainder := b.size - size
	if remainder > headerSize+MinSplit {
		tailAddr := b.addr + mem.Va_t(headerSize+size)
		tail := &block{
			addr:    tailAddr,
			size:    remainder - headerSize,
			free:    true,
			payload: append([]byte(nil), b.payload[size+headerSize:]...),
		}
		b.payload = b.payload[:size]
		b.size = size
		tail.next = b.next
		tail.prev = b
		b.next.prev = tail
		b.next = tail
	}
	b.free = false
}

// Free marks the block at addr free and coalesces with both neighbours if
// they are address-adjacent and also free.
func (h *Heap) Free(addr mem.Va_t) {
	b := h.findByAddr(addr)
	if b == nil {
		log.Printf("kheap: free of unknown address %#x ignored", addr)
		return
	}
	if b.free {
		log.Printf("kheap: double free of %#x ignored", addr)
		return
	}
	b.free = true

	if b.next != b && b.next.free && adjacent(b, b.next) {
		h.mergeInto(b, b.next)
	}
	if b.prev != b && b.prev.free && adjacent(b.prev, b) {
		h.mergeInto(b.prev, b)
	}
}

func (h *Heap) mergeInto(a, b *block) {
	a.size += headerSize + b.size
	a.payload = append(a.payload, make([]byte, headerSize)...)
	a.payload = append(a.payload, b.payload...)
	h.unlink(b)
}

func (h *Heap) findByAddr(addr mem.Va_t) *block {
	if h.head == nil {
		return nil
	}
	cur := h.head
	for {
		if cur.addr == addr {
			return cur
		}
		cur = cur.next
		if cur == h.head {
			return nil
		}
	}
}
