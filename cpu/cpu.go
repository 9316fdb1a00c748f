// Package cpu models the low-level CPU primitives a kernel needs that
// cannot be expressed in a portable way: port I/O, control/MSR register
// access, table loads, and TLB invalidation.
//
// This module cannot execute real in/out/invlpg instructions since it is
// hosted rather than freestanding, so Machine models their observable
// state instead: physical RAM is backed by a byte arena addressed the way
// pa+HHDM_OFFSET would be on real hardware, and ports are a
// byte-addressable array. Every algorithm above this line (pmm, paging,
// kheap, vmm, proc, trap) is unaware of the substitution.
package cpu

import (
	"encoding/binary"
	"sync"
	"unsafe"

	"github.com/sudo666/gokern/mem"
)

// rawPointer reinterprets a byte slice's backing array as an arbitrary
// pointer, an unsafe aliasing trick used to move between byte and
// structured page views without a copy.
func rawPointer(b []byte) unsafe.Pointer {
	return unsafe.Pointer(&b[0])
}

// numPorts is the size of the legacy 16-bit x86 I/O port space.
const numPorts = 1 << 16

// Machine is the simulated CPU + physical memory + I/O port space a single
// kernel instance runs on. There is exactly one Machine; multiprocessor
// support is out of scope.
type Machine struct {
	mu sync.Mutex

	RAM   []byte
	ports [numPorts]byte

	CR0  uint64
	CR3  mem.Pa_t
	CR4  uint64
	EFER uint64

	// invalidated records the virtual addresses most recently invalidated
	// by InvalidatePage, for tests that want to assert TLB-invalidate was
	// requested on a given mapping change.
	invalidated []mem.Va_t
}

// EFER.NXE, the bit that must be set before PTE_NX bits take effect.
const EFER_NXE uint64 = 1 << 11

// CR4.PGE, the global-page enable bit.
const CR4_PGE uint64 = 1 << 7

// NewMachine allocates ramBytes of simulated physical RAM.
func NewMachine(ramBytes int) *Machine {
	return &Machine{RAM: make([]byte, ramBytes)}
}

// ReadPhys reads a physical-address-indexed page of memory, modeling a
// dereference through the HHDM window (pa+HHDM_OFFSET).
func (m *Machine) ReadPhys(pa mem.Pa_t, buf []byte) {
	copy(buf, m.RAM[pa:int(pa)+len(buf)])
}

// WritePhys writes through the simulated HHDM window.
func (m *Machine) WritePhys(pa mem.Pa_t, buf []byte) {
	copy(m.RAM[pa:int(pa)+len(buf)], buf)
}

// ZeroPhys zeroes n bytes starting at pa.
func (m *Machine) ZeroPhys(pa mem.Pa_t, n int) {
	clear(m.RAM[pa : int(pa)+n])
}

// Table returns the PageTable whose backing frame is pa, aliased through
// the simulated HHDM window exactly as paging.go does via mem.Pa_t
// arithmetic on real hardware.
func (m *Machine) Table(pa mem.Pa_t) *mem.PageTable {
	return (*mem.PageTable)(rawPointer(m.RAM[pa : int(pa)+mem.PGSIZE]))
}

// PTEAt returns a pointer to the raw PTE word at table frame pa, index i.
func (m *Machine) PTEAt(pa mem.Pa_t, i int) *mem.Pa_t {
	return &m.Table(pa)[i]
}

// InvalidatePage models `invlpg va`.
func (m *Machine) InvalidatePage(va mem.Va_t) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.invalidated = append(m.invalidated, va)
}

// Invalidated returns and clears the set of addresses invalidated since the
// last call, for test assertions.
func (m *Machine) Invalidated() []mem.Va_t {
	m.mu.Lock()
	defer m.mu.Unlock()
	v := m.invalidated
	m.invalidated = nil
	return v
}

// LoadCR3 models `mov cr3, pml4phys`, switching the active top-level page
// table (and, on hardware, flushing the non-global TLB entries).
func (m *Machine) LoadCR3(pml4 mem.Pa_t) {
	m.CR3 = pml4
}

// In8/Out8/In16/Out16 model legacy port I/O, used by the PIC and PIT.
func (m *Machine) In8(port uint16) uint8    { return m.ports[port] }
func (m *Machine) Out8(port uint16, v uint8) { m.ports[port] = v }

func (m *Machine) Out16(port uint16, v uint16) {
	p := int(port)
	binary.LittleEndian.PutUint16(m.ports[p:p+2], v)
}
func (m *Machine) In16(port uint16) uint16 {
	p := int(port)
	return binary.LittleEndian.Uint16(m.ports[p : p+2])
}
