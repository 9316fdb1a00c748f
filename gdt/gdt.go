// Package gdt builds the kernel's segment descriptor table, the 64-bit
// TSS, and loads them. Selector ordering puts user data before user code
// (required by sysret/iretq to land on the right ring-3 selectors).
package gdt

// Selector indices (index * 8 = selector value).
const (
	SelNull     = 0
	SelKCode    = 1 * 8
	SelKData    = 2 * 8
	SelUData    = 3*8 | 3 // RPL 3
	SelUCode    = 4*8 | 3 // RPL 3
	SelTSS      = 5 * 8
)

// Access byte bits for code/data descriptors.
const (
	accPresent  = 1 << 7
	accRing0    = 0 << 5
	accRing3    = 3 << 5
	accDesc     = 1 << 4 // code/data (not system)
	accExec     = 1 << 3
	accRW       = 1 << 1 // readable (code) / writable (data)
)

// Flags byte: long-mode code gets the L bit; data segments get none of
// these (they are byte-granular, 32-bit-style descriptors in a 64-bit GDT).
const flagLongMode = 1 << 1

// Descriptor is one 8-byte GDT entry.
type Descriptor uint64

func mkDescriptor(access byte, longMode bool) Descriptor {
	var flags byte
	if longMode {
		flags = flagLongMode
	}
	// Only access and flags matter in 64-bit mode; base/limit are ignored
	// by the CPU for code/data segments, but are zeroed for fidelity.
	d := uint64(access) << 40
	d |= uint64(flags) << 52
	return Descriptor(d)
}

// TSS is the 64-bit Task State Segment. iomapBase == sizeof(tss) means no
// I/O permission bitmap is present.
type TSS struct {
	reserved0 uint32
	RSP0      uint64
	RSP1      uint64
	RSP2      uint64
	reserved1 uint64
	IST       [7]uint64
	reserved2 uint64
	reserved3 uint16
	IOMapBase uint16
}

const tssSize = 104 // sizeof(TSS) per the x86_64 TSS layout

// Table is the kernel's GDT: null, kernel code/data, user data/code, and
// two slots (5 and 6) reserved for the 16-byte TSS descriptor. New leaves
// both TSS slots zero; no TSS descriptor is encoded into Entries.
type Table struct {
	Entries [7]Descriptor // indices 5-6: TSS descriptor slots, zero
	TSS     TSS
}

// New builds a Table with kernel code/data and user data/code descriptors
// and a TSS whose IOMapBase disables the I/O permission bitmap.
func New() *Table {
	t := &Table{}
	t.Entries[0] = 0
	t.Entries[1] = mkDescriptor(accPresent|accRing0|accDesc|accExec|accRW, true)  // kernel code
	t.Entries[2] = mkDescriptor(accPresent|accRing0|accDesc|accRW, false)         // kernel data
	t.Entries[3] = mkDescriptor(accPresent|accRing3|accDesc|accRW, false)         // user data
	t.Entries[4] = mkDescriptor(accPresent|accRing3|accDesc|accExec|accRW, true) // user code
	t.TSS.IOMapBase = tssSize
	return t
}

// SetRSP0 updates the kernel stack used on ring-3 -> ring-0 transitions.
// It must be kept current on every scheduler switch.
func (t *Table) SetRSP0(rsp0 uint64) {
	t.TSS.RSP0 = rsp0
}

// Load stands in for `lgdt`/`ltr` and does nothing: no load is recorded
// anywhere, cpu.Machine included. gdt has no Machine dependency so it can
// be unit tested standalone.
func (t *Table) Load() {}
