// Package idt builds the 256-entry interrupt descriptor table and
// performs the legacy 8259 PIC remap, following the standard ICW byte
// sequence and port assignments.
package idt

import "github.com/sudo666/gokern/cpu"

// Gate is one IDT entry: whether it is installed and at what privilege
// level user code may invoke it via `int n`.
type Gate struct {
	Present bool
	DPL     int
}

// Table is the 256-entry IDT. All gates use interrupt-gate semantics (IF
// cleared on entry).
type Table [256]Gate

// ExceptionVectors, IRQBase/IRQCount and the syscall gate vector.
const (
	ExceptionCount = 32
	IRQBase        = 32
	IRQCount       = 16
	SyscallVector  = 128
)

// New builds an IDT with exceptions 0..31 at DPL 0, hardware IRQs 32..47 at
// DPL 0 (the vectors RemapPIC moves the IRQ lines to), and the syscall gate
// at DPL 3. All gates are installed at once, independent of RemapPIC.
func New() *Table {
	var t Table
	for v := 0; v < ExceptionCount; v++ {
		t[v] = Gate{Present: true, DPL: 0}
	}
	for v := IRQBase; v < IRQBase+IRQCount; v++ {
		t[v] = Gate{Present: true, DPL: 0}
	}
	t[SyscallVector] = Gate{Present: true, DPL: 3}
	return &t
}

// PIC ports.
const (
	masterCmd  uint16 = 0x20
	masterData uint16 = 0x21
	slaveCmd   uint16 = 0xA0
	slaveData  uint16 = 0xA1

	icw1Init = 0x11
	icw4_8086 = 0x01
	eoiCmd    = 0x20
)

// RemapPIC reprograms the master/slave 8259 PICs to vectors 0x20/0x28,
// cascades the slave on IR2, and unmasks every line.
func RemapPIC(m *cpu.Machine) {
	m.Out8(masterCmd, icw1Init)
	m.Out8(slaveCmd, icw1Init)
	m.Out8(masterData, IRQBase)      // ICW2: master offset 0x20
	m.Out8(slaveData, IRQBase+8)     // ICW2: slave offset 0x28
	m.Out8(masterData, 0x04)         // ICW3: slave attached to IR2
	m.Out8(slaveData, 0x02)          // ICW3: slave's cascade identity
	m.Out8(masterData, icw4_8086)
	m.Out8(slaveData, icw4_8086)
	m.Out8(masterData, 0x00) // unmask all master lines
	m.Out8(slaveData, 0x00)  // unmask all slave lines
}

// EOI sends end-of-interrupt for vector, signalling the slave first when
// vector >= 40 (IRQ 8..15), then always the master.
func EOI(m *cpu.Machine, vector int) {
	if vector >= IRQBase+8 {
		m.Out8(slaveCmd, eoiCmd)
	}
	m.Out8(masterCmd, eoiCmd)
}

// Mask disables IRQ line irq (0..15) at the owning PIC.
func Mask(m *cpu.Machine, irq int) {
	port := masterData
	bit := uint(irq)
	if irq >= 8 {
		port = slaveData
		bit -= 8
	}
	m.Out8(port, m.In8(port)|1<<bit)
}

// Unmask enables IRQ line irq (0..15) at the owning PIC.
func Unmask(m *cpu.Machine, irq int) {
	port := masterData
	bit := uint(irq)
	if irq >= 8 {
		port = slaveData
		bit -= 8
	}
	m.Out8(port, m.In8(port)&^(1<<bit))
}
