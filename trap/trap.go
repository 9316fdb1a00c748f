// Package trap implements the single C-level entry point the assembly
// stubs call into on every interrupt, exception, and syscall: vector
// lookup, EOI ordering for hardware IRQs, and the fatal exception banner
// for unregistered exception vectors. Diagnostics go through plain
// fmt/log, with no framebuffer dependency — the console is an external
// collaborator.
package trap

import (
	"fmt"
	"log"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/idt"
)

// TrapFrame is the full CPU state saved on interrupt entry by the assembly
// stubs: general registers, the vector and hardware error code, and the
// CPU-pushed return context.
type TrapFrame struct {
	// General-purpose registers, saved by the entry stub.
	R15, R14, R13, R12, R11, R10, R9, R8 uint64
	RBP, RDI, RSI, RDX, RCX, RBX, RAX    uint64

	Vector    uint64
	ErrorCode uint64

	// Hardware-pushed on interrupt entry.
	RIP    uint64
	CS     uint64
	RFLAGS uint64
	RSP    uint64
	SS     uint64
}

// Handler processes one vector's trap. It receives the owning Machine (for
// EOI/port access) and the frame.
type Handler func(m *cpu.Machine, f *TrapFrame)

// exceptionNames gives the traditional x86 exception mnemonics for vectors
// 0..19; beyond that the dispatcher prints the bare vector number.
var exceptionNames = [...]string{
	0: "divide-by-zero", 1: "debug", 2: "nmi", 3: "breakpoint",
	4: "overflow", 5: "bound-range", 6: "invalid-opcode",
	7: "device-not-available", 8: "double-fault", 9: "coprocessor-overrun",
	10: "invalid-tss", 11: "segment-not-present", 12: "stack-fault",
	13: "general-protection-fault", 14: "page-fault", 16: "x87-fp",
	17: "alignment-check", 18: "machine-check", 19: "simd-fp",
}

func exceptionName(v uint64) string {
	if int(v) < len(exceptionNames) && exceptionNames[v] != "" {
		return exceptionNames[v]
	}
	return fmt.Sprintf("vector-%d", v)
}

// HaltFunc is called by Dispatch when an unhandled exception reaches the
// fatal path. Tests override it to avoid actually stopping the process;
// production wiring sets it to an infinite-loop/hlt equivalent.
type HaltFunc func()

// Dispatcher routes trap frames by vector: vector 128 is the syscall
// gate, 32..47 are PIC-remapped hardware IRQs
// (EOI is sent before the registered handler runs, so handlers may
// reschedule without stalling the PIC), everything else looks up a
// per-vector callback and, if none is installed for an exception vector,
// prints the exception banner and halts.
type Dispatcher struct {
	m        *cpu.Machine
	handlers [256]Handler
	Halt     HaltFunc
	CR2      func() uint64 // faulting address accessor for page-fault banners
}

// NewDispatcher returns a Dispatcher bound to m. By default Halt panics,
// which is adequate for tests; boot wiring replaces it with a real halt.
func NewDispatcher(m *cpu.Machine) *Dispatcher {
	return &Dispatcher{
		m:    m,
		Halt: func() { panic("kernel halted: unhandled exception") },
		CR2:  func() uint64 { return 0 },
	}
}

// Register installs handler for vector.
func (d *Dispatcher) Register(vector int, h Handler) {
	d.handlers[vector] = h
}

const syscallVector = idt.SyscallVector

// Dispatch runs the handler for f.Vector: syscalls go straight to their
// handler; IRQs get EOI'd first; everything else is looked up in the
// table, falling back to the fatal exception banner for unregistered
// exception vectors.
func (d *Dispatcher) Dispatch(f *TrapFrame) {
	v := int(f.Vector)

	if v == syscallVector {
		if h := d.handlers[v]; h != nil {
			h(d.m, f)
			return
		}
		log.Printf("trap: no syscall handler installed")
		return
	}

	if v >= idt.IRQBase && v < idt.IRQBase+idt.IRQCount {
		idt.EOI(d.m, v)
		if h := d.handlers[v]; h != nil {
			h(d.m, f)
		}
		return
	}

	if h := d.handlers[v]; h != nil {
		h(d.m, f)
		return
	}

	if v < idt.ExceptionCount {
		log.Printf("EXCEPTION %s (vector %d) error=%#x rip=%#x cr2=%#x",
			exceptionName(f.Vector), v, f.ErrorCode, f.RIP, d.CR2())
		d.Halt()
		return
	}

	log.Printf("trap: unhandled vector %d", v)
}
