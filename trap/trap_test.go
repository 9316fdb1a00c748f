package trap

import (
	"testing"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/idt"
)

func TestSyscallDispatch(t *testing.T) {
	m := cpu.NewMachine(1)
	d := NewDispatcher(m)
	var got uint64
	d.Register(idt.SyscallVector, func(m *cpu.Machine, f *TrapFrame) {
		got = f.RAX
	})
	d.Dispatch(&TrapFrame{Vector: idt.SyscallVector, RAX: 42})
	if got != 42 {
		t.Fatalf("syscall handler not invoked with frame, got=%d", got)
	}
}

func TestIRQSendsEOIBeforeHandler(t *testing.T) {
	m := cpu.NewMachine(1)
	d := NewDispatcher(m)
	order := []string{}
	d.Register(idt.IRQBase, func(m *cpu.Machine, f *TrapFrame) {
		// A simulated port keeps the last byte written to it, so the
		// master PIC command port (0x20) already holding the EOI command
		// (0x20) here means EOI went out before this handler ran.
		if m.In8(0x20) == 0x20 {
			order = append(order, "eoi")
		}
		order = append(order, "handler")
	})
	d.Dispatch(&TrapFrame{Vector: idt.IRQBase})
	if len(order) != 2 || order[0] != "eoi" || order[1] != "handler" {
		t.Fatalf("want EOI then exactly one handler run, got %v", order)
	}
}

func TestUnhandledExceptionHalts(t *testing.T) {
	m := cpu.NewMachine(1)
	d := NewDispatcher(m)
	halted := false
	d.Halt = func() { halted = true }
	d.Dispatch(&TrapFrame{Vector: 13, ErrorCode: 0, RIP: 0x1000})
	if !halted {
		t.Fatal("unhandled exception must halt")
	}
}

func TestRegisteredExceptionDoesNotHalt(t *testing.T) {
	m := cpu.NewMachine(1)
	d := NewDispatcher(m)
	halted := false
	d.Halt = func() { halted = true }
	ran := false
	d.Register(14, func(m *cpu.Machine, f *TrapFrame) { ran = true })
	d.Dispatch(&TrapFrame{Vector: 14})
	if halted {
		t.Fatal("registered exception handler should prevent halt")
	}
	if !ran {
		t.Fatal("registered handler should run")
	}
}
