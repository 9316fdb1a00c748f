// Command kernel wires every subsystem together into a bootable kernel
// instance and drives it through a bounded simulation loop: physical
// memory, paging, the kernel heap, per-process address spaces, the
// interrupt/syscall gate, and the scheduler, in the order a real x86_64
// boot would bring them up.
package main

import (
	"log"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/fs"
	"github.com/sudo666/gokern/gdt"
	"github.com/sudo666/gokern/idt"
	"github.com/sudo666/gokern/kcall"
	"github.com/sudo666/gokern/kheap"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/pit"
	"github.com/sudo666/gokern/pmm"
	"github.com/sudo666/gokern/proc"
	"github.com/sudo666/gokern/trap"
	"github.com/sudo666/gokern/ustr"
	"github.com/sudo666/gokern/vmm"
)

// ramPages sizes the simulated physical RAM the boot sequence hands to
// the frame allocator.
const ramPages = 4096 // 16MiB at a 4KiB page size

// timerHz is the rate at which the boot loop's simulated PIT fires IRQ0.
const timerHz = 100

// Kernel bundles every subsystem brought up during boot.
type Kernel struct {
	m      *cpu.Machine
	pager  *paging.Pager
	pmm    *pmm.PMM
	heap   *kheap.Heap
	stacks *kheap.StackArena
	mgr    *vmm.Manager
	gdt    *gdt.Table
	idt    *idt.Table
	disp   *trap.Dispatcher
	clock  pit.Clock
	sched  *proc.Scheduler
	files  *fs.FS
	calls  *kcall.Table

	kernelPML4 mem.Pa_t
}

// Boot brings up every subsystem in dependency order and returns a
// Kernel with the idle thread as the only runnable thread.
func Boot() *Kernel {
	m := cpu.NewMachine(ramPages * mem.PGSIZE)

	regions := []pmm.Region{{Base: 0, Length: uint64(ramPages * mem.PGSIZE), Type: pmm.Usable}}
	frames := pmm.Init(regions)

	pager := paging.New(m, frames)
	kernelPML4 := pager.InitKernel(regions, 0, mem.PGSIZE)

	heap := kheap.New(pager, frames, kernelPML4)
	stacks := kheap.NewStackArena(heap)
	mgr := vmm.NewManager(pager, frames, kernelPML4)

	g := gdt.New()
	g.Load()

	table := idt.New()
	idt.RemapPIC(m)
	pit.Init(m, timerHz)

	disp := trap.NewDispatcher(m)
	disp.Halt = func() { panic("kernel halted: unhandled fatal exception") }

	sched := proc.NewScheduler(m, g)
	files := fs.New()
	calls := kcall.New(sched, mgr, pager, stacks, files)

	k := &Kernel{
		m: m, pager: pager, pmm: frames, heap: heap, stacks: stacks, mgr: mgr,
		gdt: g, idt: table, disp: disp, sched: sched, files: files, calls: calls,
		kernelPML4: kernelPML4,
	}

	disp.Register(idt.IRQBase, func(m *cpu.Machine, f *trap.TrapFrame) {
		k.clock.Tick()
		k.sched.Tick()
	})
	disp.Register(idt.SyscallVector, calls.Handle)

	log.Printf("boot: %d pages free of %d total", frames.FreePages(), frames.TotalPages())
	return k
}

// SpawnInit loads elfBytes as the first user process (analogous to pid 1)
// and enqueues it READY.
func (k *Kernel) SpawnInit(elfBytes []byte) (*proc.PCB, error) {
	return k.sched.SpawnUserProcess("init", elfBytes, k.stacks, k.mgr, k.pager, nil)
}

// timerTrap synthesizes the trap frame a real IRQ0 delivers, since this
// hosted simulation has no PIC raising real interrupts.
func (k *Kernel) timerTrap() *trap.TrapFrame {
	return &trap.TrapFrame{Vector: uint64(idt.IRQBase)}
}

// Step dispatches one simulated timer tick and, if the scheduler switched
// to a kernel thread that has never run, invokes its entry function.
func (k *Kernel) Step() {
	k.disp.Dispatch(k.timerTrap())
	k.sched.Current().RunIfFirstSwitch()
}

// Run drives the boot loop for n timer ticks, logging whenever the
// current thread changes.
func (k *Kernel) Run(n int) {
	last := k.sched.Current()
	for i := 0; i < n; i++ {
		k.Step()
		if cur := k.sched.Current(); cur != last {
			log.Printf("sched: now running pid=%d name=%s", cur.Pid, cur.Name)
			last = cur
		}
	}
}

func main() {
	k := Boot()

	k.sched.SpawnKernelThread("banner", k.stacks, func(arg uintptr) {
		log.Printf("gokern: idle=%d threads ready=%d", k.sched.Idle().Pid, k.sched.ReadyLen())
		if errno := k.files.Mkdir(0, ustr.MkUstrSlice([]byte("/tmp"))); errno != 0 {
			log.Printf("boot: mkdir /tmp failed: %d", errno)
		}
	}, 0)

	k.Run(timerHz)

	log.Printf("boot: %d ticks observed, %d pages free", k.sched.Ticks(), k.pmm.FreePages())
}
