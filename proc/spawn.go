package proc

import (
	"fmt"

	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/elfloader"
	"github.com/sudo666/gokern/kheap"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/trap"
	"github.com/sudo666/gokern/vmm"
)

// DefaultKStackSize is the kernel stack size given to every new thread,
// matching the size KStackInit rounds up to a whole number of pages.
const DefaultKStackSize = 2 * mem.PGSIZE

// DefaultUserStackSize is how much stack space a fresh user process gets
// at the top of its address space.
const DefaultUserStackSize = 8 * mem.PGSIZE

// UserStackTop is the fixed virtual address one past the top of every
// process's initial stack VMA, mirroring a typical user/kernel split
// with the stack anchored just below the canonical-address gap.
const UserStackTop mem.Va_t = 0x00007ffffffff000

// SpawnKernelThread creates a new PCB for a kernel-only thread (no user
// address space) that begins executing fn(arg) the first time it is
// switched to. name is cosmetic. The new thread is enqueued READY.
func (s *Scheduler) SpawnKernelThread(name string, stacks *kheap.StackArena, fn func(arg uintptr), arg uintptr) (*PCB, error) {
	stack, ok := stacks.KStackInit(DefaultKStackSize)
	if !ok {
		return nil, errFromErrno(defs.ENOMEM)
	}

	p := &PCB{
		Pid:       s.allocPid(),
		Name:      name,
		KStackTop: stack.Top,
		Context:   &Context{RIP: uint64(kthreadTrampoline)},
		Files:     newEmptyFiles(),
		TimeSlice: s.defaultSlice,
		CwdInode:  0,
		entryFn:   fn,
		entryArg:  arg,
	}
	s.Enqueue(p)
	return p, nil
}

// kthreadTrampoline is a placeholder address recorded in a freshly spawned
// kernel thread's saved RIP. The hosted scheduler never actually jumps
// through it (there is no real instruction stream to fetch): the test
// harness and RunIfFirstSwitch instead call PCB.entryFn directly the first
// time the thread becomes current, which stands in for the assembly
// trampoline a real switch_to would land in.
const kthreadTrampoline = 0x1

// RunIfFirstSwitch invokes p's kernel-thread entry function exactly once,
// the first time p becomes the running thread, then clears it so it is
// never invoked again. Callers (normally the boot loop, once per
// Schedule) call this after observing Current() change.
func (p *PCB) RunIfFirstSwitch() {
	if p.entryFn == nil {
		return
	}
	fn := p.entryFn
	arg := p.entryArg
	p.entryFn = nil
	fn(arg)
}

// SpawnUserProcess creates pid 1's analogue: a fresh address space loaded
// from an ELF64 image, with a mapped, zeroed stack, enqueued READY. parent
// is nil for the first user process (init); later processes are created
// via Fork instead.
func (s *Scheduler) SpawnUserProcess(name string, elfBytes []byte, stacks *kheap.StackArena, mgr *vmm.Manager, pager *paging.Pager, parent *PCB) (*PCB, error) {
	img, err := elfloader.Load(elfBytes)
	if err != nil {
		return nil, err
	}

	as := mgr.MMAlloc()
	if as == nil {
		return nil, errFromErrno(defs.ENOMEM)
	}
	if !elfloader.MapInto(as, pager, img) {
		as.MMFree()
		return nil, errFromErrno(defs.ENOMEM)
	}
	if !as.MMMapRange(UserStackTop-mem.Va_t(DefaultUserStackSize), DefaultUserStackSize, vmm.READ|vmm.WRITE|vmm.STACK) {
		as.MMFree()
		return nil, errFromErrno(defs.ENOMEM)
	}
	as.InitHeap(highestSegmentEnd(img))

	kstack, ok := stacks.KStackInit(DefaultKStackSize)
	if !ok {
		as.MMFree()
		return nil, errFromErrno(defs.ENOMEM)
	}

	p := &PCB{
		Pid:       s.allocPid(),
		Name:      name,
		Parent:    parent,
		KStackTop: kstack.Top,
		Context:   &Context{RIP: uint64(img.Entry)},
		TrapFrame: trapFrameForEntry(img.Entry, UserStackTop),
		MM:        as,
		Files:     newEmptyFiles(),
		TimeSlice: s.defaultSlice,
	}
	if parent != nil {
		p.CwdInode = parent.CwdInode
	}
	s.Enqueue(p)
	return p, nil
}

// trapFrameForEntry builds the initial TrapFrame a fresh user process's
// first trap return unwinds into: RIP at the ELF entry point and RSP at
// the top of its stack VMA.
func trapFrameForEntry(entry, stackTop mem.Va_t) *trap.TrapFrame {
	return &trap.TrapFrame{RIP: uint64(entry), RSP: uint64(stackTop)}
}

func errFromErrno(e defs.Err_t) error {
	return fmt.Errorf("errno %d", int(e))
}

// highestSegmentEnd returns the virtual address one past the end of
// img's highest PT_LOAD segment, the address a fresh process's heap
// grows up from via brk.
func highestSegmentEnd(img *elfloader.Image) mem.Va_t {
	var end mem.Va_t
	for _, seg := range img.Segments {
		segEnd := seg.Vaddr + mem.Va_t(seg.MemSize)
		if segEnd > end {
			end = segEnd
		}
	}
	return end
}
