// Package proc implements the process/thread model and preemptive
// round-robin scheduler: the PCB, the global process list and ready
// queue, context switching, kernel-thread spawn, user-process creation,
// fork, execve, and exit. The global process list is an arena
// (map[pid]*PCB) with stable index handles rather than an intrusive
// linked list.
package proc

import (
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/trap"
	"github.com/sudo666/gokern/vmm"
)

// State is a thread's scheduling state.
type State int

const (
	RUNNING State = iota
	READY
	BLOCKED
	ZOMBIE
)

func (s State) String() string {
	switch s {
	case RUNNING:
		return "RUNNING"
	case READY:
		return "READY"
	case BLOCKED:
		return "BLOCKED"
	case ZOMBIE:
		return "ZOMBIE"
	default:
		return "UNKNOWN"
	}
}

// Context is the minimal callee-saved register snapshot a cooperative
// switch_to swaps.
type Context struct {
	R15, R14, R13, R12 uint64
	RBX, RBP           uint64
	RIP                uint64
}

// Accnt accumulates per-thread CPU-time accounting.
type Accnt struct {
	UserNs int64
	SysNs  int64
}

// MaxOpenFiles bounds the per-process file-descriptor table: a fixed-size
// array of open file handles.
const MaxOpenFiles = 32

// PCB is the kernel's per-thread/per-process control block.
type PCB struct {
	Pid    int
	Name   string
	Parent *PCB

	KStackTop mem.Va_t // rsp0 candidate: top of this thread's kernel stack
	Context   *Context
	TrapFrame *trap.TrapFrame

	MM *vmm.AddressSpace // nil for kernel threads, which share the kernel pml4

	State        State
	TimeSlice    int
	TotalRuntime int64
	Accnt        Accnt

	ExitCode int
	CwdInode int
	Files    [MaxOpenFiles]int // index into the process-wide open-file pool, -1 if empty

	// entry point for kernel threads that have never been switched away
	// from yet; set only at creation, used by the test-harness runner.
	entryFn  func(arg uintptr)
	entryArg uintptr
}

func newEmptyFiles() [MaxOpenFiles]int {
	var f [MaxOpenFiles]int
	for i := range f {
		f[i] = -1
	}
	return f
}
