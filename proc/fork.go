package proc

import (
	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/fs"
	"github.com/sudo666/gokern/kheap"
	"github.com/sudo666/gokern/vmm"
)

// Fork duplicates parent into a new PCB with an independent copy of its
// address space (via vmm.Manager.MMCopy) and a bumped refcount on any
// open-file-table entries, per the fork fd-table semantics of a
// copy-with-refcount-bump rather than a deep per-fd duplication: both
// processes' Files entries name the same open-file-pool index until one
// of them closes it.
//
// On success it returns the child PCB with pid > 0 for the parent to read
// back (the "fork returns child pid in parent" half). The child's copy of
// the trap frame has its return value (RAX) set to 0, completing the
// "0 in child" half.
func (s *Scheduler) Fork(parent *PCB, mgr *vmm.Manager, stacks *kheap.StackArena, openFiles *fs.FS) (*PCB, error) {
	kstack, ok := stacks.KStackInit(DefaultKStackSize)
	if !ok {
		return nil, errFromErrno(defs.ENOMEM)
	}

	childMM := mgr.MMAlloc()
	if childMM == nil {
		stacks.KStackFree(kstack)
		return nil, errFromErrno(defs.ENOMEM)
	}
	if err := mgr.MMCopy(childMM, parent.MM); err != 0 {
		stacks.KStackFree(kstack)
		return nil, errFromErrno(err)
	}

	childCtx := *parent.Context
	childTF := *parent.TrapFrame
	childTF.RAX = 0 // fork() returns 0 in the child

	child := &PCB{
		Pid:       s.allocPid(),
		Name:      parent.Name,
		Parent:    parent,
		KStackTop: kstack.Top,
		Context:   &childCtx,
		TrapFrame: &childTF,
		MM:        childMM,
		Files:     parent.Files,
		CwdInode:  parent.CwdInode,
		TimeSlice: s.defaultSlice,
	}
	if openFiles != nil {
		for _, fd := range child.Files {
			if fd >= 0 {
				openFiles.Ref(fd)
			}
		}
	}

	s.Enqueue(child)
	return child, nil
}
