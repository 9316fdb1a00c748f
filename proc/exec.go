package proc

import (
	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/elfloader"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/vmm"
)

// Execve replaces p's address space in place with a freshly loaded ELF
// image: the old mm is torn down only after the new one has been built
// successfully, so a bad binary leaves p running unchanged rather than
// half-replaced. On success p's saved context and trap frame point at the
// new entry point and stack; its pid, open files, and cwd are untouched.
func (s *Scheduler) Execve(p *PCB, elfBytes []byte, mgr *vmm.Manager, pager *paging.Pager) error {
	img, err := elfloader.Load(elfBytes)
	if err != nil {
		return err
	}

	newMM := mgr.MMAlloc()
	if newMM == nil {
		return errFromErrno(defs.ENOMEM)
	}
	if !elfloader.MapInto(newMM, pager, img) {
		newMM.MMFree()
		return errFromErrno(defs.ENOMEM)
	}
	if !newMM.MMMapRange(UserStackTop-mem.Va_t(DefaultUserStackSize), DefaultUserStackSize, vmm.READ|vmm.WRITE|vmm.STACK) {
		newMM.MMFree()
		return errFromErrno(defs.ENOMEM)
	}
	newMM.InitHeap(highestSegmentEnd(img))

	oldMM := p.MM
	p.MM = newMM
	if oldMM != nil {
		oldMM.MMFree()
	}
	p.Context = &Context{RIP: uint64(img.Entry)}
	p.TrapFrame = trapFrameForEntry(img.Entry, UserStackTop)
	return nil
}
