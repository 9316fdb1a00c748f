package proc

import "github.com/sudo666/gokern/fs"

// Exit tears down p's address space, releases its open-file references,
// marks it ZOMBIE, and reschedules. It must not be called on the idle
// thread. Wait-for-child is not implemented, so a ZOMBIE PCB stays in
// the global process list until an explicit Reap.
func (s *Scheduler) Exit(p *PCB, code int, openFiles *fs.FS) {
	if p == s.idle {
		panic("proc: idle thread exited")
	}
	if p.MM != nil {
		p.MM.MMFree()
	}
	if openFiles != nil {
		for _, fd := range p.Files {
			if fd >= 0 {
				openFiles.Unref(fd)
			}
		}
	}
	p.ExitCode = code
	p.State = ZOMBIE
	for i, q := range s.ready {
		if q == p {
			s.ready = append(s.ready[:i], s.ready[i+1:]...)
			break
		}
	}
	s.Schedule(true)
}
