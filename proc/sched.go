package proc

import (
	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/gdt"
)

// DefaultTimeSlice is the number of timer ticks a thread runs before being
// demoted to READY.
const DefaultTimeSlice = 10

// TickNs is the nanosecond period this hosted simulation assigns to one
// timer tick, used to accumulate each PCB's CPU-time accounting.
const TickNs = 10_000_000

// RegFile is the live CPU register file switch_to saves into and restores
// from. It stands in for the real machine registers, which this hosted
// simulation models as ordinary struct fields rather than hardware state.
type RegFile Context

// SwitchTo models the assembly switch_to(&prev->context, next->context):
// it saves the currently-live register file into prev, then loads next
// into the live register file. Calling SwitchTo(regs,&A,&B) followed by
// SwitchTo(regs,&B,&A) restores A's original register values and leaves
// B's context holding whatever was live when it was last switched away
// from.
func SwitchTo(regs *RegFile, prev *Context, next *Context) {
	*prev = Context(*regs)
	*regs = RegFile(*next)
}

// Scheduler implements the uniprocessor, preemptive round-robin scheduler:
// a global process list, a FIFO ready queue, and an always-present idle
// thread that runs whenever the ready queue is empty.
type Scheduler struct {
	m    *cpu.Machine
	gdt  *gdt.Table
	regs RegFile

	procs   map[int]*PCB // global process list, keyed by pid
	ready   []*PCB       // FIFO ready queue
	current *PCB
	idle    *PCB
	nextPid int

	ticks        uint64
	intEnabled   bool
	defaultSlice int
}

// NewScheduler constructs a Scheduler with the idle thread bound to the
// caller's own kernel stack, running on machine m with GDT table g (whose
// TSS.RSP0 the scheduler keeps current on every switch): pid 0, name
// "idle", empty ready queue.
func NewScheduler(m *cpu.Machine, g *gdt.Table) *Scheduler {
	idle := &PCB{
		Pid:       0,
		Name:      "idle",
		State:     RUNNING,
		Context:   &Context{},
		Files:     newEmptyFiles(),
		TimeSlice: DefaultTimeSlice,
	}
	s := &Scheduler{
		m:            m,
		gdt:          g,
		procs:        map[int]*PCB{0: idle},
		current:      idle,
		idle:         idle,
		nextPid:      1,
		intEnabled:   true,
		defaultSlice: DefaultTimeSlice,
	}
	return s
}

// Current returns the currently RUNNING PCB.
func (s *Scheduler) Current() *PCB { return s.current }

// Idle returns the idle thread.
func (s *Scheduler) Idle() *PCB { return s.idle }

// allocPid returns a fresh pid. It does not register anything; the PCB
// joins the global process list when it is enqueued.
func (s *Scheduler) allocPid() int {
	pid := s.nextPid
	s.nextPid++
	return pid
}

// Enqueue adds a freshly created PCB to the global process list and the
// tail of the ready queue, marking it READY.
func (s *Scheduler) Enqueue(p *PCB) {
	p.State = READY
	s.procs[p.Pid] = p
	s.ready = append(s.ready, p)
}

// Lookup returns the PCB for pid, if it is still in the global process
// list (it is removed once reaped).
func (s *Scheduler) Lookup(pid int) (*PCB, bool) {
	p, ok := s.procs[pid]
	return p, ok
}

// Reap removes a ZOMBIE PCB from the global process list. It is a no-op on
// any other state, so a stray or repeated reap never corrupts scheduler
// state.
func (s *Scheduler) Reap(pid int) {
	p, ok := s.procs[pid]
	if !ok || p.State != ZOMBIE {
		return
	}
	delete(s.procs, pid)
}

// disableInterrupts and restoreInterrupts model cli/sti and the saved
// interrupt-flag discipline: Schedule disables interrupts on entry and
// restores the caller's prior state on return.
func (s *Scheduler) disableInterrupts() bool {
	prev := s.intEnabled
	s.intEnabled = false
	return prev
}

func (s *Scheduler) restoreInterrupts(prev bool) {
	s.intEnabled = prev
}

// Schedule runs one scheduling decision. force distinguishes an explicit
// yield (EXIT, YIELD, a reschedule-on-block) from
// a plain attempt where the caller merely wants to check whether the
// current thread's slice is exhausted (the timer tick handler's caller):
// when !force and the current thread still has slice remaining, Schedule
// returns without touching the ready queue or the current thread's state.
func (s *Scheduler) Schedule(force bool) {
	savedIF := s.disableInterrupts()
	defer s.restoreInterrupts(savedIF)

	prev := s.current
	if prev.State == RUNNING && prev != s.idle {
		if !force && prev.TimeSlice > 0 {
			return
		}
		prev.TimeSlice = s.defaultSlice
		prev.State = READY
		s.ready = append(s.ready, prev)
	}

	var next *PCB
	if len(s.ready) == 0 {
		next = s.idle
		next.TimeSlice = s.defaultSlice
		next.State = RUNNING
	} else {
		next = s.ready[0]
		s.ready = s.ready[1:]
		next.State = RUNNING
		next.TimeSlice = s.defaultSlice
	}

	if next == prev {
		return
	}

	s.current = next
	s.gdt.SetRSP0(uint64(next.KStackTop))
	if next.MM != nil && (prev.MM == nil || next.MM != prev.MM) {
		s.m.LoadCR3(next.MM.PML4)
	}
	SwitchTo(&s.regs, prev.Context, next.Context)
}

// Tick increments the global tick counter, credits the elapsed period to
// the current thread's accounting, and, if it is RUNNING and not idle,
// decrements its time slice; hitting zero calls Schedule.
func (s *Scheduler) Tick() {
	s.ticks++
	if s.current == s.idle {
		return
	}
	s.current.Accnt.UserNs += TickNs
	s.current.TotalRuntime += TickNs
	if s.current.State == RUNNING {
		s.current.TimeSlice--
		if s.current.TimeSlice <= 0 {
			s.Schedule(false)
		}
	}
}

// Ticks returns the number of timer ticks observed so far.
func (s *Scheduler) Ticks() uint64 { return s.ticks }

// ReadyLen reports the number of PCBs currently on the ready queue, for
// tests asserting it holds only READY PCBs.
func (s *Scheduler) ReadyLen() int { return len(s.ready) }

// ReadyAll returns a snapshot of the ready queue, for invariant checks.
func (s *Scheduler) ReadyAll() []*PCB {
	out := make([]*PCB, len(s.ready))
	copy(out, s.ready)
	return out
}

// InterruptsEnabled reports whether interrupts are currently enabled, for
// tests asserting Schedule restores the caller's prior flag state.
func (s *Scheduler) InterruptsEnabled() bool { return s.intEnabled }
