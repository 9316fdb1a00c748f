// Package pit programs the 8253/8254 programmable interval timer using
// the standard command byte and divisor formula.
package pit

import (
	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/idt"
)

const (
	channel0    uint16 = 0x40
	commandPort uint16 = 0x43
	// Channel 0, lo/hi byte access, mode 3 (square wave), binary.
	commandByte uint8 = 0x36
	// Base oscillator frequency of the 8254.
	baseFreq = 1_193_180
)

// Init programs channel 0 to tick at freqHz and unmasks IRQ0.
func Init(m *cpu.Machine, freqHz int) {
	divisor := baseFreq / freqHz
	m.Out8(commandPort, commandByte)
	m.Out8(channel0, uint8(divisor&0xff))
	m.Out8(channel0, uint8((divisor>>8)&0xff))
	idt.Unmask(m, 0)
}

// Clock tracks ticks and drives the scheduler's time-slice decrement. The
// PIT hardware has no notion of a tick counter itself; this mirrors the
// kernel-side global `ticks` counter the IRQ0 handler maintains.
type Clock struct {
	Ticks uint64
}

// Tick records one timer interrupt and returns the updated tick count.
// Tick is called by the IRQ0 handler that cmd/kernel's Boot registers.
func (c *Clock) Tick() uint64 {
	c.Ticks++
	return c.Ticks
}
