package pit

import (
	"testing"

	"github.com/sudo666/gokern/cpu"
)

func TestInitProgramsDivisor(t *testing.T) {
	m := cpu.NewMachine(1)
	Init(m, 100)
	// divisor for 100Hz = 1193180/100 = 11931 = 0x2e9b; lo then hi are
	// written to the same port, so the simulated register now holds the
	// high byte written last.
	if m.In8(channel0) != 0x2e {
		t.Fatal("high divisor byte not programmed as expected")
	}
}

func TestClockTick(t *testing.T) {
	var c Clock
	if c.Tick() != 1 {
		t.Fatal("first tick should report 1")
	}
	if c.Tick() != 2 {
		t.Fatal("second tick should report 2")
	}
}
