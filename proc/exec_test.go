package proc

import (
	"testing"

	"github.com/sudo666/gokern/mem"
)

func TestExecveReplacesAddressSpace(t *testing.T) {
	s, stacks, mgr, pg := setup(t, 4096)
	first := buildELF(0x400000, 0x400000, []byte{0xc3, 0xc3, 0xc3, 0xc3})
	p, err := s.SpawnUserProcess("p", first, stacks, mgr, pg, nil)
	if err != nil {
		t.Fatalf("spawn: %v", err)
	}
	oldMM := p.MM
	oldPid := p.Pid

	second := buildELF(0x500000, 0x500000, []byte{0x90, 0x90})
	if err := s.Execve(p, second, mgr, pg); err != nil {
		t.Fatalf("execve: %v", err)
	}

	if p.Pid != oldPid {
		t.Fatal("execve must preserve pid")
	}
	if p.MM == oldMM {
		t.Fatal("execve must install a new address space")
	}
	if p.Context.RIP != 0x500000 {
		t.Fatalf("RIP after execve = %#x, want 0x500000", p.Context.RIP)
	}
	// 0x400000 shares its page table with the new 0x500000 segment, so
	// check the leaf's present bit rather than whether the walk succeeds.
	if pte, ok := pg.GetPTE(p.MM.PML4, 0x400000); ok && *pte&mem.PTE_P != 0 {
		t.Fatal("old text page should not be reachable from the new address space's lower half")
	}
}

func TestExecveLeavesProcessUnchangedOnBadELF(t *testing.T) {
	s, stacks, mgr, pg := setup(t, 4096)
	first := buildELF(0x400000, 0x400000, []byte{0xc3})
	p, _ := s.SpawnUserProcess("p", first, stacks, mgr, pg, nil)
	oldMM := p.MM

	if err := s.Execve(p, []byte{1, 2, 3}, mgr, pg); err == nil {
		t.Fatal("expected an error for malformed execve target")
	}
	if p.MM != oldMM {
		t.Fatal("failed execve must leave the original address space intact")
	}
}
