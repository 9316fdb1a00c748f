package proc

import (
	"testing"

	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/fs"
	"github.com/sudo666/gokern/ustr"
)

func TestForkDuplicatesAddressSpaceIndependently(t *testing.T) {
	s, stacks, mgr, pg := setup(t, 4096)
	raw := buildELF(0x400000, 0x400000, []byte{0xc3, 0xc3, 0xc3, 0xc3})
	parent, err := s.SpawnUserProcess("parent", raw, stacks, mgr, pg, nil)
	if err != nil {
		t.Fatalf("spawn parent: %v", err)
	}
	parent.TrapFrame.RAX = 99

	child, err := s.Fork(parent, mgr, stacks, nil)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if child.Pid == parent.Pid {
		t.Fatal("child must have a distinct pid")
	}
	if child.Parent != parent {
		t.Fatal("child.Parent must point back at parent")
	}
	if child.TrapFrame.RAX != 0 {
		t.Fatalf("fork() must return 0 in the child's trap frame, got %d", child.TrapFrame.RAX)
	}
	if parent.TrapFrame.RAX != 99 {
		t.Fatal("fork must not mutate the parent's trap frame")
	}

	childPte, ok := pg.GetPTE(child.MM.PML4, 0x400000)
	if !ok {
		t.Fatal("child should have the text page mapped")
	}
	parentPte, _ := pg.GetPTE(parent.MM.PML4, 0x400000)
	if *childPte == *parentPte {
		t.Fatal("child and parent should not share the same backing frame")
	}
}

func TestForkSharesFdTableWithRefcount(t *testing.T) {
	s, stacks, mgr, pg := setup(t, 4096)
	raw := buildELF(0x400000, 0x400000, []byte{0xc3, 0xc3, 0xc3, 0xc3})
	parent, _ := s.SpawnUserProcess("parent", raw, stacks, mgr, pg, nil)

	files := fs.New()
	handle, errno := files.Open(0, ustr.MkUstrRoot().ExtendStr("init"), defs.O_CREAT)
	if errno != 0 {
		t.Fatalf("open /init: %v", errno)
	}
	parent.Files[3] = handle

	child, err := s.Fork(parent, mgr, stacks, files)
	if err != nil {
		t.Fatalf("fork: %v", err)
	}
	if child.Files[3] != handle {
		t.Fatal("child should inherit the same fd table entry")
	}

	files.Close(handle) // parent's close must not invalidate child's fd
	if _, errno := files.Read(child.Files[3], make([]byte, 1)); errno != 0 {
		t.Fatal("child's fd should still be valid after parent closes its copy")
	}
}
