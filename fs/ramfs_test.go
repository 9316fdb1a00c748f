package fs

import (
	"testing"

	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/ustr"
)

func mkpath(p string) ustr.Ustr { return ustr.Ustr(p) }

func TestOpenCreateWriteRead(t *testing.T) {
	f := New()
	h, errno := f.Open(0, mkpath("/hello.txt"), defs.O_CREAT|defs.O_RDWR)
	if errno != 0 {
		t.Fatalf("open failed: %v", errno)
	}
	n, errno := f.Write(h, []byte("hi there"))
	if errno != 0 || n != 8 {
		t.Fatalf("write: n=%d errno=%v", n, errno)
	}

	h2, errno := f.Open(0, mkpath("/hello.txt"), 0)
	if errno != 0 {
		t.Fatalf("reopen failed: %v", errno)
	}
	buf := make([]byte, 32)
	n, errno = f.Read(h2, buf)
	if errno != 0 || string(buf[:n]) != "hi there" {
		t.Fatalf("read back = %q, errno=%v", buf[:n], errno)
	}
}

func TestOpenWithoutCreateFailsOnMissingFile(t *testing.T) {
	f := New()
	if _, errno := f.Open(0, mkpath("/nope"), 0); errno != defs.ENOENT {
		t.Fatalf("expected ENOENT, got %v", errno)
	}
}

func TestMkdirAndNestedPath(t *testing.T) {
	f := New()
	if errno := f.Mkdir(0, mkpath("/usr")); errno != 0 {
		t.Fatalf("mkdir /usr: %v", errno)
	}
	if errno := f.Mkdir(0, mkpath("/usr")); errno != defs.EEXIST {
		t.Fatalf("expected EEXIST on duplicate mkdir, got %v", errno)
	}
	usr, errno := f.Chdir(0, mkpath("/usr"))
	if errno != 0 {
		t.Fatalf("chdir /usr: %v", errno)
	}
	h, errno := f.Open(usr, mkpath("shell.c"), defs.O_CREAT)
	if errno != 0 {
		t.Fatalf("create relative to cwd: %v", errno)
	}
	st, errno := f.Fstat(h)
	if errno != 0 || st.Mode&0040000 != 0 {
		t.Fatalf("shell.c should be a regular file: mode=%o err=%v", st.Mode, errno)
	}
}

func TestDotDotClimbsAndNoOpsAtRoot(t *testing.T) {
	f := New()
	f.Mkdir(0, mkpath("/a"))
	f.Mkdir(0, mkpath("/a/b"))

	node, errno := f.Chdir(0, mkpath("/a/b/../b"))
	if errno != 0 {
		t.Fatalf("chdir with ..: %v", errno)
	}
	want, _ := f.Chdir(0, mkpath("/a/b"))
	if node != want {
		t.Fatalf("../b should resolve to /a/b, got node %d want %d", node, want)
	}

	root, errno := f.Chdir(0, mkpath("/../.."))
	if errno != 0 || root != 0 {
		t.Fatalf(".. above root should no-op at root, got node=%d err=%v", root, errno)
	}
}

func TestGetdents64ListsChildren(t *testing.T) {
	f := New()
	f.Mkdir(0, mkpath("/d"))
	f.Open(0, mkpath("/d/a"), defs.O_CREAT)
	f.Open(0, mkpath("/d/b"), defs.O_CREAT)

	dh, errno := f.Open(0, mkpath("/d"), 0)
	if errno != 0 {
		t.Fatalf("open dir: %v", errno)
	}
	ents, errno := f.Getdents64(dh, 16)
	if errno != 0 {
		t.Fatalf("getdents64: %v", errno)
	}
	if len(ents) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ents))
	}
	names := map[string]bool{ents[0].Name: true, ents[1].Name: true}
	if !names["a"] || !names["b"] {
		t.Fatalf("unexpected dirent names: %v", ents)
	}
}

func TestUnlinkAndRmdirReuseInodes(t *testing.T) {
	f := New()
	h, _ := f.Open(0, mkpath("/x"), defs.O_CREAT)
	f.Close(h)
	xst, _ := f.Stat(0, mkpath("/x"))
	if errno := f.Unlink(0, mkpath("/x")); errno != 0 {
		t.Fatalf("unlink: %v", errno)
	}
	if _, errno := f.Open(0, mkpath("/x"), 0); errno != defs.ENOENT {
		t.Fatalf("unlinked file should be gone, got %v", errno)
	}

	f.Mkdir(0, mkpath("/empty"))
	if est, _ := f.Stat(0, mkpath("/empty")); est.Ino != xst.Ino {
		t.Fatalf("mkdir after unlink should reuse inode %d, got %d", xst.Ino, est.Ino)
	}
	if errno := f.Rmdir(0, mkpath("/empty")); errno != 0 {
		t.Fatalf("rmdir: %v", errno)
	}

	f.Mkdir(0, mkpath("/full"))
	f.Open(0, mkpath("/full/file"), defs.O_CREAT)
	if errno := f.Rmdir(0, mkpath("/full")); errno == 0 {
		t.Fatal("rmdir on a non-empty directory must fail")
	}
}

func TestRefcountedCloseKeepsSharedHandleAlive(t *testing.T) {
	f := New()
	h, _ := f.Open(0, mkpath("/shared"), defs.O_CREAT)
	f.Ref(h)
	f.Close(h) // drops to 1 ref
	if _, errno := f.Read(h, make([]byte, 1)); errno != 0 {
		t.Fatal("handle should still be valid with one ref left")
	}
	f.Close(h) // drops to 0
	if _, errno := f.Read(h, make([]byte, 1)); errno != defs.EBADF {
		t.Fatalf("handle should be invalid once refcount hits zero, got %v", errno)
	}
}

func TestGetcwdReconstructsPath(t *testing.T) {
	f := New()
	f.Mkdir(0, mkpath("/a"))
	f.Mkdir(0, mkpath("/a/b"))
	node, _ := f.Chdir(0, mkpath("/a/b"))
	if got := f.Getcwd(node).String(); got != "/a/b" {
		t.Fatalf("getcwd = %q, want /a/b", got)
	}
	if got := f.Getcwd(0).String(); got != "/" {
		t.Fatalf("getcwd(root) = %q, want /", got)
	}
}
