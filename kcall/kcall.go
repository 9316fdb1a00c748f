// Package kcall implements the syscall fan-out table bound to the
// syscall gate vector: it decodes a trap frame's syscall number and
// Linux-compatible argument registers, dispatches to the process,
// address-space, and filesystem layers, and writes the result (or a
// negative errno) back into the frame's return register.
package kcall

import (
	"encoding/binary"
	"log"

	"github.com/sudo666/gokern/cpu"
	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/fs"
	"github.com/sudo666/gokern/kheap"
	"github.com/sudo666/gokern/mem"
	"github.com/sudo666/gokern/paging"
	"github.com/sudo666/gokern/proc"
	"github.com/sudo666/gokern/trap"
	"github.com/sudo666/gokern/ustr"
	"github.com/sudo666/gokern/vmm"
)

// maxPathLen bounds how many bytes a path argument is copied in before
// giving up looking for its terminating NUL.
const maxPathLen = 256

// Table binds the syscall handler to the kernel subsystems it dispatches
// into.
type Table struct {
	Sched  *proc.Scheduler
	Mgr    *vmm.Manager
	Pager  *paging.Pager
	Stacks *kheap.StackArena
	Files  *fs.FS
}

// New returns a Table ready to be registered on a trap.Dispatcher at
// idt.SyscallVector.
func New(sched *proc.Scheduler, mgr *vmm.Manager, pager *paging.Pager, stacks *kheap.StackArena, files *fs.FS) *Table {
	return &Table{Sched: sched, Mgr: mgr, Pager: pager, Stacks: stacks, Files: files}
}

// Handle is a trap.Handler: it reads the syscall number and arguments out
// of f per the x86_64 syscall ABI (RAX = number, RDI/RSI/RDX/R10/R8/R9 =
// args 1..6) and writes the call's result back into f.RAX.
func (t *Table) Handle(m *cpu.Machine, f *trap.TrapFrame) {
	p := t.Sched.Current()
	num := int64(f.RAX)
	a1, a2, a3 := mem.Va_t(f.RDI), mem.Va_t(f.RSI), mem.Va_t(f.RDX)

	var ret int64
	switch int(num) {
	case defs.SYS_GETPID:
		ret = int64(p.Pid)
	case defs.SYS_GETPPID:
		if p.Parent != nil {
			ret = int64(p.Parent.Pid)
		}
	case defs.SYS_YIELD:
		t.Sched.Schedule(true)
	case defs.SYS_READ:
		ret = int64(t.sysRead(p, int(a1), a2, int(a3)))
	case defs.SYS_WRITE:
		ret = int64(t.sysWrite(p, int(a1), a2, int(a3)))
	case defs.SYS_OPEN:
		ret = int64(t.sysOpen(p, a1, int(a2)))
	case defs.SYS_CLOSE:
		ret = int64(t.sysClose(p, int(a1)))
	case defs.SYS_STAT:
		ret = int64(t.sysStat(p, a1, a2))
	case defs.SYS_FSTAT:
		ret = int64(t.sysFstat(p, int(a1), a2))
	case defs.SYS_GETCWD:
		ret = int64(t.sysGetcwd(p, a1, int(a2)))
	case defs.SYS_CHDIR:
		ret = int64(t.sysChdir(p, a1))
	case defs.SYS_MKDIR:
		ret = int64(t.sysMkdir(p, a1))
	case defs.SYS_GETDENTS64:
		ret = int64(t.sysGetdents64(p, int(a1), a2, int(a3)))
	case defs.SYS_FORK:
		ret = int64(t.sysFork(p))
	case defs.SYS_EXECVE:
		ret = int64(t.sysExecve(p, a1))
	case defs.SYS_EXIT:
		t.Sched.Exit(p, int(a1), t.Files)
	case defs.SYS_BRK:
		ret = int64(t.sysBrk(p, a1))
	case defs.SYS_LSEEK, defs.SYS_WAIT4:
		ret = int64(defs.ENOSYS)
	case defs.SYS_MMAP, defs.SYS_MUNMAP, defs.SYS_NANOSLEEP, defs.SYS_GETTIMEOFDAY:
		ret = 0
	default:
		log.Printf("kcall: unknown syscall number %d", num)
		ret = int64(defs.ENOSYS)
	}
	f.RAX = uint64(ret)
}

func readCString(as *vmm.AddressSpace, va mem.Va_t) (string, defs.Err_t) {
	buf := make([]byte, maxPathLen)
	if errno := as.CopyIn(va, buf); errno != 0 {
		return "", errno
	}
	for i, b := range buf {
		if b == 0 {
			return string(buf[:i]), 0
		}
	}
	return "", defs.ENAMETOOLONG
}

func allocFd(p *proc.PCB) int {
	for i, h := range p.Files {
		if h == -1 {
			return i
		}
	}
	return -1
}

func (t *Table) sysOpen(p *proc.PCB, pathVa mem.Va_t, flags int) defs.Err_t {
	path, errno := readCString(p.MM, pathVa)
	if errno != 0 {
		return errno
	}
	fd := allocFd(p)
	if fd == -1 {
		return defs.ENOSPC
	}
	handle, errno := t.Files.Open(p.CwdInode, ustr.MkUstrSlice([]byte(path)), flags)
	if errno != 0 {
		return errno
	}
	p.Files[fd] = handle
	return defs.Err_t(fd)
}

func (t *Table) sysClose(p *proc.PCB, fd int) defs.Err_t {
	if fd < 0 || fd >= proc.MaxOpenFiles || p.Files[fd] == -1 {
		return defs.EBADF
	}
	t.Files.Close(p.Files[fd])
	p.Files[fd] = -1
	return 0
}

func (t *Table) sysRead(p *proc.PCB, fd int, bufVa mem.Va_t, count int) defs.Err_t {
	if fd < 0 || fd >= proc.MaxOpenFiles {
		return defs.EBADF
	}
	if p.Files[fd] == -1 {
		if fd == defs.D_CONSOLE || fd == 0 {
			return 0 // no stdin source; behaves as EOF
		}
		return defs.EBADF
	}
	buf := make([]byte, count)
	n, errno := t.Files.Read(p.Files[fd], buf)
	if errno != 0 {
		return errno
	}
	if errno := p.MM.CopyOut(bufVa, buf[:n]); errno != 0 {
		return errno
	}
	return defs.Err_t(n)
}

func (t *Table) sysWrite(p *proc.PCB, fd int, bufVa mem.Va_t, count int) defs.Err_t {
	if fd < 0 || fd >= proc.MaxOpenFiles {
		return defs.EBADF
	}
	buf := make([]byte, count)
	if p.MM != nil {
		if errno := p.MM.CopyIn(bufVa, buf); errno != 0 {
			return errno
		}
	}
	if p.Files[fd] == -1 {
		if fd == 1 || fd == 2 {
			log.Printf("console: %s", buf)
			return defs.Err_t(count)
		}
		return defs.EBADF
	}
	n, errno := t.Files.Write(p.Files[fd], buf)
	if errno != 0 {
		return errno
	}
	return defs.Err_t(n)
}

func encodeStat(st fs.Stat) []byte {
	buf := make([]byte, 20)
	binary.LittleEndian.PutUint64(buf[0:8], st.Ino)
	binary.LittleEndian.PutUint64(buf[8:16], uint64(st.Size))
	binary.LittleEndian.PutUint32(buf[16:20], st.Mode)
	return buf
}

func (t *Table) sysStat(p *proc.PCB, pathVa, statVa mem.Va_t) defs.Err_t {
	path, errno := readCString(p.MM, pathVa)
	if errno != 0 {
		return errno
	}
	st, errno := t.Files.Stat(p.CwdInode, ustr.MkUstrSlice([]byte(path)))
	if errno != 0 {
		return errno
	}
	return p.MM.CopyOut(statVa, encodeStat(st))
}

func (t *Table) sysFstat(p *proc.PCB, fd int, statVa mem.Va_t) defs.Err_t {
	if fd < 0 || fd >= proc.MaxOpenFiles || p.Files[fd] == -1 {
		return defs.EBADF
	}
	st, errno := t.Files.Fstat(p.Files[fd])
	if errno != 0 {
		return errno
	}
	return p.MM.CopyOut(statVa, encodeStat(st))
}

func (t *Table) sysGetcwd(p *proc.PCB, bufVa mem.Va_t, size int) defs.Err_t {
	path := t.Files.Getcwd(p.CwdInode)
	out := make([]byte, 0, len(path)+1)
	out = append(out, path...)
	out = append(out, 0)
	if len(out) > size {
		return defs.ENAMETOOLONG
	}
	if errno := p.MM.CopyOut(bufVa, out); errno != 0 {
		return errno
	}
	return defs.Err_t(len(out))
}

func (t *Table) sysChdir(p *proc.PCB, pathVa mem.Va_t) defs.Err_t {
	path, errno := readCString(p.MM, pathVa)
	if errno != 0 {
		return errno
	}
	node, errno := t.Files.Chdir(p.CwdInode, ustr.MkUstrSlice([]byte(path)))
	if errno != 0 {
		return errno
	}
	p.CwdInode = node
	return 0
}

func (t *Table) sysMkdir(p *proc.PCB, pathVa mem.Va_t) defs.Err_t {
	path, errno := readCString(p.MM, pathVa)
	if errno != 0 {
		return errno
	}
	return t.Files.Mkdir(p.CwdInode, ustr.MkUstrSlice([]byte(path)))
}

// direntRecordSize is the fixed per-entry size this encoding uses: an
// 8-byte inode number, a 1-byte type tag, and a 247-byte NUL-padded name.
const direntRecordSize = 256

func (t *Table) sysGetdents64(p *proc.PCB, fd int, bufVa mem.Va_t, count int) defs.Err_t {
	if fd < 0 || fd >= proc.MaxOpenFiles || p.Files[fd] == -1 {
		return defs.EBADF
	}
	maxEntries := count / direntRecordSize
	entries, errno := t.Files.Getdents64(p.Files[fd], maxEntries)
	if errno != 0 {
		return errno
	}
	out := make([]byte, 0, len(entries)*direntRecordSize)
	for _, d := range entries {
		rec := make([]byte, direntRecordSize)
		binary.LittleEndian.PutUint64(rec[0:8], d.Ino)
		rec[8] = d.Type
		copy(rec[9:], d.Name)
		out = append(out, rec...)
	}
	if errno := p.MM.CopyOut(bufVa, out); errno != 0 {
		return errno
	}
	return defs.Err_t(len(out))
}

func (t *Table) sysFork(p *proc.PCB) defs.Err_t {
	child, err := t.Sched.Fork(p, t.Mgr, t.Stacks, t.Files)
	if err != nil {
		return defs.ENOMEM
	}
	return defs.Err_t(child.Pid)
}

func (t *Table) sysExecve(p *proc.PCB, pathVa mem.Va_t) defs.Err_t {
	path, errno := readCString(p.MM, pathVa)
	if errno != 0 {
		return errno
	}
	handle, errno := t.Files.Open(p.CwdInode, ustr.MkUstrSlice([]byte(path)), defs.O_RDONLY)
	if errno != 0 {
		return errno
	}
	defer t.Files.Close(handle)

	buf := make([]byte, fs.MaxFileSize)
	n, errno := t.Files.Read(handle, buf)
	if errno != 0 {
		return errno
	}
	if err := t.Sched.Execve(p, buf[:n], t.Mgr, t.Pager); err != nil {
		return defs.ENOEXEC
	}
	return 0
}

func (t *Table) sysBrk(p *proc.PCB, newBrk mem.Va_t) defs.Err_t {
	if p.MM == nil {
		return defs.ENOMEM
	}
	brk, errno := p.MM.Brk(newBrk)
	if errno != 0 {
		return errno
	}
	return defs.Err_t(brk)
}
