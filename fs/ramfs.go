// Package fs implements an in-memory filesystem: a flat, fixed-size inode
// array forming a tree via parent indices, a global pool of open-file
// records, and path resolution over ustr/bpath. Unused inodes and
// open-file records are threaded on free lists for O(1) reuse rather than
// scanned for linearly on every allocation.
package fs

import (
	"github.com/sudo666/gokern/bpath"
	"github.com/sudo666/gokern/defs"
	"github.com/sudo666/gokern/ustr"
)

// MaxFiles bounds the inode array.
const MaxFiles = 64

// MaxOpenFiles bounds the global open-file-record pool.
const MaxOpenFiles = 128

// MaxFileSize is the fixed capacity given to every regular file's
// backing buffer.
const MaxFileSize = 4096

const (
	TypeFile = 0
	TypeDir  = 1
)

const (
	dtDir = 4
	dtReg = 8
)

// inode is one ramfs node. Unused inodes are threaded on freeInode via
// next, supplementing the flat-array design with O(1) reuse.
type inode struct {
	used      bool
	kind      int
	name      string
	parent    int
	content   []byte
	size      int
	next      int // free-list link when !used
}

// openFile is one entry in the global open-file-record pool: a cursor
// into an inode, shared by every process fd that refers to the same open
// instance (e.g. after Fork), refcounted so Close only retires it once
// the last referent goes away.
type openFile struct {
	node    int
	offset  int
	refs    int
	next    int // free-list link when refs == 0
}

// FS is a single in-memory filesystem instance: the inode array and the
// open-file pool.
type FS struct {
	nodes       [MaxFiles]inode
	freeInode   int
	files       [MaxOpenFiles]openFile
	freeFile    int
}

// New returns an FS with just the root directory (inode 0) populated.
func New() *FS {
	f := &FS{}
	for i := range f.nodes {
		f.nodes[i].next = i + 1
	}
	f.nodes[MaxFiles-1].next = -1
	f.freeInode = 1 // inode 0 is carved out for root below

	for i := range f.files {
		f.files[i].next = i + 1
	}
	f.files[MaxOpenFiles-1].next = -1
	f.freeFile = 0

	f.nodes[0] = inode{used: true, kind: TypeDir, name: "", parent: -1}
	return f
}

func (f *FS) allocInode() int {
	if f.freeInode < 0 {
		return -1
	}
	idx := f.freeInode
	f.freeInode = f.nodes[idx].next
	f.nodes[idx] = inode{used: true}
	return idx
}

func (f *FS) freeInodeAt(idx int) {
	f.nodes[idx] = inode{next: f.freeInode}
	f.freeInode = idx
}

func (f *FS) allocFile(node int) int {
	if f.freeFile < 0 {
		return -1
	}
	idx := f.freeFile
	f.freeFile = f.files[idx].next
	f.files[idx] = openFile{node: node, refs: 1}
	return idx
}

// Ref bumps the refcount of the open-file-pool entry at idx, used when a
// fork shares an fd table entry with its parent.
func (f *FS) Ref(idx int) {
	if idx < 0 || idx >= MaxOpenFiles || f.files[idx].refs == 0 {
		return
	}
	f.files[idx].refs++
}

// Unref drops the refcount of the open-file-pool entry at idx, freeing it
// back to the pool once it reaches zero.
func (f *FS) Unref(idx int) {
	if idx < 0 || idx >= MaxOpenFiles || f.files[idx].refs == 0 {
		return
	}
	f.files[idx].refs--
	if f.files[idx].refs == 0 {
		f.files[idx] = openFile{next: f.freeFile}
		f.freeFile = idx
	}
}

// childNamed returns the inode index of parent's child named name, or -1.
func (f *FS) childNamed(parent int, name string) int {
	for i := range f.nodes {
		if f.nodes[i].used && f.nodes[i].parent == parent && f.nodes[i].name == name {
			return i
		}
	}
	return -1
}

// resolve walks path (relative to cwd when not absolute) and returns the
// resolved inode index, its parent index, and the final component's name
// (useful to callers like Open/Mkdir that may need to create it). "."
// is skipped, ".." climbs to the parent and is a no-op at the root, and
// a non-directory intermediate component fails the walk.
func (f *FS) resolve(cwd int, path ustr.Ustr) (node, parent int, name string, ok bool) {
	canon := bpath.Canonicalize(joinForResolve(cwd, path, f))
	parts := bpath.Split(canon)

	if len(parts) == 0 {
		return 0, f.nodes[0].parent, "", true
	}

	walked := 0
	for i, part := range parts {
		last := i == len(parts)-1
		child := f.childNamed(walked, part.String())
		if last {
			if child == -1 {
				return -1, walked, part.String(), true
			}
			return child, walked, part.String(), true
		}
		if child == -1 || f.nodes[child].kind != TypeDir {
			return -1, -1, "", false
		}
		walked = child
	}
	return walked, -1, "", true
}

// joinForResolve turns a possibly-relative path into an absolute one by
// prefixing the textual cwd, so bpath.Canonicalize always sees an
// absolute path as its contract requires.
func joinForResolve(cwd int, path ustr.Ustr, f *FS) ustr.Ustr {
	if path.IsAbsolute() {
		return path
	}
	return f.pathOf(cwd).Extend(path)
}

// pathOf reconstructs the absolute textual path of inode idx by walking
// parent indices to the root.
func (f *FS) pathOf(idx int) ustr.Ustr {
	if idx == 0 {
		return ustr.MkUstrRoot()
	}
	var names []string
	for cur := idx; cur != 0; cur = f.nodes[cur].parent {
		names = append([]string{f.nodes[cur].name}, names...)
	}
	out := ustr.Ustr{'/'}
	for i, n := range names {
		if i > 0 {
			out = append(out, '/')
		}
		out = append(out, ustr.Ustr(n)...)
	}
	return out
}

// Open resolves path relative to cwd and returns a handle into the global
// open-file pool, creating the file if it is missing and O_CREAT was
// given.
func (f *FS) Open(cwd int, path ustr.Ustr, flags int) (int, defs.Err_t) {
	node, parent, name, ok := f.resolve(cwd, path)
	if !ok {
		return -1, defs.ENOTDIR
	}
	if node == -1 {
		if flags&defs.O_CREAT == 0 {
			return -1, defs.ENOENT
		}
		if parent == -1 {
			return -1, defs.ENOENT
		}
		idx := f.allocInode()
		if idx == -1 {
			return -1, defs.ENOSPC
		}
		f.nodes[idx] = inode{used: true, kind: TypeFile, name: name, parent: parent, content: make([]byte, MaxFileSize)}
		node = idx
	}

	handle := f.allocFile(node)
	if handle == -1 {
		return -1, defs.ENOSPC
	}
	return handle, 0
}

// Read copies up to len(buf) bytes from handle's current offset, advancing
// it.
func (f *FS) Read(handle int, buf []byte) (int, defs.Err_t) {
	if handle < 0 || handle >= MaxOpenFiles || f.files[handle].refs == 0 {
		return -1, defs.EBADF
	}
	of := &f.files[handle]
	n := &f.nodes[of.node]
	if n.kind == TypeDir {
		return -1, defs.EISDIR
	}
	if of.offset >= n.size {
		return 0, 0
	}
	avail := n.size - of.offset
	cnt := len(buf)
	if cnt > avail {
		cnt = avail
	}
	copy(buf[:cnt], n.content[of.offset:of.offset+cnt])
	of.offset += cnt
	return cnt, 0
}

// Write copies buf into handle's inode at its current offset, clamped to
// MaxFileSize.
func (f *FS) Write(handle int, buf []byte) (int, defs.Err_t) {
	if handle < 0 || handle >= MaxOpenFiles || f.files[handle].refs == 0 {
		return -1, defs.EBADF
	}
	of := &f.files[handle]
	n := &f.nodes[of.node]
	if n.kind == TypeDir {
		return -1, defs.EISDIR
	}
	cnt := len(buf)
	if of.offset+cnt > MaxFileSize {
		cnt = MaxFileSize - of.offset
	}
	if cnt <= 0 {
		return 0, 0
	}
	copy(n.content[of.offset:of.offset+cnt], buf[:cnt])
	of.offset += cnt
	if of.offset > n.size {
		n.size = of.offset
	}
	return cnt, 0
}

// Close releases handle back to the open-file pool.
func (f *FS) Close(handle int) {
	f.Unref(handle)
}

// Mkdir creates a new empty directory at path, failing if it already
// exists or its parent does not.
func (f *FS) Mkdir(cwd int, path ustr.Ustr) defs.Err_t {
	node, parent, name, ok := f.resolve(cwd, path)
	if !ok {
		return defs.ENOTDIR
	}
	if node != -1 {
		return defs.EEXIST
	}
	if parent == -1 {
		return defs.ENOENT
	}
	idx := f.allocInode()
	if idx == -1 {
		return defs.ENOSPC
	}
	f.nodes[idx] = inode{used: true, kind: TypeDir, name: name, parent: parent}
	return 0
}

// Rmdir removes an empty directory at path: childless directories are
// reclaimed back onto the free-inode list.
func (f *FS) Rmdir(cwd int, path ustr.Ustr) defs.Err_t {
	node, _, _, ok := f.resolve(cwd, path)
	if !ok || node == -1 {
		return defs.ENOENT
	}
	if node == 0 {
		return defs.EACCES
	}
	if f.nodes[node].kind != TypeDir {
		return defs.ENOTDIR
	}
	for i := range f.nodes {
		if f.nodes[i].used && f.nodes[i].parent == node {
			return defs.EINVAL // not empty
		}
	}
	f.freeInodeAt(node)
	return 0
}

// Unlink removes a regular file at path.
func (f *FS) Unlink(cwd int, path ustr.Ustr) defs.Err_t {
	node, _, _, ok := f.resolve(cwd, path)
	if !ok || node == -1 {
		return defs.ENOENT
	}
	if f.nodes[node].kind != TypeFile {
		return defs.EISDIR
	}
	f.freeInodeAt(node)
	return 0
}

// Chdir resolves path and returns its inode index if it names a directory.
func (f *FS) Chdir(cwd int, path ustr.Ustr) (int, defs.Err_t) {
	node, _, _, ok := f.resolve(cwd, path)
	if !ok || node == -1 {
		return -1, defs.ENOENT
	}
	if f.nodes[node].kind != TypeDir {
		return -1, defs.ENOTDIR
	}
	return node, 0
}

// Getcwd returns the absolute textual path of cwd.
func (f *FS) Getcwd(cwd int) ustr.Ustr {
	return f.pathOf(cwd)
}

// Stat is the subset of struct stat this filesystem populates.
type Stat struct {
	Ino  uint64
	Size int64
	Mode uint32
}

// Stat resolves path and reports its inode number, size, and a
// directory/file mode bit.
func (f *FS) Stat(cwd int, path ustr.Ustr) (Stat, defs.Err_t) {
	node, _, _, ok := f.resolve(cwd, path)
	if !ok || node == -1 {
		return Stat{}, defs.ENOENT
	}
	return f.statOf(node), 0
}

// Fstat reports the same information as Stat for an already-open handle.
func (f *FS) Fstat(handle int) (Stat, defs.Err_t) {
	if handle < 0 || handle >= MaxOpenFiles || f.files[handle].refs == 0 {
		return Stat{}, defs.EBADF
	}
	return f.statOf(f.files[handle].node), 0
}

func (f *FS) statOf(node int) Stat {
	n := &f.nodes[node]
	mode := uint32(0100777)
	if n.kind == TypeDir {
		mode = 0040777
	}
	return Stat{Ino: uint64(node) + 1, Size: int64(n.size), Mode: mode}
}

// Dirent is one getdents64-style directory entry.
type Dirent struct {
	Ino  uint64
	Type uint8
	Name string
}

// Getdents64 lists the children of handle's directory starting at its
// current offset (an inode-array cursor), advancing the offset by one
// past the last entry visited so repeated calls progress through the
// array and eventually return an empty slice, without requiring callers
// to fit a serialized byte buffer.
func (f *FS) Getdents64(handle int, maxEntries int) ([]Dirent, defs.Err_t) {
	if handle < 0 || handle >= MaxOpenFiles || f.files[handle].refs == 0 {
		return nil, defs.EBADF
	}
	of := &f.files[handle]
	n := &f.nodes[of.node]
	if n.kind != TypeDir {
		return nil, defs.ENOTDIR
	}

	var out []Dirent
	idx := of.offset
	for idx < MaxFiles && len(out) < maxEntries {
		if f.nodes[idx].used && f.nodes[idx].parent == of.node {
			dt := uint8(dtReg)
			if f.nodes[idx].kind == TypeDir {
				dt = dtDir
			}
			out = append(out, Dirent{Ino: uint64(idx) + 1, Type: dt, Name: f.nodes[idx].name})
		}
		idx++
	}
	of.offset = idx
	return out, 0
}
