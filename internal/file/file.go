// Package file implements the file-handle collaborator (spec.md §3):
// a reference-counted, tagged variant over {pipe, inode, device}.
// Per spec.md §9's explicit design note ("prefer an explicit sum type
// ... not a virtual-dispatch table"), this is a deliberate departure
// from the teacher's own fd.go, which dispatches through an Fdops_i
// interface; here Kind is switched on explicitly.
package file

import (
	"sync"

	"xv6go/internal/defs"
	"xv6go/internal/fsys"
	"xv6go/internal/klog"
	"xv6go/internal/limits"
)

// Kind discriminates the file variant.
type Kind int

const (
	KindNone Kind = iota
	KindPipe
	KindInode
	KindDevice
)

// File_t is the tagged sum type. Only the fields relevant to Kind are
// meaningful; the struct stays POD rather than growing a vtable, per
// spec.md §9.
type File_t struct {
	mu sync.Mutex

	Kind     Kind
	Readable bool
	Writable bool
	ref      int

	// KindPipe
	Pipe *Pipe_t

	// KindInode
	Inode  *fsys.Inode_t
	Off    int // current read/write offset, owned by the holder, not shared

	// KindDevice
	Major int
}

// Table is the system-wide open file table (spec.md §3's NFILE-sized
// collaborator), protected by a single lock exactly as
// original_source/kernel/file.c's `struct { spinlock lock; file
// file[NFILE]; } ftable` is.
type Table struct {
	mu    sync.Mutex
	files []*File_t
}

func NewTable(cfg limits.Config) *Table {
	t := &Table{}
	for i := 0; i < cfg.NFILE; i++ {
		t.files = append(t.files, &File_t{})
	}
	return t
}

// Alloc returns a fresh File_t with ref count 1, or nil if the table
// is full (spec.md §7 "Expected failure").
func (t *Table) Alloc() *File_t {
	t.mu.Lock()
	defer t.mu.Unlock()
	for _, f := range t.files {
		f.mu.Lock()
		if f.ref == 0 {
			f.ref = 1
			f.mu.Unlock()
			return f
		}
		f.mu.Unlock()
	}
	return nil
}

// Dup increments f's reference count and returns f.
func (t *Table) Dup(f *File_t) *File_t {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.ref < 1 {
		klog.Panic("filedup: unreferenced file", nil)
	}
	f.ref++
	return f
}

// Close decrements f's reference count, freeing the slot at zero.
func (t *Table) Close(f *File_t) {
	f.mu.Lock()
	if f.ref < 1 {
		f.mu.Unlock()
		klog.Panic("fileclose: unreferenced file", nil)
	}
	f.ref--
	done := f.ref == 0
	if done {
		f.Kind = KindNone
		f.Pipe = nil
		f.Inode = nil
	}
	f.mu.Unlock()
}

// Ref reports the current reference count, for tests and diagnostics.
func (f *File_t) Ref() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.ref
}

// Read dispatches to the variant's read path. userFlag is forwarded to
// InodeRead, matching spec.md §6.
func (f *File_t) Read(dst []byte, userFlag bool) (int, defs.Err_t) {
	switch f.Kind {
	case KindPipe:
		return f.Pipe.Read(dst)
	case KindInode:
		f.Inode.InodeLock()
		n, err := fsys.InodeRead(f.Inode, userFlag, dst, f.Off, len(dst))
		f.Inode.InodeUnlock()
		if err == 0 {
			f.Off += n
		}
		return n, err
	default:
		return 0, -defs.EINVAL
	}
}

// Write dispatches to the variant's write path.
func (f *File_t) Write(src []byte, userFlag bool) (int, defs.Err_t) {
	switch f.Kind {
	case KindPipe:
		return f.Pipe.Write(src)
	case KindInode:
		f.Inode.InodeLock()
		n, err := fsys.InodeWrite(f.Inode, userFlag, src, f.Off, len(src))
		f.Inode.InodeUnlock()
		if err == 0 {
			f.Off += n
		}
		return n, err
	default:
		return 0, -defs.EINVAL
	}
}
