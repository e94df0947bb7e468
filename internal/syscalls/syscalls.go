// Package syscalls provides thin wrappers matching spec.md §6's
// syscall-surface stubs: enough of a caller for MmapDup-across-fork
// and munmap/page-fault call sites to be exercised end-to-end, without
// this repository implementing a real syscall dispatcher (out of
// scope). Grounded on original_source/kernel/sysproc.c for Pgaccess's
// exact semantics and on the teacher's own syscall entry points for
// the rest.
package syscalls

import (
	"xv6go/internal/defs"
	"xv6go/internal/file"
	"xv6go/internal/proc"
)

// Fork duplicates parent into a new process, including every active
// mmap mapping, per spec.md §4.3.
func Fork(procs *proc.Table, parent *proc.Proc_t, pgsize, nofile int, ftable *file.Table) (*proc.Proc_t, defs.Err_t) {
	child, ok := procs.Fork(parent, pgsize, nofile, ftable)
	if !ok {
		return nil, -defs.ENOMEM
	}
	return child, 0
}

// Exit removes p from the process table. Real xv6 also reparents
// children and wakes a waiting parent; this repository's scope is
// PA/BC/MM, so Exit only does the part that touches those subsystems'
// state indirectly (freeing the process-table slot).
func Exit(procs *proc.Table, p *proc.Proc_t) {
	procs.Exit(p.Pid)
}

// Wait is a non-blocking stub: spec.md's scope is PA/BC/MM, not
// scheduling, so there is no process hierarchy to actually wait on.
func Wait(procs *proc.Table, pid defs.Pid_t) (defs.Pid_t, defs.Err_t) {
	if _, ok := procs.Get(pid); !ok {
		return 0, -defs.EINVAL
	}
	return pid, 0
}

// Kill marks a process killed.
func Kill(procs *proc.Table, pid defs.Pid_t) defs.Err_t {
	p, ok := procs.Get(pid)
	if !ok {
		return -defs.EINVAL
	}
	p.Killed = true
	return 0
}

// Getpid returns p's pid.
func Getpid(p *proc.Proc_t) defs.Pid_t { return p.Pid }

// Sbrk is a non-goal stub: this repository models file-backed mmap
// only (spec.md §3 Non-goals: "no anonymous/demand-zero mmap"), so
// growing the heap via brk/sbrk has nowhere to attach and always
// fails.
func Sbrk(int) (uintptr, defs.Err_t) { return 0, -defs.ENOMEM }

// Sleep and Uptime are scheduling-surface stubs outside this
// repository's scope; they exist only so callers compiled against the
// full syscall surface have something to link against.
func Sleep(int) defs.Err_t { return 0 }
func Uptime() int          { return 0 }

// Pgaccess reads the PTE_A ("accessed") bit for n consecutive pages
// starting at begin, clearing each bit as it is read, and packs the
// result into a bitmask -- the same algorithm as
// original_source/kernel/sysproc.c's sys_pgaccess, generalized off a
// raw walk() call onto vm.Pagetable.Walk.
func Pgaccess(p *proc.Proc_t, begin uintptr, n int) ([]byte, defs.Err_t) {
	if n > 64 {
		return nil, -defs.EINVAL
	}
	bitmask := make([]byte, 8)
	pgsize := uintptr(p.AS.PT.PGSIZE())

	p.AS.LockPmap()
	defer p.AS.UnlockPmap()

	for i := 0; i < n; i++ {
		pte := p.AS.PT.Walk(begin+uintptr(i)*pgsize, false)
		if pte != nil && pte.Flags&defs.PTE_A != 0 {
			bitmask[i/8] |= 1 << uint(i%8)
			pte.Flags &^= defs.PTE_A
		}
	}
	return bitmask[:n/8], 0
}
