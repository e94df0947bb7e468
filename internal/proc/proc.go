// Package proc is the process-table collaborator spec.md §6 treats as
// external: a minimal Proc_t carrying exactly what MM needs (an
// address space and its mmap slots) plus the accounting fields the
// original xv6/biscuit process record carries but spec.md elides
// (spec.md's Non-goals don't name accounting, so it is fair game to
// supplement). Grounded on the teacher's proc package (Proc_t's shape)
// and hashtable/hashtable.go (the pid-keyed table).
package proc

import (
	"sync"

	"xv6go/internal/defs"
	"xv6go/internal/file"
	"xv6go/internal/hashtable"
	"xv6go/internal/vm"
)

// Proc_t is one process's kernel-visible state, trimmed to the fields
// PA/BC/MM actually exercise: its address space (page table + mmap
// slots), its pid, a kill flag, and its CPU-time accounting.
type Proc_t struct {
	Pid    defs.Pid_t
	Killed bool

	AS *vm.AddressSpace

	Accnt_t
}

// New creates a fresh process with an empty address space sized per
// pgsize/nofile (spec.md §6 constants PGSIZE/NOFILE).
func New(pid defs.Pid_t, pgsize, nofile int) *Proc_t {
	return &Proc_t{
		Pid: pid,
		AS:  vm.NewAddressSpace(pgsize, nofile),
	}
}

// Table is the system-wide pid -> *Proc_t map, implemented on top of
// the generic hashtable package (itself a generics rewrite of the
// teacher's own hashtable.Hashtable_t) rather than a plain
// sync.Map/map+mutex, matching the teacher's own choice of a
// bucket-sharded table for the process table.
type Table struct {
	mu      sync.Mutex // guards nextPid only; the hashtable itself needs no external lock
	nextPid defs.Pid_t
	procs   *hashtable.Table[defs.Pid_t, *Proc_t]
}

func NewTable(nbuckets int) *Table {
	return &Table{
		nextPid: 1,
		procs:   hashtable.New[defs.Pid_t, *Proc_t](nbuckets, hashtable.HashUint64[defs.Pid_t]),
	}
}

// Spawn allocates a fresh pid and inserts a new Proc_t for it.
func (t *Table) Spawn(pgsize, nofile int) *Proc_t {
	t.mu.Lock()
	pid := t.nextPid
	t.nextPid++
	t.mu.Unlock()

	p := New(pid, pgsize, nofile)
	t.procs.Set(pid, p)
	return p
}

// Get looks up a process by pid.
func (t *Table) Get(pid defs.Pid_t) (*Proc_t, bool) {
	return t.procs.Get(pid)
}

// Range calls fn for every live process, for callers (the metrics
// exporter) that need to walk the whole table rather than look up one
// pid.
func (t *Table) Range(fn func(*Proc_t)) {
	t.procs.Range(func(_ defs.Pid_t, p *Proc_t) { fn(p) })
}

// Exit removes pid from the table. Callers are expected to have
// already torn down the process's mappings (munmap every slot) before
// calling Exit, the same ordering original_source/kernel/proc.c's
// exit() imposes via uvmfree's mmap walk.
func (t *Table) Exit(pid defs.Pid_t) {
	t.procs.Del(pid)
}

// Fork creates a child process and duplicates every active mapping
// from parent into the child's address space via vm.MmapDup, matching
// spec.md §4.3's "duplication across fork" contract. It stops and
// returns false on the first slot vm.MmapDup can't duplicate (child
// table full), leaving partially-duplicated state exactly as
// original_source/kernel/proc.c's fork() would mid-failure -- callers
// are expected to discard the child on a false return.
func (t *Table) Fork(parent *Proc_t, pgsize, nofile int, ftable *file.Table) (*Proc_t, bool) {
	child := t.Spawn(pgsize, nofile)
	for _, m := range parent.AS.Mmap.Slots() {
		if m == nil {
			continue
		}
		if _, ok := vm.MmapDup(m, child.AS, ftable); !ok {
			return child, false
		}
	}
	return child, true
}
