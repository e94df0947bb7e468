// Package vm implements the mmap subsystem (MM, spec.md §4.3),
// grounded on the teacher's vm/as.go (Vm_t, Lock_pmap/Unlock_pmap,
// Page_insert/Page_remove) and vm/userbuf.go, generalized from
// biscuit's COW/anonymous-page address space down to the page-aligned,
// file-backed-only model spec.md actually specifies.
package vm

import (
	"sync"

	"xv6go/internal/defs"
	"xv6go/internal/mem"
	"xv6go/internal/util"
)

// PTE is one page-table entry: a physical page plus flag bits. The
// teacher packs both into a single machine word (mem.Pa_t | perms);
// this port keeps them as separate fields since Pa_t here is an arena
// offset rather than a real physical address with spare low bits to
// pack flags into.
type PTE struct {
	PA    mem.Pa_t
	Flags defs.PteFlags
}

// Pagetable is a process's page table: a sparse map from page-aligned
// virtual address to PTE, replacing the teacher's radix-tree
// mem.Pmap_t with a Go map for the same "lazily populated, one entry
// per mapped page" shape.
type Pagetable struct {
	pgsize  int
	entries map[uintptr]*PTE
}

func NewPagetable(pgsize int) *Pagetable {
	return &Pagetable{pgsize: pgsize, entries: make(map[uintptr]*PTE)}
}

// PGSIZE reports the page size this table was built with.
func (pt *Pagetable) PGSIZE() int { return pt.pgsize }

func (pt *Pagetable) page(va uintptr) uintptr {
	return util.Rounddown(va, uintptr(pt.pgsize))
}

// Walk returns the PTE covering va, allocating a zero PTE if alloc is
// true and none exists yet -- the Go analogue of the teacher's
// pmap_walk(pmap, va, alloc).
func (pt *Pagetable) Walk(va uintptr, alloc bool) *PTE {
	page := pt.page(va)
	e, ok := pt.entries[page]
	if !ok {
		if !alloc {
			return nil
		}
		e = &PTE{}
		pt.entries[page] = e
	}
	return e
}

// Lookup returns the PTE covering va without installing one.
func (pt *Pagetable) Lookup(va uintptr) *PTE {
	return pt.entries[pt.page(va)]
}

// Clear removes the PTE covering va entirely (as opposed to zeroing
// its flags), matching Page_remove's p_pmap bookkeeping.
func (pt *Pagetable) Clear(va uintptr) {
	delete(pt.entries, pt.page(va))
}

// AddressSpace is a process's mmap-relevant virtual memory state: its
// page table and its table of mapping descriptors, both protected by
// one lock, following the teacher's Vm_t (a single sync.Mutex guarding
// Vmregion, Pmap, and P_pmap together).
type AddressSpace struct {
	sync.Mutex
	PT   *Pagetable
	Mmap *MmapTable

	pgfltaken bool
}

func NewAddressSpace(pgsize int, nslots int) *AddressSpace {
	return &AddressSpace{
		PT:   NewPagetable(pgsize),
		Mmap: NewMmapTable(nslots),
	}
}

// LockPmap acquires the address space lock and records that page-table
// manipulation is in flight, mirroring Vm_t.Lock_pmap.
func (as *AddressSpace) LockPmap() {
	as.Lock()
	as.pgfltaken = true
}

// UnlockPmap releases the address space lock.
func (as *AddressSpace) UnlockPmap() {
	as.pgfltaken = false
	as.Unlock()
}
