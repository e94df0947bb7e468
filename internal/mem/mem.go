// Package mem implements the per-CPU physical page allocator (PA),
// spec.md §4.2. It is grounded on the teacher's mem package
// (mem/mem.go's per-CPU free lists and Refaddr/Dmap indirection) and
// on original_source/kernel/kalloc.c, whose kalloc/kfree/kinit shape
// this package follows almost line for line.
package mem

import (
	"encoding/binary"
	"sync"

	"xv6go/internal/klog"
	"xv6go/internal/limits"
)

// Pa_t is a simulated physical address: an offset into the
// allocator's arena, biased by Config.KernEnd so that addresses fall
// in [KernEnd, PHYSTOP) exactly as spec.md §3 requires.
type Pa_t uintptr

const noNext = ^uint64(0)

// cpuFreelist is one CPU's free-page list and its own lock, mirroring
// kalloc.c's `struct { struct spinlock lock; struct run *freelist; }
// kmem[NCPU]`.
type cpuFreelist struct {
	mu   sync.Mutex
	head Pa_t // 0 means empty
}

// Allocator is the PA singleton: NCPU independent free lists sharing
// one backing arena of simulated physical memory.
type Allocator struct {
	cfg   limits.Config
	arena []byte
	cpus  []cpuFreelist
}

// New allocates (but does not populate) an Allocator sized per cfg.
// Call Kinit to sweep the arena onto CPU 0's free list, exactly as
// the real kinit() does by calling kfree on every page in
// [end, PHYSTOP).
func New(cfg limits.Config) *Allocator {
	a := &Allocator{
		cfg:   cfg,
		arena: make([]byte, cfg.PHYSTOP-cfg.KernEnd),
		cpus:  make([]cpuFreelist, cfg.NCPU),
	}
	return a
}

// Kinit sweeps [KernEnd, PHYSTOP) onto the free list of whichever CPU
// is passed as bootCPU, by repeatedly calling Kfree -- the same
// structure as original_source/kernel/kalloc.c's freerange, and the
// reason spec.md §9 notes all pages start on one CPU's list.
func (a *Allocator) Kinit(bootCPU int) {
	pg := a.cfg.PGSIZE
	for pa := a.cfg.KernEnd; pa+pg <= a.cfg.PHYSTOP; pa += pg {
		a.Kfree(bootCPU, Pa_t(pa))
	}
}

func (a *Allocator) pageBytes(pa Pa_t) []byte {
	off := int(pa) - a.cfg.KernEnd
	return a.arena[off : off+a.cfg.PGSIZE]
}

func (a *Allocator) valid(pa Pa_t) bool {
	p := int(pa)
	if p%a.cfg.PGSIZE != 0 {
		return false
	}
	return p >= a.cfg.KernEnd && p+a.cfg.PGSIZE <= a.cfg.PHYSTOP
}

// Kfree returns a page to cpu's free list. Precondition (spec.md
// §4.2): pa must be page-aligned and within [end, PHYSTOP); violation
// is fatal, matching kalloc.c's "panic(kfree)".
func (a *Allocator) Kfree(cpu int, pa Pa_t) {
	if !a.valid(pa) {
		klog.Panic("kfree: bad address", klog.Fields{"pa": uintptr(pa)})
	}
	pg := a.pageBytes(pa)
	for i := range pg {
		pg[i] = 0x01
	}

	fl := &a.cpus[cpu]
	fl.mu.Lock()
	binary.LittleEndian.PutUint64(pg, encodeNext(fl.head))
	fl.head = pa
	fl.mu.Unlock()
}

// Kalloc allocates one page pinned to cpu, stealing a single page from
// another CPU's free list if cpu's own list is empty (spec.md §4.2
// steps 1-4). Returns ok=false if every CPU's free list is empty.
func (a *Allocator) Kalloc(cpu int) (Pa_t, []byte, bool) {
	if pa, ok := a.popLocal(cpu); ok {
		return a.scribbleAlloc(pa)
	}
	for i := range a.cpus {
		if i == cpu {
			continue
		}
		if pa, ok := a.popLocal(i); ok {
			return a.scribbleAlloc(pa)
		}
	}
	return 0, nil, false
}

func (a *Allocator) popLocal(cpu int) (Pa_t, bool) {
	fl := &a.cpus[cpu]
	fl.mu.Lock()
	defer fl.mu.Unlock()
	if fl.head == 0 {
		return 0, false
	}
	pa := fl.head
	next := decodeNext(binary.LittleEndian.Uint64(a.pageBytes(pa)))
	fl.head = next
	return pa, true
}

func (a *Allocator) scribbleAlloc(pa Pa_t) (Pa_t, []byte, bool) {
	pg := a.pageBytes(pa)
	for i := range pg {
		pg[i] = 0x05
	}
	return pa, pg, true
}

// encodeNext/decodeNext map "no next page" (address 0, a legal-looking
// but never-issued arena offset when KernEnd > 0) onto a sentinel so a
// genuinely empty list is never confused with a one-element list
// whose next is the zero address.
func encodeNext(pa Pa_t) uint64 {
	if pa == 0 {
		return noNext
	}
	return uint64(pa)
}

func decodeNext(v uint64) Pa_t {
	if v == noNext {
		return 0
	}
	return Pa_t(v)
}

// Pgcount reports the number of free pages on each CPU's list, used by
// internal/stats and by tests asserting the round-trip and cross-CPU
// steal properties (spec.md §8).
func (a *Allocator) Pgcount() []int {
	counts := make([]int, len(a.cpus))
	for i := range a.cpus {
		fl := &a.cpus[i]
		fl.mu.Lock()
		n := 0
		for pa := fl.head; pa != 0; {
			n++
			pa = decodeNext(binary.LittleEndian.Uint64(a.pageBytes(pa)))
		}
		fl.mu.Unlock()
		counts[i] = n
	}
	return counts
}

// PGSIZE reports the configured page size, useful to callers that
// don't otherwise carry the Config.
func (a *Allocator) PGSIZE() int { return a.cfg.PGSIZE }

// PageBytes exposes the backing storage for pa so MM can read/write
// mapped page contents directly, as the direct map (mem.Dmap in the
// teacher) does for the rest of the kernel.
func (a *Allocator) PageBytes(pa Pa_t) []byte {
	if !a.valid(pa) {
		klog.Panic("PageBytes: bad address", klog.Fields{"pa": uintptr(pa)})
	}
	return a.pageBytes(pa)
}
