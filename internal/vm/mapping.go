package vm

import (
	"sync"

	"xv6go/internal/defs"
	"xv6go/internal/file"
)

// Mapping is one mmap mapping descriptor (spec.md §3), adapted from
// the fields the teacher's Vmadd_file/Vminfo_t carry for a
// file-backed region: the open file it's backed by, its virtual
// range, protection, sharing mode, and the file offset its first page
// corresponds to. As spec.md §5 requires, only File is mutated under
// the owning MmapTable's lock after construction; Addr/Len/Off are
// adjusted solely by Munmap, which also holds that lock while it does
// so.
type Mapping struct {
	File *file.File_t
	Addr uintptr
	Len  int
	Prot defs.Prot
	Flag defs.MmapFlag
	Off  int
}

// end returns the address one past the mapping's last byte.
func (m *Mapping) end() uintptr { return m.Addr + uintptr(m.Len) }

// covers reports whether the mapping fully contains [addr, addr+length).
func (m *Mapping) covers(addr uintptr, length int) bool {
	return addr >= m.Addr && addr+uintptr(length) <= m.end()
}

// containsAddr reports whether addr falls within the mapping, even if
// addr's containing page extends past a non-page-aligned mapping end
// (the lazily-installed PTE range is rounded up to a page boundary,
// but the mapping's own Len is not).
func (m *Mapping) containsAddr(addr uintptr) bool {
	return addr >= m.Addr && addr < m.end()
}

// MmapTable is the fixed-size, linearly-scanned array of per-process
// mapping slots (spec.md §3's NOFILE-sized collaborator), protected by
// a single lock exactly as the teacher's Vm_t protects Vmregion.
type MmapTable struct {
	mu    sync.Mutex
	slots []*Mapping
}

func NewMmapTable(n int) *MmapTable {
	return &MmapTable{slots: make([]*Mapping, n)}
}

// Slots returns a snapshot of the table's mapping slots, for callers
// (internal/proc's Fork) that need to walk every active mapping
// without reaching into the unexported field directly.
func (t *MmapTable) Slots() []*Mapping {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]*Mapping, len(t.slots))
	copy(out, t.slots)
	return out
}

// find returns the slot index whose mapping covers [addr, addr+length),
// or -1. Callers must hold t.mu.
func (t *MmapTable) find(addr uintptr, length int) int {
	for i, m := range t.slots {
		if m != nil && m.covers(addr, length) {
			return i
		}
	}
	return -1
}

// findAddr returns the slot index whose mapping contains addr, or -1.
// Callers must hold t.mu.
func (t *MmapTable) findAddr(addr uintptr) int {
	for i, m := range t.slots {
		if m != nil && m.containsAddr(addr) {
			return i
		}
	}
	return -1
}

// firstFree returns the index of an empty slot, or -1 if the table is
// full (spec.md §7 "Expected failure": mmap with no free slot).
func (t *MmapTable) firstFree() int {
	for i, m := range t.slots {
		if m == nil {
			return i
		}
	}
	return -1
}
