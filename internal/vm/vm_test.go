package vm

import (
	"testing"

	"github.com/stretchr/testify/require"

	"xv6go/internal/bufcache"
	"xv6go/internal/defs"
	"xv6go/internal/file"
	"xv6go/internal/fsys"
	"xv6go/internal/limits"
	"xv6go/internal/mem"
)

type harness struct {
	cfg     limits.Config
	alloc   *mem.Allocator
	cache   *bufcache.Cache
	journal *fsys.Journal
	ftable  *file.Table
	cursor  *fsys.BlockCursor
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	cfg := limits.Config{BSIZE: 512, PGSIZE: 4096, NBUF: 16, NBUCKET: 3, NCPU: 2, NOFILE: 8, NFILE: 32, MAXOPBLOCKS: 10, MAXVA: 1 << 30, KernEnd: 0x1000, PHYSTOP: 0x1000 + 64*4096}
	alloc := mem.New(cfg)
	alloc.Kinit(0)
	disk := fsys.NewMemDisk(cfg.BSIZE)
	cache := bufcache.New(cfg, disk)
	return &harness{
		cfg:     cfg,
		alloc:   alloc,
		cache:   cache,
		journal: fsys.NewJournal(cfg),
		ftable:  file.NewTable(cfg),
		cursor:  &fsys.BlockCursor{},
	}
}

func (h *harness) newFile(content []byte) *file.File_t {
	ip := fsys.NewInode(1, 1, h.cache, h.cfg.BSIZE, h.cursor)
	if len(content) > 0 {
		ip.InodeLock()
		_, err := fsys.InodeWrite(ip, false, content, 0, len(content))
		ip.InodeUnlock()
		if err != 0 {
			panic("newFile: write failed")
		}
	}
	f := h.ftable.Alloc()
	f.Kind = file.KindInode
	f.Readable, f.Writable = true, true
	f.Inode = ip
	return f
}

func TestMmapAllocReservesSlotAndInstallsLazyPTE(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile([]byte("hello world"))

	m, ok := MmapAlloc(as, h.ftable, f, 0x1000, 4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
	require.True(t, ok)
	require.Equal(t, uintptr(0x1000), m.Addr)
	require.Equal(t, 2, f.Ref()) // original ref plus the mapping's dup

	pte := as.PT.Lookup(0x1000)
	require.NotNil(t, pte)
	require.NotZero(t, pte.Flags&defs.PTE_M)
	require.Zero(t, pte.Flags&defs.PTE_V)
}

func TestMmapAllocFailsWhenTableFull(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile(nil)
	for i := 0; i < h.cfg.NOFILE; i++ {
		_, ok := MmapAlloc(as, h.ftable, f, uintptr(i+1)*0x1000, 4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
		require.True(t, ok)
	}
	_, ok := MmapAlloc(as, h.ftable, f, 0x99000, 4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
	require.False(t, ok)
}

func TestFaultHandlerFaultsInPageAndZeroFillsTail(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile([]byte("hello world"))

	_, ok := MmapAlloc(as, h.ftable, f, 0x2000, 4096, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_PRIVATE, 0)
	require.True(t, ok)

	err := MmapFaultHandler(as, h.alloc, 0, uintptr(h.cfg.MAXVA), 0x2000)
	require.Zero(t, err)

	pte := as.PT.Lookup(0x2000)
	require.NotNil(t, pte)
	require.NotZero(t, pte.Flags&defs.PTE_V)
	require.Zero(t, pte.Flags&defs.PTE_M)

	page := h.alloc.PageBytes(pte.PA)
	require.Equal(t, "hello world", string(page[:11]))
	require.Equal(t, byte(0), page[11]) // tail beyond file length is zero, not the kalloc scribble
}

func TestFaultAtOrBeyondMaxVaIsFatalToTheCaller(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	err := MmapFaultHandler(as, h.alloc, 0, uintptr(h.cfg.MAXVA), uintptr(h.cfg.MAXVA))
	require.Equal(t, -defs.EFAULT, err)
}

func TestFaultOnUnmappedRegionFails(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	err := MmapFaultHandler(as, h.alloc, 0, uintptr(h.cfg.MAXVA), 0x5000)
	require.Equal(t, -defs.EFAULT, err)
}

func TestMunmapMiddleCutIsRejected(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile([]byte("x"))
	_, ok := MmapAlloc(as, h.ftable, f, 0x3000, 3*4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
	require.True(t, ok)

	err := Munmap(as, h.ftable, h.journal, h.alloc, 0, 0x3000+4096, 4096)
	require.Equal(t, -defs.EINVAL, err)
}

func TestMunmapFrontEdgeShrinksMapping(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile([]byte("x"))
	m, ok := MmapAlloc(as, h.ftable, f, 0x4000, 2*4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
	require.True(t, ok)

	err := Munmap(as, h.ftable, h.journal, h.alloc, 0, 0x4000, 4096)
	require.Zero(t, err)
	require.Equal(t, uintptr(0x4000+4096), m.Addr)
	require.Equal(t, 4096, m.Len)
	require.Nil(t, as.PT.Lookup(0x4000))
}

func TestMunmapWritesBackDirtySharedPage(t *testing.T) {
	h := newHarness(t)
	as := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile(make([]byte, 4096))

	_, ok := MmapAlloc(as, h.ftable, f, 0x6000, 4096, defs.PROT_READ|defs.PROT_WRITE, defs.MAP_SHARED, 0)
	require.True(t, ok)
	require.Zero(t, MmapFaultHandler(as, h.alloc, 0, uintptr(h.cfg.MAXVA), 0x6000))
	require.Zero(t, WriteThrough(as, h.alloc, 0x6000, []byte("dirty!")))

	require.Zero(t, Munmap(as, h.ftable, h.journal, h.alloc, 0, 0x6000, 4096))

	f.Inode.InodeLock()
	got := make([]byte, 6)
	n, err := fsys.InodeRead(f.Inode, false, got, 0, 6)
	f.Inode.InodeUnlock()
	require.Zero(t, err)
	require.Equal(t, 6, n)
	require.Equal(t, "dirty!", string(got))
}

func TestMmapDupAlwaysReleasesTableLockAndSharesLazyMapping(t *testing.T) {
	h := newHarness(t)
	parent := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	f := h.newFile([]byte("forked"))

	src, ok := MmapAlloc(parent, h.ftable, f, 0x7000, 4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
	require.True(t, ok)

	child := NewAddressSpace(h.cfg.PGSIZE, h.cfg.NOFILE)
	dup, ok := MmapDup(src, child, h.ftable)
	require.True(t, ok)
	require.Equal(t, src.Addr, dup.Addr)

	// The lock must be released regardless of outcome: further Dups
	// fill the table, and one more into the now-full table must fail
	// cleanly rather than deadlock on a lock MmapDup forgot to drop.
	for i := 1; i < h.cfg.NOFILE; i++ {
		_, ok := MmapDup(src, child, h.ftable)
		require.True(t, ok)
	}
	_, ok = MmapDup(src, child, h.ftable)
	require.False(t, ok)

	pte := child.PT.Lookup(0x7000)
	require.NotNil(t, pte)
	require.NotZero(t, pte.Flags&defs.PTE_M)

	err := MmapFaultHandler(child, h.alloc, 0, uintptr(h.cfg.MAXVA), 0x7000)
	require.Zero(t, err)
}
