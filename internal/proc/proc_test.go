package proc

import (
	"testing"

	"github.com/stretchr/testify/require"

	"xv6go/internal/bufcache"
	"xv6go/internal/defs"
	"xv6go/internal/file"
	"xv6go/internal/fsys"
	"xv6go/internal/limits"
	"xv6go/internal/mem"
	"xv6go/internal/vm"
)

func testConfig() limits.Config {
	return limits.Config{
		BSIZE: 512, PGSIZE: 4096, NBUF: 16, NBUCKET: 3, NCPU: 2,
		NOFILE: 4, NFILE: 32, MAXVA: 1 << 30,
		KernEnd: 0x1000, PHYSTOP: 0x1000 + 64*4096,
	}
}

func TestForkDuplicatesLazyMappingsIntoChild(t *testing.T) {
	cfg := testConfig()
	alloc := mem.New(cfg)
	alloc.Kinit(0)
	disk := fsys.NewMemDisk(cfg.BSIZE)
	cache := bufcache.New(cfg, disk)
	ftable := file.NewTable(cfg)

	ip := fsys.NewInode(1, 1, cache, cfg.BSIZE, &fsys.BlockCursor{})
	ip.InodeLock()
	_, err := fsys.InodeWrite(ip, false, []byte("forked content"), 0, 14)
	ip.InodeUnlock()
	require.Zero(t, err)

	f := ftable.Alloc()
	f.Kind = file.KindInode
	f.Inode = ip

	procs := NewTable(cfg.NBUCKET)
	parent := procs.Spawn(cfg.PGSIZE, cfg.NOFILE)

	_, ok := vm.MmapAlloc(parent.AS, ftable, f, 0x9000, 4096, defs.PROT_READ, defs.MAP_PRIVATE, 0)
	require.True(t, ok)

	child, ok := procs.Fork(parent, cfg.PGSIZE, cfg.NOFILE, ftable)
	require.True(t, ok)
	require.NotEqual(t, parent.Pid, child.Pid)

	pte := child.AS.PT.Lookup(0x9000)
	require.NotNil(t, pte)
	require.NotZero(t, pte.Flags&defs.PTE_M)

	got, ok2 := procs.Get(child.Pid)
	require.True(t, ok2)
	require.Same(t, child, got)

	err = vm.MmapFaultHandler(child.AS, alloc, 0, uintptr(cfg.MAXVA), 0x9000)
	require.Zero(t, err)
}
