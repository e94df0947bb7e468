// Package fsys models the inode/journal collaborator spec.md §6 treats
// as external: begin_op/end_op transaction brackets, inode
// lock/unlock, and inode_read/inode_write. It is grounded on the
// teacher's fs/super.go (on-disk field layout convention) and
// ufs/driver.go (disk-backed collaborator wiring), simplified to the
// single-level block map MM needs to exercise file-backed mmap.
package fsys

import (
	"sync"

	"github.com/google/uuid"

	"xv6go/internal/bufcache"
	"xv6go/internal/defs"
	"xv6go/internal/klog"
	"xv6go/internal/limits"
	"xv6go/internal/util"
)

// MemDisk is an in-memory Disk_i (spec.md §6): synchronous and
// infallible, as BC's contract requires.
type MemDisk struct {
	mu      sync.Mutex
	content map[[2]uint32][]byte
	bsize   int
}

func NewMemDisk(bsize int) *MemDisk {
	return &MemDisk{content: make(map[[2]uint32][]byte), bsize: bsize}
}

func (d *MemDisk) Rw(dev, blockno uint32, data []byte, write bool) {
	d.mu.Lock()
	defer d.mu.Unlock()
	key := [2]uint32{dev, blockno}
	if write {
		cp := make([]byte, len(data))
		copy(cp, data)
		d.content[key] = cp
		return
	}
	if existing, ok := d.content[key]; ok {
		copy(data, existing)
	}
}

// Journal models begin_op/end_op: at most MAXOPBLOCKS transactions are
// open at once system-wide (each BeginOp takes one slot; the blocks a
// transaction writes are not counted), and BeginOp suspends the caller
// while every slot is taken, as spec.md §5 allows.
type Journal struct {
	slots chan struct{}
}

func NewJournal(cfg limits.Config) *Journal {
	return &Journal{slots: make(chan struct{}, cfg.MAXOPBLOCKS)}
}

// Txn identifies one journaled transaction for log correlation.
type Txn struct {
	id uuid.UUID
}

// BeginOp starts a journaled transaction, blocking if the log has no
// free capacity.
func (j *Journal) BeginOp() Txn {
	j.slots <- struct{}{}
	t := Txn{id: uuid.New()}
	klog.Log.WithField("txn", t.id).Debug("begin_op")
	return t
}

// EndOp commits the transaction, releasing its log capacity.
func (j *Journal) EndOp(t Txn) {
	klog.Log.WithField("txn", t.id).Debug("end_op")
	<-j.slots
}

// BlockCursor is the shared, device-wide block-number allocator
// cursor: every Inode_t on the same device hands blockFor the same
// *BlockCursor, so the cursor needs its own lock rather than relying
// on the caller's per-inode lock to serialize it.
type BlockCursor struct {
	mu   sync.Mutex
	next uint32
}

func (c *BlockCursor) alloc() uint32 {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.next++
	return c.next
}

// Inode_t is a minimal per-file collaborator: a flat block map plus a
// size in bytes. Real xv6 inodes also carry type/nlink/etc.; those are
// irrelevant to BC/MM and are not modeled.
//
// InodeLock/InodeUnlock hold mu across a caller's whole read-modify
// sequence (spec.md §6: "called with ... the inode lock held"), so
// InodeRead/InodeWrite never take mu themselves -- matching
// original_source/kernel/fs.c's readi/writei, which assume ip->lock
// is already held by the caller.
type Inode_t struct {
	mu     sync.Mutex
	Dev    uint32
	Ino    uint32
	size   int
	blocks []uint32 // blocks[i] is the on-disk block backing byte range [i*BSIZE, (i+1)*BSIZE)

	cache  *bufcache.Cache
	bsize  int
	cursor *BlockCursor // shared block-number allocator cursor for this device
}

// NewInode creates an inode with no content, backed by cache.
func NewInode(dev, ino uint32, cache *bufcache.Cache, bsize int, cursor *BlockCursor) *Inode_t {
	return &Inode_t{Dev: dev, Ino: ino, cache: cache, bsize: bsize, cursor: cursor}
}

// InodeLock/InodeUnlock provide the exclusive per-inode access spec.md
// §6 names as a collaborator contract. Callers must hold the lock
// across any call to InodeRead/InodeWrite.
func (ip *Inode_t) InodeLock()   { ip.mu.Lock() }
func (ip *Inode_t) InodeUnlock() { ip.mu.Unlock() }

// Size returns the inode's current size in bytes.
func (ip *Inode_t) Size() int {
	ip.mu.Lock()
	defer ip.mu.Unlock()
	return ip.size
}

func (ip *Inode_t) blockFor(idx int) uint32 {
	for len(ip.blocks) <= idx {
		ip.blocks = append(ip.blocks, ip.cursor.alloc())
	}
	return ip.blocks[idx]
}

// InodeRead reads up to n bytes from ip at offset off into dst.
// userFlag distinguishes a process-virtual-address destination (true)
// from a kernel-buffer destination (false); this in-process model
// copies into dst identically either way; the flag is retained on the
// signature because MM's callers (fault handler vs. kernel readers)
// must specify it, matching spec.md §6. The caller must already hold
// ip's lock via InodeLock.
func InodeRead(ip *Inode_t, userFlag bool, dst []byte, off, n int) (int, defs.Err_t) {
	_ = userFlag
	if off < 0 || n < 0 {
		return 0, -defs.EINVAL
	}
	avail := ip.size - off
	if avail <= 0 {
		return 0, 0
	}
	n = util.Min(n, avail)
	n = util.Min(n, len(dst))

	got := 0
	for got < n {
		blkIdx := (off + got) / ip.bsize
		blkOff := (off + got) % ip.bsize
		if blkIdx >= len(ip.blocks) {
			break
		}
		b := ip.cache.Bread(ip.Dev, ip.blocks[blkIdx])
		c := copy(dst[got:n], b.Data[blkOff:])
		ip.cache.Brelse(b)
		got += c
	}
	return got, 0
}

// InodeWrite writes n bytes from src into ip at offset off, allocating
// new blocks as needed, and returns bytes written or a negative error.
// The caller must already hold ip's lock via InodeLock.
func InodeWrite(ip *Inode_t, userFlag bool, src []byte, off, n int) (int, defs.Err_t) {
	_ = userFlag
	if off < 0 || n < 0 {
		return 0, -defs.EINVAL
	}
	n = util.Min(n, len(src))

	wrote := 0
	for wrote < n {
		blkIdx := (off + wrote) / ip.bsize
		blkOff := (off + wrote) % ip.bsize
		blockno := ip.blockFor(blkIdx)
		b := ip.cache.Bread(ip.Dev, blockno)
		c := copy(b.Data[blkOff:], src[wrote:n])
		ip.cache.Bwrite(b)
		ip.cache.Brelse(b)
		wrote += c
	}
	if off+wrote > ip.size {
		ip.size = off + wrote
	}
	return wrote, 0
}
