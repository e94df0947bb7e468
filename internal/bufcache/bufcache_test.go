package bufcache

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"xv6go/internal/limits"
)

// memDisk is a minimal synchronous Disk_i for tests.
type memDisk struct {
	mu      sync.Mutex
	content map[[2]uint32][]byte
}

func newMemDisk() *memDisk {
	return &memDisk{content: make(map[[2]uint32][]byte)}
}

func (d *memDisk) Rw(dev, blockno uint32, data []byte, write bool) {
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

func smallCache() (*Cache, *memDisk) {
	cfg := limits.Default()
	cfg.NBUF = 4
	cfg.NBUCKET = 3
	disk := newMemDisk()
	return New(cfg, disk), disk
}

func TestBreadWriteRoundTrip(t *testing.T) {
	c, _ := smallCache()
	b := c.Bread(1, 7)
	for i := range b.Data {
		b.Data[i] = 0xAB
	}
	c.Bwrite(b)
	c.Brelse(b)

	b2 := c.Bread(1, 7)
	require.True(t, b2.Valid)
	require.Equal(t, byte(0xAB), b2.Data[0])
	c.Brelse(b2)
}

func TestCacheHitCoalescing(t *testing.T) {
	c, _ := smallCache()

	a := c.Bread(1, 7)

	done := make(chan *Buf)
	go func() {
		done <- c.Bread(1, 7) // blocks on a's sleep lock
	}()

	time.Sleep(20 * time.Millisecond) // give B a chance to block
	for i := range a.Data {
		a.Data[i] = 0xAB
	}
	c.Bwrite(a)
	c.Brelse(a)

	b := <-done
	require.True(t, b.Valid)
	require.Equal(t, byte(0xAB), b.Data[0])
	c.Brelse(b)
}

func TestExhaustionIsFatal(t *testing.T) {
	c, _ := smallCache()
	var held []*Buf
	for i := 0; i < 4; i++ {
		held = append(held, c.Bread(1, uint32(i)))
	}
	require.Panics(t, func() {
		c.Bread(1, 999)
	})
	for _, b := range held {
		c.Brelse(b)
	}
}

func TestBwriteWithoutLockIsFatal(t *testing.T) {
	c, _ := smallCache()
	b := c.Bread(1, 1)
	c.Brelse(b)
	require.Panics(t, func() { c.Bwrite(b) })
}

func TestBrelseWithoutLockIsFatal(t *testing.T) {
	c, _ := smallCache()
	b := c.Bread(1, 1)
	c.Brelse(b)
	require.Panics(t, func() { c.Brelse(b) })
}

func TestBpinKeepsBufferOffFreelist(t *testing.T) {
	c, _ := smallCache()
	before := c.FreeCount()
	b := c.Bread(1, 1)
	c.Bpin(b)
	c.Brelse(b) // refcnt drops to 1 (pinned), not 0
	require.Equal(t, before-1, c.FreeCount())
	c.Bunpin(b)
	// Still holds no lock now; nothing more to release since Brelse
	// already dropped the sleep lock. refcnt is now 0 but the buffer
	// is only evicted to the free list on the next Brelse call that
	// observes refcnt hit zero, matching bunpin's contract of touching
	// only the refcount.
}

func TestUniqueBufferPerKeyUnderConcurrentMiss(t *testing.T) {
	cfg := limits.Default()
	cfg.NBUF = 64
	cfg.NBUCKET = 13
	c := New(cfg, newMemDisk())

	const n = 50
	results := make(chan *Buf, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			results <- c.Bread(2, 42)
		}()
	}

	// Drain concurrently with the producers: each Bread call holds the
	// buffer's sleep lock until release, so later callers cannot even
	// return from bget's hit path until an earlier holder releases.
	var first *Buf
	var mu sync.Mutex
	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < n; i++ {
			b := <-results
			mu.Lock()
			if first == nil {
				first = b
			} else {
				require.Same(t, first, b)
			}
			mu.Unlock()
			c.Brelse(b)
		}
	}()

	wg.Wait()
	<-done
}
