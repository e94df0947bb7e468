package mem

import (
	"testing"

	"github.com/stretchr/testify/require"

	"xv6go/internal/limits"
)

func smallConfig() limits.Config {
	cfg := limits.Default()
	cfg.NCPU = 4
	cfg.KernEnd = 0x1000
	cfg.PHYSTOP = cfg.KernEnd + 200*cfg.PGSIZE
	return cfg
}

func TestKallocReturnsPageAlignedWithinRange(t *testing.T) {
	cfg := smallConfig()
	a := New(cfg)
	a.Kinit(0)

	pa, pg, ok := a.Kalloc(0)
	require.True(t, ok)
	require.Zero(t, int(pa)%cfg.PGSIZE)
	require.GreaterOrEqual(t, int(pa), cfg.KernEnd)
	require.LessOrEqual(t, int(pa)+cfg.PGSIZE, cfg.PHYSTOP)
	require.Equal(t, byte(0x05), pg[0])
}

func TestKfreeThenKallocScribblesAndRoundtrips(t *testing.T) {
	cfg := smallConfig()
	a := New(cfg)
	a.Kinit(0)

	before := a.Pgcount()[0]
	pa, _, ok := a.Kalloc(0)
	require.True(t, ok)
	a.Kfree(0, pa)
	after := a.Pgcount()[0]
	require.Equal(t, before, after)

	// kfree must have scribbled 0x01 over the body of the page
	// (everything past the 8-byte next-pointer header).
	pg := a.pageBytes(pa)
	require.Equal(t, byte(0x01), pg[cfg.PGSIZE-1])
}

func TestCrossCPUSteal(t *testing.T) {
	cfg := smallConfig()
	a := New(cfg)
	a.Kinit(0) // all pages land on CPU 0

	require.Equal(t, cfg.NPages(), a.Pgcount()[0])
	require.Zero(t, a.Pgcount()[1])

	// CPU 1 drains CPU 0 one page at a time via single-page steals.
	got := 0
	for {
		pa, pg, ok := a.Kalloc(1)
		if !ok {
			break
		}
		require.Equal(t, byte(0x05), pg[0])
		require.Zero(t, int(pa)%cfg.PGSIZE)
		got++
	}
	require.Equal(t, cfg.NPages(), got)
	require.Zero(t, a.Pgcount()[0])
	require.Zero(t, a.Pgcount()[1]) // single-page steals, never batched

	_, _, ok := a.Kalloc(1)
	require.False(t, ok)
}

func TestKfreeRejectsUnalignedOrOutOfRange(t *testing.T) {
	cfg := smallConfig()
	a := New(cfg)

	require.Panics(t, func() { a.Kfree(0, Pa_t(cfg.KernEnd+1)) })
	require.Panics(t, func() { a.Kfree(0, Pa_t(cfg.PHYSTOP)) })
}
