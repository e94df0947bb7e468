package syscalls

import (
	"testing"

	"github.com/stretchr/testify/require"

	"xv6go/internal/defs"
	"xv6go/internal/proc"
)

func TestPgaccessReportsAndClearsAccessedBit(t *testing.T) {
	p := proc.New(1, 4096, 8)
	pte := p.AS.PT.Walk(0x1000, true)
	pte.Flags = defs.PTE_V | defs.PTE_A

	bits, err := Pgaccess(p, 0x1000, 8)
	require.Zero(t, err)
	require.Equal(t, byte(1), bits[0]&1)

	pte2 := p.AS.PT.Lookup(0x1000)
	require.Zero(t, pte2.Flags&defs.PTE_A)
}

func TestPgaccessRejectsMoreThan64Pages(t *testing.T) {
	p := proc.New(1, 4096, 8)
	_, err := Pgaccess(p, 0, 65)
	require.Equal(t, -defs.EINVAL, err)
}

func TestGetpidAndKill(t *testing.T) {
	procs := proc.NewTable(4)
	p := procs.Spawn(4096, 8)
	require.Equal(t, p.Pid, Getpid(p))

	require.Zero(t, Kill(procs, p.Pid))
	require.True(t, p.Killed)
	require.Equal(t, -defs.EINVAL, Kill(procs, defs.Pid_t(9999)))
}
