package proc

import (
	"sync"
	"sync/atomic"
	"time"
)

// Accnt_t accumulates per-process CPU-time accounting, kept and
// adapted from the teacher's accnt.Accnt_t (accnt/accnt.go):
// nanosecond user/system counters updated atomically, with a mutex
// guarding the consistent snapshot Snapshot/Add need. Supplements
// spec.md's process record with the accounting fields the original
// xv6/biscuit process table carries but spec.md's distillation elides
// (fair game: spec.md's Non-goals don't name accounting).
type Accnt_t struct {
	Userns int64
	Sysns  int64
	mu     sync.Mutex
}

// Utadd adds delta nanoseconds to the user-time counter.
func (a *Accnt_t) Utadd(delta time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	atomic.AddInt64(&a.Userns, int64(delta))
}

// Systadd adds delta nanoseconds to the system-time counter.
func (a *Accnt_t) Systadd(delta time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	atomic.AddInt64(&a.Sysns, int64(delta))
}

// Add merges another record's counters into this one.
func (a *Accnt_t) Add(n *Accnt_t) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.Userns += atomic.LoadInt64(&n.Userns)
	a.Sysns += atomic.LoadInt64(&n.Sysns)
}

// Snapshot returns a consistent (user, sys) pair.
func (a *Accnt_t) Snapshot() (time.Duration, time.Duration) {
	a.mu.Lock()
	defer a.mu.Unlock()
	return time.Duration(a.Userns), time.Duration(a.Sysns)
}
