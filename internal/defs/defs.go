// Package defs holds the types and constants shared by every kernel
// subsystem: error codes, page-table flag bits, and device identifiers.
package defs

// Err_t is a negative-on-failure, zero-on-success error code, following
// the xv6/biscuit convention of plain integer return values instead of
// the error interface at the kernel/user boundary.
type Err_t int

// Expected-failure error codes (spec.md §7: "Expected failure" taxonomy).
const (
	EFAULT       Err_t = 14
	ENOMEM       Err_t = 12
	EINVAL       Err_t = 22
	ENAMETOOLONG Err_t = 36
	ENOHEAP      Err_t = 100
	EIO          Err_t = 5
)

// Tid_t identifies a kernel thread/task.
type Tid_t int

// Pid_t identifies a process.
type Pid_t int

// Page-table entry flag bits (spec.md GLOSSARY).
type PteFlags uint64

const (
	PTE_V PteFlags = 1 << 0 // valid/present
	PTE_R PteFlags = 1 << 1 // readable
	PTE_W PteFlags = 1 << 2 // writable
	PTE_X PteFlags = 1 << 3 // executable
	PTE_U PteFlags = 1 << 4 // user-accessible
	PTE_A PteFlags = 1 << 6 // accessed
	PTE_D PteFlags = 1 << 7 // dirty
	PTE_M PteFlags = 1 << 8 // software "mapped but not present" sentinel
)

// Mapping flags (spec.md §3, mmap(2)-style).
type MmapFlag int

const (
	MAP_SHARED  MmapFlag = 1
	MAP_PRIVATE MmapFlag = 2
)

// Page-protection flags passed to mmap, distinct from on-disk PTE bits.
type Prot int

const (
	PROT_READ  Prot = 1 << 0
	PROT_WRITE Prot = 1 << 1
	PROT_EXEC  Prot = 1 << 2
)

// Device identifiers (spec.md §6), adapted from defs/device.go.
const (
	D_CONSOLE int = 1
	D_RAWDISK int = 5
	D_STAT    int = 6
)
