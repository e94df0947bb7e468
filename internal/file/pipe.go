package file

import (
	"sync"

	"xv6go/internal/defs"
)

// pipeSize mirrors the single page a pipe's circular buffer occupies
// in the teacher's circbuf.Circbuf_t (one PGSIZE buffer per pipe).
const pipeSize = 4096

// Pipe_t is a fixed-capacity ring buffer, adapted from the teacher's
// circbuf.Circbuf_t (circbuf/circbuf.go): same head/tail modular
// arithmetic and wraparound handling, simplified to a plain
// []byte-backed buffer instead of a page-allocator-backed one since a
// pipe's backing memory is not part of the PA/BC/MM contract.
type Pipe_t struct {
	mu         sync.Mutex
	buf        [pipeSize]byte
	head, tail int
	closedW    bool
}

func NewPipe() *Pipe_t { return &Pipe_t{} }

func (p *Pipe_t) full() bool  { return p.head-p.tail == pipeSize }
func (p *Pipe_t) empty() bool { return p.head == p.tail }

// Write copies as much of src as fits into the buffer without
// blocking; spec.md's scope excludes pipe backpressure/blocking
// semantics (out of scope: BC/PA/MM only), so Write is a short write
// on a full buffer rather than a blocking one.
func (p *Pipe_t) Write(src []byte) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for n < len(src) && !p.full() {
		p.buf[p.head%pipeSize] = src[n]
		p.head++
		n++
	}
	return n, 0
}

// Read copies up to len(dst) buffered bytes into dst.
func (p *Pipe_t) Read(dst []byte) (int, defs.Err_t) {
	p.mu.Lock()
	defer p.mu.Unlock()
	n := 0
	for n < len(dst) && !p.empty() {
		dst[n] = p.buf[p.tail%pipeSize]
		p.tail++
		n++
	}
	return n, 0
}
