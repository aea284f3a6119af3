// Package iobuf provides per-chip pools of reusable byte buffers used to
// stage raw stream chunk payloads between the stream reader and the
// analyser goroutines.
//
// Purpose: the reader fills buffers off the wire; analysers drain them.
// Buffers move between a free list and an ordered-by-packet-id pending
// set — never copied — so that a chip's analyser always consumes chunks
// in the order the detector controller produced them, which matters
// because TDC and pixel-hit words must be seen in original stream order.
package iobuf

import (
	"sort"
	"sync"
)

// DefaultBufferSize is the default size, in bytes, of a newly allocated
// Buffer. Chosen as a multiple of 8 bytes per the wire format's 8-byte
// raw word granularity.
const DefaultBufferSize = 1 << 16

var nextID uint64

// Buffer holds a piece of a raw stream chunk's payload.
type Buffer struct {
	Content       []byte // Content[:ContentSize] holds valid payload bytes.
	ContentSize   int
	ContentOffset int // Position of Content[0] within the owning chunk.
	ChunkSize     int // Total size of the owning chunk, in bytes.
	ID            uint64
}

func newBuffer(size int) *Buffer {
	nextID++
	return &Buffer{Content: make([]byte, size), ID: nextID}
}

type pending struct {
	packetID uint64
	buf      *Buffer
}

// Pool is a per-chip collection of reusable Buffers: a free list for
// empty buffers, and an ordered (by packet id) set of filled buffers
// awaiting consumption by that chip's analyser.
type Pool struct {
	bufferSize int

	mu        sync.Mutex
	cond      *sync.Cond
	freeList  []*Buffer
	filled    []pending // kept sorted ascending by packetID
	finished  bool
}

// NewPool creates a buffer pool whose buffers are newly allocated at
// bufferSize bytes.
func NewPool(bufferSize int) *Pool {
	if bufferSize <= 0 {
		bufferSize = DefaultBufferSize
	}
	p := &Pool{bufferSize: bufferSize}
	p.cond = sync.NewCond(&p.mu)
	return p
}

// AcquireEmpty returns a buffer from the free list, or allocates a new
// one if the free list is empty. The returned buffer has ContentSize 0.
func (p *Pool) AcquireEmpty() *Buffer {
	p.mu.Lock()
	defer p.mu.Unlock()

	n := len(p.freeList)
	if n == 0 {
		return newBuffer(p.bufferSize)
	}
	buf := p.freeList[n-1]
	p.freeList = p.freeList[:n-1]
	buf.ContentSize = 0
	return buf
}

// SubmitFilled inserts a filled buffer into the ordered pending set,
// keyed by packetID, and wakes any consumer blocked in TakeFilled.
//
// Buffers sharing a packetID (a chunk split across several buffers)
// keep submission order: the insertion point is past all existing
// entries with packetID <= the new one, not merely >=, so this is a
// stable insert rather than a plain binary-search insert.
func (p *Pool) SubmitFilled(packetID uint64, buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	idx := sort.Search(len(p.filled), func(i int) bool { return p.filled[i].packetID > packetID })
	p.filled = append(p.filled, pending{})
	copy(p.filled[idx+1:], p.filled[idx:])
	p.filled[idx] = pending{packetID: packetID, buf: buf}

	p.cond.Broadcast()
}

// TakeFilled blocks until a filled buffer is available or the pool is
// finished. It returns the buffer with the smallest packet id and true,
// or (nil, false) once Finish has been called and no filled buffers
// remain.
func (p *Pool) TakeFilled() (*Buffer, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	for len(p.filled) == 0 && !p.finished {
		p.cond.Wait()
	}
	if len(p.filled) == 0 {
		return nil, false
	}
	head := p.filled[0]
	p.filled = p.filled[1:]
	return head.buf, true
}

// Release returns a used buffer to the free list, clearing its content
// size.
func (p *Pool) Release(buf *Buffer) {
	p.mu.Lock()
	defer p.mu.Unlock()

	buf.ContentSize = 0
	p.freeList = append(p.freeList, buf)
}

// Finish marks the pool as finished: no more buffers will be submitted.
// Any goroutine blocked in TakeFilled wakes and drains remaining
// buffers before observing the end of stream.
func (p *Pool) Finish() {
	p.mu.Lock()
	defer p.mu.Unlock()

	p.finished = true
	p.cond.Broadcast()
}

// Finished reports whether Finish has been called.
func (p *Pool) Finished() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.finished
}

// PendingCount returns the number of filled buffers awaiting
// consumption. Intended for tests and diagnostics.
func (p *Pool) PendingCount() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.filled)
}
