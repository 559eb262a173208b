// Package pool implements a fixed-capacity, block-granular free-list
// allocator. A Pool reserves one contiguous arena at construction time and
// serves byte regions out of it until destruction; it never grows, never
// compacts, and never talks to the host allocator again once built.
//
// The free list is intrusive: every free run's header lives inside the
// arena bytes it describes. A dedicated sentinel block sits at the end of
// the arena so insertion and coalescing never need a head-pointer special
// case.
package pool

import (
	"unsafe"

	"github.com/outofforest/photon"
	"github.com/pkg/errors"
)

// DefaultBlockSize is the block size used when New is called with
// blockSize == 0.
const DefaultBlockSize = 16

// lengthField is the head block's length slot: the number of blocks in
// the run starting at that block, meaningful for free-run heads,
// reserved-run heads and the sentinel alike. It precedes every run's
// payload and is never given back to the client.
type lengthField struct {
	Length uint64
}

// nextField occupies the word immediately after lengthField in the same
// head block.
// It is only meaningful while the run is free, where it names the next
// free run's head block by index; once a run is reserved, these same
// bytes become the start of the client's payload. This mirrors the
// original's C++ union of Block.m_next and Block.m_raw (SLPool.hpp).
type nextField struct {
	Next uint64
}

var (
	lengthSize = int(unsafe.Sizeof(lengthField{}))
	nextSize   = int(unsafe.Sizeof(nextField{}))
)

// Addr identifies a region returned by Allocate: the byte offset within
// the pool's arena of the first usable byte, i.e. the byte immediately
// following the region's length field. It is meaningless outside the
// Pool that produced it.
type Addr int

// Pool is a single free-list allocator over one arena. It is not safe for
// concurrent use; callers sharing a Pool across goroutines must provide
// their own mutual exclusion around Allocate and Free.
type Pool struct {
	blockSize int
	nBlocks   int
	arena     []byte
	sentinel  int // block index of the sentinel, == nBlocks-1
}

// New reserves an arena able to satisfy at least bytes worth of client
// storage and returns a Pool over it. blockSize of 0 selects
// DefaultBlockSize. Host-level acquisition failure (an allocation panic
// for an unreasonably large arena) is recovered and returned as an error,
// per the construction error contract.
func New(bytes int, blockSize int) (p *Pool, err error) {
	if bytes < 0 {
		return nil, errors.Errorf("pool: requested size must be non-negative, got %d", bytes)
	}
	if blockSize == 0 {
		blockSize = DefaultBlockSize
	}
	if blockSize < lengthSize+nextSize {
		return nil, errors.Errorf("pool: block size must be at least %d bytes (sizeof(length)+sizeof(next)), got %d", lengthSize+nextSize, blockSize)
	}

	nBlocks := ceilDiv(bytes+lengthSize, blockSize) + 1

	defer func() {
		if r := recover(); r != nil {
			p, err = nil, errors.Errorf("pool: failed to acquire arena of %d blocks: %v", nBlocks, r)
		}
	}()

	arena := make([]byte, nBlocks*blockSize)

	pl := &Pool{
		blockSize: blockSize,
		nBlocks:   nBlocks,
		arena:     arena,
		sentinel:  nBlocks - 1,
	}

	pl.lengthAt(0).V.Length = uint64(nBlocks - 1)
	pl.nextAt(0).V.Next = uint64(pl.sentinel)

	pl.lengthAt(pl.sentinel).V.Length = 0
	pl.nextAt(pl.sentinel).V.Next = 0

	return pl, nil
}

// Close releases the arena. All outstanding Addr values and byte slices
// obtained from Bytes become invalid; using them afterwards is the
// caller's responsibility to avoid, exactly as with any raw-region
// allocator's free.
func (p *Pool) Close() {
	p.arena = nil
}

// BlockSize returns the block size this pool was constructed with.
func (p *Pool) BlockSize() int {
	return p.blockSize
}

// BlockCount returns N, the total number of blocks in the arena
// including the sentinel.
func (p *Pool) BlockCount() int {
	return p.nBlocks
}

// HeaderSize returns sizeof(length): the number of bytes reserved ahead
// of every run's payload, free or reserved.
func HeaderSize() int {
	return lengthSize
}

// lengthAt returns a zero-copy typed view of the length field of the
// block at idx, backed directly by the arena bytes.
func (p *Pool) lengthAt(idx int) photon.Union[*lengthField] {
	off := idx * p.blockSize
	return photon.NewFromBytes[lengthField](p.arena[off:])
}

// nextAt returns a zero-copy typed view of the next field of the block
// at idx. Valid only while that block heads a free run or is the
// sentinel; for a reserved run these bytes belong to the client.
func (p *Pool) nextAt(idx int) photon.Union[*nextField] {
	off := idx*p.blockSize + lengthSize
	return photon.NewFromBytes[nextField](p.arena[off:])
}

// blocksFor converts a requested byte count into a block count, reserving
// room for the head block's length field.
func blocksFor(bytes, blockSize int) int {
	return ceilDiv(bytes+lengthSize, blockSize)
}

func ceilDiv(a, b int) int {
	return (a + b - 1) / b
}

// Allocate returns the address of a region of at least bytes usable bytes
// from the pool's free list, using first-fit search with low-end
// splitting. Returns ErrOutOfMemory if no free run is large enough; pool
// state is unchanged in that case.
func (p *Pool) Allocate(bytes int) (Addr, error) {
	k := blocksFor(bytes, p.blockSize)

	prevIdx := p.sentinel
	currIdx := int(p.nextAt(p.sentinel).V.Next)

	for currIdx != p.sentinel {
		currLen := p.lengthAt(currIdx).V.Length

		switch {
		case currLen == uint64(k):
			prevNext := p.nextAt(prevIdx)
			prevNext.V.Next = p.nextAt(currIdx).V.Next
			p.lengthAt(currIdx).V.Length = uint64(k)
			return p.addrOf(currIdx), nil

		case currLen > uint64(k):
			remainderIdx := currIdx + k
			p.lengthAt(remainderIdx).V.Length = currLen - uint64(k)
			p.nextAt(remainderIdx).V.Next = p.nextAt(currIdx).V.Next

			p.nextAt(prevIdx).V.Next = uint64(remainderIdx)
			p.lengthAt(currIdx).V.Length = uint64(k)
			return p.addrOf(currIdx), nil

		default:
			prevIdx = currIdx
			currIdx = int(p.nextAt(currIdx).V.Next)
		}
	}

	return 0, ErrOutOfMemory
}

// addrOf returns the Addr of the first usable byte of the run whose head
// block is at idx: the byte immediately after that block's length field.
func (p *Pool) addrOf(idx int) Addr {
	return Addr(idx*p.blockSize + lengthSize)
}

// headIndex recovers the head block index of the run that address addr
// was carved from. It backs up sizeof(length) bytes and divides by block
// size, exactly the "header recovery" step of Free.
func (p *Pool) headIndex(addr Addr) int {
	return (int(addr) - lengthSize) / p.blockSize
}

// Free releases a region previously returned by Allocate on this Pool,
// reinserting its run into the free list in address order and coalescing
// it with any physically adjacent free neighbours. Freeing an address not
// previously returned by Allocate, or freeing the same address twice, is
// undefined behaviour: the header recovery step will read whatever bytes
// happen to be there.
func (p *Pool) Free(addr Addr) {
	idx := p.headIndex(addr)
	m := p.lengthAt(idx).V.Length

	prevIdx := p.sentinel
	currIdx := int(p.nextAt(p.sentinel).V.Next)
	for currIdx != p.sentinel && currIdx < idx {
		prevIdx = currIdx
		currIdx = int(p.nextAt(currIdx).V.Next)
	}
	succIdx := currIdx

	prevLen := p.lengthAt(prevIdx).V.Length
	leftAdjacent := prevIdx != p.sentinel && prevIdx+int(prevLen) == idx
	rightAdjacent := succIdx != p.sentinel && idx+int(m) == succIdx

	switch {
	case leftAdjacent && rightAdjacent:
		succLen := p.lengthAt(succIdx).V.Length
		succNext := p.nextAt(succIdx).V.Next
		p.lengthAt(prevIdx).V.Length = prevLen + m + succLen
		p.nextAt(prevIdx).V.Next = succNext

	case leftAdjacent:
		p.lengthAt(prevIdx).V.Length = prevLen + m
		p.nextAt(prevIdx).V.Next = uint64(succIdx)

	case rightAdjacent:
		succLen := p.lengthAt(succIdx).V.Length
		succNext := p.nextAt(succIdx).V.Next
		p.lengthAt(idx).V.Length = m + succLen
		p.nextAt(idx).V.Next = succNext
		p.nextAt(prevIdx).V.Next = uint64(idx)

	default:
		p.nextAt(idx).V.Next = uint64(succIdx)
		p.nextAt(prevIdx).V.Next = uint64(idx)
	}
}

// AddrOf recovers the Addr of a byte region previously obtained from
// this Pool (via Bytes, or via a slice derived from one) by comparing
// its backing pointer against the arena's own base pointer. It is the
// building block collaborator layers (see package tag) use to recover an
// Addr when all they were handed back is a []byte.
func (p *Pool) AddrOf(region []byte) Addr {
	if len(region) == 0 {
		panic("pool: AddrOf requires a non-empty region")
	}
	base := unsafe.Pointer(&p.arena[0])
	ptr := unsafe.Pointer(&region[0])
	return Addr(uintptr(ptr) - uintptr(base))
}

// Bytes returns the usable byte region for a live address, sized exactly
// to the run it was carved from (k*BlockSize - HeaderSize bytes). The
// returned slice aliases the pool's arena directly; it stops being valid
// the moment the address is freed.
func (p *Pool) Bytes(addr Addr) []byte {
	idx := p.headIndex(addr)
	k := int(p.lengthAt(idx).V.Length)
	start := int(addr)
	end := idx*p.blockSize + k*p.blockSize
	return p.arena[start:end]
}
