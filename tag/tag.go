// Package tag is a process-wide ownership-tagging adapter: a thin layer
// on top of pool.Pool, not part of the core free-list engine. Go has no
// global operator new/delete to intercept, so Acquire/Release are
// explicit calls rather than a transparent replacement of the host
// allocator. The tag discipline is kept, rather than dropped in favor of
// bare pool.Allocate/pool.Free calls, so callers that mix pool-owned and
// host-owned regions can release either through one entry point.
package tag

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"

	"storagepool/pool"
)

// header is the prefix word stolen from every region Acquire hands out.
// A PoolID of zero marks a host-owned region (allocated with make, freed
// by letting the GC reclaim it); any other value is looked up in the
// package registry to find the owning Pool.
type header struct {
	PoolID uint64
}

var tagSize = int(unsafe.Sizeof(header{}))

// HeaderSize returns sizeof(Tag): the number of bytes Acquire steals
// from the front of every region it hands out. Collaborators and tests
// that need to compute exact byte budgets around a tagged region (for
// example, deriving a payload size that tiles an arena with no
// remainder) should call this instead of assuming a size.
func HeaderSize() int {
	return tagSize
}

// ErrUnknownPool is returned by Release when a tagged region names a
// PoolID that was never registered (or has since been unregistered).
var ErrUnknownPool = errors.New("tag: region tagged with unknown pool id")

var registry = struct {
	mu     sync.Mutex
	pools  map[uint64]*pool.Pool
	nextID uint64
}{pools: make(map[uint64]*pool.Pool), nextID: 1}

// Register assigns a stable PoolID to p so Acquire/Release can route
// tagged regions back to it. Call once per Pool, typically right after
// pool.New.
func Register(p *pool.Pool) uint64 {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	id := registry.nextID
	registry.nextID++
	registry.pools[id] = p
	return id
}

// Unregister removes a PoolID from the registry. Regions already tagged
// with it become unreleasable via this package; freeing them directly
// through the owning Pool still works.
func Unregister(id uint64) {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	delete(registry.pools, id)
}

func lookup(id uint64) *pool.Pool {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	return registry.pools[id]
}

// Acquire returns bytes usable bytes, over-allocated by the tag prefix
// and stamped with poolID. A poolID of 0 routes the request to the host
// heap instead of any Pool, matching the original's "operator new"
// fallback when no pool is supplied (mempool_common.h).
func Acquire(poolID uint64, bytes int) ([]byte, error) {
	if poolID == 0 {
		buf := make([]byte, tagSize+bytes)
		writeTagBefore(buf[tagSize:], header{PoolID: 0})
		return buf[tagSize:], nil
	}

	p := lookup(poolID)
	if p == nil {
		return nil, errors.Errorf("tag: pool id %d is not registered", poolID)
	}

	addr, err := p.Allocate(tagSize + bytes)
	if err != nil {
		return nil, err
	}

	region := p.Bytes(addr)
	writeTagBefore(region[tagSize:], header{PoolID: poolID})

	return region[tagSize:], nil
}

// Release reads the tag stamped immediately before payload and routes
// the release to the owning Pool, or drops it for the GC to reclaim if
// it was host-owned. payload must be a slice previously returned by
// Acquire; releasing anything else, or releasing the same payload twice,
// is undefined behaviour, exactly as pool.Free documents.
func Release(payload []byte) error {
	h := readTagBefore(payload)
	if h.PoolID == 0 {
		return nil
	}

	p := lookup(h.PoolID)
	if p == nil {
		return ErrUnknownPool
	}

	payloadAddr := p.AddrOf(payload)
	p.Free(payloadAddr - pool.Addr(tagSize))
	return nil
}

// writeTagBefore and readTagBefore step tagSize bytes before payload's
// first element and view those bytes as a header. This mirrors
// mempool_common.h's "reinterpret_cast<Tag*>(arg) - 1" exactly: the
// bytes belong to the same allocation as payload, whether that
// allocation came from a Pool's arena or the host heap, so walking
// backward across them is safe.
func writeTagBefore(payload []byte, h header) {
	*tagPtr(payload) = h
}

func readTagBefore(payload []byte) header {
	return *tagPtr(payload)
}

func tagPtr(payload []byte) *header {
	base := unsafe.Pointer(&payload[0])
	return (*header)(unsafe.Add(base, -tagSize))
}
