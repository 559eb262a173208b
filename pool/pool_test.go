package pool

import (
	"math"
	"testing"
)

func TestNewComputesBlockCount(t *testing.T) {
	tests := []struct {
		name      string
		bytes     int
		blockSize int
		wantN     int
	}{
		// N = ceil((bytes+8)/blockSize) + 1
		{"zero bytes, default block size", 0, 0, 2},
		{"one block worth of bytes", 8, 16, 2},
		{"just over one block", 9, 16, 3},
		{"exact multiple minus header", 24, 16, 3},
		{"custom block size", 100, 24, 6},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p, err := New(tt.bytes, tt.blockSize)
			if err != nil {
				t.Fatalf("New(%d, %d) failed: %v", tt.bytes, tt.blockSize, err)
			}

			if p.BlockCount() != tt.wantN {
				t.Errorf("BlockCount() = %d, want %d", p.BlockCount(), tt.wantN)
			}

			if err := p.CheckInvariants(); err != nil {
				t.Errorf("fresh pool violates invariants: %v", err)
			}
		})
	}
}

func TestNewRejectsUndersizedBlock(t *testing.T) {
	if _, err := New(64, 8); err == nil {
		t.Error("expected error for block size smaller than sizeof(length)+sizeof(next), got nil")
	}
}

func TestNewRejectsNegativeSize(t *testing.T) {
	if _, err := New(-1, 16); err == nil {
		t.Error("expected error for negative requested size, got nil")
	}
}

func TestAllocateExactMatch(t *testing.T) {
	p, err := New(0, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	// Single free run spans the whole arena; requesting exactly that many
	// bytes back should consume it with no split and no error.
	whole := (p.BlockCount() - 1) * p.BlockSize()
	addr, err := p.Allocate(whole - HeaderSize())
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	if addr != Addr(HeaderSize()) {
		t.Errorf("Allocate address = %d, want %d", addr, HeaderSize())
	}

	if _, err := p.Allocate(1); err != ErrOutOfMemory {
		t.Errorf("second Allocate error = %v, want ErrOutOfMemory", err)
	}
}

func TestAllocateSplitsFromLowEnd(t *testing.T) {
	p, err := New(1024, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	first, err := p.Allocate(16)
	if err != nil {
		t.Fatalf("first Allocate failed: %v", err)
	}
	second, err := p.Allocate(16)
	if err != nil {
		t.Fatalf("second Allocate failed: %v", err)
	}

	if !(first < second) {
		t.Errorf("expected low-end split to keep allocations in address order: first=%d second=%d", first, second)
	}

	if err := p.CheckInvariants(); err != nil {
		t.Errorf("invariants violated after split: %v", err)
	}
}

func TestFreeAndReallocateReturnsSameAddress(t *testing.T) {
	p, err := New(1024, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	addr, err := p.Allocate(32)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	p.Free(addr)

	reAddr, err := p.Allocate(32)
	if err != nil {
		t.Fatalf("re-Allocate failed: %v", err)
	}

	if reAddr != addr {
		t.Errorf("address reuse law violated: got %d, want %d", reAddr, addr)
	}
}

func TestRoundTripFillLeavesOneFreeRun(t *testing.T) {
	p, err := New(1024, 24)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	var addrs []Addr
	for {
		addr, err := p.Allocate(16)
		if err != nil {
			break
		}
		addrs = append(addrs, addr)
	}

	if len(addrs) == 0 {
		t.Fatal("expected at least one allocation to succeed")
	}

	// Free in reverse order so every release after the first coalesces
	// with the free run to its right.
	for i := len(addrs) - 1; i >= 0; i-- {
		p.Free(addrs[i])
	}

	dump := p.Dump()
	if dump.FreeRuns != 1 {
		t.Errorf("FreeRuns = %d, want 1", dump.FreeRuns)
	}
	if dump.FreeBlocks != p.BlockCount()-1 {
		t.Errorf("FreeBlocks = %d, want %d", dump.FreeBlocks, p.BlockCount()-1)
	}

	if err := p.CheckInvariants(); err != nil {
		t.Errorf("invariants violated after full round trip: %v", err)
	}
}

func TestBytesReturnsWritableRegionOfRequestedSize(t *testing.T) {
	p, err := New(256, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	addr, err := p.Allocate(10)
	if err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}

	region := p.Bytes(addr)
	if len(region) < 10 {
		t.Fatalf("region length = %d, want at least 10", len(region))
	}

	for i := range region {
		region[i] = byte(i)
	}
	for i, b := range region {
		if b != byte(i) {
			t.Fatalf("region[%d] = %d, want %d", i, b, byte(i))
		}
	}
}

func TestDataNonAliasing(t *testing.T) {
	p, err := New(256, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}

	a, err := p.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate a failed: %v", err)
	}
	b, err := p.Allocate(16)
	if err != nil {
		t.Fatalf("Allocate b failed: %v", err)
	}

	regionA := p.Bytes(a)
	regionB := p.Bytes(b)

	for i := range regionA {
		regionA[i] = 0xAA
	}
	for i := range regionB {
		regionB[i] = 0xBB
	}

	for i, v := range regionA {
		if v != 0xAA {
			t.Fatalf("regionA[%d] was perturbed by writes to regionB: got %x", i, v)
		}
	}
}

func TestNewPropagatesHostAcquisitionFailureAsError(t *testing.T) {
	// A requested capacity this close to math.MaxInt drives nBlocks
	// negative through integer overflow in the block-count arithmetic,
	// which makes the arena's make([]byte, ...) panic with "len out of
	// range". New must recover that panic and return it as an error
	// instead of letting it escape to the caller, per the construction
	// error contract.
	if _, err := New(math.MaxInt, 16); err == nil {
		t.Error("expected New to report a host-level acquisition failure, got nil error")
	}
}

func TestCloseDoesNotPanic(t *testing.T) {
	fresh, err := New(0, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	fresh.Close()

	used, err := New(1024, 16)
	if err != nil {
		t.Fatalf("New failed: %v", err)
	}
	if _, err := used.Allocate(16); err != nil {
		t.Fatalf("Allocate failed: %v", err)
	}
	used.Close()
}
