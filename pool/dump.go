package pool

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
)

// Stats is the observable, human-readable summary of a Pool's current
// state.
type Stats struct {
	BlockCount     int
	BlockSize      int
	FreeRuns       int
	FreeBlocks     int
	ReservedBlocks int
	FreeListDigest uint64
}

// Dump walks the free list once and returns a populated Stats.
// CheckInvariants walks the list the same way, with its own loop, to
// verify sortedness, canonicalization and the tile invariant.
func (p *Pool) Dump() Stats {
	digest := xxhash.New()

	var freeRuns, freeBlocks int
	currIdx := int(p.nextAt(p.sentinel).V.Next)

	for currIdx != p.sentinel {
		length := p.lengthAt(currIdx).V.Length
		freeRuns++
		freeBlocks += int(length)

		fmt.Fprintf(digest, "%d:%d;", currIdx, length)

		currIdx = int(p.nextAt(currIdx).V.Next)
	}

	total := p.nBlocks - 1

	return Stats{
		BlockCount:     p.nBlocks,
		BlockSize:      p.blockSize,
		FreeRuns:       freeRuns,
		FreeBlocks:     freeBlocks,
		ReservedBlocks: total - freeBlocks,
		FreeListDigest: digest.Sum64(),
	}
}

// String renders Stats as a single-line summary.
func (s Stats) String() string {
	return fmt.Sprintf(
		"Pool{blocks=%d blockSize=%d freeRuns=%d free=%d reserved=%d digest=%016x}",
		s.BlockCount, s.BlockSize, s.FreeRuns, s.FreeBlocks, s.ReservedBlocks, s.FreeListDigest,
	)
}
