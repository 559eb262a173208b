package pool

import "github.com/pkg/errors"

// CheckInvariants walks the free list and verifies address-sortedness,
// canonicalization (no two adjacent free runs), the tile invariant (free
// + reserved blocks account for every non-sentinel block), and
// termination within N steps. It is intended for use by tests and
// diagnostic tooling, not the hot allocation/deallocation path.
func (p *Pool) CheckInvariants() error {
	seen := make(map[int]bool, p.nBlocks)
	prevIdx := -1
	currIdx := int(p.nextAt(p.sentinel).V.Next)

	var freeBlocks int
	steps := 0

	for currIdx != p.sentinel {
		steps++
		if steps > p.nBlocks {
			return errors.Errorf("free list traversal exceeded %d steps, cycle suspected at block %d", p.nBlocks, currIdx)
		}
		if seen[currIdx] {
			return errors.Errorf("free list cycle detected at block %d", currIdx)
		}
		seen[currIdx] = true

		if prevIdx >= 0 && currIdx <= prevIdx {
			return errors.Errorf("free list not address-sorted: block %d did not follow block %d", currIdx, prevIdx)
		}

		length := int(p.lengthAt(currIdx).V.Length)
		if prevIdx >= 0 {
			prevLen := int(p.lengthAt(prevIdx).V.Length)
			if prevIdx+prevLen == currIdx {
				return errors.Errorf("adjacent free runs not coalesced: block %d (len %d) touches block %d", prevIdx, prevLen, currIdx)
			}
		}

		freeBlocks += length
		prevIdx = currIdx
		currIdx = int(p.nextAt(currIdx).V.Next)
	}

	reservedBlocks, err := p.reservedBlockTotal(seen)
	if err != nil {
		return err
	}

	if freeBlocks+reservedBlocks != p.nBlocks-1 {
		return errors.Errorf("tile invariant violated: free=%d reserved=%d want=%d", freeBlocks, reservedBlocks, p.nBlocks-1)
	}

	return nil
}

// reservedBlockTotal scans every block not on the free list and sums the
// lengths of the reserved runs found there, validating that every
// non-free block is in fact the head of some run (free or reserved) and
// that runs tile the arena without gaps or overlaps.
func (p *Pool) reservedBlockTotal(free map[int]bool) (int, error) {
	var reserved int
	idx := 0
	for idx < p.sentinel {
		length := int(p.lengthAt(idx).V.Length)
		if free[idx] {
			idx += length
			continue
		}
		if length <= 0 {
			return 0, errors.Errorf("reserved run at block %d has non-positive length %d", idx, length)
		}
		reserved += length
		idx += length
	}
	if idx != p.sentinel {
		return 0, errors.Errorf("runs overran the arena: landed on block %d, sentinel is %d", idx, p.sentinel)
	}
	return reserved, nil
}
