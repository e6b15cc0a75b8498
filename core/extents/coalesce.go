package extents

import (
	"fmt"

	"go.uber.org/zap"
)

// Outcome says how RecordPage placed a page.
type Outcome int

const (
	// OutcomeNew started a fresh single page extent.
	OutcomeNew Outcome = iota
	// OutcomeAppend extended the preceding extent in place.
	OutcomeAppend
	// OutcomeMerge extended the preceding extent and absorbed the following one.
	OutcomeMerge
	// OutcomePrepend replaced the following extent with one starting at the page.
	OutcomePrepend
)

func (o Outcome) String() string {
	switch o {
	case OutcomeNew:
		return "new"
	case OutcomeAppend:
		return "append"
	case OutcomeMerge:
		return "merge"
	case OutcomePrepend:
		return "prepend"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// RecordPage records that phys is mapped at virt and returns the extent that
// now holds the page. See RecordPageOutcome.
func (x *ExtentIndex) RecordPage(phys PhysAddr, virt VirtAddr) (*Extent, error) {
	ext, _, err := x.RecordPageOutcome(phys, virt)
	return ext, err
}

// RecordPageOutcome records a page and reports how it was coalesced.
//
// The lookup, the decision and the mutation run under the structural write
// lock as one critical section, so two callers can never both extend the same
// neighbour. Every allocation a path needs is reserved before anything is
// mutated; on failure the index is exactly as it was.
func (x *ExtentIndex) RecordPageOutcome(phys PhysAddr, virt VirtAddr) (*Extent, Outcome, error) {
	if x == nil {
		return nil, OutcomeNew, ErrInvalidIndex
	}
	if err := x.checkAligned(phys, virt); err != nil {
		return nil, OutcomeNew, err
	}

	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return nil, OutcomeNew, ErrIndexClosed
	}

	prev := x.floorLocked(phys)
	next := x.ceilingLocked(phys)

	if prev != nil && prev.Contains(phys) {
		if prev.startPhys == phys {
			return nil, OutcomeNew, fmt.Errorf("%w: page %s already starts extent %d", ErrDuplicateKey, phys, prev.id)
		}
		return nil, OutcomeNew, fmt.Errorf("%w: page %s inside extent %d", ErrPageOverlap, phys, prev.id)
	}

	joinsPrev := x.followsExtent(prev, phys, virt)
	joinsNext := x.precedesExtent(next, phys, virt)

	var (
		ext     *Extent
		outcome Outcome
		err     error
	)
	switch {
	case joinsPrev:
		ext, outcome, err = x.extendBackward(prev, next, joinsNext, phys, virt)
	case joinsNext:
		ext, outcome, err = x.extendForward(next, phys, virt)
	default:
		ext, outcome, err = x.startExtent(phys, virt)
	}
	if err != nil {
		x.logger.Warn("page not recorded",
			zap.Stringer("phys", phys),
			zap.Stringer("virt", virt),
			zap.Error(err),
		)
		return nil, outcome, err
	}

	x.pagesRecorded++
	x.logger.Debug("page recorded",
		zap.Stringer("phys", phys),
		zap.Stringer("virt", virt),
		zap.Stringer("outcome", outcome),
		zap.Uint64("extent_id", ext.id),
	)
	return ext, outcome, nil
}

// followsExtent reports whether the page sits directly after prev.
func (x *ExtentIndex) followsExtent(prev *Extent, phys PhysAddr, virt VirtAddr) bool {
	if prev == nil {
		return false
	}
	prev.mu.Lock()
	defer prev.mu.Unlock()
	if prev.endPhys+1 != phys {
		return false
	}
	return x.policy == PhysicalOnly || prev.endVirt+1 == virt
}

// precedesExtent reports whether the page sits directly before next.
func (x *ExtentIndex) precedesExtent(next *Extent, phys PhysAddr, virt VirtAddr) bool {
	if next == nil {
		return false
	}
	next.mu.Lock()
	defer next.mu.Unlock()
	if phys+PhysAddr(x.pageSize) != next.startPhys {
		return false
	}
	return x.policy == PhysicalOnly || virt+VirtAddr(x.pageSize) == next.startVirt
}

// extendBackward appends the page to prev in place; prev keeps its key and
// id. If the page also bridges to next, next is spliced onto prev and
// dropped from the tree.
func (x *ExtentIndex) extendBackward(prev, next *Extent, bridge bool, phys PhysAddr, virt VirtAddr) (*Extent, Outcome, error) {
	if err := x.alloc.Alloc(pageRecordSize); err != nil {
		return nil, OutcomeAppend, err
	}

	if !bridge {
		prev.mu.Lock()
		prev.appendPageLocked(phys, virt, x.pageSize)
		prev.mu.Unlock()
		return prev, OutcomeAppend, nil
	}

	unlock := lockPair(prev, next)
	prev.appendPageLocked(phys, virt, x.pageSize)
	prev.absorbLocked(next)
	unlock()

	x.tree.Delete(next)
	x.count--
	// next's pages now belong to prev; only its header is returned.
	x.alloc.Free(extentObjectSize)
	return prev, OutcomeMerge, nil
}

// extendForward handles a page directly below next. The tree key cannot
// change in place, so next is removed under its old key and a replacement
// carrying next's id is inserted under phys.
func (x *ExtentIndex) extendForward(next *Extent, phys PhysAddr, virt VirtAddr) (*Extent, Outcome, error) {
	if err := reserve(x.alloc, extentObjectSize, pageRecordSize); err != nil {
		return nil, OutcomePrepend, err
	}

	ext := newExtent(next.id, phys, virt, x.pageSize)
	unlock := lockPair(ext, next)
	ext.absorbLocked(next)
	unlock()

	x.tree.Delete(next)
	x.tree.ReplaceOrInsert(ext)
	x.alloc.Free(extentObjectSize)
	return ext, OutcomePrepend, nil
}

// startExtent creates a single page extent with a fresh id.
func (x *ExtentIndex) startExtent(phys PhysAddr, virt VirtAddr) (*Extent, Outcome, error) {
	if err := reserve(x.alloc, extentObjectSize, pageRecordSize); err != nil {
		return nil, OutcomeNew, err
	}
	ext := newExtent(x.nextID.Add(1), phys, virt, x.pageSize)
	if err := x.insertLocked(ext); err != nil {
		x.disposeLocked(ext)
		return nil, OutcomeNew, err
	}
	return ext, OutcomeNew, nil
}
