package extents

import (
	"errors"
	"fmt"
	"sync"
	"sync/atomic"

	"github.com/google/btree"
	"go.uber.org/zap"
)

// ExtentIndex is an ordered index of extents keyed by start physical
// address. One index serves one address space.
//
// Locking: mu guards the tree, count and closed. Floor, Ceiling, Lookup,
// Walk and Dump take it shared; Insert, Remove, RecordPage and Close take it
// exclusive. Each extent's own lock guards its page list and bounds. When two
// extents are locked together they are locked in ascending start order.
type ExtentIndex struct {
	mu            sync.RWMutex
	tree          *btree.BTreeG[*Extent]
	count         int
	pagesRecorded uint64
	closed        bool
	nextID        atomic.Uint64

	pageSize uint64
	policy   ContiguityPolicy
	degree   int
	alloc    Allocator
	logger   *zap.Logger
}

// NewExtentIndex creates an empty index.
func NewExtentIndex(opts ...Option) (*ExtentIndex, error) {
	x := &ExtentIndex{
		pageSize: DefaultPageSize,
		policy:   RequireVirtual,
		degree:   defaultDegree,
		alloc:    HeapAllocator{},
		logger:   zap.NewNop(),
	}
	for _, opt := range opts {
		opt(x)
	}
	if !validPageSize(x.pageSize) {
		return nil, fmt.Errorf("%w: %d", ErrInvalidPageSize, x.pageSize)
	}
	if x.degree < 2 {
		return nil, fmt.Errorf("btree degree must be at least 2, got %d", x.degree)
	}
	x.tree = btree.NewG[*Extent](x.degree, lessByStart)
	return x, nil
}

// PageSize returns the page size the index coalesces with.
func (x *ExtentIndex) PageSize() uint64 { return x.pageSize }

// Policy returns the contiguity policy.
func (x *ExtentIndex) Policy() ContiguityPolicy { return x.policy }

// NewExtent allocates a single page extent with a fresh id. It is not
// inserted; pass it to Insert, and to Dispose if Insert rejects it.
func (x *ExtentIndex) NewExtent(phys PhysAddr, virt VirtAddr) (*Extent, error) {
	if x == nil {
		return nil, ErrInvalidIndex
	}
	if err := x.checkAligned(phys, virt); err != nil {
		return nil, err
	}
	if err := reserve(x.alloc, extentObjectSize, pageRecordSize); err != nil {
		return nil, err
	}
	return newExtent(x.nextID.Add(1), phys, virt, x.pageSize), nil
}

// Dispose returns an extent that never made it into the index to the
// allocator. An extent that is still indexed is refused with
// ErrExtentIndexed; use Remove for those.
func (x *ExtentIndex) Dispose(ext *Extent) error {
	if x == nil {
		return ErrInvalidIndex
	}
	if ext == nil {
		return nil
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if cur, ok := x.tree.Get(ext); ok && cur == ext {
		return fmt.Errorf("%w: extent %d at %s", ErrExtentIndexed, ext.id, ext.startPhys)
	}
	x.disposeLocked(ext)
	return nil
}

// disposeLocked frees ext and its page records. The caller holds x.mu and
// has already unlinked ext, or never linked it.
func (x *ExtentIndex) disposeLocked(ext *Extent) {
	ext.mu.Lock()
	if ext.released {
		ext.mu.Unlock()
		return
	}
	n := ext.releaseLocked()
	ext.mu.Unlock()
	x.alloc.Free(extentObjectSize + uintptr(n)*pageRecordSize)
}

// Insert adds ext under its start address. An occupied key yields
// ErrDuplicateKey and leaves both the existing entry and ext untouched.
func (x *ExtentIndex) Insert(ext *Extent) error {
	if x == nil {
		return ErrInvalidIndex
	}
	if ext == nil {
		return fmt.Errorf("%w: nil extent", ErrExtentNotFound)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrIndexClosed
	}
	return x.insertLocked(ext)
}

func (x *ExtentIndex) insertLocked(ext *Extent) error {
	if ext.Released() {
		return fmt.Errorf("%w: extent %d was released", ErrExtentNotFound, ext.id)
	}
	if existing, ok := x.tree.Get(ext); ok {
		return fmt.Errorf("%w: start %s held by extent %d", ErrDuplicateKey, ext.startPhys, existing.id)
	}
	end := ext.EndPhys()
	if prev := x.floorLocked(ext.startPhys); prev != nil && prev.Contains(ext.startPhys) {
		return fmt.Errorf("%w: start %s inside extent %d", ErrPageOverlap, ext.startPhys, prev.id)
	}
	if next := x.ceilingLocked(ext.startPhys); next != nil && next.startPhys <= end {
		return fmt.Errorf("%w: end %s runs into extent %d", ErrPageOverlap, end, next.id)
	}
	x.tree.ReplaceOrInsert(ext)
	x.count++
	return nil
}

// Remove deletes ext from the index and releases its page records.
func (x *ExtentIndex) Remove(ext *Extent) error {
	if x == nil {
		return ErrInvalidIndex
	}
	if ext == nil {
		return fmt.Errorf("%w: nil extent", ErrExtentNotFound)
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return ErrIndexClosed
	}
	cur, ok := x.tree.Get(ext)
	if !ok || cur != ext {
		return fmt.Errorf("%w: start %s", ErrExtentNotFound, ext.startPhys)
	}
	pages := ext.NumPages()
	x.deleteLocked(ext)
	x.logger.Debug("removed extent",
		zap.Uint64("extent_id", ext.id),
		zap.Stringer("start_phys", ext.startPhys),
		zap.Uint64("num_pages", pages),
	)
	return nil
}

// deleteLocked unlinks ext from the tree and frees it with its pages.
func (x *ExtentIndex) deleteLocked(ext *Extent) {
	x.tree.Delete(ext)
	x.count--
	x.disposeLocked(ext)
}

// Floor returns the extent with the greatest start address <= addr, or nil
// when there is none.
func (x *ExtentIndex) Floor(addr PhysAddr) (*Extent, error) {
	if x == nil {
		return nil, ErrInvalidIndex
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrIndexClosed
	}
	return x.floorLocked(addr), nil
}

// Ceiling returns the extent with the least start address >= addr, or nil
// when there is none.
func (x *ExtentIndex) Ceiling(addr PhysAddr) (*Extent, error) {
	if x == nil {
		return nil, ErrInvalidIndex
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrIndexClosed
	}
	return x.ceilingLocked(addr), nil
}

// Lookup returns the extent whose physical range covers addr, or nil.
func (x *ExtentIndex) Lookup(addr PhysAddr) (*Extent, error) {
	if x == nil {
		return nil, ErrInvalidIndex
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return nil, ErrIndexClosed
	}
	// Merges and re-keys need the write lock, so the floor cannot be
	// released while the read lock is held.
	ext := x.floorLocked(addr)
	if ext == nil || !ext.Contains(addr) {
		return nil, nil
	}
	return ext, nil
}

func (x *ExtentIndex) floorLocked(addr PhysAddr) *Extent {
	var best *Extent
	x.tree.DescendLessOrEqual(searchKey(addr), func(e *Extent) bool {
		best = e
		return false
	})
	return best
}

func (x *ExtentIndex) ceilingLocked(addr PhysAddr) *Extent {
	var best *Extent
	x.tree.AscendGreaterOrEqual(searchKey(addr), func(e *Extent) bool {
		best = e
		return false
	})
	return best
}

// Count returns the number of extents in the index.
func (x *ExtentIndex) Count() int {
	if x == nil {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.count
}

// PagesRecorded returns how many RecordPage calls have succeeded.
func (x *ExtentIndex) PagesRecorded() uint64 {
	if x == nil {
		return 0
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	return x.pagesRecorded
}

// Walk visits extents in ascending start order until fn returns false.
// The structural read lock is held for the whole walk, so fn must not call
// back into write operations on the same index.
func (x *ExtentIndex) Walk(fn func(*Extent) bool) error {
	if x == nil {
		return ErrInvalidIndex
	}
	x.mu.RLock()
	defer x.mu.RUnlock()
	if x.closed {
		return ErrIndexClosed
	}
	x.tree.Ascend(btree.ItemIteratorG[*Extent](fn))
	return nil
}

// Close drains the index, releasing every extent. Other operations fail
// with ErrIndexClosed afterwards; closing again is a no-op.
func (x *ExtentIndex) Close() error {
	_, err := x.Drain()
	if errors.Is(err, ErrIndexClosed) {
		return nil
	}
	return err
}

// Drain closes the index and reports how many extents it released. Only
// the call that actually closes the index succeeds; later calls return
// ErrIndexClosed.
func (x *ExtentIndex) Drain() (int, error) {
	if x == nil {
		return 0, ErrInvalidIndex
	}
	x.mu.Lock()
	defer x.mu.Unlock()
	if x.closed {
		return 0, ErrIndexClosed
	}
	drained := x.count
	for {
		ext, ok := x.tree.DeleteMin()
		if !ok {
			break
		}
		x.disposeLocked(ext)
	}
	x.count = 0
	x.closed = true
	x.logger.Debug("extent index closed", zap.Int("extents_drained", drained))
	return drained, nil
}

func (x *ExtentIndex) checkAligned(phys PhysAddr, virt VirtAddr) error {
	if !aligned(uint64(phys), x.pageSize) {
		return fmt.Errorf("%w: phys %s", ErrMisaligned, phys)
	}
	if !aligned(uint64(virt), x.pageSize) {
		return fmt.Errorf("%w: virt %s", ErrMisaligned, virt)
	}
	return nil
}
