package extents

import (
	"fmt"
	"sync/atomic"
	"unsafe"
)

// Sizes charged to the Allocator for index bookkeeping.
var (
	extentObjectSize = unsafe.Sizeof(Extent{})
	pageRecordSize   = unsafe.Sizeof(PageRecord{})
)

// Allocator supplies the memory budget for extents and page records.
// Alloc may fail; the index never mutates state before its reservations
// succeed.
type Allocator interface {
	Alloc(size uintptr) error
	Free(size uintptr)
}

// HeapAllocator never fails. It is the default.
type HeapAllocator struct{}

func (HeapAllocator) Alloc(uintptr) error { return nil }
func (HeapAllocator) Free(uintptr)        {}

// QuotaAllocator caps the bytes of bookkeeping an index may hold.
type QuotaAllocator struct {
	limit uint64
	used  atomic.Uint64
}

// NewQuotaAllocator returns an allocator that refuses requests once limit
// bytes are outstanding.
func NewQuotaAllocator(limit uint64) *QuotaAllocator {
	return &QuotaAllocator{limit: limit}
}

// Alloc reserves size bytes or returns ErrAllocationFailure.
func (q *QuotaAllocator) Alloc(size uintptr) error {
	for {
		used := q.used.Load()
		next := used + uint64(size)
		if next > q.limit {
			return fmt.Errorf("%w: %d bytes requested, %d of %d in use", ErrAllocationFailure, size, used, q.limit)
		}
		if q.used.CompareAndSwap(used, next) {
			return nil
		}
	}
}

// Free returns size bytes to the quota.
func (q *QuotaAllocator) Free(size uintptr) {
	for {
		used := q.used.Load()
		next := uint64(0)
		if used > uint64(size) {
			next = used - uint64(size)
		}
		if q.used.CompareAndSwap(used, next) {
			return
		}
	}
}

// Used returns the bytes currently reserved.
func (q *QuotaAllocator) Used() uint64 { return q.used.Load() }

// Limit returns the configured cap.
func (q *QuotaAllocator) Limit() uint64 { return q.limit }

// reserve allocates every size in order. On failure the sizes already
// granted are returned before the error is.
func reserve(a Allocator, sizes ...uintptr) error {
	for i, size := range sizes {
		if err := a.Alloc(size); err != nil {
			for _, granted := range sizes[:i] {
				a.Free(granted)
			}
			return err
		}
	}
	return nil
}
