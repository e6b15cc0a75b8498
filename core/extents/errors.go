package extents

import "errors"

// --- Error Definitions ---

var (
	ErrDuplicateKey      = errors.New("extent with this start address already exists")
	ErrAllocationFailure = errors.New("allocator could not supply memory for extent bookkeeping")
	ErrInvalidIndex      = errors.New("extent index is nil or not initialized")
	ErrExtentNotFound    = errors.New("extent not found in index")
	ErrPageOverlap       = errors.New("page already covered by an existing extent")
	ErrMisaligned        = errors.New("address is not page aligned")
	ErrIndexClosed       = errors.New("extent index is closed")
	ErrInvalidPageSize   = errors.New("page size must be a non-zero power of two")
	ErrExtentIndexed     = errors.New("extent is still linked into the index")
)
