package extents

import (
	"sync"
)

// Extent is a maximal run of pages that are contiguous in physical memory
// and, under the default policy, in the virtual range they back.
//
// startPhys is the index key and never changes once the extent is inserted.
// Everything else is guarded by mu.
type Extent struct {
	id        uint64
	startPhys PhysAddr

	mu        sync.Mutex
	endPhys   PhysAddr
	startVirt VirtAddr
	endVirt   VirtAddr
	numPages  uint64
	pages     []PageRecord
	released  bool
}

// ExtentSnapshot is a point-in-time copy of an extent's state.
type ExtentSnapshot struct {
	ID        uint64       `json:"id"`
	StartPhys PhysAddr     `json:"start_phys"`
	EndPhys   PhysAddr     `json:"end_phys"`
	StartVirt VirtAddr     `json:"start_virt"`
	EndVirt   VirtAddr     `json:"end_virt"`
	NumPages  uint64       `json:"num_pages"`
	Pages     []PageRecord `json:"pages"`
}

func newExtent(id uint64, phys PhysAddr, virt VirtAddr, pageSize uint64) *Extent {
	return &Extent{
		id:        id,
		startPhys: phys,
		endPhys:   phys + PhysAddr(pageSize) - 1,
		startVirt: virt,
		endVirt:   virt + VirtAddr(pageSize) - 1,
		numPages:  1,
		pages:     []PageRecord{{Phys: phys, Virt: virt}},
	}
}

// searchKey builds a probe for tree lookups. It is never inserted.
func searchKey(addr PhysAddr) *Extent {
	return &Extent{startPhys: addr}
}

func lessByStart(a, b *Extent) bool {
	return a.startPhys < b.startPhys
}

// ID returns the extent's identity.
func (e *Extent) ID() uint64 { return e.id }

// StartPhys returns the first physical address covered by the extent.
func (e *Extent) StartPhys() PhysAddr { return e.startPhys }

// EndPhys returns the last physical address (inclusive) covered by the extent.
func (e *Extent) EndPhys() PhysAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endPhys
}

// StartVirt returns the virtual address of the first page.
func (e *Extent) StartVirt() VirtAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.startVirt
}

// EndVirt returns the last virtual address (inclusive) of the extent.
func (e *Extent) EndVirt() VirtAddr {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.endVirt
}

// NumPages returns how many pages the extent holds.
func (e *Extent) NumPages() uint64 {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.numPages
}

// Pages returns a copy of the page records in insertion order.
func (e *Extent) Pages() []PageRecord {
	e.mu.Lock()
	defer e.mu.Unlock()
	out := make([]PageRecord, len(e.pages))
	copy(out, e.pages)
	return out
}

// Contains reports whether addr falls inside the extent's physical range.
func (e *Extent) Contains(addr PhysAddr) bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.containsLocked(addr)
}

// Released reports whether the extent has been removed from its index,
// merged away or replaced. A released extent holds no pages.
func (e *Extent) Released() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.released
}

// Snapshot copies the extent's state under its list lock.
func (e *Extent) Snapshot() ExtentSnapshot {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.snapshotLocked()
}

func (e *Extent) snapshotLocked() ExtentSnapshot {
	pages := make([]PageRecord, len(e.pages))
	copy(pages, e.pages)
	return ExtentSnapshot{
		ID:        e.id,
		StartPhys: e.startPhys,
		EndPhys:   e.endPhys,
		StartVirt: e.startVirt,
		EndVirt:   e.endVirt,
		NumPages:  e.numPages,
		Pages:     pages,
	}
}

func (e *Extent) containsLocked(addr PhysAddr) bool {
	return addr >= e.startPhys && addr <= e.endPhys
}

// appendPageLocked adds a page at the tail. Caller holds e.mu.
func (e *Extent) appendPageLocked(phys PhysAddr, virt VirtAddr, pageSize uint64) {
	e.pages = append(e.pages, PageRecord{Phys: phys, Virt: virt})
	e.numPages++
	e.endPhys = phys + PhysAddr(pageSize) - 1
	e.endVirt = virt + VirtAddr(pageSize) - 1
}

// absorbLocked splices all of other's pages onto e's tail and takes over
// other's end bounds. Caller holds both locks. other is left empty.
func (e *Extent) absorbLocked(other *Extent) {
	e.pages = append(e.pages, other.pages...)
	e.numPages += other.numPages
	e.endPhys = other.endPhys
	e.endVirt = other.endVirt

	other.pages = nil
	other.numPages = 0
	other.released = true
}

// releaseLocked drops the page list and returns how many records it held.
func (e *Extent) releaseLocked() uint64 {
	n := uint64(len(e.pages))
	e.pages = nil
	e.numPages = 0
	e.released = true
	return n
}

// lockPair acquires the list locks of two distinct extents in ascending
// start address order and returns the matching unlock.
func lockPair(a, b *Extent) (unlock func()) {
	if b.startPhys < a.startPhys {
		a, b = b, a
	}
	a.mu.Lock()
	b.mu.Lock()
	return func() {
		b.mu.Unlock()
		a.mu.Unlock()
	}
}
