package extents

import "fmt"

// DefaultPageSize matches the host memory subsystem's base page.
const DefaultPageSize uint64 = 4096

// PhysAddr is a physical memory address.
type PhysAddr uint64

// VirtAddr is a virtual memory address.
type VirtAddr uint64

func (a PhysAddr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }
func (a VirtAddr) String() string { return fmt.Sprintf("0x%x", uint64(a)) }

// PageRecord is one physical to virtual page pair belonging to an extent.
// It is a value type and never changes after creation.
type PageRecord struct {
	Phys PhysAddr
	Virt VirtAddr
}

func validPageSize(size uint64) bool {
	return size != 0 && size&(size-1) == 0
}

func aligned(addr, pageSize uint64) bool {
	return addr&(pageSize-1) == 0
}
