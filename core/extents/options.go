package extents

import (
	"fmt"
	"strings"

	"github.com/sushant-115/mmextents/pkg/logger"
	"go.uber.org/zap"
)

// ContiguityPolicy decides what counts as adjacent when coalescing.
type ContiguityPolicy int

const (
	// RequireVirtual needs both physical and virtual contiguity.
	RequireVirtual ContiguityPolicy = iota
	// PhysicalOnly coalesces on physical contiguity alone. Virtual bounds
	// then track the first and last page only.
	PhysicalOnly
)

func (p ContiguityPolicy) String() string {
	switch p {
	case RequireVirtual:
		return "require_virtual"
	case PhysicalOnly:
		return "physical_only"
	default:
		return fmt.Sprintf("ContiguityPolicy(%d)", int(p))
	}
}

// ParseContiguityPolicy maps a config string to a policy. Empty means the
// default.
func ParseContiguityPolicy(s string) (ContiguityPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "require_virtual", "virtual":
		return RequireVirtual, nil
	case "physical_only", "physical":
		return PhysicalOnly, nil
	default:
		return RequireVirtual, fmt.Errorf("unknown contiguity policy %q", s)
	}
}

const defaultDegree = 32

// Option configures an ExtentIndex.
type Option func(*ExtentIndex)

// WithPageSize overrides DefaultPageSize.
func WithPageSize(size uint64) Option {
	return func(x *ExtentIndex) { x.pageSize = size }
}

// WithContiguity selects the coalescing policy.
func WithContiguity(p ContiguityPolicy) Option {
	return func(x *ExtentIndex) { x.policy = p }
}

// WithAllocator sets the allocator extents and page records are charged to.
func WithAllocator(a Allocator) Option {
	return func(x *ExtentIndex) {
		if a != nil {
			x.alloc = a
		}
	}
}

// WithLogger attaches a logger. The index logs under the "extents" name.
func WithLogger(l *zap.Logger) Option {
	return func(x *ExtentIndex) {
		if l != nil {
			x.logger = logger.Component(l, "extents")
		}
	}
}

// WithDegree sets the degree of the underlying B-tree.
func WithDegree(d int) Option {
	return func(x *ExtentIndex) { x.degree = d }
}
