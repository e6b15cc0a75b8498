package addressspace

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"

	"github.com/google/uuid"
	"github.com/sushant-115/mmextents/core/extents"
	"github.com/sushant-115/mmextents/pkg/logger"
	"github.com/sushant-115/mmextents/pkg/telemetry"
	"go.uber.org/zap"
)

var (
	ErrSpaceNotFound = errors.New("address space not found")
	ErrSpaceExists   = errors.New("address space label already in use")
	ErrManagerClosed = errors.New("address space manager is closed")
)

// IndexOptionsFunc builds the index options for a new address space. It is
// called once per space so stateful options such as quota allocators are not
// shared.
type IndexOptionsFunc func() []extents.Option

// Manager tracks the live address spaces of a process.
type Manager struct {
	mu      sync.RWMutex
	spaces  map[uuid.UUID]*AddressSpace
	labels  map[string]uuid.UUID
	closed  bool
	tel     *telemetry.Telemetry
	logger  *zap.Logger
	options IndexOptionsFunc
}

// NewManager creates an empty registry.
func NewManager(tel *telemetry.Telemetry, log *zap.Logger, options IndexOptionsFunc) *Manager {
	if options == nil {
		options = func() []extents.Option { return nil }
	}
	return &Manager{
		spaces:  make(map[uuid.UUID]*AddressSpace),
		labels:  make(map[string]uuid.UUID),
		tel:     tel,
		logger:  logger.Component(log, "addressspace"),
		options: options,
	}
}

// Create registers a new address space. An empty label is replaced by the
// space's id.
func (m *Manager) Create(ctx context.Context, label string) (*AddressSpace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.createLocked(label)
}

// GetOrCreate returns the space with label, creating it if needed.
func (m *Manager) GetOrCreate(ctx context.Context, label string) (*AddressSpace, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if id, ok := m.labels[label]; ok && label != "" {
		return m.spaces[id], nil
	}
	return m.createLocked(label)
}

func (m *Manager) createLocked(label string) (*AddressSpace, error) {
	if m.closed {
		return nil, ErrManagerClosed
	}
	if _, ok := m.labels[label]; ok && label != "" {
		return nil, fmt.Errorf("%w: %s", ErrSpaceExists, label)
	}
	s, err := New(label, m.tel, m.logger, m.options()...)
	if err != nil {
		return nil, err
	}
	m.spaces[s.id] = s
	m.labels[s.label] = s.id
	return s, nil
}

// Get returns the space with id.
func (m *Manager) Get(id uuid.UUID) (*AddressSpace, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.spaces[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, id)
	}
	return s, nil
}

// Find resolves either an id string or a label.
func (m *Manager) Find(ref string) (*AddressSpace, error) {
	if id, err := uuid.Parse(ref); err == nil {
		return m.Get(id)
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	id, ok := m.labels[ref]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrSpaceNotFound, ref)
	}
	return m.spaces[id], nil
}

// Destroy closes the space and forgets it.
func (m *Manager) Destroy(id uuid.UUID) error {
	m.mu.Lock()
	s, ok := m.spaces[id]
	if ok {
		delete(m.spaces, id)
		delete(m.labels, s.label)
	}
	m.mu.Unlock()
	if !ok {
		return fmt.Errorf("%w: %s", ErrSpaceNotFound, id)
	}
	return s.Close()
}

// List returns the live spaces ordered by creation time.
func (m *Manager) List() []*AddressSpace {
	m.mu.RLock()
	out := make([]*AddressSpace, 0, len(m.spaces))
	for _, s := range m.spaces {
		out = append(out, s)
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].created.Equal(out[j].created) {
			return out[i].label < out[j].label
		}
		return out[i].created.Before(out[j].created)
	})
	return out
}

// Close tears down every space. Later Create calls fail.
func (m *Manager) Close() error {
	m.mu.Lock()
	spaces := m.spaces
	m.spaces = make(map[uuid.UUID]*AddressSpace)
	m.labels = make(map[string]uuid.UUID)
	m.closed = true
	m.mu.Unlock()

	var errs []error
	for _, s := range spaces {
		if err := s.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close %s: %w", s.label, err))
		}
	}
	return errors.Join(errs...)
}
