package tenant

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory academy store for development and tests.
type MemoryStore struct {
	mu       sync.RWMutex
	academies map[string]*Academy // by ID
	slugs    map[string]string   // slug -> ID
	owners   map[string]string   // owner -> ID
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		academies: make(map[string]*Academy),
		slugs:    make(map[string]string),
		owners:   make(map[string]string),
	}
}

func (m *MemoryStore) Create(_ context.Context, a *Academy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.slugs[a.Slug]; ok {
		return ErrSlugTaken
	}
	if _, ok := m.owners[a.OwnerID]; ok && a.OwnerID != "" {
		return ErrOwnerTaken
	}
	for _, other := range m.academies {
		if a.TaxID != "" && other.TaxID == a.TaxID {
			return ErrTaxIDTaken
		}
	}

	cp := *a
	m.academies[a.ID] = &cp
	m.slugs[a.Slug] = a.ID
	if a.OwnerID != "" {
		m.owners[a.OwnerID] = a.ID
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, id string) (*Academy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.academies[id]
	if !ok {
		return nil, ErrAcademyNotFound
	}
	cp := *a
	return &cp, nil
}

func (m *MemoryStore) GetBySlug(ctx context.Context, slug string) (*Academy, error) {
	m.mu.RLock()
	id, ok := m.slugs[slug]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAcademyNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) GetByOwner(ctx context.Context, ownerID string) (*Academy, error) {
	m.mu.RLock()
	id, ok := m.owners[ownerID]
	m.mu.RUnlock()
	if !ok {
		return nil, ErrAcademyNotFound
	}
	return m.Get(ctx, id)
}

func (m *MemoryStore) Update(_ context.Context, a *Academy) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	old, ok := m.academies[a.ID]
	if !ok {
		return ErrAcademyNotFound
	}
	if old.Slug != a.Slug {
		if _, taken := m.slugs[a.Slug]; taken {
			return ErrSlugTaken
		}
		delete(m.slugs, old.Slug)
		m.slugs[a.Slug] = a.ID
	}
	cp := *a
	m.academies[a.ID] = &cp
	return nil
}

func (m *MemoryStore) SlugExists(_ context.Context, slug string) (bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	_, ok := m.slugs[slug]
	return ok, nil
}

func (m *MemoryStore) ListAllAcademies(_ context.Context, activeOnly bool) ([]*Academy, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Academy, 0, len(m.academies))
	for _, a := range m.academies {
		if activeOnly && !a.Active {
			continue
		}
		cp := *a
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

var _ Store = (*MemoryStore)(nil)
