package reputation

import (
	"context"
	"sort"
	"sync"
)

// MemoryStore is an in-memory statistics store for development and tests.
type MemoryStore struct {
	stats map[string]*Stats
	mu    sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{stats: make(map[string]*Stats)}
}

func (m *MemoryStore) Get(_ context.Context, expertID string) (*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	st, ok := m.stats[expertID]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *st
	return &cp, nil
}

func (m *MemoryStore) Update(_ context.Context, expertID string, fn func(*Stats) error) (*Stats, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var work Stats
	if st, ok := m.stats[expertID]; ok {
		work = *st
	} else {
		work = Stats{ExpertID: expertID}
	}
	if err := fn(&work); err != nil {
		return nil, err
	}
	stored := work
	m.stats[expertID] = &stored
	return &work, nil
}

func (m *MemoryStore) List(_ context.Context) ([]*Stats, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*Stats, 0, len(m.stats))
	for _, st := range m.stats {
		cp := *st
		out = append(out, &cp)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ExpertID < out[j].ExpertID })
	return out, nil
}

func (m *MemoryStore) SaveRankings(_ context.Context, entries []RankEntry, totalExperts int) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for _, e := range entries {
		st, ok := m.stats[e.ExpertID]
		if !ok {
			continue
		}
		st.Ranking = e.Ranking
		st.TotalExperts = totalExperts
	}
	return nil
}

func (m *MemoryStore) Delete(_ context.Context, expertID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.stats[expertID]; !ok {
		return ErrNotFound
	}
	delete(m.stats, expertID)
	return nil
}

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)
