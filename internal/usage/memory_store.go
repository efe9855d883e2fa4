package usage

import (
	"context"
	"sync"
)

// maxEntriesPerUser caps retained history in the memory and Redis stores.
const maxEntriesPerUser = 1000

// MemoryStore is an in-memory usage store for development and tests.
type MemoryStore struct {
	accounts map[string]*Account
	entries  map[string][]*Entry // per user, oldest first
	mu       sync.RWMutex
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		accounts: make(map[string]*Account),
		entries:  make(map[string][]*Entry),
	}
}

func (m *MemoryStore) Get(_ context.Context, userID string) (*Account, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	a, ok := m.accounts[userID]
	if !ok {
		return nil, ErrNotFound
	}
	return a.clone(), nil
}

func (m *MemoryStore) Update(_ context.Context, userID string, fresh *Account, fn Mutation) (*Account, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var work Account
	if a, ok := m.accounts[userID]; ok {
		work = *a
	} else {
		work = *fresh
		work.UserID = userID
	}

	entries, err := fn(&work)
	if err != nil {
		return nil, err
	}

	m.accounts[userID] = work.clone()
	if len(entries) > 0 {
		list := m.entries[userID]
		for _, e := range entries {
			cp := *e
			list = append(list, &cp)
		}
		if len(list) > maxEntriesPerUser {
			list = append([]*Entry(nil), list[len(list)-maxEntriesPerUser:]...)
		}
		m.entries[userID] = list
	}
	return &work, nil
}

func (m *MemoryStore) ListEntries(_ context.Context, userID string, limit int) ([]*Entry, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if limit <= 0 {
		limit = maxEntriesPerUser
	}
	list := m.entries[userID]
	out := make([]*Entry, 0, min(limit, len(list)))
	for i := len(list) - 1; i >= 0 && len(out) < limit; i-- {
		cp := *list[i]
		out = append(out, &cp)
	}
	return out, nil
}

func (m *MemoryStore) Delete(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.accounts[userID]; !ok {
		return ErrNotFound
	}
	delete(m.accounts, userID)
	delete(m.entries, userID)
	return nil
}

// Compile-time assertion.
var _ Store = (*MemoryStore)(nil)
