package store

import (
	"cmp"
	"context"
	"fmt"
	"slices"
	"sync"
	"time"
)

// MemoryStore keeps history in process memory. It backs runs that were
// configured without persistent history.
type MemoryStore struct {
	mu        sync.Mutex
	campaigns map[string]Campaign
	leases    map[string]Lease
	now       func() time.Time
}

var _ History = (*MemoryStore)(nil)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		campaigns: make(map[string]Campaign),
		leases:    make(map[string]Lease),
		now:       time.Now,
	}
}

func (m *MemoryStore) Close() error { return nil }

func (m *MemoryStore) SaveCampaign(_ context.Context, c Campaign) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	c.Passes = slices.Clone(c.Passes)
	c.Undeletable = slices.Clone(c.Undeletable)
	m.campaigns[c.ID] = c
	return nil
}

func (m *MemoryStore) GetCampaign(_ context.Context, id string) (*Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	c, ok := m.campaigns[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrCampaignNotFound, id)
	}
	return &c, nil
}

func (m *MemoryStore) ListCampaigns(_ context.Context, f CampaignFilter) ([]Campaign, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var out []Campaign
	for _, c := range m.campaigns {
		if f.match(c) {
			out = append(out, c)
		}
	}
	slices.SortFunc(out, func(a, b Campaign) int {
		return cmp.Or(b.StartedAt.Compare(a.StartedAt), cmp.Compare(a.ID, b.ID))
	})
	if f.Limit > 0 && len(out) > f.Limit {
		out = out[:f.Limit]
	}
	return out, nil
}

func (m *MemoryStore) Prune(_ context.Context, cutoff time.Time) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	var n int64
	for id, c := range m.campaigns {
		if c.StartedAt.Before(cutoff) {
			delete(m.campaigns, id)
			n++
		}
	}
	return n, nil
}

func (m *MemoryStore) Acquire(_ context.Context, name, holderID string, ttl time.Duration) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	now := m.now()
	l, ok := m.leases[name]
	switch {
	case !ok:
		l = Lease{Name: name, Epoch: 1}
	case l.HolderID == holderID:
	case l.ExpiresAt.Before(now):
		l.Epoch++
	default:
		return false, nil
	}
	l.HolderID = holderID
	l.ExpiresAt = now.Add(ttl)
	l.Version++
	m.leases[name] = l
	return true, nil
}

func (m *MemoryStore) Renew(_ context.Context, name, holderID string, ttl time.Duration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[name]
	if !ok || l.HolderID != holderID {
		return fmt.Errorf("%w: %s", ErrLeaseLost, name)
	}
	l.ExpiresAt = m.now().Add(ttl)
	l.Version++
	m.leases[name] = l
	return nil
}

func (m *MemoryStore) Release(_ context.Context, name, holderID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if l, ok := m.leases[name]; ok && l.HolderID == holderID {
		delete(m.leases, name)
	}
	return nil
}

func (m *MemoryStore) Get(_ context.Context, name string) (*Lease, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	l, ok := m.leases[name]
	if !ok {
		return nil, nil
	}
	return &l, nil
}
