// ABOUTME: Mock Store implementation for testing
// ABOUTME: Allows tests to run without SQLite and to inject ledger failures

package store

import (
	"context"
	"sort"
	"sync"
	"time"
)

// MockStore is an in-memory Store implementation for testing.
// It applies the same last-write-wins rule as SQLiteStore and keeps every
// accepted write so tests can assert on the projection history.
type MockStore struct {
	mu        sync.RWMutex
	leads     map[string]*LeadRecord
	history   map[string][]*LeadRecord
	upsertErr error
	getErr    error
	now       func() time.Time
}

// NewMockStore creates a new MockStore.
func NewMockStore() *MockStore {
	return &MockStore{
		leads:   make(map[string]*LeadRecord),
		history: make(map[string][]*LeadRecord),
		now:     func() time.Time { return time.Now().UTC() },
	}
}

// SetUpsertError makes subsequent UpsertLead calls fail with err. Pass nil to clear.
func (m *MockStore) SetUpsertError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.upsertErr = err
}

// SetGetError makes subsequent GetLead calls fail with err. Pass nil to clear.
func (m *MockStore) SetGetError(err error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.getErr = err
}

// UpsertLead stores a copy of rec.
func (m *MockStore) UpsertLead(ctx context.Context, rec *LeadRecord) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if m.upsertErr != nil {
		return m.upsertErr
	}
	if rec.LastUpdated.IsZero() {
		rec.LastUpdated = m.now()
	}

	if prev, ok := m.leads[rec.LeadID]; ok && rec.LastUpdated.Before(prev.LastUpdated) {
		return nil
	}

	c := rec.Clone()
	if c.Answers == nil {
		c.Answers = map[string]string{}
	}
	m.leads[c.LeadID] = c
	m.history[c.LeadID] = append(m.history[c.LeadID], c.Clone())
	return nil
}

// GetLead retrieves a lead by id.
func (m *MockStore) GetLead(ctx context.Context, leadID string) (*LeadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	if m.getErr != nil {
		return nil, m.getErr
	}
	rec, ok := m.leads[leadID]
	if !ok {
		return nil, ErrNotFound
	}
	return rec.Clone(), nil
}

// ListLeads returns leads ordered by most recent update.
func (m *MockStore) ListLeads(ctx context.Context, filter LeadFilter) ([]*LeadRecord, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var out []*LeadRecord
	for _, rec := range m.leads {
		if filter.Status != "" && rec.Status != filter.Status {
			continue
		}
		out = append(out, rec.Clone())
	}

	sort.Slice(out, func(i, j int) bool {
		if !out[i].LastUpdated.Equal(out[j].LastUpdated) {
			return out[i].LastUpdated.After(out[j].LastUpdated)
		}
		return out[i].LeadID < out[j].LeadID
	})

	if limit := normalizeLimit(filter.Limit); len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// CountLeadsByStatus returns the number of leads per status.
func (m *MockStore) CountLeadsByStatus(ctx context.Context) (map[LeadStatus]int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	counts := make(map[LeadStatus]int)
	for _, rec := range m.leads {
		counts[rec.Status]++
	}
	return counts, nil
}

// History returns every accepted write for leadID in order.
func (m *MockStore) History(leadID string) []*LeadRecord {
	m.mu.RLock()
	defer m.mu.RUnlock()

	out := make([]*LeadRecord, len(m.history[leadID]))
	for i, rec := range m.history[leadID] {
		out[i] = rec.Clone()
	}
	return out
}

// Close is a no-op for the mock.
func (m *MockStore) Close() error {
	return nil
}

// Ensure MockStore implements Store interface
var _ Store = (*MockStore)(nil)
