package lease

import (
	"context"
	"sync"
	"time"

	"clinsched/models"

	"github.com/google/uuid"
)

// MemoryManager is an in-process Manager for single-node deployments and
// tests. Mutation is serialized per (clinic, provider) by a dedicated mutex,
// matching the contention scope of the Redis store.
type MemoryManager struct {
	ttl time.Duration
	now func() time.Time

	mu        sync.RWMutex
	providers map[string]*providerLeases // clinic|provider -> state

	idxMu sync.RWMutex
	index map[string]string // lockID -> provider key
}

type providerLeases struct {
	mu     sync.Mutex
	leases map[string]models.Lease // lockID -> lease
}

// NewMemoryManager builds a manager with the given fixed TTL. A nil now
// function defaults to time.Now; tests inject a fake clock through it.
func NewMemoryManager(ttl time.Duration, now func() time.Time) *MemoryManager {
	if now == nil {
		now = time.Now
	}
	return &MemoryManager{
		ttl:       ttl,
		now:       now,
		providers: make(map[string]*providerLeases),
		index:     make(map[string]string),
	}
}

func providerKey(clinicID, providerID string) string {
	return clinicID + "|" + providerID
}

func (m *MemoryManager) state(key string) *providerLeases {
	m.mu.RLock()
	p, ok := m.providers[key]
	m.mu.RUnlock()
	if ok {
		return p
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if p, ok = m.providers[key]; !ok {
		p = &providerLeases{leases: make(map[string]models.Lease)}
		m.providers[key] = p
	}
	return p
}

func (m *MemoryManager) lookup(lockID string) (*providerLeases, bool) {
	m.idxMu.RLock()
	key, ok := m.index[lockID]
	m.idxMu.RUnlock()
	if !ok {
		return nil, false
	}
	m.mu.RLock()
	p, ok := m.providers[key]
	m.mu.RUnlock()
	return p, ok
}

// Acquire implements Manager.
func (m *MemoryManager) Acquire(_ context.Context, req AcquireRequest) (*Grant, error) {
	now := m.now()
	p := m.state(providerKey(req.ClinicID, req.ProviderID))

	p.mu.Lock()
	defer p.mu.Unlock()

	for _, l := range p.leases {
		if l.Active(now) && l.Overlaps(req.SlotStart, req.SlotEnd) {
			return nil, ErrConflict
		}
	}

	l := models.Lease{
		LockID:     uuid.New().String(),
		ClinicID:   req.ClinicID,
		ProviderID: req.ProviderID,
		SlotStart:  req.SlotStart,
		SlotEnd:    req.SlotEnd,
		SessionID:  req.SessionID,
		UserID:     req.UserID,
		ExpiresAt:  now.Add(m.ttl),
	}
	p.leases[l.LockID] = l

	m.idxMu.Lock()
	m.index[l.LockID] = providerKey(req.ClinicID, req.ProviderID)
	m.idxMu.Unlock()

	return &Grant{LockID: l.LockID, ExpiresAt: l.ExpiresAt}, nil
}

// Extend implements Manager. The new expiry is now + TTL regardless of how
// many extends preceded it.
func (m *MemoryManager) Extend(_ context.Context, lockID, sessionID string) (*Grant, error) {
	p, ok := m.lookup(lockID)
	if !ok {
		return nil, ErrNotFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.leases[lockID]
	if !ok {
		return nil, ErrNotFound
	}
	if l.SessionID != sessionID {
		return nil, ErrNotOwner
	}
	now := m.now()
	if !l.Active(now) {
		return nil, ErrExpired
	}

	l.ExpiresAt = now.Add(m.ttl)
	p.leases[lockID] = l
	return &Grant{LockID: lockID, ExpiresAt: l.ExpiresAt}, nil
}

// Release implements Manager. Absent or expired locks release as a no-op
// success; only an active lease held by a different session is an ownership
// violation.
func (m *MemoryManager) Release(_ context.Context, lockID, sessionID string) error {
	p, ok := m.lookup(lockID)
	if !ok {
		return nil
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.leases[lockID]
	if !ok {
		return nil
	}
	if !l.Active(m.now()) {
		m.drop(p, lockID)
		return nil
	}
	if l.SessionID != sessionID {
		return ErrNotOwner
	}
	m.drop(p, lockID)
	return nil
}

// drop removes the lease and its index entry. Caller holds p.mu.
func (m *MemoryManager) drop(p *providerLeases, lockID string) {
	delete(p.leases, lockID)
	m.idxMu.Lock()
	delete(m.index, lockID)
	m.idxMu.Unlock()
}

// ReleaseAllForSession implements Manager.
func (m *MemoryManager) ReleaseAllForSession(_ context.Context, clinicID, sessionID string) (int, error) {
	now := m.now()
	count := 0

	m.mu.RLock()
	states := make([]*providerLeases, 0, len(m.providers))
	for key, p := range m.providers {
		if len(key) > len(clinicID) && key[:len(clinicID)+1] == clinicID+"|" {
			states = append(states, p)
		}
	}
	m.mu.RUnlock()

	for _, p := range states {
		p.mu.Lock()
		for lockID, l := range p.leases {
			if l.SessionID != sessionID {
				continue
			}
			if l.Active(now) {
				count++
			}
			m.drop(p, lockID)
		}
		p.mu.Unlock()
	}
	return count, nil
}

// Validate implements Manager.
func (m *MemoryManager) Validate(_ context.Context, lockID, sessionID string) (*models.Lease, error) {
	p, ok := m.lookup(lockID)
	if !ok {
		return nil, ErrNotFound
	}

	p.mu.Lock()
	defer p.mu.Unlock()

	l, ok := p.leases[lockID]
	if !ok {
		return nil, ErrNotFound
	}
	if l.SessionID != sessionID {
		return nil, ErrNotOwner
	}
	if !l.Active(m.now()) {
		return nil, ErrExpired
	}
	return &l, nil
}

// ActiveForProvider implements Manager.
func (m *MemoryManager) ActiveForProvider(_ context.Context, clinicID, providerID string) ([]models.Lease, error) {
	now := m.now()
	p := m.state(providerKey(clinicID, providerID))

	p.mu.Lock()
	defer p.mu.Unlock()

	var active []models.Lease
	for _, l := range p.leases {
		if l.Active(now) {
			active = append(active, l)
		}
	}
	return active, nil
}

// Sweep implements Manager.
func (m *MemoryManager) Sweep(_ context.Context) (int, error) {
	now := m.now()
	removed := 0

	m.mu.RLock()
	states := make([]*providerLeases, 0, len(m.providers))
	for _, p := range m.providers {
		states = append(states, p)
	}
	m.mu.RUnlock()

	for _, p := range states {
		p.mu.Lock()
		for lockID, l := range p.leases {
			if !l.Active(now) {
				m.drop(p, lockID)
				removed++
			}
		}
		p.mu.Unlock()
	}
	return removed, nil
}
