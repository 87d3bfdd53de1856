package roster

import (
	"errors"
	"sync"
)

var ErrNotFound = errors.New("not found")

// Store is the durable source of truth for contacts and groups. Callers get
// copies; nothing here hands out shared pointers.
type Store interface {
	Contacts() ([]*Contact, error)
	Contact(accountID string) (*Contact, error)
	SaveContact(c *Contact) error
	DeleteContact(accountID string) error

	Groups() ([]*Group, error)
	GroupByID(gsid uint16) (*Group, error)
	GroupByName(name string) (*Group, error)
	SaveGroup(g *Group) error
	DeleteGroup(gsid uint16) error

	SyncState() (SyncState, error)
	SaveSyncState(s SyncState) error
}

// MemoryStore is an in-process Store
type MemoryStore struct {
	mu       sync.RWMutex
	contacts map[string]*Contact
	groups   map[uint16]*Group
	state    SyncState
}

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		contacts: make(map[string]*Contact),
		groups:   make(map[uint16]*Group),
	}
}

func (m *MemoryStore) Contacts() ([]*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Contact, 0, len(m.contacts))
	for _, c := range m.contacts {
		out = append(out, c.Clone())
	}
	return out, nil
}

func (m *MemoryStore) Contact(accountID string) (*Contact, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.contacts[accountID]
	if !ok {
		return nil, ErrNotFound
	}
	return c.Clone(), nil
}

func (m *MemoryStore) SaveContact(c *Contact) error {
	m.mu.Lock()
	m.contacts[c.AccountID] = c.Clone()
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteContact(accountID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.contacts[accountID]; !ok {
		return ErrNotFound
	}
	delete(m.contacts, accountID)
	return nil
}

func (m *MemoryStore) Groups() ([]*Group, error) {
	m.mu.RLock()
	out := make([]*Group, 0, len(m.groups))
	for _, g := range m.groups {
		cp := *g
		out = append(out, &cp)
	}
	m.mu.RUnlock()
	SortGroups(out)
	return out, nil
}

func (m *MemoryStore) GroupByID(gsid uint16) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	g, ok := m.groups[gsid]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *g
	return &cp, nil
}

func (m *MemoryStore) GroupByName(name string) (*Group, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, g := range m.groups {
		if g.Name == name {
			cp := *g
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *MemoryStore) SaveGroup(g *Group) error {
	cp := *g
	m.mu.Lock()
	m.groups[g.GSID] = &cp
	m.mu.Unlock()
	return nil
}

func (m *MemoryStore) DeleteGroup(gsid uint16) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.groups[gsid]; !ok {
		return ErrNotFound
	}
	delete(m.groups, gsid)
	return nil
}

func (m *MemoryStore) SyncState() (SyncState, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state, nil
}

func (m *MemoryStore) SaveSyncState(s SyncState) error {
	m.mu.Lock()
	m.state = s
	m.mu.Unlock()
	return nil
}
