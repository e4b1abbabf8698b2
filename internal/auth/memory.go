package auth

import (
	"context"
	"sync"
	"time"
)

// MemoryStore implements Store with in-process concurrency safety. Tests
// and local development use it; production runs on PGStore.
type MemoryStore struct {
	mu          sync.RWMutex
	users       map[string]*User
	roles       map[string]*Role
	sessions    map[string]*Session
	delegations map[string]*Delegation
}

// NewMemoryStore creates an empty store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		users:       make(map[string]*User),
		roles:       make(map[string]*Role),
		sessions:    make(map[string]*Session),
		delegations: make(map[string]*Delegation),
	}
}

func (m *MemoryStore) Users(context.Context) UserStore             { return (*memUsers)(m) }
func (m *MemoryStore) Roles(context.Context) RoleStore             { return (*memRoles)(m) }
func (m *MemoryStore) Sessions(context.Context) SessionStore       { return (*memSessions)(m) }
func (m *MemoryStore) Delegations(context.Context) DelegationStore { return (*memDelegations)(m) }

// Users ---------------------------------------------------------------

type memUsers MemoryStore

func (m *memUsers) Create(_ context.Context, u *User) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.users {
		if existing.Email == u.Email && existing.Status != UserStatusDeleted {
			return ErrAlreadyExists
		}
	}
	cp := *u
	m.users[u.ID] = &cp
	return nil
}

func (m *memUsers) Find(_ context.Context, id string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *u
	return &cp, nil
}

func (m *memUsers) FindByEmail(_ context.Context, email string) (*User, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, u := range m.users {
		if u.Email == email && u.Status != UserStatusDeleted {
			cp := *u
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memUsers) UpdateLastLogin(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.LastLoginAt = &at
	u.UpdatedAt = at
	return nil
}

func (m *memUsers) UpdatePassword(_ context.Context, id, passwordHash string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.PasswordHash = passwordHash
	u.UpdatedAt = time.Now().UTC()
	return nil
}

func (m *memUsers) SoftDelete(_ context.Context, id string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	u, ok := m.users[id]
	if !ok {
		return ErrNotFound
	}
	u.Status = UserStatusDeleted
	u.DeletedAt = &at
	u.UpdatedAt = at
	return nil
}

func (m *memUsers) CountByRole(_ context.Context, roleID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, u := range m.users {
		if u.BaseRoleID == roleID && u.Status != UserStatusDeleted {
			count++
		}
	}
	return count, nil
}

// Roles ---------------------------------------------------------------

type memRoles MemoryStore

func (m *memRoles) Create(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, existing := range m.roles {
		if existing.Name == role.Name {
			return ErrAlreadyExists
		}
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Find(_ context.Context, id string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	role, ok := m.roles[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *role
	cp.Permissions = append(PermissionSet(nil), role.Permissions...)
	return &cp, nil
}

func (m *memRoles) FindByName(_ context.Context, name string) (*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	for _, role := range m.roles {
		if role.Name == name {
			cp := *role
			cp.Permissions = append(PermissionSet(nil), role.Permissions...)
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *memRoles) List(_ context.Context) ([]*Role, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]*Role, 0, len(m.roles))
	for _, role := range m.roles {
		cp := *role
		cp.Permissions = append(PermissionSet(nil), role.Permissions...)
		out = append(out, &cp)
	}
	return out, nil
}

func (m *memRoles) Update(_ context.Context, role *Role) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[role.ID]; !ok {
		return ErrNotFound
	}
	cp := *role
	m.roles[role.ID] = &cp
	return nil
}

func (m *memRoles) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.roles[id]; !ok {
		return ErrNotFound
	}
	delete(m.roles, id)
	return nil
}

// Sessions ------------------------------------------------------------

type memSessions MemoryStore

func (m *memSessions) Create(_ context.Context, s *Session) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.sessions[s.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *s
	m.sessions[s.ID] = &cp
	return nil
}

func (m *memSessions) Find(_ context.Context, id string) (*Session, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *s
	return &cp, nil
}

func (m *memSessions) Consume(_ context.Context, id string) (*Session, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok {
		return nil, ErrNotFound
	}
	delete(m.sessions, id)
	cp := *s
	return &cp, nil
}

func (m *memSessions) Delete(_ context.Context, userID, id string) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	s, ok := m.sessions[id]
	if !ok || s.UserID != userID {
		return false, nil
	}
	delete(m.sessions, id)
	return true, nil
}

func (m *memSessions) DeleteByUser(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	for id, s := range m.sessions {
		if s.UserID == userID {
			delete(m.sessions, id)
		}
	}
	return nil
}

func (m *memSessions) DeleteExpired(_ context.Context, now time.Time) (int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	deleted := 0
	for id, s := range m.sessions {
		if now.After(s.ExpiresAt) {
			delete(m.sessions, id)
			deleted++
		}
	}
	return deleted, nil
}

// Delegations ---------------------------------------------------------

type memDelegations MemoryStore

func (m *memDelegations) Create(_ context.Context, d *Delegation) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.delegations[d.ID]; ok {
		return ErrAlreadyExists
	}
	cp := *d
	m.delegations[d.ID] = &cp
	return nil
}

func (m *memDelegations) Find(_ context.Context, id string) (*Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	d, ok := m.delegations[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *d
	return &cp, nil
}

func (m *memDelegations) ListByToUser(_ context.Context, toUser string) ([]Delegation, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []Delegation
	for _, d := range m.delegations {
		if d.ToUser == toUser {
			out = append(out, *d)
		}
	}
	return out, nil
}

func (m *memDelegations) CountByRole(_ context.Context, roleID string) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	count := 0
	for _, d := range m.delegations {
		if d.RoleID == roleID {
			count++
		}
	}
	return count, nil
}

func (m *memDelegations) SetActive(_ context.Context, id string, active bool) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	d, ok := m.delegations[id]
	if !ok {
		return ErrNotFound
	}
	d.Active = active
	return nil
}
