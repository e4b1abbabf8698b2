package auth

import (
	"context"
	"time"
)

// Store describes persistence operations required by the identity core.
// The backing engine is treated as a transactional record store; the
// Postgres implementation lives in postgres.go, the in-memory one used
// by tests in memory.go.
type Store interface {
	Users(ctx context.Context) UserStore
	Roles(ctx context.Context) RoleStore
	Sessions(ctx context.Context) SessionStore
	Delegations(ctx context.Context) DelegationStore
}

// UserStore manages credentialed accounts.
type UserStore interface {
	Create(ctx context.Context, u *User) error
	Find(ctx context.Context, id string) (*User, error)
	FindByEmail(ctx context.Context, email string) (*User, error)
	UpdateLastLogin(ctx context.Context, id string, at time.Time) error
	UpdatePassword(ctx context.Context, id, passwordHash string) error
	SoftDelete(ctx context.Context, id string, at time.Time) error
	CountByRole(ctx context.Context, roleID string) (int, error)
}

// RoleStore manages the role catalog.
type RoleStore interface {
	Create(ctx context.Context, role *Role) error
	Find(ctx context.Context, id string) (*Role, error)
	FindByName(ctx context.Context, name string) (*Role, error)
	List(ctx context.Context) ([]*Role, error)
	Update(ctx context.Context, role *Role) error
	Delete(ctx context.Context, id string) error
}

// SessionStore manages refresh-session records. Consume must remove and
// return the session in one atomic step so two concurrent refreshes of
// the same token cannot both succeed.
type SessionStore interface {
	Create(ctx context.Context, s *Session) error
	Find(ctx context.Context, id string) (*Session, error)
	Consume(ctx context.Context, id string) (*Session, error)
	Delete(ctx context.Context, userID, id string) (bool, error)
	DeleteByUser(ctx context.Context, userID string) error
	DeleteExpired(ctx context.Context, now time.Time) (int, error)
}

// DelegationStore manages time-bounded role delegations.
type DelegationStore interface {
	Create(ctx context.Context, d *Delegation) error
	Find(ctx context.Context, id string) (*Delegation, error)
	ListByToUser(ctx context.Context, toUser string) ([]Delegation, error)
	CountByRole(ctx context.Context, roleID string) (int, error)
	SetActive(ctx context.Context, id string, active bool) error
}
