package auth

import "time"

const (
	UserStatusActive   = "active"
	UserStatusDisabled = "disabled"
	UserStatusDeleted  = "deleted"
)

// User represents a credentialed account. PasswordHash only ever changes
// through Register and ChangePassword; deletion is a soft delete.
type User struct {
	ID           string     `json:"id"`
	Email        string     `json:"email"`
	PasswordHash string     `json:"-"`
	FirstName    string     `json:"first_name"`
	LastName     string     `json:"last_name"`
	BaseRoleID   string     `json:"base_role_id"`
	Status       string     `json:"status"`
	LastLoginAt  *time.Time `json:"last_login_at,omitempty"`
	CreatedAt    time.Time  `json:"created_at"`
	UpdatedAt    time.Time  `json:"updated_at"`
	DeletedAt    *time.Time `json:"-"`
}

// Role groups a validated set of resource:action permissions.
type Role struct {
	ID          string        `json:"id"`
	Name        string        `json:"name"`
	Permissions PermissionSet `json:"permissions"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// Session is the server-side record backing one refresh token. The token
// itself is stored only as a SHA-256 hash; ID equals the token's jti claim.
type Session struct {
	ID        string    `json:"id"`
	UserID    string    `json:"user_id"`
	TokenHash string    `json:"-"`
	IssuedAt  time.Time `json:"issued_at"`
	ExpiresAt time.Time `json:"expires_at"`
}

// Delegation is a time-bounded grant letting ToUser act under RoleID
// instead of their base role. Revocation flips Active; rows are never
// deleted so the history stays auditable.
type Delegation struct {
	ID        string    `json:"id"`
	FromUser  string    `json:"from_user"`
	ToUser    string    `json:"to_user"`
	RoleID    string    `json:"role_id"`
	StartDate time.Time `json:"start_date"`
	EndDate   time.Time `json:"end_date"`
	Reason    string    `json:"reason"`
	Active    bool      `json:"active"`
	CreatedAt time.Time `json:"created_at"`
}

// EffectiveAt reports whether the delegation applies at the given instant.
// Both window bounds are inclusive.
func (d Delegation) EffectiveAt(now time.Time) bool {
	if !d.Active {
		return false
	}
	return !now.Before(d.StartDate) && !now.After(d.EndDate)
}

// TokenPair carries freshly issued access and refresh tokens.
type TokenPair struct {
	AccessToken      string    `json:"access_token"`
	RefreshToken     string    `json:"refresh_token"`
	AccessExpiresAt  time.Time `json:"access_expires_at"`
	RefreshExpiresAt time.Time `json:"refresh_expires_at"`
}

// Principal is the authenticated identity permission checks run against.
type Principal struct {
	UserID string `json:"user_id"`
	RoleID string `json:"role_id"`
}

// IsZero reports whether the principal is absent (unauthenticated).
func (p Principal) IsZero() bool {
	return p.UserID == ""
}
