package auth

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/ids"
	"gatehouse.org/internal/obs"
)

const (
	defaultAccessTTL  = 15 * time.Minute
	defaultRefreshTTL = 7 * 24 * time.Hour
	defaultIssuer     = "gatehouse"
	defaultBaseRole   = "viewer"
)

// Service is the auth façade: registration, login, token refresh and
// logout, plus role and delegation administration. All security failures
// surface as one of the sentinel errors in errors.go with no internal
// detail attached.
type Service struct {
	store Store
	now   func() time.Time

	secret      []byte
	issuer      string
	accessTTL   time.Duration
	refreshTTL  time.Duration
	bcryptCost  int
	defaultRole string
}

// ServiceOption configures Service behavior.
type ServiceOption func(*Service) error

// WithTokenSecret sets the HS256 signing secret. Required.
func WithTokenSecret(secret string) ServiceOption {
	return func(s *Service) error {
		if strings.TrimSpace(secret) == "" {
			return errors.New("auth: token secret is required")
		}
		s.secret = []byte(secret)
		return nil
	}
}

// WithIssuer overrides the token issuer claim.
func WithIssuer(issuer string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(issuer); v != "" {
			s.issuer = v
		}
		return nil
	}
}

// WithAccessTTL configures access token lifetime.
func WithAccessTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.accessTTL = ttl
		}
		return nil
	}
}

// WithRefreshTTL configures refresh token and session lifetime.
func WithRefreshTTL(ttl time.Duration) ServiceOption {
	return func(s *Service) error {
		if ttl > 0 {
			s.refreshTTL = ttl
		}
		return nil
	}
}

// WithBcryptCost overrides the password hashing cost (tests use the
// minimum to stay fast).
func WithBcryptCost(cost int) ServiceOption {
	return func(s *Service) error {
		if cost >= bcrypt.MinCost && cost <= bcrypt.MaxCost {
			s.bcryptCost = cost
		}
		return nil
	}
}

// WithDefaultRole sets the role name assigned to newly registered users.
func WithDefaultRole(name string) ServiceOption {
	return func(s *Service) error {
		if v := strings.TrimSpace(name); v != "" {
			s.defaultRole = v
		}
		return nil
	}
}

// WithClock overrides the time source (useful for tests).
func WithClock(fn func() time.Time) ServiceOption {
	return func(s *Service) error {
		if fn != nil {
			s.now = fn
		}
		return nil
	}
}

// NewService constructs the façade. A token secret must be provided.
func NewService(store Store, opts ...ServiceOption) (*Service, error) {
	if store == nil {
		return nil, errors.New("auth: store is required")
	}
	svc := &Service{
		store:       store,
		now:         time.Now,
		issuer:      defaultIssuer,
		accessTTL:   defaultAccessTTL,
		refreshTTL:  defaultRefreshTTL,
		bcryptCost:  bcrypt.DefaultCost,
		defaultRole: defaultBaseRole,
	}
	for _, opt := range opts {
		if err := opt(svc); err != nil {
			return nil, err
		}
	}
	if len(svc.secret) == 0 {
		return nil, errors.New("auth: token secret is required")
	}
	return svc, nil
}

// Register creates a new account with the default base role and issues an
// initial token pair.
func (s *Service) Register(ctx context.Context, email, password, firstName, lastName string) (*User, TokenPair, error) {
	email = normalizeEmail(email)
	if email == "" || !strings.Contains(email, "@") {
		return nil, TokenPair{}, fmt.Errorf("%w: valid email is required", ErrInvalidInput)
	}
	if len(password) < 8 {
		return nil, TokenPair{}, fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	role, err := s.store.Roles(ctx).FindByName(ctx, s.defaultRole)
	if err != nil {
		return nil, TokenPair{}, fmt.Errorf("resolve default role: %w", err)
	}
	user, err := s.createUser(ctx, email, password, firstName, lastName, role.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.register",
		SubjectUserID: user.ID,
		Resource:      "user",
		Method:        "register",
		Severity:      audit.SeverityInfo,
	})
	pair, err := s.Issue(ctx, user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	return user, pair, nil
}

func (s *Service) createUser(ctx context.Context, email, password, firstName, lastName, roleID string) (*User, error) {
	users := s.store.Users(ctx)
	if _, err := users.FindByEmail(ctx, email); err == nil {
		return nil, fmt.Errorf("%w: email %s", ErrAlreadyExists, email)
	} else if !errors.Is(err, ErrNotFound) {
		return nil, err
	}
	hash, err := HashPassword(password, s.bcryptCost)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	user := &User{
		ID:           ids.New(),
		Email:        email,
		PasswordHash: hash,
		FirstName:    strings.TrimSpace(firstName),
		LastName:     strings.TrimSpace(lastName),
		BaseRoleID:   roleID,
		Status:       UserStatusActive,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	if err := users.Create(ctx, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login verifies credentials and issues a token pair. Unknown email and
// wrong password fail with the identical error so callers cannot probe
// which accounts exist.
func (s *Service) Login(ctx context.Context, email, password string) (*User, TokenPair, error) {
	email = normalizeEmail(email)
	user, err := s.store.Users(ctx).FindByEmail(ctx, email)
	if err != nil || user.Status != UserStatusActive || VerifyPassword(user.PasswordHash, password) != nil {
		obs.ObserveLogin("failed")
		_ = audit.Emit(ctx, audit.Event{
			Action:   "auth.login.failed",
			Resource: "session",
			Method:   "login",
			Severity: audit.SeverityWarning,
			Fields:   map[string]any{"email": email},
		})
		return nil, TokenPair{}, ErrInvalidCredentials
	}
	pair, err := s.Issue(ctx, user.ID)
	if err != nil {
		return nil, TokenPair{}, err
	}
	now := s.now().UTC()
	if err := s.store.Users(ctx).UpdateLastLogin(ctx, user.ID, now); err != nil {
		obs.Logger().Printf(`{"level":"error","msg":"update last login","user_id":%q,"err":%q}`, user.ID, err.Error())
	}
	user.LastLoginAt = &now
	obs.ObserveLogin("ok")
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.login",
		SubjectUserID: user.ID,
		Resource:      "session",
		Method:        "login",
		Severity:      audit.SeverityInfo,
	})
	return user, pair, nil
}

// Issue mints a fresh token pair for the user and writes the backing
// session record. The refresh token is dual-signed on purpose: the JWT
// signature makes it tamper-evident, the session row makes it revocable.
func (s *Service) Issue(ctx context.Context, userID string) (TokenPair, error) {
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return TokenPair{}, err
	}
	accessToken, accessClaims, err := s.signToken(user.ID, user.BaseRoleID, tokenTypeAccess, s.accessTTL)
	if err != nil {
		return TokenPair{}, err
	}
	refreshToken, refreshClaims, err := s.signToken(user.ID, "", tokenTypeRefresh, s.refreshTTL)
	if err != nil {
		return TokenPair{}, err
	}
	session := &Session{
		ID:        refreshClaims.ID,
		UserID:    user.ID,
		TokenHash: hashToken(refreshToken),
		IssuedAt:  refreshClaims.IssuedAt.Time,
		ExpiresAt: refreshClaims.ExpiresAt.Time,
	}
	if err := s.store.Sessions(ctx).Create(ctx, session); err != nil {
		return TokenPair{}, err
	}
	return TokenPair{
		AccessToken:      accessToken,
		RefreshToken:     refreshToken,
		AccessExpiresAt:  accessClaims.ExpiresAt.Time,
		RefreshExpiresAt: refreshClaims.ExpiresAt.Time,
	}, nil
}

// Refresh rotates the presented refresh token: the old session row is
// consumed atomically before a new pair is issued, so a refresh token is
// single-use. A signed token whose session is already gone is a replay
// signal and revokes every session the user holds.
func (s *Service) Refresh(ctx context.Context, refreshToken string) (TokenPair, error) {
	claims, err := s.verifyToken(refreshToken, tokenTypeRefresh)
	if err != nil {
		obs.ObserveRefresh("invalid")
		return TokenPair{}, ErrUnauthorized
	}
	sessions := s.store.Sessions(ctx)
	session, err := sessions.Consume(ctx, claims.ID)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			obs.ObserveRefresh("replay")
			_ = sessions.DeleteByUser(ctx, claims.Subject)
			_ = audit.Emit(ctx, audit.Event{
				Action:        "auth.refresh.replay",
				SubjectUserID: claims.Subject,
				Resource:      "session",
				Method:        "refresh",
				Severity:      audit.SeverityCritical,
			})
			return TokenPair{}, ErrUnauthorized
		}
		return TokenPair{}, err
	}
	if session.UserID != claims.Subject || session.TokenHash != hashToken(refreshToken) {
		obs.ObserveRefresh("mismatch")
		_ = sessions.DeleteByUser(ctx, session.UserID)
		_ = audit.Emit(ctx, audit.Event{
			Action:        "auth.refresh.replay",
			SubjectUserID: session.UserID,
			Resource:      "session",
			Method:        "refresh",
			Severity:      audit.SeverityCritical,
		})
		return TokenPair{}, ErrUnauthorized
	}
	if s.now().After(session.ExpiresAt) {
		obs.ObserveRefresh("expired")
		return TokenPair{}, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).Find(ctx, session.UserID)
	if err != nil || user.Status != UserStatusActive {
		obs.ObserveRefresh("invalid")
		return TokenPair{}, ErrUnauthorized
	}
	pair, err := s.Issue(ctx, session.UserID)
	if err != nil {
		return TokenPair{}, err
	}
	obs.ObserveRefresh("ok")
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.refresh",
		SubjectUserID: session.UserID,
		Resource:      "session",
		Method:        "refresh",
		Severity:      audit.SeverityInfo,
	})
	return pair, nil
}

// Logout revokes the session behind the given refresh token. Calling it
// with an unknown or already-revoked token is a no-op, not an error; the
// audit event is emitted either way.
func (s *Service) Logout(ctx context.Context, userID, refreshToken string) error {
	deleted := false
	if claims, err := s.verifyToken(refreshToken, tokenTypeRefresh); err == nil {
		deleted, err = s.store.Sessions(ctx).Delete(ctx, userID, claims.ID)
		if err != nil {
			return err
		}
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.logout",
		SubjectUserID: userID,
		Resource:      "session",
		Method:        "logout",
		Severity:      audit.SeverityInfo,
		Fields:        map[string]any{"revoked": deleted},
	})
	return nil
}

// ChangePassword re-verifies the old password before storing a new hash,
// then revokes all sessions so stolen refresh tokens die with the old
// credential.
func (s *Service) ChangePassword(ctx context.Context, userID, oldPassword, newPassword string) error {
	if len(newPassword) < 8 {
		return fmt.Errorf("%w: password must be at least 8 characters", ErrInvalidInput)
	}
	user, err := s.store.Users(ctx).Find(ctx, userID)
	if err != nil {
		return err
	}
	if VerifyPassword(user.PasswordHash, oldPassword) != nil {
		return ErrInvalidCredentials
	}
	hash, err := HashPassword(newPassword, s.bcryptCost)
	if err != nil {
		return err
	}
	if err := s.store.Users(ctx).UpdatePassword(ctx, userID, hash); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).DeleteByUser(ctx, userID); err != nil {
		return err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.password.change",
		SubjectUserID: userID,
		Resource:      "user",
		Method:        "change_password",
		Severity:      audit.SeverityInfo,
	})
	return nil
}

// DeleteUser soft-deletes the account and revokes its sessions. The row
// stays behind with a deletion timestamp.
func (s *Service) DeleteUser(ctx context.Context, userID string) error {
	if err := s.store.Users(ctx).SoftDelete(ctx, userID, s.now().UTC()); err != nil {
		return err
	}
	if err := s.store.Sessions(ctx).DeleteByUser(ctx, userID); err != nil {
		return err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.user.delete",
		SubjectUserID: userID,
		Resource:      "user",
		Method:        "delete",
		Severity:      audit.SeverityWarning,
	})
	return nil
}

// Authenticate validates an access token and returns the principal for
// downstream permission checks.
func (s *Service) Authenticate(ctx context.Context, accessToken string) (Principal, error) {
	claims, err := s.verifyToken(accessToken, tokenTypeAccess)
	if err != nil {
		return Principal{}, ErrUnauthorized
	}
	user, err := s.store.Users(ctx).Find(ctx, claims.Subject)
	if err != nil || user.Status != UserStatusActive {
		return Principal{}, ErrUnauthorized
	}
	return Principal{UserID: user.ID, RoleID: claims.Role}, nil
}

// SweepSessions deletes session rows whose expiry has passed. Stale rows
// are inert, so this is housekeeping, not a correctness requirement.
func (s *Service) SweepSessions(ctx context.Context) (int, error) {
	return s.store.Sessions(ctx).DeleteExpired(ctx, s.now().UTC())
}

// EnsureBootstrap seeds the builtin roles and, if the given email is not
// registered yet, an admin account through the same code path as every
// other registration. There is no parallel static-credential login.
func (s *Service) EnsureBootstrap(ctx context.Context, email, password string) error {
	if err := s.EnsureBuiltinRoles(ctx); err != nil {
		return err
	}
	email = normalizeEmail(email)
	if email == "" || password == "" {
		return nil
	}
	if _, err := s.store.Users(ctx).FindByEmail(ctx, email); err == nil {
		return nil
	} else if !errors.Is(err, ErrNotFound) {
		return err
	}
	adminRole, err := s.store.Roles(ctx).FindByName(ctx, RoleNameAdmin)
	if err != nil {
		return err
	}
	user, err := s.createUser(ctx, email, password, "Bootstrap", "Admin", adminRole.ID)
	if err != nil {
		return err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "auth.bootstrap",
		SubjectUserID: user.ID,
		Resource:      "user",
		Method:        "bootstrap",
		Severity:      audit.SeverityWarning,
	})
	return nil
}

func normalizeEmail(email string) string {
	return strings.TrimSpace(strings.ToLower(email))
}
