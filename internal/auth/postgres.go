package auth

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL via database/sql with the
// pgx driver. Schema lives in migrations/.
type PGStore struct {
	db *sql.DB
}

// NewPGStore wraps an open connection pool.
func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Users(context.Context) UserStore             { return &pgUsers{db: s.db} }
func (s *PGStore) Roles(context.Context) RoleStore             { return &pgRoles{db: s.db} }
func (s *PGStore) Sessions(context.Context) SessionStore       { return &pgSessions{db: s.db} }
func (s *PGStore) Delegations(context.Context) DelegationStore { return &pgDelegations{db: s.db} }

func translatePGError(err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == "23505" {
		return ErrAlreadyExists
	}
	return err
}

// User store ----------------------------------------------------------

type pgUsers struct{ db *sql.DB }

const userColumns = `id, email, password_hash, first_name, last_name, base_role_id, status, last_login_at, created_at, updated_at, deleted_at`

func scanUser(row interface{ Scan(...any) error }) (*User, error) {
	var u User
	err := row.Scan(&u.ID, &u.Email, &u.PasswordHash, &u.FirstName, &u.LastName,
		&u.BaseRoleID, &u.Status, &u.LastLoginAt, &u.CreatedAt, &u.UpdatedAt, &u.DeletedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &u, nil
}

func (s *pgUsers) Create(ctx context.Context, u *User) error {
	_, err := s.db.ExecContext(ctx,
		`insert into users(id, email, password_hash, first_name, last_name, base_role_id, status, created_at, updated_at)
		 values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		u.ID, u.Email, u.PasswordHash, u.FirstName, u.LastName, u.BaseRoleID, u.Status, u.CreatedAt, u.UpdatedAt,
	)
	return translatePGError(err)
}

func (s *pgUsers) Find(ctx context.Context, id string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where id=$1`, id))
}

func (s *pgUsers) FindByEmail(ctx context.Context, email string) (*User, error) {
	return scanUser(s.db.QueryRowContext(ctx,
		`select `+userColumns+` from users where email=$1 and status <> 'deleted'`, email))
}

func (s *pgUsers) UpdateLastLogin(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set last_login_at=$2, updated_at=$2 where id=$1`, id, at)
	return requireRow(res, err)
}

func (s *pgUsers) UpdatePassword(ctx context.Context, id, passwordHash string) error {
	res, err := s.db.ExecContext(ctx,
		`update users set password_hash=$2, updated_at=now() where id=$1`, id, passwordHash)
	return requireRow(res, err)
}

func (s *pgUsers) SoftDelete(ctx context.Context, id string, at time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update users set status='deleted', deleted_at=$2, updated_at=$2 where id=$1 and status <> 'deleted'`, id, at)
	return requireRow(res, err)
}

func (s *pgUsers) CountByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from users where base_role_id=$1 and status <> 'deleted'`, roleID).Scan(&count)
	return count, err
}

func requireRow(res sql.Result, err error) error {
	if err != nil {
		return err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}

// Role store ----------------------------------------------------------

type pgRoles struct{ db *sql.DB }

func scanRole(row interface{ Scan(...any) error }) (*Role, error) {
	var (
		role Role
		raw  []byte
	)
	err := row.Scan(&role.ID, &role.Name, &raw, &role.CreatedAt, &role.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	// Corrupt permission payloads fail the lookup; the resolver then
	// denies instead of checking against a partial set.
	if err := json.Unmarshal(raw, &role.Permissions); err != nil {
		return nil, err
	}
	return &role, nil
}

func (s *pgRoles) Create(ctx context.Context, role *Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into roles(id, name, permissions, created_at, updated_at) values($1,$2,$3,$4,$5)`,
		role.ID, role.Name, perms, role.CreatedAt, role.UpdatedAt,
	)
	return translatePGError(err)
}

func (s *pgRoles) Find(ctx context.Context, id string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, permissions, created_at, updated_at from roles where id=$1`, id))
}

func (s *pgRoles) FindByName(ctx context.Context, name string) (*Role, error) {
	return scanRole(s.db.QueryRowContext(ctx,
		`select id, name, permissions, created_at, updated_at from roles where name=$1`, name))
}

func (s *pgRoles) List(ctx context.Context) ([]*Role, error) {
	rows, err := s.db.QueryContext(ctx,
		`select id, name, permissions, created_at, updated_at from roles order by created_at`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var roles []*Role
	for rows.Next() {
		role, err := scanRole(rows)
		if err != nil {
			return nil, err
		}
		roles = append(roles, role)
	}
	return roles, rows.Err()
}

func (s *pgRoles) Update(ctx context.Context, role *Role) error {
	perms, err := json.Marshal(role.Permissions)
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx,
		`update roles set name=$2, permissions=$3, updated_at=$4 where id=$1`,
		role.ID, role.Name, perms, role.UpdatedAt,
	)
	return requireRow(res, err)
}

func (s *pgRoles) Delete(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, `delete from roles where id=$1`, id)
	return requireRow(res, err)
}

// Session store -------------------------------------------------------

type pgSessions struct{ db *sql.DB }

func (s *pgSessions) Create(ctx context.Context, sess *Session) error {
	_, err := s.db.ExecContext(ctx,
		`insert into sessions(id, user_id, token_hash, issued_at, expires_at) values($1,$2,$3,$4,$5)`,
		sess.ID, sess.UserID, sess.TokenHash, sess.IssuedAt, sess.ExpiresAt,
	)
	return translatePGError(err)
}

func (s *pgSessions) Find(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`select id, user_id, token_hash, issued_at, expires_at from sessions where id=$1`, id).
		Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.IssuedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

// Consume deletes and returns the session in one statement so two
// concurrent refreshes of the same token cannot both observe the row.
func (s *pgSessions) Consume(ctx context.Context, id string) (*Session, error) {
	var sess Session
	err := s.db.QueryRowContext(ctx,
		`delete from sessions where id=$1 returning id, user_id, token_hash, issued_at, expires_at`, id).
		Scan(&sess.ID, &sess.UserID, &sess.TokenHash, &sess.IssuedAt, &sess.ExpiresAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &sess, nil
}

func (s *pgSessions) Delete(ctx context.Context, userID, id string) (bool, error) {
	res, err := s.db.ExecContext(ctx,
		`delete from sessions where id=$1 and user_id=$2`, id, userID)
	if err != nil {
		return false, err
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return affected > 0, nil
}

func (s *pgSessions) DeleteByUser(ctx context.Context, userID string) error {
	_, err := s.db.ExecContext(ctx, `delete from sessions where user_id=$1`, userID)
	return err
}

func (s *pgSessions) DeleteExpired(ctx context.Context, now time.Time) (int, error) {
	res, err := s.db.ExecContext(ctx, `delete from sessions where expires_at < $1`, now)
	if err != nil {
		return 0, err
	}
	affected, err := res.RowsAffected()
	return int(affected), err
}

// Delegation store ----------------------------------------------------

type pgDelegations struct{ db *sql.DB }

const delegationColumns = `id, from_user, to_user, role_id, start_date, end_date, reason, active, created_at`

func (s *pgDelegations) Create(ctx context.Context, d *Delegation) error {
	_, err := s.db.ExecContext(ctx,
		`insert into delegations(`+delegationColumns+`) values($1,$2,$3,$4,$5,$6,$7,$8,$9)`,
		d.ID, d.FromUser, d.ToUser, d.RoleID, d.StartDate, d.EndDate, d.Reason, d.Active, d.CreatedAt,
	)
	return translatePGError(err)
}

func (s *pgDelegations) Find(ctx context.Context, id string) (*Delegation, error) {
	var d Delegation
	err := s.db.QueryRowContext(ctx,
		`select `+delegationColumns+` from delegations where id=$1`, id).
		Scan(&d.ID, &d.FromUser, &d.ToUser, &d.RoleID, &d.StartDate, &d.EndDate, &d.Reason, &d.Active, &d.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return &d, nil
}

func (s *pgDelegations) ListByToUser(ctx context.Context, toUser string) ([]Delegation, error) {
	rows, err := s.db.QueryContext(ctx,
		`select `+delegationColumns+` from delegations where to_user=$1 order by created_at`, toUser)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Delegation
	for rows.Next() {
		var d Delegation
		if err := rows.Scan(&d.ID, &d.FromUser, &d.ToUser, &d.RoleID, &d.StartDate, &d.EndDate, &d.Reason, &d.Active, &d.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, d)
	}
	return out, rows.Err()
}

func (s *pgDelegations) CountByRole(ctx context.Context, roleID string) (int, error) {
	var count int
	err := s.db.QueryRowContext(ctx,
		`select count(*) from delegations where role_id=$1`, roleID).Scan(&count)
	return count, err
}

func (s *pgDelegations) SetActive(ctx context.Context, id string, active bool) error {
	res, err := s.db.ExecContext(ctx,
		`update delegations set active=$2 where id=$1`, id, active)
	return requireRow(res, err)
}
