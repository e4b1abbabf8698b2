package auth

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/jackc/pgx/v5/pgconn"
)

func TestPGUsersFindByEmail(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	rows := sqlmock.NewRows([]string{
		"id", "email", "password_hash", "first_name", "last_name",
		"base_role_id", "status", "last_login_at", "created_at", "updated_at", "deleted_at",
	}).AddRow("u-1", "alice@example.com", "$2a$hash", "Alice", "Doe",
		"r-viewer", "active", nil, now, now, nil)

	mock.ExpectQuery("select .* from users where email=.* and status <> 'deleted'").
		WithArgs("alice@example.com").WillReturnRows(rows)

	store := NewPGStore(db)
	user, err := store.Users(context.Background()).FindByEmail(context.Background(), "alice@example.com")
	if err != nil {
		t.Fatalf("FindByEmail: %v", err)
	}
	if user.ID != "u-1" || user.BaseRoleID != "r-viewer" || user.Status != UserStatusActive {
		t.Fatalf("unexpected user: %+v", user)
	}

	mock.ExpectQuery("select .* from users where email=").
		WithArgs("nobody@example.com").WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.Users(context.Background()).FindByEmail(context.Background(), "nobody@example.com"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGUsersCreateDuplicate(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("insert into users").
		WithArgs("u-1", "alice@example.com", "$2a$hash", "", "", "r-viewer", "active", sqlmock.AnyArg(), sqlmock.AnyArg()).
		WillReturnError(&pgconn.PgError{Code: "23505", ConstraintName: "users_email_live_idx"})

	store := NewPGStore(db)
	now := time.Now().UTC()
	err = store.Users(context.Background()).Create(context.Background(), &User{
		ID: "u-1", Email: "alice@example.com", PasswordHash: "$2a$hash",
		BaseRoleID: "r-viewer", Status: UserStatusActive, CreatedAt: now, UpdatedAt: now,
	})
	if !errors.Is(err, ErrAlreadyExists) {
		t.Fatalf("expected ErrAlreadyExists, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGSessionsConsume(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	issued := time.Now().UTC()
	expires := issued.Add(7 * 24 * time.Hour)
	mock.ExpectQuery("delete from sessions where id=.* returning").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "user_id", "token_hash", "issued_at", "expires_at"}).
			AddRow("jti-1", "u-1", "deadbeef", issued, expires))

	store := NewPGStore(db)
	sess, err := store.Sessions(context.Background()).Consume(context.Background(), "jti-1")
	if err != nil {
		t.Fatalf("Consume: %v", err)
	}
	if sess.UserID != "u-1" || sess.TokenHash != "deadbeef" {
		t.Fatalf("unexpected session: %+v", sess)
	}

	// Second consume finds nothing: the row was removed.
	mock.ExpectQuery("delete from sessions where id=.* returning").
		WithArgs("jti-1").
		WillReturnRows(sqlmock.NewRows([]string{"id"}))
	if _, err := store.Sessions(context.Background()).Consume(context.Background(), "jti-1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound on replay, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRolesCorruptPermissions(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select id, name, permissions, created_at, updated_at from roles where id=").
		WithArgs("r-1").
		WillReturnRows(sqlmock.NewRows([]string{"id", "name", "permissions", "created_at", "updated_at"}).
			AddRow("r-1", "editor", []byte(`["not-a-permission"]`), now, now))

	store := NewPGStore(db)
	if _, err := store.Roles(context.Background()).Find(context.Background(), "r-1"); err == nil {
		t.Fatal("expected corrupt permissions payload to fail the lookup")
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGRequireRow(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectExec("update delegations set active=").
		WithArgs("d-missing", false).
		WillReturnResult(sqlmock.NewResult(0, 0))

	store := NewPGStore(db)
	if err := store.Delegations(context.Background()).SetActive(context.Background(), "d-missing", false); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for zero affected rows, got %v", err)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGDelegationsListByToUser(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select .* from delegations where to_user=").
		WithArgs("u-1").
		WillReturnRows(sqlmock.NewRows([]string{
			"id", "from_user", "to_user", "role_id", "start_date", "end_date", "reason", "active", "created_at",
		}).
			AddRow("d-1", "u-admin", "u-1", "r-editor", now, now.Add(48*time.Hour), "vacation cover", true, now).
			AddRow("d-2", "u-admin", "u-1", "r-admin", now, now.Add(24*time.Hour), "", false, now))

	store := NewPGStore(db)
	out, err := store.Delegations(context.Background()).ListByToUser(context.Background(), "u-1")
	if err != nil {
		t.Fatalf("ListByToUser: %v", err)
	}
	if len(out) != 2 {
		t.Fatalf("expected 2 delegations, got %d", len(out))
	}
	if out[0].Reason != "vacation cover" || out[1].Active {
		t.Fatalf("unexpected rows: %+v", out)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}
