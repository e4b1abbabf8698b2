package auth

import (
	"context"
	"fmt"
	"strings"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/ids"
)

// Builtin role names seeded by EnsureBuiltinRoles.
const (
	RoleNameAdmin  = "admin"
	RoleNameEditor = "editor"
	RoleNameViewer = "viewer"
)

var builtinRoles = []struct {
	name        string
	permissions []string
}{
	{RoleNameAdmin, []string{Wildcard}},
	{RoleNameEditor, []string{"pages:*", "media:*"}},
	{RoleNameViewer, []string{"pages:read", "media:read"}},
}

// EnsureBuiltinRoles creates any missing builtin roles. Existing roles
// are left untouched so administrators can edit their permissions.
func (s *Service) EnsureBuiltinRoles(ctx context.Context) error {
	roles := s.store.Roles(ctx)
	for _, builtin := range builtinRoles {
		if _, err := roles.FindByName(ctx, builtin.name); err == nil {
			continue
		}
		if _, err := s.CreateRole(ctx, builtin.name, builtin.permissions); err != nil {
			return fmt.Errorf("seed role %s: %w", builtin.name, err)
		}
	}
	return nil
}

// CreateRole validates the permission strings at write time and stores
// the role. Malformed permissions are rejected here, never tolerated at
// check time.
func (s *Service) CreateRole(ctx context.Context, name string, permissions []string) (*Role, error) {
	name = strings.TrimSpace(strings.ToLower(name))
	if name == "" {
		return nil, fmt.Errorf("%w: role name is required", ErrInvalidInput)
	}
	set, err := ParsePermissionSet(permissions)
	if err != nil {
		return nil, err
	}
	now := s.now().UTC()
	role := &Role{
		ID:          ids.New(),
		Name:        name,
		Permissions: set,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	if err := s.store.Roles(ctx).Create(ctx, role); err != nil {
		return nil, err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:   "role.create",
		Resource: "role",
		Method:   "create",
		Severity: audit.SeverityInfo,
		Fields:   map[string]any{"role_id": role.ID, "name": role.Name},
	})
	return role, nil
}

// GetRole fetches a role by id.
func (s *Service) GetRole(ctx context.Context, roleID string) (*Role, error) {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return nil, fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	return s.store.Roles(ctx).Find(ctx, roleID)
}

// ListRoles returns the whole catalog.
func (s *Service) ListRoles(ctx context.Context) ([]*Role, error) {
	return s.store.Roles(ctx).List(ctx)
}

// UpdateRolePermissions replaces a role's permission set.
func (s *Service) UpdateRolePermissions(ctx context.Context, roleID string, permissions []string) (*Role, error) {
	role, err := s.GetRole(ctx, roleID)
	if err != nil {
		return nil, err
	}
	set, err := ParsePermissionSet(permissions)
	if err != nil {
		return nil, err
	}
	role.Permissions = set
	role.UpdatedAt = s.now().UTC()
	if err := s.store.Roles(ctx).Update(ctx, role); err != nil {
		return nil, err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:   "role.update",
		Resource: "role",
		Method:   "update",
		Severity: audit.SeverityInfo,
		Fields:   map[string]any{"role_id": role.ID},
	})
	return role, nil
}

// DeleteRole removes a role. A role still referenced by a user's base
// role or by any delegation cannot be deleted.
func (s *Service) DeleteRole(ctx context.Context, roleID string) error {
	roleID = strings.TrimSpace(roleID)
	if roleID == "" {
		return fmt.Errorf("%w: role_id is required", ErrInvalidInput)
	}
	userRefs, err := s.store.Users(ctx).CountByRole(ctx, roleID)
	if err != nil {
		return err
	}
	delegationRefs, err := s.store.Delegations(ctx).CountByRole(ctx, roleID)
	if err != nil {
		return err
	}
	if userRefs > 0 || delegationRefs > 0 {
		return fmt.Errorf("%w: role is still referenced", ErrConflict)
	}
	if err := s.store.Roles(ctx).Delete(ctx, roleID); err != nil {
		return err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:   "role.delete",
		Resource: "role",
		Method:   "delete",
		Severity: audit.SeverityWarning,
		Fields:   map[string]any{"role_id": roleID},
	})
	return nil
}
