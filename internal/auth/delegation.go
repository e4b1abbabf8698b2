package auth

import (
	"context"
	"fmt"
	"strings"
	"time"

	"gatehouse.org/internal/audit"
	"gatehouse.org/internal/ids"
)

// CreateDelegation grants toUser the given role for the inclusive
// [start, end] window. Overlapping delegations and self-delegation are
// allowed; the resolver deterministically applies at most one.
func (s *Service) CreateDelegation(ctx context.Context, fromUser, toUser, roleID string, start, end time.Time, reason string) (*Delegation, error) {
	fromUser = strings.TrimSpace(fromUser)
	toUser = strings.TrimSpace(toUser)
	if fromUser == "" || toUser == "" {
		return nil, fmt.Errorf("%w: from_user and to_user are required", ErrInvalidInput)
	}
	if start.IsZero() || end.IsZero() || end.Before(start) {
		return nil, fmt.Errorf("%w: delegation window is invalid", ErrInvalidInput)
	}
	if _, err := s.store.Roles(ctx).Find(ctx, roleID); err != nil {
		return nil, err
	}
	if _, err := s.store.Users(ctx).Find(ctx, toUser); err != nil {
		return nil, err
	}
	delegation := &Delegation{
		ID:        ids.New(),
		FromUser:  fromUser,
		ToUser:    toUser,
		RoleID:    roleID,
		StartDate: start.UTC(),
		EndDate:   end.UTC(),
		Reason:    strings.TrimSpace(reason),
		Active:    true,
		CreatedAt: s.now().UTC(),
	}
	if err := s.store.Delegations(ctx).Create(ctx, delegation); err != nil {
		return nil, err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "delegation.create",
		SubjectUserID: toUser,
		Resource:      "delegation",
		Method:        "create",
		Severity:      audit.SeverityInfo,
		Fields: map[string]any{
			"delegation_id": delegation.ID,
			"from_user":     fromUser,
			"role_id":       roleID,
		},
	})
	return delegation, nil
}

// RevokeDelegation flips the kill switch. The row is kept for history;
// revoking an already-revoked delegation is a no-op.
func (s *Service) RevokeDelegation(ctx context.Context, id string) error {
	id = strings.TrimSpace(id)
	if id == "" {
		return fmt.Errorf("%w: delegation_id is required", ErrInvalidInput)
	}
	delegation, err := s.store.Delegations(ctx).Find(ctx, id)
	if err != nil {
		return err
	}
	if err := s.store.Delegations(ctx).SetActive(ctx, id, false); err != nil {
		return err
	}
	_ = audit.Emit(ctx, audit.Event{
		Action:        "delegation.revoke",
		SubjectUserID: delegation.ToUser,
		Resource:      "delegation",
		Method:        "revoke",
		Severity:      audit.SeverityInfo,
		Fields:        map[string]any{"delegation_id": id},
	})
	return nil
}

// ListDelegations returns delegations granted to a user. With activeOnly
// set it filters on the Active flag alone; the date window is a separate
// concern and only the resolver applies it.
func (s *Service) ListDelegations(ctx context.Context, toUser string, activeOnly bool) ([]Delegation, error) {
	toUser = strings.TrimSpace(toUser)
	if toUser == "" {
		return nil, fmt.Errorf("%w: to_user is required", ErrInvalidInput)
	}
	all, err := s.store.Delegations(ctx).ListByToUser(ctx, toUser)
	if err != nil {
		return nil, err
	}
	if !activeOnly {
		return all, nil
	}
	filtered := make([]Delegation, 0, len(all))
	for _, d := range all {
		if d.Active {
			filtered = append(filtered, d)
		}
	}
	return filtered, nil
}
