package auth

import (
	"context"
	"time"

	"gatehouse.org/internal/obs"
)

// Resolver answers can(principal, action, resource) questions. It is a
// read-only query over the role catalog and delegation store and is safe
// to call on every request. Every failure path resolves to false.
type Resolver struct {
	store Store
	now   func() time.Time
}

// ResolverOption configures Resolver behavior.
type ResolverOption func(*Resolver)

// WithResolverClock overrides the time source (useful for tests).
func WithResolverClock(fn func() time.Time) ResolverOption {
	return func(r *Resolver) {
		if fn != nil {
			r.now = fn
		}
	}
}

// NewResolver constructs a Resolver over the given store.
func NewResolver(store Store, opts ...ResolverOption) *Resolver {
	r := &Resolver{store: store, now: time.Now}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Can reports whether the principal may perform action on resource.
//
// The effective role is the base role unless exactly one delegation
// override applies: among delegations to the principal that are active
// and inside their inclusive date window, the one with the latest start
// date wins (creation order breaks ties). Delegations never stack, and a
// delegation whose role has been deleted denies rather than falling back
// to the base role.
func (r *Resolver) Can(ctx context.Context, principal Principal, action, resource string) bool {
	allowed := r.can(ctx, principal, action, resource)
	obs.ObservePermissionCheck(allowed)
	return allowed
}

func (r *Resolver) can(ctx context.Context, principal Principal, action, resource string) bool {
	if principal.IsZero() || action == "" || resource == "" {
		return false
	}
	effectiveRoleID := principal.RoleID
	delegations, err := r.store.Delegations(ctx).ListByToUser(ctx, principal.UserID)
	if err != nil {
		return false
	}
	now := r.now().UTC()
	if override, ok := selectDelegation(delegations, now); ok {
		effectiveRoleID = override.RoleID
	}
	if effectiveRoleID == "" {
		return false
	}
	role, err := r.store.Roles(ctx).Find(ctx, effectiveRoleID)
	if err != nil {
		return false
	}
	return role.Permissions.Allows(resource, action)
}

// selectDelegation picks the single delegation to apply at the given
// instant, if any.
func selectDelegation(delegations []Delegation, now time.Time) (Delegation, bool) {
	var (
		best  Delegation
		found bool
	)
	for _, d := range delegations {
		if !d.EffectiveAt(now) {
			continue
		}
		if !found || d.StartDate.After(best.StartDate) ||
			(d.StartDate.Equal(best.StartDate) && d.CreatedAt.After(best.CreatedAt)) {
			best = d
			found = true
		}
	}
	return best, found
}
