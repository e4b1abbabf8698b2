package auth

import (
	"encoding/json"
	"fmt"
	"strings"
)

// Wildcard matches any resource or action segment. A permission of just
// "*" is the global wildcard and allows everything.
const Wildcard = "*"

// Permission is one parsed resource:action capability. Accepted source
// forms: "resource:action", "resource:*", "*:action" and the bare "*".
// Parsing happens at role write time so malformed strings can never
// silently fail a permission check later.
type Permission struct {
	Resource string
	Action   string
}

// ParsePermission validates and parses a single permission string.
func ParsePermission(raw string) (Permission, error) {
	raw = strings.TrimSpace(raw)
	if raw == Wildcard {
		return Permission{Resource: Wildcard, Action: Wildcard}, nil
	}
	parts := strings.Split(raw, ":")
	if len(parts) != 2 {
		return Permission{}, fmt.Errorf("%w: permission %q must be resource:action", ErrInvalidInput, raw)
	}
	resource := strings.TrimSpace(parts[0])
	action := strings.TrimSpace(parts[1])
	if err := validateSegment(resource); err != nil {
		return Permission{}, fmt.Errorf("%w: permission %q: %v", ErrInvalidInput, raw, err)
	}
	if err := validateSegment(action); err != nil {
		return Permission{}, fmt.Errorf("%w: permission %q: %v", ErrInvalidInput, raw, err)
	}
	if resource == Wildcard && action == Wildcard {
		return Permission{}, fmt.Errorf("%w: permission %q: use %q for the global wildcard", ErrInvalidInput, raw, Wildcard)
	}
	return Permission{Resource: resource, Action: action}, nil
}

func validateSegment(segment string) error {
	if segment == "" {
		return fmt.Errorf("empty segment")
	}
	if segment == Wildcard {
		return nil
	}
	for _, r := range segment {
		switch {
		case r >= 'a' && r <= 'z':
		case r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '.':
		default:
			return fmt.Errorf("illegal character %q", r)
		}
	}
	return nil
}

// Matches reports whether the permission covers the given pair.
func (p Permission) Matches(resource, action string) bool {
	if p.Resource == Wildcard && p.Action == Wildcard {
		return true
	}
	if p.Resource != Wildcard && p.Resource != resource {
		return false
	}
	return p.Action == Wildcard || p.Action == action
}

// String renders the permission back to its wire form.
func (p Permission) String() string {
	if p.Resource == Wildcard && p.Action == Wildcard {
		return Wildcard
	}
	return p.Resource + ":" + p.Action
}

// PermissionSet is a validated collection of permissions.
type PermissionSet []Permission

// ParsePermissionSet parses and deduplicates a slice of permission
// strings, failing on the first malformed entry.
func ParsePermissionSet(raw []string) (PermissionSet, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	seen := make(map[Permission]struct{}, len(raw))
	set := make(PermissionSet, 0, len(raw))
	for _, s := range raw {
		p, err := ParsePermission(s)
		if err != nil {
			return nil, err
		}
		if _, ok := seen[p]; ok {
			continue
		}
		seen[p] = struct{}{}
		set = append(set, p)
	}
	return set, nil
}

// Allows reports whether any permission in the set covers resource:action.
func (ps PermissionSet) Allows(resource, action string) bool {
	for _, p := range ps {
		if p.Matches(resource, action) {
			return true
		}
	}
	return false
}

// Strings returns the wire form of every permission in the set.
func (ps PermissionSet) Strings() []string {
	out := make([]string, 0, len(ps))
	for _, p := range ps {
		out = append(out, p.String())
	}
	return out
}

// MarshalJSON renders the set as an array of permission strings.
func (ps PermissionSet) MarshalJSON() ([]byte, error) {
	return json.Marshal(ps.Strings())
}

// UnmarshalJSON parses an array of permission strings, rejecting
// malformed entries.
func (ps *PermissionSet) UnmarshalJSON(data []byte) error {
	var raw []string
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	parsed, err := ParsePermissionSet(raw)
	if err != nil {
		return err
	}
	*ps = parsed
	return nil
}
