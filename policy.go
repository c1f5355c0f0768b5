package auth

import (
	"context"
	"slices"
)

// PolicyOption customizes Policy construction.
type PolicyOption func(*Policy)

// WithPolicyBypass overrides the elevated account rule.
func WithPolicyBypass(bypass BypassPolicy) PolicyOption {
	return func(p *Policy) {
		p.bypass = normalizeBypass(bypass)
	}
}

// WithPolicyCatalog sets the role catalog used to derive missing permissions.
func WithPolicyCatalog(catalog RoleCatalog) PolicyOption {
	return func(p *Policy) {
		p.catalog = catalog
	}
}

// WithPolicyLogger overrides the logger.
func WithPolicyLogger(logger Logger) PolicyOption {
	return func(p *Policy) {
		p.logger = normalizeLogger(logger)
	}
}

// Policy decides whether an identity may use a capability.
// IsAuthorized and VisibleItems are pure, only Resolve talks to the
// role catalog.
type Policy struct {
	bypass  BypassPolicy
	catalog RoleCatalog
	logger  Logger
}

func NewPolicy(opts ...PolicyOption) *Policy {
	p := &Policy{
		bypass: normalizeBypass(nil),
		logger: defLogger{},
	}

	for _, opt := range opts {
		if opt != nil {
			opt(p)
		}
	}

	return p
}

// IsAuthorized evaluates, in order: absent user denies, the bypass
// identity is allowed, a role match allows, a failed role match falls
// back to the permission path when one is declared, a permission path on
// its own requires membership, and an open requirement allows.
func (p *Policy) IsAuthorized(user *User, req Requirement) bool {
	if user == nil {
		return false
	}

	if p.bypass(user.Email) {
		return true
	}

	if len(req.RequiredRoles) > 0 {
		if user.HasAnyRole(req.RequiredRoles...) {
			return true
		}
		if req.PermissionPath == "" {
			return false
		}
		return user.Permissions.Contains(req.PermissionPath)
	}

	if req.PermissionPath != "" {
		return user.Permissions.Contains(req.PermissionPath)
	}

	return true
}

// VisibleItems filters items with the IsAuthorized rule, preserving
// order. Manager class identities see everything.
func (p *Policy) VisibleItems(user *User, items []Capability) []Capability {
	if user == nil {
		return []Capability{}
	}

	if IsManagerClass(user) {
		return slices.Clone(items)
	}

	out := make([]Capability, 0, len(items))
	for _, item := range items {
		if p.IsAuthorized(user, item.Requirement) {
			out = append(out, item)
		}
	}
	return out
}

// Resolve returns the user with permissions derived from its detailed
// roles and the role catalog when the identity carries none. When the
// catalog is missing or unavailable only the detailed roles count, so a
// role with no inline permissions grants nothing.
func (p *Policy) Resolve(ctx context.Context, user *User) *User {
	if user == nil || len(user.Permissions) > 0 {
		return user
	}

	out := user.Clone()
	out.Permissions = DerivePermissions(user, p.catalogRoles(ctx))
	return out
}

func (p *Policy) catalogRoles(ctx context.Context) []RoleRef {
	if p.catalog == nil {
		return nil
	}
	roles, err := p.catalog.Roles(ctx)
	if err != nil {
		p.logger.Debug("policy: role catalog unavailable, using detailed roles only: %v", err)
		return nil
	}
	return roles
}

// DerivePermissions unions the permissions of the roles the user holds,
// taking detailed roles on the user first and then the catalog entries
// matched by name ignoring case. Order is kept, duplicates are dropped.
func DerivePermissions(user *User, catalog []RoleRef) StringList {
	out := StringList{}
	if user == nil {
		return out
	}

	seen := map[string]struct{}{}
	add := func(perms []string) {
		for _, perm := range perms {
			if perm == "" {
				continue
			}
			if _, ok := seen[perm]; ok {
				continue
			}
			seen[perm] = struct{}{}
			out = append(out, perm)
		}
	}

	for _, role := range user.Roles {
		add(role.Permissions())
	}

	for _, entry := range catalog {
		if user.HasRole(entry.Name()) {
			add(entry.Permissions())
		}
	}

	return out
}
