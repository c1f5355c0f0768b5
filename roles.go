package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

const (
	// RoleManager is the elevated staff role
	RoleManager = "manager"
	// RoleAdmin is treated as equivalent to RoleManager for navigation
	RoleAdmin = "admin"
)

// DefaultManagerEmail is the administrative account granted blanket access
const DefaultManagerEmail = "manager@example.com"

// RoleRef is either a bare role name or a detailed role record
// carrying its own permission list.
type RoleRef struct {
	name        string
	permissions StringList
	detailed    bool
}

// RoleName builds a bare role reference
func RoleName(name string) RoleRef {
	return RoleRef{name: name}
}

// DetailedRole builds a role reference with permissions
func DetailedRole(name string, permissions ...string) RoleRef {
	return RoleRef{
		name:        name,
		permissions: append(StringList{}, permissions...),
		detailed:    true,
	}
}

// Name is the single accessor used wherever roles are compared
func (r RoleRef) Name() string {
	return r.name
}

// Permissions returns the permissions of a detailed role, nil for bare names
func (r RoleRef) Permissions() []string {
	if !r.detailed {
		return nil
	}
	return r.permissions
}

// IsDetailed reports if the reference came as a structured record
func (r RoleRef) IsDetailed() bool {
	return r.detailed
}

// Is compares role names ignoring case
func (r RoleRef) Is(name string) bool {
	return matchRole(r.name, name)
}

func (r RoleRef) clone() RoleRef {
	out := r
	if r.permissions != nil {
		out.permissions = append(StringList{}, r.permissions...)
	}
	return out
}

type roleRecord struct {
	Name        string     `json:"name"`
	Permissions StringList `json:"permissions,omitempty"`
}

// UnmarshalJSON accepts "manager" or {"name":"manager","permissions":[...]}
func (r *RoleRef) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 {
		return fmt.Errorf("role: empty value")
	}

	if b[0] == '"' {
		var name string
		if err := json.Unmarshal(b, &name); err != nil {
			return err
		}
		*r = RoleName(name)
		return nil
	}

	var rec roleRecord
	if err := json.Unmarshal(b, &rec); err != nil {
		return fmt.Errorf("role: %w", err)
	}

	*r = RoleRef{
		name:        rec.Name,
		permissions: rec.Permissions,
		detailed:    true,
	}
	if r.permissions == nil {
		r.permissions = StringList{}
	}
	return nil
}

// MarshalJSON mirrors the shape the role was received in
func (r RoleRef) MarshalJSON() ([]byte, error) {
	if !r.detailed {
		return json.Marshal(r.name)
	}
	return json.Marshal(roleRecord{Name: r.name, Permissions: r.permissions})
}

func (r RoleRef) String() string {
	return r.name
}

func matchRole(a, b string) bool {
	return strings.EqualFold(strings.TrimSpace(a), strings.TrimSpace(b))
}

// BypassPolicy decides if an identity, keyed by email, is granted
// unconditional access. It is the only place the elevated account
// rule lives; swap it with NoBypass to drop the rule entirely.
type BypassPolicy func(email string) bool

// ManagerEmailBypass grants the bypass to a single email address
func ManagerEmailBypass(email string) BypassPolicy {
	target := strings.TrimSpace(email)
	return func(candidate string) bool {
		if target == "" {
			return false
		}
		return strings.EqualFold(strings.TrimSpace(candidate), target)
	}
}

// NoBypass never grants the bypass
func NoBypass(string) bool {
	return false
}

func normalizeBypass(b BypassPolicy) BypassPolicy {
	if b == nil {
		return ManagerEmailBypass(DefaultManagerEmail)
	}
	return b
}

// IsManagerClass reports if the user holds the manager or admin role
func IsManagerClass(user *User) bool {
	return user.HasAnyRole(RoleManager, RoleAdmin)
}

// NormalizeUser coerces absent collections to empty ones and injects the
// manager role for the bypass identity. The input is not modified.
func NormalizeUser(user *User, bypass BypassPolicy) *User {
	if user == nil {
		return nil
	}

	out := user.Clone()
	if out.Roles == nil {
		out.Roles = RoleList{}
	}
	if out.Permissions == nil {
		out.Permissions = StringList{}
	}

	if normalizeBypass(bypass)(out.Email) && !out.HasRole(RoleManager) {
		out.Roles = append(out.Roles, RoleName(RoleManager))
	}

	return out
}
