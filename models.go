package auth

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"
)

// UserID accepts both numeric and string identifiers from the remote API
type UserID string

// UnmarshalJSON decodes numbers and strings alike
func (id *UserID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*id = ""
		return nil
	}

	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*id = UserID(s)
		return nil
	}

	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("user id: %w", err)
	}
	*id = UserID(n.String())
	return nil
}

func (id UserID) String() string {
	return string(id)
}

// StringList is a sequence of strings that also accepts a single scalar
// value on decode. Null decodes to an empty list.
type StringList []string

// UnmarshalJSON coerces a scalar into a one element list
func (l *StringList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = StringList{}
		return nil
	}

	if b[0] == '[' {
		var items []string
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = StringList(items)
		return nil
	}

	var single string
	if err := json.Unmarshal(b, &single); err != nil {
		return fmt.Errorf("string list: %w", err)
	}

	if single == "" {
		*l = StringList{}
		return nil
	}

	*l = StringList{single}
	return nil
}

// Contains reports exact membership
func (l StringList) Contains(value string) bool {
	for _, v := range l {
		if v == value {
			return true
		}
	}
	return false
}

// RoleList is a sequence of role references, a single role is accepted on decode
type RoleList []RoleRef

// UnmarshalJSON accepts an array, a bare string or a single role object
func (l *RoleList) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*l = RoleList{}
		return nil
	}

	if b[0] == '[' {
		var items []RoleRef
		if err := json.Unmarshal(b, &items); err != nil {
			return err
		}
		*l = RoleList(items)
		return nil
	}

	var single RoleRef
	if err := json.Unmarshal(b, &single); err != nil {
		return err
	}
	*l = RoleList{single}
	return nil
}

// Names returns the role names in order
func (l RoleList) Names() []string {
	names := make([]string, 0, len(l))
	for _, r := range l {
		names = append(names, r.Name())
	}
	return names
}

// User is the identity the console acts on behalf of
type User struct {
	ID          UserID     `json:"id"`
	Email       string     `json:"email"`
	Name        string     `json:"name"`
	Roles       RoleList   `json:"roles"`
	Permissions StringList `json:"permissions"`
}

// HasRole checks role membership ignoring case
func (u *User) HasRole(name string) bool {
	if u == nil {
		return false
	}
	for _, r := range u.Roles {
		if matchRole(r.Name(), name) {
			return true
		}
	}
	return false
}

// HasAnyRole checks if any of the given role names is held by the user
func (u *User) HasAnyRole(names ...string) bool {
	for _, name := range names {
		if u.HasRole(name) {
			return true
		}
	}
	return false
}

// RoleNames returns the user role names in order
func (u *User) RoleNames() []string {
	if u == nil {
		return nil
	}
	return u.Roles.Names()
}

// Clone returns a deep copy
func (u *User) Clone() *User {
	if u == nil {
		return nil
	}

	out := *u
	out.Roles = make(RoleList, len(u.Roles))
	for i, r := range u.Roles {
		out.Roles[i] = r.clone()
	}
	out.Permissions = append(StringList{}, u.Permissions...)
	return &out
}

func (u User) String() string {
	return fmt.Sprintf("id=%s email=%s roles=[%s]", u.ID, u.Email, strings.Join(u.Roles.Names(), ","))
}

// Requirement declares what a capability needs from the current identity.
// An empty requirement is open to any authenticated identity.
type Requirement struct {
	RequiredRoles  []string `json:"required_roles,omitempty" yaml:"required_roles"`
	PermissionPath string   `json:"permission_path,omitempty" yaml:"permission_path"`
}

// IsOpen reports if the requirement declares neither roles nor a permission path
func (r Requirement) IsOpen() bool {
	return len(r.RequiredRoles) == 0 && r.PermissionPath == ""
}

// Capability is a protected route or navigation entry
type Capability struct {
	Name        string `json:"name" yaml:"name"`
	Title       string `json:"title" yaml:"title"`
	Path        string `json:"path" yaml:"path"`
	Menu        bool   `json:"menu" yaml:"menu"`
	Requirement `json:",inline" yaml:",inline"`
}

// LoginResult is what the gateway returns on credential exchange
type LoginResult struct {
	Token string `json:"token"`
	User  *User  `json:"user"`
}

// PasswordResetRequest finalizes a password reset
type PasswordResetRequest struct {
	Token                string `json:"token"`
	Email                string `json:"email"`
	Password             string `json:"password"`
	PasswordConfirmation string `json:"password_confirmation"`
}
