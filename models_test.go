package auth

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestUserDecodesRoleShapes(t *testing.T) {
	cases := []struct {
		name        string
		payload     string
		roles       []string
		permissions []string
		detailed    bool
	}{
		{
			name:        "bare role names",
			payload:     `{"id":1,"email":"a@example.com","roles":["manager","editor"],"permissions":["reports.view"]}`,
			roles:       []string{"manager", "editor"},
			permissions: []string{"reports.view"},
		},
		{
			name:        "detailed roles",
			payload:     `{"id":"u-1","email":"a@example.com","roles":[{"name":"editor","permissions":["posts.edit"]}]}`,
			roles:       []string{"editor"},
			permissions: []string{},
			detailed:    true,
		},
		{
			name:        "single role string",
			payload:     `{"id":2,"email":"a@example.com","roles":"editor","permissions":"reports.view"}`,
			roles:       []string{"editor"},
			permissions: []string{"reports.view"},
		},
		{
			name:        "single role object",
			payload:     `{"id":2,"email":"a@example.com","roles":{"name":"auditor"}}`,
			roles:       []string{"auditor"},
			permissions: []string{},
			detailed:    true,
		},
		{
			name:        "null collections",
			payload:     `{"id":3,"email":"a@example.com","roles":null,"permissions":null}`,
			roles:       []string{},
			permissions: []string{},
		},
		{
			name:        "empty scalar permission",
			payload:     `{"id":3,"email":"a@example.com","roles":[],"permissions":""}`,
			roles:       []string{},
			permissions: []string{},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			var user User
			require.NoError(t, json.Unmarshal([]byte(tc.payload), &user))

			user = *NormalizeUser(&user, NoBypass)
			assert.Equal(t, tc.roles, user.RoleNames())
			assert.Equal(t, tc.permissions, []string(user.Permissions))

			for _, r := range user.Roles {
				assert.Equal(t, tc.detailed, r.IsDetailed())
			}
		})
	}
}

func TestUserIDAcceptsNumbersAndStrings(t *testing.T) {
	var numeric, text UserID
	require.NoError(t, json.Unmarshal([]byte(`42`), &numeric))
	require.NoError(t, json.Unmarshal([]byte(`"u-42"`), &text))

	assert.Equal(t, "42", numeric.String())
	assert.Equal(t, "u-42", text.String())
}

func TestDetailedRoleKeepsPermissions(t *testing.T) {
	var role RoleRef
	require.NoError(t, json.Unmarshal([]byte(`{"name":"editor","permissions":["posts.edit","posts.view"]}`), &role))

	assert.Equal(t, "editor", role.Name())
	assert.Equal(t, []string{"posts.edit", "posts.view"}, role.Permissions())

	raw, err := json.Marshal(role)
	require.NoError(t, err)
	assert.JSONEq(t, `{"name":"editor","permissions":["posts.edit","posts.view"]}`, string(raw))

	raw, err = json.Marshal(RoleName("viewer"))
	require.NoError(t, err)
	assert.Equal(t, `"viewer"`, string(raw))
}

func TestHasRoleIgnoresCase(t *testing.T) {
	user := &User{Roles: RoleList{RoleName("Manager"), DetailedRole("EDITOR")}}

	assert.True(t, user.HasRole("manager"))
	assert.True(t, user.HasRole("editor"))
	assert.False(t, user.HasRole("auditor"))
	assert.True(t, user.HasAnyRole("auditor", "editor"))

	var nilUser *User
	assert.False(t, nilUser.HasRole("manager"))
}

func TestNormalizeUserInjectsManagerForBypassIdentity(t *testing.T) {
	bypass := ManagerEmailBypass("manager@example.com")
	in := &User{Email: "Manager@Example.com"}

	out := NormalizeUser(in, bypass)
	assert.Equal(t, []string{"manager"}, out.RoleNames())
	assert.Nil(t, in.Roles, "input must not be modified")

	again := NormalizeUser(out, bypass)
	assert.Equal(t, []string{"manager"}, again.RoleNames(), "manager role must not be duplicated")

	other := NormalizeUser(&User{Email: "someone@example.com"}, bypass)
	assert.Empty(t, other.RoleNames())

	disabled := NormalizeUser(&User{Email: "manager@example.com"}, ManagerEmailBypass(""))
	assert.Empty(t, disabled.RoleNames())
}

func TestIsManagerClass(t *testing.T) {
	assert.True(t, IsManagerClass(&User{Roles: RoleList{RoleName("admin")}}))
	assert.True(t, IsManagerClass(&User{Roles: RoleList{RoleName("manager")}}))
	assert.False(t, IsManagerClass(&User{Roles: RoleList{RoleName("editor")}}))
	assert.False(t, IsManagerClass(nil))
}

func TestUserCloneIsDeep(t *testing.T) {
	u := &User{
		ID:          "1",
		Roles:       RoleList{DetailedRole("editor", "posts.edit")},
		Permissions: StringList{"a"},
	}

	c := u.Clone()
	c.Permissions[0] = "b"
	c.Roles[0].permissions[0] = "changed"

	assert.Equal(t, "a", u.Permissions[0])
	assert.Equal(t, "posts.edit", u.Roles[0].Permissions()[0])
}
