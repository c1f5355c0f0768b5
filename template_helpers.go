package auth

import (
	"maps"

	"github.com/goliatone/go-console-auth/middleware/csrf"
	"github.com/goliatone/go-router"
)

var TemplateUserKey = "current_user"

// TemplateMenuKey holds the visible navigation entries for layouts
var TemplateMenuKey = "visible_menu"

// TemplateHelpers returns a map of helper functions and data that can be
// handed to the view engine as global data.
//
// In templates, you can then use:
//
//	{% if current_user|is_authenticated %}
//	{% if current_user|has_role:"manager" %}
//	{% if current_user|can_access:"/brands" %}
//	{{ csrf_field }}
func TemplateHelpers(policy *Policy) map[string]any {
	if policy == nil {
		policy = NewPolicy()
	}

	helpers := map[string]any{
		"is_authenticated": isAuthenticated,
		"has_role":         hasRole,
		"is_manager":       isManager,
		"can_access": func(user any, permissionPath string) bool {
			return canAccess(policy, user, permissionPath)
		},

		"roles": map[string]string{
			"manager": RoleManager,
			"admin":   RoleAdmin,
		},
	}

	maps.Copy(helpers, csrf.TemplateHelpers())

	return helpers
}

// TemplateHelpersWithRouter returns template helpers with the current user
// and visible menu taken from the router context, plus the CSRF values for
// this request.
func TemplateHelpersWithRouter(ctx router.Context, policy *Policy, items []Capability) map[string]any {
	if policy == nil {
		policy = NewPolicy()
	}

	helpers := TemplateHelpers(policy)

	user, ok := GetRouterUser(ctx, "")
	if ok {
		helpers[TemplateUserKey] = user
		helpers[TemplateMenuKey] = MenuItems(policy.VisibleItems(user, items))
	} else {
		helpers[TemplateMenuKey] = []Capability{}
	}

	maps.Copy(helpers, csrf.TemplateHelpersWithRouter(ctx, csrf.DefaultContextKey))

	return helpers
}

// MenuItems keeps the capabilities flagged as navigation entries
func MenuItems(items []Capability) []Capability {
	out := make([]Capability, 0, len(items))
	for _, item := range items {
		if item.Menu {
			out = append(out, item)
		}
	}
	return out
}

func templateUser(user any) *User {
	switch u := user.(type) {
	case *User:
		return u
	case User:
		return &u
	default:
		return nil
	}
}

func isAuthenticated(user any) bool {
	return templateUser(user) != nil
}

func hasRole(user any, role string) bool {
	return templateUser(user).HasRole(role)
}

func isManager(user any) bool {
	return IsManagerClass(templateUser(user))
}

// canAccess checks a bare permission path, the way a menu entry without
// required roles is checked
func canAccess(policy *Policy, user any, permissionPath string) bool {
	return policy.IsAuthorized(templateUser(user), Requirement{PermissionPath: permissionPath})
}
