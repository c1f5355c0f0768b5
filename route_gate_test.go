package auth_test

import (
	"context"
	"testing"
	"time"

	auth "github.com/goliatone/go-console-auth"
	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

// stubSessions is a SessionSource with a fixed snapshot
type stubSessions struct {
	snap    auth.Snapshot
	started []string
	waitErr error
}

func (s *stubSessions) Snapshot() auth.Snapshot { return s.snap }

func (s *stubSessions) Start(target string) { s.started = append(s.started, target) }

func (s *stubSessions) Wait(ctx context.Context) error { return s.waitErr }

func reportsRequirement() auth.Requirement {
	return auth.Requirement{RequiredRoles: []string{"analyst"}, PermissionPath: "/reports"}
}

func TestRouteGateDecide(t *testing.T) {
	cfg := testConfig()
	policy := auth.NewPolicy(auth.WithPolicyBypass(auth.NoBypass), auth.WithPolicyLogger(auth.NopLogger{}))

	allowed := &auth.User{Email: "a@example.com", Roles: auth.RoleList{auth.RoleName("pic")}, Permissions: auth.StringList{"/reports"}}
	denied := &auth.User{Email: "b@example.com", Roles: auth.RoleList{auth.RoleName("pic")}, Permissions: auth.StringList{"/overview"}}

	tests := []struct {
		name     string
		snap     auth.Snapshot
		kind     auth.DecisionKind
		location string
		reason   string
	}{
		{
			name:   "unresolved session shows loading",
			snap:   auth.Snapshot{Status: auth.SessionUnauthenticated},
			kind:   auth.DecisionLoading,
			reason: auth.ReasonBootstrapping,
		},
		{
			name:   "bootstrapping shows loading not a deny",
			snap:   auth.Snapshot{Status: auth.SessionBootstrapping},
			kind:   auth.DecisionLoading,
			reason: auth.ReasonBootstrapping,
		},
		{
			name:     "resolved without user redirects to login",
			snap:     auth.Snapshot{Status: auth.SessionReady},
			kind:     auth.DecisionRedirect,
			location: auth.DefaultLoginRoute,
			reason:   auth.ReasonUnauthenticated,
		},
		{
			name:     "unauthorized identity redirects to unauthorized route",
			snap:     auth.Snapshot{Status: auth.SessionReady, User: denied},
			kind:     auth.DecisionRedirect,
			location: auth.DefaultUnauthorizedRoute,
			reason:   auth.ReasonForbidden,
		},
		{
			name:   "authorized identity renders",
			snap:   auth.Snapshot{Status: auth.SessionReady, User: allowed},
			kind:   auth.DecisionRender,
			reason: auth.ReasonAuthorized,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			sessions := &stubSessions{snap: tt.snap}
			gate := auth.NewRouteGate(sessions, policy, cfg).WithLogger(auth.NopLogger{})

			decision := gate.Decide(context.Background(), "/reports", reportsRequirement())
			assert.Equal(t, tt.kind, decision.Kind, decision.Kind.String())
			assert.Equal(t, tt.location, decision.Location)
			assert.Equal(t, tt.reason, decision.Reason)
			assert.Equal(t, []string{"/reports"}, sessions.started)
		})
	}
}

func TestRouteGateAwaitWaitsForBootstrap(t *testing.T) {
	gw := &MockIdentityGateway{}
	gw.On("CurrentUser", mock.Anything).Run(func(mock.Arguments) {
		time.Sleep(10 * time.Millisecond)
	}).Return(&auth.User{Email: "a@example.com", Permissions: auth.StringList{"/reports"}}, nil).Once()

	sessions := newTestSession(gw, auth.NewMemoryCredentialStore("tok"))
	gate := auth.NewRouteGate(sessions, auth.NewPolicy(auth.WithPolicyBypass(auth.NoBypass)), testConfig()).
		WithLogger(auth.NopLogger{})

	decision := gate.Await(context.Background(), "/reports", reportsRequirement())
	assert.Equal(t, auth.DecisionRender, decision.Kind)
	require.NotNil(t, decision.User)
	assert.Equal(t, "a@example.com", decision.User.Email)
}

func TestRouteGateAwaitGivesUpAfterBootstrapWait(t *testing.T) {
	release := make(chan struct{})
	defer close(release)

	gw := &MockIdentityGateway{}
	gw.On("CurrentUser", mock.Anything).Run(func(mock.Arguments) {
		<-release
	}).Return(nil, gatewayError(401, "")).Once()

	cfg := testConfig(func(o *auth.Options) { o.BootstrapWait = 20 * time.Millisecond })
	sessions := newTestSession(gw, auth.NewMemoryCredentialStore(), auth.WithSessionConfig(cfg))
	gate := auth.NewRouteGate(sessions, auth.NewPolicy(), cfg).WithLogger(auth.NopLogger{})

	decision := gate.Await(context.Background(), "/reports", reportsRequirement())
	assert.Equal(t, auth.DecisionLoading, decision.Kind)
}

func TestRouteGateResolvesCatalogPermissions(t *testing.T) {
	catalog := &MockRoleCatalog{}
	catalog.On("Roles", mock.Anything).Return([]auth.RoleRef{
		auth.DetailedRole("pic", "/reports"),
	}, nil)

	policy := auth.NewPolicy(
		auth.WithPolicyBypass(auth.NoBypass),
		auth.WithPolicyCatalog(catalog),
		auth.WithPolicyLogger(auth.NopLogger{}),
	)
	sessions := &stubSessions{snap: auth.Snapshot{
		Status: auth.SessionReady,
		User:   &auth.User{Email: "a@example.com", Roles: auth.RoleList{auth.RoleName("PIC")}},
	}}
	gate := auth.NewRouteGate(sessions, policy, testConfig()).WithLogger(auth.NopLogger{})

	decision := gate.Decide(context.Background(), "/reports", auth.Requirement{PermissionPath: "/reports"})
	assert.Equal(t, auth.DecisionRender, decision.Kind)
	assert.Equal(t, auth.StringList{"/reports"}, decision.User.Permissions)
}

func newGateContext(path string) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Context").Return(context.Background())
	ctx.On("Path").Return(path).Maybe()
	ctx.On("Method").Return("GET").Maybe()
	return ctx
}

func TestRouteGateProtectRendersAuthorized(t *testing.T) {
	user := &auth.User{Email: "a@example.com", Permissions: auth.StringList{"/reports"}}
	sessions := &stubSessions{snap: auth.Snapshot{Status: auth.SessionReady, User: user}}
	gate := auth.NewRouteGate(sessions, auth.NewPolicy(auth.WithPolicyBypass(auth.NoBypass)), testConfig()).
		WithLogger(auth.NopLogger{})

	ctx := newGateContext("/reports")
	ctx.On("Locals", auth.UserLocalsKey, mock.Anything).Return(nil)
	ctx.On("Locals", auth.TemplateUserKey, mock.Anything).Return(nil)
	ctx.On("SetContext", mock.MatchedBy(func(c context.Context) bool {
		u, ok := auth.FromContext(c)
		return ok && u.Email == "a@example.com"
	})).Return().Maybe()

	handler := gate.Protect(reportsRequirement())(func(ctx router.Context) error {
		return nil
	})

	require.NoError(t, handler(ctx))
	assert.True(t, ctx.NextCalled)
	ctx.AssertCalled(t, "Locals", auth.UserLocalsKey, mock.Anything)
}

func TestRouteGateProtectRedirects(t *testing.T) {
	tests := []struct {
		name     string
		snap     auth.Snapshot
		location string
	}{
		{
			name:     "anonymous to login",
			snap:     auth.Snapshot{Status: auth.SessionReady},
			location: auth.DefaultLoginRoute,
		},
		{
			name: "forbidden to unauthorized",
			snap: auth.Snapshot{Status: auth.SessionReady, User: &auth.User{
				Email:       "b@example.com",
				Permissions: auth.StringList{"/overview"},
			}},
			location: auth.DefaultUnauthorizedRoute,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			gate := auth.NewRouteGate(&stubSessions{snap: tt.snap}, auth.NewPolicy(auth.WithPolicyBypass(auth.NoBypass)), testConfig()).
				WithLogger(auth.NopLogger{})

			ctx := newGateContext("/reports")
			ctx.On("Redirect", tt.location, mock.Anything).Return(nil).Once()

			handler := gate.Protect(reportsRequirement())(func(ctx router.Context) error {
				t.Fatal("handler must not run")
				return nil
			})

			require.NoError(t, handler(ctx))
			assert.False(t, ctx.NextCalled)
			ctx.AssertExpectations(t)
		})
	}
}

func TestRouteGateProtectRendersLoadingWhileBootstrapping(t *testing.T) {
	cfg := testConfig(func(o *auth.Options) { o.BootstrapWait = -1 })
	gate := auth.NewRouteGate(&stubSessions{snap: auth.Snapshot{Status: auth.SessionBootstrapping}}, auth.NewPolicy(), cfg).
		WithLogger(auth.NopLogger{})

	ctx := newGateContext("/reports")
	ctx.On("Render", "loading", mock.Anything).Return(nil).Run(func(args mock.Arguments) {
		view, ok := args.Get(1).(router.ViewContext)
		require.True(t, ok, "expected router.ViewContext")
		assert.Equal(t, "/reports", view["target"])
	}).Once()

	handler := gate.Protect(reportsRequirement())(func(ctx router.Context) error { return nil })

	require.NoError(t, handler(ctx))
	assert.False(t, ctx.NextCalled)
	ctx.AssertExpectations(t)
}
