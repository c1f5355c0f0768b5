package auth_test

import (
	"context"
	"sync"

	auth "github.com/goliatone/go-console-auth"
	"github.com/stretchr/testify/mock"
)

// MockIdentityGateway implements auth.IdentityGateway
type MockIdentityGateway struct {
	mock.Mock
}

func (m *MockIdentityGateway) CurrentUser(ctx context.Context) (*auth.User, error) {
	args := m.Called(ctx)
	user, _ := args.Get(0).(*auth.User)
	return user, args.Error(1)
}

func (m *MockIdentityGateway) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	args := m.Called(ctx, email, password)
	result, _ := args.Get(0).(*auth.LoginResult)
	return result, args.Error(1)
}

func (m *MockIdentityGateway) RefreshSecurityToken(ctx context.Context) error {
	args := m.Called(ctx)
	return args.Error(0)
}

func (m *MockIdentityGateway) Logout(ctx context.Context, token string) error {
	args := m.Called(ctx, token)
	return args.Error(0)
}

// MockPasswordGateway implements auth.PasswordGateway
type MockPasswordGateway struct {
	mock.Mock
}

func (m *MockPasswordGateway) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	args := m.Called(ctx, email)
	return args.String(0), args.Error(1)
}

func (m *MockPasswordGateway) ResetPassword(ctx context.Context, req auth.PasswordResetRequest) (string, error) {
	args := m.Called(ctx, req)
	return args.String(0), args.Error(1)
}

// MockRoleCatalog implements auth.RoleCatalog
type MockRoleCatalog struct {
	mock.Mock
}

func (m *MockRoleCatalog) Roles(ctx context.Context) ([]auth.RoleRef, error) {
	args := m.Called(ctx)
	roles, _ := args.Get(0).([]auth.RoleRef)
	return roles, args.Error(1)
}

// recordingSink keeps every activity event it receives
type recordingSink struct {
	mu     sync.Mutex
	events []auth.ActivityEvent
}

func (s *recordingSink) Record(_ context.Context, event auth.ActivityEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.events = append(s.events, event)
	return nil
}

func (s *recordingSink) Types() []auth.ActivityEventType {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]auth.ActivityEventType, 0, len(s.events))
	for _, e := range s.events {
		out = append(out, e.EventType)
	}
	return out
}

func (s *recordingSink) Last() auth.ActivityEvent {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.events) == 0 {
		return auth.ActivityEvent{}
	}
	return s.events[len(s.events)-1]
}

func gatewayError(status int, message string) error {
	return &auth.GatewayError{Status: status, Message: message, Path: "/test"}
}

func testConfig(mutate ...func(*auth.Options)) auth.Options {
	opts := auth.Options{}
	for _, fn := range mutate {
		fn(&opts)
	}
	return opts.WithDefaults()
}
