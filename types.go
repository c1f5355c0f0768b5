package auth

import (
	"context"
	"fmt"
)

type Logger interface {
	Debug(format string, args ...any)
	Info(format string, args ...any)
	Warn(format string, args ...any)
	Error(format string, args ...any)
}

// CredentialStore is the only holder of the bearer credential
type CredentialStore interface {
	Get(ctx context.Context) (string, error)
	// Set stores the token, an empty token clears it
	Set(ctx context.Context, token string) error
	Clear(ctx context.Context) error
}

// IdentityGateway is the remote API the session core talks to
type IdentityGateway interface {
	// CurrentUser fetches the identity bound to the stored credential
	CurrentUser(ctx context.Context) (*User, error)
	// Login exchanges credentials for a bearer token and identity
	Login(ctx context.Context, email, password string) (*LoginResult, error)
	// RefreshSecurityToken renews the server side CSRF token
	RefreshSecurityToken(ctx context.Context) error
	// Logout revokes the given token remotely
	Logout(ctx context.Context, token string) error
}

// PasswordGateway covers the password recovery endpoints
type PasswordGateway interface {
	RequestPasswordReset(ctx context.Context, email string) (string, error)
	ResetPassword(ctx context.Context, req PasswordResetRequest) (string, error)
}

// RoleCatalog lists the known roles and the permissions each grants
type RoleCatalog interface {
	Roles(ctx context.Context) ([]RoleRef, error)
}

// SessionSource is what RouteGate needs from the session owner
type SessionSource interface {
	Snapshot() Snapshot
	Start(target string)
	Wait(ctx context.Context) error
}

type defLogger struct{}

func (d defLogger) Debug(format string, args ...any) {
	fmt.Printf("[DBG] CONSOLE "+newline(format), args...)
}

func (d defLogger) Info(format string, args ...any) {
	fmt.Printf("[INF] CONSOLE "+newline(format), args...)
}

func (d defLogger) Warn(format string, args ...any) {
	fmt.Printf("[WRN] CONSOLE "+newline(format), args...)
}

func (d defLogger) Error(format string, args ...any) {
	fmt.Printf("[ERR] CONSOLE "+newline(format), args...)
}

// NopLogger discards everything
type NopLogger struct{}

func (NopLogger) Debug(string, ...any) {}
func (NopLogger) Info(string, ...any)  {}
func (NopLogger) Warn(string, ...any)  {}
func (NopLogger) Error(string, ...any) {}

func normalizeLogger(l Logger) Logger {
	if l == nil {
		return defLogger{}
	}
	return l
}

func newline(s string) string {
	if len(s) > 0 && s[len(s)-1] != '\n' {
		s += "\n"
	}
	return s
}
