package auth

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strings"

	goerrors "github.com/goliatone/go-errors"
)

// StatusStaleSecurityToken is the status the API uses for a CSRF token mismatch
const StatusStaleSecurityToken = 419

const (
	TextCodeUnauthenticated    = "SESSION_UNAUTHENTICATED"
	TextCodeStaleSecurityToken = "SESSION_STALE_SECURITY_TOKEN"
	TextCodeInvalidCredentials = "SESSION_INVALID_CREDENTIALS"
	TextCodeConnectivity       = "SESSION_SERVER_UNREACHABLE"
	TextCodeUnexpected         = "SESSION_UNEXPECTED"
	TextCodeLoginInProgress    = "SESSION_LOGIN_IN_PROGRESS"
	TextCodeCatalogUnavailable = "ROLE_CATALOG_UNAVAILABLE"
)

const (
	// MessageLoginFailed is used when the API gives no usable message
	MessageLoginFailed = "Login failed. Please check your credentials and try again."
	// MessageServerUnreachable names the likely cause of a connectivity failure
	MessageServerUnreachable = "Unable to reach the server. Check your network connection and that the API server is running."
	// MessageUnexpected is shown for failures without a response payload
	MessageUnexpected = "Something went wrong. Please try again."
)

var ErrUnauthenticated = goerrors.New("not authenticated", goerrors.CategoryAuth).
	WithTextCode(TextCodeUnauthenticated).
	WithCode(goerrors.CodeUnauthorized)

var ErrStaleSecurityToken = goerrors.New("security token mismatch", goerrors.CategoryAuth).
	WithTextCode(TextCodeStaleSecurityToken).
	WithCode(StatusStaleSecurityToken)

var ErrInvalidCredentials = goerrors.New(MessageLoginFailed, goerrors.CategoryAuth).
	WithTextCode(TextCodeInvalidCredentials).
	WithCode(goerrors.CodeUnauthorized)

var ErrConnectivity = goerrors.New(MessageServerUnreachable, goerrors.CategoryOperation).
	WithTextCode(TextCodeConnectivity).
	WithCode(http.StatusServiceUnavailable)

var ErrUnexpected = goerrors.New(MessageUnexpected, goerrors.CategoryInternal).
	WithTextCode(TextCodeUnexpected).
	WithCode(goerrors.CodeInternal)

var ErrLoginInProgress = goerrors.New("a login is already in progress", goerrors.CategoryConflict).
	WithTextCode(TextCodeLoginInProgress).
	WithCode(goerrors.CodeConflict)

var ErrCatalogUnavailable = goerrors.New("role catalog unavailable", goerrors.CategoryAuthz).
	WithTextCode(TextCodeCatalogUnavailable).
	WithCode(goerrors.CodeForbidden)

// GatewayError is a non success response from the remote API
type GatewayError struct {
	Status    int
	Message   string
	ErrorText string
	Path      string
}

func (e *GatewayError) Error() string {
	detail := e.Message
	if detail == "" {
		detail = e.ErrorText
	}
	if detail == "" {
		detail = http.StatusText(e.Status)
	}
	return fmt.Sprintf("gateway %s: status %d: %s", e.Path, e.Status, detail)
}

// ConnectivityError wraps a transport failure where no response was received
type ConnectivityError struct {
	Op  string
	Err error
}

func (e *ConnectivityError) Error() string {
	return fmt.Sprintf("%s: server unreachable: %v", e.Op, e.Err)
}

func (e *ConnectivityError) Unwrap() error {
	return e.Err
}

// ErrorKind is the failure class the session core reacts to
type ErrorKind int

const (
	KindNone ErrorKind = iota
	KindUnauthenticated
	KindStaleSecurityToken
	KindInvalidCredentials
	KindConnectivity
	KindUnexpected
)

func (k ErrorKind) String() string {
	switch k {
	case KindNone:
		return "none"
	case KindUnauthenticated:
		return "unauthenticated"
	case KindStaleSecurityToken:
		return "stale_security_token"
	case KindInvalidCredentials:
		return "invalid_credentials"
	case KindConnectivity:
		return "connectivity"
	default:
		return "unexpected"
	}
}

// Classify maps a gateway failure to its class. 401 and 403 are
// unauthenticated, 419 is a stale security token, any other 4xx is an
// invalid credentials response.
func Classify(err error) ErrorKind {
	if err == nil {
		return KindNone
	}

	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		switch {
		case gwErr.Status == http.StatusUnauthorized, gwErr.Status == http.StatusForbidden:
			return KindUnauthenticated
		case gwErr.Status == StatusStaleSecurityToken:
			return KindStaleSecurityToken
		case gwErr.Status >= 400 && gwErr.Status < 500:
			return KindInvalidCredentials
		default:
			return KindUnexpected
		}
	}

	var connErr *ConnectivityError
	if errors.As(err, &connErr) {
		return KindConnectivity
	}

	var netErr net.Error
	if errors.As(err, &netErr) {
		return KindConnectivity
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return KindConnectivity
	}

	return KindUnexpected
}

// IsStaleSecurityToken reports a 419 response
func IsStaleSecurityToken(err error) bool {
	return Classify(err) == KindStaleSecurityToken
}

// IsUnauthenticated reports a 401 or 403 response
func IsUnauthenticated(err error) bool {
	return Classify(err) == KindUnauthenticated
}

// ResponseMessage extracts the user facing message of an API failure,
// preferring the message field, then the error field, then the fallback.
func ResponseMessage(err error, fallback string) string {
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		if msg := strings.TrimSpace(gwErr.Message); msg != "" {
			return msg
		}
		if msg := strings.TrimSpace(gwErr.ErrorText); msg != "" {
			return msg
		}
	}
	return fallback
}

// UserMessage returns the message to show for an error surfaced by the core
func UserMessage(err error) string {
	if err == nil {
		return ""
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) && richErr.Message != "" {
		return richErr.Message
	}

	return MessageUnexpected
}

// surfaceFailure turns a gateway failure into a single user facing error
// following the message extraction convention.
func surfaceFailure(err error, fallback string) *goerrors.Error {
	var base *goerrors.Error
	message := fallback

	switch Classify(err) {
	case KindConnectivity:
		base = ErrConnectivity
		message = MessageServerUnreachable
	case KindUnauthenticated, KindInvalidCredentials:
		base = ErrInvalidCredentials
		message = ResponseMessage(err, fallback)
	case KindStaleSecurityToken:
		base = ErrStaleSecurityToken
		message = ResponseMessage(err, fallback)
	default:
		base = ErrUnexpected
		message = ResponseMessage(err, fallback)
	}

	clone := base.Clone()
	if clone == nil {
		clone = base
	}
	clone.Message = message
	clone.Source = err

	meta := map[string]any{"kind": Classify(err).String()}
	var gwErr *GatewayError
	if errors.As(err, &gwErr) {
		meta["status"] = gwErr.Status
		meta["path"] = gwErr.Path
	}
	clone.WithMetadata(meta)
	return clone
}
