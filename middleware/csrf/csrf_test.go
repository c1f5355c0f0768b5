package csrf

import (
	"net/http"
	"testing"
	"time"

	"github.com/goliatone/go-router"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

func newTestSecureKey() []byte {
	return []byte("0123456789abcdef0123456789abcdef")
}

func newMockContextWithBase(method, sessionID string) *router.MockContext {
	ctx := router.NewMockContext()
	ctx.On("Method").Return(method)
	ctx.On("IP").Return("127.0.0.1")
	ctx.On("Locals", DefaultContextKey, mock.Anything).Return(nil)
	ctx.On("Locals", DefaultContextKey+"_field", mock.Anything).Return(nil)
	ctx.On("Locals", DefaultContextKey+"_header", mock.Anything).Return(nil)
	ctx.On("Cookie", mock.Anything).Return().Maybe()
	if sessionID != "" {
		ctx.LocalsMock[SessionLocalsKey] = sessionID
	}
	return ctx
}

func issueToken(t *testing.T, handler router.HandlerFunc, sessionID string) string {
	t.Helper()
	getCtx := newMockContextWithBase("GET", sessionID)
	require.NoError(t, handler(getCtx))

	token, ok := getCtx.LocalsMock[DefaultContextKey].(string)
	require.True(t, ok)
	require.NotEmpty(t, token)
	return token
}

func TestFormTokenRoundTrip(t *testing.T) {
	handler := New(Config{
		SecureKey: newTestSecureKey(),
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	})(func(ctx router.Context) error { return nil })

	token := issueToken(t, handler, "session-1")

	postCtx := newMockContextWithBase("POST", "session-1")
	postCtx.On("FormValue", DefaultFormFieldName).Return(token)

	require.NoError(t, handler(postCtx))
	require.True(t, postCtx.NextCalled)
}

func TestHeaderTokenAccepted(t *testing.T) {
	handler := New(Config{
		SecureKey: newTestSecureKey(),
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	})(func(ctx router.Context) error { return nil })

	token := issueToken(t, handler, "session-1")

	postCtx := newMockContextWithBase("POST", "session-1")
	postCtx.On("FormValue", DefaultFormFieldName).Return("")
	postCtx.On("GetString", DefaultHeaderName, "").Return(token)

	require.NoError(t, handler(postCtx))
	require.True(t, postCtx.NextCalled)
}

func TestTokenFromAnotherSessionIsRejected(t *testing.T) {
	handler := New(Config{
		SecureKey: newTestSecureKey(),
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	})(func(ctx router.Context) error { return nil })

	token := issueToken(t, handler, "session-1")

	postCtx := newMockContextWithBase("POST", "session-2")
	postCtx.On("FormValue", DefaultFormFieldName).Return(token)

	err := handler(postCtx)
	require.ErrorIs(t, err, ErrTokenMismatch)
	require.False(t, postCtx.NextCalled)
}

func TestTamperedTokenIsRejected(t *testing.T) {
	handler := New(Config{
		SecureKey: newTestSecureKey(),
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	})(func(ctx router.Context) error { return nil })

	postCtx := newMockContextWithBase("POST", "session-1")
	postCtx.On("FormValue", DefaultFormFieldName).Return("tampered")

	require.ErrorIs(t, handler(postCtx), ErrTokenMismatch)
}

func TestMissingTokenIsRejected(t *testing.T) {
	handler := New(Config{
		SecureKey: newTestSecureKey(),
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	})(func(ctx router.Context) error { return nil })

	postCtx := newMockContextWithBase("POST", "session-1")
	postCtx.On("FormValue", DefaultFormFieldName).Return("")
	postCtx.On("GetString", DefaultHeaderName, "").Return("")

	require.ErrorIs(t, handler(postCtx), ErrTokenMissing)
}

func TestExpiredToken(t *testing.T) {
	handler := New(Config{
		SecureKey:  newTestSecureKey(),
		Expiration: time.Nanosecond,
		ErrorHandler: func(ctx router.Context, err error) error {
			return err
		},
	})(func(ctx router.Context) error { return nil })

	token := issueToken(t, handler, "session-1")

	time.Sleep(1100 * time.Millisecond)

	postCtx := newMockContextWithBase("POST", "session-1")
	postCtx.On("FormValue", DefaultFormFieldName).Return(token)

	require.ErrorIs(t, handler(postCtx), ErrTokenExpired)
}

func TestDefaultErrorHandlerAnswersPageExpired(t *testing.T) {
	handler := New(Config{SecureKey: newTestSecureKey()})(func(ctx router.Context) error { return nil })

	postCtx := newMockContextWithBase("POST", "session-1")
	postCtx.On("FormValue", DefaultFormFieldName).Return("")
	postCtx.On("GetString", DefaultHeaderName, "").Return("")
	postCtx.On("Status", StatusPageExpired).Return(postCtx)
	postCtx.On("SendString", mock.Anything).Return(nil)

	require.NoError(t, handler(postCtx))
	postCtx.AssertCalled(t, "Status", StatusPageExpired)
}

func TestShortSecureKeyPanics(t *testing.T) {
	require.Panics(t, func() {
		New(Config{SecureKey: []byte("short")})
	})
}

func TestTemplateHelpersPlaceholders(t *testing.T) {
	helpers := TemplateHelpers()
	require.Equal(t, "", helpers["csrf_token"])
	require.Equal(t, `<input type="hidden" name="`+DefaultFormFieldName+`" value="">`, helpers["csrf_field"])
	require.Equal(t, DefaultHeaderName, helpers["csrf_header_name"])
}

func TestTemplateHelpersWithRouter(t *testing.T) {
	ctx := router.NewMockContext()
	ctx.LocalsMock[DefaultContextKey] = "abc"

	helpers := TemplateHelpersWithRouter(ctx, "")
	require.Equal(t, "abc", helpers["csrf_token"])
	require.Contains(t, helpers["csrf_field"], `value="abc"`)
}

func TestRefreshHandlerConfirmsNewCookie(t *testing.T) {
	handler := refreshHandler(DefaultContextKey)

	ctx := router.NewMockContext()
	ctx.LocalsMock[DefaultContextKey] = "fresh-token"
	ctx.On("SetHeader", "Cache-Control", "no-store, max-age=0").Return(ctx).Once()
	ctx.On("Status", http.StatusNoContent).Return(ctx).Once()
	ctx.On("SendString", "").Return(nil).Once()

	require.NoError(t, handler(ctx))
	ctx.AssertExpectations(t)
}

func TestRefreshHandlerWithoutMiddlewareIsExpired(t *testing.T) {
	handler := refreshHandler(DefaultContextKey)

	ctx := router.NewMockContext()
	ctx.On("Status", StatusPageExpired).Return(ctx).Once()
	ctx.On("SendString", mock.Anything).Return(nil).Once()

	require.NoError(t, handler(ctx))
	ctx.AssertExpectations(t)
	ctx.AssertNotCalled(t, "SetHeader", mock.Anything, mock.Anything)
}

