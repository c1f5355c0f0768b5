package gateway

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/url"

	auth "github.com/goliatone/go-console-auth"
	"golang.org/x/oauth2"
)

const (
	// XSRFCookieName is the cookie the API sets from the security token endpoint
	XSRFCookieName = "XSRF-TOKEN"
	// XSRFHeaderName carries the decoded cookie back on mutating requests
	XSRFHeaderName = "X-XSRF-TOKEN"
)

type tokenOverrideKey struct{}

// withToken pins the bearer token for a single request, an empty token
// sends no Authorization header.
func withToken(ctx context.Context, token string) context.Context {
	return context.WithValue(ctx, tokenOverrideKey{}, token)
}

// transport attaches the stored credential and the XSRF header to every
// outbound request.
type transport struct {
	base  http.RoundTripper
	store auth.CredentialStore
	jar   http.CookieJar
}

func newTransport(base http.RoundTripper, store auth.CredentialStore, jar http.CookieJar) *transport {
	if base == nil {
		base = http.DefaultTransport
	}
	return &transport{base: base, store: store, jar: jar}
}

func (t *transport) RoundTrip(req *http.Request) (*http.Response, error) {
	out := req.Clone(req.Context())

	token, err := t.token(req.Context())
	if err != nil {
		return nil, err
	}

	if token != "" {
		(&oauth2.Token{AccessToken: token, TokenType: "Bearer"}).SetAuthHeader(out)
	}

	if isMutating(out.Method) {
		if xsrf := t.xsrfToken(out.URL); xsrf != "" {
			out.Header.Set(XSRFHeaderName, xsrf)
		}
	}

	return t.base.RoundTrip(out)
}

func (t *transport) token(ctx context.Context) (string, error) {
	if override, ok := ctx.Value(tokenOverrideKey{}).(string); ok {
		return override, nil
	}
	if t.store == nil {
		return "", nil
	}
	return t.store.Get(ctx)
}

func (t *transport) xsrfToken(u *url.URL) string {
	if t.jar == nil {
		return ""
	}
	for _, c := range t.jar.Cookies(u) {
		if c.Name != XSRFCookieName {
			continue
		}
		// the cookie value is URL encoded by the API
		if decoded, err := url.QueryUnescape(c.Value); err == nil {
			return decoded
		}
		return c.Value
	}
	return ""
}

func isMutating(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return false
	default:
		return true
	}
}

func newJar() http.CookieJar {
	jar, _ := cookiejar.New(nil)
	return jar
}
