// Package gateway implements the console's IdentityGateway over the remote
// HTTP API.
package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	auth "github.com/goliatone/go-console-auth"
	"github.com/goliatone/go-print"
)

const maxBodySize = 1 << 20

var (
	_ auth.IdentityGateway = (*Client)(nil)
	_ auth.PasswordGateway = (*Client)(nil)
	_ auth.RoleCatalog     = (*Client)(nil)
)

// Client talks to the identity API
type Client struct {
	baseURL  *url.URL
	csrfPath string
	http     *http.Client
	store    auth.CredentialStore
	logger   auth.Logger
	debug    bool

	base    http.RoundTripper
	timeout time.Duration
}

type Option func(*Client)

// WithTransport sets the round tripper requests go through after the
// credential and XSRF headers are attached
func WithTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		c.base = rt
	}
}

func WithTimeout(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// WithCSRFCookiePath sets the endpoint that issues the XSRF cookie. An
// absolute path is resolved against the API host root.
func WithCSRFCookiePath(path string) Option {
	return func(c *Client) {
		if path != "" {
			c.csrfPath = path
		}
	}
}

func WithLogger(logger auth.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithDebug logs decoded payloads
func WithDebug(debug bool) Option {
	return func(c *Client) {
		c.debug = debug
	}
}

// New returns a client for the API rooted at baseURL. Every request
// carries the credential currently held by store.
func New(baseURL string, store auth.CredentialStore, opts ...Option) (*Client, error) {
	u, err := url.Parse(strings.TrimSuffix(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("gateway: parse base url: %w", err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("gateway: base url %q must be absolute", baseURL)
	}

	c := &Client{
		baseURL:  u,
		csrfPath: auth.DefaultCSRFCookiePath,
		store:    store,
		logger:   auth.NopLogger{},
		timeout:  auth.DefaultRequestTimeout,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}

	jar := newJar()
	c.http = &http.Client{
		Jar:       jar,
		Timeout:   c.timeout,
		Transport: newTransport(c.base, store, jar),
	}

	return c, nil
}

// NewFromConfig builds a client from the console configuration
func NewFromConfig(cfg auth.Config, store auth.CredentialStore, opts ...Option) (*Client, error) {
	base := []Option{
		WithTimeout(cfg.GetRequestTimeout()),
		WithCSRFCookiePath(cfg.GetCSRFCookiePath()),
	}
	return New(cfg.GetAPIBaseURL(), store, append(base, opts...)...)
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type passwordEmailRequest struct {
	Email string `json:"email"`
}

type messageResponse struct {
	Message string `json:"message"`
}

// CurrentUser fetches GET /user
func (c *Client) CurrentUser(ctx context.Context) (*auth.User, error) {
	user := &auth.User{}
	if err := c.do(ctx, http.MethodGet, c.endpoint("user"), nil, user); err != nil {
		return nil, err
	}
	return user, nil
}

// Login posts the credentials to POST /login
func (c *Client) Login(ctx context.Context, email, password string) (*auth.LoginResult, error) {
	res := &auth.LoginResult{}
	err := c.do(ctx, http.MethodPost, c.endpoint("login"), loginRequest{
		Email:    email,
		Password: password,
	}, res)
	if err != nil {
		return nil, err
	}
	return res, nil
}

// RefreshSecurityToken asks the API for a fresh XSRF cookie
func (c *Client) RefreshSecurityToken(ctx context.Context) error {
	ref, err := url.Parse(c.csrfPath)
	if err != nil {
		return fmt.Errorf("gateway: parse csrf path: %w", err)
	}
	return c.do(ctx, http.MethodGet, c.baseURL.ResolveReference(ref), nil, nil)
}

// Logout revokes token with POST /logout
func (c *Client) Logout(ctx context.Context, token string) error {
	if err := c.primeSecurityToken(ctx); err != nil {
		return err
	}
	return c.do(withToken(ctx, token), http.MethodPost, c.endpoint("logout"), nil, nil)
}

// Roles fetches the role catalog from GET /roles
func (c *Client) Roles(ctx context.Context) ([]auth.RoleRef, error) {
	var roles auth.RoleList
	if err := c.do(ctx, http.MethodGet, c.endpoint("roles"), nil, &roles); err != nil {
		return nil, err
	}
	return []auth.RoleRef(roles), nil
}

// RequestPasswordReset posts to POST /password/email
func (c *Client) RequestPasswordReset(ctx context.Context, email string) (string, error) {
	if err := c.primeSecurityToken(ctx); err != nil {
		return "", err
	}
	res := &messageResponse{}
	if err := c.do(ctx, http.MethodPost, c.endpoint("password", "email"), passwordEmailRequest{Email: email}, res); err != nil {
		return "", err
	}
	return res.Message, nil
}

// ResetPassword posts to POST /password/reset
func (c *Client) ResetPassword(ctx context.Context, req auth.PasswordResetRequest) (string, error) {
	if err := c.primeSecurityToken(ctx); err != nil {
		return "", err
	}
	res := &messageResponse{}
	if err := c.do(ctx, http.MethodPost, c.endpoint("password", "reset"), req, res); err != nil {
		return "", err
	}
	return res.Message, nil
}

// primeSecurityToken fetches the XSRF cookie when the jar has none. Login
// does not prime, its stale token retry covers the first request.
func (c *Client) primeSecurityToken(ctx context.Context) error {
	for _, cookie := range c.http.Jar.Cookies(c.baseURL) {
		if cookie.Name == XSRFCookieName {
			return nil
		}
	}
	return c.RefreshSecurityToken(ctx)
}

func (c *Client) endpoint(elem ...string) *url.URL {
	return c.baseURL.JoinPath(elem...)
}

func (c *Client) do(ctx context.Context, method string, u *url.URL, body, out any) error {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("gateway: encode %s %s: %w", method, u.Path, err)
		}
		reader = bytes.NewReader(raw)
	}

	// store failures surface as themselves, never as a *url.Error
	if _, pinned := ctx.Value(tokenOverrideKey{}).(string); !pinned && c.store != nil {
		token, err := c.store.Get(ctx)
		if err != nil {
			return fmt.Errorf("gateway: read credential for %s %s: %w", method, u.Path, err)
		}
		ctx = withToken(ctx, token)
	}

	req, err := http.NewRequestWithContext(ctx, method, u.String(), reader)
	if err != nil {
		return fmt.Errorf("gateway: build %s %s: %w", method, u.Path, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		if errors.Is(err, context.Canceled) {
			return err
		}
		c.logger.Debug("gateway: %s %s unreachable: %v", method, u.Path, err)
		return &auth.ConnectivityError{Op: method + " " + u.Path, Err: err}
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
	if err != nil {
		return &auth.ConnectivityError{Op: method + " " + u.Path, Err: err}
	}

	if resp.StatusCode >= http.StatusBadRequest {
		return decodeFailure(resp.StatusCode, u.Path, raw)
	}

	if out == nil || len(bytes.TrimSpace(raw)) == 0 {
		return nil
	}

	if err := decodeEnvelope(raw, out); err != nil {
		return fmt.Errorf("gateway: decode %s %s: %w", method, u.Path, err)
	}

	if c.debug {
		c.logger.Debug("gateway: %s %s -> %s", method, u.Path, print.MaybePrettyJSON(out))
	}

	return nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

// decodeEnvelope unwraps an optional {"data": ...} wrapper
func decodeEnvelope(raw []byte, out any) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 && trimmed[0] == '{' {
		var env envelope
		if err := json.Unmarshal(trimmed, &env); err == nil {
			data := bytes.TrimSpace(env.Data)
			if len(data) > 0 && !bytes.Equal(data, []byte("null")) {
				return json.Unmarshal(data, out)
			}
		}
	}
	return json.Unmarshal(trimmed, out)
}

type failurePayload struct {
	Message string          `json:"message"`
	Error   json.RawMessage `json:"error"`
}

func decodeFailure(status int, path string, raw []byte) error {
	gwErr := &auth.GatewayError{Status: status, Path: path}

	var payload failurePayload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return gwErr
	}

	gwErr.Message = payload.Message

	var text string
	if err := json.Unmarshal(payload.Error, &text); err == nil {
		gwErr.ErrorText = text
	}

	return gwErr
}
