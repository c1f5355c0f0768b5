// Package gatewaytest runs an in process identity API for tests. It issues
// HS256 bearer tokens, enforces the XSRF cookie rule on mutating requests
// and counts calls per endpoint.
package gatewaytest

import (
	"context"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/golang-jwt/jwt/v5"
	auth "github.com/goliatone/go-console-auth"
	"github.com/google/uuid"
)

const (
	APIPrefix      = "/api"
	CSRFCookiePath = "/sanctum/csrf-cookie"

	MessageUnauthenticated    = "Unauthenticated."
	MessageInvalidCredentials = "Invalid credentials"
	MessageTokenMismatch      = "CSRF token mismatch."
	MessageResetLinkSent      = "We have emailed your password reset link."
	MessagePasswordReset      = "Your password has been reset."
	MessageInvalidResetToken  = "This password reset token is invalid."
)

type account struct {
	user     auth.User
	password string
}

type tokenClaims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

// Server is a fake identity API backed by httptest
type Server struct {
	*httptest.Server

	mu          sync.Mutex
	secret      []byte
	accounts    map[string]*account
	roles       []auth.RoleRef
	xsrf        map[string]bool
	revoked     map[string]bool
	resets      map[string]string
	calls       map[string]int
	envelope    bool
	enforceXSRF bool
	staleOnce   bool
	rolesStatus int
	logoutFail  int
	tokenTTL    time.Duration
}

type Option func(*Server)

// WithAccount registers a user that can sign in with password
func WithAccount(user auth.User, password string) Option {
	return func(s *Server) {
		s.accounts[strings.ToLower(user.Email)] = &account{user: user, password: password}
	}
}

// WithRoles sets the role catalog served by GET /roles
func WithRoles(roles ...auth.RoleRef) Option {
	return func(s *Server) {
		s.roles = append(s.roles, roles...)
	}
}

// WithEnvelope wraps every success payload in {"data": ...}
func WithEnvelope() Option {
	return func(s *Server) {
		s.envelope = true
	}
}

// WithoutXSRF accepts mutating requests without the XSRF header
func WithoutXSRF() Option {
	return func(s *Server) {
		s.enforceXSRF = false
	}
}

// WithStaleOnce answers the first mutating request with 419 even when the
// XSRF header is valid
func WithStaleOnce() Option {
	return func(s *Server) {
		s.staleOnce = true
	}
}

// WithRolesStatus makes GET /roles fail with status
func WithRolesStatus(status int) Option {
	return func(s *Server) {
		s.rolesStatus = status
	}
}

// WithLogoutStatus makes POST /logout fail with status
func WithLogoutStatus(status int) Option {
	return func(s *Server) {
		s.logoutFail = status
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Server) {
		s.tokenTTL = ttl
	}
}

// NewServer starts the fake API, callers must Close it
func NewServer(opts ...Option) *Server {
	s := &Server{
		secret:      []byte(uuid.NewString()),
		accounts:    map[string]*account{},
		xsrf:        map[string]bool{},
		revoked:     map[string]bool{},
		resets:      map[string]string{},
		calls:       map[string]int{},
		enforceXSRF: true,
		tokenTTL:    time.Hour,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	s.Server = httptest.NewServer(s.routes())
	return s
}

// BaseURL is the API root to hand to the gateway client
func (s *Server) BaseURL() string {
	return s.URL + APIPrefix
}

// Calls returns how many times the endpoint was hit, keyed as "METHOD /path"
func (s *Server) Calls(endpoint string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.calls[endpoint]
}

// IssueToken mints a bearer token for a registered account
func (s *Server) IssueToken(email string) (string, error) {
	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(email)]
	s.mu.Unlock()
	if !ok {
		return "", errors.New("gatewaytest: unknown account " + email)
	}
	return s.issue(acc.user)
}

// Revoked reports if token was revoked by POST /logout
func (s *Server) Revoked(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.revoked[token]
}

// ResetToken returns the token sent by the last reset link for email
func (s *Server) ResetToken(email string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.resets[strings.ToLower(email)]
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Use(s.count)

	r.Get(CSRFCookiePath, s.csrfCookie)

	r.Route(APIPrefix, func(r chi.Router) {
		r.Use(s.verifyXSRF)

		r.Post("/login", s.login)
		r.Post("/password/email", s.passwordEmail)
		r.Post("/password/reset", s.passwordReset)

		r.Group(func(r chi.Router) {
			r.Use(s.requireBearer)
			r.Get("/user", s.currentUser)
			r.Post("/logout", s.logout)
			r.Get("/roles", s.listRoles)
		})
	})

	return r
}

func (s *Server) count(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		s.mu.Lock()
		s.calls[r.Method+" "+strings.TrimPrefix(r.URL.Path, APIPrefix)]++
		s.mu.Unlock()
		next.ServeHTTP(w, r)
	})
}

func (s *Server) csrfCookie(w http.ResponseWriter, _ *http.Request) {
	buf := make([]byte, 24)
	_, _ = rand.Read(buf)
	// std encoding keeps '+', '/' and '=' so the cookie must be decoded
	token := base64.StdEncoding.EncodeToString(buf)

	s.mu.Lock()
	s.xsrf[token] = true
	s.mu.Unlock()

	http.SetCookie(w, &http.Cookie{
		Name:  "XSRF-TOKEN",
		Value: url.QueryEscape(token),
		Path:  "/",
	})
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) verifyXSRF(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.Method == http.MethodGet || r.Method == http.MethodHead {
			next.ServeHTTP(w, r)
			return
		}

		s.mu.Lock()
		stale := s.staleOnce
		s.staleOnce = false
		enforce := s.enforceXSRF
		valid := s.xsrf[r.Header.Get("X-XSRF-TOKEN")]
		s.mu.Unlock()

		if stale || (enforce && !valid) {
			s.fail(w, auth.StatusStaleSecurityToken, MessageTokenMismatch, "")
			return
		}
		next.ServeHTTP(w, r)
	})
}

type userKey struct{}

func (s *Server) requireBearer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		raw, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || raw == "" {
			s.fail(w, http.StatusUnauthorized, MessageUnauthenticated, "")
			return
		}

		user, err := s.verify(raw)
		if err != nil {
			s.fail(w, http.StatusUnauthorized, MessageUnauthenticated, err.Error())
			return
		}

		next.ServeHTTP(w, r.WithContext(contextWithUser(r, user, raw)))
	})
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email    string `json:"email"`
		Password string `json:"password"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" || req.Password == "" {
		s.fail(w, http.StatusUnprocessableEntity, "The email and password fields are required.", "validation")
		return
	}

	s.mu.Lock()
	acc, ok := s.accounts[strings.ToLower(req.Email)]
	ok = ok && acc.password == req.Password
	s.mu.Unlock()
	if !ok {
		s.fail(w, http.StatusUnauthorized, MessageInvalidCredentials, "")
		return
	}

	token, err := s.issue(acc.user)
	if err != nil {
		s.fail(w, http.StatusInternalServerError, "", err.Error())
		return
	}

	s.ok(w, auth.LoginResult{Token: token, User: &acc.user})
}

func (s *Server) currentUser(w http.ResponseWriter, r *http.Request) {
	user, _ := userFromContext(r)
	s.ok(w, user)
}

func (s *Server) logout(w http.ResponseWriter, r *http.Request) {
	_, token := userFromContext(r)

	s.mu.Lock()
	s.revoked[token] = true
	fail := s.logoutFail
	s.mu.Unlock()

	if fail != 0 {
		s.fail(w, fail, "", "logout failed")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) listRoles(w http.ResponseWriter, _ *http.Request) {
	s.mu.Lock()
	status := s.rolesStatus
	roles := append([]auth.RoleRef(nil), s.roles...)
	s.mu.Unlock()

	if status != 0 {
		s.fail(w, status, "This action is unauthorized.", "")
		return
	}
	s.ok(w, roles)
}

func (s *Server) passwordEmail(w http.ResponseWriter, r *http.Request) {
	var req struct {
		Email string `json:"email"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil || req.Email == "" {
		s.fail(w, http.StatusUnprocessableEntity, "The email field is required.", "validation")
		return
	}

	email := strings.ToLower(req.Email)
	s.mu.Lock()
	if _, ok := s.accounts[email]; ok {
		s.resets[email] = uuid.NewString()
	}
	s.mu.Unlock()

	s.ok(w, map[string]string{"message": MessageResetLinkSent})
}

func (s *Server) passwordReset(w http.ResponseWriter, r *http.Request) {
	var req auth.PasswordResetRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		s.fail(w, http.StatusUnprocessableEntity, MessageInvalidResetToken, "validation")
		return
	}

	email := strings.ToLower(req.Email)

	s.mu.Lock()
	defer s.mu.Unlock()

	acc, ok := s.accounts[email]
	if !ok || req.Token == "" || s.resets[email] != req.Token {
		s.fail(w, http.StatusUnprocessableEntity, MessageInvalidResetToken, "")
		return
	}

	acc.password = req.Password
	delete(s.resets, email)

	s.ok(w, map[string]string{"message": MessagePasswordReset})
}

func (s *Server) issue(user auth.User) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Email: user.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			ID:        uuid.NewString(),
			Subject:   user.ID.String(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.tokenTTL)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(s.secret)
}

func (s *Server) verify(raw string) (auth.User, error) {
	claims := &tokenClaims{}
	_, err := jwt.ParseWithClaims(raw, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return auth.User{}, err
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	if s.revoked[raw] {
		return auth.User{}, errors.New("token revoked")
	}

	acc, ok := s.accounts[strings.ToLower(claims.Email)]
	if !ok {
		return auth.User{}, errors.New("account not found")
	}
	return acc.user, nil
}

func (s *Server) ok(w http.ResponseWriter, payload any) {
	if s.envelope {
		payload = map[string]any{"data": payload}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *Server) fail(w http.ResponseWriter, status int, message, errText string) {
	body := map[string]any{}
	if message != "" {
		body["message"] = message
	}
	if errText != "" {
		body["error"] = errText
	}
	writeJSON(w, status, body)
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

type bearer struct {
	user  auth.User
	token string
}

func contextWithUser(r *http.Request, user auth.User, token string) context.Context {
	return context.WithValue(r.Context(), userKey{}, bearer{user: user, token: token})
}

func userFromContext(r *http.Request) (auth.User, string) {
	b, _ := r.Context().Value(userKey{}).(bearer)
	return b.user, b.token
}
