package csrf

import (
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"net/http"
	"slices"
	"strconv"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-router"
)

// StatusPageExpired is answered when a form token is missing, stale or forged
const StatusPageExpired = 419

var (
	ErrTokenMismatch = goerrors.New("CSRF token mismatch", goerrors.CategoryAuth).
				WithTextCode("CSRF_TOKEN_MISMATCH").
				WithCode(StatusPageExpired)
	ErrTokenMissing = goerrors.New("CSRF token missing", goerrors.CategoryAuth).
			WithTextCode("CSRF_TOKEN_MISSING").
			WithCode(StatusPageExpired)
	ErrTokenExpired = goerrors.New("CSRF token expired", goerrors.CategoryAuth).
			WithTextCode("CSRF_TOKEN_EXPIRED").
			WithCode(StatusPageExpired)
)

// DefaultTokenLength is the nonce size in bytes
const DefaultTokenLength = 16

// DefaultContextKey is the default key for storing CSRF tokens in context
const DefaultContextKey = "csrf_token"

// DefaultFormFieldName is the default name for the CSRF token form field
const DefaultFormFieldName = "_token"

// DefaultHeaderName is the header scripts echo the cookie value in
const DefaultHeaderName = "X-XSRF-TOKEN"

// DefaultCookieName is readable by scripts on purpose
const DefaultCookieName = "XSRF-TOKEN"

// SessionLocalsKey is where the console stores its session id
const SessionLocalsKey = "session_id"

// DefaultRefreshPath answers with a fresh XSRF cookie, pages call it after a 419
const DefaultRefreshPath = "/csrf-cookie"

// Config defines the configuration for CSRF middleware
type Config struct {
	// Skip defines a function to skip middleware
	Skip func(router.Context) bool

	// TokenLength defines the nonce length of the generated token
	TokenLength int

	// ContextKey defines the key for storing the token in context
	ContextKey string

	// FormFieldName defines the name of the form field containing the token
	FormFieldName string

	// HeaderName defines the header name for the token
	HeaderName string

	// CookieName is the cookie the token is mirrored into, empty disables it
	CookieName string

	// ErrorHandler defines the error handler
	ErrorHandler router.ErrorHandler

	// SafeMethods defines HTTP methods that don't require CSRF protection
	SafeMethods []string

	// Expiration defines how long a token is accepted
	Expiration time.Duration

	// SecureKey signs tokens, at least 32 bytes. Generated when empty.
	SecureKey []byte
}

// New creates a new CSRF middleware. Tokens are stateless: an HMAC over a
// timestamp, a nonce and the session key, so a restarted console or a
// rotated session makes every outstanding form token stale.
func New(config ...Config) router.MiddlewareFunc {
	cfg := configDefault(config...)

	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			if cfg.Skip != nil && cfg.Skip(ctx) {
				return ctx.Next()
			}

			method := strings.ToUpper(ctx.Method())
			if !slices.Contains(cfg.SafeMethods, method) {
				if err := validateToken(ctx, cfg); err != nil {
					return cfg.ErrorHandler(ctx, err)
				}
			}

			token, err := generateToken(ctx, cfg)
			if err != nil {
				return cfg.ErrorHandler(ctx, err)
			}

			ctx.Locals(cfg.ContextKey, token)
			ctx.Locals(cfg.ContextKey+"_field", cfg.FormFieldName)
			ctx.Locals(cfg.ContextKey+"_header", cfg.HeaderName)

			if cfg.CookieName != "" {
				ctx.Cookie(&router.Cookie{
					Name:     cfg.CookieName,
					Value:    token,
					Path:     "/",
					HTTPOnly: false,
					SameSite: "Lax",
					Expires:  time.Now().Add(cfg.Expiration),
				})
			}

			return ctx.Next()
		}
	}
}

func generateToken(ctx router.Context, cfg Config) (string, error) {
	nonce := make([]byte, cfg.TokenLength)
	if _, err := io.ReadFull(rand.Reader, nonce); err != nil {
		return "", err
	}

	payload := fmt.Sprintf("%d:%s:%s", time.Now().UTC().Unix(), hex.EncodeToString(nonce), sessionKey(ctx))
	token := payload + ":" + hex.EncodeToString(sign(cfg.SecureKey, payload))
	return base64.RawURLEncoding.EncodeToString([]byte(token)), nil
}

func sign(key []byte, payload string) []byte {
	mac := hmac.New(sha256.New, key)
	mac.Write([]byte(payload))
	return mac.Sum(nil)
}

func validateToken(ctx router.Context, cfg Config) error {
	token := extractToken(ctx, cfg)
	if token == "" {
		return ErrTokenMissing
	}

	decoded, err := base64.RawURLEncoding.DecodeString(token)
	if err != nil {
		return ErrTokenMismatch
	}

	parts := strings.Split(string(decoded), ":")
	if len(parts) != 4 {
		return ErrTokenMismatch
	}

	timestamp, err := strconv.ParseInt(parts[0], 10, 64)
	if err != nil {
		return ErrTokenMismatch
	}

	signature, err := hex.DecodeString(parts[3])
	if err != nil {
		return ErrTokenMismatch
	}

	if !hmac.Equal(signature, sign(cfg.SecureKey, strings.Join(parts[:3], ":"))) {
		return ErrTokenMismatch
	}

	if subtle.ConstantTimeCompare([]byte(parts[2]), []byte(sessionKey(ctx))) != 1 {
		return ErrTokenMismatch
	}

	if time.Now().UTC().After(time.Unix(timestamp, 0).Add(cfg.Expiration)) {
		return ErrTokenExpired
	}

	return nil
}

func extractToken(ctx router.Context, cfg Config) string {
	if token := ctx.FormValue(cfg.FormFieldName); token != "" {
		return token
	}
	return ctx.GetString(cfg.HeaderName, "")
}

func sessionKey(ctx router.Context) string {
	if raw := ctx.Locals(SessionLocalsKey); raw != nil {
		if id, ok := raw.(string); ok && id != "" {
			return id
		}
	}
	return "ip_" + ctx.IP()
}

func configDefault(config ...Config) Config {
	cfg := Config{}
	if len(config) > 0 {
		cfg = config[0]
	}

	if cfg.TokenLength == 0 {
		cfg.TokenLength = DefaultTokenLength
	}
	if cfg.ContextKey == "" {
		cfg.ContextKey = DefaultContextKey
	}
	if cfg.FormFieldName == "" {
		cfg.FormFieldName = DefaultFormFieldName
	}
	if cfg.HeaderName == "" {
		cfg.HeaderName = DefaultHeaderName
	}
	if cfg.SafeMethods == nil {
		cfg.SafeMethods = []string{"GET", "HEAD", "OPTIONS", "TRACE"}
	}
	if cfg.Expiration == 0 {
		cfg.Expiration = 2 * time.Hour
	}
	if cfg.ErrorHandler == nil {
		cfg.ErrorHandler = defaultErrorHandler
	}

	cfg.SecureKey = initializeSecureKey(cfg.SecureKey)
	return cfg
}

func defaultErrorHandler(ctx router.Context, err error) error {
	return ctx.Status(StatusPageExpired).SendString("Page expired, reload and try again")
}

func initializeSecureKey(current []byte) []byte {
	if len(current) > 0 {
		if len(current) < 32 {
			panic(fmt.Errorf("csrf: secure key must be at least 32 bytes, got %d", len(current)))
		}
		return current
	}
	key := make([]byte, 32)
	if _, err := io.ReadFull(rand.Reader, key); err != nil {
		panic(fmt.Errorf("csrf: unable to initialize secure key: %w", err))
	}
	return key
}

// RegisterRoutes mounts the refresh endpoint at path, DefaultRefreshPath
// when empty. The middleware runs first and sets the new cookie, the
// handler only confirms it with 204 like the identity API does.
func RegisterRoutes[T any](app router.Router[T], path ...string) {
	target := DefaultRefreshPath
	if len(path) > 0 && path[0] != "" {
		target = path[0]
	}
	app.Get(target, refreshHandler(DefaultContextKey)).SetName("console.csrf.refresh")
}

func refreshHandler(contextKey string) router.HandlerFunc {
	return func(ctx router.Context) error {
		if token, _ := ctx.Locals(contextKey).(string); token == "" {
			return ctx.Status(StatusPageExpired).SendString(ErrTokenMissing.Error())
		}
		ctx.SetHeader("Cache-Control", "no-store, max-age=0")
		return ctx.Status(http.StatusNoContent).SendString("")
	}
}

// TemplateHelpers returns placeholder helpers for views rendered outside
// of the middleware
func TemplateHelpers() map[string]any {
	return map[string]any{
		"csrf_token":       "",
		"csrf_field":       `<input type="hidden" name="` + DefaultFormFieldName + `" value="">`,
		"csrf_header_name": DefaultHeaderName,
	}
}

// TemplateHelpersWithRouter returns the helpers holding this request's token
func TemplateHelpersWithRouter(ctx router.Context, tokenKey string) map[string]any {
	if tokenKey == "" {
		tokenKey = DefaultContextKey
	}

	token, _ := ctx.Locals(tokenKey).(string)

	fieldName := DefaultFormFieldName
	if val, ok := ctx.Locals(tokenKey + "_field").(string); ok && val != "" {
		fieldName = val
	}

	headerName := DefaultHeaderName
	if val, ok := ctx.Locals(tokenKey + "_header").(string); ok && val != "" {
		headerName = val
	}

	return map[string]any{
		"csrf_token":       token,
		"csrf_field":       `<input type="hidden" name="` + fieldName + `" value="` + token + `">`,
		"csrf_header_name": headerName,
	}
}
