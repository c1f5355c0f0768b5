package auth

import (
	"crypto/sha256"
	"fmt"
	"os"
	"slices"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds session core options
type Config interface {
	GetAPIBaseURL() string
	GetManagerEmail() string
	GetLoginRoute() string
	GetUnauthorizedRoute() string
	GetPublicRoutes() []string
	GetRequestTimeout() time.Duration
	GetBootstrapWait() time.Duration
	GetRoleCatalogTTL() time.Duration
	GetCSRFCookiePath() string
	GetCapabilities() []Capability
}

const (
	DefaultAPIBaseURL        = "http://localhost:8000/api"
	DefaultLoginRoute        = "/login"
	DefaultUnauthorizedRoute = "/unauthorized"
	DefaultCSRFCookiePath    = "/sanctum/csrf-cookie"
	DefaultRequestTimeout    = 15 * time.Second
	DefaultBootstrapWait     = 3 * time.Second
	DefaultRoleCatalogTTL    = 5 * time.Minute
	DefaultDatabaseDSN       = "file:console.db?cache=shared"
	DefaultServerAddress     = "127.0.0.1:8088"
	DefaultViewsDir          = "./views"

	// EnvAPIBaseURL overrides the configured API base URL
	EnvAPIBaseURL = "CONSOLE_API_URL"
)

// DefaultPublicRoutes never require an identity
var DefaultPublicRoutes = []string{
	"/login",
	"/logout",
	"/password/email",
	"/password/reset",
	"/unauthorized",
}

var _ Config = Options{}

// Options is the file backed configuration
type Options struct {
	APIBaseURL        string          `yaml:"api_base_url"`
	ManagerEmail      *string         `yaml:"manager_email"`
	LoginRoute        string          `yaml:"login_route"`
	UnauthorizedRoute string          `yaml:"unauthorized_route"`
	PublicRoutes      []string        `yaml:"public_routes"`
	RequestTimeout    time.Duration   `yaml:"request_timeout"`
	BootstrapWait     time.Duration   `yaml:"bootstrap_wait"`
	RoleCatalogTTL    time.Duration   `yaml:"role_catalog_ttl"`
	CSRFCookiePath    string          `yaml:"csrf_cookie_path"`
	Capabilities      []Capability    `yaml:"capabilities"`
	Database          DatabaseOptions `yaml:"database"`
	Server            ServerOptions   `yaml:"server"`
	Debug             bool            `yaml:"debug"`
}

type DatabaseOptions struct {
	DSN string `yaml:"dsn"`
}

type ServerOptions struct {
	Address        string `yaml:"address"`
	Views          string `yaml:"views"`
	MetricsAddress string `yaml:"metrics_address"`

	// CSRFSecret signs form tokens, a random key is used when empty
	CSRFSecret string `yaml:"csrf_secret"`
}

// CSRFKey derives the form token signing key from the configured secret
func (o Options) CSRFKey() []byte {
	if o.Server.CSRFSecret == "" {
		return nil
	}
	key := sha256.Sum256([]byte(o.Server.CSRFSecret))
	return key[:]
}

// LoadOptions reads a YAML file, an empty path yields defaults
func LoadOptions(path string) (Options, error) {
	opts := Options{}

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return opts, fmt.Errorf("read config %s: %w", path, err)
		}
		if err := yaml.Unmarshal(raw, &opts); err != nil {
			return opts, fmt.Errorf("parse config %s: %w", path, err)
		}
	}

	if v := strings.TrimSpace(os.Getenv(EnvAPIBaseURL)); v != "" {
		opts.APIBaseURL = v
	}

	return opts.WithDefaults(), nil
}

// WithDefaults fills every unset field
func (o Options) WithDefaults() Options {
	if o.APIBaseURL == "" {
		o.APIBaseURL = DefaultAPIBaseURL
	}
	o.APIBaseURL = strings.TrimSuffix(o.APIBaseURL, "/")

	if o.ManagerEmail == nil {
		email := DefaultManagerEmail
		o.ManagerEmail = &email
	}
	if o.LoginRoute == "" {
		o.LoginRoute = DefaultLoginRoute
	}
	if o.UnauthorizedRoute == "" {
		o.UnauthorizedRoute = DefaultUnauthorizedRoute
	}
	if len(o.PublicRoutes) == 0 {
		o.PublicRoutes = slices.Clone(DefaultPublicRoutes)
	}
	if o.RequestTimeout <= 0 {
		o.RequestTimeout = DefaultRequestTimeout
	}
	if o.BootstrapWait < 0 {
		o.BootstrapWait = 0
	} else if o.BootstrapWait == 0 {
		o.BootstrapWait = DefaultBootstrapWait
	}
	if o.RoleCatalogTTL <= 0 {
		o.RoleCatalogTTL = DefaultRoleCatalogTTL
	}
	if o.CSRFCookiePath == "" {
		o.CSRFCookiePath = DefaultCSRFCookiePath
	}
	if o.Database.DSN == "" {
		o.Database.DSN = DefaultDatabaseDSN
	}
	if o.Server.Address == "" {
		o.Server.Address = DefaultServerAddress
	}
	if o.Server.Views == "" {
		o.Server.Views = DefaultViewsDir
	}
	return o
}

func (o Options) GetAPIBaseURL() string { return o.APIBaseURL }

// GetManagerEmail returns the bypass email, empty disables the bypass
func (o Options) GetManagerEmail() string {
	if o.ManagerEmail == nil {
		return DefaultManagerEmail
	}
	return *o.ManagerEmail
}

func (o Options) GetLoginRoute() string            { return o.LoginRoute }
func (o Options) GetUnauthorizedRoute() string     { return o.UnauthorizedRoute }
func (o Options) GetPublicRoutes() []string        { return o.PublicRoutes }
func (o Options) GetRequestTimeout() time.Duration { return o.RequestTimeout }
func (o Options) GetBootstrapWait() time.Duration  { return o.BootstrapWait }
func (o Options) GetRoleCatalogTTL() time.Duration { return o.RoleCatalogTTL }
func (o Options) GetCSRFCookiePath() string        { return o.CSRFCookiePath }
func (o Options) GetCapabilities() []Capability    { return o.Capabilities }

// FindCapability looks up a configured capability by path or name
func (o Options) FindCapability(key string) (Capability, bool) {
	for _, c := range o.Capabilities {
		if c.Path == key || c.Name == key {
			return c, true
		}
	}
	return Capability{}, false
}

// IsPublicRoute reports if target is one of the public routes, query
// strings and trailing slashes are ignored.
func IsPublicRoute(cfg Config, target string) bool {
	if cfg == nil {
		return false
	}

	path := target
	if i := strings.IndexAny(path, "?#"); i >= 0 {
		path = path[:i]
	}
	if len(path) > 1 {
		path = strings.TrimSuffix(path, "/")
	}

	for _, r := range cfg.GetPublicRoutes() {
		if path == r || strings.HasPrefix(path, strings.TrimSuffix(r, "/")+"/") {
			return true
		}
	}
	return false
}
