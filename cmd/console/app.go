package main

import (
	"context"
	"embed"
	"encoding/json"
	"fmt"
	"io/fs"
	"maps"
	"net/http"
	"os"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	auth "github.com/goliatone/go-console-auth"
	"github.com/goliatone/go-console-auth/activitymap"
	"github.com/goliatone/go-console-auth/gateway"
	"github.com/goliatone/go-console-auth/logging"
	"github.com/goliatone/go-console-auth/middleware/csrf"
	"github.com/goliatone/go-console-auth/repository"
	"github.com/goliatone/go-router"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/uptrace/bun"
)

//go:embed views
var embeddedViews embed.FS

type App struct {
	opts     auth.Options
	logger   *logging.Logger
	db       *bun.DB
	store    auth.CredentialStore
	gateway  *gateway.Client
	sessions *auth.SessionManager
	catalog  *auth.CachedRoleCatalog
	policy   *auth.Policy
	gate     *auth.RouteGate
	registry *prometheus.Registry
	srv      router.Server[*fiber.App]
}

func (a *App) GetLogger(name string) auth.Logger {
	return a.logger.Named(name)
}

func WithPersistence(ctx context.Context, app *App) error {
	db, err := repository.Open(app.opts.Database.DSN)
	if err != nil {
		return err
	}

	creds := repository.NewCredentialRepository(db)
	if err := creds.Migrate(ctx); err != nil {
		_ = db.Close()
		return fmt.Errorf("migrate credentials: %w", err)
	}

	app.db = db
	app.store = creds
	return nil
}

func WithGateway(_ context.Context, app *App) error {
	client, err := gateway.NewFromConfig(app.opts, app.store,
		gateway.WithLogger(app.GetLogger("gateway")),
		gateway.WithDebug(app.opts.Debug),
	)
	if err != nil {
		return err
	}
	app.gateway = client
	return nil
}

func WithSession(_ context.Context, app *App) error {
	app.registry = prometheus.NewRegistry()
	app.registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)

	metrics, err := auth.NewMetricsSink(app.registry)
	if err != nil {
		return err
	}

	activityLog := app.GetLogger("activity")
	sink := auth.MultiSink(metrics, activitymap.Sink(func(n activitymap.Normalized) error {
		raw, err := json.Marshal(n)
		if err != nil {
			return err
		}
		activityLog.Info("%s", raw)
		return nil
	}))

	app.sessions = auth.NewSessionManager(app.gateway, app.store,
		auth.WithSessionConfig(app.opts),
		auth.WithSessionActivitySink(sink),
		auth.WithSessionLogger(app.GetLogger("session")),
	)

	app.catalog = auth.NewCachedRoleCatalog(app.gateway, app.opts.GetRoleCatalogTTL()).
		WithLogger(app.GetLogger("catalog"))

	// a different identity may carry a different catalog view
	app.sessions.Subscribe(func(auth.TransitionContext) {
		app.catalog.Invalidate()
	})

	app.policy = auth.NewPolicy(
		auth.WithPolicyBypass(app.sessions.Bypass()),
		auth.WithPolicyCatalog(app.catalog),
		auth.WithPolicyLogger(app.GetLogger("policy")),
	)

	app.gate = auth.NewRouteGate(app.sessions, app.policy, app.opts).
		WithLogger(app.GetLogger("gate"))

	return nil
}

func newViewEngine(dir string) *django.Engine {
	if info, err := os.Stat(dir); err == nil && info.IsDir() {
		return django.New(dir, ".html")
	}
	sub, err := fs.Sub(embeddedViews, "views")
	if err != nil {
		panic(err)
	}
	return django.NewPathForwardingFileSystem(http.FS(sub), "/", ".html")
}

func WithHTTPServer(_ context.Context, app *App) error {
	engine := newViewEngine(app.opts.Server.Views)
	engine.AddFuncMap(auth.TemplateHelpers(app.policy))
	engine.Reload(app.opts.Debug)

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	r := srv.Router()
	r.Use(sessionLocals(app.sessions))
	r.Use(csrf.New(csrf.Config{
		SecureKey: app.opts.CSRFKey(),
	}))
	csrf.RegisterRoutes(r)

	auth.RegisterAuthRoutes(r,
		auth.WithSessionManager(app.sessions),
		auth.WithPasswordGateway(app.gateway),
		auth.WithControllerConfig(app.opts),
		auth.WithControllerLogger(app.GetLogger("controller")),
		auth.WithControllerDebug(app.opts.Debug),
	)

	app.srv = srv
	CapabilityRoutes(app)
	return nil
}

// CapabilityRoutes mounts one gated page per configured capability
func CapabilityRoutes(app *App) {
	r := app.srv.Router()

	r.Get("/", homePage(app), app.gate.Protect(auth.Requirement{}))

	for _, capability := range app.opts.GetCapabilities() {
		if capability.Path == "" || capability.Path == "/" {
			continue
		}
		r.Get(capability.Path, capabilityPage(app, capability), app.gate.Protect(capability.Requirement))
	}
}

func sessionLocals(sessions *auth.SessionManager) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			ctx.Locals(csrf.SessionLocalsKey, sessions.ID())
			return ctx.Next()
		}
	}
}

func homePage(app *App) router.HandlerFunc {
	return func(ctx router.Context) error {
		return ctx.Render("home", withGlobals(ctx, app, router.ViewContext{
			"title": "Console",
		}))
	}
}

func capabilityPage(app *App, capability auth.Capability) router.HandlerFunc {
	return func(ctx router.Context) error {
		return ctx.Render("capability", withGlobals(ctx, app, router.ViewContext{
			"title":      capability.Title,
			"capability": capability,
		}))
	}
}

func withGlobals(ctx router.Context, app *App, data router.ViewContext) router.ViewContext {
	out := router.ViewContext{}
	maps.Copy(out, auth.TemplateHelpersWithRouter(ctx, app.policy, app.opts.GetCapabilities()))
	maps.Copy(out, data)
	return out
}

func (a *App) Close(ctx context.Context) {
	if a.sessions != nil {
		if err := a.sessions.Close(ctx); err != nil {
			a.logger.Warn("session close: %v", err)
		}
	}
	if a.db != nil {
		_ = a.db.Close()
	}
}
