package auth

import (
	"context"
	"time"

	"github.com/goliatone/go-router"
)

// DecisionKind is what the gate wants done with a navigation attempt
type DecisionKind int

const (
	// DecisionLoading means the session is not resolved yet, it is not a deny
	DecisionLoading DecisionKind = iota
	DecisionRender
	DecisionRedirect
)

func (k DecisionKind) String() string {
	switch k {
	case DecisionRender:
		return "render"
	case DecisionRedirect:
		return "redirect"
	default:
		return "loading"
	}
}

// Decision is the outcome of a RouteGate evaluation
type Decision struct {
	Kind     DecisionKind
	Location string
	User     *User
	Reason   string
}

const (
	ReasonAuthorized      = "authorized"
	ReasonBootstrapping   = "bootstrapping"
	ReasonUnauthenticated = "unauthenticated"
	ReasonForbidden       = "forbidden"
)

// RouteGateViews names the templates the gate renders itself
type RouteGateViews struct {
	Loading string
}

// RouteGate decides per navigation attempt whether to render the
// requested capability, show a loading state or redirect.
type RouteGate struct {
	sessions SessionSource
	policy   *Policy
	cfg      Config
	logger   Logger
	Views    RouteGateViews
}

func NewRouteGate(sessions SessionSource, policy *Policy, cfg Config) *RouteGate {
	if cfg == nil {
		cfg = Options{}.WithDefaults()
	}
	if policy == nil {
		policy = NewPolicy()
	}
	return &RouteGate{
		sessions: sessions,
		policy:   policy,
		cfg:      cfg,
		logger:   defLogger{},
		Views: RouteGateViews{
			Loading: "loading",
		},
	}
}

func (g *RouteGate) WithLogger(logger Logger) *RouteGate {
	g.logger = normalizeLogger(logger)
	return g
}

// Decide evaluates the current session against req. It starts the
// shared bootstrap if needed but never waits for it.
func (g *RouteGate) Decide(ctx context.Context, target string, req Requirement) Decision {
	g.sessions.Start(target)
	return g.decide(ctx, g.sessions.Snapshot(), req)
}

// Await is Decide after waiting up to the configured bootstrap wait for
// the session to resolve.
func (g *RouteGate) Await(ctx context.Context, target string, req Requirement) Decision {
	g.sessions.Start(target)

	if wait := g.cfg.GetBootstrapWait(); wait > 0 {
		wctx, cancel := context.WithTimeout(ctx, wait)
		if err := g.sessions.Wait(wctx); err != nil {
			g.logger.Debug("route gate: bootstrap still pending after %s", wait)
		}
		cancel()
	}

	return g.decide(ctx, g.sessions.Snapshot(), req)
}

func (g *RouteGate) decide(ctx context.Context, snap Snapshot, req Requirement) Decision {
	if snap.Status != SessionReady {
		return Decision{Kind: DecisionLoading, Reason: ReasonBootstrapping}
	}

	if snap.User == nil {
		return Decision{
			Kind:     DecisionRedirect,
			Location: g.cfg.GetLoginRoute(),
			Reason:   ReasonUnauthenticated,
		}
	}

	user := g.policy.Resolve(ctx, snap.User)
	if !g.policy.IsAuthorized(user, req) {
		return Decision{
			Kind:     DecisionRedirect,
			Location: g.cfg.GetUnauthorizedRoute(),
			User:     user,
			Reason:   ReasonForbidden,
		}
	}

	return Decision{Kind: DecisionRender, User: user, Reason: ReasonAuthorized}
}

// Protect guards a route with req. On render the resolved user is made
// available through router locals and the request context.
func (g *RouteGate) Protect(req Requirement) router.MiddlewareFunc {
	return func(hf router.HandlerFunc) router.HandlerFunc {
		return func(ctx router.Context) error {
			decision := g.Await(ctx.Context(), ctx.Path(), req)

			switch decision.Kind {
			case DecisionRender:
				ctx.Locals(UserLocalsKey, decision.User)
				ctx.Locals(TemplateUserKey, decision.User)
				ctx.SetContext(WithContext(ctx.Context(), decision.User))
				return ctx.Next()
			case DecisionRedirect:
				g.logger.Debug("route gate: %s %s -> %s (%s)", ctx.Method(), ctx.Path(), decision.Location, decision.Reason)
				return ctx.Redirect(decision.Location)
			default:
				return ctx.Render(g.Views.Loading, router.ViewContext{
					"target":  ctx.Path(),
					"refresh": int(loadingRefresh / time.Second),
				})
			}
		}
	}
}

const loadingRefresh = time.Second
