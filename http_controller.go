package auth

import (
	"errors"
	"fmt"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// RegisterAuthRoutes mounts the public entry routes of the console
func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {

	controller := NewAuthController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).SetName("sign-out.get")
	app.Post(controller.Routes.Logout, controller.LogOut).SetName("sign-out.post")

	app.Get(controller.Routes.PasswordEmail, controller.PasswordEmailShow).
		SetName("pwd-email.get")
	app.Post(controller.Routes.PasswordEmail, controller.PasswordEmailPost).
		SetName("pwd-email.post")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetShow).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Get(controller.Routes.Unauthorized, controller.UnauthorizedShow).
		SetName("unauthorized.get")

	return controller
}

type AuthControllerRoutes struct {
	Home          string
	Login         string
	Logout        string
	PasswordEmail string
	PasswordReset string
	Unauthorized  string
}

type AuthControllerViews struct {
	Login         string
	PasswordEmail string
	PasswordReset string
	Unauthorized  string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Sessions     *SessionManager
	Passwords    PasswordGateway
	Activity     ActivitySink
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithSessionManager sets the session owner, it is required
func WithSessionManager(m *SessionManager) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Sessions = m
		return c
	}
}

// WithPasswordGateway sets the gateway used by the password recovery pages
func WithPasswordGateway(g PasswordGateway) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Passwords = g
		return c
	}
}

// WithControllerConfig takes the public routes from cfg
func WithControllerConfig(cfg Config) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if cfg == nil {
			return c
		}
		c.Routes.Login = cfg.GetLoginRoute()
		c.Routes.Unauthorized = cfg.GetUnauthorizedRoute()
		return c
	}
}

func WithControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Logger = normalizeLogger(logger)
		return c
	}
}

func WithControllerActivitySink(sink ActivitySink) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Activity = normalizeActivitySink(sink)
		return c
	}
}

func WithControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger:       defLogger{},
		Activity:     noopActivitySink{},
		ErrorHandler: defaultErrHandler,
		Routes: &AuthControllerRoutes{
			Home:          "/",
			Login:         DefaultLoginRoute,
			Logout:        "/logout",
			PasswordEmail: "/password/email",
			PasswordReset: "/password/reset",
			Unauthorized:  DefaultUnauthorizedRoute,
		},
		Views: &AuthControllerViews{
			Login:         "login",
			PasswordEmail: "password_email",
			PasswordReset: "password_reset",
			Unauthorized:  "unauthorized",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Sessions == nil {
		panic("Missing SessionManager in auth controller...")
	}

	if c.Passwords == nil {
		if pg, ok := c.Sessions.gateway.(PasswordGateway); ok {
			c.Passwords = pg
		}
	}

	if c.Passwords == nil {
		panic("Missing PasswordGateway in auth controller...")
	}

	return c
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	a.Sessions.Start(ctx.Path())

	if a.Sessions.Snapshot().IsAuthenticated() {
		return ctx.Redirect(a.Routes.Home, router.StatusSeeOther)
	}

	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors":   nil,
		"record":   nil,
		"redirect": ctx.Query("redirect", ""),
	})
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
	Redirect string `form:"redirect" json:"redirect"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(
			&r.Email,
			validation.Required,
			is.Email,
		),
		validation.Field(
			&r.Password,
			validation.Required,
		),
	)
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("login parse payload: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return a.submitLogin(ctx, payload)
}

func (a *AuthController) submitLogin(ctx router.Context, payload *LoginRequest) error {
	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"record":     payload.redacted(),
			"validation": ValidationErrorsToMap(err),
		})
	}

	if a.Debug {
		fmt.Println("======= CONSOLE LOGIN ======")
		fmt.Println(print.MaybePrettyJSON(payload.redacted()))
		fmt.Println("============================")
	}

	if _, err := a.Sessions.Login(ctx.Context(), payload.Email, payload.Password); err != nil {
		return ctx.Render(a.Views.Login, router.ViewContext{
			"errors": map[string]string{
				"authentication": UserMessage(err),
			},
			"record": payload.redacted(),
		})
	}

	return ctx.Redirect(SafeRedirect(payload.Redirect, a.Routes.Home), router.StatusSeeOther)
}

func (r LoginRequest) redacted() LoginRequest {
	r.Password = ""
	return r
}

func (a *AuthController) LogOut(ctx router.Context) error {
	route := a.Sessions.Logout(ctx.Context())
	return ctx.Redirect(route, router.StatusSeeOther)
}

func (a *AuthController) UnauthorizedShow(ctx router.Context) error {
	return ctx.Render(a.Views.Unauthorized, router.ViewContext{
		"user": a.Sessions.Snapshot().User,
	})
}

func (a *AuthController) PasswordEmailShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordEmail, router.ViewContext{
		"errors": nil,
		"record": nil,
	})
}

// PasswordEmailPayload requests a reset link
type PasswordEmailPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordEmailPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.Email),
	)
}

func (a *AuthController) PasswordEmailPost(ctx router.Context) error {
	payload := new(PasswordEmailPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password email parse payload: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return a.requestResetLink(ctx, payload)
}

func (a *AuthController) requestResetLink(ctx router.Context, payload *PasswordEmailPayload) error {
	if err := payload.Validate(); err != nil {
		return ctx.Render(a.Views.PasswordEmail, router.ViewContext{
			"record":     payload,
			"validation": ValidationErrorsToMap(err),
		})
	}

	var res *InitializePasswordResetResponse
	handler := NewInitializePasswordResetHandler(a.Passwords).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	err := handler.Execute(ctx.Context(), InitializePasswordResetMessage{
		Email: payload.Email,
		OnResponse: func(resp *InitializePasswordResetResponse) {
			res = resp
		},
	})
	if err != nil {
		return ctx.Render(a.Views.PasswordEmail, router.ViewContext{
			"record": payload,
			"errors": map[string]string{
				"request": UserMessage(err),
			},
		})
	}

	return ctx.Render(a.Views.PasswordEmail, router.ViewContext{
		"record": payload,
		"status": res.Message,
	})
}

func (a *AuthController) PasswordResetShow(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"errors": nil,
		"record": PasswordResetPayload{
			Token: ctx.Query("token", ""),
			Email: ctx.Query("email", ""),
		},
	})
}

// PasswordResetPayload holds values for password reset
type PasswordResetPayload struct {
	Token                string `form:"token" json:"token"`
	Email                string `form:"email" json:"email"`
	Password             string `form:"password" json:"password"`
	PasswordConfirmation string `form:"password_confirmation" json:"password_confirmation"`
}

func (r PasswordResetPayload) redacted() PasswordResetPayload {
	r.Password = ""
	r.PasswordConfirmation = ""
	return r
}

func (a *AuthController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetPayload)

	if err := ctx.Bind(payload); err != nil {
		a.Logger.Error("password reset parse payload: %v", err)
		return a.ErrorHandler(ctx, err)
	}

	return a.finalizeReset(ctx, payload)
}

func (a *AuthController) finalizeReset(ctx router.Context, payload *PasswordResetPayload) error {
	var message string
	handler := NewFinalizePasswordResetHandler(a.Passwords).
		WithActivitySink(a.Activity).
		WithLogger(a.Logger)

	err := handler.Execute(ctx.Context(), FinalizePasswordResetMessage{
		Token:                payload.Token,
		Email:                payload.Email,
		Password:             payload.Password,
		PasswordConfirmation: payload.PasswordConfirmation,
		OnResponse: func(msg string) {
			message = msg
		},
	})
	if err != nil {
		return ctx.Render(a.Views.PasswordReset, router.ViewContext{
			"record":     payload.redacted(),
			"validation": ValidationErrorsToMap(err),
			"errors": map[string]string{
				"reset": UserMessage(err),
			},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message": message,
	}).Redirect(a.Routes.Login, router.StatusSeeOther)
}

// SafeRedirect only follows local absolute paths
func SafeRedirect(target, fallback string) string {
	target = strings.TrimSpace(target)
	if target == "" || !strings.HasPrefix(target, "/") || strings.HasPrefix(target, "//") || strings.Contains(target, `\`) {
		return fallback
	}
	return target
}

// ValidationErrorsToMap flattens ozzo validation errors into field messages
func ValidationErrorsToMap(err error) map[string]string {
	out := map[string]string{}
	if err == nil {
		return out
	}

	var richErr *goerrors.Error
	if goerrors.As(err, &richErr) {
		for k, v := range richErr.ValidationMap() {
			out[k] = fmt.Sprint(v)
		}
		if len(out) > 0 {
			return out
		}
	}

	var fieldErrs validation.Errors
	if errors.As(err, &fieldErrs) {
		for field, fieldErr := range fieldErrs {
			if fieldErr != nil {
				out[field] = fieldErr.Error()
			}
		}
		return out
	}

	return out
}

// ValidateStringEquals will check that both values match
func ValidateStringEquals(str string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != str {
			return errors.New("values must match")
		}
		return nil
	}
}

func defaultErrHandler(c router.Context, err error) error {
	return c.Render("errors/500", router.ViewContext{
		"message": UserMessage(err),
	})
}
