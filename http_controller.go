package portal

import (
	"context"
	"fmt"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"
	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-print"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
)

// AccountRecovery completes the flows that start with an e-mailed link
type AccountRecovery interface {
	FinalizePasswordReset(ctx context.Context, token, password string) error
	ConfirmEmail(ctx context.Context, token string) error
}

func RegisterAuthRoutes[T any](app router.Router[T], opts ...AuthControllerOption) *AuthController {
	controller := NewAuthController(opts...)

	app.Get(controller.Routes.Login, controller.LoginShow).
		SetName("sign-in.get")
	app.Post(controller.Routes.Login, controller.LoginPost).
		SetName("sign-in.post")

	app.Get(controller.Routes.Logout, controller.LogOut).
		SetName("sign-out.get")

	app.Get(controller.Routes.SignUp, controller.SignUpShow).
		SetName("sign-up.get")
	app.Post(controller.Routes.SignUp, controller.SignUpPost).
		SetName("sign-up.post")

	app.Get(controller.Routes.PasswordReset, controller.PasswordResetGet).
		SetName("pwd-reset.get")
	app.Post(controller.Routes.PasswordReset, controller.PasswordResetPost).
		SetName("pwd-reset.post")

	app.Get(fmt.Sprintf("%s/:token", controller.Routes.PasswordReset), controller.PasswordResetForm).
		SetName("pwd-reset-do.get")
	app.Post(fmt.Sprintf("%s/:token", controller.Routes.PasswordReset), controller.PasswordResetExecute).
		SetName("pwd-reset-do.post")

	app.Get(fmt.Sprintf("%s/:token", controller.Routes.Confirm), controller.ConfirmEmail).
		SetName("confirm.get")

	return controller
}

type AuthControllerRoutes struct {
	Login         string
	Logout        string
	SignUp        string
	PasswordReset string
	Confirm       string
}

type AuthControllerViews struct {
	Login             string
	SignUp            string
	PasswordReset     string
	PasswordResetForm string
}

type AuthController struct {
	Debug        bool
	Logger       Logger
	Guard        *RouteGuard
	Recovery     AccountRecovery
	Routes       *AuthControllerRoutes
	Views        *AuthControllerViews
	ErrorHandler router.ErrorHandler
}

type AuthControllerOption func(*AuthController) *AuthController

// WithAuthGuard sets the guard used for redirect cookies
func WithAuthGuard(g *RouteGuard) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Guard = g
		return c
	}
}

// WithAccountRecovery sets the service completing e-mailed links
func WithAccountRecovery(r AccountRecovery) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Recovery = r
		return c
	}
}

func WithAuthControllerLogger(logger Logger) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func WithAuthControllerDebug(debug bool) AuthControllerOption {
	return func(c *AuthController) *AuthController {
		c.Debug = debug
		return c
	}
}

func NewAuthController(opts ...AuthControllerOption) *AuthController {
	c := &AuthController{
		Logger: defLogger{},
		Routes: &AuthControllerRoutes{
			Login:         PathLogin,
			Logout:        "/logout",
			SignUp:        "/signup",
			PasswordReset: PathResetPassword,
			Confirm:       "/confirm",
		},
		Views: &AuthControllerViews{
			Login:             "login",
			SignUp:            "signup",
			PasswordReset:     "reset_password",
			PasswordResetForm: "reset_password_form",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Guard == nil {
		panic("missing RouteGuard in auth controller")
	}

	if c.Recovery == nil {
		panic("missing AccountRecovery in auth controller")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Guard.ErrorHandler
	}

	return c
}

// provider returns the device provider for auth handlers, acquiring one
// when the request arrived without a device cookie.
func (a *AuthController) provider(ctx router.Context) (*Provider, error) {
	return a.Guard.Attach(ctx)
}

// LoginRequest payload
type LoginRequest struct {
	Email    string `form:"email" json:"email"`
	Password string `form:"password" json:"password"`
}

// Validate will run validation rules
func (r LoginRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.RuneLength(MinPasswordLength, 0)),
	)
}

func (a *AuthController) LoginShow(ctx router.Context) error {
	if p, ok := GetRouterProvider(ctx); ok && p.Snapshot().Principal != nil {
		return ctx.Redirect(PathDashboard, RedirectStatus(ctx.Method()))
	}
	return ctx.Render(a.Views.Login, router.ViewContext{
		"errors": nil,
		"record": LoginRequest{},
	})
}

func (a *AuthController) LoginPost(ctx router.Context) error {
	payload := new(LoginRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.badForm(ctx, a.Views.Login, payload, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidForm(ctx, a.Views.Login, payload, err)
	}

	if a.Debug {
		a.Logger.Debug("login attempt", "email", payload.Email)
	}

	p, err := a.provider(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	fb := &RequestFeedback{}
	if err := p.SignIn(fb.Bind(ctx.Context()), payload.Email, payload.Password); err != nil {
		a.Logger.Info("login failed", "email", payload.Email, "kind", KindOf(err).String())
		return flash.WithError(ctx, fb.ViewContext()).
			Status(statusOf(err)).
			Render(a.Views.Login, router.ViewContext{
				"record": LoginRequest{Email: payload.Email},
				"errors": map[string]string{"authentication": ErrorMessage(err)},
			})
	}

	dest := fb.Location()
	if dest == "" || dest == PathDashboard {
		dest = a.Guard.GetRedirect(ctx, PathDashboard)
	}

	return flash.WithSuccess(ctx, fb.ViewContext()).Redirect(dest, router.StatusSeeOther)
}

func (a *AuthController) LogOut(ctx router.Context) error {
	p, ok := GetRouterProvider(ctx)
	if !ok {
		a.Guard.ClearSession(ctx)
		return ctx.Redirect(PathLogin, router.StatusSeeOther)
	}

	fb := &RequestFeedback{}
	if err := p.SignOut(fb.Bind(ctx.Context())); err != nil {
		a.Logger.Error("logout failed", "error", err)
		return flash.WithError(ctx, fb.ViewContext()).Redirect(PathDashboard, router.StatusSeeOther)
	}

	dest := fb.Location()
	if dest == "" {
		dest = PathLogin
	}
	return flash.WithSuccess(ctx, fb.ViewContext()).Redirect(dest, router.StatusSeeOther)
}

// SignUpRequest is the registration form payload
type SignUpRequest struct {
	Email           string `form:"email" json:"email"`
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r SignUpRequest) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, validation.RuneLength(3, 254), is.EmailFormat),
		validation.Field(&r.Password, validation.Required, validation.RuneLength(MinPasswordLength, 0)),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(matches(r.Password))),
	)
}

func (a *AuthController) SignUpShow(ctx router.Context) error {
	if p, ok := GetRouterProvider(ctx); ok && p.Snapshot().Principal != nil {
		return ctx.Redirect(PathDashboard, RedirectStatus(ctx.Method()))
	}
	return ctx.Render(a.Views.SignUp, router.ViewContext{
		"errors": map[string]string{},
		"record": SignUpRequest{},
	})
}

func (a *AuthController) SignUpPost(ctx router.Context) error {
	payload := new(SignUpRequest)

	if err := ctx.Bind(payload); err != nil {
		return a.badForm(ctx, a.Views.SignUp, payload, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidForm(ctx, a.Views.SignUp, SignUpRequest{Email: payload.Email}, err)
	}

	p, err := a.provider(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	fb := &RequestFeedback{}
	if err := p.SignUp(fb.Bind(ctx.Context()), payload.Email, payload.Password); err != nil {
		a.Logger.Info("sign up failed", "email", payload.Email, "kind", KindOf(err).String())
		return flash.WithError(ctx, fb.ViewContext()).
			Status(statusOf(err)).
			Render(a.Views.SignUp, router.ViewContext{
				"record": SignUpRequest{Email: payload.Email},
				"errors": map[string]string{"registration": ErrorMessage(err)},
			})
	}

	return flash.WithSuccess(ctx, fb.ViewContext()).Redirect(a.Routes.Login, router.StatusSeeOther)
}

const (
	stageKey     = "stage"
	ResetInit    = "init"
	ResetSent    = "sent"
	ResetExecute = "execute"
)

func (a *AuthController) PasswordResetGet(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordReset, router.ViewContext{
		"errors": nil,
		"reset": map[string]string{
			stageKey: ResetInit,
		},
	})
}

// PasswordResetRequestPayload holds values for password reset
type PasswordResetRequestPayload struct {
	Email string `form:"email" json:"email"`
}

// Validate will validate the payload
func (r PasswordResetRequestPayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Email, validation.Required, is.EmailFormat),
	)
}

func (a *AuthController) PasswordResetPost(ctx router.Context) error {
	payload := new(PasswordResetRequestPayload)

	if err := ctx.Bind(payload); err != nil {
		return a.badForm(ctx, a.Views.PasswordReset, payload, err)
	}

	if err := payload.Validate(); err != nil {
		return a.invalidForm(ctx, a.Views.PasswordReset, payload, err)
	}

	p, err := a.provider(ctx)
	if err != nil {
		return a.ErrorHandler(ctx, err)
	}

	fb := &RequestFeedback{}
	if err := p.ResetPassword(fb.Bind(ctx.Context()), payload.Email); err != nil {
		a.Logger.Error("password reset request failed", "error", err)
		return flash.WithError(ctx, fb.ViewContext()).
			Status(statusOf(err)).
			Render(a.Views.PasswordReset, router.ViewContext{
				"record": payload,
				"reset":  map[string]string{stageKey: ResetInit},
				"errors": map[string]string{"reset": ErrorMessage(err)},
			})
	}

	return flash.WithSuccess(ctx, fb.ViewContext()).Render(a.Views.PasswordReset, router.ViewContext{
		"record": payload,
		"reset":  map[string]string{stageKey: ResetSent},
	})
}

func (a *AuthController) PasswordResetForm(ctx router.Context) error {
	return ctx.Render(a.Views.PasswordResetForm, router.ViewContext{
		"errors": nil,
		"reset": map[string]string{
			stageKey: ResetExecute,
			"token":  ctx.Param("token"),
		},
	})
}

// PasswordResetExecutePayload holds the new password
type PasswordResetExecutePayload struct {
	Password        string `form:"password" json:"password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

// Validate will validate the payload
func (r PasswordResetExecutePayload) Validate() error {
	return validation.ValidateStruct(&r,
		validation.Field(&r.Password, validation.Required, validation.RuneLength(MinPasswordLength, 0)),
		validation.Field(&r.ConfirmPassword, validation.Required, validation.By(matches(r.Password))),
	)
}

func (a *AuthController) PasswordResetExecute(ctx router.Context) error {
	token := ctx.Param("token")
	payload := new(PasswordResetExecutePayload)
	reset := map[string]string{stageKey: ResetExecute, "token": token}

	if err := ctx.Bind(payload); err != nil {
		return a.badForm(ctx, a.Views.PasswordResetForm, router.ViewContext{"reset": reset}, err)
	}

	if err := payload.Validate(); err != nil {
		a.Logger.Info("password reset payload invalid", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  err.Error(),
			"system_message": "Erro ao redefinir senha",
		}).Status(errors.CodeBadRequest).Render(a.Views.PasswordResetForm, router.ViewContext{
			"reset":      reset,
			"validation": validationMap(err),
		})
	}

	if err := a.Recovery.FinalizePasswordReset(ctx.Context(), token, payload.Password); err != nil {
		a.Logger.Error("password reset finalize failed", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  ErrorMessage(err),
			"system_message": "Erro ao redefinir senha",
		}).Status(statusOf(err)).Render(a.Views.PasswordResetForm, router.ViewContext{
			"reset":  reset,
			"errors": map[string]string{"reset": ErrorMessage(err)},
		})
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message":  "Senha redefinida",
		"success_message": "Faça login com a sua nova senha.",
	}).Redirect(a.Routes.Login, router.StatusSeeOther)
}

func (a *AuthController) ConfirmEmail(ctx router.Context) error {
	if err := a.Recovery.ConfirmEmail(ctx.Context(), ctx.Param("token")); err != nil {
		a.Logger.Info("email confirmation failed", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"error_message":  ErrorMessage(err),
			"system_message": "Erro ao confirmar e-mail",
		}).Redirect(a.Routes.Login, router.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message":  "E-mail confirmado",
		"success_message": "Já pode fazer login.",
	}).Redirect(a.Routes.Login, router.StatusSeeOther)
}

func (a *AuthController) badForm(ctx router.Context, view string, record any, err error) error {
	a.Logger.Error("parse form payload", "error", err)
	return flash.WithError(ctx, router.ViewContext{
		"error_message":  err.Error(),
		"system_message": "Error parsing body",
	}).Status(errors.CodeBadRequest).Render(view, router.ViewContext{
		"errors": map[string]string{"form": "Failed to parse form"},
		"record": record,
	})
}

func (a *AuthController) invalidForm(ctx router.Context, view string, record any, err error) error {
	if a.Debug {
		a.Logger.Debug("form validation failed", "details", print.MaybePrettyJSON(validationMap(err)))
	}
	return flash.WithError(ctx, router.ViewContext{
		"error_message":  err.Error(),
		"system_message": "Error validating payload",
	}).Status(errors.CodeBadRequest).Render(view, router.ViewContext{
		"record":     record,
		"validation": validationMap(err),
	})
}

func matches(other string) validation.RuleFunc {
	return func(value any) error {
		s, _ := value.(string)
		if s != other {
			return validation.NewError("validation_not_matching", "must match password")
		}
		return nil
	}
}

func validationMap(err error) map[string]string {
	if err == nil {
		return nil
	}

	var richErr *errors.Error
	if errors.As(err, &richErr) {
		if m := richErr.ValidationMap(); len(m) > 0 {
			return m
		}
	}

	var verrs validation.Errors
	if errors.As(err, &verrs) {
		out := make(map[string]string, len(verrs))
		for field, ferr := range verrs {
			out[field] = ferr.Error()
		}
		return out
	}

	return map[string]string{"form": err.Error()}
}

func statusOf(err error) int {
	var richErr *errors.Error
	if errors.As(err, &richErr) && richErr.Code >= 400 {
		return richErr.Code
	}
	return errors.CodeInternal
}
