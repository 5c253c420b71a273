package portal

import (
	"context"

	"github.com/goliatone/go-errors"
	"github.com/goliatone/go-portal/dashboard"
	"github.com/goliatone/go-router"
	"github.com/goliatone/go-router/flash"
	"github.com/google/uuid"
)

// DashboardStore is the customer data consumed by the dashboard pages
type DashboardStore interface {
	Overview(ctx context.Context, userID uuid.UUID) (*dashboard.Overview, error)
	Services(ctx context.Context, userID uuid.UUID) ([]dashboard.Service, error)
	Invoices(ctx context.Context, userID uuid.UUID, limit int) ([]dashboard.Invoice, error)
	ActiveSubscription(ctx context.Context, userID uuid.UUID) (*dashboard.Subscription, error)
	Tickets(ctx context.Context, userID uuid.UUID) ([]dashboard.SupportTicket, error)
	AllTickets(ctx context.Context) ([]dashboard.SupportTicket, error)
	CreateTicket(ctx context.Context, userID uuid.UUID, input dashboard.TicketInput) (*dashboard.SupportTicket, error)
	UpdateTicketStatus(ctx context.Context, id uuid.UUID, status string) (*dashboard.SupportTicket, error)
	Profile(ctx context.Context, userID uuid.UUID) (*dashboard.Profile, error)
	UpdateProfile(ctx context.Context, userID uuid.UUID, input dashboard.ProfileInput) (*dashboard.Profile, error)
}

var _ DashboardStore = (*dashboard.Store)(nil)

type DashboardControllerRoutes struct {
	Landing      string
	Home         string
	Services     string
	Billing      string
	Support      string
	Profile      string
	Password     string
	Help         string
	AdminTickets string
	TicketStatus string
}

type DashboardControllerViews struct {
	Landing      string
	Home         string
	Services     string
	Billing      string
	Support      string
	Profile      string
	AdminTickets string
}

type DashboardController struct {
	Logger       Logger
	Guard        *RouteGuard
	Store        DashboardStore
	Routes       *DashboardControllerRoutes
	Views        *DashboardControllerViews
	ErrorHandler router.ErrorHandler
}

type DashboardControllerOption func(*DashboardController) *DashboardController

func WithDashboardGuard(g *RouteGuard) DashboardControllerOption {
	return func(c *DashboardController) *DashboardController {
		c.Guard = g
		return c
	}
}

func WithDashboardStore(s DashboardStore) DashboardControllerOption {
	return func(c *DashboardController) *DashboardController {
		c.Store = s
		return c
	}
}

func WithDashboardLogger(logger Logger) DashboardControllerOption {
	return func(c *DashboardController) *DashboardController {
		if logger != nil {
			c.Logger = logger
		}
		return c
	}
}

func NewDashboardController(opts ...DashboardControllerOption) *DashboardController {
	c := &DashboardController{
		Logger: defLogger{},
		Routes: &DashboardControllerRoutes{
			Landing:      "/",
			Home:         PathDashboard,
			Services:     PathDashboard + "/services",
			Billing:      PathDashboard + "/billing",
			Support:      PathDashboard + "/support",
			Profile:      PathDashboard + "/profile",
			Password:     PathDashboard + "/profile/password",
			Help:         PathDashboard + "/help",
			AdminTickets: "/admin/support-tickets",
			TicketStatus: "/admin/support-tickets/:id/status",
		},
		Views: &DashboardControllerViews{
			Landing:      "landing",
			Home:         "dashboard/index",
			Services:     "dashboard/services",
			Billing:      "dashboard/billing",
			Support:      "dashboard/support",
			Profile:      "dashboard/profile",
			AdminTickets: "admin/support_tickets",
		},
	}

	for _, opt := range opts {
		c = opt(c)
	}

	if c.Guard == nil {
		panic("missing RouteGuard in dashboard controller")
	}

	if c.Store == nil {
		panic("missing DashboardStore in dashboard controller")
	}

	if c.ErrorHandler == nil {
		c.ErrorHandler = c.Guard.ErrorHandler
	}

	return c
}

// RegisterDashboardRoutes mounts the landing page and every dashboard page
// behind the standard or admin guard.
func RegisterDashboardRoutes[T any](app router.Router[T], opts ...DashboardControllerOption) *DashboardController {
	c := NewDashboardController(opts...)

	standard := c.Guard.Protect(GuardStandard)
	admin := c.Guard.Protect(GuardAdmin)

	app.Get(c.Routes.Landing, c.Landing).SetName("landing.get")

	app.Get(c.Routes.Home, c.Home, standard).SetName("dashboard.get")
	app.Get(c.Routes.Services, c.Services, admin).SetName("dashboard-services.get")
	app.Get(c.Routes.Billing, c.Billing, admin).SetName("dashboard-billing.get")

	app.Get(c.Routes.Support, c.Support, standard).SetName("dashboard-support.get")
	app.Post(c.Routes.Support, c.CreateTicket, standard).SetName("dashboard-support.post")

	app.Get(c.Routes.Profile, c.Profile, standard).SetName("dashboard-profile.get")
	app.Post(c.Routes.Profile, c.UpdateProfile, standard).SetName("dashboard-profile.post")
	app.Post(c.Routes.Password, c.ChangePassword, standard).SetName("dashboard-password.post")

	app.Get(c.Routes.Help, c.Help, standard).SetName("dashboard-help.get")

	app.Get(c.Routes.AdminTickets, c.AdminTickets, admin).SetName("admin-tickets.get")
	app.Post(c.Routes.TicketStatus, c.UpdateTicketStatus, admin).SetName("admin-ticket-status.post")

	return c
}

func (d *DashboardController) Landing(ctx router.Context) error {
	signedIn := false
	if p, ok := GetRouterProvider(ctx); ok {
		signedIn = p.Snapshot().Principal != nil
	}
	return ctx.Render(d.Views.Landing, router.ViewContext{
		"signed_in": signedIn,
	})
}

func (d *DashboardController) Home(ctx router.Context) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	overview, err := d.Store.Overview(ctx.Context(), userID)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	return ctx.Render(d.Views.Home, router.ViewContext{
		"overview": overview,
	})
}

func (d *DashboardController) Services(ctx router.Context) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	services, err := d.Store.Services(ctx.Context(), userID)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	return ctx.Render(d.Views.Services, router.ViewContext{
		"services": services,
	})
}

func (d *DashboardController) Billing(ctx router.Context) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	subscription, err := d.Store.ActiveSubscription(ctx.Context(), userID)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	invoices, err := d.Store.Invoices(ctx.Context(), userID, 0)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	return ctx.Render(d.Views.Billing, router.ViewContext{
		"subscription": subscription,
		"invoices":     invoices,
	})
}

func (d *DashboardController) Support(ctx router.Context) error {
	return d.renderSupport(ctx, dashboard.TicketInput{Priority: dashboard.PriorityMedium}, nil)
}

func (d *DashboardController) renderSupport(ctx router.Context, record dashboard.TicketInput, validation map[string]string) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	tickets, err := d.Store.Tickets(ctx.Context(), userID)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	if validation != nil {
		ctx.Status(errors.CodeBadRequest)
	}

	return ctx.Render(d.Views.Support, router.ViewContext{
		"tickets":    tickets,
		"record":     record,
		"validation": validation,
	})
}

func (d *DashboardController) CreateTicket(ctx router.Context) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro",
			"error_message":  "Utilizador não autenticado",
		}).Redirect(PathLogin, router.StatusSeeOther)
	}

	payload := new(dashboard.TicketInput)
	if err := ctx.Bind(payload); err != nil {
		d.Logger.Error("parse ticket payload", "error", err)
		return d.renderSupport(ctx, dashboard.TicketInput{}, map[string]string{"form": "Failed to parse form"})
	}

	ticket, err := d.Store.CreateTicket(ctx.Context(), userID, *payload)
	if err != nil {
		if errors.IsValidation(err) {
			flash.WithError(ctx, router.ViewContext{
				"system_message": "Erro",
				"error_message":  "Por favor preencha todos os campos",
			})
			return d.renderSupport(ctx, *payload, validationMap(err))
		}
		d.Logger.Error("create ticket failed", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao enviar pedido",
			"error_message":  "Por favor tente novamente mais tarde",
		}).Redirect(d.Routes.Support, router.StatusSeeOther)
	}

	d.Logger.Info("support ticket created", "ticket", ticket.ID.String(), "user", userID.String())

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message":  "Pedido enviado com sucesso",
		"success_message": "Um membro da nossa equipa irá responder em breve",
	}).Redirect(d.Routes.Support, router.StatusSeeOther)
}

func (d *DashboardController) Profile(ctx router.Context) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	profile, err := d.Store.Profile(ctx.Context(), userID)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	return ctx.Render(d.Views.Profile, router.ViewContext{
		"profile": profile,
		"record": dashboard.ProfileInput{
			FullName: profile.FullName,
			Company:  profile.Company,
			Phone:    profile.Phone,
		},
	})
}

func (d *DashboardController) UpdateProfile(ctx router.Context) error {
	userID, err := currentUserID(ctx)
	if err != nil {
		return d.ErrorHandler(ctx, err)
	}

	payload := new(dashboard.ProfileInput)
	if err := ctx.Bind(payload); err != nil {
		d.Logger.Error("parse profile payload", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao atualizar perfil",
			"error_message":  err.Error(),
		}).Redirect(d.Routes.Profile, router.StatusSeeOther)
	}

	if _, err := d.Store.UpdateProfile(ctx.Context(), userID, *payload); err != nil {
		d.Logger.Info("profile update failed", "user", userID.String(), "error", err)

		if errors.IsValidation(err) {
			profile, perr := d.Store.Profile(ctx.Context(), userID)
			if perr != nil {
				return d.ErrorHandler(ctx, perr)
			}
			return flash.WithError(ctx, router.ViewContext{
				"system_message": "Erro ao atualizar perfil",
				"error_message":  ErrorMessage(err),
			}).Status(errors.CodeBadRequest).Render(d.Views.Profile, router.ViewContext{
				"profile":    profile,
				"record":     payload,
				"validation": validationMap(err),
			})
		}

		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao atualizar perfil",
			"error_message":  ErrorMessage(err),
		}).Redirect(d.Routes.Profile, router.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message":  "Perfil atualizado",
		"success_message": "Suas informações de perfil foram atualizadas com sucesso.",
	}).Redirect(d.Routes.Profile, router.StatusSeeOther)
}

// ChangePasswordRequest is the password form on the profile page
type ChangePasswordRequest struct {
	CurrentPassword string `form:"current_password" json:"current_password"`
	NewPassword     string `form:"new_password" json:"new_password"`
	ConfirmPassword string `form:"confirm_password" json:"confirm_password"`
}

func (d *DashboardController) ChangePassword(ctx router.Context) error {
	p, ok := GetRouterProvider(ctx)
	if !ok {
		return d.ErrorHandler(ctx, ErrProviderMissing)
	}

	payload := new(ChangePasswordRequest)
	if err := ctx.Bind(payload); err != nil {
		d.Logger.Error("parse password payload", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao alterar senha",
			"error_message":  err.Error(),
		}).Redirect(d.Routes.Profile, router.StatusSeeOther)
	}

	if payload.ConfirmPassword != payload.NewPassword {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao alterar senha",
			"error_message":  "As senhas não coincidem",
		}).Redirect(d.Routes.Profile, router.StatusSeeOther)
	}

	fb := &RequestFeedback{}
	if err := p.ChangePassword(fb.Bind(ctx.Context()), payload.CurrentPassword, payload.NewPassword); err != nil {
		d.Logger.Info("password change failed", "kind", KindOf(err).String())
		return flash.WithError(ctx, fb.ViewContext()).Redirect(d.Routes.Profile, router.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, fb.ViewContext()).Redirect(d.Routes.Profile, router.StatusSeeOther)
}

func (d *DashboardController) Help(ctx router.Context) error {
	return ctx.Redirect(d.Routes.Support, RedirectStatus(ctx.Method()))
}

func (d *DashboardController) AdminTickets(ctx router.Context) error {
	filter := dashboard.TicketFilter{
		Search:   ctx.Query("q", ""),
		Status:   ctx.Query("status", dashboard.FilterAll),
		Priority: ctx.Query("priority", dashboard.FilterAll),
	}.Normalize()

	tickets, err := d.Store.AllTickets(ctx.Context())
	if err != nil {
		d.Logger.Error("load tickets failed", "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao carregar tickets",
			"error_message":  ErrorMessage(err),
		}).Render(d.Views.AdminTickets, router.ViewContext{
			"filter":  filter,
			"tickets": []dashboard.SupportTicket{},
			"total":   0,
		})
	}

	return ctx.Render(d.Views.AdminTickets, router.ViewContext{
		"filter":  filter,
		"tickets": dashboard.FilterTickets(tickets, filter),
		"total":   len(tickets),
	})
}

// TicketStatusRequest is the admin status form
type TicketStatusRequest struct {
	Status string `form:"status" json:"status"`
}

func (d *DashboardController) UpdateTicketStatus(ctx router.Context) error {
	id, err := uuid.Parse(ctx.Param("id"))
	if err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao atualizar ticket",
			"error_message":  "Ticket inválido",
		}).Redirect(d.Routes.AdminTickets, router.StatusSeeOther)
	}

	payload := new(TicketStatusRequest)
	if err := ctx.Bind(payload); err != nil {
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao atualizar ticket",
			"error_message":  err.Error(),
		}).Redirect(d.Routes.AdminTickets, router.StatusSeeOther)
	}

	if _, err := d.Store.UpdateTicketStatus(ctx.Context(), id, payload.Status); err != nil {
		d.Logger.Info("ticket status update failed", "ticket", id.String(), "error", err)
		return flash.WithError(ctx, router.ViewContext{
			"system_message": "Erro ao atualizar ticket",
			"error_message":  ErrorMessage(err),
		}).Redirect(d.Routes.AdminTickets, router.StatusSeeOther)
	}

	return flash.WithSuccess(ctx, router.ViewContext{
		"system_message":  "Ticket atualizado",
		"success_message": "O status do ticket foi atualizado com sucesso.",
	}).Redirect(d.Routes.AdminTickets, router.StatusSeeOther)
}

// currentUserID returns the ID of the signed in principal. Handlers run
// behind a guard, so a missing principal is an authentication error.
func currentUserID(ctx router.Context) (uuid.UUID, error) {
	p, ok := GetRouterProvider(ctx)
	if !ok {
		return uuid.Nil, ErrProviderMissing
	}

	principal := p.Snapshot().Principal
	if principal == nil {
		return uuid.Nil, NewError(KindUnauthenticated, "authentication required")
	}

	id, err := uuid.Parse(principal.ID)
	if err != nil {
		return uuid.Nil, WrapError(err, KindUnauthenticated, "invalid principal id")
	}
	return id, nil
}
