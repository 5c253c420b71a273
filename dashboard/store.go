package dashboard

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
	"golang.org/x/sync/errgroup"
)

var (
	ErrTicketNotFound = goerrors.New("support ticket not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithTextCode("TICKET_NOT_FOUND")

	ErrProfileNotFound = goerrors.New("profile not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithTextCode("PROFILE_NOT_FOUND")
)

// RecentInvoices is the number of invoices shown on the overview
const RecentInvoices = 5

// Store reads and writes the customer data shown on the dashboard
type Store struct {
	db       *bun.DB
	tickets  repository.Repository[*SupportTicket]
	profiles repository.Repository[*Profile]
	now      func() time.Time
}

type StoreOption func(*Store)

// WithStoreClock injects a custom clock (useful for tests).
func WithStoreClock(clock func() time.Time) StoreOption {
	return func(s *Store) {
		if clock != nil {
			s.now = clock
		}
	}
}

func NewStore(db *bun.DB, opts ...StoreOption) *Store {
	s := &Store{
		db:       db,
		tickets:  newTicketsRepository(db),
		profiles: newProfilesRepository(db),
		now:      time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}
	return s
}

func newTicketsRepository(db *bun.DB) repository.Repository[*SupportTicket] {
	return repository.NewRepository(db, repository.ModelHandlers[*SupportTicket]{
		NewRecord: func() *SupportTicket { return &SupportTicket{} },
		GetID: func(t *SupportTicket) uuid.UUID {
			if t == nil {
				return uuid.Nil
			}
			return t.ID
		},
		SetID: func(t *SupportTicket, id uuid.UUID) {
			if t != nil {
				t.ID = id
			}
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
}

func newProfilesRepository(db *bun.DB) repository.Repository[*Profile] {
	return repository.NewRepository(db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(p *Profile) uuid.UUID {
			if p == nil {
				return uuid.Nil
			}
			return p.ID
		},
		SetID: func(p *Profile, id uuid.UUID) {
			if p != nil {
				p.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

// Overview is everything the dashboard home page shows
type Overview struct {
	Subscription   *Subscription   `json:"subscription,omitempty"`
	Services       []Service       `json:"services"`
	Invoices       []Invoice       `json:"invoices"`
	Tickets        []SupportTicket `json:"tickets"`
	ActiveServices int             `json:"active_services"`
}

// Overview loads the dashboard sections concurrently
func (s *Store) Overview(ctx context.Context, userID uuid.UUID) (*Overview, error) {
	out := &Overview{}
	g, gctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		sub, err := s.ActiveSubscription(gctx, userID)
		out.Subscription = sub
		return err
	})
	g.Go(func() error {
		services, err := s.Services(gctx, userID)
		out.Services = services
		return err
	})
	g.Go(func() error {
		invoices, err := s.Invoices(gctx, userID, RecentInvoices)
		out.Invoices = invoices
		return err
	})
	g.Go(func() error {
		tickets, err := s.Tickets(gctx, userID)
		out.Tickets = tickets
		return err
	})

	if err := g.Wait(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load dashboard overview").
			WithMetadata(map[string]any{"user_id": userID.String()})
	}

	for _, srv := range out.Services {
		if srv.Status == ServiceActive {
			out.ActiveServices++
		}
	}

	return out, nil
}

// ActiveSubscription returns the latest subscription of the user, nil when
// the user has none.
func (s *Store) ActiveSubscription(ctx context.Context, userID uuid.UUID) (*Subscription, error) {
	sub := &Subscription{}
	err := s.db.NewSelect().
		Model(sub).
		Where("?TableAlias.user_id = ?", userID).
		Order("sub.created_at DESC").
		Limit(1).
		Scan(ctx)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return sub, nil
}

func (s *Store) Services(ctx context.Context, userID uuid.UUID) ([]Service, error) {
	services := []Service{}
	err := s.db.NewSelect().
		Model(&services).
		Where("?TableAlias.user_id = ?", userID).
		Order("srv.name ASC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return services, nil
}

// Invoices returns the most recent invoices first. A limit of zero returns
// every invoice.
func (s *Store) Invoices(ctx context.Context, userID uuid.UUID, limit int) ([]Invoice, error) {
	invoices := []Invoice{}
	q := s.db.NewSelect().
		Model(&invoices).
		Where("?TableAlias.user_id = ?", userID).
		Order("inv.due_date DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Scan(ctx); err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return invoices, nil
}

// Tickets returns the user's tickets, newest first
func (s *Store) Tickets(ctx context.Context, userID uuid.UUID) ([]SupportTicket, error) {
	tickets := []SupportTicket{}
	err := s.db.NewSelect().
		Model(&tickets).
		Where("?TableAlias.user_id = ?", userID).
		Order("tkt.created_at DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return tickets, nil
}

// AllTickets returns every ticket with its owner profile, newest first
func (s *Store) AllTickets(ctx context.Context) ([]SupportTicket, error) {
	tickets := []SupportTicket{}
	err := s.db.NewSelect().
		Model(&tickets).
		Relation("Owner").
		Order("tkt.created_at DESC").
		Scan(ctx)
	if err != nil && !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}
	return tickets, nil
}

// TicketInput is the support form payload
type TicketInput struct {
	Title       string `form:"title" json:"title"`
	Description string `form:"description" json:"description"`
	Priority    string `form:"priority" json:"priority"`
}

func (i TicketInput) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&i,
			validation.Field(&i.Title, validation.Required, validation.RuneLength(1, 200)),
			validation.Field(&i.Description, validation.Required, validation.RuneLength(1, 5000)),
			validation.Field(&i.Priority, validation.In(PriorityLow, PriorityMedium, PriorityHigh)),
		)
	}, "Por favor preencha todos os campos"); err != nil {
		return err
	}
	return nil
}

// CreateTicket opens a ticket for the user. Priority defaults to medium.
func (s *Store) CreateTicket(ctx context.Context, userID uuid.UUID, input TicketInput) (*SupportTicket, error) {
	input.Title = strings.TrimSpace(input.Title)
	input.Description = strings.TrimSpace(input.Description)
	if err := input.Validate(); err != nil {
		return nil, err
	}

	priority := input.Priority
	if priority == "" {
		priority = PriorityMedium
	}

	now := s.now()
	ticket := &SupportTicket{
		ID:          uuid.New(),
		UserID:      userID,
		Title:       input.Title,
		Description: input.Description,
		Status:      TicketOpen,
		Priority:    priority,
		CreatedAt:   &now,
		UpdatedAt:   &now,
	}

	created, err := s.tickets.Create(ctx, ticket)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not create support ticket")
	}
	return created, nil
}

// UpdateTicketStatus sets the status of a ticket and stamps updated_at
func (s *Store) UpdateTicketStatus(ctx context.Context, id uuid.UUID, status string) (*SupportTicket, error) {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.Validate(status, validation.Required, validation.In(TicketOpen, TicketInProgress, TicketResolved, TicketClosed))
	}, "invalid ticket status"); err != nil {
		return nil, err
	}

	res, err := s.db.NewUpdate().
		Model((*SupportTicket)(nil)).
		Set("status = ?", status).
		Set("updated_at = ?", s.now()).
		Where("id = ?", id).
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not update support ticket")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrTicketNotFound.Clone().WithMetadata(map[string]any{"id": id.String()})
	}

	ticket, err := s.tickets.GetByID(ctx, id.String())
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not load support ticket")
	}
	return ticket, nil
}

// Profile returns the profile of the user
func (s *Store) Profile(ctx context.Context, userID uuid.UUID) (*Profile, error) {
	profile, err := s.profiles.GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrProfileNotFound.Clone().WithMetadata(map[string]any{"id": userID.String()})
		}
		return nil, err
	}
	return profile, nil
}

// ProfileInput is the profile form payload
type ProfileInput struct {
	FullName string `form:"full_name" json:"full_name"`
	Company  string `form:"company" json:"company"`
	Phone    string `form:"phone" json:"phone"`
}

func (i ProfileInput) Validate() error {
	if err := goerrors.ValidateWithOzzo(func() error {
		return validation.ValidateStruct(&i,
			validation.Field(&i.FullName,
				validation.Required,
				validation.RuneLength(3, 200).Error("Nome deve ter pelo menos 3 caracteres"),
			),
			validation.Field(&i.Company, validation.RuneLength(0, 200)),
			validation.Field(&i.Phone, validation.RuneLength(0, 50)),
		)
	}, "Erro ao atualizar perfil"); err != nil {
		return err
	}
	return nil
}

// UpdateProfile stores the editable profile fields
func (s *Store) UpdateProfile(ctx context.Context, userID uuid.UUID, input ProfileInput) (*Profile, error) {
	input.FullName = strings.TrimSpace(input.FullName)
	input.Company = strings.TrimSpace(input.Company)
	input.Phone = strings.TrimSpace(input.Phone)
	if err := input.Validate(); err != nil {
		return nil, err
	}

	res, err := s.db.NewUpdate().
		Model((*Profile)(nil)).
		Set("full_name = ?", input.FullName).
		Set("company = ?", input.Company).
		Set("phone = ?", input.Phone).
		Set("updated_at = ?", s.now()).
		Where("id = ?", userID).
		Exec(ctx)
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "could not update profile")
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return nil, ErrProfileNotFound.Clone().WithMetadata(map[string]any{"id": userID.String()})
	}

	return s.Profile(ctx, userID)
}
