package dashboard

import (
	"time"

	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type SubscriptionStatus = string

const (
	SubscriptionActive   SubscriptionStatus = "active"
	SubscriptionCanceled SubscriptionStatus = "canceled"
	SubscriptionPastDue  SubscriptionStatus = "past_due"
)

type ServiceStatus = string

const (
	ServiceActive   ServiceStatus = "active"
	ServicePaused   ServiceStatus = "paused"
	ServiceInactive ServiceStatus = "inactive"
)

type InvoiceStatus = string

const (
	InvoicePaid    InvoiceStatus = "paid"
	InvoicePending InvoiceStatus = "pending"
	InvoiceFailed  InvoiceStatus = "failed"
)

type TicketStatus = string

const (
	TicketOpen       TicketStatus = "open"
	TicketInProgress TicketStatus = "in_progress"
	TicketResolved   TicketStatus = "resolved"
	TicketClosed     TicketStatus = "closed"
)

// TicketStatuses lists every ticket status in workflow order
var TicketStatuses = []TicketStatus{TicketOpen, TicketInProgress, TicketResolved, TicketClosed}

type TicketPriority = string

const (
	PriorityLow    TicketPriority = "low"
	PriorityMedium TicketPriority = "medium"
	PriorityHigh   TicketPriority = "high"
)

// TicketPriorities lists every priority from lowest to highest
var TicketPriorities = []TicketPriority{PriorityLow, PriorityMedium, PriorityHigh}

// Profile is the customer record shown on the profile page and attached to
// support tickets.
type Profile struct {
	bun.BaseModel `bun:"table:profiles,alias:prf"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	Email         string     `bun:"email,notnull" json:"email"`
	FullName      string     `bun:"full_name" json:"full_name"`
	Company       string     `bun:"company" json:"company"`
	Phone         string     `bun:"phone" json:"phone"`
	AvatarURL     string     `bun:"avatar_url" json:"avatar_url"`
	IsAdmin       bool       `bun:"is_admin,notnull" json:"is_admin"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// DisplayName returns the full name, falling back to the e-mail address
func (p *Profile) DisplayName() string {
	if p == nil {
		return ""
	}
	if p.FullName != "" {
		return p.FullName
	}
	return p.Email
}

type Subscription struct {
	bun.BaseModel    `bun:"table:subscriptions,alias:sub"`
	ID               uuid.UUID          `bun:"id,pk,type:uuid" json:"id"`
	UserID           uuid.UUID          `bun:"user_id,notnull,type:uuid" json:"user_id"`
	PlanID           string             `bun:"plan_id,notnull" json:"plan_id"`
	PlanName         string             `bun:"plan_name,notnull" json:"plan_name"`
	Status           SubscriptionStatus `bun:"status,notnull" json:"status"`
	PriceCents       int64              `bun:"price_cents,notnull" json:"price_cents"`
	Interval         string             `bun:"billing_interval,notnull" json:"interval"`
	CurrentPeriodEnd time.Time          `bun:"current_period_end,notnull" json:"current_period_end"`
	CreatedAt        *time.Time         `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
}

type Service struct {
	bun.BaseModel `bun:"table:services,alias:srv"`
	ID            uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID     `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Name          string        `bun:"name,notnull" json:"name"`
	Description   string        `bun:"description" json:"description"`
	Status        ServiceStatus `bun:"status,notnull" json:"status"`
	ServiceType   string        `bun:"service_type,notnull" json:"service_type"`
	UsageLimit    *int          `bun:"usage_limit" json:"usage_limit,omitempty"`
	UsageCurrent  *int          `bun:"usage_current" json:"usage_current,omitempty"`
	UpdatedAt     *time.Time    `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// UsagePercent returns the share of the usage limit consumed, 0 when the
// service is not metered.
func (s Service) UsagePercent() int {
	if s.UsageLimit == nil || s.UsageCurrent == nil || *s.UsageLimit <= 0 {
		return 0
	}
	pct := *s.UsageCurrent * 100 / *s.UsageLimit
	if pct > 100 {
		return 100
	}
	return pct
}

type Invoice struct {
	bun.BaseModel  `bun:"table:invoices,alias:inv"`
	ID             uuid.UUID     `bun:"id,pk,type:uuid" json:"id"`
	UserID         uuid.UUID     `bun:"user_id,notnull,type:uuid" json:"user_id"`
	SubscriptionID uuid.UUID     `bun:"subscription_id,type:uuid" json:"subscription_id"`
	AmountCents    int64         `bun:"amount_cents,notnull" json:"amount_cents"`
	Status         InvoiceStatus `bun:"status,notnull" json:"status"`
	DueDate        time.Time     `bun:"due_date,notnull" json:"due_date"`
	PaidAt         *time.Time    `bun:"paid_at,nullzero" json:"paid_at,omitempty"`
}

// Number is the short reference printed on invoices
func (i Invoice) Number() string {
	return shortID(i.ID, 8)
}

type SupportTicket struct {
	bun.BaseModel `bun:"table:support_tickets,alias:tkt"`
	ID            uuid.UUID      `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID      `bun:"user_id,notnull,type:uuid" json:"user_id"`
	Owner         *Profile       `bun:"rel:belongs-to,join:user_id=id" json:"owner,omitempty"`
	Title         string         `bun:"title,notnull" json:"title"`
	Description   string         `bun:"description,notnull" json:"description"`
	Status        TicketStatus   `bun:"status,notnull" json:"status"`
	Priority      TicketPriority `bun:"priority,notnull" json:"priority"`
	CreatedAt     *time.Time     `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt     *time.Time     `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Number is the short reference shown to customers
func (t SupportTicket) Number() string {
	return shortID(t.ID, 6)
}

func shortID(id uuid.UUID, n int) string {
	s := id.String()
	if len(s) < n {
		return s
	}
	return s[:n]
}
