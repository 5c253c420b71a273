package identity

import (
	"sync"
	"time"

	"github.com/goliatone/go-portal/storage"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// User is the account record holding credentials
type User struct {
	bun.BaseModel    `bun:"table:users,alias:usr"`
	ID               uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	Email            string     `bun:"email,notnull,unique" json:"email,omitempty"`
	PasswordHash     string     `bun:"password_hash,notnull" json:"-"`
	EmailConfirmedAt *time.Time `bun:"email_confirmed_at,nullzero" json:"email_confirmed_at,omitempty"`
	LoginAttempts    int        `bun:"login_attempts" json:"login_attempts,omitempty"`
	LoginAttemptAt   *time.Time `bun:"login_attempt_at,nullzero" json:"login_attempt_at,omitempty"`
	LastSignInAt     *time.Time `bun:"last_sign_in_at,nullzero" json:"last_sign_in_at,omitempty"`
	CreatedAt        *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	UpdatedAt        *time.Time `bun:"updated_at,nullzero,default:current_timestamp" json:"updated_at,omitempty"`
}

// Confirmed reports whether the user confirmed the e-mail address
func (u *User) Confirmed() bool {
	return u != nil && u.EmailConfirmedAt != nil
}

// Profile is the side record keyed by user ID
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

const (
	// ResetRequestedStatus is set when the reset link is sent
	ResetRequestedStatus = "requested"
	// ResetChangedStatus is set once the password was changed
	ResetChangedStatus = "changed"
)

// PasswordReset tracks a password reset link. Its ID is the link token.
type PasswordReset struct {
	bun.BaseModel `bun:"table:password_resets,alias:pwdr"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	Email         string     `bun:"email,notnull" json:"email,omitempty"`
	Status        string     `bun:"status,notnull" json:"status,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	ResetedAt     *time.Time `bun:"reseted_at,nullzero" json:"reseted_at,omitempty"`
}

// EmailConfirmation tracks an e-mail confirmation link. Its ID is the
// link token.
type EmailConfirmation struct {
	bun.BaseModel `bun:"table:email_confirmations,alias:ecf"`
	ID            uuid.UUID  `bun:"id,pk,nullzero,type:uuid" json:"id,omitempty"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id,omitempty"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	ConfirmedAt   *time.Time `bun:"confirmed_at,nullzero" json:"confirmed_at,omitempty"`
}

// DeviceSession is the server side record behind an access token
type DeviceSession struct {
	bun.BaseModel `bun:"table:device_sessions,alias:dss"`
	ID            uuid.UUID  `bun:"id,pk,type:uuid" json:"id"`
	UserID        uuid.UUID  `bun:"user_id,notnull,type:uuid" json:"user_id"`
	DeviceID      string     `bun:"device_id,notnull" json:"device_id"`
	CreatedAt     *time.Time `bun:"created_at,nullzero,default:current_timestamp" json:"created_at,omitempty"`
	ExpiresAt     time.Time  `bun:"expires_at,notnull" json:"expires_at"`
	RefreshedAt   *time.Time `bun:"refreshed_at,nullzero" json:"refreshed_at,omitempty"`
	RevokedAt     *time.Time `bun:"revoked_at,nullzero" json:"revoked_at,omitempty"`
}

// Active reports whether the session can still authenticate requests
func (s *DeviceSession) Active(now time.Time) bool {
	return s != nil && s.RevokedAt == nil && now.Before(s.ExpiresAt)
}

var registerOnce sync.Once

// RegisterModels exposes User to fixtures. Profile rows are loaded through
// the dashboard model that shares the table.
func RegisterModels() {
	registerOnce.Do(func() {
		storage.RegisterModels((*User)(nil))
	})
}
