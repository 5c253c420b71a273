package identity

import (
	"context"
	"strings"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

var ResetUserPasswordSQL = `UPDATE "users"
SET
	"password_hash" = ?,
	"updated_at" = ?
WHERE
	"id" = ?;`

var ConfirmUserEmailSQL = `UPDATE "users"
SET
	"email_confirmed_at" = ?,
	"updated_at" = ?
WHERE
	"id" = ?
	AND "email_confirmed_at" IS NULL;`

var TrackSuccessfulLoginSQL = `UPDATE "users"
SET
	"last_sign_in_at" = ?,
	"login_attempt_at" = NULL,
	"login_attempts" = 0
WHERE
	"id" = ?;`

var TrackAttemptedLoginSQL = `UPDATE "users"
SET
	"login_attempts" = ?,
	"login_attempt_at" = ?
WHERE
	"id" = ?;`

type Users interface {
	repository.Repository[*User]

	GetByEmail(ctx context.Context, email string) (*User, error)
	GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error)

	TrackAttemptedLogin(ctx context.Context, user *User) error
	TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error
	TrackSuccessfulLogin(ctx context.Context, user *User) error
	TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error

	ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error
	ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error
	ConfirmEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error
}

type users struct {
	repository.Repository[*User]
	db  *bun.DB
	now func() time.Time
}

var (
	_ Users                        = (*users)(nil)
	_ repository.Repository[*User] = (*users)(nil)
)

type UsersOption func(*users)

// WithUsersClock sets the clock used for login and password timestamps
func WithUsersClock(clock func() time.Time) UsersOption {
	return func(u *users) {
		if clock != nil {
			u.now = clock
		}
	}
}

func NewUsersRepository(db *bun.DB, opts ...UsersOption) Users {
	repo := repository.NewRepository(db, repository.ModelHandlers[*User]{
		NewRecord: func() *User { return &User{} },
		GetID: func(u *User) uuid.UUID {
			if u == nil {
				return uuid.Nil
			}
			return u.ID
		},
		SetID: func(u *User, id uuid.UUID) {
			if u != nil {
				u.ID = id
			}
		},
		GetIdentifier: func() string {
			return "email"
		},
	})

	repoUsers := &users{
		Repository: repo,
		db:         db,
		now:        time.Now,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(repoUsers)
		}
	}

	return repoUsers
}

// NormalizeEmail lower cases and trims an e-mail address
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *users) GetByEmail(ctx context.Context, email string) (*User, error) {
	return a.GetByEmailTx(ctx, a.db, email)
}

func (a *users) GetByEmailTx(ctx context.Context, tx bun.IDB, email string) (*User, error) {
	record := &User{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.email = ?", NormalizeEmail(email)).
		Limit(1).
		Scan(ctx)

	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{
					"email": email,
				})
		}
		return nil, err
	}

	return record, nil
}

func (a *users) ResetPassword(ctx context.Context, id uuid.UUID, passwordHash string) error {
	return a.ResetPasswordTx(ctx, a.db, id, passwordHash)
}

func (a *users) ResetPasswordTx(ctx context.Context, tx bun.IDB, id uuid.UUID, passwordHash string) error {
	return a.execOne(ctx, tx, id, ResetUserPasswordSQL, passwordHash, a.now().UTC(), id.String())
}

// ConfirmEmailTx stamps the confirmation time. Confirming an already
// confirmed user reports a not found error.
func (a *users) ConfirmEmailTx(ctx context.Context, tx bun.IDB, id uuid.UUID) error {
	now := a.now().UTC()
	return a.execOne(ctx, tx, id, ConfirmUserEmailSQL, now, now, id.String())
}

func (a *users) TrackSuccessfulLogin(ctx context.Context, user *User) error {
	return a.TrackSuccessfulLoginTx(ctx, a.db, user)
}

func (a *users) TrackSuccessfulLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	// NOTE: the ORM update skips zero values so it would not reset
	// login_attempt_at and login_attempts.
	loggedInAt := a.now().UTC()
	if _, err := tx.NewRaw(TrackSuccessfulLoginSQL, loggedInAt, user.ID.String()).Exec(ctx); err != nil {
		return err
	}

	user.LastSignInAt = &loggedInAt
	user.LoginAttempts = 0
	user.LoginAttemptAt = nil
	return nil
}

func (a *users) TrackAttemptedLogin(ctx context.Context, user *User) error {
	return a.TrackAttemptedLoginTx(ctx, a.db, user)
}

func (a *users) TrackAttemptedLoginTx(ctx context.Context, tx bun.IDB, user *User) error {
	attempts := user.LoginAttempts + 1
	now := a.now().UTC()

	if _, err := tx.NewRaw(TrackAttemptedLoginSQL, attempts, now, user.ID.String()).Exec(ctx); err != nil {
		return err
	}

	user.LoginAttempts = attempts
	user.LoginAttemptAt = &now
	return nil
}

func (a *users) execOne(ctx context.Context, tx bun.IDB, id uuid.UUID, query string, args ...any) error {
	res, err := tx.NewRaw(query, args...).Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{
				"id": id.String(),
			})
	}

	return nil
}
