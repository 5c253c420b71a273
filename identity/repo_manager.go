package identity

import (
	"context"
	"database/sql"
	"errors"
	"log"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// RepositoryManager exposes all repositories
type RepositoryManager interface {
	repository.Validator
	repository.TransactionManager
	Users() Users
	Profiles() repository.Repository[*Profile]
	PasswordResets() repository.Repository[*PasswordReset]
	Confirmations() repository.Repository[*EmailConfirmation]
	Sessions() DeviceSessions
}

func NewProfilesRepository(db *bun.DB) repository.Repository[*Profile] {
	return repository.NewRepository(db, repository.ModelHandlers[*Profile]{
		NewRecord: func() *Profile { return &Profile{} },
		GetID: func(record *Profile) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *Profile, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "email"
		},
	})
}

// NewPasswordResetsRepository looks records up by ID, which doubles as
// the link token.
func NewPasswordResetsRepository(db *bun.DB) repository.Repository[*PasswordReset] {
	return repository.NewRepository(db, repository.ModelHandlers[*PasswordReset]{
		NewRecord: func() *PasswordReset { return &PasswordReset{} },
		GetID: func(record *PasswordReset) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *PasswordReset, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
}

func NewConfirmationsRepository(db *bun.DB) repository.Repository[*EmailConfirmation] {
	return repository.NewRepository(db, repository.ModelHandlers[*EmailConfirmation]{
		NewRecord: func() *EmailConfirmation { return &EmailConfirmation{} },
		GetID: func(record *EmailConfirmation) uuid.UUID {
			if record == nil {
				return uuid.Nil
			}
			return record.ID
		},
		SetID: func(record *EmailConfirmation, id uuid.UUID) {
			record.ID = id
		},
		GetIdentifier: func() string {
			return "id"
		},
	})
}

type mngr struct {
	db             *bun.DB
	users          Users
	profiles       repository.Repository[*Profile]
	passwordResets repository.Repository[*PasswordReset]
	confirmations  repository.Repository[*EmailConfirmation]
	sessions       DeviceSessions
}

// ManagerOption customizes the repository manager
type ManagerOption func(*managerOptions)

type managerOptions struct {
	now func() time.Time
}

// WithManagerClock sets the clock used for timestamps written in raw SQL
func WithManagerClock(clock func() time.Time) ManagerOption {
	return func(o *managerOptions) {
		if clock != nil {
			o.now = clock
		}
	}
}

func NewRepositoryManager(db *bun.DB, opts ...ManagerOption) RepositoryManager {
	o := &managerOptions{now: time.Now}
	for _, opt := range opts {
		if opt != nil {
			opt(o)
		}
	}

	return &mngr{
		db:             db,
		users:          NewUsersRepository(db, WithUsersClock(o.now)),
		profiles:       NewProfilesRepository(db),
		passwordResets: NewPasswordResetsRepository(db),
		confirmations:  NewConfirmationsRepository(db),
		sessions:       NewDeviceSessions(db),
	}
}

func (m mngr) Validate() error {
	if m.db == nil {
		return errors.New("database should be initialized")
	}

	if m.users == nil {
		return errors.New("repository users should be initialized")
	}

	if m.profiles == nil {
		return errors.New("repository profiles should be initialized")
	}

	if m.passwordResets == nil {
		return errors.New("repository passwordResets should be initialized")
	}

	if m.confirmations == nil {
		return errors.New("repository confirmations should be initialized")
	}

	if m.sessions == nil {
		return errors.New("repository sessions should be initialized")
	}

	return nil
}

func (m mngr) MustValidate() {
	if err := m.Validate(); err != nil {
		log.Panic(err)
	}
}

func (m mngr) RunInTx(ctx context.Context, opts *sql.TxOptions, f func(ctx context.Context, tx bun.Tx) error) error {
	select {
	case <-ctx.Done():
		return ctx.Err()
	default:
		return m.db.RunInTx(ctx, opts, f)
	}
}

func (m mngr) Users() Users {
	return m.users
}

func (m mngr) Profiles() repository.Repository[*Profile] {
	return m.profiles
}

func (m mngr) PasswordResets() repository.Repository[*PasswordReset] {
	return m.passwordResets
}

func (m mngr) Confirmations() repository.Repository[*EmailConfirmation] {
	return m.confirmations
}

func (m mngr) Sessions() DeviceSessions {
	return m.sessions
}
