package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/goliatone/hashid/pkg/hashid"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type RegisterUserMessage struct {
	Email     string `json:"email"`
	Password  string `json:"password"`
	FullName  string `json:"full_name"`
	UseHashid bool
}

func (e RegisterUserMessage) Type() string { return "user.register" }

// RegisterUserResult carries the records created by a registration
type RegisterUserResult struct {
	User         *User
	Profile      *Profile
	Confirmation *EmailConfirmation
}

type RegisterUserHandler struct {
	repo       RepositoryManager
	bcryptCost int
	now        func() time.Time
}

func NewRegisterUserHandler(repo RepositoryManager, bcryptCost int) *RegisterUserHandler {
	return &RegisterUserHandler{
		repo:       repo,
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

func (h *RegisterUserHandler) Execute(ctx context.Context, event RegisterUserMessage) error {
	_, err := h.Register(ctx, event)
	return err
}

// Register creates the user, its profile and a pending e-mail
// confirmation in a single transaction.
func (h *RegisterUserHandler) Register(ctx context.Context, event RegisterUserMessage) (*RegisterUserResult, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during user registration",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *RegisterUserHandler) execute(ctx context.Context, event RegisterUserMessage) (*RegisterUserResult, error) {
	out := &RegisterUserResult{}
	email := NormalizeEmail(event.Email)

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		existing, err := h.repo.Users().GetByEmailTx(ctx, tx, email)
		if err == nil && existing != nil {
			return richError(ErrEmailAlreadyRegistered, map[string]any{"email": email})
		}
		if err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
		}

		hash, err := HashPassword(event.Password, h.bcryptCost)
		if err != nil {
			var richErr *goerrors.Error
			if goerrors.As(err, &richErr) {
				return goerrors.Wrap(richErr, goerrors.CategoryValidation, "invalid password provided")
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to hash password")
		}

		now := h.now().UTC()
		user := &User{
			Email:        email,
			PasswordHash: hash,
			CreatedAt:    &now,
			UpdatedAt:    &now,
		}
		if event.UseHashid {
			if id, err := hashid.NewUUID(email); err == nil {
				user.ID = id
			}
		}
		if user.ID == uuid.Nil {
			user.ID = uuid.New()
		}

		if user, err = h.repo.Users().CreateTx(ctx, tx, user); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryConflict, "could not create user")
		}

		profile := &Profile{
			ID:        user.ID,
			Email:     email,
			FullName:  strings.TrimSpace(event.FullName),
			CreatedAt: &now,
			UpdatedAt: &now,
		}
		if profile, err = h.repo.Profiles().CreateTx(ctx, tx, profile); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create profile")
		}

		confirmation := &EmailConfirmation{
			ID:        uuid.New(),
			UserID:    user.ID,
			CreatedAt: &now,
		}
		if confirmation, err = h.repo.Confirmations().CreateTx(ctx, tx, confirmation); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not create e-mail confirmation")
		}

		out.User = user
		out.Profile = profile
		out.Confirmation = confirmation
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}

		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "user registration transaction failed")
	}

	return out, nil
}
