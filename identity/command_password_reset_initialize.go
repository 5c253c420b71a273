package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

type InitializePasswordResetMessage struct {
	Email string `json:"email"`
}

func (e InitializePasswordResetMessage) Type() string { return "password.reset.initialize" }

type InitializePasswordResetHandler struct {
	repo RepositoryManager
	now  func() time.Time
}

func NewInitializePasswordResetHandler(repo RepositoryManager) *InitializePasswordResetHandler {
	return &InitializePasswordResetHandler{
		repo: repo,
		now:  time.Now,
	}
}

func (h *InitializePasswordResetHandler) Execute(ctx context.Context, event InitializePasswordResetMessage) error {
	_, err := h.Initialize(ctx, event)
	return err
}

// Initialize records a reset request. Unknown e-mail addresses return a
// nil reset and no error so callers do not leak which accounts exist.
func (h *InitializePasswordResetHandler) Initialize(ctx context.Context, event InitializePasswordResetMessage) (*PasswordReset, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset request",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *InitializePasswordResetHandler) execute(ctx context.Context, event InitializePasswordResetMessage) (*PasswordReset, error) {
	var reset *PasswordReset

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		user, err := h.repo.Users().GetByEmailTx(ctx, tx, event.Email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to look up user")
		}

		now := h.now().UTC()
		record := &PasswordReset{
			ID:        uuid.New(),
			UserID:    user.ID,
			Email:     user.Email,
			Status:    ResetRequestedStatus,
			CreatedAt: &now,
		}

		if reset, err = h.repo.PasswordResets().CreateTx(ctx, tx, record); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create password reset")
		}
		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to initialize password reset")
	}

	return reset, nil
}
