package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ConfirmationLinkTTL is how long an e-mail confirmation link stays valid
var ConfirmationLinkTTL = 7 * 24 * time.Hour

type ConfirmEmailMessage struct {
	Token string `json:"token"`
}

func (e ConfirmEmailMessage) Type() string { return "user.email.confirm" }

type ConfirmEmailHandler struct {
	repo RepositoryManager
	now  func() time.Time
}

func NewConfirmEmailHandler(repo RepositoryManager) *ConfirmEmailHandler {
	return &ConfirmEmailHandler{
		repo: repo,
		now:  time.Now,
	}
}

func (h *ConfirmEmailHandler) Execute(ctx context.Context, event ConfirmEmailMessage) error {
	_, err := h.Confirm(ctx, event)
	return err
}

// Confirm marks the user behind the link as confirmed and returns the
// confirmation record.
func (h *ConfirmEmailHandler) Confirm(ctx context.Context, event ConfirmEmailMessage) (*EmailConfirmation, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during e-mail confirmation",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *ConfirmEmailHandler) execute(ctx context.Context, event ConfirmEmailMessage) (*EmailConfirmation, error) {
	if _, err := uuid.Parse(event.Token); err != nil {
		return nil, ErrLinkInvalid.Clone()
	}

	var confirmation *EmailConfirmation

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		confirmation, err = h.repo.Confirmations().GetByIdentifierTx(ctx, tx, event.Token)
		if err != nil {
			if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
				return ErrLinkInvalid.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve e-mail confirmation")
		}

		if confirmation.ConfirmedAt != nil {
			return ErrLinkUsed.Clone()
		}

		now := h.now().UTC()
		if confirmation.CreatedAt != nil && IsOutsideThresholdPeriod(*confirmation.CreatedAt, now, ConfirmationLinkTTL) {
			return ErrLinkExpired.Clone()
		}

		if err := h.repo.Users().ConfirmEmailTx(ctx, tx, confirmation.UserID); err != nil && !repository.IsRecordNotFound(err) {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm user e-mail")
		}

		if _, err := tx.NewUpdate().
			Model((*EmailConfirmation)(nil)).
			Set("confirmed_at = ?", now).
			Where("id = ?", confirmation.ID.String()).
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update e-mail confirmation")
		}
		confirmation.ConfirmedAt = &now

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to confirm e-mail")
	}

	return confirmation, nil
}
