package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// ResetLinkTTL is how long a password reset link stays valid
var ResetLinkTTL = 24 * time.Hour

type FinalizePasswordResetMessage struct {
	Session  string `json:"session"`
	Password string `json:"password"`
}

func (e FinalizePasswordResetMessage) Type() string { return "password.reset.finalize" }

type FinalizePasswordResetHandler struct {
	repo       RepositoryManager
	activity   portal.ActivitySink
	logger     Logger
	bcryptCost int
	now        func() time.Time
}

// NewFinalizePasswordResetHandler creates a handler with sane defaults.
func NewFinalizePasswordResetHandler(repo RepositoryManager, bcryptCost int) *FinalizePasswordResetHandler {
	return &FinalizePasswordResetHandler{
		repo:       repo,
		logger:     defLogger{},
		bcryptCost: bcryptCost,
		now:        time.Now,
	}
}

// WithActivitySink sets the sink used to emit password reset events.
func (h *FinalizePasswordResetHandler) WithActivitySink(sink portal.ActivitySink) *FinalizePasswordResetHandler {
	h.activity = sink
	return h
}

// WithLogger overrides the logger used by the handler.
func (h *FinalizePasswordResetHandler) WithLogger(logger Logger) *FinalizePasswordResetHandler {
	if logger != nil {
		h.logger = logger
	}
	return h
}

func (h *FinalizePasswordResetHandler) Execute(ctx context.Context, event FinalizePasswordResetMessage) error {
	_, err := h.Finalize(ctx, event)
	return err
}

// Finalize changes the password behind a reset link, marks the link used
// and revokes every session of the user. It returns the reset record.
func (h *FinalizePasswordResetHandler) Finalize(ctx context.Context, event FinalizePasswordResetMessage) (*PasswordReset, error) {
	select {
	case <-ctx.Done():
		return nil, goerrors.Wrap(
			ctx.Err(),
			goerrors.CategoryOperation,
			"context cancelled during password reset finalization",
		)
	default:
		return h.execute(ctx, event)
	}
}

func (h *FinalizePasswordResetHandler) execute(ctx context.Context, event FinalizePasswordResetMessage) (*PasswordReset, error) {
	if _, err := uuid.Parse(event.Session); err != nil {
		return nil, ErrLinkInvalid.Clone()
	}

	var reset *PasswordReset

	ctx, cancel := context.WithTimeout(ctx, time.Second*10)
	defer cancel()

	err := h.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		reset, err = h.repo.PasswordResets().GetByIdentifierTx(ctx, tx, event.Session)
		if err != nil {
			if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
				return ErrLinkInvalid.Clone()
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "could not retrieve password reset request")
		}

		if reset.Status != ResetRequestedStatus {
			return ErrLinkUsed.Clone()
		}

		if reset.CreatedAt == nil {
			return goerrors.New("password reset record is missing creation date", goerrors.CategoryInternal)
		}

		now := h.now().UTC()
		if IsOutsideThresholdPeriod(*reset.CreatedAt, now, ResetLinkTTL) {
			return ErrLinkExpired.Clone()
		}

		passwordHash, err := HashPassword(event.Password, h.bcryptCost)
		if err != nil {
			return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
		}

		if err := h.repo.Users().ResetPasswordTx(ctx, tx, reset.UserID, passwordHash); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update user password in database")
		}

		if _, err := tx.NewUpdate().
			Model((*PasswordReset)(nil)).
			Set("status = ?", ResetChangedStatus).
			Set("reseted_at = ?", now).
			Where("id = ?", reset.ID.String()).
			Exec(ctx); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update password reset status")
		}
		reset.Status = ResetChangedStatus
		reset.ResetedAt = &now

		if _, err := h.repo.Sessions().RevokeAllForUserTx(ctx, tx, reset.UserID, now); err != nil {
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke user sessions")
		}

		return nil
	})

	if err != nil {
		var richErr *goerrors.Error
		if goerrors.As(err, &richErr) {
			return nil, richErr
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to finalize password reset")
	}

	h.recordActivity(ctx, reset)

	return reset, nil
}

func (h *FinalizePasswordResetHandler) recordActivity(ctx context.Context, reset *PasswordReset) {
	if reset == nil || h.activity == nil {
		return
	}

	event := portal.ActivityEvent{
		EventType:   portal.ActivityEventPasswordResetSuccess,
		PrincipalID: reset.UserID.String(),
		Metadata: map[string]any{
			"password_reset_id": reset.ID.String(),
		},
		OccurredAt: h.now(),
	}

	if err := h.activity.Record(ctx, event); err != nil {
		h.logger.Warn("activity sink error during password reset", "error", err)
	}
}
