package identity

import (
	"context"
	"time"

	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-repository-bun"
	"github.com/uptrace/bun"
)

// MaxLoginAttempts is the maximun number of attempts a user gets
// in a period
var MaxLoginAttempts = 5

// CoolDownPeriod is the period in which we enforce a cool down
var CoolDownPeriod = 24 * time.Hour

// UserProvider verifies credentials and tracks login attempts
type UserProvider struct {
	repo   RepositoryManager
	logger Logger
	now    func() time.Time
}

// NewUserProvider will create a new UserProvider
func NewUserProvider(repo RepositoryManager) *UserProvider {
	return &UserProvider{
		repo:   repo,
		logger: defLogger{},
		now:    time.Now,
	}
}

func (u *UserProvider) WithLogger(l Logger) *UserProvider {
	if l != nil {
		u.logger = l
	}
	return u
}

// VerifyCredentials will find the user and compare the password.
// Unknown users and wrong passwords report the same error. Failed
// attempts are committed even though verification fails.
func (u *UserProvider) VerifyCredentials(ctx context.Context, email, password string) (*User, error) {
	var (
		user    *User
		authErr error
	)

	err := u.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		user, err = u.repo.Users().GetByEmailTx(ctx, tx, email)
		if err != nil {
			if repository.IsRecordNotFound(err) {
				authErr = ErrInvalidCredentials.Clone()
				return nil
			}
			return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to retrieve user during verification")
		}

		now := u.now()
		if user.LoginAttemptAt != nil && IsOutsideThresholdPeriod(*user.LoginAttemptAt, now, CoolDownPeriod) {
			user.LoginAttempts = 0
		}

		//if we have too many attempts in the given window, cool off!
		if user.LoginAttempts >= MaxLoginAttempts {
			authErr = ErrTooManyLoginAttempts.Clone()
			return nil
		}

		if err := ComparePasswordAndHash(password, user.PasswordHash); err != nil {
			if err2 := u.repo.Users().TrackAttemptedLoginTx(ctx, tx, user); err2 != nil {
				return goerrors.Wrap(err2, goerrors.CategoryInternal, "failed to track login attempt")
			}
			authErr = ErrInvalidCredentials.Clone()
			return nil
		}

		if !user.Confirmed() {
			authErr = richError(ErrEmailNotConfirmed, map[string]any{"email": user.Email})
			return nil
		}

		if err := u.repo.Users().TrackSuccessfulLoginTx(ctx, tx, user); err != nil {
			u.logger.Error("failed to track successful login", "error", err)
		}

		return nil
	})

	if err != nil {
		return nil, err
	}

	if authErr != nil {
		return nil, authErr
	}

	return user, nil
}

// IsOutsideThresholdPeriod reports whether more than threshold has
// elapsed between t and now.
func IsOutsideThresholdPeriod(t, now time.Time, threshold time.Duration) bool {
	return now.Sub(t) > threshold
}
