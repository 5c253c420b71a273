package identity

import (
	"context"
	"strings"
	"time"

	goerrors "github.com/goliatone/go-errors"
	portal "github.com/goliatone/go-portal"
	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

const (
	DefaultSessionTTL = time.Hour
	DefaultIssuer     = "go-portal"
)

// Config tunes the identity service
type Config struct {
	SigningKey  []byte
	Issuer      string
	Audience    []string
	SessionTTL  time.Duration
	BcryptCost  int
	SiteURL     string
	AutoConfirm bool
	UseHashid   bool
}

func (c Config) withDefaults() Config {
	if c.Issuer == "" {
		c.Issuer = DefaultIssuer
	}
	if c.SessionTTL <= 0 {
		c.SessionTTL = DefaultSessionTTL
	}
	if c.BcryptCost == 0 {
		c.BcryptCost = DefaultBcryptCost
	}
	c.SiteURL = strings.TrimRight(c.SiteURL, "/")
	return c
}

// Option customizes the service
type Option func(*Service)

func WithLogger(l Logger) Option {
	return func(s *Service) {
		if l != nil {
			s.logger = l
		}
	}
}

func WithMailer(m Mailer) Option {
	return func(s *Service) {
		if m != nil {
			s.mailer = m
		}
	}
}

func WithBus(b Bus) Option {
	return func(s *Service) {
		if b != nil {
			s.bus = b
		}
	}
}

func WithActivitySink(sink portal.ActivitySink) Option {
	return func(s *Service) {
		s.activity = sink
	}
}

// WithClock injects a custom clock (useful for tests).
func WithClock(clock func() time.Time) Option {
	return func(s *Service) {
		if clock != nil {
			s.now = clock
		}
	}
}

// Service is the local identity backend. It owns users, device sessions
// and account links, and hands out one Client per device.
type Service struct {
	cfg      Config
	repo     RepositoryManager
	tokens   *TokenService
	users    *UserProvider
	mailer   Mailer
	bus      Bus
	activity portal.ActivitySink
	logger   Logger
	now      func() time.Time

	register *RegisterUserHandler
	resetReq *InitializePasswordResetHandler
	resetFin *FinalizePasswordResetHandler
	confirm  *ConfirmEmailHandler
}

var _ portal.AccountRecovery = (*Service)(nil)

func NewService(db *bun.DB, cfg Config, opts ...Option) (*Service, error) {
	cfg = cfg.withDefaults()
	if len(cfg.SigningKey) == 0 {
		return nil, goerrors.New("identity signing key is required", goerrors.CategoryValidation).
			WithCode(goerrors.CodeBadRequest).
			WithTextCode("SIGNING_KEY_MISSING")
	}

	s := &Service{
		cfg:    cfg,
		mailer: LogMailer{},
		bus:    NewMemoryBus(),
		logger: defLogger{},
		now:    time.Now,
	}

	for _, opt := range opts {
		if opt != nil {
			opt(s)
		}
	}

	repo := NewRepositoryManager(db, WithManagerClock(s.now))
	if err := repo.Validate(); err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "invalid repository manager")
	}
	s.repo = repo

	s.tokens = NewTokenService(cfg.SigningKey, cfg.Issuer, cfg.Audience, s.logger)
	s.tokens.now = s.now
	s.users = NewUserProvider(repo).WithLogger(s.logger)
	s.users.now = s.now

	s.register = NewRegisterUserHandler(repo, cfg.BcryptCost)
	s.register.now = s.now
	s.resetReq = NewInitializePasswordResetHandler(repo)
	s.resetReq.now = s.now
	s.resetFin = NewFinalizePasswordResetHandler(repo, cfg.BcryptCost).
		WithActivitySink(s.activity).
		WithLogger(s.logger)
	s.resetFin.now = s.now
	s.confirm = NewConfirmEmailHandler(repo)
	s.confirm.now = s.now

	if m, ok := s.mailer.(LogMailer); ok && m.Logger == nil {
		s.mailer = LogMailer{Logger: s.logger}
	}

	return s, nil
}

// Bus returns the event bus clients subscribe to
func (s *Service) Bus() Bus {
	return s.bus
}

// Repositories exposes the repository manager
func (s *Service) Repositories() RepositoryManager {
	return s.repo
}

// SignUp registers the account and mails a confirmation link. With
// AutoConfirm the account is confirmed right away.
func (s *Service) SignUp(ctx context.Context, email, password string) error {
	res, err := s.register.Register(ctx, RegisterUserMessage{
		Email:     email,
		Password:  password,
		UseHashid: s.cfg.UseHashid,
	})
	if err != nil {
		return err
	}

	if s.cfg.AutoConfirm {
		_, err := s.confirm.Confirm(ctx, ConfirmEmailMessage{Token: res.Confirmation.ID.String()})
		return err
	}

	link := s.cfg.SiteURL + "/confirm/" + res.Confirmation.ID.String()
	if err := s.mailer.Send(ctx, Message{
		To:      res.User.Email,
		Subject: "Confirme o seu e-mail",
		Body:    "Clique no link para confirmar a sua conta: " + link,
		Link:    link,
	}); err != nil {
		s.logger.Error("failed to send confirmation e-mail", "email", res.User.Email, "error", err)
	}
	return nil
}

// SignIn verifies the credentials and opens a device session
func (s *Service) SignIn(ctx context.Context, deviceID, email, password string) (*portal.Session, error) {
	user, err := s.users.VerifyCredentials(ctx, email, password)
	if err != nil {
		return nil, err
	}

	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.SessionTTL)

	record := &DeviceSession{
		ID:        uuid.New(),
		UserID:    user.ID,
		DeviceID:  deviceID,
		CreatedAt: &now,
		ExpiresAt: expiresAt,
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		_, err := s.repo.Sessions().CreateTx(ctx, tx, record)
		return err
	})
	if err != nil {
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to create device session")
	}

	token, err := s.tokens.Generate(user.ID, user.Email, record.ID, now, expiresAt)
	if err != nil {
		return nil, err
	}

	s.publish(ctx, Event{
		Kind:      portal.EventSignedIn,
		UserID:    user.ID.String(),
		SessionID: record.ID.String(),
		Origin:    deviceID,
	})

	return &portal.Session{
		AccessToken: token,
		Principal: portal.Principal{
			ID:    user.ID.String(),
			Email: user.Email,
		},
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// ResolveSession validates a token against its device session row
func (s *Service) ResolveSession(ctx context.Context, token string) (*portal.Session, *Claims, error) {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil, nil, err
	}

	sid, _ := claims.SID()
	record, err := s.repo.Sessions().Get(ctx, sid)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, nil, ErrSessionNotFound.Clone()
		}
		return nil, nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load device session")
	}

	if !record.Active(s.now().UTC()) {
		return nil, nil, ErrSessionNotFound.Clone()
	}

	return &portal.Session{
		AccessToken: token,
		Principal: portal.Principal{
			ID:    claims.Subject,
			Email: claims.Email,
		},
		IssuedAt:  claims.IssuedAt.Time,
		ExpiresAt: record.ExpiresAt,
	}, claims, nil
}

// Refresh extends the device session behind token and returns a new
// token for the same session.
func (s *Service) Refresh(ctx context.Context, token string) (*portal.Session, error) {
	_, claims, err := s.ResolveSession(ctx, token)
	if err != nil {
		return nil, err
	}

	userID, _ := claims.UserID()
	sid, _ := claims.SID()

	now := s.now().UTC()
	expiresAt := now.Add(s.cfg.SessionTTL)
	if err := s.repo.Sessions().Refresh(ctx, sid, expiresAt, now); err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, ErrSessionNotFound.Clone()
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to refresh device session")
	}

	next, err := s.tokens.Generate(userID, claims.Email, sid, now, expiresAt)
	if err != nil {
		return nil, err
	}

	return &portal.Session{
		AccessToken: next,
		Principal: portal.Principal{
			ID:    userID.String(),
			Email: claims.Email,
		},
		IssuedAt:  now,
		ExpiresAt: expiresAt,
	}, nil
}

// SignOut revokes the session behind token. Tokens that no longer
// resolve are treated as already signed out.
func (s *Service) SignOut(ctx context.Context, token, deviceID string) error {
	claims, err := s.tokens.Validate(token)
	if err != nil {
		return nil
	}

	sid, _ := claims.SID()
	revoked, err := s.repo.Sessions().Revoke(ctx, sid, s.now().UTC())
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke device session")
	}

	if revoked {
		s.publish(ctx, Event{
			Kind:      portal.EventSignedOut,
			UserID:    claims.Subject,
			SessionID: sid.String(),
			Origin:    deviceID,
		})
	}
	return nil
}

// SignOutEverywhere revokes every session of the user
func (s *Service) SignOutEverywhere(ctx context.Context, userID uuid.UUID) (int64, error) {
	var n int64
	err := s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		var err error
		n, err = s.repo.Sessions().RevokeAllForUserTx(ctx, tx, userID, s.now().UTC())
		return err
	})
	if err != nil {
		return 0, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to revoke user sessions")
	}

	s.publish(ctx, Event{
		Kind:   portal.EventSignedOut,
		UserID: userID.String(),
	})
	return n, nil
}

// RequestPasswordReset mails a reset link rooted at returnURL. Unknown
// addresses succeed silently.
func (s *Service) RequestPasswordReset(ctx context.Context, email, returnURL string) error {
	reset, err := s.resetReq.Initialize(ctx, InitializePasswordResetMessage{Email: email})
	if err != nil {
		return err
	}
	if reset == nil {
		s.logger.Debug("password reset requested for unknown e-mail")
		return nil
	}

	if returnURL == "" {
		returnURL = s.cfg.SiteURL + portal.PathResetPassword
	}
	link := strings.TrimRight(returnURL, "/") + "/" + reset.ID.String()

	if err := s.mailer.Send(ctx, Message{
		To:      reset.Email,
		Subject: "Redefinição de senha",
		Body:    "Clique no link para redefinir a sua senha: " + link,
		Link:    link,
	}); err != nil {
		return goerrors.Wrap(err, goerrors.CategoryExternal, "failed to send password reset e-mail")
	}
	return nil
}

// FinalizePasswordReset sets the new password and signs the user out of
// every device.
func (s *Service) FinalizePasswordReset(ctx context.Context, token, password string) error {
	reset, err := s.resetFin.Finalize(ctx, FinalizePasswordResetMessage{
		Session:  token,
		Password: password,
	})
	if err != nil {
		return err
	}

	s.publish(ctx, Event{
		Kind:   portal.EventSignedOut,
		UserID: reset.UserID.String(),
	})
	return nil
}

// ConfirmEmail confirms the account behind the link
func (s *Service) ConfirmEmail(ctx context.Context, token string) error {
	confirmation, err := s.confirm.Confirm(ctx, ConfirmEmailMessage{Token: token})
	if err != nil {
		return err
	}

	if s.activity != nil {
		if err := s.activity.Record(ctx, portal.ActivityEvent{
			EventType:   portal.ActivityEventEmailConfirmed,
			PrincipalID: confirmation.UserID.String(),
			OccurredAt:  s.now(),
		}); err != nil {
			s.logger.Warn("activity sink error during e-mail confirmation", "error", err)
		}
	}
	return nil
}

// GetProfile returns the profile of the user, nil when there is none
func (s *Service) GetProfile(ctx context.Context, id string) (*portal.Profile, error) {
	if _, err := uuid.Parse(id); err != nil {
		return nil, nil
	}

	record, err := s.repo.Profiles().GetByID(ctx, id)
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return nil, nil
		}
		return nil, goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load profile")
	}

	return &portal.Profile{
		ID:      record.ID.String(),
		IsAdmin: record.IsAdmin,
	}, nil
}

// UpdatePassword changes the password after checking the current one
func (s *Service) UpdatePassword(ctx context.Context, userID uuid.UUID, current, next string) error {
	user, err := s.repo.Users().GetByID(ctx, userID.String())
	if err != nil {
		if repository.IsRecordNotFound(err) || goerrors.IsNotFound(err) {
			return ErrSessionNotFound.Clone()
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	if err := ComparePasswordAndHash(current, user.PasswordHash); err != nil {
		return ErrCurrentPasswordMismatch.Clone()
	}

	hash, err := HashPassword(next, s.cfg.BcryptCost)
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryValidation, "invalid new password provided")
	}

	return s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		return s.repo.Users().ResetPasswordTx(ctx, tx, userID, hash)
	})
}

// SetAdmin grants or revokes the administrator flag. Live clients of the
// user re-resolve their admin status.
func (s *Service) SetAdmin(ctx context.Context, email string, admin bool) error {
	user, err := s.repo.Users().GetByEmail(ctx, email)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return goerrors.New("user not found", goerrors.CategoryNotFound).
				WithCode(goerrors.CodeNotFound).
				WithTextCode("USER_NOT_FOUND").
				WithMetadata(map[string]any{"email": email})
		}
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to load user")
	}

	err = s.repo.RunInTx(ctx, nil, func(ctx context.Context, tx bun.Tx) error {
		res, err := tx.NewUpdate().
			Model((*Profile)(nil)).
			Set("is_admin = ?", admin).
			Set("updated_at = ?", s.now().UTC()).
			Where("id = ?", user.ID.String()).
			Exec(ctx)
		if err != nil {
			return err
		}
		if n, err := res.RowsAffected(); err == nil && n == 0 {
			return repository.NewRecordNotFound().
				WithMetadata(map[string]any{"profile_id": user.ID.String()})
		}
		return nil
	})
	if err != nil {
		return goerrors.Wrap(err, goerrors.CategoryInternal, "failed to update administrator flag")
	}

	if s.activity != nil {
		if err := s.activity.Record(ctx, portal.ActivityEvent{
			EventType:   portal.ActivityEventRoleChanged,
			PrincipalID: user.ID.String(),
			Metadata:    map[string]any{"is_admin": admin},
			OccurredAt:  s.now(),
		}); err != nil {
			s.logger.Warn("activity sink error during role change", "error", err)
		}
	}

	s.publish(ctx, Event{
		Kind:   portal.EventUserUpdated,
		UserID: user.ID.String(),
	})
	return nil
}

func (s *Service) publish(ctx context.Context, evt Event) {
	if evt.OccurredAt.IsZero() {
		evt.OccurredAt = s.now().UTC()
	}
	if err := s.bus.Publish(ctx, evt); err != nil {
		s.logger.Warn("failed to publish identity event", "kind", evt.Kind, "error", err)
	}
}
