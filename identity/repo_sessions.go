package identity

import (
	"context"
	"time"

	"github.com/goliatone/go-repository-bun"
	"github.com/google/uuid"
	"github.com/uptrace/bun"
)

// DeviceSessions stores the server side half of issued access tokens
type DeviceSessions interface {
	CreateTx(ctx context.Context, tx bun.IDB, record *DeviceSession) (*DeviceSession, error)
	Get(ctx context.Context, id uuid.UUID) (*DeviceSession, error)
	GetTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*DeviceSession, error)
	Refresh(ctx context.Context, id uuid.UUID, expiresAt, refreshedAt time.Time) error
	Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error)
	RevokeAllForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, at time.Time) (int64, error)
	ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]DeviceSession, error)
}

type deviceSessions struct {
	db *bun.DB
}

func NewDeviceSessions(db *bun.DB) DeviceSessions {
	return &deviceSessions{db: db}
}

func (d *deviceSessions) CreateTx(ctx context.Context, tx bun.IDB, record *DeviceSession) (*DeviceSession, error) {
	if record.ID == uuid.Nil {
		record.ID = uuid.New()
	}
	if _, err := tx.NewInsert().Model(record).Exec(ctx); err != nil {
		return nil, err
	}
	return record, nil
}

func (d *deviceSessions) Get(ctx context.Context, id uuid.UUID) (*DeviceSession, error) {
	return d.GetTx(ctx, d.db, id)
}

func (d *deviceSessions) GetTx(ctx context.Context, tx bun.IDB, id uuid.UUID) (*DeviceSession, error) {
	record := &DeviceSession{}
	err := tx.NewSelect().
		Model(record).
		Where("?TableAlias.id = ?", id.String()).
		Limit(1).
		Scan(ctx)
	if err != nil {
		if repository.IsRecordNotFound(err) {
			return nil, repository.NewRecordNotFound().
				WithMetadata(map[string]any{"session_id": id.String()})
		}
		return nil, err
	}
	return record, nil
}

func (d *deviceSessions) Refresh(ctx context.Context, id uuid.UUID, expiresAt, refreshedAt time.Time) error {
	res, err := d.db.NewUpdate().
		Model((*DeviceSession)(nil)).
		Set("expires_at = ?", expiresAt).
		Set("refreshed_at = ?", refreshedAt).
		Where("id = ?", id.String()).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return err
	}

	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return repository.NewRecordNotFound().
			WithMetadata(map[string]any{"session_id": id.String()})
	}
	return nil
}

// Revoke marks a session revoked. It reports false when the session was
// unknown or already revoked.
func (d *deviceSessions) Revoke(ctx context.Context, id uuid.UUID, at time.Time) (bool, error) {
	res, err := d.db.NewUpdate().
		Model((*DeviceSession)(nil)).
		Set("revoked_at = ?", at).
		Where("id = ?", id.String()).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return false, err
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n > 0, nil
}

func (d *deviceSessions) RevokeAllForUserTx(ctx context.Context, tx bun.IDB, userID uuid.UUID, at time.Time) (int64, error) {
	res, err := tx.NewUpdate().
		Model((*DeviceSession)(nil)).
		Set("revoked_at = ?", at).
		Where("user_id = ?", userID.String()).
		Where("revoked_at IS NULL").
		Exec(ctx)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}

func (d *deviceSessions) ListActive(ctx context.Context, userID uuid.UUID, now time.Time) ([]DeviceSession, error) {
	var out []DeviceSession
	err := d.db.NewSelect().
		Model(&out).
		Where("?TableAlias.user_id = ?", userID.String()).
		Where("?TableAlias.revoked_at IS NULL").
		Where("?TableAlias.expires_at > ?", now).
		OrderExpr("?TableAlias.created_at DESC").
		Scan(ctx)
	if err != nil {
		return nil, err
	}
	return out, nil
}
