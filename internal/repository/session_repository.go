package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/observability"
)

var ErrSessionNotFound = errors.New("session not found")

type SessionRepository interface {
	Upsert(ctx context.Context, s *domain.Session) (created bool, err error)
	FindByID(ctx context.Context, id string) (*domain.Session, error)
	FindActiveByDevice(ctx context.Context, userID uint, fingerprint string) (*domain.Session, error)
	ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error)
	Touch(ctx context.Context, id string, at time.Time) error
	Extend(ctx context.Context, id string, until time.Time) error
	Terminate(ctx context.Context, id string, reason domain.EndReason) (bool, error)
	TerminateAllForUser(ctx context.Context, userID uint, exceptID string, reason domain.EndReason) (int64, error)
	CleanupExpired(ctx context.Context, retention time.Duration) (int64, error)
}

type GormSessionRepository struct{ db *gorm.DB }

func NewSessionRepository(db *gorm.DB) SessionRepository { return &GormSessionRepository{db: db} }

// Upsert enforces at-most-one-active-session-per-device with plain
// find-then-update-or-create. A concurrent login from the same device can
// briefly produce a duplicate row; the cleanup job reconciles it, and token
// identity is carried by the session id inside the signed token, so the race
// is benign.
func (r *GormSessionRepository) Upsert(ctx context.Context, s *domain.Session) (bool, error) {
	var existing domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_fingerprint = ? AND is_active = ?", s.UserID, s.DeviceFingerprint, true).
		First(&existing).Error
	if err != nil {
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "upsert", "error")
			return false, err
		}
		if err := r.db.WithContext(ctx).Create(s).Error; err != nil {
			observability.RecordRepositoryOperation(ctx, "session", "upsert", "error")
			return false, err
		}
		observability.RecordRepositoryOperation(ctx, "session", "upsert", "created")
		return true, nil
	}

	updates := map[string]any{
		"ip_address":    s.IPAddress,
		"user_agent":    s.UserAgent,
		"last_activity": s.LastActivity,
		"expires_at":    s.ExpiresAt,
	}
	if err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ?", existing.ID).
		Updates(updates).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "upsert", "error")
		return false, err
	}
	s.ID = existing.ID
	s.CreatedAt = existing.CreatedAt
	observability.RecordRepositoryOperation(ctx, "session", "upsert", "updated")
	return false, nil
}

func (r *GormSessionRepository) FindByID(ctx context.Context, id string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_by_id", "success")
	return &s, nil
}

func (r *GormSessionRepository) FindActiveByDevice(ctx context.Context, userID uint, fingerprint string) (*domain.Session, error) {
	var s domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND device_fingerprint = ? AND is_active = ?", userID, fingerprint, true).
		First(&s).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "session", "find_active_by_device", "not_found")
			return nil, ErrSessionNotFound
		}
		observability.RecordRepositoryOperation(ctx, "session", "find_active_by_device", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "find_active_by_device", "success")
	return &s, nil
}

func (r *GormSessionRepository) ListActiveByUserID(ctx context.Context, userID uint) ([]domain.Session, error) {
	var sessions []domain.Session
	err := r.db.WithContext(ctx).
		Where("user_id = ? AND is_active = ? AND expires_at > ?", userID, true, time.Now()).
		Order("last_activity DESC").
		Find(&sessions).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "error")
		return sessions, err
	}
	observability.RecordRepositoryOperation(ctx, "session", "list_active_by_user_id", "success")
	return sessions, nil
}

func (r *GormSessionRepository) Touch(ctx context.Context, id string, at time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		UpdateColumn("last_activity", at).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "touch", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "touch", "success")
	return nil
}

func (r *GormSessionRepository) Extend(ctx context.Context, id string, until time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"expires_at": until, "last_activity": time.Now().UTC()}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "session", "extend", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "session", "extend", "success")
	return nil
}

// Terminate closes a session. Closed sessions are terminal: the is_active
// guard means a second call is a no-op and the original end reason survives.
func (r *GormSessionRepository) Terminate(ctx context.Context, id string, reason domain.EndReason) (bool, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("id = ? AND is_active = ?", id, true).
		Updates(map[string]any{"is_active": false, "end_reason": reason, "ended_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "terminate", "error")
		return false, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "terminate", "success")
	return res.RowsAffected > 0, nil
}

func (r *GormSessionRepository) TerminateAllForUser(ctx context.Context, userID uint, exceptID string, reason domain.EndReason) (int64, error) {
	now := time.Now().UTC()
	q := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("user_id = ? AND is_active = ?", userID, true)
	if exceptID != "" {
		q = q.Where("id <> ?", exceptID)
	}
	res := q.Updates(map[string]any{"is_active": false, "end_reason": reason, "ended_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "terminate_all_for_user", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "terminate_all_for_user", "success")
	return res.RowsAffected, nil
}

// CleanupExpired marks overdue active sessions as expired and deletes closed
// rows older than the retention horizon.
func (r *GormSessionRepository) CleanupExpired(ctx context.Context, retention time.Duration) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.Session{}).
		Where("is_active = ? AND expires_at <= ?", true, now).
		Updates(map[string]any{"is_active": false, "end_reason": domain.EndReasonExpired, "ended_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	expired := res.RowsAffected

	del := r.db.WithContext(ctx).
		Where("is_active = ? AND ended_at IS NOT NULL AND ended_at <= ?", false, now.Add(-retention)).
		Delete(&domain.Session{})
	if del.Error != nil {
		observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "error")
		return expired, del.Error
	}
	observability.RecordRepositoryOperation(ctx, "session", "cleanup_expired", "success")
	return expired + del.RowsAffected, nil
}
