package repository

import (
	"context"
	"errors"
	"time"

	"gorm.io/gorm"

	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/observability"
)

var ErrTokenRecordNotFound = errors.New("token record not found")

type TokenRepository interface {
	Create(ctx context.Context, rec *domain.TokenRecord) error
	FindByHash(ctx context.Context, hash string) (*domain.TokenRecord, error)
	RevokeByHash(ctx context.Context, hash string) error
	RevokeBySessionID(ctx context.Context, sessionID string) (int64, error)
	RevokeByUserID(ctx context.Context, userID uint) (int64, error)
	CleanupExpired(ctx context.Context) (int64, error)
}

type GormTokenRepository struct{ db *gorm.DB }

func NewTokenRepository(db *gorm.DB) TokenRepository { return &GormTokenRepository{db: db} }

func (r *GormTokenRepository) Create(ctx context.Context, rec *domain.TokenRecord) error {
	err := r.db.WithContext(ctx).Create(rec).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "create", "success")
	return nil
}

func (r *GormTokenRepository) FindByHash(ctx context.Context, hash string) (*domain.TokenRecord, error) {
	var rec domain.TokenRecord
	err := r.db.WithContext(ctx).Where("token_hash = ?", hash).First(&rec).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "token", "find_by_hash", "not_found")
			return nil, ErrTokenRecordNotFound
		}
		observability.RecordRepositoryOperation(ctx, "token", "find_by_hash", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "token", "find_by_hash", "success")
	return &rec, nil
}

func (r *GormTokenRepository) RevokeByHash(ctx context.Context, hash string) error {
	now := time.Now().UTC()
	err := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("token_hash = ? AND is_revoked = ?", hash, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "token", "revoke_by_hash", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "token", "revoke_by_hash", "success")
	return nil
}

func (r *GormTokenRepository) RevokeBySessionID(ctx context.Context, sessionID string) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("session_id = ? AND is_revoked = ?", sessionID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token", "revoke_by_session_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "token", "revoke_by_session_id", "success")
	return res.RowsAffected, nil
}

func (r *GormTokenRepository) RevokeByUserID(ctx context.Context, userID uint) (int64, error) {
	now := time.Now().UTC()
	res := r.db.WithContext(ctx).Model(&domain.TokenRecord{}).
		Where("user_id = ? AND is_revoked = ?", userID, false).
		Updates(map[string]any{"is_revoked": true, "revoked_at": now})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token", "revoke_by_user_id", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "token", "revoke_by_user_id", "success")
	return res.RowsAffected, nil
}

func (r *GormTokenRepository) CleanupExpired(ctx context.Context) (int64, error) {
	res := r.db.WithContext(ctx).
		Where("expires_at <= ?", time.Now()).
		Delete(&domain.TokenRecord{})
	if res.Error != nil {
		observability.RecordRepositoryOperation(ctx, "token", "cleanup_expired", "error")
		return res.RowsAffected, res.Error
	}
	observability.RecordRepositoryOperation(ctx, "token", "cleanup_expired", "success")
	return res.RowsAffected, nil
}
