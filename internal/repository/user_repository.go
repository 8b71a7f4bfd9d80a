package repository

import (
	"context"
	"errors"
	"strings"
	"time"

	"gorm.io/gorm"

	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/observability"
)

var ErrUserNotFound = errors.New("user not found")

type UserRepository interface {
	FindByID(ctx context.Context, id uint) (*domain.User, error)
	FindByEmail(ctx context.Context, email string) (*domain.User, error)
	Create(ctx context.Context, user *domain.User) error
	RecordFailedAttempt(ctx context.Context, userID uint) (int, error)
	SetLock(ctx context.Context, userID uint, until time.Time) error
	ClearLock(ctx context.Context, userID uint) error
	BumpTokenVersion(ctx context.Context, userID uint) error
	TokenVersion(ctx context.Context, userID uint) (int, error)
}

type GormUserRepository struct{ db *gorm.DB }

func NewUserRepository(db *gorm.DB) UserRepository { return &GormUserRepository{db: db} }

func (r *GormUserRepository) FindByID(ctx context.Context, id uint) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).First(&u, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_id", "success")
	return &u, nil
}

func (r *GormUserRepository) FindByEmail(ctx context.Context, email string) (*domain.User, error) {
	var u domain.User
	err := r.db.WithContext(ctx).Where("email = ?", NormalizeEmail(email)).First(&u).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "not_found")
			return nil, ErrUserNotFound
		}
		observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "error")
		return nil, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "find_by_email", "success")
	return &u, nil
}

func (r *GormUserRepository) Create(ctx context.Context, user *domain.User) error {
	user.Email = NormalizeEmail(user.Email)
	err := r.db.WithContext(ctx).Create(user).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "create", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "create", "success")
	return nil
}

// RecordFailedAttempt increments the attempt counter and returns the new
// value so the caller can decide whether the lockout threshold was crossed.
func (r *GormUserRepository) RecordFailedAttempt(ctx context.Context, userID uint) (int, error) {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		UpdateColumn("login_attempts", gorm.Expr("login_attempts + 1")).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "record_failed_attempt", "error")
		return 0, err
	}
	var attempts int
	if err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Pluck("login_attempts", &attempts).Error; err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "record_failed_attempt", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "record_failed_attempt", "success")
	return attempts, nil
}

func (r *GormUserRepository) SetLock(ctx context.Context, userID uint, until time.Time) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"lock_until": until}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "set_lock", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "set_lock", "success")
	return nil
}

// ClearLock resets both the lock and the attempt counter. Successful auth and
// explicit unlock are the only callers.
func (r *GormUserRepository) ClearLock(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Updates(map[string]any{"lock_until": nil, "login_attempts": 0}).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "clear_lock", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "clear_lock", "success")
	return nil
}

// BumpTokenVersion invalidates every outstanding token for the user. The
// counter only ever increases.
func (r *GormUserRepository) BumpTokenVersion(ctx context.Context, userID uint) error {
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		UpdateColumn("token_version", gorm.Expr("token_version + 1")).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "bump_token_version", "error")
		return err
	}
	observability.RecordRepositoryOperation(ctx, "user", "bump_token_version", "success")
	return nil
}

func (r *GormUserRepository) TokenVersion(ctx context.Context, userID uint) (int, error) {
	var version int
	err := r.db.WithContext(ctx).Model(&domain.User{}).
		Where("id = ?", userID).
		Pluck("token_version", &version).Error
	if err != nil {
		observability.RecordRepositoryOperation(ctx, "user", "token_version", "error")
		return 0, err
	}
	observability.RecordRepositoryOperation(ctx, "user", "token_version", "success")
	return version, nil
}

func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
