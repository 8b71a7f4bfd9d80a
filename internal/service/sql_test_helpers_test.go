package service

import (
	"context"
	"fmt"
	"testing"

	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open sqlite: %v", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.TokenRecord{}); err != nil {
		t.Fatalf("migrate: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := db.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return db
}

func createTestUser(t *testing.T, users repository.UserRepository, email, password string) *domain.User {
	t.Helper()
	hash, err := security.HashPassword(password, 4)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &domain.User{
		Email:        email,
		PasswordHash: hash,
		Role:         domain.RoleSupport,
		IsActive:     true,
	}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func testDevice() DeviceInfo {
	return DeviceInfo{
		Fingerprint: "fp-test-device",
		UserAgent:   "test-agent",
		IPAddress:   "198.51.100.4",
	}
}

func newTestJWTManager() *security.JWTManager {
	return security.NewJWTManager(
		"deskrelay-test",
		"deskrelay-api",
		"access-secret-0123456789abcdef0123456789abcdef",
		"refresh-secret-0123456789abcdef0123456789abcdef",
	)
}

const testPepper = "test-pepper"

func mustIssue(t *testing.T, svc *TokenService, user *domain.User, opts IssueOptions) *TokenPair {
	t.Helper()
	pair, err := svc.Issue(context.Background(), user, opts)
	if err != nil {
		t.Fatalf("issue token pair: %v", err)
	}
	return pair
}

func wantCode(t *testing.T, err error, code Code) {
	t.Helper()
	if err == nil {
		t.Fatalf("expected %s, got nil", code)
	}
	ae, ok := AsAuthError(err)
	if !ok {
		t.Fatalf("expected %s, got untyped error %v", code, err)
	}
	if ae.Code != code {
		t.Fatalf("code = %s, want %s (err: %v)", ae.Code, code, err)
	}
}
