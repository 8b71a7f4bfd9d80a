package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
)

type SessionService struct {
	sessionRepo   repository.SessionRepository
	tokenRepo     repository.TokenRepository
	binding       config.DeviceBindingPolicy
	ttl           time.Duration
	rememberMeTTL time.Duration
}

func NewSessionService(
	sessionRepo repository.SessionRepository,
	tokenRepo repository.TokenRepository,
	binding config.DeviceBindingPolicy,
	ttl, rememberMeTTL time.Duration,
) *SessionService {
	return &SessionService{
		sessionRepo:   sessionRepo,
		tokenRepo:     tokenRepo,
		binding:       binding,
		ttl:           ttl,
		rememberMeTTL: rememberMeTTL,
	}
}

type CreateSessionOptions struct {
	RememberMe bool
}

// Create establishes the per-device session. A repeat login from the same
// device updates the existing active row in place, which bounds session
// growth under repeated logins.
func (s *SessionService) Create(ctx context.Context, userID uint, device DeviceInfo, opts CreateSessionOptions) (*domain.Session, error) {
	ttl := s.ttl
	if opts.RememberMe {
		ttl = s.rememberMeTTL
	}
	now := time.Now().UTC()
	session := &domain.Session{
		ID:                uuid.NewString(),
		UserID:            userID,
		DeviceFingerprint: device.Fingerprint,
		IPAddress:         device.IPAddress,
		UserAgent:         device.UserAgent,
		LastActivity:      now,
		ExpiresAt:         now.Add(ttl),
		IsActive:          true,
	}
	if _, err := s.sessionRepo.Upsert(ctx, session); err != nil {
		return nil, fmt.Errorf("upsert session: %w", err)
	}
	return session, nil
}

type SessionValidation struct {
	IsValid bool
	Reason  Code
	Session *domain.Session
}

// Validate checks a session is live and, when the binding policy enforces
// it, still on the device it was created for. Sessions found past their
// expiry are closed here with reason "expired" rather than left dangling.
func (s *SessionService) Validate(ctx context.Context, sessionID string, device DeviceInfo) (*SessionValidation, error) {
	session, err := s.sessionRepo.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, repository.ErrSessionNotFound) {
			return &SessionValidation{Reason: CodeSessionNotFound}, nil
		}
		return nil, fmt.Errorf("load session: %w", err)
	}
	if !session.IsActive {
		return &SessionValidation{Reason: CodeSessionTerminated, Session: session}, nil
	}
	now := time.Now().UTC()
	if session.Expired(now) {
		if _, err := s.sessionRepo.Terminate(ctx, sessionID, domain.EndReasonExpired); err != nil {
			return nil, fmt.Errorf("terminate expired session: %w", err)
		}
		return &SessionValidation{Reason: CodeSessionExpired, Session: session}, nil
	}
	if s.binding.EnforceSessions && !security.ConstantTimeEquals(session.DeviceFingerprint, device.Fingerprint) {
		return &SessionValidation{Reason: CodeDeviceMismatch, Session: session}, nil
	}
	if err := s.sessionRepo.Touch(ctx, sessionID, now); err != nil {
		return nil, fmt.Errorf("touch session: %w", err)
	}
	return &SessionValidation{IsValid: true, Session: session}, nil
}

// Terminate closes one session and revokes its outstanding refresh tokens.
// Closed sessions are terminal; re-login creates or updates, never
// resurrects.
func (s *SessionService) Terminate(ctx context.Context, sessionID string, reason domain.EndReason) error {
	if _, err := s.sessionRepo.Terminate(ctx, sessionID, reason); err != nil {
		return fmt.Errorf("terminate session: %w", err)
	}
	if _, err := s.tokenRepo.RevokeBySessionID(ctx, sessionID); err != nil {
		return fmt.Errorf("revoke session tokens: %w", err)
	}
	return nil
}

// TerminateAll closes every active session for the user, optionally keeping
// the caller's own ("log out other devices").
func (s *SessionService) TerminateAll(ctx context.Context, userID uint, exceptSessionID string, reason domain.EndReason) (int64, error) {
	count, err := s.sessionRepo.TerminateAllForUser(ctx, userID, exceptSessionID, reason)
	if err != nil {
		return 0, fmt.Errorf("terminate sessions: %w", err)
	}
	return count, nil
}

// Extend pushes the expiry forward for sliding-expiry refresh flows.
func (s *SessionService) Extend(ctx context.Context, sessionID string, d time.Duration) error {
	if err := s.sessionRepo.Extend(ctx, sessionID, time.Now().UTC().Add(d)); err != nil {
		return fmt.Errorf("extend session: %w", err)
	}
	return nil
}

func (s *SessionService) ListActive(ctx context.Context, userID uint) ([]domain.Session, error) {
	return s.sessionRepo.ListActiveByUserID(ctx, userID)
}
