package service

import (
	"context"
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/observability"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
)

// AuthService is the stateless composition layer: the only component that
// sequences calls across the token, session and security services.
type AuthService struct {
	users     repository.UserRepository
	tokens    *TokenService
	sessions  *SessionService
	guard     *SecurityService
	twoFactor TwoFactorStore
	sender    TwoFactorSender
	jwtCfg    config.JWTConfig
	sessCfg   config.SessionConfig
	pepper    string
}

func NewAuthService(
	users repository.UserRepository,
	tokens *TokenService,
	sessions *SessionService,
	guard *SecurityService,
	twoFactor TwoFactorStore,
	sender TwoFactorSender,
	jwtCfg config.JWTConfig,
	sessCfg config.SessionConfig,
) *AuthService {
	return &AuthService{
		users:     users,
		tokens:    tokens,
		sessions:  sessions,
		guard:     guard,
		twoFactor: twoFactor,
		sender:    sender,
		jwtCfg:    jwtCfg,
		sessCfg:   sessCfg,
		pepper:    jwtCfg.Pepper,
	}
}

type LoginResult struct {
	User              *domain.User
	Tokens            *TokenPair
	Session           *domain.Session
	SecurityContext   *SecurityContext
	RequiresTwoFactor bool
	TwoFactorToken    string
	RememberMe        bool
}

func (s *AuthService) Login(ctx context.Context, creds Credentials, device DeviceInfo, rememberMe bool) (*LoginResult, error) {
	if err := s.guard.ValidateIPRestrictions(ctx, device); err != nil {
		observability.RecordAuthLogin("blocked")
		return nil, err
	}

	user, err := s.guard.ValidateCredentials(ctx, creds, device)
	if err != nil {
		observability.RecordAuthLogin("failure")
		return nil, err
	}

	if user.TwoFactorEnabled {
		challenge, err := s.issueTwoFactorChallenge(ctx, user)
		if err != nil {
			observability.RecordAuthLogin("failure")
			return nil, err
		}
		observability.RecordAuthLogin("two_factor_pending")
		return &LoginResult{
			User:              user,
			RequiresTwoFactor: true,
			TwoFactorToken:    challenge,
			RememberMe:        rememberMe,
		}, nil
	}

	result, err := s.completeLogin(ctx, user, device, rememberMe)
	if err != nil {
		observability.RecordAuthLogin("failure")
		return nil, err
	}

	// observe-only: a breached password flags the login, never blocks it
	if s.guard.IsPasswordBreached(ctx, creds.Password) {
		observability.SecurityEvent(ctx, "breached_password_login", "user_id", user.ID)
		if result.SecurityContext != nil {
			result.SecurityContext.Anomalies = append(result.SecurityContext.Anomalies, "breached_password")
		}
	}

	observability.RecordAuthLogin("success")
	return result, nil
}

// VerifyTwoFactor finishes a login that was parked on a 2FA challenge.
// Challenges are single-use: a wrong code burns the challenge and the
// client has to log in again.
func (s *AuthService) VerifyTwoFactor(ctx context.Context, challengeToken, code string, trustDevice bool, device DeviceInfo, rememberMe bool) (*LoginResult, error) {
	claims, err := s.tokens.Verify(ctx, challengeToken, domain.TokenTypeTwoFactor)
	if err != nil {
		return nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, E(CodeInvalidToken, "malformed subject")
	}

	codeHash, found, err := s.twoFactor.Take(ctx, claims.ID)
	if err != nil {
		return nil, fmt.Errorf("load 2fa challenge: %w", err)
	}
	if !found {
		return nil, E(CodeTokenExpired, "two-factor challenge has expired")
	}
	if !security.ConstantTimeEquals(codeHash, security.HashToken(code, s.pepper)) {
		observability.SecurityEvent(ctx, "two_factor_failed", "user_id", userID)
		return nil, E(CodeInvalidTwoFactorCode, "verification code is incorrect")
	}

	// the challenge token itself is single-use as well
	if _, err := s.tokens.Blacklist(ctx, challengeToken); err != nil {
		return nil, err
	}

	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	if !user.IsActive {
		return nil, E(CodeAccountInactive, "account is deactivated")
	}

	if trustDevice {
		if err := s.guard.RegisterKnownDevice(ctx, user.ID, device.Fingerprint); err != nil {
			observability.SecurityEvent(ctx, "device_register_failed", "user_id", user.ID, "error", err.Error())
		}
	}

	result, err := s.completeLogin(ctx, user, device, rememberMe)
	if err != nil {
		observability.RecordAuthLogin("failure")
		return nil, err
	}
	observability.RecordAuthLogin("success")
	return result, nil
}

func (s *AuthService) completeLogin(ctx context.Context, user *domain.User, device DeviceInfo, rememberMe bool) (*LoginResult, error) {
	secCtx, err := s.guard.ValidateLoginAttempt(ctx, user, device)
	if err != nil {
		return nil, err
	}

	session, err := s.sessions.Create(ctx, user.ID, device, CreateSessionOptions{RememberMe: rememberMe})
	if err != nil {
		return nil, err
	}

	pair, err := s.tokens.Issue(ctx, user, IssueOptions{
		DeviceFingerprint: device.Fingerprint,
		SessionID:         session.ID,
		RememberMe:        rememberMe,
	})
	if err != nil {
		return nil, err
	}

	if err := s.guard.RegisterKnownDevice(ctx, user.ID, device.Fingerprint); err != nil {
		observability.SecurityEvent(ctx, "device_register_failed", "user_id", user.ID, "error", err.Error())
	}

	return &LoginResult{
		User:            user,
		Tokens:          pair,
		Session:         session,
		SecurityContext: secCtx,
		RememberMe:      rememberMe,
	}, nil
}

func (s *AuthService) issueTwoFactorChallenge(ctx context.Context, user *domain.User) (string, error) {
	token, err := s.tokens.jwtMgr.SignTwoFactorToken(security.TokenInput{
		User: user,
		TTL:  s.jwtCfg.TwoFactorTTL,
	})
	if err != nil {
		return "", E(CodeTokenGenerationFailed, "could not sign challenge token")
	}
	claims, err := s.tokens.jwtMgr.ParseTwoFactorToken(token)
	if err != nil {
		return "", E(CodeTokenGenerationFailed, "could not read challenge token")
	}

	code, err := generateNumericCode(6)
	if err != nil {
		return "", fmt.Errorf("generate 2fa code: %w", err)
	}
	if err := s.twoFactor.Put(ctx, claims.ID, security.HashToken(code, s.pepper), s.jwtCfg.TwoFactorTTL); err != nil {
		return "", fmt.Errorf("store 2fa challenge: %w", err)
	}
	if err := s.sender.Send(ctx, user.Email, code); err != nil {
		// delivery is external; log and let the client retry
		observability.SecurityEvent(ctx, "two_factor_delivery_failed", "user_id", user.ID, "error", err.Error())
	}
	return token, nil
}

// Refresh exchanges a refresh token for a new pair, checking the session is
// still live and on the right device before anything is rotated.
func (s *AuthService) Refresh(ctx context.Context, refreshToken string, device DeviceInfo) (*LoginResult, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, err
	}
	if err := s.tokens.CheckDeviceBinding(claims, device.Fingerprint); err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, err
	}
	if claims.SessionID == "" {
		observability.RecordAuthRefresh("failure")
		return nil, E(CodeInvalidToken, "refresh token carries no session")
	}

	validation, err := s.sessions.Validate(ctx, claims.SessionID, device)
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, err
	}
	if !validation.IsValid {
		observability.RecordAuthRefresh("failure")
		return nil, E(validation.Reason, "session is no longer valid")
	}

	pair, _, err := s.tokens.Rotate(ctx, refreshToken, func(ctx context.Context, id uint) (*domain.User, error) {
		return s.users.FindByID(ctx, id)
	})
	if err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, err
	}

	sessionTTL := s.sessCfg.TTL
	if claims.RememberMe {
		sessionTTL = s.sessCfg.RememberMeTTL
	}
	if err := s.sessions.Extend(ctx, claims.SessionID, sessionTTL); err != nil {
		observability.RecordAuthRefresh("failure")
		return nil, err
	}

	observability.RecordAuthRefresh("success")
	return &LoginResult{Tokens: pair, Session: validation.Session, RememberMe: claims.RememberMe}, nil
}

// RefreshSessionID verifies a refresh token just far enough to learn which
// session it belongs to. Used to bootstrap CSRF for a client whose access
// token has already expired.
func (s *AuthService) RefreshSessionID(ctx context.Context, refreshToken string, device DeviceInfo) (string, error) {
	claims, err := s.tokens.Verify(ctx, refreshToken, domain.TokenTypeRefresh)
	if err != nil {
		return "", err
	}
	if err := s.tokens.CheckDeviceBinding(claims, device.Fingerprint); err != nil {
		return "", err
	}
	if claims.SessionID == "" {
		return "", E(CodeInvalidToken, "refresh token carries no session")
	}
	return claims.SessionID, nil
}

// Logout is best-effort by policy: internal failures are logged and
// swallowed because the client-visible outcome (cleared cookies) is achieved
// by the handler regardless.
func (s *AuthService) Logout(ctx context.Context, refreshToken string) {
	if refreshToken == "" {
		observability.RecordAuthLogout("no_token")
		return
	}
	if claims := s.tokens.DecodeUnsafe(refreshToken); claims != nil && claims.SessionID != "" {
		if err := s.sessions.Terminate(ctx, claims.SessionID, domain.EndReasonLogout); err != nil {
			observability.SecurityEvent(ctx, "logout_cleanup_failed", "session_id", claims.SessionID, "error", err.Error())
		}
	}
	if _, err := s.tokens.Blacklist(ctx, refreshToken); err != nil {
		observability.SecurityEvent(ctx, "logout_blacklist_failed", "error", err.Error())
	}
	observability.RecordAuthLogout("success")
}

type SessionStatus struct {
	IsValid         bool             `json:"isValid"`
	ExpiresAt       *time.Time       `json:"expiresAt,omitempty"`
	SecurityContext *SecurityContext `json:"securityContext,omitempty"`
}

func (s *AuthService) SessionStatus(ctx context.Context, claims *security.Claims, device DeviceInfo) (*SessionStatus, error) {
	if claims.SessionID == "" {
		return &SessionStatus{}, nil
	}
	validation, err := s.sessions.Validate(ctx, claims.SessionID, device)
	if err != nil {
		return nil, err
	}
	if !validation.IsValid {
		return &SessionStatus{}, nil
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, E(CodeInvalidToken, "malformed subject")
	}
	user, err := s.users.FindByID(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("load user: %w", err)
	}
	secCtx, err := s.guard.ValidateLoginAttempt(ctx, user, device)
	if err != nil {
		secCtx = nil
	}
	return &SessionStatus{
		IsValid:         true,
		ExpiresAt:       &validation.Session.ExpiresAt,
		SecurityContext: secCtx,
	}, nil
}

// TerminateSessions logs the user out of other devices, or everywhere when
// allDevices is set. Everywhere also bumps the token version so every
// outstanding token dies without being enumerated.
func (s *AuthService) TerminateSessions(ctx context.Context, userID uint, currentSessionID string, allDevices bool) (int64, error) {
	if allDevices {
		if err := s.users.BumpTokenVersion(ctx, userID); err != nil {
			return 0, fmt.Errorf("bump token version: %w", err)
		}
		count, err := s.sessions.TerminateAll(ctx, userID, "", domain.EndReasonTerminated)
		if err != nil {
			return 0, err
		}
		// the version bump is authoritative; record revocation is bookkeeping
		if _, err := s.tokens.RevokeAllForUser(ctx, userID); err != nil {
			observability.SecurityEvent(ctx, "token_revoke_all_failed", "user_id", userID, "error", err.Error())
		}
		observability.SecurityEvent(ctx, "global_logout", "user_id", userID, "sessions", count)
		return count, nil
	}
	return s.sessions.TerminateAll(ctx, userID, currentSessionID, domain.EndReasonTerminated)
}

// ActiveSessions lists the user's live sessions for device management.
func (s *AuthService) ActiveSessions(ctx context.Context, userID uint) ([]domain.Session, error) {
	return s.sessions.ListActive(ctx, userID)
}

func generateNumericCode(digits int) (string, error) {
	max := big.NewInt(1)
	for i := 0; i < digits; i++ {
		max.Mul(max, big.NewInt(10))
	}
	n, err := rand.Int(rand.Reader, max)
	if err != nil {
		return "", err
	}
	return fmt.Sprintf("%0*d", digits, n), nil
}
