package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
)

type TokenPair struct {
	AccessToken  string `json:"accessToken"`
	RefreshToken string `json:"refreshToken,omitempty"`
	ExpiresIn    int64  `json:"expiresIn"`
}

type IssueOptions struct {
	DeviceFingerprint string
	SessionID         string
	RememberMe        bool
}

type UserFetcher func(ctx context.Context, id uint) (*domain.User, error)

type TokenService struct {
	jwtMgr     *security.JWTManager
	tokenRepo  repository.TokenRepository
	blacklist  BlacklistStore
	versions   VersionSource
	binding    config.DeviceBindingPolicy
	pepper     string
	accessTTL  time.Duration
	refreshTTL time.Duration
	rememberMe time.Duration
}

func NewTokenService(
	jwtMgr *security.JWTManager,
	tokenRepo repository.TokenRepository,
	blacklist BlacklistStore,
	versions VersionSource,
	binding config.DeviceBindingPolicy,
	pepper string,
	accessTTL, refreshTTL, rememberMeTTL time.Duration,
) *TokenService {
	return &TokenService{
		jwtMgr:     jwtMgr,
		tokenRepo:  tokenRepo,
		blacklist:  blacklist,
		versions:   versions,
		binding:    binding,
		pepper:     pepper,
		accessTTL:  accessTTL,
		refreshTTL: refreshTTL,
		rememberMe: rememberMeTTL,
	}
}

// Issue mints an access/refresh pair bound to the session and, when the
// binding policy asks for it, to the device. The refresh token is recorded
// by hash for later revocation; access tokens stay stateless.
func (s *TokenService) Issue(ctx context.Context, user *domain.User, opts IssueOptions) (*TokenPair, error) {
	fingerprint := ""
	if s.binding.EnforceTokens {
		fingerprint = opts.DeviceFingerprint
	}
	refreshTTL := s.refreshTTL
	if opts.RememberMe {
		refreshTTL = s.rememberMe
	}

	access, err := s.jwtMgr.SignAccessToken(security.TokenInput{
		User:              user,
		DeviceFingerprint: fingerprint,
		SessionID:         opts.SessionID,
		TTL:               s.accessTTL,
	})
	if err != nil {
		return nil, E(CodeTokenGenerationFailed, "could not sign access token")
	}
	refresh, err := s.jwtMgr.SignRefreshToken(security.TokenInput{
		User:              user,
		DeviceFingerprint: fingerprint,
		SessionID:         opts.SessionID,
		TTL:               refreshTTL,
		RememberMe:        opts.RememberMe,
	})
	if err != nil {
		return nil, E(CodeTokenGenerationFailed, "could not sign refresh token")
	}

	rec := &domain.TokenRecord{
		TokenHash:         security.HashToken(refresh, s.pepper),
		UserID:            user.ID,
		TokenType:         domain.TokenTypeRefresh,
		DeviceFingerprint: opts.DeviceFingerprint,
		SessionID:         opts.SessionID,
		ExpiresAt:         time.Now().Add(refreshTTL),
	}
	if err := s.tokenRepo.Create(ctx, rec); err != nil {
		return nil, fmt.Errorf("persist refresh token record: %w", err)
	}

	return &TokenPair{
		AccessToken:  access,
		RefreshToken: refresh,
		ExpiresIn:    int64(s.accessTTL.Seconds()),
	}, nil
}

// Verify runs the cheap local checks first (signature, expiry, type), then
// the blacklist lookup, then the token-version check. The ordering is a
// deliberate short-circuit: most bad tokens never cost a store round trip.
// Store failures on the blacklist or version path fail closed.
func (s *TokenService) Verify(ctx context.Context, raw string, expected domain.TokenType) (*security.Claims, error) {
	var (
		claims *security.Claims
		err    error
	)
	switch expected {
	case domain.TokenTypeAccess:
		claims, err = s.jwtMgr.ParseAccessToken(raw)
	case domain.TokenTypeRefresh:
		claims, err = s.jwtMgr.ParseRefreshToken(raw)
	case domain.TokenTypeTwoFactor:
		claims, err = s.jwtMgr.ParseTwoFactorToken(raw)
	default:
		return nil, E(CodeInvalidTokenType, fmt.Sprintf("unsupported token type %q", expected))
	}
	if err != nil {
		return nil, mapParseError(err)
	}

	revoked, err := s.blacklist.Contains(ctx, security.HashToken(raw, s.pepper))
	if err != nil {
		return nil, fmt.Errorf("blacklist lookup: %w", err)
	}
	if revoked {
		return nil, E(CodeTokenRevoked, "token has been revoked")
	}

	userID, err := claims.UserID()
	if err != nil {
		return nil, E(CodeInvalidToken, "malformed subject")
	}
	current, err := s.versions.TokenVersion(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("token version lookup: %w", err)
	}
	if claims.TokenVersion < current {
		return nil, E(CodeTokenRevoked, "token version superseded")
	}
	return claims, nil
}

// CheckDeviceBinding compares the fingerprint inside a verified token with
// the one presented by the caller. A no-op unless the policy enforces
// token binding.
func (s *TokenService) CheckDeviceBinding(claims *security.Claims, fingerprint string) error {
	if !s.binding.EnforceTokens || claims.DeviceFingerprint == "" {
		return nil
	}
	if !security.ConstantTimeEquals(claims.DeviceFingerprint, fingerprint) {
		return E(CodeDeviceMismatch, "token is bound to a different device")
	}
	return nil
}

// Rotate exchanges a refresh token for a fresh pair. The old token is
// blacklisted before anything new is issued; that ordering is what makes
// rotation single-use, so a blacklist failure aborts the whole exchange.
func (s *TokenService) Rotate(ctx context.Context, raw string, fetch UserFetcher) (*TokenPair, *security.Claims, error) {
	claims, err := s.Verify(ctx, raw, domain.TokenTypeRefresh)
	if err != nil {
		return nil, nil, err
	}
	userID, err := claims.UserID()
	if err != nil {
		return nil, nil, E(CodeInvalidToken, "malformed subject")
	}

	hash := security.HashToken(raw, s.pepper)
	if err := s.blacklist.Add(ctx, hash, claims.Remaining(time.Now())); err != nil {
		return nil, nil, fmt.Errorf("blacklist old refresh token: %w", err)
	}
	if err := s.tokenRepo.RevokeByHash(ctx, hash); err != nil {
		return nil, nil, fmt.Errorf("revoke old token record: %w", err)
	}

	user, err := fetch(ctx, userID)
	if err != nil {
		return nil, nil, fmt.Errorf("fetch user for rotation: %w", err)
	}

	// the rememberMe horizon survives rotation; without it a 30-day login
	// would silently shrink to the standard lifetime on its first refresh
	pair, err := s.Issue(ctx, user, IssueOptions{
		DeviceFingerprint: claims.DeviceFingerprint,
		SessionID:         claims.SessionID,
		RememberMe:        claims.RememberMe,
	})
	if err != nil {
		return nil, nil, err
	}
	return pair, claims, nil
}

// RevokeAllForUser marks every live refresh-token record for the user
// revoked. The token-version bump is what actually kills the tokens; this
// keeps the durable records consistent with it.
func (s *TokenService) RevokeAllForUser(ctx context.Context, userID uint) (int64, error) {
	return s.tokenRepo.RevokeByUserID(ctx, userID)
}

// Blacklist revokes a token best-effort. The token is decoded without
// signature verification; only exp is needed to size the entry's TTL.
// A token that cannot be decoded at all is a no-op, not an error.
func (s *TokenService) Blacklist(ctx context.Context, raw string) (bool, error) {
	claims := s.jwtMgr.DecodeUnverified(raw)
	if claims == nil {
		return false, nil
	}
	remaining := claims.Remaining(time.Now())
	if remaining <= 0 {
		return false, nil
	}
	if err := s.blacklist.Add(ctx, security.HashToken(raw, s.pepper), remaining); err != nil {
		return false, fmt.Errorf("blacklist token: %w", err)
	}
	return true, nil
}

// DecodeUnsafe exposes unverified decoding for best-effort flows (logout).
// Callers must never make authorization decisions from the result.
func (s *TokenService) DecodeUnsafe(raw string) *security.Claims {
	return s.jwtMgr.DecodeUnverified(raw)
}

func mapParseError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, security.ErrTokenExpired):
		return E(CodeTokenExpired, "token has expired")
	case errors.Is(err, security.ErrUnexpectedTokenType):
		return E(CodeInvalidTokenType, "unexpected token type")
	default:
		return E(CodeInvalidToken, "token is invalid")
	}
}
