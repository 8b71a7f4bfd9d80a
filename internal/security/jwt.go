package security

import (
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"

	"github.com/deskrelay/auth-session-service/internal/domain"
)

var (
	ErrTokenExpired        = errors.New("token expired")
	ErrTokenInvalid        = errors.New("invalid token")
	ErrUnexpectedTokenType = errors.New("unexpected token type")
)

type Claims struct {
	TokenType         string `json:"token_type"`
	Role              string `json:"role,omitempty"`
	TokenVersion      int    `json:"token_version"`
	DeviceFingerprint string `json:"device_fingerprint,omitempty"`
	SessionID         string `json:"session_id,omitempty"`
	RememberMe        bool   `json:"remember_me,omitempty"`
	jwt.RegisteredClaims
}

func (c *Claims) UserID() (uint, error) {
	id64, err := strconv.ParseUint(c.Subject, 10, 64)
	if err != nil {
		return 0, fmt.Errorf("parse subject: %w", err)
	}
	return uint(id64), nil
}

func (c *Claims) Remaining(now time.Time) time.Duration {
	if c.ExpiresAt == nil {
		return 0
	}
	return c.ExpiresAt.Time.Sub(now)
}

type JWTManager struct {
	issuer        string
	audience      string
	accessSecret  []byte
	refreshSecret []byte
}

func NewJWTManager(issuer, audience, accessSecret, refreshSecret string) *JWTManager {
	return &JWTManager{
		issuer:        issuer,
		audience:      audience,
		accessSecret:  []byte(accessSecret),
		refreshSecret: []byte(refreshSecret),
	}
}

type TokenInput struct {
	User              *domain.User
	DeviceFingerprint string
	SessionID         string
	TTL               time.Duration
	RememberMe        bool
}

func (m *JWTManager) SignAccessToken(in TokenInput) (string, error) {
	return m.sign(in, string(domain.TokenTypeAccess), m.accessSecret, uuid.NewString())
}

func (m *JWTManager) SignRefreshToken(in TokenInput) (string, error) {
	return m.sign(in, string(domain.TokenTypeRefresh), m.refreshSecret, uuid.NewString())
}

// SignTwoFactorToken mints the short-lived challenge handed back when a login
// still needs a second factor. It carries no session binding yet.
func (m *JWTManager) SignTwoFactorToken(in TokenInput) (string, error) {
	return m.sign(in, string(domain.TokenTypeTwoFactor), m.accessSecret, uuid.NewString())
}

func (m *JWTManager) sign(in TokenInput, tokenType string, secret []byte, jti string) (string, error) {
	now := time.Now()
	claims := Claims{
		TokenType:         tokenType,
		Role:              string(in.User.Role),
		TokenVersion:      in.User.TokenVersion,
		DeviceFingerprint: in.DeviceFingerprint,
		SessionID:         in.SessionID,
		RememberMe:        in.RememberMe,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    m.issuer,
			Subject:   fmt.Sprintf("%d", in.User.ID),
			Audience:  []string{m.audience},
			ExpiresAt: jwt.NewNumericDate(now.Add(in.TTL)),
			IssuedAt:  jwt.NewNumericDate(now),
			ID:        jti,
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
}

func (m *JWTManager) ParseAccessToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, string(domain.TokenTypeAccess))
}

func (m *JWTManager) ParseRefreshToken(raw string) (*Claims, error) {
	return m.parse(raw, m.refreshSecret, string(domain.TokenTypeRefresh))
}

func (m *JWTManager) ParseTwoFactorToken(raw string) (*Claims, error) {
	return m.parse(raw, m.accessSecret, string(domain.TokenTypeTwoFactor))
}

func (m *JWTManager) parse(raw string, secret []byte, tokenType string) (*Claims, error) {
	claims := &Claims{}
	tok, err := jwt.ParseWithClaims(raw, claims, func(token *jwt.Token) (any, error) {
		if token.Method != jwt.SigningMethodHS256 {
			return nil, errors.New("unexpected signing algorithm")
		}
		return secret, nil
	}, jwt.WithIssuer(m.issuer), jwt.WithAudience(m.audience))
	if err != nil {
		if errors.Is(err, jwt.ErrTokenExpired) {
			return nil, ErrTokenExpired
		}
		return nil, ErrTokenInvalid
	}
	if !tok.Valid {
		return nil, ErrTokenInvalid
	}
	if claims.TokenType != tokenType {
		return nil, fmt.Errorf("%w: %s", ErrUnexpectedTokenType, claims.TokenType)
	}
	return claims, nil
}

// DecodeUnverified extracts claims without checking the signature. The result
// must never be trusted for authentication decisions; it exists for
// best-effort paths (blacklisting on logout) that only need exp and jti.
// Returns nil when the token cannot be decoded at all.
func (m *JWTManager) DecodeUnverified(raw string) *Claims {
	claims := &Claims{}
	_, _, err := jwt.NewParser().ParseUnverified(raw, claims)
	if err != nil {
		return nil
	}
	return claims
}
