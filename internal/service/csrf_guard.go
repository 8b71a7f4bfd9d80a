package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/security"
)

// CSRFGuard implements double-submit CSRF defense decoupled from session
// auth. Each session gets a server-side secret; the client-readable token is
// "tokenID.mac" where mac = HMAC(secret, tokenID), and the token id is
// mirrored in an HttpOnly cookie for the cross-check.
type CSRFGuard struct {
	secrets CSRFSecretStore
	cfg     config.CSRFConfig
}

func NewCSRFGuard(secrets CSRFSecretStore, cfg config.CSRFConfig) *CSRFGuard {
	return &CSRFGuard{secrets: secrets, cfg: cfg}
}

type CSRFToken struct {
	Token   string `json:"csrfToken"`
	TokenID string `json:"-"`
}

// Issue returns the current token for the session, creating the secret on
// first use and rotating it once it outlives the configured max age.
func (g *CSRFGuard) Issue(ctx context.Context, sessionID string) (*CSRFToken, error) {
	secret, tokenID, issuedAt, found, err := g.secrets.Get(ctx, sessionID)
	if err != nil {
		return nil, fmt.Errorf("load csrf secret: %w", err)
	}
	if !found || time.Since(issuedAt) > g.cfg.SecretMaxAge {
		secret, err = security.RandomHex(32)
		if err != nil {
			return nil, fmt.Errorf("generate csrf secret: %w", err)
		}
		tokenID = uuid.NewString()
		if err := g.secrets.Put(ctx, sessionID, secret, tokenID, time.Now().UTC(), g.cfg.CookieMaxAge); err != nil {
			return nil, fmt.Errorf("store csrf secret: %w", err)
		}
	}
	return &CSRFToken{
		Token:   tokenID + "." + security.DeriveCSRFToken(secret, tokenID),
		TokenID: tokenID,
	}, nil
}

// Validate enforces the double-submit check for state-changing requests.
// Safe methods and allow-listed paths are exempt.
func (g *CSRFGuard) Validate(ctx context.Context, r *http.Request, sessionID string) error {
	switch r.Method {
	case http.MethodGet, http.MethodHead, http.MethodOptions, http.MethodTrace:
		return nil
	}
	for _, p := range g.cfg.AllowedPaths {
		if strings.HasPrefix(r.URL.Path, p) {
			return nil
		}
	}

	presented := r.Header.Get(g.cfg.HeaderName)
	if presented == "" {
		presented = r.PostFormValue(g.cfg.FormFieldName)
	}
	if presented == "" {
		return E(CodeCSRFMissing, "csrf token is required")
	}

	presentedID, presentedMAC, ok := strings.Cut(presented, ".")
	if !ok {
		return E(CodeCSRFInvalid, "csrf token is malformed")
	}

	secret, tokenID, issuedAt, found, err := g.secrets.Get(ctx, sessionID)
	if err != nil {
		return fmt.Errorf("load csrf secret: %w", err)
	}
	if !found {
		return E(CodeCSRFExpired, "csrf token has expired")
	}
	if time.Since(issuedAt) > g.cfg.SecretMaxAge {
		return E(CodeCSRFExpired, "csrf token has expired")
	}

	if !security.ConstantTimeEquals(presentedMAC, security.DeriveCSRFToken(secret, presentedID)) {
		return E(CodeCSRFInvalid, "csrf token does not match")
	}

	if g.cfg.DoubleSubmit {
		cookieID := security.GetCookie(r, security.CSRFIDCookie)
		if !security.ConstantTimeEquals(cookieID, presentedID) || !security.ConstantTimeEquals(cookieID, tokenID) {
			return E(CodeCSRFIDMismatch, "csrf token id mismatch")
		}
	}
	return nil
}
