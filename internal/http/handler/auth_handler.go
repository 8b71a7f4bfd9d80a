package handler

import (
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/http/middleware"
	"github.com/deskrelay/auth-session-service/internal/http/response"
	"github.com/deskrelay/auth-session-service/internal/security"
	"github.com/deskrelay/auth-session-service/internal/service"
)

type AuthHandler struct {
	auth *service.AuthService
	csrf *service.CSRFGuard
	cfg  *config.Config
}

func NewAuthHandler(auth *service.AuthService, csrf *service.CSRFGuard, cfg *config.Config) *AuthHandler {
	return &AuthHandler{auth: auth, csrf: csrf, cfg: cfg}
}

type deviceInfoRequest struct {
	Fingerprint string `json:"fingerprint"`
	UserAgent   string `json:"userAgent"`
}

type loginRequest struct {
	Email      string             `json:"email"`
	Password   string             `json:"password"`
	DeviceInfo *deviceInfoRequest `json:"deviceInfo"`
	RememberMe bool               `json:"rememberMe"`
}

type verifyTwoFactorRequest struct {
	TwoFactorToken string             `json:"twoFactorToken"`
	Code           string             `json:"code"`
	TrustDevice    bool               `json:"trustDevice"`
	DeviceInfo     *deviceInfoRequest `json:"deviceInfo"`
	RememberMe     bool               `json:"rememberMe"`
}

type refreshRequest struct {
	RefreshToken string             `json:"refreshToken"`
	DeviceInfo   *deviceInfoRequest `json:"deviceInfo"`
}

type terminateSessionsRequest struct {
	AllDevices bool `json:"allDevices"`
}

type userPayload struct {
	ID    uint        `json:"id"`
	Email string      `json:"email"`
	Role  domain.Role `json:"role"`
}

type loginPayload struct {
	User              userPayload              `json:"user"`
	Tokens            *service.TokenPair       `json:"tokens"`
	SessionID         string                   `json:"sessionId"`
	SecurityContext   *service.SecurityContext `json:"securityContext,omitempty"`
	RequiresTwoFactor bool                     `json:"requiresTwoFactor"`
}

type twoFactorPayload struct {
	RequiresTwoFactor bool   `json:"requiresTwoFactor"`
	TwoFactorToken    string `json:"twoFactorToken"`
}

type sessionPayload struct {
	ID           string    `json:"id"`
	UserAgent    string    `json:"userAgent"`
	IPAddress    string    `json:"ipAddress"`
	LastActivity time.Time `json:"lastActivity"`
	ExpiresAt    time.Time `json:"expiresAt"`
	Current      bool      `json:"current"`
}

func (h *AuthHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "email and password are required", nil)
		return
	}

	device := requestDevice(r, req.DeviceInfo)
	result, err := h.auth.Login(r.Context(), service.Credentials{Email: req.Email, Password: req.Password}, device, req.RememberMe)
	if err != nil {
		response.AuthFailure(w, r, err)
		return
	}

	if result.RequiresTwoFactor {
		response.JSON(w, r, http.StatusOK, twoFactorPayload{
			RequiresTwoFactor: true,
			TwoFactorToken:    result.TwoFactorToken,
		})
		return
	}
	h.writeAuthenticated(w, r, result)
}

func (h *AuthHandler) VerifyTwoFactor(w http.ResponseWriter, r *http.Request) {
	var req verifyTwoFactorRequest
	if !decodeBody(w, r, &req) {
		return
	}
	if req.TwoFactorToken == "" || req.Code == "" {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "twoFactorToken and code are required", nil)
		return
	}

	device := requestDevice(r, req.DeviceInfo)
	result, err := h.auth.VerifyTwoFactor(r.Context(), req.TwoFactorToken, req.Code, req.TrustDevice, device, req.RememberMe)
	if err != nil {
		response.AuthFailure(w, r, err)
		return
	}
	h.writeAuthenticated(w, r, result)
}

// Refresh rotates the refresh token, taken from the HttpOnly cookie or, for
// cookie-less API clients, from the request body. Any failure clears the auth
// cookies so a client stuck with a dead token does not retry it forever.
func (h *AuthHandler) Refresh(w http.ResponseWriter, r *http.Request) {
	var req refreshRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}
	raw := security.GetCookie(r, security.RefreshTokenCookie)
	if raw == "" {
		raw = req.RefreshToken
	}
	if raw == "" {
		security.ClearAuthCookies(w, h.cfg.HTTP.CookieSecure)
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "missing refresh token", nil)
		return
	}

	result, err := h.auth.Refresh(r.Context(), raw, requestDevice(r, req.DeviceInfo))
	if err != nil {
		security.ClearAuthCookies(w, h.cfg.HTTP.CookieSecure)
		response.AuthFailure(w, r, err)
		return
	}

	security.SetRefreshCookie(w, result.Tokens.RefreshToken, h.refreshCookieMaxAge(result.RememberMe), h.cfg.HTTP.CookieSecure)
	// reissuing here rotates an aged csrf secret before it can expire mid-flow
	if token, err := h.csrf.Issue(r.Context(), result.Session.ID); err == nil {
		security.SetCSRFCookies(w, token.Token, token.TokenID, h.cfg.CSRF.CookieMaxAge, h.cfg.HTTP.CookieSecure)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{
		"tokens":    result.Tokens,
		"sessionId": result.Session.ID,
	})
}

// Logout always answers 200. Server-side cleanup is best effort; cookie
// clearing is the part the client can rely on.
func (h *AuthHandler) Logout(w http.ResponseWriter, r *http.Request) {
	h.auth.Logout(r.Context(), security.GetCookie(r, security.RefreshTokenCookie))
	security.ClearAuthCookies(w, h.cfg.HTTP.CookieSecure)
	response.JSON(w, r, http.StatusOK, map[string]any{"loggedOut": true})
}

func (h *AuthHandler) Session(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "missing access token", nil)
		return
	}
	status, err := h.auth.SessionStatus(r.Context(), claims, middleware.RequestDevice(r))
	if err != nil {
		response.AuthFailure(w, r, err)
		return
	}
	response.JSON(w, r, http.StatusOK, status)
}

func (h *AuthHandler) Sessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "missing access token", nil)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "malformed subject", nil)
		return
	}
	sessions, err := h.auth.ActiveSessions(r.Context(), userID)
	if err != nil {
		response.AuthFailure(w, r, err)
		return
	}
	payload := make([]sessionPayload, 0, len(sessions))
	for _, s := range sessions {
		payload = append(payload, sessionPayload{
			ID:           s.ID,
			UserAgent:    s.UserAgent,
			IPAddress:    s.IPAddress,
			LastActivity: s.LastActivity,
			ExpiresAt:    s.ExpiresAt,
			Current:      s.ID == claims.SessionID,
		})
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"sessions": payload})
}

// CSRFToken bootstraps the double-submit cookies. A verified access token
// works, and so does the refresh cookie alone: a client whose access token
// and csrf secret both aged out must still be able to reach /auth/refresh.
func (h *AuthHandler) CSRFToken(w http.ResponseWriter, r *http.Request) {
	sessionID := ""
	if claims, ok := middleware.ClaimsFromContext(r.Context()); ok {
		sessionID = claims.SessionID
	} else if raw := security.GetCookie(r, security.RefreshTokenCookie); raw != "" {
		id, err := h.auth.RefreshSessionID(r.Context(), raw, middleware.RequestDevice(r))
		if err != nil {
			response.AuthFailure(w, r, err)
			return
		}
		sessionID = id
	}
	if sessionID == "" {
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "an active session is required", nil)
		return
	}
	token, err := h.csrf.Issue(r.Context(), sessionID)
	if err != nil {
		response.AuthFailure(w, r, err)
		return
	}
	security.SetCSRFCookies(w, token.Token, token.TokenID, h.cfg.CSRF.CookieMaxAge, h.cfg.HTTP.CookieSecure)
	response.JSON(w, r, http.StatusOK, token)
}

func (h *AuthHandler) TerminateSessions(w http.ResponseWriter, r *http.Request) {
	claims, ok := middleware.ClaimsFromContext(r.Context())
	if !ok {
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "missing access token", nil)
		return
	}
	userID, err := claims.UserID()
	if err != nil {
		response.Error(w, r, http.StatusUnauthorized, string(service.CodeInvalidToken), "malformed subject", nil)
		return
	}

	var req terminateSessionsRequest
	if r.ContentLength > 0 && !decodeBody(w, r, &req) {
		return
	}

	count, err := h.auth.TerminateSessions(r.Context(), userID, claims.SessionID, req.AllDevices)
	if err != nil {
		response.AuthFailure(w, r, err)
		return
	}
	if req.AllDevices {
		security.ClearAuthCookies(w, h.cfg.HTTP.CookieSecure)
	}
	response.JSON(w, r, http.StatusOK, map[string]any{"terminatedCount": count})
}

func (h *AuthHandler) writeAuthenticated(w http.ResponseWriter, r *http.Request, result *service.LoginResult) {
	security.SetRefreshCookie(w, result.Tokens.RefreshToken, h.refreshCookieMaxAge(result.RememberMe), h.cfg.HTTP.CookieSecure)

	if token, err := h.csrf.Issue(r.Context(), result.Session.ID); err == nil {
		security.SetCSRFCookies(w, token.Token, token.TokenID, h.cfg.CSRF.CookieMaxAge, h.cfg.HTTP.CookieSecure)
	}

	response.JSON(w, r, http.StatusOK, loginPayload{
		User: userPayload{
			ID:    result.User.ID,
			Email: result.User.Email,
			Role:  result.User.Role,
		},
		Tokens:          result.Tokens,
		SessionID:       result.Session.ID,
		SecurityContext: result.SecurityContext,
	})
}

func (h *AuthHandler) refreshCookieMaxAge(rememberMe bool) time.Duration {
	if rememberMe {
		return h.cfg.Session.RememberMeTTL
	}
	return h.cfg.Session.TTL
}

// requestDevice resolves the device context, preferring the body-supplied
// deviceInfo over the transport-derived fallback. The IP always comes from
// the connection; clients do not get to claim one.
func requestDevice(r *http.Request, body *deviceInfoRequest) service.DeviceInfo {
	device := middleware.RequestDevice(r)
	if body != nil {
		if body.Fingerprint != "" {
			device.Fingerprint = body.Fingerprint
		}
		if body.UserAgent != "" {
			device.UserAgent = body.UserAgent
		}
	}
	return device
}

func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		response.Error(w, r, http.StatusBadRequest, "VALIDATION_ERROR", "request body is invalid", nil)
		return false
	}
	return true
}
