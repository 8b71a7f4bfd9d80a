package router

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	miniredis "github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/http/handler"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
	"github.com/deskrelay/auth-session-service/internal/service"
)

const (
	testEmail       = "agent@example.com"
	testPassword    = "correct horse battery staple"
	testFingerprint = "fp-router-test"
)

type apiEnvelope struct {
	Success bool            `json:"success"`
	Data    json.RawMessage `json:"data"`
	Error   *struct {
		Code    string         `json:"code"`
		Message string         `json:"message"`
		Details map[string]any `json:"details"`
	} `json:"error"`
}

type testStack struct {
	handler   http.Handler
	users     repository.UserRepository
	csrfStore service.CSRFSecretStore
}

func newTestStack(t *testing.T) *testStack {
	t.Helper()

	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", t.Name())
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
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

	server := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: server.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	cfg := &config.Config{
		HTTP: config.HTTPConfig{CookieSecure: false},
		JWT: config.JWTConfig{
			Issuer:        "deskrelay-test",
			Audience:      "deskrelay-api",
			AccessSecret:  "access-secret-0123456789abcdef0123456789abcdef",
			RefreshSecret: "refresh-secret-0123456789abcdef0123456789abcdef",
			Pepper:        "test-pepper",
			AccessTTL:     15 * time.Minute,
			RefreshTTL:    time.Hour,
			RememberMeTTL: 24 * time.Hour,
			TwoFactorTTL:  5 * time.Minute,
		},
		Session: config.SessionConfig{TTL: time.Hour, RememberMeTTL: 24 * time.Hour},
		Security: config.SecurityConfig{
			MaxAttemptsPerDevice: 50,
			DeviceWindow:         15 * time.Minute,
			MaxAttemptsPerIP:     100,
			IPWindow:             time.Hour,
			LockoutThreshold:     5,
			LockoutDuration:      30 * time.Minute,
			KnownDeviceTTL:       time.Hour,
			ImpossibleTravelKmh:  1000,
			DeviceBinding:        config.DeviceBindingPolicy{EnforceSessions: true, EnforceTokens: true},
		},
		CSRF: config.CSRFConfig{
			SecretMaxAge:  12 * time.Hour,
			CookieMaxAge:  24 * time.Hour,
			DoubleSubmit:  true,
			HeaderName:    "X-XSRF-TOKEN",
			FormFieldName: "_csrf",
		},
	}

	jwtMgr := security.NewJWTManager(cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret)
	users := repository.NewUserRepository(db)
	tokenSvc := service.NewTokenService(
		jwtMgr,
		repository.NewTokenRepository(db),
		service.NewRedisBlacklistStore(rdb, "auth"),
		users,
		cfg.Security.DeviceBinding,
		cfg.JWT.Pepper,
		cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, cfg.JWT.RememberMeTTL,
	)
	sessionSvc := service.NewSessionService(
		repository.NewSessionRepository(db),
		repository.NewTokenRepository(db),
		cfg.Security.DeviceBinding,
		cfg.Session.TTL, cfg.Session.RememberMeTTL,
	)
	guard := service.NewSecurityService(
		users,
		service.NewRedisRateCounterStore(rdb, "auth"),
		service.NewRedisDeviceStore(rdb, "auth"),
		service.NoopGeoResolver{},
		nil,
		nil,
		cfg.Security,
		cfg.JWT.Pepper,
	)
	csrfStore := service.NewRedisCSRFSecretStore(rdb, "auth")
	csrfGuard := service.NewCSRFGuard(csrfStore, cfg.CSRF)
	authSvc := service.NewAuthService(
		users, tokenSvc, sessionSvc, guard,
		service.NewRedisTwoFactorStore(rdb, "auth"),
		service.DropTwoFactorSender{},
		cfg.JWT, cfg.Session,
	)

	h := NewRouter(Dependencies{
		AuthHandler:      handler.NewAuthHandler(authSvc, csrfGuard, cfg),
		TokenService:     tokenSvc,
		CSRFGuard:        csrfGuard,
		JWTManager:       jwtMgr,
		APIRateLimitRPM:  1000,
		AuthRateLimitRPM: 100,
	})

	hash, err := security.HashPassword(testPassword, 4)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user := &domain.User{Email: testEmail, PasswordHash: hash, Role: domain.RoleSupport, IsActive: true}
	if err := users.Create(context.Background(), user); err != nil {
		t.Fatalf("create user: %v", err)
	}

	return &testStack{handler: h, users: users, csrfStore: csrfStore}
}

func (s *testStack) do(t *testing.T, method, path string, body any, mutate func(*http.Request)) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	r := httptest.NewRequest(method, path, &buf)
	r.RemoteAddr = "198.51.100.4:54321"
	r.Header.Set("User-Agent", "router-test")
	r.Header.Set("X-Device-Fingerprint", testFingerprint)
	if body != nil {
		r.Header.Set("Content-Type", "application/json")
	}
	if mutate != nil {
		mutate(r)
	}
	rec := httptest.NewRecorder()
	s.handler.ServeHTTP(rec, r)
	return rec
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) apiEnvelope {
	t.Helper()
	var env apiEnvelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode envelope: %v (body %s)", err, rec.Body.String())
	}
	return env
}

type loginSession struct {
	accessToken string
	sessionID   string
	cookies     []*http.Cookie
	data        json.RawMessage
}

func (ls loginSession) cookie(name string) *http.Cookie {
	for _, c := range ls.cookies {
		if c.Name == name && c.Value != "" {
			return c
		}
	}
	return nil
}

func (s *testStack) login(t *testing.T) loginSession {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email":    testEmail,
		"password": testPassword,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode login payload: %v", err)
	}
	return loginSession{
		accessToken: payload.Tokens.AccessToken,
		sessionID:   payload.SessionID,
		cookies:     rec.Result().Cookies(),
		data:        env.Data,
	}
}

func TestRouterLoginSuccess(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	if ls.accessToken == "" || ls.sessionID == "" {
		t.Fatal("login payload must carry the access token and session id")
	}
	var payload struct {
		Tokens struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
			ExpiresIn    int64  `json:"expiresIn"`
		} `json:"tokens"`
		RequiresTwoFactor bool `json:"requiresTwoFactor"`
	}
	if err := json.Unmarshal(ls.data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Tokens.RefreshToken == "" || payload.Tokens.ExpiresIn != 900 {
		t.Fatalf("tokens object incomplete: %+v", payload.Tokens)
	}
	if payload.RequiresTwoFactor {
		t.Fatal("password-only login must report requiresTwoFactor=false")
	}
	if ls.cookie(security.RefreshTokenCookie) == nil {
		t.Fatal("login must set the refresh cookie")
	}
	if ls.cookie(security.CSRFTokenCookie) == nil || ls.cookie(security.CSRFIDCookie) == nil {
		t.Fatal("login must set both csrf cookies")
	}
	refresh := ls.cookie(security.RefreshTokenCookie)
	if !refresh.HttpOnly || refresh.Path != "/auth" {
		t.Fatalf("refresh cookie attributes wrong: %+v", refresh)
	}
}

func TestRouterLoginInvalidCredentials(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email":    testEmail,
		"password": "wrong",
	}, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Success || env.Error == nil || env.Error.Code != "INVALID_CREDENTIALS" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRouterLoginValidation(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodPost, "/auth/login", map[string]any{"email": testEmail}, nil)
	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "VALIDATION_ERROR" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRouterSessionRequiresAuth(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodGet, "/auth/session", nil, nil)
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("unauthenticated = %d, want 401", rec.Code)
	}

	ls := s.login(t)
	rec = s.do(t, http.MethodGet, "/auth/session", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ls.accessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("authenticated = %d: %s", rec.Code, rec.Body.String())
	}
	var status struct {
		IsValid bool `json:"isValid"`
	}
	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, &status); err != nil {
		t.Fatalf("decode status: %v", err)
	}
	if !status.IsValid {
		t.Fatal("live session must report valid")
	}
}

func TestRouterSessionRejectsWrongDevice(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	rec := s.do(t, http.MethodGet, "/auth/session", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ls.accessToken)
		r.Header.Set("X-Device-Fingerprint", "fp-someone-else")
	})
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "DEVICE_MISMATCH" {
		t.Fatalf("envelope = %+v", env)
	}
}

func withSessionCookies(ls loginSession) func(*http.Request) {
	return func(r *http.Request) {
		for _, c := range ls.cookies {
			if c.Value != "" {
				r.AddCookie(c)
			}
		}
		if csrf := ls.cookie(security.CSRFTokenCookie); csrf != nil {
			r.Header.Set("X-XSRF-TOKEN", csrf.Value)
		}
	}
}

func TestRouterRefreshFlow(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	rec := s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(ls))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
		SessionID string `json:"sessionId"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Tokens.AccessToken == "" || payload.SessionID != ls.sessionID {
		t.Fatalf("payload = %+v", payload)
	}

	var rotated *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.RefreshTokenCookie && c.Value != "" {
			rotated = c
		}
	}
	if rotated == nil {
		t.Fatal("refresh must reset the refresh cookie")
	}
	if rotated.Value == ls.cookie(security.RefreshTokenCookie).Value {
		t.Fatal("refresh must rotate the token in the cookie")
	}
}

func TestRouterRefreshRequiresCSRF(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	// cookies only, no csrf header
	rec := s.do(t, http.MethodPost, "/auth/refresh", nil, func(r *http.Request) {
		for _, c := range ls.cookies {
			if c.Value != "" {
				r.AddCookie(c)
			}
		}
	})
	if rec.Code != http.StatusForbidden {
		t.Fatalf("status = %d, want 403", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "CSRF_MISSING" {
		t.Fatalf("envelope = %+v", env)
	}
}

func TestRouterRefreshReplayRejected(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	if rec := s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(ls)); rec.Code != http.StatusOK {
		t.Fatalf("first refresh = %d", rec.Code)
	}
	rec := s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(ls))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("replay = %d, want 401", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "TOKEN_REVOKED" {
		t.Fatalf("envelope = %+v", env)
	}

	// a failed refresh clears the auth cookies
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.RefreshTokenCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("failed refresh must clear the refresh cookie")
	}
}

func TestRouterLogoutAlwaysSucceeds(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	rec := s.do(t, http.MethodPost, "/auth/logout", nil, withSessionCookies(ls))
	if rec.Code != http.StatusOK {
		t.Fatalf("logout = %d", rec.Code)
	}

	// logout with no cookies at all still answers 200
	rec = s.do(t, http.MethodPost, "/auth/logout", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("cold logout = %d", rec.Code)
	}
	cleared := false
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.RefreshTokenCookie && c.MaxAge < 0 {
			cleared = true
		}
	}
	if !cleared {
		t.Fatal("logout must clear the refresh cookie")
	}

	// the terminated session rejects the old refresh token
	rec = s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(ls))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("refresh after logout = %d, want 401", rec.Code)
	}
}

func TestRouterTerminateSessions(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	rec := s.do(t, http.MethodPost, "/auth/terminate-sessions", map[string]any{"allDevices": false}, func(r *http.Request) {
		withSessionCookies(ls)(r)
		r.Header.Set("Authorization", "Bearer "+ls.accessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("terminate = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		TerminatedCount int64 `json:"terminatedCount"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.TerminatedCount != 0 {
		t.Fatalf("count = %d, want 0 with a single session", payload.TerminatedCount)
	}
}

func TestRouterCSRFTokenEndpoint(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	rec := s.do(t, http.MethodGet, "/auth/csrf", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ls.accessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		CSRFToken string `json:"csrfToken"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.CSRFToken == "" {
		t.Fatal("csrf endpoint must return a token")
	}
}

func TestRouterLoginAcceptsDeviceInfoBody(t *testing.T) {
	s := newTestStack(t)

	// body deviceInfo wins over the transport fingerprint header
	rec := s.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email":    testEmail,
		"password": testPassword,
		"deviceInfo": map[string]any{
			"fingerprint": "fp-from-body",
			"userAgent":   "body-agent",
		},
		"rememberMe": false,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		Tokens struct {
			AccessToken string `json:"accessToken"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}

	// the tokens are bound to the body fingerprint, not the header one
	rec = s.do(t, http.MethodGet, "/auth/session", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+payload.Tokens.AccessToken)
		r.Header.Set("X-Device-Fingerprint", "fp-from-body")
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("session with body-bound device = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterRefreshFromBody(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)
	refresh := ls.cookie(security.RefreshTokenCookie).Value

	// an API client without cookies supplies the token in the body
	rec := s.do(t, http.MethodPost, "/auth/refresh", map[string]any{"refreshToken": refresh}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("body refresh = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		Tokens struct {
			AccessToken  string `json:"accessToken"`
			RefreshToken string `json:"refreshToken"`
		} `json:"tokens"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if payload.Tokens.AccessToken == "" || payload.Tokens.RefreshToken == refresh {
		t.Fatalf("body refresh must rotate the pair: %+v", payload.Tokens)
	}
}

func TestRouterCSRFBootstrapAfterSecretExpiry(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)
	ctx := context.Background()

	// age the server-side secret past its max age
	secret, tokenID, _, found, err := s.csrfStore.Get(ctx, ls.sessionID)
	if err != nil || !found {
		t.Fatalf("load csrf secret: found=%v err=%v", found, err)
	}
	if err := s.csrfStore.Put(ctx, ls.sessionID, secret, tokenID, time.Now().Add(-13*time.Hour), time.Hour); err != nil {
		t.Fatalf("age csrf secret: %v", err)
	}

	rec := s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(ls))
	if rec.Code != http.StatusForbidden {
		t.Fatalf("refresh with aged secret = %d, want 403", rec.Code)
	}
	env := decodeEnvelope(t, rec)
	if env.Error == nil || env.Error.Code != "CSRF_EXPIRED" {
		t.Fatalf("envelope = %+v", env)
	}

	// the refresh cookie alone must be enough to re-bootstrap csrf
	rec = s.do(t, http.MethodGet, "/auth/csrf", nil, func(r *http.Request) {
		r.AddCookie(ls.cookie(security.RefreshTokenCookie))
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("csrf bootstrap = %d: %s", rec.Code, rec.Body.String())
	}

	fresh := loginSession{
		sessionID: ls.sessionID,
		cookies:   append(rec.Result().Cookies(), ls.cookie(security.RefreshTokenCookie)),
	}
	rec = s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(fresh))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh after bootstrap = %d: %s", rec.Code, rec.Body.String())
	}
}

func TestRouterRememberMeSurvivesRefresh(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodPost, "/auth/login", map[string]any{
		"email":      testEmail,
		"password":   testPassword,
		"rememberMe": true,
	}, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("login = %d: %s", rec.Code, rec.Body.String())
	}
	ls := loginSession{cookies: rec.Result().Cookies()}

	longMaxAge := int((24 * time.Hour).Seconds())
	if got := ls.cookie(security.RefreshTokenCookie).MaxAge; got != longMaxAge {
		t.Fatalf("login cookie maxAge = %d, want %d", got, longMaxAge)
	}

	rec = s.do(t, http.MethodPost, "/auth/refresh", nil, withSessionCookies(ls))
	if rec.Code != http.StatusOK {
		t.Fatalf("refresh = %d: %s", rec.Code, rec.Body.String())
	}
	var rotated *http.Cookie
	for _, c := range rec.Result().Cookies() {
		if c.Name == security.RefreshTokenCookie && c.Value != "" {
			rotated = c
		}
	}
	if rotated == nil {
		t.Fatal("refresh must reset the refresh cookie")
	}
	if rotated.MaxAge != longMaxAge {
		t.Fatalf("rotated cookie maxAge = %d, want %d", rotated.MaxAge, longMaxAge)
	}
}

func TestRouterSessionsList(t *testing.T) {
	s := newTestStack(t)
	ls := s.login(t)

	rec := s.do(t, http.MethodGet, "/auth/sessions", nil, func(r *http.Request) {
		r.Header.Set("Authorization", "Bearer "+ls.accessToken)
	})
	if rec.Code != http.StatusOK {
		t.Fatalf("sessions = %d: %s", rec.Code, rec.Body.String())
	}
	env := decodeEnvelope(t, rec)
	var payload struct {
		Sessions []struct {
			ID      string `json:"id"`
			Current bool   `json:"current"`
		} `json:"sessions"`
	}
	if err := json.Unmarshal(env.Data, &payload); err != nil {
		t.Fatalf("decode payload: %v", err)
	}
	if len(payload.Sessions) != 1 {
		t.Fatalf("sessions = %d, want 1", len(payload.Sessions))
	}
	if payload.Sessions[0].ID != ls.sessionID || !payload.Sessions[0].Current {
		t.Fatalf("session entry = %+v", payload.Sessions[0])
	}
}

func TestRouterHealthEndpoints(t *testing.T) {
	s := newTestStack(t)

	rec := s.do(t, http.MethodGet, "/health/live", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("live = %d", rec.Code)
	}

	rec = s.do(t, http.MethodGet, "/health/ready", nil, nil)
	if rec.Code != http.StatusOK {
		t.Fatalf("ready = %d", rec.Code)
	}
}

func TestRouterReadyReportsFailingDependency(t *testing.T) {
	h := NewRouter(Dependencies{
		APIRateLimitRPM:  1000,
		AuthRateLimitRPM: 100,
		ReadyChecks: map[string]ReadyCheck{
			"redis": func(context.Context) error { return errors.New("connection refused") },
		},
	})
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health/ready", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestRouterSecurityHeadersApplied(t *testing.T) {
	s := newTestStack(t)
	rec := s.do(t, http.MethodGet, "/health/live", nil, nil)
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Fatal("security headers must be set on every response")
	}
}
