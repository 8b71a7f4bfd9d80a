package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/security"
)

func testCSRFConfig() config.CSRFConfig {
	return config.CSRFConfig{
		SecretMaxAge:  time.Hour,
		CookieMaxAge:  24 * time.Hour,
		DoubleSubmit:  true,
		HeaderName:    "X-CSRF-Token",
		FormFieldName: "csrf_token",
	}
}

func newCSRFGuardForTest(t *testing.T, cfg config.CSRFConfig) (*CSRFGuard, CSRFSecretStore) {
	t.Helper()
	_, client := newRedisClientForTest(t)
	store := NewRedisCSRFSecretStore(client, "test")
	return NewCSRFGuard(store, cfg), store
}

func csrfRequest(method, token, tokenID string) *http.Request {
	r := httptest.NewRequest(method, "/auth/refresh", nil)
	if token != "" {
		r.Header.Set("X-CSRF-Token", token)
	}
	if tokenID != "" {
		r.AddCookie(&http.Cookie{Name: security.CSRFIDCookie, Value: tokenID})
	}
	return r
}

func TestCSRFGuardIssueAndValidate(t *testing.T) {
	guard, _ := newCSRFGuardForTest(t, testCSRFConfig())
	ctx := context.Background()

	token, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	if !strings.HasPrefix(token.Token, token.TokenID+".") {
		t.Fatalf("token %q must embed its id", token.Token)
	}

	if err := guard.Validate(ctx, csrfRequest(http.MethodPost, token.Token, token.TokenID), "sess-1"); err != nil {
		t.Fatalf("validate: %v", err)
	}

	// reissue before rotation returns the same token
	again, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if again.Token != token.Token {
		t.Fatal("reissue within the secret lifetime must be stable")
	}
}

func TestCSRFGuardSafeMethodsExempt(t *testing.T) {
	guard, _ := newCSRFGuardForTest(t, testCSRFConfig())
	for _, method := range []string{http.MethodGet, http.MethodHead, http.MethodOptions} {
		if err := guard.Validate(context.Background(), csrfRequest(method, "", ""), "sess-1"); err != nil {
			t.Fatalf("%s must be exempt: %v", method, err)
		}
	}
}

func TestCSRFGuardAllowedPathsExempt(t *testing.T) {
	cfg := testCSRFConfig()
	cfg.AllowedPaths = []string{"/auth/refresh"}
	guard, _ := newCSRFGuardForTest(t, cfg)
	if err := guard.Validate(context.Background(), csrfRequest(http.MethodPost, "", ""), "sess-1"); err != nil {
		t.Fatalf("allow-listed path must be exempt: %v", err)
	}
}

func TestCSRFGuardRejectsMissingAndMalformed(t *testing.T) {
	guard, _ := newCSRFGuardForTest(t, testCSRFConfig())
	ctx := context.Background()

	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, "", ""), "sess-1"), CodeCSRFMissing)
	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, "no-dot-separator", ""), "sess-1"), CodeCSRFInvalid)
}

func TestCSRFGuardRejectsForgedMAC(t *testing.T) {
	guard, _ := newCSRFGuardForTest(t, testCSRFConfig())
	ctx := context.Background()

	token, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	forged := token.TokenID + "." + strings.Repeat("ab", 32)
	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, forged, token.TokenID), "sess-1"), CodeCSRFInvalid)
}

func TestCSRFGuardRejectsForeignSession(t *testing.T) {
	guard, _ := newCSRFGuardForTest(t, testCSRFConfig())
	ctx := context.Background()

	token, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	// no secret exists for the other session
	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, token.Token, token.TokenID), "sess-2"), CodeCSRFExpired)
}

func TestCSRFGuardDoubleSubmitMismatch(t *testing.T) {
	guard, _ := newCSRFGuardForTest(t, testCSRFConfig())
	ctx := context.Background()

	token, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}
	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, token.Token, "some-other-id"), "sess-1"), CodeCSRFIDMismatch)
	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, token.Token, ""), "sess-1"), CodeCSRFIDMismatch)
}

func TestCSRFGuardRotatesAgedSecret(t *testing.T) {
	guard, store := newCSRFGuardForTest(t, testCSRFConfig())
	ctx := context.Background()

	token, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	// age the stored secret past its max age
	secret, tokenID, _, _, err := store.Get(ctx, "sess-1")
	if err != nil {
		t.Fatalf("read secret: %v", err)
	}
	stale := time.Now().UTC().Add(-2 * time.Hour)
	if err := store.Put(ctx, "sess-1", secret, tokenID, stale, 24*time.Hour); err != nil {
		t.Fatalf("age secret: %v", err)
	}

	wantCode(t, guard.Validate(ctx, csrfRequest(http.MethodPost, token.Token, token.TokenID), "sess-1"), CodeCSRFExpired)

	rotated, err := guard.Issue(ctx, "sess-1")
	if err != nil {
		t.Fatalf("reissue: %v", err)
	}
	if rotated.TokenID == token.TokenID {
		t.Fatal("aged secret must rotate on reissue")
	}
	if err := guard.Validate(ctx, csrfRequest(http.MethodPost, rotated.Token, rotated.TokenID), "sess-1"); err != nil {
		t.Fatalf("rotated token must validate: %v", err)
	}
}
