package service

import (
	"context"
	"testing"
	"time"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/repository"
)

func newTokenServiceForTest(t *testing.T, binding config.DeviceBindingPolicy) (*TokenService, repository.UserRepository) {
	t.Helper()
	db := newTestDB(t)
	users := repository.NewUserRepository(db)
	tokens := repository.NewTokenRepository(db)
	_, client := newRedisClientForTest(t)
	svc := NewTokenService(
		newTestJWTManager(),
		tokens,
		NewRedisBlacklistStore(client, "test"),
		users,
		binding,
		testPepper,
		15*time.Minute,
		time.Hour,
		24*time.Hour,
	)
	return svc, users
}

func TestTokenServiceIssueAndVerify(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{EnforceTokens: true})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{DeviceFingerprint: "fp-1", SessionID: "sess-1"})
	if pair.AccessToken == "" || pair.RefreshToken == "" {
		t.Fatal("both tokens must be minted")
	}
	if pair.ExpiresIn != int64((15 * time.Minute).Seconds()) {
		t.Fatalf("expiresIn = %d", pair.ExpiresIn)
	}

	claims, err := svc.Verify(ctx, pair.AccessToken, domain.TokenTypeAccess)
	if err != nil {
		t.Fatalf("verify access: %v", err)
	}
	if claims.SessionID != "sess-1" || claims.DeviceFingerprint != "fp-1" {
		t.Fatalf("claims lost context: %+v", claims)
	}
	if _, err := svc.Verify(ctx, pair.RefreshToken, domain.TokenTypeRefresh); err != nil {
		t.Fatalf("verify refresh: %v", err)
	}

	// an access token is never acceptable where a refresh token is expected
	_, err = svc.Verify(ctx, pair.AccessToken, domain.TokenTypeRefresh)
	wantCode(t, err, CodeInvalidToken)
}

func TestTokenServiceVerifyGarbage(t *testing.T) {
	svc, _ := newTokenServiceForTest(t, config.DeviceBindingPolicy{})
	_, err := svc.Verify(context.Background(), "not-a-jwt", domain.TokenTypeAccess)
	wantCode(t, err, CodeInvalidToken)
}

func TestTokenServiceRotateIsSingleUse(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{EnforceTokens: true})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{DeviceFingerprint: "fp-1", SessionID: "sess-1"})

	fetch := func(ctx context.Context, id uint) (*domain.User, error) {
		return users.FindByID(ctx, id)
	}
	next, claims, err := svc.Rotate(ctx, pair.RefreshToken, fetch)
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}
	if claims.SessionID != "sess-1" {
		t.Fatalf("rotation must carry the session forward, got %q", claims.SessionID)
	}
	if next.RefreshToken == pair.RefreshToken {
		t.Fatal("rotation must mint a new refresh token")
	}

	// the spent token is dead for both verification and a second rotation
	_, err = svc.Verify(ctx, pair.RefreshToken, domain.TokenTypeRefresh)
	wantCode(t, err, CodeTokenRevoked)
	_, _, err = svc.Rotate(ctx, pair.RefreshToken, fetch)
	wantCode(t, err, CodeTokenRevoked)

	// the replacement still works
	if _, err := svc.Verify(ctx, next.RefreshToken, domain.TokenTypeRefresh); err != nil {
		t.Fatalf("verify rotated token: %v", err)
	}
}

func TestTokenServiceRotateKeepsRememberMe(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{SessionID: "sess-1", RememberMe: true})
	next, _, err := svc.Rotate(ctx, pair.RefreshToken, func(ctx context.Context, id uint) (*domain.User, error) {
		return users.FindByID(ctx, id)
	})
	if err != nil {
		t.Fatalf("rotate: %v", err)
	}

	claims, err := svc.Verify(ctx, next.RefreshToken, domain.TokenTypeRefresh)
	if err != nil {
		t.Fatalf("verify rotated token: %v", err)
	}
	if !claims.RememberMe {
		t.Fatal("rotation must carry the rememberMe horizon forward")
	}
	// fixture lifetimes: 1h standard, 24h rememberMe
	if remaining := claims.Remaining(time.Now()); remaining <= time.Hour {
		t.Fatalf("rotated token downgraded to the short lifetime, remaining %s", remaining)
	}
}

func TestTokenServiceVersionBumpRevokesOutstanding(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{SessionID: "sess-1"})
	if _, err := svc.Verify(ctx, pair.AccessToken, domain.TokenTypeAccess); err != nil {
		t.Fatalf("verify before bump: %v", err)
	}

	if err := users.BumpTokenVersion(ctx, user.ID); err != nil {
		t.Fatalf("bump version: %v", err)
	}
	_, err := svc.Verify(ctx, pair.AccessToken, domain.TokenTypeAccess)
	wantCode(t, err, CodeTokenRevoked)
	_, err = svc.Verify(ctx, pair.RefreshToken, domain.TokenTypeRefresh)
	wantCode(t, err, CodeTokenRevoked)
}

func TestTokenServiceBlacklist(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{SessionID: "sess-1"})
	added, err := svc.Blacklist(ctx, pair.AccessToken)
	if err != nil || !added {
		t.Fatalf("blacklist = %v,%v", added, err)
	}
	_, err = svc.Verify(ctx, pair.AccessToken, domain.TokenTypeAccess)
	wantCode(t, err, CodeTokenRevoked)

	// undecodable input is a silent no-op
	added, err = svc.Blacklist(ctx, "garbage")
	if err != nil || added {
		t.Fatalf("blacklisting garbage = %v,%v want no-op", added, err)
	}
}

func TestTokenServiceDeviceBinding(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{EnforceTokens: true})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{DeviceFingerprint: "fp-1", SessionID: "sess-1"})
	claims, err := svc.Verify(ctx, pair.AccessToken, domain.TokenTypeAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}

	if err := svc.CheckDeviceBinding(claims, "fp-1"); err != nil {
		t.Fatalf("matching fingerprint: %v", err)
	}
	wantCode(t, svc.CheckDeviceBinding(claims, "fp-other"), CodeDeviceMismatch)
}

func TestTokenServiceDeviceBindingDisabled(t *testing.T) {
	svc, users := newTokenServiceForTest(t, config.DeviceBindingPolicy{})
	ctx := context.Background()
	user := createTestUser(t, users, "agent@example.com", "correct horse")

	pair := mustIssue(t, svc, user, IssueOptions{DeviceFingerprint: "fp-1", SessionID: "sess-1"})
	claims, err := svc.Verify(ctx, pair.AccessToken, domain.TokenTypeAccess)
	if err != nil {
		t.Fatalf("verify: %v", err)
	}
	// policy off means tokens carry no fingerprint and any device passes
	if err := svc.CheckDeviceBinding(claims, "fp-anything"); err != nil {
		t.Fatalf("binding disabled must not reject: %v", err)
	}
}
