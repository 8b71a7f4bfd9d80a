package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/observability"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
)

type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// dummyHash is compared when the account does not exist, so the lookup-miss
// path pays the same bcrypt cost as a real password check.
const dummyHash = "$2a$12$R9h/cIPz0gi.URNNX3kh2OPST9/PgBkqquzi.Ss7KIUgO2t0jWMUW"

type SecurityService struct {
	userRepo    repository.UserRepository
	counters    RateCounterStore
	devices     DeviceStore
	geo         GeoResolver
	breach      *BreachChecker
	breachCache BreachCache
	cfg         config.SecurityConfig
	pepper      string

	// sleep is swapped out in tests; production uses context-aware sleep.
	sleep func(ctx context.Context, d time.Duration)
}

func NewSecurityService(
	userRepo repository.UserRepository,
	counters RateCounterStore,
	devices DeviceStore,
	geo GeoResolver,
	breach *BreachChecker,
	breachCache BreachCache,
	cfg config.SecurityConfig,
	pepper string,
) *SecurityService {
	if breachCache == nil {
		breachCache = NoopBreachCache{}
	}
	return &SecurityService{
		userRepo:    userRepo,
		counters:    counters,
		devices:     devices,
		geo:         geo,
		breach:      breach,
		breachCache: breachCache,
		cfg:         cfg,
		pepper:      pepper,
		sleep:       sleepCtx,
	}
}

func sleepCtx(ctx context.Context, d time.Duration) {
	if d <= 0 {
		return
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
	case <-t.C:
	}
}

// CheckRateLimit enforces two independent windows: one per
// (identifier, device) and one per source IP. The error shape is identical
// whether or not the identifier maps to a real account. Counter-store
// failures fail closed; rate limiting is security-critical.
func (s *SecurityService) CheckRateLimit(ctx context.Context, identifier string, device DeviceInfo) error {
	idKey := s.deviceCounterKey(identifier, device)
	count, remaining, err := s.counters.Increment(ctx, idKey, s.cfg.DeviceWindow)
	if err != nil {
		return fmt.Errorf("rate counter increment: %w", err)
	}
	if count > int64(s.cfg.MaxAttemptsPerDevice) {
		return E(CodeRateLimitExceeded, "too many attempts, try again later").
			WithDetail("retryAfter", int64(remaining.Seconds()))
	}

	ipKey := "login:ip:" + device.IPAddress
	count, remaining, err = s.counters.Increment(ctx, ipKey, s.cfg.IPWindow)
	if err != nil {
		return fmt.Errorf("rate counter increment: %w", err)
	}
	if count > int64(s.cfg.MaxAttemptsPerIP) {
		return E(CodeRateLimitExceeded, "too many attempts, try again later").
			WithDetail("retryAfter", int64(remaining.Seconds()))
	}
	return nil
}

// ValidateCredentials is the credential-check step with every risk control
// around it. All exits, success and failure alike, pass through the
// minimum-latency gate so callers cannot distinguish outcomes by timing.
func (s *SecurityService) ValidateCredentials(ctx context.Context, creds Credentials, device DeviceInfo) (*domain.User, error) {
	start := time.Now()
	user, err := s.validateCredentials(ctx, creds, device)
	s.padLatency(ctx, start)
	return user, err
}

func (s *SecurityService) validateCredentials(ctx context.Context, creds Credentials, device DeviceInfo) (*domain.User, error) {
	if err := s.CheckRateLimit(ctx, creds.Email, device); err != nil {
		return nil, err
	}

	user, err := s.userRepo.FindByEmail(ctx, creds.Email)
	if err != nil {
		if errors.Is(err, repository.ErrUserNotFound) {
			// equalize work with the real-account path
			security.VerifyPassword(dummyHash, creds.Password)
			return nil, E(CodeInvalidCredentials, "invalid email or password")
		}
		return nil, fmt.Errorf("lookup user: %w", err)
	}

	if !user.IsActive {
		return nil, E(CodeAccountInactive, "account is deactivated")
	}

	now := time.Now()
	if user.Locked(now) {
		return nil, E(CodeAccountLocked, "account is temporarily locked").
			WithDetail("remainingTime", int64(user.LockRemaining(now).Seconds()))
	}

	if !security.VerifyPassword(user.PasswordHash, creds.Password) {
		return nil, s.registerFailure(ctx, user, device)
	}

	known, err := s.devices.IsKnownDevice(ctx, user.ID, s.deviceHash(device.Fingerprint))
	if err != nil {
		// unknown-device detection is advisory; degrade to "unknown"
		observability.SecurityEvent(ctx, "device_lookup_failed", "user_id", user.ID, "error", err.Error())
		known = false
	}
	if !known {
		if s.cfg.DeviceBinding.RequireVerification {
			return nil, E(CodeDeviceVerificationRequired, "sign-in from a new device requires verification")
		}
		observability.SecurityEvent(ctx, "new_device_login",
			"user_id", user.ID,
			"ip", device.IPAddress,
			"user_agent", device.UserAgent,
		)
	}

	if user.LoginAttempts > 0 || user.LockUntil != nil {
		if err := s.userRepo.ClearLock(ctx, user.ID); err != nil {
			return nil, fmt.Errorf("clear lock: %w", err)
		}
	}
	// the device window stops counting once the owner proves themselves;
	// the IP window is shared across accounts and keeps counting
	if err := s.counters.Reset(ctx, s.deviceCounterKey(creds.Email, device)); err != nil {
		observability.SecurityEvent(ctx, "rate_counter_reset_failed", "error", err.Error())
	}
	return user, nil
}

func (s *SecurityService) deviceCounterKey(identifier string, device DeviceInfo) string {
	return fmt.Sprintf("login:id:%s:%s", repository.NormalizeEmail(identifier), device.Fingerprint)
}

// registerFailure counts the failed attempt, locks the account past the
// threshold, and applies the optional progressive delay. The returned error
// is always INVALID_CREDENTIALS unless this attempt triggered the lock.
func (s *SecurityService) registerFailure(ctx context.Context, user *domain.User, device DeviceInfo) error {
	attempts, err := s.userRepo.RecordFailedAttempt(ctx, user.ID)
	if err != nil {
		return fmt.Errorf("record failed attempt: %w", err)
	}

	if s.cfg.ProgressiveDelayEnabled && attempts > 1 {
		delay := s.cfg.ProgressiveDelayMax
		if shift := attempts - 2; shift < 16 {
			if d := s.cfg.ProgressiveDelayBase << shift; d < delay {
				delay = d
			}
		}
		s.sleep(ctx, delay)
	}

	if attempts >= s.cfg.LockoutThreshold {
		until := time.Now().Add(s.cfg.LockoutDuration)
		if err := s.userRepo.SetLock(ctx, user.ID, until); err != nil {
			return fmt.Errorf("set lock: %w", err)
		}
		observability.SecurityAlert(ctx, "account_locked",
			"user_id", user.ID,
			"attempts", attempts,
			"ip", device.IPAddress,
		)
		observability.RecordLockout("failed_attempts")
		return E(CodeAccountLocked, "account is temporarily locked").
			WithDetail("remainingTime", int64(s.cfg.LockoutDuration.Seconds()))
	}
	return E(CodeInvalidCredentials, "invalid email or password")
}

// padLatency stretches the elapsed time of the caller up to the configured
// floor. The floor is the canonical timing-attack mitigation; any
// progressive-delay penalty already spent counts toward it.
func (s *SecurityService) padLatency(ctx context.Context, start time.Time) {
	if s.cfg.MinLatency <= 0 {
		return
	}
	s.sleep(ctx, s.cfg.MinLatency-time.Since(start))
}

// SecurityContext summarizes the risk signals for a login, returned to the
// client alongside tokens.
type SecurityContext struct {
	NewDevice bool     `json:"newDevice"`
	Anomalies []string `json:"anomalies,omitempty"`
	Country   string   `json:"country,omitempty"`
}

// ValidateLoginAttempt runs the anomaly heuristics after credentials have
// already been verified. Everything here observes and logs; only impossible
// travel may block, and only when explicitly enabled.
func (s *SecurityService) ValidateLoginAttempt(ctx context.Context, user *domain.User, device DeviceInfo) (*SecurityContext, error) {
	secCtx := &SecurityContext{}

	known, err := s.devices.IsKnownDevice(ctx, user.ID, s.deviceHash(device.Fingerprint))
	if err != nil {
		known = false
	}
	secCtx.NewDevice = !known

	loc, err := s.geo.Resolve(ctx, device.IPAddress)
	if err != nil {
		// geo resolution is advisory and must not block authentication
		observability.SecurityEvent(ctx, "geo_lookup_failed", "ip", device.IPAddress, "error", err.Error())
		loc = Location{}
	}
	loc.At = time.Now().UTC()
	secCtx.Country = loc.Country

	if loc.Known() {
		if prev, found, err := s.devices.LastLocation(ctx, user.ID); err == nil && found {
			if speed := travelSpeedKmh(prev, loc); speed > s.cfg.ImpossibleTravelKmh {
				action := "observed"
				if s.cfg.ImpossibleTravelBlock {
					action = "blocked"
				}
				observability.SecurityAlert(ctx, "impossible_travel",
					"user_id", user.ID,
					"speed_kmh", int(speed),
					"from", prev.Country,
					"to", loc.Country,
				)
				observability.RecordAnomaly(ctx, "impossible_travel", action)
				secCtx.Anomalies = append(secCtx.Anomalies, "impossible_travel")
				if s.cfg.ImpossibleTravelBlock {
					return nil, E(CodeSuspiciousLogin, "login location change is not plausible")
				}
			}
		}
		if err := s.devices.SetLastLocation(ctx, user.ID, loc, s.cfg.KnownDeviceTTL); err != nil {
			observability.SecurityEvent(ctx, "location_store_failed", "user_id", user.ID, "error", err.Error())
		}
	}

	if unusualHour(time.Now(), s.cfg.UnusualHourStart, s.cfg.UnusualHourEnd) {
		observability.SecurityEvent(ctx, "unusual_hour_login", "user_id", user.ID, "hour", time.Now().Hour())
		observability.RecordAnomaly(ctx, "unusual_hour", "observed")
		secCtx.Anomalies = append(secCtx.Anomalies, "unusual_hour")
	}

	if loc.Country != "" && containsFold(s.cfg.HighRiskCountries, loc.Country) {
		observability.SecurityEvent(ctx, "high_risk_country_login", "user_id", user.ID, "country", loc.Country)
		observability.RecordAnomaly(ctx, "high_risk_country", "observed")
		secCtx.Anomalies = append(secCtx.Anomalies, "high_risk_country")
	}

	return secCtx, nil
}

// RegisterKnownDevice marks the device as seen for future new-device checks.
func (s *SecurityService) RegisterKnownDevice(ctx context.Context, userID uint, fingerprint string) error {
	return s.devices.RegisterDevice(ctx, userID, s.deviceHash(fingerprint), s.cfg.KnownDeviceTTL)
}

// IsPasswordBreached checks the password against the external breach corpus
// using the k-anonymity split. Fails open: corpus availability must never
// gate authentication.
func (s *SecurityService) IsPasswordBreached(ctx context.Context, password string) bool {
	if !s.cfg.BreachCheckEnabled || s.breach == nil {
		return false
	}
	cacheKey := security.HashToken(password, s.pepper)
	if breached, found, err := s.breachCache.Get(ctx, cacheKey); err == nil && found {
		return breached
	}
	breached, err := s.breach.Lookup(ctx, password)
	if err != nil {
		observability.SecurityEvent(ctx, "breach_check_unavailable", "error", err.Error())
		return false
	}
	if err := s.breachCache.Set(ctx, cacheKey, breached, s.cfg.BreachCacheTTL); err != nil {
		observability.SecurityEvent(ctx, "breach_cache_store_failed", "error", err.Error())
	}
	return breached
}

func (s *SecurityService) BlockIP(ctx context.Context, ip string, ttl time.Duration) error {
	observability.SecurityAlert(ctx, "ip_blocked", "ip", ip, "ttl", ttl.String())
	return s.devices.BlockIP(ctx, ip, ttl)
}

// ValidateIPRestrictions enforces the explicit IP blocklist and the geo
// country blocklist. Blocklist store failures fail closed.
func (s *SecurityService) ValidateIPRestrictions(ctx context.Context, device DeviceInfo) error {
	blocked, err := s.devices.IsIPBlocked(ctx, device.IPAddress)
	if err != nil {
		return fmt.Errorf("ip blocklist lookup: %w", err)
	}
	if blocked {
		return E(CodeIPBlocked, "requests from this address are blocked")
	}
	if len(s.cfg.BlockedCountries) == 0 {
		return nil
	}
	loc, err := s.geo.Resolve(ctx, device.IPAddress)
	if err != nil || !loc.Known() {
		return nil
	}
	if containsFold(s.cfg.BlockedCountries, loc.Country) {
		return E(CodeGeoRestricted, "access from this region is not permitted")
	}
	return nil
}

func (s *SecurityService) deviceHash(fingerprint string) string {
	return security.HashToken(fingerprint, s.pepper)
}
