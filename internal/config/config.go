package config

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/viper"
)

type HTTPConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
	IdleTimeout  time.Duration
	CookieSecure bool
	CORSOrigins  []string
}

type DatabaseConfig struct {
	Driver          string
	DSN             string
	MaxOpen         int
	MaxIdle         int
	ConnMaxLifetime time.Duration
}

type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	Timeout  time.Duration
}

type JWTConfig struct {
	Issuer        string
	Audience      string
	AccessSecret  string
	RefreshSecret string
	Pepper        string
	AccessTTL     time.Duration
	RefreshTTL    time.Duration
	RememberMeTTL time.Duration
	TwoFactorTTL  time.Duration
}

type SessionConfig struct {
	TTL           time.Duration
	RememberMeTTL time.Duration
	Retention     time.Duration
}

// DeviceBindingPolicy is the single source of truth for device binding.
// TokenService and SessionService both consume this struct so the two can
// never disagree on whether binding is enforced.
type DeviceBindingPolicy struct {
	EnforceSessions     bool
	EnforceTokens       bool
	RequireVerification bool
}

type SecurityConfig struct {
	MaxAttemptsPerDevice    int
	DeviceWindow            time.Duration
	MaxAttemptsPerIP        int
	IPWindow                time.Duration
	LockoutThreshold        int
	LockoutDuration         time.Duration
	MinLatency              time.Duration
	ProgressiveDelayEnabled bool
	ProgressiveDelayBase    time.Duration
	ProgressiveDelayMax     time.Duration
	KnownDeviceTTL          time.Duration
	ImpossibleTravelKmh     float64
	ImpossibleTravelBlock   bool
	UnusualHourStart        int
	UnusualHourEnd          int
	HighRiskCountries       []string
	BlockedCountries        []string
	BreachCheckEnabled      bool
	BreachCheckURL          string
	BreachCheckTimeout      time.Duration
	BreachCacheTTL          time.Duration
	BcryptCost              int
	DeviceBinding           DeviceBindingPolicy
}

type CSRFConfig struct {
	SecretMaxAge  time.Duration
	CookieMaxAge  time.Duration
	DoubleSubmit  bool
	AllowedPaths  []string
	HeaderName    string
	FormFieldName string
}

type RateLimitConfig struct {
	APIRequestsPerMinute  int
	AuthRequestsPerMinute int
	FailureMode           string
}

type TelemetryConfig struct {
	ServiceName     string
	Environment     string
	MetricsEnabled  bool
	TracingEnabled  bool
	OTLPEndpoint    string
	OTLPInsecure    bool
	MetricsInterval time.Duration
	HTTPEnabled     bool
}

type Config struct {
	Environment string
	HTTP        HTTPConfig
	Database    DatabaseConfig
	Redis       RedisConfig
	JWT         JWTConfig
	Session     SessionConfig
	Security    SecurityConfig
	CSRF        CSRFConfig
	RateLimit   RateLimitConfig
	Telemetry   TelemetryConfig
}

func Load() (*Config, error) {
	v := viper.New()
	v.SetConfigName("config")
	v.SetConfigType("yaml")
	v.AddConfigPath(".")
	v.AddConfigPath("./config")

	v.SetEnvPrefix("AUTHSVC")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	setDefaults(v)

	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			err = fmt.Errorf("load config file: %w", err)
			recordConfigValidationEvent(context.Background(), v.GetString("environment"), "failure", classifyConfigLoadError(err))
			return nil, err
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg, func(dc *mapstructure.DecoderConfig) {
		dc.DecodeHook = mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToSliceHookFunc(","),
		)
	}); err != nil {
		err = fmt.Errorf("parse config: %w", err)
		recordConfigValidationEvent(context.Background(), v.GetString("environment"), "failure", classifyConfigLoadError(err))
		return nil, err
	}

	if err := cfg.Validate(); err != nil {
		err = fmt.Errorf("validate config: %w", err)
		recordConfigValidationEvent(context.Background(), cfg.Environment, "failure", classifyConfigLoadError(err))
		return nil, err
	}
	recordConfigValidationEvent(context.Background(), cfg.Environment, "success", "none")
	return &cfg, nil
}

func (c *Config) Validate() error {
	if len(c.JWT.AccessSecret) < 32 {
		return fmt.Errorf("jwt.accesssecret must be at least 32 bytes")
	}
	if len(c.JWT.RefreshSecret) < 32 {
		return fmt.Errorf("jwt.refreshsecret must be at least 32 bytes")
	}
	if c.JWT.AccessSecret == c.JWT.RefreshSecret {
		return fmt.Errorf("jwt access and refresh secrets must differ")
	}
	if c.JWT.Pepper == "" {
		return fmt.Errorf("jwt.pepper is required")
	}
	switch c.Database.Driver {
	case "postgres", "sqlite":
	default:
		return fmt.Errorf("database.driver must be postgres or sqlite, got %q", c.Database.Driver)
	}
	if c.Security.LockoutThreshold <= 0 {
		return fmt.Errorf("security.lockoutthreshold must be positive")
	}
	switch c.RateLimit.FailureMode {
	case "fail_open", "fail_closed":
	default:
		return fmt.Errorf("ratelimit.failuremode must be fail_open or fail_closed")
	}
	return nil
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("environment", "development")

	v.SetDefault("http.host", "0.0.0.0")
	v.SetDefault("http.port", 8080)
	v.SetDefault("http.readtimeout", "10s")
	v.SetDefault("http.writetimeout", "15s")
	v.SetDefault("http.idletimeout", "60s")
	v.SetDefault("http.cookiesecure", true)
	v.SetDefault("http.corsorigins", []string{})

	v.SetDefault("database.driver", "postgres")
	v.SetDefault("database.dsn", "")
	v.SetDefault("database.maxopen", 30)
	v.SetDefault("database.maxidle", 10)
	v.SetDefault("database.connmaxlifetime", "30m")

	v.SetDefault("redis.addr", "127.0.0.1:6379")
	v.SetDefault("redis.password", "")
	v.SetDefault("redis.db", 0)
	v.SetDefault("redis.timeout", "2s")

	// secrets are env-only; registering them keeps AutomaticEnv in play
	v.SetDefault("jwt.accesssecret", "")
	v.SetDefault("jwt.refreshsecret", "")
	v.SetDefault("jwt.pepper", "")
	v.SetDefault("jwt.issuer", "deskrelay-auth")
	v.SetDefault("jwt.audience", "deskrelay")
	v.SetDefault("jwt.accessttl", "15m")
	v.SetDefault("jwt.refreshttl", "168h")
	v.SetDefault("jwt.remembermettl", "720h")
	v.SetDefault("jwt.twofactorttl", "5m")

	v.SetDefault("session.ttl", "24h")
	v.SetDefault("session.remembermettl", "720h")
	v.SetDefault("session.retention", "720h")

	v.SetDefault("security.maxattemptsperdevice", 5)
	v.SetDefault("security.devicewindow", "15m")
	v.SetDefault("security.maxattemptsperip", 20)
	v.SetDefault("security.ipwindow", "15m")
	v.SetDefault("security.lockoutthreshold", 5)
	v.SetDefault("security.lockoutduration", "30m")
	v.SetDefault("security.minlatency", "250ms")
	v.SetDefault("security.progressivedelayenabled", false)
	v.SetDefault("security.progressivedelaybase", "100ms")
	v.SetDefault("security.progressivedelaymax", "3s")
	v.SetDefault("security.knowndevicettl", "2160h")
	v.SetDefault("security.impossibletravelkmh", 1000.0)
	v.SetDefault("security.impossibletravelblock", false)
	v.SetDefault("security.unusualhourstart", 2)
	v.SetDefault("security.unusualhourend", 5)
	v.SetDefault("security.highriskcountries", []string{})
	v.SetDefault("security.blockedcountries", []string{})
	v.SetDefault("security.breachcheckenabled", true)
	v.SetDefault("security.breachcheckurl", "https://api.pwnedpasswords.com/range")
	v.SetDefault("security.breachchecktimeout", "2s")
	v.SetDefault("security.breachcachettl", "1h")
	v.SetDefault("security.bcryptcost", 12)
	v.SetDefault("security.devicebinding.enforcesessions", true)
	v.SetDefault("security.devicebinding.enforcetokens", true)
	v.SetDefault("security.devicebinding.requireverification", false)

	v.SetDefault("csrf.secretmaxage", "12h")
	v.SetDefault("csrf.cookiemaxage", "24h")
	v.SetDefault("csrf.doublesubmit", true)
	v.SetDefault("csrf.allowedpaths", []string{})
	v.SetDefault("csrf.headername", "X-XSRF-TOKEN")
	v.SetDefault("csrf.formfieldname", "_csrf")

	v.SetDefault("ratelimit.apirequestsperminute", 300)
	v.SetDefault("ratelimit.authrequestsperminute", 30)
	v.SetDefault("ratelimit.failuremode", "fail_closed")

	v.SetDefault("telemetry.servicename", "auth-session-service")
	v.SetDefault("telemetry.environment", "development")
	v.SetDefault("telemetry.metricsenabled", false)
	v.SetDefault("telemetry.tracingenabled", false)
	v.SetDefault("telemetry.otlpendpoint", "127.0.0.1:4317")
	v.SetDefault("telemetry.otlpinsecure", true)
	v.SetDefault("telemetry.metricsinterval", "30s")
	v.SetDefault("telemetry.httpenabled", false)
}
