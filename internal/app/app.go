package app

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"golang.org/x/sync/errgroup"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/deskrelay/auth-session-service/internal/config"
	"github.com/deskrelay/auth-session-service/internal/domain"
	"github.com/deskrelay/auth-session-service/internal/http/handler"
	"github.com/deskrelay/auth-session-service/internal/http/middleware"
	"github.com/deskrelay/auth-session-service/internal/http/router"
	"github.com/deskrelay/auth-session-service/internal/jobs"
	"github.com/deskrelay/auth-session-service/internal/observability"
	"github.com/deskrelay/auth-session-service/internal/repository"
	"github.com/deskrelay/auth-session-service/internal/security"
	"github.com/deskrelay/auth-session-service/internal/service"
)

type App struct {
	Config        *config.Config
	Logger        *slog.Logger
	Server        *http.Server
	Scheduler     *jobs.Scheduler
	Observability *observability.Runtime

	db    *gorm.DB
	redis *redis.Client
}

// New wires the whole service by hand. The dependency graph is small enough
// that explicit construction stays readable and keeps startup order obvious.
func New(ctx context.Context, cfg *config.Config) (*App, error) {
	logger := newLogger(cfg.Environment)
	slog.SetDefault(logger)

	runtime, err := observability.InitRuntime(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init observability: %w", err)
	}

	db, err := openDatabase(cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	if err := db.AutoMigrate(&domain.User{}, &domain.Session{}, &domain.TokenRecord{}); err != nil {
		return nil, fmt.Errorf("migrate schema: %w", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:         cfg.Redis.Addr,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		DialTimeout:  cfg.Redis.Timeout,
		ReadTimeout:  cfg.Redis.Timeout,
		WriteTimeout: cfg.Redis.Timeout,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, fmt.Errorf("ping redis: %w", err)
	}

	userRepo := repository.NewUserRepository(db)
	sessionRepo := repository.NewSessionRepository(db)
	tokenRepo := repository.NewTokenRepository(db)

	jwtMgr := security.NewJWTManager(cfg.JWT.Issuer, cfg.JWT.Audience, cfg.JWT.AccessSecret, cfg.JWT.RefreshSecret)

	blacklist := service.NewRedisBlacklistStore(rdb, "auth")
	counters := service.NewRedisRateCounterStore(rdb, "auth")
	devices := service.NewRedisDeviceStore(rdb, "auth")
	twoFactor := service.NewRedisTwoFactorStore(rdb, "auth")
	csrfSecrets := service.NewRedisCSRFSecretStore(rdb, "auth")

	breach := service.NewBreachChecker(cfg.Security.BreachCheckURL, cfg.Security.BreachCheckTimeout)

	tokenSvc := service.NewTokenService(
		jwtMgr, tokenRepo, blacklist, userRepo,
		cfg.Security.DeviceBinding, cfg.JWT.Pepper,
		cfg.JWT.AccessTTL, cfg.JWT.RefreshTTL, cfg.JWT.RememberMeTTL,
	)
	sessionSvc := service.NewSessionService(
		sessionRepo, tokenRepo,
		cfg.Security.DeviceBinding,
		cfg.Session.TTL, cfg.Session.RememberMeTTL,
	)
	securitySvc := service.NewSecurityService(
		userRepo, counters, devices,
		service.NoopGeoResolver{}, breach,
		service.NewRedisBreachCache(rdb, "auth:breach"),
		cfg.Security, cfg.JWT.Pepper,
	)
	csrfGuard := service.NewCSRFGuard(csrfSecrets, cfg.CSRF)
	authSvc := service.NewAuthService(
		userRepo, tokenSvc, sessionSvc, securitySvc,
		twoFactor, service.DropTwoFactorSender{},
		cfg.JWT, cfg.Session,
	)

	authHandler := handler.NewAuthHandler(authSvc, csrfGuard, cfg)

	mux := router.NewRouter(router.Dependencies{
		AuthHandler:      authHandler,
		TokenService:     tokenSvc,
		CSRFGuard:        csrfGuard,
		JWTManager:       jwtMgr,
		CORSOrigins:      cfg.HTTP.CORSOrigins,
		APIRateLimitRPM:  cfg.RateLimit.APIRequestsPerMinute,
		AuthRateLimitRPM: cfg.RateLimit.AuthRequestsPerMinute,
		RateLimiter:      middleware.NewRedisFixedWindowLimiter(rdb, "ratelimit"),
		FailureMode:      middleware.FailureMode(cfg.RateLimit.FailureMode),
		ReadyChecks: map[string]router.ReadyCheck{
			"redis": func(ctx context.Context) error { return rdb.Ping(ctx).Err() },
			"database": func(ctx context.Context) error {
				sqlDB, err := db.DB()
				if err != nil {
					return err
				}
				return sqlDB.PingContext(ctx)
			},
		},
		EnableOTelHTTP: cfg.Telemetry.HTTPEnabled,
	})

	server := &http.Server{
		Addr:         fmt.Sprintf("%s:%d", cfg.HTTP.Host, cfg.HTTP.Port),
		Handler:      mux,
		ReadTimeout:  cfg.HTTP.ReadTimeout,
		WriteTimeout: cfg.HTTP.WriteTimeout,
		IdleTimeout:  cfg.HTTP.IdleTimeout,
	}

	scheduler := jobs.NewScheduler(sessionRepo, tokenRepo, cfg.Session.Retention, logger)

	return &App{
		Config:        cfg,
		Logger:        logger,
		Server:        server,
		Scheduler:     scheduler,
		Observability: runtime,
		db:            db,
		redis:         rdb,
	}, nil
}

// Run serves HTTP and the background jobs until the context is cancelled,
// then shuts everything down in reverse order.
func (a *App) Run(ctx context.Context) error {
	if err := a.Scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		a.Logger.Info("http server listening", "addr", a.Server.Addr)
		if err := a.Server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		return a.shutdown()
	})
	return g.Wait()
}

func (a *App) shutdown() error {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	a.Logger.Info("shutting down")
	var errs []error
	if err := a.Server.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("http shutdown: %w", err))
	}
	a.Scheduler.Stop(ctx)
	if err := a.redis.Close(); err != nil {
		errs = append(errs, fmt.Errorf("close redis: %w", err))
	}
	if sqlDB, err := a.db.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			errs = append(errs, fmt.Errorf("close database: %w", err))
		}
	}
	if err := a.Observability.Shutdown(ctx); err != nil {
		errs = append(errs, fmt.Errorf("observability shutdown: %w", err))
	}
	return errors.Join(errs...)
}

func openDatabase(cfg config.DatabaseConfig) (*gorm.DB, error) {
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unsupported database driver %q", cfg.Driver)
	}

	db, err := gorm.Open(dialector, &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Warn),
	})
	if err != nil {
		return nil, err
	}
	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.MaxOpen)
	sqlDB.SetMaxIdleConns(cfg.MaxIdle)
	sqlDB.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	return db, nil
}

func newLogger(environment string) *slog.Logger {
	level := slog.LevelInfo
	if environment == "development" {
		level = slog.LevelDebug
	}
	return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
}
