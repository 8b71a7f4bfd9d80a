package router

import (
	"context"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/deskrelay/auth-session-service/internal/http/handler"
	"github.com/deskrelay/auth-session-service/internal/http/middleware"
	"github.com/deskrelay/auth-session-service/internal/http/response"
	"github.com/deskrelay/auth-session-service/internal/security"
	"github.com/deskrelay/auth-session-service/internal/service"
)

type ReadyCheck func(ctx context.Context) error

type Dependencies struct {
	AuthHandler      *handler.AuthHandler
	TokenService     *service.TokenService
	CSRFGuard        *service.CSRFGuard
	JWTManager       *security.JWTManager
	CORSOrigins      []string
	APIRateLimitRPM  int
	AuthRateLimitRPM int
	RateLimiter      middleware.Limiter
	FailureMode      middleware.FailureMode
	ReadyChecks      map[string]ReadyCheck
	EnableOTelHTTP   bool
}

func NewRouter(dep Dependencies) http.Handler {
	r := chi.NewRouter()
	r.Use(chimiddleware.RealIP)
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Recoverer)
	r.Use(middleware.StructuredRequestLogger)
	r.Use(middleware.SecurityHeaders)
	r.Use(middleware.CORS(dep.CORSOrigins))
	r.Use(middleware.BodyLimit(1 << 20))

	limiter := dep.RateLimiter
	if limiter == nil {
		limiter = middleware.NewLocalFixedWindowLimiter()
	}
	mode := dep.FailureMode
	if mode == "" {
		mode = middleware.FailClosed
	}
	r.Use(middleware.NewDistributedRateLimiterWithKey(
		limiter, dep.APIRateLimitRPM, time.Minute, mode, "api",
		middleware.SubjectOrIPKeyFunc(dep.JWTManager),
	).Middleware())
	authLimiter := middleware.NewDistributedRateLimiter(
		limiter, dep.AuthRateLimitRPM, time.Minute, mode, "auth",
	).Middleware()

	r.Get("/health/live", func(w http.ResponseWriter, r *http.Request) {
		response.JSON(w, r, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/health/ready", func(w http.ResponseWriter, r *http.Request) {
		checks := map[string]string{}
		ready := true
		for name, check := range dep.ReadyChecks {
			if err := check(r.Context()); err != nil {
				checks[name] = err.Error()
				ready = false
				continue
			}
			checks[name] = "ok"
		}
		if ready {
			response.JSON(w, r, http.StatusOK, map[string]any{"status": "ready", "checks": checks})
			return
		}
		response.Error(w, r, http.StatusServiceUnavailable, "DEPENDENCY_UNREADY", "dependencies are not ready", map[string]any{"checks": checks})
	})

	requireAuth := middleware.AuthMiddleware(dep.TokenService)
	optionalAuth := middleware.OptionalAuthMiddleware(dep.TokenService)
	requireCSRF := middleware.CSRFMiddleware(dep.CSRFGuard, dep.TokenService)

	r.Route("/auth", func(r chi.Router) {
		r.With(authLimiter).Post("/login", dep.AuthHandler.Login)
		r.With(authLimiter).Post("/verify-2fa", dep.AuthHandler.VerifyTwoFactor)
		r.With(authLimiter, requireCSRF).Post("/refresh", dep.AuthHandler.Refresh)
		r.Post("/logout", dep.AuthHandler.Logout)
		r.With(requireAuth).Get("/session", dep.AuthHandler.Session)
		r.With(requireAuth).Get("/sessions", dep.AuthHandler.Sessions)
		// csrf bootstrap must stay reachable with only the refresh cookie,
		// or an aged-out csrf secret would strand valid refresh tokens
		r.With(optionalAuth).Get("/csrf", dep.AuthHandler.CSRFToken)
		r.With(requireAuth, requireCSRF).Post("/terminate-sessions", dep.AuthHandler.TerminateSessions)
	})

	var h http.Handler = r
	if dep.EnableOTelHTTP {
		h = otelhttp.NewHandler(r, "http.server")
	}
	return h
}
