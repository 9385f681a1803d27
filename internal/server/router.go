package server

import (
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/cartoncaps/referral-api/internal/auth"
	"github.com/cartoncaps/referral-api/internal/handler"
	"github.com/cartoncaps/referral-api/internal/metrics"
	"github.com/cartoncaps/referral-api/internal/middleware"
	"github.com/cartoncaps/referral-api/internal/service"
)

// publicRateLimitScope names the bucket shared by the unauthenticated
// referral code endpoints.
const publicRateLimitScope = "referral_code"

// RouterConfig carries everything the route table needs.
type RouterConfig struct {
	Logger   *slog.Logger
	Service  *service.ReferralService
	Resolver auth.Resolver
	Version  string

	// RateLimiter backs per-IP limiting of the public code endpoints.
	// Nil disables limiting.
	RateLimiter    middleware.IPRateLimiter
	RateLimitRPS   int
	RateLimitBurst int

	// Recorder receives request metrics; Gatherer is served on /metrics.
	Recorder metrics.Recorder
	Gatherer prometheus.Gatherer

	// Dependencies are pinged by /readyz.
	Dependencies []handler.Dependency

	IsDevelopment      bool
	CORSAllowedOrigins []string
	MaxRequestBodySize int64
}

// NewRouter builds the chi router with all routes and middleware.
func NewRouter(cfg RouterConfig) *chi.Mux {
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	recorder := cfg.Recorder
	if recorder == nil {
		recorder = metrics.NewNoop()
	}
	maxBody := cfg.MaxRequestBodySize
	if maxBody <= 0 {
		maxBody = 1 << 20
	}

	h := handler.New(cfg.Version)
	healthHandler := handler.NewHealthHandler(cfg.Dependencies...)
	referralHandler := handler.NewReferralHandler(cfg.Service, logger)

	corsCfg := middleware.DefaultCORSConfig()
	corsCfg.AllowedOrigins = cfg.CORSAllowedOrigins

	r := chi.NewRouter()

	// Global middleware
	r.Use(chimiddleware.RealIP)
	r.Use(middleware.RequestID)
	r.Use(middleware.Logger(logger))
	r.Use(middleware.Recoverer(logger))
	r.Use(middleware.Metrics(recorder))
	r.Use(middleware.Security(middleware.SecurityConfig{IsDevelopment: cfg.IsDevelopment}))
	r.Use(middleware.CORS(corsCfg))
	r.Use(middleware.MaxBodySize(maxBody))

	// Operational endpoints
	r.Get("/healthz", healthHandler.Healthz)
	r.Get("/readyz", healthHandler.Readyz)
	r.Method(http.MethodGet, "/metrics", handler.NewMetricsHandler(cfg.Gatherer))
	r.Get("/", h.Index)

	rateLimit := middleware.RateLimitIP(middleware.RateLimitConfig{
		Logger:  logger,
		Limiter: cfg.RateLimiter,
		Enabled: cfg.RateLimiter != nil,
		Scope:   publicRateLimitScope,
		RPS:     cfg.RateLimitRPS,
		Burst:   cfg.RateLimitBurst,
	})

	r.Route("/api/referrals", func(r chi.Router) {
		// Caller-scoped routes
		r.Group(func(r chi.Router) {
			r.Use(middleware.Identity(cfg.Resolver, logger))
			r.Get("/", referralHandler.List)
			r.Post("/", referralHandler.Create)
			r.Get("/stats", referralHandler.Stats)
			r.Get("/{id}", referralHandler.Get)
		})

		// Public code routes, hit by deep links and the install/registration flow
		r.Group(func(r chi.Router) {
			r.Use(rateLimit)
			r.Get("/code/{code}", referralHandler.GetByCode)
			r.Post("/code/{code}/installed", referralHandler.MarkInstalled)
			r.Post("/code/{code}/completed", referralHandler.MarkCompleted)
		})
	})

	r.NotFound(h.NotFound)
	r.MethodNotAllowed(h.MethodNotAllowed)

	return r
}
