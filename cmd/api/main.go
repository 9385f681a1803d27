// Package main is the entrypoint for the referral API server.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"net/url"
	"os"
	"regexp"
	"strings"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"github.com/cartoncaps/referral-api/internal/auth"
	"github.com/cartoncaps/referral-api/internal/cache"
	"github.com/cartoncaps/referral-api/internal/config"
	"github.com/cartoncaps/referral-api/internal/events"
	"github.com/cartoncaps/referral-api/internal/handler"
	"github.com/cartoncaps/referral-api/internal/metrics"
	"github.com/cartoncaps/referral-api/internal/middleware"
	"github.com/cartoncaps/referral-api/internal/repository"
	"github.com/cartoncaps/referral-api/internal/server"
	"github.com/cartoncaps/referral-api/internal/service"
	"github.com/cartoncaps/referral-api/internal/webhook"
)

// version is overridden at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx := context.Background()

	// A local .env is optional; real environment variables win.
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		slog.Error("failed to read .env", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	logger := initLogger(cfg)

	if err := run(ctx, cfg, logger); err != nil {
		logger.Error("server error", "error", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	recorder := metrics.NewPrometheus()

	var shutdowns []namedShutdown

	// Referral store
	var (
		store      service.Store
		storeCheck handler.HealthChecker
	)
	switch cfg.StoreDriver {
	case config.StoreDriverMemory:
		mem := repository.NewMemoryStore()
		store, storeCheck = mem, mem
		logger.Warn("using in-memory store; data is lost on restart")
	default:
		repo, err := repository.New(ctx, cfg.DatabaseURL)
		if err != nil {
			logger.Error(
				"failed to connect to database",
				slog.String("error", sanitizeError(err, cfg.DatabaseURL)),
				slog.String("database_url", redactURL(cfg.DatabaseURL)),
			)
			return errors.New("database unavailable")
		}
		store, storeCheck = repo, repo
		shutdowns = append(shutdowns, namedShutdown{"database", func(context.Context) error {
			repo.Close()
			return nil
		}})
		logger.Info("connected to database")
	}

	// Redis is optional: it backs public rate limiting and the event stream.
	var (
		limiter    middleware.IPRateLimiter
		redisCheck handler.HealthChecker
		publisher  *events.Publisher
	)
	if cfg.RedisURL != "" {
		cacheClient, err := cache.New(ctx, cfg.RedisURL)
		if err != nil {
			logger.Error(
				"failed to connect to Redis",
				slog.String("error", sanitizeError(err, cfg.RedisURL)),
				slog.String("redis_url", redactURL(cfg.RedisURL)),
			)
			return errors.New("redis unavailable")
		}
		shutdowns = append(shutdowns, namedShutdown{"redis", func(context.Context) error {
			return cacheClient.Close()
		}})
		redisCheck = cacheClient
		if cfg.RateLimitPublicEnabled {
			limiter = cacheClient
		}
		publisher = events.NewPublisher(cacheClient.Client(), logger, recorder)
		// Registered after redis so it runs before the client closes.
		shutdowns = append(shutdowns, namedShutdown{"events", publisher.Drain})
		logger.Info("connected to Redis")

		if cfg.WebhookEnabled() {
			relay, err := newWebhookRelay(cfg, cacheClient.Client(), logger, recorder)
			if err != nil {
				return err
			}
			go func() {
				if err := relay.Run(ctx); err != nil {
					logger.Error("webhook relay stopped", "error", err)
				}
			}()
			// Stops before the publisher drains and the client closes.
			shutdowns = append(shutdowns, namedShutdown{"webhook relay", relay.Shutdown})
		}
	} else {
		publisher = events.NewPublisher(nil, logger, recorder)
		logger.Info("REDIS_URL not set; rate limiting and lifecycle events disabled")
	}

	resolver, err := newResolver(cfg)
	if err != nil {
		return err
	}

	svc := service.NewReferralService(store, service.Options{
		ShareBaseURL:       cfg.ShareBaseURL,
		AutoProvisionUsers: cfg.AutoProvisionUsers,
		Metrics:            recorder,
		Events:             publisher,
		Logger:             logger,
	})

	if cfg.ShouldSeed() {
		if _, err := svc.Seed(ctx); err != nil {
			return err
		}
	}

	router := server.NewRouter(server.RouterConfig{
		Logger:             logger,
		Service:            svc,
		Resolver:           resolver,
		Version:            version,
		RateLimiter:        limiter,
		RateLimitRPS:       cfg.RateLimitPublicRPS,
		RateLimitBurst:     cfg.RateLimitPublicBurst,
		Recorder:           recorder,
		Gatherer:           recorder.Gatherer(),
		Dependencies:       []handler.Dependency{{Name: "store", Checker: storeCheck}, {Name: "redis", Checker: redisCheck}},
		IsDevelopment:      cfg.IsDevelopment(),
		CORSAllowedOrigins: cfg.GetCORSAllowedOrigins(),
		MaxRequestBodySize: cfg.MaxRequestBodySize,
	})

	srv := server.New(router, server.Options{
		Port:            cfg.AppPort,
		ReadTimeout:     cfg.ReadTimeout,
		WriteTimeout:    cfg.WriteTimeout,
		ShutdownTimeout: cfg.ShutdownTimeout,
		Logger:          logger,
	})
	for _, s := range shutdowns {
		srv.OnShutdown(s.name, s.fn)
	}

	logger.Info("starting server",
		"port", cfg.AppPort,
		"env", cfg.AppEnv,
		"store", cfg.StoreDriver,
		"identity_mode", cfg.IdentityMode,
		"share_base_url", cfg.ShareBaseURL,
	)

	return srv.Run(ctx)
}

type namedShutdown struct {
	name string
	fn   server.ShutdownFunc
}

// newResolver picks the caller identity strategy.
func newResolver(cfg *config.Config) (auth.Resolver, error) {
	if cfg.IdentityMode == config.IdentityModeGateway {
		return auth.NewGatewayResolver(cfg.GatewayTokenHash)
	}
	return auth.NewMockResolver(), nil
}

// newWebhookRelay validates the target and builds the relay.
func newWebhookRelay(cfg *config.Config, client *redis.Client, logger *slog.Logger, recorder metrics.Recorder) (*webhook.Relay, error) {
	if err := webhook.ValidateTargetURL(cfg.WebhookURL, cfg.IsDevelopment()); err != nil {
		return nil, fmt.Errorf("invalid WEBHOOK_URL: %w", err)
	}
	sender := webhook.NewSender(cfg.WebhookURL, cfg.WebhookSecret, nil)
	logger.Info("webhook relay enabled",
		"target_host", sender.TargetHost(),
		"events", cfg.WebhookEvents,
	)
	return webhook.NewRelay(client, sender, webhook.RelayOptions{
		EventTypes:  cfg.WebhookEvents,
		MaxAttempts: cfg.WebhookMaxAttempts,
		Logger:      logger,
		Metrics:     recorder,
	}), nil
}

// initLogger initializes the slog logger based on configuration.
func initLogger(cfg *config.Config) *slog.Logger {
	var h slog.Handler

	opts := &slog.HandlerOptions{
		Level: parseLogLevel(cfg.LogLevel),
	}

	if cfg.LogFormat == "json" {
		h = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		h = slog.NewTextHandler(os.Stdout, opts)
	}

	logger := slog.New(h).With("service", handler.ServiceName)
	slog.SetDefault(logger)

	return logger
}

// parseLogLevel converts string log level to slog.Level.
func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(level) {
	case "debug":
		return slog.LevelDebug
	case "info":
		return slog.LevelInfo
	case "warn":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

var passwordPattern = regexp.MustCompile(`(?i)password=[^\s]+`)

func redactURL(raw string) string {
	if raw == "" {
		return ""
	}

	parsed, err := url.Parse(raw)
	if err != nil {
		return "[redacted]"
	}

	if parsed.User != nil {
		username := parsed.User.Username()
		if username == "" {
			parsed.User = url.User("redacted")
		} else {
			parsed.User = url.User(username)
		}
	}

	return parsed.String()
}

func sanitizeError(err error, secrets ...string) string {
	if err == nil {
		return ""
	}

	msg := err.Error()
	for _, secret := range secrets {
		if secret == "" {
			continue
		}
		redacted := redactURL(secret)
		if redacted == "" {
			redacted = "[redacted]"
		}
		msg = strings.ReplaceAll(msg, secret, redacted)
	}

	return passwordPattern.ReplaceAllString(msg, "password=redacted")
}
