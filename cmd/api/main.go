package main

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/BradenHooton/finvault/internal/auth"
	"github.com/BradenHooton/finvault/internal/background"
	"github.com/BradenHooton/finvault/internal/config"
	"github.com/BradenHooton/finvault/internal/database"
	"github.com/BradenHooton/finvault/internal/handlers"
	middlewareCustom "github.com/BradenHooton/finvault/internal/middleware"
	"github.com/BradenHooton/finvault/internal/ratelimit"
	"github.com/BradenHooton/finvault/internal/repositories"
	"github.com/BradenHooton/finvault/internal/routes"
	"github.com/BradenHooton/finvault/internal/services"
	pkghttp "github.com/BradenHooton/finvault/pkg/http"
	pkglogger "github.com/BradenHooton/finvault/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := slog.New(slog.NewJSONHandler(os.Stdout, nil))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: parseLevel(cfg.Server.LogLevel)}))
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	// Initialize database
	db, err := database.NewConnection(ctx, &cfg.Database, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		logger.Error("failed to run migrations", slog.Any("error", err))
		os.Exit(1)
	}

	// Initialize repositories
	loginAttemptRepo := repositories.NewLoginAttemptRepository(db)
	otpChallengeRepo := repositories.NewOTPChallengeRepository(db)
	securityEventRepo := repositories.NewSecurityEventRepository(db)

	// Rate limiter backend
	var (
		limiter   ratelimit.Limiter
		compactor background.BucketCompactor
	)
	switch cfg.RateLimit.Backend {
	case config.RateLimitBackendRedis:
		client, err := ratelimit.NewRedisClient(ctx, ratelimit.RedisConfig{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err != nil {
			logger.Error("failed to connect to redis", slog.Any("error", err))
			os.Exit(1)
		}
		defer client.Close()
		limiter = ratelimit.NewRedisLimiter(client, "finvault:ratelimit")
	default:
		memory := ratelimit.NewMemoryLimiter()
		limiter = memory
		compactor = memory
	}
	policies := ratelimit.NewPolicyTable(cfg.RateLimit.Default, cfg.RateLimit.Rules...)

	// Escrow crypto
	cipher := auth.NewEnvelopeCipher(cfg.Security.EncryptionKey, cfg.Security.LegacyKeys...)
	hasher := auth.NewSecretHasher(cfg.Security.CodeHashCost, cipher.PrimaryKey())
	if !cipher.Configured() {
		logger.Warn("OTP_ENCRYPTION_KEY not set, login runs without a second factor unless OTP_DEGRADED_MODE=deny",
			slog.String("degraded_mode", cfg.Security.DegradedMode))
	}

	// Audit trail
	auditLogger := pkglogger.NewAuditLogger(logger)
	auditService := services.NewAuditService(securityEventRepo, auditLogger, logger)

	// Outbound channels
	mailer, err := services.NewSESMailer(ctx, cfg.Email.AWSRegion, cfg.Email.FromAddress, logger)
	if err != nil {
		logger.Error("failed to initialize email service", slog.Any("error", err))
		os.Exit(1)
	}
	emailService := services.NewEmailService(mailer, cfg.Email.AppBaseURL)

	var push services.PushSender
	if cfg.Push.WebhookURL != "" {
		push = services.NewWebhookPushSender(cfg.Push.WebhookURL, cfg.Push.Secret)
	}
	notifier := services.NewNotificationService(emailService, push, cfg.Email.AppBaseURL, logger)

	// Identity provider: the service key is preferred when both are present
	idpKey := cfg.Identity.ServiceRoleKey
	if idpKey == "" {
		idpKey = cfg.Identity.AnonKey
	}
	identityProvider := services.NewHostedIdentityProvider(cfg.Identity.URL, idpKey, cfg.Identity.Timeout, logger)
	tokenManager := auth.NewTokenManager(cfg.Identity.JWTSecret, cfg.Identity.JWTAudience)

	timingDelay := auth.NewTimingDelay(auth.TimingConfig{
		BaseDelay: cfg.Security.FailureDelay,
		Jitter:    cfg.Security.FailureDelayJitter,
	})

	// Initialize services
	lockoutService := services.NewLockoutService(loginAttemptRepo, services.LockoutConfig{
		MaxFailedAttempts: cfg.Security.MaxFailedAttempts,
		LockoutDuration:   cfg.Security.LockoutDuration,
	}, logger)
	otpService := services.NewOTPService(otpChallengeRepo, cipher, hasher, emailService, auditService, services.OTPConfig{
		TTL:         cfg.Security.OTPTTL,
		MaxAttempts: cfg.Security.OTPMaxAttempts,
		StrictIP:    cfg.Security.StrictIP,
	}, logger)
	loginService := services.NewLoginService(
		identityProvider,
		lockoutService,
		otpService,
		auditService,
		notifier,
		timingDelay,
		services.LoginConfig{AllowDegraded: cfg.Security.AllowDegradedLogin()},
		logger,
	)

	// Initialize handlers
	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Security.TrustedProxies}
	authHandler := handlers.NewAuthHandler(loginService, ipConfig, logger)
	auditHandler := handlers.NewAuditHandler(loginService, logger)

	// Setup router
	production := cfg.Server.Env == "production"
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{
		Env:            cfg.Server.Env,
		ConnectSources: cfg.Security.CSPConnectSources,
	}))
	router.Use(middlewareCustom.RedirectHTTPS(production, ipConfig))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger, ipConfig))
	router.Use(middleware.Recoverer)
	router.Use(middlewareCustom.APIRateLimit(middlewareCustom.APIRateLimitConfig{
		Limiter:  limiter,
		Policies: policies,
		IPConfig: ipConfig,
		Audit:    auditService,
		Logger:   logger,
	}))
	router.Use(middlewareCustom.CSRFProtection(middlewareCustom.CSRFConfig{
		AllowedOrigins: cfg.Server.AllowedOrigins,
		ExemptPrefixes: cfg.Security.CSRFExemptPrefixes,
		IPConfig:       ipConfig,
		Audit:          auditService,
		Logger:         logger,
	}))
	router.Use(middleware.Timeout(60 * time.Second))

	// Register routes
	routes.RegisterRoutes(
		router,
		authHandler,
		auditHandler,
		tokenManager,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.RateLimit.LoginBurst, IPConfig: ipConfig},
		handlers.Health(db),
	)

	// Create server
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(
		otpService,
		compactor,
		cfg.Maintenance.OTPRetention,
		logger,
		cfg.Maintenance.CleanupInterval,
	)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr), slog.String("rate_limit_backend", cfg.RateLimit.Backend))
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Error("server error", slog.Any("error", err))
			os.Exit(1)
		}
	}()

	// Graceful shutdown
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
	<-sigChan

	logger.Info("shutdown signal received")

	cleanupCancel()
	cleanupManager.Stop()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown error", slog.Any("error", err))
	}

	// flush background audit writes and alert deliveries
	if err := auditService.Wait(shutdownCtx); err != nil {
		logger.Warn("audit writes still pending at shutdown", slog.Any("error", err))
	}
	if err := notifier.Wait(shutdownCtx); err != nil {
		logger.Warn("login alerts still pending at shutdown", slog.Any("error", err))
	}

	logger.Info("server stopped gracefully")
}

func parseLevel(s string) slog.Level {
	switch strings.ToLower(s) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}
