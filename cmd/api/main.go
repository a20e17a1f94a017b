package main

import (
	"context"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/BradenHooton/bastion/internal/background"
	"github.com/BradenHooton/bastion/internal/cache"
	"github.com/BradenHooton/bastion/internal/config"
	"github.com/BradenHooton/bastion/internal/database"
	"github.com/BradenHooton/bastion/internal/geo"
	"github.com/BradenHooton/bastion/internal/handlers"
	middlewareCustom "github.com/BradenHooton/bastion/internal/middleware"
	"github.com/BradenHooton/bastion/internal/models"
	"github.com/BradenHooton/bastion/internal/repositories"
	"github.com/BradenHooton/bastion/internal/routes"
	"github.com/BradenHooton/bastion/internal/services"
	pkgauth "github.com/BradenHooton/bastion/pkg/auth"
	pkghttp "github.com/BradenHooton/bastion/pkg/http"
	pkglogger "github.com/BradenHooton/bastion/pkg/logger"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
)

func main() {
	logger := pkglogger.New(os.Stdout, os.Getenv("LOG_LEVEL"))
	slog.SetDefault(logger)

	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		logger.Error("failed to load configuration", slog.Any("error", err))
		os.Exit(1)
	}

	logger = pkglogger.New(os.Stdout, cfg.Server.LogLevel)
	slog.SetDefault(logger)
	logger.Info("configuration loaded", slog.String("env", cfg.Server.Env))

	// Query inspection runs asynchronously; the detector is attached once its
	// event pipeline exists.
	tracer := database.NewQueryInspectionTracer(true)

	db, err := database.NewConnection(&cfg.Database, tracer, logger)
	if err != nil {
		logger.Error("failed to connect to database", slog.Any("error", err))
		os.Exit(1)
	}
	defer db.Close()

	if cfg.Database.RunMigrations {
		ctx, cancel := context.WithTimeout(context.Background(), 60*time.Second)
		err := database.Migrate(ctx, db.Pool, logger)
		cancel()
		if err != nil {
			logger.Error("failed to run migrations", slog.Any("error", err))
			os.Exit(1)
		}
	}

	store, closeStore, err := newStore(cfg.Redis, logger)
	if err != nil {
		logger.Error("failed to initialize counter store", slog.Any("error", err))
		os.Exit(1)
	}
	defer closeStore()

	var locator services.GeoLocator
	if cfg.GeoIP.CityDBPath != "" {
		geoLocator, err := geo.Open(cfg.GeoIP.CityDBPath, cfg.GeoIP.ASNDBPath)
		if err != nil {
			logger.Warn("geo enrichment disabled", slog.Any("error", err))
		} else {
			defer geoLocator.Close()
			locator = geoLocator
		}
	}

	// Initialize repositories
	userRepo := repositories.NewUserRepository(db)
	eventRepo := repositories.NewSecurityEventRepository(db)

	// Security core
	notifier := newNotifier(cfg.Notify, logger)
	monitor := services.NewSecurityMonitorService(eventRepo, store, notifier, locator, monitorConfig(cfg.Monitor), logger)
	lockout := services.NewLockoutService(store, userRepo, monitor, services.LockoutConfig(cfg.Lockout), logger)
	sessions := services.NewSessionService(store, monitor, services.SessionConfig(cfg.Session), logger)
	queryGuard := services.NewQueryGuardService(monitor, services.QueryGuardConfig(cfg.QueryGuard), logger)
	tracer.SetInspector(queryGuard)

	userService := services.NewUserService(userRepo, logger)
	authService := services.NewAuthService(userRepo, lockout, sessions, logger).
		WithFailureDelay(pkgauth.NewFailureDelay(cfg.Server.LoginFailureDelay, cfg.Server.LoginFailureJitter))

	// Bootstrap first admin user if configured
	ensureAdminUser(userService, logger)

	// Initialize handlers
	authHandler := handlers.NewAuthHandler(authService)
	userHandler := handlers.NewUserHandler(userService)
	securityHandler := handlers.NewSecurityHandler(monitor, lockout, sessions, queryGuard)
	healthHandler := handlers.NewHealthHandler(map[string]handlers.HealthCheckFunc{
		"database": db.HealthCheck,
		"store":    store.Ping,
	}, 2*time.Second)

	ipConfig := &pkghttp.IPConfig{TrustedProxies: cfg.Server.TrustedProxies}

	// Setup router
	router := chi.NewRouter()
	router.Use(middleware.RequestID)
	router.Use(middlewareCustom.RequestInfo(ipConfig))
	router.Use(middlewareCustom.SecurityHeaders(middlewareCustom.SecurityHeadersConfig{Env: cfg.Server.Env}))
	router.Use(middlewareCustom.CORS(middlewareCustom.DefaultCORSConfig(cfg.Server.AllowedOrigins)))
	router.Use(middlewareCustom.SecureLogger(logger))
	router.Use(middleware.Recoverer)
	router.Use(middleware.Timeout(60 * time.Second))

	routes.RegisterRoutes(router, authHandler, userHandler, securityHandler, healthHandler,
		sessions, userService, monitor,
		middlewareCustom.RateLimitConfig{RequestsPerMinute: cfg.Server.AuthRateLimit},
		logger)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	// Start cleanup task
	cleanupManager := background.NewCleanupManager(monitor, 0, logger, cfg.Monitor.CleanupInterval)
	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	defer cleanupCancel()

	go cleanupManager.Start(cleanupCtx)

	// Start server
	go func() {
		logger.Info("starting server", slog.String("addr", server.Addr))
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
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
		os.Exit(1)
	}

	tracer.SetInspector(nil)
	logger.Info("server stopped gracefully")
}

// newStore selects Redis when REDIS_ADDR is set, otherwise the in-process store
func newStore(cfg config.RedisConfig, logger *slog.Logger) (cache.Store, func(), error) {
	if cfg.Addr == "" {
		logger.Warn("REDIS_ADDR not set; using in-memory counter store (single instance only)")
		return cache.NewMemoryStore(nil), func() {}, nil
	}

	client, err := cache.NewRedisClient(cfg)
	if err != nil {
		return nil, nil, err
	}
	logger.Info("redis counter store connected", slog.String("addr", cfg.Addr))
	return cache.NewRedisStore(client, cfg.Namespace, cfg.Timeout), func() { _ = client.Close() }, nil
}

// newNotifier builds the alert channels: log always, email and webhooks when configured
func newNotifier(cfg config.NotifyConfig, logger *slog.Logger) *services.NotificationService {
	channels := []services.NotificationChannel{services.NewLogChannel(logger)}

	if cfg.EmailEnabled {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		ses, err := services.NewSESChannel(ctx, cfg.AWSRegion, cfg.FromAddress, cfg.AlertEmails)
		cancel()
		if err != nil {
			logger.Error("email alerts disabled", slog.Any("error", err))
		} else {
			channels = append(channels, ses)
		}
	}

	client := &http.Client{Timeout: cfg.Timeout}
	for _, url := range cfg.WebhookURLs {
		channels = append(channels, services.NewWebhookChannel(url, cfg.WebhookSecret, client))
	}

	notifier := services.NewNotificationService(cfg.Timeout, logger, channels...)
	logger.Info("alert channels configured", slog.Any("channels", notifier.Channels()))
	return notifier
}

func monitorConfig(cfg config.MonitorConfig) services.MonitorConfig {
	thresholds := make(map[models.EventType]int, len(cfg.Thresholds))
	for eventType, limit := range cfg.Thresholds {
		thresholds[models.EventType(eventType)] = limit
	}
	return services.MonitorConfig{
		Thresholds:           thresholds,
		BurstThreshold:       cfg.BurstThreshold,
		BurstWindow:          cfg.BurstWindow,
		CoordinatedThreshold: cfg.CoordinatedThreshold,
		CoordinatedWindow:    cfg.CoordinatedWindow,
		RetentionDays:        cfg.RetentionDays,
	}
}

// ensureAdminUser creates the first admin user if ADMIN_IDENTITY and ADMIN_PASSWORD are set
func ensureAdminUser(users *services.UserService, logger *slog.Logger) {
	identity := os.Getenv("ADMIN_IDENTITY")
	password := os.Getenv("ADMIN_PASSWORD")
	if identity == "" || password == "" {
		logger.Info("no ADMIN_IDENTITY or ADMIN_PASSWORD set, skipping admin user creation")
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	_, created, err := users.EnsureUser(ctx, identity, os.Getenv("ADMIN_EMAIL"), password, "admin")
	if err != nil {
		logger.Error("failed to ensure admin user", slog.Any("error", err))
		return
	}
	if created {
		logger.Info("admin user created")
	} else {
		logger.Info("admin user already exists")
	}
}
