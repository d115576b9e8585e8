package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	appbilling "github.com/biocloudlabs/backend/internal/application/billing"
	identityapp "github.com/biocloudlabs/backend/internal/application/identity"
	appvm "github.com/biocloudlabs/backend/internal/application/vm"
	"github.com/biocloudlabs/backend/internal/infrastructure/auth"
	"github.com/biocloudlabs/backend/internal/infrastructure/cache"
	"github.com/biocloudlabs/backend/internal/infrastructure/config"
	"github.com/biocloudlabs/backend/internal/infrastructure/logger"
	"github.com/biocloudlabs/backend/internal/infrastructure/notification"
	"github.com/biocloudlabs/backend/internal/infrastructure/payment"
	"github.com/biocloudlabs/backend/internal/infrastructure/persistence"
	"github.com/biocloudlabs/backend/internal/infrastructure/provisioning"
	"github.com/biocloudlabs/backend/internal/infrastructure/telemetry"
	"github.com/biocloudlabs/backend/internal/interfaces/http/handler"
	"github.com/biocloudlabs/backend/internal/interfaces/http/middleware"
	"github.com/biocloudlabs/backend/internal/interfaces/http/router"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

//	@title			BioCloudLabs Billing API
//	@version		1.0
//	@description	Credit-based billing and VM lifecycle backend for short-lived cloud workstations

//	@contact.name	API Support
//	@contact.url	https://github.com/biocloudlabs/backend

//	@host		localhost:8080
//	@BasePath	/api/v1

//	@securityDefinitions.apikey	BearerAuth
//	@in							header
//	@name						Authorization
//	@description				Bearer token authentication. Format: "Bearer {token}"

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		panic("Failed to load configuration: " + err.Error())
	}

	// Initialize logger
	log, err := logger.New(&logger.Config{
		Level:      cfg.Log.Level,
		Format:     cfg.Log.Format,
		Output:     cfg.Log.Output,
		TimeFormat: "2006-01-02T15:04:05.000Z07:00",
	})
	if err != nil {
		panic("Failed to initialize logger: " + err.Error())
	}
	defer func() {
		_ = log.Sync()
	}()

	log.Info("Starting BioCloudLabs Backend",
		zap.String("app", cfg.App.Name),
		zap.String("env", cfg.App.Env),
		zap.String("port", cfg.App.Port),
	)

	// Telemetry providers. All of them degrade to no-ops when disabled so
	// the rest of the wiring does not branch on cfg.Telemetry.Enabled.
	ctx := context.Background()

	tracerProvider, err := telemetry.NewTracerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize tracer provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := tracerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down tracer provider", zap.Error(err))
		}
	}()

	meterProvider, err := telemetry.NewMeterProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize meter provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := meterProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down meter provider", zap.Error(err))
		}
	}()

	loggerProvider, err := telemetry.NewLoggerProvider(ctx, cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to initialize logger provider", zap.Error(err))
	}
	defer func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := loggerProvider.Shutdown(shutdownCtx); err != nil {
			log.Error("Error shutting down logger provider", zap.Error(err))
		}
	}()
	log = loggerProvider.WrapZapCore(log, cfg.Telemetry.ServiceName)

	profiler, err := telemetry.NewProfiler(cfg.Telemetry, log)
	if err != nil {
		log.Fatal("Failed to start profiler", zap.Error(err))
	}
	defer func() {
		if err := profiler.Stop(); err != nil {
			log.Error("Error stopping profiler", zap.Error(err))
		}
	}()
	if profiler.IsEnabled() {
		tracerProvider.EnableSpanProfiles()
	}

	// Create GORM logger backed by zap
	gormLogLevel := logger.MapGormLogLevel(cfg.Log.Level)
	gormLog := logger.NewGormLogger(log, gormLogLevel)

	// Initialize database connection with custom logger
	db, err := persistence.NewDatabaseWithLogger(&cfg.Database, gormLog)
	if err != nil {
		log.Fatal("Failed to connect to database", zap.Error(err))
	}
	defer func() {
		if err := db.Close(); err != nil {
			log.Error("Error closing database", zap.Error(err))
		}
	}()
	log.Info("Database connected successfully")

	if err := telemetry.RegisterDBTracing(db.DB, cfg.Telemetry, log); err != nil {
		log.Warn("Failed to register database tracing", zap.Error(err))
	}

	// Redis backs token revocation and webhook idempotency
	redisClient, err := cache.NewRedisClient(cfg.Redis)
	if err != nil {
		log.Fatal("Failed to connect to Redis", zap.Error(err))
	}
	defer func() {
		if err := redisClient.Close(); err != nil {
			log.Error("Error closing Redis client", zap.Error(err))
		}
	}()
	log.Info("Redis connected successfully")

	// Initialize repositories
	userRepo := persistence.NewGormUserRepository(db.DB)
	accountRepo := persistence.NewGormAccountRepository(db.DB)
	creditTxRepo := persistence.NewGormCreditTransactionRepository(db.DB)
	invoiceRepo := persistence.NewGormInvoiceRepository(db.DB)
	vmRepo := persistence.NewGormVMRepository(db.DB)

	// Rate model comes straight from configuration; a malformed rate is a
	// deployment error, not something to limp along with.
	schedule, err := cfg.Billing.Schedule()
	if err != nil {
		log.Fatal("Invalid billing rate configuration", zap.Error(err))
	}

	billingMetrics, err := telemetry.NewBillingMetrics()
	if err != nil {
		log.Fatal("Failed to create billing metrics", zap.Error(err))
	}

	// Outbound email
	var sender notification.Sender = notification.NopSender{}
	if cfg.Notification.Enabled {
		sender = notification.NewResendSender(cfg.Notification, log)
		log.Info("Email notifications enabled", zap.String("from", cfg.Notification.From))
	}

	// Identity services
	jwtService := auth.NewJWTService(cfg.JWT)
	blacklist := auth.NewRedisTokenBlacklist(redisClient)
	authService := identityapp.NewAuthService(
		userRepo, accountRepo, db, jwtService, blacklist, sender, cfg.Notification.RecoveryURL, log,
	)
	userService := identityapp.NewUserService(userRepo, log)

	// Billing services
	catalogProvider := payment.NewStripeCatalogProvider(cfg.Stripe, log)
	catalogService := appbilling.NewCatalogService(catalogProvider, cfg.Billing.CatalogTTL, log)
	ledgerService := appbilling.NewLedgerService(accountRepo, creditTxRepo, db, billingMetrics, log)
	checkoutGateway := payment.NewStripeCheckoutGateway(cfg.Stripe, log)
	checkoutService := appbilling.NewCheckoutService(
		catalogService, invoiceRepo, accountRepo, checkoutGateway, billingMetrics, log,
	)
	webhookVerifier := payment.NewStripeWebhookVerifier(cfg.Stripe, log)
	idempotencyStore := cache.NewRedisIdempotencyStore(redisClient)
	settlementService := appbilling.NewSettlementService(
		webhookVerifier, invoiceRepo, ledgerService, db, idempotencyStore, billingMetrics, log,
	)

	// VM lifecycle service
	provisioner := provisioning.NewClient(cfg.Provisioning, log)
	lifecycleService := appvm.NewLifecycleService(
		vmRepo, accountRepo, userRepo, ledgerService, provisioner, db, schedule, sender, billingMetrics, log,
	)

	// Initialize HTTP handlers
	authHandler := handler.NewAuthHandler(authService)
	userHandler := handler.NewUserHandler(userService, authService)
	billingHandler := handler.NewBillingHandler(ledgerService, catalogService, checkoutService)
	vmHandler := handler.NewVMHandler(lifecycleService)
	webhookHandler := handler.NewStripeWebhookHandler(settlementService)
	systemHandler := handler.NewSystemHandler(db.DB)

	// Set Gin mode based on environment
	if cfg.App.Env == "production" {
		gin.SetMode(gin.ReleaseMode)
	}

	// Setup validation
	middleware.SetupValidator()

	engine := gin.New()

	// Configure trusted proxies
	if len(cfg.HTTP.TrustedProxies) > 0 {
		if err := engine.SetTrustedProxies(cfg.HTTP.TrustedProxies); err != nil {
			log.Warn("Failed to set trusted proxies", zap.Error(err))
		}
	}

	// Apply middleware stack in order:
	// 1. RequestID - Generate/propagate request ID
	// 2. Recovery - Catch panics
	// 3. Logger - Log requests
	// 4. Tracing - Create request spans, inject trace attributes
	// 5. Metrics/Profiling - Record request telemetry
	// 6. Security - Add security headers
	// 7. CORS - Handle cross-origin requests
	// 8. BodyLimit - Limit request body size
	// 9. RateLimit - Apply rate limiting (if enabled)
	engine.Use(middleware.RequestID())
	engine.Use(logger.Recovery(log))
	engine.Use(logger.GinMiddleware(log))
	engine.Use(middleware.TracingWithConfig(middleware.TracingConfig{
		ServiceName: cfg.Telemetry.ServiceName,
		Enabled:     cfg.Telemetry.Enabled,
	}))
	engine.Use(middleware.TracingAttributeInjector())
	engine.Use(middleware.SpanErrorMarker())
	engine.Use(middleware.HTTPMetrics(middleware.HTTPMetricsConfig{Enabled: cfg.Telemetry.Enabled}))
	engine.Use(middleware.ProfilingWithConfig(middleware.ProfilingConfig{
		Enabled:   profiler.IsEnabled(),
		SkipPaths: middleware.DefaultProfilingConfig().SkipPaths,
	}))
	engine.Use(middleware.Secure())

	// Configure CORS from config
	corsConfig := middleware.CORSConfig{
		AllowOrigins:     cfg.HTTP.CORSAllowOrigins,
		AllowMethods:     cfg.HTTP.CORSAllowMethods,
		AllowHeaders:     cfg.HTTP.CORSAllowHeaders,
		ExposeHeaders:    []string{"X-Request-ID", "X-RateLimit-Limit", "X-RateLimit-Remaining"},
		AllowCredentials: true,
		MaxAge:           12 * time.Hour,
	}
	engine.Use(middleware.CORSWithConfig(corsConfig))

	// Body size limit
	engine.Use(middleware.BodyLimit(cfg.HTTP.MaxBodySize))

	// Rate limiting (if enabled)
	if cfg.HTTP.RateLimitEnabled {
		rateLimiter := middleware.NewRateLimiter(cfg.HTTP.RateLimitRequests, cfg.HTTP.RateLimitWindow)
		engine.Use(middleware.RateLimit(rateLimiter))
		log.Info("Rate limiting enabled",
			zap.Int("requests", cfg.HTTP.RateLimitRequests),
			zap.Duration("window", cfg.HTTP.RateLimitWindow),
		)
	}

	// Health check endpoint (outside API versioning, for load balancers)
	engine.GET("/health", systemHandler.Health)

	// Setup API routes using router
	r := router.NewRouter(engine, router.WithAPIVersion("v1"))

	// JWT authentication covers the whole API surface. The default skip
	// list leaves registration, login, token refresh, password recovery,
	// the Stripe webhook and the enforcement sweep endpoint public.
	jwtConfig := middleware.DefaultJWTConfig(jwtService)
	jwtConfig.TokenBlacklist = blacklist
	jwtConfig.Logger = log
	r.Use(middleware.JWTAuthMiddlewareWithConfig(jwtConfig))

	// Identity domain
	authRoutes := router.NewDomainGroup("auth", "/auth")
	if cfg.HTTP.AuthRateLimitEnabled {
		authLimiter := middleware.NewRateLimiter(cfg.HTTP.AuthRateLimitRequests, cfg.HTTP.AuthRateLimitWindow)
		authRoutes.Use(middleware.AuthRateLimit(authLimiter))
		log.Info("Auth rate limiting enabled",
			zap.Int("requests", cfg.HTTP.AuthRateLimitRequests),
			zap.Duration("window", cfg.HTTP.AuthRateLimitWindow),
		)
	}
	authRoutes.POST("/register", authHandler.Register)
	authRoutes.POST("/login", authHandler.Login)
	authRoutes.POST("/refresh", authHandler.RefreshToken)
	authRoutes.POST("/recover", authHandler.RecoverPassword)
	authRoutes.POST("/reset", authHandler.ResetPassword)
	authRoutes.POST("/logout", authHandler.Logout)

	userRoutes := router.NewDomainGroup("users", "/users")
	userRoutes.GET("/profile", userHandler.GetProfile)
	userRoutes.PUT("/profile", userHandler.UpdateProfile)
	userRoutes.POST("/password", userHandler.ChangePassword)

	// Billing domain
	billingRoutes := router.NewDomainGroup("billing", "/billing")
	billingRoutes.GET("/balance", billingHandler.GetBalance)
	billingRoutes.GET("/catalog", billingHandler.GetCatalog)
	billingRoutes.GET("/transactions", billingHandler.ListTransactions)
	billingRoutes.POST("/checkout", billingHandler.CreateCheckout)

	// Settlement webhooks (authenticated by signature, not JWT)
	webhookRoutes := router.NewDomainGroup("webhooks", "/webhooks")
	webhookRoutes.POST("/stripe", webhookHandler.HandleStripeWebhook)

	// VM lifecycle domain
	vmRoutes := router.NewDomainGroup("vms", "/vms")
	vmRoutes.POST("/setup", vmHandler.Setup)
	vmRoutes.DELETE("/:id", vmHandler.PowerOff)
	vmRoutes.GET("/history", vmHandler.History)
	vmRoutes.GET("/check/:name", vmHandler.CheckAndEnforce)

	// System routes
	systemRoutes := router.NewDomainGroup("system", "/health")
	systemRoutes.GET("", systemHandler.Health)

	r.Register(authRoutes).
		Register(userRoutes).
		Register(billingRoutes).
		Register(webhookRoutes).
		Register(vmRoutes).
		Register(systemRoutes)

	r.Setup()

	// Create HTTP server with config
	srv := &http.Server{
		Addr:           ":" + cfg.App.Port,
		Handler:        engine,
		ReadTimeout:    cfg.HTTP.ReadTimeout,
		WriteTimeout:   cfg.HTTP.WriteTimeout,
		IdleTimeout:    cfg.HTTP.IdleTimeout,
		MaxHeaderBytes: cfg.HTTP.MaxHeaderBytes,
	}

	// Start server in goroutine
	go func() {
		log.Info("Server starting", zap.String("addr", srv.Addr))
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatal("Failed to start server", zap.Error(err))
		}
	}()

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatal("Server forced to shutdown", zap.Error(err))
	}

	log.Info("Server exited gracefully")
}
