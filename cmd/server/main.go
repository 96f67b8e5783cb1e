package main

import (
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/getsentry/sentry-go"
	sentryfiber "github.com/getsentry/sentry-go/fiber"
	"github.com/joho/godotenv"

	"github.com/gofiber/fiber/v2"
	fiberlogger "github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/theoneapp/theone-backend/internal/appstore"
	"github.com/theoneapp/theone-backend/internal/catalog"
	"github.com/theoneapp/theone-backend/internal/config"
	"github.com/theoneapp/theone-backend/internal/database"
	"github.com/theoneapp/theone-backend/internal/handlers"
	"github.com/theoneapp/theone-backend/internal/logging"
	"github.com/theoneapp/theone-backend/internal/middleware"
	"github.com/theoneapp/theone-backend/internal/routes"
	"github.com/theoneapp/theone-backend/internal/services"
)

func main() {
	// .env is optional; real deployments set the environment directly.
	_ = godotenv.Load()

	// Structured logging (JSON to stdout)
	logging.Setup()

	cfg := config.Load()
	if err := cfg.Validate(); err != nil {
		slog.Error("invalid configuration", "error", err)
		os.Exit(1)
	}

	// Database
	if err := database.Connect(cfg); err != nil {
		slog.Error("database connection failed", "error", err)
		os.Exit(1)
	}
	if err := database.Migrate(); err != nil {
		slog.Error("migration failed", "error", err)
		os.Exit(1)
	}

	// Database log handler (ERROR+ async batch)
	dbLogHandler := logging.NewDBHandler(database.DB)
	slog.SetDefault(slog.New(logging.NewMultiHandler(
		slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}),
		dbLogHandler,
	)))

	// Log cleanup (30-day retention)
	cleanupDone := make(chan struct{})
	logging.StartCleanup(database.DB, cleanupDone)

	// App Store clients
	tokens, err := appstore.NewTokenBuilder(cfg.AppleIAPKeyID, cfg.AppleIAPIssuerID, cfg.AppleBundleID, cfg.AppleIAPPrivateKey)
	if err != nil {
		slog.Error("failed to load App Store signing key", "error", err)
		os.Exit(1)
	}
	storeClient := appstore.NewClient(tokens)
	transactionValidator := appstore.NewValidator(storeClient)
	receiptValidator := appstore.NewReceiptValidator(cfg.AppleSharedSecret)

	// Sign in with Apple clients. Optional: without the auth key the app
	// runs email-only.
	var appleAuth *appstore.AuthClient
	identityVerifier := appstore.NewIdentityVerifier(cfg.AppleClientID)
	if cfg.AppleAuthPrivateKey != "" {
		secrets, err := appstore.NewClientSecretProvider(cfg.AppleTeamID, cfg.AppleClientID, cfg.AppleAuthKeyID, cfg.AppleAuthPrivateKey)
		if err != nil {
			slog.Error("failed to load Sign in with Apple key", "error", err)
			os.Exit(1)
		}
		appleAuth = appstore.NewAuthClient(cfg.AppleClientID, secrets)
	}

	// Services
	cat := catalog.New()
	entitlementService := services.NewEntitlementService()
	purchaseService := services.NewPurchaseService(database.DB, cat, transactionValidator, receiptValidator, entitlementService)
	authService := services.NewAuthService(database.DB, cfg, identityVerifier, appleAuth)
	feedbackService := services.NewFeedbackService(database.DB)
	chatService := services.NewChatService(database.DB, cfg.AssistantAPIURL, cfg.AssistantAPIKey)

	// Handlers
	authHandler := handlers.NewAuthHandler(authService)
	purchaseHandler := handlers.NewPurchaseHandler(purchaseService)
	feedbackHandler := handlers.NewFeedbackHandler(feedbackService)
	chatHandler := handlers.NewChatHandler(chatService)
	healthHandler := handlers.NewHealthHandler()
	settingsHandler := handlers.NewSettingsHandler(os.Getenv("MIN_APP_VERSION"))

	// Sentry error tracking
	if dsn := os.Getenv("SENTRY_DSN"); dsn != "" {
		if err := sentry.Init(sentry.ClientOptions{
			Dsn:              dsn,
			EnableTracing:    true,
			TracesSampleRate: 0.2,
			Environment:      os.Getenv("APP_ENV"),
		}); err != nil {
			slog.Error("sentry init failed", "error", err)
		} else {
			defer sentry.Flush(2 * time.Second)
		}
	}

	// Fiber app
	app := fiber.New(fiber.Config{
		BodyLimit:    4 * 1024 * 1024,
		ErrorHandler: customErrorHandler,
	})

	app.Use(sentryfiber.New(sentryfiber.Options{
		Repanic:         true,
		WaitForDelivery: false,
	}))

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(fiberlogger.New(fiberlogger.Config{
		Format: "${time} | ${status} | ${latency} | ${ip} | ${method} | ${path}\n",
	}))
	app.Use(middleware.CORS(cfg))
	app.Use(func(c *fiber.Ctx) error {
		c.Set("X-Content-Type-Options", "nosniff")
		c.Set("X-Frame-Options", "DENY")
		c.Set("X-XSS-Protection", "1; mode=block")
		return c.Next()
	})

	// Routes
	routes.Setup(app, cfg, database.DB, authHandler, purchaseHandler, feedbackHandler, chatHandler, healthHandler, settingsHandler)

	// Graceful shutdown
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		slog.Info("server starting", "port", cfg.Port)
		if err := app.Listen(":" + cfg.Port); err != nil {
			slog.Error("server failed to start", "error", err)
			os.Exit(1)
		}
	}()

	<-quit
	slog.Info("shutting down server...")

	close(cleanupDone)
	dbLogHandler.Stop()
	sentry.Flush(2 * time.Second)

	if err := app.Shutdown(); err != nil {
		slog.Error("server shutdown error", "error", err)
	}

	if sqlDB, err := database.DB.DB(); err == nil {
		if err := sqlDB.Close(); err != nil {
			slog.Error("database close error", "error", err)
		}
	}

	slog.Info("server stopped")
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal server error"
	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	// Detail only leaves the server for client errors.
	if code >= 500 {
		slog.Error("unhandled server error", "method", c.Method(), "path", c.Path(), "error", err.Error())
		message = "Internal server error"
	}

	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": message,
	})
}
