package routes

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/limiter"
	"github.com/theoneapp/theone-backend/internal/config"
	"github.com/theoneapp/theone-backend/internal/handlers"
	"github.com/theoneapp/theone-backend/internal/middleware"
	"gorm.io/gorm"
)

func Setup(
	app *fiber.App,
	cfg *config.Config,
	db *gorm.DB,
	authHandler *handlers.AuthHandler,
	purchaseHandler *handlers.PurchaseHandler,
	feedbackHandler *handlers.FeedbackHandler,
	chatHandler *handlers.ChatHandler,
	healthHandler *handlers.HealthHandler,
	settingsHandler *handlers.SettingsHandler,
) {
	api := app.Group("/api")

	// General API rate limiter: 60 req/min per IP
	api.Use(limiter.New(limiter.Config{
		Max:               60,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))

	api.Get("/health", healthHandler.Check)
	api.Get("/settings", settingsHandler.Get)

	// Auth is public, with a stricter rate limit of 10 req/min per IP.
	auth := api.Group("/auth")
	auth.Use(limiter.New(limiter.Config{
		Max:               10,
		Expiration:        1 * time.Minute,
		LimiterMiddleware: limiter.SlidingWindow{},
		KeyGenerator:      func(c *fiber.Ctx) string { return c.IP() },
	}))
	auth.Post("/register", authHandler.Register)
	auth.Post("/login", authHandler.Login)
	auth.Post("/refresh", authHandler.Refresh)
	auth.Post("/apple", authHandler.AppleSignIn)

	// Protected auth routes get JWT middleware individually so the
	// public ones above stay public.
	api.Post("/auth/logout", middleware.JWTProtected(cfg), authHandler.Logout)
	api.Get("/auth/profile", middleware.JWTProtected(cfg), authHandler.Profile)
	api.Delete("/auth/account", middleware.JWTProtected(cfg), authHandler.DeleteAccount)

	// Purchases (protected)
	api.Post("/purchases/validate", middleware.JWTProtected(cfg), purchaseHandler.Validate)
	api.Post("/purchases/restore", middleware.JWTProtected(cfg), purchaseHandler.Restore)
	api.Get("/purchases", middleware.JWTProtected(cfg), purchaseHandler.List)

	// Feedback (protected)
	api.Post("/feedback", middleware.JWTProtected(cfg), feedbackHandler.Create)
	api.Get("/feedback", middleware.JWTProtected(cfg), feedbackHandler.ListMine)

	// Assistant chat (protected)
	api.Post("/chat/messages", middleware.JWTProtected(cfg), chatHandler.SendMessage)
	api.Get("/chat/history", middleware.JWTProtected(cfg), chatHandler.History)

	// Admin panel (protected + admin required)
	admin := api.Group("/admin", middleware.JWTProtected(cfg), middleware.AdminRequired(db, cfg))
	admin.Get("/feedback", feedbackHandler.ListAll)
	admin.Put("/feedback/:id", feedbackHandler.Update)
}
