package main

import (
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/milemoto/backend/internal/config"
	"github.com/milemoto/backend/internal/database"
	"github.com/milemoto/backend/internal/handlers"
	"github.com/milemoto/backend/internal/middleware"
	"github.com/milemoto/backend/internal/services"
	"github.com/milemoto/backend/pkg/logger"
	"github.com/milemoto/backend/pkg/utils"
)

func main() {
	logger.Init()

	cfg := config.Load()
	utils.ConfigureJWT(cfg.JWT.Secret, cfg.JWT.ExpirationMinutes)
	utils.ConfigureEncryption(cfg.JWT.Secret)

	db, err := database.Connect(cfg.DB)
	if err != nil {
		log.Fatalf("database connection failed: %v", err)
	}

	sessionService := services.NewSessionService(db, cfg.Auth.RefreshTTL)
	auditService := services.NewAuditService(db)

	authHandler := handlers.NewAuthHandler(db, sessionService, auditService, cfg)
	mfaHandler := handlers.NewMFAHandler(db, sessionService, auditService, cfg)
	devicesHandler := handlers.NewDevicesHandler(db, auditService, cfg)
	usersHandler := handlers.NewUsersHandler(db, sessionService, auditService)
	productsHandler := handlers.NewProductsHandler(db)

	authMiddleware := middleware.NewAuthMiddleware(db)

	// Expired challenge rows are rejected at read time regardless; the sweep
	// just keeps the table from accumulating dead rows.
	go func() {
		for {
			time.Sleep(10 * time.Minute)
			handlers.CleanupExpiredMFAChallenges(db)
		}
	}()

	app := fiber.New(fiber.Config{BodyLimit: 1 * 1024 * 1024})
	app.Use(recover.New(recover.Config{EnableStackTrace: true}))
	app.Use(middleware.CORS(cfg.Server.FrontendURL))
	app.Use(middleware.RequestLogger())
	app.Use(middleware.SecurityLogger())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.Status(fiber.StatusOK).JSON(fiber.Map{"status": "ok"})
	})

	api := app.Group("/api")

	authRoutes := api.Group("/auth")
	authRoutes.Post("/register", authHandler.Register)
	authRoutes.Post("/login", authHandler.Login)
	authRoutes.Post("/refresh", authHandler.Refresh)
	authRoutes.Post("/logout", authHandler.Logout)
	authRoutes.Get("/me", authMiddleware.RequireAuth, authHandler.Me)
	authRoutes.Put("/password", authMiddleware.RequireAuth, authHandler.ChangePassword)
	authRoutes.Post("/forgot", authHandler.Forgot)
	authRoutes.Post("/reset", authHandler.Reset)
	authRoutes.Get("/sessions", authMiddleware.RequireAuth, authHandler.ListSessions)
	authRoutes.Post("/sessions/revoke-others", authMiddleware.RequireAuth, authHandler.RevokeOtherSessions)
	authRoutes.Post("/sessions/:id/revoke", authMiddleware.RequireAuth, authHandler.RevokeSession)

	mfaRoutes := api.Group("/auth/mfa")
	mfaRoutes.Get("/status", authMiddleware.RequireAuth, mfaHandler.Status)
	mfaRoutes.Post("/setup/start", authMiddleware.RequireAuth, mfaHandler.SetupStart)
	mfaRoutes.Post("/setup/verify", authMiddleware.RequireAuth, mfaHandler.SetupVerify)
	mfaRoutes.Post("/login/verify", mfaHandler.LoginVerify)
	mfaRoutes.Post("/disable", authMiddleware.RequireAuth, mfaHandler.Disable)

	deviceRoutes := api.Group("/security/trusted-devices", authMiddleware.RequireAuth)
	deviceRoutes.Get("/", devicesHandler.List)
	deviceRoutes.Post("/revoke-all", devicesHandler.RevokeAll)
	deviceRoutes.Post("/untrust-current", devicesHandler.UntrustCurrent)
	deviceRoutes.Post("/:id/revoke", devicesHandler.Revoke)

	userRoutes := api.Group("/users", authMiddleware.RequireAuth, middleware.AdminOnly)
	userRoutes.Get("/", usersHandler.List)
	userRoutes.Get("/:id", usersHandler.Get)
	userRoutes.Put("/:id", usersHandler.Update)

	productRoutes := api.Group("/products")
	productRoutes.Get("/", productsHandler.List)
	productRoutes.Get("/:id", productsHandler.Get)
	productRoutes.Post("/", authMiddleware.RequireAuth, middleware.AdminOnly, productsHandler.Create)
	productRoutes.Put("/:id", authMiddleware.RequireAuth, middleware.AdminOnly, productsHandler.Update)
	productRoutes.Delete("/:id", authMiddleware.RequireAuth, middleware.AdminOnly, productsHandler.Delete)

	listenAddr := fmt.Sprintf(":%s", cfg.Server.Port)

	logger.Info("server_starting", map[string]interface{}{
		"port":    cfg.Server.Port,
		"address": listenAddr,
		"env":     cfg.Server.Env,
	})

	errCh := make(chan error, 1)
	go func() {
		errCh <- app.Listen(listenAddr)
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		log.Printf("shutting down server due to signal: %s", sig)
		shutdownDone := make(chan struct{})
		go func() {
			_ = app.Shutdown()
			close(shutdownDone)
		}()
		select {
		case <-shutdownDone:
		case <-time.After(10 * time.Second):
			log.Print("forced shutdown timeout reached")
		}
	case err := <-errCh:
		if err != nil {
			log.Fatalf("server error: %v", err)
		}
	}
}
