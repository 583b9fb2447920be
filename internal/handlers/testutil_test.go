package handlers

import (
	"bytes"
	"database/sql/driver"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	gosqlite "github.com/glebarez/go-sqlite"
	"github.com/glebarez/sqlite"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/milemoto/backend/internal/config"
	"github.com/milemoto/backend/internal/database"
	"github.com/milemoto/backend/internal/middleware"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/internal/services"
	"github.com/milemoto/backend/pkg/logger"
	"github.com/milemoto/backend/pkg/utils"
	"gorm.io/gorm"
)

type testEnv struct {
	app *fiber.App
	db  *gorm.DB
	cfg *config.Config
}

var testSetupOnce sync.Once

func setupTestEnv(t *testing.T) *testEnv {
	return setupTestEnvWithEnv(t, "test")
}

func setupTestEnvWithEnv(t *testing.T, env string) *testEnv {
	t.Helper()

	testSetupOnce.Do(func() {
		gosqlite.MustRegisterScalarFunction("NOW", 0, func(ctx *gosqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			return time.Now().UTC(), nil
		})
		logger.Init()
		utils.ConfigureJWT("test-secret", 15)
		utils.ConfigureEncryption("test-encryption-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	if err := database.Migrate(db); err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}

	cfg := &config.Config{
		Server: config.ServerConfig{
			Env:         env,
			FrontendURL: "http://localhost:3001",
		},
		MFA: config.MFAConfig{
			Issuer:       "MileMoto",
			ChallengeTTL: 5 * time.Minute,
		},
		Auth: config.AuthConfig{
			RefreshTTL:     30 * 24 * time.Hour,
			DeviceTrustTTL: 30 * 24 * time.Hour,
			ResetTokenTTL:  time.Hour,
		},
	}

	sessionService := services.NewSessionService(db, cfg.Auth.RefreshTTL)
	auditService := services.NewAuditService(db)

	authHandler := NewAuthHandler(db, sessionService, auditService, cfg)
	mfaHandler := NewMFAHandler(db, sessionService, auditService, cfg)
	devicesHandler := NewDevicesHandler(db, auditService, cfg)
	usersHandler := NewUsersHandler(db, sessionService, auditService)
	productsHandler := NewProductsHandler(db)
	authMiddleware := middleware.NewAuthMiddleware(db)

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

	return &testEnv{app: app, db: db, cfg: cfg}
}

func createTestUser(t *testing.T, db *gorm.DB, email, password string, role models.UserRole) (*models.User, string) {
	t.Helper()

	hash, err := utils.HashPassword(password)
	if err != nil {
		t.Fatalf("failed hashing password: %v", err)
	}

	user := &models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     "Test User",
		Role:         role,
		Status:       models.UserStatusActive,
	}
	if err := db.Create(user).Error; err != nil {
		t.Fatalf("failed creating test user: %v", err)
	}

	token, err := utils.GenerateToken(user)
	if err != nil {
		t.Fatalf("failed generating auth token: %v", err)
	}

	return user, token
}

func authHeaders(token string) map[string]string {
	return map[string]string{"Authorization": "Bearer " + token}
}

func withCookie(headers map[string]string, cookies ...*http.Cookie) map[string]string {
	merged := map[string]string{}
	for key, value := range headers {
		merged[key] = value
	}

	var pairs []byte
	for i, cookie := range cookies {
		if i > 0 {
			pairs = append(pairs, "; "...)
		}
		pairs = append(pairs, (cookie.Name + "=" + cookie.Value)...)
	}
	if len(pairs) > 0 {
		merged["Cookie"] = string(pairs)
	}

	return merged
}

func extractCookie(t *testing.T, resp *http.Response, name string) *http.Cookie {
	t.Helper()
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name {
			return cookie
		}
	}
	t.Fatalf("expected response to set cookie %q", name)
	return nil
}

func findCookie(resp *http.Response, name string) *http.Cookie {
	for _, cookie := range resp.Cookies() {
		if cookie.Name == name && cookie.Value != "" {
			return cookie
		}
	}
	return nil
}

func performRequest(t *testing.T, app *fiber.App, method, path string, body io.Reader, headers map[string]string) *http.Response {
	t.Helper()

	req := httptest.NewRequest(method, path, body)
	for key, value := range headers {
		req.Header.Set(key, value)
	}

	resp, err := app.Test(req, int((10 * time.Second).Milliseconds()))
	if err != nil {
		t.Fatalf("request %s %s failed: %v", method, path, err)
	}

	return resp
}

func performJSONRequest(t *testing.T, app *fiber.App, method, path string, payload any, headers map[string]string) *http.Response {
	t.Helper()

	var body io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("failed to marshal payload: %v", err)
		}
		body = bytes.NewReader(encoded)
	}

	requestHeaders := map[string]string{}
	for key, value := range headers {
		requestHeaders[key] = value
	}
	if payload != nil {
		requestHeaders["Content-Type"] = "application/json"
	}

	return performRequest(t, app, method, path, body, requestHeaders)
}

func decodeJSONMap(t *testing.T, resp *http.Response) map[string]any {
	t.Helper()
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		t.Fatalf("failed reading response body: %v", err)
	}

	var payload map[string]any
	if err := json.Unmarshal(raw, &payload); err != nil {
		t.Fatalf("failed decoding JSON response: %v body=%q", err, string(raw))
	}

	return payload
}

func assertStatus(t *testing.T, resp *http.Response, expected int) {
	t.Helper()
	if resp.StatusCode != expected {
		t.Fatalf("expected status %d, got %d", expected, resp.StatusCode)
	}
}

func assertErrorCode(t *testing.T, body map[string]any, expected string) {
	t.Helper()
	if success, _ := body["success"].(bool); success {
		t.Fatalf("expected success=false, got %+v", body)
	}
	if got, _ := body["code"].(string); got != expected {
		t.Fatalf("expected error code %q, got %q", expected, got)
	}
}

func dataField(t *testing.T, body map[string]any) map[string]any {
	t.Helper()
	data, ok := body["data"].(map[string]any)
	if !ok {
		t.Fatalf("expected data object, got %T", body["data"])
	}
	return data
}
