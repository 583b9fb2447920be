package handlers

import (
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/milemoto/backend/internal/config"
	"github.com/milemoto/backend/internal/middleware"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/internal/services"
	"github.com/milemoto/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	deviceCookieName = "device_token"
	deviceCookiePath = "/api"
)

type DevicesHandler struct {
	DB    *gorm.DB
	Audit *services.AuditService
	Cfg   *config.Config
}

func NewDevicesHandler(db *gorm.DB, audit *services.AuditService, cfg *config.Config) *DevicesHandler {
	return &DevicesHandler{DB: db, Audit: audit, Cfg: cfg}
}

func (h *DevicesHandler) List(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var devices []models.TrustedDevice
	err := h.DB.
		Where("user_id = ? AND revoked_at IS NULL AND expires_at > ?", user.ID, time.Now()).
		Order("last_used_at DESC").
		Find(&devices).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing devices")
	}

	currentHash := ""
	if raw := c.Cookies(deviceCookieName); raw != "" {
		currentHash = utils.HashToken(raw)
	}

	items := make([]fiber.Map, 0, len(devices))
	for _, d := range devices {
		items = append(items, fiber.Map{
			"id":         d.ID,
			"userAgent":  d.UserAgent,
			"ip":         d.IP,
			"createdAt":  d.CreatedAt,
			"lastUsedAt": d.LastUsedAt,
			"expiresAt":  d.ExpiresAt,
			"current":    d.TokenHash == currentHash,
		})
	}

	return utils.Success(c, fiber.StatusOK, items)
}

func (h *DevicesHandler) Revoke(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	deviceID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid device id")
	}

	result := h.DB.Model(&models.TrustedDevice{}).
		Where("id = ? AND user_id = ? AND revoked_at IS NULL", deviceID, user.ID).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking device")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "device not found")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "device.revoked",
		ResourceType: "trusted_device",
		ResourceID:   &deviceID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "device revoked"})
}

func (h *DevicesHandler) RevokeAll(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	err := h.DB.Model(&models.TrustedDevice{}).
		Where("user_id = ? AND revoked_at IS NULL", user.ID).
		Update("revoked_at", time.Now()).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking devices")
	}

	h.clearDeviceCookie(c)
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "device.revoked_all",
		ResourceType: "trusted_device",
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "all devices revoked"})
}

// UntrustCurrent revokes only the device matching the caller's own cookie.
// Sessions are untouched; device trust and login are independent layers.
func (h *DevicesHandler) UntrustCurrent(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	raw := c.Cookies(deviceCookieName)
	if raw == "" {
		return utils.Error(c, fiber.StatusNotFound, "no trusted device on this browser")
	}

	result := h.DB.Model(&models.TrustedDevice{}).
		Where("token_hash = ? AND user_id = ? AND revoked_at IS NULL", utils.HashToken(raw), user.ID).
		Update("revoked_at", time.Now())
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking device")
	}
	if result.RowsAffected == 0 {
		h.clearDeviceCookie(c)
		return utils.Error(c, fiber.StatusNotFound, "no trusted device on this browser")
	}

	h.clearDeviceCookie(c)
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "device.untrusted_current",
		ResourceType: "trusted_device",
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "current device untrusted"})
}

func (h *DevicesHandler) clearDeviceCookie(c *fiber.Ctx) {
	clearDeviceCookie(c, h.Cfg)
}

// deviceIsTrusted reports whether the presented device cookie maps to a
// valid trusted device for the user, bumping last_used_at on a hit.
func deviceIsTrusted(db *gorm.DB, c *fiber.Ctx, userID uuid.UUID) bool {
	raw := c.Cookies(deviceCookieName)
	if raw == "" {
		return false
	}

	var device models.TrustedDevice
	err := db.First(&device, "token_hash = ? AND user_id = ?", utils.HashToken(raw), userID).Error
	if err != nil {
		return false
	}
	if !device.Valid(time.Now()) {
		return false
	}

	db.Model(&device).Update("last_used_at", time.Now())
	return true
}

// mintTrustedDevice creates a trusted-device row and sets its cookie. The raw
// token is only ever held by the browser.
func mintTrustedDevice(db *gorm.DB, cfg *config.Config, c *fiber.Ctx, userID uuid.UUID) (*models.TrustedDevice, error) {
	raw, err := utils.GenerateRandomToken(32)
	if err != nil {
		return nil, err
	}

	now := time.Now()
	device := models.TrustedDevice{
		UserID:     userID,
		TokenHash:  utils.HashToken(raw),
		UserAgent:  c.Get("User-Agent"),
		IP:         c.IP(),
		LastUsedAt: now,
		ExpiresAt:  now.Add(cfg.Auth.DeviceTrustTTL),
	}
	if err := db.Create(&device).Error; err != nil {
		return nil, err
	}

	c.Cookie(&fiber.Cookie{
		Name:     deviceCookieName,
		Value:    raw,
		Path:     deviceCookiePath,
		Expires:  device.ExpiresAt,
		HTTPOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})

	return &device, nil
}

func clearDeviceCookie(c *fiber.Ctx, cfg *config.Config) {
	c.Cookie(&fiber.Cookie{
		Name:     deviceCookieName,
		Value:    "",
		Path:     deviceCookiePath,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}
