package handlers

import (
	"errors"
	"strings"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
	"github.com/milemoto/backend/internal/config"
	"github.com/milemoto/backend/internal/middleware"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/internal/services"
	"github.com/milemoto/backend/pkg/logger"
	"github.com/milemoto/backend/pkg/utils"
	"gorm.io/gorm"
)

const (
	refreshCookieName = "refresh_token"
	refreshCookiePath = "/api/auth"
)

type AuthHandler struct {
	DB       *gorm.DB
	Sessions *services.SessionService
	Audit    *services.AuditService
	Cfg      *config.Config
}

func NewAuthHandler(db *gorm.DB, sessions *services.SessionService, audit *services.AuditService, cfg *config.Config) *AuthHandler {
	return &AuthHandler{DB: db, Sessions: sessions, Audit: audit, Cfg: cfg}
}

type registerRequest struct {
	FullName string  `json:"fullName"`
	Email    string  `json:"email"`
	Phone    *string `json:"phone"`
	Password string  `json:"password"`
}

func (h *AuthHandler) Register(c *fiber.Ctx) error {
	var req registerRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.FullName = strings.TrimSpace(req.FullName)
	email := normalizeEmail(req.Email)

	if req.FullName == "" || email == "" || !strings.Contains(email, "@") {
		return utils.Error(c, fiber.StatusBadRequest, "fullName and a valid email are required")
	}
	if len(req.Password) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	var existing models.User
	if err := h.DB.First(&existing, "email = ?", email).Error; err == nil {
		return utils.ErrorCode(c, fiber.StatusConflict, "email_taken", "email already registered")
	}

	hash, err := utils.HashPassword(req.Password)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}

	user := models.User{
		Email:        email,
		PasswordHash: hash,
		FullName:     req.FullName,
		Phone:        req.Phone,
		Role:         models.UserRoleUser,
		Status:       models.UserStatusActive,
	}
	if err := h.DB.Create(&user).Error; err != nil {
		return utils.ErrorCode(c, fiber.StatusConflict, "email_taken", "email already registered")
	}

	logger.Info("user_registered", map[string]interface{}{
		"user_id": user.ID.String(),
	})
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "auth.register",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return h.issueSession(c, &user, fiber.StatusCreated)
}

type loginRequest struct {
	Email          string `json:"email"`
	Password       string `json:"password"`
	RememberDevice bool   `json:"rememberDevice"`
}

func (h *AuthHandler) Login(c *fiber.Ctx) error {
	var req loginRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	email := normalizeEmail(req.Email)
	if email == "" || req.Password == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email and password are required")
	}

	// "user not found" and "wrong password" must be indistinguishable to the
	// caller, so both collapse into the same generic failure.
	var user models.User
	if err := h.DB.First(&user, "email = ?", email).Error; err != nil {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}
	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}

	// Distinguishable on purpose: the caller already proved the password.
	if user.Status != models.UserStatusActive {
		return utils.ErrorCode(c, fiber.StatusForbidden, "account_disabled", "account disabled")
	}

	if user.MFAEnabled && !deviceIsTrusted(h.DB, c, user.ID) {
		challenge := models.MFAChallenge{
			UserID:         user.ID,
			Type:           models.MFAChallengeLogin,
			RememberDevice: req.RememberDevice,
			ExpiresAt:      time.Now().Add(h.Cfg.MFA.ChallengeTTL),
		}
		if err := h.DB.Create(&challenge).Error; err != nil {
			return utils.Error(c, fiber.StatusInternalServerError, "failed creating MFA challenge")
		}

		return utils.Success(c, fiber.StatusOK, fiber.Map{
			"mfaRequired": true,
			"challengeId": challenge.ID,
		})
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "auth.login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return h.issueSession(c, &user, fiber.StatusOK)
}

func (h *AuthHandler) Refresh(c *fiber.Ctx) error {
	raw := c.Cookies(refreshCookieName)
	if raw == "" {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_session", "missing refresh token")
	}

	session, nextRaw, err := h.Sessions.Rotate(raw, c.Get("User-Agent"), c.IP())
	if err != nil {
		h.clearRefreshCookie(c)
		if errors.Is(err, services.ErrTokenReused) {
			logger.Warn("refresh_token_reuse", map[string]interface{}{
				"ip": c.IP(),
			})
			h.Audit.LogAsync(services.AuditEntry{
				Action:       "auth.token_reuse",
				ResourceType: "session",
				IPAddress:    c.IP(),
				RequestID:    getRequestID(c),
			})
			return utils.ErrorCode(c, fiber.StatusUnauthorized, "token_reused", "refresh token reuse detected")
		}
		if errors.Is(err, services.ErrInvalidSession) {
			return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_session", "invalid session")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed rotating session")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", session.UserID).Error; err != nil {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_session", "invalid session")
	}
	if user.Status != models.UserStatusActive {
		_ = h.Sessions.RevokeAllForUser(user.ID)
		h.clearRefreshCookie(c)
		return utils.ErrorCode(c, fiber.StatusForbidden, "account_disabled", "account disabled")
	}

	accessToken, err := utils.GenerateToken(&user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.setRefreshCookie(c, nextRaw, session.ExpiresAt)
	return utils.Success(c, fiber.StatusOK, fiber.Map{"accessToken": accessToken})
}

func (h *AuthHandler) Logout(c *fiber.Ctx) error {
	if raw := c.Cookies(refreshCookieName); raw != "" {
		_ = h.Sessions.RevokeByToken(raw)
	}
	h.clearRefreshCookie(c)
	return c.SendStatus(fiber.StatusNoContent)
}

func (h *AuthHandler) Me(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}
	return utils.Success(c, fiber.StatusOK, user)
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

func (h *AuthHandler) ChangePassword(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req changePasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}
	if !utils.CheckPassword(req.CurrentPassword, user.PasswordHash) {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}
	if err := h.DB.Model(user).Update("password_hash", hash).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating password")
	}

	// Keep the caller's own session, kill everything else.
	if raw := c.Cookies(refreshCookieName); raw != "" {
		if session, err := h.Sessions.FindActiveByToken(raw); err == nil {
			_ = h.Sessions.RevokeOthers(user.ID, session.ID)
		} else {
			_ = h.Sessions.RevokeAllForUser(user.ID)
		}
	} else {
		_ = h.Sessions.RevokeAllForUser(user.ID)
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "auth.password_changed",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password updated"})
}

type forgotPasswordRequest struct {
	Email string `json:"email"`
}

// Forgot answers identically whether or not the email exists, so the endpoint
// cannot be used to enumerate accounts.
func (h *AuthHandler) Forgot(c *fiber.Ctx) error {
	var req forgotPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	email := normalizeEmail(req.Email)
	if email == "" {
		return utils.Error(c, fiber.StatusBadRequest, "email is required")
	}

	response := fiber.Map{"message": "if that email exists, a reset link has been sent"}

	var user models.User
	if err := h.DB.First(&user, "email = ? AND status = ?", email, models.UserStatusActive).Error; err != nil {
		return utils.Success(c, fiber.StatusOK, response)
	}

	rawToken, err := utils.GenerateRandomToken(32)
	if err != nil {
		return utils.Success(c, fiber.StatusOK, response)
	}

	reset := models.PasswordReset{
		UserID:    user.ID,
		TokenHash: utils.HashToken(rawToken),
		ExpiresAt: time.Now().Add(h.Cfg.Auth.ResetTokenTTL),
	}
	if err := h.DB.Create(&reset).Error; err != nil {
		return utils.Success(c, fiber.StatusOK, response)
	}

	resetURL := h.Cfg.Server.FrontendURL + "/reset-password?token=" + rawToken
	logger.InfoWithUser(user.ID.String(), "password_reset_requested", map[string]interface{}{
		"reset_id": reset.ID.String(),
	})

	// TODO: send the reset email once the mailer service lands; until then
	// delivery is the dev-mode echo below plus the log line above.
	if !h.Cfg.IsProduction() {
		response["resetURL"] = resetURL
	}

	return utils.Success(c, fiber.StatusOK, response)
}

type resetPasswordRequest struct {
	Token       string `json:"token"`
	NewPassword string `json:"newPassword"`
}

func (h *AuthHandler) Reset(c *fiber.Ctx) error {
	var req resetPasswordRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.Token == "" {
		return utils.Error(c, fiber.StatusBadRequest, "token is required")
	}
	if len(req.NewPassword) < 8 {
		return utils.Error(c, fiber.StatusBadRequest, "password must be at least 8 characters")
	}

	var reset models.PasswordReset
	err := h.DB.First(&reset,
		"token_hash = ? AND used_at IS NULL AND expires_at > ?",
		utils.HashToken(req.Token), time.Now(),
	).Error
	if err != nil {
		return utils.ErrorCode(c, fiber.StatusBadRequest, "invalid_reset_token", "invalid or expired token")
	}

	hash, err := utils.HashPassword(req.NewPassword)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed hashing password")
	}

	now := time.Now()
	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(&models.User{}).Where("id = ?", reset.UserID).
			Update("password_hash", hash).Error; err != nil {
			return err
		}
		result := tx.Model(&models.PasswordReset{}).
			Where("id = ? AND used_at IS NULL", reset.ID).
			Update("used_at", now)
		if result.Error != nil {
			return result.Error
		}
		if result.RowsAffected == 0 {
			return gorm.ErrRecordNotFound
		}
		// A reset is a full trust-boundary reset: every session dies.
		return tx.Model(&models.Session{}).
			Where("user_id = ? AND revoked_at IS NULL", reset.UserID).
			Update("revoked_at", now).Error
	})
	if err != nil {
		return utils.ErrorCode(c, fiber.StatusBadRequest, "invalid_reset_token", "invalid or expired token")
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &reset.UserID,
		Action:       "auth.password_reset",
		ResourceType: "user",
		ResourceID:   &reset.UserID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "password has been reset"})
}

func (h *AuthHandler) ListSessions(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	sessions, err := h.Sessions.ListActive(user.ID)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing sessions")
	}

	currentID := h.currentSessionID(c)
	items := make([]fiber.Map, 0, len(sessions))
	for _, s := range sessions {
		items = append(items, fiber.Map{
			"id":        s.ID,
			"userAgent": s.UserAgent,
			"ip":        s.IP,
			"createdAt": s.CreatedAt,
			"expiresAt": s.ExpiresAt,
			"current":   s.ID == currentID,
		})
	}

	return utils.Success(c, fiber.StatusOK, items)
}

func (h *AuthHandler) RevokeSession(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	sessionID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid session id")
	}

	if err := h.Sessions.Revoke(sessionID, user.ID); err != nil {
		return utils.Error(c, fiber.StatusNotFound, "session not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "session revoked"})
}

func (h *AuthHandler) RevokeOtherSessions(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	currentID := h.currentSessionID(c)
	var err error
	if currentID != uuid.Nil {
		err = h.Sessions.RevokeOthers(user.ID, currentID)
	} else {
		err = h.Sessions.RevokeAllForUser(user.ID)
	}
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed revoking sessions")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "other sessions revoked"})
}

// issueSession creates a refresh session, sets the cookie, and returns the
// access token with the user payload.
func (h *AuthHandler) issueSession(c *fiber.Ctx, user *models.User, status int) error {
	session, raw, err := h.Sessions.Issue(user.ID, c.Get("User-Agent"), c.IP())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed creating session")
	}

	accessToken, err := utils.GenerateToken(user)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed generating token")
	}

	h.setRefreshCookie(c, raw, session.ExpiresAt)
	return utils.Success(c, status, fiber.Map{
		"accessToken": accessToken,
		"user":        user,
	})
}

func (h *AuthHandler) setRefreshCookie(c *fiber.Ctx, raw string, expires time.Time) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    raw,
		Path:     refreshCookiePath,
		Expires:  expires,
		HTTPOnly: true,
		Secure:   h.Cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *AuthHandler) clearRefreshCookie(c *fiber.Ctx) {
	c.Cookie(&fiber.Cookie{
		Name:     refreshCookieName,
		Value:    "",
		Path:     refreshCookiePath,
		Expires:  time.Unix(0, 0),
		HTTPOnly: true,
		Secure:   h.Cfg.IsProduction(),
		SameSite: fiber.CookieSameSiteLaxMode,
	})
}

func (h *AuthHandler) currentSessionID(c *fiber.Ctx) uuid.UUID {
	raw := c.Cookies(refreshCookieName)
	if raw == "" {
		return uuid.Nil
	}
	session, err := h.Sessions.FindActiveByToken(raw)
	if err != nil {
		return uuid.Nil
	}
	return session.ID
}
