package handlers

import (
	"encoding/json"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/milemoto/backend/internal/config"
	"github.com/milemoto/backend/internal/middleware"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/internal/services"
	"github.com/milemoto/backend/pkg/logger"
	"github.com/milemoto/backend/pkg/utils"
	"github.com/pquerna/otp"
	"github.com/pquerna/otp/totp"
	"gorm.io/gorm"
)

const backupCodeCount = 10

type MFAHandler struct {
	DB       *gorm.DB
	Sessions *services.SessionService
	Audit    *services.AuditService
	Cfg      *config.Config
}

func NewMFAHandler(db *gorm.DB, sessions *services.SessionService, audit *services.AuditService, cfg *config.Config) *MFAHandler {
	return &MFAHandler{DB: db, Sessions: sessions, Audit: audit, Cfg: cfg}
}

func (h *MFAHandler) Status(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	remaining := 0
	if user.BackupCodes != "" {
		var hashes []string
		if err := json.Unmarshal([]byte(user.BackupCodes), &hashes); err == nil {
			remaining = len(hashes)
		}
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"mfaEnabled":           user.MFAEnabled,
		"backupCodesRemaining": remaining,
	})
}

// SetupStart generates a candidate TOTP secret and parks it in a short-lived
// challenge row. Nothing touches the user record until the code is verified.
func (h *MFAHandler) SetupStart(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	if user.MFAEnabled {
		return utils.Error(c, fiber.StatusConflict, "MFA is already enabled")
	}

	key, err := totp.Generate(totp.GenerateOpts{
		Issuer:      h.Cfg.MFA.Issuer,
		AccountName: user.Email,
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate TOTP secret")
	}

	encryptedSecret, err := utils.EncryptAESGCM(key.Secret())
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to encrypt TOTP secret")
	}

	// An abandoned earlier attempt should not leave a competing challenge.
	h.DB.Where("user_id = ? AND type = ?", user.ID, models.MFAChallengeSetup).
		Delete(&models.MFAChallenge{})

	challenge := models.MFAChallenge{
		UserID:    user.ID,
		Type:      models.MFAChallengeSetup,
		Secret:    encryptedSecret,
		ExpiresAt: time.Now().Add(h.Cfg.MFA.ChallengeTTL),
	}
	if err := h.DB.Create(&challenge).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to save setup challenge")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"challengeId": challenge.ID,
		"secret":      key.Secret(),
		"otpauthURL":  key.URL(),
	})
}

type setupVerifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
}

// SetupVerify commits the challenged secret to the user record and hands out
// the backup codes — the only time they are ever visible in plaintext.
func (h *MFAHandler) SetupVerify(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req setupVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ChallengeID == "" || req.Code == "" {
		return utils.Error(c, fiber.StatusBadRequest, "challengeId and code are required")
	}

	challengeID, err := parseUUID(req.ChallengeID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid challenge id")
	}

	var challenge models.MFAChallenge
	err = h.DB.First(&challenge,
		"id = ? AND user_id = ? AND type = ?",
		challengeID, user.ID, models.MFAChallengeSetup,
	).Error
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "setup challenge not found")
	}
	if time.Now().After(challenge.ExpiresAt) {
		h.DB.Delete(&challenge)
		return utils.Error(c, fiber.StatusBadRequest, "setup challenge expired")
	}

	secret := utils.DecryptOrPlaintext(challenge.Secret)
	if !validateTOTP(req.Code, secret) {
		// Challenge stays valid until its TTL so the user can retry.
		return utils.ErrorCode(c, fiber.StatusBadRequest, "invalid_code", "invalid code")
	}

	codes, hashedCodes, err := generateBackupCodes(backupCodeCount)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to generate backup codes")
	}
	codesJSON, err := json.Marshal(hashedCodes)
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to serialize backup codes")
	}

	err = h.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Model(user).Updates(map[string]interface{}{
			"mfa_enabled":  true,
			"mfa_secret":   challenge.Secret,
			"backup_codes": string(codesJSON),
		}).Error; err != nil {
			return err
		}
		return tx.Delete(&challenge).Error
	})
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to enable MFA")
	}

	logger.Info("mfa_enabled", map[string]interface{}{
		"user_id": user.ID.String(),
	})
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.enabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{
		"backupCodes": codes,
	})
}

type loginVerifyRequest struct {
	ChallengeID string `json:"challengeId"`
	Code        string `json:"code"`
	BackupCode  string `json:"backupCode"`
}

// LoginVerify completes a password-authenticated login that still owes a
// second factor, accepting either a 6-digit code or a backup code.
func (h *MFAHandler) LoginVerify(c *fiber.Ctx) error {
	var req loginVerifyRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}
	if req.ChallengeID == "" || (req.Code == "" && req.BackupCode == "") {
		return utils.Error(c, fiber.StatusBadRequest, "challengeId and a code are required")
	}

	challengeID, err := parseUUID(req.ChallengeID)
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid challenge id")
	}

	var challenge models.MFAChallenge
	err = h.DB.First(&challenge,
		"id = ? AND type = ?", challengeID, models.MFAChallengeLogin,
	).Error
	if err != nil {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_challenge", "invalid or expired challenge")
	}
	if time.Now().After(challenge.ExpiresAt) {
		h.DB.Delete(&challenge)
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_challenge", "invalid or expired challenge")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", challenge.UserID).Error; err != nil {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_challenge", "invalid or expired challenge")
	}
	if user.Status != models.UserStatusActive {
		return utils.ErrorCode(c, fiber.StatusForbidden, "account_disabled", "account disabled")
	}

	method := "totp"
	if req.Code != "" {
		if !validateTOTP(req.Code, utils.DecryptOrPlaintext(user.MFASecret)) {
			return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_code", "invalid code")
		}
	} else {
		method = "backup_code"
		if !consumeBackupCode(h.DB, &user, req.BackupCode) {
			return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_code", "invalid code")
		}
	}

	h.DB.Delete(&challenge)

	if challenge.RememberDevice {
		if _, err := mintTrustedDevice(h.DB, h.Cfg, c, user.ID); err != nil {
			logger.Error("trusted_device_mint_failed", err, map[string]interface{}{
				"user_id": user.ID.String(),
			})
		} else {
			h.Audit.LogAsync(services.AuditEntry{
				UserID:       &user.ID,
				Action:       "device.trusted",
				ResourceType: "trusted_device",
				IPAddress:    c.IP(),
				RequestID:    getRequestID(c),
			})
		}
	}

	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "auth.mfa_login",
		ResourceType: "user",
		ResourceID:   &user.ID,
		Details: map[string]interface{}{
			"method": method,
		},
		IPAddress: c.IP(),
		RequestID: getRequestID(c),
	})

	auth := &AuthHandler{DB: h.DB, Sessions: h.Sessions, Audit: h.Audit, Cfg: h.Cfg}
	return auth.issueSession(c, &user, fiber.StatusOK)
}

type disableRequest struct {
	Password   string `json:"password"`
	Code       string `json:"code"`
	BackupCode string `json:"backupCode"`
}

// Disable requires re-proof of both factors so a stolen access token alone
// cannot strip the account's protection.
func (h *MFAHandler) Disable(c *fiber.Ctx) error {
	user := middleware.GetCurrentUser(c)
	if user == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	var req disableRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	if !user.MFAEnabled {
		return utils.Error(c, fiber.StatusBadRequest, "MFA is not enabled")
	}
	if req.Password == "" || (req.Code == "" && req.BackupCode == "") {
		return utils.Error(c, fiber.StatusBadRequest, "password and a code are required")
	}

	if !utils.CheckPassword(req.Password, user.PasswordHash) {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_credentials", "invalid credentials")
	}

	if req.Code != "" {
		if !validateTOTP(req.Code, utils.DecryptOrPlaintext(user.MFASecret)) {
			return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_code", "invalid code")
		}
	} else if !consumeBackupCode(h.DB, user, req.BackupCode) {
		return utils.ErrorCode(c, fiber.StatusUnauthorized, "invalid_code", "invalid code")
	}

	err := h.DB.Model(user).Updates(map[string]interface{}{
		"mfa_enabled":  false,
		"mfa_secret":   "",
		"backup_codes": "",
	}).Error
	if err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed to disable MFA")
	}

	logger.Info("mfa_disabled", map[string]interface{}{
		"user_id": user.ID.String(),
	})
	h.Audit.LogAsync(services.AuditEntry{
		UserID:       &user.ID,
		Action:       "mfa.disabled",
		ResourceType: "user",
		ResourceID:   &user.ID,
		IPAddress:    c.IP(),
		RequestID:    getRequestID(c),
	})

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "MFA disabled"})
}

// validateTOTP accepts the current 30s step plus one step either side to
// absorb clock drift.
func validateTOTP(code, secret string) bool {
	valid, err := totp.ValidateCustom(code, secret, time.Now(), totp.ValidateOpts{
		Period:    30,
		Skew:      1,
		Digits:    otp.DigitsSix,
		Algorithm: otp.AlgorithmSHA1,
	})
	return err == nil && valid
}

func generateBackupCodes(count int) (plaintextCodes []string, hashedCodes []string, err error) {
	for i := 0; i < count; i++ {
		code, err := utils.GenerateRandomToken(8)
		if err != nil {
			return nil, nil, err
		}
		plaintextCodes = append(plaintextCodes, code)

		hashed, err := utils.HashPassword(code)
		if err != nil {
			return nil, nil, err
		}
		hashedCodes = append(hashedCodes, hashed)
	}
	return plaintextCodes, hashedCodes, nil
}

// consumeBackupCode checks the presented code against the user's unused
// backup-code hashes and removes the match, making each code single-use.
func consumeBackupCode(db *gorm.DB, user *models.User, code string) bool {
	if user.BackupCodes == "" {
		return false
	}

	var storedHashes []string
	if err := json.Unmarshal([]byte(user.BackupCodes), &storedHashes); err != nil {
		return false
	}

	matchIndex := -1
	for i, hashed := range storedHashes {
		if utils.CheckPassword(code, hashed) {
			matchIndex = i
			break
		}
	}
	if matchIndex == -1 {
		return false
	}

	storedHashes = append(storedHashes[:matchIndex], storedHashes[matchIndex+1:]...)
	updatedJSON, err := json.Marshal(storedHashes)
	if err != nil {
		return false
	}

	if err := db.Model(user).Update("backup_codes", string(updatedJSON)).Error; err != nil {
		return false
	}
	user.BackupCodes = string(updatedJSON)
	return true
}

// CleanupExpiredMFAChallenges lazily sweeps expired challenge rows; expiry
// itself is always enforced at read time.
func CleanupExpiredMFAChallenges(db *gorm.DB) {
	db.Where("expires_at < ?", time.Now()).Delete(&models.MFAChallenge{})
}
