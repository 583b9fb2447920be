package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/milemoto/backend/internal/middleware"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/internal/services"
	"github.com/milemoto/backend/pkg/utils"
	"gorm.io/gorm"
)

type UsersHandler struct {
	DB       *gorm.DB
	Sessions *services.SessionService
	Audit    *services.AuditService
}

func NewUsersHandler(db *gorm.DB, sessions *services.SessionService, audit *services.AuditService) *UsersHandler {
	return &UsersHandler{DB: db, Sessions: sessions, Audit: audit}
}

func (h *UsersHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	search := strings.TrimSpace(c.Query("search"))

	query := h.DB.Model(&models.User{})
	if search != "" {
		searchValue := "%" + strings.ToLower(search) + "%"
		query = query.Where(
			"LOWER(email) LIKE ? OR LOWER(full_name) LIKE ?",
			searchValue,
			searchValue,
		)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting users")
	}

	var users []models.User
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&users).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing users")
	}

	return utils.Paginated(c, users, p.Page, p.Limit, total)
}

func (h *UsersHandler) Get(c *fiber.Ctx) error {
	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "user not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}

type updateUserRequest struct {
	FullName *string            `json:"fullName"`
	Role     *models.UserRole   `json:"role"`
	Status   *models.UserStatus `json:"status"`
}

// Update covers admin changes only. Users are never hard-deleted; disabling
// via status is the terminal state.
func (h *UsersHandler) Update(c *fiber.Ctx) error {
	admin := middleware.GetCurrentUser(c)
	if admin == nil {
		return utils.Error(c, fiber.StatusUnauthorized, "unauthorized")
	}

	userID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid user id")
	}

	var req updateUserRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if req.FullName != nil {
		value := strings.TrimSpace(*req.FullName)
		if value == "" {
			return utils.Error(c, fiber.StatusBadRequest, "fullName cannot be empty")
		}
		updates["full_name"] = value
	}
	if req.Role != nil {
		if *req.Role != models.UserRoleAdmin && *req.Role != models.UserRoleUser {
			return utils.Error(c, fiber.StatusBadRequest, "invalid role")
		}
		updates["role"] = *req.Role
	}
	if req.Status != nil {
		if *req.Status != models.UserStatusActive && *req.Status != models.UserStatusDisabled {
			return utils.Error(c, fiber.StatusBadRequest, "invalid status")
		}
		updates["status"] = *req.Status
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.User{}).Where("id = ?", userID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating user")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "user not found")
	}

	// Disabling an account invalidates its refresh tokens immediately;
	// outstanding access tokens die with their short TTL.
	if req.Status != nil && *req.Status == models.UserStatusDisabled {
		_ = h.Sessions.RevokeAllForUser(userID)
		h.Audit.LogAsync(services.AuditEntry{
			UserID:       &admin.ID,
			Action:       "user.disabled",
			ResourceType: "user",
			ResourceID:   &userID,
			IPAddress:    c.IP(),
			RequestID:    getRequestID(c),
		})
	}

	var user models.User
	if err := h.DB.First(&user, "id = ?", userID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated user")
	}

	return utils.Success(c, fiber.StatusOK, user)
}
