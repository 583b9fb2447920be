package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/milemoto/backend/internal/models"
	"github.com/milemoto/backend/pkg/utils"
	"gorm.io/gorm"
)

type ProductsHandler struct {
	DB *gorm.DB
}

func NewProductsHandler(db *gorm.DB) *ProductsHandler {
	return &ProductsHandler{DB: db}
}

func (h *ProductsHandler) List(c *fiber.Ctx) error {
	p := utils.ParsePagination(c)
	search := strings.TrimSpace(c.Query("search"))

	query := h.DB.Model(&models.Product{}).Where("active = ?", true)
	if search != "" {
		searchValue := "%" + strings.ToLower(search) + "%"
		query = query.Where("LOWER(name) LIKE ?", searchValue)
	}

	var total int64
	if err := query.Count(&total).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed counting products")
	}

	var products []models.Product
	if err := utils.ApplyPagination(query.Order("created_at DESC"), p).Find(&products).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed listing products")
	}

	return utils.Paginated(c, products, p.Page, p.Limit, total)
}

func (h *ProductsHandler) Get(c *fiber.Ctx) error {
	productID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid product id")
	}

	var product models.Product
	if err := h.DB.First(&product, "id = ?", productID).Error; err != nil {
		if err == gorm.ErrRecordNotFound {
			return utils.Error(c, fiber.StatusNotFound, "product not found")
		}
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching product")
	}

	return utils.Success(c, fiber.StatusOK, product)
}

type productRequest struct {
	Name        string `json:"name"`
	Slug        string `json:"slug"`
	Description string `json:"description"`
	PriceCents  int64  `json:"priceCents"`
	Currency    string `json:"currency"`
	Stock       *int   `json:"stock"`
	Active      *bool  `json:"active"`
}

func (h *ProductsHandler) Create(c *fiber.Ctx) error {
	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	req.Name = strings.TrimSpace(req.Name)
	req.Slug = strings.ToLower(strings.TrimSpace(req.Slug))
	if req.Name == "" || req.Slug == "" {
		return utils.Error(c, fiber.StatusBadRequest, "name and slug are required")
	}
	if req.PriceCents < 0 {
		return utils.Error(c, fiber.StatusBadRequest, "priceCents cannot be negative")
	}

	product := models.Product{
		Name:        req.Name,
		Slug:        req.Slug,
		Description: req.Description,
		PriceCents:  req.PriceCents,
		Currency:    strings.ToUpper(strings.TrimSpace(req.Currency)),
		Active:      true,
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return utils.Error(c, fiber.StatusBadRequest, "stock cannot be negative")
		}
		product.Stock = *req.Stock
	}
	if product.Currency == "" {
		product.Currency = "USD"
	}
	if req.Active != nil {
		product.Active = *req.Active
	}

	if err := h.DB.Create(&product).Error; err != nil {
		return utils.Error(c, fiber.StatusConflict, "slug already in use")
	}

	return utils.Success(c, fiber.StatusCreated, product)
}

func (h *ProductsHandler) Update(c *fiber.Ctx) error {
	productID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid product id")
	}

	var req productRequest
	if err := c.BodyParser(&req); err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid request body")
	}

	updates := map[string]interface{}{}
	if name := strings.TrimSpace(req.Name); name != "" {
		updates["name"] = name
	}
	if slug := strings.ToLower(strings.TrimSpace(req.Slug)); slug != "" {
		updates["slug"] = slug
	}
	if req.Description != "" {
		updates["description"] = req.Description
	}
	if req.PriceCents > 0 {
		updates["price_cents"] = req.PriceCents
	}
	if req.Stock != nil {
		if *req.Stock < 0 {
			return utils.Error(c, fiber.StatusBadRequest, "stock cannot be negative")
		}
		updates["stock"] = *req.Stock
	}
	if req.Active != nil {
		updates["active"] = *req.Active
	}

	if len(updates) == 0 {
		return utils.Error(c, fiber.StatusBadRequest, "no valid fields to update")
	}

	result := h.DB.Model(&models.Product{}).Where("id = ?", productID).Updates(updates)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed updating product")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "product not found")
	}

	var product models.Product
	if err := h.DB.First(&product, "id = ?", productID).Error; err != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed fetching updated product")
	}

	return utils.Success(c, fiber.StatusOK, product)
}

func (h *ProductsHandler) Delete(c *fiber.Ctx) error {
	productID, err := parseUUID(c.Params("id"))
	if err != nil {
		return utils.Error(c, fiber.StatusBadRequest, "invalid product id")
	}

	result := h.DB.Delete(&models.Product{}, "id = ?", productID)
	if result.Error != nil {
		return utils.Error(c, fiber.StatusInternalServerError, "failed deleting product")
	}
	if result.RowsAffected == 0 {
		return utils.Error(c, fiber.StatusNotFound, "product not found")
	}

	return utils.Success(c, fiber.StatusOK, fiber.Map{"message": "product deleted"})
}
