package handlers

import (
	"strings"

	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"
)

func parseUUID(value string) (uuid.UUID, error) {
	return uuid.Parse(strings.TrimSpace(value))
}

func getRequestID(c *fiber.Ctx) string {
	return c.Get("X-Request-ID")
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
