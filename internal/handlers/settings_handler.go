package handlers

import (
	"github.com/gofiber/fiber/v2"
)

// SettingsHandler serves the client bootstrap settings. The payload is
// static for now; the mobile app reads it at launch.
type SettingsHandler struct {
	minAppVersion string
}

func NewSettingsHandler(minAppVersion string) *SettingsHandler {
	return &SettingsHandler{minAppVersion: minAppVersion}
}

func (h *SettingsHandler) Get(c *fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"min_app_version":   h.minAppVersion,
		"announcement":      "",
		"maintenance":       false,
		"chat_enabled":      true,
		"purchases_enabled": true,
	})
}
