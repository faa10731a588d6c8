package api

import (
	"context"
	"time"

	"github.com/gofiber/fiber/v3"
	"github.com/redis/go-redis/v9"
)

// HealthHandler serves the health check and welcome endpoints.
type HealthHandler struct {
	rdb        *redis.Client
	appName    string
	appVersion string
}

// NewHealthHandler creates a health handler.
func NewHealthHandler(rdb *redis.Client, appName, appVersion string) *HealthHandler {
	return &HealthHandler{rdb: rdb, appName: appName, appVersion: appVersion}
}

// Health pings the ephemeral store and reports hub status. The hub cannot do
// its job without redis, so a failed ping makes the whole check unhealthy.
func (h *HealthHandler) Health(c fiber.Ctx) error {
	ctx, cancel := context.WithTimeout(c.Context(), 3*time.Second)
	defer cancel()

	if err := h.rdb.Ping(ctx).Err(); err != nil {
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"status":  "unhealthy",
			"app":     h.appName,
			"version": h.appVersion,
			"redis":   "disconnected",
		})
	}

	return c.JSON(fiber.Map{
		"status":  "healthy",
		"app":     h.appName,
		"version": h.appVersion,
		"redis":   "connected",
	})
}

// Root serves the welcome banner.
func (h *HealthHandler) Root(c fiber.Ctx) error {
	return c.JSON(fiber.Map{
		"message": "Welcome to " + h.appName,
		"version": h.appVersion,
	})
}
