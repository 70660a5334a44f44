package handler

import (
	"log/slog"

	"github.com/gofiber/fiber/v2"

	"github.com/ahmednasr/firstcommit/indexer/internal/service"
)

type HealthHandler struct {
	svc service.SearchService
}

func NewHealthHandler(svc service.SearchService) *HealthHandler {
	return &HealthHandler{svc: svc}
}

func (h *HealthHandler) Register(r fiber.Router) {
	r.Get("/health", h.health)
}

// health always answers 200; the body says whether the index is reachable.
func (h *HealthHandler) health(c *fiber.Ctx) error {
	stats, err := h.svc.HealthCheck(c.UserContext())
	if err != nil {
		slog.Warn("health check failed", "err", err)
		return c.JSON(fiber.Map{
			"status": "unhealthy",
			"error":  "vector index unreachable",
		})
	}
	return c.JSON(fiber.Map{
		"status":      "healthy",
		"index_stats": stats,
	})
}
