package handlers

import (
	"errors"
	"strconv"

	"cfprogress/internal/models"
	"cfprogress/internal/service"

	"github.com/gofiber/fiber/v2"
)

// LeaderboardHandler handles HTTP requests for the rating leaderboard
type LeaderboardHandler struct {
	service *service.LeaderboardService
}

// NewLeaderboardHandler creates a new leaderboard handler
func NewLeaderboardHandler(service *service.LeaderboardService) *LeaderboardHandler {
	return &LeaderboardHandler{service: service}
}

// GetLeaderboard handles GET /api/v1/leaderboard
// @Summary Get leaderboard
// @Description Students ordered by current rating, equal ratings share a rank
// @Produce json
// @Param offset query int false "Offset for pagination" default(0)
// @Param limit query int false "Limit for pagination" default(50)
// @Success 200 {object} models.APIResponse
// @Failure 500 {object} models.ErrorResponse
// @Router /api/v1/leaderboard [get]
func (h *LeaderboardHandler) GetLeaderboard(c *fiber.Ctx) error {
	offset, err := strconv.Atoi(c.Query("offset", "0"))
	if err != nil {
		offset = 0
	}
	limit, err := strconv.Atoi(c.Query("limit", "50"))
	if err != nil {
		limit = 0
	}

	leaderboard, err := h.service.GetLeaderboard(c.Context(), offset, limit)
	if err != nil {
		return internalError(c, err)
	}

	return respond(c, fiber.StatusOK, leaderboard, "Leaderboard retrieved successfully")
}

// SearchHandle handles GET /api/v1/leaderboard/:handle
// @Summary Rank of one handle
// @Produce json
// @Param handle path string true "Codeforces handle"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/leaderboard/{handle} [get]
func (h *LeaderboardHandler) SearchHandle(c *fiber.Ctx) error {
	handle := c.Params("handle")
	if handle == "" {
		return fail(c, fiber.StatusBadRequest, "Invalid handle", "Handle cannot be empty")
	}

	result, err := h.service.SearchHandle(c.Context(), handle)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return fail(c, fiber.StatusNotFound, "Not Found", "Handle is not on the leaderboard")
		}
		return writeError(c, err)
	}

	return respond(c, fiber.StatusOK, result, "Rank retrieved successfully")
}

// HealthCheck handles GET /api/v1/health
// @Summary Health check
// @Description Checks the health of the service and its dependencies
// @Produce json
// @Success 200 {object} map[string]interface{}
// @Failure 503 {object} models.ErrorResponse
// @Router /api/v1/health [get]
func (h *LeaderboardHandler) HealthCheck(c *fiber.Ctx) error {
	if err := h.service.HealthCheck(c.Context()); err != nil {
		l := requestLogger(c)
		l.Warn().Err(err).Msg("health check failed")
		return fail(c, fiber.StatusServiceUnavailable, "Health check failed", "Storage is unavailable")
	}

	return c.Status(fiber.StatusOK).JSON(fiber.Map{
		"status":  "healthy",
		"message": "All systems operational",
	})
}
