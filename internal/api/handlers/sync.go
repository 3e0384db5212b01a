package handlers

import (
	"errors"

	"cfprogress/internal/jobs"
	"cfprogress/internal/models"
	"cfprogress/internal/repository"

	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog"
)

// SyncHandler exposes the batch sync job
type SyncHandler struct {
	job       *jobs.SyncJob
	scheduler *jobs.Scheduler
	board     repository.Board
	logger    zerolog.Logger
}

// NewSyncHandler creates a new sync handler. scheduler is nil when
// scheduled runs are disabled.
func NewSyncHandler(job *jobs.SyncJob, scheduler *jobs.Scheduler, board repository.Board, logger zerolog.Logger) *SyncHandler {
	return &SyncHandler{
		job:       job,
		scheduler: scheduler,
		board:     board,
		logger:    logger,
	}
}

// TriggerSync handles POST /api/v1/sync
// @Summary Start a sync run now
// @Success 202 {object} models.APIResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/sync [post]
func (h *SyncHandler) TriggerSync(c *fiber.Ctx) error {
	if err := h.job.Trigger(); err != nil {
		if errors.Is(err, jobs.ErrAlreadyRunning) {
			return fail(c, fiber.StatusConflict, "Conflict", "A sync run is already in progress")
		}
		return writeError(c, err)
	}

	h.logger.Info().Msg("manual sync run triggered")
	return respond(c, fiber.StatusAccepted, fiber.Map{"running": true}, "Sync started")
}

// GetSyncStatus handles GET /api/v1/sync/status
// @Summary Sync job status and last summary
// @Success 200 {object} models.APIResponse
// @Router /api/v1/sync/status [get]
func (h *SyncHandler) GetSyncStatus(c *fiber.Ctx) error {
	status := models.SyncStatus{
		Running:     h.job.IsRunning(),
		LastSummary: h.job.LastSummary(),
	}

	if h.scheduler != nil {
		status.Schedule = h.scheduler.Schedule()
		status.Timezone = h.scheduler.Location().String()
		if next := h.scheduler.NextRun(); !next.IsZero() {
			status.NextRun = &next
		}
	}

	// After a restart only the board remembers the last run
	if status.LastSummary == nil {
		summary, err := h.board.GetSyncSummary(c.Context())
		if err != nil {
			h.logger.Warn().Err(err).Msg("failed to read last sync summary")
		}
		status.LastSummary = summary
	}

	return respond(c, fiber.StatusOK, status, "Sync status retrieved successfully")
}
