package handlers

import (
	"errors"

	"cfprogress/internal/models"

	"github.com/gofiber/fiber/v2"
)

const (
	msgConflict      = "Student with this email or Codeforces handle already exists"
	msgNotFound      = "Student not found"
	msgInvalidBody   = "Invalid request body"
	msgValidation    = "Validation failed"
	msgInternalError = "Internal server error"
	msgTryLater      = "Something went wrong, please try again later"
)

// respond writes a success envelope
func respond(c *fiber.Ctx, status int, data interface{}, message string) error {
	return c.Status(status).JSON(models.NewAPIResponse(status, data, message))
}

// fail writes an error envelope
func fail(c *fiber.Ctx, status int, errText, message string) error {
	return c.Status(status).JSON(models.ErrorResponse{
		StatusCode: status,
		Success:    false,
		Error:      errText,
		Message:    message,
	})
}

// writeError maps the service error taxonomy onto HTTP statuses. Lookup
// failures are mapped by the caller because their status depends on the
// operation.
func writeError(c *fiber.Ctx, err error) error {
	var verr *models.ValidationError
	switch {
	case errors.As(err, &verr):
		return c.Status(fiber.StatusBadRequest).JSON(models.ErrorResponse{
			StatusCode: fiber.StatusBadRequest,
			Success:    false,
			Error:      msgValidation,
			Message:    verr.Error(),
			Fields:     verr.Fields,
		})
	case errors.Is(err, models.ErrConflict):
		return fail(c, fiber.StatusConflict, "Conflict", msgConflict)
	case errors.Is(err, models.ErrNotFound):
		return fail(c, fiber.StatusNotFound, "Not Found", msgNotFound)
	}

	var ferr *fiber.Error
	if errors.As(err, &ferr) {
		return fail(c, ferr.Code, "Request failed", ferr.Message)
	}

	return internalError(c, err)
}

// internalError logs err and answers 500 without exposing its text
func internalError(c *fiber.Ctx, err error) error {
	l := requestLogger(c)
	l.Error().Err(err).Str("path", c.Path()).Msg("request failed")
	return fail(c, fiber.StatusInternalServerError, msgInternalError, msgTryLater)
}

// ErrorHandler handles errors that escape the route handlers
func ErrorHandler(c *fiber.Ctx, err error) error {
	return writeError(c, err)
}
