package handlers

import (
	"errors"
	"fmt"
	"strconv"

	"cfprogress/internal/models"
	"cfprogress/internal/service"

	"github.com/gofiber/fiber/v2"
)

// StudentHandler handles HTTP requests for student records
type StudentHandler struct {
	service *service.StudentService
}

// NewStudentHandler creates a new student handler
func NewStudentHandler(service *service.StudentService) *StudentHandler {
	return &StudentHandler{service: service}
}

// CreateStudent handles POST /api/v1/students
// @Summary Add a student
// @Description Verifies the Codeforces handle and stores the student with its current rating
// @Accept json
// @Produce json
// @Param request body models.CreateStudentRequest true "Student"
// @Success 201 {object} models.APIResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/students [post]
func (h *StudentHandler) CreateStudent(c *fiber.Ctx) error {
	var req models.CreateStudentRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, msgInvalidBody, err.Error())
	}

	student, err := h.service.Create(c.Context(), req)
	if err != nil {
		if models.IsLookup(err) {
			return fail(c, fiber.StatusBadRequest, "Handle verification failed",
				fmt.Sprintf("Failed to verify Codeforces handle: %s. Please check for typos.", req.CodeForcesHandle))
		}
		return writeError(c, err)
	}

	return respond(c, fiber.StatusCreated, student, "Student created successfully")
}

// GetStudents handles GET /api/v1/students
// @Summary List students
// @Produce json
// @Success 200 {object} models.APIResponse
// @Router /api/v1/students [get]
func (h *StudentHandler) GetStudents(c *fiber.Ctx) error {
	students, err := h.service.List(c.Context())
	if err != nil {
		return writeError(c, err)
	}
	return respond(c, fiber.StatusOK, students, "Students retrieved successfully")
}

// GetStudent handles GET /api/v1/students/:id
// @Summary Get a student
// @Produce json
// @Param id path string true "Student ID"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/students/{id} [get]
func (h *StudentHandler) GetStudent(c *fiber.Ctx) error {
	student, err := h.service.Get(c.Context(), c.Params("id"))
	if err != nil {
		return writeError(c, err)
	}
	return respond(c, fiber.StatusOK, student, "Student retrieved successfully")
}

// UpdateStudent handles PUT and PATCH /api/v1/students/:id
// @Summary Update a student
// @Description Applies the given fields. Changing the handle refreshes the rating.
// @Accept json
// @Produce json
// @Param id path string true "Student ID"
// @Param request body models.UpdateStudentRequest true "Fields to change"
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 409 {object} models.ErrorResponse
// @Router /api/v1/students/{id} [put]
func (h *StudentHandler) UpdateStudent(c *fiber.Ctx) error {
	var req models.UpdateStudentRequest
	if err := c.BodyParser(&req); err != nil {
		return fail(c, fiber.StatusBadRequest, msgInvalidBody, err.Error())
	}

	student, err := h.service.Update(c.Context(), c.Params("id"), req)
	if err != nil {
		if models.IsLookup(err) && req.CodeForcesHandle != nil {
			return fail(c, fiber.StatusBadRequest, "Handle verification failed",
				fmt.Sprintf("Failed to sync data for new handle: %s. Please check the handle and try again.", *req.CodeForcesHandle))
		}
		return writeError(c, err)
	}

	return respond(c, fiber.StatusOK, student, "Student updated successfully.")
}

// DeleteStudent handles DELETE /api/v1/students/:id
// @Summary Delete a student
// @Param id path string true "Student ID"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/students/{id} [delete]
func (h *StudentHandler) DeleteStudent(c *fiber.Ctx) error {
	if err := h.service.Delete(c.Context(), c.Params("id")); err != nil {
		return writeError(c, err)
	}
	return respond(c, fiber.StatusOK, nil, "Student deleted successfully")
}

// SyncStudent handles POST /api/v1/students/:id/sync
// @Summary Refresh one student's rating now
// @Param id path string true "Student ID"
// @Success 200 {object} models.APIResponse
// @Failure 404 {object} models.ErrorResponse
// @Failure 502 {object} models.ErrorResponse
// @Router /api/v1/students/{id}/sync [post]
func (h *StudentHandler) SyncStudent(c *fiber.Ctx) error {
	student, err := h.service.Sync(c.Context(), c.Params("id"))
	if err != nil {
		var le *models.LookupError
		if errors.As(err, &le) {
			return fail(c, fiber.StatusBadGateway, "Sync failed",
				fmt.Sprintf("Could not sync data for handle: %s.", le.Handle))
		}
		return writeError(c, err)
	}
	return respond(c, fiber.StatusOK, student, "Student data synced successfully.")
}

// GetProfile handles GET /api/v1/students/:id/profile
// @Summary Contest and problem statistics
// @Param id path string true "Student ID"
// @Param days query int false "Window in days, 0 or absent for all time"
// @Success 200 {object} models.APIResponse
// @Failure 400 {object} models.ErrorResponse
// @Failure 404 {object} models.ErrorResponse
// @Router /api/v1/students/{id}/profile [get]
func (h *StudentHandler) GetProfile(c *fiber.Ctx) error {
	days := 0
	if raw := c.Query("days"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil {
			return writeError(c, models.NewValidationError(models.FieldError{Field: "days", Error: "days must be an integer"}))
		}
		days = n
	}

	view, err := h.service.Profile(c.Context(), c.Params("id"), days)
	if err != nil {
		if models.IsLookup(err) {
			return fail(c, fiber.StatusBadGateway, "Profile unavailable", err.Error())
		}
		return writeError(c, err)
	}
	return respond(c, fiber.StatusOK, view, "Profile retrieved successfully")
}

// ExportStudents handles GET /api/v1/students/export
// @Summary Download every student as CSV
// @Produce text/csv
// @Success 200 {file} file
// @Router /api/v1/students/export [get]
func (h *StudentHandler) ExportStudents(c *fiber.Ctx) error {
	c.Set(fiber.HeaderContentType, "text/csv; charset=utf-8")
	c.Set(fiber.HeaderContentDisposition, `attachment; filename="students.csv"`)

	if err := h.service.ExportCSV(c.Context(), c.Response().BodyWriter()); err != nil {
		c.Response().ResetBody()
		c.Response().Header.Del(fiber.HeaderContentDisposition)
		return writeError(c, err)
	}
	c.Status(fiber.StatusOK)
	return nil
}
