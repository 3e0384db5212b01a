package service

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"cfprogress/internal/analytics"
	"cfprogress/internal/models"
	"cfprogress/internal/repository"
	"cfprogress/internal/validation"

	"github.com/rs/zerolog"
)

// RatingSource is the part of the Codeforces client the services use
type RatingSource interface {
	FetchSnapshot(ctx context.Context, handle string) (models.RatingSnapshot, error)
	FetchDetailedProfile(ctx context.Context, handle string) (*models.DetailedProfile, error)
}

// ExportHeaders is the header row of the CSV export
var ExportHeaders = []string{
	"ID",
	"Name",
	"Email",
	"PhoneNumber",
	"CodeforcesHandle",
	"CurrentRating",
	"MaxRating",
	"LastUpdated",
	"CreatedAt",
}

// StudentService handles business logic for student records
type StudentService struct {
	store     repository.StudentStore
	board     repository.Board
	source    RatingSource
	validator *validation.Validator
	logger    zerolog.Logger
	now       func() time.Time
}

// NewStudentService creates a new student service
func NewStudentService(
	store repository.StudentStore,
	board repository.Board,
	source RatingSource,
	validator *validation.Validator,
	logger zerolog.Logger,
) *StudentService {
	return &StudentService{
		store:     store,
		board:     board,
		source:    source,
		validator: validator,
		logger:    logger.With().Str("component", "student_service").Logger(),
		now:       time.Now,
	}
}

// Create validates req, checks uniqueness, verifies the handle against the
// rating source and stores the student with its first rating snapshot.
func (s *StudentService) Create(ctx context.Context, req models.CreateStudentRequest) (*models.Student, error) {
	req.Name = strings.TrimSpace(req.Name)
	req.Email = strings.TrimSpace(req.Email)
	req.PhoneNumber = strings.TrimSpace(req.PhoneNumber)
	req.CodeForcesHandle = strings.TrimSpace(req.CodeForcesHandle)

	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	existing, err := s.store.FindOne(ctx, repository.StudentFilter{
		Email:  req.Email,
		Handle: req.CodeForcesHandle,
	})
	if err != nil {
		return nil, fmt.Errorf("check uniqueness: %w", err)
	}
	if existing != nil {
		return nil, models.ErrConflict
	}

	snap, err := s.source.FetchSnapshot(ctx, req.CodeForcesHandle)
	if err != nil {
		return nil, err
	}

	remindersEnabled := true
	if req.RemindersEnabled != nil {
		remindersEnabled = *req.RemindersEnabled
	}
	observedAt := snap.ObservedAt
	student := &models.Student{
		Name:             req.Name,
		Email:            req.Email,
		PhoneNumber:      req.PhoneNumber,
		CodeForcesHandle: req.CodeForcesHandle,
		CurrentRating:    snap.CurrentRating,
		MaxRating:        snap.MaxRating,
		LastSyncedAt:     &observedAt,
		RemindersEnabled: remindersEnabled,
	}
	if err := s.store.Create(ctx, student); err != nil {
		return nil, err
	}

	s.placeOnBoard(ctx, student.CodeForcesHandle, student.CurrentRating)
	s.logger.Info().Str("id", student.ID).Str("handle", student.CodeForcesHandle).Int("rating", student.CurrentRating).Msg("student created")
	return student, nil
}

// List returns every student, oldest first
func (s *StudentService) List(ctx context.Context) ([]models.Student, error) {
	students, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("list students: %w", err)
	}
	if students == nil {
		students = []models.Student{}
	}
	return students, nil
}

// Get returns one student or ErrNotFound
func (s *StudentService) Get(ctx context.Context, id string) (*models.Student, error) {
	return s.store.FindByID(ctx, id)
}

// Update applies the fields present in req. The rating snapshot is refreshed
// only when a handle is given and differs from the stored one; a failed lookup
// leaves the record untouched.
func (s *StudentService) Update(ctx context.Context, id string, req models.UpdateStudentRequest) (*models.Student, error) {
	trimPtr(req.Name)
	trimPtr(req.Email)
	trimPtr(req.PhoneNumber)
	trimPtr(req.CodeForcesHandle)

	if err := s.validator.Struct(req); err != nil {
		return nil, err
	}

	current, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.IsEmpty() {
		return current, nil
	}

	fields := make(map[string]interface{})
	if req.Name != nil {
		fields[models.ColName] = *req.Name
	}
	if req.PhoneNumber != nil {
		fields[models.ColPhoneNumber] = *req.PhoneNumber
	}
	if req.RemindersEnabled != nil {
		fields[models.ColRemindersEnabled] = *req.RemindersEnabled
	}

	if req.Email != nil && *req.Email != current.Email {
		clash, err := s.store.FindOne(ctx, repository.StudentFilter{Email: *req.Email, ExcludeID: id})
		if err != nil {
			return nil, fmt.Errorf("check uniqueness: %w", err)
		}
		if clash != nil {
			return nil, models.ErrConflict
		}
		fields[models.ColEmail] = *req.Email
	}

	handleChanged := req.CodeForcesHandle != nil && *req.CodeForcesHandle != current.CodeForcesHandle
	if handleChanged {
		newHandle := *req.CodeForcesHandle
		clash, err := s.store.FindOne(ctx, repository.StudentFilter{Handle: newHandle, ExcludeID: id})
		if err != nil {
			return nil, fmt.Errorf("check uniqueness: %w", err)
		}
		if clash != nil {
			return nil, models.ErrConflict
		}

		snap, err := s.source.FetchSnapshot(ctx, newHandle)
		if err != nil {
			return nil, err
		}
		fields[models.ColHandle] = newHandle
		fields[models.ColCurrentRating] = snap.CurrentRating
		fields[models.ColMaxRating] = snap.MaxRating
		fields[models.ColLastSyncedAt] = snap.ObservedAt
	}

	updated, err := s.store.UpdateByID(ctx, id, fields)
	if err != nil {
		return nil, err
	}

	if handleChanged {
		s.removeFromBoard(ctx, current.CodeForcesHandle)
		s.placeOnBoard(ctx, updated.CodeForcesHandle, updated.CurrentRating)
	} else {
		s.bumpVersion(ctx)
	}

	s.logger.Info().Str("id", id).Bool("handle_changed", handleChanged).Msg("student updated")
	return updated, nil
}

// Delete removes a student and its board entry
func (s *StudentService) Delete(ctx context.Context, id string) error {
	student, err := s.store.FindByID(ctx, id)
	if err != nil {
		return err
	}

	deleted, err := s.store.DeleteByID(ctx, id)
	if err != nil {
		return fmt.Errorf("delete student: %w", err)
	}
	if !deleted {
		return models.ErrNotFound
	}

	s.removeFromBoard(ctx, student.CodeForcesHandle)
	s.logger.Info().Str("id", id).Str("handle", student.CodeForcesHandle).Msg("student deleted")
	return nil
}

// Sync refreshes one student's rating immediately
func (s *StudentService) Sync(ctx context.Context, id string) (*models.Student, error) {
	student, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	snap, err := s.source.FetchSnapshot(ctx, student.CodeForcesHandle)
	if err != nil {
		return nil, err
	}

	updated, err := s.store.UpdateByID(ctx, id, map[string]interface{}{
		models.ColCurrentRating: snap.CurrentRating,
		models.ColMaxRating:     snap.MaxRating,
		models.ColLastSyncedAt:  snap.ObservedAt,
	})
	if err != nil {
		return nil, err
	}

	s.placeOnBoard(ctx, updated.CodeForcesHandle, updated.CurrentRating)
	return updated, nil
}

// Profile builds the statistics view of a student over the last days days
// (0 for the full history).
func (s *StudentService) Profile(ctx context.Context, id string, days int) (*models.ProfileView, error) {
	if days < 0 {
		return nil, models.NewValidationError(models.FieldError{Field: "days", Error: "days must not be negative"})
	}

	student, err := s.store.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}

	profile, err := s.source.FetchDetailedProfile(ctx, student.CodeForcesHandle)
	if err != nil {
		return nil, err
	}

	view := analytics.Aggregate(*profile, days, s.now())
	return &view, nil
}

// ExportCSV writes every student as CSV to w
func (s *StudentService) ExportCSV(ctx context.Context, w io.Writer) error {
	students, err := s.store.ListAll(ctx)
	if err != nil {
		return fmt.Errorf("list students: %w", err)
	}

	cw := csv.NewWriter(w)
	if err := cw.Write(ExportHeaders); err != nil {
		return err
	}
	for _, st := range students {
		lastUpdated := ""
		if st.LastSyncedAt != nil {
			lastUpdated = st.LastSyncedAt.UTC().Format(time.RFC3339)
		}
		createdAt := ""
		if !st.CreatedAt.IsZero() {
			createdAt = st.CreatedAt.UTC().Format(time.RFC3339)
		}
		row := []string{
			st.ID,
			st.Name,
			st.Email,
			st.PhoneNumber,
			st.CodeForcesHandle,
			strconv.Itoa(st.CurrentRating),
			strconv.Itoa(st.MaxRating),
			lastUpdated,
			createdAt,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Board updates are best effort: the store is authoritative and the board is
// rebuilt from it at startup.

func (s *StudentService) placeOnBoard(ctx context.Context, handle string, rating int) {
	if err := s.board.UpdateRating(ctx, handle, rating); err != nil {
		s.logger.Warn().Err(err).Str("handle", handle).Msg("failed to update rating board")
	}
}

func (s *StudentService) removeFromBoard(ctx context.Context, handle string) {
	if err := s.board.RemoveHandle(ctx, handle); err != nil {
		s.logger.Warn().Err(err).Str("handle", handle).Msg("failed to remove handle from rating board")
	}
}

func (s *StudentService) bumpVersion(ctx context.Context) {
	if err := s.board.BumpVersion(ctx); err != nil {
		s.logger.Warn().Err(err).Msg("failed to bump board version")
	}
}

func trimPtr(p *string) {
	if p != nil {
		*p = strings.TrimSpace(*p)
	}
}
