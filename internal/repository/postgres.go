package repository

import (
	"context"
	"errors"
	"fmt"

	"cfprogress/internal/models"

	"github.com/google/uuid"
	"gorm.io/gorm"
)

// PostgresRepository is the gorm-backed StudentStore. The *gorm.DB must be
// opened with TranslateError so unique violations surface as ErrDuplicatedKey.
type PostgresRepository struct {
	db *gorm.DB
}

// NewPostgresRepository creates a new Postgres repository
func NewPostgresRepository(db *gorm.DB) *PostgresRepository {
	return &PostgresRepository{
		db: db,
	}
}

// Create inserts a student, assigning an id when missing
func (r *PostgresRepository) Create(ctx context.Context, student *models.Student) error {
	if student.ID == "" {
		student.ID = uuid.NewString()
	}
	err := r.db.WithContext(ctx).Create(student).Error
	if errors.Is(err, gorm.ErrDuplicatedKey) {
		return models.ErrConflict
	}
	return err
}

// ListAll returns every student, oldest first
func (r *PostgresRepository) ListAll(ctx context.Context) ([]models.Student, error) {
	var students []models.Student
	err := r.db.WithContext(ctx).Order("created_at ASC").Find(&students).Error
	return students, err
}

// FindByID retrieves a student by id
func (r *PostgresRepository) FindByID(ctx context.Context, id string) (*models.Student, error) {
	var student models.Student
	err := r.db.WithContext(ctx).Where("id = ?", id).First(&student).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, models.ErrNotFound
		}
		return nil, err
	}
	return &student, nil
}

// FindOne returns the first student whose email or handle matches the filter
func (r *PostgresRepository) FindOne(ctx context.Context, filter StudentFilter) (*models.Student, error) {
	if filter.IsEmpty() {
		return nil, nil
	}

	q := r.db.WithContext(ctx).Model(&models.Student{})
	switch {
	case filter.Email != "" && filter.Handle != "":
		q = q.Where("email = ? OR code_forces_handle = ?", filter.Email, filter.Handle)
	case filter.Email != "":
		q = q.Where("email = ?", filter.Email)
	default:
		q = q.Where("code_forces_handle = ?", filter.Handle)
	}
	if filter.ExcludeID != "" {
		q = q.Where("id <> ?", filter.ExcludeID)
	}

	var student models.Student
	err := q.First(&student).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, nil
		}
		return nil, err
	}
	return &student, nil
}

// UpdateByID writes only the given columns and returns the stored record
func (r *PostgresRepository) UpdateByID(ctx context.Context, id string, fields map[string]interface{}) (*models.Student, error) {
	if len(fields) == 0 {
		return r.FindByID(ctx, id)
	}

	res := r.db.WithContext(ctx).Model(&models.Student{}).Where("id = ?", id).Updates(fields)
	if res.Error != nil {
		if errors.Is(res.Error, gorm.ErrDuplicatedKey) {
			return nil, models.ErrConflict
		}
		return nil, fmt.Errorf("update student %s: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return nil, models.ErrNotFound
	}
	return r.FindByID(ctx, id)
}

// DeleteByID removes a student, reporting whether a row existed
func (r *PostgresRepository) DeleteByID(ctx context.Context, id string) (bool, error) {
	res := r.db.WithContext(ctx).Where("id = ?", id).Delete(&models.Student{})
	if res.Error != nil {
		return false, res.Error
	}
	return res.RowsAffected > 0, nil
}

// Count returns the total number of students
func (r *PostgresRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&models.Student{}).Count(&count).Error
	return count, err
}

// Ping checks if database is reachable
func (r *PostgresRepository) Ping(ctx context.Context) error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.PingContext(ctx)
}

// Close closes the database connection
func (r *PostgresRepository) Close() error {
	sqlDB, err := r.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

// AutoMigrate runs database migrations
func (r *PostgresRepository) AutoMigrate() error {
	return r.db.AutoMigrate(&models.Student{})
}
