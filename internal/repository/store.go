package repository

import (
	"context"

	"cfprogress/internal/models"
)

// StudentFilter selects students by email or handle. Non-empty fields are
// OR-ed together; ExcludeID drops one record from the match (used on update).
type StudentFilter struct {
	Email     string
	Handle    string
	ExcludeID string
}

// IsEmpty reports whether the filter matches nothing
func (f StudentFilter) IsEmpty() bool {
	return f.Email == "" && f.Handle == ""
}

// StudentStore is the persistent student collection
type StudentStore interface {
	Create(ctx context.Context, student *models.Student) error
	ListAll(ctx context.Context) ([]models.Student, error)
	FindByID(ctx context.Context, id string) (*models.Student, error)
	// FindOne returns (nil, nil) when no student matches.
	FindOne(ctx context.Context, filter StudentFilter) (*models.Student, error)
	// UpdateByID applies a partial update keyed by column name.
	UpdateByID(ctx context.Context, id string, fields map[string]interface{}) (*models.Student, error)
	DeleteByID(ctx context.Context, id string) (bool, error)
	Count(ctx context.Context) (int64, error)
	Ping(ctx context.Context) error
	Close() error
}

// Board is the rating leaderboard plus the change version dashboards poll.
type Board interface {
	UpdateRating(ctx context.Context, handle string, rating int) error
	RemoveHandle(ctx context.Context, handle string) error
	BulkUpdateRatings(ctx context.Context, ratings map[string]int) error
	GetTop(ctx context.Context, offset, limit int) ([]models.BoardEntry, error)
	// GetRank returns the 1-based position of handle, ErrNotFound if absent.
	GetRank(ctx context.Context, handle string) (int, int, error)
	GetTotal(ctx context.Context) (int64, error)
	GetVersion(ctx context.Context) (int64, error)
	BumpVersion(ctx context.Context) error
	SaveSyncSummary(ctx context.Context, summary models.SyncSummary) error
	// GetSyncSummary returns (nil, nil) before the first completed run.
	GetSyncSummary(ctx context.Context) (*models.SyncSummary, error)
	Ping(ctx context.Context) error
	Close() error
}
