package models

import (
	"time"
)

// Student represents a tracked competitive-programming student
type Student struct {
	ID               string     `gorm:"type:varchar(36);primaryKey" json:"id"`
	Name             string     `gorm:"not null" json:"name"`
	Email            string     `gorm:"uniqueIndex;not null" json:"email"`
	PhoneNumber      string     `json:"phoneNumber"`
	CodeForcesHandle string     `gorm:"uniqueIndex;not null" json:"codeForcesHandle"`
	CurrentRating    int        `gorm:"not null;default:0;index" json:"currentRating"`
	MaxRating        int        `gorm:"not null;default:0" json:"maxRating"`
	LastSyncedAt     *time.Time `json:"lastUpdated"`
	RemindersEnabled bool       `gorm:"not null" json:"remindersEnabled"`
	ReminderCount    int        `gorm:"not null;default:0" json:"reminderCount"`
	CreatedAt        time.Time  `json:"createdAt"`
	UpdatedAt        time.Time  `json:"updatedAt"`
}

// TableName specifies the table name for GORM
func (Student) TableName() string {
	return "students"
}

// LastActivity returns the last successful sync, falling back to the creation time
func (s Student) LastActivity() time.Time {
	if s.LastSyncedAt != nil {
		return *s.LastSyncedAt
	}
	return s.CreatedAt
}

// Column names used in partial updates
const (
	ColName             = "name"
	ColEmail            = "email"
	ColPhoneNumber      = "phone_number"
	ColHandle           = "code_forces_handle"
	ColCurrentRating    = "current_rating"
	ColMaxRating        = "max_rating"
	ColLastSyncedAt     = "last_synced_at"
	ColRemindersEnabled = "reminders_enabled"
	ColReminderCount    = "reminder_count"
)

// CreateStudentRequest represents the request payload for adding a student
type CreateStudentRequest struct {
	Name             string `json:"name" validate:"required,notblank,max=255"`
	Email            string `json:"email" validate:"required,email,max=255"`
	PhoneNumber      string `json:"phoneNumber" validate:"omitempty,max=32"`
	CodeForcesHandle string `json:"codeForcesHandle" validate:"required,min=3,max=24,cfhandle"`
	RemindersEnabled *bool  `json:"remindersEnabled"`
}

// UpdateStudentRequest carries only the fields the caller wants to change
type UpdateStudentRequest struct {
	Name             *string `json:"name" validate:"omitempty,notblank,max=255"`
	Email            *string `json:"email" validate:"omitempty,email,max=255"`
	PhoneNumber      *string `json:"phoneNumber" validate:"omitempty,max=32"`
	CodeForcesHandle *string `json:"codeForcesHandle" validate:"omitempty,min=3,max=24,cfhandle"`
	RemindersEnabled *bool   `json:"remindersEnabled"`
}

// IsEmpty reports whether the request changes nothing
func (r UpdateStudentRequest) IsEmpty() bool {
	return r.Name == nil && r.Email == nil && r.PhoneNumber == nil &&
		r.CodeForcesHandle == nil && r.RemindersEnabled == nil
}

// LeaderboardEntry represents a single entry in the rating leaderboard
type LeaderboardEntry struct {
	Rank   int    `json:"rank"`
	Handle string `json:"handle"`
	Rating int    `json:"rating"`
}

// LeaderboardResponse represents the paginated leaderboard response
type LeaderboardResponse struct {
	Data   []LeaderboardEntry `json:"data"`
	Offset int                `json:"offset"`
	Limit  int                `json:"limit"`
	Total  int64              `json:"total"`
}

// RankResponse represents the response for a single handle lookup
type RankResponse struct {
	GlobalRank int    `json:"globalRank"`
	Handle     string `json:"handle"`
	Rating     int    `json:"rating"`
}

// BoardEntry is a handle and its rating as stored on the rating board
type BoardEntry struct {
	Handle string
	Rating int
}

// SyncSummary is the outcome of one batch sync run
type SyncSummary struct {
	StartedAt            time.Time     `json:"startedAt"`
	FinishedAt           time.Time     `json:"finishedAt"`
	Duration             time.Duration `json:"duration"`
	Total                int           `json:"total"`
	Succeeded            int           `json:"succeeded"`
	Failed               int           `json:"failed"`
	Reminded             int           `json:"reminded"`
	NotificationFailures int           `json:"notificationFailures"`
}

// SyncStatus is returned by the sync status endpoint
type SyncStatus struct {
	Running     bool         `json:"running"`
	Schedule    string       `json:"schedule"`
	Timezone    string       `json:"timezone"`
	NextRun     *time.Time   `json:"nextRun,omitempty"`
	LastSummary *SyncSummary `json:"lastSummary,omitempty"`
}

// APIResponse wraps every successful payload
type APIResponse struct {
	StatusCode int         `json:"statusCode"`
	Data       interface{} `json:"data"`
	Message    string      `json:"message"`
	Success    bool        `json:"success"`
}

// NewAPIResponse builds a success envelope
func NewAPIResponse(status int, data interface{}, message string) APIResponse {
	return APIResponse{
		StatusCode: status,
		Data:       data,
		Message:    message,
		Success:    status < 400,
	}
}

// ErrorResponse represents an error response
type ErrorResponse struct {
	StatusCode int          `json:"statusCode"`
	Success    bool         `json:"success"`
	Error      string       `json:"error"`
	Message    string       `json:"message,omitempty"`
	Fields     []FieldError `json:"fields,omitempty"`
}
