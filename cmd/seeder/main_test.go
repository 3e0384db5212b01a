package main

import (
	"context"
	"encoding/csv"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"cfprogress/internal/models"
	"cfprogress/internal/repository"
	"cfprogress/internal/service"
	"cfprogress/internal/validation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type staticSource map[string]int

func (s staticSource) FetchSnapshot(_ context.Context, handle string) (models.RatingSnapshot, error) {
	r, ok := s[handle]
	if !ok {
		return models.RatingSnapshot{}, &models.LookupError{Handle: handle, Comment: "handle not found"}
	}
	return models.RatingSnapshot{CurrentRating: r, MaxRating: r, ObservedAt: time.Now()}, nil
}

func (s staticSource) FetchDetailedProfile(context.Context, string) (*models.DetailedProfile, error) {
	return &models.DetailedProfile{}, nil
}

func TestImportStudents(t *testing.T) {
	store := repository.NewMemoryStore()
	board := repository.NewMemoryBoard()
	source := staticSource{"tourist": 3800, "petr": 3300}
	students := service.NewStudentService(store, board, source, validation.New(), zerolog.Nop())

	input := strings.Join([]string{
		"name,email,phoneNumber,codeForcesHandle",
		"Gennady,g@example.com,,tourist",
		"Petr,p@example.com,+7 000,petr",
		"Dup,g@example.com,,someone",
		",broken,,x",
		"Ghost,ghost@example.com,,ghost_handle",
	}, "\n")

	res, err := importStudents(context.Background(), csv.NewReader(strings.NewReader(input)), students, 0, zerolog.Nop())
	require.NoError(t, err)

	assert.Equal(t, 2, res.created)
	assert.Equal(t, 1, res.conflicts)
	assert.Equal(t, 1, res.invalid)
	assert.Equal(t, 1, res.failed)

	total, err := board.GetTotal(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 2, total)
}

func TestParseRowToleratesShortRows(t *testing.T) {
	req := parseRow([]string{" Ada ", "ada@example.com"})
	assert.Equal(t, "Ada", req.Name)
	assert.Equal(t, "ada@example.com", req.Email)
	assert.Empty(t, req.CodeForcesHandle)
	assert.False(t, isHeader([]string{"Ada"}))
	assert.True(t, isHeader([]string{"Name"}))
}

func memoryEnv(t *testing.T) {
	t.Helper()
	t.Setenv("STORE_DRIVER", "memory")
	t.Setenv("MAIL_PROVIDER", "log")
	t.Setenv("SYNC_TIMEZONE", "UTC")
	t.Setenv("LOG_LEVEL", "error")
}

func TestRunReturnsErrorForMissingFile(t *testing.T) {
	memoryEnv(t)

	err := run(options{file: filepath.Join(t.TempDir(), "missing.csv")})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "open CSV file")
}

func TestRunWithHeaderOnlyFile(t *testing.T) {
	memoryEnv(t)
	path := filepath.Join(t.TempDir(), "students.csv")
	require.NoError(t, os.WriteFile(path, []byte("name,email,phoneNumber,codeForcesHandle\n"), 0o600))

	assert.NoError(t, run(options{file: path}))
}
