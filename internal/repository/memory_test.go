package repository

import (
	"context"
	"testing"
	"time"

	"cfprogress/internal/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newStudent(name, email, handle string) *models.Student {
	return &models.Student{
		Name:             name,
		Email:            email,
		CodeForcesHandle: handle,
		RemindersEnabled: true,
	}
}

func TestMemoryStoreCreateAndConflict(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	s := newStudent("Ada", "ada@example.com", "ada")
	require.NoError(t, store.Create(ctx, s))
	assert.NotEmpty(t, s.ID)
	assert.False(t, s.CreatedAt.IsZero())

	err := store.Create(ctx, newStudent("Other", "ada@example.com", "other"))
	assert.ErrorIs(t, err, models.ErrConflict)

	err = store.Create(ctx, newStudent("Other", "other@example.com", "ada"))
	assert.ErrorIs(t, err, models.ErrConflict)

	n, err := store.Count(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestMemoryStoreFindOneOrSemantics(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	a := newStudent("Ada", "ada@example.com", "ada")
	b := newStudent("Bob", "bob@example.com", "bob")
	require.NoError(t, store.Create(ctx, a))
	require.NoError(t, store.Create(ctx, b))

	found, err := store.FindOne(ctx, StudentFilter{Email: "nobody@example.com", Handle: "bob"})
	require.NoError(t, err)
	require.NotNil(t, found)
	assert.Equal(t, b.ID, found.ID)

	found, err = store.FindOne(ctx, StudentFilter{Handle: "bob", ExcludeID: b.ID})
	require.NoError(t, err)
	assert.Nil(t, found)

	found, err = store.FindOne(ctx, StudentFilter{})
	require.NoError(t, err)
	assert.Nil(t, found)
}

func TestMemoryStoreUpdateByID(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newStudent("Ada", "ada@example.com", "ada")
	require.NoError(t, store.Create(ctx, s))

	synced := time.Date(2024, 5, 1, 0, 0, 0, 0, time.UTC)
	updated, err := store.UpdateByID(ctx, s.ID, map[string]interface{}{
		models.ColCurrentRating: 1500,
		models.ColMaxRating:     1600,
		models.ColLastSyncedAt:  synced,
	})
	require.NoError(t, err)
	assert.Equal(t, 1500, updated.CurrentRating)
	assert.Equal(t, 1600, updated.MaxRating)
	require.NotNil(t, updated.LastSyncedAt)
	assert.True(t, updated.LastSyncedAt.Equal(synced))
	assert.Equal(t, "Ada", updated.Name)

	_, err = store.UpdateByID(ctx, "missing", map[string]interface{}{models.ColName: "x"})
	assert.ErrorIs(t, err, models.ErrNotFound)

	_, err = store.UpdateByID(ctx, s.ID, map[string]interface{}{models.ColName: 42})
	assert.Error(t, err)
}

func TestMemoryStoreDelete(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()
	s := newStudent("Ada", "ada@example.com", "ada")
	require.NoError(t, store.Create(ctx, s))

	ok, err := store.DeleteByID(ctx, s.ID)
	require.NoError(t, err)
	assert.True(t, ok)

	ok, err = store.DeleteByID(ctx, s.ID)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = store.FindByID(ctx, s.ID)
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestMemoryBoardRanking(t *testing.T) {
	ctx := context.Background()
	board := NewMemoryBoard()

	require.NoError(t, board.BulkUpdateRatings(ctx, map[string]int{"a": 1500}))
	require.NoError(t, board.UpdateRating(ctx, "b", 1800))
	require.NoError(t, board.UpdateRating(ctx, "c", 1500))
	require.NoError(t, board.UpdateRating(ctx, "d", 1200))

	top, err := board.GetTop(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, top, 4)
	assert.Equal(t, []string{"b", "a", "c", "d"}, []string{top[0].Handle, top[1].Handle, top[2].Handle, top[3].Handle})

	rank, rating, err := board.GetRank(ctx, "c")
	require.NoError(t, err)
	assert.Equal(t, 2, rank)
	assert.Equal(t, 1500, rating)

	rank, _, err = board.GetRank(ctx, "d")
	require.NoError(t, err)
	assert.Equal(t, 4, rank)

	_, _, err = board.GetRank(ctx, "zzz")
	assert.ErrorIs(t, err, models.ErrNotFound)

	require.NoError(t, board.RemoveHandle(ctx, "b"))
	total, err := board.GetTotal(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 3, total)

	version, err := board.GetVersion(ctx)
	require.NoError(t, err)
	assert.EqualValues(t, 5, version)
}

func TestMemoryBoardSyncSummary(t *testing.T) {
	ctx := context.Background()
	board := NewMemoryBoard()

	got, err := board.GetSyncSummary(ctx)
	require.NoError(t, err)
	assert.Nil(t, got)

	require.NoError(t, board.SaveSyncSummary(ctx, models.SyncSummary{Total: 3, Succeeded: 2, Failed: 1}))
	got, err = board.GetSyncSummary(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	assert.Equal(t, 2, got.Succeeded)
}

func TestCompositeScoreKeepsRating(t *testing.T) {
	now := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC).Unix()

	earlier := ComputeCompositeScore(1500, now)
	later := ComputeCompositeScore(1500, now+60)

	assert.Greater(t, earlier, later)
	assert.Equal(t, 1500, ExtractBaseScore(earlier))
	assert.Equal(t, 1500, ExtractBaseScore(later))
	assert.Less(t, ComputeCompositeScore(1499, now), later)
}
