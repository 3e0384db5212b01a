package service

import (
	"bytes"
	"context"
	"encoding/csv"
	"errors"
	"sync"
	"testing"
	"time"

	"cfprogress/internal/models"
	"cfprogress/internal/repository"
	"cfprogress/internal/validation"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedNow = time.Date(2024, 6, 30, 12, 0, 0, 0, time.UTC)

type fakeSource struct {
	mu        sync.Mutex
	ratings   map[string]models.RatingSnapshot
	profiles  map[string]*models.DetailedProfile
	snapCalls map[string]int
}

func newFakeSource() *fakeSource {
	return &fakeSource{
		ratings:   make(map[string]models.RatingSnapshot),
		profiles:  make(map[string]*models.DetailedProfile),
		snapCalls: make(map[string]int),
	}
}

func (f *fakeSource) set(handle string, current, max int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.ratings[handle] = models.RatingSnapshot{CurrentRating: current, MaxRating: max, ObservedAt: fixedNow}
}

func (f *fakeSource) calls(handle string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.snapCalls[handle]
}

func (f *fakeSource) FetchSnapshot(_ context.Context, handle string) (models.RatingSnapshot, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.snapCalls[handle]++
	snap, ok := f.ratings[handle]
	if !ok {
		return models.RatingSnapshot{}, &models.LookupError{Handle: handle, Comment: "handle not found"}
	}
	return snap, nil
}

func (f *fakeSource) FetchDetailedProfile(_ context.Context, handle string) (*models.DetailedProfile, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	p, ok := f.profiles[handle]
	if !ok {
		return nil, &models.LookupError{Handle: handle, Comment: "handle not found"}
	}
	return p, nil
}

type fixture struct {
	store  *repository.MemoryStore
	board  *repository.MemoryBoard
	source *fakeSource
	svc    *StudentService
	lb     *LeaderboardService
}

func newFixture() *fixture {
	f := &fixture{
		store:  repository.NewMemoryStore(),
		board:  repository.NewMemoryBoard(),
		source: newFakeSource(),
	}
	f.svc = NewStudentService(f.store, f.board, f.source, validation.New(), zerolog.Nop())
	f.svc.now = func() time.Time { return fixedNow }
	f.lb = NewLeaderboardService(f.store, f.board, zerolog.Nop())
	return f
}

func createReq(name, email, handle string) models.CreateStudentRequest {
	return models.CreateStudentRequest{Name: name, Email: email, CodeForcesHandle: handle}
}

func TestCreateStoresSnapshot(t *testing.T) {
	f := newFixture()
	f.source.set("tourist", 3800, 3979)

	st, err := f.svc.Create(context.Background(), createReq(" Gennady ", "g@example.com", "tourist"))
	require.NoError(t, err)

	assert.NotEmpty(t, st.ID)
	assert.Equal(t, "Gennady", st.Name)
	assert.Equal(t, 3800, st.CurrentRating)
	assert.Equal(t, 3979, st.MaxRating)
	assert.True(t, st.RemindersEnabled)
	require.NotNil(t, st.LastSyncedAt)
	assert.True(t, st.LastSyncedAt.Equal(fixedNow))

	rank, rating, err := f.board.GetRank(context.Background(), "tourist")
	require.NoError(t, err)
	assert.Equal(t, 1, rank)
	assert.Equal(t, 3800, rating)
}

func TestCreateHonorsRemindersFlag(t *testing.T) {
	f := newFixture()
	f.source.set("quiet", 1000, 1000)
	off := false

	req := createReq("Q", "q@example.com", "quiet")
	req.RemindersEnabled = &off
	st, err := f.svc.Create(context.Background(), req)
	require.NoError(t, err)
	assert.False(t, st.RemindersEnabled)
}

func TestCreateLookupFailureStoresNothing(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), createReq("Ada", "ada@example.com", "nobody"))
	require.Error(t, err)
	assert.True(t, models.IsLookup(err))

	n, err := f.store.Count(context.Background())
	require.NoError(t, err)
	assert.Zero(t, n)
}

func TestCreateValidationHappensBeforeLookup(t *testing.T) {
	f := newFixture()

	_, err := f.svc.Create(context.Background(), createReq("", "bad", "x"))
	var verr *models.ValidationError
	require.True(t, errors.As(err, &verr))
	assert.Zero(t, f.source.calls("x"))
}

func TestCreateDuplicateIsConflict(t *testing.T) {
	f := newFixture()
	f.source.set("tourist", 3800, 3979)
	f.source.set("other", 1000, 1000)

	_, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "tourist"))
	require.NoError(t, err)

	_, err = f.svc.Create(context.Background(), createReq("B", "a@example.com", "other"))
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.Create(context.Background(), createReq("B", "b@example.com", "tourist"))
	assert.ErrorIs(t, err, models.ErrConflict)
	assert.Equal(t, 1, f.source.calls("tourist"))
}

func TestUpdateHandleChangeRefreshesOnce(t *testing.T) {
	f := newFixture()
	f.source.set("old_handle", 1200, 1300)
	f.source.set("new_handle", 1700, 1800)
	st, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "old_handle"))
	require.NoError(t, err)

	handle := "new_handle"
	updated, err := f.svc.Update(context.Background(), st.ID, models.UpdateStudentRequest{CodeForcesHandle: &handle})
	require.NoError(t, err)

	assert.Equal(t, 1, f.source.calls("new_handle"))
	assert.Equal(t, "new_handle", updated.CodeForcesHandle)
	assert.Equal(t, 1700, updated.CurrentRating)
	assert.Equal(t, 1800, updated.MaxRating)

	_, _, err = f.board.GetRank(context.Background(), "old_handle")
	assert.ErrorIs(t, err, models.ErrNotFound)
	_, rating, err := f.board.GetRank(context.Background(), "new_handle")
	require.NoError(t, err)
	assert.Equal(t, 1700, rating)
}

func TestUpdateSameHandleDoesNotRefresh(t *testing.T) {
	f := newFixture()
	f.source.set("ada", 1200, 1300)
	st, err := f.svc.Create(context.Background(), createReq("Ada", "ada@example.com", "ada"))
	require.NoError(t, err)

	handle := "ada"
	name := "Ada Lovelace"
	updated, err := f.svc.Update(context.Background(), st.ID, models.UpdateStudentRequest{Name: &name, CodeForcesHandle: &handle})
	require.NoError(t, err)

	assert.Equal(t, 1, f.source.calls("ada"))
	assert.Equal(t, "Ada Lovelace", updated.Name)
	assert.Equal(t, 1200, updated.CurrentRating)
}

func TestUpdateLookupFailureLeavesRecord(t *testing.T) {
	f := newFixture()
	f.source.set("ada", 1200, 1300)
	st, err := f.svc.Create(context.Background(), createReq("Ada", "ada@example.com", "ada"))
	require.NoError(t, err)

	handle := "ghost"
	name := "Changed"
	_, err = f.svc.Update(context.Background(), st.ID, models.UpdateStudentRequest{Name: &name, CodeForcesHandle: &handle})
	require.Error(t, err)
	assert.True(t, models.IsLookup(err))

	stored, err := f.store.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, "Ada", stored.Name)
	assert.Equal(t, "ada", stored.CodeForcesHandle)
}

func TestUpdateEmailConflict(t *testing.T) {
	f := newFixture()
	f.source.set("a1", 1000, 1000)
	f.source.set("b1", 1000, 1000)
	a, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "a1"))
	require.NoError(t, err)
	_, err = f.svc.Create(context.Background(), createReq("B", "b@example.com", "b1"))
	require.NoError(t, err)

	email := "b@example.com"
	_, err = f.svc.Update(context.Background(), a.ID, models.UpdateStudentRequest{Email: &email})
	assert.ErrorIs(t, err, models.ErrConflict)

	_, err = f.svc.Update(context.Background(), "missing", models.UpdateStudentRequest{Email: &email})
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestUpdateRemindersToggle(t *testing.T) {
	f := newFixture()
	f.source.set("a1", 1000, 1000)
	a, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "a1"))
	require.NoError(t, err)

	off := false
	updated, err := f.svc.Update(context.Background(), a.ID, models.UpdateStudentRequest{RemindersEnabled: &off})
	require.NoError(t, err)
	assert.False(t, updated.RemindersEnabled)
}

func TestDeleteRemovesFromBoard(t *testing.T) {
	f := newFixture()
	f.source.set("a1", 1000, 1000)
	a, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "a1"))
	require.NoError(t, err)

	require.NoError(t, f.svc.Delete(context.Background(), a.ID))
	assert.ErrorIs(t, f.svc.Delete(context.Background(), a.ID), models.ErrNotFound)

	total, err := f.board.GetTotal(context.Background())
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestSyncRefreshesRating(t *testing.T) {
	f := newFixture()
	f.source.set("a1", 1000, 1100)
	a, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "a1"))
	require.NoError(t, err)

	f.source.set("a1", 1250, 1250)
	updated, err := f.svc.Sync(context.Background(), a.ID)
	require.NoError(t, err)
	assert.Equal(t, 1250, updated.CurrentRating)
	assert.Equal(t, 1250, updated.MaxRating)

	_, err = f.svc.Sync(context.Background(), "missing")
	assert.ErrorIs(t, err, models.ErrNotFound)
}

func TestProfileAggregatesWindow(t *testing.T) {
	f := newFixture()
	f.source.set("a1", 1000, 1100)
	a, err := f.svc.Create(context.Background(), createReq("A", "a@example.com", "a1"))
	require.NoError(t, err)

	f.source.profiles["a1"] = &models.DetailedProfile{
		Details: models.HandleDetails{Handle: "a1", Rating: 1000},
		Submissions: []models.Submission{
			{ContestID: 1, Index: "A", Rating: 800, Verdict: "OK", CreationTime: fixedNow.AddDate(0, 0, -1)},
			{ContestID: 1, Index: "B", Rating: 1600, Verdict: "OK", CreationTime: fixedNow.AddDate(0, 0, -60)},
		},
	}

	view, err := f.svc.Profile(context.Background(), a.ID, 30)
	require.NoError(t, err)
	assert.Equal(t, "a1", view.Details.Handle)
	assert.Equal(t, 1, view.ProblemStats.TotalSolved)
	assert.Len(t, view.HeatmapData, 2)

	_, err = f.svc.Profile(context.Background(), a.ID, -1)
	var verr *models.ValidationError
	assert.True(t, errors.As(err, &verr))
}

func TestExportCSV(t *testing.T) {
	f := newFixture()
	f.source.set("a1", 1000, 1100)
	_, err := f.svc.Create(context.Background(), createReq(`Ada "The First", Countess`, "a@example.com", "a1"))
	require.NoError(t, err)

	var buf bytes.Buffer
	require.NoError(t, f.svc.ExportCSV(context.Background(), &buf))

	rows, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, ExportHeaders, rows[0])
	assert.Equal(t, `Ada "The First", Countess`, rows[1][1])
	assert.Equal(t, "1000", rows[1][5])
	assert.Equal(t, "2024-06-30T12:00:00Z", rows[1][7])
}

func TestLeaderboardTieAwareRanking(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	for handle, rating := range map[string]int{"a": 2000, "b": 1800, "c": 1800, "d": 1500, "e": 1500, "f": 1200} {
		require.NoError(t, f.board.UpdateRating(ctx, handle, rating))
	}

	page, err := f.lb.GetLeaderboard(ctx, 0, 10)
	require.NoError(t, err)
	ranks := make([]int, len(page.Data))
	for i, e := range page.Data {
		ranks[i] = e.Rank
	}
	assert.Equal(t, []int{1, 2, 2, 4, 4, 6}, ranks)
	assert.EqualValues(t, 6, page.Total)

	// a page starting inside a tie keeps the global ranks
	page, err = f.lb.GetLeaderboard(ctx, 2, 3)
	require.NoError(t, err)
	require.Len(t, page.Data, 3)
	assert.Equal(t, 2, page.Data[0].Rank)
	assert.Equal(t, 4, page.Data[1].Rank)
	assert.Equal(t, 4, page.Data[2].Rank)

	res, err := f.lb.SearchHandle(ctx, "e")
	require.NoError(t, err)
	assert.Equal(t, 4, res.GlobalRank)
	assert.Equal(t, 1500, res.Rating)
}

func TestLeaderboardLimits(t *testing.T) {
	f := newFixture()
	page, err := f.lb.GetLeaderboard(context.Background(), -5, 1000)
	require.NoError(t, err)
	assert.Equal(t, 0, page.Offset)
	assert.Equal(t, 100, page.Limit)
	assert.Empty(t, page.Data)
}

func TestRebuildBoardFromStore(t *testing.T) {
	f := newFixture()
	ctx := context.Background()
	require.NoError(t, f.store.Create(ctx, &models.Student{Name: "A", Email: "a@x.io", CodeForcesHandle: "a", CurrentRating: 1400}))
	require.NoError(t, f.store.Create(ctx, &models.Student{Name: "B", Email: "b@x.io", CodeForcesHandle: "b", CurrentRating: 1600}))
	require.NoError(t, f.board.UpdateRating(ctx, "stale", 9999))

	require.NoError(t, f.lb.RebuildBoard(ctx))

	page, err := f.lb.GetLeaderboard(ctx, 0, 10)
	require.NoError(t, err)
	require.Len(t, page.Data, 2)
	assert.Equal(t, "b", page.Data[0].Handle)
	assert.NoError(t, f.lb.HealthCheck(ctx))
}
