package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"cfprogress/internal/models"
	"cfprogress/internal/repository"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var now = time.Date(2024, 6, 30, 2, 0, 0, 0, time.UTC)

type stubSource struct {
	mu      sync.Mutex
	ratings map[string]int
	calls   []string
	onFetch func(handle string)
	blockCh chan struct{}
	started chan struct{}
}

func (s *stubSource) FetchSnapshot(ctx context.Context, handle string) (models.RatingSnapshot, error) {
	s.mu.Lock()
	s.calls = append(s.calls, handle)
	hook := s.onFetch
	rating, ok := s.ratings[handle]
	s.mu.Unlock()

	if s.started != nil {
		s.started <- struct{}{}
	}
	if s.blockCh != nil {
		select {
		case <-s.blockCh:
		case <-ctx.Done():
			return models.RatingSnapshot{}, ctx.Err()
		}
	}
	if hook != nil {
		hook(handle)
	}
	if !ok {
		return models.RatingSnapshot{}, &models.LookupError{Handle: handle, Comment: "handle not found"}
	}
	return models.RatingSnapshot{CurrentRating: rating, MaxRating: rating + 100, ObservedAt: now}, nil
}

type stubNotifier struct {
	mu   sync.Mutex
	sent []string
	err  error
}

func (n *stubNotifier) Notify(_ context.Context, name, email string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.err != nil {
		return n.err
	}
	n.sent = append(n.sent, email)
	return nil
}

type harness struct {
	store    *repository.MemoryStore
	board    *repository.MemoryBoard
	source   *stubSource
	notifier *stubNotifier
	job      *SyncJob
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		store:    repository.NewMemoryStore(),
		board:    repository.NewMemoryBoard(),
		source:   &stubSource{ratings: make(map[string]int)},
		notifier: &stubNotifier{},
	}
	h.job = NewSyncJob(h.store, h.board, h.source, h.notifier, SyncConfig{
		Pacing:           2 * time.Second,
		InactivityWindow: 7 * 24 * time.Hour,
		CallTimeout:      time.Second,
	}, zerolog.Nop(), nil)
	h.job.now = func() time.Time { return now }
	h.job.sleep = func(_ context.Context, d time.Duration) error {
		h.sleeps = append(h.sleeps, d)
		return nil
	}
	t.Cleanup(h.job.Shutdown)
	return h
}

func (h *harness) add(t *testing.T, handle string, reminders bool, lastSync *time.Time, createdAt time.Time) *models.Student {
	t.Helper()
	st := &models.Student{
		Name:             "Student " + handle,
		Email:            handle + "@example.com",
		CodeForcesHandle: handle,
		CurrentRating:    1000,
		MaxRating:        1000,
		LastSyncedAt:     lastSync,
		RemindersEnabled: reminders,
		CreatedAt:        createdAt,
	}
	require.NoError(t, h.store.Create(context.Background(), st))
	return st
}

func ptr(t time.Time) *time.Time { return &t }

func TestRunUpdatesRatingsAndBoard(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["alice"] = 1500
	st := h.add(t, "alice", true, ptr(now.Add(-time.Hour)), now.Add(-48*time.Hour))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Total)
	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 0, summary.Failed)
	assert.Equal(t, 0, summary.Reminded)

	got, err := h.store.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1500, got.CurrentRating)
	assert.Equal(t, 1600, got.MaxRating)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(now))

	_, rating, err := h.board.GetRank(context.Background(), "alice")
	require.NoError(t, err)
	assert.Equal(t, 1500, rating)

	saved, err := h.board.GetSyncSummary(context.Background())
	require.NoError(t, err)
	require.NotNil(t, saved)
	assert.Equal(t, 1, saved.Succeeded)
	require.NotNil(t, h.job.LastSummary())
	assert.Equal(t, summary, *h.job.LastSummary())
}

func TestRunRemindsInactiveStudentOnce(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["idle"] = 1200
	st := h.add(t, "idle", true, ptr(now.AddDate(0, 0, -10)), now.AddDate(0, 0, -30))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Reminded)
	assert.Equal(t, []string{"idle@example.com"}, h.notifier.sent)

	got, err := h.store.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1, got.ReminderCount)

	// the refreshed lastSyncedAt makes the next run see an active student
	_, err = h.job.Run(context.Background())
	require.NoError(t, err)
	assert.Len(t, h.notifier.sent, 1)
}

func TestRunFallsBackToCreatedAt(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["fresh"] = 800
	h.source.ratings["stale"] = 800
	h.add(t, "fresh", true, nil, now.AddDate(0, 0, -2))
	h.add(t, "stale", true, nil, now.AddDate(0, 0, -8))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Reminded)
	assert.Equal(t, []string{"stale@example.com"}, h.notifier.sent)
}

func TestRunNeverRemindsWhenDisabled(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["quiet"] = 900
	st := h.add(t, "quiet", false, ptr(now.AddDate(0, -3, 0)), now.AddDate(-1, 0, 0))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 0, summary.Reminded)
	assert.Empty(t, h.notifier.sent)
	got, err := h.store.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, got.ReminderCount)
}

func TestNotificationFailureDoesNotBlockUpdate(t *testing.T) {
	h := newHarness(t)
	h.notifier.err = errors.New("queue full")
	h.source.ratings["idle"] = 1300
	st := h.add(t, "idle", true, ptr(now.AddDate(0, 0, -14)), now.AddDate(0, 0, -30))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Succeeded)
	assert.Equal(t, 1, summary.NotificationFailures)
	assert.Equal(t, 0, summary.Reminded)

	got, err := h.store.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1300, got.CurrentRating)
	assert.Equal(t, 0, got.ReminderCount)
}

func TestFetchFailureLeavesStudentUntouched(t *testing.T) {
	h := newHarness(t)
	last := now.AddDate(0, 0, -30)
	st := h.add(t, "ghost", true, ptr(last), now.AddDate(0, 0, -60))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 0, summary.Succeeded)
	assert.Empty(t, h.notifier.sent)

	got, err := h.store.FindByID(context.Background(), st.ID)
	require.NoError(t, err)
	assert.Equal(t, 1000, got.CurrentRating)
	require.NotNil(t, got.LastSyncedAt)
	assert.True(t, got.LastSyncedAt.Equal(last))
}

func TestPacingBetweenStudentsIncludingFailures(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["a"] = 1000
	h.source.ratings["c"] = 1000
	base := now.Add(-time.Hour)
	h.add(t, "a", false, ptr(base), base.Add(-3*time.Second))
	h.add(t, "b", false, ptr(base), base.Add(-2*time.Second))
	h.add(t, "c", false, ptr(base), base.Add(-time.Second))

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, summary.Succeeded)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, []string{"a", "b", "c"}, h.source.calls)
	assert.Equal(t, []time.Duration{2 * time.Second, 2 * time.Second}, h.sleeps)
}

func TestStudentDeletedMidRunCountsAsFailure(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["gone"] = 1000
	h.source.ratings["kept"] = 1000
	base := now.Add(-time.Hour)
	gone := h.add(t, "gone", false, ptr(base), base.Add(-2*time.Second))
	h.add(t, "kept", false, ptr(base), base.Add(-time.Second))

	h.source.onFetch = func(handle string) {
		if handle == "gone" {
			_, _ = h.store.DeleteByID(context.Background(), gone.ID)
		}
	}

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, summary.Failed)
	assert.Equal(t, 1, summary.Succeeded)

	n, err := h.store.Count(context.Background())
	require.NoError(t, err)
	assert.EqualValues(t, 1, n)
}

func TestRunOnEmptyStore(t *testing.T) {
	h := newHarness(t)

	summary, err := h.job.Run(context.Background())
	require.NoError(t, err)
	assert.Zero(t, summary.Total)
	assert.Empty(t, h.sleeps)
}

func TestTriggerRefusesOverlap(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["slow"] = 1000
	h.source.blockCh = make(chan struct{})
	h.source.started = make(chan struct{}, 1)
	h.add(t, "slow", false, ptr(now), now)

	require.NoError(t, h.job.Trigger())
	<-h.source.started

	assert.True(t, h.job.IsRunning())
	assert.ErrorIs(t, h.job.Trigger(), ErrAlreadyRunning)
	_, err := h.job.Run(context.Background())
	assert.ErrorIs(t, err, ErrAlreadyRunning)

	close(h.source.blockCh)
	assert.Eventually(t, func() bool { return !h.job.IsRunning() }, time.Second, 10*time.Millisecond)
	require.NotNil(t, h.job.LastSummary())
	assert.Equal(t, 1, h.job.LastSummary().Succeeded)
}

func TestShutdownCancelsTriggeredRun(t *testing.T) {
	h := newHarness(t)
	h.source.ratings["slow"] = 1000
	h.source.blockCh = make(chan struct{})
	h.source.started = make(chan struct{}, 1)
	h.add(t, "slow", false, ptr(now), now)

	require.NoError(t, h.job.Trigger())
	<-h.source.started

	h.job.Shutdown()
	assert.False(t, h.job.IsRunning())
	require.NotNil(t, h.job.LastSummary())
	assert.Equal(t, 1, h.job.LastSummary().Failed)
}

func TestStudentStateNames(t *testing.T) {
	assert.Equal(t, "pending", statePending.String())
	assert.Equal(t, "paced", statePaced.String())
	assert.Equal(t, "unknown", studentState(42).String())
}
