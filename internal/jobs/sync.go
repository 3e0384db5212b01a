package jobs

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"cfprogress/internal/metrics"
	"cfprogress/internal/models"
	"cfprogress/internal/repository"

	"github.com/rs/zerolog"
)

// ErrAlreadyRunning is returned when a run is requested while another is in progress
var ErrAlreadyRunning = errors.New("sync job already running")

// SnapshotSource fetches the current rating of a handle
type SnapshotSource interface {
	FetchSnapshot(ctx context.Context, handle string) (models.RatingSnapshot, error)
}

// Notifier delivers an inactivity reminder
type Notifier interface {
	Notify(ctx context.Context, name, email string) error
}

// SyncConfig holds configuration for the sync job
type SyncConfig struct {
	Pacing           time.Duration // Default: 2s between students
	InactivityWindow time.Duration // Default: 7 days
	CallTimeout      time.Duration // Default: 15s per external call
}

// studentState tracks where one student is in a run
type studentState int

const (
	statePending studentState = iota
	stateFetching
	stateDeciding
	statePersisting
	statePaced
)

func (s studentState) String() string {
	switch s {
	case statePending:
		return "pending"
	case stateFetching:
		return "fetching"
	case stateDeciding:
		return "deciding"
	case statePersisting:
		return "persisting"
	case statePaced:
		return "paced"
	default:
		return "unknown"
	}
}

// outcome of processing one student
type outcome struct {
	ok                  bool
	reminded            bool
	notificationFailure bool
}

// SyncJob refreshes every student's rating one at a time and reminds the
// inactive ones
type SyncJob struct {
	store    repository.StudentStore
	board    repository.Board
	source   SnapshotSource
	notifier Notifier
	metrics  *metrics.Manager
	logger   zerolog.Logger
	config   SyncConfig

	now   func() time.Time
	sleep func(ctx context.Context, d time.Duration) error

	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup

	running atomic.Bool

	mu          sync.RWMutex
	lastSummary *models.SyncSummary
}

// NewSyncJob creates a new sync job
func NewSyncJob(
	store repository.StudentStore,
	board repository.Board,
	source SnapshotSource,
	notifier Notifier,
	config SyncConfig,
	logger zerolog.Logger,
	m *metrics.Manager,
) *SyncJob {
	// Apply defaults
	if config.Pacing < 0 {
		config.Pacing = 0
	}
	if config.InactivityWindow <= 0 {
		config.InactivityWindow = 7 * 24 * time.Hour
	}
	if config.CallTimeout <= 0 {
		config.CallTimeout = 15 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	return &SyncJob{
		store:    store,
		board:    board,
		source:   source,
		notifier: notifier,
		metrics:  m,
		logger:   logger.With().Str("component", "sync_job").Logger(),
		config:   config,
		now:      time.Now,
		sleep:    sleepContext,
		ctx:      ctx,
		cancel:   cancel,
	}
}

// IsRunning returns whether a run is currently in progress
func (j *SyncJob) IsRunning() bool {
	return j.running.Load()
}

// LastSummary returns the summary of the last finished run in this process,
// or nil before the first one
func (j *SyncJob) LastSummary() *models.SyncSummary {
	j.mu.RLock()
	defer j.mu.RUnlock()
	if j.lastSummary == nil {
		return nil
	}
	s := *j.lastSummary
	return &s
}

// Trigger starts a run in the background. It returns ErrAlreadyRunning
// instead of starting a second, overlapping run.
func (j *SyncJob) Trigger() error {
	if !j.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}

	j.wg.Add(1)
	go func() {
		defer j.wg.Done()
		defer j.running.Store(false)
		j.execute(j.ctx)
	}()
	return nil
}

// Run performs one full pass over the student collection and blocks until
// it is done
func (j *SyncJob) Run(ctx context.Context) (models.SyncSummary, error) {
	if !j.running.CompareAndSwap(false, true) {
		return models.SyncSummary{}, ErrAlreadyRunning
	}
	defer j.running.Store(false)

	j.wg.Add(1)
	defer j.wg.Done()
	return j.execute(ctx)
}

// Shutdown cancels an in-flight run and waits for it to return
func (j *SyncJob) Shutdown() {
	j.cancel()
	j.wg.Wait()
}

func (j *SyncJob) execute(ctx context.Context) (models.SyncSummary, error) {
	summary := models.SyncSummary{StartedAt: j.now()}
	j.metrics.RecordSyncRunStarted()

	students, err := j.store.ListAll(ctx)
	if err != nil {
		j.logger.Error().Err(err).Msg("sync run aborted: failed to load students")
		return summary, err
	}
	summary.Total = len(students)

	j.logger.Info().Int("students", len(students)).Dur("pacing", j.config.Pacing).Msg("sync run started")

	for i := range students {
		if ctx.Err() != nil {
			j.logger.Warn().Int("processed", i).Msg("sync run cancelled")
			break
		}

		res := j.processStudent(ctx, students[i])
		if res.ok {
			summary.Succeeded++
			j.metrics.RecordSyncStudent(metrics.ResultSuccess)
		} else {
			summary.Failed++
			j.metrics.RecordSyncStudent(metrics.ResultFailure)
		}
		if res.reminded {
			summary.Reminded++
			j.metrics.RecordReminder()
		}
		if res.notificationFailure {
			summary.NotificationFailures++
		}

		// The pause follows every student but the last, failures included
		if i < len(students)-1 {
			j.trace(students[i].CodeForcesHandle, statePaced)
			if err := j.sleep(ctx, j.config.Pacing); err != nil {
				j.logger.Warn().Int("processed", i+1).Msg("sync run cancelled")
				break
			}
		}
	}

	summary.FinishedAt = j.now()
	summary.Duration = summary.FinishedAt.Sub(summary.StartedAt)
	j.metrics.RecordSyncRunFinished(summary.FinishedAt, summary.Duration, summary.Failed)
	j.finish(summary)
	return summary, nil
}

// processStudent walks one student through fetch, decide and persist. Any
// failure ends the walk for that student only.
func (j *SyncJob) processStudent(ctx context.Context, st models.Student) outcome {
	var res outcome
	handle := st.CodeForcesHandle

	j.trace(handle, statePending)
	lastSync := st.LastActivity()

	j.trace(handle, stateFetching)
	fetchCtx, cancel := context.WithTimeout(ctx, j.config.CallTimeout)
	snap, err := j.source.FetchSnapshot(fetchCtx, handle)
	cancel()
	if err != nil {
		j.logger.Warn().Err(err).Str("handle", handle).Str("id", st.ID).Msg("failed to sync student")
		return res
	}

	j.trace(handle, stateDeciding)
	now := j.now()
	fields := map[string]interface{}{
		models.ColCurrentRating: snap.CurrentRating,
		models.ColMaxRating:     snap.MaxRating,
		models.ColLastSyncedAt:  now,
	}
	if st.RemindersEnabled && lastSync.Before(now.Add(-j.config.InactivityWindow)) {
		notifyCtx, cancel := context.WithTimeout(ctx, j.config.CallTimeout)
		err := j.notifier.Notify(notifyCtx, st.Name, st.Email)
		cancel()
		if err != nil {
			res.notificationFailure = true
			j.logger.Warn().Err(err).Str("handle", handle).Str("email", st.Email).Msg("failed to send inactivity reminder")
		} else {
			res.reminded = true
			fields[models.ColReminderCount] = st.ReminderCount + 1
			j.logger.Info().Str("handle", handle).Time("last_sync", lastSync).Msg("inactivity reminder queued")
		}
	}

	j.trace(handle, statePersisting)
	updated, err := j.store.UpdateByID(ctx, st.ID, fields)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			j.logger.Warn().Str("handle", handle).Str("id", st.ID).Msg("student removed during sync run")
		} else {
			j.logger.Error().Err(err).Str("handle", handle).Str("id", st.ID).Msg("failed to persist synced rating")
		}
		return res
	}

	if err := j.board.UpdateRating(ctx, updated.CodeForcesHandle, updated.CurrentRating); err != nil {
		j.logger.Warn().Err(err).Str("handle", handle).Msg("failed to update rating board")
	}

	res.ok = true
	return res
}

func (j *SyncJob) finish(summary models.SyncSummary) {
	j.mu.Lock()
	j.lastSummary = &summary
	j.mu.Unlock()

	// The run's own context may be cancelled by now; the summary is still written
	saveCtx, cancel := context.WithTimeout(context.Background(), j.config.CallTimeout)
	defer cancel()
	if err := j.board.SaveSyncSummary(saveCtx, summary); err != nil {
		j.logger.Warn().Err(err).Msg("failed to store sync summary")
	}

	j.logger.Info().
		Dur("duration", summary.Duration).
		Int("total", summary.Total).
		Int("succeeded", summary.Succeeded).
		Int("failed", summary.Failed).
		Int("reminded", summary.Reminded).
		Int("notification_failures", summary.NotificationFailures).
		Msg("sync run finished")
}

func (j *SyncJob) trace(handle string, state studentState) {
	j.logger.Debug().Str("handle", handle).Stringer("state", state).Msg("sync step")
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
