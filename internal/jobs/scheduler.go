package jobs

import (
	"errors"
	"fmt"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler runs the sync job on a cron schedule
type Scheduler struct {
	cron     *cron.Cron
	job      *SyncJob
	entry    cron.EntryID
	schedule string
	location *time.Location
	logger   zerolog.Logger
}

// NewScheduler registers job under a standard 5-field cron spec evaluated in loc
func NewScheduler(job *SyncJob, schedule string, loc *time.Location, logger zerolog.Logger) (*Scheduler, error) {
	if loc == nil {
		loc = time.Local
	}
	logger = logger.With().Str("component", "scheduler").Logger()
	cl := cronLogger{logger: logger}

	c := cron.New(
		cron.WithLocation(loc),
		cron.WithLogger(cl),
		cron.WithChain(cron.Recover(cl), cron.SkipIfStillRunning(cl)),
	)

	s := &Scheduler{
		cron:     c,
		job:      job,
		schedule: schedule,
		location: loc,
		logger:   logger,
	}

	id, err := c.AddFunc(schedule, s.runScheduled)
	if err != nil {
		return nil, fmt.Errorf("invalid sync schedule %q: %w", schedule, err)
	}
	s.entry = id
	return s, nil
}

// Start starts the cron loop in its own goroutine
func (s *Scheduler) Start() {
	s.cron.Start()
	s.logger.Info().
		Str("schedule", s.schedule).
		Str("timezone", s.location.String()).
		Time("next_run", s.NextRun()).
		Msg("sync scheduler started")
}

// Stop stops scheduling new runs, cancels a run in progress and waits for
// it to return
func (s *Scheduler) Stop() {
	stopped := s.cron.Stop()
	s.job.Shutdown()
	<-stopped.Done()
	s.logger.Info().Msg("sync scheduler stopped")
}

// NextRun returns the next activation time, zero if the scheduler is not running
func (s *Scheduler) NextRun() time.Time {
	return s.cron.Entry(s.entry).Next
}

// Schedule returns the cron spec
func (s *Scheduler) Schedule() string {
	return s.schedule
}

// Location returns the timezone the schedule is evaluated in
func (s *Scheduler) Location() *time.Location {
	return s.location
}

func (s *Scheduler) runScheduled() {
	if _, err := s.job.Run(s.job.ctx); err != nil {
		if errors.Is(err, ErrAlreadyRunning) {
			s.logger.Info().Msg("skipping scheduled sync: a run is already in progress")
			return
		}
		s.logger.Error().Err(err).Msg("scheduled sync failed")
	}
}

// cronLogger adapts zerolog to cron.Logger
type cronLogger struct {
	logger zerolog.Logger
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.logger.Debug().Fields(keysAndValues).Msg(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.logger.Error().Err(err).Fields(keysAndValues).Msg(msg)
}
