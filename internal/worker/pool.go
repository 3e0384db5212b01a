package worker

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"cfprogress/internal/mail"
	"cfprogress/internal/metrics"
	"cfprogress/internal/models"

	"github.com/rs/zerolog"
)

// ErrQueueFull is returned by Notify when the reminder queue is saturated
var ErrQueueFull = errors.New("reminder queue full (backpressure)")

// ErrStopped is returned by Notify after Shutdown
var ErrStopped = errors.New("reminder dispatcher stopped")

// reminderTask is one reminder waiting for delivery
type reminderTask struct {
	msg *mail.Message
}

// Options configures a Dispatcher
type Options struct {
	Workers      int
	QueueSize    int
	SendTimeout  time.Duration
	FrontendURL  string
	InactiveDays int
}

// Dispatcher renders reminder emails and delivers them from a pool of workers
// so a slow mail provider never stalls the batch sync.
type Dispatcher struct {
	jobs    chan reminderTask
	opts    Options
	sender  mail.Sender
	logger  zerolog.Logger
	metrics *metrics.Manager
	stats   *PoolStats

	wg      sync.WaitGroup
	ctx     context.Context
	cancel  context.CancelFunc
	mu      sync.RWMutex
	stopped bool
}

// PoolStats tracks delivery outcomes
type PoolStats struct {
	mu              sync.RWMutex
	delivered       int64
	failed          int64
	backpressure    int64
	totalProcessing time.Duration
}

// NewDispatcher creates a dispatcher; call Start before Notify.
func NewDispatcher(opts Options, sender mail.Sender, logger zerolog.Logger, m *metrics.Manager) *Dispatcher {
	if opts.Workers < 1 {
		opts.Workers = 1
	}
	if opts.QueueSize < 1 {
		opts.QueueSize = 1
	}
	if opts.SendTimeout <= 0 {
		opts.SendTimeout = 10 * time.Second
	}
	ctx, cancel := context.WithCancel(context.Background())

	return &Dispatcher{
		jobs:    make(chan reminderTask, opts.QueueSize),
		opts:    opts,
		sender:  sender,
		logger:  logger.With().Str("component", "dispatcher").Logger(),
		metrics: m,
		stats:   &PoolStats{},
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the worker goroutines
func (d *Dispatcher) Start() {
	for i := 1; i <= d.opts.Workers; i++ {
		d.wg.Add(1)
		go d.worker(i)
	}
	d.logger.Info().Int("workers", d.opts.Workers).Int("queue_size", cap(d.jobs)).Msg("reminder dispatcher started")
}

func (d *Dispatcher) worker(id int) {
	defer d.wg.Done()

	for {
		select {
		case <-d.ctx.Done():
			return
		case task, ok := <-d.jobs:
			if !ok {
				return
			}
			d.metrics.SetEmailQueueDepth(len(d.jobs))
			d.process(id, task)
		}
	}
}

// process delivers one reminder with panic recovery
func (d *Dispatcher) process(workerID int, task reminderTask) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Error().Int("worker", workerID).Interface("panic", r).Str("to", task.msg.To.Address).Msg("reminder delivery panicked")
			d.stats.incrementFailed()
			d.metrics.RecordEmailDelivery(metrics.ResultFailure)
		}
	}()

	start := time.Now()
	ctx, cancel := context.WithTimeout(d.ctx, d.opts.SendTimeout)
	defer cancel()

	err := d.sender.Send(ctx, task.msg)
	elapsed := time.Since(start)

	if err != nil {
		d.logger.Error().Err(err).Int("worker", workerID).Str("to", task.msg.To.Address).Dur("took", elapsed).Msg("reminder delivery failed")
		d.stats.incrementFailed()
		d.metrics.RecordEmailDelivery(metrics.ResultFailure)
		return
	}

	d.logger.Info().Int("worker", workerID).Str("to", task.msg.To.Address).Dur("took", elapsed).Msg("reminder delivered")
	d.stats.recordSuccess(elapsed)
	d.metrics.RecordEmailDelivery(metrics.ResultSuccess)
}

// Notify renders a reminder for name/email and queues it. It never blocks:
// a full queue is reported as ErrQueueFull. Errors are *models.NotificationError.
func (d *Dispatcher) Notify(_ context.Context, name, email string) error {
	msg := mail.NewInactivityReminder(name, email, d.opts.FrontendURL, d.opts.InactiveDays)
	if err := msg.Render(); err != nil {
		return &models.NotificationError{Email: email, Err: err}
	}
	if !msg.HasRecipients() {
		return &models.NotificationError{Email: email, Err: mail.ErrNoRecipient}
	}

	d.mu.RLock()
	defer d.mu.RUnlock()
	if d.stopped {
		return &models.NotificationError{Email: email, Err: ErrStopped}
	}

	select {
	case d.jobs <- reminderTask{msg: msg}:
		d.metrics.SetEmailQueueDepth(len(d.jobs))
		return nil
	default:
		d.logger.Warn().Str("to", email).Msg("reminder queue full, dropping reminder")
		d.stats.incrementBackpressure()
		d.metrics.RecordEmailDelivery(metrics.ResultDropped)
		return &models.NotificationError{Email: email, Err: ErrQueueFull}
	}
}

// Shutdown stops accepting reminders and waits for queued ones to be sent
func (d *Dispatcher) Shutdown(timeout time.Duration) error {
	d.mu.Lock()
	if d.stopped {
		d.mu.Unlock()
		return nil
	}
	d.stopped = true
	close(d.jobs)
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		d.logStats()
		return nil
	case <-time.After(timeout):
		d.cancel()
		d.logger.Warn().Dur("timeout", timeout).Msg("reminder dispatcher shutdown timed out")
		return fmt.Errorf("shutdown timeout exceeded")
	}
}

// Stats returns a snapshot of the delivery counters
func (d *Dispatcher) Stats() map[string]interface{} {
	d.stats.mu.RLock()
	defer d.stats.mu.RUnlock()

	avgProcessing := time.Duration(0)
	if d.stats.delivered > 0 {
		avgProcessing = d.stats.totalProcessing / time.Duration(d.stats.delivered)
	}

	return map[string]interface{}{
		"delivered":           d.stats.delivered,
		"failed":              d.stats.failed,
		"backpressure_events": d.stats.backpressure,
		"avg_processing_time": avgProcessing.String(),
		"queue_utilization":   fmt.Sprintf("%d/%d", len(d.jobs), cap(d.jobs)),
	}
}

func (d *Dispatcher) logStats() {
	stats := d.Stats()
	d.logger.Info().
		Interface("delivered", stats["delivered"]).
		Interface("failed", stats["failed"]).
		Interface("backpressure_events", stats["backpressure_events"]).
		Interface("avg_processing_time", stats["avg_processing_time"]).
		Msg("reminder dispatcher stopped")
}

func (ps *PoolStats) recordSuccess(duration time.Duration) {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.delivered++
	ps.totalProcessing += duration
}

func (ps *PoolStats) incrementFailed() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.failed++
}

func (ps *PoolStats) incrementBackpressure() {
	ps.mu.Lock()
	defer ps.mu.Unlock()
	ps.backpressure++
}
