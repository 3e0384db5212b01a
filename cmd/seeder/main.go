package main

import (
	"context"
	"encoding/csv"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"cfprogress/internal/codeforces"
	"cfprogress/internal/config"
	"cfprogress/internal/jobs"
	"cfprogress/internal/logger"
	"cfprogress/internal/mail"
	"cfprogress/internal/metrics"
	"cfprogress/internal/models"
	"cfprogress/internal/repository"
	"cfprogress/internal/service"
	"cfprogress/internal/validation"
	"cfprogress/internal/worker"

	"github.com/rs/zerolog"
)

// Expected CSV columns; a header row is detected and skipped
var columns = []string{"name", "email", "phoneNumber", "codeForcesHandle"}

type importResult struct {
	created   int
	conflicts int
	invalid   int
	failed    int
}

type options struct {
	file    string
	pace    time.Duration
	runSync bool
}

func main() {
	var opts options
	flag.StringVar(&opts.file, "file", "students.csv", "CSV file with name,email,phoneNumber,codeForcesHandle")
	flag.DurationVar(&opts.pace, "pace", 2*time.Second, "pause between Codeforces lookups")
	flag.BoolVar(&opts.runSync, "sync", false, "run one full sync pass after the import")
	flag.Parse()

	if err := run(opts); err != nil {
		fmt.Fprintf(os.Stderr, "seeder: %v\n", err)
		os.Exit(1)
	}
}

// run owns every resource so deferred cleanup happens before main exits
func run(opts options) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load configuration: %w", err)
	}
	log := logger.New(cfg.Logging.Level, cfg.Logging.Pretty)
	log.Info().Str("file", opts.file).Msg("starting student import")

	store, board, err := repository.Connect(cfg, log)
	if err != nil {
		return fmt.Errorf("initialize storage: %w", err)
	}
	defer store.Close()
	defer board.Close()

	m := metrics.New()
	cfClient := codeforces.NewClient(cfg.Codeforces.BaseURL, cfg.Codeforces.Timeout, log, m)
	students := service.NewStudentService(store, board, cfClient, validation.New(), log)

	f, err := os.Open(opts.file)
	if err != nil {
		return fmt.Errorf("open CSV file: %w", err)
	}
	defer f.Close()

	ctx := context.Background()
	startTime := time.Now()
	res, err := importStudents(ctx, csv.NewReader(f), students, opts.pace, log)
	if err != nil {
		return fmt.Errorf("import aborted: %w", err)
	}

	log.Info().
		Int("created", res.created).
		Int("conflicts", res.conflicts).
		Int("invalid", res.invalid).
		Int("failed", res.failed).
		Dur("duration", time.Since(startTime)).
		Msg("import completed")

	if opts.runSync {
		runSyncPass(ctx, cfg, store, board, cfClient, log, m)
	}

	total, err := board.GetTotal(ctx)
	if err == nil {
		log.Info().Int64("on_board", total).Msg("seeder finished")
	}
	return nil
}

// importStudents creates one student per CSV row through the regular
// create path, pausing between rows that reach Codeforces
func importStudents(ctx context.Context, r *csv.Reader, students *service.StudentService, pace time.Duration, log zerolog.Logger) (importResult, error) {
	var res importResult
	r.FieldsPerRecord = -1
	r.TrimLeadingSpace = true

	first := true
	line := 0
	for {
		record, err := r.Read()
		if errors.Is(err, io.EOF) {
			return res, nil
		}
		if err != nil {
			return res, fmt.Errorf("read CSV: %w", err)
		}
		line++

		if first {
			first = false
			if isHeader(record) {
				continue
			}
		}

		req := parseRow(record)
		_, err = students.Create(ctx, req)

		var verr *models.ValidationError
		switch {
		case err == nil:
			res.created++
			log.Info().Int("line", line).Str("handle", req.CodeForcesHandle).Msg("student created")
		case errors.As(err, &verr):
			res.invalid++
			log.Warn().Int("line", line).Err(err).Msg("skipping invalid row")
			continue
		case errors.Is(err, models.ErrConflict):
			res.conflicts++
			log.Warn().Int("line", line).Str("handle", req.CodeForcesHandle).Msg("student already exists")
			continue
		default:
			res.failed++
			log.Error().Int("line", line).Str("handle", req.CodeForcesHandle).Err(err).Msg("failed to create student")
		}

		// Only rows that reached Codeforces count against its rate limit
		if pace > 0 {
			time.Sleep(pace)
		}
	}
}

func isHeader(record []string) bool {
	return len(record) > 0 && strings.EqualFold(strings.TrimSpace(record[0]), columns[0])
}

func parseRow(record []string) models.CreateStudentRequest {
	get := func(i int) string {
		if i < len(record) {
			return strings.TrimSpace(record[i])
		}
		return ""
	}
	return models.CreateStudentRequest{
		Name:             get(0),
		Email:            get(1),
		PhoneNumber:      get(2),
		CodeForcesHandle: get(3),
	}
}

// runSyncPass runs the batch sync once with reminders delivered through the
// configured mail provider
func runSyncPass(
	ctx context.Context,
	cfg *config.Config,
	store repository.StudentStore,
	board repository.Board,
	source jobs.SnapshotSource,
	log zerolog.Logger,
	m *metrics.Manager,
) {
	dispatcher := worker.NewDispatcher(worker.Options{
		Workers:      cfg.Mail.Workers,
		QueueSize:    cfg.Mail.QueueSize,
		SendTimeout:  cfg.Mail.Timeout,
		FrontendURL:  cfg.Mail.FrontendURL,
		InactiveDays: int(cfg.Sync.InactivityWindow / (24 * time.Hour)),
	}, mail.NewSender(cfg.Mail, log), log, m)
	dispatcher.Start()

	job := jobs.NewSyncJob(store, board, source, dispatcher, jobs.SyncConfig{
		Pacing:           cfg.Sync.Pacing,
		InactivityWindow: cfg.Sync.InactivityWindow,
		CallTimeout:      cfg.Sync.CallTimeout,
	}, log, m)

	if _, err := job.Run(ctx); err != nil {
		log.Error().Err(err).Msg("sync pass failed")
	}
	if err := dispatcher.Shutdown(30 * time.Second); err != nil {
		log.Error().Err(err).Msg("reminder dispatcher shutdown error")
	}
}
