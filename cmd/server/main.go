package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"cfprogress/internal/api/handlers"
	"cfprogress/internal/codeforces"
	"cfprogress/internal/config"
	"cfprogress/internal/jobs"
	"cfprogress/internal/logger"
	"cfprogress/internal/mail"
	"cfprogress/internal/metrics"
	"cfprogress/internal/repository"
	"cfprogress/internal/service"
	"cfprogress/internal/validation"
	"cfprogress/internal/websocket"
	"cfprogress/internal/worker"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load configuration: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Logging.Level, cfg.Logging.Pretty)

	store, board, err := repository.Connect(cfg, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize storage")
	}

	m := metrics.New()
	cfClient := codeforces.NewClient(cfg.Codeforces.BaseURL, cfg.Codeforces.Timeout, log, m)

	// Reminder delivery runs on its own worker pool
	dispatcher := worker.NewDispatcher(worker.Options{
		Workers:      cfg.Mail.Workers,
		QueueSize:    cfg.Mail.QueueSize,
		SendTimeout:  cfg.Mail.Timeout,
		FrontendURL:  cfg.Mail.FrontendURL,
		InactiveDays: int(cfg.Sync.InactivityWindow / (24 * time.Hour)),
	}, mail.NewSender(cfg.Mail, log), log, m)
	dispatcher.Start()

	studentService := service.NewStudentService(store, board, cfClient, validation.New(), log)
	leaderboardService := service.NewLeaderboardService(store, board, log)

	// The board is derived data; rebuild it from the store on every start
	rebuildCtx, rebuildCancel := context.WithTimeout(context.Background(), 30*time.Second)
	if err := leaderboardService.RebuildBoard(rebuildCtx); err != nil {
		log.Warn().Err(err).Msg("failed to rebuild rating board, continuing with the stored one")
	}
	rebuildCancel()

	syncJob := jobs.NewSyncJob(store, board, cfClient, dispatcher, jobs.SyncConfig{
		Pacing:           cfg.Sync.Pacing,
		InactivityWindow: cfg.Sync.InactivityWindow,
		CallTimeout:      cfg.Sync.CallTimeout,
	}, log, m)

	var scheduler *jobs.Scheduler
	if cfg.Sync.Enabled {
		scheduler, err = jobs.NewScheduler(syncJob, cfg.Sync.Schedule, cfg.Sync.Location, log)
		if err != nil {
			log.Fatal().Err(err).Msg("failed to create sync scheduler")
		}
		scheduler.Start()
	} else {
		log.Info().Msg("scheduled sync disabled")
	}

	// Initialize WebSocket Hub
	hub := websocket.NewHub(board, log)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	app := handlers.NewApp(handlers.AppConfig{
		CORSOrigin: cfg.Server.CORSOrigin,
		BodyLimit:  cfg.Server.BodyLimit,
	}, log, m)
	handlers.Router{
		Students:    handlers.NewStudentHandler(studentService),
		Leaderboard: handlers.NewLeaderboardHandler(leaderboardService),
		Sync:        handlers.NewSyncHandler(syncJob, scheduler, board, log),
		Hub:         hub,
		Metrics:     m,
	}.Register(app)

	// Graceful shutdown: scheduler, HTTP, sync job, reminder flush, storage
	shutdownDone := make(chan struct{})
	go func() {
		defer close(shutdownDone)
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit

		log.Info().Msg("shutting down server")

		if scheduler != nil {
			scheduler.Stop()
		}

		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer shutdownCancel()
		if err := app.ShutdownWithContext(shutdownCtx); err != nil {
			log.Error().Err(err).Msg("server forced to shutdown")
		}

		syncJob.Shutdown()
		cancel()

		log.Info().Msg("flushing pending reminder emails")
		if err := dispatcher.Shutdown(30 * time.Second); err != nil {
			log.Error().Err(err).Msg("reminder dispatcher shutdown error")
		}

		if err := store.Close(); err != nil {
			log.Error().Err(err).Msg("error closing student store")
		}
		if err := board.Close(); err != nil {
			log.Error().Err(err).Msg("error closing rating board")
		}

		log.Info().Msg("server shutdown complete")
	}()

	port := cfg.Server.Port
	log.Info().Int("port", port).Str("store", cfg.Store.Driver).Msg("server starting")
	if err := app.Listen(fmt.Sprintf(":%d", port)); err != nil {
		log.Fatal().Err(err).Msg("failed to start server")
	}
	<-shutdownDone
}
