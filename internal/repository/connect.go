package repository

import (
	"context"
	"fmt"
	"time"

	"cfprogress/internal/config"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"
)

// Connect opens the student store and the rating board selected by
// STORE_DRIVER. The memory driver keeps both in process.
func Connect(cfg *config.Config, log zerolog.Logger) (StudentStore, Board, error) {
	if cfg.Store.Driver == config.StoreDriverMemory {
		log.Warn().Msg("using in-memory storage, data is lost on restart")
		return NewMemoryStore(), NewMemoryBoard(), nil
	}

	db, err := initPostgres(cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to PostgreSQL: %w", err)
	}
	log.Info().
		Int("max_open", cfg.Database.MaxOpenConns).
		Int("max_idle", cfg.Database.MaxIdleConns).
		Msg("connected to PostgreSQL")

	postgresRepo := NewPostgresRepository(db)
	if err := postgresRepo.AutoMigrate(); err != nil {
		_ = postgresRepo.Close()
		return nil, nil, fmt.Errorf("run migrations: %w", err)
	}
	log.Info().Msg("database migrations completed")

	redisClient, err := initRedis(cfg)
	if err != nil {
		_ = postgresRepo.Close()
		return nil, nil, fmt.Errorf("connect to Redis: %w", err)
	}
	log.Info().Str("addr", cfg.GetRedisAddr()).Msg("connected to Redis")

	return postgresRepo, NewRedisRepository(redisClient), nil
}

// initPostgres initializes PostgreSQL connection with connection pooling.
// TranslateError makes unique violations surface as gorm.ErrDuplicatedKey.
func initPostgres(cfg *config.Config) (*gorm.DB, error) {
	db, err := gorm.Open(postgres.Open(cfg.GetDSN()), &gorm.Config{
		Logger:         gormlogger.Default.LogMode(gormlogger.Warn),
		TranslateError: true,
	})
	if err != nil {
		return nil, err
	}

	sqlDB, err := db.DB()
	if err != nil {
		return nil, err
	}
	sqlDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
	sqlDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
	sqlDB.SetConnMaxLifetime(cfg.Database.ConnMaxLifetime)
	sqlDB.SetConnMaxIdleTime(2 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := sqlDB.PingContext(ctx); err != nil {
		return nil, err
	}

	return db, nil
}

// initRedis initializes Redis connection with connection pooling
func initRedis(cfg *config.Config) (*redis.Client, error) {
	client := redis.NewClient(&redis.Options{
		Addr:         cfg.GetRedisAddr(),
		Username:     cfg.Redis.Username,
		Password:     cfg.Redis.Password,
		DB:           cfg.Redis.DB,
		PoolSize:     10,
		MinIdleConns: 2,
		MaxRetries:   3,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
	})

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, err
	}

	return client, nil
}
