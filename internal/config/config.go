package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/joho/godotenv"
	"github.com/robfig/cron/v3"
)

// Store drivers
const (
	StoreDriverPostgres = "postgres"
	StoreDriverMemory   = "memory"
)

// Mail providers
const (
	MailProviderSendgrid = "sendgrid"
	MailProviderLog      = "log"
)

// Config holds all configuration for the application
type Config struct {
	Database   DatabaseConfig
	Redis      RedisConfig
	Server     ServerConfig
	Store      StoreConfig
	Codeforces CodeforcesConfig
	Sync       SyncConfig
	Mail       MailConfig
	Logging    LoggingConfig
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	URL             string
	Host            string
	Port            int
	User            string
	Password        string
	DBName          string
	SSLMode         string
	MaxOpenConns    int
	MaxIdleConns    int
	ConnMaxLifetime time.Duration
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	DB       int
}

// ServerConfig holds server configuration
type ServerConfig struct {
	Port       int
	CORSOrigin string
	BodyLimit  int
}

// StoreConfig selects the persistence backend
type StoreConfig struct {
	Driver string
}

// CodeforcesConfig holds the rating API client configuration
type CodeforcesConfig struct {
	BaseURL string
	Timeout time.Duration
}

// SyncConfig holds the batch sync job configuration
type SyncConfig struct {
	Enabled          bool
	Schedule         string
	Timezone         string
	Location         *time.Location
	Pacing           time.Duration
	InactivityWindow time.Duration
	CallTimeout      time.Duration
}

// MailConfig holds reminder delivery configuration
type MailConfig struct {
	Provider       string
	SendgridAPIKey string
	FromAddress    string
	FromName       string
	Timeout        time.Duration
	Workers        int
	QueueSize      int
	FrontendURL    string
}

// LoggingConfig holds logger configuration
type LoggingConfig struct {
	Level  string
	Pretty bool
}

// Load loads configuration from environment variables
func Load() (*Config, error) {
	// Load .env file from root directory (parent of backend/)
	if err := godotenv.Load("../.env"); err != nil {
		// Try loading from current directory as fallback
		if err := godotenv.Load(); err != nil {
			log.Println("No .env file found, using environment variables")
		}
	}

	cfg := &Config{
		Database: DatabaseConfig{
			URL:             getEnv("DATABASE_URL", ""),
			Host:            getEnv("DB_HOST", "localhost"),
			Port:            getEnvAsInt("DB_PORT", 5432),
			User:            getEnv("DB_USER", "postgres"),
			Password:        getEnv("DB_PASSWORD", ""),
			DBName:          getEnv("DB_NAME", "student_progress"),
			SSLMode:         getEnv("DB_SSLMODE", "disable"),
			MaxOpenConns:    getEnvAsInt("DB_MAX_OPEN_CONNS", 10),
			MaxIdleConns:    getEnvAsInt("DB_MAX_IDLE_CONNS", 5),
			ConnMaxLifetime: getEnvAsDuration("DB_CONN_MAX_LIFETIME", 5*time.Minute),
		},
		Redis: RedisConfig{
			Host:     getEnv("REDIS_HOST", "localhost"),
			Port:     getEnvAsInt("REDIS_PORT", 6379),
			Username: getEnv("REDIS_USERNAME", ""),
			Password: getEnv("REDIS_PASSWORD", ""),
			DB:       getEnvAsInt("REDIS_DB", 0),
		},
		Server: ServerConfig{
			Port:       getEnvAsInt("BACKEND_PORT", 8000),
			CORSOrigin: getEnv("CORS_ORIGIN", "*"),
			BodyLimit:  getEnvAsInt("BODY_LIMIT", 20*1024),
		},
		Store: StoreConfig{
			Driver: strings.ToLower(getEnv("STORE_DRIVER", StoreDriverPostgres)),
		},
		Codeforces: CodeforcesConfig{
			BaseURL: strings.TrimRight(getEnv("CODEFORCES_BASE_URL", "https://codeforces.com/api"), "/"),
			Timeout: getEnvAsDuration("CODEFORCES_TIMEOUT", 10*time.Second),
		},
		Sync: SyncConfig{
			Enabled:          getEnvAsBool("SYNC_ENABLED", true),
			Schedule:         getEnv("SYNC_SCHEDULE", "0 2 * * *"),
			Timezone:         getEnv("SYNC_TIMEZONE", "Asia/Kolkata"),
			Pacing:           getEnvAsDuration("SYNC_PACING", 2*time.Second),
			InactivityWindow: getEnvAsDuration("INACTIVITY_WINDOW", 7*24*time.Hour),
			CallTimeout:      getEnvAsDuration("SYNC_CALL_TIMEOUT", 15*time.Second),
		},
		Mail: MailConfig{
			Provider:       strings.ToLower(getEnv("MAIL_PROVIDER", MailProviderLog)),
			SendgridAPIKey: getEnv("SENDGRID_API_KEY", ""),
			FromAddress:    getEnv("MAIL_FROM_ADDRESS", "no-reply@student-progress.local"),
			FromName:       getEnv("MAIL_FROM_NAME", "Student Progress System"),
			Timeout:        getEnvAsDuration("MAIL_TIMEOUT", 10*time.Second),
			Workers:        getEnvAsInt("MAIL_WORKERS", 2),
			QueueSize:      getEnvAsInt("MAIL_QUEUE_SIZE", 100),
			FrontendURL:    getEnv("FRONTEND_URL", "http://localhost:5173"),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Pretty: getEnvAsBool("LOG_PRETTY", false),
		},
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}

	return cfg, nil
}

// validate checks values that would otherwise fail late at runtime
func (c *Config) validate() error {
	loc, err := time.LoadLocation(c.Sync.Timezone)
	if err != nil {
		return fmt.Errorf("invalid SYNC_TIMEZONE %q: %w", c.Sync.Timezone, err)
	}
	c.Sync.Location = loc

	if _, err := cron.ParseStandard(c.Sync.Schedule); err != nil {
		return fmt.Errorf("invalid SYNC_SCHEDULE %q: %w", c.Sync.Schedule, err)
	}
	if c.Sync.Pacing < 0 {
		return fmt.Errorf("SYNC_PACING must not be negative, got %v", c.Sync.Pacing)
	}
	if c.Sync.InactivityWindow <= 0 {
		return fmt.Errorf("INACTIVITY_WINDOW must be positive, got %v", c.Sync.InactivityWindow)
	}

	switch c.Store.Driver {
	case StoreDriverPostgres, StoreDriverMemory:
	default:
		return fmt.Errorf("unknown STORE_DRIVER %q", c.Store.Driver)
	}

	switch c.Mail.Provider {
	case MailProviderLog:
	case MailProviderSendgrid:
		if c.Mail.SendgridAPIKey == "" {
			return fmt.Errorf("SENDGRID_API_KEY is required when MAIL_PROVIDER=sendgrid")
		}
	default:
		return fmt.Errorf("unknown MAIL_PROVIDER %q", c.Mail.Provider)
	}
	if c.Mail.Workers < 1 {
		c.Mail.Workers = 1
	}
	if c.Mail.QueueSize < 1 {
		c.Mail.QueueSize = 1
	}

	return nil
}

// GetDSN returns the PostgreSQL DSN
func (c *Config) GetDSN() string {
	if c.Database.URL != "" {
		return c.Database.URL
	}
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Database.Host,
		c.Database.Port,
		c.Database.User,
		c.Database.Password,
		c.Database.DBName,
		c.Database.SSLMode,
	)
}

// GetRedisAddr returns the Redis address
func (c *Config) GetRedisAddr() string {
	return fmt.Sprintf("%s:%d", c.Redis.Host, c.Redis.Port)
}

// getEnv retrieves an environment variable or returns a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt retrieves an environment variable as an integer or returns a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := os.Getenv(key)
	if value, err := strconv.Atoi(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsBool retrieves an environment variable as a boolean or returns a default value
func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := os.Getenv(key)
	if value, err := strconv.ParseBool(valueStr); err == nil {
		return value
	}
	return defaultValue
}

// getEnvAsDuration retrieves an environment variable as a duration ("2s", "168h")
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := os.Getenv(key)
	if value, err := time.ParseDuration(valueStr); err == nil {
		return value
	}
	return defaultValue
}
