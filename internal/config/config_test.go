package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDefaults(t *testing.T) {
	t.Setenv("SYNC_TIMEZONE", "")
	t.Setenv("SYNC_SCHEDULE", "")
	t.Setenv("SYNC_PACING", "")
	t.Setenv("MAIL_PROVIDER", "")
	t.Setenv("STORE_DRIVER", "")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, "0 2 * * *", cfg.Sync.Schedule)
	assert.Equal(t, "Asia/Kolkata", cfg.Sync.Timezone)
	require.NotNil(t, cfg.Sync.Location)
	assert.Equal(t, "Asia/Kolkata", cfg.Sync.Location.String())
	assert.Equal(t, 2*time.Second, cfg.Sync.Pacing)
	assert.Equal(t, 7*24*time.Hour, cfg.Sync.InactivityWindow)
	assert.Equal(t, MailProviderLog, cfg.Mail.Provider)
	assert.Equal(t, "Student Progress System", cfg.Mail.FromName)
	assert.Equal(t, StoreDriverPostgres, cfg.Store.Driver)
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("SYNC_TIMEZONE", "UTC")
	t.Setenv("SYNC_SCHEDULE", "*/5 * * * *")
	t.Setenv("SYNC_PACING", "500ms")
	t.Setenv("SYNC_ENABLED", "false")
	t.Setenv("STORE_DRIVER", "MEMORY")
	t.Setenv("CODEFORCES_BASE_URL", "http://cf.local/api/")

	cfg, err := Load()
	require.NoError(t, err)

	assert.Equal(t, time.UTC.String(), cfg.Sync.Location.String())
	assert.Equal(t, 500*time.Millisecond, cfg.Sync.Pacing)
	assert.False(t, cfg.Sync.Enabled)
	assert.Equal(t, StoreDriverMemory, cfg.Store.Driver)
	assert.Equal(t, "http://cf.local/api", cfg.Codeforces.BaseURL)
}

func TestLoadRejectsBadValues(t *testing.T) {
	tests := []struct {
		name string
		key  string
		val  string
	}{
		{"timezone", "SYNC_TIMEZONE", "Mars/Olympus"},
		{"schedule", "SYNC_SCHEDULE", "every day"},
		{"pacing", "SYNC_PACING", "-1s"},
		{"store", "STORE_DRIVER", "mongo"},
		{"mail", "MAIL_PROVIDER", "pigeon"},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			t.Setenv(tc.key, tc.val)
			_, err := Load()
			assert.Error(t, err)
		})
	}
}

func TestSendgridRequiresKey(t *testing.T) {
	t.Setenv("MAIL_PROVIDER", "sendgrid")
	t.Setenv("SENDGRID_API_KEY", "")

	_, err := Load()
	assert.ErrorContains(t, err, "SENDGRID_API_KEY")
}

func TestGetDSN(t *testing.T) {
	cfg := &Config{Database: DatabaseConfig{
		Host: "db", Port: 5433, User: "u", Password: "p", DBName: "n", SSLMode: "disable",
	}}
	assert.Equal(t, "host=db port=5433 user=u password=p dbname=n sslmode=disable", cfg.GetDSN())

	cfg.Database.URL = "postgres://x"
	assert.Equal(t, "postgres://x", cfg.GetDSN())
}
