package config

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func validConfig() *Config {
	return &Config{
		Addr:         ":8080",
		DatabasePath: "./users.db",
		Backend:      "memory",
		XLSXDir:      "./books",
		LockTTL:      30 * time.Second,
		Timezone:     "Europe/Moscow",
		PhoneRegion:  "RU",
	}
}

func encode(s string) string { return base64.StdEncoding.EncodeToString([]byte(s)) }

func TestParseEnvDefaults(t *testing.T) {
	var cfg Config
	t.Setenv("BACKEND", "memory")

	require.NoError(t, ParseEnv(&cfg))

	assert.Equal(t, ":8080", cfg.Addr)
	assert.Equal(t, "./users.db", cfg.DatabasePath)
	assert.Equal(t, 30*time.Second, cfg.LockTTL)
	assert.Equal(t, "Europe/Moscow", cfg.Timezone)
	assert.Equal(t, "json", cfg.LogFormat)
	assert.Empty(t, cfg.RedisAddress)
}

func TestParseEnvError(t *testing.T) {
	var cfg Config
	t.Setenv("LOCK_TTL", "soon")

	err := ParseEnv(&cfg)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse env:")
}

func TestValidate_ReportsEverythingMissing(t *testing.T) {
	// GIVEN: the Google backend with no credentials and no database path
	// THEN: both variables are named in one error

	cfg := validConfig()
	cfg.Backend = "gsheets"
	cfg.DatabasePath = ""

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "GOOGLE_SHEETS_CREDENTIALS_BASE64")
	assert.Contains(t, err.Error(), "DATABASE_PATH")
}

func TestValidate_Invalid(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = "ftp"
	cfg.Timezone = "Mars/Olympus"

	err := cfg.Validate()

	require.Error(t, err)
	assert.Contains(t, err.Error(), "BACKEND")
	assert.Contains(t, err.Error(), "TIMEZONE")
}

func TestValidate_MemoryNeedsNoCredentials(t *testing.T) {
	assert.NoError(t, validConfig().Validate())
}

func TestCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.Backend = "gsheets"

	cfg.CredentialsBase64 = "%%%"
	assert.Error(t, cfg.Validate())

	cfg.CredentialsBase64 = encode("not json")
	assert.Error(t, cfg.Validate())

	cfg.CredentialsBase64 = encode(`{"client_email":"bot@shop.iam.gserviceaccount.com"}`)
	require.NoError(t, cfg.Validate())
	assert.Equal(t, "bot@shop.iam.gserviceaccount.com", cfg.ServiceAccountEmail())
}

func TestServiceAccountEmail_Fallback(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, DefaultServiceAccountEmail, cfg.ServiceAccountEmail())

	cfg.CredentialsBase64 = encode(`{"type":"service_account"}`)
	assert.Equal(t, DefaultServiceAccountEmail, cfg.ServiceAccountEmail())
}

func TestLocation(t *testing.T) {
	cfg := validConfig()
	assert.Equal(t, "Europe/Moscow", cfg.Location().String())

	cfg.Timezone = "nowhere"
	assert.Equal(t, time.UTC, cfg.Location())
}

func TestNewLogger(t *testing.T) {
	logg := NewLogger("debug", "text")
	assert.Equal(t, logrus.DebugLevel, logg.GetLevel())
	assert.IsType(t, &logrus.TextFormatter{}, logg.Formatter)

	logg = NewLogger("loud", "json")
	assert.Equal(t, logrus.InfoLevel, logg.GetLevel())
	assert.IsType(t, &logrus.JSONFormatter{}, logg.Formatter)
}
