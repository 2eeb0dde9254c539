/*
config.go - Process configuration

PURPOSE:
  Reads every setting from the environment once at startup. A .env file in
  the working directory is loaded first when present; real environment
  variables win over it.

VARIABLES:
  VOICESTOCK_ADDR                   listen address (:8080)
  DATABASE_PATH                     tenant registry (./users.db)
  BACKEND                           gsheets | xlsx | memory (gsheets)
  GOOGLE_SHEETS_CREDENTIALS_BASE64  service account JSON, required for gsheets
  XLSX_DIR                          workbook directory for xlsx (./books)
  REDIS_ADDRESS                     cross-process tenant locks, empty = off
  LOCK_TTL                          Redis lock lease (30s)
  TIMEZONE                          tenant clock (Europe/Moscow)
  PHONE_REGION                      region for local phone numbers (RU)
  LOG_LEVEL, LOG_FORMAT             info, json

SEE ALSO:
  - config/logger.go: logger construction
  - cmd/server/main.go: the only caller
*/
package config

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"strings"
	"time"
	_ "time/tzdata"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
)

// Backends lists the accepted BACKEND values.
var Backends = []string{"gsheets", "xlsx", "memory"}

// DefaultServiceAccountEmail is shown when the credentials carry no
// client_email.
const DefaultServiceAccountEmail = "service-account@project.iam.gserviceaccount.com"

type Config struct {
	Addr         string `env:"VOICESTOCK_ADDR" envDefault:":8080"`
	DatabasePath string `env:"DATABASE_PATH" envDefault:"./users.db"`

	Backend           string `env:"BACKEND" envDefault:"gsheets"`
	CredentialsBase64 string `env:"GOOGLE_SHEETS_CREDENTIALS_BASE64"`
	XLSXDir           string `env:"XLSX_DIR" envDefault:"./books"`

	RedisAddress string        `env:"REDIS_ADDRESS"`
	LockTTL      time.Duration `env:"LOCK_TTL" envDefault:"30s"`

	Timezone    string `env:"TIMEZONE" envDefault:"Europe/Moscow"`
	PhoneRegion string `env:"PHONE_REGION" envDefault:"RU"`

	LogLevel  string `env:"LOG_LEVEL" envDefault:"info"`
	LogFormat string `env:"LOG_FORMAT" envDefault:"json"`
}

// Load reads .env (if any) and the environment, then validates.
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg := &Config{}
	if err := ParseEnv(cfg); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// ParseEnv loads configuration from environment variables.
func ParseEnv(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

// Validate reports every missing or invalid setting at once.
func (c *Config) Validate() error {
	var missing, invalid []string

	switch c.Backend {
	case "gsheets":
		if c.CredentialsBase64 == "" {
			missing = append(missing, "GOOGLE_SHEETS_CREDENTIALS_BASE64")
		} else if _, err := c.Credentials(); err != nil {
			invalid = append(invalid, err.Error())
		}
	case "xlsx":
		if c.XLSXDir == "" {
			missing = append(missing, "XLSX_DIR")
		}
	case "memory":
	default:
		invalid = append(invalid, fmt.Sprintf("BACKEND must be one of %s, got %q", strings.Join(Backends, ", "), c.Backend))
	}
	if c.DatabasePath == "" {
		missing = append(missing, "DATABASE_PATH")
	}
	if _, err := time.LoadLocation(c.Timezone); err != nil {
		invalid = append(invalid, fmt.Sprintf("TIMEZONE %q: %v", c.Timezone, err))
	}
	if c.RedisAddress != "" && c.LockTTL <= 0 {
		invalid = append(invalid, "LOCK_TTL must be positive")
	}

	var problems []string
	if len(missing) > 0 {
		problems = append(problems, "missing required environment variables: "+strings.Join(missing, ", "))
	}
	problems = append(problems, invalid...)
	if len(problems) > 0 {
		return errors.New(strings.Join(problems, "; "))
	}
	return nil
}

// Location is the tenant clock's time zone.
func (c *Config) Location() *time.Location {
	loc, err := time.LoadLocation(c.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

// Credentials decodes the service account JSON.
func (c *Config) Credentials() ([]byte, error) {
	raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(c.CredentialsBase64))
	if err != nil {
		return nil, fmt.Errorf("invalid GOOGLE_SHEETS_CREDENTIALS_BASE64: %w", err)
	}
	if !json.Valid(raw) {
		return nil, errors.New("invalid GOOGLE_SHEETS_CREDENTIALS_BASE64: not JSON")
	}
	return raw, nil
}

// ServiceAccountEmail is the address tenants share their documents with.
func (c *Config) ServiceAccountEmail() string {
	raw, err := c.Credentials()
	if err != nil {
		return DefaultServiceAccountEmail
	}
	var creds struct {
		ClientEmail string `json:"client_email"`
	}
	if json.Unmarshal(raw, &creds) != nil || creds.ClientEmail == "" {
		return DefaultServiceAccountEmail
	}
	return creds.ClientEmail
}
