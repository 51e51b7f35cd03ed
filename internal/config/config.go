// Package config loads process configuration from the environment and the
// optional engine YAML file.
package config

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"gopkg.in/yaml.v3"

	billing "finance-backoffice/internal/billing/domain"
	"finance-backoffice/internal/logger"
)

// Store drivers.
const (
	DriverPostgres = "postgres"
	DriverBolt     = "bolt"
)

// Config is the full process configuration.
type Config struct {
	StoreDriver string
	DatabaseURL string
	BoltPath    string
	HTTPAddr    string
	JWTSecret   string
	Log         logger.LogConfig
	Notify      NotifyConfig
	Engine      Engine
}

// Engine holds the billing engine settings. Zero values fall back to env
// defaults.
type Engine struct {
	MinInstallmentAmount string            `yaml:"min_installment_amount"`
	Timezone             string            `yaml:"timezone"`
	Audit                AuditConfig       `yaml:"audit"`
	Sweep                SweepConfig       `yaml:"sweep"`
	Outbox               OutboxConfig      `yaml:"outbox"`
	StatusAliases        map[string]string `yaml:"status_aliases"`
}

// AuditConfig bounds history append retries.
type AuditConfig struct {
	MaxAttempts  int           `yaml:"max_attempts"`
	RetryBackoff time.Duration `yaml:"retry_backoff"`
}

// SweepConfig schedules the overdue sweep. DailyAt wins over Interval.
type SweepConfig struct {
	Interval time.Duration `yaml:"interval"`
	DailyAt  string        `yaml:"daily_at"`
}

// OutboxConfig drives the outbox dispatcher loop.
type OutboxConfig struct {
	Interval    time.Duration `yaml:"interval"`
	BatchSize   int           `yaml:"batch_size"`
	MaxAttempts int           `yaml:"max_attempts"`
}

// NotifyConfig routes manual-intervention alerts. An empty WebhookURL
// keeps alerts in the process log only.
type NotifyConfig struct {
	WebhookURL   string
	DedupeWindow time.Duration
}

// Load reads env, then overlays ENGINE_CONFIG when set.
func Load() (Config, error) {
	cfg := Config{
		StoreDriver: strings.ToLower(getenvDefault("STORE_DRIVER", DriverPostgres)),
		DatabaseURL: getenvDefault("DATABASE_URL", os.Getenv("PG_DSN")),
		BoltPath:    getenvDefault("BOLT_PATH", "var/backoffice.db"),
		HTTPAddr:    getenvDefault("HTTP_ADDR", ":8080"),
		JWTSecret:   os.Getenv("AUTH_JWT_SECRET"),
		Log:         logConfig(),
		Notify: NotifyConfig{
			WebhookURL:   os.Getenv("NOTIFY_WEBHOOK_URL"),
			DedupeWindow: getenvDurationDefault("NOTIFY_DEDUPE_WINDOW", 10*time.Minute),
		},
		Engine: Engine{
			MinInstallmentAmount: getenvDefault("MIN_INSTALLMENT_AMOUNT", billing.DefaultMinAmount.StringFixed(2)),
			Timezone:             getenvDefault("ENGINE_TIMEZONE", "America/Sao_Paulo"),
			Audit: AuditConfig{
				MaxAttempts:  getenvIntDefault("AUDIT_MAX_ATTEMPTS", 5),
				RetryBackoff: getenvDurationDefault("AUDIT_RETRY_BACKOFF", 25*time.Millisecond),
			},
			Sweep: SweepConfig{
				Interval: getenvDurationDefault("SWEEP_INTERVAL", time.Hour),
				DailyAt:  os.Getenv("SWEEP_DAILY_AT"),
			},
			Outbox: OutboxConfig{
				Interval:    getenvDurationDefault("OUTBOX_INTERVAL", 5*time.Second),
				BatchSize:   getenvIntDefault("OUTBOX_BATCH_SIZE", 50),
				MaxAttempts: getenvIntDefault("OUTBOX_MAX_ATTEMPTS", 5),
			},
		},
	}

	if path := os.Getenv("ENGINE_CONFIG"); path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return cfg, err
		}
		var overlay Engine
		if err := yaml.Unmarshal(data, &overlay); err != nil {
			return cfg, fmt.Errorf("config: %s: %w", path, err)
		}
		cfg.Engine = mergeEngine(cfg.Engine, overlay)
	}
	return cfg, cfg.Validate()
}

// Validate checks settings that would otherwise fail late.
func (c Config) Validate() error {
	switch c.StoreDriver {
	case DriverPostgres:
		if c.DatabaseURL == "" {
			return errors.New("config: DATABASE_URL or PG_DSN required for postgres store")
		}
	case DriverBolt:
		if c.BoltPath == "" {
			return errors.New("config: BOLT_PATH required for bolt store")
		}
	default:
		return fmt.Errorf("config: unknown STORE_DRIVER %q", c.StoreDriver)
	}
	if _, err := c.Engine.Location(); err != nil {
		return err
	}
	if _, err := c.Engine.MinAmount(); err != nil {
		return err
	}
	if _, err := c.Engine.Vocabulary(); err != nil {
		return err
	}
	if c.Engine.Sweep.DailyAt != "" {
		if _, err := time.Parse("15:04", c.Engine.Sweep.DailyAt); err != nil {
			return fmt.Errorf("config: sweep.daily_at: %w", err)
		}
	}
	return nil
}

// Location resolves the engine timezone.
func (e Engine) Location() (*time.Location, error) {
	if e.Timezone == "" {
		return time.UTC, nil
	}
	loc, err := time.LoadLocation(e.Timezone)
	if err != nil {
		return nil, fmt.Errorf("config: timezone: %w", err)
	}
	return loc, nil
}

// MinAmount parses the minimum installment amount.
func (e Engine) MinAmount() (decimal.Decimal, error) {
	if e.MinInstallmentAmount == "" {
		return billing.DefaultMinAmount, nil
	}
	d, err := decimal.NewFromString(e.MinInstallmentAmount)
	if err != nil {
		return decimal.Zero, fmt.Errorf("config: min_installment_amount: %w", err)
	}
	return d, nil
}

// Vocabulary returns the status vocabulary extended with configured aliases.
func (e Engine) Vocabulary() (billing.Vocabulary, error) {
	return billing.DefaultVocabulary().WithAliases(e.StatusAliases)
}

func mergeEngine(base, override Engine) Engine {
	if override.MinInstallmentAmount != "" {
		base.MinInstallmentAmount = override.MinInstallmentAmount
	}
	if override.Timezone != "" {
		base.Timezone = override.Timezone
	}
	if override.Audit.MaxAttempts != 0 {
		base.Audit.MaxAttempts = override.Audit.MaxAttempts
	}
	if override.Audit.RetryBackoff != 0 {
		base.Audit.RetryBackoff = override.Audit.RetryBackoff
	}
	if override.Sweep.Interval != 0 {
		base.Sweep.Interval = override.Sweep.Interval
	}
	if override.Sweep.DailyAt != "" {
		base.Sweep.DailyAt = override.Sweep.DailyAt
	}
	if override.Outbox.Interval != 0 {
		base.Outbox.Interval = override.Outbox.Interval
	}
	if override.Outbox.BatchSize != 0 {
		base.Outbox.BatchSize = override.Outbox.BatchSize
	}
	if override.Outbox.MaxAttempts != 0 {
		base.Outbox.MaxAttempts = override.Outbox.MaxAttempts
	}
	if len(override.StatusAliases) > 0 {
		base.StatusAliases = override.StatusAliases
	}
	return base
}

func logConfig() logger.LogConfig {
	cfg := logger.DefaultConfig()
	cfg.Level = getenvDefault("LOG_LEVEL", cfg.Level)
	cfg.Format = getenvDefault("LOG_FORMAT", cfg.Format)
	cfg.Output = getenvDefault("LOG_OUTPUT", cfg.Output)
	return cfg
}

func getenvDefault(key, fallback string) string {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	return value
}

func getenvIntDefault(key string, fallback int) int {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return fallback
	}
	return parsed
}

func getenvDurationDefault(key string, fallback time.Duration) time.Duration {
	value := os.Getenv(key)
	if value == "" {
		return fallback
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return fallback
	}
	return parsed
}
