package config

import (
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	Server struct {
		Addr string `yaml:"addr"`
		// APIKey guards the approver endpoints (approve, reject,
		// reschedule, direct booking, export).
		APIKey string `yaml:"api_key"`
		// Timezone is the single booking zone for the whole system.
		// All date+time combination and overlap comparison happens in it.
		Timezone string `yaml:"timezone"`
	} `yaml:"server"`

	Database struct {
		Path string `yaml:"path"`
	} `yaml:"database"`

	Backup struct {
		Enabled       bool   `yaml:"enabled"`
		IntervalHours int    `yaml:"interval_hours"`
		Path          string `yaml:"path"`
		RetentionDays int    `yaml:"retention_days"`
	} `yaml:"backup"`

	Redis struct {
		Address  string `yaml:"address"`
		Password string `yaml:"password"`
		DB       int    `yaml:"db"`
	} `yaml:"redis"`

	Telegram struct {
		Enabled  bool   `yaml:"enabled"`
		BotToken string `yaml:"bot_token"`
		ChatID   int64  `yaml:"chat_id"`
	} `yaml:"telegram"`

	Sheets struct {
		Enabled         bool   `yaml:"enabled"`
		SpreadsheetID   string `yaml:"spreadsheet_id"`
		CredentialsFile string `yaml:"credentials_file"`
		SyncIntervalSec int    `yaml:"sync_interval_sec"`
	} `yaml:"sheets"`

	Monitoring struct {
		HealthCheckPort   int  `yaml:"health_check_port"`
		PrometheusEnabled bool `yaml:"prometheus_enabled"`
		PrometheusPort    int  `yaml:"prometheus_port"`
	} `yaml:"monitoring"`

	Booking struct {
		// SubmitLimitPerHour caps reservation submissions per requester.
		SubmitLimitPerHour int `yaml:"submit_limit_per_hour"`
		// FormSessionTTLMinutes is how long an abandoned booking form
		// session is kept.
		FormSessionTTLMinutes int `yaml:"form_session_ttl_minutes"`
	} `yaml:"booking"`
}

func Load(path string) (*Config, error) {
	if path == "" {
		path = "configs/config.yaml"
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	// Support ${ENV_VAR} placeholders in YAML config.
	data = []byte(os.ExpandEnv(string(data)))

	var cfg Config
	if err = yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	if cfg.Server.Addr == "" {
		cfg.Server.Addr = ":8080"
	}
	if cfg.Server.Timezone == "" {
		cfg.Server.Timezone = "Europe/Berlin"
	}
	if cfg.Database.Path == "" {
		cfg.Database.Path = "data/fleetbook.db"
	}

	if err = os.MkdirAll(filepath.Dir(cfg.Database.Path), 0o755); err != nil {
		return nil, err
	}

	return &cfg, nil
}

// Location resolves the configured booking timezone.
func (c *Config) Location() (*time.Location, error) {
	return time.LoadLocation(c.Server.Timezone)
}

func (c *Config) SubmitLimit() int {
	if c.Booking.SubmitLimitPerHour <= 0 {
		return 10
	}
	return c.Booking.SubmitLimitPerHour
}

func (c *Config) FormSessionTTL() time.Duration {
	if c.Booking.FormSessionTTLMinutes <= 0 {
		return 30 * time.Minute
	}
	return time.Duration(c.Booking.FormSessionTTLMinutes) * time.Minute
}

func (c *Config) BackupInterval() time.Duration {
	if c.Backup.IntervalHours <= 0 {
		return 24 * time.Hour
	}
	return time.Duration(c.Backup.IntervalHours) * time.Hour
}

func (c *Config) SheetsSyncInterval() time.Duration {
	if c.Sheets.SyncIntervalSec <= 0 {
		return 60 * time.Second
	}
	return time.Duration(c.Sheets.SyncIntervalSec) * time.Second
}
