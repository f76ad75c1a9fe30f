package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"
)

type Config struct {
	DatabasePath string `yaml:"database_path"`
	TimezoneName string `yaml:"timezone"`
	LogLevel     string `yaml:"log_level"`

	CalDAV   CalDAVConfig   `yaml:"caldav"`
	Session  SessionConfig  `yaml:"session"`
	Sync     SyncConfig     `yaml:"sync"`
	Telegram TelegramConfig `yaml:"telegram"`

	Timezone *time.Location `yaml:"-"`
}

type CalDAVConfig struct {
	URL        string `yaml:"url"`
	Username   string `yaml:"username"`
	Password   string `yaml:"password"`
	CalendarID string `yaml:"calendar_id"`
}

type SessionConfig struct {
	Mode   string `yaml:"mode"` // guest or token
	UserID int64  `yaml:"user_id"`
}

type SyncConfig struct {
	Interval         Duration `yaml:"interval"`
	MaxAttempts      int      `yaml:"max_attempts"`
	BaseDelay        Duration `yaml:"base_delay"`
	ConflictStrategy string   `yaml:"conflict_strategy"`
	RatePerSec       float64  `yaml:"rate_per_sec"`
}

// Duration accepts "15m" style strings in YAML.
type Duration time.Duration

func (d *Duration) UnmarshalYAML(value *yaml.Node) error {
	var raw string
	if err := value.Decode(&raw); err != nil {
		return err
	}
	parsed, err := time.ParseDuration(raw)
	if err != nil {
		return fmt.Errorf("invalid duration %q: %w", raw, err)
	}
	if parsed < 0 {
		return fmt.Errorf("duration %q must be >= 0", raw)
	}
	*d = Duration(parsed)
	return nil
}

func (d Duration) Std() time.Duration { return time.Duration(d) }

type TelegramConfig struct {
	Token  string `yaml:"token"`
	ChatID int64  `yaml:"chat_id"`
}

// Load reads the optional YAML file named by CONFIG_PATH (default
// config.yaml), then applies environment overrides on top. Environment always
// wins so deployments can keep secrets out of the file.
func Load() (*Config, error) {
	cfg := &Config{
		DatabasePath: "./data/reminders.db",
		TimezoneName: "UTC",
		LogLevel:     "info",
		Session:      SessionConfig{Mode: "guest", UserID: 1},
		Sync: SyncConfig{
			Interval:         Duration(15 * time.Minute),
			MaxAttempts:      3,
			BaseDelay:        Duration(time.Second),
			ConflictStrategy: "useLatest",
			RatePerSec:       5,
		},
	}

	path := os.Getenv("CONFIG_PATH")
	if path == "" {
		path = "config.yaml"
	}
	if data, err := os.ReadFile(path); err == nil {
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse %s: %w", path, err)
		}
	} else if !os.IsNotExist(err) {
		return nil, fmt.Errorf("read %s: %w", path, err)
	}

	applyEnv(cfg)

	tz, err := time.LoadLocation(cfg.TimezoneName)
	if err != nil {
		return nil, fmt.Errorf("invalid timezone %q: %w", cfg.TimezoneName, err)
	}
	cfg.Timezone = tz

	switch cfg.Session.Mode {
	case "guest", "token":
	default:
		return nil, fmt.Errorf("invalid session mode %q", cfg.Session.Mode)
	}
	if cfg.Session.UserID <= 0 {
		return nil, fmt.Errorf("session user_id must be positive")
	}
	if cfg.Sync.MaxAttempts <= 0 {
		cfg.Sync.MaxAttempts = 3
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if v := os.Getenv("DATABASE_PATH"); v != "" {
		cfg.DatabasePath = v
	}
	if v := os.Getenv("TIMEZONE"); v != "" {
		cfg.TimezoneName = v
	}
	if v := os.Getenv("LOG_LEVEL"); v != "" {
		cfg.LogLevel = v
	}
	if v := os.Getenv("CALDAV_URL"); v != "" {
		cfg.CalDAV.URL = v
	}
	if v := os.Getenv("CALDAV_USERNAME"); v != "" {
		cfg.CalDAV.Username = v
	}
	if v := os.Getenv("CALDAV_PASSWORD"); v != "" {
		cfg.CalDAV.Password = v
	}
	if v := os.Getenv("CALDAV_CALENDAR_ID"); v != "" {
		cfg.CalDAV.CalendarID = v
	}
	if v := os.Getenv("SESSION_USER_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Session.UserID = id
		}
	}
	if v := os.Getenv("SYNC_INTERVAL"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Sync.Interval = Duration(d)
		}
	}
	if v := os.Getenv("SYNC_CONFLICT_STRATEGY"); v != "" {
		cfg.Sync.ConflictStrategy = v
	}
	if v := os.Getenv("TELEGRAM_BOT_TOKEN"); v != "" {
		cfg.Telegram.Token = v
	}
	if v := os.Getenv("TELEGRAM_CHAT_ID"); v != "" {
		if id, err := strconv.ParseInt(v, 10, 64); err == nil {
			cfg.Telegram.ChatID = id
		}
	}
}
