package config

import (
	"errors"
	"fmt"
	"strings"

	"capsuled/internal/task/scheduler"
	logx "capsuled/pkg/logx"
)

const (
	DefaultInterval      = "1m"
	DefaultTimezone      = "Asia/Makassar"
	DefaultSubjectPrefix = "Kapsul Waktu: "
	DefaultSignature     = "— Digital Time Capsule"
	DefaultSQLitePath    = "./data/capsules.db"
	DefaultFilePath      = "./data/capsules.json"
)

// ApplyDefaults fills zero values. It is idempotent.
func ApplyDefaults(cfg *Config) {
	if cfg == nil {
		return
	}
	if strings.TrimSpace(cfg.Logging.Level) == "" {
		cfg.Logging.Level = "info"
	}
	if cfg.Logging.Telegram.RatePerSec <= 0 {
		cfg.Logging.Telegram.RatePerSec = 1
	}
	if strings.TrimSpace(cfg.Logging.Telegram.MinLevel) == "" {
		cfg.Logging.Telegram.MinLevel = "warn"
	}

	if strings.TrimSpace(cfg.Scheduler.Interval) == "" {
		cfg.Scheduler.Interval = DefaultInterval
	}
	if strings.TrimSpace(cfg.Scheduler.Timezone) == "" {
		cfg.Scheduler.Timezone = DefaultTimezone
	}

	if cfg.TaskEngine.Workers <= 0 {
		cfg.TaskEngine.Workers = 1
	}
	if cfg.TaskEngine.QueueSize <= 0 {
		cfg.TaskEngine.QueueSize = 16
	}
	if strings.TrimSpace(cfg.TaskEngine.DefaultTimeout) == "" {
		cfg.TaskEngine.DefaultTimeout = "10m"
	}
	if cfg.TaskEngine.HistorySize <= 0 {
		cfg.TaskEngine.HistorySize = 50
	}

	if cfg.Delivery.Workers <= 0 {
		cfg.Delivery.Workers = 1
	}
	if cfg.Delivery.SubjectPrefix == "" {
		cfg.Delivery.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Delivery.Signature == "" {
		cfg.Delivery.Signature = DefaultSignature
	}

	if strings.TrimSpace(cfg.Mail.Host) == "" {
		cfg.Mail.Host = "smtp.gmail.com"
	}
	if cfg.Mail.Port == 0 {
		cfg.Mail.Port = 587
	}
	if strings.TrimSpace(cfg.Mail.From) == "" {
		cfg.Mail.From = cfg.Mail.Username
	}
	if strings.TrimSpace(cfg.Mail.Timeout) == "" {
		cfg.Mail.Timeout = "30s"
	}
	if strings.TrimSpace(cfg.Mail.TLS) == "" {
		cfg.Mail.TLS = "starttls"
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite":
		cfg.Storage.Driver = "sqlite"
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			cfg.Storage.Path = DefaultSQLitePath
		}
		if strings.TrimSpace(cfg.Storage.BusyTimeout) == "" {
			cfg.Storage.BusyTimeout = "5s"
		}
	case "file":
		cfg.Storage.Driver = "file"
		if strings.TrimSpace(cfg.Storage.Path) == "" {
			cfg.Storage.Path = DefaultFilePath
		}
	}

	if strings.TrimSpace(cfg.Pprof.Addr) == "" {
		cfg.Pprof.Addr = "127.0.0.1:6060"
	}
	if strings.TrimSpace(cfg.Pprof.Prefix) == "" {
		cfg.Pprof.Prefix = "/debug/pprof/"
	}
}

// Validate checks values that would otherwise fail late at runtime.
// All problems are reported together.
func Validate(cfg *Config) error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	var errs []error

	if _, ok := logx.ParseLevel(cfg.Logging.Level); !ok {
		errs = append(errs, fmt.Errorf("logging.level: unknown level %q", cfg.Logging.Level))
	}
	if cfg.Logging.Telegram.Enabled {
		if cfg.Logging.Telegram.ChatID == 0 {
			errs = append(errs, errors.New("logging.telegram.chat_id: required when enabled"))
		}
		if strings.TrimSpace(cfg.Telegram.Token) == "" {
			errs = append(errs, errors.New("telegram.token: required when logging.telegram is enabled"))
		}
		if _, ok := logx.ParseLevel(cfg.Logging.Telegram.MinLevel); !ok {
			errs = append(errs, fmt.Errorf("logging.telegram.min_level: unknown level %q", cfg.Logging.Telegram.MinLevel))
		}
	}

	if ps, err := scheduler.ParseSchedule(cfg.Scheduler.Interval); err != nil {
		errs = append(errs, fmt.Errorf("scheduler.interval: %w", err))
	} else if ps.Kind == scheduler.SpecInterval && ps.Every < MinScanInterval {
		errs = append(errs, fmt.Errorf("scheduler.interval: must be >= %s", MinScanInterval))
	}
	if _, err := ParseLocationField("scheduler.timezone", cfg.Scheduler.Timezone); err != nil {
		errs = append(errs, err)
	}

	if _, err := ParseDurationField("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout); err != nil {
		errs = append(errs, err)
	}
	if _, err := ParseDurationField("mail.timeout", cfg.Mail.Timeout); err != nil {
		errs = append(errs, err)
	}
	if cfg.Mail.Port < 0 || cfg.Mail.Port > 65535 {
		errs = append(errs, fmt.Errorf("mail.port: out of range: %d", cfg.Mail.Port))
	}
	if cfg.Mail.RatePerSec < 0 {
		errs = append(errs, errors.New("mail.rate_per_sec: must be >= 0"))
	}
	switch strings.ToLower(strings.TrimSpace(cfg.Mail.TLS)) {
	case "", "starttls", "tls", "none":
	default:
		errs = append(errs, fmt.Errorf("mail.tls: unknown mode %q", cfg.Mail.TLS))
	}

	switch strings.ToLower(strings.TrimSpace(cfg.Storage.Driver)) {
	case "", "sqlite", "file":
	case "postgres":
		if strings.TrimSpace(cfg.Storage.DSN) == "" {
			errs = append(errs, errors.New("storage.dsn: required for postgres"))
		}
	default:
		errs = append(errs, fmt.Errorf("storage.driver: unknown driver %q", cfg.Storage.Driver))
	}
	if _, err := ParseDurationField("storage.busy_timeout", cfg.Storage.BusyTimeout); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}
