package app

import (
	"strings"
	"time"

	"capsuled/internal/config"
	"capsuled/internal/delivery"
	"capsuled/internal/mailer"
	"capsuled/internal/observability/pprof"
	"capsuled/internal/opsalert"
	"capsuled/internal/storage"
	"capsuled/internal/task/engine"
	"capsuled/internal/task/scheduler"
	logx "capsuled/pkg/logx"
)

// Mapping functions translate the validated file config into component
// configs. Durations were checked by config.Validate, so parse errors here
// only surface for configs that bypassed it.

func mapLogConfig(cfg *config.Config) logx.Config {
	return logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File: logx.FileConfig{
			Enabled: cfg.Logging.File.Enabled,
			Path:    cfg.Logging.File.Path,
		},
		Alerts: logx.AlertConfig{
			Enabled:    cfg.Logging.Telegram.Enabled,
			MinLevel:   cfg.Logging.Telegram.MinLevel,
			RatePerSec: cfg.Logging.Telegram.RatePerSec,
		},
	}
}

func mapAlertConfig(cfg *config.Config) opsalert.Config {
	return opsalert.Config{
		Token:    cfg.Telegram.Token,
		ChatID:   cfg.Logging.Telegram.ChatID,
		ThreadID: cfg.Logging.Telegram.ThreadID,
	}
}

func mapTaskEngineConfig(cfg *config.Config) (engine.Config, error) {
	timeout, err := config.ParseDurationOrDefault("task_engine.default_timeout", cfg.TaskEngine.DefaultTimeout, 10*time.Minute)
	if err != nil {
		return engine.Config{}, err
	}
	return engine.Config{
		// The engine only runs scheduled work, so it follows the scheduler switch.
		Enabled:        cfg.Scheduler.IsEnabled(),
		Workers:        cfg.TaskEngine.Workers,
		QueueSize:      cfg.TaskEngine.QueueSize,
		DefaultTimeout: timeout,
		HistorySize:    cfg.TaskEngine.HistorySize,
	}, nil
}

func mapSchedulerConfig(cfg *config.Config) scheduler.Config {
	return scheduler.Config{
		Enabled:  cfg.Scheduler.IsEnabled(),
		Timezone: cfg.Scheduler.Timezone,
	}
}

func mapDeliveryConfig(cfg *config.Config) delivery.Config {
	return delivery.Config{
		Workers:       cfg.Delivery.Workers,
		SubjectPrefix: cfg.Delivery.SubjectPrefix,
		Signature:     cfg.Delivery.Signature,
		Interval:      cfg.Scheduler.Interval,
	}
}

func mapMailConfig(cfg *config.Config) (mailer.Config, error) {
	timeout, err := config.ParseDurationOrDefault("mail.timeout", cfg.Mail.Timeout, 30*time.Second)
	if err != nil {
		return mailer.Config{}, err
	}
	return mailer.Config{
		Host:       cfg.Mail.Host,
		Port:       cfg.Mail.Port,
		Username:   cfg.Mail.Username,
		Password:   cfg.Mail.Password,
		From:       cfg.Mail.From,
		Timeout:    timeout,
		RatePerSec: cfg.Mail.RatePerSec,
		TLS:        strings.ToLower(strings.TrimSpace(cfg.Mail.TLS)),
	}, nil
}

func mapStorageConfig(cfg *config.Config) (storage.Config, error) {
	busy, err := config.ParseDurationOrDefault("storage.busy_timeout", cfg.Storage.BusyTimeout, 5*time.Second)
	if err != nil {
		return storage.Config{}, err
	}
	return storage.Config{
		Driver:      cfg.Storage.Driver,
		Path:        cfg.Storage.Path,
		DSN:         cfg.Storage.DSN,
		BusyTimeout: busy,
	}, nil
}

func mapPprofConfig(cfg *config.Config) pprof.Config {
	return pprof.Config{
		Enabled:       cfg.Pprof.Enabled,
		Addr:          cfg.Pprof.Addr,
		Prefix:        cfg.Pprof.Prefix,
		Token:         cfg.Pprof.Token,
		AllowInsecure: cfg.Pprof.AllowInsecure,
	}
}
