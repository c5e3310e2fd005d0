package config

import (
	"strings"

	logx "capsuled/pkg/logx"
)

// SummarizeConfigChange returns a compact list of changed sections and safe
// structured attrs for logging. Secrets (mail password, tokens, DSN) are only
// ever reported as "<name>_set" booleans.
func SummarizeConfigChange(oldCfg, newCfg *Config) ([]string, []logx.Field) {
	if oldCfg == nil {
		oldCfg = &Config{}
	}
	if newCfg == nil {
		newCfg = &Config{}
	}

	changed := make([]string, 0, 8)
	attrs := make([]logx.Field, 0, 24)

	if oldCfg.Logging != newCfg.Logging {
		changed = append(changed, "logging")
		attrs = append(attrs,
			logx.String("logging.level", newCfg.Logging.Level),
			logx.Bool("logging.console", newCfg.Logging.Console),
			logx.Bool("logging.file_enabled", newCfg.Logging.File.Enabled),
			logx.Bool("logging.telegram_enabled", newCfg.Logging.Telegram.Enabled),
		)
	}

	if oldCfg.Telegram.Token != newCfg.Telegram.Token {
		changed = append(changed, "telegram")
		attrs = append(attrs, logx.Bool("telegram.token_set", isSet(newCfg.Telegram.Token)))
	}

	if oldCfg.Scheduler.IsEnabled() != newCfg.Scheduler.IsEnabled() ||
		strings.TrimSpace(oldCfg.Scheduler.Interval) != strings.TrimSpace(newCfg.Scheduler.Interval) ||
		strings.TrimSpace(oldCfg.Scheduler.Timezone) != strings.TrimSpace(newCfg.Scheduler.Timezone) {
		changed = append(changed, "scheduler")
		attrs = append(attrs,
			logx.Bool("scheduler.enabled", newCfg.Scheduler.IsEnabled()),
			logx.String("scheduler.interval", strings.TrimSpace(newCfg.Scheduler.Interval)),
			logx.String("scheduler.timezone", strings.TrimSpace(newCfg.Scheduler.Timezone)),
		)
	}

	if oldCfg.TaskEngine != newCfg.TaskEngine {
		changed = append(changed, "task_engine")
		attrs = append(attrs,
			logx.Int("task_engine.workers", newCfg.TaskEngine.Workers),
			logx.Int("task_engine.queue_size", newCfg.TaskEngine.QueueSize),
			logx.String("task_engine.default_timeout", strings.TrimSpace(newCfg.TaskEngine.DefaultTimeout)),
			logx.Int("task_engine.history_size", newCfg.TaskEngine.HistorySize),
		)
	}

	if oldCfg.Delivery != newCfg.Delivery {
		changed = append(changed, "delivery")
		attrs = append(attrs,
			logx.Int("delivery.workers", newCfg.Delivery.Workers),
			logx.String("delivery.subject_prefix", newCfg.Delivery.SubjectPrefix),
		)
	}

	// Mail (never log password)
	if oldCfg.Mail != newCfg.Mail {
		changed = append(changed, "mail")
		attrs = append(attrs,
			logx.String("mail.host", newCfg.Mail.Host),
			logx.Int("mail.port", newCfg.Mail.Port),
			logx.Bool("mail.username_set", isSet(newCfg.Mail.Username)),
			logx.Bool("mail.password_set", isSet(newCfg.Mail.Password)),
			logx.String("mail.tls", newCfg.Mail.TLS),
			logx.String("mail.timeout", newCfg.Mail.Timeout),
		)
	}

	// Storage (never log DSN; it usually embeds credentials)
	if oldCfg.Storage != newCfg.Storage {
		changed = append(changed, "storage")
		attrs = append(attrs,
			logx.String("storage.driver", newCfg.Storage.Driver),
			logx.String("storage.path", newCfg.Storage.Path),
			logx.Bool("storage.dsn_set", isSet(newCfg.Storage.DSN)),
		)
	}

	// Pprof (never log token)
	if oldCfg.Pprof != newCfg.Pprof {
		changed = append(changed, "pprof")
		attrs = append(attrs,
			logx.Bool("pprof.enabled", newCfg.Pprof.Enabled),
			logx.String("pprof.addr", strings.TrimSpace(newCfg.Pprof.Addr)),
			logx.Bool("pprof.token_set", isSet(newCfg.Pprof.Token)),
			logx.Bool("pprof.allow_insecure", newCfg.Pprof.AllowInsecure),
		)
	}

	return changed, attrs
}

// RequiresRestart lists changed sections that are only read at startup.
func RequiresRestart(oldCfg, newCfg *Config) []string {
	if oldCfg == nil || newCfg == nil {
		return nil
	}
	var out []string
	if oldCfg.Storage != newCfg.Storage {
		out = append(out, "storage")
	}
	if oldCfg.Mail != newCfg.Mail {
		out = append(out, "mail")
	}
	if oldCfg.Telegram != newCfg.Telegram {
		out = append(out, "telegram")
	}
	return out
}

func isSet(s string) bool { return strings.TrimSpace(s) != "" }
