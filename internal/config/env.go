package config

import (
	"strings"
)

// Environment variables that override file values. EMAIL_USER, EMAIL_PASS and
// TIME_ZONE keep the names operators already deploy with.
const (
	EnvMailUser      = "EMAIL_USER"
	EnvMailPass      = "EMAIL_PASS"
	EnvTimezone      = "TIME_ZONE"
	EnvTelegramToken = "CAPSULED_TELEGRAM_TOKEN"
	EnvStorageDSN    = "CAPSULED_STORAGE_DSN"
)

// ApplyEnv overlays non-empty environment values on cfg.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) {
	if cfg == nil || lookup == nil {
		return
	}
	get := func(k string) (string, bool) {
		v, ok := lookup(k)
		v = strings.TrimSpace(v)
		return v, ok && v != ""
	}

	if v, ok := get(EnvMailUser); ok {
		cfg.Mail.Username = v
	}
	if v, ok := get(EnvMailPass); ok {
		cfg.Mail.Password = v
	}
	if v, ok := get(EnvTimezone); ok {
		cfg.Scheduler.Timezone = v
	}
	if v, ok := get(EnvTelegramToken); ok {
		cfg.Telegram.Token = v
	}
	if v, ok := get(EnvStorageDSN); ok {
		cfg.Storage.DSN = v
	}
}
