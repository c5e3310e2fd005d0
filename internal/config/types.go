package config

// Config is the on-disk configuration of capsuled.
//
// Durations are Go duration strings ("1m", "30s") and are parsed by the
// consumers through ParseDurationField so that a bad value is reported with
// its path.
type Config struct {
	Logging    LoggingConfig    `json:"logging"`
	Telegram   TelegramConfig   `json:"telegram"`
	Scheduler  SchedulerConfig  `json:"scheduler"`
	TaskEngine TaskEngineConfig `json:"task_engine"`
	Delivery   DeliveryConfig   `json:"delivery"`
	Mail       MailConfig       `json:"mail"`
	Storage    StorageConfig    `json:"storage"`
	Pprof      PprofConfig      `json:"pprof"`
}

type LoggingConfig struct {
	Level    string                `json:"level"`
	Console  bool                  `json:"console"`
	File     LoggingFileConfig     `json:"file"`
	Telegram LoggingTelegramConfig `json:"telegram"`
}

type LoggingFileConfig struct {
	Enabled bool   `json:"enabled"`
	Path    string `json:"path"`
}

// LoggingTelegramConfig forwards warn+ log lines to an operator chat.
type LoggingTelegramConfig struct {
	Enabled    bool   `json:"enabled"`
	ChatID     int64  `json:"chat_id"`
	ThreadID   int    `json:"thread_id"`
	MinLevel   string `json:"min_level"`
	RatePerSec int    `json:"rate_per_sec"`
}

type TelegramConfig struct {
	// Token may be left empty and supplied through CAPSULED_TELEGRAM_TOKEN.
	Token string `json:"token"`
}

type SchedulerConfig struct {
	// Enabled defaults to true when omitted.
	Enabled  *bool  `json:"enabled,omitempty"`
	Interval string `json:"interval"`
	Timezone string `json:"timezone"`
}

// IsEnabled reports the effective scheduler switch.
func (s SchedulerConfig) IsEnabled() bool { return s.Enabled == nil || *s.Enabled }

type TaskEngineConfig struct {
	Workers        int    `json:"workers"`
	QueueSize      int    `json:"queue_size"`
	DefaultTimeout string `json:"default_timeout"`
	HistorySize    int    `json:"history_size"`
}

type DeliveryConfig struct {
	// Workers bounds per-cycle concurrency. 1 (default) processes capsules sequentially.
	Workers       int    `json:"workers"`
	SubjectPrefix string `json:"subject_prefix"`
	Signature     string `json:"signature"`
}

type MailConfig struct {
	Host     string `json:"host"`
	Port     int    `json:"port"`
	Username string `json:"username"`
	Password string `json:"password"`
	From     string `json:"from"`
	Timeout  string `json:"timeout"`
	// RatePerSec caps outbound messages; 0 means unlimited.
	RatePerSec float64 `json:"rate_per_sec"`
	// TLS is one of "starttls" (default), "tls" (implicit) or "none".
	TLS string `json:"tls"`
}

// HasCredentials reports whether enough mail settings are present to send.
func (m MailConfig) HasCredentials() bool {
	return m.Username != "" && m.Password != ""
}

type StorageConfig struct {
	// Driver is one of "sqlite" (default), "postgres" or "file".
	Driver      string `json:"driver"`
	Path        string `json:"path"`
	DSN         string `json:"dsn"`
	BusyTimeout string `json:"busy_timeout"`
}

type PprofConfig struct {
	Enabled bool   `json:"enabled"`
	Addr    string `json:"addr"`
	Prefix  string `json:"prefix"`
	// Token, when set, is required as "Authorization: Bearer <token>" or ?token=.
	Token string `json:"token"`
	// AllowInsecure permits binding to a non-loopback address without a token.
	AllowInsecure bool `json:"allow_insecure"`
}
