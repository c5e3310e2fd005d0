package scheduler

import (
	"testing"
	"time"

	logx "capsuled/pkg/logx"
)

func TestParseScheduleVariants(t *testing.T) {
	t.Parallel()
	tests := []struct {
		name     string
		raw      string
		kind     SpecKind
		cron     string
		duration time.Duration
	}{
		{name: "every minute cron", raw: "* * * * *", kind: SpecCron, cron: "* * * * *"},
		{name: "descriptor", raw: "@hourly", kind: SpecCron, cron: "@hourly"},
		{name: "prefixed cron", raw: "cron: 0 0 * * *", kind: SpecCron, cron: "0 0 * * *"},
		{name: "duration", raw: "1m", kind: SpecInterval, duration: time.Minute},
		{name: "prefixed interval", raw: "every:45s", kind: SpecInterval, duration: 45 * time.Second},
		{name: "padded", raw: "  2m30s ", kind: SpecInterval, duration: 150 * time.Second},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			got, err := ParseSchedule(tt.raw)
			if err != nil {
				t.Fatalf("ParseSchedule(%q) error: %v", tt.raw, err)
			}
			if got.Kind != tt.kind {
				t.Fatalf("Kind = %v, want %v", got.Kind, tt.kind)
			}
			if got.Cron != tt.cron {
				t.Fatalf("Cron = %q, want %q", got.Cron, tt.cron)
			}
			if got.Every != tt.duration {
				t.Fatalf("Every = %v, want %v", got.Every, tt.duration)
			}
		})
	}
}

func TestParseScheduleInvalid(t *testing.T) {
	t.Parallel()
	for _, raw := range []string{"", "not-a-schedule", "every:", "every:-1m", "0s", "cron:"} {
		if _, err := ParseSchedule(raw); err == nil {
			t.Fatalf("ParseSchedule(%q): expected error", raw)
		}
	}
}

func TestValidateSchedule(t *testing.T) {
	t.Parallel()
	s := New(Config{}, nil, logx.Nop(), nil)
	for _, ok := range []string{"1m", "* * * * *", "0 */5 * * * *", "@daily"} {
		if err := s.ValidateSchedule(ok); err != nil {
			t.Fatalf("ValidateSchedule(%q): %v", ok, err)
		}
	}
	for _, bad := range []string{"61 * * * *", "@fortnightly", "soon"} {
		if err := s.ValidateSchedule(bad); err == nil {
			t.Fatalf("ValidateSchedule(%q): expected error", bad)
		}
	}
}
