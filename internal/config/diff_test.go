package config

import (
	"bytes"
	"slices"
	"strings"
	"testing"

	logx "capsuled/pkg/logx"
)

func TestSummarizeConfigChange_NeverLogsSecrets(t *testing.T) {
	t.Parallel()

	oldCfg := &Config{}
	ApplyDefaults(oldCfg)
	newCfg := *oldCfg
	newCfg.Mail.Password = "hunter2"
	newCfg.Storage.DSN = "postgres://u:pa55@db/capsules"
	newCfg.Pprof.Token = "tok-123"
	newCfg.Telegram.Token = "123:ABC"

	changed, attrs := SummarizeConfigChange(oldCfg, &newCfg)
	for _, want := range []string{"mail", "storage", "pprof", "telegram"} {
		if !slices.Contains(changed, want) {
			t.Fatalf("changed=%v, missing %q", changed, want)
		}
	}

	var buf bytes.Buffer
	log := logx.NewWriter(&buf, "debug")
	log.Info("config changed", attrs...)
	out := buf.String()
	for _, secret := range []string{"hunter2", "pa55", "tok-123", "123:ABC"} {
		if strings.Contains(out, secret) {
			t.Fatalf("secret %q leaked into log: %s", secret, out)
		}
	}
	if !strings.Contains(out, `"mail.password_set":true`) {
		t.Fatalf("expected password_set flag in %s", out)
	}
}

func TestSummarizeConfigChange_NoChanges(t *testing.T) {
	t.Parallel()

	c := &Config{}
	ApplyDefaults(c)
	cp := *c
	changed, attrs := SummarizeConfigChange(c, &cp)
	if len(changed) != 0 || len(attrs) != 0 {
		t.Fatalf("changed=%v attrs=%d", changed, len(attrs))
	}
}

func TestRequiresRestart(t *testing.T) {
	t.Parallel()

	a := &Config{}
	ApplyDefaults(a)
	b := *a
	b.Scheduler.Interval = "5m"
	if got := RequiresRestart(a, &b); len(got) != 0 {
		t.Fatalf("interval change should be hot: %v", got)
	}
	b.Storage.Path = "/var/lib/capsuled/other.db"
	if got := RequiresRestart(a, &b); !slices.Equal(got, []string{"storage"}) {
		t.Fatalf("got %v", got)
	}
}
