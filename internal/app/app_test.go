package app

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"capsuled/internal/capsule"
	"capsuled/internal/config"
	"capsuled/internal/delivery"
	"capsuled/internal/task/engine"
)

func noEnv(string) (string, bool) { return "", false }

func newTestApp(t *testing.T, yaml string) *App {
	t.Helper()
	dir := t.TempDir()
	p := filepath.Join(dir, "capsuled.yaml")
	body := fmt.Sprintf("storage:\n  driver: file\n  path: %s\n%s", filepath.Join(dir, "capsules.json"), yaml)
	if err := os.WriteFile(p, []byte(body), 0o600); err != nil {
		t.Fatalf("write config: %v", err)
	}
	cfgm := config.NewConfigManager(p)
	cfgm.SetEnvLookup(noEnv)
	cfg, err := cfgm.Load(context.Background())
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	a, err := build(cfgm, cfg)
	if err != nil {
		t.Fatalf("build: %v", err)
	}
	return a
}

func closedPort(t *testing.T) int {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()
	return port
}

func TestApp_WithoutMailCredentials(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "scheduler:\n  timezone: UTC\n")
	defer a.Close()

	if a.delivery != nil {
		t.Fatalf("delivery wired without credentials")
	}
	if _, err := a.ScanOnce(context.Background()); !errors.Is(err, ErrNoMailCredentials) {
		t.Fatalf("ScanOnce err=%v", err)
	}
	if err := a.VerifyMail(context.Background()); !errors.Is(err, ErrNoMailCredentials) {
		t.Fatalf("VerifyMail err=%v", err)
	}

	today, err := a.Clock().Today()
	if err != nil {
		t.Fatalf("Today: %v", err)
	}
	if _, err := a.Store().Create(context.Background(), capsule.Draft{
		Title: "t", Author: "a", Message: "m", Email: "x@example.com", SendDate: today.String(),
	}); err != nil {
		t.Fatalf("Create: %v", err)
	}
	gotDay, due, err := a.Due(context.Background())
	if err != nil || gotDay != today || len(due) != 1 {
		t.Fatalf("Due=%s %d %v", gotDay, len(due), err)
	}
}

func TestApp_ScanOnceNotifyFailureKeepsCapsuleDue(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, fmt.Sprintf(`
scheduler:
  timezone: Asia/Makassar
mail:
  host: 127.0.0.1
  port: %d
  username: sender@example.com
  password: secret
  tls: none
  timeout: 2s
`, closedPort(t)))
	defer a.Close()

	today, _ := a.Clock().Today()
	c, err := a.Store().Create(context.Background(), capsule.Draft{
		Title: "t", Author: "a", Message: "m", Email: "x@example.com", SendDate: today.AddDays(-3).String(),
	})
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	rep, err := a.ScanOnce(context.Background())
	if err != nil {
		t.Fatalf("ScanOnce: %v", err)
	}
	if rep.Count(delivery.OutcomeNotifyFailed) != 1 {
		t.Fatalf("report=%+v", rep.Items)
	}
	got, err := a.Store().Get(context.Background(), c.ID)
	if err != nil || got.Sent {
		t.Fatalf("capsule after failed send: %+v err=%v", got, err)
	}
}

func TestApp_StartStop(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, fmt.Sprintf(`
scheduler:
  interval: 1h
mail:
  host: 127.0.0.1
  port: %d
  username: sender@example.com
  password: secret
  tls: none
  timeout: 1s
pprof:
  enabled: true
  addr: 127.0.0.1:0
`, closedPort(t)))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if !a.sched.Snapshot().Started || !a.delivery.Snapshot().Started {
		t.Fatalf("scheduler or delivery not started")
	}
	doc, ok := a.status(ctx).(map[string]any)
	if !ok || doc["delivery"] == nil || doc["scheduler"] == nil {
		t.Fatalf("status=%v", doc)
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case <-a.Done():
	default:
		t.Fatalf("Done not closed after Stop")
	}
}

func TestApp_ApplyConfigSwitchesZone(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "scheduler:\n  enabled: false\n  timezone: UTC\n")
	defer a.Close()

	prev := a.cfgm.Get()
	next := *prev
	next.Scheduler.Timezone = "Asia/Tokyo"
	a.applyConfig(context.Background(), prev, &next)
	if got := a.Clock().Location().String(); got != "Asia/Tokyo" {
		t.Fatalf("zone=%s", got)
	}
}

func TestValidate_RejectsBadCron(t *testing.T) {
	t.Parallel()

	a := newTestApp(t, "")
	defer a.Close()

	cfg := *a.cfgm.Get()
	cfg.Scheduler.Interval = "61 * * * *"
	if err := a.validate(context.Background(), &cfg); err == nil {
		t.Fatalf("expected cron rejection")
	}
	cfg.Scheduler.Interval = "*/2 * * * *"
	if err := a.validate(context.Background(), &cfg); err != nil {
		t.Fatalf("validate: %v", err)
	}
}

func TestApp_StopClosesStoreAfterInFlightTask(t *testing.T) {
	t.Parallel()

	if engineDrainTimeout <= delivery.CommitTimeout {
		t.Fatalf("engine drain %s does not cover commit window %s", engineDrainTimeout, delivery.CommitTimeout)
	}

	a := newTestApp(t, "scheduler:\n  interval: 1h\n  timezone: UTC\n")
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := a.Start(ctx); err != nil {
		t.Fatalf("Start: %v", err)
	}
	today, err := a.Clock().Today()
	if err != nil {
		t.Fatalf("Today: %v", err)
	}

	// Stands in for a cycle whose MarkSent outlives cancellation.
	started := make(chan struct{})
	wrote := make(chan error, 1)
	err = a.engine.Enqueue(engine.Task{
		Name: "late.commit",
		Run: func(ctx context.Context) error {
			close(started)
			<-ctx.Done()
			time.Sleep(200 * time.Millisecond)
			_, err := a.store.Create(context.WithoutCancel(ctx), capsule.Draft{
				Title: "t", Author: "a", Message: "m", Email: "x@example.com", SendDate: today.String(),
			})
			wrote <- err
			return err
		},
	})
	if err != nil {
		t.Fatalf("Enqueue: %v", err)
	}
	<-started

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, StopAppStop); err != nil {
		t.Fatalf("Stop: %v", err)
	}
	select {
	case err := <-wrote:
		if err != nil {
			t.Fatalf("write during drain failed: %v", err)
		}
	default:
		t.Fatalf("Stop returned before the in-flight task finished")
	}
}
