package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"capsuled/internal/capsule"
	logx "capsuled/pkg/logx"
)

type fixedClock struct {
	today capsule.Date
	err   error
}

func (c fixedClock) Today() (capsule.Date, error) { return c.today, c.err }

type fakeTrigger struct {
	mu        sync.Mutex
	schedules map[string]string
	timeouts  map[string]time.Duration
	jobs      map[string]func(ctx context.Context) error
	triggered []string
	addErr    error
}

func newFakeTrigger() *fakeTrigger {
	return &fakeTrigger{
		schedules: map[string]string{},
		timeouts:  map[string]time.Duration{},
		jobs:      map[string]func(ctx context.Context) error{},
	}
}

func (f *fakeTrigger) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.addErr != nil {
		return f.addErr
	}
	f.schedules[name] = schedule
	f.timeouts[name] = timeout
	f.jobs[name] = job
	return nil
}

func (f *fakeTrigger) Remove(name string) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	_, ok := f.jobs[name]
	delete(f.jobs, name)
	delete(f.schedules, name)
	return ok
}

func (f *fakeTrigger) Trigger(name string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.triggered = append(f.triggered, name)
	return nil
}

func (f *fakeTrigger) job(name string) func(ctx context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.jobs[name]
}

func TestService_StartRegistersAndTriggersCatchUp(t *testing.T) {
	t.Parallel()

	trig := newFakeTrigger()
	core := NewScheduler(newMemStore(), newNotifier(), Config{Interval: "30s", CycleTimeout: time.Minute}, logx.Nop(), nil)
	svc := NewService(core, fixedClock{today: "2024-01-10"}, trig, logx.Nop(), nil)

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if trig.schedules[TaskName] != "30s" || trig.timeouts[TaskName] != time.Minute {
		t.Fatalf("schedule=%q timeout=%s", trig.schedules[TaskName], trig.timeouts[TaskName])
	}
	if len(trig.triggered) != 1 || trig.triggered[0] != TaskName {
		t.Fatalf("triggered=%v", trig.triggered)
	}
	if !svc.Snapshot().Started {
		t.Fatalf("snapshot not started")
	}

	svc.Stop(context.Background())
	if trig.job(TaskName) != nil {
		t.Fatalf("schedule not removed on stop")
	}
}

func TestService_JobRunsCycleAndRecordsSnapshot(t *testing.T) {
	t.Parallel()

	st := newMemStore(due("a1", "2024-01-10", false), due("a2", "2024-03-01", false))
	trig := newFakeTrigger()
	core := NewScheduler(st, newNotifier(), Config{}, logx.Nop(), nil)
	svc := NewService(core, fixedClock{today: "2024-01-10"}, trig, logx.Nop(), nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	if err := trig.job(TaskName)(context.Background()); err != nil {
		t.Fatalf("job: %v", err)
	}
	snap := svc.Snapshot()
	if snap.Cycles != 1 || snap.FailedCycles != 0 {
		t.Fatalf("cycles=%d failed=%d", snap.Cycles, snap.FailedCycles)
	}
	if snap.Totals[OutcomeDelivered] != 1 || snap.LastCycle == nil || snap.LastCycle.Today != "2024-01-10" {
		t.Fatalf("snapshot=%+v", snap)
	}
	if snap.Interval != DefaultInterval || snap.Workers != 1 {
		t.Fatalf("interval=%q workers=%d", snap.Interval, snap.Workers)
	}
}

func TestService_FailedCycleWaitsForNextTick(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	st.queryErr = fmt.Errorf("%w: dial tcp: refused", capsule.ErrStoreUnavailable)
	trig := newFakeTrigger()
	svc := NewService(NewScheduler(st, newNotifier(), Config{}, logx.Nop(), nil), fixedClock{today: "2024-01-10"}, trig, logx.Nop(), nil)
	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}

	err := trig.job(TaskName)(context.Background())
	if !errors.Is(err, capsule.ErrStoreUnavailable) {
		t.Fatalf("err=%v, want ErrStoreUnavailable", err)
	}
	snap := svc.Snapshot()
	if snap.FailedCycles != 1 || snap.LastError == "" || snap.LastErrorAt.IsZero() {
		t.Fatalf("snapshot=%+v", snap)
	}
}

func TestService_ClockError(t *testing.T) {
	t.Parallel()

	st := newMemStore()
	svc := NewService(NewScheduler(st, newNotifier(), Config{}, logx.Nop(), nil), fixedClock{err: errors.New("no tzdata")}, newFakeTrigger(), logx.Nop(), nil)
	if _, err := svc.RunOnce(context.Background()); err == nil {
		t.Fatalf("expected clock error")
	}
	if st.queries != 0 {
		t.Fatalf("store queried without a date")
	}
}

func TestService_ApplyReschedulesOnIntervalChange(t *testing.T) {
	t.Parallel()

	trig := newFakeTrigger()
	core := NewScheduler(newMemStore(), newNotifier(), Config{Interval: "1m"}, logx.Nop(), nil)
	svc := NewService(core, fixedClock{today: "2024-01-10"}, trig, logx.Nop(), nil)

	// Before Start nothing is registered.
	if err := svc.Apply(Config{Interval: "2m"}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if _, ok := trig.schedules[TaskName]; ok {
		t.Fatalf("registered before Start")
	}

	if err := svc.Start(context.Background()); err != nil {
		t.Fatalf("Start: %v", err)
	}
	if err := svc.Apply(Config{Interval: "*/5 * * * *", Workers: 4}); err != nil {
		t.Fatalf("Apply: %v", err)
	}
	if trig.schedules[TaskName] != "*/5 * * * *" {
		t.Fatalf("schedule=%q", trig.schedules[TaskName])
	}
	if core.Config().Workers != 4 {
		t.Fatalf("workers=%d", core.Config().Workers)
	}

	trig.addErr = errors.New("invalid cron")
	if err := svc.Apply(Config{Interval: "bogus"}); err == nil {
		t.Fatalf("expected reschedule error")
	}
	if got := core.Config().Interval; got != "*/5 * * * *" {
		t.Fatalf("rejected config applied: interval=%q", got)
	}
}
