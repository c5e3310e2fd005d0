package delivery

import (
	"context"
	"errors"
	"sync"
	"time"

	"capsuled/internal/eventbus"
	logx "capsuled/pkg/logx"
)

// TaskName is the schedule and task name of the periodic scan.
const TaskName = "delivery.scan"

// Trigger is the slice of the scheduler service used to drive scan cycles.
type Trigger interface {
	AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error
	Remove(name string) bool
	Trigger(name string) error
}

// Service drives a Scheduler from a periodic trigger and keeps the last
// cycle for status output.
type Service struct {
	core  *Scheduler
	clock Clock
	trig  Trigger
	log   logx.Logger
	bus   eventbus.Bus

	mu        sync.Mutex
	started   bool
	interval  string
	timeout   time.Duration
	cycles    uint64
	failed    uint64
	totals    map[Outcome]uint64
	last      *CycleReport
	lastErr   string
	lastErrAt time.Time
}

func NewService(core *Scheduler, clk Clock, trig Trigger, log logx.Logger, bus eventbus.Bus) *Service {
	return &Service{
		core:   core,
		clock:  clk,
		trig:   trig,
		log:    log.With(logx.String("comp", "delivery")),
		bus:    bus,
		totals: map[Outcome]uint64{},
	}
}

// Start registers the scan schedule and queues one catch-up cycle so
// capsules that came due during downtime go out without waiting a tick.
func (s *Service) Start(ctx context.Context) error {
	if s.trig == nil {
		return errors.New("delivery: no trigger")
	}
	cfg := s.core.Config()
	if err := s.trig.AddSchedule(TaskName, cfg.Interval, cfg.CycleTimeout, s.job); err != nil {
		return err
	}
	s.mu.Lock()
	s.started = true
	s.interval = cfg.Interval
	s.timeout = cfg.CycleTimeout
	s.mu.Unlock()

	if err := s.trig.Trigger(TaskName); err != nil {
		s.log.Warn("catch-up scan not queued", logx.Err(err))
	}
	s.log.Info("delivery scheduler started", logx.String("interval", cfg.Interval), logx.Int("workers", cfg.Workers))
	return nil
}

func (s *Service) Stop(context.Context) {
	s.mu.Lock()
	wasStarted := s.started
	s.started = false
	s.mu.Unlock()
	if wasStarted && s.trig != nil {
		s.trig.Remove(TaskName)
	}
}

// Apply swaps the config. A new interval or timeout re-registers the
// schedule; the overlap gate carries over, so a running cycle still blocks.
func (s *Service) Apply(cfg Config) error {
	cfg = normalize(cfg)

	s.mu.Lock()
	reschedule := s.started && (cfg.Interval != s.interval || cfg.CycleTimeout != s.timeout)
	s.mu.Unlock()
	if reschedule {
		if err := s.trig.AddSchedule(TaskName, cfg.Interval, cfg.CycleTimeout, s.job); err != nil {
			return err
		}
		s.mu.Lock()
		s.interval = cfg.Interval
		s.timeout = cfg.CycleTimeout
		s.mu.Unlock()
		s.log.Info("scan schedule updated", logx.String("interval", cfg.Interval))
	}
	s.core.Apply(cfg)
	return nil
}

// RunOnce runs a single cycle for today's date.
func (s *Service) RunOnce(ctx context.Context) (CycleReport, error) {
	today, err := s.clock.Today()
	if err != nil {
		s.recordFailure(err)
		return CycleReport{}, err
	}
	attrs := []logx.Field{logx.String("today", today.String())}
	if n, ok := s.clock.(interface{ Now() time.Time }); ok {
		attrs = append(attrs, logx.String("local_time", n.Now().Format("2006-01-02 15:04:05 MST")))
	}
	s.log.Debug("running scan", attrs...)

	rep, err := s.core.RunScanCycle(ctx, today)
	if err != nil {
		s.recordFailure(err)
		s.log.Error("scan cycle failed; retrying next tick", logx.String("today", today.String()), logx.Err(err))
		if s.bus != nil {
			s.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFailed, Data: err.Error()})
		}
		return rep, err
	}
	s.record(rep)

	fields := []logx.Field{
		logx.String("today", today.String()),
		logx.Int("selected", rep.Selected),
		logx.Int("delivered", rep.Count(OutcomeDelivered)),
		logx.Int("notify_failed", rep.Count(OutcomeNotifyFailed)),
		logx.Int("commit_failed", rep.Count(OutcomeCommitFailed)),
		logx.Int("vanished", rep.Count(OutcomeVanished)),
		logx.Int("skipped", rep.Count(OutcomeSkipped)),
		logx.Duration("took", rep.Took),
	}
	if rep.Duplicates > 0 {
		fields = append(fields, logx.Int("duplicates", rep.Duplicates))
	}
	switch {
	case rep.Interrupted:
		s.log.Info("scan cycle interrupted", append(fields, logx.Int("processed", len(rep.Items)))...)
	case rep.Selected > 0:
		s.log.Info("scan cycle finished", fields...)
	default:
		s.log.Debug("scan cycle finished", fields...)
	}
	if s.bus != nil {
		s.bus.Publish(eventbus.Event{Type: eventbus.TypeCycleFinished, Data: rep})
	}
	return rep, nil
}

// job is the scheduled task. A failed cycle waits for the next tick.
func (s *Service) job(ctx context.Context) error {
	_, err := s.RunOnce(ctx)
	return err
}

func (s *Service) record(rep CycleReport) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	for _, it := range rep.Items {
		s.totals[it.Outcome]++
	}
	s.last = &rep
}

func (s *Service) recordFailure(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cycles++
	s.failed++
	s.lastErr = err.Error()
	s.lastErrAt = time.Now()
}

func (s *Service) Snapshot() Snapshot {
	cfg := s.core.Config()
	s.mu.Lock()
	defer s.mu.Unlock()
	snap := Snapshot{
		Started:      s.started,
		Interval:     cfg.Interval,
		Workers:      cfg.Workers,
		Cycles:       s.cycles,
		FailedCycles: s.failed,
		Totals:       make(map[Outcome]uint64, len(s.totals)),
		LastError:    s.lastErr,
		LastErrorAt:  s.lastErrAt,
	}
	for k, v := range s.totals {
		snap.Totals[k] = v
	}
	if s.last != nil {
		cp := *s.last
		cp.Items = append([]ItemResult(nil), s.last.Items...)
		snap.LastCycle = &cp
	}
	return snap
}
