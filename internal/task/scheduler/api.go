package scheduler

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"capsuled/internal/task/engine"
	logx "capsuled/pkg/logx"

	"github.com/robfig/cron/v3"
)

// AddSchedule parses schedule (see ParseSchedule) and registers it with
// overlap protection: a trigger is skipped while the previous run is queued
// or in flight.
func (s *Service) AddSchedule(name, schedule string, timeout time.Duration, job func(ctx context.Context) error) error {
	ps, err := ParseSchedule(schedule)
	if err != nil {
		return err
	}
	spec := ps.Cron
	if ps.Kind == SpecInterval {
		spec = "@every " + ps.Every.String()
	} else if _, err := s.parser.Parse(spec); err != nil {
		return fmt.Errorf("invalid cron %q: %w", spec, err)
	}
	return s.upsert(scheduleDef{
		name:    name,
		spec:    spec,
		timeout: timeout,
		job:     job,
		opt:     TaskOptions{Overlap: OverlapSkipIfRunning},
	})
}

// upsert replaces any schedule with the same name, so re-registration on hot
// reload never duplicates triggers.
func (s *Service) upsert(d scheduleDef) error {
	d.name = strings.TrimSpace(d.name)
	if d.name == "" {
		return errors.New("name required")
	}
	if d.job == nil {
		return errors.New("job required")
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	// Keep the overlap gate across re-registration: a run that is still in
	// flight must keep blocking the replacement schedule.
	d.state = &engine.RunState{}
	for _, old := range s.defs {
		if old.name == d.name && old.state != nil {
			d.state = old.state
		}
	}
	s.removeLocked(d.name)
	s.defs = append(s.defs, d)
	if s.c == nil {
		return nil
	}
	s.registerLocked(&s.defs[len(s.defs)-1])
	s.log.Debug("schedule registered",
		logx.String("name", d.name),
		logx.String("spec", d.spec),
		logx.Duration("timeout", d.timeout),
		logx.String("next", s.previewNextRunsLocked(d.spec, 3)),
	)
	return nil
}

// Remove unschedules name. It reports whether something was removed.
func (s *Service) Remove(name string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	removed := s.removeLocked(strings.TrimSpace(name))
	if removed {
		s.log.Debug("schedule removed", logx.String("name", name))
	}
	return removed
}

// Trigger enqueues name once, outside its schedule. The overlap gate still applies.
func (s *Service) Trigger(name string) error {
	s.mu.Lock()
	var def *scheduleDef
	for i := range s.defs {
		if s.defs[i].name == name {
			d := s.defs[i]
			def = &d
		}
	}
	s.mu.Unlock()
	if def == nil {
		return fmt.Errorf("schedule %q not found", name)
	}
	return s.enqueue(def)
}

func (s *Service) removeLocked(name string) bool {
	n := 0
	for _, d := range s.defs {
		if d.name == name {
			if s.c != nil && d.entryID != 0 {
				s.c.Remove(d.entryID)
			}
			continue
		}
		s.defs[n] = d
		n++
	}
	removed := n < len(s.defs)
	s.defs = s.defs[:n]
	return removed
}

func (s *Service) enqueue(d *scheduleDef) error {
	if s.engine == nil {
		return errors.New("no task engine")
	}
	return s.engine.Enqueue(engine.Task{
		Name:    d.name,
		Timeout: d.timeout,
		Run:     d.job,
		Opt:     d.opt,
		State:   d.state,
	})
}

func (s *Service) registerLocked(d *scheduleDef) {
	def := *d
	job := cron.FuncJob(func() {
		if err := s.enqueue(&def); err != nil {
			s.reportEnqueueError(def.name, err)
		}
	})

	// Interval schedules get a startup spread so several instances started
	// together do not hit the store at the same instant.
	if every, ok := strings.CutPrefix(d.spec, "@every "); ok {
		if dur, err := time.ParseDuration(every); err == nil && dur > 0 {
			sched, jitter := makeIntervalScheduleWithSpread(dur, time.Now().In(s.loc), d.name)
			d.startupSpread = jitter
			d.entryID = s.c.Schedule(sched, job)
			return
		}
	}

	id, err := s.c.AddJob(d.spec, job)
	if err != nil {
		s.log.Error("schedule register failed", logx.String("name", d.name), logx.String("spec", d.spec), logx.Err(err))
		return
	}
	d.entryID = id
}

// previewNextRunsLocked lists upcoming run times for debug logs.
func (s *Service) previewNextRunsLocked(spec string, n int) string {
	if !s.log.Enabled(logx.LevelDebug) {
		return ""
	}
	sched, err := s.parser.Parse(spec)
	if err != nil {
		return ""
	}
	t := time.Now().In(s.loc)
	parts := make([]string, 0, n)
	for i := 0; i < n; i++ {
		t = sched.Next(t)
		if t.IsZero() {
			break
		}
		parts = append(parts, t.Format("2006-01-02 15:04:05"))
	}
	return strings.Join(parts, ", ")
}
