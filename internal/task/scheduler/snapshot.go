package scheduler

import (
	"time"
)

func (s *Service) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{Enabled: s.cfg.Enabled, Started: s.c != nil, Timezone: s.cfg.Timezone}
	if snap.Timezone == "" {
		snap.Timezone = time.Local.String()
	}
	snap.Schedules = make([]ScheduleInfo, 0, len(s.defs))
	for _, d := range s.defs {
		it := ScheduleInfo{
			Name:          d.name,
			Spec:          d.spec,
			Timeout:       d.timeout,
			StartupSpread: d.startupSpread,
			Running:       d.state != nil && d.state.Running(),
		}
		if s.c != nil && d.entryID != 0 {
			e := s.c.Entry(d.entryID)
			it.Next, it.Prev = e.Next, e.Prev
		}
		snap.Schedules = append(snap.Schedules, it)
	}
	return snap
}
