package scheduler

import (
	"errors"
	"time"

	"capsuled/internal/task/engine"
	logx "capsuled/pkg/logx"
)

const enqueueWarnThrottle = 5 * time.Second

func (s *Service) reportEnqueueError(name string, err error) {
	// A tick while the previous cycle still runs is normal operation.
	if errors.Is(err, engine.ErrOverlapSkip) {
		s.log.Debug("schedule trigger skipped; previous run still in flight", logx.String("schedule", name))
		return
	}

	now := time.Now()
	s.enqMu.Lock()
	last := s.lastEnqWarn[name]
	throttled := !last.IsZero() && now.Sub(last) < enqueueWarnThrottle
	if !throttled {
		s.lastEnqWarn[name] = now
	}
	s.enqMu.Unlock()
	if throttled {
		return
	}
	s.log.Warn("schedule failed to enqueue task", logx.String("schedule", name), logx.Err(err))
}
