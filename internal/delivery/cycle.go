package delivery

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"capsuled/internal/capsule"
	"capsuled/internal/eventbus"
	logx "capsuled/pkg/logx"
)

// CommitTimeout bounds MarkSent after a successful send. The commit runs
// detached from cycle cancellation: abandoning it would guarantee a duplicate.
const CommitTimeout = 10 * time.Second

// Scheduler executes scan cycles. It keeps no state between cycles.
type Scheduler struct {
	store    Store
	notifier Notifier
	log      logx.Logger
	bus      eventbus.Bus

	mu  sync.RWMutex
	cfg Config
}

func NewScheduler(store Store, notifier Notifier, cfg Config, log logx.Logger, bus eventbus.Bus) *Scheduler {
	return &Scheduler{
		store:    store,
		notifier: notifier,
		log:      log.With(logx.String("comp", "delivery")),
		bus:      bus,
		cfg:      normalize(cfg),
	}
}

func (s *Scheduler) Config() Config {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.cfg
}

// Apply swaps the config; the next cycle picks it up.
func (s *Scheduler) Apply(cfg Config) {
	s.mu.Lock()
	s.cfg = normalize(cfg)
	s.mu.Unlock()
}

// RunScanCycle delivers every capsule due on today.
//
// A selection failure abandons the cycle before any notifier call and is
// returned. Per-capsule failures are recorded in the report and never
// returned.
func (s *Scheduler) RunScanCycle(ctx context.Context, today capsule.Date) (CycleReport, error) {
	rep := CycleReport{Today: today, StartedAt: time.Now()}
	if !today.Valid() {
		return rep, fmt.Errorf("invalid scan date %q", today)
	}
	cfg := s.Config()

	due, err := s.store.QueryDue(ctx, today)
	if err != nil {
		rep.Took = time.Since(rep.StartedAt)
		return rep, fmt.Errorf("query due capsules: %w", err)
	}
	unique := dedupe(due)
	rep.Selected, rep.Duplicates = len(unique), len(due)-len(unique)
	rep.Items, rep.Interrupted = s.dispatch(ctx, unique, today, cfg)
	rep.Took = time.Since(rep.StartedAt)
	return rep, nil
}

// dedupe keeps the first occurrence of each id so no two in-flight
// operations ever target the same capsule.
func dedupe(in []capsule.Capsule) []capsule.Capsule {
	seen := make(map[string]struct{}, len(in))
	out := in[:0:0]
	for _, c := range in {
		if _, dup := seen[c.ID]; dup {
			continue
		}
		seen[c.ID] = struct{}{}
		out = append(out, c)
	}
	return out
}

func (s *Scheduler) process(ctx context.Context, c capsule.Capsule, today capsule.Date, f Format) (res ItemResult) {
	res.ID = c.ID
	step := "deliver"
	defer func() {
		if r := recover(); r != nil {
			res.Outcome = OutcomeNotifyFailed
			if step == "commit" {
				res.Outcome = OutcomeCommitFailed
			}
			res.Err = &capsule.DeliveryError{ID: c.ID, Step: "panic", Err: fmt.Errorf("panic during %s: %v", step, r)}
			s.log.Error("capsule processing panicked", logx.String("id", c.ID), logx.String("step", step), logx.Any("panic", r))
			s.publish(eventbus.TypeCapsuleFailed, res)
		}
		if res.Err != nil {
			res.Error = res.Err.Error()
		}
	}()

	if !c.DueOn(today) {
		s.log.Debug("capsule skipped by guard",
			logx.String("id", c.ID),
			logx.Bool("sent", c.Sent),
			logx.String("send_date", c.SendDate.String()),
		)
		res.Outcome = OutcomeSkipped
		return res
	}

	if err := s.notifier.Deliver(ctx, f.Compose(c)); err != nil {
		res.Outcome = OutcomeNotifyFailed
		res.Err = &capsule.DeliveryError{ID: c.ID, Step: "deliver", Err: err}
		s.log.Warn("capsule delivery failed", logx.String("id", c.ID), logx.String("send_date", c.SendDate.String()), logx.Err(err))
		s.publish(eventbus.TypeCapsuleFailed, res)
		return res
	}

	step = "commit"
	cctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), CommitTimeout)
	defer cancel()
	_, err := s.store.MarkSent(cctx, c.ID)
	switch {
	case errors.Is(err, capsule.ErrNotFound):
		res.Outcome = OutcomeVanished
		s.log.Warn("capsule vanished before commit", logx.String("id", c.ID))
	case err != nil:
		res.Outcome = OutcomeCommitFailed
		res.Err = &capsule.DeliveryError{ID: c.ID, Step: "commit", Err: err}
		s.log.Error("capsule mark-sent failed; will redeliver next cycle", logx.String("id", c.ID), logx.Err(err))
		s.publish(eventbus.TypeCapsuleFailed, res)
	default:
		res.Outcome = OutcomeDelivered
		s.log.Info("capsule delivered", logx.String("id", c.ID), logx.String("send_date", c.SendDate.String()))
		s.publish(eventbus.TypeCapsuleDelivered, res)
	}
	return res
}

func (s *Scheduler) publish(typ string, res ItemResult) {
	if s.bus == nil {
		return
	}
	s.bus.Publish(eventbus.Event{Type: typ, Data: res})
}
