package delivery

import (
	"context"
	"time"

	"capsuled/internal/capsule"
)

// Store is the slice of the capsule store the scan cycle needs.
type Store interface {
	QueryDue(ctx context.Context, maxDate capsule.Date) ([]capsule.Capsule, error)
	MarkSent(ctx context.Context, id string) (capsule.Capsule, error)
}

// Notifier hands a message to an outbound channel. Errors wrap
// capsule.ErrDeliveryFailed.
type Notifier interface {
	Deliver(ctx context.Context, msg capsule.Message) error
}

// Clock reports today's date in the configured zone.
type Clock interface {
	Today() (capsule.Date, error)
}

type Config struct {
	// Workers bounds per-capsule concurrency inside one cycle; 1 is sequential.
	Workers       int
	SubjectPrefix string
	Signature     string
	// Interval is the scan schedule: a Go duration or a cron expression.
	Interval string
	// CycleTimeout bounds one cycle; 0 uses the task engine default.
	CycleTimeout time.Duration
}

const (
	DefaultInterval      = "1m"
	DefaultSubjectPrefix = "Kapsul Waktu: "
	DefaultSignature     = "— Digital Time Capsule"
)

func normalize(cfg Config) Config {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.SubjectPrefix == "" {
		cfg.SubjectPrefix = DefaultSubjectPrefix
	}
	if cfg.Signature == "" {
		cfg.Signature = DefaultSignature
	}
	if cfg.Interval == "" {
		cfg.Interval = DefaultInterval
	}
	return cfg
}

// State is a capsule's position in the delivery lifecycle as seen by the scheduler.
type State int

const (
	StatePending State = iota
	StateDue
	StateDelivered
)

func (s State) String() string {
	switch s {
	case StateDue:
		return "DUE"
	case StateDelivered:
		return "DELIVERED"
	default:
		return "PENDING"
	}
}

// Classify returns the state of c on today.
func Classify(c capsule.Capsule, today capsule.Date) State {
	switch {
	case c.Sent:
		return StateDelivered
	case c.SendDate.OnOrBefore(today):
		return StateDue
	default:
		return StatePending
	}
}

// Outcome is the result of processing one selected capsule.
type Outcome string

const (
	OutcomeDelivered    Outcome = "delivered"
	OutcomeNotifyFailed Outcome = "notify_failed"
	// OutcomeCommitFailed means the message went out but the sent flag was
	// not stored; the capsule will be delivered again.
	OutcomeCommitFailed Outcome = "commit_failed"
	// OutcomeVanished means the capsule was deleted between selection and commit.
	OutcomeVanished Outcome = "vanished"
	// OutcomeSkipped means the guard re-check rejected the record.
	OutcomeSkipped Outcome = "skipped"
)

type ItemResult struct {
	ID      string  `json:"id"`
	Outcome Outcome `json:"outcome"`
	Err     error   `json:"-"`
	Error   string  `json:"error,omitempty"`
}

// CycleReport summarizes one scan cycle.
type CycleReport struct {
	Today     capsule.Date  `json:"today"`
	StartedAt time.Time     `json:"started_at"`
	Took      time.Duration `json:"took"`
	// Selected counts distinct capsules; Duplicates counts repeated rows dropped.
	Selected   int `json:"selected"`
	Duplicates int `json:"duplicates,omitempty"`
	// Interrupted is set when the context ended before every capsule was processed.
	Interrupted bool         `json:"interrupted,omitempty"`
	Items       []ItemResult `json:"items"`
}

func (r CycleReport) Count(o Outcome) int {
	n := 0
	for _, it := range r.Items {
		if it.Outcome == o {
			n++
		}
	}
	return n
}

func (r CycleReport) IDs(o Outcome) []string {
	var ids []string
	for _, it := range r.Items {
		if it.Outcome == o {
			ids = append(ids, it.ID)
		}
	}
	return ids
}

// Snapshot is the service state exposed on the debug server.
type Snapshot struct {
	Started      bool               `json:"started"`
	Interval     string             `json:"interval"`
	Workers      int                `json:"workers"`
	Cycles       uint64             `json:"cycles"`
	FailedCycles uint64             `json:"failed_cycles"`
	Totals       map[Outcome]uint64 `json:"totals"`
	LastCycle    *CycleReport       `json:"last_cycle,omitempty"`
	LastError    string             `json:"last_error,omitempty"`
	LastErrorAt  time.Time          `json:"last_error_at,omitzero"`
}
