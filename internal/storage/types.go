package storage

import (
	"context"
	"time"

	"capsuled/internal/capsule"
)

// Config configures storage.
type Config struct {
	Driver      string
	Path        string        // sqlite, file
	DSN         string        // postgres
	BusyTimeout time.Duration // sqlite only; 0 means default
}

// Store is the persistence API used by the delivery scheduler and the CLI.
type Store interface {
	// Create validates d and stores a new unsent capsule with a fresh id.
	Create(ctx context.Context, d capsule.Draft) (capsule.Capsule, error)
	// Get returns capsule.ErrNotFound for unknown ids.
	Get(ctx context.Context, id string) (capsule.Capsule, error)
	// QueryDue returns every unsent capsule with SendDate <= maxDate, oldest first.
	QueryDue(ctx context.Context, maxDate capsule.Date) ([]capsule.Capsule, error)
	// MarkSent sets Sent on one capsule and returns the updated record.
	MarkSent(ctx context.Context, id string) (capsule.Capsule, error)
	Close() error
}
