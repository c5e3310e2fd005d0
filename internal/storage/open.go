package storage

import (
	"fmt"
	"strings"
	"time"

	"capsuled/internal/capsule"
	logx "capsuled/pkg/logx"

	"github.com/google/uuid"
)

// Open initializes the configured store.
func Open(cfg Config, log logx.Logger) (Store, error) {
	log = log.With(logx.String("comp", "storage"))
	driver := strings.ToLower(strings.TrimSpace(cfg.Driver))
	switch driver {
	case "", "sqlite", "sqlite3":
		return openSQLite(cfg, log)
	case "postgres", "postgresql":
		return openPostgres(cfg, log)
	case "file":
		return openFile(cfg, log)
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", driver)
	}
}

// newCapsule validates d and fills the fields owned by the store.
func newCapsule(d capsule.Draft, now time.Time) (capsule.Capsule, error) {
	date, err := d.Validate()
	if err != nil {
		return capsule.Capsule{}, err
	}
	return capsule.Capsule{
		ID:        uuid.NewString(),
		Title:     d.Title,
		Author:    d.Author,
		Message:   d.Message,
		Email:     d.Email,
		SendDate:  date,
		CreatedAt: now.UTC(),
	}, nil
}

func unavailable(op string, err error) error {
	return fmt.Errorf("%w: %s: %w", capsule.ErrStoreUnavailable, op, err)
}
