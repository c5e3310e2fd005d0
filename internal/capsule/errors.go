package capsule

import (
	"errors"
	"fmt"
)

var (
	// ErrStoreUnavailable is returned when the datastore cannot serve a query or update.
	ErrStoreUnavailable = errors.New("capsule store unavailable")
	// ErrDeliveryFailed is returned when the notifier could not hand off a message.
	ErrDeliveryFailed = errors.New("capsule delivery failed")
	// ErrNotFound is returned when a capsule id does not exist.
	ErrNotFound = errors.New("capsule not found")
	// ErrInvalid is returned when a new capsule fails validation.
	ErrInvalid = errors.New("invalid capsule")
)

// DeliveryError ties a per-capsule failure to its id and the pipeline step.
type DeliveryError struct {
	ID   string
	Step string // "deliver" | "commit" | "panic"
	Err  error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("capsule %s: %s: %v", e.ID, e.Step, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }
