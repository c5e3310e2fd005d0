// Package clock answers "what calendar date is it" in a configured zone.
package clock

import (
	"fmt"
	"strings"
	"sync"
	"time"

	"capsuled/internal/capsule"
)

// DefaultZone is used when no zone is configured.
const DefaultZone = "Asia/Makassar"

// Zoned reports today's date in a named IANA zone. The zone can be swapped
// at runtime (config hot reload).
type Zoned struct {
	mu  sync.RWMutex
	loc *time.Location
	now func() time.Time
}

// New returns a clock for zone. An empty zone means DefaultZone.
func New(zone string) (*Zoned, error) {
	loc, err := load(zone)
	if err != nil {
		return nil, err
	}
	return &Zoned{loc: loc, now: time.Now}, nil
}

// WithNow replaces the wall clock; tests pin it.
func (z *Zoned) WithNow(now func() time.Time) *Zoned {
	z.mu.Lock()
	z.now = now
	z.mu.Unlock()
	return z
}

// Today returns the current date in the configured zone.
func (z *Zoned) Today() (capsule.Date, error) {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return capsule.DateOf(z.now(), z.loc), nil
}

// TodayIn returns the current date in zone.
func (z *Zoned) TodayIn(zone string) (capsule.Date, error) {
	loc, err := load(zone)
	if err != nil {
		return "", err
	}
	z.mu.RLock()
	now := z.now
	z.mu.RUnlock()
	return capsule.DateOf(now(), loc), nil
}

// Now returns the current instant in the configured zone.
func (z *Zoned) Now() time.Time {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.now().In(z.loc)
}

// SetZone switches the zone. On error the previous zone stays in effect.
func (z *Zoned) SetZone(zone string) error {
	loc, err := load(zone)
	if err != nil {
		return err
	}
	z.mu.Lock()
	z.loc = loc
	z.mu.Unlock()
	return nil
}

func (z *Zoned) Location() *time.Location {
	z.mu.RLock()
	defer z.mu.RUnlock()
	return z.loc
}

func load(zone string) (*time.Location, error) {
	zone = strings.TrimSpace(zone)
	if zone == "" {
		zone = DefaultZone
	}
	loc, err := time.LoadLocation(zone)
	if err != nil {
		return nil, fmt.Errorf("load timezone %q: %w", zone, err)
	}
	return loc, nil
}
