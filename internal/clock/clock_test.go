package clock

import (
	"testing"
	"time"
)

func fixed(t time.Time) func() time.Time { return func() time.Time { return t } }

func TestToday_UsesConfiguredZone(t *testing.T) {
	t.Parallel()

	// 23:30 UTC on May 31 is June 1 in Makassar (UTC+8).
	instant := time.Date(2024, 5, 31, 23, 30, 0, 0, time.UTC)
	z, err := New("")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	z.WithNow(fixed(instant))

	got, _ := z.Today()
	if got != "2024-06-01" {
		t.Fatalf("Today=%s want 2024-06-01", got)
	}
	utc, err := z.TodayIn("UTC")
	if err != nil || utc != "2024-05-31" {
		t.Fatalf("TodayIn(UTC)=%s err=%v", utc, err)
	}
}

func TestSetZone_KeepsPreviousOnError(t *testing.T) {
	t.Parallel()

	z, err := New("UTC")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := z.SetZone("Atlantis/Capital"); err == nil {
		t.Fatalf("expected error")
	}
	if z.Location().String() != "UTC" {
		t.Fatalf("zone=%s", z.Location())
	}
	if _, err := z.TodayIn("Nope/Nope"); err == nil {
		t.Fatalf("expected error for unknown zone")
	}
}
