package capsule

import (
	"errors"
	"testing"
	"time"
)

func TestParseDate(t *testing.T) {
	t.Parallel()
	tests := []struct {
		in string
		ok bool
	}{
		{"2024-06-01", true},
		{"2024-02-29", true},
		{"2023-02-29", false},
		{"2024-6-1", false},
		{"2024-13-01", false},
		{"2024-06-01T00:00:00Z", false},
		{"", false},
	}
	for _, tt := range tests {
		tt := tt
		t.Run(tt.in, func(t *testing.T) {
			t.Parallel()
			_, err := ParseDate(tt.in)
			if (err == nil) != tt.ok {
				t.Fatalf("ParseDate(%q) err=%v, want ok=%v", tt.in, err, tt.ok)
			}
		})
	}
}

func TestDateOrderingIsLexical(t *testing.T) {
	t.Parallel()
	a, b := Date("2024-05-31"), Date("2024-06-01")
	if !a.Before(b) || !b.After(a) || !a.OnOrBefore(b) || !b.OnOrBefore(b) {
		t.Fatalf("ordering broken for %s < %s", a, b)
	}
	if got := Date("2024-12-31").AddDays(1); got != "2025-01-01" {
		t.Fatalf("AddDays=%s", got)
	}
}

func TestDateOf_Zone(t *testing.T) {
	t.Parallel()
	// 2024-06-01 20:30 UTC is already June 2 in Makassar (UTC+8).
	instant := time.Date(2024, 6, 1, 20, 30, 0, 0, time.UTC)
	mks, err := time.LoadLocation("Asia/Makassar")
	if err != nil {
		t.Skipf("tzdata unavailable: %v", err)
	}
	if got := DateOf(instant, mks); got != "2024-06-02" {
		t.Fatalf("DateOf Makassar=%s", got)
	}
	if got := DateOf(instant, time.UTC); got != "2024-06-01" {
		t.Fatalf("DateOf UTC=%s", got)
	}
}

func TestDueOn(t *testing.T) {
	t.Parallel()
	today := Date("2024-06-01")
	tests := []struct {
		name string
		c    Capsule
		want bool
	}{
		{"due today", Capsule{SendDate: "2024-06-01"}, true},
		{"overdue", Capsule{SendDate: "2024-05-30"}, true},
		{"future", Capsule{SendDate: "2024-06-02"}, false},
		{"already sent", Capsule{SendDate: "2024-05-30", Sent: true}, false},
		{"opened is ignored", Capsule{SendDate: "2024-06-01", Opened: true}, true},
	}
	for _, tt := range tests {
		if got := tt.c.DueOn(today); got != tt.want {
			t.Fatalf("%s: DueOn=%v want %v", tt.name, got, tt.want)
		}
	}
}

func TestValidEmail(t *testing.T) {
	t.Parallel()
	for s, want := range map[string]bool{
		"a@b.co":          true,
		"user@mail.local": true,
		"a@b":             false,
		"a b@c.d":         false,
		"@b.c":            false,
		"":                false,
	} {
		if got := ValidEmail(s); got != want {
			t.Fatalf("ValidEmail(%q)=%v want %v", s, got, want)
		}
	}
}

func TestDraftValidate(t *testing.T) {
	t.Parallel()
	ok := Draft{Title: "T", Author: "A", Message: "M", Email: "a@b.co", SendDate: "2030-01-01"}
	date, err := ok.Validate()
	if err != nil || date != "2030-01-01" {
		t.Fatalf("date=%q err=%v", date, err)
	}

	bad := Draft{Email: "nope", SendDate: "01/01/2030"}
	if _, err := bad.Validate(); !errors.Is(err, ErrInvalid) {
		t.Fatalf("err=%v, want ErrInvalid", err)
	}
}

func TestDeliveryErrorUnwraps(t *testing.T) {
	t.Parallel()
	err := error(&DeliveryError{ID: "c1", Step: "deliver", Err: ErrDeliveryFailed})
	if !errors.Is(err, ErrDeliveryFailed) {
		t.Fatalf("errors.Is failed for %v", err)
	}
	var de *DeliveryError
	if !errors.As(err, &de) || de.ID != "c1" {
		t.Fatalf("errors.As failed")
	}
}
