package opsalert

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"
	"unicode/utf8"
)

type botAPI struct {
	mu    sync.Mutex
	paths []string
	forms []url.Values
}

func (a *botAPI) handler(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	vals := url.Values{}
	if strings.HasPrefix(r.Header.Get("Content-Type"), "application/json") {
		var m map[string]any
		_ = json.Unmarshal(body, &m)
		for k, v := range m {
			b, _ := json.Marshal(v)
			vals.Set(k, strings.Trim(string(b), `"`))
		}
	} else {
		vals, _ = url.ParseQuery(string(body))
	}
	a.mu.Lock()
	a.paths = append(a.paths, r.URL.Path)
	a.forms = append(a.forms, vals)
	a.mu.Unlock()

	w.Header().Set("Content-Type", "application/json")
	_, _ = io.WriteString(w, `{"ok":true,"result":{"message_id":7,"date":0,"chat":{"id":42,"type":"group"},"text":"x"}}`)
}

func TestSendAlert(t *testing.T) {
	t.Parallel()

	api := &botAPI{}
	srv := httptest.NewServer(http.HandlerFunc(api.handler))
	defer srv.Close()

	s, err := New(Config{Token: "123:ABC", ChatID: 42, ThreadID: 9, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendAlert(context.Background(), "WRN capsule delivery failed id=a3"); err != nil {
		t.Fatalf("SendAlert: %v", err)
	}

	api.mu.Lock()
	defer api.mu.Unlock()
	if len(api.paths) != 1 || api.paths[0] != "/bot123:ABC/sendMessage" {
		t.Fatalf("paths=%v", api.paths)
	}
	f := api.forms[0]
	if f.Get("chat_id") != "42" || f.Get("message_thread_id") != "9" || !strings.Contains(f.Get("text"), "capsule delivery failed") {
		t.Fatalf("form=%v", f)
	}
}

func TestSendAlert_NoChat(t *testing.T) {
	t.Parallel()

	s, err := New(Config{Token: "123:ABC", APIURL: "http://127.0.0.1:1"})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if err := s.SendAlert(context.Background(), "x"); err == nil {
		t.Fatalf("expected error without chat id")
	}
}

func TestSendAlert_HonorsContext(t *testing.T) {
	t.Parallel()

	block := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) { <-block }))
	defer srv.Close()
	defer close(block)

	s, err := New(Config{Token: "123:ABC", ChatID: 1, APIURL: srv.URL})
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()
	if err := s.SendAlert(ctx, "x"); err != context.DeadlineExceeded {
		t.Fatalf("err=%v", err)
	}
}

func TestNew_RequiresToken(t *testing.T) {
	t.Parallel()

	if _, err := New(Config{Token: " "}); err == nil {
		t.Fatalf("expected error")
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		in   string
	}{
		{name: "two-byte runes", in: strings.Repeat("é", 3000)},
		{name: "four-byte runes", in: strings.Repeat("🔔", 1500)},
		{name: "ascii", in: strings.Repeat("x", 5000)},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			got := truncate(tc.in, maxMessageLen)
			// The cap is in bytes even when fewer runes would fit.
			if len(got) > maxMessageLen || !utf8.ValidString(got) || !strings.HasSuffix(got, "…") {
				t.Fatalf("len=%d runes=%d valid=%v", len(got), utf8.RuneCountInString(got), utf8.ValidString(got))
			}
			if len(got) < maxMessageLen-utf8.UTFMax-len("…") {
				t.Fatalf("cut too short: len=%d", len(got))
			}
		})
	}
}
