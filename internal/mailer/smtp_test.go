package mailer

import (
	"bufio"
	"context"
	"errors"
	"io"
	"mime/quotedprintable"
	"net"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"capsuled/internal/capsule"
	logx "capsuled/pkg/logx"
)

// fakeSMTP is a minimal plaintext SMTP server that records accepted messages.
type fakeSMTP struct {
	ln         net.Listener
	rejectRcpt bool
	authOK     bool
	stall      bool

	mu    sync.Mutex
	auths int
	mails []fakeMail
}

type fakeMail struct {
	from, to string
	data     string
}

func startFakeSMTP(t *testing.T, configure func(s *fakeSMTP)) *fakeSMTP {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	s := &fakeSMTP{ln: ln, authOK: true}
	if configure != nil {
		configure(s)
	}
	t.Cleanup(func() { _ = ln.Close() })
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			go s.serve(conn)
		}
	}()
	return s
}

func (s *fakeSMTP) port() int {
	return s.ln.Addr().(*net.TCPAddr).Port
}

func (s *fakeSMTP) messages() []fakeMail {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]fakeMail(nil), s.mails...)
}

func (s *fakeSMTP) authCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.auths
}

func (s *fakeSMTP) serve(conn net.Conn) {
	defer conn.Close()
	if s.stall {
		_, _ = io.Copy(io.Discard, conn)
		return
	}
	r := bufio.NewReader(conn)
	reply := func(line string) { _, _ = io.WriteString(conn, line+"\r\n") }

	reply("220 localhost ESMTP fake")
	var cur fakeMail
	for {
		line, err := r.ReadString('\n')
		if err != nil {
			return
		}
		line = strings.TrimRight(line, "\r\n")
		verb := strings.ToUpper(strings.SplitN(line, " ", 2)[0])
		switch verb {
		case "EHLO", "HELO":
			reply("250-localhost")
			reply("250 AUTH PLAIN")
		case "AUTH":
			s.mu.Lock()
			s.auths++
			s.mu.Unlock()
			if s.authOK {
				reply("235 2.7.0 Authentication successful")
			} else {
				reply("535 5.7.8 Bad credentials")
			}
		case "MAIL":
			cur = fakeMail{from: addrArg(line)}
			reply("250 OK")
		case "RCPT":
			if s.rejectRcpt {
				reply("550 5.1.1 No such user")
				continue
			}
			cur.to = addrArg(line)
			reply("250 OK")
		case "DATA":
			reply("354 End data with <CR><LF>.<CR><LF>")
			var b strings.Builder
			for {
				l, err := r.ReadString('\n')
				if err != nil {
					return
				}
				if l == ".\r\n" {
					break
				}
				b.WriteString(l)
			}
			cur.data = b.String()
			s.mu.Lock()
			s.mails = append(s.mails, cur)
			s.mu.Unlock()
			reply("250 OK queued")
		case "RSET", "NOOP":
			reply("250 OK")
		case "QUIT":
			reply("221 Bye")
			return
		default:
			reply("502 Command not implemented")
		}
	}
}

func addrArg(line string) string {
	i, j := strings.Index(line, "<"), strings.Index(line, ">")
	if i < 0 || j < i {
		return ""
	}
	return line[i+1 : j]
}

func testMailer(t *testing.T, s *fakeSMTP, mutate func(c *Config)) *Mailer {
	t.Helper()
	cfg := Config{
		Host:     "127.0.0.1",
		Port:     s.port(),
		Username: "sender@example.com",
		Password: "secret",
		Timeout:  2 * time.Second,
		TLS:      TLSNone,
	}
	if mutate != nil {
		mutate(&cfg)
	}
	m, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	return m
}

func TestDeliver_SendsMessage(t *testing.T) {
	t.Parallel()

	s := startFakeSMTP(t, nil)
	m := testMailer(t, s, nil)

	msg := capsule.Message{
		To:      "alice@example.com",
		Subject: "Kapsul Waktu: Hello",
		Body:    "🔔 Waktunya tiba! Pesanmu:\n\nFrom: Bob\n\nMessage:\nhi\n\n— Digital Time Capsule",
	}
	if err := m.Deliver(context.Background(), msg); err != nil {
		t.Fatalf("Deliver: %v", err)
	}

	got := s.messages()
	if len(got) != 1 {
		t.Fatalf("messages=%d", len(got))
	}
	if got[0].from != "sender@example.com" || got[0].to != "alice@example.com" {
		t.Fatalf("envelope=%+v", got[0])
	}
	head, body, ok := strings.Cut(got[0].data, "\r\n\r\n")
	if !ok {
		t.Fatalf("no header/body separator in %q", got[0].data)
	}
	for _, want := range []string{"From: sender@example.com", "To: alice@example.com", "Subject: Kapsul Waktu: Hello", "MIME-Version: 1.0"} {
		if !strings.Contains(head, want) {
			t.Fatalf("header %q missing in:\n%s", want, head)
		}
	}
	decoded, err := io.ReadAll(quotedprintable.NewReader(strings.NewReader(body)))
	if err != nil {
		t.Fatalf("decode body: %v", err)
	}
	text := strings.ReplaceAll(string(decoded), "\r\n", "\n")
	if !strings.Contains(text, "From: Bob\n\nMessage:\nhi") || !strings.Contains(text, "— Digital Time Capsule") {
		t.Fatalf("body=%q", text)
	}
	if n := s.authCount(); n != 1 {
		t.Fatalf("auths=%d", n)
	}
}

func TestDeliver_NoAuthWithoutUsername(t *testing.T) {
	t.Parallel()

	s := startFakeSMTP(t, nil)
	m := testMailer(t, s, func(c *Config) {
		c.Username, c.Password = "", ""
		c.From = "noreply@example.com"
	})
	if err := m.Deliver(context.Background(), capsule.Message{To: "a@b.co", Subject: "s", Body: "b"}); err != nil {
		t.Fatalf("Deliver: %v", err)
	}
	if n := s.authCount(); n != 0 {
		t.Fatalf("auths=%d", n)
	}
}

func TestDeliver_FailuresWrapDeliveryFailed(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		configure func(s *fakeSMTP)
	}{
		{name: "recipient rejected", configure: func(s *fakeSMTP) { s.rejectRcpt = true }},
		{name: "auth rejected", configure: func(s *fakeSMTP) { s.authOK = false }},
		{name: "server stalls", configure: func(s *fakeSMTP) { s.stall = true }},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			s := startFakeSMTP(t, tc.configure)
			m := testMailer(t, s, func(c *Config) { c.Timeout = 200 * time.Millisecond })

			err := m.Deliver(context.Background(), capsule.Message{To: "x@y.zz", Subject: "s", Body: "b"})
			if !errors.Is(err, capsule.ErrDeliveryFailed) {
				t.Fatalf("err=%v, want ErrDeliveryFailed", err)
			}
			if n := len(s.messages()); n != 0 {
				t.Fatalf("messages=%d", n)
			}
		})
	}
}

func TestDeliver_ConnectionRefused(t *testing.T) {
	t.Parallel()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	port := ln.Addr().(*net.TCPAddr).Port
	_ = ln.Close()

	m, err := New(Config{Host: "127.0.0.1", Port: port, From: "a@b.co", TLS: TLSNone, Timeout: time.Second}, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	err = m.Deliver(context.Background(), capsule.Message{To: "x@y.zz"})
	if !errors.Is(err, capsule.ErrDeliveryFailed) || !strings.Contains(err.Error(), "127.0.0.1:"+strconv.Itoa(port)) {
		t.Fatalf("err=%v", err)
	}
}

func TestDeliver_StartTLSRequired(t *testing.T) {
	t.Parallel()

	s := startFakeSMTP(t, nil)
	m := testMailer(t, s, func(c *Config) { c.TLS = TLSStartTLS })
	err := m.Deliver(context.Background(), capsule.Message{To: "x@y.zz"})
	if !errors.Is(err, capsule.ErrDeliveryFailed) || !strings.Contains(err.Error(), "STARTTLS") {
		t.Fatalf("err=%v", err)
	}
}

func TestVerify(t *testing.T) {
	t.Parallel()

	ok := startFakeSMTP(t, nil)
	if err := testMailer(t, ok, nil).Verify(context.Background()); err != nil {
		t.Fatalf("Verify: %v", err)
	}
	if n := len(ok.messages()); n != 0 {
		t.Fatalf("Verify sent %d messages", n)
	}

	bad := startFakeSMTP(t, func(s *fakeSMTP) { s.authOK = false })
	if err := testMailer(t, bad, nil).Verify(context.Background()); err == nil {
		t.Fatalf("expected auth failure")
	}
}

func TestNew_Validation(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		cfg  Config
	}{
		{name: "no host", cfg: Config{Port: 25, From: "a@b.co"}},
		{name: "bad port", cfg: Config{Host: "h", Port: 70000, From: "a@b.co"}},
		{name: "no sender", cfg: Config{Host: "h", Port: 25}},
		{name: "bad tls", cfg: Config{Host: "h", Port: 25, From: "a@b.co", TLS: "ssl"}},
	}
	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			if _, err := New(tc.cfg, logx.Nop()); err == nil {
				t.Fatalf("expected error")
			}
		})
	}
}

func TestBuildMessage_StripsHeaderInjection(t *testing.T) {
	t.Parallel()

	raw, err := buildMessage("a@b.co", capsule.Message{To: "c@d.ee", Subject: "hi\r\nBcc: evil@x.yy", Body: "x"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	head, _, _ := strings.Cut(string(raw), "\r\n\r\n")
	for _, line := range strings.Split(head, "\r\n") {
		if strings.HasPrefix(line, "Bcc:") {
			t.Fatalf("header injected: %q", head)
		}
	}
}

func TestBuildMessage_EncodesNonASCIISubject(t *testing.T) {
	t.Parallel()

	raw, err := buildMessage("a@b.co", capsule.Message{To: "c@d.ee", Subject: "Kapsul Waktu: Selamat ulang tahun 🎉", Body: "x"}, time.Unix(0, 0))
	if err != nil {
		t.Fatalf("buildMessage: %v", err)
	}
	if !strings.Contains(string(raw), "Subject: =?utf-8?q?") {
		t.Fatalf("subject not encoded:\n%s", raw)
	}
}
