package mailer

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/smtp"
	"time"

	"capsuled/internal/capsule"
	logx "capsuled/pkg/logx"

	"golang.org/x/time/rate"
)

// Mailer sends messages through one SMTP relay. It is safe for concurrent use;
// every Deliver opens its own connection.
type Mailer struct {
	cfg     Config
	log     logx.Logger
	limiter *rate.Limiter
	now     func() time.Time
}

func New(cfg Config, log logx.Logger) (*Mailer, error) {
	if cfg.TLS == "" {
		cfg.TLS = TLSStartTLS
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 30 * time.Second
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	lim := rate.NewLimiter(rate.Inf, 1)
	if cfg.RatePerSec > 0 {
		lim = rate.NewLimiter(rate.Limit(cfg.RatePerSec), 1)
	}
	return &Mailer{
		cfg:     cfg,
		log:     log.With(logx.String("comp", "mailer")),
		limiter: lim,
		now:     time.Now,
	}, nil
}

// Deliver sends msg. Every error wraps capsule.ErrDeliveryFailed; a timeout is
// just another delivery failure.
func (m *Mailer) Deliver(ctx context.Context, msg capsule.Message) error {
	if err := m.limiter.Wait(ctx); err != nil {
		return fmt.Errorf("%w: rate limit: %w", capsule.ErrDeliveryFailed, err)
	}
	start := time.Now()
	if err := m.send(ctx, msg); err != nil {
		return fmt.Errorf("%w: to %s: %w", capsule.ErrDeliveryFailed, msg.To, err)
	}
	m.log.Debug("mail sent", logx.String("to", msg.To), logx.Duration("took", time.Since(start)))
	return nil
}

// Verify connects and authenticates without sending anything.
func (m *Mailer) Verify(ctx context.Context) error {
	c, done, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer done()
	return c.Quit()
}

func (m *Mailer) send(ctx context.Context, msg capsule.Message) error {
	body, err := buildMessage(m.cfg.from(), msg, m.now())
	if err != nil {
		return err
	}
	c, done, err := m.connect(ctx)
	if err != nil {
		return err
	}
	defer done()

	if err := c.Mail(m.cfg.from()); err != nil {
		return fmt.Errorf("MAIL FROM: %w", err)
	}
	if err := c.Rcpt(msg.To); err != nil {
		return fmt.Errorf("RCPT TO: %w", err)
	}
	w, err := c.Data()
	if err != nil {
		return fmt.Errorf("DATA: %w", err)
	}
	if _, err := w.Write(body); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("end data: %w", err)
	}
	// The message is accepted once DATA is closed; a failed QUIT is not a delivery failure.
	_ = c.Quit()
	return nil
}

// connect dials, greets, upgrades TLS and authenticates. The returned func
// releases the connection; ctx cancellation aborts any blocked I/O.
func (m *Mailer) connect(ctx context.Context) (*smtp.Client, func(), error) {
	ctx, cancel := context.WithTimeout(ctx, m.cfg.Timeout)
	conn, err := m.dial(ctx)
	if err != nil {
		cancel()
		return nil, nil, fmt.Errorf("dial %s: %w", m.cfg.addr(), err)
	}
	if dl, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(dl)
	}
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	release := func() {
		stop()
		cancel()
		_ = conn.Close()
	}

	c, err := smtp.NewClient(conn, m.cfg.Host)
	if err != nil {
		release()
		return nil, nil, fmt.Errorf("greeting: %w", err)
	}
	if err := c.Hello(helloName()); err != nil {
		release()
		return nil, nil, fmt.Errorf("EHLO: %w", err)
	}
	if m.cfg.TLS == TLSStartTLS {
		if ok, _ := c.Extension("STARTTLS"); !ok {
			release()
			return nil, nil, errors.New("server does not support STARTTLS")
		}
		if err := c.StartTLS(&tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}); err != nil {
			release()
			return nil, nil, fmt.Errorf("STARTTLS: %w", err)
		}
	}
	if m.cfg.Username != "" {
		if err := c.Auth(smtp.PlainAuth("", m.cfg.Username, m.cfg.Password, m.cfg.Host)); err != nil {
			release()
			return nil, nil, fmt.Errorf("AUTH: %w", err)
		}
	}
	return c, release, nil
}

func (m *Mailer) dial(ctx context.Context) (net.Conn, error) {
	if m.cfg.TLS == TLSImplicit {
		d := &tls.Dialer{Config: &tls.Config{ServerName: m.cfg.Host, MinVersion: tls.VersionTLS12}}
		return d.DialContext(ctx, "tcp", m.cfg.addr())
	}
	var d net.Dialer
	return d.DialContext(ctx, "tcp", m.cfg.addr())
}

func helloName() string {
	return "localhost"
}
